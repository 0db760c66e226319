// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package global holds the state shared by every analysis of one program.
package global

import (
	"github.com/llir/llvm/ir"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/google/go-kanalyzer/internal/pkg/config"
	"github.com/google/go-kanalyzer/internal/pkg/module"
	"github.com/google/go-kanalyzer/internal/pkg/nodes"
	"github.com/google/go-kanalyzer/internal/pkg/structinfo"
	"github.com/google/go-kanalyzer/internal/pkg/utils"
)

// Context owns the modules of a program and the memory model built over
// them. It is not safe for concurrent use.
type Context struct {
	Config  *config.Config
	Modules []*module.Module

	// Gobjs maps the names of externally visible global variables to their
	// definitions.
	Gobjs map[string]*ir.Global
	// Funcs maps the names of externally visible functions to their
	// definitions.
	Funcs map[string]*ir.Func

	Structs *structinfo.Analyzer
	Nodes   *nodes.Factory

	// populated records the modules whose nodes have been created.
	populated map[*module.Module]bool
}

// New returns an empty Context.
func New(conf *config.Config) *Context {
	c := &Context{
		Config:    conf,
		Gobjs:     map[string]*ir.Global{},
		Funcs:     map[string]*ir.Func{},
		Structs:   structinfo.NewAnalyzer(conf),
		populated: map[*module.Module]bool{},
	}
	c.Nodes = nodes.NewFactory(c.Structs, c.Gobjs, c.Funcs)
	return c
}

// AddModule runs the struct analysis of m and records its external
// definitions. Two definitions of the same external function are an error.
func (c *Context) AddModule(m *module.Module) error {
	for _, prev := range c.Modules {
		if prev == m {
			return errors.Errorf("module %s added twice", m.Name)
		}
	}

	funcs := map[string]*ir.Func{}
	for _, f := range m.Funcs {
		if !utils.HasExternalLinkage(f.Linkage) || utils.IsDeclaration(f) {
			continue
		}
		name := utils.FuncName(f)
		if prev, ok := c.Funcs[name]; ok {
			return errors.Errorf("%s: function %s already defined as %s", m.Name, name, prev.Ident())
		}
		if _, ok := funcs[name]; ok {
			return errors.Errorf("%s: function %s defined twice", m.Name, name)
		}
		funcs[name] = f
	}

	c.Structs.Run(m)
	for _, g := range m.Globals {
		if utils.HasExternalLinkage(g.Linkage) && !utils.IsDeclaration(g) {
			c.Gobjs[g.Name()] = g
		}
	}
	for name, f := range funcs {
		c.Funcs[name] = f
	}
	c.Modules = append(c.Modules, m)
	log.Debugf("added %s: %d external globals, %d external functions so far", m.Name, len(c.Gobjs), len(c.Funcs))
	return nil
}

// MarkPopulated records that the nodes of m were created, and reports
// whether they already had been.
func (c *Context) MarkPopulated(m *module.Module) bool {
	if c.populated[m] {
		return true
	}
	c.populated[m] = true
	return false
}

// Module returns the module with the given name.
func (c *Context) Module(name string) (*module.Module, bool) {
	for _, m := range c.Modules {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}
