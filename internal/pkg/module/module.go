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

// Package module loads LLVM IR modules and pairs each with its data layout.
package module

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/google/go-kanalyzer/internal/pkg/datalayout"
)

// Module is one translation unit of the analyzed program.
type Module struct {
	*ir.Module
	// Name identifies the module, usually the path of its IR file.
	Name   string
	Layout *datalayout.Layout
}

// New wraps m, parsing its data layout.
func New(name string, m *ir.Module) (*Module, error) {
	l, err := datalayout.Parse(m.DataLayout)
	if err != nil {
		return nil, errors.Wrapf(err, "module %s", name)
	}
	return &Module{Module: m, Name: name, Layout: l}, nil
}

// Stem returns the module name without directories and extensions.
// "drivers/net/tun.ll" has stem "tun".
func (m *Module) Stem() string {
	base := filepath.Base(m.Name)
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base
}

func (m *Module) String() string {
	return m.Name
}

// ParseFile parses a textual LLVM IR file.
func ParseFile(path string) (*Module, error) {
	m, err := asm.ParseFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return New(path, m)
}

// ParseString parses LLVM IR held in src under the given module name.
func ParseString(name, src string) (*Module, error) {
	m, err := asm.ParseString(name, src)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", name)
	}
	return New(name, m)
}

// LoadAll parses the IR files concurrently. The result preserves the order
// of paths; the first error cancels the remaining work.
func LoadAll(ctx context.Context, paths []string) ([]*Module, error) {
	mods := make([]*Module, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			m, err := ParseFile(path)
			if err != nil {
				return err
			}
			log.Debugf("loaded %s: %d globals, %d functions", path, len(m.Globals), len(m.Funcs))
			mods[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return mods, nil
}
