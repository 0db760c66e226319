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

// Package kanalyzer drives the construction of the memory model of a
// program given as LLVM IR files.
package kanalyzer

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/google/go-kanalyzer/internal/pkg/config"
	"github.com/google/go-kanalyzer/internal/pkg/global"
	"github.com/google/go-kanalyzer/internal/pkg/module"
	"github.com/google/go-kanalyzer/internal/pkg/nodes"
	"github.com/google/go-kanalyzer/internal/pkg/pointto"
)

// Analyze loads the IR files at paths and builds their memory model.
func Analyze(ctx context.Context, paths []string, conf *config.Config) (*global.Context, error) {
	mods, err := module.LoadAll(ctx, paths)
	if err != nil {
		return nil, err
	}
	c := global.New(conf)
	for _, m := range mods {
		if err := c.AddModule(m); err != nil {
			return nil, err
		}
	}
	pointto.Populate(c)
	log.Infof("analyzed %d modules: %d struct types, %d nodes", len(c.Modules), c.Structs.NumStructs(), c.Nodes.NumNodes())
	return c, nil
}

// Stats summarizes a memory model.
type Stats struct {
	Modules       int
	Structs       int
	MaxStruct     string
	MaxStructSize int
	ValueNodes    int
	ObjectNodes   int
	HeapNodes     int
	// Objects counts distinct memory objects, not their fields.
	Objects int
}

// Summarize computes the Stats of c.
func Summarize(c *global.Context) Stats {
	s := Stats{
		Modules:       len(c.Modules),
		Structs:       c.Structs.NumStructs(),
		MaxStructSize: c.Structs.MaxStructSize(),
	}
	if st := c.Structs.MaxStruct(); st != nil {
		s.MaxStruct = st.Name()
	}
	f := c.Nodes
	s.ValueNodes, s.ObjectNodes = f.Counts()
	for i := 0; i < f.NumNodes(); i++ {
		n := nodes.NodeIndex(i)
		if f.IsReserved(n) || !f.IsObjectNode(n) {
			continue
		}
		if f.IsHeapNode(n) {
			s.HeapNodes++
		}
		if f.ObjectOffset(n) == 0 {
			s.Objects++
		}
	}
	return s
}
