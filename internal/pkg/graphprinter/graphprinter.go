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

// Package graphprinter renders the struct embedding graph in DOT.
package graphprinter

import (
	"bytes"
	"fmt"
	"sort"
)

// Print renders a graph as DOT source code. An edge a -> b means struct a
// is embedded in struct b. Output is sorted so that it is stable.
func Print(graph map[string]map[string]bool, isUnion, isAnon func(string) bool) string {
	var b bytes.Buffer

	b.WriteString("digraph {\n")

	styled := map[string]bool{}
	style := func(name string) {
		if styled[name] {
			return
		}
		styled[name] = true
		if isUnion(name) {
			b.WriteString(fmt.Sprintf("%q [style=filled fillcolor=yellow];\n", name))
		}
		if isAnon(name) {
			b.WriteString(fmt.Sprintf("%q [style=dashed];\n", name))
		}
	}

	for _, src := range sortedKeys(graph) {
		style(src)
		for _, dst := range sortedKeys(graph[src]) {
			style(dst)
			b.WriteString(fmt.Sprintf("%q -> %q;\n", src, dst))
		}
	}

	b.WriteString("}\n")

	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
