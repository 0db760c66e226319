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

package graphprinter

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPrint(t *testing.T) {
	graph := map[string]map[string]bool{
		"struct.inner":    {"struct.outer": true, "_fs.struct.anon": true},
		"_fs.struct.anon": {"struct.file": true},
		"union.key":       {"struct.file": true},
	}
	isUnion := func(s string) bool { return strings.HasPrefix(s, "union.") }
	isAnon := func(s string) bool { return strings.HasPrefix(s, "_") }

	want := `digraph {
"_fs.struct.anon" [style=dashed];
"_fs.struct.anon" -> "struct.file";
"struct.inner" -> "_fs.struct.anon";
"struct.inner" -> "struct.outer";
"union.key" [style=filled fillcolor=yellow];
"union.key" -> "struct.file";
}
`
	if diff := cmp.Diff(want, Print(graph, isUnion, isAnon)); diff != "" {
		t.Errorf("Print diff (-want +got):\n%s", diff)
	}
}

func TestPrintEmpty(t *testing.T) {
	never := func(string) bool { return false }
	if got := Print(nil, never, never); got != "digraph {\n}\n" {
		t.Errorf("Print(nil) = %q", got)
	}
}
