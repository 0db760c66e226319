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

package module

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const src = `
target datalayout = "e-m:e-i64:64-f80:128-n8:16:32:64-S128"

@counter = global i32 0

define i32 @get() {
entry:
  %0 = load i32, i32* @counter
  ret i32 %0
}
`

func TestParseString(t *testing.T) {
	m, err := ParseString("fs/inode.ll", src)
	require.NoError(t, err)

	assert.Equal(t, "fs/inode.ll", m.Name)
	assert.Equal(t, "inode", m.Stem())
	assert.Len(t, m.Globals, 1)
	assert.Len(t, m.Funcs, 1)
	assert.Equal(t, uint64(8), m.Layout.PointerSize(0))
	assert.Equal(t, "e-m:e-i64:64-f80:128-n8:16:32:64-S128", m.Layout.Rep)
}

func TestParseStringErrors(t *testing.T) {
	_, err := ParseString("bad.ll", "define i32 @f( {")
	assert.Error(t, err)

	_, err = ParseString("badlayout.ll", `target datalayout = "p:64"`)
	assert.Error(t, err)
}

func TestStem(t *testing.T) {
	for name, want := range map[string]string{
		"a/b/tun.ll":     "tun",
		"tun.bc.ll":      "tun",
		"tun":            "tun",
		"net/ipv4/tcp.c": "tcp",
	} {
		m := &Module{Name: name}
		assert.Equal(t, want, m.Stem(), name)
	}
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"a.ll", "b.ll", "c.ll"} {
		p := filepath.Join(dir, name)
		require.NoError(t, ioutil.WriteFile(p, []byte(src), 0o644))
		paths = append(paths, p)
	}

	mods, err := LoadAll(context.Background(), paths)
	require.NoError(t, err)
	require.Len(t, mods, 3)
	for i, m := range mods {
		assert.Equal(t, paths[i], m.Name)
	}

	_, err = LoadAll(context.Background(), append(paths, filepath.Join(dir, "missing.ll")))
	assert.Error(t, err)
}
