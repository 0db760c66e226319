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

package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/google/go-kanalyzer/internal/pkg/config/regexp"
)

var configCmpOpts = []cmp.Option{
	cmpopts.IgnoreUnexported(Config{}),
	cmp.Comparer(func(a, b *regexp.Regexp) bool { return a.String() == b.String() }),
}

func TestSetConfig(t *testing.T) {
	set := &Config{LogLevel: "warning"}

	SetConfig(set)

	read, err := ReadConfig()
	if err != nil {
		t.Fatalf("ReadConfig returned an unexpected error: %v", err)
	}

	if diff := cmp.Diff(set, read, configCmpOpts...); diff != "" {
		t.Errorf("set config differs from read config (-set, +read):\n%s", diff)
	}
	if !read.IsAllocFn("kzalloc") {
		t.Errorf("SetConfig should complete the allocator table")
	}
}

func TestSetConfigBytes(t *testing.T) {
	want := &Config{
		AllocFns:    []AllocFn{{Name: "pool_get", SizeArg: 0, FlagArg: -1, CountArg: -1}},
		UnionTypeRE: regexp.New(`^union`),
		AnonTypeRE:  regexp.New(`^(struct|union)\.anon`),
		LogLevel:    "info",
	}
	bytes := []byte("AllocFns:\n- Name: pool_get\n  SizeArg: 0\n")

	SetBytes(bytes)

	read, err := ReadConfig()
	if err != nil {
		t.Fatalf("ReadConfig returned an unexpected error: %v", err)
	}

	if diff := cmp.Diff(want, read, configCmpOpts...); diff != "" {
		t.Errorf("set config differs from read config (-want, +read):\n%s", diff)
	}
}
