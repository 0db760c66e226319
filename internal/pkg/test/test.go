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

// Package test contains helpers shared by tests of the memory model.
package test

import (
	"testing"

	"github.com/llir/llvm/ir"
	log "github.com/sirupsen/logrus"

	"github.com/google/go-kanalyzer/internal/pkg/module"
)

// X8664 is the data layout emitted by clang for x86-64 Linux.
const X8664 = "e-m:e-p270:32:32-p271:32:32-p272:64:64-i64:64-f80:128-n8:16:32:64-S128"

// ParseModule parses LLVM IR source as a module named name.
func ParseModule(t testing.TB, name, src string) *module.Module {
	t.Helper()
	m, err := module.ParseString(name, src)
	if err != nil {
		t.Fatalf("parsing %s: %v", name, err)
	}
	return m
}

// Func returns the function of m named name.
func Func(t testing.TB, m *module.Module, name string) *ir.Func {
	t.Helper()
	for _, f := range m.Funcs {
		if f.Name() == name {
			return f
		}
	}
	t.Fatalf("no function %s in %s", name, m.Name)
	return nil
}

// Global returns the global variable of m named name.
func Global(t testing.TB, m *module.Module, name string) *ir.Global {
	t.Helper()
	for _, g := range m.Globals {
		if g.Name() == name {
			return g
		}
	}
	t.Fatalf("no global %s in %s", name, m.Name)
	return nil
}

// Inst returns the instruction of f that defines the local %name.
func Inst(t testing.TB, f *ir.Func, name string) ir.Instruction {
	t.Helper()
	for _, b := range f.Blocks {
		for _, inst := range b.Insts {
			if n, ok := inst.(interface{ Name() string }); ok && n.Name() == name {
				return inst
			}
		}
	}
	t.Fatalf("no instruction %%%s in %s", name, f.Name())
	return nil
}

type fatalExit struct {
	code int
}

// ExpectFatal runs f and fails the test unless f reports a fatal
// diagnostic through logrus.
func ExpectFatal(t testing.TB, f func()) {
	t.Helper()
	logger := log.StandardLogger()
	exit := logger.ExitFunc
	logger.ExitFunc = func(code int) { panic(fatalExit{code}) }
	defer func() { logger.ExitFunc = exit }()
	defer func() {
		r := recover()
		if _, ok := r.(fatalExit); ok {
			return
		}
		if r != nil {
			panic(r)
		}
		t.Errorf("expected a fatal diagnostic")
	}()
	f()
}
