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

// Package kanalyzer builds a field-sensitive memory model of a program
// given as LLVM IR files.
package kanalyzer

import internal "github.com/google/go-kanalyzer/internal/pkg/kanalyzer"

// Analyze loads IR files and builds their memory model.
var Analyze = internal.Analyze

// Summarize reports node and struct counts of a memory model.
var Summarize = internal.Summarize

// Stats summarizes a memory model.
type Stats = internal.Stats
