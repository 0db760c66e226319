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

package datalayout

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/llir/llvm/ir/types"
)

const x8664 = "e-m:e-p270:32:32-p271:32:32-p272:64:64-i64:64-f80:128-n8:16:32:64-S128"

func mustParse(t *testing.T, rep string) *Layout {
	t.Helper()
	l, err := Parse(rep)
	if err != nil {
		t.Fatalf("Parse(%q): %v", rep, err)
	}
	return l
}

func TestParse(t *testing.T) {
	l := mustParse(t, x8664)
	if l.BigEndian {
		t.Errorf("BigEndian = true, want false")
	}
	if l.StackAlign != 128 {
		t.Errorf("StackAlign = %d, want 128", l.StackAlign)
	}
	if diff := cmp.Diff([]uint64{8, 16, 32, 64}, l.LegalInts); diff != "" {
		t.Errorf("LegalInts diff (-want +got):\n%s", diff)
	}
	if got := l.PointerSize(0); got != 8 {
		t.Errorf("PointerSize(0) = %d, want 8", got)
	}
	if got := l.PointerSize(270); got != 4 {
		t.Errorf("PointerSize(270) = %d, want 4", got)
	}

	be := mustParse(t, "E-p:32:32-i64:64")
	if !be.BigEndian || be.PointerSize(0) != 4 {
		t.Errorf("E-p:32:32: got BigEndian=%v PointerSize=%d", be.BigEndian, be.PointerSize(0))
	}
}

func TestParseErrors(t *testing.T) {
	for _, rep := range []string{"p:64", "i64:x", "S1x", "a"} {
		if _, err := Parse(rep); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", rep)
		}
	}
}

func TestScalarSizes(t *testing.T) {
	def := Default()
	x86 := mustParse(t, x8664)

	testCases := []struct {
		desc      string
		l         *Layout
		typ       types.Type
		wantStore uint64
		wantAlloc uint64
		wantAlign uint64
	}{
		{"i1", def, types.I1, 1, 1, 1},
		{"i32", def, types.I32, 4, 4, 4},
		{"i64 default", def, types.I64, 8, 8, 4},
		{"i64 x86-64", x86, types.I64, 8, 8, 8},
		{"i24 rounds up", def, types.NewInt(24), 3, 4, 4},
		{"i128 uses largest", x86, types.I128, 16, 16, 8},
		{"x86_fp80", x86, types.X86_FP80, 10, 16, 16},
		{"half", def, types.Half, 2, 2, 2},
		{"double", def, types.Double, 8, 8, 8},
		{"pointer", x86, types.I8Ptr, 8, 8, 8},
		{"array", x86, types.NewArray(3, types.I16), 6, 6, 2},
	}

	for _, tt := range testCases {
		t.Run(tt.desc, func(t *testing.T) {
			if got := tt.l.TypeStoreSize(tt.typ); got != tt.wantStore {
				t.Errorf("TypeStoreSize = %d, want %d", got, tt.wantStore)
			}
			if got := tt.l.TypeAllocSize(tt.typ); got != tt.wantAlloc {
				t.Errorf("TypeAllocSize = %d, want %d", got, tt.wantAlloc)
			}
			if got := tt.l.ABIAlignment(tt.typ); got != tt.wantAlign {
				t.Errorf("ABIAlignment = %d, want %d", got, tt.wantAlign)
			}
		})
	}
}

func TestStructLayout(t *testing.T) {
	packed := types.NewStruct(types.I8, types.I32)
	packed.Packed = true

	testCases := []struct {
		desc        string
		rep         string
		st          *types.StructType
		wantOffsets []uint64
		wantSize    uint64
		wantAlign   uint64
	}{
		{
			desc:        "natural alignment",
			rep:         x8664,
			st:          types.NewStruct(types.I8, types.I32, types.I64),
			wantOffsets: []uint64{0, 4, 8},
			wantSize:    16,
			wantAlign:   8,
		},
		{
			desc:        "default i64 alignment",
			st:          types.NewStruct(types.I32, types.I64),
			wantOffsets: []uint64{0, 4},
			wantSize:    12,
			wantAlign:   4,
		},
		{
			desc:        "packed",
			rep:         x8664,
			st:          packed,
			wantOffsets: []uint64{0, 1},
			wantSize:    5,
			wantAlign:   1,
		},
		{
			desc:        "array and pointer",
			rep:         x8664,
			st:          types.NewStruct(types.I32, types.NewArray(3, types.I16), types.I8Ptr),
			wantOffsets: []uint64{0, 4, 16},
			wantSize:    24,
			wantAlign:   8,
		},
		{
			desc:        "nested struct",
			rep:         x8664,
			st:          types.NewStruct(types.I8, types.NewStruct(types.I32, types.I32), types.I8),
			wantOffsets: []uint64{0, 4, 12},
			wantSize:    16,
			wantAlign:   4,
		},
		{
			desc:      "empty",
			st:        types.NewStruct(),
			wantSize:  0,
			wantAlign: 1,
		},
	}

	for _, tt := range testCases {
		t.Run(tt.desc, func(t *testing.T) {
			l := mustParse(t, tt.rep)
			sl := l.StructLayout(tt.st)
			if diff := cmp.Diff(tt.wantOffsets, sl.MemberOffsets, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("offsets diff (-want +got):\n%s", diff)
			}
			if sl.Size != tt.wantSize {
				t.Errorf("Size = %d, want %d", sl.Size, tt.wantSize)
			}
			if sl.Alignment != tt.wantAlign {
				t.Errorf("Alignment = %d, want %d", sl.Alignment, tt.wantAlign)
			}
			if l.StructLayout(tt.st) != sl {
				t.Errorf("StructLayout is not memoized")
			}
		})
	}
}

func TestElementContainingOffset(t *testing.T) {
	l := mustParse(t, x8664)
	st := types.NewStruct(types.I32, types.NewArray(4, types.I16), types.I64)
	sl := l.StructLayout(st)

	for offset, want := range map[uint64]int{0: 0, 3: 0, 4: 1, 11: 1, 12: 1, 16: 2, 23: 2} {
		if got := sl.ElementContainingOffset(offset); got != want {
			t.Errorf("ElementContainingOffset(%d) = %d, want %d", offset, got, want)
		}
	}
}

func TestIndexedOffsetInType(t *testing.T) {
	l := mustParse(t, x8664)
	st := types.NewStruct(types.I32, types.NewArray(4, types.I16), types.I64)

	testCases := []struct {
		desc    string
		indices []int64
		want    int64
		wantErr bool
	}{
		{"none", nil, 0, false},
		{"pointer step", []int64{2}, 48, false},
		{"field", []int64{0, 2}, 16, false},
		{"array element", []int64{1, 1, 2}, 32, false},
		{"negative pointer step", []int64{-1, 1}, -20, false},
		{"field out of range", []int64{0, 3}, 0, true},
		{"index into scalar", []int64{0, 0, 1}, 0, true},
	}

	for _, tt := range testCases {
		t.Run(tt.desc, func(t *testing.T) {
			got, err := l.IndexedOffsetInType(st, tt.indices)
			if tt.wantErr {
				if err == nil {
					t.Errorf("IndexedOffsetInType(%v) succeeded, want error", tt.indices)
				}
				return
			}
			if err != nil {
				t.Fatalf("IndexedOffsetInType(%v): %v", tt.indices, err)
			}
			if got != tt.want {
				t.Errorf("IndexedOffsetInType(%v) = %d, want %d", tt.indices, got, tt.want)
			}
		})
	}
}

func TestIsSized(t *testing.T) {
	l := Default()
	opaque := &types.StructType{TypeName: "struct.opaque", Opaque: true}

	for _, tt := range []struct {
		typ  types.Type
		want bool
	}{
		{types.I32, true},
		{types.Void, false},
		{opaque, false},
		{types.NewStruct(types.I32, opaque), false},
		{types.NewPointer(opaque), true},
		{types.NewArray(2, types.I8), true},
	} {
		if got := l.IsSized(tt.typ); got != tt.want {
			t.Errorf("IsSized(%v) = %v, want %v", tt.typ, got, tt.want)
		}
	}
}
