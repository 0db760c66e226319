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

// Package structinfo flattens struct types into field-sensitive layouts.
//
// Following Pearce et al., "Efficient field-sensitive pointer analysis of C",
// nested structs are spliced into their container so that every scalar field
// of an aggregate gets its own position in the expanded struct. Arrays are
// collapsed to a single element and unions occupy a single position.
package structinfo

import (
	"sort"

	"github.com/llir/llvm/ir/types"

	"github.com/google/go-kanalyzer/internal/pkg/datalayout"
	"github.com/google/go-kanalyzer/internal/pkg/module"
)

// StructInfo is the flattened layout of one struct type.
//
// If expanded field i begins an embedded struct, FieldSize(i) is the number
// of expanded fields of that struct, otherwise it is 1. FieldSize(0) is
// overwritten with the expanded size of the whole struct.
// A field with index j in the original struct has index ExpandedIndex(j)
// in the expanded struct.
type StructInfo struct {
	typ    *types.StructType
	module *module.Module
	layout *datalayout.Layout

	fieldSize     []int
	offsetMap     []int
	arrayFlags    []bool
	pointerFlags  []bool
	unionFlags    []bool
	fieldOffset   []uint64
	fieldRealSize []uint64
	elementTypes  map[int][]types.Type

	allocSize uint64

	// containers maps each struct that embeds this one, directly or
	// transitively, to the byte offsets of the embedding.
	containers map[*types.StructType]map[uint64]bool

	finalized bool
}

func newStructInfo(st *types.StructType, m *module.Module) *StructInfo {
	return &StructInfo{
		typ:          st,
		module:       m,
		layout:       m.Layout,
		elementTypes: map[int][]types.Type{},
		containers:   map[*types.StructType]map[uint64]bool{},
	}
}

func (si *StructInfo) addField(size int, isArray, isPointer, isUnion bool, offset, realSize uint64) {
	si.fieldSize = append(si.fieldSize, size)
	si.arrayFlags = append(si.arrayFlags, isArray)
	si.pointerFlags = append(si.pointerFlags, isPointer)
	si.unionFlags = append(si.unionFlags, isUnion)
	si.fieldOffset = append(si.fieldOffset, offset)
	si.fieldRealSize = append(si.fieldRealSize, realSize)
}

// appendFields splices the expanded fields of sub, placed at byte offset
// base, onto si.
func (si *StructInfo) appendFields(sub *StructInfo, base uint64, isArray bool) {
	start := len(si.arrayFlags)
	for i := 0; i < sub.ExpandedSize(); i++ {
		si.addField(sub.fieldSize[i], sub.arrayFlags[i] || isArray, sub.pointerFlags[i], sub.unionFlags[i],
			base+sub.fieldOffset[i], sub.fieldRealSize[i])
	}
	for i, ts := range sub.elementTypes {
		for _, t := range ts {
			si.addElementType(start+i, t)
		}
	}
}

func (si *StructInfo) addElementType(field int, t types.Type) {
	for _, have := range si.elementTypes[field] {
		if have == t {
			return
		}
	}
	si.elementTypes[field] = append(si.elementTypes[field], t)
}

func (si *StructInfo) addContainer(st *types.StructType, offset uint64) {
	offsets, ok := si.containers[st]
	if !ok {
		offsets = map[uint64]bool{}
		si.containers[st] = offsets
	}
	offsets[offset] = true
}

// finalize must be called after all fields have been analyzed.
func (si *StructInfo) finalize() {
	n := len(si.fieldSize)
	if n == 0 {
		si.fieldSize = []int{0}
	} else {
		si.fieldSize[0] = n
	}
	if si.layout.IsSized(si.typ) {
		si.allocSize = si.layout.TypeAllocSize(si.typ)
	}
	si.finalized = true
}

// Size returns the number of fields of the original struct.
func (si *StructInfo) Size() int { return len(si.offsetMap) }

// ExpandedSize returns the number of fields of the flattened struct.
func (si *StructInfo) ExpandedSize() int { return len(si.arrayFlags) }

// IsEmpty reports whether the struct has no fields once flattened.
// Objects of an empty struct are modeled by the null object.
func (si *StructInfo) IsEmpty() bool { return si.fieldSize[0] == 0 }

func (si *StructInfo) FieldSize(field int) int       { return si.fieldSize[field] }
func (si *StructInfo) IsFieldArray(field int) bool   { return si.arrayFlags[field] }
func (si *StructInfo) IsFieldPointer(field int) bool { return si.pointerFlags[field] }
func (si *StructInfo) IsFieldUnion(field int) bool   { return si.unionFlags[field] }

// FieldOffset returns the byte offset of an expanded field.
func (si *StructInfo) FieldOffset(field int) uint64 { return si.fieldOffset[field] }

// FieldRealSize returns the allocation size of an expanded field, with
// arrays counted in full.
func (si *StructInfo) FieldRealSize(field int) uint64 { return si.fieldRealSize[field] }

// ExpandedIndex maps an original field index to its expanded index.
func (si *StructInfo) ExpandedIndex(field int) int { return si.offsetMap[field] }

// ElementTypes returns the types observed at an expanded field. The field
// starting an embedded struct lists the struct type as well.
func (si *StructInfo) ElementTypes(field int) []types.Type { return si.elementTypes[field] }

func (si *StructInfo) Module() *module.Module      { return si.module }
func (si *StructInfo) Layout() *datalayout.Layout  { return si.layout }
func (si *StructInfo) RealType() *types.StructType { return si.typ }
func (si *StructInfo) AllocSize() uint64           { return si.allocSize }

// HasContainer reports whether st embeds this struct at byte offset.
func (si *StructInfo) HasContainer(st *types.StructType, offset uint64) bool {
	return si.containers[st][offset]
}

// Container is one embedding of a struct in another.
type Container struct {
	Type   *types.StructType
	Offset uint64
}

// Containers lists every struct embedding this one, ordered by type name
// and offset.
func (si *StructInfo) Containers() []Container {
	var cs []Container
	for st, offsets := range si.containers {
		for off := range offsets {
			cs = append(cs, Container{Type: st, Offset: off})
		}
	}
	sort.Slice(cs, func(i, j int) bool {
		if ni, nj := cs[i].Type.Name(), cs[j].Type.Name(); ni != nj {
			return ni < nj
		}
		return cs[i].Offset < cs[j].Offset
	})
	return cs
}
