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

package structinfo

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	log "github.com/sirupsen/logrus"

	"github.com/google/go-kanalyzer/internal/pkg/datalayout"
	"github.com/google/go-kanalyzer/internal/pkg/module"
	"github.com/google/go-kanalyzer/internal/pkg/utils"
)

// GEPByteOffset returns the byte offset addressed by a getelementptr
// constant expression or instruction. Offsets of getelementptr constant
// expressions used as the base are accumulated. Non-constant indices are
// read as zero.
func GEPByteOffset(gep value.Value, dl *datalayout.Layout) int64 {
	var (
		elem    types.Type
		src     value.Value
		indices []int64
	)
	switch g := gep.(type) {
	case *constant.ExprGetElementPtr:
		elem, src = g.ElemType, g.Src
		for _, idx := range g.Indices {
			v, _ := utils.ConstInt(idx)
			indices = append(indices, v)
		}
	case *ir.InstGetElementPtr:
		elem, src = g.ElemType, g.Src
		for _, idx := range g.Indices {
			v, _ := utils.ConstInt(idx)
			indices = append(indices, v)
		}
	default:
		log.Fatalf("GEPByteOffset on a non-getelementptr value %s", utils.Describe(gep))
		return 0
	}

	var offset int64
	// Nested getelementptr instructions are not accumulated: their indices
	// need not be constant.
	if base, ok := utils.StripPointerCasts(src).(*constant.ExprGetElementPtr); ok {
		offset += GEPByteOffset(base, dl)
	}
	off, err := dl.IndexedOffsetInType(elem, indices)
	if err != nil {
		log.Warnf("getelementptr %s: %v", utils.Describe(gep), err)
	}
	return offset + off
}

// FieldNumberForByteOffset returns the expanded field number reached by
// moving offset bytes into the object ptr points to. Nested structs are
// walked level by level and arrays are collapsed. The walk stops at a union,
// and at an offset landing inside a scalar field, which is reported.
func (a *Analyzer) FieldNumberForByteOffset(ptr value.Value, offset int64, m *module.Module) int {
	if offset < 0 {
		return 0
	}

	elem := utils.Dereference(ptr.Type())
	if st, ok := elem.(*types.StructType); ok {
		if a.IsUnion(st) || a.Resolve(st, m).Opaque {
			return 0
		}
	}

	ret := 0
	for offset > 0 {
		elem, _ = utils.StripArrays(elem)

		st, ok := elem.(*types.StructType)
		if !ok {
			size := int64(m.Layout.TypeAllocSize(elem))
			if size == 0 {
				break
			}
			if offset%size != 0 {
				log.Warnf("getelementptr into the middle of a field of %s at offset %d; partial aliasing is not modeled", utils.Describe(ptr), offset)
			}
			break
		}

		si := a.ComputeLayout(st, m)
		if si == nil || a.IsUnion(si.typ) {
			break
		}
		st = si.typ
		size := int64(si.allocSize)
		if size == 0 || len(st.Fields) == 0 {
			break
		}
		offset %= size
		sl := si.layout.StructLayout(st)
		idx := sl.ElementContainingOffset(uint64(offset))
		ret += si.offsetMap[idx]
		offset -= int64(sl.MemberOffsets[idx])
		elem = st.Fields[idx]
	}
	return ret
}

// GEPFieldNumber returns the expanded field number addressed by a
// getelementptr. Constant expressions are resolved against their underlying
// object. Instructions are resolved against their source pointer, or its
// underlying object when the source is itself a constant getelementptr.
func (a *Analyzer) GEPFieldNumber(gep value.Value, m *module.Module) int {
	offset := GEPByteOffset(gep, m.Layout)
	var base value.Value
	switch g := gep.(type) {
	case *constant.ExprGetElementPtr:
		base = utils.UnderlyingObject(g)
	case *ir.InstGetElementPtr:
		base = utils.StripPointerCasts(g.Src)
		if _, ok := base.(*constant.ExprGetElementPtr); ok {
			base = utils.UnderlyingObject(base)
		}
	}
	return a.FieldNumberForByteOffset(base, offset, m)
}
