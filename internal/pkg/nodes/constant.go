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

package nodes

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	log "github.com/sirupsen/logrus"

	"github.com/google/go-kanalyzer/internal/pkg/utils"
)

// ValueNodeFor returns the value node of v, or InvalidIndex. Declarations
// resolve to the definition of the same name in another module; a global
// defined nowhere is the universal pointer. Constants are resolved without
// creating nodes, except for the memoized node of a constant
// getelementptr.
func (f *Factory) ValueNodeFor(v value.Value) NodeIndex {
	switch g := v.(type) {
	case *ir.Global:
		if utils.IsDeclaration(g) {
			def, ok := f.gobjs[g.Name()]
			if !ok {
				return UniversalPtr
			}
			v = def
		}
	case *ir.Func:
		if utils.IsDeclaration(g) {
			def, ok := f.funcs[utils.FuncName(g)]
			if !ok {
				return UniversalPtr
			}
			v = def
		}
	case *ir.Alias, *ir.IFunc:
	case constant.Constant:
		return f.valueNodeForConstant(g)
	}
	if idx, ok := f.valueNodes[v]; ok {
		return idx
	}
	return InvalidIndex
}

func isGlobalValue(v value.Value) bool {
	switch v.(type) {
	case *ir.Global, *ir.Func, *ir.Alias, *ir.IFunc:
		return true
	}
	return false
}

func isPointer(c constant.Constant) bool {
	_, ok := c.Type().(*types.PointerType)
	return ok
}

func (f *Factory) valueNodeForConstant(c constant.Constant) NodeIndex {
	if !isPointer(c) {
		return ConstantInt
	}

	if isGlobalValue(c) {
		return f.ValueNodeFor(c)
	}
	switch c := c.(type) {
	case *constant.Null, *constant.Undef, *constant.ZeroInitializer:
		return NullPtr
	case *constant.ExprGetElementPtr:
		base := f.valueNodeForConstant(constGEPBase(c))
		if base == InvalidIndex {
			log.Fatalf("no value node for the base of %s", utils.Describe(c))
			return InvalidIndex
		}
		switch base {
		case NullPtr, NullObj:
			return NullPtr
		case UniversalPtr, UniversalObj:
			log.Warnf("constant getelementptr on the universal object: %s", utils.Describe(c.Src))
			return UniversalPtr
		}
		field := f.constGEPFieldNumber(c)
		if field == 0 {
			return base
		}
		key := gepKey{base: base, field: field}
		if idx, ok := f.gepMap[key]; ok {
			return idx
		}
		idx, ok := f.valueNodes[c]
		if !ok {
			idx = f.CreateValueNode(c)
		}
		f.gepMap[key] = idx
		f.gepNodes[idx] = key
		return idx
	case *constant.ExprBitCast:
		return f.castSource(f.ValueNodeFor(c.From), c.From)
	case *constant.ExprAddrSpaceCast:
		return f.castSource(f.ValueNodeFor(c.From), c.From)
	case *constant.ExprIntToPtr, *constant.ExprPtrToInt:
		return NullPtr
	case *constant.BlockAddress:
		return NullPtr
	case constant.Expression:
		log.Fatalf("constant expression not handled: %s", utils.Describe(c))
		return InvalidIndex
	}
	log.Fatalf("unknown constant pointer: %s", utils.Describe(c))
	return InvalidIndex
}

func (f *Factory) castSource(src NodeIndex, from value.Value) NodeIndex {
	switch src {
	case NullObj:
		return NullPtr
	case UniversalObj:
		log.Warnf("constant cast of the universal object: %s", utils.Describe(from))
		return UniversalPtr
	}
	return src
}

// ObjectNodeFor returns the object node of v, or InvalidIndex.
// Declarations resolve to the definition of the same name in another
// module. Constant getelementptrs resolve to the field node they address.
func (f *Factory) ObjectNodeFor(v value.Value) NodeIndex {
	switch g := v.(type) {
	case *ir.Global:
		if utils.IsDeclaration(g) {
			if def, ok := f.gobjs[g.Name()]; ok {
				v = def
			}
		}
	case *ir.Func:
		if utils.IsDeclaration(g) {
			if def, ok := f.funcs[utils.FuncName(g)]; ok {
				v = def
			}
		}
	case *ir.Alias, *ir.IFunc:
	case constant.Constant:
		return f.objectNodeForConstant(g)
	}
	if idx, ok := f.objNodes[v]; ok {
		return idx
	}
	return InvalidIndex
}

func (f *Factory) objectNodeForConstant(c constant.Constant) NodeIndex {
	if !isPointer(c) {
		return UniversalObj
	}

	if isGlobalValue(c) {
		return f.ObjectNodeFor(c)
	}
	switch c := c.(type) {
	case *constant.Null, *constant.Undef, *constant.ZeroInitializer:
		return NullObj
	case *constant.ExprGetElementPtr:
		base := f.objectNodeForConstant(constGEPBase(c))
		switch base {
		case InvalidIndex:
			log.Fatalf("no object node for the base of %s", utils.Describe(c))
			return InvalidIndex
		case NullObj, UniversalObj:
			return base
		}
		return f.OffsetObjectNode(base, f.constGEPFieldNumber(c))
	case *constant.ExprBitCast:
		return f.objectNodeForConstant(c.From)
	case *constant.ExprAddrSpaceCast:
		return f.objectNodeForConstant(c.From)
	case *constant.ExprIntToPtr, *constant.ExprPtrToInt:
		return NullObj
	case *constant.BlockAddress:
		return NullObj
	case constant.Expression:
		log.Fatalf("constant expression not handled: %s", utils.Describe(c))
		return InvalidIndex
	}
	log.Fatalf("unknown constant pointer: %s", utils.Describe(c))
	return InvalidIndex
}

// constGEPBase returns the value a constant getelementptr is derived from,
// looking through nested getelementptrs and casts. Field numbers of
// constant getelementptrs are relative to it.
func constGEPBase(gep *constant.ExprGetElementPtr) constant.Constant {
	base, ok := utils.UnderlyingObject(gep).(constant.Constant)
	if !ok {
		log.Fatalf("getelementptr %s is not derived from a constant", utils.Describe(gep))
	}
	return base
}

func (f *Factory) constGEPFieldNumber(gep *constant.ExprGetElementPtr) uint32 {
	if f.module == nil {
		log.Fatalf("resolving %s without a module", utils.Describe(gep))
	}
	return uint32(f.structs.GEPFieldNumber(gep, f.module))
}
