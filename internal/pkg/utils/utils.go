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

// Package utils contains various utility functions over LLVM IR.
package utils

import (
	"fmt"
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

// Dereference returns the pointee type of a pointer type.
// Opaque pointers point to i8. If the input is not a pointer, then the
// input is returned.
func Dereference(t types.Type) types.Type {
	pt, ok := t.(*types.PointerType)
	if !ok {
		return t
	}
	if pt.ElemType == nil {
		return types.I8
	}
	return pt.ElemType
}

// StripArrays returns the innermost element type of nested arrays and the
// product of their lengths.
func StripArrays(t types.Type) (types.Type, uint64) {
	n := uint64(1)
	for {
		at, ok := t.(*types.ArrayType)
		if !ok {
			return t, n
		}
		n *= at.Len
		t = at.ElemType
	}
}

// IsI8 reports whether t is the byte type used for untyped buffers.
func IsI8(t types.Type) bool {
	it, ok := t.(*types.IntType)
	return ok && it.BitSize == 8
}

// StripPointerCasts looks through bitcasts, address space casts and
// all-zero getelementptrs, on both constants and instructions.
func StripPointerCasts(v value.Value) value.Value {
	for {
		switch c := v.(type) {
		case *constant.ExprBitCast:
			v = c.From
		case *constant.ExprAddrSpaceCast:
			v = c.From
		case *constant.ExprGetElementPtr:
			if !allZero(c.Indices) {
				return v
			}
			v = c.Src
		case *ir.InstBitCast:
			v = c.From
		case *ir.InstAddrSpaceCast:
			v = c.From
		default:
			return v
		}
	}
}

// UnderlyingObject looks through every getelementptr and pointer cast to
// the value a pointer is derived from.
func UnderlyingObject(v value.Value) value.Value {
	for {
		switch c := v.(type) {
		case *constant.ExprGetElementPtr:
			v = c.Src
		case *ir.InstGetElementPtr:
			v = c.Src
		case *constant.ExprBitCast:
			v = c.From
		case *constant.ExprAddrSpaceCast:
			v = c.From
		case *ir.InstBitCast:
			v = c.From
		case *ir.InstAddrSpaceCast:
			v = c.From
		default:
			return v
		}
	}
}

func allZero(indices []constant.Constant) bool {
	for _, idx := range indices {
		ci, ok := ConstInt(idx)
		if !ok || ci != 0 {
			return false
		}
	}
	return true
}

// ConstInt returns the sign-extended value of an integer constant, looking
// through getelementptr index wrappers.
func ConstInt(v value.Value) (int64, bool) {
	if idx, ok := v.(*constant.Index); ok {
		v = idx.Constant
	}
	switch c := v.(type) {
	case *constant.Int:
		if !c.X.IsInt64() {
			return 0, false
		}
		return c.X.Int64(), true
	case *constant.ZeroInitializer:
		return 0, true
	}
	return 0, false
}

// IsDeclaration reports whether a global or function has no definition in
// its module.
func IsDeclaration(v value.Value) bool {
	switch v := v.(type) {
	case *ir.Global:
		return v.Init == nil
	case *ir.Func:
		return len(v.Blocks) == 0
	}
	return false
}

// IsIntrinsic reports whether f is an LLVM intrinsic.
func IsIntrinsic(f *ir.Func) bool {
	return strings.HasPrefix(f.Name(), "llvm.")
}

// HasExternalLinkage reports whether a symbol with linkage l is visible to
// other modules under its own name.
func HasExternalLinkage(l enum.Linkage) bool {
	return l == enum.LinkageNone || l == enum.LinkageExternal
}

// CalledFunction returns the function directly called by call, looking
// through pointer casts of the callee, or nil for indirect calls.
func CalledFunction(call *ir.InstCall) *ir.Func {
	f, _ := StripPointerCasts(call.Callee).(*ir.Func)
	return f
}

// FuncName returns the program-wide name of f. Syscall entry points
// defined as SyS_<name> are known by their sys_<name> alias.
func FuncName(f *ir.Func) string {
	name := f.Name()
	if strings.HasPrefix(name, "SyS_") {
		return "sys_" + name[len("SyS_"):]
	}
	return name
}

type operander interface {
	Operands() []*value.Value
}

// AddressTakenFuncs returns the functions of m that are used other than as
// the callee of a direct call.
func AddressTakenFuncs(m *ir.Module) map[*ir.Func]bool {
	taken := map[*ir.Func]bool{}
	for _, g := range m.Globals {
		if g.Init != nil {
			markConst(g.Init, taken)
		}
	}
	for _, f := range m.Funcs {
		for _, b := range f.Blocks {
			for _, inst := range b.Insts {
				markOperands(inst, taken)
			}
			if b.Term != nil {
				markOperands(b.Term, taken)
			}
		}
	}
	return taken
}

func markOperands(inst interface{}, taken map[*ir.Func]bool) {
	ops, ok := inst.(operander)
	if !ok {
		return
	}
	call, _ := inst.(*ir.InstCall)
	for _, op := range ops.Operands() {
		if call != nil && op == &call.Callee {
			if _, direct := (*op).(*ir.Func); direct {
				continue
			}
		}
		if c, ok := (*op).(constant.Constant); ok {
			markConst(c, taken)
		}
	}
}

func markConst(c constant.Constant, taken map[*ir.Func]bool) {
	switch c := c.(type) {
	case *ir.Func:
		taken[c] = true
	case *constant.Struct:
		for _, f := range c.Fields {
			markConst(f, taken)
		}
	case *constant.Array:
		for _, e := range c.Elems {
			markConst(e, taken)
		}
	case *constant.Vector:
		for _, e := range c.Elems {
			markConst(e, taken)
		}
	case *constant.ExprBitCast:
		markConst(c.From, taken)
	case *constant.ExprAddrSpaceCast:
		markConst(c.From, taken)
	case *constant.ExprPtrToInt:
		markConst(c.From, taken)
	case *constant.ExprGetElementPtr:
		markConst(c.Src, taken)
	}
}

// Describe renders v for diagnostics. Functions and globals are printed by
// name only.
func Describe(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return "<nil>"
	case *ir.Func:
		return v.Ident()
	case *ir.Global:
		return v.Ident()
	case interface{ LLString() string }:
		return v.LLString()
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprintf("%v", v)
}
