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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/assert"

	"github.com/google/go-kanalyzer/internal/pkg/config"
	"github.com/google/go-kanalyzer/internal/pkg/structinfo"
	"github.com/google/go-kanalyzer/internal/pkg/test"
)

func newFactory() *Factory {
	return NewFactory(structinfo.NewAnalyzer(config.Default()), map[string]*ir.Global{}, map[string]*ir.Func{})
}

func def(name string) *ir.Global {
	return ir.NewGlobalDef(name, constant.NewInt(types.I32, 0))
}

// object creates an object of n fields for v and returns its first node.
func object(f *Factory, v *ir.Global, n uint32, union bool) NodeIndex {
	obj := f.CreateObjectNode(v, union, false)
	for i := uint32(1); i < n; i++ {
		f.CreateObjectNodeAt(obj, i, union, false)
	}
	return obj
}

func TestReservedNodes(t *testing.T) {
	f := newFactory()
	check := func() {
		t.Helper()
		assert.Equal(t, NodeIndex(0), f.UniversalPtrNode())
		assert.Equal(t, NodeIndex(1), f.UniversalObjNode())
		assert.Equal(t, NodeIndex(2), f.NullPtrNode())
		assert.Equal(t, NodeIndex(3), f.NullObjectNode())
		assert.Equal(t, NodeIndex(4), f.ConstantIntNode())
		for _, i := range []NodeIndex{UniversalPtr, NullPtr} {
			assert.False(t, f.IsObjectNode(i))
		}
		for _, i := range []NodeIndex{UniversalObj, NullObj, ConstantInt} {
			assert.True(t, f.IsObjectNode(i))
		}
		for i := UniversalPtr; i < numReserved; i++ {
			assert.True(t, f.IsReserved(i))
			assert.Equal(t, i, f.MergeTarget(i))
		}
	}

	check()
	assert.Equal(t, 5, f.NumNodes())

	g := def("g")
	f.CreateValueNode(g)
	object(f, g, 3, false)
	f.CreateValueNode(nil)
	check()
	assert.False(t, f.IsReserved(5))
}

func TestCreateObjectNodeIsIdempotent(t *testing.T) {
	f := newFactory()
	g := def("g")

	first := f.CreateObjectNode(g, false, false)
	n := f.NumNodes()
	second := f.CreateObjectNode(g, true, true)

	assert.Equal(t, first, second)
	assert.Equal(t, n, f.NumNodes(), "second creation must not grow the table")
	assert.Equal(t, first, f.ObjectNodeFor(g))
	assert.False(t, f.IsUnionObject(first))
}

func TestContiguity(t *testing.T) {
	f := newFactory()
	a := def("a")
	b := def("b")
	objA := object(f, a, 4, false)
	objB := object(f, b, 2, false)

	for _, tt := range []struct {
		base NodeIndex
		size uint32
	}{
		{objA, 4},
		{objB, 2},
	} {
		for i := uint32(0); i < tt.size; i++ {
			n := tt.base + NodeIndex(i)
			assert.True(t, f.IsObjectNode(n))
			assert.Equal(t, i, f.ObjectOffset(n))
			assert.Equal(t, tt.size, f.ObjectSize(n))
			assert.Equal(t, tt.base+NodeIndex(tt.size), f.ObjectBound(n))
			assert.Equal(t, n, f.OffsetObjectNode(tt.base, i))
			assert.Equal(t, f.ValueForNode(tt.base), f.ValueForNode(n))
		}
	}
	assert.Equal(t, objA+3, f.OffsetObjectNode(objA+1, 2))

	test.ExpectFatal(t, func() { f.OffsetObjectNode(objA, 4) })
	test.ExpectFatal(t, func() { f.CreateObjectNodeAt(objA, 1, false, false) })
	test.ExpectFatal(t, func() { f.CreateObjectNodeAt(NodeIndex(f.NumNodes()), 0, false, false) })
}

func TestUnionObject(t *testing.T) {
	f := newFactory()
	u := def("u")
	obj := object(f, u, 1, true)

	assert.True(t, f.IsUnionObject(obj))
	for _, off := range []uint32{0, 1, 5} {
		assert.Equal(t, obj, f.OffsetObjectNode(obj, off))
	}
}

func TestDuplicates(t *testing.T) {
	f := newFactory()
	g := def("g")
	fn := ir.NewFunc("fn", types.I8Ptr)

	f.CreateValueNode(g)
	test.ExpectFatal(t, func() { f.CreateValueNode(g) })

	ret := f.CreateReturnNode(fn)
	assert.Equal(t, ret, f.ReturnNodeFor(fn))
	test.ExpectFatal(t, func() { f.CreateReturnNode(fn) })

	va := f.CreateVarargNode(fn)
	assert.Equal(t, va, f.VarargNodeFor(fn))
	assert.True(t, f.IsObjectNode(va))
	test.ExpectFatal(t, func() { f.CreateVarargNode(fn) })

	other := ir.NewFunc("other", types.I8Ptr)
	assert.Equal(t, InvalidIndex, f.ReturnNodeFor(other))
	assert.Equal(t, InvalidIndex, f.VarargNodeFor(other))

	// Anonymous value nodes never collide.
	assert.NotEqual(t, f.CreateValueNode(nil), f.CreateValueNode(nil))
}

func TestInstructionNodes(t *testing.T) {
	f := newFactory()
	slot := ir.NewAlloca(types.I32)
	store := ir.NewStore(constant.NewInt(types.I32, 1), slot)
	br := ir.NewBr(ir.NewBlock("exit"))

	a := f.CreateInstructionNode(slot)
	assert.Equal(t, a, f.ValueNodeFor(slot), "value instructions share their value node")
	s := f.CreateInstructionNode(store)
	assert.NotEqual(t, a, s)
	assert.Nil(t, f.ValueForNode(s))
	b := f.CreateTerminatorNode(br)
	assert.Equal(t, ValueNode, f.NodeKind(b))

	assert.Equal(t, s, f.InstructionNodeFor(store))
	assert.Equal(t, b, f.TerminatorNodeFor(br))
	assert.Equal(t, InvalidIndex, f.InstructionNodeFor(ir.NewAlloca(types.I8)))
	assert.Equal(t, InvalidIndex, f.TerminatorNodeFor(ir.NewRet(nil)))

	test.ExpectFatal(t, func() { f.CreateInstructionNode(store) })
	test.ExpectFatal(t, func() { f.CreateInstructionNode(slot) })
	test.ExpectFatal(t, func() { f.CreateTerminatorNode(br) })
}

func TestMerge(t *testing.T) {
	f := newFactory()
	var n []NodeIndex
	for i := 0; i < 5; i++ {
		n = append(n, f.CreateValueNode(nil))
	}
	a, b, c, d, e := n[0], n[1], n[2], n[3], n[4]

	f.MergeNode(a, b)
	f.MergeNode(b, c)
	assert.Equal(t, f.MergeTarget(a), f.MergeTarget(c))
	assert.Equal(t, f.MergeTarget(c), f.MergeTarget(b))
	assert.Equal(t, a, f.MergeTarget(c))

	// Merging into a node that was itself merged keeps earlier members.
	f.MergeNode(d, b)
	for _, x := range []NodeIndex{a, b, c, d} {
		assert.Equal(t, f.MergeTarget(d), f.MergeTarget(x))
	}
	assert.Equal(t, e, f.MergeTarget(e))

	// Paths are compressed.
	f.MergeTarget(c)
	assert.Equal(t, f.MergeTarget(a), f.parent[c])

	test.ExpectFatal(t, func() { f.MergeTarget(NodeIndex(f.NumNodes())) })
}

func TestObjectMapMaintenance(t *testing.T) {
	f := newFactory()
	g := def("g")
	h := def("h")
	obj := f.CreateObjectNode(g, false, false)
	val := f.CreateValueNode(g)

	f.UpdateNodeForObject(h, obj)
	assert.Equal(t, obj, f.ObjectNodeFor(h))
	test.ExpectFatal(t, func() { f.UpdateNodeForObject(h, val) })

	f.RemoveNodeForObject(g)
	assert.Equal(t, InvalidIndex, f.ObjectNodeFor(g))
	f.RemoveNodeForValue(g)
	assert.Equal(t, InvalidIndex, f.ValueNodeFor(g))
	assert.Equal(t, g, f.ValueForNode(obj), "nodes outlive their mapping")
}

func TestTaint(t *testing.T) {
	f := newFactory()
	g := def("g")
	obj := object(f, g, 3, false)
	val := f.CreateValueNode(g)

	f.SetNodeAsTainted(obj + 2)
	f.SetNodeAsTainted(obj)
	assert.True(t, f.IsTainted(obj))
	assert.False(t, f.IsTainted(obj+1))
	if diff := cmp.Diff([]NodeIndex{obj, obj + 2}, f.TaintedNodes()); diff != "" {
		t.Errorf("TaintedNodes diff (-want +got):\n%s", diff)
	}
	test.ExpectFatal(t, func() { f.SetNodeAsTainted(val) })
}

func TestNodeString(t *testing.T) {
	f := newFactory()
	g := def("g")
	fn := ir.NewFunc("handler", types.I8Ptr)
	val := f.CreateValueNode(g)
	obj := object(f, g, 2, false)
	ret := f.CreateReturnNode(fn)

	for _, tt := range []struct {
		idx  NodeIndex
		want string
	}{
		{UniversalPtr, "V #0 <nil>"},
		{NullObj, "O #3 <nil>"},
		{val, "V #5 v> @g"},
		{obj + 1, "O #7 field [1] of @g"},
		{ret, "V #8 f> handler"},
		{100, "#100 <invalid>"},
	} {
		assert.Equal(t, tt.want, f.NodeString(tt.idx))
	}

	values, objects := f.Counts()
	assert.Equal(t, 4, values)
	assert.Equal(t, 5, objects)
}
