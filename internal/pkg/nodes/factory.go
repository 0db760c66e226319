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
	"fmt"
	"sort"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"
	log "github.com/sirupsen/logrus"

	"github.com/google/go-kanalyzer/internal/pkg/module"
	"github.com/google/go-kanalyzer/internal/pkg/structinfo"
	"github.com/google/go-kanalyzer/internal/pkg/utils"
)

// Factory allocates and indexes the nodes of the whole program.
// It is not safe for concurrent use.
type Factory struct {
	structs *structinfo.Analyzer
	// gobjs and funcs map external names to their definitions, so that
	// declarations in one module resolve to the nodes of another.
	gobjs map[string]*ir.Global
	funcs map[string]*ir.Func

	// module is the module whose constants are being resolved.
	module *module.Module

	nodes []node
	// parent is the disjoint-set forest used for node merging.
	parent  []NodeIndex
	tainted map[NodeIndex]bool

	valueNodes map[value.Value]NodeIndex
	objNodes   map[value.Value]NodeIndex
	returns    map[*ir.Func]NodeIndex
	varargs    map[*ir.Func]NodeIndex

	// insts and terms map every instruction and terminator of a populated
	// function body to its value node, including those producing no value.
	insts map[ir.Instruction]NodeIndex
	terms map[ir.Terminator]NodeIndex

	// gepMap maps a base value node and an expanded field number to the
	// value node of a constant getelementptr.
	gepMap   map[gepKey]NodeIndex
	gepNodes map[NodeIndex]gepKey
}

// NewFactory returns a Factory holding only the reserved nodes.
func NewFactory(structs *structinfo.Analyzer, gobjs map[string]*ir.Global, funcs map[string]*ir.Func) *Factory {
	f := &Factory{
		structs:    structs,
		gobjs:      gobjs,
		funcs:      funcs,
		tainted:    map[NodeIndex]bool{},
		valueNodes: map[value.Value]NodeIndex{},
		objNodes:   map[value.Value]NodeIndex{},
		returns:    map[*ir.Func]NodeIndex{},
		varargs:    map[*ir.Func]NodeIndex{},
		insts:      map[ir.Instruction]NodeIndex{},
		terms:      map[ir.Terminator]NodeIndex{},
		gepMap:     map[gepKey]NodeIndex{},
		gepNodes:   map[NodeIndex]gepKey{},
	}
	f.push(node{kind: ValueNode})  // UniversalPtr
	f.push(node{kind: ObjectNode}) // UniversalObj
	f.push(node{kind: ValueNode})  // NullPtr
	f.push(node{kind: ObjectNode}) // NullObj
	f.push(node{kind: ObjectNode}) // ConstantInt
	return f
}

// SetModule sets the module whose data layout and type names are used to
// resolve constant expressions. It stays in effect until the next call:
// callers resolving constants after population must first set the module
// owning the constant.
func (f *Factory) SetModule(m *module.Module) {
	f.module = m
}

// Module returns the module set by SetModule.
func (f *Factory) Module() *module.Module {
	return f.module
}

// Structs returns the struct analyzer the Factory sizes objects with.
func (f *Factory) Structs() *structinfo.Analyzer {
	return f.structs
}

func (f *Factory) push(n node) NodeIndex {
	if len(f.nodes) == int(InvalidIndex) {
		log.Fatalf("node space exhausted")
	}
	idx := NodeIndex(len(f.nodes))
	f.nodes = append(f.nodes, n)
	f.parent = append(f.parent, idx)
	return idx
}

func (f *Factory) at(i NodeIndex) *node {
	if int(i) >= len(f.nodes) {
		log.Fatalf("node #%d out of range [0, %d)", i, len(f.nodes))
	}
	return &f.nodes[i]
}

// CreateValueNode creates a value node for v, which may be nil.
// Creating a second value node for the same value is fatal.
func (f *Factory) CreateValueNode(v value.Value) NodeIndex {
	if v != nil {
		if _, ok := f.valueNodes[v]; ok {
			log.Fatalf("duplicate value node for %s", utils.Describe(v))
		}
	}
	idx := f.push(node{kind: ValueNode, value: v})
	if v != nil {
		f.valueNodes[v] = idx
	}
	return idx
}

// CreateObjectNode creates the first object node of the object of v.
// If v already has an object node, that node is returned and nothing is
// created.
func (f *Factory) CreateObjectNode(v value.Value, union, heap bool) NodeIndex {
	if v != nil {
		if idx, ok := f.objNodes[v]; ok {
			return idx
		}
	}
	idx := f.push(node{kind: ObjectNode, value: v, union: union, heap: heap})
	if v != nil {
		f.objNodes[v] = idx
	}
	return idx
}

// CreateObjectNodeAt creates the object node for field offset of the object
// starting at base. The new node must land at base+offset.
func (f *Factory) CreateObjectNodeAt(base NodeIndex, offset uint32, union, heap bool) NodeIndex {
	if offset == 0 {
		log.Fatalf("object node at offset 0 of #%d", base)
	}
	if next := NodeIndex(len(f.nodes)); next != base+NodeIndex(offset) {
		log.Fatalf("object node for field %d of #%d would be #%d", offset, base, next)
	}
	return f.push(node{kind: ObjectNode, offset: offset, union: union, heap: heap})
}

// CreateInstructionNode creates the value node of inst. Instructions that
// produce no value, such as stores, get a node without a value.
func (f *Factory) CreateInstructionNode(inst ir.Instruction) NodeIndex {
	if _, ok := f.insts[inst]; ok {
		log.Fatalf("duplicate node for instruction %s", utils.Describe(inst))
	}
	var idx NodeIndex
	if v, ok := inst.(value.Value); ok {
		idx = f.CreateValueNode(v)
	} else {
		idx = f.push(node{kind: ValueNode})
	}
	f.insts[inst] = idx
	return idx
}

// CreateTerminatorNode is CreateInstructionNode for block terminators.
func (f *Factory) CreateTerminatorNode(term ir.Terminator) NodeIndex {
	if _, ok := f.terms[term]; ok {
		log.Fatalf("duplicate node for terminator %s", utils.Describe(term))
	}
	var idx NodeIndex
	if v, ok := term.(value.Value); ok {
		idx = f.CreateValueNode(v)
	} else {
		idx = f.push(node{kind: ValueNode})
	}
	f.terms[term] = idx
	return idx
}

// InstructionNodeFor returns the node of inst, or InvalidIndex.
func (f *Factory) InstructionNodeFor(inst ir.Instruction) NodeIndex {
	if idx, ok := f.insts[inst]; ok {
		return idx
	}
	return InvalidIndex
}

// TerminatorNodeFor returns the node of term, or InvalidIndex.
func (f *Factory) TerminatorNodeFor(term ir.Terminator) NodeIndex {
	if idx, ok := f.terms[term]; ok {
		return idx
	}
	return InvalidIndex
}

// CreateReturnNode creates the node holding the return value of fn.
func (f *Factory) CreateReturnNode(fn *ir.Func) NodeIndex {
	if _, ok := f.returns[fn]; ok {
		log.Fatalf("duplicate return node for %s", fn.Ident())
	}
	idx := f.push(node{kind: ValueNode, value: fn})
	f.returns[fn] = idx
	return idx
}

// CreateVarargNode creates the object standing for every pointer passed
// through the variadic arguments of fn.
func (f *Factory) CreateVarargNode(fn *ir.Func) NodeIndex {
	if _, ok := f.varargs[fn]; ok {
		log.Fatalf("duplicate vararg node for %s", fn.Ident())
	}
	idx := f.push(node{kind: ObjectNode, value: fn})
	f.varargs[fn] = idx
	return idx
}

// ReturnNodeFor returns the return node of fn, or InvalidIndex.
func (f *Factory) ReturnNodeFor(fn *ir.Func) NodeIndex {
	if idx, ok := f.returns[fn]; ok {
		return idx
	}
	return InvalidIndex
}

// VarargNodeFor returns the vararg node of fn, or InvalidIndex.
func (f *Factory) VarargNodeFor(fn *ir.Func) NodeIndex {
	if idx, ok := f.varargs[fn]; ok {
		return idx
	}
	return InvalidIndex
}

// MergeNode merges b into a: afterwards both resolve to the
// representative of a.
func (f *Factory) MergeNode(a, b NodeIndex) {
	ra, rb := f.MergeTarget(a), f.MergeTarget(b)
	if ra != rb {
		f.parent[rb] = ra
	}
}

// MergeTarget returns the representative of n. Every node on the path is
// repointed at the representative.
func (f *Factory) MergeTarget(n NodeIndex) NodeIndex {
	f.at(n)
	root := n
	for f.parent[root] != root {
		root = f.parent[root]
	}
	for n != root {
		next := f.parent[n]
		f.parent[n] = root
		n = next
	}
	return root
}

// IsObjectNode reports whether i is an object node.
func (f *Factory) IsObjectNode(i NodeIndex) bool { return f.at(i).kind == ObjectNode }

// IsUnionObject reports whether i is a field of a union.
func (f *Factory) IsUnionObject(i NodeIndex) bool { return f.at(i).union }

// IsHeapNode reports whether i belongs to a heap allocation.
func (f *Factory) IsHeapNode(i NodeIndex) bool { return f.at(i).heap }

func (f *Factory) NodeKind(i NodeIndex) Kind { return f.at(i).kind }

// NumNodes returns the size of the node table.
func (f *Factory) NumNodes() int { return len(f.nodes) }

func (f *Factory) UniversalPtrNode() NodeIndex { return UniversalPtr }
func (f *Factory) UniversalObjNode() NodeIndex { return UniversalObj }
func (f *Factory) NullPtrNode() NodeIndex      { return NullPtr }
func (f *Factory) NullObjectNode() NodeIndex   { return NullObj }
func (f *Factory) ConstantIntNode() NodeIndex  { return ConstantInt }

// IsReserved reports whether i is one of the nodes every Factory starts
// with.
func (f *Factory) IsReserved(i NodeIndex) bool { return i < numReserved }

// IsTainted reports whether SetNodeAsTainted was called on i.
func (f *Factory) IsTainted(i NodeIndex) bool { return f.tainted[i] }

func (f *Factory) objectNode(i NodeIndex) *node {
	n := f.at(i)
	if n.kind != ObjectNode {
		log.Fatalf("#%d is not an object node: %s", i, f.NodeString(i))
	}
	return n
}

// OffsetObjectNode returns the node of field offset of the object holding
// base. Fields of a union object all alias base.
func (f *Factory) OffsetObjectNode(base NodeIndex, offset uint32) NodeIndex {
	n := f.objectNode(base)
	if n.union {
		return base
	}
	target := base + NodeIndex(offset)
	if int(target) >= len(f.nodes) || f.nodes[target].kind != ObjectNode {
		log.Fatalf("field %d of #%d is not an object node (%s)", offset, base, f.NodeString(base))
	}
	if n.offset+offset != f.nodes[target].offset {
		log.Fatalf("field %d of #%d has offset %d, want %d", offset, base, f.nodes[target].offset, n.offset+offset)
	}
	return target
}

// ObjectSize returns the number of fields of the object holding i. Fields
// are counted by scanning forward from i.
func (f *Factory) ObjectSize(i NodeIndex) uint32 {
	offset := f.objectNode(i).offset
	for int(i)+1 < len(f.nodes) {
		next := &f.nodes[i+1]
		if next.kind != ObjectNode || next.offset != offset+1 {
			break
		}
		i++
		offset++
	}
	return offset + 1
}

// ObjectOffset returns the field number of object node i.
func (f *Factory) ObjectOffset(i NodeIndex) uint32 {
	return f.objectNode(i).offset
}

// ObjectBound returns the index one past the last field of the object
// holding i.
func (f *Factory) ObjectBound(i NodeIndex) NodeIndex {
	return i - NodeIndex(f.ObjectOffset(i)) + NodeIndex(f.ObjectSize(i))
}

// ValueForNode returns the program value node i stands for. Field nodes
// report the value of their object. Reserved nodes have no value.
func (f *Factory) ValueForNode(i NodeIndex) value.Value {
	n := f.at(i)
	if n.value != nil {
		return n.value
	}
	return f.nodes[i-NodeIndex(n.offset)].value
}

// RemoveNodeForValue forgets the value node of v. The node stays in the
// table.
func (f *Factory) RemoveNodeForValue(v value.Value) {
	delete(f.valueNodes, v)
}

// RemoveNodeForObject forgets the object node of v.
func (f *Factory) RemoveNodeForObject(v value.Value) {
	delete(f.objNodes, v)
}

// UpdateNodeForObject makes idx the object node of v.
func (f *Factory) UpdateNodeForObject(v value.Value, idx NodeIndex) {
	f.objectNode(idx)
	f.objNodes[v] = idx
}

// SetNodeAsTainted marks object node i as holding untrusted data.
func (f *Factory) SetNodeAsTainted(i NodeIndex) {
	f.objectNode(i)
	f.tainted[i] = true
}

// TaintedNodes returns the tainted object nodes in increasing order.
func (f *Factory) TaintedNodes() []NodeIndex {
	out := make([]NodeIndex, 0, len(f.tainted))
	for i := range f.tainted {
		out = append(out, i)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GEPExprBase returns the object node addressed by the constant
// getelementptr value node i: its base plus its field number. It returns
// InvalidIndex for other nodes.
func (f *Factory) GEPExprBase(i NodeIndex) NodeIndex {
	key, ok := f.gepNodes[i]
	if !ok {
		return InvalidIndex
	}
	return key.base + NodeIndex(key.field)
}

// RangeGEPMap calls fn for every memoized constant getelementptr, in
// increasing order of its value node, until fn returns false.
func (f *Factory) RangeGEPMap(fn func(base NodeIndex, field uint32, gep NodeIndex) bool) {
	geps := make([]NodeIndex, 0, len(f.gepMap))
	for _, gep := range f.gepMap {
		geps = append(geps, gep)
	}
	sort.Slice(geps, func(i, j int) bool { return geps[i] < geps[j] })
	for _, gep := range geps {
		key := f.gepNodes[gep]
		if !fn(key.base, key.field, gep) {
			return
		}
	}
}

// ClearGEPMap drops the memoized constant getelementptrs. Later lookups
// create new nodes; GEPExprBase still answers for the old ones.
func (f *Factory) ClearGEPMap() {
	f.gepMap = map[gepKey]NodeIndex{}
}

// Counts returns the number of value and object nodes, reserved nodes
// included.
func (f *Factory) Counts() (values, objects int) {
	for i := range f.nodes {
		if f.nodes[i].kind == ObjectNode {
			objects++
		} else {
			values++
		}
	}
	return values, objects
}

// NodeString describes node i for diagnostics.
func (f *Factory) NodeString(i NodeIndex) string {
	if int(i) >= len(f.nodes) {
		return fmt.Sprintf("#%d <invalid>", i)
	}
	n := &f.nodes[i]
	prefix := fmt.Sprintf("%s #%d", n.kind, i)
	switch {
	case n.value == nil && n.offset == 0:
		return prefix + " <nil>"
	case n.value == nil:
		base := f.nodes[i-NodeIndex(n.offset)].value
		return fmt.Sprintf("%s field [%d] of %s", prefix, n.offset, utils.Describe(base))
	}
	if fn, ok := n.value.(*ir.Func); ok {
		return prefix + " f> " + fn.Name()
	}
	return prefix + " v> " + utils.Describe(n.value)
}
