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

// Package pointto populates the node factory of an analysis context: it
// creates the nodes of every global, function, instruction and memory
// object of the program.
package pointto

import (
	"math"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	log "github.com/sirupsen/logrus"

	"github.com/google/go-kanalyzer/internal/pkg/config"
	"github.com/google/go-kanalyzer/internal/pkg/global"
	"github.com/google/go-kanalyzer/internal/pkg/module"
	"github.com/google/go-kanalyzer/internal/pkg/nodes"
	"github.com/google/go-kanalyzer/internal/pkg/structinfo"
	"github.com/google/go-kanalyzer/internal/pkg/utils"
)

type populator struct {
	conf    *config.Config
	factory *nodes.Factory
	structs *structinfo.Analyzer
	module  *module.Module
}

// Populate creates the nodes of every module of c. Modules populated by an
// earlier call are skipped.
func Populate(c *global.Context) {
	for _, m := range c.Modules {
		if c.MarkPopulated(m) {
			log.Debugf("%s already populated", m.Name)
			continue
		}
		p := &populator{
			conf:    c.Config,
			factory: c.Nodes,
			structs: c.Structs,
			module:  m,
		}
		before := c.Nodes.NumNodes()
		p.run()
		log.Debugf("populated %s: %d nodes", m.Name, c.Nodes.NumNodes()-before)
	}
}

func (p *populator) run() {
	p.factory.SetModule(p.module)
	p.createGlobalNodes()

	for _, f := range p.module.Funcs {
		if utils.IsDeclaration(f) || utils.IsIntrinsic(f) {
			continue
		}
		// The bodies of allocators are not modeled; their callers get a
		// heap object instead.
		if p.conf.IsAllocFn(f.Name()) {
			continue
		}
		p.createFuncNodes(f)
	}
}

func (p *populator) createGlobalNodes() {
	for _, g := range p.module.Globals {
		if utils.IsDeclaration(g) {
			continue
		}
		val := p.factory.CreateValueNode(g)
		p.createPointeeNodes(g, g.Type(), val)
	}

	taken := utils.AddressTakenFuncs(p.module.Module)
	for _, f := range p.module.Funcs {
		if utils.IsDeclaration(f) || utils.IsIntrinsic(f) {
			continue
		}
		if _, void := f.Sig.RetType.(*types.VoidType); !void {
			p.factory.CreateReturnNode(f)
		}
		if f.Sig.Variadic {
			p.factory.CreateVarargNode(f)
		}
		for _, param := range f.Params {
			p.factory.CreateValueNode(param)
		}
		if taken[f] {
			p.factory.CreateValueNode(f)
		}
	}
}

// createFuncNodes creates a value node for every instruction and terminator
// of f, then the memory objects of its allocas and allocator calls.
func (p *populator) createFuncNodes(f *ir.Func) {
	// casts maps a value to the pointer type of its first cast.
	casts := map[value.Value]*types.PointerType{}
	for _, b := range f.Blocks {
		for _, inst := range b.Insts {
			p.factory.CreateInstructionNode(inst)
			recordCast(inst, casts)
		}
		if b.Term != nil {
			p.factory.CreateTerminatorNode(b.Term)
		}
	}

	for _, b := range f.Blocks {
		for _, inst := range b.Insts {
			switch inst := inst.(type) {
			case *ir.InstAlloca:
				val := p.factory.ValueNodeFor(inst)
				if val == nodes.InvalidIndex {
					log.Fatalf("no value node for alloca %s in %s", utils.Describe(inst), f.Ident())
				}
				p.createPointeeNodes(inst, inst.Type(), val)
			case *ir.InstCall:
				callee := utils.CalledFunction(inst)
				if callee == nil {
					continue
				}
				if alloc, ok := p.conf.AllocFn(callee.Name()); ok {
					p.createHeapNodes(inst, alloc, casts)
				}
			}
		}
	}
}

func recordCast(inst ir.Instruction, casts map[value.Value]*types.PointerType) {
	var from value.Value
	var to types.Type
	switch c := inst.(type) {
	case *ir.InstBitCast:
		from, to = c.From, c.To
	case *ir.InstAddrSpaceCast:
		from, to = c.From, c.To
	default:
		return
	}
	pt, ok := to.(*types.PointerType)
	if !ok {
		return
	}
	if _, seen := casts[from]; !seen {
		casts[from] = pt
	}
}

// createPointeeNodes creates the object pointed to by v, of pointer type t.
// Arrays are a single element of their type.
func (p *populator) createPointeeNodes(v value.Value, t types.Type, val nodes.NodeIndex) {
	pt, ok := t.(*types.PointerType)
	if !ok {
		return
	}
	if val == nodes.InvalidIndex {
		log.Fatalf("creating the object of %s without a value node", utils.Describe(v))
	}

	elem, _ := utils.StripArrays(utils.Dereference(pt))
	st, ok := elem.(*types.StructType)
	if !ok {
		p.factory.CreateObjectNode(v, false, false)
		return
	}
	if p.structs.IsUnion(st) {
		p.factory.CreateObjectNode(v, true, false)
		return
	}
	p.createStructNodes(v, st)
}

// createStructNodes creates one object node per expanded field of st and
// returns the first. The object of an empty struct is the null object.
func (p *populator) createStructNodes(v value.Value, st *types.StructType) nodes.NodeIndex {
	si := p.structs.ComputeLayout(st, p.module)
	if si == nil {
		log.Warnf("%s points to opaque %s; modeled as a single field", utils.Describe(v), st.Name())
		return p.factory.CreateObjectNode(v, false, false)
	}
	if si.IsEmpty() {
		p.factory.UpdateNodeForObject(v, nodes.NullObj)
		return nodes.NullObj
	}

	if obj := p.factory.ObjectNodeFor(v); obj != nodes.InvalidIndex {
		return obj
	}
	obj := p.factory.CreateObjectNode(v, si.IsFieldUnion(0), false)
	for i := 1; i < si.ExpandedSize(); i++ {
		p.factory.CreateObjectNodeAt(obj, uint32(i), si.IsFieldUnion(i), false)
	}
	return obj
}

// createHeapNodes creates the heap object allocated by call. The object
// type is the pointee of the call, or of the first cast of its result when
// the allocator returns a byte buffer. A literal size larger than that type
// widens the object to one field per byte.
func (p *populator) createHeapNodes(call *ir.InstCall, alloc config.AllocFn, casts map[value.Value]*types.PointerType) {
	pt, ok := call.Type().(*types.PointerType)
	if !ok {
		log.Warnf("allocator %s does not return a pointer", alloc.Name)
		return
	}
	elem := utils.Dereference(pt)
	if utils.IsI8(elem) {
		if cast, ok := casts[call]; ok {
			elem = utils.Dereference(cast)
		}
	}

	elem, allocSize := utils.StripArrays(elem)
	if allocSize == 0 {
		allocSize = 1
	}
	var (
		si      *structinfo.StructInfo
		union   bool
		maxSize uint64
	)
	if st, ok := elem.(*types.StructType); ok {
		si = p.structs.ComputeLayout(st, p.module)
		if si != nil {
			union = p.structs.IsUnion(st)
			maxSize = uint64(si.ExpandedSize())
			allocSize *= si.AllocSize()
		}
	}

	if size, ok := literalSize(call, alloc); ok && size > allocSize {
		if size >= math.MaxUint32 {
			log.Fatalf("allocation of %d bytes at %s", size, utils.Describe(call))
		}
		maxSize = size
	}
	if maxSize == 0 {
		maxSize = uint64(p.structs.MaxStructSize())
	}
	if maxSize == 0 {
		maxSize = 1
	}

	if p.factory.ObjectNodeFor(call) != nodes.InvalidIndex {
		return
	}
	obj := p.factory.CreateObjectNode(call, union, true)
	for i := uint64(1); i < maxSize; i++ {
		fieldUnion := si != nil && i < uint64(si.ExpandedSize()) && si.IsFieldUnion(int(i))
		p.factory.CreateObjectNodeAt(obj, uint32(i), fieldUnion, true)
	}
}

// literalSize returns the byte size requested by an allocator call when it
// is a literal. For allocators taking an element count, the count is
// applied when it is a literal too.
func literalSize(call *ir.InstCall, alloc config.AllocFn) (uint64, bool) {
	size, ok := literalArg(call, alloc.SizeArg)
	if !ok {
		return 0, false
	}
	if n, ok := literalArg(call, alloc.CountArg); ok {
		size *= n
	}
	return size, true
}

func literalArg(call *ir.InstCall, i int) (uint64, bool) {
	if i < 0 || i >= len(call.Args) {
		return 0, false
	}
	v, ok := utils.ConstInt(call.Args[i])
	return uint64(v), ok
}
