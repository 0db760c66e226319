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

// Package nodes implements the node space of the memory model: one value
// node per program value that may hold a pointer, and one object node per
// expanded field of every memory object.
//
// Nodes are identified by their index. Indices are stable for the lifetime
// of a Factory; the node table only grows. The object nodes of one memory
// object are allocated contiguously, so field i of the object whose first
// node is k is node k+i.
package nodes

import (
	"math"

	"github.com/llir/llvm/ir/value"
)

// NodeIndex identifies a node.
type NodeIndex uint32

// InvalidIndex is returned by lookups that find no node.
const InvalidIndex NodeIndex = math.MaxUint32

// Reserved nodes, present in every Factory.
const (
	// UniversalPtr is the pointer about which nothing is known.
	UniversalPtr NodeIndex = iota
	// UniversalObj is the object about which nothing is known.
	UniversalObj
	// NullPtr is the null pointer.
	NullPtr
	// NullObj is the object the null pointer points to.
	NullObj
	// ConstantInt is the object of integers cast to pointers.
	ConstantInt

	numReserved
)

// Kind distinguishes value nodes from object nodes.
type Kind uint8

const (
	ValueNode Kind = iota
	ObjectNode
)

func (k Kind) String() string {
	if k == ObjectNode {
		return "O"
	}
	return "V"
}

type node struct {
	kind Kind
	// value is the program value the node stands for. Nodes for the fields
	// of an object other than the first have no value; they recover it from
	// the node offset positions earlier.
	value  value.Value
	offset uint32
	union  bool
	heap   bool
}

type gepKey struct {
	base  NodeIndex
	field uint32
}
