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

// Package ptsset defines the points-to set attached to every node by a
// constraint solver.
package ptsset

import (
	"golang.org/x/tools/container/intsets"

	"github.com/google/go-kanalyzer/internal/pkg/nodes"
)

// PtsSet is a set of node indices backed by a sparse bit vector.
// The zero value is an empty set. A PtsSet must not be copied after first
// use; use Copy instead.
type PtsSet struct {
	bits intsets.Sparse
}

// New returns a set holding the given nodes.
func New(idx ...nodes.NodeIndex) *PtsSet {
	s := new(PtsSet)
	for _, i := range idx {
		s.Insert(i)
	}
	return s
}

// Has reports whether idx is in s.
func (s *PtsSet) Has(idx nodes.NodeIndex) bool {
	return s.bits.Has(int(idx))
}

// Insert adds idx to s and reports whether s changed.
func (s *PtsSet) Insert(idx nodes.NodeIndex) bool {
	return s.bits.Insert(int(idx))
}

// Remove removes idx from s and reports whether s changed.
func (s *PtsSet) Remove(idx nodes.NodeIndex) bool {
	return s.bits.Remove(int(idx))
}

// UnionWith adds every element of other to s and reports whether s changed.
func (s *PtsSet) UnionWith(other *PtsSet) bool {
	return s.bits.UnionWith(&other.bits)
}

// Contains reports whether s is a superset of other.
func (s *PtsSet) Contains(other *PtsSet) bool {
	return other.bits.SubsetOf(&s.bits)
}

// Intersects reports whether s and other share an element.
func (s *PtsSet) Intersects(other *PtsSet) bool {
	return s.bits.Intersects(&other.bits)
}

// Size returns the number of elements. It is linear in the size of the
// set; use IsEmpty for emptiness tests.
func (s *PtsSet) Size() int {
	return s.bits.Len()
}

// IsEmpty reports whether s has no elements.
func (s *PtsSet) IsEmpty() bool {
	return s.bits.IsEmpty()
}

// Equals reports whether s and other hold the same elements.
func (s *PtsSet) Equals(other *PtsSet) bool {
	return s.bits.Equals(&other.bits)
}

// Clear removes every element.
func (s *PtsSet) Clear() {
	s.bits.Clear()
}

// Copy returns an independent copy of s.
func (s *PtsSet) Copy() *PtsSet {
	c := new(PtsSet)
	c.bits.Copy(&s.bits)
	return c
}

// Elements returns the elements of s in increasing order.
func (s *PtsSet) Elements() []nodes.NodeIndex {
	ints := s.bits.AppendTo(make([]int, 0, s.bits.Len()))
	out := make([]nodes.NodeIndex, len(ints))
	for i, n := range ints {
		out[i] = nodes.NodeIndex(n)
	}
	return out
}

func (s *PtsSet) String() string {
	return s.bits.String()
}
