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

// Package datalayout computes sizes, alignments and member offsets of LLVM
// types under a module's target data layout.
package datalayout

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/llir/llvm/ir/types"
)

// alignSpec is one "<kind><bits>:<abi>:<pref>" entry. All values are in bits.
type alignSpec struct {
	bits uint64
	abi  uint64
	pref uint64
}

type pointerSpec struct {
	bits uint64
	abi  uint64
	pref uint64
}

// Layout is a parsed data layout string.
// The zero value is not usable; use Parse or Default.
type Layout struct {
	Rep string

	BigEndian  bool
	StackAlign uint64
	LegalInts  []uint64

	pointers  map[uint64]pointerSpec
	ints      []alignSpec
	floats    []alignSpec
	vectors   []alignSpec
	aggregate alignSpec

	structs map[*types.StructType]*StructLayout
}

// Default returns the LLVM default layout, used for modules that carry no
// "target datalayout" line.
func Default() *Layout {
	l := &Layout{
		pointers: map[uint64]pointerSpec{0: {bits: 64, abi: 64, pref: 64}},
		ints: []alignSpec{
			{1, 8, 8}, {8, 8, 8}, {16, 16, 16}, {32, 32, 32}, {64, 32, 64},
		},
		floats: []alignSpec{
			{16, 16, 16}, {32, 32, 32}, {64, 64, 64}, {128, 128, 128},
		},
		vectors: []alignSpec{
			{64, 64, 64}, {128, 128, 128},
		},
		aggregate: alignSpec{0, 0, 64},
		structs:   map[*types.StructType]*StructLayout{},
	}
	return l
}

// Parse parses an LLVM data layout string on top of the LLVM defaults.
// Unknown specifications are ignored.
func Parse(rep string) (*Layout, error) {
	l := Default()
	l.Rep = rep
	if rep == "" {
		return l, nil
	}
	for _, tok := range strings.Split(rep, "-") {
		if tok == "" {
			continue
		}
		if err := l.parseSpec(tok); err != nil {
			return nil, fmt.Errorf("datalayout %q: %v", rep, err)
		}
	}
	return l, nil
}

func (l *Layout) parseSpec(tok string) error {
	switch tok[0] {
	case 'e':
		l.BigEndian = false
	case 'E':
		l.BigEndian = true
	case 'S':
		v, err := parseBits(tok[1:])
		if err != nil {
			return err
		}
		l.StackAlign = v
	case 'p':
		// p[n]:<size>:<abi>[:<pref>[:<idx>]]
		parts := strings.Split(tok[1:], ":")
		var as uint64
		if parts[0] != "" {
			v, err := parseBits(parts[0])
			if err != nil {
				return err
			}
			as = v
		}
		nums, err := parseNums(parts[1:])
		if err != nil {
			return err
		}
		if len(nums) < 2 {
			return fmt.Errorf("pointer spec %q needs size and alignment", tok)
		}
		ps := pointerSpec{bits: nums[0], abi: nums[1], pref: nums[1]}
		if len(nums) > 2 {
			ps.pref = nums[2]
		}
		l.pointers[as] = ps
	case 'i', 'f', 'v':
		parts := strings.Split(tok[1:], ":")
		nums, err := parseNums(parts)
		if err != nil {
			return err
		}
		if len(nums) < 2 {
			return fmt.Errorf("alignment spec %q needs size and alignment", tok)
		}
		as := alignSpec{bits: nums[0], abi: nums[1], pref: nums[1]}
		if len(nums) > 2 {
			as.pref = nums[2]
		}
		switch tok[0] {
		case 'i':
			l.ints = setAlign(l.ints, as)
		case 'f':
			l.floats = setAlign(l.floats, as)
		case 'v':
			l.vectors = setAlign(l.vectors, as)
		}
	case 'a':
		parts := strings.Split(tok[1:], ":")
		if parts[0] == "" {
			parts = parts[1:]
		}
		nums, err := parseNums(parts)
		if err != nil {
			return err
		}
		if len(nums) < 1 {
			return fmt.Errorf("aggregate spec %q needs alignment", tok)
		}
		l.aggregate = alignSpec{abi: nums[0], pref: nums[0]}
		if len(nums) > 1 {
			l.aggregate.pref = nums[1]
		}
	case 'n':
		if strings.HasPrefix(tok, "ni:") {
			return nil
		}
		nums, err := parseNums(strings.Split(tok[1:], ":"))
		if err != nil {
			return err
		}
		l.LegalInts = nums
	}
	// m: mangling, A/P/G: address spaces, F: function pointer alignment.
	return nil
}

func parseBits(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}

func parseNums(parts []string) ([]uint64, error) {
	var nums []uint64
	for _, p := range parts {
		v, err := parseBits(p)
		if err != nil {
			return nil, err
		}
		nums = append(nums, v)
	}
	return nums, nil
}

func setAlign(specs []alignSpec, as alignSpec) []alignSpec {
	for i := range specs {
		if specs[i].bits == as.bits {
			specs[i] = as
			return specs
		}
	}
	specs = append(specs, as)
	sort.Slice(specs, func(i, j int) bool { return specs[i].bits < specs[j].bits })
	return specs
}

// PointerSize returns the size in bytes of a pointer in address space as.
func (l *Layout) PointerSize(as uint64) uint64 {
	return l.pointerSpec(as).bits / 8
}

func (l *Layout) pointerSpec(as uint64) pointerSpec {
	if ps, ok := l.pointers[as]; ok {
		return ps
	}
	return l.pointers[0]
}

// IsSized reports whether t has a size. Opaque structs, functions, labels,
// metadata and void are unsized, as is any aggregate containing them.
func (l *Layout) IsSized(t types.Type) bool {
	switch t := t.(type) {
	case *types.IntType, *types.FloatType, *types.PointerType, *types.MMXType:
		return true
	case *types.ArrayType:
		return l.IsSized(t.ElemType)
	case *types.VectorType:
		return l.IsSized(t.ElemType)
	case *types.StructType:
		if t.Opaque {
			return false
		}
		for _, f := range t.Fields {
			if !l.IsSized(f) {
				return false
			}
		}
		return true
	}
	return false
}

// TypeSizeInBits returns the number of bits needed to hold a value of type t.
// Unsized types have size zero.
func (l *Layout) TypeSizeInBits(t types.Type) uint64 {
	switch t := t.(type) {
	case *types.IntType:
		return t.BitSize
	case *types.FloatType:
		return floatBits(t)
	case *types.PointerType:
		return l.pointerSpec(uint64(t.AddrSpace)).bits
	case *types.MMXType:
		return 64
	case *types.ArrayType:
		return t.Len * l.TypeAllocSize(t.ElemType) * 8
	case *types.VectorType:
		return t.Len * l.TypeSizeInBits(t.ElemType)
	case *types.StructType:
		if !l.IsSized(t) {
			return 0
		}
		return l.StructLayout(t).Size * 8
	}
	return 0
}

func floatBits(t *types.FloatType) uint64 {
	switch t.Kind {
	case types.FloatKindHalf:
		return 16
	case types.FloatKindFloat:
		return 32
	case types.FloatKindDouble:
		return 64
	case types.FloatKindX86_FP80:
		return 80
	case types.FloatKindFP128, types.FloatKindPPC_FP128:
		return 128
	}
	return 0
}

// TypeStoreSize returns the maximum number of bytes written by a store of t.
func (l *Layout) TypeStoreSize(t types.Type) uint64 {
	return (l.TypeSizeInBits(t) + 7) / 8
}

// TypeAllocSize returns the offset in bytes between successive objects of
// type t, including alignment padding.
func (l *Layout) TypeAllocSize(t types.Type) uint64 {
	return alignTo(l.TypeStoreSize(t), l.ABIAlignment(t))
}

// ABIAlignment returns the minimum ABI-required alignment of t in bytes.
func (l *Layout) ABIAlignment(t types.Type) uint64 {
	switch t := t.(type) {
	case *types.IntType:
		return lookupAlign(l.ints, t.BitSize, true)
	case *types.FloatType:
		return lookupAlign(l.floats, floatBits(t), false)
	case *types.PointerType:
		return l.pointerSpec(uint64(t.AddrSpace)).abi / 8
	case *types.MMXType:
		return lookupAlign(l.vectors, 64, false)
	case *types.ArrayType:
		return l.ABIAlignment(t.ElemType)
	case *types.VectorType:
		bits := l.TypeSizeInBits(t)
		for _, s := range l.vectors {
			if s.bits == bits {
				return bytesOf(s.abi)
			}
		}
		return nextPowerOf2(l.TypeStoreSize(t))
	case *types.StructType:
		if t.Packed {
			return 1
		}
		a := bytesOf(l.aggregate.abi)
		if !l.IsSized(t) {
			return a
		}
		if sa := l.StructLayout(t).Alignment; sa > a {
			a = sa
		}
		return a
	}
	return 1
}

// lookupAlign finds the alignment for a scalar of the given width. Integers
// without an exact entry use the next larger entry, or the largest one.
func lookupAlign(specs []alignSpec, bits uint64, roundUp bool) uint64 {
	for _, s := range specs {
		if s.bits == bits {
			return bytesOf(s.abi)
		}
	}
	if roundUp && len(specs) > 0 {
		for _, s := range specs {
			if s.bits > bits {
				return bytesOf(s.abi)
			}
		}
		return bytesOf(specs[len(specs)-1].abi)
	}
	return nextPowerOf2((bits + 7) / 8)
}

func bytesOf(bits uint64) uint64 {
	if bits < 8 {
		return 1
	}
	return bits / 8
}

func alignTo(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) / align * align
}

func nextPowerOf2(v uint64) uint64 {
	p := uint64(1)
	for p < v {
		p <<= 1
	}
	return p
}

// IndexedOffsetInType returns the byte offset addressed by a getelementptr
// with the given constant indices over source element type t.
// The first index steps over whole objects of type t.
func (l *Layout) IndexedOffsetInType(t types.Type, indices []int64) (int64, error) {
	if len(indices) == 0 {
		return 0, nil
	}
	result := indices[0] * int64(l.TypeAllocSize(t))
	cur := t
	for _, idx := range indices[1:] {
		switch ct := cur.(type) {
		case *types.StructType:
			if idx < 0 || idx >= int64(len(ct.Fields)) {
				return result, fmt.Errorf("struct index %d out of range for %v", idx, ct)
			}
			result += int64(l.StructLayout(ct).MemberOffsets[idx])
			cur = ct.Fields[idx]
		case *types.ArrayType:
			result += idx * int64(l.TypeAllocSize(ct.ElemType))
			cur = ct.ElemType
		case *types.VectorType:
			result += idx * int64(l.TypeAllocSize(ct.ElemType))
			cur = ct.ElemType
		default:
			return result, fmt.Errorf("cannot index into %v", cur)
		}
	}
	return result, nil
}
