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

package datalayout

import (
	"sort"

	"github.com/llir/llvm/ir/types"
)

// StructLayout holds the byte offsets of the members of a sized struct.
type StructLayout struct {
	Size          uint64
	Alignment     uint64
	MemberOffsets []uint64
}

// StructLayout returns the layout of st. Results are memoized per type.
// st must be sized.
func (l *Layout) StructLayout(st *types.StructType) *StructLayout {
	if sl, ok := l.structs[st]; ok {
		return sl
	}
	sl := &StructLayout{Alignment: 1, MemberOffsets: make([]uint64, len(st.Fields))}
	for i, f := range st.Fields {
		align := uint64(1)
		if !st.Packed {
			align = l.ABIAlignment(f)
		}
		sl.Size = alignTo(sl.Size, align)
		if align > sl.Alignment {
			sl.Alignment = align
		}
		sl.MemberOffsets[i] = sl.Size
		sl.Size += l.TypeAllocSize(f)
	}
	sl.Size = alignTo(sl.Size, sl.Alignment)
	l.structs[st] = sl
	return sl
}

// ElementOffset returns the byte offset of member i.
func (sl *StructLayout) ElementOffset(i int) uint64 {
	return sl.MemberOffsets[i]
}

// ElementContainingOffset returns the index of the member that contains the
// byte at offset. When zero-sized members share an offset the last one wins.
func (sl *StructLayout) ElementContainingOffset(offset uint64) int {
	i := sort.Search(len(sl.MemberOffsets), func(i int) bool {
		return sl.MemberOffsets[i] > offset
	})
	if i == 0 {
		return 0
	}
	return i - 1
}
