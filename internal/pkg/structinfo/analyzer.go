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
	"regexp"
	"sort"

	"github.com/llir/llvm/ir/types"
	log "github.com/sirupsen/logrus"

	"github.com/google/go-kanalyzer/internal/pkg/config"
	"github.com/google/go-kanalyzer/internal/pkg/module"
	"github.com/google/go-kanalyzer/internal/pkg/utils"
)

// renameSuffix matches the ".NNN" suffix the IR linker appends when two
// modules define a struct with the same name.
var renameSuffix = regexp.MustCompile(`\.[0-9]+$`)

// Analyzer computes and caches the StructInfo of every struct type in the
// program. Named types are identified across modules by their scope name.
type Analyzer struct {
	conf *config.Config

	infos map[*types.StructType]*StructInfo
	// names maps scope names to the first definition seen.
	names map[string]*types.StructType

	maxStruct     *types.StructType
	maxStructSize int
}

// NewAnalyzer returns an Analyzer using the naming conventions of conf.
func NewAnalyzer(conf *config.Config) *Analyzer {
	return &Analyzer{
		conf:  conf,
		infos: map[*types.StructType]*StructInfo{},
		names: map[string]*types.StructType{},
	}
}

func isLiteral(st *types.StructType) bool {
	return st.TypeName == ""
}

// ScopeName returns the program-wide identity of a named struct type.
// Anonymous types are qualified by the stem of their module; other names
// lose the linker's rename suffix. Literal types have no scope name.
func (a *Analyzer) ScopeName(st *types.StructType, m *module.Module) string {
	if isLiteral(st) {
		return ""
	}
	name := st.Name()
	if a.conf.IsAnonType(name) {
		return "_" + m.Stem() + "." + name
	}
	return renameSuffix.ReplaceAllString(name, "")
}

// IsUnion reports whether st is a union type.
func (a *Analyzer) IsUnion(st *types.StructType) bool {
	return !isLiteral(st) && a.conf.IsUnionType(st.Name())
}

// Resolve returns the canonical definition of st: the first non-opaque
// struct registered under its scope name, or st itself.
func (a *Analyzer) Resolve(st *types.StructType, m *module.Module) *types.StructType {
	if isLiteral(st) {
		return st
	}
	if canon, ok := a.names[a.ScopeName(st, m)]; ok {
		return canon
	}
	return st
}

// register makes st the canonical definition of its scope name unless one
// already exists, and returns the canonical type.
func (a *Analyzer) register(st *types.StructType, m *module.Module) *types.StructType {
	if isLiteral(st) {
		return st
	}
	name := a.ScopeName(st, m)
	if canon, ok := a.names[name]; ok {
		return canon
	}
	if st.Opaque {
		return st
	}
	a.names[name] = st
	return st
}

// Run computes the layout of every struct type defined in m. Types whose
// scope name was already seen in another module are not recomputed.
func (a *Analyzer) Run(m *module.Module) {
	for _, def := range m.TypeDefs {
		st, ok := def.(*types.StructType)
		if !ok || st.Opaque {
			continue
		}
		name := a.ScopeName(st, m)
		if _, ok := a.names[name]; ok {
			continue
		}
		a.names[name] = st
		a.addStructInfo(st, m)
	}
}

// ComputeLayout returns the StructInfo of st, computing it on first use.
// It returns nil for an opaque type with no definition in any module seen
// so far.
func (a *Analyzer) ComputeLayout(st *types.StructType, m *module.Module) *StructInfo {
	canon := a.register(st, m)
	if canon.Opaque {
		return nil
	}
	if si, ok := a.infos[canon]; ok && si.finalized {
		return si
	}
	return a.addStructInfo(canon, m)
}

// StructInfo returns the already computed StructInfo of st, or nil.
func (a *Analyzer) StructInfo(st *types.StructType, m *module.Module) *StructInfo {
	if si, ok := a.infos[st]; ok {
		return si
	}
	if si, ok := a.infos[a.Resolve(st, m)]; ok {
		return si
	}
	return nil
}

func (a *Analyzer) addStructInfo(st *types.StructType, m *module.Module) *StructInfo {
	if si, ok := a.infos[st]; ok && si.finalized {
		return si
	}
	si := newStructInfo(st, m)
	a.infos[st] = si

	if a.IsUnion(st) {
		return a.addUnionInfo(si, m)
	}

	sl := m.Layout.StructLayout(st)
	si.addElementType(0, st)
	numField := 0
	for i, ft := range st.Fields {
		offset := sl.MemberOffsets[i]
		_, isArray := ft.(*types.ArrayType)
		// An array field is treated as a single element of its type.
		sub, _ := utils.StripArrays(ft)

		si.addElementType(numField, sub)
		si.offsetMap = append(si.offsetMap, numField)

		if nested, ok := sub.(*types.StructType); ok {
			nested = a.register(nested, m)
			if nested.Opaque {
				log.Fatalf("nested opaque struct %s in %s (%s)", nested.Name(), st, m.Name)
				return nil
			}
			subInfo := a.ComputeLayout(nested, m)
			a.addContainer(st, subInfo, offset)

			if a.IsUnion(nested) {
				si.addField(1, isArray, false, true, offset, m.Layout.TypeAllocSize(ft))
				numField++
				continue
			}
			si.appendFields(subInfo, offset, isArray)
			numField += subInfo.ExpandedSize()
			continue
		}

		_, isPointer := sub.(*types.PointerType)
		si.addField(1, isArray, isPointer, false, offset, m.Layout.TypeAllocSize(ft))
		numField++
	}

	si.finalize()
	if numField > a.maxStructSize {
		a.maxStruct = st
		a.maxStructSize = numField
	}
	log.Debugf("struct %s: %d fields, %d expanded", st, si.Size(), si.ExpandedSize())
	return si
}

// addUnionInfo lays out a union as a single union field. Aggregate members
// are still analyzed so that their containers include the union.
func (a *Analyzer) addUnionInfo(si *StructInfo, m *module.Module) *StructInfo {
	st := si.typ
	si.addElementType(0, st)
	isPointer := false
	for _, ft := range st.Fields {
		sub, _ := utils.StripArrays(ft)
		si.addElementType(0, sub)
		si.offsetMap = append(si.offsetMap, 0)
		if _, ok := sub.(*types.PointerType); ok {
			isPointer = true
		}
		nested, ok := sub.(*types.StructType)
		if !ok {
			continue
		}
		nested = a.register(nested, m)
		if nested.Opaque {
			log.Fatalf("nested opaque struct %s in %s (%s)", nested.Name(), st, m.Name)
			return nil
		}
		a.addContainer(st, a.ComputeLayout(nested, m), 0)
	}
	if len(st.Fields) > 0 {
		si.addField(1, false, isPointer, true, 0, m.Layout.TypeAllocSize(st))
	}

	si.finalize()
	if n := si.ExpandedSize(); n > a.maxStructSize {
		a.maxStruct = st
		a.maxStructSize = n
	}
	log.Debugf("union %s: %d members", st, si.Size())
	return si
}

// addContainer records that container embeds containee at offset, and
// propagates the embedding to every struct nested in containee.
func (a *Analyzer) addContainer(container *types.StructType, containee *StructInfo, offset uint64) {
	containee.addContainer(container, offset)
	for _, ft := range containee.typ.Fields {
		sub, _ := utils.StripArrays(ft)
		nested, ok := sub.(*types.StructType)
		if !ok {
			continue
		}
		subInfo := a.infos[a.Resolve(nested, containee.module)]
		if subInfo == nil {
			continue
		}
		var offsets []uint64
		for off := range subInfo.containers[containee.typ] {
			offsets = append(offsets, off)
		}
		for _, off := range offsets {
			a.addContainer(container, subInfo, off+offset)
		}
	}
}

// MaxStructSize returns the largest expanded size of any struct analyzed.
func (a *Analyzer) MaxStructSize() int {
	return a.maxStructSize
}

// MaxStruct returns the struct with the largest expanded size.
func (a *Analyzer) MaxStruct() *types.StructType {
	return a.maxStruct
}

// NumStructs returns the number of distinct named struct types.
func (a *Analyzer) NumStructs() int {
	return len(a.names)
}

// Named returns the StructInfo of every canonical named struct, ordered by
// scope name.
func (a *Analyzer) Named() []*StructInfo {
	names := make([]string, 0, len(a.names))
	for name := range a.names {
		names = append(names, name)
	}
	sort.Strings(names)
	var sis []*StructInfo
	for _, name := range names {
		if si, ok := a.infos[a.names[name]]; ok {
			sis = append(sis, si)
		}
	}
	return sis
}

// ContainerNames returns the names of the named structs that embed the
// struct with the given scope name. Anonymous containers are replaced by
// their own containers. The boolean reports whether any container exists.
func (a *Analyzer) ContainerNames(scopeName string) ([]string, bool) {
	out := map[string]bool{}
	found := a.containerNames(scopeName, out)
	names := make([]string, 0, len(out))
	for name := range out {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, found
}

func (a *Analyzer) containerNames(scopeName string, out map[string]bool) bool {
	st, ok := a.names[scopeName]
	if !ok {
		return false
	}
	si := a.infos[st]
	if si == nil {
		return false
	}
	found := false
	for _, c := range si.Containers() {
		if isLiteral(c.Type) {
			continue
		}
		name := c.Type.Name()
		if a.conf.IsAnonType(name) {
			m := si.module
			if ci := a.infos[c.Type]; ci != nil {
				m = ci.module
			}
			a.containerNames(a.ScopeName(c.Type, m), out)
		} else {
			out[name] = true
		}
		found = true
	}
	return found
}

// ContainerGraph returns the embedding relation between named structs: the
// graph maps the scope name of each struct to the scope names of the
// structs embedding it.
func (a *Analyzer) ContainerGraph() map[string]map[string]bool {
	graph := map[string]map[string]bool{}
	for _, si := range a.Named() {
		name := a.ScopeName(si.typ, si.module)
		for _, c := range si.Containers() {
			if isLiteral(c.Type) {
				continue
			}
			m := si.module
			if ci := a.infos[c.Type]; ci != nil {
				m = ci.module
			}
			if graph[name] == nil {
				graph[name] = map[string]bool{}
			}
			graph[name][a.ScopeName(c.Type, m)] = true
		}
	}
	return graph
}
