// Package dwarfdt is the checker's debug-information data model: Types,
// Frames, Variables, Members, and LocationLists, plus the post-passes
// that link them together after the (out-of-scope) DWARF/ELF byte-format
// loader has produced the raw per-DIE records. Grounded on
// delve's pkg/dwarf + pkg/proc BinaryInfo, which keep the exact same
// "index by DIE offset, resolve cross-references in a second pass"
// shape that stack.go relies on (fn.cu.image.getDwarfTree, cu.lineInfo).
package dwarfdt

import (
	"fmt"
	"sort"

	"github.com/derekparker/trie"
	"github.com/dpor-mc/mc/pkg/dwarf/op"
)

// TypeTag discriminates the DWARF tag a Type was built from.
type TypeTag int

const (
	TypeBase TypeTag = iota
	TypePointer
	TypeReference
	TypeArray
	TypeStruct
	TypeClass
	TypeUnion
	TypeTypedef
	TypeConst
	TypeVolatile
	TypeSubroutine
)

// DIEOffset identifies a DWARF debugging-information-entry within one
// ObjectInfo's compilation units; it is the key used by every
// cross-reference field below before the post-pass resolves it to a
// live pointer.
type DIEOffset uint64

// Member is one field of a struct/class/union Type.
type Member struct {
	Name   string
	Size   int64
	TypeID DIEOffset
	Type   *Type // resolved by the types-completeness post-pass

	// Loc is the member's location expression. The common case
	// DW_OP_plus_uconst k is recognized at load time and stored
	// directly in FixedOffset; Loc is kept for the general case.
	Loc          []op.Instr
	FixedOffset  int64
	HasFixedOffset bool
}

// ResolveOffset returns the member's byte offset within its enclosing
// object, using the fast path when available and falling back to
// evaluating Loc against the object's base address.
func (m *Member) ResolveOffset(objectBase uint64) (int64, error) {
	if m.HasFixedOffset {
		return m.FixedOffset, nil
	}
	if len(m.Loc) == 0 {
		return 0, fmt.Errorf("dwarfdt: member %q has no location", m.Name)
	}
	v, err := op.Execute(op.Context{
		HasModuleBase: true,
		ModuleBase:    objectBase,
	}, m.Loc)
	if err != nil {
		return 0, fmt.Errorf("dwarfdt: evaluating member %q offset: %w", m.Name, err)
	}
	return int64(v) - int64(objectBase), nil
}

// Type is a discriminated variant over DWARF type tags.
type Type struct {
	Tag      TypeTag
	Name     string
	ByteSize int64

	// Array element count; -1 for an array whose bound is unknown, 0 for
	// non-array types.
	ElemCount int64

	Members []Member

	// SubtypeID/Subtype: the pointee/element/underlying type for
	// pointer, array, typedef, const, volatile.
	SubtypeID DIEOffset
	Subtype   *Type

	// FullTypeID/FullType: cross-unit back-reference used by the
	// completeness post-pass when a type is nameless in this unit but
	// named in another.
	FullTypeID DIEOffset
	FullType   *Type
	hasFullID  bool
}

// Canonical walks through typedef/const/volatile wrappers to the first
// non-wrapper subtype.
func (t *Type) Canonical() *Type {
	cur := t
	for cur != nil {
		switch cur.Tag {
		case TypeTypedef, TypeConst, TypeVolatile:
			if cur.Subtype == nil {
				return cur
			}
			cur = cur.Subtype
		default:
			return cur
		}
	}
	return t
}

// Variable is a name bound either to a fixed address (global) or a
// location list (local).
type Variable struct {
	Name       string
	TypeID     DIEOffset
	Type       *Type
	HasAddr    bool
	Addr       uint64
	Locs       *LocationList
	StartScope int64 // 0 if unrestricted
	HasStartScope bool
}

// LocationListEntry is one (PC range, expression) pair.
type LocationListEntry struct {
	LowPC, HighPC uint64
	Always        bool // entry is valid at every PC; LowPC/HighPC are ignored
	Expr          []op.Instr
}

// LocationList is an ordered sequence of LocationListEntry.
type LocationList struct {
	Entries []LocationListEntry
}

// ErrUnresolvableLocation is returned when no entry's range contains ip.
var ErrUnresolvableLocation = fmt.Errorf("dwarfdt: no location list entry covers the current PC")

// SelectEntry picks the first entry whose range contains ip, or the
// always-valid sentinel.
func (l *LocationList) SelectEntry(ip uint64) ([]op.Instr, error) {
	for _, e := range l.Entries {
		if e.Always || (ip >= e.LowPC && ip < e.HighPC) {
			return e.Expr, nil
		}
	}
	return nil, ErrUnresolvableLocation
}

// FrameTag discriminates a Frame between an actual function and a
// nested lexical scope.
type FrameTag int

const (
	FrameFunction FrameTag = iota
	FrameLexicalBlock
	FrameInlinedSubroutine
)

// Frame is a function or nested lexical scope.
type Frame struct {
	Tag     FrameTag
	Name    string // namespaced, e.g. "pkg.Type.Method"
	LowPC   uint64
	HighPC  uint64 // exclusive
	Offset  DIEOffset

	FrameBase []op.Instr // frame-base location-list program, single-range

	Locals       []*Variable // sorted by name after the post-pass
	NestedScopes []*Frame

	// AbstractOriginID/AbstractOrigin: for FrameInlinedSubroutine, the
	// out-of-line definition this inlined copy was cloned from.
	AbstractOriginID DIEOffset
	AbstractOrigin   *Frame
	hasAbstractOrigin bool
}

// Contains reports whether ip falls within [LowPC, HighPC).
func (f *Frame) Contains(ip uint64) bool {
	return ip >= f.LowPC && ip < f.HighPC
}

// FindLocal binary-searches f.Locals by name; Locals must already be
// sorted (the variable/frame post-pass guarantees this).
func (f *Frame) FindLocal(name string) *Variable {
	i := sort.Search(len(f.Locals), func(i int) bool { return f.Locals[i].Name >= name })
	if i < len(f.Locals) && f.Locals[i].Name == name {
		return f.Locals[i]
	}
	return nil
}

// ObjectInfo is the per-ELF-module debug info.
type ObjectInfo struct {
	Name       string
	Executable bool // true for the main binary; offsets are absolute. False for shared objects (offsets relative to BaseAddr).
	BaseAddr   uint64

	TextStart, TextEnd uint64
	ROStart, ROEnd     uint64
	RWStart, RWEnd     uint64

	framesByOffset map[DIEOffset]*Frame
	typesByOffset  map[DIEOffset]*Type

	// Globals is sorted by name for binary search.
	Globals []*Variable

	// funcIndex is Globals-style but for top-level Frames (functions),
	// sorted by LowPC, used by FindFunction's binary search.
	funcIndex []*Frame

	typeNameIndex *trie.Trie // set of type names; the offsets live in typeNameToOffset
	typeNameToOffset map[string][]DIEOffset
}

// NewObjectInfo returns an empty ObjectInfo ready for the loader to
// populate via AddFrame/AddType/AddGlobal, followed by Finalize.
func NewObjectInfo(name string, executable bool, baseAddr uint64) *ObjectInfo {
	return &ObjectInfo{
		Name:             name,
		Executable:       executable,
		BaseAddr:         baseAddr,
		framesByOffset:   make(map[DIEOffset]*Frame),
		typesByOffset:    make(map[DIEOffset]*Type),
		typeNameIndex:    trie.New(),
		typeNameToOffset: make(map[string][]DIEOffset),
	}
}

// AddFrame registers a Frame (function or lexical scope) keyed by its
// DIE offset.
func (o *ObjectInfo) AddFrame(offset DIEOffset, f *Frame) {
	f.Offset = offset
	o.framesByOffset[offset] = f
	if f.Tag == FrameFunction {
		o.funcIndex = append(o.funcIndex, f)
	}
}

// AddType registers a Type keyed by its DIE offset, and indexes it by
// name (when named) for the completeness post-pass and for external
// by-name lookups.
func (o *ObjectInfo) AddType(offset DIEOffset, t *Type) {
	o.typesByOffset[offset] = t
	if t.Name != "" {
		o.typeNameIndex.Add(t.Name, nil)
		o.typeNameToOffset[t.Name] = append(o.typeNameToOffset[t.Name], offset)
	}
}

// AddGlobal registers a global Variable. Globals must be Finalized
// (sorted) before FindGlobal is used.
func (o *ObjectInfo) AddGlobal(v *Variable) {
	o.Globals = append(o.Globals, v)
}

// FrameByOffset looks up a Frame by DIE offset, used while resolving
// TypeID/AbstractOriginID cross-references.
func (o *ObjectInfo) FrameByOffset(off DIEOffset) *Frame { return o.framesByOffset[off] }

// TypeByOffset looks up a Type by DIE offset.
func (o *ObjectInfo) TypeByOffset(off DIEOffset) *Type { return o.typesByOffset[off] }

// TypeByName returns every Type registered under name in this object,
// used by the completeness post-pass to link a nameless-but-named-
// elsewhere type to its definition.
func (o *ObjectInfo) TypeByName(name string) []*Type {
	offs := o.typeNameToOffset[name]
	out := make([]*Type, 0, len(offs))
	for _, off := range offs {
		out = append(out, o.typesByOffset[off])
	}
	return out
}

// FindGlobal binary-searches Globals by name.
func (o *ObjectInfo) FindGlobal(name string) *Variable {
	i := sort.Search(len(o.Globals), func(i int) bool { return o.Globals[i].Name >= name })
	if i < len(o.Globals) && o.Globals[i].Name == name {
		return o.Globals[i]
	}
	return nil
}

// FindFunction binary-searches funcIndex by entry address, then
// confirms ip is below the candidate's HighPC.
func (o *ObjectInfo) FindFunction(ip uint64) *Frame {
	fns := o.funcIndex
	i := sort.Search(len(fns), func(i int) bool { return fns[i].LowPC > ip }) - 1
	if i < 0 || i >= len(fns) {
		return nil
	}
	f := fns[i]
	if ip < f.HighPC {
		return f
	}
	return nil
}

// Finalize runs the cross-reference post-passes: sort Globals
// and every Frame's Locals by name, resolve Member.Type / Type.Subtype
// / Frame.AbstractOrigin and variable-type cross-references within this
// ObjectInfo. Completing a nameless type from another ObjectInfo is not
// done here; LinkExternalType does that one type at a time.
func (o *ObjectInfo) Finalize() {
	sort.Slice(o.Globals, func(i, j int) bool { return o.Globals[i].Name < o.Globals[j].Name })
	sort.Slice(o.funcIndex, func(i, j int) bool { return o.funcIndex[i].LowPC < o.funcIndex[j].LowPC })

	for _, v := range o.Globals {
		v.Type = o.typesByOffset[v.TypeID]
	}

	var finalizeFrame func(f *Frame)
	finalizeFrame = func(f *Frame) {
		sort.Slice(f.Locals, func(i, j int) bool { return f.Locals[i].Name < f.Locals[j].Name })
		for _, v := range f.Locals {
			v.Type = o.typesByOffset[v.TypeID]
		}
		if f.Tag == FrameInlinedSubroutine && f.hasAbstractOrigin {
			if origin := o.framesByOffset[f.AbstractOriginID]; origin != nil {
				f.AbstractOrigin = origin
				if f.Name == "" {
					f.Name = origin.Name
				}
			}
		}
		for _, nested := range f.NestedScopes {
			finalizeFrame(nested)
		}
	}
	for _, f := range o.framesByOffset {
		if f.Tag == FrameFunction {
			finalizeFrame(f)
		}
	}

	for _, t := range o.typesByOffset {
		if t.SubtypeID != 0 {
			t.Subtype = o.typesByOffset[t.SubtypeID]
		}
		for i := range t.Members {
			m := &t.Members[i]
			m.Type = o.typesByOffset[m.TypeID]
		}
	}
}

// LinkExternalType completes the cross-unit back-reference for a
// nameless type whose definition lives in another ObjectInfo.
func (o *ObjectInfo) LinkExternalType(offset DIEOffset, name string, other *ObjectInfo) bool {
	t := o.typesByOffset[offset]
	if t == nil {
		return false
	}
	candidates := other.TypeByName(name)
	if len(candidates) == 0 {
		return false
	}
	t.FullType = candidates[0]
	t.hasFullID = true
	return true
}
