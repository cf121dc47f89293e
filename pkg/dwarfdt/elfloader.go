package dwarfdt

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"

	"github.com/dpor-mc/mc/pkg/dwarf/op"
)

// ELFLoader is the concrete Loader: it reads ELF/DWARF with the standard
// library's debug/elf and debug/dwarf packages (the same pair delve's
// own binary-info loader builds on) and walks the DIE tree into this
// package's Type/Frame/Variable model.
type ELFLoader struct{}

// BuildID implements Loader by reading the .note.gnu.build-id section.
func (ELFLoader) BuildID(path string) (string, error) {
	f, err := elf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sec := f.Section(".note.gnu.build-id")
	if sec == nil {
		return "", nil
	}
	data, err := sec.Data()
	if err != nil {
		return "", err
	}
	// Note layout: namesz, descsz, type (4 bytes each), name, desc.
	if len(data) < 16 {
		return "", nil
	}
	namesz := le32(data[0:4])
	descsz := le32(data[4:8])
	off := 12 + align4(namesz)
	if off+descsz > uint32(len(data)) {
		return "", nil
	}
	return fmt.Sprintf("%x", data[off:off+descsz]), nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func align4(v uint32) uint32 { return (v + 3) &^ 3 }

// Load implements Loader.
func (ELFLoader) Load(path string, executable bool, baseAddr uint64) (*ObjectInfo, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dw, err := f.DWARF()
	if err != nil {
		return nil, &ErrNoDebugInfo{Path: path}
	}

	oi := NewObjectInfo(path, executable, baseAddr)
	if sec := f.Section(".text"); sec != nil {
		oi.TextStart, oi.TextEnd = sec.Addr, sec.Addr+sec.Size
	}
	if sec := f.Section(".rodata"); sec != nil {
		oi.ROStart, oi.ROEnd = sec.Addr, sec.Addr+sec.Size
	}
	if sec := f.Section(".data"); sec != nil {
		oi.RWStart, oi.RWEnd = sec.Addr, sec.Addr+sec.Size
	}

	l := &loadState{oi: oi, dw: dw}
	reader := dw.Reader()
	for {
		entry, err := reader.Next()
		if err != nil {
			return nil, fmt.Errorf("dwarfdt: reading DIE tree of %s: %w", path, err)
		}
		if entry == nil {
			break
		}
		if entry.Tag == dwarf.TagCompileUnit {
			if err := l.walkChildren(reader, nil); err != nil {
				return nil, err
			}
		}
	}
	oi.Finalize()
	return oi, nil
}

type loadState struct {
	oi *ObjectInfo
	dw *dwarf.Data
}

// walkChildren consumes entries until the matching null terminator,
// attaching functions and globals it finds directly to the ObjectInfo
// (parent == nil) or to parent's Locals/NestedScopes.
func (l *loadState) walkChildren(r *dwarf.Reader, parent *Frame) error {
	for {
		entry, err := r.Next()
		if err != nil {
			return fmt.Errorf("dwarfdt: %w", err)
		}
		if entry == nil || entry.Tag == 0 {
			return nil
		}

		switch entry.Tag {
		case dwarf.TagSubprogram, dwarf.TagLexDwarfBlock:
			fr := l.buildFrame(entry)
			if entry.Tag == dwarf.TagSubprogram {
				l.oi.AddFrame(DIEOffset(entry.Offset), fr)
			}
			if parent != nil {
				parent.NestedScopes = append(parent.NestedScopes, fr)
			}
			if entry.Children {
				if err := l.walkChildren(r, fr); err != nil {
					return err
				}
			}
		case dwarf.TagVariable, dwarf.TagFormalParameter:
			v := l.buildVariable(entry)
			if parent != nil {
				parent.Locals = append(parent.Locals, v)
			} else {
				l.oi.AddGlobal(v)
			}
			if entry.Children {
				if err := l.walkChildren(r, parent); err != nil {
					return err
				}
			}
		case dwarf.TagBaseType, dwarf.TagPointerType, dwarf.TagStructType,
			dwarf.TagClassType, dwarf.TagUnionType, dwarf.TagArrayType,
			dwarf.TagTypedef, dwarf.TagConstType, dwarf.TagVolatileType,
			dwarf.TagSubroutineType, dwarf.TagReferenceType:
			t := l.buildType(r, entry)
			l.oi.AddType(DIEOffset(entry.Offset), t)
		default:
			if entry.Children {
				if err := l.walkChildren(r, parent); err != nil {
					return err
				}
			}
		}
	}
}

func (l *loadState) buildFrame(entry *dwarf.Entry) *Frame {
	tag := FrameFunction
	if entry.Tag == dwarf.TagLexDwarfBlock {
		tag = FrameLexicalBlock
	}
	fr := &Frame{
		Tag:    tag,
		Name:   attrString(entry, dwarf.AttrName),
		LowPC:  attrUint(entry, dwarf.AttrLowpc),
		HighPC: attrHighPC(entry),
	}
	if fb, ok := entry.Val(dwarf.AttrFrameBase).([]byte); ok {
		fr.FrameBase = decodeExpr(fb)
	}
	if ao, ok := entry.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset); ok {
		fr.AbstractOriginID = DIEOffset(ao)
		fr.hasAbstractOrigin = true
	}
	return fr
}

func attrHighPC(entry *dwarf.Entry) uint64 {
	v := entry.Val(dwarf.AttrHighpc)
	switch x := v.(type) {
	case uint64:
		lo := attrUint(entry, dwarf.AttrLowpc)
		// DWARF4+ encodes highpc as an offset from lowpc when its class
		// is a constant rather than an address; debug/dwarf exposes both
		// as uint64, so disambiguate by magnitude.
		if x < lo {
			return lo + x
		}
		return x
	default:
		return 0
	}
}

func (l *loadState) buildVariable(entry *dwarf.Entry) *Variable {
	v := &Variable{Name: attrString(entry, dwarf.AttrName)}
	if to, ok := entry.Val(dwarf.AttrType).(dwarf.Offset); ok {
		v.TypeID = DIEOffset(to)
	}
	if raw, ok := entry.Val(dwarf.AttrLocation).([]byte); ok {
		if len(raw) > 0 && raw[0] == byte(dwOpAddr) {
			v.HasAddr = true
			v.Addr = leUintAt(raw, 1, 8)
		} else {
			v.Locs = &LocationList{Entries: []LocationListEntry{{Always: true, Expr: decodeExpr(raw)}}}
		}
	}
	if so, ok := entry.Val(dwarf.AttrStartScope).(int64); ok {
		v.HasStartScope = true
		v.StartScope = so
	}
	return v
}

func (l *loadState) buildType(r *dwarf.Reader, entry *dwarf.Entry) *Type {
	t := &Type{
		Name:     attrString(entry, dwarf.AttrName),
		ByteSize: attrInt(entry, dwarf.AttrByteSize),
	}
	switch entry.Tag {
	case dwarf.TagBaseType:
		t.Tag = TypeBase
	case dwarf.TagPointerType:
		t.Tag = TypePointer
	case dwarf.TagReferenceType:
		t.Tag = TypeReference
	case dwarf.TagArrayType:
		t.Tag = TypeArray
		t.ElemCount = -1
	case dwarf.TagStructType:
		t.Tag = TypeStruct
	case dwarf.TagClassType:
		t.Tag = TypeClass
	case dwarf.TagUnionType:
		t.Tag = TypeUnion
	case dwarf.TagTypedef:
		t.Tag = TypeTypedef
	case dwarf.TagConstType:
		t.Tag = TypeConst
	case dwarf.TagVolatileType:
		t.Tag = TypeVolatile
	case dwarf.TagSubroutineType:
		t.Tag = TypeSubroutine
	}
	if to, ok := entry.Val(dwarf.AttrType).(dwarf.Offset); ok {
		t.SubtypeID = DIEOffset(to)
	}

	if entry.Children {
		for {
			child, err := r.Next()
			if err != nil || child == nil || child.Tag == 0 {
				break
			}
			switch child.Tag {
			case dwarf.TagMember:
				m := Member{
					Name: attrString(child, dwarf.AttrName),
					Size: attrInt(child, dwarf.AttrByteSize),
				}
				if to, ok := child.Val(dwarf.AttrType).(dwarf.Offset); ok {
					m.TypeID = DIEOffset(to)
				}
				if raw, ok := child.Val(dwarf.AttrDataMemberLoc).([]byte); ok {
					expr := decodeExpr(raw)
					if v, ok := asPlusUconst(expr); ok {
						m.HasFixedOffset = true
						m.FixedOffset = v
					} else {
						m.Loc = expr
					}
				} else if off, ok := child.Val(dwarf.AttrDataMemberLoc).(int64); ok {
					m.HasFixedOffset = true
					m.FixedOffset = off
				}
				t.Members = append(t.Members, m)
			case dwarf.TagSubrangeType:
				if ub, ok := child.Val(dwarf.AttrUpperBound).(int64); ok {
					t.ElemCount = ub + 1
				} else if cnt, ok := child.Val(dwarf.AttrCount).(int64); ok {
					t.ElemCount = cnt
				}
			}
		}
	}
	return t
}

func asPlusUconst(expr []op.Instr) (int64, bool) {
	if len(expr) != 1 || expr[0].Op != op.OpPlusUconst {
		return 0, false
	}
	return expr[0].N, true
}

func attrString(entry *dwarf.Entry, a dwarf.Attr) string {
	v, _ := entry.Val(a).(string)
	return v
}

func attrUint(entry *dwarf.Entry, a dwarf.Attr) uint64 {
	switch v := entry.Val(a).(type) {
	case uint64:
		return v
	case int64:
		return uint64(v)
	default:
		return 0
	}
}

func attrInt(entry *dwarf.Entry, a dwarf.Attr) int64 {
	switch v := entry.Val(a).(type) {
	case int64:
		return v
	case uint64:
		return int64(v)
	default:
		return 0
	}
}

func leUintAt(b []byte, off, n int) uint64 {
	var v uint64
	for i := n - 1; i >= 0; i-- {
		if off+i >= len(b) {
			continue
		}
		v = v<<8 | uint64(b[off+i])
	}
	return v
}
