package dwarfdt

import (
	"github.com/dpor-mc/mc/pkg/dwarf/op"
)

// LocationKind discriminates a resolved Location.
type LocationKind int

const (
	LocationInMemory LocationKind = iota
	LocationInRegister
)

// Location is the resolved storage of a variable or frame-base at a
// particular PC: either a memory address or an unwinder register id.
type Location struct {
	Kind     LocationKind
	Addr     uint64
	Register int
}

// TranslateRegister maps a DWARF register number to the unwinder's own
// numbering. Implemented per
// architecture by pkg/remote's Options.Translate (reached through
// RemoteProcess.TranslateRegister); passed in here to keep dwarfdt decoupled
// from any particular unwinder.
type TranslateRegister func(dwarfRegNum uint64) int

// ResolveExpr evaluates a single DwarfExpression into a Location,
// shortcutting straight to InRegister for the single-op `DW_OP_regN`
// case without running the VM.
func ResolveExpr(expr []op.Instr, ctx op.Context, translate TranslateRegister) (Location, error) {
	if reg, ok := op.IsSingleRegisterOp(expr); ok {
		return Location{Kind: LocationInRegister, Register: translate(reg)}, nil
	}
	addr, err := op.Execute(ctx, expr)
	if err != nil {
		return Location{}, err
	}
	return Location{Kind: LocationInMemory, Addr: addr}, nil
}

// ResolveLocationList picks the LocationList entry active at ip and
// resolves it.
func ResolveLocationList(l *LocationList, ip uint64, ctx op.Context, translate TranslateRegister) (Location, error) {
	expr, err := l.SelectEntry(ip)
	if err != nil {
		return Location{}, err
	}
	return ResolveExpr(expr, ctx, translate)
}

// ResolveVariableLocation resolves a Variable's storage at ip: a fixed
// address for globals, or its location list for locals.
func ResolveVariableLocation(v *Variable, ip uint64, ctx op.Context, translate TranslateRegister) (Location, error) {
	if v.HasAddr {
		return Location{Kind: LocationInMemory, Addr: v.Addr}, nil
	}
	return ResolveLocationList(v.Locs, ip, ctx, translate)
}

// InScope reports whether a local variable with a StartScope offset is
// valid at the given PC relative to its enclosing frame's entry.
func (v *Variable) InScope(framePC, currentPC uint64) bool {
	if !v.HasStartScope {
		return true
	}
	return currentPC >= framePC+uint64(v.StartScope)
}
