// Package frame evaluates Call Frame Information (CFI) rules used to
// unwind one stack frame into its caller's. Grounded directly on
// delve's pkg/dwarf/frame, which stack.go's advanceRegs/
// executeFrameRegRule drive in exactly this shape (FrameContext, DWRule,
// FDEForPC, ErrNoFDEForPC).
package frame

import (
	"fmt"

	"github.com/dpor-mc/mc/pkg/dwarf/op"
)

// Rule is the kind of recovery rule CFI assigns to one register (or to
// the CFA pseudo-register) at a given PC.
type Rule uint8

const (
	RuleUndefined Rule = iota
	RuleSameVal
	RuleOffset
	RuleValOffset
	RuleRegister
	RuleExpression
	RuleValExpression
	RuleCFA
	RuleArchitectural
	RuleFramePointer
)

// DWRule is one register's recovery recipe for a given FDE row.
type DWRule struct {
	Rule       Rule
	Offset     int64
	Reg        uint64
	Expression []op.Instr
}

// FrameContext is one row of the unwind table: how to recover the CFA
// and every other tracked register at a given PC.
type FrameContext struct {
	CFA       DWRule
	Regs      map[uint64]DWRule
	RetAddrReg uint64
}

// FDE is a Frame Description Entry: the range of PCs it covers, plus a
// sorted sequence of row transitions (DWARF call_frame advance opcodes
// decoded ahead of time by the debug-info loader, out of scope here).
type FDE struct {
	Begin, End uint64
	Rows       []Row
}

// Row pairs a PC (the row becomes active at this PC) with the
// FrameContext active from that PC until the next row's PC.
type Row struct {
	PC  uint64
	Ctx FrameContext
}

// Contains reports whether pc falls within this FDE's range.
func (f *FDE) Contains(pc uint64) bool {
	return pc >= f.Begin && pc < f.End
}

// EstablishFrame returns the FrameContext active at pc, by taking the
// last row whose PC is <= pc.
func (f *FDE) EstablishFrame(pc uint64) (*FrameContext, error) {
	if len(f.Rows) == 0 {
		return nil, fmt.Errorf("frame: FDE for %#x has no rows", pc)
	}
	best := f.Rows[0]
	for _, r := range f.Rows {
		if r.PC > pc {
			break
		}
		best = r
	}
	ctx := best.Ctx
	return &ctx, nil
}

// ErrNoFDEForPC is returned by Table.FDEForPC when pc isn't covered by
// any known FDE (e.g. PC is inside a PLT stub or hand-written asm).
type ErrNoFDEForPC struct {
	PC uint64
}

func (e *ErrNoFDEForPC) Error() string {
	return fmt.Sprintf("frame: no FDE for PC %#x", e.PC)
}

// Table is the set of FDEs parsed out of .eh_frame/.debug_frame for one
// ObjectInfo, binary-searchable by PC.
type Table struct {
	fdes []*FDE
}

// NewTable builds a Table from a set of FDEs. Callers must pass them in
// any order; NewTable sorts by start address.
func NewTable(fdes []*FDE) *Table {
	t := &Table{fdes: append([]*FDE(nil), fdes...)}
	// Simple insertion sort: tables are built once at load time and are
	// not performance critical relative to DWARF parsing itself.
	for i := 1; i < len(t.fdes); i++ {
		for j := i; j > 0 && t.fdes[j-1].Begin > t.fdes[j].Begin; j-- {
			t.fdes[j-1], t.fdes[j] = t.fdes[j], t.fdes[j-1]
		}
	}
	return t
}

// FDEForPC binary-searches for the FDE covering pc.
func (t *Table) FDEForPC(pc uint64) (*FDE, error) {
	lo, hi := 0, len(t.fdes)
	for lo < hi {
		mid := (lo + hi) / 2
		f := t.fdes[mid]
		switch {
		case pc < f.Begin:
			hi = mid
		case pc >= f.End:
			lo = mid + 1
		default:
			return f, nil
		}
	}
	return nil, &ErrNoFDEForPC{PC: pc}
}
