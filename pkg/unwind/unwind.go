// Package unwind implements the remote-aware stack unwinder bridge:
// it walks frames starting from a saved register context,
// using only the AddressSpace capability for memory and a small
// RegisterContext for registers, so the exact same walk works against a
// live RemoteProcess or a restored Snapshot. Grounded closely on
// delve's pkg/proc/stack.go stackIterator (Next/advanceRegs/
// executeFrameRegRule), generalized away from delve's Go-runtime
// specifics (goroutines, defers) since this checker unwinds a single
// simulated actor's stack down to the scheduler boundary rather than a
// Go program's goroutine stack.
package unwind

import (
	"errors"
	"fmt"

	"github.com/dpor-mc/mc/pkg/addrspace"
	"github.com/dpor-mc/mc/pkg/dwarf/frame"
	"github.com/dpor-mc/mc/pkg/dwarf/op"
	"github.com/dpor-mc/mc/pkg/dwarfdt"
)

// Registers is the mutable set of DWARF-numbered register values for
// one frame, implementing op.RegisterContext so DwarfVM expressions
// (DW_OP_bregN, DW_OP_call_frame_cfa, DW_OP_fbreg) can be evaluated
// directly against it.
type Registers struct {
	values map[uint64]uint64
	valid  map[uint64]bool

	CFA       int64
	FrameBase int64

	PCRegNum, SPRegNum, BPRegNum, LRRegNum uint64
	UsesLR                                 bool

	// ChangeFunc, if set, writes a register back to the live thread.
	// RemoteProcess sets it on the registers it reads; the unwinder
	// itself never calls it.
	ChangeFunc func(dwarfRegNum uint64, v uint64) error
}

// NewRegisters returns an empty register set.
func NewRegisters(pcReg, spReg, bpReg, lrReg uint64, usesLR bool) *Registers {
	return &Registers{
		values:    make(map[uint64]uint64),
		valid:     make(map[uint64]bool),
		PCRegNum:  pcReg,
		SPRegNum:  spReg,
		BPRegNum:  bpReg,
		LRRegNum:  lrReg,
		UsesLR:    usesLR,
	}
}

// Set assigns a register's value.
func (r *Registers) Set(dwarfRegNum, v uint64) {
	r.values[dwarfRegNum] = v
	r.valid[dwarfRegNum] = true
}

// Reg implements op.RegisterContext.
func (r *Registers) Reg(dwarfRegNum uint64) (uint64, bool) {
	v, ok := r.valid[dwarfRegNum]
	return r.values[dwarfRegNum], v
}

// CallerSP implements op.RegisterContext's DW_OP_call_frame_cfa support
// by returning the already-computed CFA for this frame (by definition
// the caller's SP at the point of the call).
func (r *Registers) CallerSP() (uint64, bool) {
	if r.CFA == 0 {
		return 0, false
	}
	return uint64(r.CFA), true
}

func (r *Registers) PC() uint64 { v, _ := r.Reg(r.PCRegNum); return v }
func (r *Registers) SP() uint64 { v, _ := r.Reg(r.SPRegNum); return v }

// Clone deep-copies the register set so the iterator can mutate the
// copy for the next frame while the caller still holds the current one.
func (r *Registers) Clone() *Registers {
	c := &Registers{
		values: make(map[uint64]uint64, len(r.values)),
		valid:  make(map[uint64]bool, len(r.valid)),
		CFA:       r.CFA,
		FrameBase: r.FrameBase,
		PCRegNum:  r.PCRegNum,
		SPRegNum:  r.SPRegNum,
		BPRegNum:  r.BPRegNum,
		LRRegNum:  r.LRRegNum,
		UsesLR:    r.UsesLR,
	}
	for k, v := range r.values {
		c.values[k] = v
	}
	for k, v := range r.valid {
		c.valid[k] = v
	}
	return c
}

// Info is what the unwinder needs from debug information: find the
// Frame (function) covering a PC, the CFI table for the owning module,
// that module's base address, and the DWARF->unwinder register
// translation for the target architecture.
type Info interface {
	FindFrame(pc uint64) *dwarfdt.Frame
	FrameEntries(pc uint64) *frame.Table
	ModuleBase(pc uint64) uint64
	TranslateRegister(dwarfRegNum uint64) int
	PtrSize() int
}

// SentinelFrameName marks the boundary with the simulation's cooperative
// scheduler; unwinding stops once a frame with this name is reached.
const SentinelFrameName = "smx_ctx_wrapper"

// StackFrame is one unwound frame.
type StackFrame struct {
	IP, SP, FrameBase uint64
	Frame             *dwarfdt.Frame
	Name              string
	Locals            []ResolvedLocal
}

// ResolvedLocal is a local variable materialized for one stack frame:
// its declaration plus the Location its value lives at in this frame.
type ResolvedLocal struct {
	Variable *dwarfdt.Variable
	Loc      dwarfdt.Location
}

// ErrNoRegisterContext is returned when a frame's return-address rule
// cannot be evaluated because the required register is undefined.
var ErrNoRegisterContext = errors.New("unwind: undefined register during unwind")

// StackUnwinder walks frames starting from a saved register context.
type StackUnwinder struct {
	info Info
	mem  addrspace.AddressSpace
	regs *Registers
	err  error
}

// New returns a StackUnwinder ready to walk starting at the given
// (already-populated) register context.
func New(info Info, mem addrspace.AddressSpace, regs *Registers) *StackUnwinder {
	return &StackUnwinder{info: info, mem: mem, regs: regs}
}

// Err returns the error, if any, that stopped unwinding early.
func (u *StackUnwinder) Err() error { return u.err }

// Walk unwinds up to maxDepth frames (0 = unlimited), stopping at the
// scheduler sentinel frame, a frame for which no Frame can be found
// (we've unwound out of user code), or an unwind error.
func (u *StackUnwinder) Walk(maxDepth int) ([]StackFrame, error) {
	var out []StackFrame
	for i := 0; maxDepth == 0 || i < maxDepth; i++ {
		pc := u.regs.PC()
		fn := u.info.FindFrame(pc)
		if fn == nil {
			break
		}

		frameBase := u.resolveFrameBase(fn, pc)
		u.regs.FrameBase = frameBase

		sf := StackFrame{
			IP:        pc,
			SP:        u.regs.SP(),
			FrameBase: uint64(frameBase),
			Frame:     fn,
			Name:      fn.Name,
		}
		sf.Locals = u.resolveLocals(fn, pc)
		out = append(out, sf)

		if fn.Name == SentinelFrameName {
			break
		}

		next, err := u.advance(pc)
		if err != nil {
			u.err = err
			break
		}
		if next == nil {
			break
		}
		u.regs = next
	}
	return out, u.err
}

func (u *StackUnwinder) resolveFrameBase(fn *dwarfdt.Frame, pc uint64) int64 {
	if len(fn.FrameBase) == 0 {
		return 0
	}
	v, err := op.Execute(op.Context{
		Regs:          u.regs,
		Mem:           u.mem,
		PtrSize:       u.info.PtrSize(),
		HasModuleBase: true,
		ModuleBase:    u.info.ModuleBase(pc),
	}, fn.FrameBase)
	if err != nil {
		return 0
	}
	return int64(v)
}

func (u *StackUnwinder) resolveLocals(fn *dwarfdt.Frame, pc uint64) []ResolvedLocal {
	var out []ResolvedLocal
	ctx := op.Context{
		Regs:          u.regs,
		Mem:           u.mem,
		PtrSize:       u.info.PtrSize(),
		HasFrameBase:  true,
		FrameBase:     u.regs.FrameBase,
		HasModuleBase: true,
		ModuleBase:    u.info.ModuleBase(pc),
	}
	for _, v := range fn.Locals {
		if !v.InScope(fn.LowPC, pc) {
			continue
		}
		loc, err := dwarfdt.ResolveVariableLocation(v, pc, ctx, u.info.TranslateRegister)
		if err != nil {
			continue
		}
		out = append(out, ResolvedLocal{Variable: v, Loc: loc})
	}
	return out
}

// advance computes the register set for the caller's frame, mirroring
// delve's advanceRegs/executeFrameRegRule.
func (u *StackUnwinder) advance(pc uint64) (*Registers, error) {
	table := u.info.FrameEntries(pc)
	if table == nil {
		return nil, fmt.Errorf("unwind: no CFI table for pc %#x", pc)
	}
	fde, err := table.FDEForPC(pc)
	if err != nil {
		return nil, err
	}
	ctx, err := fde.EstablishFrame(pc)
	if err != nil {
		return nil, err
	}

	cfaReg, err := u.executeRule(ctx.CFA, 0)
	if err != nil {
		return nil, fmt.Errorf("unwind: CFA undefined at pc %#x: %w", pc, err)
	}
	u.regs.CFA = int64(cfaReg)

	next := u.regs.Clone()
	next.CFA = u.regs.CFA
	for reg, rule := range ctx.Regs {
		v, err := u.executeRule(rule, u.regs.CFA)
		if err != nil {
			continue
		}
		next.Set(reg, v)
	}

	retReg := ctx.RetAddrReg
	ret, ok := next.Reg(retReg)
	if !ok || ret == 0 {
		if u.regs.UsesLR {
			if lr, ok := u.regs.Reg(u.regs.LRRegNum); ok {
				next.Set(next.PCRegNum, lr)
				return next, nil
			}
		}
		return nil, ErrNoRegisterContext
	}
	next.Set(next.PCRegNum, ret)
	return next, nil
}

func (u *StackUnwinder) executeRule(rule frame.DWRule, cfa int64) (uint64, error) {
	switch rule.Rule {
	case frame.RuleUndefined:
		return 0, errors.New("unwind: undefined rule")
	case frame.RuleSameVal:
		return 0, errors.New("unwind: sameval rule has no standalone value")
	case frame.RuleOffset:
		buf := make([]byte, u.info.PtrSize())
		_, err := u.mem.ReadBytes(buf, uint64(cfa+rule.Offset), addrspace.ReadOptions{})
		if err != nil {
			return 0, err
		}
		var v uint64
		for i := len(buf) - 1; i >= 0; i-- {
			v = v<<8 | uint64(buf[i])
		}
		return v, nil
	case frame.RuleValOffset:
		return uint64(cfa + rule.Offset), nil
	case frame.RuleRegister:
		v, ok := u.regs.Reg(rule.Reg)
		if !ok {
			return 0, ErrNoRegisterContext
		}
		return v, nil
	case frame.RuleExpression, frame.RuleValExpression:
		return op.Execute(op.Context{Regs: u.regs, Mem: u.mem, PtrSize: u.info.PtrSize()}, rule.Expression)
	case frame.RuleCFA:
		v, ok := u.regs.Reg(rule.Reg)
		if !ok {
			return 0, ErrNoRegisterContext
		}
		return uint64(int64(v) + rule.Offset), nil
	default:
		return 0, fmt.Errorf("unwind: unsupported rule %d", rule.Rule)
	}
}
