//go:build arm64

package remote

import (
	"golang.org/x/sys/unix"

	"github.com/dpor-mc/mc/pkg/dwarfdt"
	"github.com/dpor-mc/mc/pkg/unwind"
)

// DWARF register numbers for AArch64: X0-X30 map directly to DWARF
// registers 0-30, with X29 conventionally the frame pointer and X30 the
// link register.
const (
	DwarfX29 = 29 // frame pointer
	DwarfX30 = 30 // link register
	DwarfSP  = 31
	DwarfPC  = 32 // not a real DWARF number; used internally to key Registers
)

func fillArchRegisters(regs *unwind.Registers, raw *unix.PtraceRegs) {
	for i := 0; i < 31; i++ {
		regs.Set(uint64(i), raw.Regs[i])
	}
	regs.Set(DwarfSP, raw.Sp)
	regs.Set(DwarfPC, raw.Pc)
}

func setArchRegister(raw *unix.PtraceRegs, dwarfRegNum uint64, v uint64) {
	switch {
	case dwarfRegNum < 31:
		raw.Regs[dwarfRegNum] = v
	case dwarfRegNum == DwarfSP:
		raw.Sp = v
	case dwarfRegNum == DwarfPC:
		raw.Pc = v
	}
}

// ARM64Options returns a fully wired Options for an AArch64 target: 8
// byte pointers, X29/SP/PC driving the unwinder, and the link register
// (X30) used as the fallback return address source when CFI-derived
// unwinding comes up empty (leaf functions that never push X30).
func ARM64Options(loader dwarfdt.Loader) Options {
	return Options{
		Loader:     loader,
		PtrSize:    8,
		PCReg:      DwarfPC,
		SPReg:      DwarfSP,
		BPReg:      DwarfX29,
		LRReg:      DwarfX30,
		RetAddrReg: DwarfX30,
		UsesLR:     true,
		Translate:  func(dwarfRegNum uint64) int { return int(dwarfRegNum) },
	}
}
