//go:build amd64

package remote

import (
	"golang.org/x/sys/unix"

	"github.com/dpor-mc/mc/pkg/dwarfdt"
	"github.com/dpor-mc/mc/pkg/unwind"
)

// DWARF register numbers for x86-64, per the System V ABI's DWARF
// register number mapping.
const (
	DwarfRAX = 0
	DwarfRDX = 1
	DwarfRCX = 2
	DwarfRBX = 3
	DwarfRSI = 4
	DwarfRDI = 5
	DwarfRBP = 6
	DwarfRSP = 7
	DwarfR8  = 8
	DwarfR9  = 9
	DwarfR10 = 10
	DwarfR11 = 11
	DwarfR12 = 12
	DwarfR13 = 13
	DwarfR14 = 14
	DwarfR15 = 15
	DwarfRIP = 16
)

func fillArchRegisters(regs *unwind.Registers, raw *unix.PtraceRegs) {
	regs.Set(DwarfRAX, raw.Rax)
	regs.Set(DwarfRDX, raw.Rdx)
	regs.Set(DwarfRCX, raw.Rcx)
	regs.Set(DwarfRBX, raw.Rbx)
	regs.Set(DwarfRSI, raw.Rsi)
	regs.Set(DwarfRDI, raw.Rdi)
	regs.Set(DwarfRBP, raw.Rbp)
	regs.Set(DwarfRSP, raw.Rsp)
	regs.Set(DwarfR8, raw.R8)
	regs.Set(DwarfR9, raw.R9)
	regs.Set(DwarfR10, raw.R10)
	regs.Set(DwarfR11, raw.R11)
	regs.Set(DwarfR12, raw.R12)
	regs.Set(DwarfR13, raw.R13)
	regs.Set(DwarfR14, raw.R14)
	regs.Set(DwarfR15, raw.R15)
	regs.Set(DwarfRIP, raw.Rip)
}

func setArchRegister(raw *unix.PtraceRegs, dwarfRegNum uint64, v uint64) {
	switch dwarfRegNum {
	case DwarfRAX:
		raw.Rax = v
	case DwarfRDX:
		raw.Rdx = v
	case DwarfRCX:
		raw.Rcx = v
	case DwarfRBX:
		raw.Rbx = v
	case DwarfRSI:
		raw.Rsi = v
	case DwarfRDI:
		raw.Rdi = v
	case DwarfRBP:
		raw.Rbp = v
	case DwarfRSP:
		raw.Rsp = v
	case DwarfR8:
		raw.R8 = v
	case DwarfR9:
		raw.R9 = v
	case DwarfR10:
		raw.R10 = v
	case DwarfR11:
		raw.R11 = v
	case DwarfR12:
		raw.R12 = v
	case DwarfR13:
		raw.R13 = v
	case DwarfR14:
		raw.R14 = v
	case DwarfR15:
		raw.R15 = v
	case DwarfRIP:
		raw.Rip = v
	}
}

// AMD64Options returns a fully wired Options for an x86-64 target: 8
// byte pointers, rip/rsp/rbp driving the unwinder, no link register,
// and an identity register translation since the unwinder already
// speaks in DWARF register numbers on this architecture.
func AMD64Options(loader dwarfdt.Loader) Options {
	return Options{
		Loader:     loader,
		PtrSize:    8,
		PCReg:      DwarfRIP,
		SPReg:      DwarfRSP,
		BPReg:      DwarfRBP,
		RetAddrReg: DwarfRIP,
		UsesLR:     false,
		Translate:  func(dwarfRegNum uint64) int { return int(dwarfRegNum) },
	}
}
