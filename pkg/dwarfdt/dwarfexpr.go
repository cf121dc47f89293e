package dwarfdt

import "github.com/dpor-mc/mc/pkg/dwarf/op"

// Raw DW_OP byte values this decoder recognizes, named the way the
// DWARF standard does. Only the subset op.Execute supports is decoded;
// decoding stops at the first opcode outside that subset and keeps the
// instructions decoded before it, rather than rejecting the expression
// outright, so the load itself does not fail.
const (
	dwOpAddr         = 0x03
	dwOpDeref        = 0x06
	dwOpConst1u      = 0x08
	dwOpConst1s      = 0x09
	dwOpConst2u      = 0x0a
	dwOpConst2s      = 0x0b
	dwOpConst4u      = 0x0c
	dwOpConst4s      = 0x0d
	dwOpConst8u      = 0x0e
	dwOpConst8s      = 0x0f
	dwOpConstu       = 0x10
	dwOpConsts       = 0x11
	dwOpDup          = 0x12
	dwOpDrop         = 0x13
	dwOpOver         = 0x14
	dwOpSwap         = 0x16
	dwOpPlus         = 0x22
	dwOpPlusUconst   = 0x23
	dwOpMinus        = 0x1c
	dwOpMul          = 0x1e
	dwOpNeg          = 0x1f
	dwOpNot          = 0x20
	dwOpAnd          = 0x1a
	dwOpOr           = 0x21
	dwOpXor          = 0x27
	dwOpNop          = 0x96
	dwOpCallFrameCFA = 0x9c
	dwOpFbreg        = 0x91
	dwOpLit0         = 0x30 // lit0..lit31: 0x30-0x4f
	dwOpReg0         = 0x50 // reg0..reg31: 0x50-0x6f
	dwOpBreg0        = 0x70 // breg0..breg31: 0x70-0x8f
)

// decodeExpr decodes a raw DWARF location-expression byte string into
// the op VM's Instr sequence. Unrecognized bytes abort decoding of the
// remaining expression rather than panicking; a partially-decoded
// expression simply evaluates to whatever its decoded prefix computes.
func decodeExpr(b []byte) []op.Instr {
	var out []op.Instr
	i := 0
	u := func(n int) uint64 {
		var v uint64
		for k := 0; k < n && i < len(b); k++ {
			v |= uint64(b[i]) << (8 * k)
			i++
		}
		return v
	}
	uleb := func() uint64 {
		var result uint64
		var shift uint
		for i < len(b) {
			byt := b[i]
			i++
			result |= uint64(byt&0x7f) << shift
			if byt&0x80 == 0 {
				break
			}
			shift += 7
		}
		return result
	}
	sleb := func() int64 {
		var result int64
		var shift uint
		var byt byte
		for i < len(b) {
			byt = b[i]
			i++
			result |= int64(byt&0x7f) << shift
			shift += 7
			if byt&0x80 == 0 {
				break
			}
		}
		if shift < 64 && byt&0x40 != 0 {
			result |= -1 << shift
		}
		return result
	}

	for i < len(b) {
		opcode := b[i]
		i++
		switch {
		case opcode == dwOpAddr:
			out = append(out, op.Instr{Op: op.OpAddr, Addr: u(8)})
		case opcode == dwOpDeref:
			out = append(out, op.Instr{Op: op.OpDeref})
		case opcode == dwOpConst1u:
			out = append(out, op.Instr{Op: op.OpConst1u, N: int64(u(1))})
		case opcode == dwOpConst1s:
			out = append(out, op.Instr{Op: op.OpConst1s, N: int64(int8(u(1)))})
		case opcode == dwOpConst2u:
			out = append(out, op.Instr{Op: op.OpConst2u, N: int64(u(2))})
		case opcode == dwOpConst2s:
			out = append(out, op.Instr{Op: op.OpConst2s, N: int64(int16(u(2)))})
		case opcode == dwOpConst4u:
			out = append(out, op.Instr{Op: op.OpConst4u, N: int64(u(4))})
		case opcode == dwOpConst4s:
			out = append(out, op.Instr{Op: op.OpConst4s, N: int64(int32(u(4)))})
		case opcode == dwOpConst8u:
			out = append(out, op.Instr{Op: op.OpConst8u, N: int64(u(8))})
		case opcode == dwOpConst8s:
			out = append(out, op.Instr{Op: op.OpConst8s, N: int64(u(8))})
		case opcode == dwOpConstu:
			out = append(out, op.Instr{Op: op.OpConstu, N: int64(uleb())})
		case opcode == dwOpConsts:
			out = append(out, op.Instr{Op: op.OpConsts, N: sleb()})
		case opcode == dwOpDup:
			out = append(out, op.Instr{Op: op.OpDup})
		case opcode == dwOpDrop:
			out = append(out, op.Instr{Op: op.OpDrop})
		case opcode == dwOpOver:
			out = append(out, op.Instr{Op: op.OpOver})
		case opcode == dwOpSwap:
			out = append(out, op.Instr{Op: op.OpSwap})
		case opcode == dwOpPlus:
			out = append(out, op.Instr{Op: op.OpPlus})
		case opcode == dwOpPlusUconst:
			out = append(out, op.Instr{Op: op.OpPlusUconst, N: int64(uleb())})
		case opcode == dwOpMinus:
			out = append(out, op.Instr{Op: op.OpMinus})
		case opcode == dwOpMul:
			out = append(out, op.Instr{Op: op.OpMul})
		case opcode == dwOpNeg:
			out = append(out, op.Instr{Op: op.OpNeg})
		case opcode == dwOpNot:
			out = append(out, op.Instr{Op: op.OpNot})
		case opcode == dwOpAnd:
			out = append(out, op.Instr{Op: op.OpAnd})
		case opcode == dwOpOr:
			out = append(out, op.Instr{Op: op.OpOr})
		case opcode == dwOpXor:
			out = append(out, op.Instr{Op: op.OpXor})
		case opcode == dwOpNop:
			out = append(out, op.Instr{Op: op.OpNop})
		case opcode == dwOpCallFrameCFA:
			out = append(out, op.Instr{Op: op.OpCallFrameCFA})
		case opcode == dwOpFbreg:
			out = append(out, op.Instr{Op: op.OpFbreg, Arg: sleb()})
		case opcode >= dwOpLit0 && opcode <= dwOpLit0+31:
			out = append(out, op.Instr{Op: op.OpLitN, N: int64(opcode - dwOpLit0)})
		case opcode >= dwOpReg0 && opcode <= dwOpReg0+31:
			out = append(out, op.Instr{Op: op.OpRegN, N: int64(opcode - dwOpReg0)})
		case opcode >= dwOpBreg0 && opcode <= dwOpBreg0+31:
			out = append(out, op.Instr{Op: op.OpBregN, N: int64(opcode - dwOpBreg0), Arg: sleb()})
		default:
			return out
		}
	}
	return out
}
