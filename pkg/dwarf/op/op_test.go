package op

import "testing"

func lit(n int64) Instr { return Instr{Op: OpLitN, N: n} }

func evalBinary(t *testing.T, opc Opcode, a, b int64) uint64 {
	t.Helper()
	v, err := Execute(Context{}, []Instr{lit(a), lit(b), {Op: opc}})
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	return v
}

func TestPlusCommutes(t *testing.T) {
	if evalBinary(t, OpPlus, 3, 5) != evalBinary(t, OpPlus, 5, 3) {
		t.Fatal("plus must commute")
	}
}

func TestAndOrXorCommuteAndAssociate(t *testing.T) {
	for _, opc := range []Opcode{OpAnd, OpOr, OpXor} {
		if evalBinary(t, opc, 0x6, 0x3) != evalBinary(t, opc, 0x3, 0x6) {
			t.Fatalf("opcode %d must commute", opc)
		}
		// (a op b) op c == a op (b op c)
		left, err := Execute(Context{}, []Instr{lit(0xA), lit(0x5), {Op: opc}, lit(0xF), {Op: opc}})
		if err != nil {
			t.Fatal(err)
		}
		right, err := Execute(Context{}, []Instr{lit(0xA), lit(0x5), lit(0xF), {Op: opc}, {Op: opc}})
		if err != nil {
			t.Fatal(err)
		}
		if left != right {
			t.Fatalf("opcode %d must associate: %#x != %#x", opc, left, right)
		}
	}
}

func TestNotNotIsIdentity(t *testing.T) {
	v, err := Execute(Context{}, []Instr{lit(12345), {Op: OpNot}, {Op: OpNot}})
	if err != nil {
		t.Fatal(err)
	}
	if v != 12345 {
		t.Fatalf("not . not must be identity, got %#x", v)
	}
}

func TestDupDropIsNoop(t *testing.T) {
	v, err := Execute(Context{}, []Instr{lit(7), lit(9), {Op: OpDup}, {Op: OpDrop}})
	if err != nil {
		t.Fatal(err)
	}
	if v != 9 {
		t.Fatalf("dup followed by drop must be a no-op, got %d", v)
	}
}

func TestSwapSwapIsIdentity(t *testing.T) {
	v, err := Execute(Context{}, []Instr{lit(1), lit(2), {Op: OpSwap}, {Op: OpSwap}, {Op: OpPlus}})
	if err != nil {
		t.Fatal(err)
	}
	if v != 3 {
		t.Fatalf("swap . swap must be identity, got %d", v)
	}
}

func TestStackUnderflow(t *testing.T) {
	_, err := Execute(Context{}, []Instr{{Op: OpPlus}})
	if err != ErrStackUnderflow {
		t.Fatalf("expected ErrStackUnderflow, got %v", err)
	}
}

func TestMissingContext(t *testing.T) {
	_, err := Execute(Context{}, []Instr{{Op: OpBregN, N: 0}})
	if err != ErrMissingContext {
		t.Fatalf("expected ErrMissingContext, got %v", err)
	}
}

func TestMissingFrameBase(t *testing.T) {
	_, err := Execute(Context{}, []Instr{{Op: OpFbreg, Arg: 8}})
	if err != ErrMissingFrameBase {
		t.Fatalf("expected ErrMissingFrameBase, got %v", err)
	}
}

func TestIsSingleRegisterOp(t *testing.T) {
	reg, ok := IsSingleRegisterOp([]Instr{{Op: OpRegN, N: 3}})
	if !ok || reg != 3 {
		t.Fatalf("expected (3, true), got (%d, %v)", reg, ok)
	}
	if _, ok := IsSingleRegisterOp([]Instr{lit(1), {Op: OpRegN, N: 3}}); ok {
		t.Fatal("multi-instruction program must not be treated as single-reg")
	}
}
