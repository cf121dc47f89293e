package dwarfdt

import (
	"testing"

	"github.com/dpor-mc/mc/pkg/dwarf/op"
)

func TestMemberResolveOffsetFixed(t *testing.T) {
	m := Member{Name: "x", FixedOffset: 16, HasFixedOffset: true}
	off, err := m.ResolveOffset(0x1000)
	if err != nil {
		t.Fatal(err)
	}
	if off != 16 {
		t.Fatalf("expected 16, got %d", off)
	}
}

func TestMemberResolveOffsetExpression(t *testing.T) {
	// Evaluated relative to the object's base address, expect offset 24.
	m := Member{Name: "y", Loc: []op.Instr{{Op: op.OpLitN, N: 0x1000}, {Op: op.OpPlusUconst, N: 24}}}
	off, err := m.ResolveOffset(0x1000)
	if err != nil {
		t.Fatal(err)
	}
	if off != 24 {
		t.Fatalf("expected 24, got %d", off)
	}
}

func TestTypeCanonical(t *testing.T) {
	base := &Type{Tag: TypeBase, Name: "int", ByteSize: 8}
	cv := &Type{Tag: TypeConst, Subtype: base}
	td := &Type{Tag: TypeTypedef, Subtype: cv}
	if td.Canonical() != base {
		t.Fatalf("expected canonical to reach base type")
	}
}

func TestResolveExprSingleRegShortcut(t *testing.T) {
	loc, err := ResolveExpr([]op.Instr{{Op: op.OpRegN, N: 5}}, op.Context{}, func(n uint64) int { return int(n) + 100 })
	if err != nil {
		t.Fatal(err)
	}
	if loc.Kind != LocationInRegister || loc.Register != 105 {
		t.Fatalf("expected register 105, got %+v", loc)
	}
}

func TestResolveLocationListPicksRange(t *testing.T) {
	list := &LocationList{Entries: []LocationListEntry{
		{LowPC: 0, HighPC: 10, Expr: []op.Instr{{Op: op.OpLitN, N: 111}}},
		{LowPC: 10, HighPC: 20, Expr: []op.Instr{{Op: op.OpLitN, N: 222}}},
	}}
	loc, err := ResolveLocationList(list, 15, op.Context{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if loc.Addr != 222 {
		t.Fatalf("expected 222, got %d", loc.Addr)
	}

	if _, err := ResolveLocationList(list, 99, op.Context{}, nil); err != ErrUnresolvableLocation {
		t.Fatalf("expected ErrUnresolvableLocation, got %v", err)
	}
}

func TestFindFunctionAndFindLocal(t *testing.T) {
	oi := NewObjectInfo("test", true, 0)
	f1 := &Frame{Tag: FrameFunction, Name: "a", LowPC: 100, HighPC: 200,
		Locals: []*Variable{{Name: "zeta"}, {Name: "alpha"}}}
	f2 := &Frame{Tag: FrameFunction, Name: "b", LowPC: 200, HighPC: 300}
	oi.AddFrame(1, f1)
	oi.AddFrame(2, f2)
	oi.Finalize()

	if got := oi.FindFunction(150); got != f1 {
		t.Fatalf("expected f1, got %+v", got)
	}
	if got := oi.FindFunction(250); got != f2 {
		t.Fatalf("expected f2, got %+v", got)
	}
	if got := oi.FindFunction(5000); got != nil {
		t.Fatalf("expected nil for out-of-range ip, got %+v", got)
	}

	if v := f1.FindLocal("alpha"); v == nil || v.Name != "alpha" {
		t.Fatalf("expected to find alpha after sort, got %+v", v)
	}
}
