package ir

import (
	"testing"

	"github.com/hramberg/vjit/ir/opcode"
	"github.com/hramberg/vjit/ir/types"
)

func newTestBlock(t *testing.T, name string) *Block {
	t.Helper()
	m := NewModule("test")
	sig := types.SignatureOf(types.CDecl, types.IntType, nil)
	f, err := m.CreateFunction(name, sig)
	if err != nil {
		t.Fatalf("CreateFunction: %s", err)
	}
	return f.CreateBlock()
}

func TestCreateAddFoldsConstantOperands(t *testing.T) {
	b := newTestBlock(t, "fold_add")
	c1 := b.ConstInt(types.Int, 3)
	c2 := b.ConstInt(types.Int, 4)

	sum := b.CreateAdd(c1, c2)

	if !sum.Has(IsConstant) {
		t.Fatal("adding two constants should fold to a constant, not emit an instruction")
	}
	if sum.Const.NInt != 7 {
		t.Fatalf("3 + 4 folded = %d, want 7", sum.Const.NInt)
	}
	if len(b.Insns) != 0 {
		t.Fatalf("folding should not append any instruction, got %d", len(b.Insns))
	}
}

func TestCreateDivByZeroConstantDoesNotFold(t *testing.T) {
	b := newTestBlock(t, "fold_div0")
	c1 := b.ConstInt(types.Int, 10)
	c2 := b.ConstInt(types.Int, 0)

	result := b.CreateDiv(c1, c2)

	if result.Has(IsConstant) {
		t.Fatal("dividing by a constant zero must not fold: the division must happen at runtime so it raises the usual arithmetic error")
	}
	if len(b.Insns) != 1 || b.Insns[0].Op != opcode.Div {
		t.Fatalf("expected one Div instruction to be emitted, got %v", b.Insns)
	}
}

func TestCreateAddWithNonConstantOperandEmitsInstruction(t *testing.T) {
	b := newTestBlock(t, "no_fold")
	p := b.Func.CreateParam("a", types.IntType)
	c := b.ConstInt(types.Int, 1)

	sum := b.CreateAdd(p, c)

	if sum.Has(IsConstant) {
		t.Fatal("a non-constant operand should prevent folding")
	}
	if len(b.Insns) != 1 || b.Insns[0].Op != opcode.Add {
		t.Fatalf("expected one Add instruction, got %v", b.Insns)
	}
}

func TestCreateNegFoldsConstant(t *testing.T) {
	b := newTestBlock(t, "fold_neg")
	c := b.ConstInt(types.Int, 5)

	neg := b.CreateNeg(c)

	if !neg.Has(IsConstant) || neg.Const.NInt != -5 {
		t.Fatalf("CreateNeg of a constant should fold to -5, got const=%v flags=%v", neg.Const.NInt, neg.Flags)
	}
}

func TestUseIncrementsUsageCount(t *testing.T) {
	b := newTestBlock(t, "usage_count")
	p := b.Func.CreateParam("a", types.IntType)

	b.CreateAdd(p, p)

	if p.UsageCount != 2 {
		t.Fatalf("both operand positions should count as uses: UsageCount = %d, want 2", p.UsageCount)
	}
}
