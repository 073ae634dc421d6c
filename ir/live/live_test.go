package live

import (
	"testing"

	"github.com/hramberg/vjit/ir"
	"github.com/hramberg/vjit/ir/opcode"
	"github.com/hramberg/vjit/ir/types"
)

func newFunc(t *testing.T, name string) (*ir.Function, *ir.Block) {
	t.Helper()
	m := ir.NewModule("test")
	sig := types.SignatureOf(types.CDecl, types.IntType, []*types.Type{types.IntType})
	f, err := m.CreateFunction(name, sig)
	if err != nil {
		t.Fatalf("CreateFunction: %s", err)
	}
	return f, f.CreateBlock()
}

func TestComputeNopsDeadDefinition(t *testing.T) {
	f, b := newFunc(t, "dead_def")
	p := f.CreateParam("a", types.IntType)
	b.CreateAdd(p, p) // Result never used: should die.
	b.CreateReturn(nil)

	Compute(f)

	if b.Insns[0].Op != opcode.Nop {
		t.Fatalf("a definition with no uses should be nop'd, got %s", b.Insns[0].Op)
	}
}

func TestComputeKeepsLiveDefinition(t *testing.T) {
	f, b := newFunc(t, "live_def")
	p := f.CreateParam("a", types.IntType)
	sum := b.CreateAdd(p, p)
	b.CreateReturn(sum)

	Compute(f)

	add := b.Insns[0]
	if add.Op != opcode.Add {
		t.Fatalf("a definition used by the return should survive, got %s", add.Op)
	}
	if add.Flags&ir.DestLive == 0 {
		t.Error("surviving definition should have DestLive set")
	}
}

func TestPropagateForwardRewritesLaterUse(t *testing.T) {
	f, b := newFunc(t, "fwd_copy")
	x := &ir.Value{Type: types.IntType, Reg: -1, FrameOffset: ir.NoFrameOffset, GlobalReg: -1, Flags: ir.IsLocal}
	tcopy := &ir.Value{Type: types.IntType, Reg: -1, FrameOffset: ir.NoFrameOffset, GlobalReg: -1, Flags: ir.IsTemporary}

	copyIn := &ir.Instruction{Op: opcode.CopyInt, Dest: tcopy, Value1: x, Block: b}
	useIn := &ir.Instruction{Op: opcode.Add, Dest: x, Value1: tcopy, Value2: tcopy, Block: b, Flags: ir.DestIsValueWrite}
	b.Insns = append(b.Insns, copyIn, useIn)

	PropagateForward(f)

	if useIn.Value1 != x || useIn.Value2 != x {
		t.Fatalf("later references to the copy's destination should be rewritten to its source, got v1=%v v2=%v", useIn.Value1, useIn.Value2)
	}
	if copyIn.Op != opcode.Nop {
		t.Errorf("once no later instruction reads the copy's destination, the liveness re-run after PropagateForward should turn the copy into a nop, got %s", copyIn.Op)
	}
}

func TestPropagateBackwardRewritesProducerWhenNoLaterUse(t *testing.T) {
	f, b := newFunc(t, "bwd_copy")
	a := &ir.Value{Type: types.IntType, Reg: -1, FrameOffset: ir.NoFrameOffset, GlobalReg: -1, Flags: ir.IsLocal}
	d := &ir.Value{Type: types.IntType, Reg: -1, FrameOffset: ir.NoFrameOffset, GlobalReg: -1, Flags: ir.IsLocal}
	tval := &ir.Value{Type: types.IntType, Reg: -1, FrameOffset: ir.NoFrameOffset, GlobalReg: -1, Flags: ir.IsTemporary}
	y := &ir.Value{Type: types.IntType, Reg: -1, FrameOffset: ir.NoFrameOffset, GlobalReg: -1, Flags: ir.IsTemporary}

	producer := &ir.Instruction{Op: opcode.Add, Dest: tval, Value1: a, Value2: d, Block: b}
	copyIn := &ir.Instruction{Op: opcode.CopyInt, Dest: y, Value1: tval, Block: b}
	sink := &ir.Instruction{Op: opcode.Add, Dest: a, Value1: y, Block: b, Flags: ir.DestIsValueWrite}
	b.Insns = append(b.Insns, producer, copyIn, sink)

	PropagateBackward(f)

	if producer.Dest != y {
		t.Fatalf("producer should be rewritten to write directly into the copy's destination, got dest=%v", producer.Dest)
	}
	if copyIn.Op != opcode.Nop {
		t.Fatalf("the copy should become a nop once its producer writes y directly, got %s", copyIn.Op)
	}
}

func TestPropagateBackwardSkipsWhenSourceUsedAfterCopy(t *testing.T) {
	// Regression: 1: t = add a, b / 2: y = t / 3: z = mul t, d. t is used again at 3, so the
	// backward pass must not rewrite 1's dest to y, or 3 would read the wrong value.
	f, b := newFunc(t, "bwd_copy_live_source")
	a := &ir.Value{Type: types.IntType, Reg: -1, FrameOffset: ir.NoFrameOffset, GlobalReg: -1, Flags: ir.IsLocal}
	d := &ir.Value{Type: types.IntType, Reg: -1, FrameOffset: ir.NoFrameOffset, GlobalReg: -1, Flags: ir.IsLocal}
	tval := &ir.Value{Type: types.IntType, Reg: -1, FrameOffset: ir.NoFrameOffset, GlobalReg: -1, Flags: ir.IsTemporary}
	y := &ir.Value{Type: types.IntType, Reg: -1, FrameOffset: ir.NoFrameOffset, GlobalReg: -1, Flags: ir.IsTemporary}
	z := &ir.Value{Type: types.IntType, Reg: -1, FrameOffset: ir.NoFrameOffset, GlobalReg: -1, Flags: ir.IsTemporary}

	producer := &ir.Instruction{Op: opcode.Add, Dest: tval, Value1: a, Value2: d, Block: b}
	copyIn := &ir.Instruction{Op: opcode.CopyInt, Dest: y, Value1: tval, Block: b}
	lateUse := &ir.Instruction{Op: opcode.Mul, Dest: z, Value1: tval, Value2: d, Block: b}
	sink := &ir.Instruction{Op: opcode.Add, Dest: a, Value1: y, Value2: z, Block: b, Flags: ir.DestIsValueWrite}
	b.Insns = append(b.Insns, producer, copyIn, lateUse, sink)

	PropagateBackward(f)

	if producer.Dest != tval {
		t.Fatalf("producer must keep writing into t since t is used again at instruction 3, got dest=%v", producer.Dest)
	}
	if copyIn.Op == opcode.Nop {
		t.Fatal("the copy must not be eliminated while t still has a later use in the block")
	}
	if lateUse.Value1 != tval {
		t.Fatalf("the later use of t must be untouched, got %v", lateUse.Value1)
	}
}
