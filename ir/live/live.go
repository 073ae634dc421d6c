// Package live implements per-function liveness analysis and copy propagation over three-address
// IR. Compute performs the single backward liveness pass and dead-instruction elimination;
// PropagateForward and PropagateBackward implement the two optional copy-propagation passes, each
// of which re-runs Compute afterward. Grounded on the general pass style of ir/optimise.go: one
// function per transformation, operating directly on the block/instruction list, generalized from
// AST-level constant folding to this package's three-address, flag-based liveness model.
package live

import (
	"github.com/hramberg/vjit/ir"
	"github.com/hramberg/vjit/ir/opcode"
)

// ---------------------
// ----- Functions -----
// ---------------------

// Compute runs the backward, per-instruction liveness pass over every block of Function f,
// independently per block: values that are not temporaries start each block live, conservatively
// treating them as live across block boundaries.
func Compute(f *ir.Function) {
	for _, b := range f.Blocks {
		computeBlock(b)
	}
}

func computeBlock(b *ir.Block) {
	for i := len(b.Insns) - 1; i >= 0; i-- {
		in := b.Insns[i]
		if in.Op == opcode.Nop {
			continue
		}
		dest, v1, v2 := in.OperandSlots()

		destIsWrite := dest != nil && in.Flags&ir.DestIsValueWrite == 0
		if destIsWrite {
			live, next := dest.IsLiveValue(), dest.NextUse()
			if live {
				in.Flags |= ir.DestLive
			} else {
				in.Flags &^= ir.DestLive
			}
			if next {
				in.Flags |= ir.DestNextUse
			} else {
				in.Flags &^= ir.DestNextUse
			}
			if !live && !next {
				in.Op = opcode.Nop
				continue
			}
			dest.ClearDef()
		}

		if v1 != nil {
			setFlag(in, ir.Value1Live, v1.IsLiveValue())
			setFlag(in, ir.Value1NextUse, v1.NextUse())
			v1.MarkUse()
		}
		if v2 != nil {
			setFlag(in, ir.Value2Live, v2.IsLiveValue())
			setFlag(in, ir.Value2NextUse, v2.NextUse())
			v2.MarkUse()
		}
		// The store-relative "dest is also a value" case: record its live/next-use like an input,
		// without ever treating it as a kill.
		if dest != nil && !destIsWrite {
			setFlag(in, ir.DestLive, dest.IsLiveValue())
			setFlag(in, ir.DestNextUse, dest.NextUse())
			dest.MarkUse()
		}
	}
}

func setFlag(in *ir.Instruction, mask ir.InsnFlags, on bool) {
	if on {
		in.Flags |= mask
	} else {
		in.Flags &^= mask
	}
}

// PropagateForward runs one forward copy-propagation pass over every block of f and re-runs
// Compute. For each copy instruction whose destination is a temporary, non-addressable,
// non-volatile value, later references within the block are rewritten to use the copy's source
// directly, as long as neither the destination nor the source is redefined first.
func PropagateForward(f *ir.Function) {
	for _, b := range f.Blocks {
		propagateForwardBlock(b)
	}
	Compute(f)
}

func propagateForwardBlock(b *ir.Block) {
	for i, in := range b.Insns {
		if !opcode.IsCopyPropagable(in.Op) {
			continue
		}
		t, x := in.Dest, in.Value1
		if t == nil || x == nil {
			continue
		}
		if t == x {
			in.Op = opcode.Nop
			continue
		}
		if !t.Has(ir.IsTemporary) || t.Has(ir.IsAddressable) || t.Has(ir.IsVolatile) {
			continue
		}
		for j := i + 1; j < len(b.Insns); j++ {
			later := b.Insns[j]
			if later.Op == opcode.Nop {
				continue
			}
			d, v1, v2 := later.OperandSlots()
			if v1 == t {
				later.Value1 = x
			}
			if v2 == t {
				later.Value2 = x
			}
			if d == t || d == x {
				break
			}
		}
	}
}

// PropagateBackward runs Compute, then one backward copy-propagation pass over every block of f,
// then Compute again. For each copy y = t where t is a temporary not used again after the copy,
// it walks backward looking for t's producing instruction; if no intervening instruction uses y or
// redefines t, the producer is rewritten to write directly into y and the copy becomes a nop.
func PropagateBackward(f *ir.Function) {
	Compute(f)
	for _, b := range f.Blocks {
		propagateBackwardBlock(b)
	}
	Compute(f)
}

func propagateBackwardBlock(b *ir.Block) {
	for i, in := range b.Insns {
		if !opcode.IsCopyPropagable(in.Op) {
			continue
		}
		y, t := in.Dest, in.Value1
		if y == nil || t == nil || !t.Has(ir.IsTemporary) {
			continue
		}
		// in.Flags&Value1NextUse records, as of the last Compute pass, whether t had a use at some
		// later instruction in this block (Compute sets it from t's accumulated NextUse state
		// before marking t used by this instruction itself). t.NextUse() on the Value is a
		// whole-block-walk-scoped flag that Compute clears at t's definition site regardless of
		// position, so it can't answer "does t have a use after this specific copy" - only the
		// instruction-local snapshot can.
		if in.Flags&ir.Value1NextUse != 0 {
			continue
		}
		for j := i - 1; j >= 0; j-- {
			producer := b.Insns[j]
			if producer.Op == opcode.Nop {
				continue
			}
			d, v1, v2 := producer.OperandSlots()
			if v1 == y || v2 == y {
				break
			}
			if d == t {
				producer.Dest = y
				in.Op = opcode.Nop
				break
			}
			if d == y {
				break
			}
		}
	}
}
