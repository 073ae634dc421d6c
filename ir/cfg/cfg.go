// Package cfg builds and cleans the control-flow graph over an ir.Function's block list: Build
// derives successor/predecessor edges from each block's last instruction, and Clean applies the
// Shillner-Lu "Clean" algorithm to remove dead blocks and simplify redundant branch patterns.
// vslc never builds an explicit CFG of its own (it walks the AST directly), so this package is
// grounded on the block/edge vocabulary of ir/lir/block.go's branch and return instruction
// constructors and on ir/optimise.go's style of small, single-purpose, well-commented pass
// functions.
package cfg

import (
	"github.com/hramberg/vjit/ir"
	"github.com/hramberg/vjit/ir/opcode"
	"github.com/hramberg/vjit/jerr"
)

// ---------------------
// ----- Functions -----
// ---------------------

// Build derives Function f's control-flow edges from its current block and instruction list,
// replacing any edges left over from a prior Build. Returns jerr.ErrUndefinedLabel if any
// instruction references a label that resolves to no block.
func Build(f *ir.Function) error {
	blocks := f.Blocks
	for _, b := range blocks {
		b.Succs = b.Succs[:0]
	}
	for _, b := range blocks {
		b.Preds = b.Preds[:0]
	}
	for i, b := range blocks {
		var next *ir.Block
		if i+1 < len(blocks) {
			next = blocks[i+1]
		}
		if err := addEdgesForBlock(f, b, next); err != nil {
			return err
		}
	}
	return nil
}

// addEdgesForBlock classifies b's terminator and wires the corresponding edge(s) directly into
// the src/dst edge arrays. A block ending in an ordinary call is not a terminator (control returns
// to the following instruction on the normal path), but the call may still unwind through an
// active catcher, so it gets an exception edge of its own alongside the usual fallthrough.
func addEdgesForBlock(f *ir.Function, b, next *ir.Block) error {
	term := b.Terminator()
	if term == nil {
		if last := lastInsn(b); last != nil && last.Op == opcode.Call {
			linkCallException(f, b, last)
		}
		if !b.EndsInDead && next != nil {
			link(b, next, opcode.Fallthrough)
		}
		return nil
	}

	switch {
	case term.Op == opcode.Return:
		if exit := f.ExitBlock(); exit != nil {
			link(b, exit, opcode.EdgeReturn)
		}

	case opcode.IsBranch(term.Op):
		dst, err := resolveLabel(f, term.DestLabel)
		if err != nil {
			return err
		}
		link(b, dst, opcode.EdgeBranch)

	case term.Op == opcode.Throw || term.Op == opcode.Rethrow:
		dst := f.CatchBlock()
		if dst == nil {
			dst = f.ExitBlock()
		}
		if dst != nil {
			link(b, dst, opcode.EdgeException)
		}

	case term.Op == opcode.CallFinally || term.Op == opcode.CallFilter:
		dst, err := resolveLabel(f, term.DestLabel)
		if err != nil {
			return err
		}
		link(b, dst, opcode.EdgeException)

	case term.Op == opcode.JumpTable:
		jt, _ := term.Extra.(*ir.JumpTargets)
		if jt != nil {
			for _, dst := range jt.Targets {
				if dst == nil {
					return jerr.ErrUndefinedLabel
				}
				link(b, dst, opcode.EdgeBranch)
			}
		}
	}

	if !b.EndsInDead && next != nil && opcode.IsConditionalBranch(term.Op) {
		link(b, next, opcode.Fallthrough)
	}
	return nil
}

// lastInsn returns b's final instruction, or nil for an empty block.
func lastInsn(b *ir.Block) *ir.Instruction {
	if len(b.Insns) == 0 {
		return nil
	}
	return b.Insns[len(b.Insns)-1]
}

// linkCallException adds the exception edge for an ordinary (non-terminator) call instruction:
// it may unwind through the function's active catcher, or straight out if there is none.
func linkCallException(f *ir.Function, b *ir.Block, call *ir.Instruction) {
	dst := f.CatchBlock()
	if dst == nil {
		dst = f.ExitBlock()
	}
	if dst != nil && dst != b {
		link(b, dst, opcode.EdgeException)
	}
}

// resolveLabel returns the block a label-valued slot already points to, failing with
// jerr.ErrUndefinedLabel if the slot was never bound (ir.Function.Resolve returned nil at build
// time for the branch that produced it).
func resolveLabel(f *ir.Function, dst *ir.Block) (*ir.Block, error) {
	if dst == nil {
		return nil, jerr.ErrUndefinedLabel
	}
	return dst, nil
}

// link allocates one Edge of the given kind from src to dst and appends it to both endpoints'
// edge lists.
func link(src, dst *ir.Block, kind opcode.EdgeKind) {
	e := &ir.Edge{Src: src, Dst: dst, Kind: kind}
	src.Succs = append(src.Succs, e)
	dst.Preds = append(dst.Preds, e)
}
