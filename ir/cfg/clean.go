package cfg

import (
	"github.com/hramberg/vjit/ir"
	"github.com/hramberg/vjit/ir/opcode"
	"github.com/hramberg/vjit/util"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// frame is one (block, next-child-index) activation record of the iterative reverse-postorder
// DFS, pushed onto a util.Stack.
type frame struct {
	b    *ir.Block
	next int
}

// ---------------------
// ----- Functions -----
// ---------------------

// Clean simplifies Function f's control-flow graph to a fixpoint: unreachable blocks are
// dropped, and five redundant-branch / empty-block / coalescing patterns are applied repeatedly
// until no further rewrite applies. f.Blocks is mutated in place; callers must re-run Build if
// further edge-dependent analysis follows a later mutation.
func Clean(f *ir.Function) error {
	entry := f.EntryBlock()
	if entry == nil {
		return nil
	}

	pruneUnreachable(f)
	for {
		order := reversePostorder(f.EntryBlock())
		changed := false
		for _, b := range order {
			if b == f.ExitBlock() {
				continue
			}
			switch {
			case redundantBranchToNext(b):
			case unconditionalBranchToNext(b):
			default:
				ok, err := condBranchAroundJump(b)
				if err != nil {
					return err
				}
				if ok {
					break
				}
				if b != f.EntryBlock() && mergeEmpty(f, b) {
					break
				}
				if combineBlock(f, b) {
					break
				}
				continue
			}
			changed = true
		}
		if !changed {
			return nil
		}
		pruneUnreachable(f)
	}
}

// reversePostorder computes a reverse-postorder block ordering via iterative DFS from entry,
// using a (block, next-child-index) frame stack, grounded on util/stack.go's linked-list Stack
// reused here as the DFS work-list.
func reversePostorder(entry *ir.Block) []*ir.Block {
	if entry == nil {
		return nil
	}
	visited := map[*ir.Block]bool{entry: true}
	var post []*ir.Block

	st := &util.Stack{}
	st.Push(&frame{b: entry})
	for st.Size() > 0 {
		top := st.Peek().(*frame)
		if top.next < len(top.b.Succs) {
			e := top.b.Succs[top.next]
			top.next++
			if e.Dst != nil && !visited[e.Dst] {
				visited[e.Dst] = true
				st.Push(&frame{b: e.Dst})
			}
			continue
		}
		st.Pop()
		post = append(post, top.b)
	}

	rev := make([]*ir.Block, len(post))
	for i, b := range post {
		rev[len(post)-1-i] = b
	}
	return rev
}

// pruneUnreachable drops every block unreached by a DFS from the entry block, unless the block
// is address-taken.
func pruneUnreachable(f *ir.Function) {
	entry := f.EntryBlock()
	reachable := map[*ir.Block]bool{}
	for _, b := range reversePostorder(entry) {
		reachable[b] = true
	}
	kept := f.Blocks[:0]
	for _, b := range f.Blocks {
		if reachable[b] || b.AddressOf {
			kept = append(kept, b)
			continue
		}
		for _, e := range append([]*ir.Edge{}, b.Succs...) {
			detach(e)
		}
		for _, e := range append([]*ir.Edge{}, b.Preds...) {
			detach(e)
		}
	}
	f.Blocks = kept
}

// detach removes edge e from both its endpoints' edge lists.
func detach(e *ir.Edge) {
	if e.Src != nil {
		removeEdge(&e.Src.Succs, e)
	}
	if e.Dst != nil {
		removeEdge(&e.Dst.Preds, e)
	}
}

func removeEdge(list *[]*ir.Edge, e *ir.Edge) {
	s := *list
	for i, c := range s {
		if c == e {
			*list = append(s[:i], s[i+1:]...)
			return
		}
	}
}

// branchEdge returns b's EdgeBranch successor, if any.
func branchEdge(b *ir.Block) *ir.Edge {
	for _, e := range b.Succs {
		if e.Kind == opcode.EdgeBranch {
			return e
		}
	}
	return nil
}

// fallthroughEdge returns b's Fallthrough successor, if any.
func fallthroughEdge(b *ir.Block) *ir.Edge {
	for _, e := range b.Succs {
		if e.Kind == opcode.Fallthrough {
			return e
		}
	}
	return nil
}

// retargetLabelRefs rewrites every instruction in pred that branches to from so that it branches
// to to instead, covering the DestLabel slot and JumpTable targets.
func retargetLabelRefs(pred *ir.Block, from, to *ir.Block) {
	if pred.Func.CatchBlock() == from {
		pred.Func.SetCatchBlock(to)
	}
	for _, in := range pred.Insns {
		if in.DestLabel == from {
			in.DestLabel = to
		}
		if jt, ok := in.Extra.(*ir.JumpTargets); ok {
			for i, t := range jt.Targets {
				if t == from {
					jt.Targets[i] = to
				}
			}
		}
	}
}

// redundantBranchToNext rewrites a conditional branch whose branch edge equals the fallthrough
// successor into a nop, dropping the branch edge (the fallthrough edge remains).
func redundantBranchToNext(b *ir.Block) bool {
	term := b.Terminator()
	if term == nil || !opcode.IsConditionalBranch(term.Op) {
		return false
	}
	be, fe := branchEdge(b), fallthroughEdge(b)
	if be == nil || fe == nil || be.Dst != fe.Dst {
		return false
	}
	term.Op = opcode.Nop
	term.DestLabel = nil
	term.Flags &^= ir.DestIsLabel
	detach(be)
	return true
}

// unconditionalBranchToNext rewrites an unconditional branch to the immediately following block
// into a nop, reclassifying its branch edge as fallthrough.
func unconditionalBranchToNext(b *ir.Block) bool {
	term := b.Terminator()
	if term == nil || term.Op != opcode.Branch {
		return false
	}
	be := branchEdge(b)
	if be == nil || be.Dst != b.Next() {
		return false
	}
	term.Op = opcode.Nop
	term.DestLabel = nil
	term.Flags &^= ir.DestIsLabel
	be.Kind = opcode.Fallthrough
	b.EndsInDead = false
	return true
}

// condBranchAroundJump rewrites a conditional branch skipping a single-instruction unconditional
// jump (`if cond goto L0; goto L1; L0:`) into an inverted conditional branch straight to L1,
// eliding the intermediate block's jump.
func condBranchAroundJump(b *ir.Block) (bool, error) {
	term := b.Terminator()
	if term == nil || !opcode.IsConditionalBranch(term.Op) {
		return false, nil
	}
	mid := b.Next()
	if mid == nil || len(mid.Preds) != 1 || mid.AddressOf {
		return false, nil
	}
	midTerm := mid.Terminator()
	if midTerm == nil || midTerm.Op != opcode.Branch || len(mid.Insns) != 1 {
		return false, nil
	}
	l0 := branchEdge(b)
	if l0 == nil || l0.Dst != mid.Next() {
		return false, nil
	}
	l1Edge := branchEdge(mid)
	if l1Edge == nil {
		return false, nil
	}
	l1 := l1Edge.Dst

	inv, err := opcode.Inverts(term.Op)
	if err != nil {
		return false, err
	}
	term.Op = inv
	term.DestLabel = l1
	detach(l0)
	link(b, l1, opcode.EdgeBranch)

	midTerm.Op = opcode.Nop
	midTerm.DestLabel = nil
	midTerm.Flags &^= ir.DestIsLabel
	detach(l1Edge)
	if mid.Next() != nil {
		link(mid, mid.Next(), opcode.Fallthrough)
	}
	return true, nil
}

// isEmptyBlock reports whether b is empty: its only non-nop/non-mark instructions form at most a
// single unconditional branch.
func isEmptyBlock(b *ir.Block) (onlyBranch *ir.Instruction, empty bool) {
	var rest []*ir.Instruction
	for _, in := range b.Insns {
		if in.Op == opcode.Nop || in.Op == opcode.MarkOffset {
			continue
		}
		rest = append(rest, in)
	}
	switch len(rest) {
	case 0:
		return nil, true
	case 1:
		if rest[0].Op == opcode.Branch {
			return rest[0], true
		}
	}
	return nil, false
}

// mergeEmpty folds an empty block into its sole successor, moving its labels and redirecting its
// predecessors' edges directly to the successor.
func mergeEmpty(f *ir.Function, b *ir.Block) bool {
	br, empty := isEmptyBlock(b)
	if !empty {
		return false
	}
	var succ *ir.Block
	if br != nil {
		if e := branchEdge(b); e != nil {
			succ = e.Dst
		}
	} else if e := fallthroughEdge(b); e != nil {
		succ = e.Dst
	}
	if succ == nil || succ == b {
		return false
	}

	succ.AddLabel(b.Name())
	for _, l := range b.Labels() {
		succ.AddLabel(l)
	}

	outKind := opcode.Fallthrough
	if br != nil {
		outKind = opcode.EdgeBranch
	}
	moved := false
	for _, e := range append([]*ir.Edge{}, b.Preds...) {
		if e.Kind == opcode.Fallthrough && outKind != opcode.Fallthrough {
			continue
		}
		retargetLabelRefs(e.Src, b, succ)
		detach(e)
		link(e.Src, succ, e.Kind)
		moved = true
	}

	if len(b.Preds) == 0 && !b.AddressOf {
		removeBlock(f, b)
		return true
	}
	return moved
}

// combineBlock coalesces b with its sole successor when b is that successor's sole predecessor:
// the successor's instructions are appended directly onto b and the successor block is deleted.
func combineBlock(f *ir.Function, b *ir.Block) bool {
	if len(b.Succs) != 1 {
		return false
	}
	e := b.Succs[0]
	succ := e.Dst
	if succ == nil || succ == b || succ.AddressOf || len(succ.Preds) != 1 || succ == f.ExitBlock() {
		return false
	}
	if e.Kind == opcode.EdgeBranch {
		if term := b.Terminator(); term != nil && term.Op == opcode.Branch {
			term.Op = opcode.Nop
			term.DestLabel = nil
			term.Flags &^= ir.DestIsLabel
		}
	}
	b.Insns = append(b.Insns, succ.Insns...)
	for _, l := range succ.Labels() {
		b.AddLabel(l)
	}

	detach(e)
	for _, se := range append([]*ir.Edge{}, succ.Succs...) {
		detach(se)
		link(b, se.Dst, se.Kind)
	}
	removeBlock(f, succ)
	return true
}

// removeBlock detaches every edge touching b and removes it from f.Blocks.
func removeBlock(f *ir.Function, b *ir.Block) {
	for _, e := range append([]*ir.Edge{}, b.Succs...) {
		detach(e)
	}
	for _, e := range append([]*ir.Edge{}, b.Preds...) {
		detach(e)
	}
	for i, c := range f.Blocks {
		if c == b {
			f.Blocks = append(f.Blocks[:i], f.Blocks[i+1:]...)
			return
		}
	}
}
