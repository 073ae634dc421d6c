package regalloc

import (
	"sort"

	"github.com/hramberg/vjit/backend/regfile"
	"github.com/hramberg/vjit/ir"
)

// AllocGlobals is the global register allocation pre-pass: scan every value in f, rank the
// candidates (isCandidate(v) true, not volatile, not addressable) by usage count, and assign the
// top N<=rf.NumGlobalRegs() to global registers, highest-numbered global register first. Skipped
// entirely when f.HasTry or f.HasTailCall, since exception unwinding or tail-call elision would
// otherwise clobber callee-saved state a global-register binding expects to survive.
func AllocGlobals(f *ir.Function, rf regfile.File, isCandidate func(*ir.Value) bool) {
	if f.HasTry || f.HasTailCall {
		return
	}
	n := rf.NumGlobalRegs()
	if n <= 0 {
		return
	}

	var cands []*ir.Value
	seen := map[*ir.Value]bool{}
	collect := func(v *ir.Value) {
		if v == nil || seen[v] {
			return
		}
		seen[v] = true
		if v.Has(ir.IsVolatile) || v.Has(ir.IsAddressable) {
			return
		}
		if v.UsageCount < 3 {
			return
		}
		if isCandidate != nil && !isCandidate(v) {
			return
		}
		cands = append(cands, v)
	}
	for _, p := range f.Params() {
		collect(p)
	}
	for _, l := range f.Locals {
		collect(l)
	}
	for _, b := range f.Blocks {
		for _, in := range b.Insns {
			d, v1, v2 := in.OperandSlots()
			collect(d)
			collect(v1)
			collect(v2)
		}
	}

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].UsageCount > cands[j].UsageCount })
	if len(cands) > n {
		cands = cands[:n]
	}
	for i, v := range cands {
		reg := rf.GlobalReg(i)
		if reg == nil {
			continue
		}
		v.GlobalReg = reg.Id()
		v.SetFlag(ir.HasGlobalRegister)
	}
}
