// Package regalloc implements a cost-model local register allocator: given a register request
// describing one IR instruction's operand slots and scratch needs, Assign picks concrete physical
// registers under a cost model that weighs copies, thrashing, global-register bias and spill cost,
// then Gen/Commit (gen.go) carry out the side effects the choice implies (spills, reloads,
// stack-file exchanges) against the Backend contract (backend.go).
//
// Grounded on vslc's backend/lir/regalloc.go: the node/neighbour vocabulary there
// (register-interference-graph nodes with an LRU `age`-like `use` counter taken from
// backend/arm/armv8.go's ad hoc allocator) is kept for this package's per-register LRU
// tie-breaking, and vslc's `const retry = 128` bound survives as maxAssignRetries, which here caps
// the number of registers classSize counts per class. The whole-function graph-colouring algorithm itself is replaced here by a
// per-instruction cost-model algorithm, a materially different allocator shape and this module's
// single largest rewrite; see DESIGN.md.
package regalloc

import (
	"github.com/hramberg/vjit/backend/regfile"
	"github.com/hramberg/vjit/ir"
	regcontents "github.com/hramberg/vjit/ir/regfile"
	"github.com/hramberg/vjit/jerr"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// slot identifies which of a Request's three value descriptors is being discussed.
type slot int

const (
	slotDest slot = iota
	slotValue1
	slotValue2
)

// ValueDesc describes one value-carrying slot of a register request: the IR value (or nil), the
// desired register class, the register(s) assigned so far, liveness/use flags copied from the
// owning instruction, and per-slot clobber constraints.
type ValueDesc struct {
	Value    *ir.Value
	Class    int // 0 = integer, 1 = floating point. Matches regfile.File's GetI/GetF split.
	Reg      int // Assigned register, or -1 while not yet assigned.
	Reg2     int // Companion register for a 64-bit long-pair value, or -1.
	IsLong   bool
	Live     bool
	NextUse  bool
	Clobber      bool // This slot's register is destroyed by the instruction regardless of dest sharing.
	EarlyClobber bool // This slot's register must not be reused for any other slot, even the output.
	Store        bool // Set by Gen (saveDoomedInputs, gen.go): true if this input must be written to its frame home before being destroyed.
}

// ScratchDesc describes one scratch register the backend emitter needs for the duration of one
// instruction; released the moment the next instruction is processed.
type ScratchDesc struct {
	Class int
	Reg   int
}

// Request describes a register request for one IR instruction.
type Request struct {
	Values  [3]ValueDesc // Indexed by slotDest, slotValue1, slotValue2.
	Scratch []ScratchDesc

	Ternary      bool // Three inputs, no output (e.g. store-relative).
	Branch       bool
	Copy         bool
	Commutative  bool
	FreeDest     bool // Output register need not equal any input's register.
	OnStack      bool // Operates on a register-stack file (x87-style).
	X87Arith     bool
	Reversible   bool // Has a reversed-operand variant (e.g. a<b has a reversed b>a form).

	Clobber regfile.Mask // Registers the emitter will destroy outright, independent of operand slots.
}

// Plan is Assign's result: the concrete register assignment for every slot and scratch of a
// Request, ready for Gen to act on.
type Plan struct {
	req *Request
}

// ---------------------
// ----- Constants -----
// ---------------------

// Cost constants used by chooseOutputRegister/chooseInputRegister/chooseScratchRegister.
const (
	CostCopy             = 4
	CostThrash           = 100
	CostGlobalBias       = 2
	CostClobberGlobal    = 1000
	CostSpillClean       = 1
	CostSpillDirty       = 16
	CostSpillCleanGlobal = 4
	CostSpillDirtyGlobal = 1
)

// maxAssignRetries caps the number of registers classSize counts in one class; the value is vslc's
// `const retry = 128` from backend/lir/regalloc.go.
const maxAssignRetries = 128

// ---------------------
// ----- Functions -----
// ---------------------

// Assign runs the five-step assignment algorithm over req against register file rf and the live
// Contents tables (one per class): propagate explicit/duplicate-slot register pins, pick the
// output register, decide input order for commutative/reversible ops, pick input registers, then
// pick scratch registers. Returns a Plan for Gen to execute, or jerr.ErrCompileError (wrapped with
// the opcode via jerr.NewCompileError by the caller) when no register in a required class can
// satisfy the constraint set.
func Assign(rf regfile.File, tables [2]*regcontents.Table, req *Request) (*Plan, error) {
	propagateExplicit(req)

	if d := &req.Values[slotDest]; d.Value != nil && d.Reg < 0 {
		r, err := chooseOutputRegister(rf, tables, req, d)
		if err != nil {
			return nil, err
		}
		d.Reg = r
		if d.IsLong {
			if r2, ok := rf.Pair(classGet(rf, d.Class, r)); ok {
				d.Reg2 = r2.Id()
			}
		}
	}

	chooseInputOrder(req)

	for _, s := range [2]slot{slotValue1, slotValue2} {
		v := &req.Values[s]
		if v.Value == nil || v.Reg >= 0 {
			continue
		}
		r, err := chooseInputRegister(rf, tables, req, v)
		if err != nil {
			return nil, err
		}
		v.Reg = r
		if v.IsLong {
			if r2, ok := rf.Pair(classGet(rf, v.Class, r)); ok {
				v.Reg2 = r2.Id()
			}
		}
	}

	for i := range req.Scratch {
		sd := &req.Scratch[i]
		if sd.Reg >= 0 {
			continue
		}
		r, err := chooseScratchRegister(rf, tables, req, sd)
		if err != nil {
			return nil, err
		}
		sd.Reg = r
	}

	return &Plan{req: req}, nil
}

// propagateExplicit records operands already pinned to a specific register (an ABI-required call
// argument, say), and makes a value duplicated across multiple slots share one physical register
// unless either occurrence is early-clobber or a stack-file slot.
func propagateExplicit(req *Request) {
	for i := range req.Values {
		for j := range req.Values {
			if i == j {
				continue
			}
			a, b := &req.Values[i], &req.Values[j]
			if a.Value == nil || b.Value == nil || a.Value != b.Value {
				continue
			}
			if a.EarlyClobber || b.EarlyClobber || req.OnStack {
				continue
			}
			if a.Reg >= 0 && b.Reg < 0 {
				b.Reg, b.Reg2 = a.Reg, a.Reg2
			} else if b.Reg >= 0 && a.Reg < 0 {
				a.Reg, a.Reg2 = b.Reg, b.Reg2
			}
		}
	}
}

// chooseInputOrder picks, for a commutative or reversible binary op, which input occupies the
// "destructive" slot (the slot whose register will also hold the output), preferring to avoid a
// copy when one input already sits in the output's register.
func chooseInputOrder(req *Request) {
	if !req.Commutative && !req.Reversible {
		return
	}
	dest := &req.Values[slotDest]
	v1, v2 := &req.Values[slotValue1], &req.Values[slotValue2]
	if dest.Value == nil || v1.Value == nil || v2.Value == nil {
		return
	}
	if v2.Reg == dest.Reg && v1.Reg != dest.Reg {
		req.Values[slotValue1], req.Values[slotValue2] = *v2, *v1
	}
}

// classGet resolves a raw register index back into a regfile.Register for class-specific Pair
// lookups.
func classGet(rf regfile.File, class, reg int) regfile.Register {
	if class == 1 {
		return rf.GetF(reg)
	}
	return rf.GetI(reg)
}

// useCost computes the cost of assigning candidate register r to value v within req: +CostCopy
// unless v itself already lives in r (an output placed in an input's register is charged it too),
// +CostThrash per other live slot already assigned r on a non-commutative/non-reversible
// instruction, +CostGlobalBias if v has a different assigned global register, +CostClobberGlobal on
// every global register (a global register is never skipped), plus the spill cost of r's existing
// occupants unless r is in req.Clobber. Fixed registers are reported unusable.
func useCost(rf regfile.File, table *regcontents.Table, req *Request, self slot, v *ValueDesc, r int) (int, bool) {
	reg := classGet(rf, v.Class, r)
	if reg == nil || rf.IsFixed(reg) {
		return 0, false
	}

	cost := 0
	alreadyHere := v.Value != nil && v.Value.Reg == r && v.Value.Has(ir.InRegister)
	if !alreadyHere {
		cost += CostCopy
	}

	if rf.IsGlobal(reg) {
		if v.Value != nil && v.Value.Has(ir.HasGlobalRegister) && v.Value.GlobalReg != r {
			cost += CostGlobalBias
		}
		cost += CostClobberGlobal
	}

	for _, other := range [3]slot{slotDest, slotValue1, slotValue2} {
		if other == self {
			continue
		}
		od := &req.Values[other]
		if od.Value == nil || od.Reg != r {
			continue
		}
		if !od.Live && !od.NextUse {
			continue
		}
		if !req.Commutative && !req.Reversible {
			cost += CostThrash
		}
	}

	if req.Clobber.Has(r) {
		return cost, true
	}
	for _, resident := range table.Resident(r) {
		cost += spillCost(rf, resident)
	}
	return cost, true
}

// spillCost computes the spill cost of one resident value: 0 if it is not needed after this
// instruction, CostSpillClean/CostSpillDirty if its home is a stack frame slot depending on
// whether a current frame copy already exists, or the _Global variants when its home is a
// callee-saved register instead of the stack.
func spillCost(rf regfile.File, v *ir.Value) int {
	if v == nil {
		return 0
	}
	if !v.Has(ir.Live) && !v.Has(ir.NextUse) {
		return 0
	}
	if v.Has(ir.HasGlobalRegister) {
		if v.Has(ir.InGlobalRegister) {
			return CostSpillCleanGlobal
		}
		return CostSpillDirtyGlobal
	}
	if v.Has(ir.InFrame) {
		return CostSpillClean
	}
	return CostSpillDirty
}

// pickMinCost scans candidates, returning the lowest-cost one and breaking ties toward the least
// recently used register.
func pickMinCost(table *regcontents.Table, candidates []int, cost func(int) (int, bool)) (int, bool) {
	best, bestCost, bestAge := -1, 0, uint64(0)
	for _, r := range candidates {
		c, ok := cost(r)
		if !ok {
			continue
		}
		age := table.Age(r)
		if best < 0 || c < bestCost || (c == bestCost && age < bestAge) {
			best, bestCost, bestAge = r, c, age
		}
	}
	return best, best >= 0
}

// classSize returns the number of registers in the given class for rf.
func classSize(rf regfile.File, class int) int {
	n := 0
	for {
		var r regfile.Register
		if class == 1 {
			r = rf.GetF(n)
		} else {
			r = rf.GetI(n)
		}
		if r == nil {
			return n
		}
		n++
		if n > maxAssignRetries {
			return n
		}
	}
}

func allCandidates(rf regfile.File, class int, exclude ...int) []int {
	n := classSize(rf, class)
	out := make([]int, 0, n)
outer:
	for i := 0; i < n; i++ {
		for _, e := range exclude {
			if e == i {
				continue outer
			}
		}
		out = append(out, i)
	}
	return out
}

// chooseOutputRegister picks the lowest-cost register for a request's output slot.
func chooseOutputRegister(rf regfile.File, tables [2]*regcontents.Table, req *Request, d *ValueDesc) (int, error) {
	table := tables[d.Class]
	cands := allCandidates(rf, d.Class)
	r, ok := pickMinCost(table, cands, func(r int) (int, bool) {
		return useCost(rf, table, req, slotDest, d, r)
	})
	if !ok {
		return -1, jerr.NewCompileError(stringerOp{}, "no register available for output")
	}
	return r, nil
}

// chooseInputRegister picks the lowest-cost register for an input slot, with duplicate-input
// sharing handled already by propagateExplicit.
func chooseInputRegister(rf regfile.File, tables [2]*regcontents.Table, req *Request, v *ValueDesc) (int, error) {
	table := tables[v.Class]
	self := slotValue1
	if v == &req.Values[slotValue2] {
		self = slotValue2
	}
	cands := allCandidates(rf, v.Class)
	r, ok := pickMinCost(table, cands, func(r int) (int, bool) {
		return useCost(rf, table, req, self, v, r)
	})
	if !ok {
		return -1, jerr.NewCompileError(stringerOp{}, "no register available for input")
	}
	return r, nil
}

// chooseScratchRegister picks a scratch register under the same cost model, constrained to not
// collide with any register already assigned to an operand slot.
func chooseScratchRegister(rf regfile.File, tables [2]*regcontents.Table, req *Request, sd *ScratchDesc) (int, error) {
	table := tables[sd.Class]
	taken := map[int]bool{}
	for _, v := range req.Values {
		if v.Value != nil && v.Class == sd.Class {
			taken[v.Reg] = true
			if v.IsLong {
				taken[v.Reg2] = true
			}
		}
	}
	cands := allCandidates(rf, sd.Class)
	r, ok := pickMinCost(table, cands, func(r int) (int, bool) {
		if taken[r] {
			return 0, false
		}
		reg := classGet(rf, sd.Class, r)
		if reg == nil || rf.IsFixed(reg) {
			return 0, false
		}
		cost := 0
		if req.Clobber.Has(r) {
			return cost, true
		}
		for _, resident := range table.Resident(r) {
			cost += spillCost(rf, resident)
		}
		return cost, true
	})
	if !ok {
		return -1, jerr.NewCompileError(stringerOp{}, "no scratch register available")
	}
	return r, nil
}

// stringerOp is a placeholder fmt.Stringer used when the allocator has no opcode context handy
// (the caller normally supplies the real opcode by rewrapping the returned jerr.CompileError).
type stringerOp struct{}

func (stringerOp) String() string { return "regalloc" }
