package regalloc

import (
	"github.com/hramberg/vjit/backend/regfile"
	"github.com/hramberg/vjit/ir"
	regcontents "github.com/hramberg/vjit/ir/regfile"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// clobberRestore records a value that Gen evicted from a global register purely to satisfy
// req.Clobber, to be reloaded by Commit once the instruction has been emitted.
type clobberRestore struct {
	reg int
	v   *ir.Value
}

// genState threads Gen's bookkeeping through to the matching Commit call for one instruction.
type genState struct {
	restores []clobberRestore
}

// ---------------------
// ----- Functions -----
// ---------------------

// Gen carries out plan's code-generation step against backend be: spilling clobbered registers,
// saving doomed input values, freeing the destination's previous residency, reordering a
// register-stack file's top-of-stack, and loading inputs into their assigned registers.
func Gen(rf regfile.File, tables [2]*regcontents.Table, be Backend, plan *Plan) (*genState, error) {
	req := plan.req
	gs := &genState{}

	if err := spillClobbered(rf, tables, be, req, gs); err != nil {
		return nil, err
	}
	if err := saveDoomedInputs(rf, be, req); err != nil {
		return nil, err
	}
	freeDestResidency(tables, req)
	if req.OnStack {
		if err := reorderStack(rf, tables, be, req); err != nil {
			return nil, err
		}
	}
	if err := loadInputs(rf, tables, be, req); err != nil {
		return nil, err
	}
	return gs, nil
}

// spillClobbered spills every live value resident in a register in req.Clobber (step 1). A
// register that is also a global register genuinely clobbered by this instruction (not simply
// computing its own result into itself) is instead saved via SpillGlobal and scheduled for
// LoadGlobal restoration by Commit.
func spillClobbered(rf regfile.File, tables [2]*regcontents.Table, be Backend, req *Request, gs *genState) error {
	for class := 0; class < 2; class++ {
		table := tables[class]
		n := table.Len()
		for r := 0; r < n; r++ {
			if !req.Clobber.Has(r) {
				continue
			}
			reg := classGet(rf, class, r)
			if reg == nil {
				continue
			}
			if isComputingIntoItself(req, class, r) {
				continue
			}
			for _, v := range append([]*ir.Value{}, table.Resident(r)...) {
				if rf.IsGlobal(reg) && v.Has(ir.HasGlobalRegister) {
					if err := be.SpillGlobal(r, v); err != nil {
						return err
					}
					gs.restores = append(gs.restores, clobberRestore{reg: r, v: v})
				} else if v.Has(ir.Live) || v.Has(ir.NextUse) {
					if err := be.SpillReg(r, -1, class, v); err != nil {
						return err
					}
				}
				table.Unbind(r, v)
				v.ClearFlag(ir.InRegister)
			}
		}
	}
	return nil
}

// isComputingIntoItself reports whether register r of class is the destination slot's own
// assigned register — in which case the instruction is not really clobbering a live value, it is
// producing its own result there.
func isComputingIntoItself(req *Request, class, r int) bool {
	d := &req.Values[slotDest]
	return d.Value != nil && d.Class == class && d.Reg == r
}

// saveDoomedInputs implements step 2: an input whose register will be destroyed by this
// instruction (it doubles as the output register, or sits in req.Clobber) and which is still
// needed afterward must be written to its frame home first.
func saveDoomedInputs(rf regfile.File, be Backend, req *Request) error {
	dest := &req.Values[slotDest]
	for _, s := range [2]slot{slotValue1, slotValue2} {
		v := &req.Values[s]
		if v.Value == nil {
			continue
		}
		destructive := dest.Value != nil && dest.Reg == v.Reg && dest.Class == v.Class && dest.Value != v.Value
		if !destructive && !req.Clobber.Has(v.Reg) {
			continue
		}
		if !v.Value.Has(ir.Live) && !v.Value.Has(ir.NextUse) {
			continue
		}
		v.Store = true
		if err := be.SpillReg(v.Reg, v.Reg2, v.Class, v.Value); err != nil {
			return err
		}
	}
	return nil
}

// freeDestResidency implements step 3: evict whatever previously lived in the destination's
// assigned register before binding the new value there.
func freeDestResidency(tables [2]*regcontents.Table, req *Request) {
	d := &req.Values[slotDest]
	if d.Value == nil {
		return
	}
	table := tables[d.Class]
	for _, old := range append([]*ir.Value{}, table.Resident(d.Reg)...) {
		if old == d.Value {
			continue
		}
		table.Unbind(d.Reg, old)
		old.ClearFlag(ir.InRegister)
	}
}

// reorderStack implements step 4's register-stack handling: exchange the required operand to the
// top of an x87-style stack file before the emitter's arithmetic, which for such files always
// operates on the stack top.
func reorderStack(rf regfile.File, tables [2]*regcontents.Table, be Backend, req *Request) error {
	v1 := &req.Values[slotValue1]
	if v1.Value == nil {
		return nil
	}
	table := tables[v1.Class]
	if table.StackTop() != v1.Reg {
		if err := be.ExchTop(v1.Reg); err != nil {
			return err
		}
		table.SetStackTop(v1.Reg)
	}
	return nil
}

// loadInputs implements step 5: load every input value into its assigned register via
// LoadValue. If the target register already holds a different, still-needed value the load is
// still issued (the backend is responsible for treating the target as scratch and rebinding the
// loaded copy as temporary) — Commit resolves residency bookkeeping afterward.
func loadInputs(rf regfile.File, tables [2]*regcontents.Table, be Backend, req *Request) error {
	for _, s := range [2]slot{slotValue1, slotValue2} {
		v := &req.Values[s]
		if v.Value == nil {
			continue
		}
		if v.Value.Has(ir.InRegister) && v.Value.Reg == v.Reg {
			continue
		}
		if err := be.LoadValue(v.Reg, v.Reg2, v.Class, v.Value); err != nil {
			return err
		}
	}
	return nil
}

// Commit runs after the backend has emitted the instruction itself: unbind destroyed input
// values, bind the output to its assigned register, spill the output immediately if required, and
// reload any global registers Gen temporarily evicted.
func Commit(rf regfile.File, tables [2]*regcontents.Table, be Backend, plan *Plan, gs *genState) error {
	req := plan.req

	for _, s := range [2]slot{slotValue1, slotValue2} {
		v := &req.Values[s]
		if v.Value == nil {
			continue
		}
		table := tables[v.Class]
		table.Bind(v.Reg, v.Value, v.IsLong, false)
		v.Value.Reg = v.Reg
		v.Value.SetFlag(ir.InRegister)
		if !v.Value.Has(ir.NextUse) {
			table.Unbind(v.Reg, v.Value)
			v.Value.ClearFlag(ir.InRegister)
		}
	}

	d := &req.Values[slotDest]
	if d.Value != nil {
		table := tables[d.Class]
		table.Bind(d.Reg, d.Value, d.IsLong, false)
		d.Value.Reg = d.Reg
		d.Value.SetFlag(ir.InRegister)
		if d.Value.Has(ir.Live) && d.Value.Has(ir.HasGlobalRegister) {
			if err := be.SpillGlobal(d.Reg, d.Value); err != nil {
				return err
			}
		} else if d.Value.Has(ir.Live) {
			if err := be.SpillReg(d.Reg, d.Reg2, d.Class, d.Value); err != nil {
				return err
			}
			d.Value.SetFlag(ir.InFrame)
		}
	}

	for _, r := range gs.restores {
		if err := be.LoadGlobal(r.reg, r.v); err != nil {
			return err
		}
	}
	return nil
}
