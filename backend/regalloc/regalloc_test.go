package regalloc

import (
	"testing"

	"github.com/hramberg/vjit/backend/regfile"
	"github.com/hramberg/vjit/ir"
	regcontents "github.com/hramberg/vjit/ir/regfile"
	"github.com/hramberg/vjit/ir/types"
)

// fakeReg is a minimal regfile.Register for tests that never need an assembler-facing rendering.
type fakeReg int

func (r fakeReg) Id() int        { return int(r) }
func (r fakeReg) Type() int      { return 0 }
func (r fakeReg) String() string { return "r" }

// fakeFile is a minimal regfile.File with 4 integer registers and no floating-point class, used
// to exercise Assign without depending on any concrete target backend.
type fakeFile struct {
	n int
}

func (f *fakeFile) SP() regfile.Register { return nil }
func (f *fakeFile) LR() regfile.Register { return nil }
func (f *fakeFile) FP() regfile.Register { return nil }

func (f *fakeFile) GetI(i int) regfile.Register {
	if i < 0 || i >= f.n {
		return nil
	}
	return fakeReg(i)
}
func (f *fakeFile) GetF(i int) regfile.Register { return nil }
func (f *fakeFile) FreeI(i int)                 {}
func (f *fakeFile) FreeF(i int)                 {}

func (f *fakeFile) GetNextTempI() regfile.Register                         { return f.GetI(0) }
func (f *fakeFile) GetNextTempF() regfile.Register                         { return nil }
func (f *fakeFile) GetNextTempIExclude(exc []regfile.Register) regfile.Register { return f.GetI(0) }
func (f *fakeFile) GetNextTempFExclude(exc []regfile.Register) regfile.Register { return nil }

func (f *fakeFile) Ki() int { return f.n }
func (f *fakeFile) Kf() int { return 0 }

func (f *fakeFile) Pair(r regfile.Register) (regfile.Register, bool) { return nil, false }

func (f *fakeFile) IsCalleeSaved(r regfile.Register) bool { return false }
func (f *fakeFile) IsGlobal(r regfile.Register) bool      { return false }
func (f *fakeFile) IsCallUsed(r regfile.Register) bool    { return false }
func (f *fakeFile) IsFixed(r regfile.Register) bool       { return false }

func (f *fakeFile) NumGlobalRegs() int                    { return 0 }
func (f *fakeFile) GlobalReg(i int) regfile.Register      { return nil }

func (f *fakeFile) HasStack() bool                 { return false }
func (f *fakeFile) InhibitedForArgs() regfile.Mask { return 0 }

func newIntValue(flags ir.ValueFlags) *ir.Value {
	return &ir.Value{Type: types.IntType, Reg: -1, FrameOffset: ir.NoFrameOffset, GlobalReg: -1, Flags: flags}
}

func TestAssignPicksFreeOutputAndInputRegisters(t *testing.T) {
	rf := &fakeFile{n: 4}
	tables := [2]*regcontents.Table{regcontents.New(4), regcontents.New(0)}

	dest := newIntValue(ir.IsTemporary)
	v1 := newIntValue(ir.IsLocal)
	v2 := newIntValue(ir.IsLocal)

	req := &Request{
		Values: [3]ValueDesc{
			{Value: dest, Class: 0, Reg: -1},
			{Value: v1, Class: 0, Reg: -1, Live: true},
			{Value: v2, Class: 0, Reg: -1, Live: true},
		},
	}

	plan, err := Assign(rf, tables, req)
	if err != nil {
		t.Fatalf("Assign: %s", err)
	}
	d, a, b := plan.req.Values[slotDest], plan.req.Values[slotValue1], plan.req.Values[slotValue2]
	if d.Reg < 0 || d.Reg >= 4 {
		t.Fatalf("output register out of range: %d", d.Reg)
	}
	if a.Reg < 0 || a.Reg >= 4 || b.Reg < 0 || b.Reg >= 4 {
		t.Fatalf("input registers out of range: v1=%d v2=%d", a.Reg, b.Reg)
	}
}

func TestAssignSharesExplicitDuplicateInput(t *testing.T) {
	rf := &fakeFile{n: 4}
	tables := [2]*regcontents.Table{regcontents.New(4), regcontents.New(0)}

	v := newIntValue(ir.IsLocal)
	dest := newIntValue(ir.IsTemporary)

	// v1 and v2 are the same Value, pinned via an explicit Reg on v1; propagateExplicit (spec
	// section 4.5 step 1) should copy that assignment onto v2 without consulting the cost model.
	req := &Request{
		Values: [3]ValueDesc{
			{Value: dest, Class: 0, Reg: -1},
			{Value: v, Class: 0, Reg: 2, Live: true},
			{Value: v, Class: 0, Reg: -1, Live: true},
		},
	}

	plan, err := Assign(rf, tables, req)
	if err != nil {
		t.Fatalf("Assign: %s", err)
	}
	if plan.req.Values[slotValue2].Reg != 2 {
		t.Fatalf("duplicate-value input slot should inherit the explicit register 2, got %d", plan.req.Values[slotValue2].Reg)
	}
}

func TestAssignFailsWhenEveryRegisterIsFixed(t *testing.T) {
	rf := &fixedFile{fakeFile: fakeFile{n: 2}}
	tables := [2]*regcontents.Table{regcontents.New(2), regcontents.New(0)}

	dest := newIntValue(ir.IsTemporary)
	req := &Request{Values: [3]ValueDesc{{Value: dest, Class: 0, Reg: -1}}}

	if _, err := Assign(rf, tables, req); err == nil {
		t.Fatal("Assign should fail when every candidate register is fixed (e.g. SP/FP)")
	}
}

// fixedFile reports every register as fixed, modeling a target where the only physical registers
// left are reserved (e.g. stack/frame pointer), which must make Assign fail rather than hand out
// an unusable register.
type fixedFile struct {
	fakeFile
}

func (f *fixedFile) IsFixed(r regfile.Register) bool { return true }
