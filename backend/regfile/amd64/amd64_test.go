package amd64

import (
	"testing"

	"github.com/hramberg/vjit/backend/regfile"
)

func TestSPAndFPAreFixed(t *testing.T) {
	f := New()
	if !f.IsFixed(f.SP()) {
		t.Error("SP should be fixed")
	}
	if !f.IsFixed(f.FP()) {
		t.Error("FP (BP) should be fixed")
	}
	if f.IsFixed(f.GetI(slotAX)) {
		t.Error("AX should not be fixed")
	}
}

func TestGetNextTempISkipsFixedAndUsedRegisters(t *testing.T) {
	f := New()
	r := f.GetNextTempI()
	if r == nil {
		t.Fatal("expected a free temp register")
	}
	if f.IsFixed(r) {
		t.Fatalf("GetNextTempI must never hand out SP or BP, got %s", r)
	}
}

func TestGetNextTempIExcludesListedRegisters(t *testing.T) {
	f := New()
	ax := f.GetI(slotAX)
	r := f.GetNextTempIExclude([]regfile.Register{ax})
	if r == nil {
		t.Fatal("expected a free temp register")
	}
	if r.Id() == ax.Id() {
		t.Fatal("GetNextTempIExclude should not return an excluded register")
	}
}

func TestFreeIMakesRegisterAvailableAgain(t *testing.T) {
	f := New()
	for i := 0; i < f.Ki(); i++ {
		f.GetNextTempI()
	}
	if f.GetNextTempI() != nil {
		t.Fatal("every usable integer register should be exhausted")
	}
	f.FreeI(slotCX)
	if f.GetNextTempI() == nil {
		t.Fatal("freeing a register should make it available again")
	}
}

func TestCalleeSavedRegistersAreGlobalCandidates(t *testing.T) {
	f := New()
	bx := f.GetI(slotBX)
	if !f.IsCalleeSaved(bx) {
		t.Error("BX should be callee-saved")
	}
	if !f.IsGlobal(bx) {
		t.Error("a callee-saved register should be a global-allocation candidate")
	}
	if f.IsCallUsed(bx) {
		t.Error("a callee-saved register should not be reported call-clobbered")
	}
	ax := f.GetI(slotAX)
	if !f.IsCallUsed(ax) {
		t.Error("AX is caller-saved and should be reported call-clobbered")
	}
}

func TestGlobalRegReturnsHighestNumberedFirst(t *testing.T) {
	f := New()
	first := f.GlobalReg(0)
	if first == nil || first.Id() != slotR15 {
		t.Fatalf("GlobalReg(0) should be R15, got %v", first)
	}
	if f.GlobalReg(f.NumGlobalRegs()) != nil {
		t.Fatal("GlobalReg should return nil past NumGlobalRegs")
	}
}

func TestInhibitedForArgsCoversIntegerArgumentRegisters(t *testing.T) {
	f := New()
	mask := f.InhibitedForArgs()
	for _, slot := range []int{slotDI, slotSI, slotDX, slotCX, slotR8, slotR9} {
		if !mask.Has(slot) {
			t.Errorf("InhibitedForArgs mask missing slot %d", slot)
		}
	}
	if mask.Has(slotAX) {
		t.Error("AX is not a System V argument register and should not be inhibited")
	}
}

func TestEveryXMMRegisterIsCallUsed(t *testing.T) {
	f := New()
	x0 := f.GetF(0)
	if !f.IsCallUsed(x0) {
		t.Error("every XMM register is caller-saved under System V")
	}
	if f.IsGlobal(x0) {
		t.Error("amd64's File models no global-eligible XMM registers")
	}
}
