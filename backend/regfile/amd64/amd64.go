// Package amd64 implements a backend/regfile.File over the x86-64 System V ABI's 16
// general-purpose registers and 16 XMM registers. New (grounded on the System V AMD64 ABI and on
// the register constants github.com/twitchyliquid64/golang-asm/obj/x86 exports for use by
// codegen/amd64's Emitter, the same constants _examples/other_examples' wazero JIT engine file
// reads as x86.REG_R12/x86.REG_R14 when reserving its own engine registers).
package amd64

import (
	"github.com/hramberg/vjit/backend/regfile"
	"github.com/twitchyliquid64/golang-asm/obj/x86"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

const (
	typeInt = iota
	typeFloat
)

type register struct {
	typ  int
	idx  int // Position in our 0-15 slot numbering, not the raw x86.REG_* constant.
	used bool
	age  int
}

// File implements backend/regfile.File for GOARCH=amd64.
type File struct {
	gp  [16]*register
	xmm [16]*register
	clk int
}

// ---------------------
// ----- Constants -----
// ---------------------

// Slot indices into gp, in System V calling-convention order: AX CX DX BX SP BP SI DI R8-R15.
const (
	slotAX = iota
	slotCX
	slotDX
	slotBX
	slotSP
	slotBP
	slotSI
	slotDI
	slotR8
	slotR9
	slotR10
	slotR11
	slotR12
	slotR13
	slotR14
	slotR15
)

// x86Reg maps our slot numbering to the obj/x86 REG_* constant codegen/amd64 emits against.
var x86Reg = [16]int16{
	x86.REG_AX, x86.REG_CX, x86.REG_DX, x86.REG_BX, x86.REG_SP, x86.REG_BP, x86.REG_SI, x86.REG_DI,
	x86.REG_R8, x86.REG_R9, x86.REG_R10, x86.REG_R11, x86.REG_R12, x86.REG_R13, x86.REG_R14, x86.REG_R15,
}

var gpNames = [...]string{
	"AX", "CX", "DX", "BX", "SP", "BP", "SI", "DI",
	"R8", "R9", "R10", "R11", "R12", "R13", "R14", "R15",
}

var xmmNames = [...]string{
	"X0", "X1", "X2", "X3", "X4", "X5", "X6", "X7",
	"X8", "X9", "X10", "X11", "X12", "X13", "X14", "X15",
}

// argOrder is the System V integer-argument register order: DI SI DX CX R8 R9.
var argOrder = [...]int{slotDI, slotSI, slotDX, slotCX, slotR8, slotR9}

// calleeSaved per System V: BX, BP, R12-R15 (SP is the stack pointer, handled separately).
var calleeSaved = [...]int{slotBX, slotBP, slotR12, slotR13, slotR14, slotR15}

// scratchOrder is this file's temp-register search order: caller-saved first (cheaper to hand
// out), callee-saved last (costlier: the prolog must save/restore them).
var scratchOrder = [...]int{slotAX, slotCX, slotDX, slotSI, slotDI, slotR8, slotR9, slotR10, slotR11,
	slotBX, slotR12, slotR13, slotR14, slotR15}

// ---------------------
// ----- Functions -----
// ---------------------

// New builds an amd64 File with every register free.
func New() *File {
	f := &File{}
	for i := range f.gp {
		f.gp[i] = &register{typ: typeInt, idx: i}
	}
	for i := range f.xmm {
		f.xmm[i] = &register{typ: typeFloat, idx: i}
	}
	return f
}

// X86Reg returns the obj/x86 REG_* constant for register r, for use by codegen/amd64's Emitter.
func X86Reg(r regfile.Register) int16 {
	if r == nil {
		return 0
	}
	if r.Type() == typeFloat {
		return x86.REG_X0 + int16(r.Id())
	}
	return x86Reg[r.Id()]
}

func (r *register) Id() int   { return r.idx }
func (r *register) Type() int { return r.typ }
func (r *register) String() string {
	if r.typ == typeInt {
		return gpNames[r.idx]
	}
	return xmmNames[r.idx]
}

func (f *File) SP() regfile.Register { return f.gp[slotSP] }
func (f *File) LR() regfile.Register { return nil } // amd64 has no link register; return address lives on the stack.
func (f *File) FP() regfile.Register { return f.gp[slotBP] }

func (f *File) GetI(i int) regfile.Register {
	if i < 0 || i >= len(f.gp) {
		return nil
	}
	return f.gp[i]
}

func (f *File) GetF(i int) regfile.Register {
	if i < 0 || i >= len(f.xmm) {
		return nil
	}
	return f.xmm[i]
}

func (f *File) FreeI(i int) {
	if i >= 0 && i < len(f.gp) {
		f.gp[i].used = false
	}
}

func (f *File) FreeF(i int) {
	if i >= 0 && i < len(f.xmm) {
		f.xmm[i].used = false
	}
}

func (f *File) GetNextTempI() regfile.Register { return f.GetNextTempIExclude(nil) }
func (f *File) GetNextTempF() regfile.Register { return f.GetNextTempFExclude(nil) }

func excluded(r regfile.Register, exc []regfile.Register) bool {
	for _, e := range exc {
		if e != nil && e.Id() == r.Id() && e.Type() == r.Type() {
			return true
		}
	}
	return false
}

func (f *File) GetNextTempIExclude(exc []regfile.Register) regfile.Register {
	var best *register
	for _, slot := range scratchOrder {
		if slot == slotSP || slot == slotBP {
			continue
		}
		cand := f.gp[slot]
		if cand.used || excluded(cand, exc) {
			continue
		}
		if best == nil || cand.age < best.age {
			best = cand
		}
	}
	if best == nil {
		return nil
	}
	best.used = true
	f.clk++
	best.age = f.clk
	return best
}

func (f *File) GetNextTempFExclude(exc []regfile.Register) regfile.Register {
	var best *register
	for _, x := range f.xmm {
		if x.used || excluded(x, exc) {
			continue
		}
		if best == nil || x.age < best.age {
			best = x
		}
	}
	if best == nil {
		return nil
	}
	best.used = true
	f.clk++
	best.age = f.clk
	return best
}

// Ki returns the usable integer temp count: every GP register but SP and BP.
func (f *File) Ki() int { return len(f.gp) - 2 }

// Kf returns the usable XMM temp count.
func (f *File) Kf() int { return len(f.xmm) }

// Pair always returns false: amd64 is this module's other LP64 target.
func (f *File) Pair(regfile.Register) (regfile.Register, bool) { return nil, false }

func (f *File) IsCalleeSaved(r regfile.Register) bool {
	if r == nil || r.Type() != typeInt {
		return false
	}
	for _, slot := range calleeSaved {
		if slot == r.Id() {
			return true
		}
	}
	return false
}

func (f *File) IsGlobal(r regfile.Register) bool { return f.IsCalleeSaved(r) }

func (f *File) IsCallUsed(r regfile.Register) bool {
	if r == nil {
		return false
	}
	if r.Type() == typeFloat {
		return true // Every XMM register is caller-saved under System V.
	}
	return !f.IsCalleeSaved(r) && r.Id() != slotSP && r.Id() != slotBP
}

func (f *File) IsFixed(r regfile.Register) bool {
	if r == nil || r.Type() != typeInt {
		return false
	}
	return r.Id() == slotSP || r.Id() == slotBP
}

// NumGlobalRegs is the number of callee-saved integer registers available for global allocation:
// every callee-saved register except BP, which is fixed as the frame pointer.
func (f *File) NumGlobalRegs() int { return len(calleeSaved) - 1 }

// GlobalReg returns the i'th global-eligible register, highest-numbered first (R15, R14, ...): a
// global allocation pre-pass assigns the top N candidates in reverse so the hottest values land on
// the highest-numbered callee-saved registers.
func (f *File) GlobalReg(i int) regfile.Register {
	if i < 0 || i >= f.NumGlobalRegs() {
		return nil
	}
	for j := len(calleeSaved) - 1; j >= 0; j-- {
		if calleeSaved[j] == slotBP {
			continue
		}
		if i == 0 {
			return f.gp[calleeSaved[j]]
		}
		i--
	}
	return nil
}

// HasStack reports false: this file models the SSE register set, not the legacy x87 stack.
func (f *File) HasStack() bool { return false }

// InhibitedForArgs reserves the System V integer argument registers DI SI DX CX R8 R9.
func (f *File) InhibitedForArgs() regfile.Mask {
	var m regfile.Mask
	for _, slot := range argOrder {
		m = m.With(slot)
	}
	return m
}
