// Package arm64 implements a backend/regfile.File for the aarch64 general-purpose and floating
// point register banks. Ported from vslc's backend/arm/armv8.go RegisterFile/register pair (same
// x0-x30/d0-d30 naming, the same r19-28 callee-saved / r9-17 caller-saved / r0-7
// argument-and-result carve-up), generalized from its ad hoc LRU `use` counter into
// backend/regfile.File's classification and pairing queries.
package arm64

import (
	"fmt"

	"github.com/hramberg/vjit/backend/regfile"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

const (
	typeInt = iota
	typeFloat
)

// register is one physical aarch64 register, integer or floating point.
type register struct {
	typ  int
	idx  int
	used bool
	age  int // LRU tie-break counter, bumped on every allocation.
}

// File implements backend/regfile.File for aarch64.
type File struct {
	regi [31]*register
	regf [31]*register
	clk  int
}

// ---------------------
// ----- Constants -----
// ---------------------

const (
	r0 = iota
	r1
	r2
	r3
	r4
	r5
	r6
	r7
	r8
	r9
	r18 = 18
	r19 = 19
	r28 = 28
	r29 = 29 // Frame pointer.
	r30 = 30 // Link register.
)

var regiNames = [...]string{
	"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7", "x8", "x9", "x10", "x11", "x12", "x13", "x14",
	"x15", "x16", "x17", "x18", "x19", "x20", "x21", "x22", "x23", "x24", "x25", "x26", "x27",
	"x28", "fp", "lr",
}

var regfNames = [...]string{
	"d0", "d1", "d2", "d3", "d4", "d5", "d6", "d7", "d8", "d9", "d10", "d11", "d12", "d13", "d14",
	"d15", "d16", "d17", "d18", "d19", "d20", "d21", "d22", "d23", "d24", "d25", "d26", "d27",
	"d28", "d29", "d30",
}

// ---------------------
// ----- Functions -----
// ---------------------

// New builds an aarch64 File with every register free.
func New() *File {
	f := &File{}
	for i := range f.regi {
		f.regi[i] = &register{typ: typeInt, idx: i}
	}
	for i := range f.regf {
		f.regf[i] = &register{typ: typeFloat, idx: i}
	}
	return f
}

func (r *register) Id() int   { return r.idx }
func (r *register) Type() int { return r.typ }
func (r *register) String() string {
	if r.typ == typeInt {
		return regiNames[r.idx]
	}
	return regfNames[r.idx]
}

func (f *File) SP() regfile.Register { return &register{typ: typeInt, idx: r30 + 1} }
func (f *File) LR() regfile.Register { return f.regi[r30] }
func (f *File) FP() regfile.Register { return f.regi[r29] }

func (f *File) GetI(i int) regfile.Register {
	if i < 0 || i >= len(f.regi) {
		return nil
	}
	return f.regi[i]
}

func (f *File) GetF(i int) regfile.Register {
	if i < 0 || i >= len(f.regf) {
		return nil
	}
	return f.regf[i]
}

func (f *File) FreeI(i int) {
	if i >= 0 && i < len(f.regi) {
		f.regi[i].used = false
	}
}

func (f *File) FreeF(i int) {
	if i >= 0 && i < len(f.regf) {
		f.regf[i].used = false
	}
}

// GetNextTempI returns the least-recently-used free integer register from r9-r17, then r19-r28
// (caller-saved before callee-saved), matching vslc's allocation order.
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
	order := make([]int, 0, 20)
	for i := r9; i <= 17; i++ {
		order = append(order, i)
	}
	for i := r19; i <= r28; i++ {
		order = append(order, i)
	}
	for _, idx := range order {
		cand := f.regi[idx]
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
	for i := 0; i <= 23; i++ {
		cand := f.regf[i]
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

// Ki returns the number of usable temporary integer registers: r9-r17 and r19-r28.
func (f *File) Ki() int { return 9 + 10 }

// Kf returns the number of usable temporary floating point registers: v0-v23.
func (f *File) Kf() int { return 24 }

// Pair always returns false: aarch64 is an LP64 target, so no value ever splits
// across a register pair.
func (f *File) Pair(regfile.Register) (regfile.Register, bool) { return nil, false }

func (f *File) IsCalleeSaved(r regfile.Register) bool {
	if r == nil {
		return false
	}
	if r.Type() == typeInt {
		return r.Id() >= r19 && r.Id() <= r28
	}
	return r.Id() >= 8 && r.Id() <= 15
}

func (f *File) IsGlobal(r regfile.Register) bool { return f.IsCalleeSaved(r) }

func (f *File) IsCallUsed(r regfile.Register) bool {
	if r == nil {
		return false
	}
	if r.Type() == typeInt {
		return r.Id() <= 17
	}
	return r.Id() <= 7
}

func (f *File) IsFixed(r regfile.Register) bool {
	if r == nil {
		return false
	}
	return r.Type() == typeInt && (r.Id() == r18 || r.Id() == r29 || r.Id() == r30)
}

// NumGlobalRegs is the number of callee-saved integer registers available for global allocation.
func (f *File) NumGlobalRegs() int { return r28 - r19 + 1 }

// GlobalReg returns the i'th global-eligible register, highest-numbered first (r28, r27, ...): a
// global allocation pre-pass assigns the top N candidates in reverse so the hottest values land on
// the highest-numbered callee-saved registers.
func (f *File) GlobalReg(i int) regfile.Register {
	idx := r28 - i
	if idx < r19 || idx > r28 {
		return nil
	}
	return f.regi[idx]
}

// HasStack reports false: aarch64 has no x87-style float stack.
func (f *File) HasStack() bool { return false }

// InhibitedForArgs reserves r0-r7, the aarch64 argument/result registers.
func (f *File) InhibitedForArgs() regfile.Mask {
	var m regfile.Mask
	for i := r0; i <= r7; i++ {
		m = m.With(i)
	}
	return m
}

var _ fmt.Stringer = (*register)(nil)
