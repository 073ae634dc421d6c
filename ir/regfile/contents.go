// Package regfile implements the register contents table: for each physical register, the set of
// ir.Value currently resident there, an LRU age counter, a used-for-scratch flag and the
// long-pair-half markers a 64-bit value split across two 32-bit registers needs. Kept as its own
// package (distinct from backend/regfile's per-target File contract) so the codegen driver and
// the register allocator share one view of "who lives where" without either owning it: the table
// holds Value pointers, not the other way around, avoiding a true ownership cycle.
package regfile

import "github.com/hramberg/vjit/ir"

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// entry is one physical register's residency record.
type entry struct {
	values      []*ir.Value
	age         uint64
	usedForTemp bool
	isLongStart bool
	isLongEnd   bool
}

// Table is the register contents table for one function's codegen pass. Indexed by a backend's
// own 0-based register numbering (integer and float classes are tracked in separate Tables by
// convention, matching backend/regfile.File's separate GetI/GetF addressing).
type Table struct {
	regs     []entry
	clk      uint64
	stackTop int // Valid only for register-stack files (backend/regfile.File.HasStack()).
}

// ---------------------
// ----- Functions -----
// ---------------------

// New allocates a Table sized for n physical registers.
func New(n int) *Table {
	return &Table{regs: make([]entry, n)}
}

// Resident returns the values currently recorded as resident in register r.
func (t *Table) Resident(r int) []*ir.Value {
	if r < 0 || r >= len(t.regs) {
		return nil
	}
	return t.regs[r].values
}

// Age returns register r's LRU counter: the clock value as of its most recent bind.
func (t *Table) Age(r int) uint64 {
	if r < 0 || r >= len(t.regs) {
		return 0
	}
	return t.regs[r].age
}

// UsedForTemp reports whether register r is currently reserved for emitter scratch use.
func (t *Table) UsedForTemp(r int) bool {
	if r < 0 || r >= len(t.regs) {
		return false
	}
	return t.regs[r].usedForTemp
}

// SetUsedForTemp marks register r as reserved (or not) for emitter scratch use.
func (t *Table) SetUsedForTemp(r int, used bool) {
	if r < 0 || r >= len(t.regs) {
		return
	}
	t.regs[r].usedForTemp = used
}

// LongHalves reports whether register r holds the start or end half of a 64-bit value split
// across a register pair.
func (t *Table) LongHalves(r int) (start, end bool) {
	if r < 0 || r >= len(t.regs) {
		return false, false
	}
	return t.regs[r].isLongStart, t.regs[r].isLongEnd
}

// Bind records that value v now resides in register r, bumping r's LRU age. isLongStart/
// isLongEnd mark the two halves of a register-pair-resident 64-bit value; both false for an
// ordinary single-register value.
func (t *Table) Bind(r int, v *ir.Value, isLongStart, isLongEnd bool) {
	if r < 0 || r >= len(t.regs) || v == nil {
		return
	}
	e := &t.regs[r]
	for _, have := range e.values {
		if have == v {
			t.touch(r)
			return
		}
	}
	e.values = append(e.values, v)
	e.isLongStart = e.isLongStart || isLongStart
	e.isLongEnd = e.isLongEnd || isLongEnd
	t.touch(r)
}

// touch bumps register r's LRU age to the table's current logical clock.
func (t *Table) touch(r int) {
	t.clk++
	t.regs[r].age = t.clk
}

// Unbind removes value v from register r's residency list. Clears the long-pair-half flags and
// used-for-temp marker once the register is empty.
func (t *Table) Unbind(r int, v *ir.Value) {
	if r < 0 || r >= len(t.regs) {
		return
	}
	e := &t.regs[r]
	for i, have := range e.values {
		if have == v {
			e.values = append(e.values[:i], e.values[i+1:]...)
			break
		}
	}
	if len(e.values) == 0 {
		e.isLongStart, e.isLongEnd, e.usedForTemp = false, false, false
	}
}

// Clear evicts every value from register r.
func (t *Table) Clear(r int) {
	if r < 0 || r >= len(t.regs) {
		return
	}
	t.regs[r] = entry{}
}

// Reset evicts every register's residency, for reuse across the codegen driver's per-block or
// restart-on-overflow reinitialization.
func (t *Table) Reset() {
	for i := range t.regs {
		t.regs[i] = entry{}
	}
	t.stackTop = 0
}

// Len reports how many physical registers this table tracks.
func (t *Table) Len() int {
	return len(t.regs)
}

// StackTop returns the current top-of-stack index for a register-stack file.
func (t *Table) StackTop() int {
	return t.stackTop
}

// SetStackTop updates the current top-of-stack index for a register-stack file.
func (t *Table) SetStackTop(n int) {
	t.stackTop = n
}

// Holders returns every register index in which value v is currently recorded resident.
func (t *Table) Holders(v *ir.Value) []int {
	var out []int
	for i := range t.regs {
		for _, have := range t.regs[i].values {
			if have == v {
				out = append(out, i)
				break
			}
		}
	}
	return out
}

// Invariant reports whether the table's bookkeeping agrees with each resident value's own Reg
// field and InRegister flag: for every register r, the set of values recorded as resident in r
// must agree with each resident value's Reg field and with InRegister being set.
func (t *Table) Invariant() bool {
	for r := range t.regs {
		for _, v := range t.regs[r].values {
			if v.Reg != r || !v.Has(ir.InRegister) {
				return false
			}
		}
	}
	return true
}
