package ir

import (
	"fmt"

	"github.com/hramberg/vjit/ir/opcode"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// InsnFlags is the 16-bit per-instruction flags word: liveness/next-use for each of the three
// slots, plus bits describing how each slot should be interpreted (a slot may hold a Value, a
// label, a function, a signature or a native pointer).
type InsnFlags uint16

const (
	DestLive InsnFlags = 1 << iota
	DestNextUse
	Value1Live
	Value1NextUse
	Value2Live
	Value2NextUse

	// Slot-kind bits: when unset, a slot is interpreted as a Value (the common case).
	DestIsLabel
	Value1IsLabel
	Value2IsLabel
	DestIsFunction
	Value1IsFunction
	Value2IsFunction
	DestIsNative // Slot holds a native pointer constant rather than a Value.

	// DestIsValueWrite distinguishes an ordinary destination write from the "dest is also an
	// input value" case used by store-relative instructions: in that case liveness must not treat
	// the dest slot as a kill.
	DestIsValueWrite
)

// Instruction is an opcode plus up to three value slots and the flags word above.
type Instruction struct {
	Op             opcode.Op
	Dest           *Value
	Value1, Value2 *Value

	// Label/function slot payloads, used when the corresponding *IsLabel/*IsFunction bit is set.
	DestLabel, Value1Label, Value2Label *Block
	DestFunc, Value1Func, Value2Func    *Function

	// Extra carries opcode-specific auxiliary data: the jump table's destination list for
	// opcode.JumpTable, the relative offset for opcode.LoadRelative/StoreRelative, the call
	// argument list for opcode.Call family, and the relational operator for the branch/compare
	// family.
	Extra interface{}

	Flags InsnFlags

	Block *Block
	id    int
}

// CallArgs is the Extra payload of a Call/CallNoThrow/TailCall/CallFinally/CallFilter
// instruction.
type CallArgs struct {
	Target *Function
	Args   []*Value
}

// JumpTargets is the Extra payload of a JumpTable instruction.
type JumpTargets struct {
	Targets []*Block
}

// RelOffset is the Extra payload of a LoadRelative/StoreRelative instruction.
type RelOffset struct {
	Base   *Value
	Offset int
}

// ---------------------
// ----- Functions -----
// ---------------------

// ID returns the instruction's function-unique identifier.
func (i *Instruction) ID() int {
	return i.id
}

// String renders Instruction i in a debug-friendly three-address form.
func (i *Instruction) String() string {
	switch {
	case i.Dest != nil && i.Value2 != nil:
		return fmt.Sprintf("%s = %s %s, %s", i.Dest, i.Op, i.Value1, i.Value2)
	case i.Dest != nil && i.Value1 != nil:
		return fmt.Sprintf("%s = %s %s", i.Dest, i.Op, i.Value1)
	case i.Dest != nil:
		return fmt.Sprintf("%s = %s", i.Dest, i.Op)
	case i.Value1 != nil:
		return fmt.Sprintf("%s %s", i.Op, i.Value1)
	default:
		return i.Op.String()
	}
}

// OperandSlots returns the non-label, non-function Value-kind slots referenced by instruction i,
// in (dest, value1, value2) order, skipping nil and constant-folded-away slots. Used by liveness
// and the register allocator, both of which only care about Value-kind slots.
func (i *Instruction) OperandSlots() (dest, v1, v2 *Value) {
	if i.Flags&DestIsLabel == 0 && i.Flags&DestIsFunction == 0 {
		dest = i.Dest
	}
	if i.Flags&Value1IsLabel == 0 && i.Flags&Value1IsFunction == 0 {
		v1 = i.Value1
	}
	if i.Flags&Value2IsLabel == 0 && i.Flags&Value2IsFunction == 0 {
		v2 = i.Value2
	}
	return
}
