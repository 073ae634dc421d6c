// Package opcode defines the exhaustive tagged union of three-address instruction opcodes used
// by package ir, replacing the source compiler's hand-rolled integer-range switch
// (OP_BR <= op <= OP_BR_NFGE_INV) with a handful of total classification functions (IsBranch,
// IsCall, IsTerminator, Inverts) instead of range checks; Inverts reports an opcode it cannot
// invert as an ErrUnknownOpcode error rather than a process abort.
package opcode

import "fmt"

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Op is a three-address instruction opcode.
type Op uint16

// ---------------------
// ----- Constants -----
// ---------------------

const (
	Nop Op = iota

	// Arithmetic / logical, binary.
	Add
	Sub
	Mul
	Div
	Rem
	LShift
	RShift
	And
	Xor
	Or

	// Arithmetic / logical, unary.
	Neg
	Not

	// Comparison (materializes a boolean-valued result; distinct from the branch family below).
	CmpEq
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe

	// Conditional branches, one per relational operator, signed/unsigned/float variants. These
	// are the opcodes subject to invertTable below.
	BrIEq
	BrINe
	BrILt
	BrILe
	BrIGt
	BrIGe
	BrULt
	BrULe
	BrUGt
	BrUGe
	BrFEq
	BrFNe
	BrFLt
	BrFLe
	BrFGt
	BrFGe
	// Negated-float variants: branch taken when the float comparison is false-or-unordered.
	BrNFLt
	BrNFLe
	BrNFGt
	BrNFGe

	// Unconditional transfers and terminators.
	Branch       // Unconditional branch to a label.
	Return       // Return, with or without a value.
	Throw        // Raise an exception.
	Rethrow      // Re-raise the current exception.
	CallFinally  // Call a finally handler.
	CallFilter   // Call an exception filter.
	JumpTable    // Multi-way branch via a table of labels.

	// Calls.
	Call        // Ordinary call; may unwind through an active catcher.
	CallNoThrow // Call known not to unwind.
	TailCall    // Tail call; disables global register allocation for the caller.

	// Memory.
	Load
	Store
	LoadRelative  // Load through a base + constant offset (struct field access).
	StoreRelative // Store through a base + constant offset; dest slot holds the address.

	// AddressOfLabel materializes the native address of a block as a pointer value, for a
	// computed-goto dispatch table or an exception-landing-pad reference. The referenced block is
	// marked address-taken and is exempt from cfg.Clean's branch-folding rewrites.
	AddressOfLabel

	// Copies, eligible for forward/backward copy propagation (see IsCopyPropagable).
	CopyInt
	CopyLoadSByte
	CopyLoadUByte
	CopyLoadShort
	CopyLoadUShort
	CopyLong
	CopyFloat32
	CopyFloat64
	CopyNFloat
	CopyStruct
	CopyStoreByte
	CopyStoreShort

	// Casts.
	Cast

	// Bookkeeping, never reaches a backend emitter.
	MarkOffset // Appends a (bytecode_off, native_off) pair to the varint encoder.
	CheckNull  // Elided by the driver when the operand is provably non-null.
	Import     // Lowered to compute the address of a capture slot in the parent frame.
	IncomingReg
	OutgoingReg
	ReturnReg

	numOpcodes
)

// ---------------------
// ----- Globals -----
// ---------------------

// ErrUnknownOpcode is returned by Inverts when asked to invert an opcode that has no documented
// inverse, instead of the source implementation's process abort.
var ErrUnknownOpcode = fmt.Errorf("opcode: no inverse defined")

var names = [...]string{
	Nop: "nop", Add: "add", Sub: "sub", Mul: "mul", Div: "div", Rem: "rem",
	LShift: "lshift", RShift: "rshift", And: "and", Xor: "xor", Or: "or", Neg: "neg", Not: "not",
	CmpEq: "cmp_eq", CmpNe: "cmp_ne", CmpLt: "cmp_lt", CmpLe: "cmp_le", CmpGt: "cmp_gt", CmpGe: "cmp_ge",
	BrIEq: "br_ieq", BrINe: "br_ine", BrILt: "br_ilt", BrILe: "br_ile", BrIGt: "br_igt", BrIGe: "br_ige",
	BrULt: "br_ult", BrULe: "br_ule", BrUGt: "br_ugt", BrUGe: "br_uge",
	BrFEq: "br_feq", BrFNe: "br_fne", BrFLt: "br_flt", BrFLe: "br_fle", BrFGt: "br_fgt", BrFGe: "br_fge",
	BrNFLt: "br_nflt", BrNFLe: "br_nfle", BrNFGt: "br_nfgt", BrNFGe: "br_nfge",
	Branch: "branch", Return: "return", Throw: "throw", Rethrow: "rethrow",
	CallFinally: "call_finally", CallFilter: "call_filter", JumpTable: "jump_table",
	Call: "call", CallNoThrow: "call_nothrow", TailCall: "tail_call",
	Load: "load", Store: "store", LoadRelative: "load_rel", StoreRelative: "store_rel",
	AddressOfLabel: "address_of_label",
	CopyInt: "copy_int", CopyLoadSByte: "copy_load_sbyte", CopyLoadUByte: "copy_load_ubyte",
	CopyLoadShort: "copy_load_short", CopyLoadUShort: "copy_load_ushort", CopyLong: "copy_long",
	CopyFloat32: "copy_float32", CopyFloat64: "copy_float64", CopyNFloat: "copy_nfloat",
	CopyStruct: "copy_struct", CopyStoreByte: "copy_store_byte", CopyStoreShort: "copy_store_short",
	Cast: "cast", MarkOffset: "mark_offset", CheckNull: "check_null", Import: "import",
	IncomingReg: "incoming_reg", OutgoingReg: "outgoing_reg", ReturnReg: "return_reg",
}

// invertTable is the condition-inversion table: br_ieq<->br_ine, br_ilt<->br_ige, and so on for
// signed/unsigned/float/negated-float variants.
var invertTable = map[Op]Op{
	BrIEq: BrINe, BrINe: BrIEq,
	BrILt: BrIGe, BrIGe: BrILt,
	BrILe: BrIGt, BrIGt: BrILe,
	BrULt: BrUGe, BrUGe: BrULt,
	BrULe: BrUGt, BrUGt: BrULe,
	BrFEq: BrFNe, BrFNe: BrFEq,
	BrFLt: BrNFGe, BrNFGe: BrFLt,
	BrFLe: BrNFGt, BrNFGt: BrFLe,
	BrFGt: BrNFLe, BrNFLe: BrFGt,
	BrFGe: BrNFLt, BrNFLt: BrFGe,
}

// ---------------------
// ----- Functions -----
// ---------------------

// String returns the textual mnemonic of Op op.
func (op Op) String() string {
	if int(op) < len(names) && names[op] != "" {
		return names[op]
	}
	return fmt.Sprintf("op(%d)", op)
}

// IsBranch reports whether op is a conditional or unconditional branch.
func IsBranch(op Op) bool {
	if op == Branch {
		return true
	}
	_, ok := invertTable[op]
	return ok
}

// IsConditionalBranch reports whether op is specifically a conditional branch (i.e. one that
// has a documented inverse).
func IsConditionalBranch(op Op) bool {
	_, ok := invertTable[op]
	return ok
}

// IsCall reports whether op is any flavor of call instruction.
func IsCall(op Op) bool {
	switch op {
	case Call, CallNoThrow, TailCall, CallFinally, CallFilter:
		return true
	default:
		return false
	}
}

// IsTerminator reports whether op ends a basic block.
func IsTerminator(op Op) bool {
	if IsBranch(op) {
		return true
	}
	switch op {
	case Return, Throw, Rethrow, JumpTable:
		return true
	default:
		return false
	}
}

// EdgeKind classifies the kind of control-flow edge an instruction's terminator produces.
type EdgeKind uint8

const (
	Fallthrough EdgeKind = iota
	EdgeBranch
	EdgeReturn
	EdgeException
)

// String returns the textual name of EdgeKind k.
func (k EdgeKind) String() string {
	switch k {
	case Fallthrough:
		return "fallthrough"
	case EdgeBranch:
		return "branch"
	case EdgeReturn:
		return "return"
	case EdgeException:
		return "exception"
	default:
		return "edge(?)"
	}
}

// ClassifyTerminator returns the documented edge kind for a terminator opcode. CallFinally/
// CallFilter/Call (which may unwind) all produce exception edges; ordinary non-terminator
// opcodes produce no explicit edge (callers should treat that as "fallthrough only").
func ClassifyTerminator(op Op) EdgeKind {
	switch {
	case op == Return:
		return EdgeReturn
	case IsBranch(op):
		return EdgeBranch
	case op == Throw || op == Rethrow:
		return EdgeException
	case op == CallFinally || op == CallFilter:
		return EdgeException
	case op == Call:
		return EdgeException
	case op == JumpTable:
		return EdgeBranch
	default:
		return Fallthrough
	}
}

// Inverts returns the logically inverted opcode for a conditional branch, e.g. br_ieq -> br_ine,
// br_ilt -> br_ige. Returns ErrUnknownOpcode for any opcode without a documented inverse, rather
// than aborting the process as the source compiler does.
func Inverts(op Op) (Op, error) {
	if inv, ok := invertTable[op]; ok {
		return inv, nil
	}
	return Nop, ErrUnknownOpcode
}

// IsCopyPropagable reports whether op is one of the copy opcodes eligible for forward/backward
// copy propagation.
func IsCopyPropagable(op Op) bool {
	switch op {
	case CopyInt, CopyLoadSByte, CopyLoadUByte, CopyLoadShort, CopyLoadUShort, CopyLong,
		CopyFloat32, CopyFloat64, CopyNFloat, CopyStruct, CopyStoreByte, CopyStoreShort:
		return true
	default:
		return false
	}
}
