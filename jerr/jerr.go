// Package jerr defines the builtin exception taxonomy shared by every stage of the compiler
// pipeline: type layout, IR construction, the CFG builder, liveness, the register allocator and
// the codegen driver. All error paths in the core fold into these sentinels so that callers can
// use errors.Is instead of string matching, the same role util/perror.go plays for fan-in of
// worker goroutine errors during parallel passes.
package jerr

import (
	"errors"
	"fmt"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// CompileError wraps an opcode-scoped failure raised by the register allocator or the codegen
// driver when no register in the required class can satisfy the instruction's constraint set.
type CompileError struct {
	Op     fmt.Stringer // Op identifies the offending opcode. Stored as fmt.Stringer to avoid an import cycle with ir/opcode.
	Reason string       // Reason is a human readable explanation.
}

// ---------------------
// ----- Constants -----
// ---------------------

// ---------------------
// ----- Globals -----
// ---------------------

// ErrOverflow is raised when an arithmetic result does not fit in its destination type.
var ErrOverflow = errors.New("jit: integer overflow")

// ErrArithmetic is raised by signal translation or explicit instructions for illegal arithmetic.
var ErrArithmetic = errors.New("jit: arithmetic exception")

// ErrDivisionByZero is raised by integer division/remainder instructions with a zero divisor.
var ErrDivisionByZero = errors.New("jit: division by zero")

// ErrNullReference is raised when a load or store dereferences a null pointer.
var ErrNullReference = errors.New("jit: null reference")

// ErrNullFunction is raised when a call instruction targets a null function pointer.
var ErrNullFunction = errors.New("jit: null function")

// ErrNullReferenceArg is raised when a null pointer is passed where a non-null argument is required.
var ErrNullReferenceArg = errors.New("jit: null reference argument")

// ErrOutOfMemory is raised by any allocation failure; it unwinds to the codegen driver, which
// releases the in-progress code region and returns the error to the caller.
var ErrOutOfMemory = errors.New("jit: out of memory")

// ErrCompileError is raised for IR inconsistencies, such as a register class with no satisfying
// assignment, or an on-demand compiler hook that returned nothing.
var ErrCompileError = errors.New("jit: compile error")

// ErrUndefinedLabel is raised by cfg.Build when a branch target is not bound to any block.
var ErrUndefinedLabel = errors.New("jit: undefined label")

// ErrMemoryFull is internal to the codegen driver: a backend emitter raises it when the code
// buffer would overflow mid-instruction, which triggers the restart-with-larger-page loop. It
// must never escape codegen.Compile.
var ErrMemoryFull = errors.New("jit: memory full")

// ---------------------
// ----- Functions -----
// ---------------------

// Error implements the error interface for CompileError, composing with ErrCompileError so that
// errors.Is(err, jerr.ErrCompileError) holds for every CompileError value.
func (e *CompileError) Error() string {
	return fmt.Sprintf("jit: compile error: %s: %s", e.Op, e.Reason)
}

// Unwrap allows errors.Is/errors.As to see CompileError as an ErrCompileError.
func (e *CompileError) Unwrap() error {
	return ErrCompileError
}

// NewCompileError constructs a CompileError for opcode op with the given reason.
func NewCompileError(op fmt.Stringer, reason string) error {
	return &CompileError{Op: op, Reason: reason}
}
