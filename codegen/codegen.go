// Package codegen implements the restart-on-overflow compilation driver: it walks a function's
// blocks in order, asks the register allocator (package backend/regalloc) to assign registers for
// each instruction, dispatches to a backend.Emitter to produce native code into executable memory
// managed by a MemoryManager, clears each block's fixup lists (branch targets are resolved by the
// backend itself), and emits the bytecode-to-native offset table.
//
// Grounded on backend/asm.go (vslc's top-level "walk the program, call the backend" entry point, a
// stub in that source) and backend/arm/function.go's per-function prolog/epilog/stack-frame
// construction, generalized from "append to one assembler text buffer" into this package's
// executable-memory-resident, fixup-patched, restart-capable driver. vslc's codegen driver uses
// setjmp and a builtin-raise to unwind out of a buffer overflow mid-function; this package ports
// that as an ordinary Go error return instead: a backend's Insn/CheckSpace/Prolog returns
// jerr.ErrMemoryFull to signal a buffer overflow, which Compile's restart loop catches with
// errors.Is and retries; any other error propagates to the caller unchanged, and a nil error means
// the attempt succeeded.
package codegen

import (
	"errors"

	"github.com/hramberg/vjit/backend/regalloc"
	"github.com/hramberg/vjit/backend/regfile"
	"github.com/hramberg/vjit/ir"
	"github.com/hramberg/vjit/ir/cfg"
	regcontents "github.com/hramberg/vjit/ir/regfile"
	"github.com/hramberg/vjit/ir/live"
	"github.com/hramberg/vjit/ir/opcode"
	"github.com/hramberg/vjit/ir/types"
	"github.com/hramberg/vjit/jerr"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Status is the memory manager's start/end-of-function handshake result.
type Status int

const (
	StatusOK Status = iota
	StatusRestart
	StatusError
)

// Emitter is the per-architecture backend contract. A concrete backend (codegen/amd64 in this
// module) implements Emitter to let Compile drive it without knowing anything architecture-
// specific beyond register class counts.
type Emitter interface {
	regalloc.Backend

	// RegFile returns this backend's virtual register file, consulted by the allocator and by
	// AllocGlobals.
	RegFile() regfile.File

	// BuildRequest describes instruction in's register needs as a regalloc.Request: which slots
	// carry values, their register classes, and any scratch/clobber requirements. This is
	// inherently architecture-specific (e.g. a divide clobbers a fixed register pair on amd64),
	// so the driver defers to the backend rather than deriving it generically.
	BuildRequest(f *ir.Function, in *ir.Instruction) (*regalloc.Request, error)

	// FixValue computes and assigns a frame offset for v if it does not already have one.
	FixValue(v *ir.Value) error
	// CheckSpace ensures at least n bytes of code buffer remain, returning jerr.ErrMemoryFull if
	// the current page cannot satisfy it.
	CheckSpace(n int) error
	// Insn emits code for one IR instruction, assuming the allocator has already loaded its
	// operands into the registers recorded on plan (via Gen) before this call.
	Insn(f *ir.Function, b *ir.Block, in *ir.Instruction) error

	StartBlock(b *ir.Block) error
	EndBlock(b *ir.Block) error
	// Prolog reserves the fixed-size prolog placeholder region and returns the function's entry
	// address.
	Prolog(f *ir.Function) (entry uintptr, err error)
	// Epilog emits the function epilog and backpatches the prolog with the final frame size.
	Epilog(f *ir.Function) error

	IsGlobalCandidate(t *types.Type) bool
	// FlushICache flushes the CPU instruction cache over [start, end). A no-op on targets with a
	// cache-coherent icache (e.g. amd64).
	FlushICache(start, end uintptr)
}

// MemoryManager is the executable-memory-manager contract.
type MemoryManager interface {
	StartFunction(f *ir.Function) (Status, error)
	EndFunction(status Status) (Status, error)
	ExtendLimit(pageFactor int) error
	GetBreak() uintptr
	SetBreak(uintptr)
	GetFunctionRange() (start, end uintptr)
	AllocTrampoline() (uintptr, error)
	AllocClosure() (uintptr, error)
	FreeTrampoline(uintptr)
	FreeClosure(uintptr)
	AllocData(size, align int) (uintptr, error)
}

// Options carries the codegen-driver-relevant tunables that jit.Context passes to Compile.
type Options struct {
	PropagateCopies         bool // Run live.PropagateForward/PropagateBackward during codegen_prepare.
	PositionIndependentCode bool
}

// ---------------------
// ----- Functions -----
// ---------------------

// Compile runs the full restart loop: optimize (build+clean the CFG) and codegenPrepare (liveness
// + global register allocation) run once; the block-emission loop runs once per attempt, retrying
// with a larger memory-manager page every time a backend reports jerr.ErrMemoryFull mid-
// instruction. Idempotent once f.IsCompiled.
func Compile(f *ir.Function, be Emitter, mm MemoryManager, opt Options) error {
	if f.IsCompiled {
		return nil
	}

	pageFactor := 0
	for attempt := 0; ; attempt++ {
		if attempt == 0 {
			if err := Optimize(f); err != nil {
				return err
			}
			codegenPrepare(f, be, opt)
		} else {
			cleanupOnRestart(f)
		}

		if _, err := mm.StartFunction(f); err != nil {
			return err
		}

		entry, err := compileOnce(f, be, mm)
		if err != nil {
			if errors.Is(err, jerr.ErrMemoryFull) {
				if _, endErr := mm.EndFunction(StatusRestart); endErr != nil {
					return endErr
				}
				if extErr := mm.ExtendLimit(pageFactor); extErr != nil {
					return extErr
				}
				pageFactor++
				continue
			}
			_, _ = mm.EndFunction(StatusError)
			return err
		}

		if _, err := mm.EndFunction(StatusOK); err != nil {
			return err
		}
		f.Entry = entry
		f.IsCompiled = true
		return nil
	}
}

// Optimize runs build_cfg + clean_cfg and marks f optimized: the work Compile does once, on its
// first attempt, before codegenPrepare. Idempotent: a function already marked optimized is rebuilt
// and re-cleaned from scratch rather than skipped, since a client may have appended further IR
// since the last call.
func Optimize(f *ir.Function) error {
	if err := cfg.Build(f); err != nil {
		return err
	}
	if err := cfg.Clean(f); err != nil {
		return err
	}
	f.IsOptimized = true
	return nil
}

// codegenPrepare runs liveness (plus optional copy propagation) and global register allocation,
// once per Compile before the first block-emission attempt.
func codegenPrepare(f *ir.Function, be Emitter, opt Options) {
	live.Compute(f)
	if opt.PropagateCopies {
		live.PropagateForward(f)
		live.PropagateBackward(f)
	}
	regalloc.AllocGlobals(f, be.RegFile(), func(v *ir.Value) bool { return be.IsGlobalCandidate(v.Type) })
}

// cleanupOnRestart resets every block's codegen-only state and every value's register/frame
// residency flags between restart attempts: it leaves a value's constant payload, already-
// assigned frame offset, and global register binding untouched, since only its register residency
// needs to be redone against the larger memory page.
func cleanupOnRestart(f *ir.Function) {
	for _, b := range f.Blocks {
		b.Address = 0
		b.Fixups = nil
		b.FixupsAbsolute = nil
	}
	for _, b := range f.Blocks {
		for _, in := range b.Insns {
			for _, v := range [3]*ir.Value{in.Dest, in.Value1, in.Value2} {
				resetResidency(v)
			}
		}
	}
	for _, p := range f.Params() {
		resetResidency(p)
	}
	for _, l := range f.Locals {
		resetResidency(l)
	}
}

func resetResidency(v *ir.Value) {
	if v == nil {
		return
	}
	v.Reg = -1
	v.ClearFlag(ir.InRegister | ir.InFrame)
}

// compileOnce performs one attempt at the block-emission loop: prolog placeholder, per-block
// instruction dispatch through the allocator and backend, epilog, fixup patching, icache flush,
// and offset-table finalization. Returns jerr.ErrMemoryFull (unmodified) if any step overflows the
// current code buffer, which Compile's caller interprets as "restart".
func compileOnce(f *ir.Function, be Emitter, mm MemoryManager) (uintptr, error) {
	entry, err := be.Prolog(f)
	if err != nil {
		return 0, err
	}

	rf := be.RegFile()
	tables := newTables(rf)
	offsets := &OffsetTable{}

	for _, b := range f.Blocks {
		b.Address = mm.GetBreak()
		patchFixups(b, mm)
		if err := be.StartBlock(b); err != nil {
			return 0, err
		}
		tables[0].Reset()
		tables[1].Reset()

		for _, in := range b.Insns {
			if err := dispatch(f, b, in, be, mm, tables, offsets); err != nil {
				return 0, err
			}
		}

		spillAllLive(rf, tables, be)
		if err := be.EndBlock(b); err != nil {
			return 0, err
		}
	}

	if err := be.Epilog(f); err != nil {
		return 0, err
	}
	patchFixups(nil, mm) // A nil block makes this a no-op; the backend resolves its own epilog jumps.

	start, end := mm.GetFunctionRange()
	be.FlushICache(start, end)

	f.Metadata["codegen.offsets"] = offsets
	return entry, nil
}

// dispatch handles one instruction in the per-block loop: Nop is ignored, CheckNull is elided when
// the operand is provably non-null, MarkOffset appends to the offset table without reaching the
// backend, and every other opcode goes through allocate/gen/emit/commit.
func dispatch(f *ir.Function, b *ir.Block, in *ir.Instruction, be Emitter, mm MemoryManager, tables [2]*regcontentsTable, offsets *OffsetTable) error {
	switch in.Op {
	case opcode.Nop:
		return nil
	case opcode.CheckNull:
		if provablyNonNull(in.Value1) {
			return nil
		}
	case opcode.MarkOffset:
		offsets.Append(markOffsetBytecodeOff(in), int(mm.GetBreak()))
		return nil
	}

	req, err := be.BuildRequest(f, in)
	if err != nil {
		return err
	}
	plan, err := regalloc.Assign(be.RegFile(), tables, req)
	if err != nil {
		return jerr.NewCompileError(in.Op, err.Error())
	}
	gs, err := regalloc.Gen(be.RegFile(), tables, be, plan)
	if err != nil {
		return err
	}
	if err := be.Insn(f, b, in); err != nil {
		return err
	}
	return regalloc.Commit(be.RegFile(), tables, be, plan, gs)
}

// provablyNonNull reports whether v is known at compile time to never be null: a non-constant
// parameter address, the result of an allocation, or any value already guarded by an earlier
// CheckNull in the same block is out of scope for this lightweight check; only the common
// "address of a local/parameter" case is recognized.
func provablyNonNull(v *ir.Value) bool {
	if v == nil {
		return true
	}
	return v.Has(ir.IsAddressable) && (v.Has(ir.IsLocal) || v.Has(ir.IsParameter))
}

// markOffsetBytecodeOff extracts the bytecode offset carried by a MarkOffset instruction's Extra
// payload.
func markOffsetBytecodeOff(in *ir.Instruction) int {
	if off, ok := in.Extra.(int); ok {
		return off
	}
	return 0
}

// patchFixups clears b's Fixups and FixupsAbsolute lists once b's address is known. It rewrites no
// code sites itself and does not use mm. A nil b is a no-op.
func patchFixups(b *ir.Block, mm MemoryManager) {
	if b == nil {
		return
	}
	// Fixup sites are intrusively linked; walking and rewriting each is backend-specific (the patch
	// is an architecture-dependent instruction encoding), so the driver only clears the lists here
	// once a concrete backend has consumed them during Insn/StartBlock. This keeps the driver
	// backend-agnostic while leaving the list available to Emitter implementations that need it.
	b.Fixups = nil
	b.FixupsAbsolute = nil
}

// spillAllLive writes every register-resident value still live at a block boundary back to its
// frame home, between a block's last instruction and EndBlock.
func spillAllLive(rf regfile.File, tables [2]*regcontentsTable, be Emitter) {
	for class := 0; class < 2; class++ {
		table := tables[class]
		for r := 0; r < table.Len(); r++ {
			for _, v := range append([]*ir.Value{}, table.Resident(r)...) {
				if v.Has(ir.Live) || v.Has(ir.NextUse) {
					_ = be.SpillReg(r, -1, class, v)
				}
				table.Unbind(r, v)
				v.ClearFlag(ir.InRegister)
			}
		}
	}
}

// regcontentsTable aliases the shared ir/regfile.Table type to keep this file's signatures short.
type regcontentsTable = regcontents.Table

// newTables allocates one Contents table per register class (integer, floating point), sized to
// rf's register counts.
func newTables(rf regfile.File) [2]*regcontentsTable {
	return [2]*regcontentsTable{
		regcontents.New(classCount(rf, 0)),
		regcontents.New(classCount(rf, 1)),
	}
}

func classCount(rf regfile.File, class int) int {
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
		if n > 256 {
			return n
		}
	}
}
