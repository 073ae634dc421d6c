// Package amd64 is a real codegen.Emitter for GOARCH=amd64, built on
// github.com/twitchyliquid64/golang-asm the same way _examples/other_examples' wazero classic-JIT
// engine file builds its amd64 backend: an asm.Builder accumulates obj.Prog nodes for the whole
// function (newProg/addInstruction below are renamed copies of that file's helpers of the same
// name) and a single builder.Assemble() call at Epilog yields the final machine code, handed to
// the memory manager in one Write. Branch targets that are not yet known (a forward branch to a
// block not yet started) are resolved the same way that file's assignJumpTarget/
// onLabelStartCallbacks does: each block's first instruction is a NOP "anchor" Prog, and a branch
// to a block not yet reached registers a pending patch resolved when that block's StartBlock runs.
//
// vslc has no amd64 backend of its own (it has backend/arm and backend/riscv, both assembler-text
// emitters); this package is grounded on the wazero reference file for the golang-asm API shape and
// on backend/regalloc for the request/commit contract the register allocator drives it through.
package amd64

import (
	"fmt"
	"math"

	asm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/hramberg/vjit/backend/regalloc"
	"github.com/hramberg/vjit/backend/regfile"
	amd64regfile "github.com/hramberg/vjit/backend/regfile/amd64"
	"github.com/hramberg/vjit/codegen"
	"github.com/hramberg/vjit/ir"
	"github.com/hramberg/vjit/ir/opcode"
	"github.com/hramberg/vjit/ir/types"
	"github.com/hramberg/vjit/jerr"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// register slot indices, matching backend/regfile/amd64.File's System V slot order (AX CX DX BX SP
// BP SI DI R8-R15). That package keeps the slot constants unexported, so this file reproduces the
// ones it needs to pin explicit registers for divide and call instructions.
const (
	regAX = iota
	regCX
	regDX
	regBX
	regSP
	regBP
	regSI
	regDI
	regR8
	regR9
	regR10
	regR11
)

// argRegs is the System V integer-argument register order, reproduced from
// backend/regfile/amd64.File's argOrder for call argument marshalling.
var argRegs = [...]int{regDI, regSI, regDX, regCX, regR8, regR9}

// memManager is the subset of memmgr.Manager's API this backend needs beyond codegen.MemoryManager:
// a place to put the assembled bytes and a pre-flight space check. memmgr.Manager satisfies this
// interface structurally.
type memManager interface {
	codegen.MemoryManager
	Write(code []byte) error
	CheckSpace(n int) error
}

// pendingJump is a forward branch awaiting its target block's anchor instruction.
type pendingJump struct {
	prog *obj.Prog
}

// Backend implements codegen.Emitter for amd64.
type Backend struct {
	rf *amd64regfile.File
	mm memManager

	builder *asm.Builder
	f       *ir.Function

	blockAnchor  map[*ir.Block]*obj.Prog
	blockPending map[*ir.Block][]pendingJump

	reqs map[int]*regalloc.Request // Keyed by Instruction.ID(); built by BuildRequest, consumed by Insn.

	frameSize   int
	frameOffset map[*ir.Value]int

	prologFrameFix *obj.Prog   // SUBQ $0, SP placeholder patched with the real frame size in Epilog.
	epilogPending  []*obj.Prog // Return instructions' jumps to the (not yet emitted) epilog.
	entry          uintptr
}

// ---------------------
// ----- Functions -----
// ---------------------

// New constructs an amd64 Backend writing into mm.
func New(mm memManager) *Backend {
	return &Backend{rf: amd64regfile.New(), mm: mm}
}

// RegFile implements codegen.Emitter.
func (b *Backend) RegFile() regfile.File { return b.rf }

// IsGlobalCandidate implements codegen.Emitter: every scalar integer and pointer-shaped type may be
// bound to a callee-saved register; aggregates and floats are not (floats live in the XMM file,
// which this backend does not offer as global registers; see backend/regfile/amd64.File.GlobalReg).
func (b *Backend) IsGlobalCandidate(t *types.Type) bool {
	switch types.Normalize(t, types.DefaultABI) {
	case types.Float32, types.Float64, types.Struct, types.Union, types.Void:
		return false
	default:
		return true
	}
}

// FlushICache implements codegen.Emitter. amd64 has a coherent instruction cache, so this is a
// no-op (the same comment the wazero reference file makes about not needing cache maintenance).
func (b *Backend) FlushICache(start, end uintptr) {}

// CheckSpace implements codegen.Emitter, delegating to the memory manager's own check.
func (b *Backend) CheckSpace(n int) error { return b.mm.CheckSpace(n) }

// FixValue implements codegen.Emitter: assigns v a frame slot sized/aligned per its type, if it
// does not already have one.
func (b *Backend) FixValue(v *ir.Value) error {
	if v == nil {
		return nil
	}
	if _, ok := b.frameOffset[v]; ok {
		return nil
	}
	size := types.SizeOf(v.Type, types.DefaultABI)
	if b.frameOffset == nil {
		b.frameOffset = map[*ir.Value]int{}
	}
	if v.Has(ir.HasFrameOffset) {
		// Offset kept from an earlier attempt: record it in this attempt's frame.
		b.frameOffset[v] = v.FrameOffset
		if end := v.FrameOffset + size; end > b.frameSize {
			b.frameSize = end
		}
		return nil
	}
	align := types.AlignOf(v.Type, types.DefaultABI)
	if align < 1 {
		align = 1
	}
	b.frameSize = (b.frameSize + align - 1) &^ (align - 1)
	off := b.frameSize
	b.frameSize += size
	b.frameOffset[v] = off
	v.FrameOffset = off
	v.SetFlag(ir.HasFrameOffset)
	return nil
}

// Prolog implements codegen.Emitter: resets this attempt's builder state (a restart attempt starts
// codegen from scratch) and reserves a frame-adjustment placeholder to be patched once the final
// frame size is known.
func (b *Backend) Prolog(f *ir.Function) (uintptr, error) {
	builder, err := asm.NewBuilder("amd64", 1024)
	if err != nil {
		return 0, fmt.Errorf("amd64: new builder: %w", err)
	}
	b.builder = builder
	b.f = f
	b.blockAnchor = map[*ir.Block]*obj.Prog{}
	b.blockPending = map[*ir.Block][]pendingJump{}
	b.reqs = map[int]*regalloc.Request{}
	b.frameSize = 0
	b.frameOffset = map[*ir.Value]int{}
	b.epilogPending = nil

	entry := b.mm.GetBreak()

	push := b.newProg()
	push.As = x86.APUSHQ
	push.From.Type = obj.TYPE_REG
	push.From.Reg = x86.REG_BP
	b.addInstruction(push)

	movBP := b.newProg()
	movBP.As = x86.AMOVQ
	movBP.From.Type = obj.TYPE_REG
	movBP.From.Reg = x86.REG_SP
	movBP.To.Type = obj.TYPE_REG
	movBP.To.Reg = x86.REG_BP
	b.addInstruction(movBP)

	sub := b.newProg()
	sub.As = x86.ASUBQ
	sub.From.Type = obj.TYPE_CONST
	sub.From.Offset = 0 // Patched in Epilog once frameSize is final.
	sub.To.Type = obj.TYPE_REG
	sub.To.Reg = x86.REG_SP
	b.addInstruction(sub)
	b.prologFrameFix = sub

	for i, p := range f.Params() {
		if i >= len(argRegs) {
			break // Stack-passed arguments beyond the register window are out of this backend's scope.
		}
		if err := b.FixValue(p); err != nil {
			return 0, err
		}
		mv := b.newProg()
		mv.As = x86.AMOVQ
		mv.From.Type = obj.TYPE_REG
		mv.From.Reg = x86Reg(argRegs[i])
		mv.To.Type = obj.TYPE_MEM
		mv.To.Reg = x86.REG_BP
		mv.To.Offset = -int64(b.frameOffset[p]) - 8
		b.addInstruction(mv)
	}

	return entry, nil
}

// Epilog implements codegen.Emitter: emits the standard leave/ret sequence, backpatches the
// prolog's frame-size placeholder, assembles the whole function and writes it to the memory
// manager in one call.
func (b *Backend) Epilog(f *ir.Function) error {
	leave := b.newProg()
	leave.As = obj.ANOP
	b.addInstruction(leave)
	for _, jmp := range b.epilogPending {
		jmp.To.SetTarget(leave)
	}
	b.epilogPending = nil

	movSP := b.newProg()
	movSP.As = x86.AMOVQ
	movSP.From.Type = obj.TYPE_REG
	movSP.From.Reg = x86.REG_BP
	movSP.To.Type = obj.TYPE_REG
	movSP.To.Reg = x86.REG_SP
	b.addInstruction(movSP)

	pop := b.newProg()
	pop.As = x86.APOPQ
	pop.To.Type = obj.TYPE_REG
	pop.To.Reg = x86.REG_BP
	b.addInstruction(pop)

	ret := b.newProg()
	ret.As = obj.ARET
	b.addInstruction(ret)

	frameSize := (b.frameSize + 15) &^ 15 // 16-byte align the frame, per the System V ABI.
	b.prologFrameFix.From.Offset = int64(frameSize)

	code, err := b.builder.Assemble()
	if err != nil {
		return fmt.Errorf("amd64: assemble: %w", err)
	}
	if err := b.mm.CheckSpace(len(code)); err != nil {
		return err
	}
	if err := b.mm.Write(code); err != nil {
		return err
	}
	return nil
}

// StartBlock implements codegen.Emitter: plants block b's anchor NOP and resolves any pending
// forward branches that targeted it.
func (b *Backend) StartBlock(blk *ir.Block) error {
	anchor := b.newProg()
	anchor.As = obj.ANOP
	b.addInstruction(anchor)
	b.blockAnchor[blk] = anchor
	for _, pj := range b.blockPending[blk] {
		pj.prog.To.SetTarget(anchor)
	}
	delete(b.blockPending, blk)
	return nil
}

// EndBlock implements codegen.Emitter. Register residency at block boundaries is already flushed
// by the codegen driver's spillAllLive before this is called, so there is nothing block-specific
// left to emit here.
func (b *Backend) EndBlock(blk *ir.Block) error { return nil }

// ----------------------------------
// ----- golang-asm plumbing --------
// ----------------------------------

// newProg allocates a new, unlinked Prog node from the current builder.
func (b *Backend) newProg() *obj.Prog {
	return b.builder.NewProg()
}

// addInstruction appends prog to the builder's instruction stream.
func (b *Backend) addInstruction(prog *obj.Prog) {
	b.builder.AddInstruction(prog)
}

// branchTo emits jmp (an unconditional or already-configured conditional jump Prog whose .As/.To
// have been set by the caller) and resolves its target against blk: immediately if blk has already
// been started, or by queuing a pending patch for StartBlock to resolve otherwise.
func (b *Backend) branchTo(jmp *obj.Prog, blk *ir.Block) {
	jmp.To.Type = obj.TYPE_BRANCH
	if anchor, ok := b.blockAnchor[blk]; ok {
		jmp.To.SetTarget(anchor)
		return
	}
	b.blockPending[blk] = append(b.blockPending[blk], pendingJump{prog: jmp})
}

// x86Reg converts one of this file's regAX.. slot constants to the obj/x86 REG_* constant, via the
// same GetI(i)+amd64regfile.X86Reg bridge codegen/amd64 uses for allocator-assigned registers.
func x86Reg(slot int) int16 {
	return amd64regfile.X86Reg(amd64regfile.New().GetI(slot))
}

// ----------------------------------
// ----- regalloc.Backend (Gen/Commit side effects) --
// ----------------------------------

// LoadValue implements regalloc.Backend: materializes v into reg from its constant payload, from
// the register it currently occupies, from its global register when it currently lives there, or
// else from its frame home.
func (b *Backend) LoadValue(reg, reg2 int, class int, v *ir.Value) error {
	dst := classReg(b.rf, class, reg)
	if v.Has(ir.IsConstant) {
		return b.emitLoadConst(dst, class, v)
	}
	if v.Has(ir.InRegister) {
		return b.emitRegMove(class, dst, classReg(b.rf, class, v.Reg))
	}
	if v.Has(ir.HasGlobalRegister) && v.Has(ir.InGlobalRegister) {
		return b.emitRegMove(class, dst, classReg(b.rf, class, v.GlobalReg))
	}
	if err := b.FixValue(v); err != nil {
		return err
	}
	return b.emitFrameLoad(class, dst, b.frameOffset[v])
}

// SpillReg implements regalloc.Backend: writes v from reg to its frame home.
func (b *Backend) SpillReg(reg, reg2 int, class int, v *ir.Value) error {
	if err := b.FixValue(v); err != nil {
		return err
	}
	return b.emitFrameStore(class, classReg(b.rf, class, reg), b.frameOffset[v])
}

// SpillGlobal implements regalloc.Backend: same as SpillReg, used when reg is a callee-saved
// register temporarily clobbered by an instruction.
func (b *Backend) SpillGlobal(reg int, v *ir.Value) error {
	return b.SpillReg(reg, -1, 0, v)
}

// LoadGlobal implements regalloc.Backend: the converse of SpillGlobal, reloading v's global
// register from its frame home after the clobbering instruction has executed.
func (b *Backend) LoadGlobal(reg int, v *ir.Value) error {
	if err := b.FixValue(v); err != nil {
		return err
	}
	return b.emitFrameLoad(0, classReg(b.rf, 0, reg), b.frameOffset[v])
}

// ExchTop / MoveTop implement regalloc.Backend's register-stack primitives, unused by this file's
// SSE-based float register file (backend/regfile/amd64.File.HasStack reports false).
func (b *Backend) ExchTop(reg int) error { return nil }
func (b *Backend) MoveTop(reg int) error { return nil }

func classReg(rf *amd64regfile.File, class, idx int) regfile.Register {
	if class == 1 {
		return rf.GetF(idx)
	}
	return rf.GetI(idx)
}

func (b *Backend) emitRegMove(class int, dst, src regfile.Register) error {
	p := b.newProg()
	if class == 1 {
		p.As = x86.AMOVSD
	} else {
		p.As = x86.AMOVQ
	}
	p.From.Type = obj.TYPE_REG
	p.From.Reg = amd64regfile.X86Reg(src)
	p.To.Type = obj.TYPE_REG
	p.To.Reg = amd64regfile.X86Reg(dst)
	b.addInstruction(p)
	return nil
}

func (b *Backend) emitFrameLoad(class int, dst regfile.Register, off int) error {
	p := b.newProg()
	if class == 1 {
		p.As = x86.AMOVSD
	} else {
		p.As = x86.AMOVQ
	}
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = x86.REG_BP
	p.From.Offset = -int64(off) - 8
	p.To.Type = obj.TYPE_REG
	p.To.Reg = amd64regfile.X86Reg(dst)
	b.addInstruction(p)
	return nil
}

func (b *Backend) emitFrameStore(class int, src regfile.Register, off int) error {
	p := b.newProg()
	if class == 1 {
		p.As = x86.AMOVSD
	} else {
		p.As = x86.AMOVQ
	}
	p.From.Type = obj.TYPE_REG
	p.From.Reg = amd64regfile.X86Reg(src)
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = x86.REG_BP
	p.To.Offset = -int64(off) - 8
	b.addInstruction(p)
	return nil
}

// emitLoadConst materializes constant value v into dst. A float constant's bit pattern is loaded
// into GP register R11 and moved across to the XMM register, the same two-step "load bits, MOVQ to
// XMM" idiom golang-asm users follow in lieu of a literal pool, since this backend has none. R11
// may hold an allocator-assigned value, so it is pushed before and popped after the move.
func (b *Backend) emitLoadConst(dst regfile.Register, class int, v *ir.Value) error {
	if class == 1 {
		var bits int64
		if types.Normalize(v.Type, types.DefaultABI) == types.Float32 {
			bits = int64(math.Float32bits(float32(v.Const.F64)))
		} else {
			bits = int64(math.Float64bits(v.Const.F64))
		}
		save := b.newProg()
		save.As = x86.APUSHQ
		save.From.Type = obj.TYPE_REG
		save.From.Reg = x86.REG_R11
		b.addInstruction(save)

		mov := b.newProg()
		mov.As = x86.AMOVQ
		mov.From.Type = obj.TYPE_CONST
		mov.From.Offset = bits
		mov.To.Type = obj.TYPE_REG
		mov.To.Reg = x86.REG_R11
		b.addInstruction(mov)

		p := b.newProg()
		p.As = x86.AMOVQ
		p.From.Type = obj.TYPE_REG
		p.From.Reg = x86.REG_R11
		p.To.Type = obj.TYPE_REG
		p.To.Reg = amd64regfile.X86Reg(dst)
		b.addInstruction(p)

		restore := b.newProg()
		restore.As = x86.APOPQ
		restore.To.Type = obj.TYPE_REG
		restore.To.Reg = x86.REG_R11
		b.addInstruction(restore)
		return nil
	}
	p := b.newProg()
	p.As = x86.AMOVQ
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = v.Const.NInt
	p.To.Type = obj.TYPE_REG
	p.To.Reg = amd64regfile.X86Reg(dst)
	b.addInstruction(p)
	return nil
}

// ----------------------------------
// ----- BuildRequest ----------------
// ----------------------------------

// BuildRequest implements codegen.Emitter: describes instruction in's register needs as a
// regalloc.Request, caching it (keyed by instruction id) for Insn to consult once the allocator
// has assigned concrete registers.
func (b *Backend) BuildRequest(f *ir.Function, in *ir.Instruction) (*regalloc.Request, error) {
	req := &regalloc.Request{}
	dest, v1, v2 := in.OperandSlots()
	req.Values[0] = valueDesc(in, dest, in.Flags&ir.DestLive != 0, in.Flags&ir.DestNextUse != 0)
	req.Values[1] = valueDesc(in, v1, in.Flags&ir.Value1Live != 0, in.Flags&ir.Value1NextUse != 0)
	req.Values[2] = valueDesc(in, v2, in.Flags&ir.Value2Live != 0, in.Flags&ir.Value2NextUse != 0)

	switch in.Op {
	case opcode.Add, opcode.And, opcode.Xor, opcode.Or, opcode.CmpEq, opcode.CmpNe:
		req.Commutative = true
	case opcode.CmpLt, opcode.CmpLe, opcode.CmpGt, opcode.CmpGe:
		req.Reversible = true
	case opcode.Div, opcode.Rem:
		req.Values[1].Reg = regAX
		req.Values[2].Clobber = true
		req.Clobber = req.Clobber.With(regAX).With(regDX)
		if in.Op == opcode.Div {
			req.Values[0].Reg = regAX
		} else {
			req.Values[0].Reg = regDX
		}
	case opcode.Call, opcode.CallNoThrow, opcode.TailCall:
		req.Clobber = callClobberMask()
		if dest != nil {
			req.Values[0].Reg = regAX
		}
	}

	b.reqs[in.ID()] = req
	return req, nil
}

// valueDesc builds one regalloc.ValueDesc for value v, defaulting Reg/Reg2 to -1 ("not yet
// assigned") and Class from v's normalized type.
func valueDesc(in *ir.Instruction, v *ir.Value, live, nextUse bool) regalloc.ValueDesc {
	d := regalloc.ValueDesc{Value: v, Reg: -1, Reg2: -1, Live: live, NextUse: nextUse}
	if v == nil {
		return d
	}
	k := types.Normalize(v.Type, types.DefaultABI)
	if k == types.Float32 || k == types.Float64 {
		d.Class = 1
	}
	if k == types.Long || k == types.ULong {
		d.IsLong = true
	}
	return d
}

// callClobberMask returns the caller-saved integer registers a System V call destroys.
func callClobberMask() regfile.Mask {
	var m regfile.Mask
	for _, r := range [...]int{regAX, regCX, regDX, regSI, regDI, regR8, regR9, regR10, regR11} {
		m = m.With(r)
	}
	return m
}

// request returns the Request BuildRequest cached for in, consumed and discarded by Insn.
func (b *Backend) request(in *ir.Instruction) *regalloc.Request {
	req := b.reqs[in.ID()]
	delete(b.reqs, in.ID())
	return req
}

// ----------------------------------
// ----- opcode tables ---------------
// ----------------------------------

// binOp maps a binary integer opcode to its two-operand destructive x86 mnemonic (dst op= src).
var binOp = map[opcode.Op]obj.As{
	opcode.Add: x86.AADDQ, opcode.Sub: x86.ASUBQ, opcode.And: x86.AANDQ,
	opcode.Xor: x86.AXORQ, opcode.Or: x86.AORQ, opcode.Mul: x86.AIMULQ,
	opcode.LShift: x86.ASHLQ, opcode.RShift: x86.ASARQ,
}

var binOpF = map[opcode.Op]obj.As{
	opcode.Add: x86.AADDSD, opcode.Sub: x86.ASUBSD, opcode.Mul: x86.AMULSD, opcode.Div: x86.ADIVSD,
}

// setccFor maps a comparison opcode to its signed-integer SETcc mnemonic, the condition codes the
// wazero reference file's moveConditionalToGPRegister uses for br_if lowering.
var setccFor = map[opcode.Op]obj.As{
	opcode.CmpEq: x86.ASETEQ, opcode.CmpNe: x86.ASETNE,
	opcode.CmpLt: x86.ASETLT, opcode.CmpLe: x86.ASETLE, opcode.CmpGt: x86.ASETGT, opcode.CmpGe: x86.ASETGE,
}

// setccForF maps a comparison opcode to the SETcc mnemonic read after UCOMISD, which reports its
// result in the carry and zero flags (the same codes jccFor uses for the float branches).
var setccForF = map[opcode.Op]obj.As{
	opcode.CmpEq: x86.ASETEQ, opcode.CmpNe: x86.ASETNE,
	opcode.CmpLt: x86.ASETCS, opcode.CmpLe: x86.ASETLS, opcode.CmpGt: x86.ASETHI, opcode.CmpGe: x86.ASETCC,
}

// jccFor maps every conditional-branch opcode to its jump mnemonic: signed, unsigned and float
// (ordered/unordered) condition codes.
var jccFor = map[opcode.Op]obj.As{
	opcode.BrIEq: x86.AJEQ, opcode.BrINe: x86.AJNE,
	opcode.BrILt: x86.AJLT, opcode.BrILe: x86.AJLE, opcode.BrIGt: x86.AJGT, opcode.BrIGe: x86.AJGE,
	opcode.BrULt: x86.AJCS, opcode.BrULe: x86.AJLS, opcode.BrUGt: x86.AJHI, opcode.BrUGe: x86.AJCC,
	opcode.BrFEq: x86.AJEQ, opcode.BrFNe: x86.AJNE,
	opcode.BrFLt: x86.AJCS, opcode.BrFLe: x86.AJLS, opcode.BrFGt: x86.AJHI, opcode.BrFGe: x86.AJCC,
	opcode.BrNFLt: x86.AJCC, opcode.BrNFLe: x86.AJHI, opcode.BrNFGt: x86.AJLS, opcode.BrNFGe: x86.AJCS,
}

// isFloatBranch reports whether op's comparison operand class is floating point, so Insn knows
// whether to emit UCOMISD or CMPQ ahead of the jump.
func isFloatBranch(op opcode.Op) bool {
	switch op {
	case opcode.BrFEq, opcode.BrFNe, opcode.BrFLt, opcode.BrFLe, opcode.BrFGt, opcode.BrFGe,
		opcode.BrNFLt, opcode.BrNFLe, opcode.BrNFGt, opcode.BrNFGe:
		return true
	default:
		return false
	}
}

// ----------------------------------
// ----- Insn -------------------------
// ----------------------------------

// Insn implements codegen.Emitter: emits code for one IR instruction, assuming regalloc.Gen has
// already loaded its operands into the registers request() records. Covers the opcode set spec
// section 6 commits this backend to (ADDQ/SUBQ/IMULQ, CQO+IDIVQ, CMPQ+SETcc, JMP/JCC, CALL, RET,
// MOVQ load/store/spill variants) plus the remaining arithmetic, memory and copy opcodes in the
// same idiom.
func (b *Backend) Insn(f *ir.Function, blk *ir.Block, in *ir.Instruction) error {
	req := b.request(in)
	switch {
	case opcode.IsConditionalBranch(in.Op):
		return b.emitCondBranch(in, req)
	case in.Op == opcode.Branch:
		jmp := b.newProg()
		jmp.As = obj.AJMP
		b.addInstruction(jmp)
		b.branchTo(jmp, in.DestLabel)
		return nil
	}

	switch in.Op {
	case opcode.Return:
		return b.emitReturn(in, req)
	case opcode.Call, opcode.CallNoThrow, opcode.TailCall:
		return b.emitCall(in, req)
	case opcode.Neg, opcode.Not:
		return b.emitUnary(in, req)
	case opcode.Div, opcode.Rem:
		return b.emitDivRem(in, req)
	case opcode.CmpEq, opcode.CmpNe, opcode.CmpLt, opcode.CmpLe, opcode.CmpGt, opcode.CmpGe:
		return b.emitCompare(in, req)
	case opcode.Load:
		return b.emitLoad(classOf(in.Dest), destReg(req), srcReg(req, 1), 0)
	case opcode.Store:
		return b.emitStore(classOf(in.Value2), srcReg(req, 2), srcReg(req, 1), 0)
	case opcode.LoadRelative:
		off, base := relOffset(in)
		_ = base
		return b.emitLoad(classOf(in.Dest), destReg(req), srcReg(req, 1), off)
	case opcode.StoreRelative:
		off, _ := relOffset(in)
		return b.emitStore(classOf(in.Value1), srcReg(req, 1), destReg(req), off)
	case opcode.CopyInt, opcode.CopyLong, opcode.CopyFloat32, opcode.CopyFloat64, opcode.CopyNFloat, opcode.Cast:
		return b.emitRegMove(classOf(in.Dest), classReg(b.rf, classOf(in.Dest), reqReg(req, 0)), classReg(b.rf, classOf(in.Value1), reqReg(req, 1)))
	default:
		if as, ok := binOp[in.Op]; ok {
			return b.emitBinInt(as, req)
		}
		if as, ok := binOpF[in.Op]; ok {
			return b.emitBinFloat(as, req)
		}
		return jerr.NewCompileError(in.Op, "amd64: unsupported opcode")
	}
}

func classOf(v *ir.Value) int {
	if v == nil {
		return 0
	}
	if k := types.Normalize(v.Type, types.DefaultABI); k == types.Float32 || k == types.Float64 {
		return 1
	}
	return 0
}

func reqReg(req *regalloc.Request, slot int) int {
	if req == nil {
		return 0
	}
	return req.Values[slot].Reg
}

func destReg(req *regalloc.Request) int { return reqReg(req, 0) }
func srcReg(req *regalloc.Request, slot int) int { return reqReg(req, slot) }

// relOffset extracts the base/offset pair carried by a LoadRelative/StoreRelative instruction's
// Extra payload.
func relOffset(in *ir.Instruction) (int, *ir.Value) {
	if ro, ok := in.Extra.(*ir.RelOffset); ok {
		return ro.Offset, ro.Base
	}
	return 0, nil
}

func (b *Backend) emitBinInt(as obj.As, req *regalloc.Request) error {
	p := b.newProg()
	p.As = as
	p.From.Type = obj.TYPE_REG
	p.From.Reg = amd64regfile.X86Reg(classReg(b.rf, 0, reqReg(req, 2)))
	p.To.Type = obj.TYPE_REG
	p.To.Reg = amd64regfile.X86Reg(classReg(b.rf, 0, reqReg(req, 0)))
	b.addInstruction(p)
	return nil
}

func (b *Backend) emitBinFloat(as obj.As, req *regalloc.Request) error {
	p := b.newProg()
	p.As = as
	p.From.Type = obj.TYPE_REG
	p.From.Reg = amd64regfile.X86Reg(classReg(b.rf, 1, reqReg(req, 2)))
	p.To.Type = obj.TYPE_REG
	p.To.Reg = amd64regfile.X86Reg(classReg(b.rf, 1, reqReg(req, 0)))
	b.addInstruction(p)
	return nil
}

func (b *Backend) emitUnary(in *ir.Instruction, req *regalloc.Request) error {
	p := b.newProg()
	if in.Op == opcode.Neg {
		p.As = x86.ANEGQ
	} else {
		p.As = x86.ANOTQ
	}
	p.To.Type = obj.TYPE_REG
	p.To.Reg = amd64regfile.X86Reg(classReg(b.rf, 0, destReg(req)))
	b.addInstruction(p)
	return nil
}

// emitDivRem implements CQO+IDIVQ: BuildRequest already pinned the dividend/quotient to AX (Div)
// or AX/remainder to DX (Rem) and the divisor to whatever register the allocator chose.
func (b *Backend) emitDivRem(in *ir.Instruction, req *regalloc.Request) error {
	cqo := b.newProg()
	cqo.As = x86.ACQTO
	b.addInstruction(cqo)

	p := b.newProg()
	p.As = x86.AIDIVQ
	p.To.Type = obj.TYPE_REG
	p.To.Reg = amd64regfile.X86Reg(classReg(b.rf, 0, reqReg(req, 2)))
	b.addInstruction(p)
	return nil
}

// emitCompare implements CMPQ+SETcc (UCOMISD+SETcc for float operands) for a materializing
// comparison. For integer operands CmpLt/CmpLe/CmpGt/CmpGe are the signed forms; there is no
// unsigned materializing comparison, only the unsigned br_u* branch opcodes.
func (b *Backend) emitCompare(in *ir.Instruction, req *regalloc.Request) error {
	cls := classOf(in.Value1)
	cmp := b.newProg()
	if cls == 1 {
		cmp.As = x86.AUCOMISD
	} else {
		cmp.As = x86.ACMPQ
	}
	cmp.From.Type = obj.TYPE_REG
	cmp.From.Reg = amd64regfile.X86Reg(classReg(b.rf, cls, reqReg(req, 2)))
	cmp.To.Type = obj.TYPE_REG
	cmp.To.Reg = amd64regfile.X86Reg(classReg(b.rf, cls, reqReg(req, 1)))
	b.addInstruction(cmp)

	set := b.newProg()
	set.As = setccFor[in.Op]
	if cls == 1 {
		set.As = setccForF[in.Op]
	}
	set.To.Type = obj.TYPE_REG
	set.To.Reg = amd64regfile.X86Reg(classReg(b.rf, 0, destReg(req)))
	b.addInstruction(set)

	and := b.newProg()
	and.As = x86.AANDQ
	and.From.Type = obj.TYPE_CONST
	and.From.Offset = 1
	and.To.Type = obj.TYPE_REG
	and.To.Reg = amd64regfile.X86Reg(classReg(b.rf, 0, destReg(req)))
	b.addInstruction(and)
	return nil
}

// emitCondBranch implements the conditional-branch family: compare value1/value2 then jump to
// in.DestLabel on the condition jccFor documents.
func (b *Backend) emitCondBranch(in *ir.Instruction, req *regalloc.Request) error {
	cls := 0
	cmp := b.newProg()
	if isFloatBranch(in.Op) {
		cls = 1
		cmp.As = x86.AUCOMISD
	} else {
		cmp.As = x86.ACMPQ
	}
	cmp.From.Type = obj.TYPE_REG
	cmp.From.Reg = amd64regfile.X86Reg(classReg(b.rf, cls, reqReg(req, 2)))
	cmp.To.Type = obj.TYPE_REG
	cmp.To.Reg = amd64regfile.X86Reg(classReg(b.rf, cls, reqReg(req, 1)))
	b.addInstruction(cmp)

	jmp := b.newProg()
	jmp.As = jccFor[in.Op]
	b.addInstruction(jmp)
	b.branchTo(jmp, in.DestLabel)
	return nil
}

// emitReturn moves in.Value1 (if any) into the ABI return register and jumps to the shared
// epilog, resolved once Epilog actually emits it.
func (b *Backend) emitReturn(in *ir.Instruction, req *regalloc.Request) error {
	if in.Value1 != nil {
		cls := classOf(in.Value1)
		var dstReg regfile.Register
		if cls == 1 {
			dstReg = b.rf.GetF(0) // XMM0
		} else {
			dstReg = b.rf.GetI(regAX)
		}
		if err := b.emitRegMove(cls, dstReg, classReg(b.rf, cls, reqReg(req, 1))); err != nil {
			return err
		}
	}
	jmp := b.newProg()
	jmp.As = obj.AJMP
	b.addInstruction(jmp)
	b.epilogPending = append(b.epilogPending, jmp)
	return nil
}

// emitCall marshals in's call arguments into the System V argument registers, calls the target
// through scratch register R11 (in callClobberMask, so the allocator has freed it before the call),
// and leaves the result in AX/XMM0 for
// Commit to bind to the instruction's dest (pinned there by BuildRequest).
//
// Calling a function that has not yet been compiled (f.Entry == 0) is out of this backend's scope:
// the on-demand driver (package jit) is responsible for compiling a callee before any caller that
// references it is itself compiled.
func (b *Backend) emitCall(in *ir.Instruction, req *regalloc.Request) error {
	ca, ok := in.Extra.(*ir.CallArgs)
	if !ok || ca.Target == nil {
		return jerr.NewCompileError(in.Op, "amd64: call missing target")
	}
	for i, arg := range ca.Args {
		if i >= len(argRegs) {
			break
		}
		cls := classOf(arg)
		var dstReg regfile.Register
		if cls == 1 {
			dstReg = b.rf.GetF(i)
		} else {
			dstReg = b.rf.GetI(argRegs[i])
		}
		if err := b.loadArg(cls, dstReg, arg); err != nil {
			return err
		}
	}

	mov := b.newProg()
	mov.As = x86.AMOVQ
	mov.From.Type = obj.TYPE_CONST
	mov.From.Offset = int64(ca.Target.Entry)
	mov.To.Type = obj.TYPE_REG
	mov.To.Reg = x86.REG_R11
	b.addInstruction(mov)

	call := b.newProg()
	call.As = obj.ACALL
	call.To.Type = obj.TYPE_REG
	call.To.Reg = x86.REG_R11
	b.addInstruction(call)
	return nil
}

// loadArg materializes call argument value v into register dst, from wherever it currently lives.
func (b *Backend) loadArg(cls int, dst regfile.Register, v *ir.Value) error {
	if v.Has(ir.IsConstant) {
		return b.emitLoadConst(dst, cls, v)
	}
	if v.Has(ir.InRegister) {
		return b.emitRegMove(cls, dst, classReg(b.rf, cls, v.Reg))
	}
	if v.Has(ir.HasGlobalRegister) && v.Has(ir.InGlobalRegister) {
		return b.emitRegMove(cls, dst, classReg(b.rf, cls, v.GlobalReg))
	}
	if err := b.FixValue(v); err != nil {
		return err
	}
	return b.emitFrameLoad(cls, dst, b.frameOffset[v])
}

// emitLoad reads class-typed value from [base+off] into dst.
func (b *Backend) emitLoad(cls, dstIdx, baseIdx, off int) error {
	p := b.newProg()
	if cls == 1 {
		p.As = x86.AMOVSD
	} else {
		p.As = x86.AMOVQ
	}
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = amd64regfile.X86Reg(classReg(b.rf, 0, baseIdx))
	p.From.Offset = int64(off)
	p.To.Type = obj.TYPE_REG
	p.To.Reg = amd64regfile.X86Reg(classReg(b.rf, cls, dstIdx))
	b.addInstruction(p)
	return nil
}

// emitStore writes class-typed value srcIdx to [base+off].
func (b *Backend) emitStore(cls, srcIdx, baseIdx, off int) error {
	p := b.newProg()
	if cls == 1 {
		p.As = x86.AMOVSD
	} else {
		p.As = x86.AMOVQ
	}
	p.From.Type = obj.TYPE_REG
	p.From.Reg = amd64regfile.X86Reg(classReg(b.rf, cls, srcIdx))
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = amd64regfile.X86Reg(classReg(b.rf, 0, baseIdx))
	p.To.Offset = int64(off)
	b.addInstruction(p)
	return nil
}
