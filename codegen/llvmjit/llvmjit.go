// Package llvmjit is an optional LLVM-backed compile path, an alternate codegen route alongside
// package codegen's cost-model register allocator: it lowers an ir.Function directly to LLVM IR
// and hands it to LLVM's MCJIT execution engine. Grounded on vslc's ir/llvm/transform.go
// (GenLLVM, genFuncHeader, genFuncBody, genType), adapted from AST-node lowering to
// ir.Block/ir.Instruction lowering since this module builds IR programmatically rather than
// parsing source text. The module-wide symbol table and per-function scope stack
// genFuncHeader/genFuncBody used to resolve AST identifiers have no counterpart here: an ir.Value
// already identifies its producer directly, so lowering instead keeps one map from *ir.Value to
// llvm.Value, rebuilt per function.
package llvmjit

import (
	"fmt"

	"tinygo.org/x/go-llvm"

	"github.com/hramberg/vjit/ir"
	"github.com/hramberg/vjit/ir/opcode"
	"github.com/hramberg/vjit/ir/types"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Compiler owns one LLVM context, module, builder and execution engine. Unlike package codegen's
// Emitter, which emits into a client-owned memmgr.Manager region, a Compiler's engine owns and
// maps its own executable memory; it exists for clients that asked for the LLVM path via
// util.Options.UseLLVM rather than the native amd64 backend.
type Compiler struct {
	ctx     llvm.Context
	mod     llvm.Module
	builder llvm.Builder
	engine  llvm.ExecutionEngine
	engined bool

	funcs map[*ir.Function]llvm.Value
}

// ---------------------
// ----- Functions -----
// ---------------------

// New creates a Compiler backed by a fresh LLVM module named name.
func New(name string) *Compiler {
	ctx := llvm.NewContext()
	return &Compiler{
		ctx:     ctx,
		mod:     ctx.NewModule(name),
		builder: ctx.NewBuilder(),
		funcs:   make(map[*ir.Function]llvm.Value, 16),
	}
}

// Close disposes the Compiler's LLVM resources.
func (c *Compiler) Close() {
	if c.engined {
		c.engine.Dispose()
	} else {
		c.builder.Dispose()
		c.mod.Dispose()
	}
	c.ctx.Dispose()
}

// Compile lowers f's current IR to LLVM IR, JITs the containing module and publishes f's native
// entry point, mirroring package jit's Context.Compile contract for the native backends. f must
// not yet have a body generated by a previous Compile call on the same Compiler.
func (c *Compiler) Compile(f *ir.Function) error {
	if f.Builder() == nil {
		return fmt.Errorf("llvmjit: function %q has no builder (already compiled?)", f.Name())
	}

	fn, err := c.declare(f)
	if err != nil {
		return err
	}
	if err := c.genBody(f, fn); err != nil {
		return err
	}

	if err := c.ensureEngine(); err != nil {
		return err
	}
	addr := c.engine.GetFunctionAddress(f.Name())
	if addr == 0 {
		return fmt.Errorf("llvmjit: engine produced no address for function %q", f.Name())
	}
	f.Entry = uintptr(addr)
	f.IsCompiled = true
	f.IsOptimized = true
	f.DiscardBuilder()
	return nil
}

// ensureEngine lazily creates the MCJIT execution engine for Compiler c's module, once all
// functions of interest have been declared and defined. LLVM's MCJIT takes ownership of the
// module once an engine exists, so this is deferred to first Compile rather than done in New.
func (c *Compiler) ensureEngine() error {
	if c.engined {
		return nil
	}
	llvm.LinkInMCJIT()
	if err := llvm.InitializeNativeTarget(); err != nil {
		return fmt.Errorf("llvmjit: initialize native target: %w", err)
	}
	if err := llvm.InitializeNativeAsmPrinter(); err != nil {
		return fmt.Errorf("llvmjit: initialize native asm printer: %w", err)
	}
	opts := llvm.NewMCJITCompilerOptions()
	opts.SetMCJITOptimizationLevel(2)
	engine, err := llvm.NewMCJITCompiler(c.mod, opts)
	if err != nil {
		return fmt.Errorf("llvmjit: create MCJIT compiler: %w", err)
	}
	c.engine = engine
	c.engined = true
	return nil
}

// declare emits (or looks up) f's LLVM function declaration from its signature type.
func (c *Compiler) declare(f *ir.Function) (llvm.Value, error) {
	if fn, ok := c.funcs[f]; ok {
		return fn, nil
	}
	ret, err := llvmType(f.Sig.SubType())
	if err != nil {
		return llvm.Value{}, err
	}
	params := f.Sig.Components()
	ptypes := make([]llvm.Type, len(params))
	for i, p := range params {
		pt, err := llvmType(p.Sub)
		if err != nil {
			return llvm.Value{}, err
		}
		ptypes[i] = pt
	}
	isVarArg := f.Sig.CallConv() == types.VarArg
	ftyp := llvm.FunctionType(ret, ptypes, isVarArg)
	fn := llvm.AddFunction(c.mod, f.Name(), ftyp)
	c.funcs[f] = fn
	return fn, nil
}

// llvmType maps an ir/types.Type to its LLVM counterpart. Struct/union/tagged/signature types
// reachable only through pointer-typed IR values are left as opaque i8 and dereferenced through
// bitcasts at load/store sites; this module's LLVM path only needs to materialize the primitive
// and pointer kinds that appear as parameter, return and local-value types in practice.
func llvmType(t *types.Type) (llvm.Type, error) {
	if t == nil {
		return llvm.VoidType(), nil
	}
	switch t.Kind() {
	case types.Void:
		return llvm.VoidType(), nil
	case types.SByte, types.UByte:
		return llvm.Int8Type(), nil
	case types.Short, types.UShort:
		return llvm.Int16Type(), nil
	case types.Int, types.UInt:
		return llvm.Int32Type(), nil
	case types.NInt, types.Long, types.ULong:
		return llvm.Int64Type(), nil
	case types.Float32:
		return llvm.FloatType(), nil
	case types.Float64, types.NFloat:
		return llvm.DoubleType(), nil
	case types.Pointer:
		sub, err := llvmType(t.SubType())
		if err != nil {
			return llvm.Type{}, err
		}
		if sub == llvm.VoidType() {
			sub = llvm.Int8Type()
		}
		return llvm.PointerType(sub, 0), nil
	case types.Tagged:
		return llvmType(t.SubType())
	default:
		return llvm.Type{}, fmt.Errorf("llvmjit: unsupported type kind %s", t.Kind())
	}
}

// genBody lowers f's block list to LLVM basic blocks and instructions.
func (c *Compiler) genBody(f *ir.Function, fn llvm.Value) error {
	values := make(map[*ir.Value]llvm.Value, 64)
	for i, p := range f.Params() {
		values[p] = fn.Param(i)
	}

	blocks := make(map[*ir.Block]llvm.BasicBlock, len(f.Blocks))
	for _, b := range f.Blocks {
		blocks[b] = llvm.AddBasicBlock(fn, b.Name())
	}

	for _, b := range f.Blocks {
		c.builder.SetInsertPointAtEnd(blocks[b])
		for _, in := range b.Insns {
			if err := c.genInsn(in, values, blocks); err != nil {
				return fmt.Errorf("llvmjit: function %q: %w", f.Name(), err)
			}
		}
		if b.Terminator() == nil && len(b.Succs) == 0 {
			// Implicit exit block with no explicit terminator falls through to an implied return.
			c.builder.CreateRetVoid()
		}
	}
	return nil
}

// genInsn lowers one three-address instruction to LLVM IR via Compiler c's builder.
func (c *Compiler) genInsn(in *ir.Instruction, values map[*ir.Value]llvm.Value, blocks map[*ir.Block]llvm.BasicBlock) error {
	v1 := lookup(values, in.Value1)
	v2 := lookup(values, in.Value2)

	switch in.Op {
	case opcode.Nop, opcode.MarkOffset, opcode.CheckNull:
		return nil
	case opcode.Add:
		values[in.Dest] = arith(c.builder.CreateAdd, c.builder.CreateFAdd, in.Dest, v1, v2)
	case opcode.Sub:
		values[in.Dest] = arith(c.builder.CreateSub, c.builder.CreateFSub, in.Dest, v1, v2)
	case opcode.Mul:
		values[in.Dest] = arith(c.builder.CreateMul, c.builder.CreateFMul, in.Dest, v1, v2)
	case opcode.Div:
		if isFloat(in.Dest) {
			values[in.Dest] = c.builder.CreateFDiv(v1, v2, "")
		} else if isUnsigned(in.Dest) {
			values[in.Dest] = c.builder.CreateUDiv(v1, v2, "")
		} else {
			values[in.Dest] = c.builder.CreateSDiv(v1, v2, "")
		}
	case opcode.Rem:
		if isUnsigned(in.Dest) {
			values[in.Dest] = c.builder.CreateURem(v1, v2, "")
		} else {
			values[in.Dest] = c.builder.CreateSRem(v1, v2, "")
		}
	case opcode.And:
		values[in.Dest] = c.builder.CreateAnd(v1, v2, "")
	case opcode.Or:
		values[in.Dest] = c.builder.CreateOr(v1, v2, "")
	case opcode.Xor:
		values[in.Dest] = c.builder.CreateXor(v1, v2, "")
	case opcode.LShift:
		values[in.Dest] = c.builder.CreateShl(v1, v2, "")
	case opcode.RShift:
		if isUnsigned(in.Dest) {
			values[in.Dest] = c.builder.CreateLShr(v1, v2, "")
		} else {
			values[in.Dest] = c.builder.CreateAShr(v1, v2, "")
		}
	case opcode.Neg:
		if isFloat(in.Dest) {
			values[in.Dest] = c.builder.CreateFNeg(v1, "")
		} else {
			values[in.Dest] = c.builder.CreateNeg(v1, "")
		}
	case opcode.Not:
		values[in.Dest] = c.builder.CreateNot(v1, "")
	case opcode.CmpEq, opcode.CmpNe, opcode.CmpLt, opcode.CmpLe, opcode.CmpGt, opcode.CmpGe:
		values[in.Dest] = c.genCmp(in.Op, in.Value1, v1, v2)
	case opcode.Branch:
		c.builder.CreateBr(blocks[in.DestLabel])
	case opcode.BrIEq, opcode.BrINe, opcode.BrILt, opcode.BrILe, opcode.BrIGt, opcode.BrIGe,
		opcode.BrULt, opcode.BrULe, opcode.BrUGt, opcode.BrUGe,
		opcode.BrFEq, opcode.BrFNe, opcode.BrFLt, opcode.BrFLe, opcode.BrFGt, opcode.BrFGe,
		opcode.BrNFLt, opcode.BrNFLe, opcode.BrNFGt, opcode.BrNFGe:
		return fmt.Errorf("conditional branch opcode %s is not supported on this path", in.Op)
	case opcode.Return:
		if in.Value1 != nil {
			c.builder.CreateRet(v1)
		} else {
			c.builder.CreateRetVoid()
		}
	case opcode.Load:
		values[in.Dest] = c.builder.CreateLoad(llvmPointeeType(in.Dest), v1, "")
	case opcode.Store:
		c.builder.CreateStore(v2, v1)
	case opcode.Cast:
		return c.genCast(in, values, v1)
	default:
		return fmt.Errorf("unsupported opcode %s on this path", in.Op)
	}
	return nil
}

// arith dispatches to the integer or float builder method depending on dest's type, grounded on
// vslc's genExpression switch over ast arithmetic node types (transform.go).
func arith(iop, fop func(llvm.Value, llvm.Value, string) llvm.Value, dest *ir.Value, v1, v2 llvm.Value) llvm.Value {
	if isFloat(dest) {
		return fop(v1, v2, "")
	}
	return iop(v1, v2, "")
}

func isFloat(v *ir.Value) bool {
	if v == nil {
		return false
	}
	switch v.Type.Kind() {
	case types.Float32, types.Float64, types.NFloat:
		return true
	}
	return false
}

func isUnsigned(v *ir.Value) bool {
	if v == nil {
		return false
	}
	switch v.Type.Kind() {
	case types.UByte, types.UShort, types.UInt, types.ULong:
		return true
	}
	return false
}

// genCmp lowers a materializing comparison (the opcode.CmpEq..CmpGe family, distinct from the
// conditional-branch opcodes) to an LLVM icmp/fcmp, zero-extended to a 32-bit int result matching
// this module's boolean-as-int convention. The operand's IR type selects icmp or fcmp.
func (c *Compiler) genCmp(op opcode.Op, operand *ir.Value, v1, v2 llvm.Value) llvm.Value {
	var b llvm.Value
	if isFloat(operand) {
		b = c.builder.CreateFCmp(floatPredicate(op), v1, v2, "")
	} else {
		b = c.builder.CreateICmp(intPredicate(op, isUnsigned(operand)), v1, v2, "")
	}
	return c.builder.CreateZExt(b, llvm.Int32Type(), "")
}

func intPredicate(op opcode.Op, unsigned bool) llvm.IntPredicate {
	switch op {
	case opcode.CmpEq:
		return llvm.IntEQ
	case opcode.CmpNe:
		return llvm.IntNE
	case opcode.CmpLt:
		if unsigned {
			return llvm.IntULT
		}
		return llvm.IntSLT
	case opcode.CmpLe:
		if unsigned {
			return llvm.IntULE
		}
		return llvm.IntSLE
	case opcode.CmpGt:
		if unsigned {
			return llvm.IntUGT
		}
		return llvm.IntSGT
	default: // opcode.CmpGe
		if unsigned {
			return llvm.IntUGE
		}
		return llvm.IntSGE
	}
}

func floatPredicate(op opcode.Op) llvm.FloatPredicate {
	switch op {
	case opcode.CmpEq:
		return llvm.FloatOEQ
	case opcode.CmpNe:
		return llvm.FloatONE
	case opcode.CmpLt:
		return llvm.FloatOLT
	case opcode.CmpLe:
		return llvm.FloatOLE
	case opcode.CmpGt:
		return llvm.FloatOGT
	default: // opcode.CmpGe
		return llvm.FloatOGE
	}
}

// genCast lowers a Cast instruction between the primitive kinds llvmType knows how to represent.
func (c *Compiler) genCast(in *ir.Instruction, values map[*ir.Value]llvm.Value, v1 llvm.Value) error {
	to, err := llvmType(in.Dest.Type)
	if err != nil {
		return err
	}
	fromFloat, toFloat := isFloat(in.Value1), isFloat(in.Dest)
	switch {
	case fromFloat && toFloat:
		values[in.Dest] = c.builder.CreateFPCast(v1, to, "")
	case fromFloat && !toFloat:
		if isUnsigned(in.Dest) {
			values[in.Dest] = c.builder.CreateFPToUI(v1, to, "")
		} else {
			values[in.Dest] = c.builder.CreateFPToSI(v1, to, "")
		}
	case !fromFloat && toFloat:
		if isUnsigned(in.Value1) {
			values[in.Dest] = c.builder.CreateUIToFP(v1, to, "")
		} else {
			values[in.Dest] = c.builder.CreateSIToFP(v1, to, "")
		}
	default:
		values[in.Dest] = c.builder.CreateIntCast(v1, to, "")
	}
	return nil
}

// llvmPointeeType resolves the LLVM type a Load's destination expects, falling back to the
// pointer's own declared subtype when dest carries no richer type information.
func llvmPointeeType(dest *ir.Value) llvm.Type {
	t, err := llvmType(dest.Type)
	if err != nil {
		return llvm.Int64Type()
	}
	return t
}

// lookup returns the lowered LLVM value for v; a constant not yet lowered is materialized as an
// LLVM constant of its type. A nil v, or a non-constant value with no lowering yet, yields the zero
// llvm.Value.
func lookup(values map[*ir.Value]llvm.Value, v *ir.Value) llvm.Value {
	if v == nil {
		return llvm.Value{}
	}
	if lv, ok := values[v]; ok {
		return lv
	}
	if v.Has(ir.IsConstant) {
		if isFloat(v) {
			return llvm.ConstFloat(mustType(v.Type), v.Const.F64)
		}
		return llvm.ConstInt(mustType(v.Type), uint64(v.Const.Long), !isUnsigned(v))
	}
	return llvm.Value{}
}

func mustType(t *types.Type) llvm.Type {
	lt, err := llvmType(t)
	if err != nil {
		return llvm.Int64Type()
	}
	return lt
}
