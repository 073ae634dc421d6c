package ir

import (
	"fmt"

	"github.com/hramberg/vjit/ir/opcode"
	"github.com/hramberg/vjit/ir/types"
)

// ----------------------------
// ----- Functions -----
// ----------------------------
//
// The Create* family below appends one instruction to block b and returns its destination value
// (or nil, for instructions with no result). Binary arithmetic constructors fold constant operands
// eagerly, grounded on vslc's ir/optimise.go constant-folding pass. Folding is always applied;
// util.Options.DisableConstantFolding does not reach the builder and does not turn it off.

// newTemp allocates a fresh temporary Value of type typ, owned by block b.
func (b *Block) newTemp(typ *types.Type) *Value {
	f := b.Func
	return &Value{
		Type:        typ,
		Block:       b,
		Reg:         -1,
		GlobalReg:   -1,
		FrameOffset: NoFrameOffset,
		Flags:       IsTemporary,
		name:        fmt.Sprintf("t%d", f.nextVarSeq()),
		id:          f.nextID(),
	}
}

// use records a use of v from block b: increments its usage counter (drives global register
// candidacy in backend/regalloc) and applies the scope-promotion rule below.
func (b *Block) use(v *Value) *Value {
	if v == nil {
		return nil
	}
	v.mu.Lock()
	v.UsageCount++
	v.mu.Unlock()
	promote(v, b)
	return v
}

// ConstInt creates an integer constant Value of the given kind.
func (b *Block) ConstInt(k types.Kind, n int64) *Value {
	typ := kindType(k)
	v := &Value{Type: typ, Reg: -1, GlobalReg: -1, FrameOffset: NoFrameOffset, Flags: IsConstant, id: b.Func.nextID()}
	v.name = fmt.Sprintf("const%d", v.id)
	v.Const.NInt = n
	v.Const.Long = n
	if k == types.NInt {
		v.SetFlag(IsNIntConstant)
	}
	return v
}

// ConstFloat creates a floating-point constant Value of the given kind (Float32, Float64 or
// NFloat).
func (b *Block) ConstFloat(k types.Kind, f float64) *Value {
	typ := kindType(k)
	v := &Value{Type: typ, Reg: -1, GlobalReg: -1, FrameOffset: NoFrameOffset, Flags: IsConstant, id: b.Func.nextID()}
	v.name = fmt.Sprintf("const%d", v.id)
	v.Const.F64 = f
	v.Const.F32 = float32(f)
	v.Const.NFloat = f
	return v
}

func kindType(k types.Kind) *types.Type {
	switch k {
	case types.SByte:
		return types.SByteType
	case types.UByte:
		return types.UByteType
	case types.Short:
		return types.ShortType
	case types.UShort:
		return types.UShortType
	case types.Int:
		return types.IntType
	case types.UInt:
		return types.UIntType
	case types.NInt:
		return types.NIntType
	case types.Long:
		return types.LongType
	case types.ULong:
		return types.ULongType
	case types.Float32:
		return types.Float32Type
	case types.Float64:
		return types.Float64Type
	case types.NFloat:
		return types.NFloatType
	default:
		return types.IntType
	}
}

func isFloatKind(k types.Kind) bool {
	return k == types.Float32 || k == types.Float64 || k == types.NFloat
}

// foldConstants folds a binary arithmetic op over two constant operands when both are IsConstant,
// returning the folded Value and true, or (nil, false) if the operands aren't both constant.
func (b *Block) foldConstants(op opcode.Op, v1, v2 *Value) (*Value, bool) {
	if v1 == nil || v2 == nil || !v1.Has(IsConstant) || !v2.Has(IsConstant) {
		return nil, false
	}
	k := types.Normalize(v1.Type, types.DefaultABI)
	if isFloatKind(k) {
		a, c := v1.Const.F64, v2.Const.F64
		var r float64
		switch op {
		case opcode.Add:
			r = a + c
		case opcode.Sub:
			r = a - c
		case opcode.Mul:
			r = a * c
		case opcode.Div:
			if c == 0 {
				return nil, false
			}
			r = a / c
		default:
			return nil, false
		}
		return b.ConstFloat(k, r), true
	}
	a, c := v1.Const.NInt, v2.Const.NInt
	var r int64
	switch op {
	case opcode.Add:
		r = a + c
	case opcode.Sub:
		r = a - c
	case opcode.Mul:
		r = a * c
	case opcode.Div:
		if c == 0 {
			return nil, false
		}
		r = a / c
	case opcode.Rem:
		if c == 0 {
			return nil, false
		}
		r = a % c
	case opcode.And:
		r = a & c
	case opcode.Or:
		r = a | c
	case opcode.Xor:
		r = a ^ c
	case opcode.LShift:
		r = a << uint(c)
	case opcode.RShift:
		r = a >> uint(c)
	default:
		return nil, false
	}
	return b.ConstInt(k, r), true
}

// binary appends a general binary-arithmetic instruction, folding when both operands are
// constant.
func (b *Block) binary(op opcode.Op, v1, v2 *Value, fold bool) *Value {
	v1, v2 = b.use(v1), b.use(v2)
	if fold {
		if folded, ok := b.foldConstants(op, v1, v2); ok {
			return folded
		}
	}
	in := b.append(op)
	in.Dest = b.newTemp(v1.Type)
	in.Value1, in.Value2 = v1, v2
	return in.Dest
}

// CreateAdd, CreateSub, CreateMul, CreateDiv, CreateRem, CreateAnd, CreateOr, CreateXor,
// CreateLShift and CreateRShift each append one binary arithmetic instruction.
func (b *Block) CreateAdd(v1, v2 *Value) *Value    { return b.binary(opcode.Add, v1, v2, true) }
func (b *Block) CreateSub(v1, v2 *Value) *Value    { return b.binary(opcode.Sub, v1, v2, true) }
func (b *Block) CreateMul(v1, v2 *Value) *Value    { return b.binary(opcode.Mul, v1, v2, true) }
func (b *Block) CreateDiv(v1, v2 *Value) *Value    { return b.binary(opcode.Div, v1, v2, true) }
func (b *Block) CreateRem(v1, v2 *Value) *Value    { return b.binary(opcode.Rem, v1, v2, true) }
func (b *Block) CreateAnd(v1, v2 *Value) *Value    { return b.binary(opcode.And, v1, v2, true) }
func (b *Block) CreateOr(v1, v2 *Value) *Value     { return b.binary(opcode.Or, v1, v2, true) }
func (b *Block) CreateXor(v1, v2 *Value) *Value    { return b.binary(opcode.Xor, v1, v2, true) }
func (b *Block) CreateLShift(v1, v2 *Value) *Value { return b.binary(opcode.LShift, v1, v2, true) }
func (b *Block) CreateRShift(v1, v2 *Value) *Value { return b.binary(opcode.RShift, v1, v2, true) }

// CreateNeg appends a unary negation instruction.
func (b *Block) CreateNeg(v1 *Value) *Value {
	v1 = b.use(v1)
	if v1.Has(IsConstant) {
		if isFloatKind(types.Normalize(v1.Type, types.DefaultABI)) {
			return b.ConstFloat(types.Normalize(v1.Type, types.DefaultABI), -v1.Const.F64)
		}
		return b.ConstInt(types.Normalize(v1.Type, types.DefaultABI), -v1.Const.NInt)
	}
	in := b.append(opcode.Neg)
	in.Dest = b.newTemp(v1.Type)
	in.Value1 = v1
	return in.Dest
}

// CreateNot appends a bitwise-complement instruction.
func (b *Block) CreateNot(v1 *Value) *Value {
	v1 = b.use(v1)
	if v1.Has(IsConstant) {
		return b.ConstInt(types.Normalize(v1.Type, types.DefaultABI), ^v1.Const.NInt)
	}
	in := b.append(opcode.Not)
	in.Dest = b.newTemp(v1.Type)
	in.Value1 = v1
	return in.Dest
}

// cmp appends a value-producing comparison instruction (CmpEq..CmpGe), always returning an Int.
func (b *Block) cmp(op opcode.Op, v1, v2 *Value) *Value {
	v1, v2 = b.use(v1), b.use(v2)
	in := b.append(op)
	in.Dest = b.newTemp(types.IntType)
	in.Value1, in.Value2 = v1, v2
	return in.Dest
}

func (b *Block) CreateCmpEq(v1, v2 *Value) *Value { return b.cmp(opcode.CmpEq, v1, v2) }
func (b *Block) CreateCmpNe(v1, v2 *Value) *Value { return b.cmp(opcode.CmpNe, v1, v2) }
func (b *Block) CreateCmpLt(v1, v2 *Value) *Value { return b.cmp(opcode.CmpLt, v1, v2) }
func (b *Block) CreateCmpLe(v1, v2 *Value) *Value { return b.cmp(opcode.CmpLe, v1, v2) }
func (b *Block) CreateCmpGt(v1, v2 *Value) *Value { return b.cmp(opcode.CmpGt, v1, v2) }
func (b *Block) CreateCmpGe(v1, v2 *Value) *Value { return b.cmp(opcode.CmpGe, v1, v2) }

// CreateBranch appends an unconditional branch to target.
func (b *Block) CreateBranch(target *Block) *Instruction {
	in := b.append(opcode.Branch)
	in.DestLabel = target
	in.Flags |= DestIsLabel
	return in
}

// CreateCondBranch appends a conditional branch of the given opcode (one of the opcode.BrI*,
// opcode.BrU*, opcode.BrF*, opcode.BrNF* family) comparing v1 and v2, taken to target.
func (b *Block) CreateCondBranch(op opcode.Op, v1, v2 *Value, target *Block) *Instruction {
	v1, v2 = b.use(v1), b.use(v2)
	in := b.append(op)
	in.Value1, in.Value2 = v1, v2
	in.DestLabel = target
	in.Flags |= DestIsLabel
	return in
}

// CreateReturn appends a return instruction, optionally carrying a return value.
func (b *Block) CreateReturn(v *Value) *Instruction {
	in := b.append(opcode.Return)
	if v != nil {
		in.Value1 = b.use(v)
	}
	return in
}

// CreateThrow appends a throw instruction carrying the exception value v.
func (b *Block) CreateThrow(v *Value) *Instruction {
	in := b.append(opcode.Throw)
	in.Value1 = b.use(v)
	return in
}

// CreateRethrow appends a rethrow-current-exception instruction.
func (b *Block) CreateRethrow() *Instruction {
	return b.append(opcode.Rethrow)
}

// CreateCall appends a call instruction to target with the given arguments, returning the result
// value (nil if target's signature returns void).
func (b *Block) CreateCall(target *Function, args []*Value, noThrow bool) *Value {
	for i, a := range args {
		args[i] = b.use(a)
	}
	op := opcode.Call
	if noThrow {
		op = opcode.CallNoThrow
	}
	in := b.append(op)
	in.DestFunc = target
	in.Flags |= DestIsFunction
	in.Extra = &CallArgs{Target: target, Args: args}
	b.Func.NonLeaf = true
	ret := target.Sig.SubType()
	if ret == nil || ret.Kind() == types.Void {
		return nil
	}
	rv := b.newTemp(ret)
	in.Dest = rv
	return rv
}

// CreateTailCall appends a tail-call instruction, disabling global register allocation for the
// caller: a tail call reuses the caller's stack frame and cannot rely on callee-saved globals
// surviving into the callee.
func (b *Block) CreateTailCall(target *Function, args []*Value) *Instruction {
	for i, a := range args {
		args[i] = b.use(a)
	}
	in := b.append(opcode.TailCall)
	in.DestFunc = target
	in.Flags |= DestIsFunction
	in.Extra = &CallArgs{Target: target, Args: args}
	b.Func.HasTailCall = true
	b.Func.NonLeaf = true
	return in
}

// CreateLoad appends a load-through-pointer instruction.
func (b *Block) CreateLoad(ptr *Value, resultType *types.Type) *Value {
	ptr = b.use(ptr)
	in := b.append(opcode.Load)
	in.Value1 = ptr
	in.Dest = b.newTemp(resultType)
	return in.Dest
}

// CreateStore appends a store-through-pointer instruction.
func (b *Block) CreateStore(ptr, val *Value) *Instruction {
	ptr, val = b.use(ptr), b.use(val)
	in := b.append(opcode.Store)
	in.Value1, in.Value2 = ptr, val
	return in
}

// CreateLoadRelative appends a load through base+offset (struct field access).
func (b *Block) CreateLoadRelative(base *Value, offset int, resultType *types.Type) *Value {
	base = b.use(base)
	in := b.append(opcode.LoadRelative)
	in.Value1 = base
	in.Extra = &RelOffset{Base: base, Offset: offset}
	in.Dest = b.newTemp(resultType)
	return in.Dest
}

// CreateStoreRelative appends a store through base+offset. The destination slot doubles as an
// input value (the address being stored through), so DestIsValueWrite is set to keep liveness
// from treating it as a kill.
func (b *Block) CreateStoreRelative(base *Value, offset int, val *Value) *Instruction {
	base, val = b.use(base), b.use(val)
	in := b.append(opcode.StoreRelative)
	in.Dest = base
	in.Value1 = val
	in.Extra = &RelOffset{Base: base, Offset: offset}
	in.Flags |= DestIsValueWrite
	return in
}

// CreateCast appends a type-conversion instruction.
func (b *Block) CreateCast(v *Value, to *types.Type) *Value {
	v = b.use(v)
	in := b.append(opcode.Cast)
	in.Value1 = v
	in.Dest = b.newTemp(to)
	return in.Dest
}

// CreateCheckNull appends a null-pointer check, eligible for elision by the codegen driver when
// the operand is provably non-null.
func (b *Block) CreateCheckNull(v *Value) *Instruction {
	v = b.use(v)
	in := b.append(opcode.CheckNull)
	in.Value1 = v
	return in
}

// CreateJumpTable appends a multi-way branch selecting among targets by the integer value sel.
func (b *Block) CreateJumpTable(sel *Value, targets []*Block) *Instruction {
	sel = b.use(sel)
	in := b.append(opcode.JumpTable)
	in.Value1 = sel
	in.Extra = &JumpTargets{Targets: targets}
	return in
}

// CreateAddressOfLabel appends an instruction materializing the native address of target as a
// pointer-valued temporary, for a computed-goto dispatch table or an exception-landing-pad
// reference. Marks target address-taken, which exempts it from cfg.Clean's branch-folding and
// block-coalescing rewrites for as long as the function exists. The target reference lives in the
// Value1 label slot, not Dest, since Dest here carries the real produced pointer value.
func (b *Block) CreateAddressOfLabel(target *Block) *Value {
	target.AddressOf = true
	in := b.append(opcode.AddressOfLabel)
	in.Value1Label = target
	in.Flags |= Value1IsLabel
	in.Dest = b.newTemp(types.VoidPtrType)
	return in.Dest
}
