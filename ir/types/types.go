// Package types implements the retargetable JIT's structural type system: primitive, pointer,
// struct, union, signature and tagged types, with ABI-aware size/alignment layout. A Type is an
// immutable, reference-counted value; layout is computed lazily on first size/alignment query and
// cached.
package types

import (
	"fmt"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Kind identifies the structural shape of a Type.
type Kind uint8

// CallConv identifies a calling convention carried by a Signature type.
type CallConv uint8

// Component describes one field of a struct or union type: its type, symbolic name and byte offset.
type Component struct {
	Name   string // Name is the field's symbolic name. May be empty for positional components.
	Sub    *Type  // Sub is the component's type.
	Offset int    // Offset is the component's byte offset within the aggregate. -1 means "not yet laid out".
}

// Type is an immutable, reference-counted type descriptor. Clients share a Type by calling
// Retain and release ownership by calling Release; when the reference count reaches zero, Release
// recursively drops SubType and Components.
type Type struct {
	kind       Kind
	subType    *Type       // Pointee / return type / underlying type, depending on kind.
	components []Component // Struct/union fields.
	conv       CallConv    // Calling convention, meaningful only for Signature.

	size  int // Explicit or computed size in bytes. -1 until known.
	align int // Explicit or computed alignment in bytes. -1 until known.
	// explicitSize/explicitAlign record a client override; computed layout keeps whichever of
	// the explicit and computed value is larger.
	explicitSize  int
	explicitAlign int
	laidOut       bool // Set once struct/union layout has been computed.

	refs  int  // Reference count. Predefined singletons never drop below 1.
	fixed bool // Set for predefined singletons: Retain/Release are no-ops.

	tagDisc int                  // Integer discriminator, meaningful only when kind == Tagged.
	tagFree func(interface{})    // Opaque free function, meaningful only when kind == Tagged.
}

// ---------------------
// ----- Constants -----
// ---------------------

const (
	Void Kind = iota
	SByte
	UByte
	Short
	UShort
	Int
	UInt
	NInt
	Long
	ULong
	Float32
	Float64
	NFloat
	Pointer
	Struct
	Union
	Signature
	Tagged
)

const (
	CDecl CallConv = iota
	VarArg
	StdCall
	FastCall
)

// maxTargetAlignment bounds the alignment clamp applied during struct layout: a field's natural
// alignment is never allowed to exceed this target-specific maximum.
const maxTargetAlignment = 16

var kindNames = [...]string{
	"void", "sbyte", "ubyte", "short", "ushort", "int", "uint", "nint", "long", "ulong",
	"float32", "float64", "nfloat", "pointer", "struct", "union", "signature", "tagged",
}

// String returns the textual name of Kind k.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// primitiveLayout gives size/alignment, in bytes, for every fixed-width primitive kind. NInt,
// NFloat and Pointer are target-dependent and resolved from the ABI's PointerSize/NativeIntSize
// fields (layout.go).
var primitiveLayout = map[Kind][2]int{
	Void:    {0, 1},
	SByte:   {1, 1},
	UByte:   {1, 1},
	Short:   {2, 2},
	UShort:  {2, 2},
	Int:     {4, 4},
	UInt:    {4, 4},
	Long:    {8, 8},
	ULong:   {8, 8},
	Float32: {4, 4},
	Float64: {8, 8},
}

// -------------------
// ----- globals -----
// -------------------

// PointerSize is the target pointer width in bytes, defaulting to 8 (LP64). Type layout does not
// read it: SizeOf, AlignOf and Normalize take the width from the ABI value passed to them.
var PointerSize = 8

// predefined singleton primitive types. These are never freed and have reference count 1 plus a
// fixed flag; Retain/Release on them are no-ops.
var (
	VoidType    = newFixed(Void)
	SByteType   = newFixed(SByte)
	UByteType   = newFixed(UByte)
	ShortType   = newFixed(Short)
	UShortType  = newFixed(UShort)
	IntType     = newFixed(Int)
	UIntType    = newFixed(UInt)
	NIntType    = newFixed(NInt)
	LongType    = newFixed(Long)
	ULongType   = newFixed(ULong)
	Float32Type = newFixed(Float32)
	Float64Type = newFixed(Float64)
	NFloatType  = newFixed(NFloat)
	VoidPtrType = newFixed(Pointer)
)

func init() {
	VoidPtrType.subType = VoidType
}

// ---------------------
// ----- Functions -----
// ---------------------

// newFixed creates a predefined singleton Type of the given kind.
func newFixed(k Kind) *Type {
	return &Type{kind: k, size: -1, align: -1, explicitSize: -1, explicitAlign: -1, refs: 1, fixed: true}
}

// Kind returns the structural kind of Type t.
func (t *Type) Kind() Kind {
	return t.kind
}

// SubType returns the pointee type (Pointer), return type (Signature) or underlying type
// (Tagged) of Type t. Returns nil for kinds that do not carry one.
func (t *Type) SubType() *Type {
	return t.subType
}

// Components returns the fields of a Struct or Union type. Returns nil for other kinds.
func (t *Type) Components() []Component {
	return t.components
}

// CallConv returns the calling convention of a Signature type.
func (t *Type) CallConv() CallConv {
	return t.conv
}

// Retain increments Type t's reference count and returns t, so callers can write
// `held := t.Retain()`. A no-op on predefined singletons.
func (t *Type) Retain() *Type {
	if t == nil || t.fixed {
		return t
	}
	t.refs++
	return t
}

// Release decrements Type t's reference count. When the count reaches zero, it recursively
// releases SubType and every component's type. A no-op on predefined singletons.
func (t *Type) Release() {
	if t == nil || t.fixed {
		return
	}
	t.refs--
	if t.refs > 0 {
		return
	}
	if t.subType != nil {
		t.subType.Release()
	}
	for _, c := range t.components {
		c.Sub.Release()
	}
}

// StructOf creates a struct type with the given components, in declaration order. Component
// offsets of -1 mean "let layout compute the offset"; any other value is an explicit override.
func StructOf(components []Component) *Type {
	return &Type{kind: Struct, components: components, size: -1, align: -1, explicitSize: -1, explicitAlign: -1, refs: 1}
}

// UnionOf creates a union type with the given components. All component offsets are forced to
// zero during layout regardless of what is passed in.
func UnionOf(components []Component) *Type {
	return &Type{kind: Union, components: components, size: -1, align: -1, explicitSize: -1, explicitAlign: -1, refs: 1}
}

// SignatureOf creates a function-signature type with the given calling convention, return type
// and parameter types (carried as unnamed components).
func SignatureOf(conv CallConv, ret *Type, params []*Type) *Type {
	comps := make([]Component, len(params))
	for i, p := range params {
		comps[i] = Component{Sub: p, Offset: -1}
	}
	return &Type{kind: Signature, subType: ret, conv: conv, components: comps, size: -1, align: -1,
		explicitSize: -1, explicitAlign: -1, refs: 1}
}

// PointerTo creates a pointer-to-T type.
func PointerTo(sub *Type) *Type {
	return &Type{kind: Pointer, subType: sub, size: -1, align: -1, explicitSize: -1, explicitAlign: -1, refs: 1}
}

// Tag wraps underlying type sub with an opaque tagged wrapper. disc and free mirror the source
// C API's integer discriminator and free function; they are stored for client introspection only
// and are not interpreted by this package.
func Tag(disc int, sub *Type, free func(interface{})) *Type {
	t := &Type{kind: Tagged, subType: sub, size: -1, align: -1, explicitSize: -1, explicitAlign: -1, refs: 1}
	t.tagDisc = disc
	t.tagFree = free
	return t
}

// tagDisc/tagFree are carried on Type because Go has no struct-literal-only "extra fields for one
// kind" idiom; kept unexported and only meaningful when kind == Tagged.
