package types

import "testing"

func TestStructLayoutPadsToFieldAlignment(t *testing.T) {
	s := StructOf([]Component{
		{Name: "a", Sub: UByteType, Offset: -1},
		{Name: "b", Sub: IntType, Offset: -1},
		{Name: "c", Sub: SByteType, Offset: -1},
	})
	if got, want := SizeOf(s, DefaultABI), 12; got != want {
		t.Errorf("SizeOf(struct{ubyte,int,sbyte}) = %d, want %d", got, want)
	}
	if got, want := AlignOf(s, DefaultABI), 4; got != want {
		t.Errorf("AlignOf(struct{ubyte,int,sbyte}) = %d, want %d", got, want)
	}
	if s.components[1].Offset != 4 {
		t.Errorf("field b offset = %d, want 4 (rounded up to its own alignment)", s.components[1].Offset)
	}
}

func TestUnionLayoutTakesMaxSize(t *testing.T) {
	u := UnionOf([]Component{
		{Sub: ByteKind(), Offset: -1},
		{Sub: LongType, Offset: -1},
	})
	if got, want := SizeOf(u, DefaultABI), 8; got != want {
		t.Errorf("SizeOf(union{byte,long}) = %d, want %d", got, want)
	}
	for i := range u.components {
		if u.components[i].Offset != 0 {
			t.Errorf("union component %d offset = %d, want 0", i, u.components[i].Offset)
		}
	}
}

func TestExplicitOverrideKeepsLarger(t *testing.T) {
	s := StructOf([]Component{{Sub: UByteType, Offset: -1}})
	s.SetExplicitSize(64)
	if got := SizeOf(s, DefaultABI); got != 64 {
		t.Errorf("SizeOf with explicit override 64 = %d, want 64", got)
	}
	small := StructOf([]Component{{Sub: UByteType, Offset: -1}})
	small.SetExplicitSize(0)
	if got := SizeOf(small, DefaultABI); got != 1 {
		t.Errorf("SizeOf with explicit override smaller than computed = %d, want 1 (computed kept)", got)
	}
}

func TestReturnViaPointerThreshold(t *testing.T) {
	small := StructOf([]Component{{Sub: IntType, Offset: -1}})
	if ReturnViaPointer(small, DefaultABI) {
		t.Error("a 4-byte struct should return in registers under DefaultABI")
	}
	big := StructOf([]Component{
		{Sub: LongType, Offset: -1}, {Sub: LongType, Offset: -1},
		{Sub: LongType, Offset: -1}, {Sub: LongType, Offset: -1},
		{Sub: LongType, Offset: -1}, {Sub: LongType, Offset: -1},
		{Sub: LongType, Offset: -1}, {Sub: LongType, Offset: -1},
		{Sub: LongType, Offset: -1},
	})
	if !ReturnViaPointer(big, DefaultABI) {
		t.Error("a 72-byte struct should return via implicit pointer under DefaultABI")
	}
	if ReturnViaPointer(IntType, DefaultABI) {
		t.Error("a scalar type should never return via implicit pointer")
	}
}

func TestNormalizeCollapsesPointerSizedKinds(t *testing.T) {
	cases := []struct {
		in   *Type
		want Kind
	}{
		{PointerTo(IntType), Long},
		{NIntType, Long},
		{SignatureOf(CDecl, VoidType, nil), Long},
		{NFloatType, Float64},
		{Float32Type, Float32},
	}
	for _, c := range cases {
		if got := Normalize(c.in, DefaultABI); got != c.want {
			t.Errorf("Normalize(%s) = %s, want %s", c.in.Kind(), got, c.want)
		}
	}
}

func TestPromoteInt(t *testing.T) {
	if got := PromoteInt(SByte); got != Int {
		t.Errorf("PromoteInt(SByte) = %s, want int", got)
	}
	if got := PromoteInt(UShort); got != UInt {
		t.Errorf("PromoteInt(UShort) = %s, want uint", got)
	}
	if got := PromoteInt(Long); got != Long {
		t.Errorf("PromoteInt(Long) = %s, want long (unchanged)", got)
	}
}

func TestTaggedUnwrapsToUnderlyingKind(t *testing.T) {
	tagged := Tag(7, IntType, nil)
	if got := RemoveTags(tagged); got != IntType {
		t.Errorf("RemoveTags(Tag(int)) = %v, want IntType", got)
	}
	if got := tagged.TagDisc(); got != 7 {
		t.Errorf("TagDisc() = %d, want 7", got)
	}
	if got := SizeOf(tagged, DefaultABI); got != 4 {
		t.Errorf("SizeOf(tagged int) = %d, want 4", got)
	}
}

func TestFixedSingletonsAreNoOpOnRetainRelease(t *testing.T) {
	before := IntType.refs
	IntType.Retain()
	IntType.Release()
	if IntType.refs != before {
		t.Errorf("Retain/Release on a fixed singleton mutated refs: before=%d after=%d", before, IntType.refs)
	}
}

// ByteKind returns a 1-byte signed type, used only to keep the union layout test independent of
// which specific 1-byte kind SizeOf picks.
func ByteKind() *Type { return SByteType }
