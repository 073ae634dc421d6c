package codegen

import "testing"

func TestOffsetTableExactLookup(t *testing.T) {
	var ot OffsetTable
	ot.Append(0, 0)
	ot.Append(4, 12)
	ot.Append(8, 20)

	bc, ok := ot.Lookup(12, true)
	if !ok || bc != 4 {
		t.Fatalf("exact Lookup(12) = (%d, %v), want (4, true)", bc, ok)
	}
	if _, ok := ot.Lookup(13, true); ok {
		t.Fatal("exact Lookup should fail for a pc with no recorded entry")
	}
}

func TestOffsetTableNearestPrecedingLookup(t *testing.T) {
	var ot OffsetTable
	ot.Append(0, 0)
	ot.Append(4, 12)
	ot.Append(8, 20)

	bc, ok := ot.Lookup(15, false)
	if !ok || bc != 4 {
		t.Fatalf("nearest-preceding Lookup(15) = (%d, %v), want (4, true)", bc, ok)
	}
	if _, ok := ot.Lookup(-1, false); ok {
		t.Fatal("Lookup before the first entry should fail")
	}
}

func TestOffsetTableLenAndUnsortedAppendOrder(t *testing.T) {
	var ot OffsetTable
	ot.Append(8, 20)
	ot.Append(0, 0)
	ot.Append(4, 12)

	if got := ot.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
	bc, ok := ot.Lookup(20, true)
	if !ok || bc != 8 {
		t.Fatalf("Lookup should sort entries internally regardless of append order, got (%d, %v)", bc, ok)
	}
}
