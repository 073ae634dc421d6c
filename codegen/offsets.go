package codegen

import "sort"

// OffsetTable is the bytecode-to-native offset map retained on a compiled Function and queried by
// a function_get_bytecode(func, pc, exact) -> bytecode_offset style lookup. vslc encodes this as a
// chain of varint byte buffers, a compression format meant for an on-disk image and out of scope
// for an in-memory JIT. This package instead keeps an ordinary sorted slice satisfying the same
// query contract, which is the behavior clients actually depend on.
type OffsetTable struct {
	entries []offsetEntry
	sorted  bool
}

type offsetEntry struct {
	bytecodeOff int
	nativeOff   int
}

// Append records one (bytecode_offset, native_offset) correspondence, the table-side half of
// dispatching an opcode.MarkOffset instruction.
func (t *OffsetTable) Append(bytecodeOff, nativeOff int) {
	t.entries = append(t.entries, offsetEntry{bytecodeOff: bytecodeOff, nativeOff: nativeOff})
	t.sorted = false
}

// Lookup returns the bytecode offset corresponding to native program counter pc. When exact is
// true, only a precise native-offset match counts; otherwise Lookup returns the bytecode offset of
// the nearest preceding entry.
func (t *OffsetTable) Lookup(pc int, exact bool) (int, bool) {
	if !t.sorted {
		sort.Slice(t.entries, func(i, j int) bool { return t.entries[i].nativeOff < t.entries[j].nativeOff })
		t.sorted = true
	}
	if exact {
		for _, e := range t.entries {
			if e.nativeOff == pc {
				return e.bytecodeOff, true
			}
		}
		return 0, false
	}
	idx := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].nativeOff > pc })
	if idx == 0 {
		return 0, false
	}
	return t.entries[idx-1].bytecodeOff, true
}

// Len reports how many (bytecode, native) correspondences are recorded.
func (t *OffsetTable) Len() int {
	return len(t.entries)
}
