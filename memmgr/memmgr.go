// Package memmgr implements the codegen.MemoryManager contract over real executable memory:
// golang.org/x/sys/unix.Mmap/Mprotect, the standard Go idiom for mapping and toggling
// write/execute permission on a self-modifying code region, the same approach the wazero
// classic-JIT engine's mmapCodeSegment helper uses, operating on the bytes a golang-asm
// builder.Assemble() call produces (the same library codegen/amd64 in this module uses to
// assemble its machine code). vslc has no analogue: it prints assembler text to a file and never
// touches executable memory directly, so this package is grounded on the memory manager contract
// and the wazero mapping idiom instead.
package memmgr

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/hramberg/vjit/codegen"
	"github.com/hramberg/vjit/ir"
	"github.com/hramberg/vjit/jerr"
	"golang.org/x/sys/unix"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Manager implements codegen.MemoryManager over one or more mmap'd pages. Its mu is the memory
// lock: the codegen driver acquires it for the duration of one function's compilation via
// StartFunction/EndFunction.
type Manager struct {
	mu sync.Mutex

	pageSize    int
	pageFactor  int
	region      []byte // Current backing mapping; grows (by remap) on restart.
	brk         int    // Bump-pointer cursor into region, relative to region[0].
	funcStart   int
	sealed      bool // true once Mprotect has flipped the region to R|X.
	dataTop     int  // Bump pointer for AllocData, growing down from len(region).
}

// ---------------------
// ----- Constants -----
// ---------------------

// defaultPageSize is used when New is called with pageSize <= 0.
const defaultPageSize = 64 * 1024

// ---------------------
// ----- Functions -----
// ---------------------

// New creates a Manager backed by an initial mmap'd region of pageSize bytes (rounded up to
// defaultPageSize if zero or negative).
func New(pageSize int) (*Manager, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	m := &Manager{pageSize: pageSize}
	if err := m.mapRegion(pageSize); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) mapRegion(size int) error {
	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return fmt.Errorf("memmgr: mmap %d bytes: %w: %v", size, jerr.ErrOutOfMemory, err)
	}
	m.region = region
	m.dataTop = len(region)
	m.sealed = false
	return nil
}

// StartFunction locks the memory manager for the duration of one function's compilation. This is
// a lock distinct from jit.Context's build lock: the two serialize IR construction and memory
// mutation independently, so a long-running build on one function doesn't block another
// function's memory operations.
func (m *Manager) StartFunction(f *ir.Function) (codegen.Status, error) {
	m.mu.Lock()
	if m.sealed {
		if err := unix.Mprotect(m.region, unix.PROT_READ|unix.PROT_WRITE); err != nil {
			m.mu.Unlock()
			return codegen.StatusError, fmt.Errorf("memmgr: mprotect rw: %w", err)
		}
		m.sealed = false
	}
	m.funcStart = m.brk
	return codegen.StatusOK, nil
}

// EndFunction releases the memory lock. On StatusOK it seals the region executable; on
// StatusRestart it rewinds the bump pointer to the function's start so the next attempt reuses
// the same space; on StatusError it does the same, since the in-progress code is abandoned.
func (m *Manager) EndFunction(status codegen.Status) (codegen.Status, error) {
	defer m.mu.Unlock()
	if status != codegen.StatusOK {
		m.brk = m.funcStart
		return status, nil
	}
	if err := unix.Mprotect(m.region, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return codegen.StatusError, fmt.Errorf("memmgr: mprotect rx: %w", err)
	}
	m.sealed = true
	return codegen.StatusOK, nil
}

// ExtendLimit doubles the mapped region (page_factor doublings from the base page size) and
// carries forward bytes already written for the in-progress function, for the restart loop's
// "request a larger page and retry" step.
func (m *Manager) ExtendLimit(pageFactor int) error {
	m.pageFactor = pageFactor + 1
	newSize := m.pageSize << uint(m.pageFactor)
	old := m.region
	if err := m.mapRegion(newSize); err != nil {
		return err
	}
	copy(m.region, old[:m.brk])
	m.brk = m.funcStart
	_ = unix.Munmap(old)
	return nil
}

// GetBreak returns the current output cursor as an address into the mapped region.
func (m *Manager) GetBreak() uintptr {
	if len(m.region) == 0 {
		return 0
	}
	return regionAddr(m.region) + uintptr(m.brk)
}

// SetBreak repositions the output cursor. Callers (a backend's Insn/CheckSpace) use this after
// writing bytes directly into the region via GetBreak.
func (m *Manager) SetBreak(addr uintptr) {
	base := regionAddr(m.region)
	if addr < base {
		return
	}
	off := int(addr - base)
	if off > len(m.region) {
		off = len(m.region)
	}
	m.brk = off
}

// GetFunctionRange returns the address span of the function currently being compiled, for
// Emitter.FlushICache.
func (m *Manager) GetFunctionRange() (start, end uintptr) {
	base := regionAddr(m.region)
	return base + uintptr(m.funcStart), base + uintptr(m.brk)
}

// Write appends n bytes of machine code at the current break, advancing it, and returns
// jerr.ErrMemoryFull if they would collide with the data region growing down from the top.
func (m *Manager) Write(code []byte) error {
	if m.brk+len(code) > m.dataTop {
		return jerr.ErrMemoryFull
	}
	copy(m.region[m.brk:], code)
	m.brk += len(code)
	return nil
}

// CheckSpace reports jerr.ErrMemoryFull if n more bytes would not fit before the data region.
func (m *Manager) CheckSpace(n int) error {
	if m.brk+n > m.dataTop {
		return jerr.ErrMemoryFull
	}
	return nil
}

// AllocTrampoline/AllocClosure carve a small fixed-size sub-region from the top of the mapping,
// growing it downward, away from the code bump pointer.
func (m *Manager) AllocTrampoline() (uintptr, error) { return m.allocTop(trampolineSize, 16) }
func (m *Manager) AllocClosure() (uintptr, error)    { return m.allocTop(closureSize, 16) }

const trampolineSize = 32
const closureSize = 48

func (m *Manager) allocTop(size, align int) (uintptr, error) {
	top := m.dataTop - size
	top &^= align - 1
	if top < m.brk {
		return 0, jerr.ErrMemoryFull
	}
	m.dataTop = top
	return regionAddr(m.region) + uintptr(top), nil
}

// FreeTrampoline/FreeClosure are no-ops: this bump-pointer manager never reclaims sub-region
// space mid-function; the whole region is released when the owning Context is destroyed.
func (m *Manager) FreeTrampoline(uintptr) {}
func (m *Manager) FreeClosure(uintptr)    {}

// AllocData carves size bytes (aligned to align) from the top of the mapping for module globals
// and string constants.
func (m *Manager) AllocData(size, align int) (uintptr, error) {
	return m.allocTop(size, align)
}

// regionAddr returns the address of region's backing array, or 0 for an empty/nil region.
func regionAddr(region []byte) uintptr {
	if len(region) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&region[0]))
}

// Close releases the mapped region. Not part of the codegen.MemoryManager contract; called by
// jit.Context when its owning Context is torn down.
func (m *Manager) Close() error {
	if len(m.region) == 0 {
		return nil
	}
	err := unix.Munmap(m.region)
	m.region = nil
	return err
}
