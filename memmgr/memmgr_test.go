package memmgr

import (
	"errors"
	"testing"

	"github.com/hramberg/vjit/codegen"
	"github.com/hramberg/vjit/jerr"
)

func TestWriteAndSealRoundTrip(t *testing.T) {
	m, err := New(4096)
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	defer func() { _ = m.Close() }()

	if _, err := m.StartFunction(nil); err != nil {
		t.Fatalf("StartFunction: %s", err)
	}
	code := []byte{0x90, 0x90, 0xc3} // nop; nop; ret
	if err := m.Write(code); err != nil {
		t.Fatalf("Write: %s", err)
	}
	start, end := m.GetFunctionRange()
	if end-start != uintptr(len(code)) {
		t.Fatalf("GetFunctionRange span = %d, want %d", end-start, len(code))
	}
	if _, err := m.EndFunction(codegen.StatusOK); err != nil {
		t.Fatalf("EndFunction: %s", err)
	}
}

func TestEndFunctionRestartRewindsBreak(t *testing.T) {
	m, err := New(4096)
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	defer func() { _ = m.Close() }()

	if _, err := m.StartFunction(nil); err != nil {
		t.Fatalf("StartFunction: %s", err)
	}
	before := m.GetBreak()
	if err := m.Write([]byte{0x90, 0x90, 0x90, 0x90}); err != nil {
		t.Fatalf("Write: %s", err)
	}
	if _, err := m.EndFunction(codegen.StatusRestart); err != nil {
		t.Fatalf("EndFunction(StatusRestart): %s", err)
	}
	if got := m.GetBreak(); got != before {
		t.Fatalf("a restarted function's break should rewind to its start: got %d, want %d", got, before)
	}
}

func TestWriteReturnsMemoryFullAtCapacity(t *testing.T) {
	m, err := New(64)
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	defer func() { _ = m.Close() }()

	if _, err := m.StartFunction(nil); err != nil {
		t.Fatalf("StartFunction: %s", err)
	}
	oversized := make([]byte, 4096)
	if err := m.Write(oversized); !errors.Is(err, jerr.ErrMemoryFull) {
		t.Fatalf("Write beyond capacity should return jerr.ErrMemoryFull, got %v", err)
	}
}

func TestExtendLimitCarriesForwardWrittenBytes(t *testing.T) {
	m, err := New(64)
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	defer func() { _ = m.Close() }()

	if _, err := m.StartFunction(nil); err != nil {
		t.Fatalf("StartFunction: %s", err)
	}
	code := []byte{1, 2, 3, 4}
	if err := m.Write(code); err != nil {
		t.Fatalf("Write: %s", err)
	}
	if err := m.ExtendLimit(0); err != nil {
		t.Fatalf("ExtendLimit: %s", err)
	}
	start, _ := m.GetFunctionRange()
	got := make([]byte, len(code))
	base := regionAddr(m.region)
	copy(got, m.region[int(start-base):int(start-base)+len(code)])
	for i, b := range got {
		if b != code[i] {
			t.Fatalf("ExtendLimit should carry forward bytes already written: got %v, want %v", got, code)
		}
	}
}

func TestAllocDataAndCodeGrowTowardEachOther(t *testing.T) {
	m, err := New(256)
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	defer func() { _ = m.Close() }()

	if _, err := m.StartFunction(nil); err != nil {
		t.Fatalf("StartFunction: %s", err)
	}
	dataAddr, err := m.AllocData(16, 8)
	if err != nil {
		t.Fatalf("AllocData: %s", err)
	}
	base := regionAddr(m.region)
	if dataAddr <= base {
		t.Fatalf("AllocData address should be within the mapped region, got %d (base %d)", dataAddr, base)
	}
	if err := m.CheckSpace(8); err != nil {
		t.Fatalf("CheckSpace for code below the data region should still succeed: %s", err)
	}
}
