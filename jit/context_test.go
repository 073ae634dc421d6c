package jit

import (
	"fmt"
	"testing"

	"github.com/hramberg/vjit/ir"
	"github.com/hramberg/vjit/ir/types"
	"github.com/hramberg/vjit/util"
)

func TestNewContextRejectsUnsupportedArchitecture(t *testing.T) {
	opt := util.Options{TargetArch: util.Aarch64, CachePageSize: 4096}
	if _, err := NewContext(opt); err == nil {
		t.Fatal("NewContext should reject an architecture with no wired backend")
	}
}

func TestNewContextDefaultsUnknownArchToAmd64(t *testing.T) {
	opt := util.Options{TargetArch: util.UnknownArch, CachePageSize: 4096}
	ctx, err := NewContext(opt)
	if err != nil {
		t.Fatalf("NewContext: %s", err)
	}
	defer func() { _ = ctx.Close() }()
	if ctx.be == nil {
		t.Fatal("an unspecified target architecture should fall back to the amd64 backend")
	}
}

func TestRegisterAndLookupRoundTrip(t *testing.T) {
	ctx, err := NewContext(util.Options{TargetArch: util.Amd64, CachePageSize: 4096})
	if err != nil {
		t.Fatalf("NewContext: %s", err)
	}
	defer func() { _ = ctx.Close() }()

	m := ctx.NewModule("m")
	f, err := m.CreateFunction("f", DefaultSignature(0, types.IntType))
	if err != nil {
		t.Fatalf("CreateFunction: %s", err)
	}

	if err := ctx.Optimize(f); err != nil {
		t.Fatalf("Optimize: %s", err)
	}
	got, ok := ctx.Lookup("f")
	if !ok || got != f {
		t.Fatal("Optimize should register the function for later Lookup")
	}
	if _, ok := ctx.Lookup("nonexistent"); ok {
		t.Fatal("Lookup should fail for an unregistered name")
	}
}

func TestResolveOnDemandPrefersPerFunctionHook(t *testing.T) {
	ctx, err := NewContext(util.Options{TargetArch: util.Amd64, CachePageSize: 4096})
	if err != nil {
		t.Fatalf("NewContext: %s", err)
	}
	defer func() { _ = ctx.Close() }()

	m := ctx.NewModule("m")
	f, err := m.CreateFunction("f", DefaultSignature(0, types.IntType))
	if err != nil {
		t.Fatalf("CreateFunction: %s", err)
	}

	var calledPerFunc, calledContext bool
	SetOnDemand(f, func(*ir.Function) error { calledPerFunc = true; return nil })
	ctx.SetOnDemandDriver(func(*ir.Function) error { calledContext = true; return nil })

	if err := ctx.ResolveOnDemand(f); err != nil {
		t.Fatalf("ResolveOnDemand: %s", err)
	}
	if !calledPerFunc {
		t.Error("per-function OnDemand hook should be called when set")
	}
	if calledContext {
		t.Error("context-wide driver should not be consulted when a per-function hook exists")
	}
}

func TestResolveOnDemandFallsBackToContextDriver(t *testing.T) {
	ctx, err := NewContext(util.Options{TargetArch: util.Amd64, CachePageSize: 4096})
	if err != nil {
		t.Fatalf("NewContext: %s", err)
	}
	defer func() { _ = ctx.Close() }()

	m := ctx.NewModule("m")
	f, err := m.CreateFunction("f", DefaultSignature(0, types.IntType))
	if err != nil {
		t.Fatalf("CreateFunction: %s", err)
	}

	var calledContext bool
	ctx.SetOnDemandDriver(func(*ir.Function) error { calledContext = true; return nil })

	if err := ctx.ResolveOnDemand(f); err != nil {
		t.Fatalf("ResolveOnDemand: %s", err)
	}
	if !calledContext {
		t.Error("context-wide driver should be consulted when no per-function hook is set")
	}
}

func TestResolveOnDemandErrorsWithNoHookAndNotCompiled(t *testing.T) {
	ctx, err := NewContext(util.Options{TargetArch: util.Amd64, CachePageSize: 4096})
	if err != nil {
		t.Fatalf("NewContext: %s", err)
	}
	defer func() { _ = ctx.Close() }()

	m := ctx.NewModule("m")
	f, err := m.CreateFunction("f", DefaultSignature(0, types.IntType))
	if err != nil {
		t.Fatalf("CreateFunction: %s", err)
	}

	if err := ctx.ResolveOnDemand(f); err == nil {
		t.Fatal("ResolveOnDemand should error when no hook exists and the function is not compiled")
	}
}

func TestSetupEntryMarksFunctionCompiledWithoutRunningCodegen(t *testing.T) {
	ctx, err := NewContext(util.Options{TargetArch: util.Amd64, CachePageSize: 4096})
	if err != nil {
		t.Fatalf("NewContext: %s", err)
	}
	defer func() { _ = ctx.Close() }()

	m := ctx.NewModule("m")
	f, err := m.CreateFunction("f", DefaultSignature(0, types.IntType))
	if err != nil {
		t.Fatalf("CreateFunction: %s", err)
	}

	SetupEntry(f, 0xdeadbeef)
	if !f.IsCompiled || f.Entry != 0xdeadbeef {
		t.Fatalf("SetupEntry should publish the entry point and mark the function compiled, got entry=%x compiled=%v", f.Entry, f.IsCompiled)
	}
	if err := ctx.ResolveOnDemand(f); err != nil {
		t.Fatalf("ResolveOnDemand on an already-compiled function should succeed, got %s", err)
	}
}

func TestCompileAllCompilesEveryFunctionInModule(t *testing.T) {
	ctx, err := NewContext(util.Options{TargetArch: util.Amd64, CachePageSize: 4096, Threads: 4})
	if err != nil {
		t.Fatalf("NewContext: %s", err)
	}
	defer func() { _ = ctx.Close() }()

	m := ctx.NewModule("m")
	var fns []*ir.Function
	for i := 0; i < 8; i++ {
		f, err := m.CreateFunction(fmt.Sprintf("f%d", i), DefaultSignature(2, types.IntType))
		if err != nil {
			t.Fatalf("CreateFunction: %s", err)
		}
		p0 := f.CreateParam("a", types.IntType)
		p1 := f.CreateParam("b", types.IntType)
		entry := f.CreateBlock()
		f.CreateBlock()
		sum := entry.CreateAdd(p0, p1)
		entry.CreateReturn(sum)
		fns = append(fns, f)
	}

	if err := ctx.CompileAll(m); err != nil {
		t.Fatalf("CompileAll: %s", err)
	}
	for _, f := range fns {
		if !f.IsCompiled {
			t.Errorf("function %q should be compiled after CompileAll", f.Name())
		}
	}
}

func TestCompileAllJoinsErrorsFromEachFailingFunction(t *testing.T) {
	ctx, err := NewContext(util.Options{TargetArch: util.Amd64, CachePageSize: 4096, Threads: 2})
	if err != nil {
		t.Fatalf("NewContext: %s", err)
	}
	defer func() { _ = ctx.Close() }()

	m := ctx.NewModule("m")
	// A function with an unresolved branch label fails cfg.Build during Optimize.
	broken, err := m.CreateFunction("broken", DefaultSignature(0, types.IntType))
	if err != nil {
		t.Fatalf("CreateFunction: %s", err)
	}
	entry := broken.CreateBlock()
	in := entry.CreateBranch(entry)
	in.DestLabel = nil

	if err := ctx.CompileAll(m); err == nil {
		t.Fatal("CompileAll should report an error for a function whose CFG cannot be built")
	}
}

func TestDefaultSignatureBuildsNIntParams(t *testing.T) {
	sig := DefaultSignature(2, types.IntType)
	comps := sig.Components()
	if len(comps) != 2 {
		t.Fatalf("DefaultSignature(2, ...) should produce 2 parameters, got %d", len(comps))
	}
	for i, c := range comps {
		if c.Sub.Kind() != types.NInt {
			t.Errorf("parameter %d kind = %s, want NInt", i, c.Sub.Kind())
		}
	}
}
