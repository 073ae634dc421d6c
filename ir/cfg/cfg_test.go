package cfg

import (
	"testing"

	"github.com/hramberg/vjit/ir"
	"github.com/hramberg/vjit/ir/opcode"
	"github.com/hramberg/vjit/ir/types"
)

func newFunc(t *testing.T, name string) *ir.Function {
	t.Helper()
	m := ir.NewModule("test")
	sig := types.SignatureOf(types.CDecl, types.IntType, []*types.Type{types.IntType})
	f, err := m.CreateFunction(name, sig)
	if err != nil {
		t.Fatalf("CreateFunction: %s", err)
	}
	return f
}

func TestBuildFallthroughEdge(t *testing.T) {
	f := newFunc(t, "fallthrough")
	entry := f.CreateBlock()
	exit := f.CreateBlock()
	p := f.CreateParam("a", types.IntType)
	entry.CreateAdd(p, p)
	exit.CreateReturn(nil)

	if err := Build(f); err != nil {
		t.Fatalf("Build: %s", err)
	}
	if len(entry.Succs) != 1 || entry.Succs[0].Kind != opcode.Fallthrough || entry.Succs[0].Dst != exit {
		t.Fatalf("entry block should fall through to exit, got succs=%v", entry.Succs)
	}
	if len(exit.Succs) != 1 || exit.Succs[0].Kind != opcode.EdgeReturn {
		t.Fatalf("exit block's return should produce one EdgeReturn edge, got %v", exit.Succs)
	}
}

func TestBuildBranchEdge(t *testing.T) {
	f := newFunc(t, "branch")
	entry := f.CreateBlock()
	target := f.CreateBlock()
	exit := f.CreateBlock()
	f.Label("target", target)
	entry.CreateBranch(target)
	target.CreateReturn(nil)
	exit.CreateReturn(nil)

	if err := Build(f); err != nil {
		t.Fatalf("Build: %s", err)
	}
	if len(entry.Succs) != 1 || entry.Succs[0].Kind != opcode.EdgeBranch || entry.Succs[0].Dst != target {
		t.Fatalf("branch block should have one EdgeBranch edge to target, got %v", entry.Succs)
	}
}

func TestBuildUndefinedLabelErrors(t *testing.T) {
	f := newFunc(t, "undef")
	entry := f.CreateBlock()
	// CreateBranch with a target never added to the function's block list still produces a
	// non-nil DestLabel, so force the undefined-label path by clearing it after the fact.
	in := entry.CreateBranch(entry)
	in.DestLabel = nil

	if err := Build(f); err == nil {
		t.Fatal("Build with an unresolved branch label should return an error")
	}
}

func TestBuildCallBlockGetsExceptionEdgeAndFallthrough(t *testing.T) {
	f := newFunc(t, "caller")
	callee := newFunc(t, "callee")
	entry := f.CreateBlock()
	next := f.CreateBlock()
	catch := f.CreateBlock()
	f.SetCatchBlock(catch)

	p := f.CreateParam("a", types.IntType)
	entry.CreateCall(callee, []*ir.Value{p}, false)
	catch.CreateRethrow()
	next.CreateReturn(nil)

	if err := Build(f); err != nil {
		t.Fatalf("Build: %s", err)
	}
	if len(entry.Succs) != 2 {
		t.Fatalf("call block should have 2 edges (exception + fallthrough), got %d: %v", len(entry.Succs), entry.Succs)
	}
	var sawException, sawFallthrough bool
	for _, e := range entry.Succs {
		switch {
		case e.Kind == opcode.EdgeException && e.Dst == catch:
			sawException = true
		case e.Kind == opcode.Fallthrough && e.Dst == next:
			sawFallthrough = true
		}
	}
	if !sawException {
		t.Errorf("call block should have an EdgeException edge to the catch block, got %v", entry.Succs)
	}
	if !sawFallthrough {
		t.Errorf("call block should still fall through to the next block, got %v", entry.Succs)
	}
}

func TestBuildCallBlockWithNoCatcherUsesExitBlock(t *testing.T) {
	f := newFunc(t, "caller_nocatch")
	callee := newFunc(t, "callee")
	entry := f.CreateBlock()
	exit := f.CreateBlock()
	exit.CreateReturn(nil)

	p := f.CreateParam("a", types.IntType)
	entry.CreateCall(callee, []*ir.Value{p}, false)

	if err := Build(f); err != nil {
		t.Fatalf("Build: %s", err)
	}
	var sawException bool
	for _, e := range entry.Succs {
		if e.Kind == opcode.EdgeException && e.Dst == exit {
			sawException = true
		}
	}
	if !sawException {
		t.Errorf("call block with no catcher should unwind straight to the exit block, got %v", entry.Succs)
	}
}

func TestBuildJumpTableFansOutToEveryTarget(t *testing.T) {
	f := newFunc(t, "jumptable")
	entry := f.CreateBlock()
	case0 := f.CreateBlock()
	case1 := f.CreateBlock()
	sel := f.CreateParam("sel", types.IntType)
	entry.CreateJumpTable(sel, []*ir.Block{case0, case1})
	case0.CreateReturn(nil)
	case1.CreateReturn(nil)

	if err := Build(f); err != nil {
		t.Fatalf("Build: %s", err)
	}
	if len(entry.Succs) != 2 {
		t.Fatalf("jump table block should have 2 branch edges, got %d", len(entry.Succs))
	}
	for _, e := range entry.Succs {
		if e.Kind != opcode.EdgeBranch {
			t.Errorf("jump table edge kind = %s, want branch", e.Kind)
		}
	}
}
