package ir

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hramberg/vjit/ir/types"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Builder is the transient state used while a Function's IR is being constructed: the ordered
// block list, a label-to-block table, the parameter values, a frame-size accumulator, and the
// per-function sequence counters. It is discarded (set to nil) once the Function has compiled.
type Builder struct {
	blocks     []*Block
	labels     map[string]*Block
	params     []*Value
	frameSize  int
	seq        int
	vseq       int
	catchLabel *Block // Label of the function's exception catcher, if any.
}

// Function owns a signature type, a transient Builder, metadata, an on-demand compile hook, the
// compiled entry point and a set of compile-state flags.
type Function struct {
	m    *Module
	name string
	id   int

	Sig *types.Type

	builder *Builder

	Metadata map[string]interface{}

	IsCompiled     bool
	IsOptimized    bool
	IsRecompilable bool
	NoThrow        bool
	NoReturn       bool
	HasTry         bool
	HasTailCall    bool
	NonLeaf        bool
	OptLevel       int

	Entry    uintptr
	OnDemand func(*Function) error

	// Blocks is the function's block list in builder-insertion order. Valid from CreateBlock
	// through the life of the Function; cfg.Clean mutates it in place.
	Blocks []*Block
	Locals []*Value // Locally declared (IsLocal) variables, in declaration order.

	mu sync.Mutex
}

// ---------------------
// ----- Constants -----
// ---------------------

const labelFunctionPrefix = "func"

// ---------------------
// ----- Functions -----
// ---------------------

// Name returns Function f's name.
func (f *Function) Name() string {
	return f.name
}

// ID returns Function f's module-unique identifier.
func (f *Function) ID() int {
	return f.id
}

// Params returns Function f's parameter values, in declaration order.
func (f *Function) Params() []*Value {
	if f.builder == nil {
		return nil
	}
	return f.builder.params
}

// Builder returns the Function's transient builder state. Returns nil once the function has
// compiled and its builder has been discarded.
func (f *Function) Builder() *Builder {
	return f.builder
}

// EntryBlock returns the function's first ("entry") block.
func (f *Function) EntryBlock() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// ExitBlock returns the function's last ("exit") block.
func (f *Function) ExitBlock() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[len(f.Blocks)-1]
}

// CatchBlock returns the function's exception catcher block, or nil if none is set.
func (f *Function) CatchBlock() *Block {
	if f.builder == nil {
		return nil
	}
	return f.builder.catchLabel
}

// SetCatchBlock designates b as the function's exception catcher, consulted by cfg.Build when
// classifying throw/rethrow/call edges.
func (f *Function) SetCatchBlock(b *Block) {
	if f.builder != nil {
		f.builder.catchLabel = b
	}
}

// CreateBlock creates a new basic block and appends it to Function f's block list.
func (f *Function) CreateBlock() *Block {
	b := &Block{Func: f, id: f.nextID(), Insns: make([]*Instruction, 0, 8)}
	f.Blocks = append(f.Blocks, b)
	if f.builder != nil {
		f.builder.blocks = append(f.builder.blocks, b)
	}
	return b
}

// Label binds name to block b, registering it in the builder's label table so that branch
// operands referencing name resolve during cfg.Build.
func (f *Function) Label(name string, b *Block) {
	b.AddLabel(name)
	if f.builder != nil {
		if f.builder.labels == nil {
			f.builder.labels = make(map[string]*Block, 8)
		}
		f.builder.labels[name] = b
	}
}

// Resolve returns the block bound to label name, or nil if undefined.
func (f *Function) Resolve(name string) *Block {
	if f.builder == nil || f.builder.labels == nil {
		return nil
	}
	return f.builder.labels[name]
}

// CreateParam appends a new parameter of the given type and optional name to Function f.
func (f *Function) CreateParam(name string, typ *types.Type) *Value {
	if name == "" {
		name = fmt.Sprintf("p%d", len(f.builder.params))
	}
	p := &Value{Type: typ, name: name, id: f.nextID(), Flags: IsParameter, Reg: -1, FrameOffset: NoFrameOffset, GlobalReg: -1}
	f.builder.params = append(f.builder.params, p)
	return p
}

// nextID returns a function-local unique identifier.
func (f *Function) nextID() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.builder == nil {
		// Builder has been discarded post-compile; fall back to a monotonically increasing id
		// space disjoint from builder-assigned ids by continuing from a high water mark.
		f.id++
		return f.id
	}
	id := f.builder.seq
	f.builder.seq++
	return id
}

// nextVarSeq returns a unique local-variable sequence number, defining stack slot order.
func (f *Function) nextVarSeq() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := f.builder.vseq
	f.builder.vseq++
	return seq
}

// DiscardBuilder releases Function f's transient builder state once compilation has produced an
// entry point. Callers (package jit, after a successful codegen.Compile) invoke this once
// f.IsCompiled; Params, Resolve and CatchBlock all return their zero value once the builder is
// gone.
func (f *Function) DiscardBuilder() {
	f.builder = nil
}

// String renders Function f in a debug-friendly textual form.
func (f *Function) String() string {
	sb := strings.Builder{}
	sb.WriteString(fmt.Sprintf("function %s {\n", f.name))
	for _, b := range f.Blocks {
		sb.WriteString(b.String())
	}
	sb.WriteRune('}')
	return sb.String()
}
