package ir

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hramberg/vjit/ir/types"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Global is a module-level data or string constant. Its address is resolved by memmgr at first
// compile and is stable for the life of the Context.
type Global struct {
	Name    string
	Type    *types.Type
	Data    []byte
	Address uintptr
}

// Module is a named collection of Functions and Globals sharing one identifier namespace and one
// sequence counter, grounded on vslc's ir/lir.Program (single top-level container owning every
// function, walked once by each compiler stage).
type Module struct {
	name string

	mu        sync.Mutex
	functions map[string]*Function
	globals   map[string]*Global
	seq       int
}

// ---------------------
// ----- Functions -----
// ---------------------

// NewModule creates an empty, named Module.
func NewModule(name string) *Module {
	return &Module{
		name:      name,
		functions: make(map[string]*Function, 16),
		globals:   make(map[string]*Global, 8),
	}
}

// Name returns Module m's name.
func (m *Module) Name() string {
	return m.name
}

// CreateFunction declares a new Function named name with the given signature type (built via
// types.SignatureOf) and returns it ready for block/instruction construction. Returns an error if
// name is already declared in this Module.
func (m *Module) CreateFunction(name string, sig *types.Type) (*Function, error) {
	if sig.Kind() != types.Signature {
		return nil, fmt.Errorf("ir: CreateFunction %q: type is not a signature", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.functions[name]; dup {
		return nil, fmt.Errorf("ir: function %q already declared", name)
	}
	f := &Function{
		m:    m,
		name: name,
		id:   m.seq,
		Sig:  sig.Retain(),
		builder: &Builder{
			labels: make(map[string]*Block, 8),
		},
		Metadata:       make(map[string]interface{}),
		IsRecompilable: true,
		OptLevel:       1,
	}
	m.seq++
	m.functions[name] = f
	return f, nil
}

// Function looks up a previously declared Function by name.
func (m *Module) Function(name string) (*Function, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.functions[name]
	return f, ok
}

// Functions returns every Function declared in Module m, in declaration order.
func (m *Module) Functions() []*Function {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Function, 0, len(m.functions))
	for _, f := range m.functions {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// CreateGlobal declares a module-level, zero-initialized global of type typ.
func (m *Module) CreateGlobal(name string, typ *types.Type) (*Global, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.globals[name]; dup {
		return nil, fmt.Errorf("ir: global %q already declared", name)
	}
	g := &Global{Name: name, Type: typ.Retain()}
	m.globals[name] = g
	return g, nil
}

// CreateString interns a NUL-terminated byte-string constant as a module global, returning the
// existing Global if an identical name was already declared.
func (m *Module) CreateString(name string, s string) (*Global, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, dup := m.globals[name]; dup {
		return g, nil
	}
	data := make([]byte, len(s)+1)
	copy(data, s)
	g := &Global{Name: name, Type: types.PointerTo(types.SByteType), Data: data}
	m.globals[name] = g
	return g, nil
}

// Global looks up a previously declared Global by name.
func (m *Module) Global(name string) (*Global, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.globals[name]
	return g, ok
}
