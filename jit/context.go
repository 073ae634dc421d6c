// Package jit is the module root: the client API surface and its concurrency model. A Context
// owns one executable-memory manager, one concrete backend, a read-mostly function registry
// consulted by stack-walking and on-demand compilation, and the numeric tunables exposed through
// SetTunables. Grounded on util/args.go's Options bag (kept the name, extended with this module's
// own tunables) and vslc's single-global-lock-per-compile-unit model implicit in
// ir/lir/module.go's embedded sync.Mutex, generalized from "one module-wide lock" into an explicit
// two-lock split: buildLock here guards IR construction/compilation, memmgr.Manager's own mutex
// guards the executable-memory region.
package jit

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hramberg/vjit/codegen"
	amd64backend "github.com/hramberg/vjit/codegen/amd64"
	"github.com/hramberg/vjit/ir"
	"github.com/hramberg/vjit/ir/types"
	"github.com/hramberg/vjit/memmgr"
	"github.com/hramberg/vjit/util"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Context is the client-facing compilation unit: one builder lock serializing IR
// construction/compilation, one executable memory manager, one concrete backend, and a
// read-mostly function registry.
type Context struct {
	buildLock sync.Mutex // Serializes IR construction and compilation within this context.

	regMu    sync.RWMutex
	registry map[string]*ir.Function

	mm *memmgr.Manager
	be codegen.Emitter

	modules []*ir.Module

	opt util.Options

	// Tunables set via SetTunables.
	cacheLimitBytes         int
	cachePageSize           int
	preCompile              bool
	disableConstantFolding  bool
	positionIndependentCode bool

	onDemand func(*ir.Function) error
}

// Tunables bundles a Context's numeric/boolean settings: cache limit bytes, cache page size,
// pre-compile flag, DisableConstantFolding (which turns off codegen copy propagation; the IR
// builder's constant folding is not affected), and position-independent-code flag.
type Tunables struct {
	CacheLimitBytes         int
	CachePageSize           int
	PreCompile              bool
	DisableConstantFolding  bool
	PositionIndependentCode bool
}

// ---------------------
// ----- Functions -----
// ---------------------

// NewContext creates a Context for opt.TargetArch, mapping its initial executable memory page at
// opt.CachePageSize bytes (or a package default if zero). Only amd64 is wired to a concrete
// backend today; any other target returns an error, since this module does not ship a reference
// Emitter for it.
func NewContext(opt util.Options) (*Context, error) {
	mm, err := memmgr.New(opt.CachePageSize)
	if err != nil {
		return nil, fmt.Errorf("jit: new context: %w", err)
	}
	ctx := &Context{
		registry:      make(map[string]*ir.Function, 64),
		mm:            mm,
		opt:           opt,
		cachePageSize: opt.CachePageSize,
	}
	switch opt.TargetArch {
	case util.Amd64, util.UnknownArch:
		ctx.be = amd64backend.New(mm)
	default:
		_ = mm.Close()
		return nil, fmt.Errorf("jit: new context: unsupported target architecture %d", opt.TargetArch)
	}
	return ctx, nil
}

// NewModule creates and registers a new, empty Module owned by Context c.
func (c *Context) NewModule(name string) *ir.Module {
	c.buildLock.Lock()
	defer c.buildLock.Unlock()
	m := ir.NewModule(name)
	c.modules = append(c.modules, m)
	return m
}

// SetTunables applies numeric/boolean tunables to Context c.
func (c *Context) SetTunables(t Tunables) {
	c.buildLock.Lock()
	defer c.buildLock.Unlock()
	c.cacheLimitBytes = t.CacheLimitBytes
	c.cachePageSize = t.CachePageSize
	c.preCompile = t.PreCompile
	c.disableConstantFolding = t.DisableConstantFolding
	c.positionIndependentCode = t.PositionIndependentCode
}

// SetOnDemandDriver installs the context-wide on-demand compilation hook consulted by any
// Function whose own OnDemand hook is unset.
func (c *Context) SetOnDemandDriver(hook func(*ir.Function) error) {
	c.buildLock.Lock()
	defer c.buildLock.Unlock()
	c.onDemand = hook
}

// register records f in the context's read-mostly function registry, consulted by stack-walking
// and on-demand compilation.
func (c *Context) register(f *ir.Function) {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	c.registry[f.Name()] = f
}

// Lookup returns the registered Function named name, for stack-walking or on-demand-compile
// callbacks that only have an address or name to go on.
func (c *Context) Lookup(name string) (*ir.Function, bool) {
	c.regMu.RLock()
	defer c.regMu.RUnlock()
	f, ok := c.registry[name]
	return f, ok
}

// Optimize runs build_cfg + clean_cfg over f's current IR and marks it optimized, under c's
// builder lock.
func (c *Context) Optimize(f *ir.Function) error {
	c.buildLock.Lock()
	defer c.buildLock.Unlock()
	c.register(f)
	return codegen.Optimize(f)
}

// Compile compiles f to native code via Context c's backend and memory manager, idempotent once
// f.IsCompiled. The IR build lock is held for the duration of one function's compilation: only
// one thread may build or compile within a context at a time.
func (c *Context) Compile(f *ir.Function) error {
	c.buildLock.Lock()
	defer c.buildLock.Unlock()
	c.register(f)
	if f.IsCompiled {
		return nil
	}
	opts := codegen.Options{
		PropagateCopies:         !c.disableConstantFolding,
		PositionIndependentCode: c.positionIndependentCode,
	}
	if err := codegen.Compile(f, c.be, c.mm, opts); err != nil {
		return err
	}
	f.DiscardBuilder()
	return nil
}

// CompileAll compiles every function declared in Module m, fanning the work out across up to
// c.opt.Threads worker goroutines (sequential if Threads is 0 or 1). Each worker still calls the
// ordinary Compile, so buildLock continues to serialize the actual IR mutation/codegen work; what
// Threads buys is overlap between one function's memory-manager and backend I/O and the next
// worker picking up its successor rather than the caller dispatching strictly one function at a
// time. Compile errors are fanned in through a util.NewPerror listener and returned together via
// errors.Join; a nil return means every function compiled (or was already compiled).
func (c *Context) CompileAll(m *ir.Module) error {
	funcs := m.Functions()
	if len(funcs) == 0 {
		return nil
	}

	threads := c.opt.Threads
	if threads < 1 {
		threads = 1
	}
	if threads > len(funcs) {
		threads = len(funcs)
	}

	pe := util.NewPerror(len(funcs))
	defer pe.Stop()

	jobs := make(chan *ir.Function)
	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range jobs {
				if err := c.Compile(f); err != nil {
					pe.Append(fmt.Errorf("function %q: %w", f.Name(), err))
				}
			}
		}()
	}
	for _, f := range funcs {
		jobs <- f
	}
	close(jobs)
	wg.Wait()

	if pe.Len() == 0 {
		return nil
	}
	var errs []error
	for err := range pe.Errors() {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SetOnDemand installs f's per-function on-demand compilation hook, consulted the first time the
// function is called through a trampoline rather than eagerly by Compile.
func SetOnDemand(f *ir.Function, hook func(*ir.Function) error) {
	f.OnDemand = hook
}

// ResolveOnDemand invokes f's own OnDemand hook if set, else falls back to Context c's
// context-wide driver installed via SetOnDemandDriver. Returns an error if neither is set and f is
// not yet compiled.
func (c *Context) ResolveOnDemand(f *ir.Function) error {
	if f.OnDemand != nil {
		return f.OnDemand(f)
	}
	c.buildLock.Lock()
	hook := c.onDemand
	c.buildLock.Unlock()
	if hook != nil {
		return hook(f)
	}
	if f.IsCompiled {
		return nil
	}
	return fmt.Errorf("jit: function %q has no on-demand compiler and is not compiled", f.Name())
}

// SetupEntry publishes a precompiled entry point for f without running the codegen driver. Used
// by clients that compile a function out-of-band (e.g. a cached, previously-JITted image) and
// simply want to register it.
func SetupEntry(f *ir.Function, entry uintptr) {
	f.Entry = entry
	f.IsCompiled = true
}

// Close releases Context c's executable memory region. Provided so embedders of this module have
// a deterministic way to release the mmap'd region instead of relying on process exit.
func (c *Context) Close() error {
	return c.mm.Close()
}

// DefaultSignature is a convenience constructor most cmd/jitdemo-style callers need: a cdecl
// signature over nint-sized integer parameters returning an nint, mirroring the module's
// end-to-end demo scenario ("add two int parameters").
func DefaultSignature(numParams int, ret *types.Type) *types.Type {
	params := make([]*types.Type, numParams)
	for i := range params {
		params[i] = types.NIntType
	}
	return types.SignatureOf(types.CDecl, ret, params)
}
