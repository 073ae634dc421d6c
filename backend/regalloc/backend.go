package regalloc

import "github.com/hramberg/vjit/ir"

// Backend is the subset of the backend emitter contract that Gen/Commit need to carry out a
// Plan's side effects. codegen.Emitter is a structural superset of this interface, so any concrete
// backend (codegen/amd64, a future arm64 backend) satisfies Backend for free.
type Backend interface {
	// LoadValue materializes v into reg (and reg2 for the companion half of a long pair, -1 if
	// none).
	LoadValue(reg, reg2 int, class int, v *ir.Value) error
	// SpillReg stores v out of reg (and reg2) to its frame home.
	SpillReg(reg, reg2 int, class int, v *ir.Value) error
	// SpillGlobal / LoadGlobal save and restore a value that normally lives in a global register,
	// around an instruction that must clobber that register.
	SpillGlobal(reg int, v *ir.Value) error
	LoadGlobal(reg int, v *ir.Value) error
	// ExchTop / MoveTop are register-stack (x87-style) exchange primitives; unused unless
	// Request.OnStack is set.
	ExchTop(reg int) error
	MoveTop(reg int) error
}
