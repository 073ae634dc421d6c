// Command jitdemo is a small end-to-end driver for package jit: it builds an "add two int
// parameters" function by hand, compiles it, calls the resulting native function pointer and
// prints the result. Grounded on vslc's cmd/main.go run()/main() shape (parse args, run the
// pipeline, report errors to stdout) with the frontend/backend stages it drove replaced by
// jit.Context's build-IR/optimize/compile pipeline.
package main

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/hramberg/vjit/ir/types"
	"github.com/hramberg/vjit/jit"
	"github.com/hramberg/vjit/util"
)

// run builds, compiles and invokes the demo function per opt, returning the int result of calling
// it with (3, 4), which should equal 7.
func run(opt util.Options) (int64, error) {
	ctx, err := jit.NewContext(opt)
	if err != nil {
		return 0, fmt.Errorf("creating context: %w", err)
	}
	defer func() { _ = ctx.Close() }()

	m := ctx.NewModule("jitdemo")
	sig := jit.DefaultSignature(2, types.IntType)
	f, err := m.CreateFunction("add", sig)
	if err != nil {
		return 0, fmt.Errorf("declaring function: %w", err)
	}

	p0 := f.CreateParam("a", types.IntType)
	p1 := f.CreateParam("b", types.IntType)
	entry := f.CreateBlock()
	f.CreateBlock() // Implicit exit block, completing the entry/.../exit block chain.
	sum := entry.CreateAdd(p0, p1)
	entry.CreateReturn(sum)

	if err := ctx.Compile(f); err != nil {
		return 0, fmt.Errorf("compiling function: %w", err)
	}

	fn := *(*func(int64, int64) int64)(unsafe.Pointer(&f.Entry))
	return fn(3, 4), nil
}

func main() {
	opt, err := util.ParseArgs()
	if err != nil {
		fmt.Printf("Command line argument error: %s\n", err)
		os.Exit(1)
	}

	result, err := run(opt)
	if err != nil {
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}
	fmt.Printf("add(3, 4) = %d\n", result)
}
