package util

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Options bundles the tunables that govern a Context: target selection, thread count for the
// parallel CFG/liveness/allocation passes, and the numeric tunables exposed to clients through
// context_set_meta_numeric in spec terms.
type Options struct {
	Threads                 int  // Thread count for parallel per-function passes. 0 or 1 means sequential.
	Verbose                 bool // Set true to print compiler statistics to stdout.
	TargetArch              int  // Output target architecture.
	UseLLVM                 bool // Set true to route compilation through codegen/llvmjit instead of the native backend.
	CacheLimitBytes         int  // Upper bound on the executable memory cache, in bytes. 0 means unbounded.
	CachePageSize           int  // Page size requested from the memory manager on first allocation.
	PreCompile              bool // Set true to compile functions eagerly instead of lazily on first call.
	DisableConstantFolding  bool // Set true to disable codegen copy propagation; IR builder folding is unaffected.
	PositionIndependentCode bool // Set true to request position-independent code from the backend.
}

// ---------------------
// ----- Constants -----
// ---------------------

const maxThreads = 64 // Maximum threads allowed executing in parallel.
const appVersion = "vjit 1.0"

// Target machine architectures.
const (
	UnknownArch = iota
	Amd64
	Aarch64
)

// defaultCachePageSize is used when the client does not request a cache page size.
const defaultCachePageSize = 64 * 1024

// ---------------------
// ----- functions -----
// ---------------------

// ParseArgs parses command line arguments for the cmd/jitdemo driver.
func ParseArgs() (Options, error) {
	opt := Options{CachePageSize: defaultCachePageSize}
	if len(os.Args) < 2 {
		return opt, nil
	}
	args := os.Args[1:]
	for i1 := 0; i1 < len(args); i1++ {
		switch args[i1] {
		case "-h", "--h", "-help", "--help":
			printHelp()
			os.Exit(0)
		case "-ll":
			opt.UseLLVM = true
		case "-t":
			if i1+1 >= len(args) {
				return opt, fmt.Errorf("got flag %s but no argument", args[i1])
			}
			if strings.HasPrefix(args[i1+1], "-") {
				return opt, fmt.Errorf("expected thread count, got new flag %s", args[i1+1])
			}
			t, err := strconv.Atoi(args[i1+1])
			if err != nil {
				return opt, fmt.Errorf("expected integer thread count, got: %s", args[i1+1])
			}
			if t < 1 || t > maxThreads {
				return opt, fmt.Errorf("thread count must be integer in range [1, %d]", maxThreads)
			}
			opt.Threads = t
			i1++
		case "-arch":
			if i1+1 >= len(args) {
				return opt, fmt.Errorf("got flag %s but no argument", args[i1])
			}
			switch args[i1+1] {
			case "amd64":
				opt.TargetArch = Amd64
			case "aarch64":
				opt.TargetArch = Aarch64
			default:
				return opt, fmt.Errorf("unexpected architecture identifier: %s", args[i1+1])
			}
			i1++
		case "-pic":
			opt.PositionIndependentCode = true
		case "-precompile":
			opt.PreCompile = true
		case "-no-fold":
			opt.DisableConstantFolding = true
		case "-v", "--v", "-version", "--version":
			fmt.Println(appVersion)
			os.Exit(0)
		case "-vb":
			opt.Verbose = true
		default:
			return opt, fmt.Errorf("unexpected flag: %s", args[i1])
		}
	}
	return opt, nil
}

// printHelp prints a helpful usage message to stdout.
func printHelp() {
	w := tabwriter.NewWriter(os.Stdout, 6, 1, 1, 0, 0)
	_, _ = fmt.Fprintln(w, "-h, -help\tPrints this help message and exits the application.")
	_, _ = fmt.Fprintln(w, "-ll\tUse the LLVM backend (codegen/llvmjit) instead of the native register allocator.")
	_, _ = fmt.Fprintf(w, "-t\tNumber of threads to run in parallel. Must be in range [1, %d].\n", maxThreads)
	_, _ = fmt.Fprintln(w, "-arch\tTarget architecture: amd64 or aarch64.")
	_, _ = fmt.Fprintln(w, "-pic\tRequest position independent code.")
	_, _ = fmt.Fprintln(w, "-precompile\tCompile functions eagerly instead of lazily.")
	_, _ = fmt.Fprintln(w, "-no-fold\tDisable copy propagation during code generation.")
	_, _ = fmt.Fprintln(w, "-v, -version\tPrints application version and exits the application.")
	_, _ = fmt.Fprintln(w, "-vb\tVerbose mode: print compiler statistics to stdout.")
	_ = w.Flush()
}
