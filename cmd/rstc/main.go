// The rstc tool recovers C-like structure definitions from x86-64 PE
// executables via recursive disassembly, path-covered symbolic execution,
// and structure synthesis.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/mewkiz/pkg/osutil"

	"rstc/internal/rlog"
)

// top is the top-level stage logger, reporting per-stage progress with
// elapsed milliseconds to stdout, ahead of the final "Recovered N
// structures" line and the recovered structure definitions themselves.
var top = rlog.Stage("rstc")

func main() {
	var (
		debug   bool
		workers int
	)
	flag.BoolVar(&debug, "debug", false, "print kr/pretty dumps of Context and Struc graphs as they are recovered")
	flag.IntVar(&workers, "workers", runtime.NumCPU(), "number of workers analyzing Flos concurrently")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: rstc <path-to-pe>")
		os.Exit(2)
	}
	binPath := flag.Arg(0)
	if !osutil.Exists(binPath) {
		log.Fatalf("%q does not exist", binPath)
	}

	if err := run(context.Background(), binPath, workers, debug); err != nil {
		log.Fatalf("%+v", err)
	}
}
