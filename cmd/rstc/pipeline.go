package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kr/pretty"
	"github.com/pkg/errors"

	"rstc/internal/dumper"
	"rstc/internal/peimage"
	"rstc/internal/recontex"
	"rstc/internal/reflo"
	"rstc/internal/restruc"
	"rstc/internal/worker"
)

// run drives the three analysis stages over the PE file at binPath and
// writes the recovered structure definitions to stdout (§6).
func run(ctx context.Context, binPath string, workers int, debug bool) error {
	pool := worker.New(workers)

	img, elapsed, err := timed(func() (*peimage.Image, error) {
		return peimage.Open(binPath)
	})
	if err != nil {
		return errors.WithStack(err)
	}
	top.Infof("loaded %s: entry point %v, %d sections (%dms)", binPath, img.EntryPoint, len(img.Sections), elapsed.Milliseconds())

	rf := reflo.New(img)
	_, elapsed, err = timed0(func() error { return rf.Analyze(ctx, pool) })
	if err != nil {
		return errors.WithStack(err)
	}
	top.Infof("reflo: recovered %d functions (%dms)", len(rf.Flos()), elapsed.Milliseconds())

	rc := recontex.New()
	_, elapsed, err = timed0(func() error { return rc.Analyze(ctx, pool, rf) })
	if err != nil {
		return errors.WithStack(err)
	}
	top.Infof("recontex: propagated contexts for %d functions (%dms)", len(rf.Flos()), elapsed.Milliseconds())
	if debug {
		for entry := range rf.Flos() {
			if cm, ok := rc.ContextsFor(entry); ok {
				pretty.Println("contexts:", entry, cm)
			}
		}
	}

	rs := restruc.New()
	_, elapsed, err = timed0(func() error { return rs.Analyze(ctx, pool, rf, rc) })
	if err != nil {
		return errors.WithStack(err)
	}
	strucs := rs.AllStrucs()
	top.Infof("restruc: recovered %d structures (%dms)", len(strucs), elapsed.Milliseconds())
	if debug {
		for _, s := range strucs {
			pretty.Println("struc:", s)
		}
	}

	fmt.Fprintf(os.Stdout, "Recovered %d structures\n", len(strucs))
	return errors.WithStack(dumper.Dump(os.Stdout, strucs))
}

// timed runs fn and reports how long it took, for the per-stage progress
// lines (§6: "reporting virtual-address bounds and function counts with
// elapsed milliseconds").
func timed[T any](fn func() (T, error)) (T, time.Duration, error) {
	start := time.Now()
	v, err := fn()
	return v, time.Since(start), err
}

// timed0 is timed for stages that return only an error.
func timed0(fn func() error) (struct{}, time.Duration, error) {
	start := time.Now()
	err := fn()
	return struct{}{}, time.Since(start), err
}
