package recontex

import (
	"context"
	"sync"

	"rstc/internal/addr"
	"rstc/internal/cfgpath"
	"rstc/internal/reflo"
	"rstc/internal/rerr"
	"rstc/internal/rlog"
	"rstc/internal/worker"
)

// Recontex owns the global contexts table (§5): one ContextMap per Flo,
// populated by a bounded worker pool that runs independently per Flo (no
// ordering guarantee across Flos, exactly as §5 specifies).
type Recontex struct {
	mu       sync.Mutex
	contexts map[addr.Address]*ContextMap
}

// New returns an empty Recontex ready to Analyze a Reflo's recovered
// functions.
func New() *Recontex {
	return &Recontex{contexts: make(map[addr.Address]*ContextMap)}
}

// ContextsFor returns the ContextMap recovered for the Flo entered at entry,
// if Analyze has processed it. Safe to call only after Analyze returns.
func (r *Recontex) ContextsFor(entry addr.Address) (*ContextMap, bool) {
	cm, ok := r.contexts[entry]
	return cm, ok
}

// Analyze runs context propagation over every Flo rf has recovered, bounded
// by pool (§5's "each of Reflo, Recontex, and Restruc runs a bounded worker
// pool"). A Flo with an unresolved jump contributes no contexts, per §7: its
// OptimalCoverage step is never even attempted. A Flo whose OptimalCoverage
// step reports PathExplosion is logged and skipped rather than aborting the
// run, since §7 marks that kind as "not required for correctness".
func (r *Recontex) Analyze(ctx context.Context, pool *worker.Pool, rf *reflo.Reflo) error {
	log := rlog.Stage("recontex")

	entries := make([]addr.Address, 0, len(rf.Flos()))
	for entry := range rf.Flos() {
		entries = append(entries, entry)
	}

	err := worker.RunStage(ctx, pool, entries, func(_ context.Context, entry addr.Address) error {
		f, _ := rf.FloAt(entry)
		if f.HasUnresolvedJump {
			log.Warnf("skipping flo %v: unresolved control flow", entry)
			return nil
		}

		if _, err := cfgpath.Coverage(f); err != nil {
			if rerr.KindOf(err) == rerr.PathExplosion {
				log.Warnf("skipping flo %v: %v", entry, err)
				return nil
			}
			return err
		}

		cm := Propagate(f)

		r.mu.Lock()
		r.contexts[entry] = cm
		r.mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}
	log.Infof("propagated contexts for %d functions", len(r.contexts))
	return nil
}
