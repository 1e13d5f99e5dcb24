package reflo

import (
	"context"
	"sync"

	"rstc/internal/addr"
	"rstc/internal/peimage"
	"rstc/internal/rerr"
	"rstc/internal/rlog"
	"rstc/internal/worker"
)

// Reflo owns the recovered function table: one Flo per reachable entry
// point, built by recursive disassembly from the binary's entry point
// (§4.1, §5).
type Reflo struct {
	img *peimage.Image

	mu   sync.Mutex
	flos map[addr.Address]*Flo
}

// New returns a Reflo ready to Analyze img.
func New(img *peimage.Image) *Reflo {
	return &Reflo{img: img, flos: make(map[addr.Address]*Flo)}
}

// Flos returns the recovered function table. Safe to call only after
// Analyze has returned.
func (r *Reflo) Flos() map[addr.Address]*Flo {
	return r.flos
}

// FloAt returns the Flo whose entry point is a, if any.
func (r *Reflo) FloAt(a addr.Address) (*Flo, bool) {
	f, ok := r.flos[a]
	return f, ok
}

// Analyze drains the worklist of function entry points, seeded with the
// image's entry point, building one Flo per unique entry and enqueueing
// its call and outer-jump destinations as further entry points, bounded by
// pool's worker capacity (§4.1 step 4, §5).
func (r *Reflo) Analyze(ctx context.Context, pool *worker.Pool) error {
	b := &builder{img: r.img}
	log := rlog.Stage("reflo")

	err := worker.RunWorklist(ctx, pool, []addr.Address{r.img.EntryPoint},
		func(ctx context.Context, entry addr.Address, enqueue func(addr.Address)) error {
			r.mu.Lock()
			if _, ok := r.flos[entry]; ok {
				r.mu.Unlock()
				return nil
			}
			r.mu.Unlock()

			f, err := BuildFlo(b.img, entry)
			if err != nil {
				if rerr.KindOf(err) == rerr.DecodeError {
					log.Warnf("discarding function at %v: %v", entry, err)
					return nil
				}
				return err
			}

			r.mu.Lock()
			r.flos[entry] = f
			r.mu.Unlock()

			for _, dst := range f.UniqueCallTargets() {
				if dst.Valid() {
					enqueue(dst)
				}
			}
			for _, dst := range f.UniqueOuterJumpTargets() {
				enqueue(dst)
			}
			return nil
		})
	if err != nil {
		return err
	}
	log.Infof("recovered %d functions, entry point %v", len(r.flos), r.img.EntryPoint)
	return nil
}
