// Package recontex implements context propagation (§4.3): per-instruction
// symbolic emulation over a Flo's recovered control flow, producing the
// per-address multimap of deduplicated Contexts Restruc reads memory
// accesses from.
package recontex

import (
	"sort"
	"sync"

	"rstc/internal/addr"
	"rstc/internal/rcontext"
)

// ContextMap is the per-Flo multimap of Contexts reached at each
// instruction address, deduplicated by running hash within each address's
// bucket, exactly as §3/§4.3 describe. Safe for concurrent use, since the
// worker pool propagates many Flos' ContextMaps in parallel even though any
// single Propagate call walks one Flo sequentially.
type ContextMap struct {
	mu     sync.Mutex
	byAddr map[addr.Address][]*rcontext.Context
	seen   map[addr.Address]map[uint64]bool

	// callSites records, for each CALL instruction address, the contexts as
	// they stood immediately before emulateCall ran: still holding their
	// caller-supplied argument values, prior to the volatile-register
	// clobber. Restruc's cross-function register-argument linking rule reads
	// these instead of byAddr, since by the time a CALL's post-effect
	// context lands in byAddr its volatile registers — exactly the ones the
	// Microsoft x64 convention passes integer arguments in — already hold
	// fresh symbolic values rather than the argument.
	callSites map[addr.Address][]*rcontext.Context
	seenCall  map[addr.Address]map[uint64]bool
}

// NewContextMap returns an empty ContextMap.
func NewContextMap() *ContextMap {
	return &ContextMap{
		byAddr:    make(map[addr.Address][]*rcontext.Context),
		seen:      make(map[addr.Address]map[uint64]bool),
		callSites: make(map[addr.Address][]*rcontext.Context),
		seenCall:  make(map[addr.Address]map[uint64]bool),
	}
}

// InsertCallSite records cs as the pre-call contexts observed at the CALL
// instruction address a, deduplicated by hash exactly like InsertAll.
func (m *ContextMap) InsertCallSite(a addr.Address, cs []*rcontext.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket := m.seenCall[a]
	if bucket == nil {
		bucket = make(map[uint64]bool)
		m.seenCall[a] = bucket
	}
	for _, c := range cs {
		h := c.Hash()
		if bucket[h] {
			continue
		}
		bucket[h] = true
		m.callSites[a] = append(m.callSites[a], c)
	}
}

// CallSiteContexts returns the pre-call contexts recorded at CALL address a.
func (m *ContextMap) CallSiteContexts(a addr.Address) []*rcontext.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*rcontext.Context, len(m.callSites[a]))
	copy(out, m.callSites[a])
	return out
}

// InsertAll inserts each of cs at address a, dropping any whose hash
// duplicates a context already recorded at a, and returns only the ones
// that were newly inserted. Callers stop recursing down a branch once this
// returns empty: an identical context at this address already propagated
// its own downstream effects.
func (m *ContextMap) InsertAll(a addr.Address, cs []*rcontext.Context) []*rcontext.Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket := m.seen[a]
	if bucket == nil {
		bucket = make(map[uint64]bool)
		m.seen[a] = bucket
	}

	var inserted []*rcontext.Context
	for _, c := range cs {
		h := c.Hash()
		if bucket[h] {
			continue
		}
		bucket[h] = true
		m.byAddr[a] = append(m.byAddr[a], c)
		inserted = append(inserted, c)
	}
	return inserted
}

// At returns every Context recorded at address a, in insertion order.
func (m *ContextMap) At(a addr.Address) []*rcontext.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*rcontext.Context, len(m.byAddr[a]))
	copy(out, m.byAddr[a])
	return out
}

// Addresses returns every address with at least one recorded Context,
// sorted ascending.
func (m *ContextMap) Addresses() addr.Addrs {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(addr.Addrs, 0, len(m.byAddr))
	for a := range m.byAddr {
		out = append(out, a)
	}
	sort.Sort(out)
	return out
}

// Len returns the total number of recorded contexts across all addresses.
func (m *ContextMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, cs := range m.byAddr {
		n += len(cs)
	}
	return n
}
