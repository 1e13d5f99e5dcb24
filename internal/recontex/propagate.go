package recontex

import (
	"golang.org/x/arch/x86/x86asm"

	"rstc/internal/addr"
	"rstc/internal/rcontext"
	"rstc/internal/reflo"
)

// Propagate computes the per-address Context multimap for f: a live,
// recursive walk starting from the singleton initial context at
// f.EntryPoint, forking and emulating one instruction at a time, and
// splitting at every jump into its not-taken and taken successors exactly
// as §4.3 describes.
//
// Loop termination is derived independently of internal/cfgpath's
// node-level LoopEdges/UselessEdges: those are keyed on OptimalCoverage's
// own Node boundaries, which round a jump target up to the nearest known
// node head at or above it (see normalize in node.go). That rounding is a sound approximation for
// counting a path cover, but it does not agree with the literal
// instruction address this walk must actually resume at, so reusing it
// here would occasionally flag the wrong edge as the loop's repeat point.
// Instead, Propagate tracks the exact set of addresses currently active on
// the current recursion branch and treats a jump back into that set as the
// loop's repeat point directly, which is both simpler and exact. A caller
// wanting the static PathExplosion guard (§7) should still run
// cfgpath.Coverage(f) first and only call Propagate if that succeeds.
func Propagate(f *reflo.Flo) *ContextMap {
	cm := NewContextMap()
	init := []*rcontext.Context{rcontext.NewInitial(f.EntryPoint)}
	walk(f, cm, f.EntryPoint, init, make(map[addr.Address]bool))
	return cm
}

// walk advances ctxs, starting at address start, one instruction at a time,
// recursing at each jump. onStack holds every address currently active on
// this recursion branch (this call and its ancestors); it is restored to
// its pre-call state before returning, so sibling branches (a later
// not-taken/taken successor, or an unrelated diamond join) are never
// blocked by addresses only a different branch visited.
func walk(f *reflo.Flo, cm *ContextMap, start addr.Address, ctxs []*rcontext.Context, onStack map[addr.Address]bool) {
	var visited []addr.Address
	defer func() {
		for _, a := range visited {
			delete(onStack, a)
		}
	}()

	a := start
	for {
		if len(ctxs) == 0 {
			return
		}
		if onStack[a] {
			// Back into an address already active higher up this same
			// branch: the loop has closed. Record the contexts once (so a
			// memory access made on the repeated iteration is still
			// observed) and stop, rather than recursing forever.
			cm.InsertAll(a, forkAll(ctxs))
			return
		}
		inst, ok := f.Instructions[a]
		if !ok {
			// Decode gap or an address outside the Flo: §4.3 step 5.
			return
		}
		onStack[a] = true
		visited = append(visited, a)

		if reflo.IsRet(inst.Op) {
			final := make([]*rcontext.Context, 0, len(ctxs))
			for _, c := range ctxs {
				final = append(final, emulateRet(a, c))
			}
			cm.InsertAll(a, final)
			return
		}

		if reflo.IsAnyJump(inst.Op) {
			walkJump(f, cm, a, inst, ctxs, onStack)
			return
		}

		if reflo.IsCall(inst.Op) {
			cm.InsertCallSite(a, ctxs)
		}

		next := make([]*rcontext.Context, 0, len(ctxs))
		for _, c := range ctxs {
			next = append(next, emulate(a, inst, c))
		}
		inserted := cm.InsertAll(a, next)
		if len(inserted) == 0 {
			// Every one of these contexts already reached this address via
			// some other route; its downstream effects were already walked.
			return
		}
		a = a.Add(int64(inst.Len))
		ctxs = inserted
	}
}

// walkJump handles the jump instruction at a: it has no register or memory
// effect of its own, so every context is simply forked (to advance its
// identity, per §3's "construct a child" at every instruction address) and
// recorded at a. The not-taken successor (conditional jumps only) continues
// at a+len; the taken successor continues at the resolved target.
func walkJump(f *reflo.Flo, cm *ContextMap, a addr.Address, inst x86asm.Inst, ctxs []*rcontext.Context, onStack map[addr.Address]bool) {
	forked := forkAll(ctxs)
	cm.InsertAll(a, forked)

	dst, resolved := reflo.RelTarget(a, inst)
	if !resolved {
		// An indirect jump: OptimalCoverage would already have aborted the
		// whole Flo with UnresolvedControlFlow before Propagate is ever
		// called, but guard here too in case it is driven independently.
		return
	}

	if reflo.IsConditionalJump(inst.Op) {
		walk(f, cm, a.Add(int64(inst.Len)), forked, onStack)
	}
	walk(f, cm, dst, forked, onStack)
}

func forkAll(ctxs []*rcontext.Context) []*rcontext.Context {
	out := make([]*rcontext.Context, len(ctxs))
	for i, c := range ctxs {
		out[i] = c.Fork(rcontext.Same)
	}
	return out
}
