// Package reflo recovers control flow from raw bytes: starting at the
// binary's entry point it performs recursive disassembly, building one Flo
// per reachable function with classified jump edges and detected cycles
// (§4.1). It is grounded on the teacher's own decode-and-classify loop
// (mewmew-x/cmd/x/x86.go's decodeBlocks/decodeInst) and, for the exact
// jump-classification and sub-trace-merge rules, on
// _examples/original_source/src/restruc.cxx's CFGraph::analyze /
// fill_cfgraph / resolve_incomplete_cfgraph.
package reflo

import (
	"sort"

	"golang.org/x/arch/x86/x86asm"

	"rstc/internal/addr"
)

// JumpType classifies a branch target relative to the Flo it was found in.
type JumpType int

const (
	// Inner: destination lies inside the Flo's own instruction range.
	Inner JumpType = iota
	// Outer: destination lies outside the Flo — typically a tail call.
	Outer
	// Unknown: destination not yet classifiable; pending promotion.
	Unknown
)

// Jump is one classified branch edge.
type Jump struct {
	Type JumpType
	Src  addr.Address
	Dst  addr.Address
}

// Call is a recorded CALL instruction: its target, the call-site address,
// and the address execution resumes at after the call returns.
type Call struct {
	Dst addr.Address
	Src addr.Address
	Ret addr.Address
}

// Edge is a directed (src, dst) pair, used by OptimalCoverage to index
// loop and redundant edge sets.
type Edge struct {
	Src, Dst addr.Address
}

// Flo is one recovered function: its entry point, its fully decoded
// instruction stream, and its classified edges.
type Flo struct {
	EntryPoint addr.Address

	Instructions map[addr.Address]x86asm.Inst
	Lengths      map[addr.Address]int

	InnerJumps   map[addr.Address][]Jump // keyed by Dst
	OuterJumps   map[addr.Address][]Jump // keyed by Dst
	UnknownJumps map[addr.Address][]Jump // keyed by Dst
	Calls        map[addr.Address][]Call // keyed by Src

	HasRet bool

	// HasUnresolvedJump is set when the static pass hits a register- or
	// memory-indirect branch it cannot classify without symbolic
	// execution. Per §7, such a Flo is kept (its instructions already
	// decoded are useful to Restruc's caller), but contributes no contexts
	// or structs: OptimalCoverage refuses to run over it.
	HasUnresolvedJump bool

	// BackEdges are the cycles OptimalCoverage discovers for this Flo.
	// Populated lazily by the cfgpath package and cached here for
	// diagnostic reporting; Recontex's propagation does not read it.
	BackEdges []Edge
}

func newFlo(entry addr.Address) *Flo {
	return &Flo{
		EntryPoint:   entry,
		Instructions: make(map[addr.Address]x86asm.Inst),
		Lengths:      make(map[addr.Address]int),
		InnerJumps:   make(map[addr.Address][]Jump),
		OuterJumps:   make(map[addr.Address][]Jump),
		UnknownJumps: make(map[addr.Address][]Jump),
		Calls:        make(map[addr.Address][]Call),
	}
}

// IsComplete reports whether this Flo needs no further decoding: it has at
// least one instruction, no pending unknown jumps, and a RET was seen.
func (f *Flo) IsComplete() bool {
	return len(f.Instructions) > 0 && len(f.UnknownJumps) == 0 && f.HasRet
}

// IsInner reports whether address falls inside the Flo already, either as
// a decoded instruction or as a known inner-jump target.
func (f *Flo) IsInner(address addr.Address) bool {
	if _, ok := f.Instructions[address]; ok {
		return true
	}
	_, ok := f.InnerJumps[address]
	return ok
}

// SortedAddresses returns every decoded instruction address in ascending
// order.
func (f *Flo) SortedAddresses() []addr.Address {
	out := make(addr.Addrs, 0, len(f.Instructions))
	for a := range f.Instructions {
		out = append(out, a)
	}
	sort.Sort(out)
	return []addr.Address(out)
}

// LastAddress returns the highest decoded instruction address, or
// addr.Nil if the Flo has no instructions yet.
func (f *Flo) LastAddress() addr.Address {
	var last addr.Address
	for a := range f.Instructions {
		if a > last {
			last = a
		}
	}
	return last
}

// End returns the address just past the last decoded instruction.
func (f *Flo) End() addr.Address {
	last := f.LastAddress()
	if !last.Valid() {
		return addr.Nil
	}
	return last.Add(int64(f.Lengths[last]))
}

func (f *Flo) addInstruction(a addr.Address, inst x86asm.Inst) {
	f.Instructions[a] = inst
	f.Lengths[a] = inst.Len
}

func (f *Flo) addJump(t JumpType, dst, src addr.Address) {
	j := Jump{Type: t, Src: src, Dst: dst}
	switch t {
	case Inner:
		f.InnerJumps[dst] = append(f.InnerJumps[dst], j)
	case Outer:
		f.OuterJumps[dst] = append(f.OuterJumps[dst], j)
	case Unknown:
		f.UnknownJumps[dst] = append(f.UnknownJumps[dst], j)
	}
}

func (f *Flo) addCall(dst, src, ret addr.Address) {
	f.Calls[src] = append(f.Calls[src], Call{Dst: dst, Src: src, Ret: ret})
}

// promoteUnknown reclassifies every unknown jump targeting dst to newType,
// returning whether anything was promoted.
func (f *Flo) promoteUnknown(dst addr.Address, newType JumpType) bool {
	jumps, ok := f.UnknownJumps[dst]
	if !ok {
		return false
	}
	delete(f.UnknownJumps, dst)
	for _, j := range jumps {
		f.addJump(newType, j.Dst, j.Src)
	}
	return true
}

// UniqueCallTargets returns every distinct call destination in ascending
// order, matching the original's "iterate over unique call destinations"
// worklist traversal.
func (f *Flo) UniqueCallTargets() []addr.Address {
	seen := make(map[addr.Address]bool)
	var out addr.Addrs
	for _, calls := range f.Calls {
		for _, c := range calls {
			if !seen[c.Dst] {
				seen[c.Dst] = true
				out = append(out, c.Dst)
			}
		}
	}
	sort.Sort(out)
	return []addr.Address(out)
}

// UniqueOuterJumpTargets returns every distinct outer-jump destination in
// ascending order.
func (f *Flo) UniqueOuterJumpTargets() []addr.Address {
	var out addr.Addrs
	for dst := range f.OuterJumps {
		out = append(out, dst)
	}
	sort.Sort(out)
	return []addr.Address(out)
}

// merge absorbs other's instructions and edges into f, used when a
// sub-trace rooted at a previously-unknown jump target turns out to be
// contiguous with f.
func (f *Flo) merge(other *Flo) {
	for a, inst := range other.Instructions {
		f.Instructions[a] = inst
		f.Lengths[a] = other.Lengths[a]
	}
	for dst, js := range other.InnerJumps {
		f.InnerJumps[dst] = append(f.InnerJumps[dst], js...)
	}
	for dst, js := range other.OuterJumps {
		f.OuterJumps[dst] = append(f.OuterJumps[dst], js...)
	}
	for dst, js := range other.UnknownJumps {
		f.UnknownJumps[dst] = append(f.UnknownJumps[dst], js...)
	}
	for src, cs := range other.Calls {
		f.Calls[src] = append(f.Calls[src], cs...)
	}
	if other.HasRet {
		f.HasRet = true
	}
}
