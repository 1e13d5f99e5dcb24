// Package cfgpath implements OptimalCoverage (§4.2): given a complete Flo,
// it collapses the decoded instruction stream into a small CFG of Nodes and
// Branches, classifies loop and redundant edges, and enumerates the
// minimal set of Paths a context-propagation pass must walk to cover every
// edge that matters.
//
// No teacher analogue exists for this package — mewmew-x emits straight-line
// LLVM IR per basic block rather than computing a path cover — so it is
// grounded directly on the algorithm prose.
package cfgpath

import (
	"sort"

	"rstc/internal/addr"
	"rstc/internal/reflo"
	"rstc/internal/rerr"
)

// maxPaths bounds path enumeration against pathological CFGs (§7's
// PathExplosion, an optional safety valve, "not required for correctness").
const maxPaths = 20000

// Graph is the collapsed CFG built for one Flo: its Nodes keyed by head
// address, the topological order assigned to each head, and the loop and
// useless edge sets derived from that order. Exported so callers outside
// this package can inspect the path cover's structure directly without
// recomputing it.
type Graph struct {
	Entry        addr.Address
	Nodes        map[addr.Address]*Node
	Order        map[addr.Address]int
	LoopEdges    map[reflo.Edge]bool
	UselessEdges map[reflo.Edge]bool
}

// Build runs OptimalCoverage steps 1-5 over f: node collapsing,
// normalisation, topological ordering, and loop/useless edge detection.
// f must be complete; an unresolved indirect jump aborts with
// rerr.UnresolvedControlFlow.
func Build(f *reflo.Flo) (*Graph, error) {
	nodes, err := buildNodes(f)
	if err != nil {
		return nil, err
	}
	normalize(nodes)
	order := topoOrder(nodes, f.EntryPoint)
	loopEdges := detectLoopEdges(nodes, order)
	uselessEdges := detectUselessEdges(nodes, order, loopEdges)

	return &Graph{
		Entry:        f.EntryPoint,
		Nodes:        nodes,
		Order:        order,
		LoopEdges:    loopEdges,
		UselessEdges: uselessEdges,
	}, nil
}

// Coverage runs the full OptimalCoverage algorithm over f, returning the
// Path set and caching the discovered back-edges onto f.BackEdges for
// diagnostic reporting.
func Coverage(f *reflo.Flo) ([]Path, error) {
	g, err := Build(f)
	if err != nil {
		return nil, err
	}
	f.BackEdges = sortedEdges(g.LoopEdges)

	paths, truncated := buildPaths(g.Nodes, g.LoopEdges, g.UselessEdges, g.Entry)
	if truncated {
		return nil, rerr.New(rerr.PathExplosion, "flo %v exceeds %d paths", f.EntryPoint, maxPaths)
	}
	return paths, nil
}

func sortedEdges(set map[reflo.Edge]bool) []reflo.Edge {
	out := make([]reflo.Edge, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Src != out[j].Src {
			return out[i].Src < out[j].Src
		}
		return out[i].Dst < out[j].Dst
	})
	return out
}
