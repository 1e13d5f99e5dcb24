package cfgpath

import (
	"sort"

	"rstc/internal/addr"
	"rstc/internal/reflo"
	"rstc/internal/rerr"
)

// BranchType classifies one outgoing edge of a Node.
type BranchType int

const (
	// Conditional: one target of a Jcc/LOOPcc in a collapsed run.
	Conditional BranchType = iota
	// Unconditional: the terminating JMP of a run, or a standalone JMP.
	Unconditional
	// Next: plain fall-through, no jump taken.
	Next
)

// Branch is one outgoing edge of a Node.
type Branch struct {
	Source addr.Address
	Dst    addr.Address
	Type   BranchType
}

// Node is a synthetic basic-block head: an instruction address that starts
// a (possibly collapsed) jump chain, or ends in RET or an outer jump.
type Node struct {
	Head     addr.Address
	Branches []Branch
	End      bool
}

// collectSrcJumps re-indexes a Flo's dst-keyed jump buckets by source
// address, since Node construction walks source order.
func collectSrcJumps(f *reflo.Flo) map[addr.Address]reflo.Jump {
	m := make(map[addr.Address]reflo.Jump)
	for _, js := range f.InnerJumps {
		for _, j := range js {
			m[j.Src] = j
		}
	}
	for _, js := range f.OuterJumps {
		for _, j := range js {
			m[j.Src] = j
		}
	}
	return m
}

// buildNodes implements OptimalCoverage step 1. It requires a Flo with no
// unresolved control flow; any remaining unknown jump destination aborts
// the whole coverage computation, per §4.2's "if any jump destination
// fails to decode, abort".
func buildNodes(f *reflo.Flo) (map[addr.Address]*Node, error) {
	if f.HasUnresolvedJump || len(f.UnknownJumps) > 0 {
		return nil, rerr.New(rerr.UnresolvedControlFlow, "flo %v has unresolved jump destinations", f.EntryPoint)
	}

	srcJump := collectSrcJumps(f)
	addrs := f.SortedAddresses()
	nodes := make(map[addr.Address]*Node)
	if len(addrs) == 0 {
		return nodes, nil
	}

	head := addrs[0]
	i := 0
	for i < len(addrs) {
		a := addrs[i]
		inst := f.Instructions[a]

		switch {
		case reflo.IsRet(inst.Op):
			nodes[head] = &Node{Head: head, End: true}
			i++

		case reflo.IsConditionalJump(inst.Op):
			var branches []Branch
			j := i
			for j < len(addrs) && reflo.IsConditionalJump(f.Instructions[addrs[j]].Op) {
				cur := addrs[j]
				if jmp, ok := srcJump[cur]; ok && jmp.Type == reflo.Inner {
					branches = append(branches, Branch{Source: cur, Dst: jmp.Dst, Type: Conditional})
				}
				j++
			}
			if j < len(addrs) {
				next := addrs[j]
				if reflo.IsUnconditionalJump(f.Instructions[next].Op) {
					if jmp, ok := srcJump[next]; ok && jmp.Type == reflo.Inner {
						branches = append(branches, Branch{Source: next, Dst: jmp.Dst, Type: Unconditional})
					}
					j++
				} else {
					branches = append(branches, Branch{Source: addrs[j-1], Dst: next, Type: Next})
				}
			}
			nodes[head] = &Node{Head: head, Branches: branches, End: len(branches) == 0}
			i = j

		case reflo.IsUnconditionalJump(inst.Op):
			var branches []Branch
			if jmp, ok := srcJump[a]; ok && jmp.Type == reflo.Inner {
				branches = append(branches, Branch{Source: a, Dst: jmp.Dst, Type: Unconditional})
			}
			nodes[head] = &Node{Head: head, Branches: branches, End: len(branches) == 0}
			i++

		default:
			i++
			continue
		}

		if i < len(addrs) {
			head = addrs[i]
		}
	}
	return nodes, nil
}

// normalize implements OptimalCoverage step 2: every Branch.Dst is snapped
// to the lowest node head at or above it, since a branch may target an
// address swallowed into the middle of a collapsed conditional-jump run.
func normalize(nodes map[addr.Address]*Node) {
	heads := make(addr.Addrs, 0, len(nodes))
	for h := range nodes {
		heads = append(heads, h)
	}
	sort.Sort(heads)

	snap := func(d addr.Address) addr.Address {
		idx := sort.Search(len(heads), func(i int) bool { return heads[i] >= d })
		if idx < len(heads) {
			return heads[idx]
		}
		return d
	}
	for _, n := range nodes {
		for i := range n.Branches {
			n.Branches[i].Dst = snap(n.Branches[i].Dst)
		}
	}
}
