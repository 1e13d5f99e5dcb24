package cfgpath

import (
	"rstc/internal/addr"
	"rstc/internal/reflo"
)

// PathStep is one decision point along a Path: the address of the
// instruction that branches, and whether that branch was taken.
type PathStep struct {
	Source addr.Address
	Taken  bool
}

// Path is an ordered list of branch decisions an executor must make to
// walk one member of the cover.
type Path []PathStep

// buildPaths implements OptimalCoverage step 6. It returns the enumerated
// paths and whether enumeration was truncated after exceeding maxPaths.
func buildPaths(nodes map[addr.Address]*Node, loopEdges, uselessEdges map[reflo.Edge]bool, entry addr.Address) ([]Path, bool) {
	var paths []Path
	var current Path
	visitedLoops := make(map[reflo.Edge]bool)
	truncated := false

	var dfs func(a addr.Address)
	dfs = func(a addr.Address) {
		if truncated {
			return
		}
		n, ok := nodes[a]
		if !ok || n.End || len(n.Branches) == 0 {
			if len(paths) >= maxPaths {
				truncated = true
				return
			}
			snapshot := make(Path, len(current))
			copy(snapshot, current)
			paths = append(paths, snapshot)
			return
		}

		last := len(n.Branches) - 1
		for idx, br := range n.Branches {
			if truncated {
				return
			}
			edge := reflo.Edge{Src: a, Dst: br.Dst}
			if uselessEdges[edge] {
				continue
			}
			isLoop := loopEdges[edge]
			if isLoop {
				if visitedLoops[edge] {
					continue
				}
				visitedLoops[edge] = true
			}

			mark := len(current)
			isPrimary := idx == last
			if isPrimary {
				current = append(current, PathStep{Source: br.Source, Taken: false})
				if br.Type == Unconditional {
					current = append(current, PathStep{Source: br.Source, Taken: true})
				}
			} else {
				current = append(current, PathStep{Source: br.Source, Taken: true})
			}

			dfs(br.Dst)

			current = current[:mark]
			if isLoop {
				delete(visitedLoops, edge)
			}
		}
	}
	dfs(entry)
	return paths, truncated
}
