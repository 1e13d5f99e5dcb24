package cfgpath

import (
	"rstc/internal/addr"
	"rstc/internal/reflo"
)

// topoOrder implements OptimalCoverage step 3: a DFS from entry, assigning
// each node an index in reverse finish order. Tolerates back-edges (the
// result is only a pseudo-topological order when cycles exist).
func topoOrder(nodes map[addr.Address]*Node, entry addr.Address) map[addr.Address]int {
	visited := make(map[addr.Address]bool)
	var finish addr.Addrs

	var dfs func(a addr.Address)
	dfs = func(a addr.Address) {
		if visited[a] {
			return
		}
		visited[a] = true
		if n, ok := nodes[a]; ok {
			for _, br := range n.Branches {
				dfs(br.Dst)
			}
		}
		finish = append(finish, a)
	}
	dfs(entry)

	order := make(map[addr.Address]int, len(finish))
	last := len(finish) - 1
	for i, a := range finish {
		order[a] = last - i
	}
	return order
}

// detectLoopEdges implements OptimalCoverage step 4: an edge (u,v) is a
// loop edge iff order[v] <= order[u].
func detectLoopEdges(nodes map[addr.Address]*Node, order map[addr.Address]int) map[reflo.Edge]bool {
	loop := make(map[reflo.Edge]bool)
	for u, n := range nodes {
		for _, br := range n.Branches {
			if order[br.Dst] <= order[u] {
				loop[reflo.Edge{Src: u, Dst: br.Dst}] = true
			}
		}
	}
	return loop
}

// detectUselessEdges implements OptimalCoverage step 5: edge (u,v) is
// useless when v is reachable from u via some other route that avoids
// (u,v) itself, avoids every known loop edge, and never crosses a node
// whose topological index exceeds order[v].
func detectUselessEdges(nodes map[addr.Address]*Node, order map[addr.Address]int, loopEdges map[reflo.Edge]bool) map[reflo.Edge]bool {
	useless := make(map[reflo.Edge]bool)
	for u, n := range nodes {
		for _, br := range n.Branches {
			v := br.Dst
			edge := reflo.Edge{Src: u, Dst: v}
			if reachableWithout(nodes, order, loopEdges, u, v, edge) {
				useless[edge] = true
			}
		}
	}
	return useless
}

func reachableWithout(nodes map[addr.Address]*Node, order map[addr.Address]int, loopEdges map[reflo.Edge]bool, start, target addr.Address, excl reflo.Edge) bool {
	limit := order[target]
	visited := make(map[addr.Address]bool)

	var dfs func(a addr.Address) bool
	dfs = func(a addr.Address) bool {
		if a == target {
			return true
		}
		if visited[a] {
			return false
		}
		visited[a] = true
		n, ok := nodes[a]
		if !ok {
			return false
		}
		for _, br := range n.Branches {
			e := reflo.Edge{Src: a, Dst: br.Dst}
			if e == excl || loopEdges[e] {
				continue
			}
			if order[br.Dst] > limit {
				continue
			}
			if dfs(br.Dst) {
				return true
			}
		}
		return false
	}

	n, ok := nodes[start]
	if !ok {
		return false
	}
	for _, br := range n.Branches {
		e := reflo.Edge{Src: start, Dst: br.Dst}
		if e == excl || loopEdges[e] {
			continue
		}
		if order[br.Dst] > limit {
			continue
		}
		if dfs(br.Dst) {
			return true
		}
	}
	return false
}
