// Package depgraph guarantees that the dependency edges used for sequencing
// form a DAG. Cycles among blocking edges are broken by downgrading or
// dropping the back edge of each recorded cycle; ordering is then computed
// with Kahn's algorithm restricted to blocking edges.
//
// All functions are pure: inputs are never mutated.
package depgraph

import (
	"fmt"
	"slices"

	"github.com/ApexChef/groomflow/internal/item"
)

// Resolution is the output of Resolve.
type Resolution struct {
	// HasCycles reports whether any cycle was found in the input.
	HasCycles bool
	// Cycles holds one id path per recorded cycle, each ending where it
	// started (e.g. [A B C A]).
	Cycles [][]string
	// CleanedEdges is the input edge set with every back edge downgraded
	// (blocks → relates-to) or dropped. It always admits a topological
	// order over blocking edges.
	CleanedEdges []item.DependencyEdge
}

// Resolve detects cycles in the edge list with a depth-first traversal over
// an explicit recursion stack and removes them. For each recorded cycle the
// closing back edge is downgraded to relates-to when it is a blocks edge
// (with an explanatory note appended to its reason) and dropped otherwise.
//
// One pass suffices: only blocks edges feed the ordering computation, and
// every back edge ends up non-blocking or gone.
func Resolve(edges []item.DependencyEdge) Resolution {
	res := Resolution{CleanedEdges: slices.Clone(edges)}

	adjacency := make(map[string][]int) // node -> indexes into res.CleanedEdges
	var nodes []string
	seen := make(map[string]bool)
	addNode := func(id string) {
		if !seen[id] {
			seen[id] = true
			nodes = append(nodes, id)
		}
	}
	for i, e := range res.CleanedEdges {
		addNode(e.Source)
		addNode(e.Target)
		adjacency[e.Source] = append(adjacency[e.Source], i)
	}

	const (
		unvisited = iota
		onStack
		done
	)
	color := make(map[string]int, len(nodes))
	dropped := make(map[int]bool) // edge indexes removed by cycle breaking

	// frame is one level of the explicit recursion stack.
	type frame struct {
		node string
		next int // next adjacency index to explore
	}

	for _, start := range nodes {
		if color[start] != unvisited {
			continue
		}

		stack := []frame{{node: start}}
		color[start] = onStack
		path := []string{start}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			outs := adjacency[top.node]

			if top.next >= len(outs) {
				color[top.node] = done
				stack = stack[:len(stack)-1]
				path = path[:len(path)-1]
				continue
			}

			edgeIdx := outs[top.next]
			top.next++

			if dropped[edgeIdx] {
				continue
			}
			edge := res.CleanedEdges[edgeIdx]
			target := edge.Target

			switch color[target] {
			case unvisited:
				color[target] = onStack
				stack = append(stack, frame{node: target})
				path = append(path, target)

			case onStack:
				// Back edge: the stack suffix from target plus the
				// closing edge is a cycle.
				at := slices.Index(path, target)
				cycle := slices.Clone(path[at:])
				cycle = append(cycle, target)
				res.HasCycles = true
				res.Cycles = append(res.Cycles, cycle)

				if edge.Kind == item.EdgeBlocks {
					res.CleanedEdges[edgeIdx].Kind = item.EdgeRelatesTo
					res.CleanedEdges[edgeIdx].Reason = annotate(edge.Reason, cycle)
				} else {
					dropped[edgeIdx] = true
				}

			case done:
				// Cross or forward edge, no cycle.
			}
		}
	}

	if len(dropped) > 0 {
		cleaned := res.CleanedEdges[:0:0]
		for i, e := range res.CleanedEdges {
			if !dropped[i] {
				cleaned = append(cleaned, e)
			}
		}
		res.CleanedEdges = cleaned
	}

	return res
}

// annotate appends a cycle-break note to an edge reason.
func annotate(reason string, cycle []string) string {
	note := fmt.Sprintf("downgraded from blocks to break cycle %v", cycle)
	if reason == "" {
		return note
	}
	return reason + " (" + note + ")"
}

// TopoOrder computes a topological order of ids over blocking edges using
// Kahn's algorithm. It returns (nil, false) when the blocking edges still
// contain a cycle; callers must treat that as fatal rather than proceed with
// unordered data.
func TopoOrder(ids []string, edges []item.DependencyEdge) ([]string, bool) {
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}

	indegree := make(map[string]int, len(ids))
	successors := make(map[string][]string)
	for _, e := range edges {
		if e.Kind != item.EdgeBlocks || !known[e.Source] || !known[e.Target] {
			continue
		}
		// source blocks target: source must come first.
		successors[e.Source] = append(successors[e.Source], e.Target)
		indegree[e.Target]++
	}

	// Seed the queue in input order so the result is deterministic.
	var queue []string
	for _, id := range ids {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(ids))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		for _, next := range successors[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(ids) {
		return nil, false
	}
	return order, true
}

// CanParallelize reports whether an item has no outgoing blocks edge and can
// therefore run alongside its peers.
func CanParallelize(id string, edges []item.DependencyEdge) bool {
	for _, e := range edges {
		if e.Kind == item.EdgeBlocks && e.Source == id {
			return false
		}
	}
	return true
}
