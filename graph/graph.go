// Package graph implements the dependency graph described in spec §4.3
// (C3): cycle detection on every edge insertion, topological ordering,
// critical-path estimation, and parallelizable-group discovery. It has no
// direct analog in the reference control-plane (which has no
// task-dependency concept) and is built in the same plain
// struct-plus-mutex idiom the reference uses for its other shared-state
// components (resource.Pool, timeline.Store).
package graph

import (
	"errors"
	"sort"
	"sync"

	"github.com/kaelforge/taskengine/task"
)

// ErrCyclicDependency is returned when adding an edge would create a
// cycle (spec §4.3, §7 "CyclicDependency").
var ErrCyclicDependency = errors.New("cyclic dependency")

// Edge is a typed dependency edge between two tasks.
type Edge struct {
	From task.ID
	To   task.ID
	Type task.EdgeType
}

// Graph is the thread-safe dependency graph. Nodes are task IDs; edges
// are typed per spec §3.
type Graph struct {
	mu    sync.RWMutex
	nodes map[task.ID]struct{}
	out   map[task.ID]map[task.ID]task.EdgeType // from -> to -> type
	in    map[task.ID]map[task.ID]task.EdgeType // to -> from -> type
}

// New creates an empty dependency graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[task.ID]struct{}),
		out:   make(map[task.ID]map[task.ID]task.EdgeType),
		in:    make(map[task.ID]map[task.ID]task.EdgeType),
	}
}

// AddNode registers a task ID with no edges, a no-op if already present.
func (g *Graph) AddNode(id task.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addNodeLocked(id)
}

func (g *Graph) addNodeLocked(id task.ID) {
	if _, ok := g.nodes[id]; ok {
		return
	}
	g.nodes[id] = struct{}{}
	g.out[id] = make(map[task.ID]task.EdgeType)
	g.in[id] = make(map[task.ID]task.EdgeType)
}

// RemoveNode deletes a task and every edge touching it.
func (g *Graph) RemoveNode(id task.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for to := range g.out[id] {
		delete(g.in[to], id)
	}
	for from := range g.in[id] {
		delete(g.out[from], id)
	}
	delete(g.out, id)
	delete(g.in, id)
	delete(g.nodes, id)
}

// AddDependency adds an edge "to depends on from" (from BLOCKS/ENABLES/etc
// to) meaning `to` cannot dispatch until `from` satisfies the edge type's
// gating rule. Rejected with ErrCyclicDependency if it would create a
// cycle; the graph is left unchanged on rejection (spec §4.3, I7).
func (g *Graph) AddDependency(from, to task.ID, edgeType task.EdgeType) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.addNodeLocked(from)
	g.addNodeLocked(to)

	if g.out[from][to] == edgeType {
		return nil // idempotent re-add
	}

	// Tentatively add, then check for a cycle via DFS; roll back if found.
	prevType, hadEdge := g.out[from][to]
	g.out[from][to] = edgeType
	g.in[to][from] = edgeType

	if g.hasCycleLocked() {
		if hadEdge {
			g.out[from][to] = prevType
			g.in[to][from] = prevType
		} else {
			delete(g.out[from], to)
			delete(g.in[to], from)
		}
		return ErrCyclicDependency
	}
	return nil
}

// RemoveDependency deletes a single edge if present.
func (g *Graph) RemoveDependency(from, to task.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.out[from], to)
	delete(g.in[to], from)
}

// hasCycleLocked runs DFS with a recursion stack over the whole graph
// (spec §4.3: "DFS with recursion stack on every addDependency").
func (g *Graph) hasCycleLocked() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[task.ID]int, len(g.nodes))
	var visit func(n task.ID) bool
	visit = func(n task.ID) bool {
		color[n] = gray
		for to := range g.out[n] {
			switch color[to] {
			case gray:
				return true
			case white:
				if visit(to) {
					return true
				}
			}
		}
		color[n] = black
		return false
	}
	for n := range g.nodes {
		if color[n] == white {
			if visit(n) {
				return true
			}
		}
	}
	return false
}

// HasCycle reports whether the graph currently contains a cycle. No caller
// in this module invokes it; AddDependency already rejects every edge
// that would create a cycle.
func (g *Graph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

// Dependencies returns the gating (BLOCKS/CONFLICTS) upstream IDs of a
// task — spec §3's "dependencies" reverse-indexed via Dependents.
func (g *Graph) Dependencies(id task.ID) []task.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []task.ID
	for from, et := range g.in[id] {
		if et.Gates() {
			out = append(out, from)
		}
	}
	return out
}

// AllDependencies returns every upstream edge regardless of type.
func (g *Graph) AllDependencies(id task.ID) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Edge
	for from, et := range g.in[id] {
		out = append(out, Edge{From: from, To: id, Type: et})
	}
	return out
}

// OutgoingEdges returns every downstream edge regardless of type, the
// dual of AllDependencies. Used to drive failure cascade: a BLOCKS/
// CONFLICTS edge propagates the failure, an ENABLES/ENHANCES edge is
// simply dropped (spec §4.5).
func (g *Graph) OutgoingEdges(id task.ID) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Edge
	for to, et := range g.out[id] {
		out = append(out, Edge{From: id, To: to, Type: et})
	}
	return out
}

// Dependents returns the downstream IDs of a task (reverse index, I1).
func (g *Graph) Dependents(id task.ID) []task.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []task.ID
	for to := range g.out[id] {
		out = append(out, to)
	}
	return out
}

// TopoOrder returns a Kahn's-algorithm topological order restricted to
// the given candidate set, using only gating edges. tieBreak resolves
// equal-level ties deterministically (the engine's dispatch tick and
// CriticalPath pass lexicographic task-ID order).
func (g *Graph) TopoOrder(candidates []task.ID, tieBreak func(a, b task.ID) bool) []task.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	in := make(map[task.ID]int, len(candidates))
	set := make(map[task.ID]struct{}, len(candidates))
	for _, c := range candidates {
		set[c] = struct{}{}
	}
	for _, c := range candidates {
		count := 0
		for from, et := range g.in[c] {
			if et.Gates() {
				if _, inSet := set[from]; inSet {
					count++
				}
			}
		}
		in[c] = count
	}

	var ready []task.ID
	for _, c := range candidates {
		if in[c] == 0 {
			ready = append(ready, c)
		}
	}

	var order []task.ID
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return tieBreak(ready[i], ready[j]) })
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for to, et := range g.out[next] {
			if !et.Gates() {
				continue
			}
			if _, inSet := set[to]; !inSet {
				continue
			}
			in[to]--
			if in[to] == 0 {
				ready = append(ready, to)
			}
		}
	}
	return order
}

// CriticalPath returns the IDs on the longest-duration path through the
// gating subgraph of candidates, using durationOf for per-node weight
// (spec §4.3: "longest-path by estimated duration").
func (g *Graph) CriticalPath(candidates []task.ID, durationOf func(task.ID) int64) []task.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	set := make(map[task.ID]struct{}, len(candidates))
	for _, c := range candidates {
		set[c] = struct{}{}
	}

	order := g.TopoOrder(candidatesCopy(candidates), func(a, b task.ID) bool { return a < b })
	best := make(map[task.ID]int64, len(order))
	prev := make(map[task.ID]task.ID, len(order))
	var bestEnd task.ID
	var bestVal int64 = -1

	for _, n := range order {
		total := durationOf(n)
		var chosenPrev task.ID
		hasPrev := false
		for from, et := range g.in[n] {
			if !et.Gates() {
				continue
			}
			if _, inSet := set[from]; !inSet {
				continue
			}
			if v, ok := best[from]; ok && (!hasPrev || v > best[chosenPrev]) {
				chosenPrev = from
				hasPrev = true
			}
		}
		if hasPrev {
			total += best[chosenPrev]
			prev[n] = chosenPrev
		}
		best[n] = total
		if total > bestVal {
			bestVal = total
			bestEnd = n
		}
	}

	if bestVal < 0 {
		return nil
	}
	var path []task.ID
	cur := bestEnd
	for {
		path = append([]task.ID{cur}, path...)
		p, ok := prev[cur]
		if !ok {
			break
		}
		cur = p
	}
	return path
}

func candidatesCopy(ids []task.ID) []task.ID {
	out := make([]task.ID, len(ids))
	copy(out, ids)
	return out
}

// ParallelizableGroups partitions candidates into connected components
// (by gating edges) that are mutually independent — spec §4.3
// "connected components of the eligible subgraph". Resource-coexistence
// filtering is the caller's responsibility (it needs live pool state).
func (g *Graph) ParallelizableGroups(candidates []task.ID) [][]task.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	set := make(map[task.ID]struct{}, len(candidates))
	for _, c := range candidates {
		set[c] = struct{}{}
	}
	visited := make(map[task.ID]bool, len(candidates))
	var groups [][]task.ID

	for _, start := range candidates {
		if visited[start] {
			continue
		}
		var component []task.ID
		queue := []task.ID{start}
		visited[start] = true
		for len(queue) > 0 {
			n := queue[0]
			queue = queue[1:]
			component = append(component, n)
			neighbors := make([]task.ID, 0)
			for to, et := range g.out[n] {
				if et.Gates() {
					neighbors = append(neighbors, to)
				}
			}
			for from, et := range g.in[n] {
				if et.Gates() {
					neighbors = append(neighbors, from)
				}
			}
			for _, nb := range neighbors {
				if _, inSet := set[nb]; !inSet {
					continue
				}
				if !visited[nb] {
					visited[nb] = true
					queue = append(queue, nb)
				}
			}
		}
		groups = append(groups, component)
	}
	return groups
}
