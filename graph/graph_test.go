package graph

import (
	"testing"

	"github.com/kaelforge/taskengine/task"
)

func TestAddDependencyRejectsCycle(t *testing.T) {
	g := New()

	if err := g.AddDependency("A", "B", task.EdgeBlocks); err != nil {
		t.Fatalf("A->B should be accepted: %v", err)
	}

	err := g.AddDependency("B", "A", task.EdgeBlocks)
	if err != ErrCyclicDependency {
		t.Fatalf("expected ErrCyclicDependency, got %v", err)
	}

	deps := g.Dependencies("B")
	if len(deps) != 1 || deps[0] != "A" {
		t.Fatalf("graph should be unchanged after rejected edge, got deps=%v", deps)
	}
	if len(g.Dependencies("A")) != 0 {
		t.Fatalf("A should have no dependencies after rejected edge")
	}
}

func TestTopoOrderTieBreak(t *testing.T) {
	g := New()
	g.AddNode("A")
	g.AddNode("B")
	g.AddNode("C")
	if err := g.AddDependency("A", "B", task.EdgeBlocks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	order := g.TopoOrder([]task.ID{"A", "B", "C"}, func(a, b task.ID) bool { return a < b })
	if len(order) != 3 {
		t.Fatalf("expected 3 nodes in order, got %d: %v", len(order), order)
	}
	// A must precede B.
	posA, posB := -1, -1
	for i, id := range order {
		if id == "A" {
			posA = i
		}
		if id == "B" {
			posB = i
		}
	}
	if posA >= posB {
		t.Fatalf("expected A before B, got order %v", order)
	}
}

func TestRemoveNodeClearsEdges(t *testing.T) {
	g := New()
	if err := g.AddDependency("A", "B", task.EdgeBlocks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g.RemoveNode("A")
	if deps := g.Dependencies("B"); len(deps) != 0 {
		t.Fatalf("expected no dependencies after removing A, got %v", deps)
	}
}

func TestParallelizableGroups(t *testing.T) {
	g := New()
	if err := g.AddDependency("A", "B", task.EdgeBlocks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g.AddNode("C")

	groups := g.ParallelizableGroups([]task.ID{"A", "B", "C"})
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups (A,B) and (C), got %d: %v", len(groups), groups)
	}
}
