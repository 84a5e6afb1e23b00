package engine

import (
	"testing"

	"github.com/kaelforge/taskengine/scheduler"
	"github.com/kaelforge/taskengine/task"
)

func batchCandidate(id task.ID, group string, cat task.Category, compatible bool) scheduler.Candidate {
	return scheduler.Candidate{
		View: &task.View{ID: id, BatchCompatible: compatible, BatchGroup: group, Category: cat},
	}
}

func TestExpandBatchCoDispatchesMatchingPeersUpToCap(t *testing.T) {
	candidates := []scheduler.Candidate{
		batchCandidate("a", "release-1", task.CategoryFeature, true),
		batchCandidate("b", "release-1", task.CategoryFeature, true),
		batchCandidate("c", "release-1", task.CategoryFeature, true),
		batchCandidate("d", "release-1", task.CategoryFeature, true),
	}
	selected := []task.ID{"a"}

	got := expandBatch(candidates, selected, 3)

	if len(got) != 3 {
		t.Fatalf("expected batch cap of 3 tasks dispatched, got %d: %v", len(got), got)
	}
}

func TestExpandBatchIgnoresMismatchedGroupOrCategory(t *testing.T) {
	candidates := []scheduler.Candidate{
		batchCandidate("a", "release-1", task.CategoryFeature, true),
		batchCandidate("b", "release-2", task.CategoryFeature, true),
		batchCandidate("c", "release-1", task.CategoryTest, true),
	}
	selected := []task.ID{"a"}

	got := expandBatch(candidates, selected, 10)

	if len(got) != 1 {
		t.Fatalf("expected no co-dispatch across mismatched group/category, got %v", got)
	}
}

func TestExpandBatchLeavesNonBatchSelectionUntouched(t *testing.T) {
	candidates := []scheduler.Candidate{
		batchCandidate("a", "", task.CategoryFeature, false),
		batchCandidate("b", "release-1", task.CategoryFeature, true),
	}
	selected := []task.ID{"a"}

	got := expandBatch(candidates, selected, 5)

	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected selection untouched for a non-batch-compatible task, got %v", got)
	}
}

func TestExpandBatchNoopWhenCapIsOne(t *testing.T) {
	candidates := []scheduler.Candidate{
		batchCandidate("a", "release-1", task.CategoryFeature, true),
		batchCandidate("b", "release-1", task.CategoryFeature, true),
	}
	selected := []task.ID{"a"}

	got := expandBatch(candidates, selected, 1)

	if len(got) != 1 {
		t.Fatalf("expected batchCap<=1 to disable co-dispatch, got %v", got)
	}
}
