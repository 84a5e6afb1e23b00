package breakdown

import (
	"testing"

	"github.com/kaelforge/taskengine/task"
)

func defaultConfig() Config {
	return Config{
		BreakdownThreshold:   0.65,
		MaxBreakdownDepth:    3,
		MaxSubtasks:          12,
		MinSubtaskDurationMs: 5 * 60 * 1000,
		MaxSubtaskDurationMs: 2 * 60 * 60 * 1000,
	}
}

func TestScoreIncreasesWithDependenciesAndLength(t *testing.T) {
	small := Score(ComplexityInput{
		Description:           "fix typo",
		DependencyCount:        0,
		Category:               task.CategoryBugFix,
		HistoricalSuccessRate:  1.0,
	})
	large := Score(ComplexityInput{
		Description:           longDescription(200),
		DependencyCount:        6,
		Category:               task.CategoryFeature,
		HistoricalSuccessRate:  0.3,
	})
	if !(large > small) {
		t.Fatalf("expected large complexity score %v to exceed small %v", large, small)
	}
	if small < 0 || small > 1 || large < 0 || large > 1 {
		t.Fatalf("scores must be in [0,1]: small=%v large=%v", small, large)
	}
}

func longDescription(words int) string {
	s := ""
	for i := 0; i < words; i++ {
		s += "word "
	}
	return s
}

func TestEvaluateDeclinesBelowThreshold(t *testing.T) {
	view := &task.View{ID: "t1", Title: "Small fix", EstimatedDurationMs: 30 * 60 * 1000}
	plan, score, err := Evaluate(view, ComplexityInput{
		Description:          "fix a small bug",
		DependencyCount:       0,
		Category:              task.CategoryBugFix,
		HistoricalSuccessRate: 1.0,
	}, defaultConfig(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.ShouldBreakdown {
		t.Fatalf("expected no breakdown for low-complexity task, score=%v", score)
	}
}

func TestEvaluateProducesBoundedPlan(t *testing.T) {
	view := &task.View{ID: "t1", Title: "Rebuild auth subsystem", EstimatedDurationMs: 4 * 60 * 60 * 1000}
	cfg := defaultConfig()
	plan, score, err := Evaluate(view, ComplexityInput{
		Description:           longDescription(250),
		DependencyCount:        5,
		Category:               task.CategoryFeature,
		HistoricalSuccessRate:  0.4,
	}, cfg, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !plan.ShouldBreakdown {
		t.Fatalf("expected breakdown for high-complexity task, score=%v", score)
	}
	if len(plan.Subtasks) < 1 || len(plan.Subtasks) > cfg.MaxSubtasks {
		t.Fatalf("subtask count %d out of bounds [1,%d]", len(plan.Subtasks), cfg.MaxSubtasks)
	}

	var total int64
	for _, st := range plan.Subtasks {
		if st.EstimatedDurationMs < cfg.MinSubtaskDurationMs || st.EstimatedDurationMs > cfg.MaxSubtaskDurationMs {
			t.Fatalf("subtask duration %d out of bounds", st.EstimatedDurationMs)
		}
		total += st.EstimatedDurationMs
	}
	lower := float64(view.EstimatedDurationMs) * 0.75
	upper := float64(view.EstimatedDurationMs) * 1.25
	if float64(total) < lower || float64(total) > upper {
		t.Fatalf("total subtask duration %d outside ±25%% of original %d", total, view.EstimatedDurationMs)
	}
}

func TestEvaluateRejectsAtMaxDepth(t *testing.T) {
	view := &task.View{ID: "t1", Title: "Deep task", EstimatedDurationMs: 4 * 60 * 60 * 1000}
	cfg := defaultConfig()
	_, _, err := Evaluate(view, ComplexityInput{
		Description:           longDescription(250),
		DependencyCount:        5,
		Category:               task.CategoryFeature,
		HistoricalSuccessRate:  0.3,
	}, cfg, cfg.MaxBreakdownDepth)
	if err != ErrDepthExceeded {
		t.Fatalf("expected ErrDepthExceeded, got %v", err)
	}
}

func TestMaterializeWiresTrackerAndSubtasks(t *testing.T) {
	original := &task.Task{
		ID:                  "orig-1",
		Title:               "Rebuild auth subsystem",
		Category:            task.CategoryFeature,
		Priority:            task.PriorityHigh,
		MaxRetries:          3,
		Dependents:          map[task.ID]struct{}{},
		RequiredResources:   map[string]struct{}{"cpu": {}},
		ResourceConstraints: map[string]int{},
	}
	plan := Plan{
		ShouldBreakdown: true,
		Strategy:        StrategyTemporal,
		Subtasks: []SubtaskSpec{
			{Title: "phase 1", EstimatedDurationMs: 30 * 60 * 1000, Category: task.CategoryFeature},
			{Title: "phase 2", EstimatedDurationMs: 30 * 60 * 1000, Category: task.CategoryFeature},
		},
		InternalEdges: []InternalEdge{{FromIdx: 0, ToIdx: 1, Type: task.EdgeBlocks}},
	}

	counter := 0
	newID := func() task.ID {
		counter++
		return task.ID("sub-" + string(rune('0'+counter)))
	}

	tracker, subtasks := Materialize(original, plan, newID)

	if tracker.ID != original.ID {
		t.Fatalf("expected tracker ID to equal original ID %q, got %q", original.ID, tracker.ID)
	}
	if len(tracker.SubtaskIDs) != 2 {
		t.Fatalf("expected 2 subtask IDs on tracker, got %d", len(tracker.SubtaskIDs))
	}
	for _, st := range subtasks {
		if st.ParentTaskID != original.ID {
			t.Fatalf("subtask %q missing parentTaskID", st.ID)
		}
		if !st.HasTag(subtaskTag) {
			t.Fatalf("subtask %q missing subtask tag", st.ID)
		}
	}
	if _, ok := subtasks[1].Dependencies[subtasks[0].ID]; !ok {
		t.Fatalf("expected phase 2 to depend on phase 1")
	}
	if _, ok := tracker.Dependencies[subtasks[0].ID]; !ok {
		t.Fatalf("expected tracker to depend on subtask 0")
	}
}
