package scheduler

import (
	"testing"
	"time"

	"github.com/kaelforge/taskengine/task"
)

func mkCandidate(id task.ID, priority task.Priority, createdAt time.Time) Candidate {
	return Candidate{
		View: &task.View{
			ID:        id,
			Priority:  priority,
			CreatedAt: createdAt,
		},
		EffectivePriority: float64(priority),
		QueuedSince:       createdAt,
	}
}

// S1 — Priority ordering: B(CRITICAL), A(HIGH), C(MEDIUM), maxConcurrent=1.
func TestSelectNextPriorityOrdering(t *testing.T) {
	now := time.Now()
	s := NewSelector(Config{Algorithm: PRIORITY, MaxStarvationTime: 5 * time.Minute})

	candidates := []Candidate{
		mkCandidate("A", task.PriorityHigh, now),
		mkCandidate("B", task.PriorityCritical, now),
		mkCandidate("C", task.PriorityMedium, now),
	}

	var order []task.ID
	remaining := candidates
	for i := 0; i < 3; i++ {
		d := s.SelectNext(remaining, 1, Context{Now: now}, nil)
		if len(d.Selected) != 1 {
			t.Fatalf("expected 1 selection, got %d", len(d.Selected))
		}
		order = append(order, d.Selected[0])
		var next []Candidate
		for _, c := range remaining {
			if c.View.ID != d.Selected[0] {
				next = append(next, c)
			}
		}
		remaining = next
	}

	want := []task.ID{"B", "A", "C"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

// S3 — Starvation boost: a LOW task queued past maxStarvationTime should
// out-rank a fresh HIGH task under PRIORITY with adaptive boosting.
func TestStarvationBoost(t *testing.T) {
	now := time.Now()
	s := NewSelector(Config{Algorithm: PRIORITY, MaxStarvationTime: 5 * time.Minute})

	old := mkCandidate("low-old", task.PriorityLow, now.Add(-16*time.Minute)) // 3 intervals: LOW->MEDIUM->HIGH->CRITICAL(capped at 3 boosts but only 3 needed)
	fresh := mkCandidate("high-fresh", task.PriorityHigh, now)

	d := s.SelectNext([]Candidate{old, fresh}, 1, Context{Now: now}, nil)
	if len(d.Selected) != 1 {
		t.Fatalf("expected 1 selection, got %d", len(d.Selected))
	}
	if d.Selected[0] != "low-old" {
		t.Fatalf("expected starved low-old task to be boosted above fresh high task, got %v", d.Selected)
	}
}

// S7 — Hybrid adaptive switch: high queue pressure picks WEIGHTED_FAIR;
// high utilization (with low pressure) picks RESOURCE_OPTIMAL.
func TestHybridAdaptiveSwitch(t *testing.T) {
	now := time.Now()
	s := NewSelector(Config{Algorithm: HYBRID_ADAPTIVE, MaxStarvationTime: 5 * time.Minute})

	candidates := []Candidate{
		mkCandidate("A", task.PriorityHigh, now),
		mkCandidate("B", task.PriorityCritical, now),
	}

	highPressureCtx := Context{Now: now, QueuedCount: 90, RunningCount: 10}
	d := s.SelectNext(candidates, 2, highPressureCtx, nil)
	if d.AlgorithmUsed != WEIGHTED_FAIR {
		t.Fatalf("expected WEIGHTED_FAIR under high queue pressure, got %s", d.AlgorithmUsed)
	}

	highUtilCtx := Context{
		Now:             now,
		QueuedCount:     1,
		RunningCount:    10,
		PoolUtilization: map[string]float64{"cpu": 0.95},
	}
	d2 := s.SelectNext(candidates, 2, highUtilCtx, nil)
	if d2.AlgorithmUsed != RESOURCE_OPTIMAL {
		t.Fatalf("expected RESOURCE_OPTIMAL under high utilization, got %s", d2.AlgorithmUsed)
	}
}

func TestWeightedFairAllotsNonemptyBuckets(t *testing.T) {
	now := time.Now()
	candidates := []Candidate{
		mkCandidate("bg1", task.PriorityBackground, now),
		mkCandidate("crit1", task.PriorityCritical, now),
	}
	selected := byWeightedFair(candidates, 4)
	if len(selected) != 2 {
		t.Fatalf("expected both nonempty buckets represented, got %d", len(selected))
	}
}

func TestRoundRobinWalksBuckets(t *testing.T) {
	now := time.Now()
	candidates := []Candidate{
		mkCandidate("c1", task.PriorityCritical, now),
		mkCandidate("c2", task.PriorityCritical, now),
		mkCandidate("h1", task.PriorityHigh, now),
	}
	selected := byRoundRobin(candidates, 2)
	if len(selected) != 2 {
		t.Fatalf("expected 2 selected, got %d", len(selected))
	}
	if selected[0].View.ID != "c1" || selected[1].View.ID != "h1" {
		t.Fatalf("expected round robin to alternate buckets, got %v, %v", selected[0].View.ID, selected[1].View.ID)
	}
}
