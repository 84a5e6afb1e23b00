package metrics

import (
	"testing"
	"time"

	"github.com/kaelforge/taskengine/task"
)

func TestHealthRollupThresholds(t *testing.T) {
	cases := []struct {
		name        string
		completed   int64
		failed      int64
		queueGrowth float64
		want        HealthStatus
	}{
		{"no activity", 0, 0, 0, HealthHealthy},
		{"all success", 100, 0, 0, HealthHealthy},
		{"slightly lossy", 90, 10, 0, HealthDegraded},
		{"unhealthy on success rate", 70, 30, 0, HealthUnhealthy},
		{"unhealthy on queue growth", 100, 0, 0.6, HealthUnhealthy},
		{"critical", 40, 60, 0, HealthCritical},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := Snapshot{TotalCompleted: c.completed, TotalFailed: c.failed, SuccessRate: ratio(c.completed, c.failed), QueueGrowthRate: c.queueGrowth}
			got := rollupHealth(s)
			if got != c.want {
				t.Fatalf("expected %s, got %s", c.want, got)
			}
		})
	}
}

func ratio(completed, failed int64) float64 {
	total := completed + failed
	if total == 0 {
		return 0
	}
	return float64(completed) / float64(total)
}

func TestCollectorObserveCompletionUpdatesCategoryRate(t *testing.T) {
	c := NewCollector(nil)
	c.ObserveCompletion(task.CategoryFeature, true, 100)
	c.ObserveCompletion(task.CategoryFeature, true, 200)
	c.ObserveCompletion(task.CategoryFeature, false, 50)

	snap := c.Snapshot(nil)
	rate := snap.CategorySuccessRate[task.CategoryFeature]
	if rate < 0.66 || rate > 0.67 {
		t.Fatalf("expected ~2/3 success rate, got %v", rate)
	}
	if snap.AvgExecutionMs <= 0 {
		t.Fatalf("expected nonzero average execution time, got %v", snap.AvgExecutionMs)
	}
}

func TestCollectorQueueGrowthRate(t *testing.T) {
	c := NewCollector(nil)
	c.ObserveQueueDepth(10)
	c.ObserveQueueDepth(20)

	snap := c.Snapshot(nil)
	if snap.QueueGrowthRate != 1.0 {
		t.Fatalf("expected growth rate 1.0 (doubled), got %v", snap.QueueGrowthRate)
	}
}

func TestBottleneckDetectorFlagsSaturatedPool(t *testing.T) {
	c := NewCollector(nil)
	d := NewBottleneckDetector(c)

	findings := d.Tick(map[string]float64{"cpu": 0.97}, nil, time.Now())
	found := false
	for _, f := range findings {
		if f.Kind == KindResourceLimit {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a resource_limit finding for 97% cpu utilization")
	}
}

func TestBottleneckDetectorFlagsCategoryFailureClustering(t *testing.T) {
	c := NewCollector(nil)
	c.ObserveCompletion(task.CategorySecurity, false, 10)
	c.ObserveCompletion(task.CategorySecurity, false, 10)
	d := NewBottleneckDetector(c)

	findings := d.Tick(nil, nil, time.Now())
	found := false
	for _, f := range findings {
		if f.Kind == KindTaskComplexity {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a task_complexity finding for a 0%% success-rate category")
	}
}

func TestBottleneckDetectorFlagsDependencyChainBacklog(t *testing.T) {
	c := NewCollector(nil)
	d := NewBottleneckDetector(c)

	backlog := map[task.Category][]task.ID{
		task.CategoryFeature: {"a", "b", "c", "d", "e", "f"},
	}
	findings := d.Tick(nil, backlog, time.Now())
	found := false
	for _, f := range findings {
		if f.Kind == KindDependencyChain {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a dependency_chain finding for a 6-task category backlog")
	}
}
