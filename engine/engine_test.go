package engine

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kaelforge/taskengine/config"
	"github.com/kaelforge/taskengine/task"
)

func testConfig(t *testing.T) config.EngineConfig {
	cfg := config.Default()
	cfg.PersistenceDir = t.TempDir()
	cfg.DispatchTickEvery = 10 * time.Millisecond
	cfg.PersistenceIntervalMs = int64((time.Hour).Milliseconds())
	cfg.CancelGracePeriod = 200 * time.Millisecond
	return cfg
}

func noopExecute(ctx interface{ Done() <-chan struct{} }, v *task.View) (task.Result, error) {
	return task.Result{DurationMs: 1}, nil
}

func waitForStatus(t *testing.T, e *Engine, id task.ID, want task.Status, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		v, err := e.Get(id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		if v.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	v, _ := e.Get(id)
	t.Fatalf("timed out waiting for %s to reach %s, last status %s", id, want, v.Status)
}

func TestSubmitRejectsMissingExecute(t *testing.T) {
	e, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Shutdown(time.Second)

	_, err = e.Submit(TaskSpec{Title: "x", Description: "y"})
	if err == nil {
		t.Fatal("expected InvalidSpec error for missing Execute")
	}
}

func TestSubmitAndCompleteSimpleTask(t *testing.T) {
	e, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Shutdown(time.Second)

	id, err := e.Submit(TaskSpec{
		Title:       "build",
		Description: "compile the project",
		Execute:     noopExecute,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitForStatus(t, e, id, task.StatusCompleted, 2*time.Second)
}

func TestDuplicateIDRejectedWhileNonTerminal(t *testing.T) {
	e, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Shutdown(time.Second)

	block := make(chan struct{})
	slow := func(ctx interface{ Done() <-chan struct{} }, v *task.View) (task.Result, error) {
		<-block
		return task.Result{}, nil
	}

	id, err := e.Submit(TaskSpec{ID: "fixed-id", Title: "slow", Description: "blocks", Execute: slow})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, e, id, task.StatusRunning, 2*time.Second)

	_, err = e.Submit(TaskSpec{ID: "fixed-id", Title: "slow again", Description: "blocks too", Execute: slow})
	if err != ErrDuplicateID {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	close(block)
}

func TestDependencyGatesDispatch(t *testing.T) {
	e, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Shutdown(time.Second)

	upstream, err := e.Submit(TaskSpec{Title: "compile", Description: "compile first", Execute: noopExecute})
	if err != nil {
		t.Fatalf("Submit upstream: %v", err)
	}
	downstream, err := e.Submit(TaskSpec{
		Title:        "test",
		Description:  "run tests against the build",
		Dependencies: []task.ID{upstream},
		Execute:      noopExecute,
	})
	if err != nil {
		t.Fatalf("Submit downstream: %v", err)
	}

	waitForStatus(t, e, upstream, task.StatusCompleted, 2*time.Second)
	waitForStatus(t, e, downstream, task.StatusCompleted, 2*time.Second)
}

func TestCyclicDependencyRejected(t *testing.T) {
	e, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Shutdown(time.Second)

	_, err = e.Submit(TaskSpec{
		ID:           "self",
		Title:        "self-dependent",
		Description:  "depends on its own not-yet-existing ID",
		Dependencies: []task.ID{"self"},
		Execute:      noopExecute,
	})
	if err != ErrCyclicDependency {
		t.Fatalf("expected ErrCyclicDependency, got %v", err)
	}
}

func TestSubmitRejectsUnknownDependency(t *testing.T) {
	e, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Shutdown(time.Second)

	_, err = e.Submit(TaskSpec{
		Title:        "depends on nothing real",
		Description:  "names a task ID that was never submitted",
		Dependencies: []task.ID{"does-not-exist"},
		Execute:      noopExecute,
	})
	if !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("expected ErrInvalidSpec for an unknown dependency, got %v", err)
	}
}

func TestSubmitRetryAgainstLiveTaskIsDuplicate(t *testing.T) {
	e, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Shutdown(time.Second)

	block := make(chan struct{})
	slow := func(ctx interface{ Done() <-chan struct{} }, v *task.View) (task.Result, error) {
		<-block
		return task.Result{}, nil
	}

	spec := TaskSpec{ID: "retry-me", Title: "slow", Description: "blocks", Execute: slow}
	id, err := e.Submit(spec)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, e, id, task.StatusRunning, 2*time.Second)

	// A literal retry of the exact same spec (identical fingerprint)
	// against a still-RUNNING task must not be silently replayed — the
	// original task is not terminal, so spec §4.10 requires DuplicateID.
	_, err = e.Submit(spec)
	if err != ErrDuplicateID {
		t.Fatalf("expected ErrDuplicateID for a literal retry against a live task, got %v", err)
	}
	close(block)
}

func TestSubmitBatchAllowsForwardReference(t *testing.T) {
	e, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Shutdown(time.Second)

	ids, err := e.SubmitBatch([]TaskSpec{
		{
			ID:           "batch-downstream",
			Title:        "downstream",
			Description:  "depends on a sibling submitted in the same call",
			Dependencies: []task.ID{"batch-upstream"},
			Execute:      noopExecute,
		},
		{
			ID:          "batch-upstream",
			Title:       "upstream",
			Description: "submitted after its dependent in the same batch",
			Execute:     noopExecute,
		},
	})
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 IDs, got %d", len(ids))
	}

	waitForStatus(t, e, "batch-upstream", task.StatusCompleted, 2*time.Second)
	waitForStatus(t, e, "batch-downstream", task.StatusCompleted, 2*time.Second)
}

func TestSubmitBatchRejectsUnknownDependencyAndInsertsNothing(t *testing.T) {
	e, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Shutdown(time.Second)

	_, err = e.SubmitBatch([]TaskSpec{
		{ID: "lone", Title: "lone", Description: "depends on nobody in this batch", Dependencies: []task.ID{"ghost"}, Execute: noopExecute},
	})
	if !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("expected ErrInvalidSpec, got %v", err)
	}
	if _, getErr := e.Get("lone"); getErr != ErrUnknownTask {
		t.Fatalf("expected the rejected batch to insert nothing, got %v", getErr)
	}
}

func TestCascadeFailurePropagatesThroughGatingEdge(t *testing.T) {
	// A zero TaskSpec.MaxRetries falls back to the engine default, so the
	// no-retry case is set on the engine config.
	cfg := testConfig(t)
	cfg.MaxRetries = 0
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Shutdown(time.Second)

	failing := func(ctx interface{ Done() <-chan struct{} }, v *task.View) (task.Result, error) {
		return task.Result{}, fmt.Errorf("boom")
	}

	upstream, err := e.Submit(TaskSpec{
		Title:       "flaky build",
		Description: "fails every time",
		MaxRetries:  0,
		Execute:     failing,
	})
	if err != nil {
		t.Fatalf("Submit upstream: %v", err)
	}
	downstream, err := e.Submit(TaskSpec{
		Title:        "downstream",
		Description:  "depends on the flaky build",
		Dependencies: []task.ID{upstream},
		Execute:      noopExecute,
	})
	if err != nil {
		t.Fatalf("Submit downstream: %v", err)
	}

	waitForStatus(t, e, upstream, task.StatusFailed, 2*time.Second)
	waitForStatus(t, e, downstream, task.StatusFailed, 2*time.Second)
}

func TestCancelTransitionsRunningTaskToCancelled(t *testing.T) {
	e, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Shutdown(time.Second)

	started := make(chan struct{})
	slow := func(ctx interface{ Done() <-chan struct{} }, v *task.View) (task.Result, error) {
		close(started)
		<-ctx.Done()
		return task.Result{}, nil
	}

	id, err := e.Submit(TaskSpec{Title: "long running", Description: "cancel me", Execute: slow})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("task never started")
	}

	if err := e.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	waitForStatus(t, e, id, task.StatusCancelled, 2*time.Second)
}

func TestMetricsReflectSubmittedAndCompleted(t *testing.T) {
	e, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Shutdown(time.Second)

	id, err := e.Submit(TaskSpec{Title: "build", Description: "build it", Execute: noopExecute})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, e, id, task.StatusCompleted, 2*time.Second)

	snap := e.Metrics()
	if snap.TotalSubmitted < 1 {
		t.Fatalf("expected TotalSubmitted >= 1, got %d", snap.TotalSubmitted)
	}
	if snap.TotalCompleted < 1 {
		t.Fatalf("expected TotalCompleted >= 1, got %d", snap.TotalCompleted)
	}
}
