package engine

import (
	"context"
	"time"

	"github.com/kaelforge/taskengine/events"
	"github.com/kaelforge/taskengine/lifecycle"
	"github.com/kaelforge/taskengine/task"
)

// launchWorkerLocked commits the task's resource reservation and starts
// its Execute callback on its own goroutine, under a deadline of
// min(now+maxExecutionTimeMs, deadline) (spec §4.5 step 6). Must be
// called with mu held, immediately after advanceToRunningLocked.
func (e *Engine) launchWorkerLocked(t *task.Task) {
	deadline := time.Now().Add(time.Duration(t.MaxExecutionTimeMs) * time.Millisecond)
	if t.Deadline != nil && t.Deadline.Before(deadline) {
		deadline = *t.Deadline
	}
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	e.running[t.ID] = cancel
	e.pool.Commit(string(t.ID))

	go e.runWorker(t, ctx, cancel)
}

// runWorker invokes the caller's Execute callback without holding mu
// (spec §5: the coordinator must never block on an external callback),
// then re-acquires mu to commit the outcome.
func (e *Engine) runWorker(t *task.Task, ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	view := t.Snapshot()
	result, err := t.Execute(ctx, view)

	e.mu.Lock()
	defer e.mu.Unlock()

	if t.Status.Terminal() {
		// A concurrent Cancel already forced a terminal state while this
		// worker was mid-flight; nothing left to commit.
		delete(e.running, t.ID)
		return
	}
	delete(e.running, t.ID)

	switch {
	case ctx.Err() == context.Canceled:
		e.finishCancelledLocked(t)
	case ctx.Err() == context.DeadlineExceeded:
		e.failTaskLocked(t, "execution deadline exceeded", lifecycle.TriggerTimeout, true)
	case err != nil:
		e.failTaskLocked(t, err.Error(), lifecycle.TriggerError, false)
	default:
		e.finishSuccessLocked(t, result)
	}
}

// finishSuccessLocked drives RUNNING -> COMPLETING -> COMPLETED. If the
// COMPLETING/before hook rejects the postconditions, it has already
// routed t to FAILED (via failTaskLocked) by the time Transition returns
// an error, so there is nothing further to do here.
func (e *Engine) finishSuccessLocked(t *task.Task, result task.Result) {
	if err := e.lifecycle.Transition(t, task.StatusCompleting, lifecycle.TriggerAutomatic, nil); err != nil {
		return
	}

	now := time.Now()
	dur := result.DurationMs
	if dur == 0 && t.StartedAt != nil {
		dur = now.Sub(*t.StartedAt).Milliseconds()
	}
	t.DurationMs = &dur
	if result.TokenUsage != 0 {
		tu := result.TokenUsage
		t.TokenUsage = &tu
	}
	t.CompletedAt = &now

	_ = e.lifecycle.Transition(t, task.StatusCompleted, lifecycle.TriggerAutomatic, nil)
	e.bus.Publish(events.Event{Kind: events.KindTaskCompleted, TaskID: t.ID, Payload: t.Snapshot()})
}

// finishCancelledLocked handles a worker observing ctx.Canceled, meaning
// Engine.Cancel requested it. Cascades the same way a terminal failure
// does (spec §4.5: "Cancel -> ... cascade same as FAILED-terminal").
func (e *Engine) finishCancelledLocked(t *task.Task) {
	e.forceTransition(t, task.StatusCancelled, lifecycle.TriggerManual)
	e.pool.Release(string(t.ID))
	e.bus.Publish(events.Event{Kind: events.KindTaskCancelled, TaskID: t.ID, Payload: t.Snapshot()})
	e.cascadeFailureLocked(t.ID, make(map[task.ID]bool))
}

// failTaskLocked records the failure, transitions to FAILED (triggering
// hookOnFailed), and either schedules a backoff retry or, once retries
// are exhausted, cascades the terminal failure to dependents (spec
// §4.5: "schedule reinsertion into QUEUED with exponential backoff ...
// Else terminal FAILED. A terminal FAILED cascades to all transitive
// dependents").
func (e *Engine) failTaskLocked(t *task.Task, reason string, trigger lifecycle.Trigger, timeout bool) {
	t.LastError = reason
	t.ErrorCount++
	e.forceTransition(t, task.StatusFailed, trigger)

	if timeout && e.reg != nil {
		e.reg.TaskTimeouts.WithLabelValues(string(t.Category)).Inc()
	}

	if t.CurrentRetries < t.MaxRetries {
		t.CurrentRetries++
		e.collector.ObserveRetry()
		go e.scheduleRetry(t.ID, retryBackoff(t.CurrentRetries))
		return
	}
	e.cascadeFailureLocked(t.ID, make(map[task.ID]bool))
}

// retryBackoff implements spec §4.5's exponential backoff:
// min(1000*2^retries, 30000) ms.
func retryBackoff(retries int) time.Duration {
	ms := int64(1000)
	for i := 0; i < retries && ms < 30000; i++ {
		ms *= 2
	}
	if ms > 30000 {
		ms = 30000
	}
	return time.Duration(ms) * time.Millisecond
}

// scheduleRetry requeues a FAILED task after its backoff interval, unless
// it has since moved to some other state (e.g. a manual Cancel).
func (e *Engine) scheduleRetry(id task.ID, backoff time.Duration) {
	time.Sleep(backoff)
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[id]
	if !ok || t.Status != task.StatusFailed {
		return
	}
	_ = e.lifecycle.Transition(t, task.StatusRetrying, lifecycle.TriggerAutomatic, nil)
	_ = e.lifecycle.Transition(t, task.StatusQueued, lifecycle.TriggerAutomatic, nil)
}

// cascadeFailureLocked propagates a terminal failure or cancellation to
// transitive dependents (spec §4.5): a BLOCKS/CONFLICTS edge fails the
// dependent in turn; an ENABLES/ENHANCES edge is simply dropped, leaving
// the dependent free to proceed without that input.
func (e *Engine) cascadeFailureLocked(id task.ID, visited map[task.ID]bool) {
	if visited[id] {
		return
	}
	visited[id] = true

	for _, edge := range e.graph.OutgoingEdges(id) {
		dep, ok := e.tasks[edge.To]
		if !ok {
			continue
		}
		if !edge.Type.Gates() {
			e.graph.RemoveDependency(id, dep.ID)
			delete(dep.Dependents, id)
			continue
		}
		if dep.Status.Terminal() {
			continue
		}
		delete(dep.Dependencies, id)
		dep.LastError = "upstream dependency failed: " + string(id)
		dep.ErrorCount++
		e.forceTransition(dep, task.StatusFailed, lifecycle.TriggerError)
		e.cascadeFailureLocked(dep.ID, visited)
	}
}
