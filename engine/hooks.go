package engine

import (
	"fmt"
	"log"

	"github.com/kaelforge/taskengine/events"
	"github.com/kaelforge/taskengine/lifecycle"
	"github.com/kaelforge/taskengine/task"
)

// registerBuiltinHooks wires the five built-in lifecycle hooks spec §4.7
// names explicitly. It plays the role the reference control-plane's
// timeline.Store left to ad-hoc call sites scattered across its
// reconciler; here every side effect tied to a specific state transition
// lives in exactly one place.
func (e *Engine) registerBuiltinHooks() {
	e.lifecycle.Before(task.StatusResourceAllocated, 0, e.hookConfirmReservation)
	e.lifecycle.Before(task.StatusStarting, 0, e.hookPreConditions)
	e.lifecycle.Before(task.StatusCompleting, 0, e.hookPostConditions)
	e.lifecycle.After(task.StatusCompleted, 0, e.hookOnCompleted)
	e.lifecycle.After(task.StatusFailed, 0, e.hookOnFailed)
}

// hookConfirmReservation defends the RESOURCE_ALLOCATED transition: the
// dispatch cycle (C5) already called pool.Reserve before driving a task
// through this state, so this is a consistency check rather than the
// reservation call itself.
func (e *Engine) hookConfirmReservation(t *task.Task, tr lifecycle.Transition) error {
	if !e.pool.HasReservation(string(t.ID)) {
		return fmt.Errorf("no resource reservation held for task %s entering %s", t.ID, tr.To)
	}
	return nil
}

// hookPreConditions evaluates t.PreConditions before STARTING. A failing
// condition fails the task outright rather than blocking the transition
// silently (spec §4.7: "fail -> FAILED").
func (e *Engine) hookPreConditions(t *task.Task, tr lifecycle.Transition) error {
	view := t.Snapshot()
	for _, cond := range t.PreConditions {
		if !e.evaluator(cond, view) {
			e.failTaskLocked(t, "precondition failed: "+cond, lifecycle.TriggerError, false)
			return fmt.Errorf("precondition failed: %s", cond)
		}
	}
	return nil
}

// hookPostConditions evaluates t.PostConditions before COMPLETING.
func (e *Engine) hookPostConditions(t *task.Task, tr lifecycle.Transition) error {
	view := t.Snapshot()
	for _, cond := range t.PostConditions {
		if !e.evaluator(cond, view) {
			e.failTaskLocked(t, "postcondition failed: "+cond, lifecycle.TriggerError, false)
			return fmt.Errorf("postcondition failed: %s", cond)
		}
	}
	return nil
}

// hookOnCompleted releases the task's resources and finalizes its success
// metrics, run after COMPLETED is committed.
func (e *Engine) hookOnCompleted(t *task.Task, tr lifecycle.Transition) error {
	e.pool.Release(string(t.ID))
	var dur int64
	if t.DurationMs != nil {
		dur = *t.DurationMs
	}
	e.collector.ObserveCompletion(t.Category, true, dur)
	return nil
}

// hookOnFailed releases resources, finalizes failure metrics, runs the
// caller's optional Rollback, and publishes taskFailed. Runs on every
// entry into FAILED, whether or not a retry will follow.
func (e *Engine) hookOnFailed(t *task.Task, tr lifecycle.Transition) error {
	e.pool.Release(string(t.ID))

	var dur int64
	if t.StartedAt != nil {
		dur = tr.At.Sub(*t.StartedAt).Milliseconds()
	}
	e.collector.ObserveCompletion(t.Category, false, dur)
	e.categoryFailures[t.Category]++

	if t.Rollback != nil {
		if err := t.Rollback(t.Snapshot()); err != nil {
			log.Printf("[ENGINE] rollback for task %s failed: %v", t.ID, err)
		}
	}

	e.bus.Publish(events.Event{Kind: events.KindTaskFailed, TaskID: t.ID, Payload: t.Snapshot()})
	return nil
}
