package engine

import (
	"github.com/kaelforge/taskengine/breakdown"
	"github.com/kaelforge/taskengine/events"
	"github.com/kaelforge/taskengine/lifecycle"
	"github.com/kaelforge/taskengine/task"
)

// maybeBreakdownLocked evaluates t against the breakdown orchestrator
// (spec §4.1 "hands off to C6 (may split)") and, if triggered, replaces
// t with a synthesized tracker task plus subtasks registered in both the
// task table and dependency graph. Must be called with mu held, after t
// has been added as a graph node and its external dependency edges
// wired, but before it (or its replacement) is placed in the task table.
func (e *Engine) maybeBreakdownLocked(t *task.Task) *task.Task {
	successRate := 1.0
	if rate, ok := e.collector.Snapshot(nil).CategorySuccessRate[t.Category]; ok {
		successRate = rate
	}

	in := breakdown.ComplexityInput{
		Description:           t.Description,
		DependencyCount:       len(t.Dependencies),
		Category:              t.Category,
		HistoricalSuccessRate: successRate,
	}
	cfg := breakdown.Config{
		BreakdownThreshold:   e.cfg.BreakdownThreshold,
		MaxBreakdownDepth:    e.cfg.MaxBreakdownDepth,
		MaxSubtasks:          e.cfg.MaxSubtasks,
		MinSubtaskDurationMs: e.cfg.MinSubtaskDurationMs,
		MaxSubtaskDurationMs: e.cfg.MaxSubtaskDurationMs,
	}

	plan, _, err := breakdown.Evaluate(t.Snapshot(), in, cfg, 0)
	if err != nil || !plan.ShouldBreakdown {
		return t
	}

	tracker, subtasks := breakdown.Materialize(t, plan, func() task.ID { return e.newAnonIDLocked() })
	for depID := range t.Dependencies {
		tracker.Dependencies[depID] = struct{}{}
	}

	for _, st := range subtasks {
		e.graph.AddNode(st.ID)
	}
	for _, ie := range plan.InternalEdges {
		from, to := subtasks[ie.FromIdx].ID, subtasks[ie.ToIdx].ID
		_ = e.graph.AddDependency(from, to, ie.Type)
	}
	for _, st := range subtasks {
		_ = e.graph.AddDependency(st.ID, tracker.ID, task.EdgeBlocks)
	}

	for _, st := range subtasks {
		e.tasks[st.ID] = st
		_ = e.lifecycle.Transition(st, task.StatusValidated, lifecycle.TriggerAutomatic, nil)
		_ = e.lifecycle.Transition(st, task.StatusQueued, lifecycle.TriggerAutomatic, nil)
	}

	e.bus.Publish(events.Event{Kind: events.KindBreakdownProduced, TaskID: tracker.ID, Payload: plan})
	return tracker
}
