package engine

import (
	"fmt"

	"github.com/kaelforge/taskengine/persistence"
	"github.com/kaelforge/taskengine/scheduler"
	"github.com/kaelforge/taskengine/task"
)

// recover loads the latest valid snapshot, if any, applies the recovery
// state mapping (spec §4.8), and rehydrates the task table, dependency
// graph, and resource pool. Execute/Validate/Rollback callbacks cannot
// survive serialization, so recovered non-terminal tasks are given a
// stub Execute that fails immediately with a clear LastError, surfacing
// as a normal exhausted-retry FAILED rather than a silently stuck QUEUED
// entry — the caller re-submits the task to restore real behavior.
func (e *Engine) recover() error {
	snap, ok, err := e.store.LatestSnapshot()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	recovered := persistence.ApplyRecoveryMapping(snap.Tasks)
	pools := persistence.ResetPools(snap.Pools)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.pool.Reset()
	for _, p := range pools {
		e.pool.EnsureType(p.Type, p.Capacity)
	}

	for _, rt := range recovered {
		t := fromTaskRecord(rt.Record)
		e.tasks[t.ID] = t
		e.graph.AddNode(t.ID)
	}
	for _, edge := range snap.Edges {
		_ = e.graph.AddDependency(edge.From, edge.To, edge.Type)
		if edge.Type.Gates() {
			if to, ok := e.tasks[edge.To]; ok {
				to.Dependencies[edge.From] = struct{}{}
			}
		}
		if from, ok := e.tasks[edge.From]; ok {
			from.Dependents[edge.To] = struct{}{}
		}
	}

	if snap.Scheduler.Algorithm != "" {
		e.algorithm = scheduler.Algorithm(snap.Scheduler.Algorithm)
	}
	return nil
}

func fromTaskRecord(r persistence.TaskRecord) *task.Task {
	t := &task.Task{
		ID:                  r.ID,
		Title:               r.Title,
		Description:         r.Description,
		Category:            r.Category,
		Tags:                make(map[string]struct{}, len(r.Tags)),
		Priority:            r.Priority,
		Complexity:          r.Complexity,
		BasePriority:        r.BasePriority,
		Factors:             task.DefaultPriorityFactors(),
		CreatedAt:           r.CreatedAt,
		ScheduledAt:         r.ScheduledAt,
		StartedAt:           r.StartedAt,
		CompletedAt:         r.CompletedAt,
		Deadline:            r.Deadline,
		EstimatedDurationMs: r.EstimatedDurationMs,
		MaxExecutionTimeMs:  r.MaxExecutionTimeMs,
		MaxRetries:          r.MaxRetries,
		CurrentRetries:      r.CurrentRetries,
		LastError:           r.LastError,
		Dependencies:        make(map[task.ID]struct{}, len(r.Dependencies)),
		Dependents:          make(map[task.ID]struct{}),
		ParentTaskID:        r.ParentTaskID,
		SubtaskIDs:          append([]task.ID(nil), r.SubtaskIDs...),
		RequiredResources:   make(map[string]struct{}, len(r.RequiredResources)),
		ResourceConstraints: r.ResourceConstraints,
		BatchCompatible:     r.BatchCompatible,
		BatchGroup:          r.BatchGroup,
		Status:              r.Status,
		DurationMs:          r.DurationMs,
		TokenUsage:          r.TokenUsage,
		ErrorCount:          r.ErrorCount,
		RetryCount:          r.RetryCount,
	}
	for _, tag := range r.Tags {
		t.Tags[tag] = struct{}{}
	}
	for _, dep := range r.Dependencies {
		t.Dependencies[dep] = struct{}{}
	}
	for _, res := range r.RequiredResources {
		t.RequiredResources[res] = struct{}{}
	}
	if !t.Status.Terminal() {
		t.Execute = func(ctx interface{ Done() <-chan struct{} }, v *task.View) (task.Result, error) {
			return task.Result{}, fmt.Errorf("task %s recovered from snapshot without a re-registered executor; re-submit to resume", v.ID)
		}
	}
	return t
}
