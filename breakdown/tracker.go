package breakdown

import "github.com/kaelforge/taskengine/task"

// subtaskTag is applied to every synthesized subtask (spec §4.6:
// "Subtasks carry parentTaskID, tag subtask, and inherit
// required-resources").
const subtaskTag = "subtask"

// Materialize turns a Plan into real task.Task subtasks plus a tracker
// task that replaces the original for external observation (spec §4.6:
// "the original TaskID becomes the tracker's ID; its Execute is a
// trivial 'all subtasks done' callable"). newID is called once per
// subtask to obtain its identifier; original is the task being replaced.
func Materialize(original *task.Task, plan Plan, newID func() task.ID) (tracker *task.Task, subtasks []*task.Task) {
	subtasks = make([]*task.Task, len(plan.Subtasks))
	for i, spec := range plan.Subtasks {
		st := &task.Task{
			ID:                  newID(),
			Title:               spec.Title,
			Description:         spec.Description,
			Category:            spec.Category,
			Tags:                map[string]struct{}{subtaskTag: {}},
			Priority:            original.Priority,
			BasePriority:        original.BasePriority,
			Complexity:          task.ComplexitySimple,
			CreatedAt:           original.CreatedAt,
			Deadline:            original.Deadline,
			EstimatedDurationMs: spec.EstimatedDurationMs,
			MaxExecutionTimeMs:  original.MaxExecutionTimeMs,
			MaxRetries:          original.MaxRetries,
			Dependencies:        make(map[task.ID]struct{}),
			Dependents:          make(map[task.ID]struct{}),
			ParentTaskID:        original.ID,
			RequiredResources:   toSet(spec.RequiredResources),
			ResourceConstraints: original.ResourceConstraints,
			Execute:             original.Execute,
			Validate:            original.Validate,
			Rollback:            original.Rollback,
			Status:              task.StatusCreated,
		}
		subtasks[i] = st
	}

	for _, e := range plan.InternalEdges {
		from, to := subtasks[e.FromIdx], subtasks[e.ToIdx]
		to.Dependencies[from.ID] = struct{}{}
		from.Dependents[to.ID] = struct{}{}
	}

	subtaskIDs := make([]task.ID, len(subtasks))
	for i, st := range subtasks {
		subtaskIDs[i] = st.ID
	}

	tracker = &task.Task{
		ID:                  original.ID,
		Title:               original.Title,
		Description:         original.Description,
		Category:            original.Category,
		Tags:                original.Tags,
		Priority:            original.Priority,
		BasePriority:        original.BasePriority,
		Complexity:          original.Complexity,
		CreatedAt:           original.CreatedAt,
		Deadline:            original.Deadline,
		EstimatedDurationMs: original.EstimatedDurationMs,
		MaxExecutionTimeMs:  original.MaxExecutionTimeMs,
		MaxRetries:          original.MaxRetries,
		Dependencies:        make(map[task.ID]struct{}),
		Dependents:          original.Dependents,
		SubtaskIDs:          subtaskIDs,
		RequiredResources:   original.RequiredResources,
		ResourceConstraints: original.ResourceConstraints,
		Execute:             trackerExecute,
		Status:              task.StatusCreated,
	}
	for _, id := range subtaskIDs {
		tracker.Dependencies[id] = struct{}{}
	}
	return tracker, subtasks
}

// trackerExecute is the tracker task's trivial callback: by the time the
// engine dispatches the tracker, every subtask dependency has already
// gated it to COMPLETED, so there is nothing left to do.
func trackerExecute(ctx interface{ Done() <-chan struct{} }, t *task.View) (task.Result, error) {
	return task.Result{Output: "all subtasks completed"}, nil
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, i := range items {
		out[i] = struct{}{}
	}
	return out
}
