package engine

import (
	"time"

	"github.com/kaelforge/taskengine/task"
)

// TaskSpec is the caller-supplied submission payload (spec §6: "the
// minimum required fields are title, description, Execute. All other
// fields default per §3"). A zero-value field means "use the default".
type TaskSpec struct {
	// ID, if non-empty, is a caller-supplied identifier. Re-using an ID
	// already held by a non-terminal task is rejected as ErrDuplicateID
	// (spec §4.10); re-using one held by a terminal/cancelled task is
	// accepted and replaces it, except that an identical spec (same
	// fingerprint) resubmitted within the idempotency window returns the
	// existing TaskID without replacing the task.
	ID          task.ID
	Title       string
	Description string
	Category    task.Category
	Tags        []string

	Priority   task.Priority
	Complexity task.Complexity

	Deadline            *time.Time
	EstimatedDurationMs int64
	MaxExecutionTimeMs  int64

	MaxRetries int

	Dependencies []task.ID
	DependsOn    []Dependency // typed edges; Dependencies is a BLOCKS shorthand

	RequiredResources   []string
	ResourceConstraints map[string]int

	PreConditions  []string
	PostConditions []string

	Execute  task.Executor
	Validate func(*task.View) error
	Rollback func(*task.View) error

	BatchCompatible bool
	BatchGroup      string
}

// Dependency is one typed incoming edge for a TaskSpec submission.
type Dependency struct {
	On   task.ID
	Type task.EdgeType
}

// validate reports the InvalidSpec reason, if any (spec §4.10/§7). Nil
// means the spec is acceptable.
func (s TaskSpec) validate() error {
	if s.Title == "" {
		return errf("title is required")
	}
	if s.Description == "" {
		return errf("description is required")
	}
	if s.Execute == nil {
		return errf("Execute is required")
	}
	if s.MaxRetries < 0 {
		return errf("MaxRetries must be >= 0")
	}
	if s.EstimatedDurationMs < 0 || s.MaxExecutionTimeMs < 0 {
		return errf("duration fields must be >= 0")
	}
	return nil
}

func errf(msg string) error {
	return &invalidSpecDetail{reason: msg}
}

type invalidSpecDetail struct{ reason string }

func (e *invalidSpecDetail) Error() string { return "invalid spec: " + e.reason }

func (e *invalidSpecDetail) Unwrap() error { return ErrInvalidSpec }
