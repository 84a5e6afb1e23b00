// Package task defines the core entity and lifecycle state machine that the
// rest of the engine operates on.
package task

import (
	"time"
)

// ID identifies a task uniquely within an engine instance.
type ID string

// Category classifies the kind of work a task represents. It feeds the
// resource estimator (see package resource) and the breakdown orchestrator's
// complexity score.
type Category string

const (
	CategoryFeature        Category = "feature"
	CategoryBugFix         Category = "bug-fix"
	CategoryTest           Category = "test"
	CategoryDocumentation  Category = "documentation"
	CategoryRefactor       Category = "refactor"
	CategorySecurity       Category = "security"
	CategoryPerformance    Category = "performance"
	CategoryInfrastructure Category = "infrastructure"
)

// Priority is a coarse classification used for fairness buckets and
// starvation accounting. Numeric value doubles as the default basePriority.
type Priority int

const (
	PriorityCritical   Priority = 1000
	PriorityHigh       Priority = 800
	PriorityMedium     Priority = 500
	PriorityLow        Priority = 200
	PriorityBackground Priority = 50
)

// Bucket returns the canonical priority bucket a numeric priority falls
// into, used by WEIGHTED_FAIR/ROUND_ROBIN and the starvation booster.
func Bucket(p Priority) Priority {
	switch {
	case p >= PriorityCritical:
		return PriorityCritical
	case p >= PriorityHigh:
		return PriorityHigh
	case p >= PriorityMedium:
		return PriorityMedium
	case p >= PriorityLow:
		return PriorityLow
	default:
		return PriorityBackground
	}
}

// NextBucketUp returns the next higher priority bucket, capped at CRITICAL.
// Used by starvation boosting (§4.4): the boost is effective-only, it never
// mutates a task's persisted BasePriority.
func NextBucketUp(p Priority) Priority {
	switch Bucket(p) {
	case PriorityBackground:
		return PriorityLow
	case PriorityLow:
		return PriorityMedium
	case PriorityMedium:
		return PriorityHigh
	default:
		return PriorityCritical
	}
}

// Complexity is a coarse size estimate used by the breakdown orchestrator.
type Complexity string

const (
	ComplexityTrivial    Complexity = "trivial"
	ComplexitySimple     Complexity = "simple"
	ComplexityModerate   Complexity = "moderate"
	ComplexityComplex    Complexity = "complex"
	ComplexityEnterprise Complexity = "enterprise"
)

// EdgeType classifies a dependency edge. Only Blocks and Conflicts gate
// dispatch eligibility (§3 I2, §4.3).
type EdgeType string

const (
	EdgeBlocks    EdgeType = "BLOCKS"
	EdgeEnables   EdgeType = "ENABLES"
	EdgeConflicts EdgeType = "CONFLICTS"
	EdgeEnhances  EdgeType = "ENHANCES"
)

// Gates reports whether this edge type gates dispatch eligibility.
func (e EdgeType) Gates() bool {
	return e == EdgeBlocks || e == EdgeConflicts
}

// Status is the lifecycle state of a task. See the transition table in
// transitions.go for the permitted graph (§3 I5 / §4.7).
type Status string

const (
	StatusCreated           Status = "CREATED"
	StatusValidated         Status = "VALIDATED"
	StatusQueued            Status = "QUEUED"
	StatusScheduled         Status = "SCHEDULED"
	StatusPreparing         Status = "PREPARING"
	StatusResourceAllocated Status = "RESOURCE_ALLOCATED"
	StatusStarting          Status = "STARTING"
	StatusRunning           Status = "RUNNING"
	StatusPaused            Status = "PAUSED"
	StatusResuming          Status = "RESUMING"
	StatusCompleting        Status = "COMPLETING"
	StatusCompleted         Status = "COMPLETED"
	StatusFailed            Status = "FAILED"
	StatusRetrying          Status = "RETRYING"
	StatusRollingBack       Status = "ROLLING_BACK"
	StatusCancelled         Status = "CANCELLED"
	StatusBlocked           Status = "BLOCKED"
	StatusExpired           Status = "EXPIRED"
	StatusArchived          Status = "ARCHIVED"
)

// Terminal reports whether a status has no further transitions besides
// ARCHIVED. FAILED is the exception: it counts as terminal but can still
// move to RETRYING or ROLLING_BACK.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusArchived, StatusExpired:
		return true
	default:
		return false
	}
}

// PriorityFactors are the multiplicative inputs to DynamicPriority (§4.4),
// each clamped to [0.1, 2.0].
type PriorityFactors struct {
	Age                   float64
	UserImportance        float64
	SystemCriticality     float64
	DependencyWeight      float64
	ResourceAvailability  float64
	ExecutionHistory      float64
}

// DefaultPriorityFactors returns neutral (1.0) factors.
func DefaultPriorityFactors() PriorityFactors {
	return PriorityFactors{1.0, 1.0, 1.0, 1.0, 1.0, 1.0}
}

func clampFactor(v float64) float64 {
	if v < 0.1 {
		return 0.1
	}
	if v > 2.0 {
		return 2.0
	}
	return v
}

// Clamp restricts every factor to [0.1, 2.0].
func (f *PriorityFactors) Clamp() {
	f.Age = clampFactor(f.Age)
	f.UserImportance = clampFactor(f.UserImportance)
	f.SystemCriticality = clampFactor(f.SystemCriticality)
	f.DependencyWeight = clampFactor(f.DependencyWeight)
	f.ResourceAvailability = clampFactor(f.ResourceAvailability)
	f.ExecutionHistory = clampFactor(f.ExecutionHistory)
}

// Product returns the multiplicative combination of all factors.
func (f PriorityFactors) Product() float64 {
	return f.Age * f.UserImportance * f.SystemCriticality *
		f.DependencyWeight * f.ResourceAvailability * f.ExecutionHistory
}

// Executor is the opaque work callback supplied by the caller. The core
// never inspects what happens inside it; per §1 this is the only
// externally-defined collaborator in the hot path.
type Executor func(ctx interface{ Done() <-chan struct{} }, t *View) (Result, error)

// Result carries whatever the caller's Execute produced, surfaced to
// observers but never interpreted by the engine.
type Result struct {
	Output     interface{}
	DurationMs int64
	TokenUsage int64
}

// ConditionEvaluator evaluates an opaque pre/post-condition expression
// against a task view. The default evaluator (see NoopEvaluator) always
// returns true; callers inject a real one (e.g. backed by a rules engine)
// to get meaningful preConditions/postConditions semantics (§3).
type ConditionEvaluator func(expr string, t *View) bool

// NoopEvaluator is the default ConditionEvaluator: every condition passes.
func NoopEvaluator(string, *View) bool { return true }

// Task is the full mutable record the engine owns for a unit of work.
// Callers never see *Task directly — they receive read-only Views (§5).
type Task struct {
	ID          ID
	Title       string
	Description string
	Category    Category
	Tags        map[string]struct{}

	Priority        Priority
	Complexity      Complexity
	BasePriority    Priority
	DynamicPriority float64
	Factors         PriorityFactors

	CreatedAt           time.Time
	ScheduledAt         *time.Time
	StartedAt           *time.Time
	CompletedAt         *time.Time
	Deadline            *time.Time
	EstimatedDurationMs int64
	MaxExecutionTimeMs  int64

	MaxRetries     int
	CurrentRetries int
	LastError      string

	Dependencies map[ID]struct{}
	Dependents   map[ID]struct{}
	ParentTaskID ID
	SubtaskIDs   []ID

	RequiredResources   map[string]struct{}
	ResourceConstraints map[string]int

	PreConditions  []string
	PostConditions []string

	Execute  Executor
	Validate func(*View) error
	Rollback func(*View) error

	BatchCompatible bool
	BatchGroup      string

	Status Status

	DurationMs *int64
	TokenUsage *int64
	ErrorCount int
	RetryCount int
}

// View is the read-only snapshot returned by the public API (§5: "no
// caller may mutate a Task view directly").
type View struct {
	ID                  ID
	Title               string
	Description         string
	Category            Category
	Tags                []string
	Priority            Priority
	Complexity          Complexity
	BasePriority        Priority
	DynamicPriority      float64
	CreatedAt           time.Time
	ScheduledAt         *time.Time
	StartedAt           *time.Time
	CompletedAt         *time.Time
	Deadline            *time.Time
	EstimatedDurationMs int64
	MaxExecutionTimeMs  int64
	MaxRetries          int
	CurrentRetries      int
	LastError           string
	Dependencies        []ID
	Dependents          []ID
	ParentTaskID        ID
	SubtaskIDs          []ID
	RequiredResources   []string
	BatchCompatible     bool
	BatchGroup          string
	Status              Status
	DurationMs          *int64
	TokenUsage          *int64
	ErrorCount          int
	RetryCount          int
}

// Snapshot builds a read-only View of the task. Called under the
// coordinator's single-writer lock (§5).
func (t *Task) Snapshot() *View {
	v := &View{
		ID:                  t.ID,
		Title:               t.Title,
		Description:         t.Description,
		Category:            t.Category,
		Priority:            t.Priority,
		Complexity:          t.Complexity,
		BasePriority:        t.BasePriority,
		DynamicPriority:     t.DynamicPriority,
		CreatedAt:           t.CreatedAt,
		ScheduledAt:         t.ScheduledAt,
		StartedAt:           t.StartedAt,
		CompletedAt:         t.CompletedAt,
		Deadline:            t.Deadline,
		EstimatedDurationMs: t.EstimatedDurationMs,
		MaxExecutionTimeMs:  t.MaxExecutionTimeMs,
		MaxRetries:          t.MaxRetries,
		CurrentRetries:      t.CurrentRetries,
		LastError:           t.LastError,
		ParentTaskID:        t.ParentTaskID,
		SubtaskIDs:          append([]ID(nil), t.SubtaskIDs...),
		BatchCompatible:     t.BatchCompatible,
		BatchGroup:          t.BatchGroup,
		Status:              t.Status,
		DurationMs:          t.DurationMs,
		TokenUsage:          t.TokenUsage,
		ErrorCount:          t.ErrorCount,
		RetryCount:          t.RetryCount,
	}
	for tag := range t.Tags {
		v.Tags = append(v.Tags, tag)
	}
	for d := range t.Dependencies {
		v.Dependencies = append(v.Dependencies, d)
	}
	for d := range t.Dependents {
		v.Dependents = append(v.Dependents, d)
	}
	for r := range t.RequiredResources {
		v.RequiredResources = append(v.RequiredResources, r)
	}
	return v
}

// HasTag reports whether the task carries the given tag.
func (t *Task) HasTag(tag string) bool {
	_, ok := t.Tags[tag]
	return ok
}
