// Package scheduler implements the priority scheduler (spec §4.4, C4): the
// pluggable selection algorithms, starvation prevention, and the
// HYBRID_ADAPTIVE mode selector. It is adapted from the reference
// control-plane's scheduler package (control_plane/scheduler/*.go), which
// implemented a single fixed priority-aging heap; this version generalizes
// that heap into one of several interchangeable Algorithm implementations
// chosen per spec §4.4's table, while keeping the reference's tie-break
// and effective-priority vocabulary.
package scheduler

import (
	"time"

	"github.com/kaelforge/taskengine/task"
)

// Algorithm names the dispatch-order rule in effect, mirroring the
// reference's SchedulerMode enum but for selection policy rather than
// admission policy.
type Algorithm string

const (
	FIFO             Algorithm = "FIFO"
	PRIORITY         Algorithm = "PRIORITY"
	SJF              Algorithm = "SJF"
	DEADLINE         Algorithm = "DEADLINE"
	DEPENDENCY       Algorithm = "DEPENDENCY"
	RESOURCE_OPTIMAL Algorithm = "RESOURCE_OPTIMAL"
	WEIGHTED_FAIR    Algorithm = "WEIGHTED_FAIR"
	ROUND_ROBIN      Algorithm = "ROUND_ROBIN"
	HYBRID_ADAPTIVE  Algorithm = "HYBRID_ADAPTIVE"
)

// Candidate is one eligible task as seen by the selector, carrying the
// precomputed effective priority (base/dynamic priority plus any
// starvation boost, §4.4) and whatever per-type resource estimate it
// declared.
type Candidate struct {
	View              *task.View
	EffectivePriority float64
	ResourceUnits     map[string]int
	QueuedSince       time.Time
}

// Context carries the scheduler's view of system state, consulted by
// RESOURCE_OPTIMAL/HYBRID_ADAPTIVE (spec §4.4's "context").
type Context struct {
	Now                time.Time
	QueuedCount        int
	RunningCount       int
	ResourceBudget     map[string]int           // residual budget per type for this tick
	PoolUtilization    map[string]float64        // current avg utilization per type
	CriticalPathSet    map[task.ID]struct{}      // IDs on the critical path; no algorithm in this package reads it, and the engine's dispatch tick leaves it unset
	CategorySuccessRate func(task.Category) float64
}

// QueuePressure is queuedTasks/(queued+running+1), the HYBRID_ADAPTIVE
// signal from spec §4.4.
func (c Context) QueuePressure() float64 {
	return float64(c.QueuedCount) / float64(c.QueuedCount+c.RunningCount+1)
}

// AverageUtilization averages PoolUtilization across declared types.
func (c Context) AverageUtilization() float64 {
	if len(c.PoolUtilization) == 0 {
		return 0
	}
	var sum float64
	for _, v := range c.PoolUtilization {
		sum += v
	}
	return sum / float64(len(c.PoolUtilization))
}

// HasUrgentDeadlines reports whether any candidate has a deadline within
// one hour of Now.
func HasUrgentDeadlines(candidates []Candidate, now time.Time) bool {
	for _, c := range candidates {
		if c.View.Deadline != nil && c.View.Deadline.Sub(now) <= time.Hour && c.View.Deadline.After(now) {
			return true
		}
	}
	return false
}

// RiskBand classifies the expected risk of a scheduling decision.
type RiskBand string

const (
	RiskLow    RiskBand = "low"
	RiskMedium RiskBand = "medium"
	RiskHigh   RiskBand = "high"
)

// ExpectedOutcome summarizes the projected effect of a decision (spec
// §4.4 "decision output").
type ExpectedOutcome struct {
	TotalDurationMsEstimate int64
	ParallelismFactor       float64
	Risk                    RiskBand
}

// Decision is the full output of a SelectNext call.
type Decision struct {
	AlgorithmUsed Algorithm
	Selected      []task.ID
	Reasoning     []string
	Confidence    float64
	Outcome       ExpectedOutcome
	Alternatives  [][]task.ID
}
