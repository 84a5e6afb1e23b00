package scheduler

import (
	"time"

	"github.com/kaelforge/taskengine/task"
)

// clamp restricts v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RecomputeFactors updates the per-task priority factors from the current
// runtime signals, per spec §4.4's update rules. blockedDependents is the
// count of downstream tasks waiting on this one; recentSuccessRate is the
// caller's historical success rate for same-category/same-tag tasks.
func RecomputeFactors(f *task.PriorityFactors, hoursWaiting float64, deadline *time.Time, now time.Time, blockedDependents int, recentSuccessRate float64) {
	f.Age = minFloat(2.0, 1+(hoursWaiting/24.0))

	if deadline != nil {
		sevenDays := 7 * 24 * time.Hour
		timeToDeadline := deadline.Sub(now)
		pressure := 1 - (float64(timeToDeadline) / float64(sevenDays))
		f.SystemCriticality = maxFloat(0.5, pressure)
	} else {
		f.SystemCriticality = 1.0
	}

	f.DependencyWeight = 1 + 0.1*float64(blockedDependents)
	f.ExecutionHistory = 0.5 + 0.5*recentSuccessRate
	f.Clamp()
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// DynamicPriority computes the clamped dynamic priority from a
// BasePriority and the current factors, per spec §4.4's formula.
func DynamicPriority(base task.Priority, f task.PriorityFactors) float64 {
	return clamp(float64(base)*f.Product(), 1, 2000)
}

// StarvationBoost returns the *effective* priority bucket for a task that
// has been queued for waited duration, boosting one bucket per full
// maxStarvationTime interval elapsed, capped at CRITICAL. The boost is
// selection-only and is never written back to BasePriority (spec §4.4,
// Open Question in §9: "this spec treats the boost as effective,
// non-persistent").
func StarvationBoost(base task.Priority, waited time.Duration, maxStarvationTime time.Duration) task.Priority {
	if maxStarvationTime <= 0 {
		return base
	}
	intervals := int(waited / maxStarvationTime)
	boosted := base
	for i := 0; i < intervals; i++ {
		next := task.NextBucketUp(boosted)
		if next == boosted {
			break
		}
		boosted = next
	}
	return boosted
}
