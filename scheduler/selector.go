package scheduler

import (
	"fmt"
	"time"

	"github.com/kaelforge/taskengine/task"
)

// Config holds the tunables for the selector, analogous to the
// reference's SchedulerConfig but scoped to selection policy rather than
// admission control.
type Config struct {
	Algorithm         Algorithm
	MaxStarvationTime time.Duration
	BatchCap          int
}

// DefaultConfig returns the spec's stated defaults (§4.4: HYBRID_ADAPTIVE,
// 5 minute starvation window).
func DefaultConfig() Config {
	return Config{
		Algorithm:         HYBRID_ADAPTIVE,
		MaxStarvationTime: 5 * time.Minute,
		BatchCap:          4,
	}
}

// Selector runs the configured algorithm (or HYBRID_ADAPTIVE's sub-rule)
// over a slice of eligible candidates and returns a Decision.
type Selector struct {
	cfg Config
}

// NewSelector builds a Selector with the given config.
func NewSelector(cfg Config) *Selector {
	return &Selector{cfg: cfg}
}

// applyStarvation overwrites EffectivePriority with the starvation-boosted
// bucket value where the task has been queued past the starvation window,
// leaving BasePriority (stored on the task) untouched.
func (s *Selector) applyStarvation(candidates []Candidate, now time.Time) {
	for i := range candidates {
		waited := now.Sub(candidates[i].QueuedSince)
		boosted := StarvationBoost(task.Priority(candidates[i].EffectivePriority), waited, s.cfg.MaxStarvationTime)
		candidates[i].EffectivePriority = float64(boosted)
	}
}

// chooseHybridAlgorithm implements spec §4.4's HYBRID_ADAPTIVE sub-rule.
func chooseHybridAlgorithm(ctx Context, candidates []Candidate) (Algorithm, string) {
	pressure := ctx.QueuePressure()
	if pressure > 0.8 {
		return WEIGHTED_FAIR, fmt.Sprintf("queuePressure=%.2f > 0.8", pressure)
	}
	util := ctx.AverageUtilization()
	if util > 0.9 {
		return RESOURCE_OPTIMAL, fmt.Sprintf("resourceUtilization=%.2f > 0.9", util)
	}
	if HasUrgentDeadlines(candidates, ctx.Now) {
		return DEADLINE, "urgent deadline within 1h"
	}
	return PRIORITY, "no pressure/utilization/deadline signal"
}

// SelectNext implements the C4 public contract: selectNext(eligible,
// availableSlots, context) -> SchedulingDecision.
func (s *Selector) SelectNext(candidates []Candidate, availableSlots int, ctx Context, topoLevel map[task.ID]int) Decision {
	if availableSlots <= 0 || len(candidates) == 0 {
		return Decision{AlgorithmUsed: s.cfg.Algorithm, Reasoning: []string{"no slots or no eligible candidates"}}
	}

	working := make([]Candidate, len(candidates))
	copy(working, candidates)
	for i := range working {
		working[i].EffectivePriority = float64(task.Bucket(working[i].View.Priority))
		if working[i].View.DynamicPriority > 0 {
			working[i].EffectivePriority = working[i].View.DynamicPriority
		}
	}
	s.applyStarvation(working, ctx.Now)

	algo := s.cfg.Algorithm
	var reasoning []string
	if algo == HYBRID_ADAPTIVE {
		chosen, why := chooseHybridAlgorithm(ctx, working)
		reasoning = append(reasoning, fmt.Sprintf("hybrid_adaptive selected %s: %s", chosen, why))
		algo = chosen
	}

	var ordered []Candidate
	switch algo {
	case FIFO:
		ordered = byFIFO(working)
	case PRIORITY:
		ordered = byPriority(working)
	case SJF:
		ordered = bySJF(working)
	case DEADLINE:
		ordered = byDeadline(working)
	case DEPENDENCY:
		ordered = byDependency(working, topoLevel)
	case RESOURCE_OPTIMAL:
		ordered, _ = byResourceOptimal(working, ctx.ResourceBudget)
	case WEIGHTED_FAIR:
		ordered = byWeightedFair(working, availableSlots)
	case ROUND_ROBIN:
		ordered = byRoundRobin(working, availableSlots)
	default:
		ordered = byPriority(working)
	}

	if len(ordered) > availableSlots {
		ordered = ordered[:availableSlots]
	}

	selected := make([]task.ID, 0, len(ordered))
	var totalDuration int64
	for _, c := range ordered {
		selected = append(selected, c.View.ID)
		totalDuration += c.View.EstimatedDurationMs
	}
	reasoning = append(reasoning, fmt.Sprintf("algorithm=%s selected %d/%d eligible", algo, len(selected), len(candidates)))

	parallelism := 1.0
	if len(selected) > 0 {
		parallelism = float64(len(selected))
	}
	risk := RiskLow
	if ctx.AverageUtilization() > 0.9 {
		risk = RiskHigh
	} else if ctx.AverageUtilization() > 0.6 {
		risk = RiskMedium
	}

	confidence := 0.6
	switch algo {
	case DEPENDENCY, PRIORITY:
		confidence = 0.85
	case RESOURCE_OPTIMAL, WEIGHTED_FAIR:
		confidence = 0.75
	}

	alternatives := alternativeSelections(ordered, len(ordered), 3)

	return Decision{
		AlgorithmUsed: algo,
		Selected:      selected,
		Reasoning:     reasoning,
		Confidence:    confidence,
		Outcome: ExpectedOutcome{
			TotalDurationMsEstimate: totalDuration,
			ParallelismFactor:       parallelism,
			Risk:                    risk,
		},
		Alternatives: alternatives,
	}
}

// alternativeSelections returns up to n alternative orderings (here: the
// next-ranked runner-up windows of the same size) for observability and
// the optional learning feedback loop (spec §4.4 "up to 3 alternatives").
func alternativeSelections(ordered []Candidate, windowSize, n int) [][]task.ID {
	if windowSize == 0 {
		return nil
	}
	var alts [][]task.ID
	for i := 1; i <= n && (i*windowSize) < len(ordered)+windowSize; i++ {
		start := i * windowSize
		if start >= len(ordered) {
			break
		}
		end := start + windowSize
		if end > len(ordered) {
			end = len(ordered)
		}
		var alt []task.ID
		for _, c := range ordered[start:end] {
			alt = append(alt, c.View.ID)
		}
		if len(alt) > 0 {
			alts = append(alts, alt)
		}
	}
	return alts
}
