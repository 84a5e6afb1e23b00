// Package breakdown implements the Breakdown Orchestrator (spec §4.6,
// C6): complexity scoring, the breakdown trigger decision, and the four
// splitting strategies. It has no direct teacher analog — the reference
// control-plane never decomposes a unit of work into subtasks — so it is
// newly written in the teacher's idiom (plain structs, no external
// decomposition/planning library anywhere in the retrieved corpus; a
// bespoke heuristic is exactly what the reference does for its own
// scoring logic, e.g. scheduler's dynamic priority formula).
package breakdown

import (
	"fmt"
	"strings"

	"github.com/kaelforge/taskengine/task"
)

// categoryComplexityMultiplier biases the complexity score by category;
// categories that tend to be open-ended (feature, refactor, performance)
// score higher than narrowly-scoped ones (documentation, bug-fix).
var categoryComplexityMultiplier = map[task.Category]float64{
	task.CategoryFeature:        1.3,
	task.CategoryBugFix:         0.8,
	task.CategoryTest:           0.9,
	task.CategoryDocumentation:  0.6,
	task.CategoryRefactor:       1.2,
	task.CategorySecurity:       1.1,
	task.CategoryPerformance:    1.2,
	task.CategoryInfrastructure: 1.1,
}

// ComplexityInput bundles everything the score formula needs; all of it
// is either already on task.Task or tracked by the caller (historical
// success rate lives in the metrics collector, not in the task package).
type ComplexityInput struct {
	Description           string
	DependencyCount        int
	Category               task.Category
	HistoricalSuccessRate  float64 // [0,1]; 1.0 if unknown (no penalty)
}

// Score computes the complexity score in [0,1] (spec §4.6): description
// length, dependency count, category multiplier, historical similar-task
// success rate (lower success rate → higher complexity, since a
// category/shape the engine struggles with is a signal it's harder than
// it looks).
func Score(in ComplexityInput) float64 {
	lengthComponent := clamp01(float64(len(strings.Fields(in.Description))) / 120.0)
	depComponent := clamp01(float64(in.DependencyCount) / 8.0)
	failureComponent := clamp01(1.0 - in.HistoricalSuccessRate)

	base := 0.45*lengthComponent + 0.30*depComponent + 0.25*failureComponent

	mult, ok := categoryComplexityMultiplier[in.Category]
	if !ok {
		mult = 1.0
	}
	return clamp01(base * mult)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Strategy is one of the four splitting approaches (spec §4.6).
type Strategy string

const (
	StrategyFunctional Strategy = "FUNCTIONAL"
	StrategyTemporal   Strategy = "TEMPORAL"
	StrategyDependency Strategy = "DEPENDENCY"
	StrategyHybrid     Strategy = "HYBRID"
)

// Config bounds the orchestrator's output, mirroring spec §6 defaults.
type Config struct {
	BreakdownThreshold   float64
	MaxBreakdownDepth    int
	MaxSubtasks          int
	MinSubtaskDurationMs int64
	MaxSubtaskDurationMs int64
}

// SubtaskSpec describes one synthesized subtask before it becomes a real
// task.Task (the engine assigns IDs/CreatedAt/etc when materializing it).
type SubtaskSpec struct {
	Title               string
	Description         string
	Category             task.Category
	EstimatedDurationMs int64
	RequiredResources   []string
	Sequence            int // used by TEMPORAL to wire phase-ordering edges
}

// Plan is the orchestrator's decision for one candidate task (spec §4.6
// "Breakdown = {subtasks, internal dependency edges, strategy tag,
// expected speedup, confidence}").
type Plan struct {
	ShouldBreakdown bool
	Strategy        Strategy
	Subtasks        []SubtaskSpec
	InternalEdges   []InternalEdge // indices into Subtasks
	ExpectedSpeedup float64
	Confidence      float64
}

// InternalEdge is a dependency edge between two subtasks in the same Plan.
type InternalEdge struct {
	FromIdx int
	ToIdx   int
	Type    task.EdgeType
}

// ErrDepthExceeded is returned when a breakdown is requested below the
// engine's recursion floor.
var ErrDepthExceeded = fmt.Errorf("breakdown: max recursion depth reached")

// Evaluate decides whether t should be broken down, and if so produces a
// Plan. currentDepth is the number of breakdown levels already applied to
// this lineage (0 for an original, top-level task).
func Evaluate(t *task.View, in ComplexityInput, cfg Config, currentDepth int) (Plan, float64, error) {
	score := Score(in)
	if score <= cfg.BreakdownThreshold {
		return Plan{ShouldBreakdown: false}, score, nil
	}
	if currentDepth >= cfg.MaxBreakdownDepth {
		return Plan{ShouldBreakdown: false}, score, ErrDepthExceeded
	}

	strategy := chooseStrategy(in, currentDepth)
	subtasks := split(t, in, cfg, strategy)
	edges := wireEdges(subtasks, strategy)

	plan := Plan{
		ShouldBreakdown: true,
		Strategy:        strategy,
		Subtasks:        subtasks,
		InternalEdges:   edges,
		ExpectedSpeedup: expectedSpeedup(subtasks, strategy),
		Confidence:      confidence(score, len(subtasks)),
	}
	return plan, score, nil
}

// chooseStrategy picks a splitting approach from the task's shape: a
// deeper task (already broken down once) leans toward HYBRID to combine
// further axes; a task with declared cross-dependencies favors
// DEPENDENCY; otherwise alternates between FUNCTIONAL and TEMPORAL based
// on whether the category is inherently phased (e.g. infrastructure
// rollouts) or capability-sliced (e.g. feature work).
func chooseStrategy(in ComplexityInput, currentDepth int) Strategy {
	switch {
	case currentDepth > 0:
		return StrategyHybrid
	case in.DependencyCount >= 3:
		return StrategyDependency
	case in.Category == task.CategoryInfrastructure || in.Category == task.CategoryPerformance:
		return StrategyTemporal
	default:
		return StrategyFunctional
	}
}

// split produces between 1 and cfg.MaxSubtasks SubtaskSpecs, each within
// [Min,Max]SubtaskDurationMs, whose total estimated duration is within
// ±25% of the original (spec §4.6 invariant). An original longer than
// MaxSubtasks×MaxSubtaskDurationMs yields a total capped at that product.
func split(t *task.View, in ComplexityInput, cfg Config, strategy Strategy) []SubtaskSpec {
	total := t.EstimatedDurationMs
	if total <= 0 {
		total = cfg.MinSubtaskDurationMs
	}

	count := subtaskCount(in, cfg)
	per := total / int64(count)
	if per < cfg.MinSubtaskDurationMs {
		per = cfg.MinSubtaskDurationMs
		count = maxInt(1, int(total/per))
		if count > cfg.MaxSubtasks {
			count = cfg.MaxSubtasks
		}
	}
	if per > cfg.MaxSubtaskDurationMs {
		count = int((total + cfg.MaxSubtaskDurationMs - 1) / cfg.MaxSubtaskDurationMs)
		if count > cfg.MaxSubtasks {
			count = cfg.MaxSubtasks
		}
		per = total / int64(count)
		if per > cfg.MaxSubtaskDurationMs {
			per = cfg.MaxSubtaskDurationMs
		}
	}

	subtasks := make([]SubtaskSpec, 0, count)
	remaining := total
	for i := 0; i < count; i++ {
		dur := per
		if i == count-1 {
			// Absorb rounding remainder into the last subtask, clamped to
			// the configured bounds so the ±25% total invariant holds
			// without violating the per-subtask bounds.
			dur = clampDuration(remaining, cfg)
		}
		remaining -= dur
		subtasks = append(subtasks, SubtaskSpec{
			Title:               fmt.Sprintf("%s — %s part %d/%d", t.Title, strategy, i+1, count),
			Description:         phaseDescription(t.Description, strategy, i, count),
			Category:             t.Category,
			EstimatedDurationMs: dur,
			RequiredResources:   t.RequiredResources,
			Sequence:            i,
		})
	}
	return subtasks
}

func clampDuration(d int64, cfg Config) int64 {
	if d < cfg.MinSubtaskDurationMs {
		return cfg.MinSubtaskDurationMs
	}
	if d > cfg.MaxSubtaskDurationMs {
		return cfg.MaxSubtaskDurationMs
	}
	return d
}

func subtaskCount(in ComplexityInput, cfg Config) int {
	n := 2 + in.DependencyCount/2
	if n < 2 {
		n = 2
	}
	if n > cfg.MaxSubtasks {
		n = cfg.MaxSubtasks
	}
	return n
}

func phaseDescription(original string, strategy Strategy, idx, count int) string {
	switch strategy {
	case StrategyTemporal:
		return fmt.Sprintf("phase %d of %d: %s", idx+1, count, original)
	case StrategyDependency:
		return fmt.Sprintf("dependency slice %d of %d: %s", idx+1, count, original)
	case StrategyHybrid:
		return fmt.Sprintf("hybrid slice %d of %d: %s", idx+1, count, original)
	default:
		return fmt.Sprintf("functional slice %d of %d: %s", idx+1, count, original)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// wireEdges builds the internal dependency edges for a Plan's strategy.
// TEMPORAL and DEPENDENCY chain subtasks sequentially (phase N blocks
// N+1); FUNCTIONAL leaves subtasks independent (they can run in
// parallel, which is the point of a functional split); HYBRID chains in
// pairs, letting every other subtask run in parallel with its partner.
func wireEdges(subtasks []SubtaskSpec, strategy Strategy) []InternalEdge {
	var edges []InternalEdge
	switch strategy {
	case StrategyTemporal, StrategyDependency:
		for i := 1; i < len(subtasks); i++ {
			edges = append(edges, InternalEdge{FromIdx: i - 1, ToIdx: i, Type: task.EdgeBlocks})
		}
	case StrategyHybrid:
		for i := 1; i < len(subtasks); i += 2 {
			edges = append(edges, InternalEdge{FromIdx: i - 1, ToIdx: i, Type: task.EdgeBlocks})
		}
	case StrategyFunctional:
		// No gating edges: functional slices are independent by design.
	}
	return edges
}

// expectedSpeedup estimates parallel wall-clock improvement over serial
// execution of the same subtasks, capped by how much gating the strategy
// introduces (a fully chained TEMPORAL plan has no speedup; a fully
// parallel FUNCTIONAL plan approaches len(subtasks)).
func expectedSpeedup(subtasks []SubtaskSpec, strategy Strategy) float64 {
	n := float64(len(subtasks))
	switch strategy {
	case StrategyFunctional:
		return n
	case StrategyHybrid:
		return n / 2
	default: // TEMPORAL, DEPENDENCY: fully serial
		return 1.0
	}
}

// confidence scores how sure the orchestrator is in this plan: a score
// just over the threshold is a marginal call (lower confidence); very
// few or very many subtasks also reduce confidence relative to the
// comfortable middle of the configured range.
func confidence(score float64, subtaskN int) float64 {
	marginOverThreshold := clamp01(score)
	shapeConfidence := 1.0
	if subtaskN <= 2 || subtaskN >= 10 {
		shapeConfidence = 0.8
	}
	return clamp01(0.5 + 0.5*marginOverThreshold) * shapeConfidence
}
