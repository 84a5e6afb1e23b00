// Package predictor defines the optional learning-feedback plugin point
// described in spec §9: "expose a PredictorPlugin interface ... keep all
// adaptive heuristics encapsulated so a learned implementation can be
// swapped in." The engine ships only the no-op default; no model
// training is implemented here (spec §1 Non-goals).
package predictor

import "github.com/kaelforge/taskengine/task"

// Plugin lets an external component refine duration estimates and
// eligibility ranking without the core depending on any ML runtime.
type Plugin interface {
	PredictDuration(t *task.View) (ms int64, ok bool)
	PredictFailureProbability(t *task.View) (p float64, ok bool)
	RankEligible(views []*task.View) []*task.View
}

// Noop is the default Plugin: it declines every prediction and returns
// the input ranking unchanged.
type Noop struct{}

func (Noop) PredictDuration(*task.View) (int64, bool)            { return 0, false }
func (Noop) PredictFailureProbability(*task.View) (float64, bool) { return 0, false }
func (Noop) RankEligible(views []*task.View) []*task.View         { return views }
