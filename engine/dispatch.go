package engine

import (
	"time"

	"github.com/kaelforge/taskengine/events"
	"github.com/kaelforge/taskengine/lifecycle"
	"github.com/kaelforge/taskengine/resource"
	"github.com/kaelforge/taskengine/scheduler"
	"github.com/kaelforge/taskengine/task"
)

// dispatchLoop ticks every cfg.DispatchTickEvery, selecting and
// dispatching eligible tasks, per spec §4.5's dispatch cycle (C5). It
// plays the role of the reference control-plane's reconciler tick loop
// (reconciler.go), generalized from "desired-state convergence" to
// "queue-to-running convergence".
func (e *Engine) dispatchLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.DispatchTickEvery)
	defer ticker.Stop()
	for {
		select {
		case <-e.shutdownCh:
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick performs one dispatch cycle: build eligible candidates, recompute
// dynamic priority, select via the active algorithm, reserve resources,
// and launch workers for what was selected (spec §4.5 steps 1-6).
func (e *Engine) tick() {
	start := time.Now()

	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return
	}

	var candidates []scheduler.Candidate
	topoLevel := make(map[task.ID]int)
	var queuedIDs []task.ID
	for id, t := range e.tasks {
		if t.Status == task.StatusQueued {
			queuedIDs = append(queuedIDs, id)
		}
	}

	order := e.graph.TopoOrder(queuedIDs, func(a, b task.ID) bool { return a < b })
	for level, id := range order {
		topoLevel[id] = level
	}

	now := time.Now()
	for _, id := range queuedIDs {
		t := e.tasks[id]
		if !e.isEligibleLocked(t, now) {
			continue
		}

		hoursWaiting := now.Sub(t.CreatedAt).Hours()
		blockedDependents := len(t.Dependents)
		successRate := e.collector.Snapshot(nil).CategorySuccessRate[t.Category]
		scheduler.RecomputeFactors(&t.Factors, hoursWaiting, t.Deadline, now, blockedDependents, successRate)
		t.DynamicPriority = scheduler.DynamicPriority(t.BasePriority, t.Factors)

		units := t.ResourceConstraints
		if len(units) == 0 {
			units = resource.EstimateUnits(t.Category, setToSlice(t.RequiredResources), t.EstimatedDurationMs)
		}

		candidates = append(candidates, scheduler.Candidate{
			View:              t.Snapshot(),
			EffectivePriority: t.DynamicPriority,
			ResourceUnits:     units,
			QueuedSince:       t.CreatedAt,
		})
	}

	running := len(e.running)
	availableSlots := e.cfg.MaxConcurrentTasks - running
	util := e.pool.Utilization()
	budget := e.residualBudgetLocked()

	ctx := scheduler.Context{
		Now:             now,
		QueuedCount:     len(queuedIDs),
		RunningCount:    running,
		ResourceBudget:  budget,
		PoolUtilization: util,
		CategorySuccessRate: func(c task.Category) float64 {
			return e.collector.Snapshot(nil).CategorySuccessRate[c]
		},
	}

	selector := e.selector
	e.mu.Unlock()

	if availableSlots <= 0 || len(candidates) == 0 {
		e.collector.ObserveQueueDepth(len(queuedIDs))
		e.reg.ObserveDispatchDuration(time.Since(start))
		return
	}

	decision := selector.SelectNext(candidates, availableSlots, ctx, topoLevel)
	e.collector.ObserveSchedulingDecision(string(decision.AlgorithmUsed), decision.Confidence)
	e.bus.Publish(events.Event{Kind: events.KindSchedulingDecision, Payload: decision})

	dispatchIDs := expandBatch(candidates, decision.Selected, e.cfg.BatchCap)

	e.mu.Lock()
	for _, id := range dispatchIDs {
		t, ok := e.tasks[id]
		if !ok || t.Status != task.StatusQueued {
			continue
		}
		if e.categoryThrottledLocked(t.Category) {
			continue
		}

		units := t.ResourceConstraints
		if len(units) == 0 {
			units = resource.EstimateUnits(t.Category, setToSlice(t.RequiredResources), t.EstimatedDurationMs)
		}
		for rtype := range units {
			e.pool.EnsureType(rtype, 0)
		}
		ok, _ = e.pool.Reserve(string(id), units)
		if !ok {
			continue // ResourceUnavailable: not fatal, remains QUEUED (spec §7).
		}

		if err := e.advanceToRunningLocked(t); err != nil {
			e.pool.Release(string(id))
			continue
		}
		e.launchWorkerLocked(t)
	}
	e.mu.Unlock()

	e.collector.ObserveQueueDepth(len(queuedIDs))
	e.reg.ObserveDispatchDuration(time.Since(start))
}

// expandBatch implements the C5 batching rule (spec §4.5): once a
// batch-compatible task with a non-empty BatchGroup has been selected,
// additional ready peers sharing its BatchGroup and Category may be
// co-dispatched alongside it, up to batchCap tasks per group (the
// originally selected member included). Peers are walked in candidate
// order so the same tie-break the selector already applied decides which
// peers win a group's remaining slots.
func expandBatch(candidates []scheduler.Candidate, selected []task.ID, batchCap int) []task.ID {
	if batchCap <= 1 || len(selected) == 0 {
		return selected
	}

	byID := make(map[task.ID]scheduler.Candidate, len(candidates))
	for _, c := range candidates {
		byID[c.View.ID] = c
	}

	out := append([]task.ID(nil), selected...)
	taken := make(map[task.ID]struct{}, len(selected))
	for _, id := range selected {
		taken[id] = struct{}{}
	}

	groupCount := make(map[string]int)
	for _, id := range selected {
		c, ok := byID[id]
		if !ok || !c.View.BatchCompatible || c.View.BatchGroup == "" {
			continue
		}
		groupCount[batchKey(c.View.BatchGroup, c.View.Category)]++
	}

	for _, id := range selected {
		c, ok := byID[id]
		if !ok || !c.View.BatchCompatible || c.View.BatchGroup == "" {
			continue
		}
		key := batchKey(c.View.BatchGroup, c.View.Category)
		if groupCount[key] >= batchCap {
			continue
		}
		for _, peer := range candidates {
			if groupCount[key] >= batchCap {
				break
			}
			if _, done := taken[peer.View.ID]; done {
				continue
			}
			if !peer.View.BatchCompatible || peer.View.BatchGroup != c.View.BatchGroup || peer.View.Category != c.View.Category {
				continue
			}
			out = append(out, peer.View.ID)
			taken[peer.View.ID] = struct{}{}
			groupCount[key]++
		}
	}
	return out
}

func batchKey(group string, cat task.Category) string {
	return group + "|" + string(cat)
}

// isEligibleLocked reports dispatch eligibility (spec I2): every gating
// dependency COMPLETED, preConditions pass. Must be called with mu held.
func (e *Engine) isEligibleLocked(t *task.Task, now time.Time) bool {
	for depID := range t.Dependencies {
		dep, ok := e.tasks[depID]
		if !ok || dep.Status != task.StatusCompleted {
			return false
		}
	}
	view := t.Snapshot()
	for _, cond := range t.PreConditions {
		if !e.evaluator(cond, view) {
			return false
		}
	}
	return true
}

// residualBudgetLocked returns capacity-(allocated+reserved) per type,
// the RESOURCE_OPTIMAL algorithm's budget signal.
func (e *Engine) residualBudgetLocked() map[string]int {
	snap := e.pool.Snapshot()
	out := make(map[string]int, len(snap))
	for rtype, c := range snap {
		out[rtype] = c.Available()
	}
	return out
}

// categoryThrottledLocked implements the C5 failure-domain-style
// isolation: once a category's cumulative failure count reaches
// CategoryFailureThreshold (the count never decays), cap its concurrent
// RUNNING tasks to 1. It
// also applies the per-category dispatch rate limiter as a second,
// independent admission shaping signal (an unthrottled category can
// still be denied a slot this tick if it's dispatching faster than its
// token bucket allows; it simply remains QUEUED and is retried next
// tick).
func (e *Engine) categoryThrottledLocked(cat task.Category) bool {
	if !e.dispatchLimiter.Allow(string(cat)) {
		return true
	}
	if e.categoryFailures[cat] < e.cfg.CategoryFailureThreshold {
		return false
	}
	running := 0
	for id := range e.running {
		if t, ok := e.tasks[id]; ok && t.Category == cat {
			running++
		}
	}
	return running >= 1
}

// advanceToRunningLocked drives a QUEUED task through
// SCHEDULED/PREPARING/RESOURCE_ALLOCATED/STARTING/RUNNING, invoking
// lifecycle hooks at each step (spec §4.5 step 5, §4.7).
func (e *Engine) advanceToRunningLocked(t *task.Task) error {
	steps := []task.Status{
		task.StatusScheduled,
		task.StatusPreparing,
		task.StatusResourceAllocated,
		task.StatusStarting,
		task.StatusRunning,
	}
	for _, to := range steps {
		if err := e.lifecycle.Transition(t, to, lifecycle.TriggerAutomatic, nil); err != nil {
			return err
		}
	}
	t.StartedAt = timePtr(time.Now())
	return nil
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func timePtr(t time.Time) *time.Time { return &t }
