package engine

import (
	"log"
	"time"

	"github.com/kaelforge/taskengine/events"
	"github.com/kaelforge/taskengine/metrics"
	"github.com/kaelforge/taskengine/persistence"
	"github.com/kaelforge/taskengine/task"
)

// persistenceLoop ticks every cfg.PersistenceIntervalMs, writing a full
// snapshot (spec §4.8: "written atomically ... every persistenceIntervalMs
// ... and on graceful shutdown").
func (e *Engine) persistenceLoop() {
	defer e.wg.Done()
	interval := time.Duration(e.cfg.PersistenceIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.shutdownCh:
			return
		case <-ticker.C:
			if err := e.persistSnapshot(); err != nil {
				log.Printf("[ENGINE] periodic snapshot write failed: %v", err)
			}
		}
	}
}

// persistSnapshot builds a Snapshot from current state under mu, then
// performs the actual write outside the lock — disk I/O must never
// happen while holding the coordinator's single lock (spec §5).
func (e *Engine) persistSnapshot() error {
	e.mu.Lock()
	snap := persistence.Snapshot{
		SchemaVersion: persistence.CurrentSchemaVersion,
		TakenAt:       time.Now(),
		Scheduler: persistence.SchedulerRecord{
			Algorithm:     string(e.algorithm),
			MaxConcurrent: e.cfg.MaxConcurrentTasks,
		},
	}

	for rtype, c := range e.pool.Snapshot() {
		snap.Pools = append(snap.Pools, persistence.PoolRecord{
			Type: rtype, Capacity: c.Capacity, Allocated: c.Allocated, Reserved: c.Reserved,
		})
	}

	var completed, failed []task.ID
	for id, t := range e.tasks {
		snap.Tasks = append(snap.Tasks, toTaskRecord(t))
		for _, edge := range e.graph.AllDependencies(id) {
			snap.Edges = append(snap.Edges, persistence.EdgeRecord{From: edge.From, To: edge.To, Type: edge.Type})
		}
		switch t.Status {
		case task.StatusCompleted:
			completed = append(completed, id)
		case task.StatusFailed:
			failed = append(failed, id)
		}
	}
	snap.CompletedHistory = persistence.BoundHistory(completed)
	snap.FailedHistory = persistence.BoundHistory(failed)
	snap.Metrics = metricsToMap(e.collector.Snapshot(e.pool.Utilization()))

	store := e.store
	e.mu.Unlock()

	if err := store.WriteSnapshot(snap); err != nil {
		return err
	}
	e.bus.Publish(events.Event{Kind: events.KindSnapshotWritten, Payload: snap.TakenAt})
	return nil
}

func toTaskRecord(t *task.Task) persistence.TaskRecord {
	r := persistence.TaskRecord{
		ID:                  t.ID,
		Title:               t.Title,
		Description:         t.Description,
		Category:            t.Category,
		Priority:            t.Priority,
		Complexity:          t.Complexity,
		BasePriority:        t.BasePriority,
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
		SubtaskIDs:          append([]task.ID(nil), t.SubtaskIDs...),
		ResourceConstraints: t.ResourceConstraints,
		BatchCompatible:     t.BatchCompatible,
		BatchGroup:          t.BatchGroup,
		Status:              t.Status,
		DurationMs:          t.DurationMs,
		TokenUsage:          t.TokenUsage,
		ErrorCount:          t.ErrorCount,
		RetryCount:          t.RetryCount,
	}
	for tag := range t.Tags {
		r.Tags = append(r.Tags, tag)
	}
	for dep := range t.Dependencies {
		r.Dependencies = append(r.Dependencies, dep)
	}
	for res := range t.RequiredResources {
		r.RequiredResources = append(r.RequiredResources, res)
	}
	return r
}

func metricsToMap(s metrics.Snapshot) map[string]interface{} {
	cat := make(map[string]interface{}, len(s.CategorySuccessRate))
	for k, v := range s.CategorySuccessRate {
		cat[string(k)] = v
	}
	algo := make(map[string]interface{}, len(s.AlgorithmConfidenceAvg))
	for k, v := range s.AlgorithmConfidenceAvg {
		algo[k] = v
	}
	return map[string]interface{}{
		"totalSubmitted":         s.TotalSubmitted,
		"totalCompleted":         s.TotalCompleted,
		"totalFailed":            s.TotalFailed,
		"totalRetries":           s.TotalRetries,
		"totalStarvations":       s.TotalStarvations,
		"avgExecutionMs":         s.AvgExecutionMs,
		"medianExecutionMs":      s.MedianExecutionMs,
		"p95ExecutionMs":         s.P95ExecutionMs,
		"successRate":            s.SuccessRate,
		"categorySuccessRate":    cat,
		"algorithmConfidenceAvg": algo,
		"queueGrowthRate":        s.QueueGrowthRate,
		"status":                 string(s.Status),
	}
}
