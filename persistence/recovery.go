package persistence

import "github.com/kaelforge/taskengine/task"

// RecoveredTask is a TaskRecord after the on-start state mapping has been
// applied (spec §4.8's recovery table).
type RecoveredTask struct {
	Record        TaskRecord
	RetriesBumped bool
}

// recoveryTable implements spec §4.8's exact mapping:
//
//	CREATED/VALIDATED/QUEUED/SCHEDULED                              -> QUEUED
//	PREPARING/RESOURCE_ALLOCATED/STARTING/RUNNING/COMPLETING        -> QUEUED (retry++)
//	PAUSED/RESUMING                                                  -> QUEUED
//	COMPLETED/FAILED/CANCELLED/ARCHIVED                              -> unchanged
//
// EXPIRED is not named in the table; it is treated as unchanged, matching
// its terminal-state classification elsewhere in this module.
func recoveryTable(s task.Status) (target task.Status, bumpRetry bool) {
	switch s {
	case task.StatusCreated, task.StatusValidated, task.StatusQueued, task.StatusScheduled:
		return task.StatusQueued, false
	case task.StatusPreparing, task.StatusResourceAllocated, task.StatusStarting, task.StatusRunning, task.StatusCompleting:
		return task.StatusQueued, true
	case task.StatusPaused, task.StatusResuming:
		return task.StatusQueued, false
	case task.StatusCompleted, task.StatusFailed, task.StatusCancelled, task.StatusArchived, task.StatusExpired:
		return s, false
	default:
		// RETRYING / ROLLING_BACK / BLOCKED: treat as in-flight work that
		// was interrupted mid-recovery-relevant-state; requeue without
		// penalizing further since the task had not yet resumed doing
		// anything irreversible.
		return task.StatusQueued, false
	}
}

// ApplyRecoveryMapping maps every task record's on-disk status to its
// post-recovery status, bumping CurrentRetries where the table calls for
// it. records is left unchanged; the mapped copies are returned in a new
// slice.
func ApplyRecoveryMapping(records []TaskRecord) []RecoveredTask {
	out := make([]RecoveredTask, len(records))
	for i, r := range records {
		target, bump := recoveryTable(r.Status)
		r.Status = target
		if bump {
			r.CurrentRetries++
		}
		out[i] = RecoveredTask{Record: r, RetriesBumped: bump}
	}
	return out
}

// ResetPools returns zeroed allocated/reserved counters for every pool
// record, per spec §4.8 ("resource pool is reset to {allocated=0,
// reserved=0} and reconstructed by replaying eligible running tasks as
// they re-dispatch").
func ResetPools(pools []PoolRecord) []PoolRecord {
	out := make([]PoolRecord, len(pools))
	for i, p := range pools {
		out[i] = PoolRecord{Type: p.Type, Capacity: p.Capacity, Allocated: 0, Reserved: 0}
	}
	return out
}
