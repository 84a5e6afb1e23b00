// Package persistence implements spec §4.8 (C8): the on-disk snapshot
// format, checksum verification, pluggable SnapshotStore backends
// (file/Postgres/Redis), the degraded-mode fallback cache, and the
// recovery state-mapping table applied on startup.
package persistence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/kaelforge/taskengine/task"
)

// TaskRecord is the serialized form of a task.Task (spec §6's `<Task>`
// array element); it carries the full mutable record, not just the
// read-only View, since recovery must restore fields a View omits
// (Execute/Validate/Rollback are callbacks and are never serialized —
// the caller must re-register them via re-submission after a
// RecoveryError, same as the reference control-plane's jobs being
// re-registered by an operator after a corrupt WAL).
type TaskRecord struct {
	ID          task.ID       `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Category    task.Category `json:"category"`
	Tags        []string      `json:"tags,omitempty"`

	Priority     task.Priority   `json:"priority"`
	Complexity   task.Complexity `json:"complexity"`
	BasePriority task.Priority   `json:"basePriority"`

	CreatedAt           time.Time  `json:"createdAt"`
	ScheduledAt         *time.Time `json:"scheduledAt,omitempty"`
	StartedAt           *time.Time `json:"startedAt,omitempty"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
	Deadline            *time.Time `json:"deadline,omitempty"`
	EstimatedDurationMs int64      `json:"estimatedDurationMs"`
	MaxExecutionTimeMs  int64      `json:"maxExecutionTimeMs"`

	MaxRetries     int    `json:"maxRetries"`
	CurrentRetries int    `json:"currentRetries"`
	LastError      string `json:"lastError,omitempty"`

	Dependencies []task.ID `json:"dependencies,omitempty"`
	ParentTaskID task.ID   `json:"parentTaskId,omitempty"`
	SubtaskIDs   []task.ID `json:"subtaskIds,omitempty"`

	RequiredResources   []string       `json:"requiredResources,omitempty"`
	ResourceConstraints map[string]int `json:"resourceConstraints,omitempty"`

	BatchCompatible bool   `json:"batchCompatible"`
	BatchGroup      string `json:"batchGroup,omitempty"`

	Status task.Status `json:"status"`

	DurationMs *int64 `json:"durationMs,omitempty"`
	TokenUsage *int64 `json:"tokenUsage,omitempty"`
	ErrorCount int    `json:"errorCount"`
	RetryCount int    `json:"retryCount"`
}

// EdgeRecord is one dependency edge (spec §6).
type EdgeRecord struct {
	From task.ID       `json:"from"`
	To   task.ID       `json:"to"`
	Type task.EdgeType `json:"type"`
}

// PoolRecord is one resource pool's counters (spec §6).
type PoolRecord struct {
	Type      string `json:"type"`
	Capacity  int    `json:"capacity"`
	Allocated int    `json:"allocated"`
	Reserved  int    `json:"reserved"`
}

// SchedulerRecord captures the active scheduler configuration (spec §6).
type SchedulerRecord struct {
	Algorithm     string `json:"algorithm"`
	MaxConcurrent int    `json:"maxConcurrent"`
}

// Snapshot is the full persisted state (spec §6, §4.8).
type Snapshot struct {
	SchemaVersion    int                    `json:"schemaVersion"`
	TakenAt          time.Time              `json:"takenAt"`
	Scheduler        SchedulerRecord        `json:"scheduler"`
	Pools            []PoolRecord           `json:"pools"`
	Tasks            []TaskRecord           `json:"tasks"`
	Edges            []EdgeRecord           `json:"edges"`
	CompletedHistory []task.ID              `json:"completedHistory"`
	FailedHistory    []task.ID              `json:"failedHistory"`
	Metrics          map[string]interface{} `json:"metrics"`
	Checksum         string                 `json:"checksum"`
}

// CurrentSchemaVersion is the schema version this package writes.
const CurrentSchemaVersion = 1

// maxHistory bounds completedHistory/failedHistory (spec §6: "up to 100").
const maxHistory = 100

// BoundHistory truncates a history slice to the most recent maxHistory
// entries, keeping the newest at the end.
func BoundHistory(ids []task.ID) []task.ID {
	if len(ids) <= maxHistory {
		return ids
	}
	return ids[len(ids)-maxHistory:]
}

// computeChecksum returns "sha256:<hex>" over the canonical-ordered JSON
// serialization of the snapshot with Checksum itself cleared, per spec
// §4.8 ("checksum: SHA-256 over the canonical-ordered JSON serialization
// of the snapshot payload... computed over payload with this field
// omitted").
func computeChecksum(s Snapshot) (string, error) {
	s.Checksum = ""
	canonical, err := canonicalJSON(s)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// canonicalJSON marshals v deterministically: struct field order is
// already fixed by Go's encoding/json (declaration order), so the only
// remaining source of nondeterminism is map iteration order inside
// Metrics — sortedMetrics below re-encodes it through a sorted-key path.
func canonicalJSON(v Snapshot) ([]byte, error) {
	v.Metrics = sortedMetrics(v.Metrics)
	return json.Marshal(v)
}

// sortedMetrics returns a copy whose JSON encoding is stable. Go's
// encoding/json already sorts map[string]X keys when marshaling, so this
// exists primarily to document the invariant and to guard against a
// future switch to map[string]interface{} with nested unsorted maps.
func sortedMetrics(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]interface{}, len(m))
	for _, k := range keys {
		out[k] = m[k]
	}
	return out
}

// Seal computes and sets the snapshot's checksum, returning the sealed
// copy ready to persist.
func Seal(s Snapshot) (Snapshot, error) {
	sum, err := computeChecksum(s)
	if err != nil {
		return s, err
	}
	s.Checksum = sum
	return s, nil
}

// Verify reports whether s.Checksum matches the payload's recomputed
// checksum (spec §4.8: "load latest valid snapshot (checksum match)").
func Verify(s Snapshot) bool {
	want, err := computeChecksum(s)
	if err != nil {
		return false
	}
	return want == s.Checksum
}
