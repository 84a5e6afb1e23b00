package persistence

import (
	"log"
	"sync"
	"time"
)

// pendingWrite is a snapshot write that landed in the fallback cache
// while the primary Store was unreachable. Reconciliation compares
// takenAt against the primary's latest snapshot to avoid overwriting a
// newer one; version is a monotonic sequence number that reconciliation
// does not consult.
type pendingWrite struct {
	snapshot   Snapshot
	version    int64
	takenAt    time.Time
	reconciled bool
}

// cacheEntry is one locally cached snapshot. lastAccess is updated on
// read; eviction drops the oldest-written entries regardless of it.
type cacheEntry struct {
	snapshot   Snapshot
	lastAccess time.Time
}

// FallbackCache is the degraded-mode companion to a primary Store. It is
// adapted from the reference control-plane's resilience.DegradedMode:
// the same "mark unavailable / serve from a bounded local cache / track
// pending writes with a monotonic version / reconcile on recovery,
// skipping already-superseded writes" shape, narrowed from the
// reference's generic key-value cache to one that only ever caches
// Snapshots (this engine has exactly one logical key: "latest
// snapshot"), so the local cache here is bounded to a handful of most-
// recent generations rather than 10,000 arbitrary keys.
type FallbackCache struct {
	mu sync.Mutex

	primary Store
	primaryAvailable bool

	localCache   []cacheEntry
	maxCacheSize int

	pending          []pendingWrite
	maxPendingWrites int
	currentVersion   int64
}

// NewFallbackCache wraps primary with degraded-mode fallback behavior.
func NewFallbackCache(primary Store) *FallbackCache {
	return &FallbackCache{
		primary:          primary,
		primaryAvailable: true,
		maxCacheSize:     16,
		maxPendingWrites: 1000,
	}
}

// MarkUnavailable flips into degraded mode; subsequent writes land only
// in the local cache.
func (f *FallbackCache) MarkUnavailable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.primaryAvailable {
		log.Printf("[PERSISTENCE] primary snapshot store unavailable, entering degraded mode")
		f.primaryAvailable = false
	}
}

// IsDegraded reports whether writes are currently only landing locally.
func (f *FallbackCache) IsDegraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.primaryAvailable
}

// WriteSnapshot attempts the primary first; on failure it falls back to
// the bounded local cache and records a pending write for later
// reconciliation.
func (f *FallbackCache) WriteSnapshot(s Snapshot) error {
	sealed, err := Seal(s)
	if err != nil {
		return err
	}

	if f.primaryAvailableNow() {
		if err := f.primary.WriteSnapshot(sealed); err == nil {
			return nil
		} else {
			log.Printf("[PERSISTENCE] primary write failed: %v, falling back to local cache", err)
			f.MarkUnavailable()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.currentVersion++
	version := f.currentVersion

	f.localCache = append(f.localCache, cacheEntry{snapshot: sealed, lastAccess: time.Now()})
	if len(f.localCache) > f.maxCacheSize {
		f.localCache = f.localCache[len(f.localCache)-f.maxCacheSize:]
	}

	if len(f.pending) >= f.maxPendingWrites {
		// Drop the oldest unreconciled write to stay bounded.
		for i := range f.pending {
			if !f.pending[i].reconciled {
				f.pending = append(f.pending[:i], f.pending[i+1:]...)
				break
			}
		}
	}
	f.pending = append(f.pending, pendingWrite{snapshot: sealed, version: version, takenAt: sealed.TakenAt})
	return nil
}

func (f *FallbackCache) primaryAvailableNow() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.primaryAvailable
}

// LatestSnapshot reads from the primary when available, else from the
// local cache's newest entry.
func (f *FallbackCache) LatestSnapshot() (Snapshot, bool, error) {
	if f.primaryAvailableNow() {
		s, ok, err := f.primary.LatestSnapshot()
		if err == nil {
			return s, ok, nil
		}
		log.Printf("[PERSISTENCE] primary read failed: %v, falling back to local cache", err)
		f.MarkUnavailable()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.localCache) == 0 {
		return Snapshot{}, false, nil
	}
	latest := &f.localCache[len(f.localCache)-1]
	latest.lastAccess = time.Now()
	return latest.snapshot, true, nil
}

// Reconcile replays pending writes against the primary once it has
// recovered, skipping any write whose TakenAt is not newer than that of
// the snapshot the primary already holds (same invariant as the reference's
// ReconcilePendingWrites: "stale write does not overwrite newer
// version").
func (f *FallbackCache) Reconcile() error {
	f.mu.Lock()
	pending := append([]pendingWrite(nil), f.pending...)
	f.mu.Unlock()

	if len(pending) == 0 {
		f.mu.Lock()
		f.primaryAvailable = true
		f.mu.Unlock()
		return nil
	}

	existing, hasExisting, err := f.primary.LatestSnapshot()
	if err != nil {
		return err
	}

	succeeded := 0
	for i, pw := range pending {
		if pw.reconciled {
			continue
		}
		if hasExisting && !existing.TakenAt.Before(pw.takenAt) {
			log.Printf("[PERSISTENCE] skipping stale pending snapshot from %s: primary already has one from %s",
				pw.takenAt.Format(time.RFC3339), existing.TakenAt.Format(time.RFC3339))
			f.markReconciled(i)
			continue
		}
		if err := f.primary.WriteSnapshot(pw.snapshot); err != nil {
			log.Printf("[PERSISTENCE] failed to reconcile pending snapshot from %s: %v", pw.takenAt.Format(time.RFC3339), err)
			continue
		}
		f.markReconciled(i)
		succeeded++
	}

	f.mu.Lock()
	remaining := f.pending[:0]
	for _, pw := range f.pending {
		if !pw.reconciled {
			remaining = append(remaining, pw)
		}
	}
	f.pending = remaining
	f.primaryAvailable = true
	f.mu.Unlock()

	log.Printf("[PERSISTENCE] reconciliation complete: %d/%d pending snapshots applied", succeeded, len(pending))
	return nil
}

func (f *FallbackCache) markReconciled(idx int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if idx < len(f.pending) {
		f.pending[idx].reconciled = true
	}
}

// PendingCount reports how many writes still await reconciliation.
func (f *FallbackCache) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, pw := range f.pending {
		if !pw.reconciled {
			n++
		}
	}
	return n
}
