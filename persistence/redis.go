package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// snapshotKey is the single key holding the latest snapshot (spec's
// domain stack calls this "a fast, ephemeral alternative snapshot
// backend" — unlike PostgresSnapshotStore it keeps only the most recent
// payload, not a history).
const snapshotKey = "taskengine:snapshot:latest"

// RedisSnapshotStore is an alternative SnapshotStore backend, adapted
// from the reference's store.RedisStore client setup
// (control_plane/store/redis.go). It is intentionally single-slot: the
// reference's versioned-write Lua scripts exist to arbitrate between
// concurrent writers, but this engine has exactly one writer (the
// coordinator), so a plain SET/GET suffices here.
type RedisSnapshotStore struct {
	client *redis.Client
}

// NewRedisSnapshotStore connects to addr/db and verifies reachability.
func NewRedisSnapshotStore(addr, password string, db int) (*RedisSnapshotStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("persistence: ping redis: %w", err)
	}
	return &RedisSnapshotStore{client: client}, nil
}

// Close closes the underlying client.
func (s *RedisSnapshotStore) Close() error {
	return s.client.Close()
}

// WriteSnapshot seals and stores s as the single latest payload.
func (s *RedisSnapshotStore) WriteSnapshot(snap Snapshot) error {
	sealed, err := Seal(snap)
	if err != nil {
		return fmt.Errorf("persistence: seal snapshot: %w", err)
	}
	payload, err := canonicalJSON(sealed)
	if err != nil {
		return fmt.Errorf("persistence: marshal snapshot: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Set(ctx, snapshotKey, payload, 0).Err(); err != nil {
		return fmt.Errorf("persistence: write snapshot to redis: %w", err)
	}
	return nil
}

// LatestSnapshot returns the stored payload, if any.
func (s *RedisSnapshotStore) LatestSnapshot() (Snapshot, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	payload, err := s.client.Get(ctx, snapshotKey).Bytes()
	if err == redis.Nil {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("persistence: read snapshot from redis: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("persistence: decode snapshot payload: %w", err)
	}
	if !Verify(snap) {
		return Snapshot{}, false, fmt.Errorf("persistence: checksum mismatch for snapshot taken at %s", snap.TakenAt.Format(time.RFC3339))
	}
	return snap, true, nil
}
