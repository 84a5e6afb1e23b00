package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSnapshotStore is an alternative SnapshotStore backend for
// callers who want durable, queryable snapshot storage instead of a
// single local file. It stores the snapshot payload as a JSONB column
// plus taken_at (the primary key), schema_version and checksum columns,
// so recovery can SELECT ... ORDER BY taken_at DESC LIMIT 1.
// Adapted from the reference's store.PostgresStore connection-pool setup
// (control_plane/store/postgres.go).
type PostgresSnapshotStore struct {
	pool *pgxpool.Pool
}

// NewPostgresSnapshotStore opens a pool against connString and ensures
// the snapshot table exists.
func NewPostgresSnapshotStore(ctx context.Context, connString string) (*PostgresSnapshotStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("persistence: parse postgres config: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("persistence: open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("persistence: ping postgres: %w", err)
	}

	store := &PostgresSnapshotStore{pool: pool}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresSnapshotStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS taskengine_snapshots (
			taken_at       TIMESTAMPTZ PRIMARY KEY,
			schema_version INT NOT NULL,
			checksum       TEXT NOT NULL,
			payload        JSONB NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("persistence: ensure snapshot table: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresSnapshotStore) Close() {
	s.pool.Close()
}

// WriteSnapshot seals and inserts s as a new row.
func (s *PostgresSnapshotStore) WriteSnapshot(snap Snapshot) error {
	sealed, err := Seal(snap)
	if err != nil {
		return fmt.Errorf("persistence: seal snapshot: %w", err)
	}
	payload, err := canonicalJSON(sealed)
	if err != nil {
		return fmt.Errorf("persistence: marshal snapshot: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO taskengine_snapshots (taken_at, schema_version, checksum, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (taken_at) DO UPDATE SET checksum = EXCLUDED.checksum, payload = EXCLUDED.payload
	`, sealed.TakenAt, sealed.SchemaVersion, sealed.Checksum, payload)
	if err != nil {
		return fmt.Errorf("persistence: insert snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recently taken row.
func (s *PostgresSnapshotStore) LatestSnapshot() (Snapshot, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT payload FROM taskengine_snapshots ORDER BY taken_at DESC LIMIT 1
	`).Scan(&payload)
	if err == pgx.ErrNoRows {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("persistence: query latest snapshot: %w", err)
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
