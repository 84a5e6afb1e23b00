// Package config defines the closed EngineConfig struct used to
// construct an engine instance, per spec §9's redesign note: "define a
// closed EngineConfig struct whose recognized fields mirror §6" instead
// of a dynamic config object with implicit keys. FromEnv mirrors the
// reference control-plane's main.go, which reads a handful of tunables
// from named environment variables with fmt.Sscanf rather than a generic
// config file parser.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kaelforge/taskengine/scheduler"
)

// EngineConfig is the full set of recognized engine tunables.
type EngineConfig struct {
	MaxConcurrentTasks int
	MaxRetries         int
	DefaultTimeoutMs   int64
	Algorithm          scheduler.Algorithm

	BreakdownThreshold float64
	MaxBreakdownDepth  int
	MaxSubtasks        int
	MinSubtaskDurationMs int64
	MaxSubtaskDurationMs int64

	ResourcePools map[string]int

	PersistenceIntervalMs int64
	PersistenceDir        string
	RetentionDays         int

	MaxStarvationTime time.Duration
	DispatchTickEvery time.Duration

	CategoryFailureThreshold int
	BatchCap                 int

	// CancelGracePeriod bounds how long Cancel waits for a worker to
	// acknowledge cancellation before forcing CANCELLED regardless (§5).
	CancelGracePeriod time.Duration
	ShutdownTimeout   time.Duration
}

// Default returns the spec's stated defaults across §4-§6.
func Default() EngineConfig {
	return EngineConfig{
		MaxConcurrentTasks:       8,
		MaxRetries:               3,
		DefaultTimeoutMs:         5 * 60 * 1000,
		Algorithm:                scheduler.HYBRID_ADAPTIVE,
		BreakdownThreshold:       0.65,
		MaxBreakdownDepth:        3,
		MaxSubtasks:              12,
		MinSubtaskDurationMs:     5 * 60 * 1000,
		MaxSubtaskDurationMs:     2 * 60 * 60 * 1000,
		ResourcePools:            map[string]int{"cpu": 16, "memory": 32, "network": 8, "disk": 8, "ai_tokens": 100000},
		PersistenceIntervalMs:    60 * 1000,
		PersistenceDir:           "./taskengine-data",
		RetentionDays:            7,
		MaxStarvationTime:        5 * time.Minute,
		DispatchTickEvery:        30 * time.Second,
		CategoryFailureThreshold: 5,
		BatchCap:                 4,
		CancelGracePeriod:        30 * time.Second,
		ShutdownTimeout:          90 * time.Second,
	}
}

// FromEnv overlays a handful of fields onto a base config from
// environment variables, mirroring main.go's SCHEDULER_CONCURRENCY /
// CIRCUIT_BREAKER_THRESHOLD pattern.
func FromEnv(base EngineConfig) EngineConfig {
	cfg := base
	if v := os.Getenv("TASKENGINE_MAX_CONCURRENCY"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			cfg.MaxConcurrentTasks = n
		}
	}
	if v := os.Getenv("TASKENGINE_ALGORITHM"); v != "" {
		cfg.Algorithm = scheduler.Algorithm(v)
	}
	if v := os.Getenv("TASKENGINE_PERSISTENCE_DIR"); v != "" {
		cfg.PersistenceDir = v
	}
	if v := os.Getenv("TASKENGINE_MAX_RETRIES"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}
	return cfg
}
