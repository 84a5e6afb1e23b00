package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/kaelforge/taskengine/task"
)

// idempotencyWindow bounds how long a repeated Submit with the same
// fingerprint returns the previously assigned TaskID, adapted from the
// reference control-plane's idempotency.Store (backed there by Redis
// with a 24h TTL; here an in-process map only).
const idempotencyWindow = 5 * time.Minute

type idemEntry struct {
	taskID task.ID
	at     time.Time
}

// idempotencyCache deduplicates Submit calls carrying the same caller-
// supplied ID and an identical spec fingerprint, so a client retrying a
// request after a network blip gets the original TaskID back once that
// task is terminal or gone; while the original task is still live, Submit
// returns ErrDuplicateID.
type idempotencyCache struct {
	mu      sync.Mutex
	entries map[string]idemEntry
}

func newIdempotencyCache() *idempotencyCache {
	return &idempotencyCache{entries: make(map[string]idemEntry)}
}

func fingerprint(spec TaskSpec) string {
	h := sha256.New()
	h.Write([]byte(spec.ID))
	h.Write([]byte{0})
	h.Write([]byte(spec.Title))
	h.Write([]byte{0})
	h.Write([]byte(spec.Description))
	h.Write([]byte{0})
	h.Write([]byte(spec.Category))
	return hex.EncodeToString(h.Sum(nil))
}

// lookup returns a previously assigned TaskID for this fingerprint if it
// was recorded within the dedup window.
func (c *idempotencyCache) lookup(spec TaskSpec) (task.ID, bool) {
	key := fingerprint(spec)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Since(e.at) > idempotencyWindow {
		return "", false
	}
	return e.taskID, true
}

// record remembers which TaskID a fingerprint resolved to, and
// opportunistically evicts expired entries.
func (c *idempotencyCache) record(spec TaskSpec, id task.ID) {
	key := fingerprint(spec)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = idemEntry{taskID: id, at: time.Now()}
	if len(c.entries) > 10000 {
		cutoff := time.Now().Add(-idempotencyWindow)
		for k, e := range c.entries {
			if e.at.Before(cutoff) {
				delete(c.entries, k)
			}
		}
	}
}
