// Package resource implements the typed capacity accounting described in
// spec §4.2 (C2). It tracks capacity/allocated/reserved per resource type
// and performs atomic multi-type reservation the way the reference
// control-plane's scheduler performs atomic admission checks across
// several independent limiters before committing a task to a slot.
package resource

import (
	"fmt"
	"sync"
)

// Counters holds the {capacity, allocated, reserved} triple for one
// resource type (spec §3 "ResourcePool").
type Counters struct {
	Capacity  int
	Allocated int
	Reserved  int
}

// Available returns the units not yet allocated or reserved.
func (c Counters) Available() int {
	return c.Capacity - c.Allocated - c.Reserved
}

// Pool is the thread-safe, single-writer-discipline resource accountant.
// All state mutation is protected by mu; reads used for scheduling
// decisions (e.g. WorkerSaturation-style ratios) take the same lock.
type Pool struct {
	mu      sync.Mutex
	types   map[string]*Counters
	holders map[string]map[string]int // taskID -> resourceType -> units held (reserved+allocated)
}

// NewPool builds a pool with the given per-type capacities.
func NewPool(capacities map[string]int) *Pool {
	types := make(map[string]*Counters, len(capacities))
	for k, v := range capacities {
		types[k] = &Counters{Capacity: v}
	}
	return &Pool{
		types:   types,
		holders: make(map[string]map[string]int),
	}
}

// Snapshot returns a copy of the current per-type counters, used by
// persistence (C8) and metrics (C9).
func (p *Pool) Snapshot() map[string]Counters {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]Counters, len(p.types))
	for k, v := range p.types {
		out[k] = *v
	}
	return out
}

// Utilization returns (allocated+reserved)/capacity per type, used by the
// HYBRID_ADAPTIVE algorithm's resourceUtilization signal (§4.4).
func (p *Pool) Utilization() map[string]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]float64, len(p.types))
	for k, v := range p.types {
		if v.Capacity == 0 {
			out[k] = 0
			continue
		}
		out[k] = float64(v.Allocated+v.Reserved) / float64(v.Capacity)
	}
	return out
}

// AverageUtilization is the mean utilization across all declared types.
func (p *Pool) AverageUtilization() float64 {
	u := p.Utilization()
	if len(u) == 0 {
		return 0
	}
	var sum float64
	for _, v := range u {
		sum += v
	}
	return sum / float64(len(u))
}

// Reserve atomically reserves units across every declared resource type
// for taskID. On any shortage, no change is made (spec §4.2 "atomic
// across all declared types").
func (p *Pool) Reserve(taskID string, want map[string]int) (ok bool, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for rtype, units := range want {
		c, known := p.types[rtype]
		if !known {
			return false, fmt.Sprintf("unknown resource type %q", rtype)
		}
		if c.Available() < units {
			return false, fmt.Sprintf("insufficient %s: need %d, have %d", rtype, units, c.Available())
		}
	}

	holder, ok := p.holders[taskID]
	if !ok {
		holder = make(map[string]int)
		p.holders[taskID] = holder
	}
	for rtype, units := range want {
		p.types[rtype].Reserved += units
		holder[rtype] += units
	}
	return true, ""
}

// Commit moves a task's reserved units into allocated, called when the
// worker actually starts running (after the task has reached RUNNING,
// §4.5 step 5).
func (p *Pool) Commit(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for rtype, units := range p.holders[taskID] {
		c := p.types[rtype]
		c.Reserved -= units
		c.Allocated += units
	}
}

// Release returns all units held by taskID (reserved or allocated) back
// to the pool. Called on COMPLETED, terminal FAILED, or CANCELLED.
func (p *Pool) Release(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for rtype, units := range p.holders[taskID] {
		c, known := p.types[rtype]
		if !known {
			continue
		}
		// A task may hold a mix of reserved-only (never committed) and
		// allocated units; drain reserved first since Commit always
		// moves the full reservation, any remainder here is reserved.
		if c.Reserved >= units {
			c.Reserved -= units
		} else {
			remaining := units - c.Reserved
			c.Reserved = 0
			if c.Allocated >= remaining {
				c.Allocated -= remaining
			} else {
				c.Allocated = 0
			}
		}
	}
	delete(p.holders, taskID)
}

// Reset clears allocated/reserved counters back to zero while keeping
// capacities, used during crash recovery (§4.8: "resource pool is reset
// to {allocated=0, reserved=0}").
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.types {
		c.Allocated = 0
		c.Reserved = 0
	}
	p.holders = make(map[string]map[string]int)
}

// HasReservation reports whether taskID currently holds a reservation
// from Reserve (possibly of zero units, for a task that declares no
// resources), used by the lifecycle manager's RESOURCE_ALLOCATED
// hook to defensively confirm the dispatch cycle's earlier Reserve call
// is still in effect before the task is allowed to proceed toward
// RUNNING.
func (p *Pool) HasReservation(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.holders[taskID]
	return ok
}

// EnsureType registers a resource type with the given capacity if it does
// not already exist; a no-op otherwise. Used when a task declares a
// resource type not present at pool construction time.
func (p *Pool) EnsureType(rtype string, defaultCapacity int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.types[rtype]; !ok {
		p.types[rtype] = &Counters{Capacity: defaultCapacity}
	}
}
