// Package lifecycle centralizes the task state machine (spec §4.7, C7):
// validated transitions, before/after hooks with priority ordering, and
// bounded per-task transition history. It is adapted from the reference
// control-plane's timeline.Store (control_plane/timeline/store.go), which
// recorded an append-only, unbounded event log keyed by request ID; this
// version adds transition validation against task.CanTransition and caps
// history per task (spec: "bounded per task, default last 100").
package lifecycle

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kaelforge/taskengine/events"
	"github.com/kaelforge/taskengine/task"
)

// Trigger classifies what caused a transition (spec §4.7).
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerAutomatic Trigger = "automatic"
	TriggerSystem    Trigger = "system"
	TriggerError     Trigger = "error"
	TriggerTimeout   Trigger = "timeout"
)

// Transition is one lifecycle event (spec §4.7).
type Transition struct {
	TaskID   task.ID
	From     task.Status
	To       task.Status
	At       time.Time
	Trigger  Trigger
	Metadata map[string]string
}

// Hook runs before or after a task enters a target state. Returning an
// error from a "before" hook blocks the transition (used by the built-in
// pre/post-condition hooks, spec §4.7).
type Hook func(t *task.Task, transition Transition) error

type hookReg struct {
	priority int
	hook     Hook
}

// ErrTransitionNotAllowed is returned when a requested transition is not
// present in the lifecycle graph (spec §3 I5).
type ErrTransitionNotAllowed struct {
	From, To task.Status
}

func (e *ErrTransitionNotAllowed) Error() string {
	return fmt.Sprintf("lifecycle: %s -> %s is not a permitted transition", e.From, e.To)
}

// Manager owns the hook registry and per-task bounded history.
type Manager struct {
	mu           sync.Mutex
	before       map[task.Status][]hookReg
	after        map[task.Status][]hookReg
	history      map[task.ID][]Transition
	historyLimit int
	bus          *events.Bus

	// aggregate metrics, read by package metrics
	transitionCounts map[[2]task.Status]int64
	retryCount       int64
	rollbackCount    int64
}

// NewManager builds a lifecycle manager publishing to bus, with the given
// per-task history retention (spec default: 100).
func NewManager(bus *events.Bus, historyLimit int) *Manager {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &Manager{
		before:           make(map[task.Status][]hookReg),
		after:            make(map[task.Status][]hookReg),
		history:          make(map[task.ID][]Transition),
		historyLimit:     historyLimit,
		bus:              bus,
		transitionCounts: make(map[[2]task.Status]int64),
	}
}

// Before registers a hook invoked prior to a task entering target, in
// ascending priority order.
func (m *Manager) Before(target task.Status, priority int, hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.before[target] = append(m.before[target], hookReg{priority, hook})
	sort.SliceStable(m.before[target], func(i, j int) bool { return m.before[target][i].priority < m.before[target][j].priority })
}

// After registers a hook invoked after a task enters target.
func (m *Manager) After(target task.Status, priority int, hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.after[target] = append(m.after[target], hookReg{priority, hook})
	sort.SliceStable(m.after[target], func(i, j int) bool { return m.after[target][i].priority < m.after[target][j].priority })
}

// Transition moves t from its current status to `to`, validating the edge
// against task.CanTransition, running before hooks (any of which may
// veto), applying the change, running after hooks, recording
// bounded history, and publishing exactly one stateTransition event (spec
// I8: "every state transition produces exactly one lifecycle event, in
// order, per task").
func (m *Manager) Transition(t *task.Task, to task.Status, trigger Trigger, metadata map[string]string) error {
	from := t.Status
	if !task.CanTransition(from, to) {
		return &ErrTransitionNotAllowed{From: from, To: to}
	}

	tr := Transition{TaskID: t.ID, From: from, To: to, At: time.Now(), Trigger: trigger, Metadata: metadata}

	m.mu.Lock()
	beforeHooks := append([]hookReg(nil), m.before[to]...)
	m.mu.Unlock()
	for _, h := range beforeHooks {
		if err := h.hook(t, tr); err != nil {
			return err
		}
	}

	t.Status = to

	m.mu.Lock()
	afterHooks := append([]hookReg(nil), m.after[to]...)
	m.mu.Unlock()
	for _, h := range afterHooks {
		// After-hooks are best-effort observers; a failure here does not
		// roll back an already-committed transition.
		_ = h.hook(t, tr)
	}

	m.mu.Lock()
	hist := append(m.history[t.ID], tr)
	if len(hist) > m.historyLimit {
		hist = hist[len(hist)-m.historyLimit:]
	}
	m.history[t.ID] = hist

	m.transitionCounts[[2]task.Status{from, to}]++
	if to == task.StatusRetrying {
		m.retryCount++
	}
	if to == task.StatusRollingBack {
		m.rollbackCount++
	}
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(events.Event{
			Kind:    events.KindStateTransition,
			TaskID:  t.ID,
			Payload: tr,
		})
	}
	return nil
}

// History returns a copy of the bounded transition history for a task.
func (m *Manager) History(id task.ID) []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transition(nil), m.history[id]...)
}

// TransitionCounts returns a copy of the aggregate transition-count
// matrix (spec §4.7 "transition-count matrix").
func (m *Manager) TransitionCounts() map[[2]task.Status]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[[2]task.Status]int64, len(m.transitionCounts))
	for k, v := range m.transitionCounts {
		out[k] = v
	}
	return out
}

// RetryAndRollbackCounts returns aggregate retry/rollback counters.
func (m *Manager) RetryAndRollbackCounts() (retries, rollbacks int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retryCount, m.rollbackCount
}
