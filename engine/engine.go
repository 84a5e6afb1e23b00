// Package engine ties together the task table, dependency graph,
// resource pool, scheduler, lifecycle manager, persistence, metrics, and
// breakdown orchestrator into the single-coordinator engine described
// across spec §4. It plays the role the reference control-plane's root
// package plays for its own subpackages (control_plane/main.go wiring
// scheduler/store/timeline/observability together) — here scoped to an
// in-process API instead of an HTTP server, and owning the task table
// exclusively once a task is accepted (spec §3: "the engine exclusively
// owns every Task once accepted").
package engine

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/kaelforge/taskengine/breakdown"
	"github.com/kaelforge/taskengine/config"
	"github.com/kaelforge/taskengine/events"
	"github.com/kaelforge/taskengine/graph"
	"github.com/kaelforge/taskengine/internal/ratelimit"
	"github.com/kaelforge/taskengine/lifecycle"
	"github.com/kaelforge/taskengine/metrics"
	"github.com/kaelforge/taskengine/persistence"
	"github.com/kaelforge/taskengine/predictor"
	"github.com/kaelforge/taskengine/resource"
	"github.com/kaelforge/taskengine/scheduler"
	"github.com/kaelforge/taskengine/task"
)

// Engine is the public, single-coordinator facade (spec C10). All
// exported methods are safe to call concurrently; the bulk of them take
// mu only long enough to read or mutate the task table, never across
// Execute or disk I/O (spec §5 "locking discipline").
type Engine struct {
	mu sync.Mutex

	cfg       config.EngineConfig
	algorithm scheduler.Algorithm // overridable independent of cfg via SetAlgorithm

	tasks map[task.ID]*task.Task
	graph *graph.Graph
	pool  *resource.Pool

	selector   *scheduler.Selector
	lifecycle  *lifecycle.Manager
	bus        *events.Bus
	store      persistence.Store
	collector  *metrics.Collector
	detector   *metrics.BottleneckDetector
	reg        *metrics.Registry
	predictor  predictor.Plugin
	evaluator  task.ConditionEvaluator
	idem       *idempotencyCache

	categoryFailures map[task.Category]int
	dispatchLimiter  *ratelimit.KeyedLimiter
	running          map[task.ID]context.CancelFunc

	nextAnonID uint64

	shutdownCh chan struct{}
	wg         sync.WaitGroup
	shutdown   bool
}

// Option configures optional collaborators at construction time.
type Option func(*Engine)

// WithStore overrides the default JSON file persistence backend.
func WithStore(store persistence.Store) Option {
	return func(e *Engine) { e.store = store }
}

// WithPrometheusRegisterer wires a metrics.Registry against reg.
func WithPrometheusRegisterer(reg *metrics.Registry) Option {
	return func(e *Engine) { e.reg = reg }
}

// WithPredictor swaps the no-op predictor for a learned implementation.
// The engine stores the plugin but no dispatch, estimation or ranking
// path calls its methods, so it has no effect on scheduling.
func WithPredictor(p predictor.Plugin) Option {
	return func(e *Engine) { e.predictor = p }
}

// WithConditionEvaluator overrides the default always-true evaluator.
func WithConditionEvaluator(ev task.ConditionEvaluator) Option {
	return func(e *Engine) { e.evaluator = ev }
}

// New constructs an Engine from cfg, wiring built-in lifecycle hooks and
// starting the dispatch and persistence loops. Call Shutdown to stop them.
func New(cfg config.EngineConfig, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:              cfg,
		algorithm:        cfg.Algorithm,
		tasks:            make(map[task.ID]*task.Task),
		graph:            graph.New(),
		pool:             resource.NewPool(cfg.ResourcePools),
		bus:              events.NewBus(),
		evaluator:        task.NoopEvaluator,
		predictor:        predictor.Noop{},
		idem:             newIdempotencyCache(),
		categoryFailures: make(map[task.Category]int),
		dispatchLimiter:  ratelimit.New(50, 100),
		running:          make(map[task.ID]context.CancelFunc),
		shutdownCh:       make(chan struct{}),
	}
	e.lifecycle = lifecycle.NewManager(e.bus, 100)
	e.collector = metrics.NewCollector(nil)

	for _, opt := range opts {
		opt(e)
	}

	if e.reg != nil {
		e.collector = metrics.NewCollector(e.reg)
	}
	e.detector = metrics.NewBottleneckDetector(e.collector)

	e.selector = scheduler.NewSelector(scheduler.Config{
		Algorithm:         e.algorithm,
		MaxStarvationTime: cfg.MaxStarvationTime,
		BatchCap:          cfg.BatchCap,
	})

	if e.store == nil {
		fs, err := persistence.NewFileStore(cfg.PersistenceDir)
		if err != nil {
			return nil, fmt.Errorf("engine: init default store: %w", err)
		}
		e.store = fs
	}

	e.registerBuiltinHooks()

	if err := e.recover(); err != nil {
		log.Printf("[ENGINE] recovery failed, starting empty: %v", err)
		e.bus.Publish(events.Event{Kind: events.KindHealth, Payload: "recovery_error: " + err.Error()})
	}

	e.wg.Add(2)
	go e.dispatchLoop()
	go e.persistenceLoop()

	return e, nil
}

// Submit registers a new task per spec §4.10/§6. Only InvalidSpec,
// DuplicateID, and CyclicDependency (plus ErrShuttingDown once Shutdown
// has begun) are returned to the caller; every other failure surfaces
// later via terminal state and events.
func (e *Engine) Submit(spec TaskSpec) (task.ID, error) {
	if err := spec.validate(); err != nil {
		return "", err
	}

	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return "", ErrShuttingDown
	}

	if spec.ID != "" {
		if id, ok := e.idem.lookup(spec); ok {
			existing, stillPresent := e.tasks[id]
			if !stillPresent || existing.Status.Terminal() {
				e.mu.Unlock()
				return id, nil
			}
			// The cached fingerprint's task is still live: this is not a
			// safe-to-replay retry, it's a genuine ID collision (spec §4.10
			// "must be CANCELLED or terminal to allow re-use, else
			// DuplicateID" has no identical-content carve-out).
			e.mu.Unlock()
			return "", ErrDuplicateID
		}
	}

	id := spec.ID
	if id == "" {
		id = e.newAnonIDLocked()
	} else if existing, ok := e.tasks[id]; ok && !existing.Status.Terminal() {
		e.mu.Unlock()
		return "", ErrDuplicateID
	}

	t, err := e.buildTaskLocked(spec, id, nil)
	if err != nil {
		e.mu.Unlock()
		return "", err
	}

	e.tasks[t.ID] = t
	_ = e.lifecycle.Transition(t, task.StatusValidated, lifecycle.TriggerAutomatic, nil)
	_ = e.lifecycle.Transition(t, task.StatusQueued, lifecycle.TriggerAutomatic, nil)
	e.mu.Unlock()

	e.collector.ObserveSubmitted()
	e.bus.Publish(events.Event{Kind: events.KindTaskSubmitted, TaskID: id, Payload: t.Snapshot()})

	if spec.ID != "" {
		e.idem.record(spec, id)
	}
	return id, nil
}

// SubmitBatch registers every spec as a single dependency unit: a
// declared dependency may name a sibling spec in the same batch even
// though that sibling has no task yet, satisfying the batch exception in
// spec §4.1 ("unless the referenced task is submitted in the same
// batch"). Every spec is validated and existence-checked before any is
// inserted; on any failure nothing in the batch is inserted and the
// first InvalidSpec/DuplicateID/CyclicDependency error is returned.
func (e *Engine) SubmitBatch(specs []TaskSpec) ([]task.ID, error) {
	for _, spec := range specs {
		if err := spec.validate(); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return nil, ErrShuttingDown
	}

	ids := make([]task.ID, len(specs))
	batchIDs := make(map[task.ID]struct{}, len(specs))
	for i, spec := range specs {
		id := spec.ID
		if id == "" {
			id = e.newAnonIDLocked()
			specs[i].ID = id
		} else if existing, ok := e.tasks[id]; ok && !existing.Status.Terminal() {
			e.mu.Unlock()
			return nil, ErrDuplicateID
		}
		ids[i] = id
		batchIDs[id] = struct{}{}
	}

	inserted := make([]*task.Task, 0, len(specs))
	for _, spec := range specs {
		t, err := e.buildTaskLocked(spec, spec.ID, batchIDs)
		if err != nil {
			for _, it := range inserted {
				e.graph.RemoveNode(it.ID)
				delete(e.tasks, it.ID)
			}
			e.mu.Unlock()
			return nil, err
		}
		e.tasks[t.ID] = t
		inserted = append(inserted, t)
	}

	// buildTaskLocked can only backfill Dependents on an upstream task
	// that already exists in e.tasks; within a batch an upstream sibling
	// may be inserted after its dependent, so reconcile every edge
	// against the graph once the whole batch is present.
	for _, t := range inserted {
		for _, edge := range e.graph.AllDependencies(t.ID) {
			if up, ok := e.tasks[edge.From]; ok {
				up.Dependents[t.ID] = struct{}{}
			}
		}
	}

	for _, t := range inserted {
		_ = e.lifecycle.Transition(t, task.StatusValidated, lifecycle.TriggerAutomatic, nil)
		_ = e.lifecycle.Transition(t, task.StatusQueued, lifecycle.TriggerAutomatic, nil)
	}
	e.mu.Unlock()

	for _, t := range inserted {
		e.collector.ObserveSubmitted()
		e.bus.Publish(events.Event{Kind: events.KindTaskSubmitted, TaskID: t.ID, Payload: t.Snapshot()})
	}
	return ids, nil
}

// buildTaskLocked constructs a Task from spec and wires its dependency
// edges into the graph. extraKnownIDs names sibling IDs that should be
// treated as already-known even though they have no entry in e.tasks yet
// (the batch-submission exception); pass nil outside SubmitBatch. Must be
// called with mu held; unwinds its own graph mutation on error.
func (e *Engine) buildTaskLocked(spec TaskSpec, id task.ID, extraKnownIDs map[task.ID]struct{}) (*task.Task, error) {
	now := time.Now()
	t := &task.Task{
		ID:                  id,
		Title:               spec.Title,
		Description:         spec.Description,
		Category:            orDefaultCategory(spec.Category),
		Tags:                toTagSet(spec.Tags),
		Priority:            orDefaultPriority(spec.Priority),
		Complexity:          orDefaultComplexity(spec.Complexity),
		BasePriority:        orDefaultPriority(spec.Priority),
		Factors:             task.DefaultPriorityFactors(),
		CreatedAt:           now,
		Deadline:            spec.Deadline,
		EstimatedDurationMs: spec.EstimatedDurationMs,
		MaxExecutionTimeMs:  orDefaultTimeout(spec.MaxExecutionTimeMs, e.cfg.DefaultTimeoutMs),
		MaxRetries:          orDefaultRetries(spec.MaxRetries, e.cfg.MaxRetries),
		Dependencies:        make(map[task.ID]struct{}),
		Dependents:          make(map[task.ID]struct{}),
		RequiredResources:   toResourceSet(spec.RequiredResources),
		ResourceConstraints: spec.ResourceConstraints,
		PreConditions:       spec.PreConditions,
		PostConditions:      spec.PostConditions,
		Execute:             spec.Execute,
		Validate:            spec.Validate,
		Rollback:            spec.Rollback,
		BatchCompatible:     spec.BatchCompatible,
		BatchGroup:          spec.BatchGroup,
		Status:              task.StatusCreated,
	}

	e.graph.AddNode(id)

	deps := append([]Dependency(nil), spec.DependsOn...)
	for _, d := range spec.Dependencies {
		deps = append(deps, Dependency{On: d, Type: task.EdgeBlocks})
	}
	for _, d := range deps {
		if _, known := e.tasks[d.On]; !known && d.On != id {
			if _, inBatch := extraKnownIDs[d.On]; !inBatch {
				e.graph.RemoveNode(id)
				return nil, errf("dependency references unknown task " + string(d.On))
			}
		}
		if err := e.graph.AddDependency(d.On, id, d.Type); err != nil {
			e.graph.RemoveNode(id)
			return nil, ErrCyclicDependency
		}
		if d.Type.Gates() {
			t.Dependencies[d.On] = struct{}{}
		}
		if up, ok := e.tasks[d.On]; ok {
			up.Dependents[id] = struct{}{}
		}
	}

	return e.maybeBreakdownLocked(t), nil
}

func (e *Engine) newAnonIDLocked() task.ID {
	e.nextAnonID++
	return task.ID(fmt.Sprintf("task-%d-%d", time.Now().UnixNano(), e.nextAnonID))
}

// Get returns a read-only snapshot of a task.
func (e *Engine) Get(id task.ID) (*task.View, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[id]
	if !ok {
		return nil, ErrUnknownTask
	}
	return t.Snapshot(), nil
}

// List returns snapshots of every task, optionally filtered by status.
func (e *Engine) List(statuses ...task.Status) []*task.View {
	e.mu.Lock()
	defer e.mu.Unlock()
	want := make(map[task.Status]struct{}, len(statuses))
	for _, s := range statuses {
		want[s] = struct{}{}
	}
	out := make([]*task.View, 0, len(e.tasks))
	for _, t := range e.tasks {
		if len(want) > 0 {
			if _, ok := want[t.Status]; !ok {
				continue
			}
		}
		out = append(out, t.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Cancel signals cancellation for a task, awaiting acknowledgement up to
// cfg.CancelGracePeriod before forcing CANCELLED regardless (spec §5).
func (e *Engine) Cancel(id task.ID) error {
	e.mu.Lock()
	t, ok := e.tasks[id]
	if !ok {
		e.mu.Unlock()
		return ErrUnknownTask
	}
	if t.Status.Terminal() {
		e.mu.Unlock()
		return ErrNotCancellable
	}
	cancel, running := e.running[id]
	e.mu.Unlock()

	if running {
		cancel()
		deadline := time.Now().Add(e.cfg.CancelGracePeriod)
		for time.Now().Before(deadline) {
			e.mu.Lock()
			_, stillRunning := e.running[id]
			e.mu.Unlock()
			if !stillRunning {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok = e.tasks[id]
	if !ok || t.Status.Terminal() {
		return nil
	}
	e.forceTransition(t, task.StatusCancelled, lifecycle.TriggerManual)
	e.pool.Release(string(id))
	delete(e.running, id)
	return nil
}

// Pause transitions a RUNNING task to PAUSED.
func (e *Engine) Pause(id task.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[id]
	if !ok {
		return ErrUnknownTask
	}
	if t.Status != task.StatusRunning {
		return ErrNotPausable
	}
	return e.lifecycle.Transition(t, task.StatusPaused, lifecycle.TriggerManual, nil)
}

// Resume transitions a PAUSED task back toward RUNNING.
func (e *Engine) Resume(id task.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[id]
	if !ok {
		return ErrUnknownTask
	}
	if t.Status != task.StatusPaused {
		return ErrNotResumable
	}
	if err := e.lifecycle.Transition(t, task.StatusResuming, lifecycle.TriggerManual, nil); err != nil {
		return err
	}
	return e.lifecycle.Transition(t, task.StatusRunning, lifecycle.TriggerManual, nil)
}

// Retry re-queues a terminal FAILED task, resetting it for another
// dispatch attempt without incrementing CurrentRetries (a manual retry is
// distinct from the automatic backoff path in the dispatch loop).
func (e *Engine) Retry(id task.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[id]
	if !ok {
		return ErrUnknownTask
	}
	if t.Status != task.StatusFailed {
		return ErrNotRetryable
	}
	if err := e.lifecycle.Transition(t, task.StatusRetrying, lifecycle.TriggerManual, nil); err != nil {
		return err
	}
	return e.lifecycle.Transition(t, task.StatusQueued, lifecycle.TriggerManual, nil)
}

// SetAlgorithm swaps the active scheduling algorithm, taking effect on
// the next dispatch tick.
func (e *Engine) SetAlgorithm(algo scheduler.Algorithm) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.algorithm = algo
	e.selector = scheduler.NewSelector(scheduler.Config{
		Algorithm:         algo,
		MaxStarvationTime: e.cfg.MaxStarvationTime,
		BatchCap:          e.cfg.BatchCap,
	})
}

// Subscribe registers handler for the given event kind.
func (e *Engine) Subscribe(kind events.Kind, handler events.Handler) *events.Subscription {
	return e.bus.Subscribe(kind, handler)
}

// Metrics returns the current health/metrics snapshot (spec §4.9).
func (e *Engine) Metrics() metrics.Snapshot {
	return e.collector.Snapshot(e.pool.Utilization())
}

// Health returns just the rollup status.
func (e *Engine) Health() metrics.HealthStatus {
	return e.Metrics().Status
}

// Shutdown cancels all running tasks in parallel, persists final state,
// and returns within timeout (spec §5, §4.10).
func (e *Engine) Shutdown(timeout time.Duration) error {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return nil
	}
	e.shutdown = true
	var ids []task.ID
	for id := range e.running {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id task.ID) {
			defer wg.Done()
			_ = e.Cancel(id)
		}(id)
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(timeout):
		log.Printf("[ENGINE] shutdown timed out waiting for running task cancellation")
	}

	close(e.shutdownCh)
	e.wg.Wait()

	if err := e.persistSnapshot(); err != nil {
		log.Printf("[ENGINE] final snapshot write failed: %v", err)
		return err
	}
	return nil
}

// forceTransition applies a transition ignoring ErrTransitionNotAllowed
// for already-consistent states (used on the forced-cancel and recovery
// paths where the exact prior state may vary).
func (e *Engine) forceTransition(t *task.Task, to task.Status, trigger lifecycle.Trigger) {
	if t.Status == to {
		return
	}
	if err := e.lifecycle.Transition(t, to, trigger, nil); err != nil {
		log.Printf("[ENGINE] forced transition %s -> %s rejected (%v), setting directly", t.Status, to, err)
		t.Status = to
	}
}

func orDefaultCategory(c task.Category) task.Category {
	if c == "" {
		return task.CategoryFeature
	}
	return c
}

func orDefaultPriority(p task.Priority) task.Priority {
	if p == 0 {
		return task.PriorityMedium
	}
	return p
}

func orDefaultComplexity(c task.Complexity) task.Complexity {
	if c == "" {
		return task.ComplexityModerate
	}
	return c
}

func orDefaultTimeout(v, def int64) int64 {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultRetries(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func toTagSet(tags []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		out[t] = struct{}{}
	}
	return out
}

func toResourceSet(resources []string) map[string]struct{} {
	out := make(map[string]struct{}, len(resources))
	for _, r := range resources {
		out[r] = struct{}{}
	}
	return out
}

// jitter avoids every retry/dispatch timer firing in lockstep, mirroring
// the kind of small random spread the reference's backoff helpers apply.
func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	return base + time.Duration(rand.Int63n(int64(base)/10+1))
}
