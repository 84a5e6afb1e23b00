package metrics

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/kaelforge/taskengine/task"
)

// windowCap bounds the execution-time sliding window (spec §4.9: "rolling
// window of the most recent N=1000 completions").
const windowCap = 1000

// HealthStatus is the coarse health rollup (spec §4.9).
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthCritical  HealthStatus = "critical"
)

// Snapshot is the point-in-time rollup returned by Health/Stats calls.
type Snapshot struct {
	TotalSubmitted   int64
	TotalCompleted   int64
	TotalFailed      int64
	TotalCancelled   int64
	TotalRetries     int64
	TotalStarvations int64

	AvgExecutionMs    float64
	MedianExecutionMs float64
	P95ExecutionMs    float64

	SuccessRate         float64
	CategorySuccessRate map[task.Category]float64

	AlgorithmConfidenceAvg map[string]float64

	PoolUtilization map[string]float64
	QueueGrowthRate float64

	Status HealthStatus
}

// Finding is a bottleneck-detector observation (spec §4.9).
type Finding struct {
	Kind          string
	Severity      string
	ImpactedTasks []task.ID
	DetectedAt    time.Time
	Detail        string
}

// Bottleneck finding kinds — spec §4.9's enumerated vocabulary. Every
// Finding the detector emits must carry one of these, not an ad hoc
// string, so a consumer built against the spec's enum can switch on it.
const (
	KindResourceLimit   = "resource_limit"
	KindTaskComplexity  = "task_complexity"
	KindDependencyChain = "dependency_chain"
	KindSystemLoad      = "system_load"
)

// dependencyChainBacklogThreshold is the queued-task count per category
// past which a backlog is attributed to unmet dependencies rather than
// ordinary queueing (spec §4.9 "dependency_chain").
const dependencyChainBacklogThreshold = 5

// categoryCounter tracks pass/fail totals for one category's success rate.
type categoryCounter struct {
	completed int64
	failed    int64
}

// Collector is the in-process aggregator behind both the Prometheus
// exporter and the health rollup. It is adapted from the reference
// control-plane's runMetricsCollector goroutine (which polled
// DBPendingStates/IntegritySkew on a ticker and logged the result);
// here the same "poll a snapshot of mutable counters on a ticker" shape
// is kept, but Tick returns structured Findings instead of log lines,
// and the counters themselves are plain fields guarded by a mutex rather
// than computed by re-querying a database each tick.
type Collector struct {
	mu sync.Mutex

	reg *Registry

	totalSubmitted int64
	totalRetries   int64
	totalStarved   int64

	execWindow []int64 // milliseconds, most recent windowCap

	categories map[task.Category]*categoryCounter

	algoConfidence map[string][]float64 // bounded per-algorithm confidence samples

	lastQueueDepth int
	queueGrowth    float64

	history []int // queue depth samples for bottleneck trend detection
}

// NewCollector builds a Collector that also updates reg, if non-nil, on
// every observation.
func NewCollector(reg *Registry) *Collector {
	return &Collector{
		reg:            reg,
		categories:     make(map[task.Category]*categoryCounter),
		algoConfidence: make(map[string][]float64),
	}
}

// ObserveSubmitted records a new submission.
func (c *Collector) ObserveSubmitted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalSubmitted++
}

// ObserveCompletion records a terminal outcome and its execution duration.
func (c *Collector) ObserveCompletion(cat task.Category, success bool, durationMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cc, ok := c.categories[cat]
	if !ok {
		cc = &categoryCounter{}
		c.categories[cat] = cc
	}
	if success {
		cc.completed++
		if c.reg != nil {
			c.reg.TaskSuccesses.Inc()
		}
	} else {
		cc.failed++
		if c.reg != nil {
			c.reg.TaskFailures.Inc()
		}
	}

	c.execWindow = append(c.execWindow, durationMs)
	if len(c.execWindow) > windowCap {
		c.execWindow = c.execWindow[len(c.execWindow)-windowCap:]
	}
	if c.reg != nil {
		c.reg.TaskRuntimeSeconds.Observe(float64(durationMs) / 1000.0)
	}
}

// ObserveRetry records a retry being scheduled.
func (c *Collector) ObserveRetry() {
	c.mu.Lock()
	c.totalRetries++
	c.mu.Unlock()
	if c.reg != nil {
		c.reg.TaskRetries.Inc()
	}
}

// ObserveStarvationBoost records a starvation boost being applied.
func (c *Collector) ObserveStarvationBoost() {
	c.mu.Lock()
	c.totalStarved++
	c.mu.Unlock()
	if c.reg != nil {
		c.reg.StarvationBoosts.Inc()
	}
}

// ObserveSchedulingDecision records the confidence of one scheduling
// decision under its algorithm, for the per-algorithm confidence average.
func (c *Collector) ObserveSchedulingDecision(algorithm string, confidence float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	samples := append(c.algoConfidence[algorithm], confidence)
	if len(samples) > windowCap {
		samples = samples[len(samples)-windowCap:]
	}
	c.algoConfidence[algorithm] = samples
	if c.reg != nil {
		c.reg.SchedulingDecisions.WithLabelValues(algorithm, "selected").Inc()
	}
}

// ObserveQueueDepth feeds the queue-growth-rate trend and the bottleneck
// detector's history window. Called once per dispatch tick.
func (c *Collector) ObserveQueueDepth(depth int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastQueueDepth != 0 || len(c.history) > 0 {
		c.queueGrowth = float64(depth-c.lastQueueDepth) / float64(max1(c.lastQueueDepth))
	}
	c.lastQueueDepth = depth
	c.history = append(c.history, depth)
	if len(c.history) > windowCap {
		c.history = c.history[len(c.history)-windowCap:]
	}
}

// ObservePoolUtilization publishes the current per-type utilization ratio
// to Prometheus. The authoritative values live in package resource; this
// is a one-way mirror.
func (c *Collector) ObservePoolUtilization(util map[string]float64) {
	if c.reg == nil {
		return
	}
	for rtype, u := range util {
		c.reg.PoolUtilization.WithLabelValues(rtype).Set(u)
	}
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func percentile(sorted []int64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return float64(sorted[idx])
}

// Snapshot computes the current health rollup from accumulated counters.
func (c *Collector) Snapshot(poolUtilization map[string]float64) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := Snapshot{
		TotalSubmitted:      c.totalSubmitted,
		TotalRetries:        c.totalRetries,
		TotalStarvations:    c.totalStarved,
		CategorySuccessRate: make(map[task.Category]float64),
		AlgorithmConfidenceAvg: make(map[string]float64),
		PoolUtilization:     poolUtilization,
		QueueGrowthRate:     c.queueGrowth,
	}

	var totalCompleted, totalFailed int64
	for cat, cc := range c.categories {
		totalCompleted += cc.completed
		totalFailed += cc.failed
		total := cc.completed + cc.failed
		if total > 0 {
			out.CategorySuccessRate[cat] = float64(cc.completed) / float64(total)
		}
	}
	out.TotalCompleted = totalCompleted
	out.TotalFailed = totalFailed
	if totalCompleted+totalFailed > 0 {
		out.SuccessRate = float64(totalCompleted) / float64(totalCompleted+totalFailed)
	}

	if len(c.execWindow) > 0 {
		sorted := append([]int64(nil), c.execWindow...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		var sum int64
		for _, v := range sorted {
			sum += v
		}
		out.AvgExecutionMs = float64(sum) / float64(len(sorted))
		out.MedianExecutionMs = percentile(sorted, 0.5)
		out.P95ExecutionMs = percentile(sorted, 0.95)
	}

	for algo, samples := range c.algoConfidence {
		var sum float64
		for _, s := range samples {
			sum += s
		}
		out.AlgorithmConfidenceAvg[algo] = sum / float64(len(samples))
	}

	out.Status = rollupHealth(out)
	return out
}

// rollupHealth implements spec §4.9's health thresholds: healthy above 95%
// success and low queue growth; degraded below that; unhealthy when
// success rate drops under 80% or queue growth exceeds 50%; critical when
// success rate is under 50%.
func rollupHealth(s Snapshot) HealthStatus {
	switch {
	case s.TotalCompleted+s.TotalFailed == 0:
		return HealthHealthy
	case s.SuccessRate < 0.5:
		return HealthCritical
	case s.SuccessRate < 0.8 || s.QueueGrowthRate > 0.5:
		return HealthUnhealthy
	case s.SuccessRate < 0.95:
		return HealthDegraded
	default:
		return HealthHealthy
	}
}

// BottleneckDetector periodically inspects the Collector's accumulated
// state for resource saturation, category failure clustering, and queue
// growth trends, producing Findings. It is adapted from the reference
// control-plane's reconciler tick loop (reconciler.go), which ran on a
// fixed interval and compared drift against a threshold to decide whether
// to act; the same "sample on an interval, compare against thresholds,
// emit a structured result" shape is used here instead of a raw log line.
// The detector does not schedule itself: engine.New constructs one but
// never calls Tick, so the engine publishes no bottleneck events.
type BottleneckDetector struct {
	collector *Collector
}

// NewBottleneckDetector builds a detector reading from collector.
func NewBottleneckDetector(collector *Collector) *BottleneckDetector {
	return &BottleneckDetector{collector: collector}
}

// Tick inspects the current snapshot and resource utilization, returning
// zero or more Findings. The caller chooses the cadence; nothing in this
// module calls it.
func (d *BottleneckDetector) Tick(poolUtilization map[string]float64, queuedTaskIDsByCategory map[task.Category][]task.ID, now time.Time) []Finding {
	snap := d.collector.Snapshot(poolUtilization)
	var findings []Finding

	for rtype, u := range poolUtilization {
		if u >= 0.95 {
			findings = append(findings, Finding{
				Kind:       KindResourceLimit,
				Severity:   "high",
				DetectedAt: now,
				Detail:     rtype + " pool at " + pctString(u) + " utilization",
			})
		}
	}

	// A category whose tasks fail more than half the time is read as
	// under-modeled complexity rather than bad luck — the same kind the
	// execution-time-tail check below flags from a different angle.
	for cat, rate := range snap.CategorySuccessRate {
		if rate < 0.5 {
			findings = append(findings, Finding{
				Kind:          KindTaskComplexity,
				Severity:      "medium",
				ImpactedTasks: queuedTaskIDsByCategory[cat],
				DetectedAt:    now,
				Detail:        string(cat) + " success rate " + pctString(rate) + ", tasks likely underestimated in complexity",
			})
		}
	}

	if snap.QueueGrowthRate > 0.5 {
		findings = append(findings, Finding{
			Kind:       KindSystemLoad,
			Severity:   "medium",
			DetectedAt: now,
			Detail:     "queue depth growing faster than dispatch rate",
		})
	}

	if snap.P95ExecutionMs > 0 && snap.AvgExecutionMs > 0 && snap.P95ExecutionMs > 4*snap.AvgExecutionMs {
		findings = append(findings, Finding{
			Kind:       KindTaskComplexity,
			Severity:   "low",
			DetectedAt: now,
			Detail:     "p95 execution time far exceeds mean, indicating a subset of tasks dominate runtime",
		})
	}

	for cat, ids := range queuedTaskIDsByCategory {
		if len(ids) >= dependencyChainBacklogThreshold {
			findings = append(findings, Finding{
				Kind:          KindDependencyChain,
				Severity:      "medium",
				ImpactedTasks: ids,
				DetectedAt:    now,
				Detail:        string(cat) + " has " + strconv.Itoa(len(ids)) + " tasks queued behind unmet dependencies",
			})
		}
	}

	return findings
}

func pctString(ratio float64) string {
	pct := int(ratio * 100)
	digits := [...]byte{'0' + byte(pct/100%10), '0' + byte(pct/10%10), '0' + byte(pct%10)}
	start := 0
	for start < len(digits)-1 && digits[start] == '0' {
		start++
	}
	return string(digits[start:]) + "%"
}
