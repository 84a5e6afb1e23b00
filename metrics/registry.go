// Package metrics implements spec §4.9 (C9): continuously computed
// totals/rates/percentiles, the bottleneck detector, and a Prometheus
// registry. It is adapted directly from the reference control-plane's
// observability package (control_plane/observability/metrics.go), which
// used promauto against the global default registerer; here the metric
// families are built against a caller-supplied prometheus.Registerer so
// an embedding application chooses whether (and where) to expose
// /metrics, rather than the engine assuming it owns the process's HTTP
// mux the way main.go did.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every Prometheus metric family the engine populates.
type Registry struct {
	QueueDepth           *prometheus.GaugeVec
	SchedulingDecisions  *prometheus.CounterVec
	DispatchLoopDuration prometheus.Histogram
	TaskRuntimeSeconds   prometheus.Histogram
	TaskRetries          prometheus.Counter
	TaskTimeouts         *prometheus.CounterVec
	TaskSuccesses        prometheus.Counter
	TaskFailures         prometheus.Counter
	StarvationBoosts     prometheus.Counter
	PoolUtilization      *prometheus.GaugeVec
	OldestQueuedAge      *prometheus.GaugeVec
	AdmissionWaitSeconds prometheus.Histogram
}

// NewRegistry registers every family against reg. Pass
// prometheus.NewRegistry() for an isolated registry (e.g. in tests) or
// prometheus.DefaultRegisterer to expose via promhttp in a host process.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promautoFactory(reg)

	return &Registry{
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "taskengine_queue_depth",
			Help: "Current number of tasks in the scheduling queue",
		}, []string{"priority"}),

		SchedulingDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskengine_scheduling_decisions_total",
			Help: "Total number of scheduling decisions made, by algorithm and outcome",
		}, []string{"algorithm", "decision"}),

		DispatchLoopDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskengine_dispatch_loop_duration_seconds",
			Help:    "Duration of one dispatch tick",
			Buckets: prometheus.DefBuckets,
		}),

		TaskRuntimeSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskengine_task_runtime_seconds",
			Help:    "Task execution time distribution",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),

		TaskRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskengine_task_retries_total",
			Help: "Total number of task retries scheduled",
		}),

		TaskTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskengine_task_timeouts_total",
			Help: "Tasks forcibly terminated due to execution deadline",
		}, []string{"category"}),

		TaskSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskengine_task_success_total",
			Help: "Total number of tasks that reached COMPLETED",
		}),

		TaskFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskengine_task_failure_total",
			Help: "Total number of entries into FAILED, including ones followed by a retry",
		}),

		StarvationBoosts: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskengine_starvation_boosts_total",
			Help: "Total number of starvation priority boosts applied",
		}),

		PoolUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "taskengine_resource_pool_utilization",
			Help: "Current utilization ratio per resource type",
		}, []string{"resource_type"}),

		OldestQueuedAge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "taskengine_oldest_queued_task_age_seconds",
			Help: "Age in seconds of the oldest QUEUED task",
		}, []string{"priority"}),

		AdmissionWaitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskengine_admission_wait_seconds",
			Help:    "Time a task spent QUEUED before being dispatched",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// ObserveDispatchDuration records one dispatch tick's wall-clock time.
// Safe to call on a nil *Registry (no Prometheus registerer configured).
func (r *Registry) ObserveDispatchDuration(d time.Duration) {
	if r == nil {
		return
	}
	r.DispatchLoopDuration.Observe(d.Seconds())
}

// factory wraps prometheus.Registerer with the same promauto-style
// "MustRegister-on-construction" convenience the reference package uses,
// but parameterized by registerer instead of hardcoding the default one.
type factory struct {
	reg prometheus.Registerer
}

func promautoFactory(reg prometheus.Registerer) factory {
	return factory{reg: reg}
}

func (f factory) NewGaugeVec(opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	v := prometheus.NewGaugeVec(opts, labels)
	f.reg.MustRegister(v)
	return v
}

func (f factory) NewCounterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	v := prometheus.NewCounterVec(opts, labels)
	f.reg.MustRegister(v)
	return v
}

func (f factory) NewHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	v := prometheus.NewHistogram(opts)
	f.reg.MustRegister(v)
	return v
}

func (f factory) NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	v := prometheus.NewCounter(opts)
	f.reg.MustRegister(v)
	return v
}
