// Package metrics exposes Prometheus collectors for the reactive core.
//
// A nil *Metrics is valid and records nothing, so the runtime can call it
// unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "orbit"

// Metrics holds the collectors updated by the runtime.
type Metrics struct {
	Ticks          prometheus.Counter
	Flushed        prometheus.Counter
	Skipped        prometheus.Counter
	FlushDuration  prometheus.Histogram
	Mutations      prometheus.Counter
	MutationErrors prometheus.Counter
	Dispatches     *prometheus.CounterVec
	HookErrors     *prometheus.CounterVec
	Renders        prometheus.Counter
	RenderErrors   prometheus.Counter
	Instances      prometheus.Gauge
	Dirty          prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration, which is convenient in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Number of scheduler flushes.",
		}),
		Flushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushed_instances_total",
			Help:      "Instances taken through an update cycle by a flush.",
		}),
		Skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_instances_total",
			Help:      "Dirty entries discarded because the instance was no longer mounted.",
		}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Wall time of a scheduler flush.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14),
		}),
		Mutations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "State mutations that changed at least one field.",
		}),
		MutationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutation_errors_total",
			Help:      "State transformations that failed.",
		}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Interaction events by outcome.",
		}, []string{"outcome"}),
		HookErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_errors_total",
			Help:      "Lifecycle hook failures by hook.",
		}, []string{"hook"}),
		Renders: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "Render bridge calls.",
		}),
		RenderErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_errors_total",
			Help:      "Render bridge failures.",
		}),
		Instances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_instances",
			Help:      "Currently mounted component instances.",
		}),
		Dirty: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dirty_instances",
			Help:      "Instances waiting for the next flush.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Ticks, m.Flushed, m.Skipped, m.FlushDuration,
			m.Mutations, m.MutationErrors, m.Dispatches, m.HookErrors,
			m.Renders, m.RenderErrors, m.Instances, m.Dirty,
		)
	}
	return m
}

// ObserveFlush records one completed flush.
func (m *Metrics) ObserveFlush(flushed, skipped int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Ticks.Inc()
	m.Flushed.Add(float64(flushed))
	m.Skipped.Add(float64(skipped))
	m.FlushDuration.Observe(elapsed.Seconds())
}

// ObserveMutation records a mutation attempt.
func (m *Metrics) ObserveMutation(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.MutationErrors.Inc()
		return
	}
	m.Mutations.Inc()
}

// ObserveDispatch records an interaction outcome ("handled", "miss", "error").
func (m *Metrics) ObserveDispatch(outcome string) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(outcome).Inc()
}

// ObserveHookError records a failed hook.
func (m *Metrics) ObserveHookError(hook string) {
	if m == nil {
		return
	}
	m.HookErrors.WithLabelValues(hook).Inc()
}

// ObserveRender records a render bridge call.
func (m *Metrics) ObserveRender(err error) {
	if m == nil {
		return
	}
	m.Renders.Inc()
	if err != nil {
		m.RenderErrors.Inc()
	}
}

// SetInstances sets the live instance gauge.
func (m *Metrics) SetInstances(n int) {
	if m == nil {
		return
	}
	m.Instances.Set(float64(n))
}

// SetDirty sets the dirty instance gauge.
func (m *Metrics) SetDirty(n int) {
	if m == nil {
		return
	}
	m.Dirty.Set(float64(n))
}
