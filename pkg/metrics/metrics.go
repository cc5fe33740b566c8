// Package metrics exposes the prometheus gauges/counters/histograms the
// tree engine records: package-level collectors registered in init, and a
// Timer helper for latency observation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hierarchidb_commands_total",
			Help: "Total number of commands processed by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hierarchidb_command_duration_seconds",
			Help:    "Command pipeline latency by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	UndoStackDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hierarchidb_undo_stack_depth",
			Help: "Current undo journal depth per tree",
		},
		[]string{"tree_id"},
	)

	SubscriptionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hierarchidb_subscriptions_active",
			Help: "Active subscriptions by scope",
		},
		[]string{"scope"},
	)

	SubscriptionQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hierarchidb_subscription_queue_depth",
			Help: "Pending events queued per subscription",
		},
		[]string{"subscription_id"},
	)

	EventsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hierarchidb_events_emitted_total",
			Help: "Total change events emitted by type",
		},
		[]string{"type"},
	)

	EventsCoalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hierarchidb_events_coalesced_total",
			Help: "Total updated events collapsed by debounce coalescing",
		},
	)

	EventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hierarchidb_events_dropped_total",
			Help: "Total events dropped due to subscription back-pressure",
		},
	)

	WorkingCopiesOutstanding = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hierarchidb_working_copies_outstanding",
			Help: "Working copies currently open",
		},
	)

	WorkingCopiesSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hierarchidb_working_copies_swept_total",
			Help: "Working copies reclaimed by TTL sweep",
		},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hierarchidb_sweep_duration_seconds",
			Help:    "Duration of each sweep cycle",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		CommandsTotal,
		CommandDuration,
		UndoStackDepth,
		SubscriptionsActive,
		SubscriptionQueueDepth,
		EventsEmittedTotal,
		EventsCoalescedTotal,
		EventsDroppedTotal,
		WorkingCopiesOutstanding,
		WorkingCopiesSweptTotal,
		SweepDuration,
	)
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer { return &Timer{start: time.Now()} }

func (t *Timer) ObserveDurationVec(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration { return time.Since(t.start) }
