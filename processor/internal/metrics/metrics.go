// Package metrics holds the Prometheus collectors shared by the processor
// components and a text renderer for the shutdown summary.
package metrics

import (
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Namespace prefixes every metric name.
const Namespace = "coldchain"

// Metrics groups every collector the pipeline updates.
type Metrics struct {
	RecordsReceived  prometheus.Counter
	RecordsMalformed prometheus.Counter
	Transitions      *prometheus.CounterVec // kind, transition
	AlertsSent       *prometheus.CounterVec // kind, state
	AlertsSuppressed *prometheus.CounterVec // kind
	NotifyFailures   *prometheus.CounterVec // kind
	ForwardAttempts  prometheus.Counter
	ForwardResults   *prometheus.CounterVec // result
	ForwardLatency   prometheus.Histogram
	InvariantErrors  prometheus.Counter
	Packages         prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "records_received_total",
			Help:      "Telemetry records decoded and handed to the processor.",
		}),
		RecordsMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "records_malformed_total",
			Help:      "Payloads discarded because they could not be decoded.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "alert_transitions_total",
			Help:      "Condition transitions computed by the evaluator.",
		}, []string{"kind", "transition"}),
		AlertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "alerts_sent_total",
			Help:      "Notifications delivered to the sink.",
		}, []string{"kind", "state"}),
		AlertsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "alerts_suppressed_total",
			Help:      "Notifications withheld by the per-package cooldown.",
		}, []string{"kind"}),
		NotifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "notify_failures_total",
			Help:      "Notification deliveries that returned an error.",
		}, []string{"kind"}),
		ForwardAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "forward_attempts_total",
			Help:      "Submissions made to the ingestion store, retries included.",
		}),
		ForwardResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "forward_results_total",
			Help:      "Final forwarding outcome per record. dropped means data loss.",
		}, []string{"result"}),
		ForwardLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "forward_duration_seconds",
			Help:      "Time from first attempt to final outcome, backoff included.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		InvariantErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "state_invariant_violations_total",
			Help:      "Per-package state repairs after an invariant check failed.",
		}),
		Packages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "packages_tracked",
			Help:      "Packages with alert state held in memory.",
		}),
	}

	reg.MustRegister(
		m.RecordsReceived, m.RecordsMalformed, m.Transitions,
		m.AlertsSent, m.AlertsSuppressed, m.NotifyFailures,
		m.ForwardAttempts, m.ForwardResults, m.ForwardLatency,
		m.InvariantErrors, m.Packages,
	)
	return m
}

// NewUnregistered returns collectors bound to a private registry.
// Handy for tests and for components built without a metrics endpoint.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

// WriteText gathers the metric families from g whose name starts with
// prefix and writes them in the Prometheus text exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer, prefix string) error {
	mfs, err := g.Gather()
	if err != nil {
		return fmt.Errorf("metrics: gather: %w", err)
	}
	for _, mf := range mfs {
		if !strings.HasPrefix(mf.GetName(), prefix) {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
