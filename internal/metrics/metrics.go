// Package metrics exposes Prometheus instrumentation for the mail poller.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Mail holds the poller's collectors.
type Mail struct {
	registry  *prometheus.Registry
	messages  *prometheus.CounterVec
	outcomes  *prometheus.CounterVec
	queueRuns *prometheus.CounterVec
	cycle     prometheus.Histogram
}

// NewMail registers the poller collectors on a fresh registry.
func NewMail() *Mail {
	m := &Mail{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "peppermint_mail_messages_total",
			Help: "Ingested messages by queue and routing action.",
		}, []string{"queue", "action"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "peppermint_mail_message_outcomes_total",
			Help: "Fetched messages by queue and outcome (processed, failed, skipped).",
		}, []string{"queue", "outcome"}),
		queueRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "peppermint_mail_queue_runs_total",
			Help: "Queue polls by queue and status.",
		}, []string{"queue", "status"}),
		cycle: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "peppermint_mail_cycle_duration_seconds",
			Help:    "Duration of a full polling cycle.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(m.messages, m.outcomes, m.queueRuns, m.cycle)
	return m
}

// ObserveQueue records one queue poll.
func (m *Mail) ObserveQueue(queue, status string, processed, failed, skipped int) {
	if m == nil {
		return
	}
	m.queueRuns.WithLabelValues(queue, status).Inc()
	m.outcomes.WithLabelValues(queue, "processed").Add(float64(processed))
	m.outcomes.WithLabelValues(queue, "failed").Add(float64(failed))
	m.outcomes.WithLabelValues(queue, "skipped").Add(float64(skipped))
}

// ObserveMessage counts one ingested message by its routing action.
func (m *Mail) ObserveMessage(queue, action string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(queue, action).Inc()
}

// ObserveCycle records a cycle duration.
func (m *Mail) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycle.Observe(d.Seconds())
}

// Registry returns the underlying registry.
func (m *Mail) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Mail) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
