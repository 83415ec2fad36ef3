// Package metrics holds the prometheus collectors exported by provami.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors shared by the session and the front-ends.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	revalidations    *prometheus.CounterVec
	revalidationTime prometheus.Histogram
	apiCalls         *prometheus.CounterVec
	apiDuration      *prometheus.HistogramVec
	queueLength      prometheus.Gauge
	exportedMessages *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		revalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provami_revalidations_total",
			Help: "Explorer summary rebuilds, by result.",
		}, []string{"result"}),
		revalidationTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "provami_revalidation_duration_seconds",
			Help:    "Time spent rebuilding the explorer summary.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provami_api_calls_total",
			Help: "API operations served, by operation and status code.",
		}, []string{"op", "code"}),
		apiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provami_api_duration_seconds",
			Help:    "API operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"op"}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "provami_session_queue_length",
			Help: "Tasks waiting for the storage connection.",
		}),
		exportedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provami_exported_messages_total",
			Help: "Messages written by exports, by format.",
		}, []string{"format"}),
	}
	if reg != nil {
		reg.MustRegister(m.revalidations, m.revalidationTime, m.apiCalls, m.apiDuration, m.queueLength, m.exportedMessages)
	}
	return m
}

// ObserveRevalidation records the outcome of one summary rebuild.
func (m *Metrics) ObserveRevalidation(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.revalidations.WithLabelValues(result).Inc()
	m.revalidationTime.Observe(d.Seconds())
}

// ObserveAPICall records one dispatched operation.
func (m *Metrics) ObserveAPICall(op string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.apiCalls.WithLabelValues(op, statusLabel(code)).Inc()
	m.apiDuration.WithLabelValues(op).Observe(d.Seconds())
}

// QueueAdd adjusts the pending task gauge.
func (m *Metrics) QueueAdd(delta float64) {
	if m == nil {
		return
	}
	m.queueLength.Add(delta)
}

// ExportedMessages counts messages written by an export.
func (m *Metrics) ExportedMessages(format string, n int) {
	if m == nil {
		return
	}
	m.exportedMessages.WithLabelValues(format).Add(float64(n))
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
