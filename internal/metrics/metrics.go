// Package metrics holds the Prometheus collectors for a chat session. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	events      *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	openPerms   prometheus.Gauge
	reconnects  prometheus.Counter
	snapshots   prometheus.Counter
	dropped     prometheus.Counter
	transportEr *prometheus.CounterVec
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatcore",
			Name:      "events_total",
			Help:      "Stream events by kind and whether they changed the conversation.",
		}, []string{"kind", "result"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatcore",
			Name:      "permission_decisions_total",
			Help:      "Permission decisions by decision and delivery outcome.",
		}, []string{"decision", "outcome"}),
		openPerms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatcore",
			Name:      "open_permissions",
			Help:      "Permissions waiting for a user decision.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatcore",
			Name:      "transport_reconnects_total",
			Help:      "Event stream re-subscriptions after a failure.",
		}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatcore",
			Name:      "snapshots_published_total",
			Help:      "Conversation snapshots published to subscribers.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatcore",
			Name:      "snapshots_dropped_total",
			Help:      "Snapshots dropped because a subscriber fell behind.",
		}),
		transportEr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatcore",
			Name:      "transport_errors_total",
			Help:      "Event stream failures by source.",
		}, []string{"source"}),
	}
	m.registry.MustRegister(m.events, m.decisions, m.openPerms, m.reconnects, m.snapshots, m.dropped, m.transportEr)
	return m
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Event counts one stream event of kind. applied is false when the event was ignored.
func (m *Metrics) Event(kind string, applied bool) {
	if m == nil {
		return
	}
	result := "applied"
	if !applied {
		result = "ignored"
	}
	m.events.WithLabelValues(kind, result).Inc()
}

// Decision counts a permission decision. outcome is one of "sent", "failed", "auto", "remote", or "repeat".
func (m *Metrics) Decision(decision, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision, outcome).Inc()
}

func (m *Metrics) OpenPermissions(n int) {
	if m == nil {
		return
	}
	m.openPerms.Set(float64(n))
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) TransportError(source string) {
	if m == nil {
		return
	}
	m.transportEr.WithLabelValues(source).Inc()
}

func (m *Metrics) SnapshotPublished() {
	if m == nil {
		return
	}
	m.snapshots.Inc()
}

func (m *Metrics) SnapshotDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
