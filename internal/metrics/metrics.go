// Package metrics exposes relay counters in the prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "peercall"

// Relay holds the relay's collectors. A nil *Relay is valid and records
// nothing, so components can run without a registry.
type Relay struct {
	connections prometheus.Gauge
	registered  prometheus.Gauge
	messages    *prometheus.CounterVec
	dropped     *prometheus.CounterVec
}

// NewRelay creates the relay collectors and registers them with reg.
func NewRelay(reg prometheus.Registerer) *Relay {
	m := &Relay{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "connections",
			Help:      "currently connected websocket clients",
		}),
		registered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "registered",
			Help:      "entries in the connection registry",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "inbound messages by kind",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "dropped_total",
			Help:      "messages dropped by reason",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.connections, m.registered, m.messages, m.dropped)
	return m
}

func (m *Relay) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *Relay) SetRegistered(n int) {
	if m == nil {
		return
	}
	m.registered.Set(float64(n))
}

// Message counts one inbound message. Untyped bodies are counted as "signal".
func (m *Relay) Message(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "signal"
	}
	m.messages.WithLabelValues(kind).Inc()
}

func (m *Relay) Dropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
