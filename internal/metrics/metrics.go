// Package metrics exposes Prometheus instrumentation for the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sofarelay"

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Relay holds the hub and connection metrics.
type Relay struct {
	ActiveConnections *prometheus.GaugeVec
	EventsReceived    *prometheus.CounterVec
	EventsIgnored     *prometheus.CounterVec
	Broadcasts        *prometheus.CounterVec
	EvictedClients    prometheus.Counter
	Reporters         prometheus.Gauge
}

// NewRelay creates and registers relay metrics on reg.
func NewRelay(reg prometheus.Registerer) *Relay {
	m := &Relay{
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of active WebSocket connections by role.",
		}, []string{"role"}),
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "events_received_total",
			Help:      "Inbound events accepted by the hub.",
		}, []string{"event"}),
		EventsIgnored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "events_ignored_total",
			Help:      "Inbound frames dropped before reaching state.",
		}, []string{"reason"}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "broadcasts_total",
			Help:      "Outbound events fanned out to all clients.",
		}, []string{"event"}),
		EvictedClients: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "evicted_clients_total",
			Help:      "Clients removed because their send buffer was full.",
		}),
		Reporters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "reporters",
			Help:      "Delivery reporters with a known position.",
		}),
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.EventsReceived,
		m.EventsIgnored,
		m.Broadcasts,
		m.EvictedClients,
		m.Reporters,
	)
	return m
}
