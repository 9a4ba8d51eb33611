// Package metrics exposes Prometheus collectors for an endpoint.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "alternet"

// Metrics holds the collectors of one endpoint. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	bytesReceived     prometheus.Counter
	bytesSent         prometheus.Counter
	unitsDelivered    *prometheus.CounterVec
	decodeErrors      prometheus.Counter
	sendErrors        prometheus.Counter
}

// New creates the collectors labelled with role ("server" or "client") and
// registers them with reg. A nil reg leaves them unregistered. Collectors
// already registered by another endpoint with the same role are shared.
func New(reg prometheus.Registerer, role string) *Metrics {
	labels := prometheus.Labels{"role": role}

	m := &Metrics{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "connections_active",
			Help:        "Number of currently registered connections",
			ConstLabels: labels,
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "connections_total",
			Help:        "Total number of connections registered",
			ConstLabels: labels,
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "bytes_received_total",
			Help:        "Total bytes read from peers",
			ConstLabels: labels,
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "bytes_sent_total",
			Help:        "Total bytes written to peers",
			ConstLabels: labels,
		}),
		unitsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "units_delivered_total",
			Help:        "Total decoded units delivered to handlers",
			ConstLabels: labels,
		}, []string{"mode"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "decode_errors_total",
			Help:        "Total units dropped because they could not be decoded",
			ConstLabels: labels,
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "send_errors_total",
			Help:        "Total sends that failed with an I/O error",
			ConstLabels: labels,
		}),
	}
	if reg == nil {
		return m
	}

	m.connectionsActive = register(reg, m.connectionsActive)
	m.connectionsTotal = register(reg, m.connectionsTotal)
	m.bytesReceived = register(reg, m.bytesReceived)
	m.bytesSent = register(reg, m.bytesSent)
	m.unitsDelivered = register(reg, m.unitsDelivered)
	m.decodeErrors = register(reg, m.decodeErrors)
	m.sendErrors = register(reg, m.sendErrors)
	return m
}

// register registers c, or returns the equivalent collector that is
// already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// Connected records a newly registered connection.
func (m *Metrics) Connected() {
	if m == nil {
		return
	}
	m.connectionsActive.Inc()
	m.connectionsTotal.Inc()
}

// Disconnected records a connection leaving the registry.
func (m *Metrics) Disconnected() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

// Received records n bytes read.
func (m *Metrics) Received(n int) {
	if m == nil {
		return
	}
	m.bytesReceived.Add(float64(n))
}

// Sent records n bytes written.
func (m *Metrics) Sent(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesSent.Add(float64(n))
}

// Delivered records one unit handed to handlers in mode.
func (m *Metrics) Delivered(mode string) {
	if m == nil {
		return
	}
	m.unitsDelivered.WithLabelValues(mode).Inc()
}

// DecodeFailed records a dropped unit.
func (m *Metrics) DecodeFailed() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

// SendFailed records a failed send.
func (m *Metrics) SendFailed() {
	if m == nil {
		return
	}
	m.sendErrors.Inc()
}
