package lifx

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes recorded in lifx_requests_total.
const (
	outcomeOK      = "ok"
	outcomeTimeout = "timeout"
	outcomeError   = "error"
)

// Metrics holds the Prometheus collectors of the bridge. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	softDisconnects prometheus.Counter
	cycles          *prometheus.CounterVec
	devices         prometheus.Gauge
	registrations   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on /metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifx_requests_total",
				Help: "LIFX LAN requests by message type and outcome.",
			},
			[]string{"message", "outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lifx_request_duration_seconds",
				Help:    "Time from send to first response or timeout.",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 1.5, 3, 9},
			},
			[]string{"message"},
		),
		softDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lifx_soft_disconnects_total",
			Help: "Requests without response while the device was believed reachable.",
		}),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifx_update_cycles_total",
				Help: "Poll cycles by result.",
			},
			[]string{"result"},
		),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lifx_devices",
			Help: "Devices with a running coordinator.",
		}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lifx_discovery_registrations_total",
			Help: "Registration events emitted by discovery.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.requests, m.requestDuration, m.softDisconnects, m.cycles, m.devices, m.registrations)
	}
	return m
}

func (m *Metrics) observeRequest(t MessageType, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := outcomeOK
	switch {
	case errors.Is(err, ErrRequestTimeout):
		outcome = outcomeTimeout
	case err != nil:
		outcome = outcomeError
	}
	m.requests.WithLabelValues(t.String(), outcome).Inc()
	m.requestDuration.WithLabelValues(t.String()).Observe(elapsed.Seconds())
}

func (m *Metrics) softDisconnect() {
	if m == nil {
		return
	}
	m.softDisconnects.Inc()
}

func (m *Metrics) observeCycle(state CycleState) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(state.String()).Inc()
}

func (m *Metrics) setDevices(n int) {
	if m == nil {
		return
	}
	m.devices.Set(float64(n))
}

func (m *Metrics) registration() {
	if m == nil {
		return
	}
	m.registrations.Inc()
}
