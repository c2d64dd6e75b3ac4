// Package monitor exposes the controller's Prometheus metrics.
package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LeonardoBeccarini/farmtech/internal/services/link"
)

type Metrics struct {
	reg prometheus.Gatherer

	framesAccepted prometheus.Counter
	framesRejected *prometheus.CounterVec
	reconnects     *prometheus.CounterVec
	pumpCommands   *prometheus.CounterVec
	decisions      *prometheus.CounterVec
	linkState      prometheus.Gauge
	silence        prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		reg: reg,
		framesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "farmtech_frames_accepted_total",
			Help: "Telemetry frames that passed validation.",
		}),
		framesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmtech_frames_rejected_total",
			Help: "Telemetry frames dropped by the parser.",
		}, []string{"reason"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmtech_link_reconnect_attempts_total",
			Help: "Reconnection attempts on the serial link by outcome.",
		}, []string{"result"}),
		pumpCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmtech_pump_commands_total",
			Help: "Pump commands written to the device.",
		}, []string{"command", "source"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmtech_irrigation_decisions_total",
			Help: "Irrigation decisions by outcome.",
		}, []string{"outcome"}),
		linkState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "farmtech_link_state",
			Help: "Link state: 0 disconnected, 1 connecting, 2 connected, 3 reconnecting.",
		}),
		silence: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "farmtech_link_silence_seconds",
			Help: "Silence reported by the last watchdog warning.",
		}),
	}
	reg.MustRegister(m.framesAccepted, m.framesRejected, m.reconnects, m.pumpCommands, m.decisions, m.linkState, m.silence)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) FrameAccepted() { m.framesAccepted.Inc() }

func (m *Metrics) PumpCommand(command, source string) {
	m.pumpCommands.WithLabelValues(command, source).Inc()
}

// Decision counts an outcome: "sent", "unchanged", "not_connected" or "send_failed".
func (m *Metrics) Decision(outcome string) {
	m.decisions.WithLabelValues(outcome).Inc()
}

// ObserveLinkEvent folds a supervisor event into the link metrics.
func (m *Metrics) ObserveLinkEvent(ev link.Event) {
	m.linkState.Set(float64(ev.State))
	switch ev.Kind {
	case link.EventFrameRejected:
		m.framesRejected.WithLabelValues(ev.Reason.String()).Inc()
	case link.EventReconnected:
		m.reconnects.WithLabelValues("success").Inc()
		m.silence.Set(0)
	case link.EventReconnectFailed:
		m.reconnects.WithLabelValues("failure").Inc()
	case link.EventStale:
		m.silence.Set(ev.Silence.Seconds())
	case link.EventConnected:
		m.silence.Set(0)
	}
}
