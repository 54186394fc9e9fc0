package engine

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the daemon's prometheus instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	TicksTotal        prometheus.Counter
	TriggersFired     *prometheus.CounterVec
	DecisionsTotal    *prometheus.CounterVec
	GatesDenied       *prometheus.CounterVec
	PressureMode      prometheus.Gauge
	AlphaWealth       prometheus.Gauge
	RespawnIdentities prometheus.Gauge
}

// NewMetrics builds and registers the metric set on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ptriage", Name: "daemon_ticks_total",
			Help: "Daemon tick cycles completed.",
		}),
		TriggersFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ptriage", Name: "triggers_fired_total",
			Help: "Daemon trigger fires by trigger name.",
		}, []string{"trigger"}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ptriage", Name: "decisions_total",
			Help: "Decision outcomes by action and rationale.",
		}, []string{"action", "rationale"}),
		GatesDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ptriage", Name: "gates_denied_total",
			Help: "Gate denials by gate name.",
		}, []string{"gate"}),
		PressureMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ptriage", Name: "pressure_mode",
			Help: "Memory pressure mode (0 idle, 1 moderate, 2 emergency).",
		}),
		AlphaWealth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ptriage", Name: "alpha_wealth",
			Help: "Remaining alpha-investing wealth.",
		}),
		RespawnIdentities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ptriage", Name: "respawn_identities",
			Help: "Identities with recorded respawn events.",
		}),
	}
	reg.MustRegister(m.TicksTotal, m.TriggersFired, m.DecisionsTotal,
		m.GatesDenied, m.PressureMode, m.AlphaWealth, m.RespawnIdentities)
	return m
}

// Handler serves the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordOutcome counts one decision outcome and its gate denials.
func (m *Metrics) RecordOutcome(out DecisionOutcome) {
	m.DecisionsTotal.WithLabelValues(out.Action.String(), string(out.Rationale)).Inc()
	for _, rec := range out.Audit {
		if !rec.Allowed {
			m.GatesDenied.WithLabelValues(rec.Gate).Inc()
		}
	}
}
