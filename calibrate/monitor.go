package calibrate

import (
	"sync"

	"github.com/ptops/ptriage/decision"
	"github.com/ptops/ptriage/model"
)

// MonitorConfig tunes how calibration state maps to robustness triggers.
type MonitorConfig struct {
	Drift DriftConfig `json:"drift"`
	// MaxMeanECE above which model confidence counts as low.
	MaxMeanECE float64 `json:"max_mean_ece"`
	// TemperingFloor bounds how far eta is reduced under misfit.
	TemperingFloor float64 `json:"tempering_floor"`
	// TemperingStep is the eta reduction applied per active misfit signal.
	TemperingStep float64 `json:"tempering_step"`
}

// DefaultMonitorConfig returns the embedded trigger thresholds.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Drift:          DefaultDriftConfig(),
		MaxMeanECE:     0.15,
		TemperingFloor: 0.5,
		TemperingStep:  0.2,
	}
}

// Monitor folds calibration evidence — PPC summaries from shadow mode,
// confirmed predictions, and the posterior stream — into the trigger set
// and tempering eta the decision layer consumes. This is the computation
// behind the DRO trigger names: PPC failure, drift detected, tempering
// reduced, low model confidence.
type Monitor struct {
	mu    sync.Mutex
	cfg   MonitorConfig
	drift *DriftDetector

	lastPPC         *PPCSummary
	lastCalibration *Calibration
}

// NewMonitor builds a monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.TemperingFloor <= 0 || cfg.TemperingFloor > 1 {
		cfg.TemperingFloor = DefaultMonitorConfig().TemperingFloor
	}
	if cfg.TemperingStep <= 0 {
		cfg.TemperingStep = DefaultMonitorConfig().TemperingStep
	}
	if cfg.MaxMeanECE <= 0 {
		cfg.MaxMeanECE = DefaultMonitorConfig().MaxMeanECE
	}
	return &Monitor{cfg: cfg, drift: NewDriftDetector(cfg.Drift)}
}

// ObservePosterior feeds one posterior into the drift detector.
func (m *Monitor) ObservePosterior(posterior model.ClassScores) {
	m.drift.Observe(posterior)
}

// RecordPPC folds a shadow-mode PPC summary.
func (m *Monitor) RecordPPC(summary PPCSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPPC = &summary
}

// RecordCalibration folds a confirmed-prediction calibration summary.
func (m *Monitor) RecordCalibration(cal Calibration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCalibration = &cal
}

// PPCFailed reports whether the last PPC summary showed significant
// miscalibration.
func (m *Monitor) PPCFailed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPPC != nil && m.lastPPC.Failed()
}

// LowConfidence reports whether the last calibration summary's mean ECE
// exceeded the configured bar.
func (m *Monitor) LowConfidence() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCalibration != nil && m.lastCalibration.MeanECE() > m.cfg.MaxMeanECE
}

// Drifted reports whether the posterior stream has drifted from its
// reference window.
func (m *Monitor) Drifted() bool {
	return m.drift.State().Drifted
}

// Tempering returns the posterior tempering eta: 1 with a healthy model,
// reduced by a step per active misfit signal, floored.
func (m *Monitor) Tempering() float64 {
	eta := 1.0
	if m.PPCFailed() {
		eta -= m.cfg.TemperingStep
	}
	if m.Drifted() {
		eta -= m.cfg.TemperingStep
	}
	if eta < m.cfg.TemperingFloor {
		eta = m.cfg.TemperingFloor
	}
	return eta
}

// ActiveTriggers computes the robustness triggers in effect: the
// conditions under which the decision layer widens its ambiguity ball.
func (m *Monitor) ActiveTriggers() []decision.DROTrigger {
	var triggers []decision.DROTrigger
	if m.PPCFailed() {
		triggers = append(triggers, decision.TriggerPPCFailure)
	}
	if m.Drifted() {
		triggers = append(triggers, decision.TriggerDriftDetected)
	}
	if m.Tempering() < 1 {
		triggers = append(triggers, decision.TriggerTemperingReduced)
	}
	if m.LowConfidence() {
		triggers = append(triggers, decision.TriggerLowModelConfidence)
	}
	return triggers
}

// ResetDrift clears the drift reference, e.g. after a deliberate priors or
// policy change.
func (m *Monitor) ResetDrift() {
	m.drift.Reset()
}
