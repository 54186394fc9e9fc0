package pressure

import (
	"testing"
	"time"

	"github.com/ptops/ptriage/model"
	"github.com/ptops/ptriage/policy"
)

func thresholds() policy.PressureThresholds {
	return policy.Default().Pressure
}

func sample(util, swap float64, at time.Time) model.MemorySignals {
	total := uint64(16 << 30)
	swapTotal := uint64(8 << 30)
	return model.MemorySignals{
		Total:     total,
		Used:      uint64(util * float64(total)),
		Available: total - uint64(util*float64(total)),
		SwapTotal: swapTotal,
		SwapUsed:  uint64(swap * float64(swapTotal)),
		Timestamp: at,
	}
}

func TestModeLadder(t *testing.T) {
	m := NewMonitor(thresholds())
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	if got := m.Observe(sample(0.3, 0, now)); got != ModeIdle {
		t.Errorf("idle sample → %v", got)
	}
	if got := m.Observe(sample(0.85, 0, now.Add(time.Minute))); got != ModeModerate {
		t.Errorf("moderate sample → %v", got)
	}
	if got := m.Observe(sample(0.95, 0, now.Add(2*time.Minute))); got != ModeEmergency {
		t.Errorf("emergency sample → %v", got)
	}
}

func TestEmergencyHysteresis(t *testing.T) {
	m := NewMonitor(thresholds())
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	m.Observe(sample(0.95, 0, now))
	if m.Mode() != ModeEmergency {
		t.Fatal("not in emergency")
	}
	// A dip to 0.90 is inside the demotion band (0.93 - 0.05 = 0.88):
	// emergency holds.
	if got := m.Observe(sample(0.90, 0, now.Add(time.Minute))); got != ModeEmergency {
		t.Errorf("within-band sample demoted to %v", got)
	}
	// A sustained drop below the band demotes.
	if got := m.Observe(sample(0.85, 0, now.Add(2*time.Minute))); got != ModeModerate {
		t.Errorf("below-band sample → %v, want moderate", got)
	}
}

func TestSwapDrivesPressure(t *testing.T) {
	m := NewMonitor(thresholds())
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	if got := m.Observe(sample(0.3, 0.9, now)); got != ModeEmergency {
		t.Errorf("swap emergency → %v", got)
	}
}

func TestPSIDrivesPressure(t *testing.T) {
	m := NewMonitor(thresholds())
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	sig := sample(0.3, 0, now)
	psi := 70.0
	sig.PSISome10 = &psi
	if got := m.Observe(sig); got != ModeEmergency {
		t.Errorf("psi emergency → %v", got)
	}
}

func TestAdjustmentsOnlyInEmergency(t *testing.T) {
	cfg := thresholds()
	m := NewMonitor(cfg)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	if adj := m.Adjustments(); adj.PerRunKills != 0 || adj.MinPosterior != 0 {
		t.Errorf("idle adjustments = %+v", adj)
	}
	m.Observe(sample(0.95, 0, now))
	adj := m.Adjustments()
	if adj.PerRunKills != cfg.EmergencyPerRunKills || adj.MinPosterior != cfg.EmergencyMinPosterior {
		t.Errorf("emergency adjustments = %+v", adj)
	}
	// Recovery restores defaults.
	m.Observe(sample(0.2, 0, now.Add(time.Minute)))
	m.Observe(sample(0.2, 0, now.Add(2*time.Minute)))
	if adj := m.Adjustments(); adj.PerRunKills != 0 {
		t.Errorf("post-recovery adjustments = %+v", adj)
	}
}

func TestTransitionsRecorded(t *testing.T) {
	m := NewMonitor(thresholds())
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	m.Observe(sample(0.95, 0, now))
	trs := m.Transitions()
	if len(trs) != 1 || trs[0].From != ModeIdle || trs[0].To != ModeEmergency {
		t.Errorf("transitions = %+v", trs)
	}
}
