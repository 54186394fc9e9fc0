package decision

import "math"

// MetricSnapshot is a before/after resource reading for goal measurement.
type MetricSnapshot struct {
	// FreeMemoryBytes is available memory.
	FreeMemoryBytes uint64 `json:"free_memory_bytes"`
	// CPUIdleFraction is idle CPU in [0,1].
	CPUIdleFraction float64 `json:"cpu_idle_fraction"`
	// OpenFDs is the host-wide open descriptor count.
	OpenFDs uint64 `json:"open_fds"`
	// PortHolders maps a port number to whether something still listens.
	PortHolders map[int]bool `json:"port_holders,omitempty"`
}

// ProgressVerdict classifies observed progress against the plan.
type ProgressVerdict string

const (
	// VerdictOnTarget: observed within tolerance of expected.
	VerdictOnTarget ProgressVerdict = "on_target"
	// VerdictUnderperform: short of expected by more than the band.
	VerdictUnderperform ProgressVerdict = "underperform"
	// VerdictOverperform: beyond expected by more than the band.
	VerdictOverperform ProgressVerdict = "overperform"
	// VerdictNoEffect: no observable change.
	VerdictNoEffect ProgressVerdict = "no_effect"
	// VerdictRegressed: the resource moved the wrong way.
	VerdictRegressed ProgressVerdict = "regressed"
)

// ProgressConfig tunes the classification bands.
type ProgressConfig struct {
	// OnTargetTolerance is the relative band for on-target (tau).
	OnTargetTolerance float64 `json:"on_target_tolerance"`
	// PerformBand is the relative band beyond which under/over fires (beta).
	PerformBand float64 `json:"perform_band"`
	// NoEffectFloor is the absolute delta below which nothing happened.
	NoEffectFloor float64 `json:"no_effect_floor"`
	// RespawnDiscount scales observed deltas when the killed process
	// respawned.
	RespawnDiscount float64 `json:"respawn_discount"`
}

// DefaultProgressConfig returns the embedded measurement bands.
func DefaultProgressConfig() ProgressConfig {
	return ProgressConfig{
		OnTargetTolerance: 0.15,
		PerformBand:       0.30,
		NoEffectFloor:     0.01,
		RespawnDiscount:   0.5,
	}
}

// ProgressReport is the measured outcome for one goal.
type ProgressReport struct {
	Goal          ResourceGoal    `json:"goal"`
	Expected      float64         `json:"expected"`
	Observed      float64         `json:"observed"`
	Verdict       ProgressVerdict `json:"verdict"`
	PortReleased  bool            `json:"port_released,omitempty"`
	RespawnSeen   bool            `json:"respawn_seen"`
	ObservedRatio float64         `json:"observed_ratio"`
}

// MeasureProgress compares before/after snapshots against the plan's
// expected contribution. Respawn-detected outcomes discount the observed
// delta. For port goals the verdict is driven by whether the target port
// was released.
func MeasureProgress(goal ResourceGoal, expected float64, before, after MetricSnapshot,
	respawnSeen bool, cfg ProgressConfig) ProgressReport {

	report := ProgressReport{Goal: goal, Expected: expected, RespawnSeen: respawnSeen}

	var observed float64
	switch goal.Resource {
	case GoalMemory:
		observed = float64(after.FreeMemoryBytes) - float64(before.FreeMemoryBytes)
	case GoalCPU:
		observed = after.CPUIdleFraction - before.CPUIdleFraction
	case GoalFDs:
		observed = float64(before.OpenFDs) - float64(after.OpenFDs)
	case GoalPort:
		port := int(goal.Target)
		wasHeld := before.PortHolders[port]
		stillHeld := after.PortHolders[port]
		report.PortReleased = wasHeld && !stillHeld
		if report.PortReleased {
			report.Observed = 1
			report.Verdict = VerdictOnTarget
		} else if !wasHeld {
			report.Verdict = VerdictNoEffect
		} else {
			report.Verdict = VerdictUnderperform
		}
		return report
	}

	if respawnSeen {
		observed *= cfg.RespawnDiscount
	}
	report.Observed = observed

	if expected != 0 {
		report.ObservedRatio = observed / expected
	}

	switch {
	case observed < 0 && math.Abs(observed) > cfg.NoEffectFloor*math.Max(expected, 1):
		report.Verdict = VerdictRegressed
	case math.Abs(observed) <= cfg.NoEffectFloor*math.Max(expected, 1):
		report.Verdict = VerdictNoEffect
	case expected == 0:
		report.Verdict = VerdictOverperform
	case math.Abs(observed-expected) <= cfg.OnTargetTolerance*expected:
		report.Verdict = VerdictOnTarget
	case observed < expected*(1-cfg.PerformBand):
		report.Verdict = VerdictUnderperform
	case observed > expected*(1+cfg.PerformBand):
		report.Verdict = VerdictOverperform
	default:
		report.Verdict = VerdictOnTarget
	}
	return report
}
