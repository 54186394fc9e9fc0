package decision

import (
	"fmt"
	"math"

	"github.com/ptops/ptriage/model"
)

// TimeBoundConfig controls the time-to-decision bound T_max.
type TimeBoundConfig struct {
	Enabled               bool    `json:"enabled"`
	MinSeconds            uint64  `json:"min_seconds"`
	MaxSeconds            uint64  `json:"max_seconds"`
	VOIDecayHalfLifeSecs  uint64  `json:"voi_decay_half_life_seconds"`
	VOIFloor              float64 `json:"voi_floor"`
	OverheadBudgetSeconds uint64  `json:"overhead_budget_seconds"`
	// FallbackAction names the conservative action applied when the bound
	// fires with an uncertain posterior. Unknown names resolve to pause.
	FallbackAction string `json:"fallback_action"`
}

// DefaultTimeBoundConfig returns the embedded time-bound parameters.
func DefaultTimeBoundConfig() TimeBoundConfig {
	return TimeBoundConfig{
		Enabled:               true,
		MinSeconds:            60,
		MaxSeconds:            600,
		VOIDecayHalfLifeSecs:  120,
		VOIFloor:              0.01,
		OverheadBudgetSeconds: 180,
		FallbackAction:        "pause",
	}
}

// TMaxDecision is the computed stopping time.
type TMaxDecision struct {
	TMaxSeconds   uint64  `json:"t_max_seconds"`
	BudgetSeconds uint64  `json:"budget_seconds"`
	HalfLifeSecs  uint64  `json:"voi_decay_half_life_seconds"`
	VOIFloor      float64 `json:"voi_floor"`
	Reason        string  `json:"reason"`
}

// TimeBoundOutcome is the result of applying the bound mid-decision.
type TimeBoundOutcome struct {
	StopProbing bool          `json:"stop_probing"`
	Fallback    *model.Action `json:"fallback_action,omitempty"`
	Reason      string        `json:"reason"`
}

// ComputeTMax derives T_max from the VOI decay model:
//
//	t_voi = half_life * log2(voi_initial / voi_floor)
//	T_max = min(max(min_seconds, ceil(t_voi)), max_seconds, budget)
//
// A non-positive floor disables VOI decay (t_voi = max_seconds); an initial
// VOI at or below the floor yields zero.
func ComputeTMax(cfg TimeBoundConfig, voiInitial float64, overrideBudget *uint64) TMaxDecision {
	budget := cfg.OverheadBudgetSeconds
	if overrideBudget != nil {
		budget = *overrideBudget
	}
	if budget < 1 {
		budget = 1
	}
	if voiInitial < 0 {
		voiInitial = 0
	}
	floor := cfg.VOIFloor
	if floor < 0 {
		floor = 0
	}
	halfLife := float64(cfg.VOIDecayHalfLifeSecs)
	if halfLife < 1 {
		halfLife = 1
	}

	var tVoi float64
	switch {
	case floor <= 0:
		tVoi = float64(cfg.MaxSeconds)
	case voiInitial <= floor:
		tVoi = 0
	default:
		tVoi = halfLife * math.Log2(voiInitial/floor)
	}

	tVoiSec := uint64(math.Max(math.Ceil(tVoi), 0))
	base := cfg.MinSeconds
	if tVoiSec > base {
		base = tVoiSec
	}
	tMax := base
	if cfg.MaxSeconds < tMax {
		tMax = cfg.MaxSeconds
	}
	if budget < tMax {
		tMax = budget
	}

	return TMaxDecision{
		TMaxSeconds:   tMax,
		BudgetSeconds: budget,
		HalfLifeSecs:  cfg.VOIDecayHalfLifeSecs,
		VOIFloor:      cfg.VOIFloor,
		Reason: fmt.Sprintf(
			"T_max set to %ds (min=%d, max=%d, budget=%d, voi_half_life=%d, voi_floor=%g)",
			tMax, cfg.MinSeconds, cfg.MaxSeconds, budget, cfg.VOIDecayHalfLifeSecs, cfg.VOIFloor),
	}
}

// ApplyTimeBound checks an in-flight decision against T_max. When the bound
// fires with an uncertain posterior, the policy's fallback action is
// substituted; a confident posterior stops probing without a fallback.
func ApplyTimeBound(cfg TimeBoundConfig, elapsedSeconds, tMaxSeconds uint64, isUncertain bool) TimeBoundOutcome {
	if !cfg.Enabled {
		return TimeBoundOutcome{Reason: "time bound disabled"}
	}
	if elapsedSeconds < tMaxSeconds {
		return TimeBoundOutcome{
			Reason: fmt.Sprintf("elapsed %ds < T_max %ds", elapsedSeconds, tMaxSeconds),
		}
	}
	out := TimeBoundOutcome{StopProbing: true}
	if isUncertain {
		fb := ResolveFallbackAction(cfg)
		out.Fallback = &fb
		out.Reason = fmt.Sprintf("elapsed %ds >= T_max %ds; fallback action applied", elapsedSeconds, tMaxSeconds)
	} else {
		out.Reason = fmt.Sprintf("elapsed %ds >= T_max %ds; decision confident; no fallback", elapsedSeconds, tMaxSeconds)
	}
	return out
}

// ResolveFallbackAction maps the configured fallback name to an action,
// defaulting to pause.
func ResolveFallbackAction(cfg TimeBoundConfig) model.Action {
	if a, ok := model.ParseAction(cfg.FallbackAction); ok {
		return a
	}
	return model.ActionPause
}
