package decision

import (
	"math"

	"github.com/ptops/ptriage/model"
	"github.com/ptops/ptriage/numerics"
)

// RobustConfig controls credal-set and minimax gating.
type RobustConfig struct {
	// Tempering is the eta applied to posterior tempering; reduced on PPC
	// failure or drift.
	Tempering float64 `json:"tempering"`
	// CredalWidth is the half-width of the interval around each class
	// probability point estimate.
	CredalWidth float64 `json:"credal_width"`
	// RobustLossThreshold is the per-action robustness bar: an action is
	// robust when its expected loss at every credal vertex stays below it.
	RobustLossThreshold float64 `json:"robust_loss_threshold"`
	// WorstCaseCap is the minimax gate: worst-case loss above it is unsafe.
	WorstCaseCap float64 `json:"worst_case_cap"`
}

// DefaultRobustConfig returns the embedded robustness parameters.
func DefaultRobustConfig() RobustConfig {
	return RobustConfig{
		Tempering:           1.0,
		CredalWidth:         0.05,
		RobustLossThreshold: 4.0,
		WorstCaseCap:        8.0,
	}
}

// TemperedPosterior flattens a posterior by eta via Beta-style tempering of
// the class probabilities: p_c^eta renormalized. Eta 1 is identity; smaller
// eta moves toward uniform.
func TemperedPosterior(p model.ClassScores, eta float64) model.ClassScores {
	if eta <= 0 || eta >= 1 {
		if eta == 1 {
			return p
		}
		eta = numerics.Clamp(eta, 0.01, 1)
	}
	logp := make([]float64, model.NumClasses)
	for i, c := range model.Classes {
		v := numerics.Clamp(p.Get(c), numerics.ProbFloor, numerics.ProbCeil)
		logp[i] = eta * math.Log(v)
	}
	return model.ScoresFromSlice(numerics.StableSoftmax(logp))
}

// CredalSet is an interval of posteriors: per-class probability bounds.
type CredalSet struct {
	Lower model.ClassScores `json:"lower"`
	Upper model.ClassScores `json:"upper"`
}

// CredalAround builds the interval of half-width w around a point estimate,
// clipped to [0,1].
func CredalAround(p model.ClassScores, w float64) CredalSet {
	var lo, hi model.ClassScores
	for _, c := range model.Classes {
		lo.Set(c, numerics.Clamp(p.Get(c)-w, 0, 1))
		hi.Set(c, numerics.Clamp(p.Get(c)+w, 0, 1))
	}
	return CredalSet{Lower: lo, Upper: hi}
}

// Intersect returns the tightest set contained in both, and whether the
// result is non-empty in every coordinate.
func (s CredalSet) Intersect(o CredalSet) (CredalSet, bool) {
	var out CredalSet
	ok := true
	for _, c := range model.Classes {
		lo := math.Max(s.Lower.Get(c), o.Lower.Get(c))
		hi := math.Min(s.Upper.Get(c), o.Upper.Get(c))
		if lo > hi {
			ok = false
		}
		out.Lower.Set(c, lo)
		out.Upper.Set(c, hi)
	}
	return out, ok
}

// Hull returns the smallest set containing both.
func (s CredalSet) Hull(o CredalSet) CredalSet {
	var out CredalSet
	for _, c := range model.Classes {
		out.Lower.Set(c, math.Min(s.Lower.Get(c), o.Lower.Get(c)))
		out.Upper.Set(c, math.Max(s.Upper.Get(c), o.Upper.Get(c)))
	}
	return out
}

// Expand widens the set by w on both sides, clipped to [0,1].
func (s CredalSet) Expand(w float64) CredalSet {
	var out CredalSet
	for _, c := range model.Classes {
		out.Lower.Set(c, numerics.Clamp(s.Lower.Get(c)-w, 0, 1))
		out.Upper.Set(c, numerics.Clamp(s.Upper.Get(c)+w, 0, 1))
	}
	return out
}

// Vertices enumerates the corner distributions of the interval, each
// renormalized to sum to 1. 2^4 corners; degenerate corners (zero total)
// are skipped.
func (s CredalSet) Vertices() []model.ClassScores {
	out := make([]model.ClassScores, 0, 16)
	for mask := 0; mask < 1<<model.NumClasses; mask++ {
		var v model.ClassScores
		for i, c := range model.Classes {
			if mask&(1<<i) != 0 {
				v.Set(c, s.Upper.Get(c))
			} else {
				v.Set(c, s.Lower.Get(c))
			}
		}
		total := v.Sum()
		if total <= 0 {
			continue
		}
		for _, c := range model.Classes {
			v.Set(c, v.Get(c)/total)
		}
		out = append(out, v)
	}
	return out
}

// IsRobustAction reports whether an action's expected loss stays below the
// robustness threshold at every vertex of the credal set.
func IsRobustAction(set CredalSet, row LossRow, threshold float64) bool {
	for _, v := range set.Vertices() {
		if ExpectedLoss(v, row) > threshold {
			return false
		}
	}
	return true
}

// MinimaxReport is the outcome of worst-case gating across a credal set.
type MinimaxReport struct {
	// WorstCaseLoss is the maximum expected loss of the chosen action over
	// the credal vertices.
	WorstCaseLoss float64 `json:"worst_case_loss"`
	// Unsafe is true when the worst case exceeds the policy cap.
	Unsafe bool `json:"unsafe"`
	// LeastFavorable is the vertex achieving the worst case.
	LeastFavorable model.ClassScores `json:"least_favorable"`
	// Stable is true when the action choice agrees between the point
	// estimate and the least-favorable vertex.
	Stable bool `json:"stable"`
	// AlternativeAction is the argmin at the least-favorable vertex.
	AlternativeAction model.Action `json:"alternative_action"`
}

// MinimaxGate evaluates an action against the worst-case vertex of the
// credal set and reports stability of the choice across the two candidate
// actions.
func MinimaxGate(set CredalSet, matrix LossMatrix, feasible Feasibility,
	action model.Action, cfg RobustConfig) MinimaxReport {

	row := matrix.Row(action)
	report := MinimaxReport{WorstCaseLoss: math.Inf(-1)}
	for _, v := range set.Vertices() {
		if loss := ExpectedLoss(v, row); loss > report.WorstCaseLoss {
			report.WorstCaseLoss = loss
			report.LeastFavorable = v
		}
	}
	if math.IsInf(report.WorstCaseLoss, -1) {
		report.WorstCaseLoss = ExpectedLoss(set.Lower, row)
		report.LeastFavorable = set.Lower
	}
	report.Unsafe = report.WorstCaseLoss > cfg.WorstCaseCap

	if alt, err := Decide(report.LeastFavorable, matrix, feasible); err == nil {
		report.AlternativeAction = alt.Action
		report.Stable = alt.Action == action
	}
	return report
}
