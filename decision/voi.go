package decision

import (
	"math"

	"github.com/ptops/ptriage/model"
	"github.com/ptops/ptriage/numerics"
)

// ProbeType identifies an evidence probe the sequential controller can run.
type ProbeType string

const (
	ProbeQuickScan       ProbeType = "quick_scan"
	ProbeDeepScan        ProbeType = "deep_scan"
	ProbeChildIO         ProbeType = "child_io"
	ProbeSupervisorCheck ProbeType = "supervisor_check"
	ProbeNetInspect      ProbeType = "net_inspect"
)

// AllProbes lists every probe type in preference order.
var AllProbes = []ProbeType{
	ProbeQuickScan, ProbeDeepScan, ProbeChildIO,
	ProbeSupervisorCheck, ProbeNetInspect,
}

// ProbeProfile models a probe's cost and its expected discriminative power
// in nats of log-likelihood ratio for or against the leading class.
type ProbeProfile struct {
	Cost           float64 `json:"cost"`
	Discrimination float64 `json:"discrimination"`
}

// ProbeCostModel maps probe types to their profiles.
type ProbeCostModel struct {
	Profiles map[ProbeType]ProbeProfile `json:"profiles"`
}

// DefaultProbeCostModel returns the embedded probe profiles. Quick scans are
// cheap and weak; deep scans cost more and discriminate harder.
func DefaultProbeCostModel() ProbeCostModel {
	return ProbeCostModel{Profiles: map[ProbeType]ProbeProfile{
		ProbeQuickScan:       {Cost: 0.02, Discrimination: 0.7},
		ProbeDeepScan:        {Cost: 0.15, Discrimination: 1.8},
		ProbeChildIO:         {Cost: 0.05, Discrimination: 1.0},
		ProbeSupervisorCheck: {Cost: 0.03, Discrimination: 0.8},
		ProbeNetInspect:      {Cost: 0.06, Discrimination: 1.1},
	}}
}

// Profile returns the profile for a probe, or a zero-value profile.
func (m ProbeCostModel) Profile(p ProbeType) ProbeProfile {
	return m.Profiles[p]
}

// ProbeValue is the computed value of information for one probe.
type ProbeValue struct {
	Probe            ProbeType `json:"probe"`
	VOI              float64   `json:"voi"`
	Cost             float64   `json:"cost"`
	ExpectedLossDrop float64   `json:"expected_loss_drop"`
}

// shiftPosterior applies a log-likelihood shift of d nats to the leading
// class and renormalizes. Negative d moves mass away from the leader.
func shiftPosterior(p model.ClassScores, top model.Class, d float64) model.ClassScores {
	logp := make([]float64, model.NumClasses)
	for i, c := range model.Classes {
		v := numerics.Clamp(p.Get(c), numerics.ProbFloor, numerics.ProbCeil)
		logp[i] = math.Log(v)
		if c == top {
			logp[i] += d
		}
	}
	return model.ScoresFromSlice(numerics.StableSoftmax(logp))
}

// minFeasibleLoss returns the minimum expected loss over feasible actions,
// or +Inf when nothing is feasible.
func minFeasibleLoss(p model.ClassScores, matrix LossMatrix, feasible Feasibility) float64 {
	d, err := Decide(p, matrix, feasible)
	if err != nil {
		return math.Inf(1)
	}
	return d.Loss
}

// ProbeVOI computes the value of information for a single probe: the
// expected reduction in minimum decision loss from observing the probe's
// outcome, minus the probe cost.
//
// The outcome is modeled as binary: with probability p_top the probe
// confirms the leading class (shifting +d nats onto it), otherwise it
// disconfirms (-d nats). Both branches are re-decided and the minimum
// losses averaged.
func ProbeVOI(posterior model.ClassScores, matrix LossMatrix, feasible Feasibility,
	costModel ProbeCostModel, probe ProbeType) ProbeValue {

	prof := costModel.Profile(probe)
	top := posterior.Argmax()
	pTop := numerics.Clamp(posterior.Get(top), numerics.ProbFloor, numerics.ProbCeil)

	current := minFeasibleLoss(posterior, matrix, feasible)
	confirm := minFeasibleLoss(shiftPosterior(posterior, top, prof.Discrimination), matrix, feasible)
	refute := minFeasibleLoss(shiftPosterior(posterior, top, -prof.Discrimination), matrix, feasible)

	expectedAfter := pTop*confirm + (1-pTop)*refute
	drop := current - expectedAfter
	if math.IsNaN(drop) || math.IsInf(drop, 0) {
		drop = 0
	}
	if drop < 0 {
		drop = 0
	}
	return ProbeValue{
		Probe:            probe,
		VOI:              drop - prof.Cost,
		Cost:             prof.Cost,
		ExpectedLossDrop: drop,
	}
}

// BestProbe evaluates the available probes and returns the one with the
// highest VOI alongside the full evaluation. Available defaults to every
// probe in the cost model.
func BestProbe(posterior model.ClassScores, matrix LossMatrix, feasible Feasibility,
	costModel ProbeCostModel, available []ProbeType) (ProbeValue, []ProbeValue) {

	if available == nil {
		available = AllProbes
	}
	var best ProbeValue
	best.VOI = math.Inf(-1)
	values := make([]ProbeValue, 0, len(available))
	for _, p := range available {
		if _, ok := costModel.Profiles[p]; !ok {
			continue
		}
		v := ProbeVOI(posterior, matrix, feasible, costModel, p)
		values = append(values, v)
		if v.VOI > best.VOI {
			best = v
		}
	}
	return best, values
}
