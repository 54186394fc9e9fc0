package decision

import (
	"math"
	"sort"

	"github.com/ptops/ptriage/model"
)

// SequentialConfig controls probe-vs-act stopping.
type SequentialConfig struct {
	// VOIEpsilon is the minimum VOI worth probing for.
	VOIEpsilon float64 `json:"voi_epsilon"`
	// MaxProbes bounds the number of probes per candidate.
	MaxProbes int `json:"max_probes"`
	// VeryHighPosterior stops probing once the leading class reaches it.
	VeryHighPosterior float64 `json:"very_high_posterior"`
}

// DefaultSequentialConfig returns the embedded stopping parameters.
func DefaultSequentialConfig() SequentialConfig {
	return SequentialConfig{VOIEpsilon: 0.01, MaxProbes: 8, VeryHighPosterior: 0.99}
}

// SequentialDecision is a single probe-vs-act decision.
type SequentialDecision struct {
	// ShouldProbe is true when probing beats acting now.
	ShouldProbe bool `json:"should_probe"`
	// Probe is the selected probe when ShouldProbe.
	Probe ProbeType `json:"probe,omitempty"`
	// Act is the myopic action when not probing.
	Act model.Action `json:"act"`
	// ActLoss is the expected loss of acting now.
	ActLoss float64 `json:"act_loss"`
	// BestVOI is the highest probe VOI observed.
	BestVOI float64 `json:"best_voi"`
	// Reason explains the stop or probe choice.
	Reason string `json:"reason"`
}

// ProbeLedgerEntry records one probe evaluation or execution.
type ProbeLedgerEntry struct {
	Probe          ProbeType `json:"probe"`
	VOI            float64   `json:"voi"`
	Executed       bool      `json:"executed"`
	PosteriorDelta float64   `json:"posterior_delta,omitempty"`
}

// DecideSequential makes one probe-vs-act decision for the current
// posterior. It returns the decision plus the VOI ledger for every probe
// considered.
func DecideSequential(posterior model.ClassScores, matrix LossMatrix, feasible Feasibility,
	cfg SequentialConfig, costModel ProbeCostModel, available []ProbeType) (SequentialDecision, []ProbeLedgerEntry, error) {

	myopic, err := Decide(posterior, matrix, feasible)
	if err != nil {
		return SequentialDecision{}, nil, err
	}

	out := SequentialDecision{Act: myopic.Action, ActLoss: myopic.Loss}

	if posterior.Max() >= cfg.VeryHighPosterior {
		out.BestVOI = math.Inf(-1)
		out.Reason = "confidence very high; act now"
		return out, nil, nil
	}

	best, values := BestProbe(posterior, matrix, feasible, costModel, available)
	ledger := make([]ProbeLedgerEntry, 0, len(values))
	for _, v := range values {
		ledger = append(ledger, ProbeLedgerEntry{Probe: v.Probe, VOI: v.VOI})
	}
	if len(values) == 0 {
		out.Reason = "no probes available; act now"
		return out, ledger, nil
	}

	out.BestVOI = best.VOI
	if best.VOI > cfg.VOIEpsilon {
		out.ShouldProbe = true
		out.Probe = best.Probe
		out.Reason = "probe value exceeds epsilon"
	} else {
		out.Reason = "voi below epsilon; act now"
	}
	return out, ledger, nil
}

// ProbeExecutor runs a probe against the live process and returns the
// posterior recomputed with the new evidence folded in. This is a
// collaborator callback; the core never touches the host itself.
type ProbeExecutor func(probe ProbeType) (model.ClassScores, error)

// SequentialRun is the outcome of a full probe loop for one candidate.
type SequentialRun struct {
	Final       SequentialDecision `json:"final"`
	Posterior   model.ClassScores  `json:"posterior"`
	ProbesUsed  int                `json:"probes_used"`
	Ledger      []ProbeLedgerEntry `json:"ledger"`
	StopReason  string             `json:"stop_reason"`
	TimedOut    bool               `json:"timed_out"`
	FallbackSet bool               `json:"fallback_set"`
}

// RunSequential loops probe-vs-act until a stop condition: VOI below
// epsilon, probe budget exhausted, confidence very high, cancellation, or
// the time bound firing. elapsedSeconds and cancel are polled between
// probes only; no mid-computation interruption.
func RunSequential(posterior model.ClassScores, matrix LossMatrix, feasible Feasibility,
	cfg SequentialConfig, costModel ProbeCostModel, available []ProbeType,
	execute ProbeExecutor, timeBound *TimeBoundConfig, tMaxSeconds uint64,
	elapsedSeconds func() uint64, cancel func() bool) (SequentialRun, error) {

	run := SequentialRun{Posterior: posterior}
	remaining := append([]ProbeType(nil), available...)
	if remaining == nil {
		remaining = append(remaining, AllProbes...)
	}

	for {
		if cancel != nil && cancel() {
			run.StopReason = "cancelled"
			break
		}
		if timeBound != nil && elapsedSeconds != nil {
			uncertain := run.Posterior.Max() < cfg.VeryHighPosterior
			tb := ApplyTimeBound(*timeBound, elapsedSeconds(), tMaxSeconds, uncertain)
			if tb.StopProbing {
				run.TimedOut = true
				run.FallbackSet = tb.Fallback != nil
				if tb.Fallback != nil {
					run.Final.Act = *tb.Fallback
				}
				run.StopReason = tb.Reason
				break
			}
		}

		decision, ledger, err := DecideSequential(run.Posterior, matrix, feasible, cfg, costModel, remaining)
		if err != nil {
			return run, err
		}
		run.Final = decision
		run.Ledger = append(run.Ledger, ledger...)

		if !decision.ShouldProbe {
			run.StopReason = decision.Reason
			break
		}
		if run.ProbesUsed >= cfg.MaxProbes {
			run.StopReason = "probe budget exhausted"
			break
		}
		if execute == nil {
			run.StopReason = "no probe executor; act now"
			break
		}

		before := run.Posterior
		after, err := execute(decision.Probe)
		if err != nil {
			// A failed probe is consumed without new evidence.
			after = before
		}
		delta := posteriorDelta(before, after)
		run.Ledger = append(run.Ledger, ProbeLedgerEntry{
			Probe: decision.Probe, VOI: decision.BestVOI, Executed: true, PosteriorDelta: delta,
		})
		run.Posterior = after
		run.ProbesUsed++
		remaining = removeProbe(remaining, decision.Probe)
		if len(remaining) == 0 {
			myopic, err := Decide(run.Posterior, matrix, feasible)
			if err != nil {
				return run, err
			}
			run.Final = SequentialDecision{Act: myopic.Action, ActLoss: myopic.Loss, Reason: "probes exhausted"}
			run.StopReason = "probes exhausted"
			break
		}
	}
	return run, nil
}

func posteriorDelta(a, b model.ClassScores) float64 {
	var d float64
	for _, c := range model.Classes {
		if v := math.Abs(a.Get(c) - b.Get(c)); v > d {
			d = v
		}
	}
	return d
}

func removeProbe(probes []ProbeType, p ProbeType) []ProbeType {
	out := probes[:0]
	for _, q := range probes {
		if q != p {
			out = append(out, q)
		}
	}
	return out
}

// EsnCandidate is one candidate for expected-stop-number prioritization.
type EsnCandidate struct {
	ID        string            `json:"id"`
	Posterior model.ClassScores `json:"posterior"`
	Feasible  Feasibility       `json:"-"`
	Probes    []ProbeType       `json:"probes"`
}

// RankedCandidate pairs a candidate with its expected stop number.
type RankedCandidate struct {
	Candidate EsnCandidate `json:"candidate"`
	ESN       float64      `json:"esn"`
}

// PrioritizeByESN ranks candidates by the expected number of probes until
// the sequential controller stops at a confident action. Lower first: those
// candidates yield decisions fastest per unit probe cost. The estimate runs
// the expected-outcome trajectory (confirm branch weighted by its
// probability) rather than the full outcome tree.
func PrioritizeByESN(candidates []EsnCandidate, matrix LossMatrix,
	cfg SequentialConfig, costModel ProbeCostModel) []RankedCandidate {

	ranked := make([]RankedCandidate, 0, len(candidates))
	for _, cand := range candidates {
		ranked = append(ranked, RankedCandidate{
			Candidate: cand,
			ESN:       expectedStopNumber(cand, matrix, cfg, costModel),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].ESN != ranked[j].ESN {
			return ranked[i].ESN < ranked[j].ESN
		}
		return ranked[i].Candidate.ID < ranked[j].Candidate.ID
	})
	return ranked
}

func expectedStopNumber(cand EsnCandidate, matrix LossMatrix,
	cfg SequentialConfig, costModel ProbeCostModel) float64 {

	posterior := cand.Posterior
	feasible := cand.Feasible
	if feasible == nil {
		feasible = AllFeasible
	}
	remaining := append([]ProbeType(nil), cand.Probes...)
	if remaining == nil {
		remaining = append(remaining, AllProbes...)
	}

	var n float64
	for n < float64(cfg.MaxProbes) {
		if posterior.Max() >= cfg.VeryHighPosterior || len(remaining) == 0 {
			return n
		}
		best, values := BestProbe(posterior, matrix, feasible, costModel, remaining)
		if len(values) == 0 || best.VOI <= cfg.VOIEpsilon {
			return n
		}
		prof := costModel.Profile(best.Probe)
		top := posterior.Argmax()
		pTop := posterior.Get(top)
		// Expected trajectory: blend confirm and refute shifts by their
		// outcome probabilities.
		confirm := shiftPosterior(posterior, top, prof.Discrimination)
		refute := shiftPosterior(posterior, top, -prof.Discrimination)
		var blended model.ClassScores
		for _, c := range model.Classes {
			blended.Set(c, pTop*confirm.Get(c)+(1-pTop)*refute.Get(c))
		}
		posterior = blended
		remaining = removeProbe(remaining, best.Probe)
		n++
	}
	return n
}
