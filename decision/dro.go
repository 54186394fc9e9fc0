package decision

import (
	"sort"

	"github.com/ptops/ptriage/model"
	"github.com/ptops/ptriage/pterrors"
)

// DROTrigger is a condition that widens the Wasserstein ambiguity radius.
type DROTrigger string

const (
	TriggerPPCFailure         DROTrigger = "ppc_failure"
	TriggerDriftDetected      DROTrigger = "drift_detected"
	TriggerTemperingReduced   DROTrigger = "tempering_reduced"
	TriggerLowModelConfidence DROTrigger = "low_model_confidence"
)

// DROConfig controls distributionally-robust adjustment.
type DROConfig struct {
	Enabled bool `json:"enabled"`
	// BaseEpsilon is the ambiguity radius with no triggers active.
	BaseEpsilon float64 `json:"base_epsilon"`
	// MaxEpsilon caps radius growth.
	MaxEpsilon float64 `json:"max_epsilon"`
}

// DefaultDROConfig returns the embedded DRO parameters.
func DefaultDROConfig() DROConfig {
	return DROConfig{Enabled: true, BaseEpsilon: 0.02, MaxEpsilon: 0.25}
}

// EffectiveEpsilon grows the radius with each active trigger, doubling per
// trigger up to the cap.
func (c DROConfig) EffectiveEpsilon(triggers []DROTrigger) float64 {
	eps := c.BaseEpsilon
	for range triggers {
		eps *= 2
	}
	if eps > c.MaxEpsilon {
		eps = c.MaxEpsilon
	}
	return eps
}

// RobustLoss evaluates the worst-case expected loss of an action over the
// 1-Wasserstein ball of radius epsilon around the posterior. With unit
// ground metric between classes, the adversary moves up to epsilon of
// probability mass from the cheapest classes onto the most expensive one;
// the closed form sorts classes by loss ascending and drains from the
// cheap end.
func RobustLoss(posterior model.ClassScores, row LossRow, epsilon float64) float64 {
	base := ExpectedLoss(posterior, row)
	if epsilon <= 0 {
		return base
	}

	type cell struct {
		loss float64
		mass float64
	}
	cells := make([]cell, 0, model.NumClasses)
	worst := row.Get(model.Classes[0])
	for _, c := range model.Classes {
		cells = append(cells, cell{loss: row.Get(c), mass: posterior.Get(c)})
		if row.Get(c) > worst {
			worst = row.Get(c)
		}
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].loss < cells[j].loss })

	budget := epsilon
	gain := 0.0
	for _, cl := range cells {
		if budget <= 0 || cl.loss >= worst {
			break
		}
		move := cl.mass
		if move > budget {
			move = budget
		}
		gain += move * (worst - cl.loss)
		budget -= move
	}
	return base + gain
}

// DROOutcome reports a robust re-decision.
type DROOutcome struct {
	Epsilon    float64      `json:"epsilon"`
	Triggers   []DROTrigger `json:"triggers"`
	Action     model.Action `json:"action"`
	RobustLoss float64      `json:"robust_loss"`
	// Override is true when the robust action differs from the myopic one.
	Override     bool         `json:"override"`
	MyopicAction model.Action `json:"myopic_action"`
	Reason       string       `json:"reason,omitempty"`
}

// DecideRobust re-runs the decision under worst-case losses within the
// trigger-adjusted ambiguity ball. When the robust argmin differs from the
// myopic action, the outcome records the override.
func DecideRobust(posterior model.ClassScores, matrix LossMatrix, feasible Feasibility,
	cfg DROConfig, triggers []DROTrigger, myopic model.Action) (DROOutcome, error) {

	eps := cfg.EffectiveEpsilon(triggers)
	out := DROOutcome{Epsilon: eps, Triggers: triggers, MyopicAction: myopic}

	if feasible == nil {
		feasible = AllFeasible
	}
	best := model.ActionKeep
	bestLoss := 0.0
	found := false
	for _, a := range model.Actions {
		if ok, _ := feasible(a); !ok {
			continue
		}
		loss := RobustLoss(posterior, matrix.Row(a), eps)
		if !found || loss < bestLoss ||
			(loss == bestLoss && a.BlastRank() < best.BlastRank()) {
			best, bestLoss, found = a, loss, true
		}
	}
	if !found {
		return out, pterrors.New(pterrors.KindPolicyBlocked, "no feasible action")
	}
	out.Action = best
	out.RobustLoss = bestLoss
	if best != myopic {
		out.Override = true
		out.Reason = "worst-case loss within ambiguity ball favors " + best.String()
	}
	return out, nil
}
