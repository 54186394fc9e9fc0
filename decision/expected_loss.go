// Package decision implements the decision layers the orchestrator composes:
// myopic expected-loss minimization, FDR selection, alpha-investing,
// value-of-information probing, time-bound stopping, distributionally-robust
// adjustment, dependency-weighted loss, rate limiting, respawn-loop
// detection, goal planning, and recovery planning.
//
// Subsystems here do not call each other; the orchestrator is the only
// composer.
package decision

import (
	"math"
	"sort"

	"github.com/ptops/ptriage/model"
	"github.com/ptops/ptriage/pterrors"
)

// LossRow is one action's loss against every class.
type LossRow struct {
	Useful    float64 `json:"useful"`
	UsefulBad float64 `json:"useful_bad"`
	Abandoned float64 `json:"abandoned"`
	Zombie    float64 `json:"zombie"`
}

// Get returns the loss for a class.
func (r LossRow) Get(c model.Class) float64 {
	switch c {
	case model.ClassUseful:
		return r.Useful
	case model.ClassUsefulBad:
		return r.UsefulBad
	case model.ClassAbandoned:
		return r.Abandoned
	case model.ClassZombie:
		return r.Zombie
	}
	return math.NaN()
}

// Slice returns the row in canonical class order.
func (r LossRow) Slice() []float64 {
	return []float64{r.Useful, r.UsefulBad, r.Abandoned, r.Zombie}
}

// LossMatrix maps every action to its per-class loss row. All entries are
// non-negative.
type LossMatrix struct {
	Keep       LossRow `json:"keep"`
	Renice     LossRow `json:"renice"`
	Pause      LossRow `json:"pause"`
	Throttle   LossRow `json:"throttle"`
	Quarantine LossRow `json:"quarantine"`
	Restart    LossRow `json:"restart"`
	Kill       LossRow `json:"kill"`
}

// Row returns the loss row for an action.
func (m LossMatrix) Row(a model.Action) LossRow {
	switch a {
	case model.ActionKeep:
		return m.Keep
	case model.ActionRenice:
		return m.Renice
	case model.ActionPause:
		return m.Pause
	case model.ActionThrottle:
		return m.Throttle
	case model.ActionQuarantine:
		return m.Quarantine
	case model.ActionRestart:
		return m.Restart
	case model.ActionKill:
		return m.Kill
	}
	return LossRow{}
}

// SetRow replaces the loss row for an action.
func (m *LossMatrix) SetRow(a model.Action, r LossRow) {
	switch a {
	case model.ActionKeep:
		m.Keep = r
	case model.ActionRenice:
		m.Renice = r
	case model.ActionPause:
		m.Pause = r
	case model.ActionThrottle:
		m.Throttle = r
	case model.ActionQuarantine:
		m.Quarantine = r
	case model.ActionRestart:
		m.Restart = r
	case model.ActionKill:
		m.Kill = r
	}
}

// DefaultLossMatrix returns the embedded loss matrix. Keeping a truly
// abandoned process is expensive; killing a useful one is the worst outcome.
func DefaultLossMatrix() LossMatrix {
	return LossMatrix{
		Keep:       LossRow{Useful: 0, UsefulBad: 3, Abandoned: 8, Zombie: 6},
		Renice:     LossRow{Useful: 1, UsefulBad: 2, Abandoned: 7, Zombie: 6},
		Pause:      LossRow{Useful: 3, UsefulBad: 2.5, Abandoned: 2.5, Zombie: 5},
		Throttle:   LossRow{Useful: 2, UsefulBad: 2, Abandoned: 5, Zombie: 5.5},
		Quarantine: LossRow{Useful: 5, UsefulBad: 4, Abandoned: 3, Zombie: 4},
		Restart:    LossRow{Useful: 6, UsefulBad: 5, Abandoned: 3, Zombie: 3},
		Kill:       LossRow{Useful: 10, UsefulBad: 6, Abandoned: 0.5, Zombie: 0.2},
	}
}

// Feasibility reports whether an action can be attempted for the current
// candidate. Infeasible actions stay in the loss table with a reason but are
// excluded from the argmin.
type Feasibility func(a model.Action) (ok bool, reason string)

// AllFeasible is the permissive feasibility predicate.
func AllFeasible(model.Action) (bool, string) { return true, "" }

// ActionLoss is one row of the expected-loss table.
type ActionLoss struct {
	Action   model.Action `json:"action"`
	Loss     float64      `json:"loss"`
	Feasible bool         `json:"feasible"`
	Reason   string       `json:"reason,omitempty"`
}

// LossTable is the per-action expected-loss table, sorted ascending by loss.
type LossTable []ActionLoss

// Loss returns the expected loss for an action, or NaN when absent.
func (t LossTable) Loss(a model.Action) float64 {
	for _, row := range t {
		if row.Action == a {
			return row.Loss
		}
	}
	return math.NaN()
}

// MyopicDecision is the outcome of expected-loss minimization.
type MyopicDecision struct {
	Action model.Action `json:"action"`
	Loss   float64      `json:"loss"`
	Table  LossTable    `json:"table"`
}

// ExpectedLoss computes E[L|a] = sum_c p_c * L[a][c] for one action.
func ExpectedLoss(posterior model.ClassScores, row LossRow) float64 {
	var e float64
	for _, c := range model.Classes {
		e += posterior.Get(c) * row.Get(c)
	}
	return e
}

// Decide picks the feasible action with minimum expected loss. Ties break by
// lower blast rank, then lexicographic action name. The full table (including
// infeasible actions with reasons) is returned sorted ascending by loss.
//
// Fails with a KindPolicyBlocked error when every action is infeasible;
// callers map that to Keep.
func Decide(posterior model.ClassScores, matrix LossMatrix, feasible Feasibility) (MyopicDecision, error) {
	if feasible == nil {
		feasible = AllFeasible
	}
	table := make(LossTable, 0, len(model.Actions))
	for _, a := range model.Actions {
		ok, reason := feasible(a)
		table = append(table, ActionLoss{
			Action:   a,
			Loss:     ExpectedLoss(posterior, matrix.Row(a)),
			Feasible: ok,
			Reason:   reason,
		})
	}
	sort.SliceStable(table, func(i, j int) bool {
		if table[i].Loss != table[j].Loss {
			return table[i].Loss < table[j].Loss
		}
		if table[i].Action.BlastRank() != table[j].Action.BlastRank() {
			return table[i].Action.BlastRank() < table[j].Action.BlastRank()
		}
		return table[i].Action.String() < table[j].Action.String()
	})

	for _, row := range table {
		if row.Feasible {
			return MyopicDecision{Action: row.Action, Loss: row.Loss, Table: table}, nil
		}
	}
	return MyopicDecision{Table: table},
		pterrors.New(pterrors.KindPolicyBlocked, "no feasible action")
}
