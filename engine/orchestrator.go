// Package engine wires the decision layers into the per-candidate pipeline,
// runs the daemon trigger machine, and produces the audit trail. The
// orchestrator is the only component that composes gates; subsystems never
// call each other.
package engine

import (
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/ptops/ptriage/calibrate"
	"github.com/ptops/ptriage/collector"
	"github.com/ptops/ptriage/decision"
	"github.com/ptops/ptriage/inference"
	"github.com/ptops/ptriage/model"
	"github.com/ptops/ptriage/policy"
	"github.com/ptops/ptriage/pressure"
	"github.com/ptops/ptriage/priors"
	"github.com/ptops/ptriage/pterrors"
)

// Rationale names the dominant reason behind a decision outcome.
type Rationale string

const (
	RationaleLossArgmin  Rationale = "loss-argmin"
	RationaleProtected   Rationale = "protected"
	RationaleRobot       Rationale = "robot"
	RationaleRateLimited Rationale = "rate-limited"
	RationaleTimeBound   Rationale = "time-bound"
	RationaleDROOverride Rationale = "dro-override"
	RationaleAlphaDenied Rationale = "alpha-denied"
)

// AuditRecord is one gate consultation, in order.
type AuditRecord struct {
	Gate    string `json:"gate"`
	Allowed bool   `json:"allowed"`
	Detail  string `json:"detail,omitempty"`
}

// DisabledAction pairs an excluded action with its reason.
type DisabledAction struct {
	Action model.Action `json:"action"`
	Reason string       `json:"reason"`
}

// DecisionOutcome is the orchestrator's full answer for one candidate.
type DecisionOutcome struct {
	Identity  model.ProcessIdentity  `json:"identity"`
	Action    model.Action           `json:"action"`
	Rationale Rationale              `json:"rationale"`
	Posterior model.ClassScores      `json:"posterior"`
	Ledger    inference.EvidenceLedger `json:"ledger"`
	Table     decision.LossTable     `json:"table"`
	Disabled  []DisabledAction       `json:"disabled,omitempty"`
	Audit     []AuditRecord          `json:"audit"`
	// EValue is the candidate's evidence strength for FDR selection:
	// the posterior odds of abandoned against useful.
	EValue float64 `json:"e_value"`
	// Respawn carries the loop detection when one was consulted.
	Respawn *decision.RespawnDetection `json:"respawn,omitempty"`
	// DRO carries the robust re-decision when triggered.
	DRO *decision.DROOutcome `json:"dro,omitempty"`
}

// Candidate is the orchestrator's per-process input.
type Candidate struct {
	Enforcer   policy.Candidate           `json:"enforcer"`
	Evidence   model.Evidence             `json:"evidence"`
	Dependency decision.DependencyFactors `json:"dependency"`
	// SupervisorUnit is the owning unit when the process is supervised.
	SupervisorUnit string `json:"supervisor_unit,omitempty"`
	// ElapsedSeconds is decision wall-clock consumed so far, for the
	// time bound.
	ElapsedSeconds uint64 `json:"elapsed_seconds"`
	// DROTriggers are the robustness triggers active for this candidate.
	DROTriggers []decision.DROTrigger `json:"dro_triggers,omitempty"`
}

// Orchestrator composes every gate for a session.
type Orchestrator struct {
	Priors   *priors.Priors
	Policy   policy.Policy
	Enforcer *policy.Enforcer
	Rate     *decision.RateLimiter
	Alpha    *decision.AlphaInvesting
	Respawn  *decision.RespawnTracker
	Pressure *pressure.Monitor
	// Calibration feeds robustness triggers and posterior tempering from
	// model-fit evidence.
	Calibration *calibrate.Monitor
	Clock       collector.Clock
	Log         *zap.Logger

	// CancelRequested is polled between candidates; nil means never.
	CancelRequested func() bool

	// tMax is computed once per session from the policy time bound.
	tMax uint64
}

// NewOrchestrator wires a session's gates from a policy snapshot.
func NewOrchestrator(pri *priors.Priors, pol policy.Policy, log *zap.Logger) *Orchestrator {
	tmax := decision.ComputeTMax(pol.TimeBound, initialVOIEstimate, nil)
	return &Orchestrator{
		Priors:   pri,
		Policy:   pol,
		Enforcer: policy.NewEnforcer(pol, true),
		Rate:     decision.NewRateLimiter(pol.RateLimit, nil, nil),
		Alpha:    decision.NewAlphaInvesting(pol.AlphaInvesting),
		Respawn:     decision.NewRespawnTracker(),
		Pressure:    pressure.NewMonitor(pol.Pressure),
		Calibration: calibrate.NewMonitor(calibrate.DefaultMonitorConfig()),
		Clock:       collector.SystemClock{},
		Log:         log,
		tMax:        tmax.TMaxSeconds,
	}
}

// initialVOIEstimate seeds T_max before any probe has run.
const initialVOIEstimate = 0.5

// DecideCandidate runs the full gate pipeline for one candidate.
func (o *Orchestrator) DecideCandidate(cand Candidate) (DecisionOutcome, error) {
	out := DecisionOutcome{Identity: cand.Enforcer.Identity}
	audit := func(gate string, allowed bool, detail string) {
		out.Audit = append(out.Audit, AuditRecord{Gate: gate, Allowed: allowed, Detail: detail})
	}

	// 1. Posterior and ledger.
	post, err := inference.ComputePosterior(o.Priors, cand.Evidence)
	if err != nil {
		audit("posterior", false, err.Error())
		return out, err
	}
	out.Posterior = post.Posterior
	out.Ledger = inference.BuildLedger(post, 5)
	out.EValue = clampEValue(post.LogOddsAbandonedVsUseful)
	audit("posterior", true, "classified "+out.Ledger.Classification.String())

	enfCand := cand.Enforcer
	enfCand.Posterior = post.Posterior.Max()
	enfCand.Supervised = enfCand.Supervised || cand.SupervisorUnit != ""

	// 5. Dependency scaling shapes the kill row before any argmin.
	depResult := decision.ComputeDependencyScaling(1, cand.Dependency, o.Policy.Dependency)
	matrix := o.Policy.LossMatrix
	killRow := matrix.Kill
	matrix.Kill = decision.LossRow{
		Useful:    killRow.Useful * depResult.ScaleFactor,
		UsefulBad: killRow.UsefulBad * depResult.ScaleFactor,
		Abandoned: killRow.Abandoned * depResult.ScaleFactor,
		Zombie:    killRow.Zombie * depResult.ScaleFactor,
	}

	// Feasibility comes from the enforcer verdicts.
	verdicts := make(map[model.Action]policy.Verdict, len(model.Actions))
	for _, a := range model.Actions {
		verdicts[a] = o.Enforcer.Check(enfCand, a)
	}
	feasible := func(a model.Action) (bool, string) {
		v := verdicts[a]
		if v.Allowed {
			return true, ""
		}
		return false, strings.Join(v.Violations, "; ")
	}

	// 2. Myopic expected-loss decision.
	myopic, err := decision.Decide(post.Posterior, matrix, feasible)
	if err != nil {
		// Everything infeasible maps to keep.
		audit("expected_loss", false, "no feasible action; keeping")
		out.Action = model.ActionKeep
		out.Rationale = blockedRationale(verdicts)
		out.Table = myopic.Table
		o.recordDisabled(&out, verdicts)
		return out, nil
	}
	out.Table = myopic.Table
	out.Action = myopic.Action
	out.Rationale = RationaleLossArgmin
	audit("expected_loss", true, "argmin "+myopic.Action.String())
	// Keep chosen only because better actions were gated out carries the
	// gate's rationale, not argmin's.
	if out.Action == model.ActionKeep && anyBlocked(verdicts) {
		out.Rationale = blockedRationale(verdicts)
	}

	// 3. DRO override when enabled and triggered. The calibration monitor
	// contributes the computed triggers (PPC failure, drift, tempering
	// reduced, low model confidence) on top of any caller-supplied ones,
	// and the tempered posterior carries the misfit into the worst-case
	// evaluation.
	droTriggers := cand.DROTriggers
	droPosterior := post.Posterior
	if o.Calibration != nil {
		o.Calibration.ObservePosterior(post.Posterior)
		droTriggers = mergeTriggers(droTriggers, o.Calibration.ActiveTriggers())
		if eta := o.Calibration.Tempering(); eta < 1 {
			droPosterior = decision.TemperedPosterior(post.Posterior, eta)
			audit("calibration", true, "tempering reduced")
		} else {
			audit("calibration", true, "")
		}
	}
	if o.Policy.DRO.Enabled && len(droTriggers) > 0 {
		dro, err := decision.DecideRobust(droPosterior, matrix, feasible,
			o.Policy.DRO, droTriggers, myopic.Action)
		if err == nil {
			out.DRO = &dro
			audit("dro", true, dro.Action.String())
			if dro.Override {
				out.Action = dro.Action
				out.Rationale = RationaleDROOverride
			}
		}
	}

	// 4. Respawn-loop kill discount, applied to the expected kill loss.
	now := float64(o.Clock.Now().Unix())
	detection := o.Respawn.DetectLoop(enfCand.Identity.Key(), o.Policy.Respawn, now)
	out.Respawn = &detection
	if detection.IsLoop {
		keepLoss := out.Table.Loss(model.ActionKeep)
		killLoss := out.Table.Loss(model.ActionKill)
		discounted := decision.DiscountKillLoss(keepLoss, killLoss, detection.KillUtilityMultiplier)
		out.Table = retableKill(out.Table, discounted)
		audit("respawn_discount", true, string(detection.Recommendation))
		if best := bestFeasible(out.Table); best != nil && best.Action != out.Action {
			out.Action = best.Action
			out.Rationale = RationaleLossArgmin
		}
	} else {
		audit("respawn_discount", true, "no loop")
	}
	audit("dependency_scaling", true, "")

	// 6-7. Irreversible actions pass the rate limiter, alpha budget, and
	// the enforcer verdict under the pressure-adjusted caps.
	if out.Action.Irreversible() {
		adj := o.Pressure.Adjustments()

		verdict := o.Enforcer.CheckBatched(enfCand, out.Action)
		allowed := verdict.Allowed
		if !allowed && adj.MinPosterior > 0 {
			allowed = verdictAllowsWithRelaxedPosterior(verdict, enfCand.Posterior, adj.MinPosterior)
		}
		audit("policy_enforcer", allowed, strings.Join(verdict.Violations, "; "))
		if robotViolated(verdict) {
			audit("robot", allowed, "")
		} else {
			audit("robot", true, "")
		}
		if !allowed {
			out.Action = fallbackFrom(out.Table, out.Action)
			if verdict.Protected {
				out.Rationale = RationaleProtected
			} else {
				out.Rationale = RationaleRobot
			}
		} else {
			rate := o.Rate.CheckWithOverride(false, adj.PerRunKills)
			audit("rate_limiter", rate.Allowed, rate.Window)
			if !rate.Allowed {
				out.Action = fallbackFrom(out.Table, out.Action)
				out.Rationale = RationaleRateLimited
			} else {
				spend := o.Alpha.TrySpend(post.Posterior.Max())
				audit("alpha_investing", spend.Allowed, "")
				if !spend.Allowed {
					out.Action = fallbackFrom(out.Table, out.Action)
					out.Rationale = RationaleAlphaDenied
				} else if out.Action == model.ActionKill {
					o.Rate.RecordKill()
				}
			}
		}
	}
	audit("mem_pressure", true, string(o.Pressure.Mode()))

	// 8. Time-bound fallback when elapsed >= T_max with uncertainty.
	uncertain := post.Posterior.Max() < o.Policy.Robot.MinPosterior
	tb := decision.ApplyTimeBound(o.Policy.TimeBound, cand.ElapsedSeconds, o.tMax, uncertain)
	audit("time_bound", !tb.StopProbing || tb.Fallback == nil, tb.Reason)
	if tb.StopProbing && tb.Fallback != nil {
		out.Action = *tb.Fallback
		out.Rationale = RationaleTimeBound
	}

	o.recordDisabled(&out, verdicts)
	return out, nil
}

// DecideBatch runs the pipeline over candidates in order, honoring
// cancellation between candidates, then applies FDR selection over the
// kill decisions (step 9). Kills not surviving selection fall back to the
// next-best action.
func (o *Orchestrator) DecideBatch(cands []Candidate) ([]DecisionOutcome, decision.FDRSelection, error) {
	outcomes := make([]DecisionOutcome, 0, len(cands))
	for _, cand := range cands {
		if o.CancelRequested != nil && o.CancelRequested() {
			return outcomes, decision.FDRSelection{},
				pterrors.New(pterrors.KindActionTimeout, "cancel requested")
		}
		out, err := o.DecideCandidate(cand)
		if err != nil {
			if pterrors.Is(err, pterrors.KindIdentityMismatch) {
				// An identity mismatch aborts the candidate, not the batch.
				continue
			}
			return outcomes, decision.FDRSelection{}, err
		}
		outcomes = append(outcomes, out)
	}

	var fdrCands []decision.FDRCandidate
	for _, out := range outcomes {
		if out.Action == model.ActionKill {
			fdrCands = append(fdrCands, decision.FDRCandidate{
				Identity: out.Identity, EValue: out.EValue,
			})
		}
	}
	selection := decision.SelectFDR(fdrCands, o.Policy.FDR)
	selected := make(map[string]bool, len(selection.Selected))
	for _, c := range selection.Selected {
		selected[c.Identity.Key()] = true
	}
	for i := range outcomes {
		if outcomes[i].Action != model.ActionKill {
			continue
		}
		outcomes[i].Audit = append(outcomes[i].Audit, AuditRecord{
			Gate: "fdr", Allowed: selected[outcomes[i].Identity.Key()],
		})
		if !selected[outcomes[i].Identity.Key()] {
			outcomes[i].Action = fallbackFrom(outcomes[i].Table, model.ActionKill)
			outcomes[i].Rationale = RationaleRateLimited
		}
	}
	return outcomes, selection, nil
}

// ObservePressure folds one memory sample into the pressure monitor.
func (o *Orchestrator) ObservePressure(sig model.MemorySignals) pressure.Mode {
	return o.Pressure.Observe(sig)
}

func clampEValue(logOdds float64) float64 {
	// e-values live on [0, inf); posterior odds serve directly.
	if logOdds > 40 {
		logOdds = 40
	}
	if logOdds < -40 {
		logOdds = -40
	}
	return math.Exp(logOdds)
}

func mergeTriggers(a, b []decision.DROTrigger) []decision.DROTrigger {
	seen := make(map[decision.DROTrigger]bool, len(a)+len(b))
	out := make([]decision.DROTrigger, 0, len(a)+len(b))
	for _, t := range append(append([]decision.DROTrigger(nil), a...), b...) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func anyBlocked(verdicts map[model.Action]policy.Verdict) bool {
	for _, v := range verdicts {
		if !v.Allowed {
			return true
		}
	}
	return false
}

func blockedRationale(verdicts map[model.Action]policy.Verdict) Rationale {
	for _, v := range verdicts {
		if v.Protected {
			return RationaleProtected
		}
	}
	return RationaleRobot
}

func robotViolated(v policy.Verdict) bool {
	for _, violation := range v.Violations {
		if strings.HasPrefix(violation, "robot:") {
			return true
		}
	}
	return false
}

// verdictAllowsWithRelaxedPosterior re-evaluates a verdict whose only
// failure is the robot posterior threshold against the emergency-relaxed
// minimum.
func verdictAllowsWithRelaxedPosterior(v policy.Verdict, posterior, relaxedMin float64) bool {
	if len(v.Violations) != 1 {
		return false
	}
	return strings.HasPrefix(v.Violations[0], "robot: posterior") && posterior >= relaxedMin
}

func (o *Orchestrator) recordDisabled(out *DecisionOutcome, verdicts map[model.Action]policy.Verdict) {
	for _, a := range model.Actions {
		if v := verdicts[a]; !v.Allowed {
			out.Disabled = append(out.Disabled, DisabledAction{
				Action: a, Reason: strings.Join(v.Violations, "; "),
			})
		}
	}
}

// retableKill replaces the kill loss in a table and re-sorts.
func retableKill(table decision.LossTable, killLoss float64) decision.LossTable {
	out := make(decision.LossTable, len(table))
	copy(out, table)
	for i := range out {
		if out[i].Action == model.ActionKill {
			out[i].Loss = killLoss
		}
	}
	sortLossTable(out)
	return out
}

func sortLossTable(table decision.LossTable) {
	for i := 1; i < len(table); i++ {
		for j := i; j > 0 && lessLoss(table[j], table[j-1]); j-- {
			table[j], table[j-1] = table[j-1], table[j]
		}
	}
}

func lessLoss(a, b decision.ActionLoss) bool {
	if a.Loss != b.Loss {
		return a.Loss < b.Loss
	}
	if a.Action.BlastRank() != b.Action.BlastRank() {
		return a.Action.BlastRank() < b.Action.BlastRank()
	}
	return a.Action.String() < b.Action.String()
}

func bestFeasible(table decision.LossTable) *decision.ActionLoss {
	for i := range table {
		if table[i].Feasible {
			return &table[i]
		}
	}
	return nil
}

// fallbackFrom picks the best feasible action strictly below the blocked
// one in the sorted table, defaulting to keep.
func fallbackFrom(table decision.LossTable, blocked model.Action) model.Action {
	for _, row := range table {
		if row.Feasible && row.Action != blocked {
			return row.Action
		}
	}
	return model.ActionKeep
}
