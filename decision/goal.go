package decision

import (
	"math"
	"sort"

	"github.com/ptops/ptriage/pterrors"
)

// GoalResource names the resource a plan frees.
type GoalResource string

const (
	GoalMemory GoalResource = "memory"
	GoalCPU    GoalResource = "cpu"
	GoalPort   GoalResource = "port"
	GoalFDs    GoalResource = "fds"
)

// ResourceGoal is a target amount of a resource to recover.
type ResourceGoal struct {
	Resource GoalResource `json:"resource"`
	// Target is the amount to free, in the resource's native unit
	// (bytes for memory, fractional cores for CPU, a port number for
	// port goals, descriptor count for fds).
	Target float64 `json:"target"`
	// Weight orders goals when several compete.
	Weight float64 `json:"weight"`
}

// PlanCandidate is one process eligible for a goal plan.
type PlanCandidate struct {
	PID                  uint32  `json:"pid"`
	Label                string  `json:"label"`
	UID                  uint32  `json:"uid"`
	ExpectedContribution float64 `json:"expected_contribution"`
	// Confidence in [0,1] scales the contribution estimate.
	Confidence float64 `json:"confidence"`
	// Risk is a non-negative penalty for acting on this candidate.
	Risk        float64 `json:"risk"`
	IsProtected bool    `json:"is_protected"`
}

// PlanConstraints bound a goal plan.
type PlanConstraints struct {
	GoalTarget    float64 `json:"goal_target"`
	MaxActions    int     `json:"max_actions"`
	MaxTotalRisk  float64 `json:"max_total_risk"`
	SameUID       *uint32 `json:"same_uid,omitempty"`
	MinConfidence float64 `json:"min_confidence"`
}

// PlanAlgorithm selects the optimizer.
type PlanAlgorithm string

const (
	// PlanGreedy repeatedly takes the best value-density candidate.
	PlanGreedy PlanAlgorithm = "greedy"
	// PlanDP solves exactly over quantized contributions for small N.
	PlanDP PlanAlgorithm = "dp"
	// PlanLocalSearch improves a greedy plan by swap moves.
	PlanLocalSearch PlanAlgorithm = "local_search"
)

// dpMaxCandidates bounds the exact optimizer.
const dpMaxCandidates = 30

// GoalPlan is an ordered kill set with its projected effect.
type GoalPlan struct {
	Selected []PlanCandidate `json:"selected"`
	// ProjectedProgress is the expected contribution total
	// (contribution * confidence summed over the selection).
	ProjectedProgress float64 `json:"projected_progress"`
	// ProgressLow and ProgressHigh bound the projection using the
	// per-candidate confidence as contribution uncertainty.
	ProgressLow  float64       `json:"progress_low"`
	ProgressHigh float64       `json:"progress_high"`
	TotalRisk    float64       `json:"total_risk"`
	TargetMet    bool          `json:"target_met"`
	Algorithm    PlanAlgorithm `json:"algorithm"`
}

// OptimizeGoal selects an ordered candidate set maximizing expected progress
// toward the goal subject to the constraints. Protected candidates, those
// below minimum confidence, and UID mismatches are filtered before
// selection. Returns a KindPolicyBlocked error whose message says the goal
// is unreachable when no feasible set can make progress.
func OptimizeGoal(candidates []PlanCandidate, goal ResourceGoal,
	constraints PlanConstraints, algorithm PlanAlgorithm) (GoalPlan, error) {

	eligible := filterCandidates(candidates, constraints)
	if len(eligible) == 0 {
		return GoalPlan{Algorithm: algorithm},
			pterrors.New(pterrors.KindPolicyBlocked, "goal unreachable: no eligible candidates")
	}

	var plan GoalPlan
	switch algorithm {
	case PlanDP:
		if len(eligible) <= dpMaxCandidates {
			plan = planDP(eligible, constraints)
		} else {
			plan = planGreedy(eligible, constraints)
		}
	case PlanLocalSearch:
		plan = planLocalSearch(eligible, constraints)
	default:
		plan = planGreedy(eligible, constraints)
	}
	plan.Algorithm = algorithm
	finishPlan(&plan, goal, constraints)

	if len(plan.Selected) == 0 {
		return plan, pterrors.New(pterrors.KindPolicyBlocked, "goal unreachable: empty feasible set")
	}
	return plan, nil
}

func filterCandidates(candidates []PlanCandidate, c PlanConstraints) []PlanCandidate {
	out := make([]PlanCandidate, 0, len(candidates))
	for _, cand := range candidates {
		if cand.IsProtected {
			continue
		}
		if cand.Confidence < c.MinConfidence {
			continue
		}
		if c.SameUID != nil && cand.UID != *c.SameUID {
			continue
		}
		if cand.ExpectedContribution <= 0 {
			continue
		}
		out = append(out, cand)
	}
	return out
}

// density is the greedy selection key: contribution * confidence / (risk+1).
func density(c PlanCandidate) float64 {
	return c.ExpectedContribution * c.Confidence / (c.Risk + 1)
}

func planGreedy(eligible []PlanCandidate, c PlanConstraints) GoalPlan {
	pool := make([]PlanCandidate, len(eligible))
	copy(pool, eligible)
	sort.SliceStable(pool, func(i, j int) bool {
		if di, dj := density(pool[i]), density(pool[j]); di != dj {
			return di > dj
		}
		return pool[i].PID < pool[j].PID
	})

	var plan GoalPlan
	var progress, risk float64
	for _, cand := range pool {
		if c.MaxActions > 0 && len(plan.Selected) >= c.MaxActions {
			break
		}
		if c.GoalTarget > 0 && progress >= c.GoalTarget {
			break
		}
		if c.MaxTotalRisk > 0 && risk+cand.Risk > c.MaxTotalRisk {
			continue
		}
		plan.Selected = append(plan.Selected, cand)
		progress += cand.ExpectedContribution * cand.Confidence
		risk += cand.Risk
	}
	return plan
}

// planDP solves the selection exactly as a bounded knapsack: risk is
// quantized into integer units and a table over (risk units, action count)
// tracks the best confidence-weighted progress, with item reconstruction.
func planDP(eligible []PlanCandidate, c PlanConstraints) GoalPlan {
	n := len(eligible)
	const riskScale = 10

	maxCount := c.MaxActions
	if maxCount <= 0 || maxCount > n {
		maxCount = n
	}
	maxRiskUnits := n * 100
	if c.MaxTotalRisk > 0 {
		maxRiskUnits = int(math.Ceil(c.MaxTotalRisk * riskScale))
	}

	riskUnits := make([]int, n)
	value := make([]float64, n)
	for i, cand := range eligible {
		riskUnits[i] = int(math.Ceil(cand.Risk * riskScale))
		// Quantize so equal-score cells compare stably.
		value[i] = math.Round(cand.ExpectedContribution*cand.Confidence*1e6) / 1e6
	}

	type cell struct {
		progress float64
		taken    []int
	}
	// dp[r][k] = best progress using risk r and k actions.
	dp := make([][]cell, maxRiskUnits+1)
	for r := range dp {
		dp[r] = make([]cell, maxCount+1)
	}

	for i := 0; i < n; i++ {
		for r := maxRiskUnits; r >= riskUnits[i]; r-- {
			for k := maxCount; k >= 1; k-- {
				prev := dp[r-riskUnits[i]][k-1]
				next := prev.progress + value[i]
				if next > dp[r][k].progress {
					taken := make([]int, len(prev.taken), len(prev.taken)+1)
					copy(taken, prev.taken)
					dp[r][k] = cell{progress: next, taken: append(taken, i)}
				}
			}
		}
	}

	// Prefer the smallest set meeting the target; otherwise the best
	// progress overall.
	var best cell
	bestMet := false
	for k := 1; k <= maxCount; k++ {
		for r := 0; r <= maxRiskUnits; r++ {
			s := dp[r][k]
			if len(s.taken) == 0 {
				continue
			}
			met := c.GoalTarget > 0 && s.progress >= c.GoalTarget
			switch {
			case met && !bestMet:
				best, bestMet = s, true
			case met == bestMet && s.progress > best.progress:
				best = s
			}
		}
		if bestMet {
			break
		}
	}

	var plan GoalPlan
	for _, i := range best.taken {
		plan.Selected = append(plan.Selected, eligible[i])
	}
	sort.SliceStable(plan.Selected, func(i, j int) bool {
		return density(plan.Selected[i]) > density(plan.Selected[j])
	})
	return plan
}

// planLocalSearch improves the greedy plan by single-swap moves for a
// bounded iteration budget.
func planLocalSearch(eligible []PlanCandidate, c PlanConstraints) GoalPlan {
	plan := planGreedy(eligible, c)
	const maxIters = 64

	inPlan := make(map[uint32]bool, len(plan.Selected))
	for _, cand := range plan.Selected {
		inPlan[cand.PID] = true
	}

	score := func(sel []PlanCandidate) (float64, float64) {
		var progress, risk float64
		for _, cand := range sel {
			progress += cand.ExpectedContribution * cand.Confidence
			risk += cand.Risk
		}
		return progress, risk
	}

	progress, risk := score(plan.Selected)
	for iter := 0; iter < maxIters; iter++ {
		improved := false
		for i, in := range plan.Selected {
			for _, out := range eligible {
				if inPlan[out.PID] {
					continue
				}
				newRisk := risk - in.Risk + out.Risk
				if c.MaxTotalRisk > 0 && newRisk > c.MaxTotalRisk {
					continue
				}
				newProgress := progress -
					in.ExpectedContribution*in.Confidence +
					out.ExpectedContribution*out.Confidence
				if newProgress > progress {
					delete(inPlan, in.PID)
					inPlan[out.PID] = true
					plan.Selected[i] = out
					progress, risk = newProgress, newRisk
					improved = true
					break
				}
			}
			if improved {
				break
			}
		}
		if !improved {
			break
		}
	}
	sort.SliceStable(plan.Selected, func(i, j int) bool {
		return density(plan.Selected[i]) > density(plan.Selected[j])
	})
	return plan
}

func finishPlan(plan *GoalPlan, goal ResourceGoal, c PlanConstraints) {
	var progress, low, high, risk float64
	for _, cand := range plan.Selected {
		expected := cand.ExpectedContribution * cand.Confidence
		progress += expected
		// Contribution uncertainty from confidence: a 0.8-confident
		// candidate may deliver anywhere in [0.6, 1.0] of its estimate.
		spread := cand.ExpectedContribution * (1 - cand.Confidence)
		low += math.Max(expected-spread, 0)
		high += expected + spread
		risk += cand.Risk
	}
	plan.ProjectedProgress = progress
	plan.ProgressLow = low
	plan.ProgressHigh = high
	plan.TotalRisk = risk
	target := c.GoalTarget
	if target == 0 {
		target = goal.Target
	}
	plan.TargetMet = target > 0 && progress >= target
}
