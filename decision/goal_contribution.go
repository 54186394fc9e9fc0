package decision

import "fmt"

// ContributionCandidate is the per-process view for estimating what a kill
// frees toward a resource goal.
type ContributionCandidate struct {
	PID      uint32 `json:"pid"`
	RSSBytes uint64 `json:"rss_bytes"`
	// USSBytes is the unique set size when known; zero means unknown.
	USSBytes uint64  `json:"uss_bytes,omitempty"`
	CpuFrac  float64 `json:"cpu_frac"`
	FDCount  uint32  `json:"fd_count"`
	BoundPorts []int `json:"bound_ports,omitempty"`
	// RespawnProbability in [0,1]; a respawning process returns its
	// footprint.
	RespawnProbability float64 `json:"respawn_probability"`
	HasSharedMemory    bool    `json:"has_shared_memory"`
	ChildCount         int     `json:"child_count"`
}

// ContributionFactor is one multiplier applied to an estimate.
type ContributionFactor struct {
	Name        string  `json:"name"`
	Multiplier  float64 `json:"multiplier"`
	Explanation string  `json:"explanation"`
}

// GoalContribution is an estimate with uncertainty bounds.
type GoalContribution struct {
	Expected   float64              `json:"expected"`
	Low        float64              `json:"low"`
	High       float64              `json:"high"`
	Confidence float64              `json:"confidence"`
	Factors    []ContributionFactor `json:"factors,omitempty"`
}

// PlanCandidateFor converts a contribution estimate into a PlanCandidate
// for the goal optimizer.
func (g GoalContribution) PlanCandidateFor(c ContributionCandidate, label string, uid uint32, risk float64, protected bool) PlanCandidate {
	return PlanCandidate{
		PID:                  c.PID,
		Label:                label,
		UID:                  uid,
		ExpectedContribution: g.Expected,
		Confidence:           g.Confidence,
		Risk:                 risk,
		IsProtected:          protected,
	}
}

// EstimateMemoryContribution estimates the bytes freed by killing the
// process. USS is the true private footprint; without it, RSS is
// discounted for shared pages. Respawners return their footprint, so their
// expected contribution shrinks with the respawn probability.
func EstimateMemoryContribution(c ContributionCandidate) GoalContribution {
	base := float64(c.RSSBytes)
	if c.USSBytes > 0 {
		base = float64(c.USSBytes)
	}

	var factors []ContributionFactor
	multiplier := 1.0

	if c.USSBytes == 0 && c.HasSharedMemory {
		const sharedDiscount = 0.6
		multiplier *= sharedDiscount
		factors = append(factors, ContributionFactor{
			Name:        "shared_memory",
			Multiplier:  sharedDiscount,
			Explanation: "RSS includes shared pages; estimated 40% shared",
		})
	}
	if c.RespawnProbability > 0 {
		discount := 1 - c.RespawnProbability
		multiplier *= discount
		factors = append(factors, ContributionFactor{
			Name:       "respawn",
			Multiplier: discount,
			Explanation: fmt.Sprintf("respawn probability %.0f%% reduces expected contribution",
				c.RespawnProbability*100),
		})
	}

	expected := base * multiplier

	uncertainty := 0.3
	confidence := 0.6
	if c.USSBytes > 0 {
		uncertainty = 0.1
		confidence = 0.9
	}
	confidence *= 1 - c.RespawnProbability*0.5

	return GoalContribution{
		Expected:   expected,
		Low:        clampNonNegative(expected * (1 - uncertainty)),
		High:       base * (1 + uncertainty*0.5),
		Confidence: clamp01(confidence),
		Factors:    factors,
	}
}

// EstimateCpuContribution estimates the CPU fraction recovered by killing
// the process.
func EstimateCpuContribution(c ContributionCandidate) GoalContribution {
	base := c.CpuFrac
	var factors []ContributionFactor
	multiplier := 1.0

	if c.RespawnProbability > 0 {
		discount := 1 - c.RespawnProbability
		multiplier *= discount
		factors = append(factors, ContributionFactor{
			Name:        "respawn",
			Multiplier:  discount,
			Explanation: fmt.Sprintf("respawn probability %.0f%%", c.RespawnProbability*100),
		})
	}

	expected := base * multiplier
	high := base * 1.1
	if high > 1 {
		high = 1
	}
	return GoalContribution{
		Expected:   expected,
		Low:        clampNonNegative(expected * 0.8),
		High:       high,
		Confidence: clamp01(0.8 * (1 - c.RespawnProbability*0.5)),
		Factors:    factors,
	}
}

// EstimatePortContribution estimates the probability that killing the
// process permanently releases the target port.
func EstimatePortContribution(c ContributionCandidate, targetPort int) GoalContribution {
	holds := false
	for _, p := range c.BoundPorts {
		if p == targetPort {
			holds = true
			break
		}
	}
	if !holds {
		return GoalContribution{Confidence: 1}
	}

	var factors []ContributionFactor
	prob := 1.0
	if c.RespawnProbability > 0 {
		prob *= 1 - c.RespawnProbability
		factors = append(factors, ContributionFactor{
			Name:        "respawn",
			Multiplier:  1 - c.RespawnProbability,
			Explanation: "process may respawn and rebind the port",
		})
	}
	return GoalContribution{
		Expected:   prob,
		Low:        prob * 0.9,
		High:       1,
		Confidence: clamp01(0.9 * (1 - c.RespawnProbability*0.5)),
		Factors:    factors,
	}
}

// EstimateFdContribution estimates the descriptors released by killing the
// process; children holding descriptors raise the estimate.
func EstimateFdContribution(c ContributionCandidate) GoalContribution {
	base := float64(c.FDCount)
	var factors []ContributionFactor
	multiplier := 1.0

	if c.RespawnProbability > 0 {
		discount := 1 - c.RespawnProbability
		multiplier *= discount
		factors = append(factors, ContributionFactor{
			Name:        "respawn",
			Multiplier:  discount,
			Explanation: fmt.Sprintf("respawn probability %.0f%%", c.RespawnProbability*100),
		})
	}
	if c.ChildCount > 0 {
		childFactor := 1 + minFloat(float64(c.ChildCount)*0.5, 3)
		multiplier *= childFactor
		factors = append(factors, ContributionFactor{
			Name:       "children",
			Multiplier: childFactor,
			Explanation: fmt.Sprintf("process has %d children that may also release descriptors",
				c.ChildCount),
		})
	}

	expected := base * multiplier
	return GoalContribution{
		Expected:   expected,
		Low:        clampNonNegative(base * 0.8),
		High:       expected * 1.2,
		Confidence: 0.7,
		Factors:    factors,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
