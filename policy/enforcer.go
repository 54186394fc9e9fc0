package policy

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/ptops/ptriage/model"
)

// Candidate is the per-process view the enforcer checks.
type Candidate struct {
	Identity       model.ProcessIdentity `json:"identity"`
	CommandLine    string                `json:"command_line"`
	Category       string                `json:"category,omitempty"`
	MemoryMB       uint64                `json:"memory_mb"`
	AgeSeconds     float64               `json:"age_seconds"`
	State          model.StateFlag       `json:"state"`
	Posterior      float64               `json:"posterior"`
	KnownSignature bool                  `json:"known_signature"`
	Supervised     bool                  `json:"supervised"`
	HumanConfirmed bool                  `json:"human_confirmed"`
}

// Verdict is the enforcer's answer for one (candidate, action) pair.
type Verdict struct {
	Allowed bool `json:"allowed"`
	// Violations lists every constraint that failed, in check order.
	Violations []string `json:"violations,omitempty"`
	// Protected is true when a protected pattern matched.
	Protected bool `json:"protected"`
}

// Enforcer applies protected patterns, robot-mode gates, and action
// preconditions. The batched variant tracks a running blast-radius total
// and kill count under a lock.
type Enforcer struct {
	policy    Policy
	patterns  []*regexp.Regexp
	snapshot  bool

	mu          sync.Mutex
	batchBlast  uint64
	batchKills  int
}

// NewEnforcer compiles the policy's protected patterns. Invalid patterns
// are skipped: a broken regex must not disable protection for the rest.
func NewEnforcer(p Policy, policySnapshotCaptured bool) *Enforcer {
	e := &Enforcer{policy: p, snapshot: policySnapshotCaptured}
	for _, pat := range p.ProtectedPatterns {
		if re, err := regexp.Compile(pat); err == nil {
			e.patterns = append(e.patterns, re)
		}
	}
	return e
}

// IsProtected reports whether the candidate matches any protected pattern.
func (e *Enforcer) IsProtected(c Candidate) bool {
	for _, re := range e.patterns {
		if re.MatchString(c.CommandLine) {
			return true
		}
	}
	return false
}

// Check evaluates one action for one candidate without touching batch
// state. Keep is always allowed.
func (e *Enforcer) Check(c Candidate, action model.Action) Verdict {
	return e.check(c, action, 0, 0)
}

// CheckBatched evaluates the action against the policy plus the running
// batch accumulators, and advances them when the action is an allowed kill.
func (e *Enforcer) CheckBatched(c Candidate, action model.Action) Verdict {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := e.check(c, action, e.batchBlast, e.batchKills)
	if v.Allowed && action == model.ActionKill {
		e.batchBlast += c.MemoryMB
		e.batchKills++
	}
	return v
}

// ResetBatch clears the running accumulators.
func (e *Enforcer) ResetBatch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batchBlast = 0
	e.batchKills = 0
}

// BatchTotals returns the accumulated blast radius (MB) and kill count.
func (e *Enforcer) BatchTotals() (uint64, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.batchBlast, e.batchKills
}

func (e *Enforcer) check(c Candidate, action model.Action, batchBlast uint64, batchKills int) Verdict {
	v := Verdict{Allowed: true}
	if action == model.ActionKeep {
		return v
	}

	if e.IsProtected(c) {
		v.Protected = true
		v.Violations = append(v.Violations, "matches protected pattern")
	}

	// Action preconditions: young processes are not kill/restart eligible,
	// and zombies only ever need a parent reap, not a pause.
	if action.Irreversible() && c.AgeSeconds < e.policy.MinKillAgeSeconds {
		v.Violations = append(v.Violations,
			fmt.Sprintf("age %.0fs below minimum %.0fs for %s", c.AgeSeconds, e.policy.MinKillAgeSeconds, action))
	}
	if c.State == model.StateZombie && (action == model.ActionPause || action == model.ActionThrottle) {
		v.Violations = append(v.Violations, "zombie process cannot be paused or throttled")
	}

	// Robot-mode thresholds gate automated irreversible actions; reversible
	// mitigations stay available under uncertainty.
	robot := e.policy.Robot
	if robot.Enabled && action.Irreversible() {
		if c.Posterior < robot.MinPosterior {
			v.Violations = append(v.Violations,
				fmt.Sprintf("robot: posterior %.3f below minimum %.3f", c.Posterior, robot.MinPosterior))
		}
		if robot.MaxBlastRadiusMB > 0 && c.MemoryMB > robot.MaxBlastRadiusMB {
			v.Violations = append(v.Violations,
				fmt.Sprintf("robot: memory %dMB exceeds blast radius cap %dMB", c.MemoryMB, robot.MaxBlastRadiusMB))
		}
		if robot.MaxTotalBlastRadiusMB > 0 && batchBlast+c.MemoryMB > robot.MaxTotalBlastRadiusMB {
			v.Violations = append(v.Violations, "robot: batch blast radius cap exceeded")
		}
		if action == model.ActionKill && robot.MaxKills > 0 && batchKills >= robot.MaxKills {
			v.Violations = append(v.Violations, "robot: batch kill cap exceeded")
		}
		if robot.RequireKnownSignature && !c.KnownSignature {
			v.Violations = append(v.Violations, "robot: unknown command signature")
		}
		if robot.RequirePolicySnapshot && !e.snapshot {
			v.Violations = append(v.Violations, "robot: no policy snapshot captured for session")
		}
		if len(robot.AllowCategories) > 0 && !contains(robot.AllowCategories, c.Category) {
			v.Violations = append(v.Violations,
				fmt.Sprintf("robot: category %q not in allow list", c.Category))
		}
		if contains(robot.ExcludeCategories, c.Category) {
			v.Violations = append(v.Violations,
				fmt.Sprintf("robot: category %q excluded", c.Category))
		}
		if robot.SupervisedRequiresHuman && c.Supervised && !c.HumanConfirmed {
			v.Violations = append(v.Violations, "robot: supervised process requires human confirmation")
		}
	}

	v.Allowed = len(v.Violations) == 0
	return v
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
