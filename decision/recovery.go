package decision

import (
	"sync"
	"time"

	"github.com/ptops/ptriage/model"
)

// Requirement names a capability a recovery branch needs from the session.
type Requirement string

const (
	RequireSudo             Requirement = "sudo"
	RequireSupervisor       Requirement = "supervisor"
	RequireCgroupV2         Requirement = "cgroup_v2"
	RequireUserConfirmation Requirement = "user_confirmation"
)

// RequirementContext reports which capabilities the current session holds.
type RequirementContext struct {
	HasSudo          bool `json:"has_sudo"`
	HasSupervisor    bool `json:"has_supervisor"`
	HasCgroupV2      bool `json:"has_cgroup_v2"`
	UserInteractive  bool `json:"user_interactive"`
}

// Satisfies reports whether the context meets every requirement.
func (c RequirementContext) Satisfies(reqs []Requirement) bool {
	for _, r := range reqs {
		switch r {
		case RequireSudo:
			if !c.HasSudo {
				return false
			}
		case RequireSupervisor:
			if !c.HasSupervisor {
				return false
			}
		case RequireCgroupV2:
			if !c.HasCgroupV2 {
				return false
			}
		case RequireUserConfirmation:
			if !c.UserInteractive {
				return false
			}
		}
	}
	return true
}

// RecoveryKind classifies a planned response to a failure.
type RecoveryKind string

const (
	// RecoveryRetry retries the same action, possibly after a delay.
	RecoveryRetry RecoveryKind = "retry"
	// RecoveryEscalate retries with a harder variant (TERM -> KILL).
	RecoveryEscalate RecoveryKind = "escalate"
	// RecoveryAlternative switches to a different action.
	RecoveryAlternative RecoveryKind = "alternative"
	// RecoveryAbandon gives up on this candidate.
	RecoveryAbandon RecoveryKind = "abandon"
)

// RecoveryBranch is one alternative the planner can propose.
type RecoveryBranch struct {
	Kind RecoveryKind `json:"kind"`
	// Action is the action to attempt next (meaningful for retry,
	// escalate, and alternative).
	Action model.Action `json:"action"`
	// Requirements the session must satisfy to take this branch.
	Requirements []Requirement `json:"requirements,omitempty"`
	// Delay before attempting, when non-zero.
	Delay time.Duration `json:"delay,omitempty"`
	// RetryBudget is the per-session attempt limit for this branch key.
	RetryBudget int `json:"retry_budget"`
	// Preference orders branches; lower is tried first.
	Preference int `json:"preference"`
	// Hint is an optional human-readable suggestion.
	Hint string `json:"hint,omitempty"`
}

// RetryPolicy holds backoff and escalation parameters.
type RetryPolicy struct {
	MaxRetries  int           `json:"max_retries"`
	BaseBackoff time.Duration `json:"base_backoff"`
	// TermGrace is the wait between SIGTERM and the KILL escalation.
	TermGrace time.Duration `json:"term_grace"`
}

// DefaultRetryPolicy returns the embedded retry parameters.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseBackoff: 250 * time.Millisecond, TermGrace: 5 * time.Second}
}

// RecoverySession tracks per-session retry budgets across plan calls.
type RecoverySession struct {
	mu       sync.Mutex
	Context  RequirementContext
	attempts map[string]int
}

// NewRecoverySession builds a session with the given capability context.
func NewRecoverySession(ctx RequirementContext) *RecoverySession {
	return &RecoverySession{Context: ctx, attempts: make(map[string]int)}
}

// Attempts returns the attempts consumed for a branch key.
func (s *RecoverySession) Attempts(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[key]
}

// Consume records one attempt against a branch key.
func (s *RecoverySession) Consume(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[key]++
}

func branchKey(a model.Action, f model.FailureCategory, b RecoveryBranch) string {
	return a.String() + "/" + f.String() + "/" + string(b.Kind) + "/" + b.Action.String()
}

// RecoveryPlanner maps action failures to alternative branches.
type RecoveryPlanner struct {
	policy RetryPolicy
}

// NewRecoveryPlanner builds a planner with the given retry policy.
func NewRecoveryPlanner(policy RetryPolicy) *RecoveryPlanner {
	return &RecoveryPlanner{policy: policy}
}

// branches returns the raw branch database row for (action, failure) at the
// given attempt count. Preference order is embedded per row.
func (p *RecoveryPlanner) branches(action model.Action, failure model.FailureCategory, attempt int) []RecoveryBranch {
	pol := p.policy

	switch failure {
	case model.FailurePermissionDenied:
		// Permanent for this session unless sudo is available.
		return []RecoveryBranch{
			{Kind: RecoveryRetry, Action: action, Requirements: []Requirement{RequireSudo, RequireUserConfirmation},
				RetryBudget: 1, Preference: 0,
				Hint: "re-run with elevated privileges to act on this process"},
			{Kind: RecoveryAbandon, Preference: 1},
		}

	case model.FailureIdentityMismatch:
		// The incarnation changed; nothing is safely retryable.
		return []RecoveryBranch{{Kind: RecoveryAbandon, Preference: 0,
			Hint: "process identity changed since the plan; re-scan before acting"}}

	case model.FailureProcessNotFound:
		return []RecoveryBranch{{Kind: RecoveryAbandon, Preference: 0}}

	case model.FailureProcessProtected:
		return []RecoveryBranch{{Kind: RecoveryAbandon, Preference: 0,
			Hint: "process matches a protected pattern; adjust policy to act"}}

	case model.FailureTimeout:
		if attempt >= pol.MaxRetries {
			return []RecoveryBranch{{Kind: RecoveryAbandon, Preference: 0}}
		}
		return []RecoveryBranch{
			{Kind: RecoveryRetry, Action: action,
				Delay:       pol.BaseBackoff * time.Duration(1<<attempt),
				RetryBudget: pol.MaxRetries, Preference: 0},
			{Kind: RecoveryAbandon, Preference: 1},
		}

	case model.FailureSupervisorConflict:
		return []RecoveryBranch{
			{Kind: RecoveryAlternative, Action: model.ActionRestart,
				Requirements: []Requirement{RequireSupervisor},
				RetryBudget:  1, Preference: 0,
				Hint: "a supervisor owns this process; restart it through the unit instead"},
			{Kind: RecoveryAlternative, Action: model.ActionPause, RetryBudget: 1, Preference: 1},
			{Kind: RecoveryAbandon, Preference: 2},
		}

	case model.FailureResourceConflict:
		return []RecoveryBranch{
			{Kind: RecoveryRetry, Action: action, Delay: pol.BaseBackoff,
				RetryBudget: pol.MaxRetries, Preference: 0},
			{Kind: RecoveryAlternative, Action: model.ActionThrottle,
				Requirements: []Requirement{RequireCgroupV2},
				RetryBudget:  1, Preference: 1},
			{Kind: RecoveryAbandon, Preference: 2},
		}

	case model.FailurePreCheckBlocked:
		return []RecoveryBranch{
			{Kind: RecoveryAlternative, Action: model.ActionPause, RetryBudget: 1, Preference: 0,
				Hint: "pre-checks blocked the action; pause is the safe fallback"},
			{Kind: RecoveryAbandon, Preference: 1},
		}

	default: // FailureUnexpectedError
		if attempt >= pol.MaxRetries {
			return []RecoveryBranch{{Kind: RecoveryAbandon, Preference: 0}}
		}
		if action == model.ActionKill {
			// TERM failed: escalate to SIGKILL after the grace window.
			return []RecoveryBranch{
				{Kind: RecoveryEscalate, Action: model.ActionKill, Delay: pol.TermGrace,
					RetryBudget: pol.MaxRetries, Preference: 0,
					Hint: "graceful termination failed; escalating to SIGKILL after grace"},
				{Kind: RecoveryAbandon, Preference: 1},
			}
		}
		return []RecoveryBranch{
			{Kind: RecoveryRetry, Action: action, Delay: pol.BaseBackoff,
				RetryBudget: pol.MaxRetries, Preference: 0},
			{Kind: RecoveryAbandon, Preference: 1},
		}
	}
}

// FindAlternatives returns the feasible branches for a failed action,
// ordered by preference. Branches whose requirements the session cannot
// satisfy or whose retry budget is exhausted are excluded. An abandon
// branch is always last and always feasible.
func (p *RecoveryPlanner) FindAlternatives(action model.Action, failure model.FailureCategory,
	identity model.ProcessIdentity, attempt int, session *RecoverySession) []RecoveryBranch {

	_ = identity // identity participates in the branch key via the caller's ledger
	all := p.branches(action, failure, attempt)
	out := make([]RecoveryBranch, 0, len(all))
	for _, b := range all {
		if b.Kind == RecoveryAbandon {
			out = append(out, b)
			continue
		}
		if session != nil {
			if !session.Context.Satisfies(b.Requirements) {
				continue
			}
			if b.RetryBudget > 0 && session.Attempts(branchKey(action, failure, b)) >= b.RetryBudget {
				continue
			}
		}
		out = append(out, b)
	}
	return out
}

// TakeBranch consumes budget for a chosen branch.
func (p *RecoveryPlanner) TakeBranch(action model.Action, failure model.FailureCategory,
	branch RecoveryBranch, session *RecoverySession) {

	if session == nil || branch.Kind == RecoveryAbandon {
		return
	}
	session.Consume(branchKey(action, failure, branch))
}
