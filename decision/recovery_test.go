package decision

import (
	"testing"
	"time"

	"github.com/ptops/ptriage/model"
)

func testIdentity() model.ProcessIdentity {
	return model.NewProcessIdentity(42, "boot-100", 1000)
}

func fullContext() RequirementContext {
	return RequirementContext{HasSudo: true, HasSupervisor: true, HasCgroupV2: true, UserInteractive: true}
}

func TestPermissionDeniedPermanentWithoutSudo(t *testing.T) {
	p := NewRecoveryPlanner(DefaultRetryPolicy())
	session := NewRecoverySession(RequirementContext{})
	branches := p.FindAlternatives(model.ActionKill, model.FailurePermissionDenied,
		testIdentity(), 0, session)
	for _, b := range branches {
		if b.Kind != RecoveryAbandon {
			t.Errorf("non-abandon branch offered without sudo: %+v", b)
		}
	}
}

func TestPermissionDeniedRetryableWithSudo(t *testing.T) {
	p := NewRecoveryPlanner(DefaultRetryPolicy())
	session := NewRecoverySession(fullContext())
	branches := p.FindAlternatives(model.ActionKill, model.FailurePermissionDenied,
		testIdentity(), 0, session)
	if branches[0].Kind != RecoveryRetry {
		t.Errorf("first branch = %+v, want sudo retry", branches[0])
	}
	if branches[0].Hint == "" {
		t.Error("sudo branch should carry a hint")
	}
}

func TestIdentityMismatchAlwaysAbandons(t *testing.T) {
	p := NewRecoveryPlanner(DefaultRetryPolicy())
	session := NewRecoverySession(fullContext())
	branches := p.FindAlternatives(model.ActionKill, model.FailureIdentityMismatch,
		testIdentity(), 0, session)
	if len(branches) != 1 || branches[0].Kind != RecoveryAbandon {
		t.Errorf("branches = %+v", branches)
	}
}

func TestTimeoutExponentialBackoff(t *testing.T) {
	policy := DefaultRetryPolicy()
	p := NewRecoveryPlanner(policy)
	session := NewRecoverySession(fullContext())

	for attempt, want := range []time.Duration{
		policy.BaseBackoff, policy.BaseBackoff * 2,
	} {
		branches := p.FindAlternatives(model.ActionPause, model.FailureTimeout,
			testIdentity(), attempt, session)
		if branches[0].Kind != RecoveryRetry || branches[0].Delay != want {
			t.Errorf("attempt %d: branch = %+v, want delay %v", attempt, branches[0], want)
		}
	}

	// Budget exhausted past max retries.
	branches := p.FindAlternatives(model.ActionPause, model.FailureTimeout,
		testIdentity(), policy.MaxRetries, session)
	if branches[0].Kind != RecoveryAbandon {
		t.Errorf("post-budget branch = %+v", branches[0])
	}
}

func TestKillFailureEscalatesWithGrace(t *testing.T) {
	policy := DefaultRetryPolicy()
	p := NewRecoveryPlanner(policy)
	session := NewRecoverySession(fullContext())
	branches := p.FindAlternatives(model.ActionKill, model.FailureUnexpectedError,
		testIdentity(), 0, session)
	if branches[0].Kind != RecoveryEscalate || branches[0].Delay != policy.TermGrace {
		t.Errorf("branch = %+v, want escalate after grace", branches[0])
	}
}

func TestSupervisorConflictPrefersRestartViaUnit(t *testing.T) {
	p := NewRecoveryPlanner(DefaultRetryPolicy())
	session := NewRecoverySession(fullContext())
	branches := p.FindAlternatives(model.ActionKill, model.FailureSupervisorConflict,
		testIdentity(), 0, session)
	if branches[0].Kind != RecoveryAlternative || branches[0].Action != model.ActionRestart {
		t.Errorf("branch = %+v", branches[0])
	}

	// Without a supervisor the restart branch is excluded.
	noSup := NewRecoverySession(RequirementContext{})
	branches = p.FindAlternatives(model.ActionKill, model.FailureSupervisorConflict,
		testIdentity(), 0, noSup)
	for _, b := range branches {
		if b.Action == model.ActionRestart && b.Kind == RecoveryAlternative {
			t.Error("restart-via-unit offered without a supervisor")
		}
	}
}

func TestBranchesNeverExceedSessionCapabilities(t *testing.T) {
	p := NewRecoveryPlanner(DefaultRetryPolicy())
	session := NewRecoverySession(RequirementContext{})
	for _, action := range model.Actions {
		for _, failure := range model.FailureCategories {
			for _, b := range p.FindAlternatives(action, failure, testIdentity(), 0, session) {
				if !session.Context.Satisfies(b.Requirements) {
					t.Errorf("%v/%v branch requires unavailable context: %+v", action, failure, b)
				}
			}
		}
	}
}

func TestRetryBudgetConsumed(t *testing.T) {
	p := NewRecoveryPlanner(RetryPolicy{MaxRetries: 1, BaseBackoff: time.Millisecond, TermGrace: time.Millisecond})
	session := NewRecoverySession(fullContext())

	branches := p.FindAlternatives(model.ActionPause, model.FailureResourceConflict,
		testIdentity(), 0, session)
	if branches[0].Kind != RecoveryRetry {
		t.Fatalf("first branch = %+v", branches[0])
	}
	p.TakeBranch(model.ActionPause, model.FailureResourceConflict, branches[0], session)

	branches = p.FindAlternatives(model.ActionPause, model.FailureResourceConflict,
		testIdentity(), 0, session)
	if branches[0].Kind == RecoveryRetry {
		t.Error("retry budget not consumed")
	}
}
