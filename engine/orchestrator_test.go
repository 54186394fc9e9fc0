package engine

import (
	"testing"
	"time"

	"github.com/ptops/ptriage/decision"
	"github.com/ptops/ptriage/model"
	"github.com/ptops/ptriage/policy"
	"github.com/ptops/ptriage/priors"
)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

func robotPolicy() policy.Policy {
	p := policy.Default()
	p.Robot.Enabled = true
	p.Robot.MinPosterior = 0.95
	p.Robot.MaxBlastRadiusMB = 1024
	p.Robot.AllowCategories = []string{"test_runner"}
	p.Robot.SupervisedRequiresHuman = false
	return p
}

func abandonedCandidate() Candidate {
	return Candidate{
		Enforcer: policy.Candidate{
			Identity:       model.NewProcessIdentity(4242, "boot-77", 1000),
			CommandLine:    "/usr/bin/pytest -q suite/",
			Category:       "test_runner",
			MemoryMB:       256,
			AgeSeconds:     3 * 86400,
			State:          model.StateSleeping,
			KnownSignature: true,
		},
		Evidence: model.Evidence{
			Cpu:             model.FractionCpu(0.0),
			RuntimeSeconds:  model.Float(3 * 86400),
			Orphan:          model.Bool(true),
			TTY:             model.Bool(false),
			Net:             model.Bool(false),
			IOActive:        model.Bool(false),
			CommandCategory: "test_runner",
		},
	}
}

func auditGates(out DecisionOutcome) map[string]bool {
	gates := make(map[string]bool)
	for _, rec := range out.Audit {
		gates[rec.Gate] = rec.Allowed
	}
	return gates
}

func TestRobotEligibleKillEndToEnd(t *testing.T) {
	o := NewOrchestrator(priors.Default(), robotPolicy(), nil)
	o.Clock = fixedClock{at: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}

	out, err := o.DecideCandidate(abandonedCandidate())
	if err != nil {
		t.Fatalf("DecideCandidate: %v", err)
	}
	if out.Posterior.Abandoned < 0.95 {
		t.Errorf("abandoned posterior = %v", out.Posterior.Abandoned)
	}
	if out.Action != model.ActionKill {
		t.Fatalf("action = %v, want kill (rationale %v, disabled %v)",
			out.Action, out.Rationale, out.Disabled)
	}

	gates := auditGates(out)
	for _, gate := range []string{"posterior", "expected_loss", "policy_enforcer", "rate_limiter", "robot"} {
		allowed, present := gates[gate]
		if !present {
			t.Errorf("audit missing gate %s", gate)
		} else if !allowed {
			t.Errorf("gate %s denied", gate)
		}
	}
}

func TestRespawnLoopSuppressesKill(t *testing.T) {
	o := NewOrchestrator(priors.Default(), robotPolicy(), nil)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	o.Clock = fixedClock{at: now}

	cand := abandonedCandidate()
	cand.SupervisorUnit = "foo.service"
	key := cand.Enforcer.Identity.Key()
	for i := 0; i < 4; i++ {
		killTS := float64(now.Unix()) - float64(60*(i+1))
		o.Respawn.RecordRespawn(key, "foo.service", "", killTS, killTS+5, "sess-1")
	}

	out, err := o.DecideCandidate(cand)
	if err != nil {
		t.Fatalf("DecideCandidate: %v", err)
	}
	if out.Respawn == nil || !out.Respawn.IsLoop {
		t.Fatalf("loop not detected: %+v", out.Respawn)
	}
	if m := out.Respawn.KillUtilityMultiplier; m < 0.359 || m > 0.361 {
		t.Errorf("multiplier = %v, want 0.36", m)
	}
	if out.Respawn.Recommendation != decision.RecommendSupervisorStop {
		t.Errorf("recommendation = %v", out.Respawn.Recommendation)
	}
	if out.Action == model.ActionKill {
		t.Errorf("kill not suppressed; table = %+v", out.Table)
	}
	if out.Action != model.ActionPause {
		t.Errorf("action = %v, want pause", out.Action)
	}
}

func TestProtectedCandidateKept(t *testing.T) {
	o := NewOrchestrator(priors.Default(), robotPolicy(), nil)
	o.Clock = fixedClock{at: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}

	cand := abandonedCandidate()
	cand.Enforcer.CommandLine = "/usr/sbin/sshd -D"
	out, err := o.DecideCandidate(cand)
	if err != nil {
		t.Fatalf("DecideCandidate: %v", err)
	}
	if out.Action != model.ActionKeep {
		t.Errorf("action = %v, want keep for protected process", out.Action)
	}
	if out.Rationale != RationaleProtected {
		t.Errorf("rationale = %v", out.Rationale)
	}
	if len(out.Disabled) == 0 {
		t.Error("no disabled actions recorded")
	}
}

func TestRateLimitFallsBack(t *testing.T) {
	pol := robotPolicy()
	pol.RateLimit.PerRun = 1
	o := NewOrchestrator(priors.Default(), pol, nil)
	o.Clock = fixedClock{at: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}

	first, err := o.DecideCandidate(abandonedCandidate())
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first.Action != model.ActionKill {
		t.Fatalf("first action = %v", first.Action)
	}

	second := abandonedCandidate()
	second.Enforcer.Identity = model.NewProcessIdentity(4243, "boot-78", 1000)
	out, err := o.DecideCandidate(second)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if out.Action == model.ActionKill {
		t.Error("rate limit did not suppress the second kill")
	}
	if out.Rationale != RationaleRateLimited {
		t.Errorf("rationale = %v", out.Rationale)
	}
}

func TestTimeBoundFallback(t *testing.T) {
	pol := robotPolicy()
	o := NewOrchestrator(priors.Default(), pol, nil)
	o.Clock = fixedClock{at: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}

	// Ambiguous evidence: posterior stays below the robot threshold and the
	// elapsed budget is spent.
	cand := Candidate{
		Enforcer: policy.Candidate{
			Identity:    model.NewProcessIdentity(5000, "boot-90", 1000),
			CommandLine: "/usr/bin/worker",
			Category:    "test_runner",
			MemoryMB:    64,
			AgeSeconds:  7200,
			State:       model.StateSleeping,
		},
		Evidence: model.Evidence{
			RuntimeSeconds: model.Float(7200),
		},
		ElapsedSeconds: 100_000,
	}
	out, err := o.DecideCandidate(cand)
	if err != nil {
		t.Fatalf("DecideCandidate: %v", err)
	}
	if out.Action != model.ActionPause {
		t.Errorf("action = %v, want pause fallback", out.Action)
	}
	if out.Rationale != RationaleTimeBound {
		t.Errorf("rationale = %v", out.Rationale)
	}
}

func TestDecideBatchAppliesFDR(t *testing.T) {
	pol := robotPolicy()
	pol.RateLimit = decision.RateLimitConfig{PerRun: 100}
	pol.AlphaInvesting.InitialWealth = 10
	o := NewOrchestrator(priors.Default(), pol, nil)
	o.Clock = fixedClock{at: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}

	var cands []Candidate
	for i := 0; i < 4; i++ {
		c := abandonedCandidate()
		c.Enforcer.Identity = model.NewProcessIdentity(uint32(6000+i), model.StartId("boot-1"), 1000)
		cands = append(cands, c)
	}
	outcomes, selection, err := o.DecideBatch(cands)
	if err != nil {
		t.Fatalf("DecideBatch: %v", err)
	}
	if len(outcomes) != 4 {
		t.Fatalf("outcomes = %d", len(outcomes))
	}
	kills := 0
	for _, out := range outcomes {
		if out.Action == model.ActionKill {
			kills++
			found := false
			for _, rec := range out.Audit {
				if rec.Gate == "fdr" {
					found = true
					if !rec.Allowed {
						t.Error("surviving kill has denied fdr audit record")
					}
				}
			}
			if !found {
				t.Error("kill outcome missing fdr audit record")
			}
		}
	}
	if kills != selection.SelectedK {
		t.Errorf("kills %d != selected %d", kills, selection.SelectedK)
	}
}

func TestDecideBatchCancellation(t *testing.T) {
	o := NewOrchestrator(priors.Default(), robotPolicy(), nil)
	o.Clock = fixedClock{at: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	o.CancelRequested = func() bool { return true }

	outcomes, _, err := o.DecideBatch([]Candidate{abandonedCandidate()})
	if err == nil {
		t.Fatal("cancelled batch should error")
	}
	if len(outcomes) != 0 {
		t.Errorf("outcomes before cancel = %d", len(outcomes))
	}
}
