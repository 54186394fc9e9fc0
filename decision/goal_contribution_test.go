package decision

import (
	"math"
	"testing"
)

func contributionCandidate() ContributionCandidate {
	return ContributionCandidate{
		PID:      1234,
		RSSBytes: 1 << 30,
		CpuFrac:  0.4,
		FDCount:  200,
	}
}

func TestMemoryContributionUSSPreferred(t *testing.T) {
	c := contributionCandidate()
	c.USSBytes = 600 << 20
	g := EstimateMemoryContribution(c)
	if g.Expected != float64(600<<20) {
		t.Errorf("expected = %v, want USS", g.Expected)
	}
	if g.Confidence < 0.85 {
		t.Errorf("confidence = %v with USS known", g.Confidence)
	}
}

func TestMemoryContributionSharedDiscount(t *testing.T) {
	c := contributionCandidate()
	c.HasSharedMemory = true
	g := EstimateMemoryContribution(c)
	want := float64(c.RSSBytes) * 0.6
	if math.Abs(g.Expected-want) > 1 {
		t.Errorf("expected = %v, want %v", g.Expected, want)
	}
	if len(g.Factors) == 0 || g.Factors[0].Name != "shared_memory" {
		t.Errorf("factors = %+v", g.Factors)
	}
}

func TestMemoryContributionRespawnDiscount(t *testing.T) {
	c := contributionCandidate()
	c.RespawnProbability = 0.5
	g := EstimateMemoryContribution(c)
	if math.Abs(g.Expected-float64(c.RSSBytes)*0.5) > 1 {
		t.Errorf("expected = %v", g.Expected)
	}
	clean := contributionCandidate()
	if EstimateMemoryContribution(clean).Confidence <= g.Confidence {
		t.Error("respawner should carry lower confidence")
	}
	if g.Low > g.Expected || g.High < g.Expected {
		t.Errorf("bounds [%v, %v] do not bracket %v", g.Low, g.High, g.Expected)
	}
}

func TestCpuContributionBounded(t *testing.T) {
	c := contributionCandidate()
	c.CpuFrac = 0.95
	g := EstimateCpuContribution(c)
	if g.Expected != 0.95 {
		t.Errorf("expected = %v", g.Expected)
	}
	if g.High > 1 {
		t.Errorf("high = %v exceeds 1", g.High)
	}
}

func TestPortContribution(t *testing.T) {
	c := contributionCandidate()
	c.BoundPorts = []int{8080, 9090}

	holds := EstimatePortContribution(c, 8080)
	if holds.Expected != 1 {
		t.Errorf("holder expected = %v", holds.Expected)
	}

	c.RespawnProbability = 0.3
	rebinder := EstimatePortContribution(c, 8080)
	if math.Abs(rebinder.Expected-0.7) > 1e-12 {
		t.Errorf("rebinder expected = %v, want 0.7", rebinder.Expected)
	}

	miss := EstimatePortContribution(c, 443)
	if miss.Expected != 0 || miss.Confidence != 1 {
		t.Errorf("non-holder = %+v", miss)
	}
}

func TestFdContributionChildren(t *testing.T) {
	c := contributionCandidate()
	base := EstimateFdContribution(c)
	c.ChildCount = 4
	withKids := EstimateFdContribution(c)
	if withKids.Expected <= base.Expected {
		t.Error("children should raise the descriptor estimate")
	}
}

func TestPlanCandidateConversion(t *testing.T) {
	c := contributionCandidate()
	g := EstimateMemoryContribution(c)
	pc := g.PlanCandidateFor(c, "leaky-worker", 1000, 0.5, false)
	if pc.PID != c.PID || pc.ExpectedContribution != g.Expected || pc.Confidence != g.Confidence {
		t.Errorf("plan candidate = %+v", pc)
	}
	if pc.Label != "leaky-worker" || pc.Risk != 0.5 {
		t.Errorf("plan candidate metadata = %+v", pc)
	}
}
