package decision

import (
	"math"
	"testing"
)

func trackerWithRespawns(n int, supervisor string, now float64) *RespawnTracker {
	tr := NewRespawnTracker()
	for i := 0; i < n; i++ {
		killTS := now - float64(60*(i+1))
		tr.RecordRespawn("svc:foo", supervisor, "", killTS, killTS+5, "sess-1")
	}
	return tr
}

func TestDetectLoopScenarioS2(t *testing.T) {
	now := 1_000_000.0
	tr := trackerWithRespawns(4, "foo.service", now)
	d := tr.DetectLoop("svc:foo", DefaultRespawnConfig(), now)

	if !d.IsLoop || d.LoopCount != 4 {
		t.Fatalf("detection = %+v", d)
	}
	// 1 - 0.8 * min(1, 4/5) = 0.36
	if math.Abs(d.KillUtilityMultiplier-0.36) > 1e-9 {
		t.Errorf("multiplier = %v, want 0.36", d.KillUtilityMultiplier)
	}
	if d.Recommendation != RecommendSupervisorStop {
		t.Errorf("recommendation = %v, want supervisor_stop", d.Recommendation)
	}
}

func TestRecommendationLadder(t *testing.T) {
	now := 1_000_000.0
	cfg := DefaultRespawnConfig()

	tests := []struct {
		name       string
		respawns   int
		supervisor string
		want       RespawnRecommendation
	}{
		{"no loop", 1, "", RecommendKillOk},
		{"loop without supervisor", 3, "", RecommendWarnRespawn},
		{"loop with supervisor", 3, "bar.service", RecommendSupervisorStop},
		{"saturated with supervisor", 5, "bar.service", RecommendSupervisorDisable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := trackerWithRespawns(tt.respawns, tt.supervisor, now)
			d := tr.DetectLoop("svc:foo", cfg, now)
			if d.Recommendation != tt.want {
				t.Errorf("recommendation = %v, want %v", d.Recommendation, tt.want)
			}
		})
	}
}

func TestMultiplierBoundsAndMonotone(t *testing.T) {
	now := 1_000_000.0
	cfg := DefaultRespawnConfig()
	prev := 1.0
	for n := 0; n <= 8; n++ {
		tr := trackerWithRespawns(n, "", now)
		d := tr.DetectLoop("svc:foo", cfg, now)
		m := d.KillUtilityMultiplier
		if m < 1-cfg.KillDiscountFactor-1e-12 || m > 1+1e-12 {
			t.Errorf("n=%d multiplier %v out of [%v, 1]", n, m, 1-cfg.KillDiscountFactor)
		}
		if m > prev+1e-12 {
			t.Errorf("multiplier not non-increasing at n=%d: %v > %v", n, m, prev)
		}
		prev = m
	}
}

func TestWindowAndDelayFiltering(t *testing.T) {
	now := 1_000_000.0
	cfg := DefaultRespawnConfig()
	tr := NewRespawnTracker()

	// Outside the window.
	tr.RecordRespawn("svc:foo", "", "", now-cfg.WindowSecs-100, now-cfg.WindowSecs-95, "")
	// Delay too long to be a respawn.
	tr.RecordRespawn("svc:foo", "", "", now-100, now-100+cfg.MaxRespawnDelaySecs+10, "")
	// Valid.
	tr.RecordRespawn("svc:foo", "", "", now-50, now-45, "")

	d := tr.DetectLoop("svc:foo", cfg, now)
	if d.LoopCount != 1 {
		t.Errorf("loop count = %d, want 1", d.LoopCount)
	}
	if d.IsLoop {
		t.Error("one qualifying respawn should not be a loop")
	}
}

func TestDiscountKillLoss(t *testing.T) {
	// Full multiplier leaves the loss alone.
	if got := DiscountKillLoss(8, 0.5, 1); got != 0.5 {
		t.Errorf("undiscounted = %v", got)
	}
	// m=0.36 keeps only 36% of the benefit of killing over keeping.
	got := DiscountKillLoss(8, 0.5, 0.36)
	want := 8 - 0.36*7.5
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("discounted = %v, want %v", got, want)
	}
	// Kill worse than keep: no adjustment.
	if got := DiscountKillLoss(1, 5, 0.36); got != 5 {
		t.Errorf("kill-worse case = %v", got)
	}
}

func TestAllLoopsAndPrune(t *testing.T) {
	now := 1_000_000.0
	cfg := DefaultRespawnConfig()
	tr := NewRespawnTracker()
	for i := 0; i < 3; i++ {
		ts := now - float64(30*(i+1))
		tr.RecordRespawn("svc:a", "", "", ts, ts+2, "")
	}
	tr.RecordRespawn("svc:b", "", "", now-10, now-8, "")

	loops := tr.AllLoops(cfg, now)
	if len(loops) != 1 || loops[0].IdentityKey != "svc:a" {
		t.Fatalf("loops = %+v", loops)
	}

	tr.Prune(cfg, now+cfg.WindowSecs+1)
	if tr.IdentityCount() != 0 {
		t.Errorf("prune left %d identities", tr.IdentityCount())
	}
}
