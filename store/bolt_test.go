package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ptops/ptriage/decision"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestWealthRoundTrip(t *testing.T) {
	db := openTestDB(t)

	if _, found := db.LoadWealth(0.25); found {
		t.Error("fresh db reported persisted wealth")
	}
	if err := db.SaveWealth(0.17); err != nil {
		t.Fatalf("SaveWealth: %v", err)
	}
	wealth, found := db.LoadWealth(0.25)
	if !found || wealth != 0.17 {
		t.Errorf("wealth = %v found=%v", wealth, found)
	}
}

func TestRespawnEventsPersistAndPrune(t *testing.T) {
	db := openTestDB(t)
	events := []decision.RespawnEvent{
		{IdentityKey: "svc:a", KillTS: 100, RespawnTS: 105, RespawnDelaySecs: 5},
		{IdentityKey: "svc:a", KillTS: 200, RespawnTS: 203, RespawnDelaySecs: 3},
		{IdentityKey: "svc:b", KillTS: 300, RespawnTS: 310, RespawnDelaySecs: 10},
	}
	for _, e := range events {
		if err := db.AppendRespawnEvent(e); err != nil {
			t.Fatalf("AppendRespawnEvent: %v", err)
		}
	}

	loaded, err := db.LoadRespawnEvents()
	if err != nil {
		t.Fatalf("LoadRespawnEvents: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("loaded %d events", len(loaded))
	}

	// Tracker restore integrates with the decision layer.
	tracker := decision.RestoreRespawnTracker(loaded)
	if tracker.IdentityCount() != 2 {
		t.Errorf("restored identities = %d", tracker.IdentityCount())
	}

	removed, err := db.PruneRespawnEvents(250)
	if err != nil {
		t.Fatalf("PruneRespawnEvents: %v", err)
	}
	if removed != 2 {
		t.Errorf("pruned %d, want 2", removed)
	}
	loaded, _ = db.LoadRespawnEvents()
	if len(loaded) != 1 || loaded[0].IdentityKey != "svc:b" {
		t.Errorf("post-prune events: %+v", loaded)
	}
}

func TestKillStoreImplementsWindowCounts(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	var _ decision.KillStore = db

	for _, offset := range []time.Duration{0, time.Minute, 2 * time.Hour} {
		if err := db.AppendKill(base.Add(offset)); err != nil {
			t.Fatalf("AppendKill: %v", err)
		}
	}

	n, err := db.KillsSince(base.Add(30 * time.Second))
	if err != nil {
		t.Fatalf("KillsSince: %v", err)
	}
	if n != 2 {
		t.Errorf("kills since = %d, want 2", n)
	}

	removed, err := db.PruneKills(base.Add(30 * time.Second))
	if err != nil {
		t.Fatalf("PruneKills: %v", err)
	}
	if removed != 1 {
		t.Errorf("pruned %d, want 1", removed)
	}
}

func TestRateLimiterWithBoltStore(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r := decision.NewRateLimiter(decision.RateLimitConfig{PerRun: 10, PerHour: 2},
		func() time.Time { return now }, db)

	r.RecordKill()
	r.RecordKill()
	if res := r.Check(false); res.Allowed {
		t.Error("hour window should deny with persisted kills")
	}
}
