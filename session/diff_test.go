package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/ptops/ptriage/model"
)

func buildSnapshot(n int, score func(i int) float64, class func(i int) model.Class) *model.Snapshot {
	snap := &model.Snapshot{TakenAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)}
	for i := 0; i < n; i++ {
		pid := uint32(i + 1)
		startID := model.StartId(fmt.Sprintf("boot-%d", i+1))
		snap.Processes = append(snap.Processes, model.PersistedProcess{
			PID: pid, StartID: startID, UID: 1000,
			Command: fmt.Sprintf("proc-%d", i+1), ElapsedSeconds: float64(i),
		})
		snap.Inferences = append(snap.Inferences, model.PersistedInference{
			PID: pid, StartID: startID,
			Classification: class(i), Score: score(i),
		})
	}
	return snap
}

func TestIdenticalSnapshotsProduceEmptyDiff(t *testing.T) {
	snap := buildSnapshot(100,
		func(int) float64 { return 50 },
		func(int) model.Class { return model.ClassUseful })
	diff := Compare(snap, snap, 5)
	if diff.Summary.Added != 0 || diff.Summary.Removed != 0 || diff.Summary.Changed != 0 {
		t.Errorf("diff of identical snapshots: %+v", diff.Summary)
	}
}

func TestSwappingSnapshotsSwapsAddedRemoved(t *testing.T) {
	old := buildSnapshot(10, func(int) float64 { return 50 }, func(int) model.Class { return model.ClassUseful })
	new_ := buildSnapshot(15, func(int) float64 { return 50 }, func(int) model.Class { return model.ClassUseful })

	forward := Compare(old, new_, 5)
	backward := Compare(new_, old, 5)
	if forward.Summary.Added != backward.Summary.Removed ||
		forward.Summary.Removed != backward.Summary.Added {
		t.Errorf("forward %+v vs backward %+v", forward.Summary, backward.Summary)
	}
}

func TestDriftScenario(t *testing.T) {
	// Old: 500 processes. New: keeps 450 of them, +10 score drift on every
	// 10th kept process, 5 class flips abandoned→zombie, plus 50 new.
	const total = 500
	old := buildSnapshot(total,
		func(int) float64 { return 50 },
		func(i int) model.Class {
			if i < 5 {
				return model.ClassAbandoned
			}
			return model.ClassUseful
		})

	new_ := &model.Snapshot{TakenAt: time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC)}
	kept := 0
	for i := 0; i < total; i++ {
		if i >= 450 {
			continue // dropped processes
		}
		p := old.Processes[i]
		inf := old.Inferences[i]
		// Elapsed drift is transient and must not count as change.
		p.ElapsedSeconds += 3600
		if kept%10 == 0 {
			inf.Score += 10
		}
		if i < 5 {
			inf.Classification = model.ClassZombie
		}
		new_.Processes = append(new_.Processes, p)
		new_.Inferences = append(new_.Inferences, inf)
		kept++
	}
	for i := 0; i < 50; i++ {
		pid := uint32(10_000 + i)
		startID := model.StartId(fmt.Sprintf("boot-new-%d", i))
		new_.Processes = append(new_.Processes, model.PersistedProcess{PID: pid, StartID: startID})
		new_.Inferences = append(new_.Inferences, model.PersistedInference{
			PID: pid, StartID: startID, Classification: model.ClassUseful, Score: 50,
		})
	}

	diff := Compare(old, new_, 5)
	if diff.Summary.Added != 50 {
		t.Errorf("added = %d, want 50", diff.Summary.Added)
	}
	if diff.Summary.Removed != 50 {
		t.Errorf("removed = %d, want 50", diff.Summary.Removed)
	}
	// 45 drifted (450/10) + 5 class flips; the first drifted entry (kept=0)
	// is also among the flipped five, so the union is 45 + 5 - 1.
	flippedAndDrifted := 0
	for _, c := range diff.Changed {
		if c.ClassFlip && c.ScoreDelta >= 5 {
			flippedAndDrifted++
		}
	}
	want := 45 + 5 - flippedAndDrifted
	if diff.Summary.Changed != want {
		t.Errorf("changed = %d, want %d (overlap %d)", diff.Summary.Changed, want, flippedAndDrifted)
	}
}

func TestScoreThresholdRespected(t *testing.T) {
	old := buildSnapshot(10, func(int) float64 { return 50 }, func(int) model.Class { return model.ClassUseful })
	new_ := buildSnapshot(10, func(int) float64 { return 54 }, func(int) model.Class { return model.ClassUseful })
	diff := Compare(old, new_, 5)
	if diff.Summary.Changed != 0 {
		t.Errorf("sub-threshold drift counted: %d", diff.Summary.Changed)
	}

	diff = Compare(old, new_, 3)
	if diff.Summary.Changed != 10 {
		t.Errorf("above-threshold drift missed: %d", diff.Summary.Changed)
	}
}

func TestDiffOutputDeterministic(t *testing.T) {
	old := buildSnapshot(50, func(int) float64 { return 50 }, func(int) model.Class { return model.ClassUseful })
	new_ := buildSnapshot(60, func(int) float64 { return 50 }, func(int) model.Class { return model.ClassUseful })
	a := Compare(old, new_, 5)
	b := Compare(old, new_, 5)
	for i := range a.Added {
		if a.Added[i].PID != b.Added[i].PID {
			t.Fatal("added order not deterministic")
		}
	}
	for i := 1; i < len(a.Added); i++ {
		if a.Added[i].PID < a.Added[i-1].PID {
			t.Fatal("added not sorted by pid")
		}
	}
}

func TestStartIdDisambiguatesPIDReuse(t *testing.T) {
	old := &model.Snapshot{
		Processes: []model.PersistedProcess{{PID: 100, StartID: "boot-1"}},
		Inferences: []model.PersistedInference{
			{PID: 100, StartID: "boot-1", Classification: model.ClassUseful, Score: 50},
		},
	}
	// Same PID, new incarnation.
	new_ := &model.Snapshot{
		Processes: []model.PersistedProcess{{PID: 100, StartID: "boot-2"}},
		Inferences: []model.PersistedInference{
			{PID: 100, StartID: "boot-2", Classification: model.ClassUseful, Score: 50},
		},
	}
	diff := Compare(old, new_, 5)
	if diff.Summary.Added != 1 || diff.Summary.Removed != 1 || diff.Summary.Changed != 0 {
		t.Errorf("pid reuse not split into add+remove: %+v", diff.Summary)
	}
}
