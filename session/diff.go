// Package session diffs persisted snapshots across scans, joining on
// (pid, start_id) identity.
package session

import (
	"sort"

	"github.com/ptops/ptriage/model"
)

// DefaultScoreThreshold is the score delta that counts as a change.
const DefaultScoreThreshold = 5.0

// ChangedEntry describes one process whose classification or score moved.
type ChangedEntry struct {
	PID        uint32        `json:"pid"`
	StartID    model.StartId `json:"start_id"`
	OldClass   model.Class   `json:"old_class"`
	NewClass   model.Class   `json:"new_class"`
	OldScore   float64       `json:"old_score"`
	NewScore   float64       `json:"new_score"`
	ClassFlip  bool          `json:"class_flip"`
	ScoreDelta float64       `json:"score_delta"`
}

// Diff is the identity-keyed comparison of two snapshots.
type Diff struct {
	Added   []model.PersistedProcess `json:"added"`
	Removed []model.PersistedProcess `json:"removed"`
	Changed []ChangedEntry           `json:"changed"`
	Summary DiffSummary              `json:"summary"`
}

// DiffSummary is the per-category count.
type DiffSummary struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Changed int `json:"changed"`
}

type identityKey struct {
	pid     uint32
	startID model.StartId
}

// Compare joins old and new snapshots on (pid, start_id) and reports
// additions, removals, and changes. A change is a classification flip or a
// score delta of at least scoreThreshold (DefaultScoreThreshold when <= 0).
// Transient elapsed-seconds drift is ignored. Output order is deterministic:
// sorted by (pid, start_id).
func Compare(oldSnap, newSnap *model.Snapshot, scoreThreshold float64) Diff {
	if scoreThreshold <= 0 {
		scoreThreshold = DefaultScoreThreshold
	}

	oldProcs := indexProcesses(oldSnap)
	newProcs := indexProcesses(newSnap)
	oldInf := indexInferences(oldSnap)
	newInf := indexInferences(newSnap)

	var diff Diff
	for key, proc := range newProcs {
		if _, ok := oldProcs[key]; !ok {
			diff.Added = append(diff.Added, proc)
		}
	}
	for key, proc := range oldProcs {
		if _, ok := newProcs[key]; !ok {
			diff.Removed = append(diff.Removed, proc)
		}
	}

	for key := range newProcs {
		before, okOld := oldInf[key]
		after, okNew := newInf[key]
		if !okOld || !okNew {
			continue
		}
		flip := before.Classification != after.Classification
		delta := after.Score - before.Score
		if !flip && abs(delta) < scoreThreshold {
			continue
		}
		diff.Changed = append(diff.Changed, ChangedEntry{
			PID:        key.pid,
			StartID:    key.startID,
			OldClass:   before.Classification,
			NewClass:   after.Classification,
			OldScore:   before.Score,
			NewScore:   after.Score,
			ClassFlip:  flip,
			ScoreDelta: delta,
		})
	}

	sortProcesses(diff.Added)
	sortProcesses(diff.Removed)
	sort.Slice(diff.Changed, func(i, j int) bool {
		if diff.Changed[i].PID != diff.Changed[j].PID {
			return diff.Changed[i].PID < diff.Changed[j].PID
		}
		return diff.Changed[i].StartID < diff.Changed[j].StartID
	})

	diff.Summary = DiffSummary{
		Added:   len(diff.Added),
		Removed: len(diff.Removed),
		Changed: len(diff.Changed),
	}
	return diff
}

func indexProcesses(snap *model.Snapshot) map[identityKey]model.PersistedProcess {
	out := make(map[identityKey]model.PersistedProcess)
	if snap == nil {
		return out
	}
	for _, p := range snap.Processes {
		out[identityKey{pid: p.PID, startID: p.StartID}] = p
	}
	return out
}

func indexInferences(snap *model.Snapshot) map[identityKey]model.PersistedInference {
	out := make(map[identityKey]model.PersistedInference)
	if snap == nil {
		return out
	}
	for _, inf := range snap.Inferences {
		out[identityKey{pid: inf.PID, startID: inf.StartID}] = inf
	}
	return out
}

func sortProcesses(procs []model.PersistedProcess) {
	sort.Slice(procs, func(i, j int) bool {
		if procs[i].PID != procs[j].PID {
			return procs[i].PID < procs[j].PID
		}
		return procs[i].StartID < procs[j].StartID
	})
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
