package model

import "time"

// PersistedProcess is one process row in a session snapshot, keyed by
// (pid, start_id) for diffing.
type PersistedProcess struct {
	PID            uint32  `json:"pid"`
	StartID        StartId `json:"start_id"`
	UID            uint32  `json:"uid"`
	Command        string  `json:"command"`
	Category       string  `json:"category,omitempty"`
	SupervisorUnit string  `json:"supervisor_unit,omitempty"`
	MemoryBytes    uint64  `json:"memory_bytes"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// Identity returns the full identity tuple for the row.
func (p PersistedProcess) Identity() ProcessIdentity {
	return ProcessIdentity{PID: p.PID, StartID: p.StartID, UID: p.UID}
}

// PersistedInference is the stored classification result for one process.
type PersistedInference struct {
	PID            uint32      `json:"pid"`
	StartID        StartId     `json:"start_id"`
	Classification Class       `json:"classification"`
	Score          float64     `json:"score"`
	Posterior      ClassScores `json:"posterior"`
}

// Snapshot is a persisted view of one scan: the processes observed and the
// inferences drawn. Session diffing joins two snapshots on (pid, start_id).
type Snapshot struct {
	SessionID  SessionId            `json:"session_id,omitempty"`
	TakenAt    time.Time            `json:"taken_at"`
	Processes  []PersistedProcess   `json:"processes"`
	Inferences []PersistedInference `json:"inferences"`
}
