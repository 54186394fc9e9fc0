package decision

import (
	"sort"
	"sync"
)

// RespawnConfig controls kill→respawn loop detection.
type RespawnConfig struct {
	// MinRespawns is the repeat count that declares a loop.
	MinRespawns int `json:"min_respawns"`
	// WindowSecs is the time window within which respawns count.
	WindowSecs float64 `json:"window_secs"`
	// MaxRespawnDelaySecs is the longest kill→respawn delay still
	// considered a respawn.
	MaxRespawnDelaySecs float64 `json:"max_respawn_delay_secs"`
	// KillDiscountFactor scales the kill-utility discount for loopers.
	KillDiscountFactor float64 `json:"kill_discount_factor"`
	// MaxLoopsForDiscount saturates the discount.
	MaxLoopsForDiscount int `json:"max_loops_for_discount"`
}

// DefaultRespawnConfig returns the embedded loop-detection parameters.
func DefaultRespawnConfig() RespawnConfig {
	return RespawnConfig{
		MinRespawns:         2,
		WindowSecs:          3600,
		MaxRespawnDelaySecs: 30,
		KillDiscountFactor:  0.8,
		MaxLoopsForDiscount: 5,
	}
}

// RespawnEvent is one recorded kill→respawn cycle for a process identity.
type RespawnEvent struct {
	IdentityKey      string  `json:"identity_key"`
	SupervisorUnit   string  `json:"supervisor_unit,omitempty"`
	Cgroup           string  `json:"cgroup,omitempty"`
	KillTS           float64 `json:"kill_ts"`
	RespawnTS        float64 `json:"respawn_ts"`
	RespawnDelaySecs float64 `json:"respawn_delay_secs"`
	SessionID        string  `json:"session_id,omitempty"`
}

// RespawnRecommendation is the escalation ladder for confirmed loopers.
type RespawnRecommendation string

const (
	// RecommendKillOk means no loop detected; a normal kill is fine.
	RecommendKillOk RespawnRecommendation = "kill_ok"
	// RecommendWarnRespawn warns about the pattern but proceeds.
	RecommendWarnRespawn RespawnRecommendation = "warn_respawn"
	// RecommendSupervisorStop suggests stopping the supervisor unit.
	RecommendSupervisorStop RespawnRecommendation = "supervisor_stop"
	// RecommendSupervisorDisable suggests disabling the unit entirely.
	RecommendSupervisorDisable RespawnRecommendation = "supervisor_disable"
)

// RespawnDetection summarizes loop state for one identity.
type RespawnDetection struct {
	IdentityKey           string                `json:"identity_key"`
	LoopCount             int                   `json:"loop_count"`
	IsLoop                bool                  `json:"is_loop"`
	AvgRespawnDelaySecs   float64               `json:"avg_respawn_delay_secs"`
	Recommendation        RespawnRecommendation `json:"recommendation"`
	KillUtilityMultiplier float64               `json:"kill_utility_multiplier"`
}

// RespawnTracker records respawn events and detects loops. Persisted across
// sessions; safe for concurrent use.
type RespawnTracker struct {
	mu     sync.Mutex
	events map[string][]RespawnEvent
}

// NewRespawnTracker builds an empty tracker.
func NewRespawnTracker() *RespawnTracker {
	return &RespawnTracker{events: make(map[string][]RespawnEvent)}
}

// RestoreRespawnTracker rebuilds a tracker from persisted events.
func RestoreRespawnTracker(events []RespawnEvent) *RespawnTracker {
	t := NewRespawnTracker()
	for _, e := range events {
		t.RecordEvent(e)
	}
	return t
}

// RecordEvent stores a respawn event.
func (t *RespawnTracker) RecordEvent(e RespawnEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events[e.IdentityKey] = append(t.events[e.IdentityKey], e)
}

// RecordRespawn stores a kill→respawn pair.
func (t *RespawnTracker) RecordRespawn(identityKey, supervisorUnit, cgroup string,
	killTS, respawnTS float64, sessionID string) {

	delay := respawnTS - killTS
	if delay < 0 {
		delay = 0
	}
	t.RecordEvent(RespawnEvent{
		IdentityKey:      identityKey,
		SupervisorUnit:   supervisorUnit,
		Cgroup:           cgroup,
		KillTS:           killTS,
		RespawnTS:        respawnTS,
		RespawnDelaySecs: delay,
		SessionID:        sessionID,
	})
}

// Events returns a copy of all recorded events.
func (t *RespawnTracker) Events() []RespawnEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []RespawnEvent
	for _, evts := range t.events {
		out = append(out, evts...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IdentityKey != out[j].IdentityKey {
			return out[i].IdentityKey < out[j].IdentityKey
		}
		return out[i].KillTS < out[j].KillTS
	})
	return out
}

// IdentityCount returns the number of tracked identities.
func (t *RespawnTracker) IdentityCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}

// Prune drops events whose kill timestamp left the window.
func (t *RespawnTracker) Prune(cfg RespawnConfig, now float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, evts := range t.events {
		kept := evts[:0]
		for _, e := range evts {
			if now-e.KillTS <= cfg.WindowSecs {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(t.events, key)
		} else {
			t.events[key] = kept
		}
	}
}

// DetectLoop evaluates loop state for one identity at time now.
//
// A loop is declared when at least MinRespawns respawns with acceptable
// delay fall inside the window. The kill-utility multiplier is
// 1 - discount * min(1, count/max_loops), saturating at max_loops.
func (t *RespawnTracker) DetectLoop(identityKey string, cfg RespawnConfig, now float64) RespawnDetection {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := RespawnDetection{
		IdentityKey:           identityKey,
		Recommendation:        RecommendKillOk,
		KillUtilityMultiplier: 1,
	}
	events, ok := t.events[identityKey]
	if !ok {
		return out
	}

	var recent []RespawnEvent
	hasSupervisor := false
	for _, e := range events {
		if e.SupervisorUnit != "" {
			hasSupervisor = true
		}
		if now-e.KillTS <= cfg.WindowSecs && e.RespawnDelaySecs <= cfg.MaxRespawnDelaySecs {
			recent = append(recent, e)
		}
	}

	out.LoopCount = len(recent)
	out.IsLoop = out.LoopCount >= cfg.MinRespawns
	if len(recent) > 0 {
		var total float64
		for _, e := range recent {
			total += e.RespawnDelaySecs
		}
		out.AvgRespawnDelaySecs = total / float64(len(recent))
	}

	switch {
	case !out.IsLoop:
		out.Recommendation = RecommendKillOk
	case out.LoopCount >= cfg.MaxLoopsForDiscount && hasSupervisor:
		out.Recommendation = RecommendSupervisorDisable
	case hasSupervisor:
		out.Recommendation = RecommendSupervisorStop
	default:
		out.Recommendation = RecommendWarnRespawn
	}

	if out.IsLoop {
		ratio := float64(out.LoopCount) / float64(cfg.MaxLoopsForDiscount)
		if ratio > 1 {
			ratio = 1
		}
		out.KillUtilityMultiplier = 1 - cfg.KillDiscountFactor*ratio
	}
	return out
}

// AllLoops returns detections for every identity currently in a loop.
func (t *RespawnTracker) AllLoops(cfg RespawnConfig, now float64) []RespawnDetection {
	t.mu.Lock()
	keys := make([]string, 0, len(t.events))
	for k := range t.events {
		keys = append(keys, k)
	}
	t.mu.Unlock()

	sort.Strings(keys)
	var out []RespawnDetection
	for _, k := range keys {
		if d := t.DetectLoop(k, cfg, now); d.IsLoop {
			out = append(out, d)
		}
	}
	return out
}

// DiscountKillLoss applies the respawn kill-utility multiplier to a kill
// decision. The discount scales the benefit of killing relative to keeping:
// with multiplier m, the effective kill loss becomes
//
//	keep_loss - m * (keep_loss - kill_loss)
//
// so a fully discounted looper (m near 1-discount) loses most of the reason
// to kill while a clean candidate (m = 1) is unchanged.
func DiscountKillLoss(keepLoss, killLoss, multiplier float64) float64 {
	if multiplier >= 1 || killLoss >= keepLoss {
		return killLoss
	}
	if multiplier < 0 {
		multiplier = 0
	}
	return keepLoss - multiplier*(keepLoss-killLoss)
}
