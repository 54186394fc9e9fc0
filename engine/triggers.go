package engine

import (
	"sync"
	"time"

	"github.com/ptops/ptriage/model"
)

// TriggerConfig describes one daemon trigger: a sampled value crossing a
// threshold, sustained, with a cooldown between fires.
type TriggerConfig struct {
	Name      string  `json:"name"`
	Threshold float64 `json:"threshold"`
	// SustainSeconds is how long the sample must stay above threshold.
	SustainSeconds float64 `json:"sustain_seconds"`
	// CooldownSeconds prevents re-fire after a fire.
	CooldownSeconds float64 `json:"cooldown_seconds"`
	// Sample extracts the driving value from the host signals.
	Sample func(model.HostSignals) float64 `json:"-"`
}

// DefaultTriggers returns the embedded trigger set: load average, memory
// ratio, orphan count, and swap use.
func DefaultTriggers() []TriggerConfig {
	return []TriggerConfig{
		{
			Name: "load_avg_1", Threshold: 8, SustainSeconds: 30, CooldownSeconds: 300,
			Sample: func(s model.HostSignals) float64 { return s.LoadAvg1 },
		},
		{
			Name: "memory_ratio", Threshold: 0.9, SustainSeconds: 30, CooldownSeconds: 300,
			Sample: func(s model.HostSignals) float64 { return s.Memory.Utilization() },
		},
		{
			Name: "orphan_count", Threshold: 25, SustainSeconds: 60, CooldownSeconds: 600,
			Sample: func(s model.HostSignals) float64 { return float64(s.OrphanCount) },
		},
		{
			Name: "swap_use", Threshold: 0.5, SustainSeconds: 60, CooldownSeconds: 600,
			Sample: func(s model.HostSignals) float64 { return s.Memory.SwapUtilization() },
		},
	}
}

type triggerState struct {
	aboveSince *time.Time
	lastFired  *time.Time
}

// TriggerMachine evaluates every configured trigger per tick: a sample
// above threshold starts (or continues) the sustain window; sustained past
// the requirement and out of cooldown, the trigger fires; a sample dropping
// below clears the window.
type TriggerMachine struct {
	mu       sync.Mutex
	triggers []TriggerConfig
	states   map[string]*triggerState
}

// NewTriggerMachine builds a machine over the given triggers.
func NewTriggerMachine(triggers []TriggerConfig) *TriggerMachine {
	states := make(map[string]*triggerState, len(triggers))
	for _, t := range triggers {
		states[t.Name] = &triggerState{}
	}
	return &TriggerMachine{triggers: triggers, states: states}
}

// Tick feeds one sample through every trigger and returns the names fired
// this tick, in configuration order.
func (m *TriggerMachine) Tick(sig model.HostSignals) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := sig.Timestamp
	var fired []string
	for _, t := range m.triggers {
		state := m.states[t.Name]
		if t.Sample == nil {
			continue
		}
		value := t.Sample(sig)

		if value < t.Threshold {
			state.aboveSince = nil
			continue
		}
		if state.aboveSince == nil {
			ts := now
			state.aboveSince = &ts
		}
		sustained := now.Sub(*state.aboveSince).Seconds() >= t.SustainSeconds
		cooling := state.lastFired != nil &&
			now.Sub(*state.lastFired).Seconds() < t.CooldownSeconds
		if sustained && !cooling {
			ts := now
			state.lastFired = &ts
			fired = append(fired, t.Name)
		}
	}
	return fired
}

// AboveSince returns when the named trigger's sample first crossed its
// threshold in the current stretch, or nil.
func (m *TriggerMachine) AboveSince(name string) *time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[name]; ok {
		return s.aboveSince
	}
	return nil
}
