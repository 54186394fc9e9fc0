package model

import "fmt"

// StateFlag is a process scheduler state, in the fixed categorical order
// used by the priors.
type StateFlag uint8

const (
	StateRunning StateFlag = iota
	StateSleeping
	StateDiskSleep
	StateZombie
	StateStopped
	StateIdle
	StateDead

	// NumStateFlags is the size of the state categorical.
	NumStateFlags = 7
)

func (s StateFlag) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateSleeping:
		return "sleeping"
	case StateDiskSleep:
		return "disk_sleep"
	case StateZombie:
		return "zombie"
	case StateStopped:
		return "stopped"
	case StateIdle:
		return "idle"
	case StateDead:
		return "dead"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// CpuKind selects how CPU occupancy evidence was observed.
type CpuKind int

const (
	// CpuFraction is a single occupancy reading in [0,1].
	CpuFraction CpuKind = iota
	// CpuBinomial is k busy samples out of n, with optional tempering.
	CpuBinomial
)

// CpuEvidence is CPU occupancy evidence in one of two forms.
type CpuEvidence struct {
	Kind CpuKind `json:"kind"`

	// Fraction form: occupancy in [0,1].
	Fraction float64 `json:"fraction,omitempty"`

	// Binomial form: K busy samples out of N, tempered by Eta.
	K uint32 `json:"k,omitempty"`
	N uint32 `json:"n,omitempty"`
	// Eta in (0,1] down-weights the CPU term; 0 means untempered.
	Eta float64 `json:"eta,omitempty"`
}

// FractionCpu builds fraction-form CPU evidence.
func FractionCpu(q float64) *CpuEvidence {
	return &CpuEvidence{Kind: CpuFraction, Fraction: q}
}

// BinomialCpu builds binomial-form CPU evidence with tempering eta.
func BinomialCpu(k, n uint32, eta float64) *CpuEvidence {
	return &CpuEvidence{Kind: CpuBinomial, K: k, N: n, Eta: eta}
}

// PluginEvidence is a per-class log-likelihood row contributed by an
// evidence plugin, already scaled by the plugin's configured weight.
type PluginEvidence struct {
	// Plugin is the plugin name; the term is folded under feature
	// "plugin:<name>".
	Plugin string `json:"plugin"`
	// Feature is an optional plugin-local feature label.
	Feature string `json:"feature,omitempty"`
	// LogLikelihoods is the per-class contribution.
	LogLikelihoods ClassScores `json:"log_likelihoods"`
}

// Evidence holds per-process features for posterior computation. Every field
// is optional; missing fields are skipped, not imputed.
type Evidence struct {
	Cpu             *CpuEvidence `json:"cpu,omitempty"`
	RuntimeSeconds  *float64     `json:"runtime_seconds,omitempty"`
	Orphan          *bool        `json:"orphan,omitempty"`
	TTY             *bool        `json:"tty,omitempty"`
	Net             *bool        `json:"net,omitempty"`
	IOActive        *bool        `json:"io_active,omitempty"`
	State           *StateFlag   `json:"state_flag,omitempty"`
	CommandCategory string       `json:"command_category,omitempty"`

	// Plugins carries plugin-contributed log-likelihood terms.
	Plugins []PluginEvidence `json:"plugins,omitempty"`
}

// Bool is a pointer helper for optional evidence fields.
func Bool(v bool) *bool { return &v }

// Float is a pointer helper for optional evidence fields.
func Float(v float64) *float64 { return &v }

// State is a pointer helper for the optional state flag.
func State(v StateFlag) *StateFlag { return &v }
