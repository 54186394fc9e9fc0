package decision

import "sync"

// AlphaInvestingConfig controls the kill safety budget.
type AlphaInvestingConfig struct {
	// InitialWealth is w0, the starting budget.
	InitialWealth float64 `json:"initial_wealth"`
	// SpendPerDecision is the alpha spent on each kill decision, capped at
	// remaining wealth.
	SpendPerDecision float64 `json:"spend_per_decision"`
	// EarnOnConfirm is the alpha returned to wealth when a kill is
	// confirmed correct.
	EarnOnConfirm float64 `json:"earn_on_confirm"`
}

// DefaultAlphaInvestingConfig returns the embedded budget parameters.
func DefaultAlphaInvestingConfig() AlphaInvestingConfig {
	return AlphaInvestingConfig{
		InitialWealth:    0.25,
		SpendPerDecision: 0.05,
		EarnOnConfirm:    0.02,
	}
}

// AlphaInvesting is the running wealth ledger for irreversible actions.
// Persisted per host across runs; safe for concurrent use.
type AlphaInvesting struct {
	mu     sync.Mutex
	cfg    AlphaInvestingConfig
	wealth float64
}

// NewAlphaInvesting starts a ledger at the configured initial wealth.
func NewAlphaInvesting(cfg AlphaInvestingConfig) *AlphaInvesting {
	return &AlphaInvesting{cfg: cfg, wealth: cfg.InitialWealth}
}

// RestoreAlphaInvesting rebuilds a ledger from persisted wealth.
func RestoreAlphaInvesting(cfg AlphaInvestingConfig, wealth float64) *AlphaInvesting {
	if wealth < 0 {
		wealth = 0
	}
	return &AlphaInvesting{cfg: cfg, wealth: wealth}
}

// Wealth returns the current budget.
func (a *AlphaInvesting) Wealth() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.wealth
}

// SpendOutcome reports what a kill decision cost and whether it is allowed.
type SpendOutcome struct {
	Allowed     bool    `json:"allowed"`
	AlphaSpent  float64 `json:"alpha_spent"`
	Wealth      float64 `json:"wealth"`
	MinRequired float64 `json:"min_required"`
}

// TrySpend attempts to spend budget on a kill decision. The spend is
// min(spend_per_decision, wealth); the decision is allowed iff the
// candidate's posterior certainty exceeds 1 - spend. Wealth at zero denies
// everything.
func (a *AlphaInvesting) TrySpend(posteriorCertainty float64) SpendOutcome {
	a.mu.Lock()
	defer a.mu.Unlock()

	spend := a.cfg.SpendPerDecision
	if spend > a.wealth {
		spend = a.wealth
	}
	out := SpendOutcome{AlphaSpent: spend, MinRequired: 1 - spend}
	if spend <= 0 || posteriorCertainty <= out.MinRequired {
		out.Wealth = a.wealth
		return out
	}
	a.wealth -= spend
	out.Allowed = true
	out.Wealth = a.wealth
	return out
}

// ConfirmTruePositive returns earn-alpha to wealth after a kill was
// confirmed correct. False negatives do not refund.
func (a *AlphaInvesting) ConfirmTruePositive() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.wealth += a.cfg.EarnOnConfirm
}
