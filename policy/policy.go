// Package policy defines the Policy document that parameterizes every
// decision gate, and the enforcer that applies protected patterns and
// robot-mode constraints per candidate.
package policy

import (
	"encoding/json"
	"os"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ptops/ptriage/decision"
	"github.com/ptops/ptriage/model"
	"github.com/ptops/ptriage/pterrors"
)

// RobotMode gates fully automated actions behind explicit thresholds.
type RobotMode struct {
	Enabled bool `json:"enabled"`
	// MinPosterior is the minimum leading-class probability for an
	// automated irreversible action.
	MinPosterior float64 `json:"min_posterior" validate:"gte=0,lte=1"`
	// MaxBlastRadiusMB caps the memory footprint of any single automated
	// kill.
	MaxBlastRadiusMB uint64 `json:"max_blast_radius_mb"`
	// MaxTotalBlastRadiusMB caps the running blast-radius total across a
	// batch.
	MaxTotalBlastRadiusMB uint64 `json:"max_total_blast_radius_mb"`
	// MaxKills caps automated kills per batch.
	MaxKills int `json:"max_kills"`
	// AllowCategories whitelists command categories; empty allows all.
	AllowCategories []string `json:"allow_categories,omitempty"`
	// ExcludeCategories blacklists command categories.
	ExcludeCategories []string `json:"exclude_categories,omitempty"`
	// RequireKnownSignature demands a recognized command signature.
	RequireKnownSignature bool `json:"require_known_signature"`
	// RequirePolicySnapshot demands a captured policy snapshot for the
	// session.
	RequirePolicySnapshot bool `json:"require_policy_snapshot"`
	// SupervisedRequiresHuman blocks automated action on supervised
	// processes without human confirmation.
	SupervisedRequiresHuman bool `json:"supervised_requires_human"`
}

// PressureThresholds configures the memory-pressure monitor.
type PressureThresholds struct {
	ModerateUtilization  float64 `json:"moderate_utilization" validate:"gte=0,lte=1"`
	EmergencyUtilization float64 `json:"emergency_utilization" validate:"gte=0,lte=1"`
	ModerateSwap         float64 `json:"moderate_swap" validate:"gte=0,lte=1"`
	EmergencySwap        float64 `json:"emergency_swap" validate:"gte=0,lte=1"`
	ModeratePSI          float64 `json:"moderate_psi"`
	EmergencyPSI         float64 `json:"emergency_psi"`
	// HysteresisBand is the fraction a driver must drop below a threshold
	// before demotion.
	HysteresisBand float64 `json:"hysteresis_band"`
	// EmergencyPerRunKills raises the rate-limit per-run cap in emergency.
	EmergencyPerRunKills int `json:"emergency_per_run_kills"`
	// EmergencyMinPosterior relaxes the robot threshold in emergency.
	EmergencyMinPosterior float64 `json:"emergency_min_posterior" validate:"gte=0,lte=1"`
}

// Policy is the complete gate parameterization for a host.
type Policy struct {
	LossMatrix     decision.LossMatrix            `json:"loss_matrix"`
	Robot          RobotMode                      `json:"robot"`
	RateLimit      decision.RateLimitConfig       `json:"rate_limit"`
	TimeBound      decision.TimeBoundConfig       `json:"time_bound"`
	DRO            decision.DROConfig             `json:"dro"`
	Robust         decision.RobustConfig          `json:"robust"`
	FDR            decision.FDRConfig             `json:"fdr"`
	AlphaInvesting decision.AlphaInvestingConfig  `json:"alpha_investing"`
	Respawn        decision.RespawnConfig         `json:"respawn"`
	Dependency     decision.DependencyScaling     `json:"dependency"`
	Sequential     decision.SequentialConfig      `json:"sequential"`
	Probes         decision.ProbeCostModel        `json:"probes"`
	Progress       decision.ProgressConfig        `json:"progress"`
	Retry          decision.RetryPolicy           `json:"retry"`
	Pressure       PressureThresholds             `json:"pressure"`

	// ProtectedPatterns are regexes over the process command line; a match
	// blocks every action except keep.
	ProtectedPatterns []string `json:"protected_patterns"`

	// MinKillAgeSeconds blocks kill/restart on processes younger than this.
	MinKillAgeSeconds float64 `json:"min_kill_age_seconds"`
}

// Default returns the embedded policy.
func Default() Policy {
	return Policy{
		LossMatrix: decision.DefaultLossMatrix(),
		Robot: RobotMode{
			Enabled:               false,
			MinPosterior:          0.95,
			MaxBlastRadiusMB:      1024,
			MaxTotalBlastRadiusMB: 4096,
			MaxKills:              3,
			SupervisedRequiresHuman: true,
		},
		RateLimit:      decision.DefaultRateLimitConfig(),
		TimeBound:      decision.DefaultTimeBoundConfig(),
		DRO:            decision.DefaultDROConfig(),
		Robust:         decision.DefaultRobustConfig(),
		FDR:            decision.DefaultFDRConfig(),
		AlphaInvesting: decision.DefaultAlphaInvestingConfig(),
		Respawn:        decision.DefaultRespawnConfig(),
		Dependency:     decision.DefaultDependencyScaling(),
		Sequential:     decision.DefaultSequentialConfig(),
		Probes:         decision.DefaultProbeCostModel(),
		Progress:       decision.DefaultProgressConfig(),
		Retry:          decision.DefaultRetryPolicy(),
		Pressure: PressureThresholds{
			ModerateUtilization:   0.80,
			EmergencyUtilization:  0.93,
			ModerateSwap:          0.50,
			EmergencySwap:         0.85,
			ModeratePSI:           20,
			EmergencyPSI:          60,
			HysteresisBand:        0.05,
			EmergencyPerRunKills:  10,
			EmergencyMinPosterior: 0.90,
		},
		ProtectedPatterns: []string{
			`(?i)^/sbin/init`,
			`(?i)systemd`,
			`(?i)sshd`,
			`(?i)kernel`,
		},
		MinKillAgeSeconds: 60,
	}
}

var validate = validator.New()

// Validate checks structural sanity: loss entries non-negative and tagged
// field ranges.
func (p *Policy) Validate() error {
	if err := validate.Struct(p); err != nil {
		return pterrors.Wrap(pterrors.KindInvalidPolicy, err, "policy field validation")
	}
	for _, a := range model.Actions {
		for _, v := range p.LossMatrix.Row(a).Slice() {
			if v < 0 {
				return pterrors.New(pterrors.KindInvalidPolicy,
					"loss matrix entry for %s is negative", a)
			}
		}
	}
	if p.FDR.Alpha < 0 || p.FDR.Alpha > 1 {
		return pterrors.New(pterrors.KindInvalidPolicy, "fdr alpha %v out of [0,1]", p.FDR.Alpha)
	}
	return nil
}

// Load reads a bare policy document from JSON.
func Load(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, pterrors.Wrap(pterrors.KindIo, err, "read policy %s", path)
	}
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return Policy{}, pterrors.Wrap(pterrors.KindInvalidPolicy, err, "parse policy %s", path)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// LoadOrDefault reads a policy, falling back to the embedded default on any
// error with a single warning.
func LoadOrDefault(path string, log *zap.Logger) Policy {
	p, err := Load(path)
	if err != nil {
		if log != nil {
			log.Warn("policy load failed; using embedded default",
				zap.String("path", path), zap.Error(err))
		}
		return Default()
	}
	return p
}
