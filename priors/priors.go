// Package priors holds the per-class prior parameters the posterior is
// computed against: Beta parameters for binary features, categorical weights
// for command categories, ages, and scheduler states, and an optional
// hierarchical shrinkage layer keyed by (class, category, feature).
package priors

import (
	"encoding/json"
	"os"

	"go.uber.org/zap"

	"github.com/ptops/ptriage/model"
	"github.com/ptops/ptriage/numerics"
	"github.com/ptops/ptriage/pterrors"
)

// Feature names for binary evidence fields.
const (
	FeatureCpu      = "cpu"
	FeatureOrphan   = "orphan"
	FeatureTTY      = "tty"
	FeatureNet      = "net"
	FeatureIOActive = "io_active"
	FeatureRuntime  = "runtime"
	FeatureState    = "state_flag"
	FeatureCategory = "command_category"
)

// AgeBucket discretizes runtime_seconds for the categorical age likelihood.
type AgeBucket int

const (
	AgeShort AgeBucket = iota // < 1 hour
	AgeMedium                 // 1 hour .. 1 day
	AgeLong                   // 1 day .. 1 week
	AgeVeryLong               // >= 1 week

	// NumAgeBuckets is the size of the age categorical.
	NumAgeBuckets = 4
)

// BucketAge maps a runtime in seconds to its bucket.
func BucketAge(seconds float64) AgeBucket {
	switch {
	case seconds < 3600:
		return AgeShort
	case seconds < 86400:
		return AgeMedium
	case seconds < 7*86400:
		return AgeLong
	default:
		return AgeVeryLong
	}
}

func (b AgeBucket) String() string {
	switch b {
	case AgeShort:
		return "short"
	case AgeMedium:
		return "medium"
	case AgeLong:
		return "long"
	default:
		return "very_long"
	}
}

// ClassPrior holds one class's parameters.
type ClassPrior struct {
	// Weight is the class prior probability mass (normalized across classes).
	Weight float64 `json:"weight"`

	// Binary feature Beta parameters, keyed by feature name.
	Features map[string]numerics.BetaParams `json:"features"`

	// AgeWeights is the categorical over age buckets, canonical order
	// short/medium/long/very_long.
	AgeWeights [NumAgeBuckets]float64 `json:"age_weights"`

	// StateWeights is the categorical over scheduler states, canonical
	// order running/sleeping/disk_sleep/zombie/stopped/idle/dead.
	StateWeights [model.NumStateFlags]float64 `json:"state_weights"`

	// CategoryWeights maps command categories to likelihood weights.
	// Missing categories fall back to CategoryDefault.
	CategoryWeights map[string]float64 `json:"category_weights"`

	// CategoryDefault is the weight for unseen command categories.
	CategoryDefault float64 `json:"category_default"`
}

// Feature returns the Beta parameters for a binary feature, falling back to
// a flat Beta(1,1) when the feature is unknown.
func (c *ClassPrior) Feature(name string) numerics.BetaParams {
	if p, ok := c.Features[name]; ok {
		return p
	}
	return numerics.BetaParams{Alpha: 1, Beta: 1}
}

// CategoryWeight returns the categorical weight for a command category.
func (c *ClassPrior) CategoryWeight(category string) float64 {
	if w, ok := c.CategoryWeights[category]; ok {
		return w
	}
	return c.CategoryDefault
}

// ShrinkageCell is an observed (alpha, beta, n) for one
// (class, category, feature) cell of the hierarchical layer.
type ShrinkageCell struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
	N     float64 `json:"n"`
}

// Priors is the full prior set for the four classes.
type Priors struct {
	Classes map[string]*ClassPrior `json:"classes"`

	// Shrinkage holds the optional hierarchical layer, keyed by
	// "<class>/<category>/<feature>".
	Shrinkage map[string]ShrinkageCell `json:"shrinkage,omitempty"`

	// PriorStrength controls shrinkage weight: lambda = strength/(strength+n).
	PriorStrength float64 `json:"prior_strength"`
}

// Class returns the prior for a class; never nil (falls back to defaults).
func (p *Priors) Class(c model.Class) *ClassPrior {
	if cp, ok := p.Classes[c.String()]; ok && cp != nil {
		return cp
	}
	return Default().Classes[c.String()]
}

// LogClassPrior returns the log prior probability of a class, normalized
// across the configured class weights.
func (p *Priors) LogClassPrior(c model.Class) float64 {
	var total float64
	for _, cl := range model.Classes {
		total += p.Class(cl).Weight
	}
	if total <= 0 {
		return numerics.SafeLog(1.0 / model.NumClasses)
	}
	return numerics.SafeLog(p.Class(c).Weight / total)
}

// EffectiveParams resolves the hierarchical Beta parameters for a
// (class, category, feature) cell. With an observed cell of n samples, the
// result shrinks the cell estimate toward the global prior with weight
// lambda = prior_strength / (prior_strength + n); without one, the global
// parameters pass through unchanged.
func (p *Priors) EffectiveParams(c model.Class, category, feature string, global numerics.BetaParams) numerics.BetaParams {
	if p.Shrinkage == nil {
		return global
	}
	cell, ok := p.Shrinkage[shrinkageKey(c, category, feature)]
	if !ok || cell.N <= 0 {
		return global
	}
	strength := p.PriorStrength
	if strength <= 0 {
		strength = 1
	}
	lambda := strength / (strength + cell.N)
	return numerics.BetaParams{
		Alpha: lambda*global.Alpha + (1-lambda)*cell.Alpha,
		Beta:  lambda*global.Beta + (1-lambda)*cell.Beta,
	}
}

func shrinkageKey(c model.Class, category, feature string) string {
	return c.String() + "/" + category + "/" + feature
}

// Validate checks structural sanity: every class present, weights
// non-negative, Beta parameters positive.
func (p *Priors) Validate() error {
	for _, c := range model.Classes {
		cp, ok := p.Classes[c.String()]
		if !ok || cp == nil {
			return pterrors.New(pterrors.KindInvalidPriors, "missing class %s", c)
		}
		if cp.Weight < 0 {
			return pterrors.New(pterrors.KindInvalidPriors, "class %s weight %v < 0", c, cp.Weight)
		}
		for name, b := range cp.Features {
			if b.Alpha <= 0 || b.Beta <= 0 {
				return pterrors.New(pterrors.KindInvalidPriors,
					"class %s feature %s has non-positive beta params", c, name)
			}
		}
	}
	return nil
}

// Load reads priors from a JSON file.
func Load(path string) (*Priors, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pterrors.Wrap(pterrors.KindIo, err, "read priors %s", path)
	}
	var p Priors
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, pterrors.Wrap(pterrors.KindInvalidPriors, err, "parse priors %s", path)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadOrDefault reads priors from a JSON file, falling back to the embedded
// defaults on any error with a single warning.
func LoadOrDefault(path string, log *zap.Logger) *Priors {
	p, err := Load(path)
	if err != nil {
		if log != nil {
			log.Warn("priors load failed; using embedded defaults",
				zap.String("path", path), zap.Error(err))
		}
		return Default()
	}
	return p
}
