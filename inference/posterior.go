// Package inference turns per-process evidence into a posterior over the
// four triage classes, and decomposes the result into a per-feature
// evidence ledger with a natural-language explainer.
package inference

import (
	"math"

	"github.com/ptops/ptriage/model"
	"github.com/ptops/ptriage/numerics"
	"github.com/ptops/ptriage/priors"
	"github.com/ptops/ptriage/pterrors"
)

// EvidenceTerm is one feature's per-class log-likelihood contribution.
type EvidenceTerm struct {
	Feature       string            `json:"feature"`
	LogLikelihood model.ClassScores `json:"log_likelihood"`
}

// PosteriorResult is the full output of a posterior computation.
type PosteriorResult struct {
	Posterior    model.ClassScores `json:"posterior"`
	LogPosterior model.ClassScores `json:"log_posterior"`
	// LogOddsAbandonedVsUseful is the log posterior odds of abandoned
	// against useful.
	LogOddsAbandonedVsUseful float64 `json:"log_odds_abandoned_vs_useful"`
	// EvidenceTerms lists every contributing feature in fold order.
	EvidenceTerms []EvidenceTerm `json:"evidence_terms"`
}

// PosteriorConfig bounds the computation.
type PosteriorConfig struct {
	// LogClamp bounds the magnitude of a single log-likelihood term.
	LogClamp float64 `json:"log_clamp"`
}

// DefaultPosteriorConfig returns the embedded bounds.
func DefaultPosteriorConfig() PosteriorConfig {
	return PosteriorConfig{LogClamp: numerics.DefaultLogClamp}
}

// ComputePosterior folds every present evidence field into per-class
// log-likelihoods, starting from the log class priors, and normalizes by
// log-sum-exp. Missing fields contribute nothing. Fails with
// NumericalInstability when any intermediate becomes non-finite after
// clamping.
func ComputePosterior(p *priors.Priors, ev model.Evidence) (PosteriorResult, error) {
	return ComputePosteriorWith(p, ev, DefaultPosteriorConfig())
}

// ComputePosteriorWith is ComputePosterior with explicit bounds.
func ComputePosteriorWith(p *priors.Priors, ev model.Evidence, cfg PosteriorConfig) (PosteriorResult, error) {
	clamp := cfg.LogClamp
	if clamp <= 0 {
		clamp = numerics.DefaultLogClamp
	}

	logp := make([]float64, model.NumClasses)
	for i, c := range model.Classes {
		logp[i] = p.LogClassPrior(c)
	}

	var terms []EvidenceTerm
	fold := func(feature string, term model.ClassScores) error {
		for i, c := range model.Classes {
			v := term.Get(c)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return pterrors.New(pterrors.KindNumericalInstability,
					"non-finite log-likelihood for feature %s class %s", feature, c)
			}
			if math.Abs(v) > clamp+1e-9 {
				return pterrors.New(pterrors.KindNumericalInstability,
					"log-likelihood %v for feature %s exceeds clamp %v", v, feature, clamp)
			}
			logp[i] += v
		}
		terms = append(terms, EvidenceTerm{Feature: feature, LogLikelihood: term})
		return nil
	}

	for _, t := range evidenceTerms(p, ev, clamp) {
		if err := fold(t.Feature, t.LogLikelihood); err != nil {
			return PosteriorResult{}, err
		}
	}

	logPost := numerics.NormalizeLogProbs(logp)
	probs := numerics.StableSoftmax(logp)
	for i := range probs {
		if math.IsNaN(probs[i]) {
			return PosteriorResult{}, pterrors.New(pterrors.KindNumericalInstability,
				"posterior normalization produced NaN")
		}
	}

	// Clamp and renormalize so no class is exactly 0 or 1.
	var total float64
	for i := range probs {
		probs[i] = numerics.Clamp(probs[i], numerics.ProbFloor, numerics.ProbCeil)
		total += probs[i]
	}
	for i := range probs {
		probs[i] /= total
	}

	posterior := model.ScoresFromSlice(probs)
	var logPosterior model.ClassScores
	for i, c := range model.Classes {
		logPosterior.Set(c, logPost[i])
	}

	return PosteriorResult{
		Posterior:    posterior,
		LogPosterior: logPosterior,
		LogOddsAbandonedVsUseful: numerics.LogOdds(logPost,
			int(model.ClassAbandoned), int(model.ClassUseful)),
		EvidenceTerms: terms,
	}, nil
}

// presentFeatures lists the feature names carried by the evidence, in the
// fixed fold order.
func presentFeatures(ev model.Evidence) []string {
	var out []string
	if ev.Cpu != nil {
		out = append(out, priors.FeatureCpu)
	}
	if ev.RuntimeSeconds != nil {
		out = append(out, priors.FeatureRuntime)
	}
	if ev.Orphan != nil {
		out = append(out, priors.FeatureOrphan)
	}
	if ev.TTY != nil {
		out = append(out, priors.FeatureTTY)
	}
	if ev.Net != nil {
		out = append(out, priors.FeatureNet)
	}
	if ev.IOActive != nil {
		out = append(out, priors.FeatureIOActive)
	}
	if ev.State != nil && *ev.State < model.NumStateFlags {
		out = append(out, priors.FeatureState)
	}
	if ev.CommandCategory != "" {
		out = append(out, priors.FeatureCategory)
	}
	for _, plugin := range ev.Plugins {
		out = append(out, "plugin:"+plugin.Plugin)
	}
	return out
}

// computeFeatureTerm computes one feature's per-class log-likelihood row.
// Returns false when the evidence does not carry the feature.
func computeFeatureTerm(p *priors.Priors, ev model.Evidence, feature string, clamp float64) (EvidenceTerm, bool) {
	category := ev.CommandCategory

	binary := func(name string, observed bool) EvidenceTerm {
		var row model.ClassScores
		for _, c := range model.Classes {
			params := p.Class(c).Feature(name)
			if category != "" {
				params = p.EffectiveParams(c, category, name, params)
			}
			row.Set(c, params.LogBernoulli(observed, clamp))
		}
		return EvidenceTerm{Feature: name, LogLikelihood: row}
	}

	switch feature {
	case priors.FeatureCpu:
		if ev.Cpu == nil {
			return EvidenceTerm{}, false
		}
		var row model.ClassScores
		for _, c := range model.Classes {
			params := p.Class(c).Feature(priors.FeatureCpu)
			if category != "" {
				params = p.EffectiveParams(c, category, priors.FeatureCpu, params)
			}
			switch ev.Cpu.Kind {
			case model.CpuBinomial:
				row.Set(c, params.LogBinomial(ev.Cpu.K, ev.Cpu.N, ev.Cpu.Eta, clamp))
			default:
				row.Set(c, params.LogFraction(ev.Cpu.Fraction, clamp))
			}
		}
		return EvidenceTerm{Feature: priors.FeatureCpu, LogLikelihood: row}, true

	case priors.FeatureRuntime:
		if ev.RuntimeSeconds == nil {
			return EvidenceTerm{}, false
		}
		bucket := priors.BucketAge(*ev.RuntimeSeconds)
		var row model.ClassScores
		for _, c := range model.Classes {
			w := p.Class(c).AgeWeights[bucket]
			row.Set(c, numerics.Clamp(numerics.SafeLog(w), -clamp, clamp))
		}
		return EvidenceTerm{Feature: priors.FeatureRuntime, LogLikelihood: row}, true

	case priors.FeatureOrphan:
		if ev.Orphan == nil {
			return EvidenceTerm{}, false
		}
		return binary(priors.FeatureOrphan, *ev.Orphan), true
	case priors.FeatureTTY:
		if ev.TTY == nil {
			return EvidenceTerm{}, false
		}
		return binary(priors.FeatureTTY, *ev.TTY), true
	case priors.FeatureNet:
		if ev.Net == nil {
			return EvidenceTerm{}, false
		}
		return binary(priors.FeatureNet, *ev.Net), true
	case priors.FeatureIOActive:
		if ev.IOActive == nil {
			return EvidenceTerm{}, false
		}
		return binary(priors.FeatureIOActive, *ev.IOActive), true

	case priors.FeatureState:
		if ev.State == nil || *ev.State >= model.NumStateFlags {
			return EvidenceTerm{}, false
		}
		var row model.ClassScores
		for _, c := range model.Classes {
			w := p.Class(c).StateWeights[*ev.State]
			row.Set(c, numerics.Clamp(numerics.SafeLog(w), -clamp, clamp))
		}
		return EvidenceTerm{Feature: priors.FeatureState, LogLikelihood: row}, true

	case priors.FeatureCategory:
		if category == "" {
			return EvidenceTerm{}, false
		}
		var row model.ClassScores
		for _, c := range model.Classes {
			w := p.Class(c).CategoryWeight(category)
			row.Set(c, numerics.Clamp(numerics.SafeLog(w), -clamp, clamp))
		}
		return EvidenceTerm{Feature: priors.FeatureCategory, LogLikelihood: row}, true
	}

	for _, plugin := range ev.Plugins {
		if "plugin:"+plugin.Plugin != feature {
			continue
		}
		var row model.ClassScores
		for _, c := range model.Classes {
			row.Set(c, numerics.Clamp(plugin.LogLikelihoods.Get(c), -clamp, clamp))
		}
		return EvidenceTerm{Feature: feature, LogLikelihood: row}, true
	}
	return EvidenceTerm{}, false
}

// evidenceTerms computes the per-feature log-likelihood rows for every
// present evidence field, in the fixed fold order.
func evidenceTerms(p *priors.Priors, ev model.Evidence, clamp float64) []EvidenceTerm {
	features := presentFeatures(ev)
	terms := make([]EvidenceTerm, 0, len(features))
	for _, feature := range features {
		if t, ok := computeFeatureTerm(p, ev, feature, clamp); ok {
			terms = append(terms, t)
		}
	}
	return terms
}
