package inference

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"math"

	"github.com/ptops/ptriage/model"
	"github.com/ptops/ptriage/numerics"
	"github.com/ptops/ptriage/priors"
	"github.com/ptops/ptriage/pterrors"
)

// IncrementalConfig controls the cached posterior computation.
type IncrementalConfig struct {
	// SanityEveryN forces a full recompute every N cached computations and
	// compares divergence.
	SanityEveryN int `json:"sanity_every_n"`
	// DivergenceEpsilon is the L-infinity tolerance between cached and
	// full posteriors before the cache is invalidated.
	DivergenceEpsilon float64         `json:"divergence_epsilon"`
	Posterior         PosteriorConfig `json:"posterior"`
}

// DefaultIncrementalConfig returns the embedded cache parameters.
func DefaultIncrementalConfig() IncrementalConfig {
	return IncrementalConfig{
		SanityEveryN:      64,
		DivergenceEpsilon: 1e-9,
		Posterior:         DefaultPosteriorConfig(),
	}
}

// CacheStats reports cache behavior for diagnostics.
type CacheStats struct {
	Computations  int `json:"computations"`
	TermsReused   int `json:"terms_reused"`
	TermsComputed int `json:"terms_computed"`
	SanityChecks  int `json:"sanity_checks"`
	Invalidations int `json:"invalidations"`
}

// CachedPosterior caches per-feature log-likelihood terms across
// computations, keyed by a hash of each evidence field. Unchanged fields
// reuse their cached term; a periodic sanity tick recomputes from scratch
// and invalidates on divergence.
type CachedPosterior struct {
	cfg    IncrementalConfig
	priors *priors.Priors

	terms        map[string]cachedTerm
	lastCategory string
	last         *PosteriorResult
	stats        CacheStats
	sinceC       int
}

type cachedTerm struct {
	hash uint64
	term model.ClassScores
}

// NewCachedPosterior builds a cache against a fixed prior snapshot.
func NewCachedPosterior(p *priors.Priors, cfg IncrementalConfig) *CachedPosterior {
	if cfg.SanityEveryN <= 0 {
		cfg.SanityEveryN = DefaultIncrementalConfig().SanityEveryN
	}
	if cfg.DivergenceEpsilon <= 0 {
		cfg.DivergenceEpsilon = DefaultIncrementalConfig().DivergenceEpsilon
	}
	return &CachedPosterior{cfg: cfg, priors: p, terms: make(map[string]cachedTerm)}
}

// Compute returns the posterior for the evidence, recomputing only the
// log-likelihood terms whose backing evidence changed. Every SanityEveryN
// computations the full pipeline runs and the results are compared;
// divergence beyond the epsilon invalidates the cache.
func (c *CachedPosterior) Compute(ev model.Evidence) (PosteriorResult, error) {
	c.stats.Computations++
	c.sinceC++

	clamp := c.cfg.Posterior.LogClamp
	if clamp <= 0 {
		clamp = numerics.DefaultLogClamp
	}

	// Assemble terms: reuse cached entries for clean features, recompute
	// only the dirty ones. The category shifts shrinkage for every binary
	// feature, so a category change dirties everything.
	var terms []EvidenceTerm
	if c.categoryDirty(ev) {
		terms = evidenceTerms(c.priors, ev, clamp)
		c.stats.TermsComputed += len(terms)
		c.storeTerms(terms, ev)
	} else {
		features := presentFeatures(ev)
		terms = make([]EvidenceTerm, 0, len(features))
		for _, feature := range features {
			h := hashFeature(feature, ev)
			if cached, ok := c.terms[feature]; ok && cached.hash == h {
				c.stats.TermsReused++
				terms = append(terms, EvidenceTerm{Feature: feature, LogLikelihood: cached.term})
				continue
			}
			t, ok := computeFeatureTerm(c.priors, ev, feature, clamp)
			if !ok {
				continue
			}
			c.stats.TermsComputed++
			c.terms[feature] = cachedTerm{hash: h, term: t.LogLikelihood}
			terms = append(terms, t)
		}
	}

	result, err := assemblePosterior(c.priors, terms, clamp)
	if err != nil {
		return result, err
	}

	if c.sinceC >= c.cfg.SanityEveryN {
		c.sinceC = 0
		c.stats.SanityChecks++
		full, err := ComputePosteriorWith(c.priors, ev, c.cfg.Posterior)
		if err != nil {
			c.Invalidate()
			return result, err
		}
		if linfDivergence(result.Posterior, full.Posterior) > c.cfg.DivergenceEpsilon {
			c.Invalidate()
			result = full
		}
	}

	c.last = &result
	return result, nil
}

// assemblePosterior normalizes pre-computed evidence terms into a
// PosteriorResult, mirroring ComputePosteriorWith past term generation.
func assemblePosterior(p *priors.Priors, terms []EvidenceTerm, clamp float64) (PosteriorResult, error) {
	logp := make([]float64, model.NumClasses)
	for i, cl := range model.Classes {
		logp[i] = p.LogClassPrior(cl)
	}
	for _, t := range terms {
		for i, cl := range model.Classes {
			v := t.LogLikelihood.Get(cl)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return PosteriorResult{}, pterrors.New(pterrors.KindNumericalInstability,
					"non-finite cached term for feature %s", t.Feature)
			}
			logp[i] += v
		}
	}

	logPost := numerics.NormalizeLogProbs(logp)
	probs := numerics.StableSoftmax(logp)
	var total float64
	for i := range probs {
		if math.IsNaN(probs[i]) {
			return PosteriorResult{}, pterrors.New(pterrors.KindNumericalInstability,
				"posterior normalization produced NaN")
		}
		probs[i] = numerics.Clamp(probs[i], numerics.ProbFloor, numerics.ProbCeil)
		total += probs[i]
	}
	for i := range probs {
		probs[i] /= total
	}

	var logPosterior model.ClassScores
	for i, cl := range model.Classes {
		logPosterior.Set(cl, logPost[i])
	}
	return PosteriorResult{
		Posterior:    model.ScoresFromSlice(probs),
		LogPosterior: logPosterior,
		LogOddsAbandonedVsUseful: numerics.LogOdds(logPost,
			int(model.ClassAbandoned), int(model.ClassUseful)),
		EvidenceTerms: terms,
	}, nil
}

func (c *CachedPosterior) storeTerms(terms []EvidenceTerm, ev model.Evidence) {
	c.terms = make(map[string]cachedTerm, len(terms))
	for _, t := range terms {
		c.terms[t.Feature] = cachedTerm{hash: hashFeature(t.Feature, ev), term: t.LogLikelihood}
	}
	c.lastCategory = ev.CommandCategory
}

func (c *CachedPosterior) categoryDirty(ev model.Evidence) bool {
	return ev.CommandCategory != c.lastCategory
}

// IsFeatureDirty reports whether a feature's evidence changed since the
// last computation.
func (c *CachedPosterior) IsFeatureDirty(feature string, ev model.Evidence) bool {
	cached, ok := c.terms[feature]
	if !ok {
		return true
	}
	return cached.hash != hashFeature(feature, ev)
}

// LastResult returns the most recent posterior, or nil.
func (c *CachedPosterior) LastResult() *PosteriorResult { return c.last }

// Stats returns cache statistics.
func (c *CachedPosterior) Stats() CacheStats { return c.stats }

// Invalidate drops every cached term.
func (c *CachedPosterior) Invalidate() {
	c.terms = make(map[string]cachedTerm)
	c.lastCategory = ""
	c.stats.Invalidations++
}

// hashFeature hashes the evidence content backing one feature.
func hashFeature(feature string, ev model.Evidence) uint64 {
	var payload any
	switch feature {
	case priors.FeatureCpu:
		payload = ev.Cpu
	case priors.FeatureRuntime:
		payload = ev.RuntimeSeconds
	case priors.FeatureOrphan:
		payload = ev.Orphan
	case priors.FeatureTTY:
		payload = ev.TTY
	case priors.FeatureNet:
		payload = ev.Net
	case priors.FeatureIOActive:
		payload = ev.IOActive
	case priors.FeatureState:
		payload = ev.State
	case priors.FeatureCategory:
		payload = ev.CommandCategory
	default:
		payload = ev.Plugins
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0
	}
	sum := sha256.Sum256(data)
	return binary.BigEndian.Uint64(sum[:8])
}

func linfDivergence(a, b model.ClassScores) float64 {
	var d float64
	for _, cl := range model.Classes {
		if v := math.Abs(a.Get(cl) - b.Get(cl)); v > d {
			d = v
		}
	}
	return d
}
