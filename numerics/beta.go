package numerics

import "math"

// BetaParams is a Beta(alpha, beta) distribution over a binary feature rate.
type BetaParams struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// Mean returns E[p] = alpha / (alpha + beta), or 0.5 for a degenerate prior.
func (b BetaParams) Mean() float64 {
	s := b.Alpha + b.Beta
	if s <= 0 {
		return 0.5
	}
	return b.Alpha / s
}

// Tempered returns the eta-tempered parameters Beta(eta*alpha+1, eta*beta+1).
// Tempering with eta < 1 flattens the distribution toward uniform.
func (b BetaParams) Tempered(eta float64) BetaParams {
	return BetaParams{Alpha: eta*b.Alpha + 1, Beta: eta*b.Beta + 1}
}

// LogBernoulli returns the log-likelihood of a binary observation under the
// Beta mean: log(E[p]) when observed, log(1-E[p]) otherwise. The result is
// clamped to ±clamp.
func (b BetaParams) LogBernoulli(observed bool, clamp float64) float64 {
	p := Clamp(b.Mean(), ProbFloor, ProbCeil)
	var ll float64
	if observed {
		ll = SafeLog(p)
	} else {
		ll = SafeLog(1 - p)
	}
	return Clamp(ll, -clamp, clamp)
}

// LogFraction returns a bounded log-likelihood for a single fractional
// observation q in [0,1]: the log of the Beta density shape
// (alpha-1)*q + (beta-1)*(1-q) normalized by (alpha-1)+(beta-1), falling
// back to the Bernoulli-mean form when the prior is too flat for the
// linear shape. Clamped to ±clamp.
func (b BetaParams) LogFraction(q float64, clamp float64) float64 {
	q = Clamp(q, 0, 1)
	am, bm := b.Alpha-1, b.Beta-1
	denom := am + bm
	if denom > 0 && am >= 0 && bm >= 0 {
		shape := (am*q + bm*(1-q)) / denom
		return Clamp(SafeLog(shape), -clamp, clamp)
	}
	// Flat or improper prior: treat q as a soft Bernoulli observation.
	p := Clamp(b.Mean(), ProbFloor, ProbCeil)
	ll := q*SafeLog(p) + (1-q)*SafeLog(1-p)
	return Clamp(ll, -clamp, clamp)
}

// LogBinomial returns the eta-tempered binomial log-likelihood of k
// successes in n trials under the Beta mean, up to the constant binomial
// coefficient (shared across classes, so it cancels in normalization).
func (b BetaParams) LogBinomial(k, n uint32, eta float64, clamp float64) float64 {
	if n == 0 {
		return 0
	}
	if eta <= 0 || eta > 1 {
		eta = 1
	}
	p := Clamp(b.Mean(), ProbFloor, ProbCeil)
	ll := float64(k)*math.Log(p) + float64(n-k)*math.Log(1-p)
	return Clamp(eta*ll, -clamp, clamp)
}
