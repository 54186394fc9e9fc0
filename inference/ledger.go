package inference

import (
	"math"
	"sort"

	"github.com/ptops/ptriage/model"
)

// ConfidenceBucket buckets the maximum posterior probability.
type ConfidenceBucket string

const (
	ConfidenceLow      ConfidenceBucket = "low"
	ConfidenceMedium   ConfidenceBucket = "medium"
	ConfidenceHigh     ConfidenceBucket = "high"
	ConfidenceVeryHigh ConfidenceBucket = "very_high"
)

// Posterior thresholds for the confidence buckets.
const (
	mediumThreshold   = 0.8
	highThreshold     = 0.95
	veryHighThreshold = 0.99
)

// BucketConfidence maps a max posterior probability to its bucket.
func BucketConfidence(maxPosterior float64) ConfidenceBucket {
	switch {
	case maxPosterior >= veryHighThreshold:
		return ConfidenceVeryHigh
	case maxPosterior >= highThreshold:
		return ConfidenceHigh
	case maxPosterior >= mediumThreshold:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// EvidenceStrength buckets a Bayes factor's bit weight.
type EvidenceStrength string

const (
	StrengthWeak     EvidenceStrength = "weak"
	StrengthModerate EvidenceStrength = "moderate"
	StrengthStrong   EvidenceStrength = "strong"
	StrengthDecisive EvidenceStrength = "decisive"
)

// BucketStrength maps |delta bits| to a strength label.
func BucketStrength(absBits float64) EvidenceStrength {
	switch {
	case absBits > 3.3:
		return StrengthDecisive
	case absBits > 2.0:
		return StrengthStrong
	case absBits > 1.0:
		return StrengthModerate
	default:
		return StrengthWeak
	}
}

// BayesFactor is one feature's contribution for the chosen class against
// the runner-up.
type BayesFactor struct {
	Feature string `json:"feature"`
	// LogBF = loglik(class) - loglik(runner_up), in nats.
	LogBF float64 `json:"log_bf"`
	// DeltaBits = LogBF / ln 2.
	DeltaBits float64 `json:"delta_bits"`
	// Direction is "for" when the feature supports the classification,
	// "against" otherwise.
	Direction string           `json:"direction"`
	Strength  EvidenceStrength `json:"strength"`
}

// EvidenceLedger is the per-feature Bayes factor trace for one posterior.
type EvidenceLedger struct {
	Posterior      model.ClassScores `json:"posterior"`
	Classification model.Class       `json:"classification"`
	RunnerUp       model.Class       `json:"runner_up"`
	Confidence     ConfidenceBucket  `json:"confidence"`
	Factors        []BayesFactor     `json:"factors"`
	// TopEvidence is the factors ranked by |delta_bits| descending.
	TopEvidence []BayesFactor `json:"top_evidence"`
}

// BuildLedger decomposes a posterior result into Bayes factors for the
// chosen class against the runner-up, with strength and confidence buckets.
func BuildLedger(result PosteriorResult, topK int) EvidenceLedger {
	classification := result.Posterior.Argmax()
	runnerUp := runnerUpClass(result.Posterior, classification)

	ledger := EvidenceLedger{
		Posterior:      result.Posterior,
		Classification: classification,
		RunnerUp:       runnerUp,
		Confidence:     BucketConfidence(result.Posterior.Max()),
	}

	for _, term := range result.EvidenceTerms {
		logBF := term.LogLikelihood.Get(classification) - term.LogLikelihood.Get(runnerUp)
		bits := logBF / math.Ln2
		direction := "for"
		if logBF < 0 {
			direction = "against"
		}
		ledger.Factors = append(ledger.Factors, BayesFactor{
			Feature:   term.Feature,
			LogBF:     logBF,
			DeltaBits: bits,
			Direction: direction,
			Strength:  BucketStrength(math.Abs(bits)),
		})
	}

	ranked := make([]BayesFactor, len(ledger.Factors))
	copy(ranked, ledger.Factors)
	sort.SliceStable(ranked, func(i, j int) bool {
		return math.Abs(ranked[i].DeltaBits) > math.Abs(ranked[j].DeltaBits)
	})
	if topK > 0 && topK < len(ranked) {
		ranked = ranked[:topK]
	}
	ledger.TopEvidence = ranked
	return ledger
}

func runnerUpClass(p model.ClassScores, top model.Class) model.Class {
	runner := top
	best := math.Inf(-1)
	for _, c := range model.Classes {
		if c == top {
			continue
		}
		if v := p.Get(c); v > best {
			best = v
			runner = c
		}
	}
	return runner
}
