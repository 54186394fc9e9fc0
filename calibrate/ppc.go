// Package calibrate watches how well the model's predictions match what the
// host actually does, and turns misfit into the robustness triggers the
// decision layer consumes: posterior predictive checks over shadow-mode
// feature observations, posterior drift detection, Kalman-smoothed resource
// tracking, memory-growth and CPU-trend estimation, and time-to-threshold
// prediction.
package calibrate

import (
	"fmt"
	"math"
	"sort"

	"github.com/ptops/ptriage/model"
)

// FeatureObservation is a single shadow-mode observation: whether a binary
// feature held for a process, against the probability the model gave it.
type FeatureObservation struct {
	Feature        string  `json:"feature"`
	Observed       bool    `json:"observed"`
	PredictedProb  float64 `json:"predicted_prob"`
	Classification string  `json:"classification"`
	Category       string  `json:"category,omitempty"`
}

// PPCFeatureCheck is the check result for one (feature, classification)
// group.
type PPCFeatureCheck struct {
	Feature        string  `json:"feature"`
	Classification string  `json:"classification"`
	N              int     `json:"n"`
	ObservedRate   float64 `json:"observed_rate"`
	PredictedRate  float64 `json:"predicted_rate"`
	// Discrepancy is observed - predicted.
	Discrepancy float64 `json:"discrepancy"`
	SE          float64 `json:"se"`
	ZScore      float64 `json:"z_score"`
	// Significant when |z| > 2 with n >= 20.
	Significant    bool   `json:"significant"`
	Interpretation string `json:"interpretation"`
}

// PPCRecommendation suggests which prior to revise and in what direction.
type PPCRecommendation struct {
	Target     string  `json:"target"`
	Direction  string  `json:"direction"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence"`
}

// PPCSummary aggregates the checks over a batch of observations.
type PPCSummary struct {
	TotalObservations int                 `json:"total_observations"`
	Checks            []PPCFeatureCheck   `json:"checks"`
	Miscalibrated     []PPCFeatureCheck   `json:"miscalibrated"`
	Recommendations   []PPCRecommendation `json:"recommendations"`
}

// Failed reports whether any feature shows significant miscalibration.
func (s PPCSummary) Failed() bool { return len(s.Miscalibrated) > 0 }

// minPPCGroup is the smallest group worth checking; minSignificantN gates
// the significance call.
const (
	minPPCGroup    = 5
	minSignificantN = 20
)

// ComputePPC groups observations by (feature, classification), compares
// observed frequency against the mean predicted probability, and flags
// groups whose discrepancy z-score exceeds 2 with at least 20 samples.
func ComputePPC(observations []FeatureObservation) PPCSummary {
	type key struct{ feature, class string }
	groups := make(map[key][]FeatureObservation)
	for _, obs := range observations {
		k := key{feature: obs.Feature, class: obs.Classification}
		groups[k] = append(groups[k], obs)
	}

	var checks []PPCFeatureCheck
	for k, group := range groups {
		n := len(group)
		if n < minPPCGroup {
			continue
		}

		observedCount := 0
		var predictedSum float64
		for _, obs := range group {
			if obs.Observed {
				observedCount++
			}
			predictedSum += obs.PredictedProb
		}
		observedRate := float64(observedCount) / float64(n)
		predictedRate := predictedSum / float64(n)
		discrepancy := observedRate - predictedRate

		se := 0.0
		if n > 1 {
			se = math.Sqrt(observedRate * (1 - observedRate) / float64(n))
		}
		z := 0.0
		if se > 1e-10 {
			z = discrepancy / se
		}
		significant := math.Abs(z) > 2 && n >= minSignificantN

		var interpretation string
		switch {
		case significant && discrepancy > 0:
			interpretation = fmt.Sprintf(
				"feature %q is more common than predicted for %s processes (%.1f%% observed vs %.1f%% predicted)",
				k.feature, k.class, observedRate*100, predictedRate*100)
		case significant:
			interpretation = fmt.Sprintf(
				"feature %q is less common than predicted for %s processes (%.1f%% observed vs %.1f%% predicted)",
				k.feature, k.class, observedRate*100, predictedRate*100)
		default:
			interpretation = fmt.Sprintf(
				"feature %q for %s processes: no significant discrepancy (n=%d)",
				k.feature, k.class, n)
		}

		checks = append(checks, PPCFeatureCheck{
			Feature:        k.feature,
			Classification: k.class,
			N:              n,
			ObservedRate:   observedRate,
			PredictedRate:  predictedRate,
			Discrepancy:    discrepancy,
			SE:             se,
			ZScore:         z,
			Significant:    significant,
			Interpretation: interpretation,
		})
	}

	sort.SliceStable(checks, func(i, j int) bool {
		if a, b := math.Abs(checks[i].ZScore), math.Abs(checks[j].ZScore); a != b {
			return a > b
		}
		if checks[i].Feature != checks[j].Feature {
			return checks[i].Feature < checks[j].Feature
		}
		return checks[i].Classification < checks[j].Classification
	})

	var miscalibrated []PPCFeatureCheck
	for _, c := range checks {
		if c.Significant {
			miscalibrated = append(miscalibrated, c)
		}
	}

	return PPCSummary{
		TotalObservations: len(observations),
		Checks:            checks,
		Miscalibrated:     miscalibrated,
		Recommendations:   ppcRecommendations(miscalibrated),
	}
}

func ppcRecommendations(miscalibrated []PPCFeatureCheck) []PPCRecommendation {
	var recs []PPCRecommendation
	for _, check := range miscalibrated {
		direction := "decrease"
		if check.Discrepancy > 0 {
			direction = "increase"
		}
		confidence := 1 - 2/float64(check.N)
		if confidence < 0 {
			confidence = 0
		}
		recs = append(recs, PPCRecommendation{
			Target:     fmt.Sprintf("%s likelihood for %s class", check.Feature, check.Classification),
			Direction:  direction,
			Confidence: confidence,
			Evidence: fmt.Sprintf("z=%.2f, observed=%.3f, predicted=%.3f, n=%d",
				check.ZScore, check.ObservedRate, check.PredictedRate, check.N),
		})
	}
	return recs
}

// Prediction pairs a full posterior with the later-confirmed ground truth.
type Prediction struct {
	Posterior model.ClassScores `json:"posterior"`
	Actual    model.Class       `json:"actual"`
}

// ClassCalibration summarizes one class's calibration quality.
type ClassCalibration struct {
	Class         model.Class `json:"class"`
	N             int         `json:"n"`
	BrierScore    float64     `json:"brier_score"`
	ECE           float64     `json:"ece"`
	MeanPredicted float64     `json:"mean_predicted"`
	ActualRate    float64     `json:"actual_rate"`
	// Bias is mean_predicted - actual_rate.
	Bias float64 `json:"bias"`
}

// Calibration is the per-class calibration summary over a prediction batch.
type Calibration struct {
	Classes []ClassCalibration `json:"classes"`
}

// MeanECE averages the per-class expected calibration error.
func (c Calibration) MeanECE() float64 {
	if len(c.Classes) == 0 {
		return 0
	}
	var sum float64
	for _, cl := range c.Classes {
		sum += cl.ECE
	}
	return sum / float64(len(c.Classes))
}

// eceBins is the bin count for expected calibration error.
const eceBins = 10

// ComputeCalibration computes Brier score, ECE, and bias for every class
// over confirmed predictions.
func ComputeCalibration(predictions []Prediction) Calibration {
	var out Calibration
	for _, class := range model.Classes {
		var brierSum, predictedSum float64
		actualCount := 0
		n := 0
		for _, pred := range predictions {
			p := pred.Posterior.Get(class)
			actual := 0.0
			if pred.Actual == class {
				actual = 1
				actualCount++
			}
			brierSum += (p - actual) * (p - actual)
			predictedSum += p
			n++
		}
		if n == 0 {
			continue
		}
		out.Classes = append(out.Classes, ClassCalibration{
			Class:         class,
			N:             n,
			BrierScore:    brierSum / float64(n),
			ECE:           classECE(predictions, class),
			MeanPredicted: predictedSum / float64(n),
			ActualRate:    float64(actualCount) / float64(n),
			Bias:          predictedSum/float64(n) - float64(actualCount)/float64(n),
		})
	}
	return out
}

func classECE(predictions []Prediction, class model.Class) float64 {
	binWidth := 1.0 / eceBins
	type bin struct {
		sumPred, sumActual float64
		count              int
	}
	bins := make([]bin, eceBins)

	for _, pred := range predictions {
		p := pred.Posterior.Get(class)
		actual := 0.0
		if pred.Actual == class {
			actual = 1
		}
		idx := int(p / binWidth)
		if idx >= eceBins {
			idx = eceBins - 1
		}
		bins[idx].sumPred += p
		bins[idx].sumActual += actual
		bins[idx].count++
	}

	total := float64(len(predictions))
	if total == 0 {
		return 0
	}
	var ece float64
	for _, b := range bins {
		if b.count == 0 {
			continue
		}
		avgPred := b.sumPred / float64(b.count)
		avgActual := b.sumActual / float64(b.count)
		ece += float64(b.count) / total * math.Abs(avgPred-avgActual)
	}
	return ece
}
