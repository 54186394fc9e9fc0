package calibrate

import (
	"math"

	"github.com/ptops/ptriage/pterrors"
)

// CpuSample is one CPU utilization observation.
type CpuSample struct {
	// T is seconds, monotonic within a series.
	T float64 `json:"t"`
	// CpuFrac is utilization in [0, 1+] (over 1 on multicore).
	CpuFrac float64 `json:"cpu_frac"`
}

// CpuTrendConfig tunes the CPU trend classifier.
type CpuTrendConfig struct {
	MinSamples      int     `json:"min_samples"`
	MinTimeSpanSecs float64 `json:"min_time_span_secs"`
	// EWMAHalfLife is the smoothing half-life in seconds.
	EWMAHalfLife float64 `json:"ewma_half_life"`
	// MinRSquared for a directional call.
	MinRSquared float64 `json:"min_r_squared"`
	// MinSlopePerSec below which the series counts as flat.
	MinSlopePerSec float64 `json:"min_slope_per_sec"`
	// BurstyCVThreshold: coefficient of variation above this is bursty.
	BurstyCVThreshold float64 `json:"bursty_cv_threshold"`
}

// DefaultCpuTrendConfig returns the embedded classifier thresholds.
func DefaultCpuTrendConfig() CpuTrendConfig {
	return CpuTrendConfig{
		MinSamples:        5,
		MinTimeSpanSecs:   30,
		EWMAHalfLife:      60,
		MinRSquared:       0.3,
		MinSlopePerSec:    1e-5,
		BurstyCVThreshold: 1.0,
	}
}

// CpuTrendLabel classifies a CPU series.
type CpuTrendLabel string

const (
	CpuTrendStable     CpuTrendLabel = "stable"
	CpuTrendIncreasing CpuTrendLabel = "increasing"
	CpuTrendDecreasing CpuTrendLabel = "decreasing"
	CpuTrendBursty     CpuTrendLabel = "bursty"
	CpuTrendUnknown    CpuTrendLabel = "unknown"
)

// ThresholdEta is a predicted crossing of a CPU threshold.
type ThresholdEta struct {
	Threshold  float64 `json:"threshold"`
	EtaSecs    float64 `json:"eta_secs"`
	Confidence float64 `json:"confidence"`
}

// CpuTrendResult is the analysis output.
type CpuTrendResult struct {
	Label           CpuTrendLabel `json:"label"`
	Confidence      float64       `json:"confidence"`
	SmoothedCurrent float64       `json:"smoothed_current"`
	SlopePerSec     float64       `json:"slope_per_sec"`
	RSquared        float64       `json:"r_squared"`
	Variance        float64       `json:"variance"`
	// CV is the coefficient of variation (std/mean).
	CV           float64       `json:"cv"`
	SampleCount  int           `json:"sample_count"`
	WindowSecs   float64       `json:"window_secs"`
	ThresholdEta *ThresholdEta `json:"threshold_eta,omitempty"`
}

// ewma computes a time-weighted exponential moving average:
// alpha = 1 - exp(-dt * ln2 / half_life).
func ewma(samples []CpuSample, halfLife float64) []float64 {
	if len(samples) == 0 {
		return nil
	}
	decayRate := math.Ln2 / halfLife
	out := make([]float64, len(samples))
	smoothed := samples[0].CpuFrac
	out[0] = smoothed
	for i := 1; i < len(samples); i++ {
		dt := samples[i].T - samples[i-1].T
		if dt < 0.001 {
			dt = 0.001
		}
		alpha := 1 - math.Exp(-decayRate*dt)
		smoothed = alpha*samples[i].CpuFrac + (1-alpha)*smoothed
		out[i] = smoothed
	}
	return out
}

// AnalyzeCpuTrend classifies a CPU utilization series and optionally
// predicts when it crosses a threshold.
func AnalyzeCpuTrend(samples []CpuSample, cfg CpuTrendConfig, threshold *float64) (CpuTrendResult, error) {
	if len(samples) < cfg.MinSamples {
		return CpuTrendResult{}, pterrors.New(pterrors.KindInference,
			"insufficient samples: %d (need %d)", len(samples), cfg.MinSamples)
	}

	tMin, tMax := math.Inf(1), math.Inf(-1)
	for _, s := range samples {
		tMin = math.Min(tMin, s.T)
		tMax = math.Max(tMax, s.T)
	}
	span := tMax - tMin
	if span < cfg.MinTimeSpanSecs {
		return CpuTrendResult{}, pterrors.New(pterrors.KindInference,
			"time span too short: %.0fs (need %.0fs)", span, cfg.MinTimeSpanSecs)
	}

	n := float64(len(samples))
	var mean float64
	for _, s := range samples {
		mean += s.CpuFrac
	}
	mean /= n
	var variance float64
	for _, s := range samples {
		variance += (s.CpuFrac - mean) * (s.CpuFrac - mean)
	}
	variance /= math.Max(n-1, 1)
	stdDev := math.Sqrt(variance)
	cv := 0.0
	if math.Abs(mean) > 1e-12 {
		cv = stdDev / mean
	}

	points := make([]TimePoint, len(samples))
	for i, s := range samples {
		points[i] = TimePoint{T: s.T, Value: s.CpuFrac}
	}
	reg, _ := linearRegression(points)

	smoothed := ewma(samples, cfg.EWMAHalfLife)
	smoothedCurrent := mean
	if len(smoothed) > 0 {
		smoothedCurrent = smoothed[len(smoothed)-1]
	}

	label := classifyCpu(reg.slope, reg.rSquared, cv, cfg)

	// Confidence: more samples and better fit raise it.
	sampleFactor := math.Min(n/20, 1)
	var confidence float64
	switch label {
	case CpuTrendIncreasing, CpuTrendDecreasing:
		confidence = math.Min(sampleFactor*0.5+reg.rSquared*0.5, 1)
	case CpuTrendStable:
		confidence = math.Min(sampleFactor*0.7+math.Max(1-cv, 0)*0.3, 1)
	case CpuTrendBursty:
		confidence = math.Min(sampleFactor*0.6+math.Min(cv, 1)*0.4, 1)
	default:
		confidence = 0
	}

	result := CpuTrendResult{
		Label:           label,
		Confidence:      confidence,
		SmoothedCurrent: smoothedCurrent,
		SlopePerSec:     reg.slope,
		RSquared:        reg.rSquared,
		Variance:        variance,
		CV:              cv,
		SampleCount:     len(samples),
		WindowSecs:      span,
	}

	if threshold != nil && label == CpuTrendIncreasing && reg.slope > 0 {
		if smoothedCurrent >= *threshold {
			result.ThresholdEta = &ThresholdEta{Threshold: *threshold, Confidence: confidence}
		} else {
			eta := (*threshold - smoothedCurrent) / reg.slope
			if eta > 0 && eta < 30*86400 && reg.rSquared >= cfg.MinRSquared {
				result.ThresholdEta = &ThresholdEta{
					Threshold:  *threshold,
					EtaSecs:    eta,
					Confidence: math.Min(confidence*math.Sqrt(reg.rSquared), 1),
				}
			}
		}
	}
	return result, nil
}

func classifyCpu(slope, rSquared, cv float64, cfg CpuTrendConfig) CpuTrendLabel {
	// High CV is bursty regardless of trend.
	if cv > cfg.BurstyCVThreshold {
		return CpuTrendBursty
	}
	if rSquared >= cfg.MinRSquared && math.Abs(slope) >= cfg.MinSlopePerSec {
		if slope > 0 {
			return CpuTrendIncreasing
		}
		return CpuTrendDecreasing
	}
	if math.Abs(slope) < cfg.MinSlopePerSec {
		return CpuTrendStable
	}
	// Significant slope with a bad fit: cannot tell.
	return CpuTrendUnknown
}
