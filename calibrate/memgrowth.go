package calibrate

import (
	"math"
	"sort"

	"github.com/ptops/ptriage/pterrors"
)

// MemSample is one memory observation for growth estimation.
type MemSample struct {
	// T is seconds, monotonic within a series.
	T        float64 `json:"t"`
	RSSBytes uint64  `json:"rss_bytes"`
	// USSBytes is the unique set size when available; zero means unknown.
	USSBytes uint64 `json:"uss_bytes,omitempty"`
}

// MemGrowthConfig tunes the robust growth fit.
type MemGrowthConfig struct {
	MinSamples      int     `json:"min_samples"`
	MinTimeSpanSecs float64 `json:"min_time_span_secs"`
	// TrimFraction trims this fraction of extreme values from each tail.
	TrimFraction float64 `json:"trim_fraction"`
}

// DefaultMemGrowthConfig returns the embedded fit parameters.
func DefaultMemGrowthConfig() MemGrowthConfig {
	return MemGrowthConfig{MinSamples: 10, MinTimeSpanSecs: 60, TrimFraction: 0.1}
}

// FitDiagnostics reports the quality of a growth fit.
type FitDiagnostics struct {
	NUsed             int     `json:"n_used"`
	NTotal            int     `json:"n_total"`
	TimeSpanSecs      float64 `json:"time_span_secs"`
	MeanAbsResidual   float64 `json:"mean_abs_residual"`
	MedianAbsResidual float64 `json:"median_abs_residual"`
	OutlierFraction   float64 `json:"outlier_fraction"`
	Reliable          bool    `json:"reliable"`
	UnreliableReason  string  `json:"unreliable_reason,omitempty"`
}

// MemPrediction is a forecast at a horizon from the last observation.
type MemPrediction struct {
	HorizonSecs       float64 `json:"horizon_secs"`
	PredictedBytes    uint64  `json:"predicted_bytes"`
	IntervalLowBytes  uint64  `json:"interval_low_bytes"`
	IntervalHighBytes uint64  `json:"interval_high_bytes"`
}

// MemGrowthEstimate is the robust linear growth estimate with uncertainty.
type MemGrowthEstimate struct {
	SlopeBytesPerSec float64 `json:"slope_bytes_per_sec"`
	SlopeMBPerHour   float64 `json:"slope_mb_per_hour"`
	SlopeSE          float64 `json:"slope_se"`
	SlopeCILow       float64 `json:"slope_ci_low"`
	SlopeCIHigh      float64 `json:"slope_ci_high"`
	InterceptBytes   float64 `json:"intercept_bytes"`
	RSquared         float64 `json:"r_squared"`
	Diagnostics      FitDiagnostics `json:"diagnostics"`
	Prediction       *MemPrediction `json:"prediction,omitempty"`
}

// EstimateMemGrowth fits a trimmed linear regression over memory samples.
// USS is preferred over RSS when present. predictHorizonSecs adds a
// forecast when non-nil.
func EstimateMemGrowth(samples []MemSample, cfg MemGrowthConfig, predictHorizonSecs *float64) (MemGrowthEstimate, error) {
	if len(samples) < cfg.MinSamples {
		return MemGrowthEstimate{}, pterrors.New(pterrors.KindInference,
			"insufficient samples: %d (need %d)", len(samples), cfg.MinSamples)
	}

	tMin, tMax := math.Inf(1), math.Inf(-1)
	for _, s := range samples {
		tMin = math.Min(tMin, s.T)
		tMax = math.Max(tMax, s.T)
	}
	span := tMax - tMin
	if span < cfg.MinTimeSpanSecs {
		return MemGrowthEstimate{}, pterrors.New(pterrors.KindInference,
			"time span too short: %.0fs (need %.0fs)", span, cfg.MinTimeSpanSecs)
	}

	n := len(samples)
	values := make([]float64, n)
	times := make([]float64, n)
	for i, s := range samples {
		v := s.RSSBytes
		if s.USSBytes > 0 {
			v = s.USSBytes
		}
		values[i] = float64(v)
		times[i] = s.T
	}

	// Trim extreme values from both tails before fitting.
	trimCount := int(float64(n) * cfg.TrimFraction)
	indexed := make([]int, n)
	for i := range indexed {
		indexed[i] = i
	}
	sort.SliceStable(indexed, func(a, b int) bool { return values[indexed[a]] < values[indexed[b]] })
	keep := make(map[int]bool, n-2*trimCount)
	for _, i := range indexed[trimCount : n-trimCount] {
		keep[i] = true
	}

	nUsed := len(keep)
	outlierFraction := 1 - float64(nUsed)/float64(n)

	slope, intercept, r2, slopeSE, err := trimmedLinReg(times, values, keep)
	if err != nil {
		return MemGrowthEstimate{}, err
	}

	residuals := make([]float64, 0, nUsed)
	for i := range values {
		if keep[i] {
			residuals = append(residuals, math.Abs(values[i]-(slope*times[i]+intercept)))
		}
	}
	sort.Float64s(residuals)
	var meanAbs float64
	for _, r := range residuals {
		meanAbs += r
	}
	if len(residuals) > 0 {
		meanAbs /= float64(len(residuals))
	}
	medianAbs := 0.0
	if len(residuals) > 0 {
		medianAbs = residuals[len(residuals)/2]
	}

	reliable := nUsed >= cfg.MinSamples && r2 > 0.1
	reason := ""
	if !reliable {
		if nUsed < cfg.MinSamples {
			reason = "too few samples after trimming"
		} else {
			reason = "low fit quality"
		}
	}

	est := MemGrowthEstimate{
		SlopeBytesPerSec: slope,
		SlopeMBPerHour:   slope * 3600 / (1024 * 1024),
		SlopeSE:          slopeSE,
		SlopeCILow:       slope - 1.96*slopeSE,
		SlopeCIHigh:      slope + 1.96*slopeSE,
		InterceptBytes:   intercept,
		RSquared:         r2,
		Diagnostics: FitDiagnostics{
			NUsed:             nUsed,
			NTotal:            n,
			TimeSpanSecs:      span,
			MeanAbsResidual:   meanAbs,
			MedianAbsResidual: medianAbs,
			OutlierFraction:   outlierFraction,
			Reliable:          reliable,
			UnreliableReason:  reason,
		},
	}

	if predictHorizonSecs != nil {
		horizon := *predictHorizonSecs
		futureT := tMax + horizon
		predVal := slope*futureT + intercept
		predSE := slopeSE * horizon
		est.Prediction = &MemPrediction{
			HorizonSecs:       horizon,
			PredictedBytes:    uint64(math.Max(predVal, 0)),
			IntervalLowBytes:  uint64(math.Max(predVal-2*predSE, 0)),
			IntervalHighBytes: uint64(math.Max(predVal+2*predSE, 0)),
		}
	}
	return est, nil
}

// trimmedLinReg fits over the kept indices and returns slope, intercept,
// r-squared, and the slope standard error.
func trimmedLinReg(times, values []float64, keep map[int]bool) (slope, intercept, r2, slopeSE float64, err error) {
	n := float64(len(keep))
	if n < 3 {
		return 0, 0, 0, 0, pterrors.New(pterrors.KindInference, "too few points for regression")
	}

	var sumT, sumV, sumTV, sumT2 float64
	for i := range times {
		if !keep[i] {
			continue
		}
		sumT += times[i]
		sumV += values[i]
		sumTV += times[i] * values[i]
		sumT2 += times[i] * times[i]
	}

	denom := n*sumT2 - sumT*sumT
	if math.Abs(denom) < 1e-15 {
		return 0, 0, 0, 0, pterrors.New(pterrors.KindInference, "degenerate time axis")
	}

	slope = (n*sumTV - sumT*sumV) / denom
	intercept = (sumV - slope*sumT) / n

	meanV := sumV / n
	var ssTot, ssRes float64
	for i := range values {
		if !keep[i] {
			continue
		}
		ssTot += (values[i] - meanV) * (values[i] - meanV)
		pred := slope*times[i] + intercept
		ssRes += (values[i] - pred) * (values[i] - pred)
	}
	if ssTot > 1e-15 {
		r2 = 1 - ssRes/ssTot
	}

	// SE(slope) = sqrt(ssRes / (n-2)) / sqrt(sum (t - mean_t)^2)
	meanT := sumT / n
	var sxx float64
	for i := range times {
		if keep[i] {
			sxx += (times[i] - meanT) * (times[i] - meanT)
		}
	}
	if n > 2 && sxx > 1e-15 {
		slopeSE = math.Sqrt(ssRes/(n-2)) / math.Sqrt(sxx)
	}
	return slope, intercept, r2, slopeSE, nil
}
