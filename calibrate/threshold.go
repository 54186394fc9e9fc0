package calibrate

import "fmt"

// ThresholdInput parameterizes a time-to-threshold prediction.
type ThresholdInput struct {
	CurrentValue float64 `json:"current_value"`
	// Slope is units per second.
	Slope   float64 `json:"slope"`
	SlopeSE float64 `json:"slope_se"`
	Threshold float64 `json:"threshold"`
	SampleCount int   `json:"sample_count"`
	MinSamples  int   `json:"min_samples"`
	// MaxHorizonSecs caps how far ahead a prediction is reported.
	MaxHorizonSecs float64 `json:"max_horizon_secs"`
	// ConfidenceLevel for the ETA interval (e.g. 0.90).
	ConfidenceLevel float64 `json:"confidence_level"`
}

// DefaultThresholdInput returns the embedded prediction bounds.
func DefaultThresholdInput() ThresholdInput {
	return ThresholdInput{
		Threshold:       1,
		MinSamples:      5,
		MaxHorizonSecs:  30 * 86400,
		ConfidenceLevel: 0.90,
	}
}

// ThresholdStatus is the outcome class of a prediction.
type ThresholdStatus string

const (
	// ThresholdOk: valid prediction produced.
	ThresholdOk ThresholdStatus = "ok"
	// ThresholdAlreadyExceeded: the metric is already past the threshold.
	ThresholdAlreadyExceeded ThresholdStatus = "already_exceeded"
	// ThresholdUnknown: slope uncertainty spans zero.
	ThresholdUnknown ThresholdStatus = "unknown"
	// ThresholdDiverging: trend moves away from the threshold.
	ThresholdDiverging ThresholdStatus = "diverging"
	// ThresholdInsufficientData: too few samples behind the slope.
	ThresholdInsufficientData ThresholdStatus = "insufficient_data"
	// ThresholdBeyondHorizon: ETA exceeds the maximum horizon.
	ThresholdBeyondHorizon ThresholdStatus = "beyond_horizon"
)

// ThresholdPrediction is the prediction result.
type ThresholdPrediction struct {
	Status ThresholdStatus `json:"status"`
	// EtaSecs is the point estimate; nil unless meaningful.
	EtaSecs *float64 `json:"eta_secs,omitempty"`
	// EtaLowSecs is the optimistic (sooner) bound.
	EtaLowSecs *float64 `json:"eta_low_secs,omitempty"`
	// EtaHighSecs is the pessimistic (later) bound.
	EtaHighSecs     *float64 `json:"eta_high_secs,omitempty"`
	ConfidenceLevel float64  `json:"confidence_level"`
	Summary         string   `json:"summary"`
}

// zForConfidence maps common confidence levels to z-scores.
func zForConfidence(level float64) float64 {
	switch {
	case level >= 0.99:
		return 2.576
	case level >= 0.95:
		return 1.960
	case level >= 0.90:
		return 1.645
	case level >= 0.80:
		return 1.282
	default:
		return 1
	}
}

// PredictThreshold extrapolates eta = (threshold - current) / slope, with
// an interval from slope ± z·SE. Degenerate cases (already exceeded,
// ambiguous slope, diverging trend, thin data, beyond horizon) are
// classified conservatively rather than reported as long-horizon forecasts.
func PredictThreshold(input ThresholdInput) ThresholdPrediction {
	cl := input.ConfidenceLevel

	if input.SampleCount < input.MinSamples {
		return ThresholdPrediction{
			Status:          ThresholdInsufficientData,
			ConfidenceLevel: cl,
			Summary: fmt.Sprintf("insufficient data: %d samples (need %d)",
				input.SampleCount, input.MinSamples),
		}
	}

	gap := input.Threshold - input.CurrentValue
	if gap <= 0 {
		zero := 0.0
		return ThresholdPrediction{
			Status:          ThresholdAlreadyExceeded,
			EtaSecs:         &zero,
			EtaLowSecs:      &zero,
			EtaHighSecs:     &zero,
			ConfidenceLevel: cl,
			Summary: fmt.Sprintf("already at %.4f, threshold %.4f exceeded",
				input.CurrentValue, input.Threshold),
		}
	}

	z := zForConfidence(cl)
	slopeLow := input.Slope - z*input.SlopeSE
	slopeHigh := input.Slope + z*input.SlopeSE

	if slopeLow <= 0 && slopeHigh >= 0 {
		return ThresholdPrediction{
			Status:          ThresholdUnknown,
			ConfidenceLevel: cl,
			Summary:         "trend direction ambiguous (slope CI spans zero)",
		}
	}
	if input.Slope <= 0 {
		return ThresholdPrediction{
			Status:          ThresholdDiverging,
			ConfidenceLevel: cl,
			Summary:         "trend moves away from threshold",
		}
	}

	eta := gap / input.Slope
	etaLow := gap / slopeHigh
	etaHigh := input.MaxHorizonSecs
	if slopeLow > 0 {
		etaHigh = gap / slopeLow
	}

	if eta > input.MaxHorizonSecs {
		capped := etaHigh
		if capped > input.MaxHorizonSecs {
			capped = input.MaxHorizonSecs
		}
		return ThresholdPrediction{
			Status:          ThresholdBeyondHorizon,
			EtaSecs:         &eta,
			EtaLowSecs:      &etaLow,
			EtaHighSecs:     &capped,
			ConfidenceLevel: cl,
			Summary: fmt.Sprintf("ETA %.0fs exceeds %.0fs horizon",
				eta, input.MaxHorizonSecs),
		}
	}

	return ThresholdPrediction{
		Status:          ThresholdOk,
		EtaSecs:         &eta,
		EtaLowSecs:      &etaLow,
		EtaHighSecs:     &etaHigh,
		ConfidenceLevel: cl,
		Summary: fmt.Sprintf("threshold %.4f reached in ~%.0fs (%.0f-%.0fs at %.0f%% confidence)",
			input.Threshold, eta, etaLow, etaHigh, cl*100),
	}
}
