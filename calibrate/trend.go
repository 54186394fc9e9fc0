package calibrate

import (
	"fmt"
	"math"
)

// TimePoint is a single timestamped measurement; t is seconds since some
// epoch, monotonic within a series.
type TimePoint struct {
	T     float64 `json:"t"`
	Value float64 `json:"value"`
}

// TrendClass labels a resource trajectory.
type TrendClass string

const (
	// TrendStable: no significant trend relative to the mean.
	TrendStable TrendClass = "stable"
	// TrendIncreasing: significant positive slope.
	TrendIncreasing TrendClass = "increasing"
	// TrendDecreasing: significant negative slope.
	TrendDecreasing TrendClass = "decreasing"
	// TrendPeriodic: oscillating pattern in the detrended residuals.
	TrendPeriodic TrendClass = "periodic"
	// TrendChangePoint: abrupt level shift.
	TrendChangePoint TrendClass = "change_point"
)

// ChangePoint is a detected level shift in a series.
type ChangePoint struct {
	T         float64 `json:"t"`
	Index     int     `json:"index"`
	Magnitude float64 `json:"magnitude"`
	Direction string  `json:"direction"`
}

// TrendConfig tunes classification.
type TrendConfig struct {
	// MinRSquared is the minimum fit quality for a directional call.
	MinRSquared float64 `json:"min_r_squared"`
	// MinRelativeChange is the minimum |slope*duration/mean| over the
	// window for a directional call.
	MinRelativeChange float64 `json:"min_relative_change"`
	// ChangePointThreshold is the minimum step size in std-devs.
	ChangePointThreshold float64 `json:"change_point_threshold"`
	// MinPoints below which no classification is attempted.
	MinPoints int `json:"min_points"`
}

// DefaultTrendConfig returns the embedded classification thresholds.
func DefaultTrendConfig() TrendConfig {
	return TrendConfig{
		MinRSquared:          0.3,
		MinRelativeChange:    0.1,
		ChangePointThreshold: 2.0,
		MinPoints:            5,
	}
}

// TrendSummary is the analysis result for one metric series.
type TrendSummary struct {
	Metric string     `json:"metric"`
	Trend  TrendClass `json:"trend"`
	// Slope is per hour, in the series' value unit.
	Slope        float64       `json:"slope"`
	SlopeUnit    string        `json:"slope_unit"`
	RSquared     float64       `json:"r_squared"`
	N            int           `json:"n"`
	DurationSecs float64       `json:"duration_secs"`
	MeanValue    float64       `json:"mean_value"`
	StdDev       float64       `json:"std_dev"`
	ChangePoints []ChangePoint `json:"change_points,omitempty"`
	Interpretation string      `json:"interpretation"`
	// TimeToThreshold is seconds to the supplied threshold when the trend
	// is increasing; nil otherwise.
	TimeToThreshold *float64 `json:"time_to_threshold,omitempty"`
}

type linReg struct {
	slope     float64
	intercept float64
	rSquared  float64
}

// linearRegression fits value = slope*t + intercept.
func linearRegression(points []TimePoint) (linReg, bool) {
	n := float64(len(points))
	if n < 2 {
		return linReg{}, false
	}

	var sumT, sumV, sumTV, sumT2, sumV2 float64
	for _, p := range points {
		sumT += p.T
		sumV += p.Value
		sumTV += p.T * p.Value
		sumT2 += p.T * p.T
		sumV2 += p.Value * p.Value
	}

	denom := n*sumT2 - sumT*sumT
	if math.Abs(denom) < 1e-15 {
		return linReg{}, false
	}

	slope := (n*sumTV - sumT*sumV) / denom
	intercept := (sumV - slope*sumT) / n

	meanV := sumV / n
	ssTot := sumV2 - n*meanV*meanV
	var ssRes float64
	for _, p := range points {
		predicted := slope*p.T + intercept
		ssRes += (p.Value - predicted) * (p.Value - predicted)
	}
	r2 := 0.0
	if ssTot > 1e-15 {
		r2 = 1 - ssRes/ssTot
	}
	return linReg{slope: slope, intercept: intercept, rSquared: r2}, true
}

// detectChangePoints compares left/right means at every split and reports
// the best split when its normalized step exceeds the threshold.
func detectChangePoints(points []TimePoint, threshold, stdDev float64) []ChangePoint {
	if len(points) < 6 || stdDev < 1e-15 {
		return nil
	}

	const minHalf = 3
	bestScore := 0.0
	bestIdx := 0
	for split := minHalf; split < len(points)-minHalf; split++ {
		var left, right float64
		for _, p := range points[:split] {
			left += p.Value
		}
		for _, p := range points[split:] {
			right += p.Value
		}
		left /= float64(split)
		right /= float64(len(points) - split)
		if diff := math.Abs(right - left); diff > bestScore {
			bestScore = diff
			bestIdx = split
		}
	}

	if bestScore/stdDev < threshold {
		return nil
	}
	var left, right float64
	for _, p := range points[:bestIdx] {
		left += p.Value
	}
	for _, p := range points[bestIdx:] {
		right += p.Value
	}
	left /= float64(bestIdx)
	right /= float64(len(points) - bestIdx)
	direction := "decrease"
	if right > left {
		direction = "increase"
	}
	return []ChangePoint{{
		T: points[bestIdx].T, Index: bestIdx, Magnitude: bestScore, Direction: direction,
	}}
}

// detectPeriodicity checks the detrended residuals for significant
// autocorrelation at any lag in 2..n/3.
func detectPeriodicity(points []TimePoint) bool {
	if len(points) < 12 {
		return false
	}
	reg, ok := linearRegression(points)
	if !ok {
		return false
	}

	residuals := make([]float64, len(points))
	for i, p := range points {
		residuals[i] = p.Value - (reg.slope*p.T + reg.intercept)
	}

	n := len(residuals)
	var mean float64
	for _, r := range residuals {
		mean += r
	}
	mean /= float64(n)
	var variance float64
	for _, r := range residuals {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(n)
	if variance < 1e-15 {
		return false
	}

	maxLag := n / 3
	for lag := 2; lag < maxLag; lag++ {
		var ac float64
		for i := 0; i < n-lag; i++ {
			ac += (residuals[i] - mean) * (residuals[i+lag] - mean)
		}
		ac /= float64(n-lag) * variance
		if ac > 0.5 {
			return true
		}
	}
	return false
}

// ClassifyTrend analyzes a time series and produces a trend summary.
// Returns false when the series is too short or degenerate.
func ClassifyTrend(metric string, points []TimePoint, cfg TrendConfig,
	valueUnit string, threshold *float64) (TrendSummary, bool) {

	if len(points) < cfg.MinPoints {
		return TrendSummary{}, false
	}
	n := len(points)
	duration := points[n-1].T - points[0].T
	if duration <= 0 {
		return TrendSummary{}, false
	}

	var mean float64
	for _, p := range points {
		mean += p.Value
	}
	mean /= float64(n)
	var variance float64
	for _, p := range points {
		variance += (p.Value - mean) * (p.Value - mean)
	}
	variance /= float64(n)
	stdDev := math.Sqrt(variance)

	reg, ok := linearRegression(points)
	if !ok {
		return TrendSummary{}, false
	}

	changePoints := detectChangePoints(points, cfg.ChangePointThreshold, stdDev)
	isPeriodic := detectPeriodicity(points)

	relativeChange := 0.0
	if math.Abs(mean) > 1e-15 {
		relativeChange = math.Abs(reg.slope * duration / mean)
	}

	var trend TrendClass
	switch {
	case len(changePoints) > 0:
		trend = TrendChangePoint
	case isPeriodic:
		trend = TrendPeriodic
	case reg.rSquared >= cfg.MinRSquared && relativeChange >= cfg.MinRelativeChange:
		if reg.slope > 0 {
			trend = TrendIncreasing
		} else {
			trend = TrendDecreasing
		}
	default:
		trend = TrendStable
	}

	slopePerHour := reg.slope * 3600
	slopeUnit := valueUnit + "/hour"

	var timeToThreshold *float64
	if threshold != nil && trend == TrendIncreasing && reg.slope > 1e-15 {
		current := reg.slope*points[n-1].T + reg.intercept
		eta := 0.0
		if current < *threshold {
			eta = (*threshold - current) / reg.slope
		}
		timeToThreshold = &eta
	}

	var interpretation string
	switch trend {
	case TrendStable:
		interpretation = fmt.Sprintf("%s is stable around %.1f %s (sd=%.2f)", metric, mean, valueUnit, stdDev)
	case TrendIncreasing:
		interpretation = fmt.Sprintf("%s is increasing at %.2f %s; +%.1f %s projected in 24h",
			metric, slopePerHour, slopeUnit, slopePerHour*24, valueUnit)
	case TrendDecreasing:
		interpretation = fmt.Sprintf("%s is decreasing at %.2f %s", metric, slopePerHour, slopeUnit)
	case TrendPeriodic:
		interpretation = fmt.Sprintf("%s shows periodic behavior around mean %.1f %s", metric, mean, valueUnit)
	case TrendChangePoint:
		cp := changePoints[0]
		interpretation = fmt.Sprintf("%s has a level shift of %.1f %s (%s) at t=%.0fs",
			metric, cp.Magnitude, valueUnit, cp.Direction, cp.T)
	}

	return TrendSummary{
		Metric:          metric,
		Trend:           trend,
		Slope:           slopePerHour,
		SlopeUnit:       slopeUnit,
		RSquared:        reg.rSquared,
		N:               n,
		DurationSecs:    duration,
		MeanValue:       mean,
		StdDev:          stdDev,
		ChangePoints:    changePoints,
		Interpretation:  interpretation,
		TimeToThreshold: timeToThreshold,
	}, true
}
