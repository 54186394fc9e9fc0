package calibrate

import (
	"math"
	"testing"
)

func makeMemSamples(n int, slopeBytesPerSec float64, base uint64) []MemSample {
	samples := make([]MemSample, n)
	for i := range samples {
		tsec := float64(i) * 30
		samples[i] = MemSample{
			T:        tsec,
			RSSBytes: base + uint64(slopeBytesPerSec*tsec),
		}
	}
	return samples
}

func TestEstimateMemGrowthLinearLeak(t *testing.T) {
	// 1 MB/minute leak.
	slope := float64(1024*1024) / 60
	samples := makeMemSamples(30, slope, 500*1024*1024)

	est, err := EstimateMemGrowth(samples, DefaultMemGrowthConfig(), nil)
	if err != nil {
		t.Fatalf("EstimateMemGrowth: %v", err)
	}
	if math.Abs(est.SlopeBytesPerSec-slope)/slope > 0.05 {
		t.Errorf("slope = %v, want ~%v", est.SlopeBytesPerSec, slope)
	}
	if math.Abs(est.SlopeMBPerHour-60) > 3 {
		t.Errorf("MB/hour = %v, want ~60", est.SlopeMBPerHour)
	}
	if !est.Diagnostics.Reliable {
		t.Errorf("clean fit marked unreliable: %+v", est.Diagnostics)
	}
	if est.SlopeCILow > est.SlopeBytesPerSec || est.SlopeCIHigh < est.SlopeBytesPerSec {
		t.Error("CI does not bracket the estimate")
	}
}

func TestEstimateMemGrowthPrefersUSS(t *testing.T) {
	samples := makeMemSamples(30, 1000, 1<<30)
	for i := range samples {
		// USS flat while RSS grows: the fit should track USS.
		samples[i].USSBytes = 100 * 1024 * 1024
	}
	est, err := EstimateMemGrowth(samples, DefaultMemGrowthConfig(), nil)
	if err != nil {
		t.Fatalf("EstimateMemGrowth: %v", err)
	}
	if math.Abs(est.SlopeBytesPerSec) > 1 {
		t.Errorf("slope = %v, want ~0 from flat USS", est.SlopeBytesPerSec)
	}
}

func TestEstimateMemGrowthInsufficientData(t *testing.T) {
	if _, err := EstimateMemGrowth(makeMemSamples(3, 0, 1<<20), DefaultMemGrowthConfig(), nil); err == nil {
		t.Error("three samples accepted")
	}
	// Enough samples, tiny span.
	samples := make([]MemSample, 12)
	for i := range samples {
		samples[i] = MemSample{T: float64(i), RSSBytes: 1 << 20}
	}
	if _, err := EstimateMemGrowth(samples, DefaultMemGrowthConfig(), nil); err == nil {
		t.Error("11-second span accepted")
	}
}

func TestEstimateMemGrowthOutlierTrim(t *testing.T) {
	samples := makeMemSamples(30, 1000, 1<<30)
	// One wild outlier should be trimmed, not dominate the fit.
	samples[15].RSSBytes = 100 << 30
	est, err := EstimateMemGrowth(samples, DefaultMemGrowthConfig(), nil)
	if err != nil {
		t.Fatalf("EstimateMemGrowth: %v", err)
	}
	if est.Diagnostics.OutlierFraction == 0 {
		t.Error("no trimming recorded")
	}
	if math.Abs(est.SlopeBytesPerSec-1000)/1000 > 0.25 {
		t.Errorf("outlier skewed slope: %v", est.SlopeBytesPerSec)
	}
}

func TestEstimateMemGrowthPrediction(t *testing.T) {
	samples := makeMemSamples(30, 1000, 1<<30)
	horizon := 3600.0
	est, err := EstimateMemGrowth(samples, DefaultMemGrowthConfig(), &horizon)
	if err != nil {
		t.Fatalf("EstimateMemGrowth: %v", err)
	}
	if est.Prediction == nil {
		t.Fatal("no prediction")
	}
	lastT := samples[len(samples)-1].T
	expected := 1000*(lastT+horizon) + float64(1<<30)
	if math.Abs(float64(est.Prediction.PredictedBytes)-expected)/expected > 0.05 {
		t.Errorf("predicted = %d, want ~%v", est.Prediction.PredictedBytes, expected)
	}
	if est.Prediction.IntervalLowBytes > est.Prediction.PredictedBytes ||
		est.Prediction.IntervalHighBytes < est.Prediction.PredictedBytes {
		t.Error("prediction interval does not bracket the estimate")
	}
}
