package calibrate

import (
	"math"
	"testing"
)

func makeCpuSamples(n int, f func(i int) float64) []CpuSample {
	samples := make([]CpuSample, n)
	for i := range samples {
		samples[i] = CpuSample{T: float64(i) * 10, CpuFrac: f(i)}
	}
	return samples
}

func TestAnalyzeCpuTrendStable(t *testing.T) {
	samples := makeCpuSamples(30, func(i int) float64 { return 0.2 })
	result, err := AnalyzeCpuTrend(samples, DefaultCpuTrendConfig(), nil)
	if err != nil {
		t.Fatalf("AnalyzeCpuTrend: %v", err)
	}
	if result.Label != CpuTrendStable {
		t.Errorf("label = %v", result.Label)
	}
	if math.Abs(result.SmoothedCurrent-0.2) > 0.01 {
		t.Errorf("smoothed = %v", result.SmoothedCurrent)
	}
}

func TestAnalyzeCpuTrendIncreasing(t *testing.T) {
	samples := makeCpuSamples(30, func(i int) float64 { return 0.1 + float64(i)*0.01 })
	result, err := AnalyzeCpuTrend(samples, DefaultCpuTrendConfig(), nil)
	if err != nil {
		t.Fatalf("AnalyzeCpuTrend: %v", err)
	}
	if result.Label != CpuTrendIncreasing {
		t.Errorf("label = %v", result.Label)
	}
	if result.SlopePerSec <= 0 {
		t.Errorf("slope = %v", result.SlopePerSec)
	}
	if result.Confidence <= 0 {
		t.Error("zero confidence for a clean ramp")
	}
}

func TestAnalyzeCpuTrendBursty(t *testing.T) {
	samples := makeCpuSamples(40, func(i int) float64 {
		if i%5 == 0 {
			return 0.95
		}
		return 0.01
	})
	result, err := AnalyzeCpuTrend(samples, DefaultCpuTrendConfig(), nil)
	if err != nil {
		t.Fatalf("AnalyzeCpuTrend: %v", err)
	}
	if result.Label != CpuTrendBursty {
		t.Errorf("label = %v (cv=%v)", result.Label, result.CV)
	}
}

func TestAnalyzeCpuTrendThresholdEta(t *testing.T) {
	samples := makeCpuSamples(30, func(i int) float64 { return 0.1 + float64(i)*0.01 })
	threshold := 0.9
	result, err := AnalyzeCpuTrend(samples, DefaultCpuTrendConfig(), &threshold)
	if err != nil {
		t.Fatalf("AnalyzeCpuTrend: %v", err)
	}
	if result.ThresholdEta == nil {
		t.Fatal("no threshold ETA for an increasing series")
	}
	if result.ThresholdEta.EtaSecs <= 0 {
		t.Errorf("eta = %v", result.ThresholdEta.EtaSecs)
	}
}

func TestAnalyzeCpuTrendErrors(t *testing.T) {
	if _, err := AnalyzeCpuTrend(makeCpuSamples(2, func(int) float64 { return 0 }),
		DefaultCpuTrendConfig(), nil); err == nil {
		t.Error("two samples accepted")
	}
	short := []CpuSample{{T: 0, CpuFrac: 0.1}, {T: 1, CpuFrac: 0.1}, {T: 2, CpuFrac: 0.1},
		{T: 3, CpuFrac: 0.1}, {T: 4, CpuFrac: 0.1}}
	if _, err := AnalyzeCpuTrend(short, DefaultCpuTrendConfig(), nil); err == nil {
		t.Error("4-second span accepted")
	}
}
