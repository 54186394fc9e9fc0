package numerics

import (
	"math"
	"testing"
)

func approxEq(a, b, tol float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	if a == b {
		// Equal infinities; their difference would be NaN.
		return true
	}
	return math.Abs(a-b) <= tol
}

func TestLogSumExp(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want float64
	}{
		{"two equal", []float64{0, 0}, math.Ln2},
		{"shifted", []float64{1000, 1000}, 1000 + math.Ln2},
		{"dominant", []float64{0, -1000}, 0},
		{"empty", nil, math.Inf(-1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LogSumExp(tt.in)
			if !approxEq(got, tt.want, 1e-12) {
				t.Errorf("LogSumExp(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	if !math.IsNaN(LogSumExp([]float64{0, math.NaN()})) {
		t.Error("NaN input should propagate")
	}
}

func TestNormalizeLogProbsShiftInvariant(t *testing.T) {
	a := NormalizeLogProbs([]float64{1, 2, 3})
	b := NormalizeLogProbs([]float64{11, 12, 13})
	for i := range a {
		if !approxEq(a[i], b[i], 1e-12) {
			t.Errorf("index %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestStableSoftmaxExtremes(t *testing.T) {
	probs := StableSoftmax([]float64{0, -1000, -2000})
	if probs[0] < 0.999999 {
		t.Errorf("dominant prob = %v", probs[0])
	}
	var sum float64
	for _, p := range probs {
		sum += p
	}
	if !approxEq(sum, 1, 1e-12) {
		t.Errorf("sum = %v", sum)
	}
}

func TestStableSoftmaxSumsToOne(t *testing.T) {
	for _, in := range [][]float64{
		{0, 0, 0, 0},
		{-5, 3, 0.5, -700},
		{20, 20, 20, 20},
	} {
		probs := StableSoftmax(in)
		var sum float64
		for _, p := range probs {
			sum += p
		}
		if !approxEq(sum, 1, 1e-9) {
			t.Errorf("softmax(%v) sums to %v", in, sum)
		}
	}
}

func TestSafeLogFloorsAtMinInput(t *testing.T) {
	if v := SafeLog(0); math.IsInf(v, -1) {
		t.Error("SafeLog(0) should be finite")
	}
	if v := SafeLog(-1); math.IsInf(v, -1) || math.IsNaN(v) {
		t.Error("SafeLog(-1) should clamp to the floor")
	}
}

func TestHarmonicNumber(t *testing.T) {
	if !approxEq(HarmonicNumber(1), 1, 1e-12) {
		t.Error("H_1 != 1")
	}
	if !approxEq(HarmonicNumber(4), 1+0.5+1.0/3+0.25, 1e-12) {
		t.Error("H_4 mismatch")
	}
}

func TestBetaMeanAndTempering(t *testing.T) {
	b := BetaParams{Alpha: 3, Beta: 1}
	if !approxEq(b.Mean(), 0.75, 1e-12) {
		t.Errorf("mean = %v", b.Mean())
	}
	flat := b.Tempered(0)
	if !approxEq(flat.Mean(), 0.5, 1e-12) {
		t.Errorf("fully tempered mean = %v", flat.Mean())
	}
}

func TestLogBernoulliClamped(t *testing.T) {
	b := BetaParams{Alpha: 1, Beta: 1e9}
	ll := b.LogBernoulli(true, 20)
	if ll < -20 || ll > 20 {
		t.Errorf("clamp violated: %v", ll)
	}
}

func TestLogFractionMonotone(t *testing.T) {
	// A low-CPU prior should like q=0 more than q=1.
	b := BetaParams{Alpha: 1.2, Beta: 8}
	if b.LogFraction(0, 20) <= b.LogFraction(1, 20) {
		t.Error("low-cpu prior should prefer q=0")
	}
}
