package priors

import (
	"math"
	"testing"

	"github.com/ptops/ptriage/model"
	"github.com/ptops/ptriage/numerics"
)

func TestDefaultPriorsValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default priors invalid: %v", err)
	}
}

func TestBucketAge(t *testing.T) {
	tests := []struct {
		seconds float64
		want    AgeBucket
	}{
		{60, AgeShort},
		{3599, AgeShort},
		{3600, AgeMedium},
		{86399, AgeMedium},
		{86400, AgeLong},
		{3 * 86400, AgeLong},
		{7 * 86400, AgeVeryLong},
		{30 * 86400, AgeVeryLong},
	}
	for _, tt := range tests {
		if got := BucketAge(tt.seconds); got != tt.want {
			t.Errorf("BucketAge(%v) = %v, want %v", tt.seconds, got, tt.want)
		}
	}
}

func TestLogClassPriorNormalized(t *testing.T) {
	p := Default()
	var sum float64
	for _, c := range model.Classes {
		sum += math.Exp(p.LogClassPrior(c))
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("class priors sum to %v", sum)
	}
}

func TestEffectiveParamsShrinkage(t *testing.T) {
	p := Default()
	global := numerics.BetaParams{Alpha: 2, Beta: 8}

	// No shrinkage layer: global passes through.
	if got := p.EffectiveParams(model.ClassUseful, "shell", FeatureOrphan, global); got != global {
		t.Errorf("pass-through violated: %+v", got)
	}

	p.Shrinkage = map[string]ShrinkageCell{
		"useful/shell/orphan": {Alpha: 10, Beta: 2, N: 40},
	}
	p.PriorStrength = 10
	got := p.EffectiveParams(model.ClassUseful, "shell", FeatureOrphan, global)

	// lambda = 10/(10+40) = 0.2: 80% cell, 20% global.
	wantAlpha := 0.2*2 + 0.8*10
	wantBeta := 0.2*8 + 0.8*2
	if math.Abs(got.Alpha-wantAlpha) > 1e-12 || math.Abs(got.Beta-wantBeta) > 1e-12 {
		t.Errorf("shrunk params = %+v, want (%v, %v)", got, wantAlpha, wantBeta)
	}

	// More observations pull harder toward the cell.
	p.Shrinkage["useful/shell/orphan"] = ShrinkageCell{Alpha: 10, Beta: 2, N: 4000}
	heavier := p.EffectiveParams(model.ClassUseful, "shell", FeatureOrphan, global)
	if math.Abs(heavier.Alpha-10) > 0.1 {
		t.Errorf("large-n shrinkage should approach the cell: %+v", heavier)
	}

	// Unknown cell passes through.
	if got := p.EffectiveParams(model.ClassZombie, "shell", FeatureOrphan, global); got != global {
		t.Errorf("unknown cell should pass through: %+v", got)
	}
}

func TestValidateRejectsBadPriors(t *testing.T) {
	p := Default()
	delete(p.Classes, model.ClassZombie.String())
	if err := p.Validate(); err == nil {
		t.Error("missing class accepted")
	}

	p = Default()
	p.Classes[model.ClassUseful.String()].Features[FeatureCpu] = numerics.BetaParams{Alpha: 0, Beta: 1}
	if err := p.Validate(); err == nil {
		t.Error("non-positive alpha accepted")
	}
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	p := LoadOrDefault("/nonexistent/priors.json", nil)
	if err := p.Validate(); err != nil {
		t.Errorf("fallback priors invalid: %v", err)
	}
}
