package inference

import (
	"math"
	"strings"
	"testing"

	"github.com/ptops/ptriage/model"
	"github.com/ptops/ptriage/priors"
)

func TestConfidenceBuckets(t *testing.T) {
	tests := []struct {
		p    float64
		want ConfidenceBucket
	}{
		{0.5, ConfidenceLow},
		{0.79, ConfidenceLow},
		{0.8, ConfidenceMedium},
		{0.95, ConfidenceHigh},
		{0.99, ConfidenceVeryHigh},
		{1.0, ConfidenceVeryHigh},
	}
	for _, tt := range tests {
		if got := BucketConfidence(tt.p); got != tt.want {
			t.Errorf("BucketConfidence(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}

func TestStrengthBuckets(t *testing.T) {
	tests := []struct {
		bits float64
		want EvidenceStrength
	}{
		{0.5, StrengthWeak},
		{1.5, StrengthModerate},
		{2.5, StrengthStrong},
		{4.0, StrengthDecisive},
	}
	for _, tt := range tests {
		if got := BucketStrength(tt.bits); got != tt.want {
			t.Errorf("BucketStrength(%v) = %v, want %v", tt.bits, got, tt.want)
		}
	}
}

func TestLedgerBayesFactors(t *testing.T) {
	result, err := ComputePosterior(priors.Default(), abandonedEvidence())
	if err != nil {
		t.Fatalf("ComputePosterior: %v", err)
	}
	ledger := BuildLedger(result, 3)

	if ledger.Classification != model.ClassAbandoned {
		t.Fatalf("classification = %v", ledger.Classification)
	}
	if ledger.RunnerUp == ledger.Classification {
		t.Error("runner-up equals classification")
	}
	if len(ledger.Factors) != len(result.EvidenceTerms) {
		t.Errorf("%d factors for %d terms", len(ledger.Factors), len(result.EvidenceTerms))
	}
	for _, f := range ledger.Factors {
		if math.Abs(f.DeltaBits-f.LogBF/math.Ln2) > 1e-12 {
			t.Errorf("delta bits mismatch for %s", f.Feature)
		}
		wantDir := "for"
		if f.LogBF < 0 {
			wantDir = "against"
		}
		if f.Direction != wantDir {
			t.Errorf("direction for %s = %s", f.Feature, f.Direction)
		}
	}
	if len(ledger.TopEvidence) > 3 {
		t.Errorf("top-k not applied: %d", len(ledger.TopEvidence))
	}
	for i := 1; i < len(ledger.TopEvidence); i++ {
		if math.Abs(ledger.TopEvidence[i].DeltaBits) > math.Abs(ledger.TopEvidence[i-1].DeltaBits) {
			t.Error("top evidence not ranked by |delta bits|")
		}
	}
}

func TestExplainHedgesByConfidence(t *testing.T) {
	result, err := ComputePosterior(priors.Default(), abandonedEvidence())
	if err != nil {
		t.Fatalf("ComputePosterior: %v", err)
	}
	ledger := BuildLedger(result, 3)
	explanation := Explain(ledger, DefaultExplainConfig())

	if explanation.Summary == "" || explanation.Detail == "" {
		t.Fatal("empty explanation")
	}
	if !strings.Contains(explanation.Summary, "abandoned") {
		t.Errorf("summary missing class: %q", explanation.Summary)
	}

	// A low-confidence ledger hedges and suggests probing.
	low := ledger
	low.Confidence = ConfidenceLow
	lowText := Explain(low, DefaultExplainConfig())
	if !strings.Contains(lowText.Summary, "might be") {
		t.Errorf("low confidence summary does not hedge: %q", lowText.Summary)
	}
	if !strings.Contains(lowText.Detail, "probing") {
		t.Errorf("low confidence detail missing probe suggestion: %q", lowText.Detail)
	}
}

func TestIncrementalCacheMatchesFull(t *testing.T) {
	p := priors.Default()
	cache := NewCachedPosterior(p, DefaultIncrementalConfig())

	ev := abandonedEvidence()
	first, err := cache.Compute(ev)
	if err != nil {
		t.Fatalf("first compute: %v", err)
	}
	full, err := ComputePosterior(p, ev)
	if err != nil {
		t.Fatalf("full compute: %v", err)
	}
	for _, c := range model.Classes {
		if math.Abs(first.Posterior.Get(c)-full.Posterior.Get(c)) > 1e-12 {
			t.Errorf("class %s: cached %v vs full %v", c, first.Posterior.Get(c), full.Posterior.Get(c))
		}
	}

	// Change one field: only that term recomputes.
	before := cache.Stats().TermsComputed
	ev.Cpu = model.FractionCpu(0.9)
	second, err := cache.Compute(ev)
	if err != nil {
		t.Fatalf("second compute: %v", err)
	}
	stats := cache.Stats()
	if stats.TermsComputed != before+1 {
		t.Errorf("recomputed %d terms, want 1", stats.TermsComputed-before)
	}
	if stats.TermsReused == 0 {
		t.Error("no terms reused")
	}
	full2, _ := ComputePosterior(p, ev)
	for _, c := range model.Classes {
		if math.Abs(second.Posterior.Get(c)-full2.Posterior.Get(c)) > 1e-12 {
			t.Errorf("post-change class %s diverges", c)
		}
	}
}

func TestIncrementalSanityTick(t *testing.T) {
	cfg := DefaultIncrementalConfig()
	cfg.SanityEveryN = 2
	cache := NewCachedPosterior(priors.Default(), cfg)

	ev := abandonedEvidence()
	for i := 0; i < 5; i++ {
		if _, err := cache.Compute(ev); err != nil {
			t.Fatalf("compute %d: %v", i, err)
		}
	}
	if cache.Stats().SanityChecks == 0 {
		t.Error("sanity tick never ran")
	}
	if cache.Stats().Invalidations != 0 {
		t.Error("consistent cache should not invalidate")
	}
}

func TestIsFeatureDirty(t *testing.T) {
	cache := NewCachedPosterior(priors.Default(), DefaultIncrementalConfig())
	ev := abandonedEvidence()
	if _, err := cache.Compute(ev); err != nil {
		t.Fatal(err)
	}
	if cache.IsFeatureDirty(priors.FeatureOrphan, ev) {
		t.Error("unchanged feature reported dirty")
	}
	ev.Orphan = model.Bool(false)
	if !cache.IsFeatureDirty(priors.FeatureOrphan, ev) {
		t.Error("changed feature reported clean")
	}
}
