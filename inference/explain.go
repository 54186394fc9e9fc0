package inference

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ExplainConfig bounds the natural-language explainer.
type ExplainConfig struct {
	// MaxFactors is the number of top factors woven into the detail text.
	MaxFactors int `json:"max_factors"`
}

// DefaultExplainConfig returns the embedded explainer bounds.
func DefaultExplainConfig() ExplainConfig {
	return ExplainConfig{MaxFactors: 3}
}

// Explanation is the human-readable rendering of an evidence ledger.
type Explanation struct {
	Summary string `json:"summary"`
	Detail  string `json:"detail"`
}

// hedges maps confidence buckets to the verb phrase used in the summary.
// Hedging is bounded by confidence: never overstate a low-confidence call.
var hedges = map[ConfidenceBucket]string{
	ConfidenceLow:      "might be",
	ConfidenceMedium:   "looks",
	ConfidenceHigh:     "is very likely",
	ConfidenceVeryHigh: "is almost certainly",
}

var classDescriptions = map[string]string{
	"useful":     "doing useful work",
	"useful_bad": "useful but misbehaving",
	"abandoned":  "abandoned",
	"zombie":     "a zombie",
}

// Explain renders a ledger into a one-line summary and a short detail
// paragraph built from the strongest evidence.
func Explain(ledger EvidenceLedger, cfg ExplainConfig) Explanation {
	hedge := hedges[ledger.Confidence]
	desc := classDescriptions[ledger.Classification.String()]
	if desc == "" {
		desc = ledger.Classification.String()
	}

	summary := fmt.Sprintf("This process %s %s (%s confidence, p=%.2f).",
		hedge, desc, ledger.Confidence, ledger.Posterior.Max())

	maxFactors := cfg.MaxFactors
	if maxFactors <= 0 {
		maxFactors = 3
	}

	var supporting, opposing []string
	for _, f := range ledger.TopEvidence {
		if len(supporting)+len(opposing) >= maxFactors {
			break
		}
		phrase := fmt.Sprintf("%s (%s, %.1f bits)", featurePhrase(f.Feature), f.Strength, absBits(f.DeltaBits))
		if f.Direction == "for" {
			supporting = append(supporting, phrase)
		} else {
			opposing = append(opposing, phrase)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Classified %s over %s.", ledger.Classification, ledger.RunnerUp)
	if len(supporting) > 0 {
		fmt.Fprintf(&b, " Strongest evidence: %s.", strings.Join(supporting, "; "))
	}
	if len(opposing) > 0 {
		fmt.Fprintf(&b, " Pointing the other way: %s.", strings.Join(opposing, "; "))
	}
	if ledger.Confidence == ConfidenceLow {
		b.WriteString(" Evidence is thin; consider probing before acting.")
	}

	return Explanation{Summary: summary, Detail: b.String()}
}

// DescribeAge renders a runtime in seconds the way the explainer speaks
// about it ("3 days", "2 hours").
func DescribeAge(seconds float64) string {
	base := time.Unix(0, 0)
	return strings.TrimSpace(humanize.RelTime(base, base.Add(time.Duration(seconds*float64(time.Second))), "", ""))
}

func absBits(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

var featurePhrases = map[string]string{
	"cpu":              "CPU occupancy",
	"runtime":          "process age",
	"orphan":           "orphan status",
	"tty":              "controlling terminal",
	"net":              "network activity",
	"io_active":        "I/O activity",
	"state_flag":       "scheduler state",
	"command_category": "command category",
}

func featurePhrase(feature string) string {
	if p, ok := featurePhrases[feature]; ok {
		return p
	}
	if strings.HasPrefix(feature, "plugin:") {
		return strings.TrimPrefix(feature, "plugin:") + " plugin evidence"
	}
	return feature
}
