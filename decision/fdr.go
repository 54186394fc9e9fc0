package decision

import (
	"sort"

	"github.com/ptops/ptriage/model"
	"github.com/ptops/ptriage/numerics"
)

// FDRMethod selects the e-value multiple-testing correction.
type FDRMethod string

const (
	// FDREBH is the e-Benjamini-Hochberg procedure.
	FDREBH FDRMethod = "ebh"
	// FDREBY adds the harmonic-number correction for dependence.
	FDREBY FDRMethod = "eby"
	// FDRNone selects every candidate with e >= 1/alpha.
	FDRNone FDRMethod = "none"
)

// FDRConfig controls candidate selection.
type FDRConfig struct {
	Method FDRMethod `json:"method"`
	Alpha  float64   `json:"alpha"`
}

// DefaultFDRConfig returns eBH at alpha = 0.05.
func DefaultFDRConfig() FDRConfig {
	return FDRConfig{Method: FDREBH, Alpha: 0.05}
}

// FDRCandidate is one (identity, e-value) pair.
type FDRCandidate struct {
	Identity model.ProcessIdentity `json:"identity"`
	EValue   float64               `json:"e_value"`
}

// FDRSelection is the outcome of a selection pass.
type FDRSelection struct {
	// Selected is the chosen prefix, e-value descending.
	Selected []FDRCandidate `json:"selected"`
	// SelectedK is len(Selected).
	SelectedK int `json:"selected_k"`
	// Threshold is the effective e-value threshold applied.
	Threshold float64 `json:"threshold"`
	// Method is the procedure used.
	Method FDRMethod `json:"method"`
	// CorrectedAlpha is alpha after any dependence correction.
	CorrectedAlpha float64 `json:"corrected_alpha"`
}

// SelectFDR runs e-value FDR control over candidates at target alpha.
//
// eBH: sort by e-value descending, pick the largest k with
// k*e_(k) >= m/alpha. eBY replaces m with m*H_m (harmonic correction),
// which is more conservative under dependence. None selects everything
// with e >= 1/alpha. Sorting is stable; ties order by identity key so the
// output is deterministic.
func SelectFDR(candidates []FDRCandidate, cfg FDRConfig) FDRSelection {
	out := FDRSelection{Method: cfg.Method, CorrectedAlpha: cfg.Alpha}
	if len(candidates) == 0 || cfg.Alpha <= 0 {
		return out
	}

	sorted := make([]FDRCandidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].EValue != sorted[j].EValue {
			return sorted[i].EValue > sorted[j].EValue
		}
		return sorted[i].Identity.Key() < sorted[j].Identity.Key()
	})

	m := float64(len(sorted))

	switch cfg.Method {
	case FDRNone:
		threshold := 1 / cfg.Alpha
		for _, c := range sorted {
			if c.EValue >= threshold {
				out.Selected = append(out.Selected, c)
			}
		}
		out.SelectedK = len(out.Selected)
		out.Threshold = threshold
		return out

	case FDREBY:
		m *= numerics.HarmonicNumber(len(sorted))
		out.CorrectedAlpha = cfg.Alpha / numerics.HarmonicNumber(len(sorted))
		fallthrough
	default: // FDREBH
		bestK := 0
		for k := len(sorted); k >= 1; k-- {
			if float64(k)*sorted[k-1].EValue >= m/cfg.Alpha {
				bestK = k
				break
			}
		}
		if bestK > 0 {
			out.Selected = sorted[:bestK]
			out.SelectedK = bestK
			out.Threshold = m / (cfg.Alpha * float64(bestK))
		}
		return out
	}
}
