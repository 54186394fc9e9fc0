package decision

import (
	"testing"

	"github.com/ptops/ptriage/model"
)

func fdrCandidate(pid uint32, e float64) FDRCandidate {
	return FDRCandidate{
		Identity: model.NewProcessIdentity(pid, model.StartId("boot-1"), 1000),
		EValue:   e,
	}
}

func TestSelectFDRSelectedPrefixAboveThreshold(t *testing.T) {
	cands := []FDRCandidate{
		fdrCandidate(1, 100), fdrCandidate(2, 50), fdrCandidate(3, 2),
		fdrCandidate(4, 0.5), fdrCandidate(5, 0.1),
	}
	sel := SelectFDR(cands, FDRConfig{Method: FDREBH, Alpha: 0.1})
	if sel.SelectedK == 0 {
		t.Fatal("nothing selected")
	}
	for _, c := range sel.Selected {
		if float64(sel.SelectedK)*c.EValue < float64(len(cands))/0.1-1e-9 && c.EValue < sel.Threshold {
			t.Errorf("selected candidate below threshold: e=%v threshold=%v", c.EValue, sel.Threshold)
		}
	}
}

func TestSelectFDRMonotoneInAlpha(t *testing.T) {
	cands := []FDRCandidate{
		fdrCandidate(1, 80), fdrCandidate(2, 40), fdrCandidate(3, 10),
		fdrCandidate(4, 3), fdrCandidate(5, 1), fdrCandidate(6, 0.2),
	}
	small := SelectFDR(cands, FDRConfig{Method: FDREBH, Alpha: 0.05})
	large := SelectFDR(cands, FDRConfig{Method: FDREBH, Alpha: 0.2})
	if large.SelectedK < small.SelectedK {
		t.Errorf("larger alpha selected fewer: %d < %d", large.SelectedK, small.SelectedK)
	}
	// Superset check: everything small selected must appear in large.
	in := make(map[string]bool)
	for _, c := range large.Selected {
		in[c.Identity.Key()] = true
	}
	for _, c := range small.Selected {
		if !in[c.Identity.Key()] {
			t.Errorf("candidate %s lost at larger alpha", c.Identity.Key())
		}
	}
}

func TestSelectFDREBYMoreConservative(t *testing.T) {
	cands := []FDRCandidate{
		fdrCandidate(1, 60), fdrCandidate(2, 30), fdrCandidate(3, 12),
		fdrCandidate(4, 6), fdrCandidate(5, 2),
	}
	ebh := SelectFDR(cands, FDRConfig{Method: FDREBH, Alpha: 0.1})
	eby := SelectFDR(cands, FDRConfig{Method: FDREBY, Alpha: 0.1})
	if eby.SelectedK > ebh.SelectedK {
		t.Errorf("eBY selected more than eBH: %d > %d", eby.SelectedK, ebh.SelectedK)
	}
}

func TestSelectFDRNoneThreshold(t *testing.T) {
	cands := []FDRCandidate{
		fdrCandidate(1, 25), fdrCandidate(2, 19), fdrCandidate(3, 21),
	}
	sel := SelectFDR(cands, FDRConfig{Method: FDRNone, Alpha: 0.05})
	// 1/alpha = 20: only e-values >= 20 pass.
	if sel.SelectedK != 2 {
		t.Errorf("selected %d, want 2", sel.SelectedK)
	}
	for _, c := range sel.Selected {
		if c.EValue < 20 {
			t.Errorf("e-value %v below 1/alpha", c.EValue)
		}
	}
}

func TestSelectFDRDeterministicOnTies(t *testing.T) {
	cands := []FDRCandidate{
		fdrCandidate(3, 10), fdrCandidate(1, 10), fdrCandidate(2, 10),
	}
	a := SelectFDR(cands, FDRConfig{Method: FDREBH, Alpha: 0.5})
	b := SelectFDR(cands, FDRConfig{Method: FDREBH, Alpha: 0.5})
	if len(a.Selected) != len(b.Selected) {
		t.Fatal("non-deterministic selection size")
	}
	for i := range a.Selected {
		if a.Selected[i].Identity.Key() != b.Selected[i].Identity.Key() {
			t.Error("tie order not stable")
		}
	}
}

func TestSelectFDREmpty(t *testing.T) {
	sel := SelectFDR(nil, DefaultFDRConfig())
	if sel.SelectedK != 0 || len(sel.Selected) != 0 {
		t.Error("empty input should select nothing")
	}
}
