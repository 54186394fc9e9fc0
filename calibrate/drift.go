package calibrate

import (
	"math"
	"sync"

	"github.com/ptops/ptriage/model"
)

// DriftConfig tunes posterior drift detection.
type DriftConfig struct {
	// WindowSize is the number of posteriors per comparison window.
	WindowSize int `json:"window_size"`
	// Threshold is the 1-Wasserstein divergence between the reference and
	// current window means that declares drift.
	Threshold float64 `json:"threshold"`
}

// DefaultDriftConfig returns the embedded drift parameters.
func DefaultDriftConfig() DriftConfig {
	return DriftConfig{WindowSize: 50, Threshold: 0.15}
}

// DriftState is the detector's published status.
type DriftState struct {
	// Divergence is the last computed window divergence.
	Divergence float64 `json:"divergence"`
	// Drifted is true when divergence exceeds the threshold.
	Drifted bool `json:"drifted"`
	// WindowsCompared counts completed comparisons.
	WindowsCompared int `json:"windows_compared"`
}

// DriftDetector compares the running distribution of posteriors against a
// reference window. The first full window becomes the reference; every
// subsequent full window is compared by 1-Wasserstein distance between the
// mean class distributions (0.5 * L1 under the unit ground metric).
type DriftDetector struct {
	mu  sync.Mutex
	cfg DriftConfig

	reference    *model.ClassScores
	currentSum   model.ClassScores
	currentCount int
	state        DriftState
}

// NewDriftDetector builds a detector.
func NewDriftDetector(cfg DriftConfig) *DriftDetector {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultDriftConfig().WindowSize
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultDriftConfig().Threshold
	}
	return &DriftDetector{cfg: cfg}
}

// Observe folds one posterior into the current window. When the window
// fills it is compared against the reference (or becomes the reference if
// none exists yet).
func (d *DriftDetector) Observe(posterior model.ClassScores) DriftState {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.currentSum = d.currentSum.Add(posterior)
	d.currentCount++
	if d.currentCount < d.cfg.WindowSize {
		return d.state
	}

	var mean model.ClassScores
	for _, c := range model.Classes {
		mean.Set(c, d.currentSum.Get(c)/float64(d.currentCount))
	}
	d.currentSum = model.ClassScores{}
	d.currentCount = 0

	if d.reference == nil {
		ref := mean
		d.reference = &ref
		return d.state
	}

	divergence := WassersteinDivergence(*d.reference, mean)
	d.state = DriftState{
		Divergence:      divergence,
		Drifted:         divergence > d.cfg.Threshold,
		WindowsCompared: d.state.WindowsCompared + 1,
	}
	return d.state
}

// State returns the last published drift status.
func (d *DriftDetector) State() DriftState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Reset clears the reference and the running window, e.g. after a
// deliberate policy or priors change.
func (d *DriftDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reference = nil
	d.currentSum = model.ClassScores{}
	d.currentCount = 0
	d.state = DriftState{}
}

// WassersteinDivergence is the 1-Wasserstein distance between two class
// distributions under the unit ground metric: half the L1 distance.
func WassersteinDivergence(a, b model.ClassScores) float64 {
	var l1 float64
	for _, c := range model.Classes {
		l1 += math.Abs(a.Get(c) - b.Get(c))
	}
	return l1 / 2
}
