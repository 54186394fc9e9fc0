package calibrate

import "math"

// KalmanConfig tunes the constant-velocity filter.
type KalmanConfig struct {
	// ProcessNoise is how much the true state changes between steps.
	ProcessNoise float64 `json:"process_noise"`
	// MeasurementNoise is sensor/sampling noise variance.
	MeasurementNoise float64 `json:"measurement_noise"`
	// InitialVariance seeds the state covariance.
	InitialVariance float64 `json:"initial_variance"`
}

// DefaultKalmanConfig returns the generic preset.
func DefaultKalmanConfig() KalmanConfig {
	return KalmanConfig{ProcessNoise: 0.1, MeasurementNoise: 5, InitialVariance: 100}
}

// KalmanCPU is the preset for CPU fraction series.
func KalmanCPU() KalmanConfig {
	return KalmanConfig{ProcessNoise: 0.1, MeasurementNoise: 5, InitialVariance: 100}
}

// KalmanMemory is the preset for memory series.
func KalmanMemory() KalmanConfig {
	return KalmanConfig{ProcessNoise: 0.01, MeasurementNoise: 10, InitialVariance: 1000}
}

// KalmanIORate is the preset for IO rate series.
func KalmanIORate() KalmanConfig {
	return KalmanConfig{ProcessNoise: 1, MeasurementNoise: 50, InitialVariance: 10000}
}

// mat2 is an inline 2x2 matrix; no linear-algebra dependency for one filter.
type mat2 struct {
	m [2][2]float64
}

func newMat2(a, b, c, d float64) mat2 {
	return mat2{m: [2][2]float64{{a, b}, {c, d}}}
}

func mat2Identity() mat2 { return newMat2(1, 0, 0, 1) }

func (a mat2) mul(b mat2) mat2 {
	return newMat2(
		a.m[0][0]*b.m[0][0]+a.m[0][1]*b.m[1][0],
		a.m[0][0]*b.m[0][1]+a.m[0][1]*b.m[1][1],
		a.m[1][0]*b.m[0][0]+a.m[1][1]*b.m[1][0],
		a.m[1][0]*b.m[0][1]+a.m[1][1]*b.m[1][1],
	)
}

func (a mat2) transpose() mat2 {
	return newMat2(a.m[0][0], a.m[1][0], a.m[0][1], a.m[1][1])
}

func (a mat2) add(b mat2) mat2 {
	return newMat2(
		a.m[0][0]+b.m[0][0], a.m[0][1]+b.m[0][1],
		a.m[1][0]+b.m[1][0], a.m[1][1]+b.m[1][1],
	)
}

func (a mat2) sub(b mat2) mat2 {
	return newMat2(
		a.m[0][0]-b.m[0][0], a.m[0][1]-b.m[0][1],
		a.m[1][0]-b.m[1][0], a.m[1][1]-b.m[1][1],
	)
}

func (a mat2) mulVec(v [2]float64) [2]float64 {
	return [2]float64{
		a.m[0][0]*v[0] + a.m[0][1]*v[1],
		a.m[1][0]*v[0] + a.m[1][1]*v[1],
	}
}

// KalmanFilter tracks [value, velocity] for one metric series.
type KalmanFilter struct {
	x           [2]float64
	p           mat2
	config      KalmanConfig
	lastT       float64
	hasLastT    bool
	updateCount uint64
}

// KalmanEstimate is the output of one filter update.
type KalmanEstimate struct {
	Value            float64 `json:"value"`
	Velocity         float64 `json:"velocity"`
	ValueVariance    float64 `json:"value_variance"`
	VelocityVariance float64 `json:"velocity_variance"`
	// Innovation is measurement minus prediction.
	Innovation  float64 `json:"innovation"`
	UpdateCount uint64  `json:"update_count"`
}

// KalmanPrediction is a forecast at a future horizon.
type KalmanPrediction struct {
	Value        float64 `json:"value"`
	Velocity     float64 `json:"velocity"`
	StdDev       float64 `json:"std_dev"`
	IntervalLow  float64 `json:"interval_low"`
	IntervalHigh float64 `json:"interval_high"`
	HorizonSecs  float64 `json:"horizon_secs"`
}

// NewKalmanFilter creates a filter with the given configuration.
func NewKalmanFilter(config KalmanConfig) *KalmanFilter {
	return &KalmanFilter{
		p:      newMat2(config.InitialVariance, 0, 0, config.InitialVariance),
		config: config,
	}
}

// Initialize seeds the filter with a first measurement.
func (k *KalmanFilter) Initialize(value, t float64) {
	k.x = [2]float64{value, 0}
	k.p = newMat2(k.config.InitialVariance, 0, 0, k.config.InitialVariance)
	k.lastT = t
	k.hasLastT = true
	k.updateCount = 1
}

// processNoise builds Q = q * [[dt^3/3, dt^2/2], [dt^2/2, dt]].
func (k *KalmanFilter) processNoise(dt float64) mat2 {
	q := k.config.ProcessNoise
	return newMat2(
		q*math.Pow(dt, 3)/3, q*dt*dt/2,
		q*dt*dt/2, q*dt,
	)
}

// Update folds one measurement and returns the smoothed estimate.
func (k *KalmanFilter) Update(measurement, t float64) KalmanEstimate {
	if k.updateCount == 0 {
		k.Initialize(measurement, t)
		return KalmanEstimate{
			Value:            measurement,
			ValueVariance:    k.config.InitialVariance,
			VelocityVariance: k.config.InitialVariance,
			UpdateCount:      1,
		}
	}

	dt := t - k.lastT
	if dt < 0.001 {
		dt = 0.001
	}

	// Constant-velocity transition: F = [[1, dt], [0, 1]].
	f := newMat2(1, dt, 0, 1)
	q := k.processNoise(dt)

	xPred := f.mulVec(k.x)
	pPred := f.mul(k.p).mul(f.transpose()).add(q)

	// Observation matrix H = [1, 0].
	innovation := measurement - xPred[0]
	s := pPred.m[0][0] + k.config.MeasurementNoise
	if math.Abs(s) < 1e-15 {
		return KalmanEstimate{
			Value:            xPred[0],
			Velocity:         xPred[1],
			ValueVariance:    pPred.m[0][0],
			VelocityVariance: pPred.m[1][1],
			Innovation:       innovation,
			UpdateCount:      k.updateCount,
		}
	}

	gain := [2]float64{pPred.m[0][0] / s, pPred.m[1][0] / s}
	k.x = [2]float64{
		xPred[0] + gain[0]*innovation,
		xPred[1] + gain[1]*innovation,
	}
	kh := newMat2(gain[0], 0, gain[1], 0)
	k.p = mat2Identity().sub(kh).mul(pPred)

	k.lastT = t
	k.updateCount++

	return KalmanEstimate{
		Value:            k.x[0],
		Velocity:         k.x[1],
		ValueVariance:    k.p.m[0][0],
		VelocityVariance: k.p.m[1][1],
		Innovation:       innovation,
		UpdateCount:      k.updateCount,
	}
}

// PredictOnly advances the filter without a measurement (missing sample).
func (k *KalmanFilter) PredictOnly(t float64) KalmanEstimate {
	if k.updateCount == 0 {
		return KalmanEstimate{
			ValueVariance:    k.config.InitialVariance,
			VelocityVariance: k.config.InitialVariance,
		}
	}

	dt := t - k.lastT
	if dt < 0.001 {
		dt = 0.001
	}
	f := newMat2(1, dt, 0, 1)
	q := k.processNoise(dt)

	k.x = f.mulVec(k.x)
	k.p = f.mul(k.p).mul(f.transpose()).add(q)
	k.lastT = t

	return KalmanEstimate{
		Value:            k.x[0],
		Velocity:         k.x[1],
		ValueVariance:    k.p.m[0][0],
		VelocityVariance: k.p.m[1][1],
		UpdateCount:      k.updateCount,
	}
}

// PredictFuture forecasts the state at a horizon without mutating the
// filter.
func (k *KalmanFilter) PredictFuture(horizonSecs float64) KalmanPrediction {
	f := newMat2(1, horizonSecs, 0, 1)
	q := k.processNoise(horizonSecs)

	xPred := f.mulVec(k.x)
	pPred := f.mul(k.p).mul(f.transpose()).add(q)
	stdDev := math.Sqrt(math.Max(pPred.m[0][0], 0))

	return KalmanPrediction{
		Value:        xPred[0],
		Velocity:     xPred[1],
		StdDev:       stdDev,
		IntervalLow:  xPred[0] - 2*stdDev,
		IntervalHigh: xPred[0] + 2*stdDev,
		HorizonSecs:  horizonSecs,
	}
}

// Value returns the current smoothed value.
func (k *KalmanFilter) Value() float64 { return k.x[0] }

// Velocity returns the current rate-of-change estimate per second.
func (k *KalmanFilter) Velocity() float64 { return k.x[1] }

// UpdateCount returns the number of updates performed.
func (k *KalmanFilter) UpdateCount() uint64 { return k.updateCount }
