package devicetime

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/devicetime/internal/config"
	"github.com/banshee-data/devicetime/internal/monitoring"
)

// maxConsecutiveOutliers is how many innovations in a row may be rejected
// before the filter concludes the clock relation itself jumped and
// re-initialises from the latest sample.
const maxConsecutiveOutliers = 10

// KalmanParameters tunes the Kalman clock filter. Sigmas are standard
// deviations; process noise terms are per √second of device time.
type KalmanParameters struct {
	SigmaOffset          float64 // offset random walk (s/√s)
	SigmaSkew            float64 // skew random walk (1/√s)
	SigmaInitOffset      float64 // initial offset uncertainty (s)
	SigmaInitSkew        float64 // initial skew uncertainty (dimensionless)
	MeasurementSigma     float64 // transport jitter (s)
	OutlierThresholdSecs float64 // innovations larger than this are rejected; 0 disables
}

// DefaultKalmanParameters returns parameters suited to a crystal-driven
// device clock read over a jittery bus (~1 ms).
func DefaultKalmanParameters() KalmanParameters {
	return KalmanParameters{
		SigmaOffset:          config.DefaultKalmanSigmaOffset,
		SigmaSkew:            config.DefaultKalmanSigmaSkew,
		SigmaInitOffset:      config.DefaultKalmanSigmaInitOffset,
		SigmaInitSkew:        config.DefaultKalmanSigmaInitSkew,
		MeasurementSigma:     config.DefaultKalmanMeasurementSigma,
		OutlierThresholdSecs: config.DefaultKalmanOutlierThresholdSecs,
	}
}

// Validate checks that every sigma is positive and the threshold is not
// negative.
func (p KalmanParameters) Validate() error {
	for _, v := range []struct {
		name  string
		value float64
	}{
		{"sigma_offset", p.SigmaOffset},
		{"sigma_skew", p.SigmaSkew},
		{"sigma_init_offset", p.SigmaInitOffset},
		{"sigma_init_skew", p.SigmaInitSkew},
		{"measurement_sigma", p.MeasurementSigma},
	} {
		if !(v.value > 0) || math.IsInf(v.value, 0) {
			return fmt.Errorf("%w: kalman %s must be positive and finite, got %v", ErrInvalidConfiguration, v.name, v.value)
		}
	}
	if p.OutlierThresholdSecs < 0 || math.IsNaN(p.OutlierThresholdSecs) {
		return fmt.Errorf("%w: kalman outlier threshold must be non-negative, got %v", ErrInvalidConfiguration, p.OutlierThresholdSecs)
	}
	return nil
}

// kalmanFilter estimates state [offset, skew] where
// host - device ≈ offset + skew*(device - last).
// The measurement is the apparent offset host - device, so H = [1 0].
type kalmanFilter struct {
	span   sampleSpan
	params KalmanParameters

	initialized bool
	last        float64 // device time the state refers to
	x           *mat.VecDense
	p           *mat.Dense
	outliers    int
}

func newKalmanFilter(switchTime float64, params KalmanParameters) *kalmanFilter {
	return &kalmanFilter{
		span:   sampleSpan{switchTime: switchTime},
		params: params,
	}
}

func (f *kalmanFilter) reset(deviceTime, offset float64) {
	f.last = deviceTime
	f.x = mat.NewVecDense(2, []float64{offset, 0})
	f.p = mat.NewDense(2, 2, []float64{
		f.params.SigmaInitOffset * f.params.SigmaInitOffset, 0,
		0, f.params.SigmaInitSkew * f.params.SigmaInitSkew,
	})
	f.outliers = 0
	f.initialized = true
}

func (f *kalmanFilter) Update(s Sample) float64 {
	z := s.HostTime - s.DeviceTime
	if !f.initialized {
		f.reset(s.DeviceTime, z)
		f.span.accept(s.HostTime)
		return f.Translate(s.DeviceTime)
	}

	dt := s.DeviceTime - f.last
	if dt < 0 {
		monitoring.Warnf("kalman: dropping out-of-order sample at device time %.9f (last %.9f)", s.DeviceTime, f.last)
		return f.Translate(s.DeviceTime)
	}

	// Predict: x' = F x, P' = F P Fᵀ + Q
	// F = [1 dt]
	//     [0  1]
	F := mat.NewDense(2, 2, []float64{1, dt, 0, 1})
	var xPred mat.VecDense
	xPred.MulVec(F, f.x)

	var fp, fpft, pPred mat.Dense
	fp.Mul(F, f.p)
	fpft.Mul(&fp, F.T())
	Q := mat.NewDiagDense(2, []float64{
		f.params.SigmaOffset * f.params.SigmaOffset * dt,
		f.params.SigmaSkew * f.params.SigmaSkew * dt,
	})
	pPred.Add(&fpft, Q)

	// Correct with the apparent offset.
	H := mat.NewVecDense(2, []float64{1, 0})
	innovation := z - mat.Dot(H, &xPred)
	var ph mat.VecDense
	ph.MulVec(&pPred, H)
	R := f.params.MeasurementSigma * f.params.MeasurementSigma
	S := mat.Dot(H, &ph) + R

	if t := f.params.OutlierThresholdSecs; t > 0 && math.Abs(innovation) > t {
		f.outliers++
		if f.outliers < maxConsecutiveOutliers {
			monitoring.Warnf("kalman: rejecting sample at device time %.9f, innovation %.6fs exceeds %.6fs", s.DeviceTime, innovation, t)
			return f.Translate(s.DeviceTime)
		}
		monitoring.Warnf("kalman: %d consecutive outliers, re-initialising at device time %.9f", f.outliers, s.DeviceTime)
		f.reset(s.DeviceTime, z)
		f.span.accept(s.HostTime)
		return f.Translate(s.DeviceTime)
	}
	f.outliers = 0

	var gain mat.VecDense
	gain.ScaleVec(1/S, &ph)

	var xNew mat.VecDense
	xNew.AddScaledVec(&xPred, innovation, &gain)

	// P = (I - K H) P'
	var kh, ikh, pNew mat.Dense
	kh.Outer(1, &gain, H)
	ikh.Sub(mat.NewDiagDense(2, []float64{1, 1}), &kh)
	pNew.Mul(&ikh, &pPred)

	// Keep P symmetric against rounding drift.
	off := 0.5 * (pNew.At(0, 1) + pNew.At(1, 0))
	pNew.Set(0, 1, off)
	pNew.Set(1, 0, off)

	if !isFiniteKalmanState(&xNew, &pNew) {
		monitoring.Warnf("kalman: non-finite state after sample at device time %.9f, re-initialising", s.DeviceTime)
		f.reset(s.DeviceTime, z)
		f.span.accept(s.HostTime)
		return f.Translate(s.DeviceTime)
	}

	if math.Abs(innovation) > 3*math.Sqrt(S) {
		monitoring.Verbosef("kalman: large innovation %.6fs (3σ=%.6fs)", innovation, 3*math.Sqrt(S))
	}

	f.x = &xNew
	f.p = &pNew
	f.last = s.DeviceTime
	f.span.accept(s.HostTime)
	return f.Translate(s.DeviceTime)
}

// isFiniteKalmanState guards against NaN/Inf from degenerate inputs.
func isFiniteKalmanState(x *mat.VecDense, p *mat.Dense) bool {
	for i := 0; i < 2; i++ {
		v := x.AtVec(i)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
		d := p.At(i, i)
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return false
		}
	}
	return true
}

func (f *kalmanFilter) Translate(deviceTime float64) float64 {
	if !f.initialized {
		return deviceTime
	}
	return deviceTime + f.x.AtVec(0) + f.x.AtVec(1)*(deviceTime-f.last)
}

func (f *kalmanFilter) IsReady() bool { return f.span.ready() }

func (f *kalmanFilter) Estimate() Estimate {
	if !f.initialized {
		return Estimate{}
	}
	return Estimate{
		Reference: f.last,
		Offset:    f.x.AtVec(0),
		Skew:      f.x.AtVec(1),
		Samples:   f.span.count,
	}
}

func (f *kalmanFilter) Algorithm() FilterAlgorithm { return FilterKalman }

func (f *kalmanFilter) setSwitchTime(secs float64) { f.span.switchTime = secs }

// covariance returns the diagonal of P for diagnostics.
func (f *kalmanFilter) covariance() (offsetVar, skewVar float64) {
	if !f.initialized {
		return 0, 0
	}
	return f.p.At(0, 0), f.p.At(1, 1)
}
