package hr

import "math"

// Kalman filter defaults, tuned for beat-rate telemetry: the process noise
// reflects how far a heart rate plausibly drifts per sample, the
// measurement noise the sensor's jitter variance.
const (
	DefaultProcessNoise     = 0.1
	DefaultMeasurementNoise = 2.0

	initialEstimate   = 70.0
	initialCovariance = 100.0

	// Output is clamped to this band so an implausible reading can never
	// propagate NaN or a negative rate downstream.
	minPlausibleBPM = 30.0
	maxPlausibleBPM = 230.0
)

// KalmanFilter smooths a noisy scalar BPM stream. One instance lives for
// the duration of one connection and is Reset, not reused, across sessions
// so stale state cannot bias a fresh workout.
type KalmanFilter struct {
	processNoise     float64
	measurementNoise float64
	estimate         float64
	covariance       float64
}

func NewKalmanFilter() *KalmanFilter {
	return NewKalmanFilterWithNoise(DefaultProcessNoise, DefaultMeasurementNoise)
}

func NewKalmanFilterWithNoise(processNoise, measurementNoise float64) *KalmanFilter {
	if processNoise <= 0 || measurementNoise <= 0 {
		panic("hr.KalmanFilter: noise parameters must be positive")
	}
	f := &KalmanFilter{
		processNoise:     processNoise,
		measurementNoise: measurementNoise,
	}
	f.Reset()
	return f
}

// Update folds one raw reading into the estimate and returns the smoothed
// value. Non-finite input leaves the state untouched and returns the
// current estimate; out-of-band input is clamped before the update.
func (f *KalmanFilter) Update(rawBPM float64) float64 {
	if math.IsNaN(rawBPM) || math.IsInf(rawBPM, 0) {
		return f.estimate
	}
	rawBPM = clampBPM(rawBPM)

	predicted := f.covariance + f.processNoise
	gain := predicted / (predicted + f.measurementNoise)
	f.estimate += gain * (rawBPM - f.estimate)
	f.covariance = (1 - gain) * predicted

	f.estimate = clampBPM(f.estimate)
	return f.estimate
}

// Estimate returns the current smoothed BPM.
func (f *KalmanFilter) Estimate() float64 {
	return f.estimate
}

// Variance returns the current error covariance. It shrinks as the filter
// gains confidence and serves as a quality indicator downstream.
func (f *KalmanFilter) Variance() float64 {
	return f.covariance
}

// Reset restores the wide-covariance initial state for a new session.
func (f *KalmanFilter) Reset() {
	f.estimate = initialEstimate
	f.covariance = initialCovariance
}

func clampBPM(v float64) float64 {
	if v < minPlausibleBPM {
		return minPlausibleBPM
	}
	if v > maxPlausibleBPM {
		return maxPlausibleBPM
	}
	return v
}
