package hr

import "math"

const (
	// MinRMSSDIntervals is the smallest window that yields a meaningful
	// RMSSD; below it the calculators report no value rather than a
	// misleadingly precise one.
	MinRMSSDIntervals = 5

	// Plausible beat-to-beat interval range (200-30 BPM). Intervals
	// outside it are sensor glitches and never enter the window.
	minPlausibleRRMS = 300.0
	maxPlausibleRRMS = 2000.0
)

// RMSSD computes the root mean square of successive differences over the
// given RR intervals (milliseconds). Pure function; returns false when
// fewer than MinRMSSDIntervals intervals are supplied.
func RMSSD(intervalsMS []float64) (float64, bool) {
	if len(intervalsMS) < MinRMSSDIntervals {
		return 0, false
	}

	var sumSquares float64
	for i := 1; i < len(intervalsMS); i++ {
		d := intervalsMS[i] - intervalsMS[i-1]
		sumSquares += d * d
	}
	return math.Sqrt(sumSquares / float64(len(intervalsMS)-1)), true
}

// SDNN computes the standard deviation of the RR intervals (milliseconds).
// Needs at least two intervals.
func SDNN(intervalsMS []float64) (float64, bool) {
	if len(intervalsMS) < 2 {
		return 0, false
	}

	var sum float64
	for _, v := range intervalsMS {
		sum += v
	}
	mean := sum / float64(len(intervalsMS))

	var sumSquares float64
	for _, v := range intervalsMS {
		d := v - mean
		sumSquares += d * d
	}
	return math.Sqrt(sumSquares / float64(len(intervalsMS))), true
}

// RRWindow is a fixed-capacity sliding window of RR intervals. The oldest
// interval is evicted once the window is full, keeping variability
// tracking responsive to recent beats. Not safe for concurrent use; the
// tick loop is the only writer.
type RRWindow struct {
	intervals []float64
	capacity  int
}

func NewRRWindow(capacity int) *RRWindow {
	if capacity < MinRMSSDIntervals {
		panic("hr.RRWindow: capacity below the minimum RMSSD window")
	}
	return &RRWindow{
		intervals: make([]float64, 0, capacity),
		capacity:  capacity,
	}
}

// Push appends an interval, evicting the oldest when full. Implausible
// intervals are dropped so one glitch cannot poison the window, and the
// drop is reported to the caller.
func (w *RRWindow) Push(intervalMS float64) bool {
	if intervalMS < minPlausibleRRMS || intervalMS > maxPlausibleRRMS {
		return false
	}
	if len(w.intervals) == w.capacity {
		copy(w.intervals, w.intervals[1:])
		w.intervals = w.intervals[:len(w.intervals)-1]
	}
	w.intervals = append(w.intervals, intervalMS)
	return true
}

// RMSSD computes the metric over the current window contents.
func (w *RRWindow) RMSSD() (float64, bool) {
	return RMSSD(w.intervals)
}

// SDNN computes the metric over the current window contents.
func (w *RRWindow) SDNN() (float64, bool) {
	return SDNN(w.intervals)
}

func (w *RRWindow) Len() int {
	return len(w.intervals)
}

// Reset empties the window for a new session.
func (w *RRWindow) Reset() {
	w.intervals = w.intervals[:0]
}
