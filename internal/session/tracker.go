package session

import (
	"fmt"

	"github.com/pulsecoach/pulse-coach-app/internal/plan"
)

// ZoneStatus is the debounced position of the heart rate relative to the
// current phase's target zone.
type ZoneStatus int

const (
	StatusInZone ZoneStatus = iota
	StatusTooLow
	StatusTooHigh
)

func (s ZoneStatus) String() string {
	switch s {
	case StatusInZone:
		return "in zone"
	case StatusTooLow:
		return "too low"
	case StatusTooHigh:
		return "too high"
	default:
		return fmt.Sprintf("ZoneStatus(%d)", int(s))
	}
}

// Deviation is the edge classification used for alerting.
type Deviation int

const (
	DeviationInZone Deviation = iota
	DeviationTooLow
	DeviationTooHigh
	DeviationBackInZone
)

func (d Deviation) String() string {
	switch d {
	case DeviationInZone:
		return "in_zone"
	case DeviationTooLow:
		return "too_low"
	case DeviationTooHigh:
		return "too_high"
	case DeviationBackInZone:
		return "back_in_zone"
	default:
		return fmt.Sprintf("Deviation(%d)", int(d))
	}
}

// DefaultDeviationThreshold is how many consecutive out-of-zone samples
// are required before a deviation alert fires. Boundary noise on a 1 Hz
// stream would otherwise spam alerts.
const DefaultDeviationThreshold = 5

// deviationTracker debounces zone-compliance alerts. It emits exactly one
// edge per excursion: TooLow/TooHigh once the out-of-zone streak reaches
// the threshold, BackInZone on the first sample back inside. Everything
// between edges is silent.
type deviationTracker struct {
	threshold  int
	lowStreak  int
	highStreak int
	status     ZoneStatus
}

func newDeviationTracker(threshold int) deviationTracker {
	if threshold <= 0 {
		threshold = DefaultDeviationThreshold
	}
	return deviationTracker{threshold: threshold}
}

// update folds in one sample and reports whether an alert edge occurred.
func (t *deviationTracker) update(bpm uint16, target plan.Zone, maxHR uint16) (Deviation, bool, error) {
	low, high, err := target.BoundsBPM(maxHR)
	if err != nil {
		return DeviationInZone, false, err
	}

	v := float64(bpm)
	switch {
	case v < low:
		t.lowStreak++
		t.highStreak = 0
	case v >= high && target != plan.Zone5:
		// Zone5 is open-ended upwards; there is no harder zone to
		// overshoot into.
		t.highStreak++
		t.lowStreak = 0
	default:
		t.lowStreak = 0
		t.highStreak = 0
	}

	inZone := t.lowStreak == 0 && t.highStreak == 0
	switch {
	case t.status == StatusInZone && t.lowStreak >= t.threshold:
		t.status = StatusTooLow
		return DeviationTooLow, true, nil
	case t.status == StatusInZone && t.highStreak >= t.threshold:
		t.status = StatusTooHigh
		return DeviationTooHigh, true, nil
	case t.status != StatusInZone && inZone:
		t.status = StatusInZone
		return DeviationBackInZone, true, nil
	}

	return t.current(), false, nil
}

func (t *deviationTracker) current() Deviation {
	switch t.status {
	case StatusTooLow:
		return DeviationTooLow
	case StatusTooHigh:
		return DeviationTooHigh
	default:
		return DeviationInZone
	}
}

// reset clears streaks and status for a new phase; a deviation from the
// previous phase's zone must not leak into the next.
func (t *deviationTracker) reset() {
	t.lowStreak = 0
	t.highStreak = 0
	t.status = StatusInZone
}
