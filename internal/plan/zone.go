package plan

import "fmt"

// Zone is a heart-rate intensity band expressed as a percentage of maximum
// heart rate: Zone1 50-60%, Zone2 60-70%, Zone3 70-80%, Zone4 80-90%,
// Zone5 90% and up. Below 50% there is no zone.
type Zone int

const (
	ZoneNone Zone = iota
	Zone1
	Zone2
	Zone3
	Zone4
	Zone5
)

const (
	// MinMaxHR and MaxMaxHR bound the physiologically plausible maximum
	// heart rate. Values outside are rejected, never clamped.
	MinMaxHR = 100
	MaxMaxHR = 220
)

func (z Zone) String() string {
	switch z {
	case ZoneNone:
		return "none"
	case Zone1:
		return "Z1"
	case Zone2:
		return "Z2"
	case Zone3:
		return "Z3"
	case Zone4:
		return "Z4"
	case Zone5:
		return "Z5"
	default:
		return fmt.Sprintf("Zone(%d)", int(z))
	}
}

// ValidationError reports a rejected plan or zone parameter. Validation
// failures surface before a session starts and are never auto-corrected.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// CalculateZone classifies bpm into an intensity band relative to maxHR.
// Returns ZoneNone for anything below 50% of maxHR. maxHR outside
// [MinMaxHR, MaxMaxHR] yields a ValidationError.
func CalculateZone(bpm, maxHR uint16) (Zone, error) {
	if maxHR < MinMaxHR || maxHR > MaxMaxHR {
		return ZoneNone, validationErrorf("max heart rate %d outside valid range [%d, %d]", maxHR, MinMaxHR, MaxMaxHR)
	}

	pct := float64(bpm) / float64(maxHR) * 100.0
	switch {
	case pct < 50:
		return ZoneNone, nil
	case pct < 60:
		return Zone1, nil
	case pct < 70:
		return Zone2, nil
	case pct < 80:
		return Zone3, nil
	case pct < 90:
		return Zone4, nil
	default:
		return Zone5, nil
	}
}

// BoundsBPM returns the inclusive lower and exclusive upper BPM bounds of
// zone z for the given maxHR. Zone5's upper bound is maxHR itself.
// ZoneNone has no bounds and reports an error.
func (z Zone) BoundsBPM(maxHR uint16) (low, high float64, err error) {
	if maxHR < MinMaxHR || maxHR > MaxMaxHR {
		return 0, 0, validationErrorf("max heart rate %d outside valid range [%d, %d]", maxHR, MinMaxHR, MaxMaxHR)
	}

	var lowPct, highPct float64
	switch z {
	case Zone1:
		lowPct, highPct = 50, 60
	case Zone2:
		lowPct, highPct = 60, 70
	case Zone3:
		lowPct, highPct = 70, 80
	case Zone4:
		lowPct, highPct = 80, 90
	case Zone5:
		lowPct, highPct = 90, 100
	default:
		return 0, 0, validationErrorf("zone %s has no BPM bounds", z)
	}

	hr := float64(maxHR)
	return lowPct / 100 * hr, highPct / 100 * hr, nil
}
