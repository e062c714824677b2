package notify

import (
	"fmt"

	"github.com/pulsecoach/pulse-coach-app/internal/plan"
)

// EventType tags a user-facing alert.
type EventType string

const (
	TypeZoneDeviation   EventType = "zone_deviation"
	TypePhaseTransition EventType = "phase_transition"
	TypePhaseTimeout    EventType = "phase_timeout"
	TypeWorkoutReady    EventType = "workout_ready"
	TypeConnectionLost  EventType = "connection_lost"
	TypeAuxiliaryLow    EventType = "auxiliary_low"
)

// Event is one alert produced by the core. Rendering, sound and haptics
// are entirely the consumer's concern; the core only emits.
type Event struct {
	Type EventType

	// Zone deviation fields.
	Deviation  string
	CurrentBPM uint16
	TargetZone plan.Zone

	// Phase transition / timeout fields.
	FromPhase int
	ToPhase   int
	PhaseName string

	// Workout-ready fields.
	PlanName string

	// Auxiliary (battery) fields.
	Percent uint8
}

func (e Event) String() string {
	switch e.Type {
	case TypeZoneDeviation:
		return fmt.Sprintf("zone deviation: %s at %d bpm (target %s)", e.Deviation, e.CurrentBPM, e.TargetZone)
	case TypePhaseTransition:
		return fmt.Sprintf("phase transition: %d -> %d (%s)", e.FromPhase, e.ToPhase, e.PhaseName)
	case TypePhaseTimeout:
		return fmt.Sprintf("phase timeout: %q force-advanced", e.PhaseName)
	case TypeWorkoutReady:
		return fmt.Sprintf("workout ready: %q", e.PlanName)
	case TypeConnectionLost:
		return "connection lost"
	case TypeAuxiliaryLow:
		return fmt.Sprintf("sensor battery low: %d%%", e.Percent)
	default:
		return fmt.Sprintf("event %q", string(e.Type))
	}
}

// Notifier is the sink the core pushes alerts into. Implementations must
// be resilient and must not block the tick loop.
type Notifier interface {
	Notify(Event) error
}
