package plan

import "time"

// PhaseKind labels a phase's role within a workout. The session state
// machine keys its phase-progression table on these kinds.
type PhaseKind string

const (
	PhaseWarmUp   PhaseKind = "warmup"
	PhaseWork     PhaseKind = "work"
	PhaseRecovery PhaseKind = "recovery"
	PhaseCoolDown PhaseKind = "cooldown"
)

// TransitionKind selects how a phase hands over to the next one.
type TransitionKind string

const (
	// TransitionTimeElapsed advances when the phase's duration is spent.
	TransitionTimeElapsed TransitionKind = "time_elapsed"
	// TransitionHeartRateReached advances once the filtered heart rate has
	// held near a target BPM for a configured number of seconds. The
	// phase's duration remains a hard ceiling.
	TransitionHeartRateReached TransitionKind = "heart_rate_reached"
)

// Transition describes a phase's advancement rule. TargetBPM and HoldSecs
// are only meaningful for TransitionHeartRateReached.
type Transition struct {
	Kind      TransitionKind `json:"kind" mapstructure:"kind"`
	TargetBPM uint16         `json:"target_bpm,omitempty" mapstructure:"target_bpm"`
	HoldSecs  uint32         `json:"hold_secs,omitempty" mapstructure:"hold_secs"`
}

// Phase is one segment of a training plan.
type Phase struct {
	Name         string     `json:"name" mapstructure:"name"`
	Kind         PhaseKind  `json:"kind" mapstructure:"kind"`
	TargetZone   Zone       `json:"target_zone" mapstructure:"target_zone"`
	DurationSecs uint32     `json:"duration_secs" mapstructure:"duration_secs"`
	Transition   Transition `json:"transition" mapstructure:"transition"`
}

// TrainingPlan is an ordered sequence of phases against a maximum heart
// rate. Plans are validated once at load time and read-only afterwards.
type TrainingPlan struct {
	Name      string    `json:"name" mapstructure:"name"`
	MaxHR     uint16    `json:"max_hr" mapstructure:"max_hr"`
	Phases    []Phase   `json:"phases" mapstructure:"phases"`
	CreatedAt time.Time `json:"created_at,omitempty" mapstructure:"created_at"`
}

// MaxTotalDurationSecs caps a plan's total length at four hours.
const MaxTotalDurationSecs = 4 * 60 * 60

const (
	minTargetBPM = 30
	maxTargetBPM = 220
)

// TotalDurationSecs sums the duration of every phase.
func (p *TrainingPlan) TotalDurationSecs() uint32 {
	var total uint32
	for _, phase := range p.Phases {
		total += phase.DurationSecs
	}
	return total
}

// Validate checks the plan's structural invariants. A plan that fails
// validation must never reach the session state machine.
func (p *TrainingPlan) Validate() error {
	if p.MaxHR < MinMaxHR || p.MaxHR > MaxMaxHR {
		return validationErrorf("plan %q: max heart rate %d outside valid range [%d, %d]", p.Name, p.MaxHR, MinMaxHR, MaxMaxHR)
	}
	if len(p.Phases) == 0 {
		return validationErrorf("plan %q must have at least one phase", p.Name)
	}

	for i, phase := range p.Phases {
		if phase.DurationSecs == 0 {
			return validationErrorf("plan %q: phase %d (%q) has zero duration", p.Name, i, phase.Name)
		}
		switch phase.Kind {
		case PhaseWarmUp, PhaseWork, PhaseRecovery, PhaseCoolDown:
		default:
			return validationErrorf("plan %q: phase %d (%q) has unknown kind %q", p.Name, i, phase.Name, phase.Kind)
		}
		if phase.TargetZone < Zone1 || phase.TargetZone > Zone5 {
			return validationErrorf("plan %q: phase %d (%q) has invalid target zone %d", p.Name, i, phase.Name, int(phase.TargetZone))
		}
		switch phase.Transition.Kind {
		case TransitionTimeElapsed:
		case TransitionHeartRateReached:
			if phase.Transition.TargetBPM < minTargetBPM || phase.Transition.TargetBPM > maxTargetBPM {
				return validationErrorf("plan %q: phase %d (%q) has invalid target_bpm %d (valid: %d-%d)",
					p.Name, i, phase.Name, phase.Transition.TargetBPM, minTargetBPM, maxTargetBPM)
			}
		default:
			return validationErrorf("plan %q: phase %d (%q) has unknown transition kind %q", p.Name, i, phase.Name, phase.Transition.Kind)
		}
	}

	if total := p.TotalDurationSecs(); total > MaxTotalDurationSecs {
		return validationErrorf("plan %q: total duration %ds exceeds 4 hours", p.Name, total)
	}
	return nil
}
