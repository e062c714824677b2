package session

import "github.com/pulsecoach/pulse-coach-app/internal/plan"

// Progress is the per-tick snapshot streamed to the presentation layer.
// Small and copyable; it crosses the core/UI boundary once per second.
type Progress struct {
	Status             Status
	PhaseIndex         int
	PhaseName          string
	TargetZone         plan.Zone
	PhaseElapsedSecs   uint32
	PhaseRemainingSecs uint32
	TotalElapsedSecs   uint32
	TotalRemainingSecs uint32
	ZoneStatus         ZoneStatus
	CurrentBPM         uint16
}

// PhaseFraction is progress through the current phase in [0, 1].
func (p Progress) PhaseFraction() float64 {
	total := p.PhaseElapsedSecs + p.PhaseRemainingSecs
	if total == 0 {
		return 0
	}
	return float64(p.PhaseElapsedSecs) / float64(total)
}

// Fraction is progress through the whole session in [0, 1].
func (p Progress) Fraction() float64 {
	total := p.TotalElapsedSecs + p.TotalRemainingSecs
	if total == 0 {
		return 0
	}
	return float64(p.TotalElapsedSecs) / float64(total)
}

// Progress builds the current snapshot. Safe to call from any goroutine.
func (m *Machine) Progress() Progress {
	m.mu.Lock()
	defer m.mu.Unlock()

	phase := m.plan.Phases[m.phaseIndex]

	phaseRemaining := uint32(0)
	if phase.DurationSecs > m.phaseElapsed {
		phaseRemaining = phase.DurationSecs - m.phaseElapsed
	}
	total := m.plan.TotalDurationSecs()
	totalRemaining := uint32(0)
	if total > m.totalElapsed {
		totalRemaining = total - m.totalElapsed
	}

	return Progress{
		Status:             m.status,
		PhaseIndex:         m.phaseIndex,
		PhaseName:          phase.Name,
		TargetZone:         phase.TargetZone,
		PhaseElapsedSecs:   m.phaseElapsed,
		PhaseRemainingSecs: phaseRemaining,
		TotalElapsedSecs:   m.totalElapsed,
		TotalRemainingSecs: totalRemaining,
		ZoneStatus:         m.tracker.status,
		CurrentBPM:         m.currentBPM,
	}
}
