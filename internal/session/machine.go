package session

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/pulsecoach/pulse-coach-app/internal/hr"
	"github.com/pulsecoach/pulse-coach-app/internal/plan"
)

// Status is the top-level session position.
type Status int

const (
	StatusReady Status = iota
	StatusRunning
	StatusPaused
	StatusCompleted
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "Ready"
	case StatusRunning:
		return "Running"
	case StatusPaused:
		return "Paused"
	case StatusCompleted:
		return "Completed"
	case StatusStopped:
		return "Stopped"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// StateError signals an event that is not legal for the current status.
// It marks an integration bug and is returned, never panicked.
type StateError struct {
	Op     string
	Status Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("session: %s not valid in status %s", e.Op, e.Status)
}

// phaseKindSuccessors is the phase-progression table: which phase kind may
// follow which. Start rejects plans whose phase order violates it.
var phaseKindSuccessors = map[plan.PhaseKind]map[plan.PhaseKind]bool{
	plan.PhaseWarmUp:   {plan.PhaseWork: true, plan.PhaseRecovery: true, plan.PhaseCoolDown: true},
	plan.PhaseWork:     {plan.PhaseWork: true, plan.PhaseRecovery: true, plan.PhaseCoolDown: true},
	plan.PhaseRecovery: {plan.PhaseWork: true, plan.PhaseRecovery: true, plan.PhaseCoolDown: true},
	plan.PhaseCoolDown: {plan.PhaseCoolDown: true},
}

// holdBandBPM is the tolerance around a HeartRateReached target within
// which the hold timer accrues.
const holdBandBPM = 5.0

// Config tunes per-session behavior. Zero values select the defaults.
type Config struct {
	// DeviationThreshold is the consecutive out-of-zone sample count
	// before a deviation alert fires.
	DeviationThreshold int
}

// TickResult reports what one second of session time caused.
type TickResult struct {
	PhaseChanged bool
	FromPhase    int
	ToPhase      int
	PhaseName    string
	// TimedOut is set when a HeartRateReached phase hit its duration
	// ceiling and was force-advanced.
	TimedOut  bool
	Completed bool
}

// UpdateResult reports the effect of one heart-rate sample.
type UpdateResult struct {
	Deviation Deviation
	// Edge is true when this sample crossed an alert boundary; the
	// caller emits exactly one notification per edge.
	Edge bool
}

// Summary describes a finished session.
type Summary struct {
	PlanName        string    `json:"plan_name"`
	PhasesCompleted int       `json:"phases_completed"`
	TotalSecs       uint32    `json:"total_secs"`
	AvgBPM          float64   `json:"avg_bpm"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
}

// Machine is the workout-session state machine. It owns phase progression,
// elapsed accounting and zone-compliance detection. It performs no I/O;
// the executor feeds it events and relays its results.
type Machine struct {
	logger *log.Logger
	plan   plan.TrainingPlan
	cfg    Config

	mu           sync.Mutex
	status       Status
	phaseIndex   int
	phaseElapsed uint32
	totalElapsed uint32
	currentBPM   uint16
	hasSample    bool
	holdStreak   uint32
	tracker      deviationTracker

	bpmSum   float64
	bpmCount uint64

	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration
	summary     *Summary
}

// NewMachine validates the plan and its phase ordering and returns a
// machine in Ready.
func NewMachine(logger *log.Logger, p plan.TrainingPlan, cfg Config) (*Machine, error) {
	if logger == nil {
		panic("session.Machine: logger cannot be nil")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	for i := 1; i < len(p.Phases); i++ {
		prev, next := p.Phases[i-1].Kind, p.Phases[i].Kind
		if !phaseKindSuccessors[prev][next] {
			return nil, &plan.ValidationError{
				Msg: fmt.Sprintf("plan %q: phase kind %s cannot follow %s (phase %d)", p.Name, next, prev, i),
			}
		}
	}
	return &Machine{
		logger:  logger,
		plan:    p,
		cfg:     cfg,
		status:  StatusReady,
		tracker: newDeviationTracker(cfg.DeviationThreshold),
	}, nil
}

// Plan returns the immutable plan this session runs.
func (m *Machine) Plan() plan.TrainingPlan {
	return m.plan
}

// Start begins the session.
func (m *Machine) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusReady {
		return &StateError{Op: "Start", Status: m.status}
	}
	m.status = StatusRunning
	m.startedAt = time.Now()
	m.logger.Printf("Session: started plan %q (%d phases, %ds total)",
		m.plan.Name, len(m.plan.Phases), m.plan.TotalDurationSecs())
	return nil
}

// Pause suspends elapsed accrual. The pause instant is captured so paused
// time can be excluded from the wall-clock summary.
func (m *Machine) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusRunning {
		return &StateError{Op: "Pause", Status: m.status}
	}
	m.status = StatusPaused
	m.pausedAt = time.Now()
	m.logger.Printf("Session: paused at %ds", m.totalElapsed)
	return nil
}

// Resume continues a paused session.
func (m *Machine) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusPaused {
		return &StateError{Op: "Resume", Status: m.status}
	}
	m.pausedTotal += time.Since(m.pausedAt)
	m.status = StatusRunning
	m.logger.Printf("Session: resumed at %ds", m.totalElapsed)
	return nil
}

// Stop ends the session early. Terminal.
func (m *Machine) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.status {
	case StatusReady, StatusRunning, StatusPaused:
		m.status = StatusStopped
		m.logger.Printf("Session: stopped at %ds (phase %d)", m.totalElapsed, m.phaseIndex)
		return nil
	default:
		return &StateError{Op: "Stop", Status: m.status}
	}
}

// Tick advances session time by one second and applies phase-transition
// rules. Only meaningful while Running; Paused ticks are rejected so the
// executor cannot accidentally leak time into a paused session.
func (m *Machine) Tick() (TickResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusRunning {
		return TickResult{}, &StateError{Op: "Tick", Status: m.status}
	}

	m.phaseElapsed++
	m.totalElapsed++

	phase := m.plan.Phases[m.phaseIndex]
	switch phase.Transition.Kind {
	case plan.TransitionHeartRateReached:
		if m.hasSample && math.Abs(float64(m.currentBPM)-float64(phase.Transition.TargetBPM)) <= holdBandBPM {
			m.holdStreak++
		} else {
			m.holdStreak = 0
		}
		if m.holdStreak >= phase.Transition.HoldSecs && phase.Transition.HoldSecs > 0 {
			return m.advancePhaseLocked(false), nil
		}
		// Duration is a hard ceiling: a target that never holds cannot
		// stall the workout forever.
		if m.phaseElapsed >= phase.DurationSecs {
			return m.advancePhaseLocked(true), nil
		}
	default: // TransitionTimeElapsed
		if m.phaseElapsed >= phase.DurationSecs {
			return m.advancePhaseLocked(false), nil
		}
	}

	return TickResult{}, nil
}

// NextPhase force-advances to the following phase.
func (m *Machine) NextPhase() (TickResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusRunning {
		return TickResult{}, &StateError{Op: "NextPhase", Status: m.status}
	}
	return m.advancePhaseLocked(false), nil
}

// advancePhaseLocked moves to the next phase or completes the session.
// Caller must hold mu.
func (m *Machine) advancePhaseLocked(timedOut bool) TickResult {
	from := m.phaseIndex
	if timedOut {
		m.logger.Printf("Session: phase %d (%q) hit its duration ceiling, force-advancing",
			from, m.plan.Phases[from].Name)
	}

	if m.phaseIndex+1 >= len(m.plan.Phases) {
		m.status = StatusCompleted
		m.phaseIndex = len(m.plan.Phases) - 1
		m.summary = m.buildSummaryLocked(len(m.plan.Phases))
		m.logger.Printf("Session: completed plan %q after %ds", m.plan.Name, m.totalElapsed)
		return TickResult{
			PhaseChanged: false,
			FromPhase:    from,
			ToPhase:      from,
			TimedOut:     timedOut,
			Completed:    true,
		}
	}

	m.phaseIndex++
	m.phaseElapsed = 0
	m.holdStreak = 0
	m.tracker.reset()
	next := m.plan.Phases[m.phaseIndex]
	m.logger.Printf("Session: phase %d -> %d (%q, target %s)", from, m.phaseIndex, next.Name, next.TargetZone)
	return TickResult{
		PhaseChanged: true,
		FromPhase:    from,
		ToPhase:      m.phaseIndex,
		PhaseName:    next.Name,
		TimedOut:     timedOut,
	}
}

// HeartRateUpdate folds one filtered sample into zone tracking. Valid
// while Running; tolerated as a no-op while Paused because the sensor
// keeps streaming regardless.
func (m *Machine) HeartRateUpdate(fm hr.FilteredMeasurement) (UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.status {
	case StatusPaused:
		return UpdateResult{Deviation: m.tracker.current()}, nil
	case StatusRunning:
	default:
		return UpdateResult{}, &StateError{Op: "HeartRateUpdate", Status: m.status}
	}

	bpm := uint16(math.Round(fm.FilteredBPM))
	m.currentBPM = bpm
	m.hasSample = true
	m.bpmSum += fm.FilteredBPM
	m.bpmCount++

	phase := m.plan.Phases[m.phaseIndex]
	deviation, edge, err := m.tracker.update(bpm, phase.TargetZone, m.plan.MaxHR)
	if err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{Deviation: deviation, Edge: edge}, nil
}

// Summary returns the completion summary, nil unless Completed.
func (m *Machine) Summary() *Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.summary == nil {
		return nil
	}
	s := *m.summary
	return &s
}

// buildSummaryLocked assembles the completion record. Caller must hold mu.
func (m *Machine) buildSummaryLocked(phasesCompleted int) *Summary {
	avg := 0.0
	if m.bpmCount > 0 {
		avg = m.bpmSum / float64(m.bpmCount)
	}
	return &Summary{
		PlanName:        m.plan.Name,
		PhasesCompleted: phasesCompleted,
		TotalSecs:       m.totalElapsed,
		AvgBPM:          avg,
		StartedAt:       m.startedAt,
		EndedAt:         time.Now().Add(-m.pausedTotal),
	}
}

// Restore rewinds a freshly-constructed machine to a checkpointed
// position. Only valid from Ready; the restored session is Running or
// Paused as recorded.
func (m *Machine) Restore(phaseIndex int, phaseElapsed, totalElapsed uint32, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusReady {
		return &StateError{Op: "Restore", Status: m.status}
	}
	if phaseIndex < 0 || phaseIndex >= len(m.plan.Phases) {
		return &plan.ValidationError{Msg: fmt.Sprintf("checkpoint phase index %d outside plan %q", phaseIndex, m.plan.Name)}
	}
	m.phaseIndex = phaseIndex
	m.phaseElapsed = phaseElapsed
	m.totalElapsed = totalElapsed
	m.startedAt = time.Now().Add(-time.Duration(totalElapsed) * time.Second)
	if paused {
		m.status = StatusPaused
		m.pausedAt = time.Now()
	} else {
		m.status = StatusRunning
	}
	m.logger.Printf("Session: restored plan %q at phase %d, %ds elapsed (paused=%v)",
		m.plan.Name, phaseIndex, totalElapsed, paused)
	return nil
}
