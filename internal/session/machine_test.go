package session

import (
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsecoach/pulse-coach-app/internal/hr"
	"github.com/pulsecoach/pulse-coach-app/internal/plan"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "test: ", log.LstdFlags)
}

// twoPhasePlan is warmup 300s Zone2 then main 600s Zone3, maxHR 200.
func twoPhasePlan() plan.TrainingPlan {
	return plan.TrainingPlan{
		Name:  "Warmup Main",
		MaxHR: 200,
		Phases: []plan.Phase{
			{
				Name:         "Warmup",
				Kind:         plan.PhaseWarmUp,
				TargetZone:   plan.Zone2,
				DurationSecs: 300,
				Transition:   plan.Transition{Kind: plan.TransitionTimeElapsed},
			},
			{
				Name:         "Main",
				Kind:         plan.PhaseWork,
				TargetZone:   plan.Zone3,
				DurationSecs: 600,
				Transition:   plan.Transition{Kind: plan.TransitionTimeElapsed},
			},
		},
	}
}

func newRunning(t *testing.T, p plan.TrainingPlan, cfg Config) *Machine {
	t.Helper()
	m, err := NewMachine(testLogger(), p, cfg)
	require.NoError(t, err)
	require.NoError(t, m.Start())
	return m
}

func sample(bpm float64) hr.FilteredMeasurement {
	return hr.FilteredMeasurement{
		RawBPM:      uint16(bpm),
		FilteredBPM: bpm,
		ReceivedAt:  time.Now(),
	}
}

func TestMachineRejectsInvalidPlan(t *testing.T) {
	p := twoPhasePlan()
	p.Phases = nil
	_, err := NewMachine(testLogger(), p, Config{})
	var verr *plan.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestMachineRejectsInvalidPhaseOrdering(t *testing.T) {
	p := twoPhasePlan()
	// A workout cannot warm up after cooling down.
	p.Phases[0].Kind = plan.PhaseCoolDown
	p.Phases[1].Kind = plan.PhaseWork
	_, err := NewMachine(testLogger(), p, Config{})
	var verr *plan.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "cannot follow")
}

func TestMachineLifecycleGuards(t *testing.T) {
	m, err := NewMachine(testLogger(), twoPhasePlan(), Config{})
	require.NoError(t, err)

	var serr *StateError
	_, err = m.Tick()
	assert.ErrorAs(t, err, &serr)
	assert.ErrorAs(t, m.Pause(), &serr)
	assert.ErrorAs(t, m.Resume(), &serr)
	_, err = m.HeartRateUpdate(sample(140))
	assert.ErrorAs(t, err, &serr)

	require.NoError(t, m.Start())
	assert.ErrorAs(t, m.Start(), &serr)
	assert.ErrorAs(t, m.Resume(), &serr)

	require.NoError(t, m.Pause())
	_, err = m.Tick()
	assert.ErrorAs(t, err, &serr, "paused sessions must not accrue time")

	require.NoError(t, m.Resume())
	require.NoError(t, m.Stop())
	assert.ErrorAs(t, m.Stop(), &serr)
	_, err = m.Tick()
	assert.ErrorAs(t, err, &serr)
}

func TestMachinePhaseTransitionExactlyOnce(t *testing.T) {
	m := newRunning(t, twoPhasePlan(), Config{})

	transitions := 0
	for i := 0; i < 300; i++ {
		res, err := m.Tick()
		require.NoError(t, err)
		if res.PhaseChanged {
			transitions++
			assert.Equal(t, 0, res.FromPhase)
			assert.Equal(t, 1, res.ToPhase)
			assert.Equal(t, "Main", res.PhaseName)
		}
	}

	require.Equal(t, 1, transitions, "exactly one transition after 300 ticks")
	p := m.Progress()
	assert.Equal(t, 1, p.PhaseIndex)
	assert.Equal(t, uint32(0), p.PhaseElapsedSecs, "new phase starts at zero")
	assert.Equal(t, uint32(300), p.TotalElapsedSecs)
}

func TestMachineCompletesAfterAllPhases(t *testing.T) {
	m := newRunning(t, twoPhasePlan(), Config{})
	_, err := m.HeartRateUpdate(sample(150))
	require.NoError(t, err)

	var completed bool
	for i := 0; i < 900; i++ {
		res, err := m.Tick()
		require.NoError(t, err)
		if res.Completed {
			completed = true
			break
		}
	}
	require.True(t, completed)

	p := m.Progress()
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, uint32(0), p.TotalRemainingSecs)

	s := m.Summary()
	require.NotNil(t, s)
	assert.Equal(t, "Warmup Main", s.PlanName)
	assert.Equal(t, 2, s.PhasesCompleted)
	assert.Equal(t, uint32(900), s.TotalSecs)
	assert.InDelta(t, 150.0, s.AvgBPM, 0.5)

	// Terminal: nothing else is accepted.
	var serr *StateError
	_, err = m.Tick()
	assert.ErrorAs(t, err, &serr)
	assert.ErrorAs(t, m.Stop(), &serr)
}

func TestMachineZoneDeviationEdges(t *testing.T) {
	m := newRunning(t, twoPhasePlan(), Config{DeviationThreshold: 5})

	// Move into the Main phase (target Zone3: 140-160 for maxHR 200).
	for i := 0; i < 300; i++ {
		_, err := m.Tick()
		require.NoError(t, err)
	}

	edges := []Deviation{}
	feed := func(bpm float64, n int) {
		for i := 0; i < n; i++ {
			res, err := m.HeartRateUpdate(sample(bpm))
			require.NoError(t, err)
			if res.Edge {
				edges = append(edges, res.Deviation)
			}
		}
	}

	feed(150, 10) // in zone: silence
	feed(170, 12) // above the band: one TooHigh once the streak holds
	feed(150, 10) // back in: one BackInZone
	feed(170, 3)  // short blip below the threshold: silence
	feed(150, 5)

	assert.Equal(t, []Deviation{DeviationTooHigh, DeviationBackInZone}, edges,
		"exactly one TooHigh and one BackInZone per excursion")
}

func TestMachineTooLowDeviation(t *testing.T) {
	m := newRunning(t, twoPhasePlan(), Config{DeviationThreshold: 3})

	// Warmup targets Zone2 (120-140).
	edges := 0
	for i := 0; i < 6; i++ {
		res, err := m.HeartRateUpdate(sample(100))
		require.NoError(t, err)
		if res.Edge {
			edges++
			assert.Equal(t, DeviationTooLow, res.Deviation)
		}
	}
	assert.Equal(t, 1, edges)
}

func TestMachineDeviationResetsAcrossPhases(t *testing.T) {
	m := newRunning(t, twoPhasePlan(), Config{DeviationThreshold: 3})

	// Sit above Zone2 long enough to be TooHigh during the warmup.
	for i := 0; i < 5; i++ {
		_, err := m.HeartRateUpdate(sample(150))
		require.NoError(t, err)
	}
	require.Equal(t, StatusTooHigh, m.Progress().ZoneStatus)

	for i := 0; i < 300; i++ {
		_, err := m.Tick()
		require.NoError(t, err)
	}

	// 150 is inside the new phase's Zone3; no BackInZone edge may fire
	// because the tracker was reset with the phase change.
	res, err := m.HeartRateUpdate(sample(150))
	require.NoError(t, err)
	assert.False(t, res.Edge)
	assert.Equal(t, DeviationInZone, res.Deviation)
}

func heartRateHoldPlan(holdSecs uint32) plan.TrainingPlan {
	return plan.TrainingPlan{
		Name:  "Ramp",
		MaxHR: 200,
		Phases: []plan.Phase{
			{
				Name:         "Ramp To Target",
				Kind:         plan.PhaseWork,
				TargetZone:   plan.Zone3,
				DurationSecs: 60,
				Transition: plan.Transition{
					Kind:      plan.TransitionHeartRateReached,
					TargetBPM: 150,
					HoldSecs:  holdSecs,
				},
			},
			{
				Name:         "Cruise",
				Kind:         plan.PhaseWork,
				TargetZone:   plan.Zone3,
				DurationSecs: 120,
				Transition:   plan.Transition{Kind: plan.TransitionTimeElapsed},
			},
		},
	}
}

func TestMachineHeartRateReachedAdvancesAfterHold(t *testing.T) {
	m := newRunning(t, heartRateHoldPlan(5), Config{})

	_, err := m.HeartRateUpdate(sample(151))
	require.NoError(t, err)

	var advanced *TickResult
	ticks := 0
	for i := 0; i < 60 && advanced == nil; i++ {
		res, err := m.Tick()
		require.NoError(t, err)
		ticks++
		if res.PhaseChanged {
			advanced = &res
		}
	}

	require.NotNil(t, advanced)
	assert.False(t, advanced.TimedOut)
	assert.Equal(t, 5, ticks, "advances as soon as the hold is satisfied")
	assert.Equal(t, "Cruise", advanced.PhaseName)
}

func TestMachineHeartRateReachedHoldResetsWhenOutOfBand(t *testing.T) {
	m := newRunning(t, heartRateHoldPlan(3), Config{})

	// Two seconds near the target, then a drop resets the hold.
	_, err := m.HeartRateUpdate(sample(150))
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		res, err := m.Tick()
		require.NoError(t, err)
		require.False(t, res.PhaseChanged)
	}
	_, err = m.HeartRateUpdate(sample(130))
	require.NoError(t, err)
	res, err := m.Tick()
	require.NoError(t, err)
	require.False(t, res.PhaseChanged)

	// Back on target: a fresh three-second hold is required.
	_, err = m.HeartRateUpdate(sample(150))
	require.NoError(t, err)
	changed := false
	for i := 0; i < 3; i++ {
		res, err = m.Tick()
		require.NoError(t, err)
		changed = res.PhaseChanged
	}
	assert.True(t, changed)
}

func TestMachineHeartRateReachedTimesOutAtDurationCeiling(t *testing.T) {
	m := newRunning(t, heartRateHoldPlan(10), Config{})

	// Heart rate never reaches the target.
	_, err := m.HeartRateUpdate(sample(120))
	require.NoError(t, err)

	var result *TickResult
	for i := 0; i < 60; i++ {
		res, err := m.Tick()
		require.NoError(t, err)
		if res.PhaseChanged {
			result = &res
			break
		}
	}

	require.NotNil(t, result)
	assert.True(t, result.TimedOut, "duration ceiling force-advances")
	assert.Equal(t, 1, result.ToPhase)
}

func TestMachineNextPhaseForceAdvances(t *testing.T) {
	m := newRunning(t, twoPhasePlan(), Config{})

	res, err := m.NextPhase()
	require.NoError(t, err)
	assert.True(t, res.PhaseChanged)
	assert.Equal(t, 1, m.Progress().PhaseIndex)

	res, err = m.NextPhase()
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, StatusCompleted, m.Progress().Status)
}

func TestMachinePausedUpdatesAreBenign(t *testing.T) {
	m := newRunning(t, twoPhasePlan(), Config{})
	require.NoError(t, m.Pause())

	res, err := m.HeartRateUpdate(sample(150))
	require.NoError(t, err)
	assert.False(t, res.Edge)
	assert.Equal(t, StatusPaused, m.Progress().Status)
}

func TestMachineRestore(t *testing.T) {
	m, err := NewMachine(testLogger(), twoPhasePlan(), Config{})
	require.NoError(t, err)

	require.NoError(t, m.Restore(1, 42, 342, false))
	p := m.Progress()
	assert.Equal(t, StatusRunning, p.Status)
	assert.Equal(t, 1, p.PhaseIndex)
	assert.Equal(t, uint32(42), p.PhaseElapsedSecs)
	assert.Equal(t, uint32(342), p.TotalElapsedSecs)

	// Restore is only valid on a fresh machine.
	var serr *StateError
	assert.ErrorAs(t, m.Restore(0, 0, 0, false), &serr)
}

func TestMachineRestoreRejectsBadPhaseIndex(t *testing.T) {
	m, err := NewMachine(testLogger(), twoPhasePlan(), Config{})
	require.NoError(t, err)
	var verr *plan.ValidationError
	assert.ErrorAs(t, m.Restore(7, 0, 0, false), &verr)
}
