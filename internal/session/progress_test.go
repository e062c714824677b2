package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsecoach/pulse-coach-app/internal/plan"
)

func TestProgressSnapshot(t *testing.T) {
	m := newRunning(t, twoPhasePlan(), Config{})

	for i := 0; i < 100; i++ {
		_, err := m.Tick()
		require.NoError(t, err)
	}
	_, err := m.HeartRateUpdate(sample(128))
	require.NoError(t, err)

	p := m.Progress()
	assert.Equal(t, StatusRunning, p.Status)
	assert.Equal(t, 0, p.PhaseIndex)
	assert.Equal(t, "Warmup", p.PhaseName)
	assert.Equal(t, plan.Zone2, p.TargetZone)
	assert.Equal(t, uint32(100), p.PhaseElapsedSecs)
	assert.Equal(t, uint32(200), p.PhaseRemainingSecs)
	assert.Equal(t, uint32(100), p.TotalElapsedSecs)
	assert.Equal(t, uint32(800), p.TotalRemainingSecs)
	assert.Equal(t, uint16(128), p.CurrentBPM)
	assert.Equal(t, StatusInZone, p.ZoneStatus)
}

func TestProgressFractions(t *testing.T) {
	p := Progress{
		PhaseElapsedSecs:   100,
		PhaseRemainingSecs: 200,
		TotalElapsedSecs:   300,
		TotalRemainingSecs: 600,
	}
	assert.InDelta(t, 1.0/3.0, p.PhaseFraction(), 0.001)
	assert.InDelta(t, 1.0/3.0, p.Fraction(), 0.001)

	var zero Progress
	assert.Equal(t, 0.0, zero.Fraction())
	assert.Equal(t, 0.0, zero.PhaseFraction())
}
