package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsecoach/pulse-coach-app/internal/plan"
)

func TestTrackerEmitsSingleEdgePerExcursion(t *testing.T) {
	tr := newDeviationTracker(3)

	edges := 0
	// Zone3 for maxHR 200 is [140, 160).
	for i := 0; i < 10; i++ {
		_, edge, err := tr.update(170, plan.Zone3, 200)
		require.NoError(t, err)
		if edge {
			edges++
		}
	}
	assert.Equal(t, 1, edges)

	dev, edge, err := tr.update(150, plan.Zone3, 200)
	require.NoError(t, err)
	assert.True(t, edge)
	assert.Equal(t, DeviationBackInZone, dev)
}

func TestTrackerShortBlipIsSilent(t *testing.T) {
	tr := newDeviationTracker(5)

	for i := 0; i < 4; i++ {
		_, edge, err := tr.update(170, plan.Zone3, 200)
		require.NoError(t, err)
		assert.False(t, edge)
	}
	// Back in zone before the streak held: no BackInZone either, since no
	// deviation was ever reported.
	dev, edge, err := tr.update(150, plan.Zone3, 200)
	require.NoError(t, err)
	assert.False(t, edge)
	assert.Equal(t, DeviationInZone, dev)
}

func TestTrackerOppositeExcursionResetsStreak(t *testing.T) {
	tr := newDeviationTracker(4)

	for i := 0; i < 3; i++ {
		_, edge, _ := tr.update(170, plan.Zone3, 200)
		require.False(t, edge)
	}
	// Swinging low restarts the count; no alert from mixed streaks.
	for i := 0; i < 3; i++ {
		_, edge, _ := tr.update(120, plan.Zone3, 200)
		require.False(t, edge)
	}
	dev, edge, err := tr.update(120, plan.Zone3, 200)
	require.NoError(t, err)
	assert.True(t, edge)
	assert.Equal(t, DeviationTooLow, dev)
}

func TestTrackerZone5HasNoUpperExcursion(t *testing.T) {
	tr := newDeviationTracker(2)

	// maxHR 200, Zone5 is 180 and up: there is nothing above it.
	for i := 0; i < 10; i++ {
		dev, edge, err := tr.update(210, plan.Zone5, 200)
		require.NoError(t, err)
		assert.False(t, edge)
		assert.Equal(t, DeviationInZone, dev)
	}

	_, edge, _ := tr.update(150, plan.Zone5, 200)
	assert.False(t, edge)
	dev, edge, err := tr.update(150, plan.Zone5, 200)
	require.NoError(t, err)
	assert.True(t, edge)
	assert.Equal(t, DeviationTooLow, dev)
}

func TestTrackerInvalidMaxHR(t *testing.T) {
	tr := newDeviationTracker(3)
	_, _, err := tr.update(150, plan.Zone3, 50)
	var verr *plan.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestTrackerReset(t *testing.T) {
	tr := newDeviationTracker(2)
	tr.update(170, plan.Zone3, 200)
	tr.update(170, plan.Zone3, 200)
	require.Equal(t, StatusTooHigh, tr.status)

	tr.reset()
	assert.Equal(t, StatusInZone, tr.status)
	dev, edge, _ := tr.update(150, plan.Zone3, 200)
	assert.False(t, edge)
	assert.Equal(t, DeviationInZone, dev)
}
