package hr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKalmanConvergesOnConstantInput(t *testing.T) {
	f := NewKalmanFilter()

	var estimate float64
	prevVariance := f.Variance()
	for i := 0; i < 50; i++ {
		estimate = f.Update(140)
		v := f.Variance()
		require.Less(t, v, prevVariance, "variance must strictly decrease (sample %d)", i)
		prevVariance = v
	}

	assert.InDelta(t, 140.0, estimate, 1.0)
}

func TestKalmanSmoothsNoise(t *testing.T) {
	f := NewKalmanFilter()

	// Alternate around 150; the filtered stream should sit close to the
	// mean after settling.
	inputs := []float64{150, 155, 145, 152, 148, 151, 149, 153, 147, 150}
	var last float64
	for _, in := range inputs {
		last = f.Update(in)
	}
	assert.InDelta(t, 150.0, last, 3.0)
}

func TestKalmanToleratesNonFiniteInput(t *testing.T) {
	f := NewKalmanFilter()
	f.Update(140)
	before := f.Estimate()

	got := f.Update(math.NaN())
	assert.Equal(t, before, got)
	assert.Equal(t, before, f.Estimate())

	got = f.Update(math.Inf(1))
	assert.Equal(t, before, got)
}

func TestKalmanClampsImplausibleInput(t *testing.T) {
	f := NewKalmanFilter()

	out := f.Update(10000)
	assert.LessOrEqual(t, out, 230.0)
	assert.False(t, math.IsNaN(out))

	out = f.Update(-500)
	assert.GreaterOrEqual(t, out, 30.0)
}

func TestKalmanReset(t *testing.T) {
	f := NewKalmanFilter()
	for i := 0; i < 20; i++ {
		f.Update(180)
	}
	require.InDelta(t, 180.0, f.Estimate(), 2.0)

	f.Reset()
	assert.InDelta(t, 70.0, f.Estimate(), 0.001)
	assert.Greater(t, f.Variance(), 50.0)
}

func TestKalmanRejectsBadNoiseParameters(t *testing.T) {
	assert.Panics(t, func() { NewKalmanFilterWithNoise(0, 2.0) })
	assert.Panics(t, func() { NewKalmanFilterWithNoise(0.1, -1) })
}
