package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsecoach/pulse-coach-app/internal/notify"
)

func TestScheduleFireEmitsWorkoutReady(t *testing.T) {
	rec := notify.NewRecorder()
	s := NewSchedule(testLogger(), rec, time.Minute)

	s.fire("Tempo Run")

	ready := rec.ByType(notify.TypeWorkoutReady)
	require.Len(t, ready, 1)
	assert.Equal(t, "Tempo Run", ready[0].PlanName)

	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "Tempo Run", pending[0].PlanName)
	assert.NotEmpty(t, pending[0].ID)
}

func TestScheduleConfirmClaimsPending(t *testing.T) {
	s := NewSchedule(testLogger(), notify.NewRecorder(), time.Minute)
	s.fire("Tempo Run")

	p, ok := s.Confirm("Tempo Run")
	require.True(t, ok)
	assert.Equal(t, "Tempo Run", p.PlanName)

	_, ok = s.Confirm("Tempo Run")
	assert.False(t, ok, "a pending entry can only be claimed once")
	assert.Empty(t, s.Pending())
}

func TestScheduleExpiryMarksSkipped(t *testing.T) {
	s := NewSchedule(testLogger(), notify.NewRecorder(), time.Minute)

	now := time.Now()
	s.now = func() time.Time { return now }
	s.fire("Tempo Run")
	require.Len(t, s.Pending(), 1)

	// Past the grace window the entry is gone and counted skipped.
	s.now = func() time.Time { return now.Add(time.Minute + time.Second) }
	_, ok := s.Confirm("Tempo Run")
	assert.False(t, ok)
	assert.Empty(t, s.Pending())
	assert.Equal(t, 1, s.SkippedCount())
}

func TestScheduleConfirmUnknownPlan(t *testing.T) {
	s := NewSchedule(testLogger(), notify.NewRecorder(), time.Minute)
	_, ok := s.Confirm("Nothing Scheduled")
	assert.False(t, ok)
}

func TestScheduleAddValidation(t *testing.T) {
	s := NewSchedule(testLogger(), notify.NewRecorder(), time.Minute)

	assert.Error(t, s.Add("0 0 6 * * 1", ""))
	assert.Error(t, s.Add("not a cron spec", "Tempo Run"))
	assert.NoError(t, s.Add("0 0 6 * * 1", "Tempo Run"))
}
