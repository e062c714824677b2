package link

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultBackoffSchedule(t *testing.T) {
	p := DefaultBackoffPolicy()
	assert.Equal(t, 5*time.Second, p.DelayFor(1))
	assert.Equal(t, 10*time.Second, p.DelayFor(2))
	assert.Equal(t, 20*time.Second, p.DelayFor(3))
}

func TestBackoffClampsOutOfRangeAttempts(t *testing.T) {
	p := DefaultBackoffPolicy()
	assert.Equal(t, p.DelayFor(1), p.DelayFor(0))
	assert.Equal(t, p.DelayFor(3), p.DelayFor(4))
	assert.Equal(t, p.DelayFor(3), p.DelayFor(99))
}

func TestLinkErrorKinds(t *testing.T) {
	unreachable := Unreachable("connect", assert.AnError)
	assert.True(t, IsUnreachable(unreachable))
	assert.False(t, IsUnsupported(unreachable))
	assert.Contains(t, unreachable.Error(), "connect")
	assert.ErrorIs(t, unreachable, assert.AnError)

	unsupported := Unsupported("read battery", nil)
	assert.True(t, IsUnsupported(unsupported))
	assert.False(t, IsUnreachable(unsupported))

	assert.False(t, IsUnreachable(assert.AnError))
}
