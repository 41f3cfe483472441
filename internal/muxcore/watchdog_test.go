package muxcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWatchdogDefaultsIntervalWhenNonPositive(t *testing.T) {
	w := NewWatchdog(0)
	assert.Equal(t, 5*time.Second, w.Interval)
}

func TestWatchdogDueImmediatelyBeforeFirstReset(t *testing.T) {
	w := NewWatchdog(time.Hour)
	assert.True(t, w.Due())
	assert.Equal(t, time.Duration(0), w.Remaining())
}

func TestWatchdogNotDueUntilIntervalElapses(t *testing.T) {
	w := NewWatchdog(50 * time.Millisecond)
	w.Reset()

	assert.False(t, w.Due())
	assert.Greater(t, w.Remaining(), time.Duration(0))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, w.Due())
	assert.Equal(t, time.Duration(0), w.Remaining())
}

func TestWatchdogResetRearmsInterval(t *testing.T) {
	w := NewWatchdog(30 * time.Millisecond)
	w.Reset()
	time.Sleep(40 * time.Millisecond)
	assert.True(t, w.Due())

	w.Reset()
	assert.False(t, w.Due())
}
