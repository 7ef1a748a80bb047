package ratelimit

import (
	"testing"
	"time"

	"github.com/amoylab/hostlink/internal/common/config"
	"github.com/amoylab/hostlink/internal/common/errorx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestBurstOverMaxCloses(t *testing.T) {
	clock := newClock()
	w := NewWindow(config.LimitConfig{MaxPerSecond: 10, AlertPerSecond: 5, WindowSeconds: 60, AlertWindowsAllowed: 30}, WithClock(clock.Now))

	for i := 0; i < 10; i++ {
		require.NoError(t, w.Record())
	}
	err := w.Record()
	assert.ErrorIs(t, err, errorx.ErrRateLimitExceeded)
}

func TestCounterResetsEachSecond(t *testing.T) {
	clock := newClock()
	w := NewWindow(config.LimitConfig{MaxPerSecond: 10, AlertPerSecond: 10, WindowSeconds: 60, AlertWindowsAllowed: 30}, WithClock(clock.Now))

	for s := 0; s < 5; s++ {
		for i := 0; i < 10; i++ {
			require.NoError(t, w.Record())
		}
		clock.Advance(time.Second)
	}
}

func TestSustainedNearLimitCloses(t *testing.T) {
	clock := newClock()
	limits := config.LimitConfig{MaxPerSecond: 10, AlertPerSecond: 5, WindowSeconds: 10, AlertWindowsAllowed: 3}
	w := NewWindow(limits, WithClock(clock.Now))

	// alternate busy seconds (8, over alert, under max) with quiet ones
	var err error
	busy := 0
	for s := 0; s < 20 && err == nil; s++ {
		n := 1
		if s%2 == 0 {
			n = 8
			busy++
		}
		for i := 0; i < n && err == nil; i++ {
			err = w.Record()
		}
		clock.Advance(time.Second)
	}
	require.ErrorIs(t, err, errorx.ErrRateLimitExceeded)
	assert.Equal(t, limits.AlertWindowsAllowed+1, busy)
}

func TestAlertWindowsAgeOut(t *testing.T) {
	clock := newClock()
	w := NewWindow(config.LimitConfig{MaxPerSecond: 10, AlertPerSecond: 5, WindowSeconds: 5, AlertWindowsAllowed: 2}, WithClock(clock.Now))

	// two busy seconds, then a long gap clears the ring
	for s := 0; s < 2; s++ {
		for i := 0; i < 6; i++ {
			require.NoError(t, w.Record())
		}
		clock.Advance(time.Second)
	}
	clock.Advance(time.Minute)
	for s := 0; s < 2; s++ {
		for i := 0; i < 6; i++ {
			require.NoError(t, w.Record())
		}
		clock.Advance(time.Second)
	}
}
