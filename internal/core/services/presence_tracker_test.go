package services

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceTracker_Defaults(t *testing.T) {
	p := NewPresenceTracker(0)
	assert.Equal(t, 30*time.Second, p.Interval())
	assert.Equal(t, 60*time.Second, p.Timeout())
}

func TestPresenceTracker_ExpiresAfterTwoIntervals(t *testing.T) {
	p := NewPresenceTracker(20 * time.Millisecond)

	expired := make(chan time.Time, 1)
	start := time.Now()
	p.Track("a", func() { expired <- time.Now() })

	select {
	case at := <-expired:
		assert.GreaterOrEqual(t, at.Sub(start), 40*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("connection was never expired")
	}
	assert.Equal(t, 0, p.Len())
	_, ok := p.LastSeen("a")
	assert.False(t, ok)
}

func TestPresenceTracker_TouchPostponesExpiry(t *testing.T) {
	p := NewPresenceTracker(20 * time.Millisecond)

	var fired atomic.Int32
	p.Track("a", func() { fired.Add(1) })

	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		p.Touch("a")
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, int32(0), fired.Load(), "touched connection expired")

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load(), "expiry callback ran more than once")
}

func TestPresenceTracker_ForgetCancelsExpiry(t *testing.T) {
	p := NewPresenceTracker(10 * time.Millisecond)

	var fired atomic.Bool
	p.Track("a", func() { fired.Store(true) })
	p.Forget("a")

	time.Sleep(60 * time.Millisecond)
	assert.False(t, fired.Load())
	assert.Equal(t, 0, p.Len())

	// touching or forgetting unknown connections is harmless
	p.Touch("a")
	p.Forget("a")
}

func TestPresenceTracker_RetrackReplacesCallback(t *testing.T) {
	p := NewPresenceTracker(10 * time.Millisecond)

	var first, second atomic.Bool
	p.Track("a", func() { first.Store(true) })
	p.Track("a", func() { second.Store(true) })

	require.Eventually(t, second.Load, time.Second, 5*time.Millisecond)
	assert.False(t, first.Load())
}

func TestPresenceTracker_LastSeenAdvancesOnTouch(t *testing.T) {
	p := NewPresenceTracker(time.Minute)
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	p.Track("a", nil)
	seen, ok := p.LastSeen("a")
	require.True(t, ok)
	assert.Equal(t, now, seen)

	now = now.Add(5 * time.Second)
	p.Touch("a")
	seen, _ = p.LastSeen("a")
	assert.Equal(t, now, seen)

	p.Forget("a")
}
