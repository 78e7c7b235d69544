package reliability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/infrastructure/repositories/memory"
	"roomsignal/pkg/circuitbreaker"
	"roomsignal/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUnavailable = errors.New("directory unavailable")

// flakyDirectory fails the first failures calls to AddMember.
type flakyDirectory struct {
	*memory.MemoryRoomDirectory

	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyDirectory) AddMember(ctx context.Context, id domain.RoomID, conn domain.ConnectionID) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return errUnavailable
	}
	return f.MemoryRoomDirectory.AddMember(ctx, id, conn)
}

func newFlaky(failures int) *flakyDirectory {
	return &flakyDirectory{
		MemoryRoomDirectory: memory.NewMemoryRoomDirectory().(*memory.MemoryRoomDirectory),
		failures:            failures,
	}
}

func testRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestDirectoryWrapper_RetriesTransientWriteFailures(t *testing.T) {
	ctx := context.Background()
	dir := newFlaky(2)
	w := NewDirectoryWrapper(dir, testRetry(), circuitbreaker.Config{FailureThreshold: 10, Timeout: time.Minute}, nil)

	require.NoError(t, w.AddMember(ctx, "lobby", "a"))
	assert.Equal(t, 3, dir.calls)

	rec, err := w.Get(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, []domain.ConnectionID{"a"}, rec.Members)
}

func TestDirectoryWrapper_BreakerOpensAndFailsFast(t *testing.T) {
	ctx := context.Background()
	dir := newFlaky(100)
	w := NewDirectoryWrapper(dir, testRetry(), circuitbreaker.Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute}, nil)

	err := w.AddMember(ctx, "lobby", "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, circuitbreaker.StateOpen, w.Breaker().State())
	assert.Equal(t, 2, dir.calls, "open breaker must stop retries reaching the backend")

	_, err = w.List(ctx)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.NoError(t, w.HealthCheck(ctx))
}

func TestDirectoryWrapper_NotFoundIsNotAFailure(t *testing.T) {
	ctx := context.Background()
	w := NewDirectoryWrapper(newFlaky(0), testRetry(), circuitbreaker.Config{FailureThreshold: 1, Timeout: time.Minute}, nil)

	for i := 0; i < 3; i++ {
		_, err := w.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	}
	assert.Equal(t, circuitbreaker.StateClosed, w.Breaker().State())
}
