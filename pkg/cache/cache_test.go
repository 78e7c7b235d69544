package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T, ttl time.Duration) (*Cache[string], *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := New[string](ttl).WithClock(clock.Now)
	t.Cleanup(c.Stop)
	return c, clock
}

func TestCache_Expiry(t *testing.T) {
	c, clock := newTestCache(t, time.Second)

	c.Set("room:lobby", "a")
	v, ok := c.Get("room:lobby")
	require.True(t, ok)
	assert.Equal(t, "a", v)
	assert.Equal(t, 1, c.Len())

	clock.Advance(time.Second)
	_, ok = c.Get("room:lobby")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())

	c.sweep()
	c.mu.RLock()
	assert.Empty(t, c.items)
	c.mu.RUnlock()
}

func TestCache_DeletePrefix(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)

	c.Set("room:a", "1")
	c.Set("room:b", "2")
	c.Set("rooms", "all")
	c.DeletePrefix("room:")

	_, ok := c.Get("room:a")
	assert.False(t, ok)
	_, ok = c.Get("rooms")
	assert.True(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestCache_GetOrLoad(t *testing.T) {
	c, clock := newTestCache(t, time.Second)
	ctx := context.Background()

	var calls atomic.Int32
	loader := func(context.Context) (string, error) {
		calls.Add(1)
		return "loaded", nil
	}

	v, err := c.GetOrLoad(ctx, "k", loader)
	require.NoError(t, err)
	assert.Equal(t, "loaded", v)

	_, err = c.GetOrLoad(ctx, "k", loader)
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())

	clock.Advance(2 * time.Second)
	_, err = c.GetOrLoad(ctx, "k", loader)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestCache_GetOrLoadDoesNotCacheErrors(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	boom := errors.New("backend down")

	_, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCache_GetOrLoadSharesInflightCall(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	release := make(chan struct{})
	var calls atomic.Int32

	var wg sync.WaitGroup
	results := make([]string, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (string, error) {
				calls.Add(1)
				<-release
				return "v", nil
			})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, v := range results {
		assert.Equal(t, "v", v)
	}
}
