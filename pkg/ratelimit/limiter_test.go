package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierr "github.com/shelfwise/books-api/pkg/errors"
)

// testClock is a manually advanced clock for deterministic refill tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, capacity, rate float64) (*Limiter, *testClock) {
	t.Helper()
	clock := newTestClock()
	l, err := New(Config{Capacity: capacity, RefillRate: rate, Clock: clock.Now})
	require.NoError(t, err)
	return l, clock
}

func TestNew_ConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero capacity", Config{Capacity: 0, RefillRate: 1}},
		{"capacity below one", Config{Capacity: 0.5, RefillRate: 1}},
		{"zero rate", Config{Capacity: 10, RefillRate: 0}},
		{"negative rate", Config{Capacity: 10, RefillRate: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.Error(t, err)
			assert.Equal(t, apierr.CodeValidation, apierr.GetCode(err))
		})
	}
}

func TestAllow_FreshKeyStartsWithFullBucket(t *testing.T) {
	l, _ := newTestLimiter(t, 5, 1)

	for i := range 5 {
		d := l.Allow("client-a")
		assert.True(t, d.Allowed, "request %d should be admitted", i+1)
		assert.Equal(t, 4-i, d.Remaining)
	}

	d := l.Allow("client-a")
	assert.False(t, d.Allowed, "request 6 must be rejected")
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, time.Second, d.RetryAfter)
}

func TestAllow_RefillAdmitsExactlyOne(t *testing.T) {
	l, clock := newTestLimiter(t, 5, 1)

	for range 5 {
		require.True(t, l.Allow("client-a").Allowed)
	}
	require.False(t, l.Allow("client-a").Allowed)

	// One refill interval credits exactly one token.
	clock.Advance(time.Second)
	assert.True(t, l.Allow("client-a").Allowed)
	assert.False(t, l.Allow("client-a").Allowed)
}

func TestAllow_RejectionConsumesNothing(t *testing.T) {
	l, clock := newTestLimiter(t, 2, 1)

	require.True(t, l.Allow("client-a").Allowed)
	require.True(t, l.Allow("client-a").Allowed)

	// Hammering while empty must not push the bucket below zero or delay
	// the next refill.
	for range 10 {
		require.False(t, l.Allow("client-a").Allowed)
	}

	clock.Advance(time.Second)
	assert.True(t, l.Allow("client-a").Allowed)
}

func TestAllow_RefillClampedAtCapacity(t *testing.T) {
	l, clock := newTestLimiter(t, 3, 1)

	require.True(t, l.Allow("client-a").Allowed)

	// A long idle period refills to capacity, never beyond.
	clock.Advance(time.Hour)
	for i := range 3 {
		assert.True(t, l.Allow("client-a").Allowed, "request %d", i+1)
	}
	assert.False(t, l.Allow("client-a").Allowed)
}

func TestAllow_FractionalRefillAccumulates(t *testing.T) {
	// 0.5 tokens/sec: one admission every two seconds.
	l, clock := newTestLimiter(t, 1, 0.5)

	require.True(t, l.Allow("client-a").Allowed)

	clock.Advance(time.Second)
	d := l.Allow("client-a")
	require.False(t, d.Allowed, "half a token is not a token")
	assert.Equal(t, time.Second, d.RetryAfter)

	clock.Advance(time.Second)
	assert.True(t, l.Allow("client-a").Allowed)
}

func TestAllow_RetryAfterRoundsUp(t *testing.T) {
	// Rate 0.25: an empty bucket needs 4 seconds for a full token.
	l, _ := newTestLimiter(t, 1, 0.25)

	require.True(t, l.Allow("client-a").Allowed)
	d := l.Allow("client-a")
	require.False(t, d.Allowed)
	assert.Equal(t, 4*time.Second, d.RetryAfter)
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, 2, 1)

	require.True(t, l.Allow("client-a").Allowed)
	require.True(t, l.Allow("client-a").Allowed)
	require.False(t, l.Allow("client-a").Allowed)

	// Exhausting client-a leaves client-b untouched.
	assert.True(t, l.Allow("client-b").Allowed)
	assert.Equal(t, 2, l.KeyCount())
}

func TestAllow_ClockStepBackwardsDoesNotDrain(t *testing.T) {
	l, clock := newTestLimiter(t, 5, 1)

	require.True(t, l.Allow("client-a").Allowed)
	clock.Advance(-time.Hour)

	// Negative elapsed time credits nothing but must not corrupt state.
	d := l.Allow("client-a")
	assert.True(t, d.Allowed)
	assert.Equal(t, 3, d.Remaining)
}

func TestPeek_DoesNotConsume(t *testing.T) {
	l, _ := newTestLimiter(t, 2, 1)

	for range 5 {
		d := l.Peek("client-a")
		assert.True(t, d.Allowed)
		assert.Equal(t, 2, d.Remaining)
	}

	require.True(t, l.Allow("client-a").Allowed)
	require.True(t, l.Allow("client-a").Allowed)

	d := l.Peek("client-a")
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.RetryAfter)
}

func TestAllow_ConcurrentCallersNeverOverAdmit(t *testing.T) {
	l, _ := newTestLimiter(t, 100, 0.001)

	const callers = 50
	const perCaller = 10

	var admitted int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for c := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("client-%d", c%3)
			for range perCaller {
				if l.Allow(key).Allowed {
					mu.Lock()
					admitted++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	// Three keys, 100-token buckets, negligible refill: at most 300 total.
	assert.LessOrEqual(t, admitted, int64(300))
	assert.Equal(t, 3, l.KeyCount())
}
