package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T, limits Limits, now time.Time) *Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	l := New(client, limits)
	l.now = func() time.Time { return now }
	return l
}

func TestLimiter_PerSecond(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 250*int(time.Millisecond), time.UTC)
	l := newLimiter(t, Limits{PerSecond: 3}, now)

	for i := 0; i < 3; i++ {
		ok, _, err := l.CheckAndIncrement(ctx, "tenant-1", 1)
		require.NoError(t, err)
		assert.True(t, ok, "send %d", i)
	}

	ok, wait, err := l.CheckAndIncrement(ctx, "tenant-1", 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 750*time.Millisecond, wait)

	// Other tenants have their own budget.
	ok, _, err = l.CheckAndIncrement(ctx, "tenant-2", 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLimiter_PerMinute(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 45, 0, time.UTC)
	l := newLimiter(t, Limits{PerSecond: 100, PerMinute: 5}, now)

	ok, _, err := l.CheckAndIncrement(ctx, "bot", 5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, wait, err := l.CheckAndIncrement(ctx, "bot", 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 15*time.Second, wait)
}

func TestLimiter_DeniedCallConsumesNothing(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := newLimiter(t, Limits{PerSecond: 2}, now)

	ok, _, err := l.CheckAndIncrement(ctx, "bot", 3)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _, err = l.CheckAndIncrement(ctx, "bot", 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLimiter_ZeroLimitsDisableWindows(t *testing.T) {
	ctx := context.Background()
	l := newLimiter(t, Limits{}, time.Now())
	for i := 0; i < 50; i++ {
		ok, _, err := l.CheckAndIncrement(ctx, "bot", 1)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}
