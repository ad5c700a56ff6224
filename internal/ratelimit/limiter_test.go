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

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, func() {
		client.Close()
		mr.Close()
	}
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestRedisLimiter_RollingWindow(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := NewRedisLimiter(client, "test")
	l.now = clock.Now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "otp_send", 3)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "admission %d", i)
		assert.Equal(t, 2-i, d.Remaining)
		clock.Advance(10 * time.Second)
	}

	d, err := l.Allow(ctx, "otp_send", 3)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	// First admission was 30s ago, so it leaves the window in 30s.
	assert.Equal(t, 30*time.Second, d.RetryAfter)

	used, err := l.Usage(ctx, "otp_send")
	require.NoError(t, err)
	assert.Equal(t, int64(3), used)

	clock.Advance(31 * time.Second)
	d, err = l.Allow(ctx, "otp_send", 3)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "oldest admission should have rolled out")
}

func TestRedisLimiter_EventTypesIndependent(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	l := NewRedisLimiter(client, "test")
	ctx := context.Background()

	d, err := l.Allow(ctx, "otp_send", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Allow(ctx, "otp_send", 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = l.Allow(ctx, "kyc_approved", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisLimiter_NonPositiveLimit(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	l := NewRedisLimiter(client, "")
	for i := 0; i < 10; i++ {
		d, err := l.Allow(context.Background(), "welcome", 0)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
}

func TestLocalLimiter(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := NewLocalLimiter()
	l.now = clock.Now
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		d, err := l.Allow(ctx, "new_offer", 60)
		require.NoError(t, err)
		require.True(t, d.Allowed, "burst admission %d", i)
	}

	d, err := l.Allow(ctx, "new_offer", 60)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.InDelta(t, float64(time.Second), float64(d.RetryAfter), float64(10*time.Millisecond))

	clock.Advance(time.Second)
	d, err = l.Allow(ctx, "new_offer", 60)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "one token refills per second at 60/min")
}

func TestLocalLimiter_LimitChangeResetsBucket(t *testing.T) {
	l := NewLocalLimiter()
	ctx := context.Background()

	d, _ := l.Allow(ctx, "welcome", 1)
	assert.True(t, d.Allowed)
	d, _ = l.Allow(ctx, "welcome", 1)
	assert.False(t, d.Allowed)

	d, _ = l.Allow(ctx, "welcome", 5)
	assert.True(t, d.Allowed)
}

func TestFallback_UsesSecondaryWhenRedisFails(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	cleanup() // server gone: every script call fails

	var failures int
	l := &Fallback{
		Primary:   NewRedisLimiter(client, "test"),
		Secondary: NewLocalLimiter(),
		OnError:   func(error) { failures++ },
	}
	ctx := context.Background()

	d, err := l.Allow(ctx, "otp_send", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Allow(ctx, "otp_send", 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 2, failures)
}

func TestFallback_PrefersPrimary(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	l := &Fallback{Primary: NewRedisLimiter(client, "test"), Secondary: NewLocalLimiter()}
	d, err := l.Allow(context.Background(), "welcome", 5)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
}
