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

type redisFixture struct {
	mr    *miniredis.Miniredis
	clock *fakeClock
	l     *RedisLimiter
}

func newRedisFixture(t *testing.T) *redisFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	clock := newFakeClock()
	return &redisFixture{mr: mr, clock: clock, l: NewRedisLimiter(rdb, DefaultPolicy(), "login_fail", clock.Now)}
}

// advance moves the limiter clock and the server's key TTLs together.
func (f *redisFixture) advance(d time.Duration) {
	f.clock.Advance(d)
	f.mr.FastForward(d)
}

func TestRedisCheckUnknownClientIsAllowed(t *testing.T) {
	f := newRedisFixture(t)

	d, err := f.l.Check(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, DefaultMaxAttempts, d.Remaining)
	assert.False(t, f.mr.Exists("login_fail:10.0.0.1"))
}

func TestRedisRemainingAttemptsCountDown(t *testing.T) {
	ctx := context.Background()
	f := newRedisFixture(t)

	for i := 1; i < DefaultMaxAttempts; i++ {
		fail(t, f.l, "c", 1)
		d, err := f.l.Check(ctx, "c")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, DefaultMaxAttempts-i, d.Remaining)
	}
	assert.Equal(t, "4", f.mr.HGet("login_fail:c", "failures"))
}

func TestRedisFifthFailureBlocksOnNextCheck(t *testing.T) {
	ctx := context.Background()
	f := newRedisFixture(t)

	fail(t, f.l, "c", 5)
	d, err := f.l.Check(ctx, "c")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), d.BlockedUntil)
	assert.Equal(t, 30*time.Minute, d.RetryAfter)
	assert.Equal(t, 30*time.Minute+time.Second, f.mr.TTL("login_fail:c"))
}

func TestRedisBlockHoldsUntilExpiry(t *testing.T) {
	ctx := context.Background()
	f := newRedisFixture(t)

	fail(t, f.l, "c", 5)
	first, err := f.l.Check(ctx, "c")
	require.NoError(t, err)
	require.False(t, first.Allowed)

	f.advance(29 * time.Minute)
	d, err := f.l.Check(ctx, "c")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, first.BlockedUntil, d.BlockedUntil, "checking again must not extend the block")
	assert.Equal(t, time.Minute, d.RetryAfter)

	// failures while blocked are ignored
	fail(t, f.l, "c", 3)
	f.advance(time.Minute)
	d, err = f.l.Check(ctx, "c")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, DefaultMaxAttempts, d.Remaining)
}

func TestRedisBlockLapsesWithoutServerExpiry(t *testing.T) {
	ctx := context.Background()
	f := newRedisFixture(t)

	fail(t, f.l, "c", 5)
	_, err := f.l.Check(ctx, "c")
	require.NoError(t, err)

	// only the limiter clock moves; the script alone decides the block is over
	f.clock.Advance(30 * time.Minute)
	d, err := f.l.Check(ctx, "c")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.False(t, f.mr.Exists("login_fail:c"))
}

func TestRedisWindowExpiryResets(t *testing.T) {
	ctx := context.Background()
	f := newRedisFixture(t)

	fail(t, f.l, "c", 4)
	f.clock.Advance(15*time.Minute + time.Second)

	fail(t, f.l, "c", 1)
	d, err := f.l.Check(ctx, "c")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, DefaultMaxAttempts-1, d.Remaining, "a failure after the window starts a fresh count")
}

func TestRedisWindowBoundaryIsInclusive(t *testing.T) {
	ctx := context.Background()
	f := newRedisFixture(t)

	fail(t, f.l, "c", 5)
	f.clock.Advance(15 * time.Minute)
	d, err := f.l.Check(ctx, "c")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "exactly one window later the entry is still active")
}

func TestRedisClearResetsCounter(t *testing.T) {
	ctx := context.Background()
	f := newRedisFixture(t)

	fail(t, f.l, "c", 3)
	require.NoError(t, f.l.Clear(ctx, "c"))
	d, err := f.l.Check(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxAttempts, d.Remaining)

	fail(t, f.l, "c", 4)
	d, err = f.l.Check(ctx, "c")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "a cleared client gets a full allowance again")
}

func TestRedisClientsAreIndependent(t *testing.T) {
	ctx := context.Background()
	f := newRedisFixture(t)

	fail(t, f.l, "a", 5)
	a, err := f.l.Check(ctx, "a")
	require.NoError(t, err)
	b, err := f.l.Check(ctx, "b")
	require.NoError(t, err)
	assert.False(t, a.Allowed)
	assert.True(t, b.Allowed)
}

func TestRedisUnavailable(t *testing.T) {
	f := newRedisFixture(t)
	f.mr.Close()

	_, err := f.l.Check(context.Background(), "c")
	assert.Error(t, err)
	assert.Error(t, f.l.RecordFailure(context.Background(), "c"))
}
