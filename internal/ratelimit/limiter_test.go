package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garagehq/garage/internal/cache"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func newTestLimiter(t *testing.T, start time.Time, opts ...Option) (*Limiter, *fakeClock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := cache.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	clock := &fakeClock{t: start}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(store, opts...), clock, mr
}

func TestLimiter_FixedWindow(t *testing.T) {
	// 30s into a 60s window
	start := time.Unix(1_700_000_010, 0)
	l, clock, _ := newTestLimiter(t, start)
	ctx := context.Background()

	r, err := l.Enforce(ctx, "ip:1.2.3.4", "test", time.Minute, 2)
	require.NoError(t, err)
	assert.True(t, r.Allowed)
	assert.Equal(t, 1, r.Remaining)
	assert.Equal(t, int64(1_700_000_040), r.Reset)

	r, err = l.Enforce(ctx, "ip:1.2.3.4", "test", time.Minute, 2)
	require.NoError(t, err)
	assert.True(t, r.Allowed)
	assert.Equal(t, 0, r.Remaining)

	r, err = l.Enforce(ctx, "ip:1.2.3.4", "test", time.Minute, 2)
	require.NoError(t, err)
	assert.False(t, r.Allowed)
	assert.Equal(t, 0, r.Remaining)
	assert.Equal(t, 30*time.Second, r.RetryAfter)

	clock.t = time.Unix(r.Reset, 0)
	r, err = l.Enforce(ctx, "ip:1.2.3.4", "test", time.Minute, 2)
	require.NoError(t, err)
	assert.True(t, r.Allowed)
	assert.Equal(t, 1, r.Remaining)
}

func TestLimiter_ExactlyMaxAllowed(t *testing.T) {
	l, _, _ := newTestLimiter(t, time.Unix(1_700_000_000, 0))
	ctx := context.Background()

	const limit = 5
	for i := 1; i <= limit; i++ {
		r, err := l.Enforce(ctx, "user:1", "feed", time.Minute, limit)
		require.NoError(t, err)
		assert.True(t, r.Allowed, "request %d", i)
		assert.Equal(t, limit-i, r.Remaining)
	}
	r, err := l.Enforce(ctx, "user:1", "feed", time.Minute, limit)
	require.NoError(t, err)
	assert.False(t, r.Allowed)
}

func TestLimiter_BoundaryBurst(t *testing.T) {
	// last second of a window
	l, clock, _ := newTestLimiter(t, time.Unix(1_700_000_039, 0))
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 3; i++ {
		r, err := l.Enforce(ctx, "ip:9.9.9.9", "burst", time.Minute, 2)
		require.NoError(t, err)
		if r.Allowed {
			allowed++
		}
	}
	clock.t = clock.t.Add(time.Second)
	for i := 0; i < 3; i++ {
		r, err := l.Enforce(ctx, "ip:9.9.9.9", "burst", time.Minute, 2)
		require.NoError(t, err)
		if r.Allowed {
			allowed++
		}
	}
	// two seconds apart, twice the limit gets through
	assert.Equal(t, 4, allowed)
}

func TestLimiter_NamespacesAndKeysAreIndependent(t *testing.T) {
	l, _, mr := newTestLimiter(t, time.Unix(1_700_000_000, 0))
	ctx := context.Background()

	_, err := l.Enforce(ctx, "ip:1.1.1.1", "feed:preflight", time.Minute, 1)
	require.NoError(t, err)

	r, err := l.Enforce(ctx, "ip:1.1.1.1", "feed", time.Minute, 1)
	require.NoError(t, err)
	assert.True(t, r.Allowed)

	r, err = l.Enforce(ctx, "ip:2.2.2.2", "feed", time.Minute, 1)
	require.NoError(t, err)
	assert.True(t, r.Allowed)

	key := Key("feed", "ip:1.1.1.1", 1_700_000_000/60)
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Minute, mr.TTL(key))
}

type failingCounter struct{}

func (failingCounter) Incr(context.Context, string) (int64, error) {
	return 0, errors.New("dial tcp: connection refused")
}

func (failingCounter) Expire(context.Context, string, time.Duration) error { return nil }

func TestLimiter_StoreFailure(t *testing.T) {
	ctx := context.Background()

	closed := New(failingCounter{})
	_, err := closed.Enforce(ctx, "ip:1.1.1.1", "feed", time.Minute, 10)
	assert.Error(t, err)

	open := New(failingCounter{}, WithFailOpen(true))
	r, err := open.Enforce(ctx, "ip:1.1.1.1", "feed", time.Minute, 10)
	require.NoError(t, err)
	assert.True(t, r.Allowed)
	assert.Equal(t, 10, r.Remaining)
}

func TestResult_Headers(t *testing.T) {
	h := Result{Allowed: true, Limit: 40, Remaining: 39, Reset: 1_700_000_040}.Headers()
	assert.Equal(t, "40", h["X-RateLimit-Limit"])
	assert.Equal(t, "39", h["X-RateLimit-Remaining"])
	assert.Equal(t, "1700000040", h["X-RateLimit-Reset"])
	assert.NotContains(t, h, "Retry-After")

	h = Result{Allowed: false, Limit: 40, Reset: 1_700_000_040, RetryAfter: 1500 * time.Millisecond}.Headers()
	assert.Equal(t, "2", h["Retry-After"])
}

func TestRequesterKey(t *testing.T) {
	tests := []struct {
		name    string
		userID  int64
		headers map[string]string
		want    string
	}{
		{"authenticated", 42, map[string]string{"X-Forwarded-For": "1.2.3.4"}, "user:42"},
		{"forwarded chain", 0, map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, "ip:1.2.3.4"},
		{"real ip fallback", 0, map[string]string{"X-Real-IP": "5.6.7.8"}, "ip:5.6.7.8"},
		{"forwarded wins over real ip", 0, map[string]string{"X-Forwarded-For": "1.2.3.4", "X-Real-IP": "5.6.7.8"}, "ip:1.2.3.4"},
		{"empty forwarded entry", 0, map[string]string{"X-Forwarded-For": " ,10.0.0.1", "X-Real-IP": "5.6.7.8"}, "ip:5.6.7.8"},
		{"nothing", 0, nil, "ip:unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			if got := RequesterKey(tt.userID, h); got != tt.want {
				t.Errorf("RequesterKey() = %q, want %q", got, tt.want)
			}
		})
	}
}
