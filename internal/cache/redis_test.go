package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestCache_IncrExpire(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	n, err := c.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, c.Expire(ctx, "counter", time.Minute))
	n, err = c.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, time.Minute, mr.TTL("counter"))

	mr.FastForward(time.Minute)
	assert.False(t, mr.Exists("counter"))
}

func TestCache_GetSet(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", "v", 5*time.Second))
	val, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k2", "v", 5*time.Second))
	mr.FastForward(6 * time.Second)
	_, err = c.Get(ctx, "k2")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCache_SetNX(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "lock", "1", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "lock", "1", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(time.Second)
	ok, err = c.SetNX(ctx, "lock", "1", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCache_JSON(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, c.SetJSON(ctx, "json", payload{Name: "garage", Count: 3}, time.Minute))

	var got payload
	require.NoError(t, c.GetJSON(ctx, "json", &got))
	assert.Equal(t, payload{Name: "garage", Count: 3}, got)

	require.NoError(t, c.Set(ctx, "garbled", "{not json", time.Minute))
	assert.Error(t, c.GetJSON(ctx, "garbled", &got))
	assert.ErrorIs(t, c.GetJSON(ctx, "nope", &got), ErrCacheMiss)
}

func TestCache_Health(t *testing.T) {
	c, mr := newTestCache(t)
	assert.NoError(t, c.Health(context.Background()))

	mr.Close()
	assert.Error(t, c.Health(context.Background()))
}
