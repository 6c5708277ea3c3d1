package monitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/cirrus/internal/clock"
	"github.com/yairfalse/cirrus/pkg/resource"
)

func TestMemoryCache_Expiry(t *testing.T) {
	clk := clock.NewManual(epoch)
	c := NewMemoryCache(clk)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", resource.MetricsSnapshot{CPUPercent: 12}, time.Second))

	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 12.0, got.CPUPercent)

	clk.Advance(time.Second)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func setupRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	c, err := NewRedisCache(context.Background(), fmt.Sprintf("redis://%s", mr.Addr()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCache_RoundTrip(t *testing.T) {
	c, mr := setupRedisCache(t)
	ctx := context.Background()

	snap := resource.MetricsSnapshot{CPUPercent: 42, Source: resource.SourceCloudWatch, CapturedAt: epoch}
	require.NoError(t, c.Set(ctx, "compute-service/us-east-1/prod/api", snap, 30*time.Second))

	assert.True(t, mr.Exists(redisKeyPrefix+"compute-service/us-east-1/prod/api"))

	got, ok, err := c.Get(ctx, "compute-service/us-east-1/prod/api")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap.CPUPercent, got.CPUPercent)
	assert.Equal(t, snap.Source, got.Source)
	assert.True(t, snap.CapturedAt.Equal(got.CapturedAt))
}

func TestRedisCache_TTL(t *testing.T) {
	c, mr := setupRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", resource.MetricsSnapshot{}, 30*time.Second))
	mr.FastForward(31 * time.Second)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_Miss(t *testing.T) {
	c, _ := setupRedisCache(t)

	_, ok, err := c.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_CorruptValue(t *testing.T) {
	c, mr := setupRedisCache(t)
	require.NoError(t, mr.Set(redisKeyPrefix+"bad", "{not json"))

	_, ok, err := c.Get(context.Background(), "bad")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestNewRedisCache_BadURL(t *testing.T) {
	_, err := NewRedisCache(context.Background(), "invalid://url")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse redis url")
}

func TestEstimator_WithRedisCache(t *testing.T) {
	c, _ := setupRedisCache(t)
	backend := &mockBackend{
		DatapointFunc: func(context.Context, Query) (float64, bool, error) { return 70, true, nil },
	}
	e := NewEstimator(backend, nil, Options{Cache: c, Clock: clock.NewManual(epoch)})
	ctx := context.Background()

	first := e.Get(ctx, apiService())
	calls := backend.calls.Load()
	second := e.Get(ctx, apiService())

	assert.Equal(t, first.CPUPercent, second.CPUPercent)
	assert.Equal(t, calls, backend.calls.Load())
}
