package modelinfo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailmind/mailmind-go/internal/client"
)

type fakeResolver struct {
	models []client.ModelInfo
	err    error
	calls  int
}

func (r *fakeResolver) ListModels(context.Context) ([]client.ModelInfo, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.models, nil
}

func testCache(r Resolver, ttl time.Duration) *Cache {
	return NewCache(r, ttl, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSeedOnlyCache(t *testing.T) {
	c := testCache(nil, 0)
	c.Seed([]Info{
		{Name: "m1", DisplayName: "Assistant", ContextWindow: 128000},
	})

	info, ok := c.Get(context.Background(), "m1")
	require.True(t, ok)
	assert.Equal(t, "Assistant", info.DisplayName)

	_, ok = c.Get(context.Background(), "unknown")
	assert.False(t, ok)
}

func TestRuntimeOverridesSeed(t *testing.T) {
	r := &fakeResolver{models: []client.ModelInfo{
		{Name: "m1", DisplayName: "Assistant v2", ContextWindow: 200000},
		{Name: "m2", DisplayName: "Fast"},
	}}
	c := testCache(r, time.Hour)
	c.Seed([]Info{
		{Name: "m1", DisplayName: "Assistant", Description: "seeded blurb", ContextWindow: 128000},
	})

	info, ok := c.Get(context.Background(), "m1")
	require.True(t, ok)
	assert.Equal(t, "Assistant v2", info.DisplayName)
	assert.Equal(t, 200000, info.ContextWindow)
	// Fields the server left blank keep their seeded values.
	assert.Equal(t, "seeded blurb", info.Description)

	assert.Len(t, c.All(context.Background()), 2)
}

func TestRefreshHonorsTTL(t *testing.T) {
	r := &fakeResolver{models: []client.ModelInfo{{Name: "m1"}}}
	c := testCache(r, time.Hour)

	c.Get(context.Background(), "m1")
	c.Get(context.Background(), "m1")
	c.All(context.Background())

	assert.Equal(t, 1, r.calls)
}

func TestResolverFailureDegradesToSeed(t *testing.T) {
	r := &fakeResolver{err: errors.New("server unreachable")}
	c := testCache(r, time.Hour)
	c.Seed([]Info{{Name: "m1", DisplayName: "Assistant"}})

	info, ok := c.Get(context.Background(), "m1")
	require.True(t, ok)
	assert.Equal(t, "Assistant", info.DisplayName)

	// A failed refresh leaves the cache stale, so the next call retries.
	c.Get(context.Background(), "m1")
	assert.Equal(t, 2, r.calls)
}
