package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTiming(t *testing.T) {
	c := NewCollector()

	c.RecordTiming(OpSessionAPI, 10*time.Millisecond)
	c.RecordTiming(OpSessionAPI, 30*time.Millisecond)

	snap := c.Snapshot()
	require.NotNil(t, snap.SessionAPI)
	assert.Equal(t, int64(2), snap.SessionAPI.Count)
	assert.Equal(t, int64(40), snap.SessionAPI.TotalTimeMs)
	assert.Equal(t, int64(10), snap.SessionAPI.MinTimeMs)
	assert.Equal(t, int64(30), snap.SessionAPI.MaxTimeMs)
	assert.InDelta(t, 20.0, snap.SessionAPI.AvgTimeMs, 1e-9)

	// Timing-only operations carry no stream stats.
	assert.Nil(t, snap.SessionAPI.TotalChunks)
}

func TestRecordExchange(t *testing.T) {
	c := NewCollector()

	c.RecordExchange(OpStream, 200*time.Millisecond, 50*time.Millisecond, 4, 1024)
	c.RecordExchange(OpStream, 400*time.Millisecond, 150*time.Millisecond, 10, 4096)

	snap := c.Snapshot()
	require.NotNil(t, snap.Stream)
	assert.Equal(t, int64(2), snap.Stream.Count)

	require.NotNil(t, snap.Stream.TotalChunks)
	assert.Equal(t, int64(14), *snap.Stream.TotalChunks)
	assert.InDelta(t, 7.0, *snap.Stream.AvgChunks, 1e-9)
	assert.Equal(t, int64(4), *snap.Stream.MinChunks)
	assert.Equal(t, int64(10), *snap.Stream.MaxChunks)
	assert.Equal(t, int64(5120), *snap.Stream.TotalBytes)
	assert.InDelta(t, 100.0, *snap.Stream.AvgFirstFrameMs, 1e-9)
}

func TestSnapshotOmitsUnusedOperations(t *testing.T) {
	c := NewCollector()
	c.RecordExchange(OpFallback, 100*time.Millisecond, 100*time.Millisecond, 1, 64)

	snap := c.Snapshot()
	require.NotNil(t, snap.Fallback)
	assert.Nil(t, snap.Stream)
	assert.Nil(t, snap.Replay)
	assert.Nil(t, snap.SessionAPI)
	assert.GreaterOrEqual(t, snap.UptimeSeconds, 0.0)
}
