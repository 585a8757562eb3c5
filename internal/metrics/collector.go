// Package metrics provides in-memory runtime statistics collection for
// assistant exchanges.
package metrics

import (
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Stream metrics (only for exchange operations)
	TotalChunks     int64
	TotalBytes      int64
	TotalFirstFrame time.Duration
	MinChunks       int64
	MaxChunks       int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64
	TotalTimeMs int64
	AvgTimeMs   float64
	MinTimeMs   int64
	MaxTimeMs   int64

	// Stream stats (nil if not applicable)
	TotalChunks     *int64
	AvgChunks       *float64
	MinChunks       *int64
	MaxChunks       *int64
	TotalBytes      *int64
	AvgFirstFrameMs *float64
}

// Snapshot represents the full client statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64
	Stream        *OperationSnapshot
	Fallback      *OperationSnapshot
	Replay        *OperationSnapshot
	SessionAPI    *OperationSnapshot
}

// Operation names for the collector.
const (
	OpStream     = "stream"
	OpFallback   = "fallback"
	OpReplay     = "replay"
	OpSessionAPI = "session_api"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{
			MinTime:   time.Duration(math.MaxInt64),
			MinChunks: math.MaxInt64,
		}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordExchange records timing, time-to-first-frame, and chunk/byte
// volume for one exchange.
func (c *Collector) RecordExchange(op string, duration, firstFrame time.Duration, chunks, bytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}

	m.TotalChunks += chunks
	m.TotalBytes += bytes
	m.TotalFirstFrame += firstFrame

	if chunks < m.MinChunks {
		m.MinChunks = chunks
	}
	if chunks > m.MaxChunks {
		m.MaxChunks = chunks
	}
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics, includeStream bool) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	snap := &OperationSnapshot{
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}

	if includeStream && (m.TotalChunks > 0 || m.TotalBytes > 0) {
		totalChunks := m.TotalChunks
		avgChunks := float64(m.TotalChunks) / float64(m.Count)
		minChunks := m.MinChunks
		maxChunks := m.MaxChunks
		totalBytes := m.TotalBytes
		avgFirst := float64(m.TotalFirstFrame.Milliseconds()) / float64(m.Count)

		// Reset sentinel values for display
		if minChunks == math.MaxInt64 {
			minChunks = 0
		}

		snap.TotalChunks = &totalChunks
		snap.AvgChunks = &avgChunks
		snap.MinChunks = &minChunks
		snap.MaxChunks = &maxChunks
		snap.TotalBytes = &totalBytes
		snap.AvgFirstFrameMs = &avgFirst
	}

	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Stream:        snapshotOp(c.ops[OpStream], true),
		Fallback:      snapshotOp(c.ops[OpFallback], true),
		Replay:        snapshotOp(c.ops[OpReplay], false),
		SessionAPI:    snapshotOp(c.ops[OpSessionAPI], false),
	}
}
