package exchange

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mailmind/mailmind-go/internal/client"
	"github.com/mailmind/mailmind-go/internal/metrics"
	"github.com/mailmind/mailmind-go/internal/models"
	"github.com/mailmind/mailmind-go/internal/stream"
)

// Default watchdog budgets, overridable through configuration.
const (
	DefaultConnectionTimeout = 30 * time.Second
	DefaultResponseTimeout   = 120 * time.Second
)

// Transport opens the network side of an exchange. *client.Client
// implements it; tests substitute scripted streams.
type Transport interface {
	StreamMessage(ctx context.Context, req client.SendRequest) (io.ReadCloser, error)
	CompleteMessage(ctx context.Context, req client.SendRequest) (*client.CompleteResponse, error)
}

// Config holds the manager's budgets and path selection, sourced from the
// externally persisted settings.
type Config struct {
	ConnectionTimeout time.Duration
	ResponseTimeout   time.Duration

	// Streaming selects the chunked path; false uses the single
	// request/response fallback.
	Streaming bool
}

// Manager owns exchanges: it opens the transport, runs the decode loop,
// arbitrates frames against the two watchdog timers, and guarantees at
// most one active exchange per session.
type Manager struct {
	transport Transport
	clock     Clock
	cfg       Config
	stats     *metrics.Collector
	log       *slog.Logger

	mu     sync.Mutex
	active map[string]*Exchange
}

// NewManager creates a manager. Zero timeouts fall back to the defaults,
// a nil clock to the real one.
func NewManager(cfg Config, transport Transport, clock Clock, stats *metrics.Collector, log *slog.Logger) *Manager {
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = DefaultConnectionTimeout
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	if clock == nil {
		clock = RealClock()
	}
	if stats == nil {
		stats = metrics.NewCollector()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		transport: transport,
		clock:     clock,
		cfg:       cfg,
		stats:     stats,
		log:       log,
		active:    make(map[string]*Exchange),
	}
}

// Initiate starts one exchange: it appends the user message and an
// assistant placeholder to the transcript and drives the configured path
// in the background. A second Initiate for the same session while one is
// in flight returns ErrExchangeActive; callers queue or retry explicitly.
// onUpdate, if non-nil, receives the accumulated content after each text
// chunk.
func (m *Manager) Initiate(ctx context.Context, transcript *models.Transcript, req client.SendRequest, onUpdate func(string)) (*Exchange, error) {
	now := time.Now()
	user := &models.Message{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		Role:      models.RoleUser,
		Content:   req.Message,
		Timestamp: now,
	}
	return m.start(ctx, transcript, user, req, onUpdate, m.cfg.Streaming, true)
}

// Resend runs the exchange path for an already-recorded user message.
// The offline queue uses it during replay: the pending message is reused,
// only a fresh assistant placeholder is appended. streaming selects the
// path, honoring the replay-mode setting.
func (m *Manager) Resend(ctx context.Context, transcript *models.Transcript, user *models.Message, req client.SendRequest, onUpdate func(string), streaming bool) (*Exchange, error) {
	return m.start(ctx, transcript, user, req, onUpdate, streaming, false)
}

func (m *Manager) start(ctx context.Context, transcript *models.Transcript, user *models.Message, req client.SendRequest, onUpdate func(string), streaming, appendUser bool) (*Exchange, error) {
	key := req.SessionID

	placeholder := &models.Message{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		Role:      models.RoleAssistant,
		Timestamp: time.Now(),
	}
	ex := newExchange(user, placeholder, onUpdate, m.log)

	m.mu.Lock()
	if _, busy := m.active[key]; busy {
		m.mu.Unlock()
		return nil, ErrExchangeActive
	}
	m.active[key] = ex
	m.mu.Unlock()

	if appendUser {
		transcript.Append(user)
	}
	transcript.Append(placeholder)

	go func() {
		defer m.release(key)
		if streaming {
			m.runStream(ctx, ex, req)
		} else {
			m.runFallback(ctx, ex, req)
		}
	}()

	return ex, nil
}

func (m *Manager) release(key string) {
	m.mu.Lock()
	delete(m.active, key)
	m.mu.Unlock()
}

// Active reports whether an exchange is in flight for the session.
func (m *Manager) Active(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, busy := m.active[sessionID]
	return busy
}

// runStream drives the chunked path: decode loop in a goroutine feeding a
// frame channel, arbitrated here against the two watchdogs. The
// connection timer runs until the first byte; the liveness timer is reset
// on every frame after that. Whichever event reaches a terminal
// transition first wins; everything later is a no-op.
func (m *Manager) runStream(ctx context.Context, ex *Exchange, req client.SendRequest) {
	start := time.Now()
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ex.setAbort(cancel)
	if ex.State().Terminal() {
		return
	}

	body, err := m.transport.StreamMessage(sctx, req)
	if err != nil {
		ex.fail(err)
		return
	}
	defer body.Close()
	ex.setAbort(func() {
		cancel()
		body.Close()
	})
	if ex.State().Terminal() {
		// Cancelled while the transport was opening.
		return
	}

	firstByte := make(chan struct{})
	reader := stream.NewNotifyReader(body, func() { close(firstByte) })
	dec := stream.NewDecoder(reader, m.log)

	frames := make(chan stream.Frame, 16)
	readErr := make(chan error, 1)
	go func() {
		defer close(frames)
		for {
			f, derr := dec.Next()
			if derr != nil {
				if derr != io.EOF {
					readErr <- derr
				}
				return
			}
			select {
			case frames <- f:
			case <-sctx.Done():
				return
			}
		}
	}()

	connTimer := m.clock.NewTimer(m.cfg.ConnectionTimeout)
	defer connTimer.Stop()
	connC := connTimer.C()

	var liveTimer Timer
	var liveC <-chan time.Time
	defer func() {
		if liveTimer != nil {
			liveTimer.Stop()
		}
	}()

	var firstFrame time.Duration
	startLiveness := func() {
		connTimer.Stop()
		connC = nil
		firstByte = nil
		liveTimer = m.clock.NewTimer(m.cfg.ResponseTimeout)
		liveC = liveTimer.C()
		firstFrame = time.Since(start)
	}

	record := func(op string) {
		m.stats.RecordExchange(op, time.Since(start), firstFrame, int64(ex.chunkCount()), reader.Bytes())
	}

	for {
		select {
		case <-firstByte:
			startLiveness()

		case f, ok := <-frames:
			if !ok {
				// End-of-stream from the transport.
				select {
				case derr := <-readErr:
					if sctx.Err() == nil {
						m.log.Warn("stream read failed", "error", derr)
					}
				default:
				}
				ex.fail(ErrStreamEnded)
				record(metrics.OpStream)
				return
			}
			if liveTimer != nil {
				liveTimer.Reset(m.cfg.ResponseTimeout)
			}
			if ex.apply(f) {
				cancel()
				record(metrics.OpStream)
				return
			}

		case <-connC:
			select {
			case <-firstByte:
				// The first byte raced the timer and won.
				startLiveness()
			default:
				ex.fail(ErrConnectionTimeout)
				body.Close()
				record(metrics.OpStream)
				return
			}

		case <-liveC:
			ex.fail(ErrResponseTimeout)
			body.Close()
			record(metrics.OpStream)
			return

		case <-sctx.Done():
			// Cancellation or parent context end. A cancelled exchange is
			// already terminal; otherwise surface the context error.
			ex.fail(sctx.Err())
			record(metrics.OpStream)
			return
		}
	}
}

// runFallback drives the single request/response path, then feeds the
// reducer one text chunk and one completion frame so the resulting
// message is indistinguishable from the streaming path.
func (m *Manager) runFallback(ctx context.Context, ex *Exchange, req client.SendRequest) {
	start := time.Now()
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ex.setAbort(cancel)
	if ex.State().Terminal() {
		return
	}

	res, err := m.transport.CompleteMessage(sctx, req)
	if err != nil {
		ex.fail(err)
		return
	}

	ex.apply(stream.Frame{Type: stream.FrameTextChunk, Text: res.Response})
	ex.apply(stream.Frame{Type: stream.FrameCompletion, Completion: res.Metadata()})

	elapsed := time.Since(start)
	m.stats.RecordExchange(metrics.OpFallback, elapsed, elapsed, 1, int64(len(res.Response)))
}
