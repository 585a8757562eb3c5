// Package exchange drives one request/response cycle with the assistant:
// it owns the per-exchange state machine, the two watchdog timers, and
// cancellation, and mutates exactly one placeholder message as frames
// arrive.
package exchange

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/mailmind/mailmind-go/internal/models"
	"github.com/mailmind/mailmind-go/internal/stream"
)

// State is the lifecycle of an exchange. Terminal states are final: the
// first terminal transition wins and every later competing event is a
// no-op.
type State int

const (
	StateOpen State = iota
	StateAccumulating
	StateComplete
	StateErrored
	StateCancelled
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateAccumulating:
		return "accumulating"
	case StateComplete:
		return "complete"
	case StateErrored:
		return "errored"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is permitted.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateErrored || s == StateCancelled
}

// Exchange correlates one outbound user message with one assistant
// placeholder message. It is handed to the caller by Manager.Initiate and
// is not persisted.
type Exchange struct {
	mu    sync.Mutex
	state State
	user  *models.Message
	msg   *models.Message
	err   error
	log   *slog.Logger

	// abort stops the transport. Set by the manager before any frame can
	// arrive.
	abort func()

	// onUpdate publishes the accumulated content after each text chunk,
	// for progressive display. Invoked outside the lock.
	onUpdate func(content string)

	// chunks counts dispatched text-chunk frames.
	chunks int

	done chan struct{}
}

func newExchange(user, placeholder *models.Message, onUpdate func(string), log *slog.Logger) *Exchange {
	if log == nil {
		log = slog.Default()
	}
	return &Exchange{
		state:    StateOpen,
		user:     user,
		msg:      placeholder,
		onUpdate: onUpdate,
		log:      log,
		done:     make(chan struct{}),
	}
}

// apply is the reducer over (state, frame). It returns true when the frame
// reached a terminal state. No mutation happens once the exchange is
// terminal, even for frames that were already buffered when it ended.
func (e *Exchange) apply(f stream.Frame) bool {
	e.mu.Lock()
	if e.state.Terminal() {
		e.mu.Unlock()
		return true
	}

	var publish string
	terminal := false

	switch f.Type {
	case stream.FrameTextChunk:
		e.msg.Content += f.Text
		e.chunks++
		e.state = StateAccumulating
		publish = e.msg.Content

	case stream.FrameReferenceSet:
		// Latest-wins: each frame carries the best-known-so-far set.
		e.msg.Metadata.References = f.References
		e.state = StateAccumulating

	case stream.FrameReasoningTrace:
		e.msg.Metadata.Trace = f.Trace
		e.state = StateAccumulating

	case stream.FrameCompletion:
		e.msg.Metadata.Merge(f.Completion)
		e.state = StateComplete
		terminal = true

	case stream.FrameError:
		// Accumulated content stays: a partial answer is still an answer.
		e.err = fmt.Errorf("%w: %s", ErrServerReported, f.ErrMessage)
		e.msg.Metadata.Error = f.ErrMessage
		e.state = StateErrored
		terminal = true

	default:
		e.log.Debug("ignoring unrecognized frame type", "type", string(f.Type))
	}

	if terminal {
		close(e.done)
	}
	e.mu.Unlock()

	if publish != "" && e.onUpdate != nil {
		e.onUpdate(publish)
	}
	return terminal
}

// fail moves the exchange to Errored with the given cause. Later calls,
// and any later frame, are no-ops.
func (e *Exchange) fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Terminal() {
		return
	}
	e.err = err
	e.msg.Metadata.Error = err.Error()
	e.state = StateErrored
	close(e.done)
}

// Cancel aborts the transport immediately and freezes the message at its
// current content. After Cancel returns no frame may mutate the message.
func (e *Exchange) Cancel() {
	e.mu.Lock()
	if e.state.Terminal() {
		e.mu.Unlock()
		return
	}
	e.err = ErrCancelled
	e.state = StateCancelled
	abort := e.abort
	close(e.done)
	e.mu.Unlock()

	if abort != nil {
		abort()
	}
}

func (e *Exchange) setAbort(fn func()) {
	e.mu.Lock()
	e.abort = fn
	e.mu.Unlock()
}

// Done is closed when the exchange reaches a terminal state.
func (e *Exchange) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the exchange terminates and returns its error, nil on
// completion.
func (e *Exchange) Wait() error {
	<-e.done
	return e.Err()
}

// State returns the current lifecycle state.
func (e *Exchange) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the terminal error, nil while running or after completion.
func (e *Exchange) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Content returns the accumulated assistant content so far.
func (e *Exchange) Content() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.msg.Content
}

// Message returns a snapshot copy of the assistant message.
func (e *Exchange) Message() models.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.msg
}

// UserMessage returns a snapshot copy of the outbound user message.
func (e *Exchange) UserMessage() models.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.user
}

func (e *Exchange) chunkCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chunks
}
