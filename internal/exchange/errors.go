package exchange

import (
	"errors"
)

// Failure taxonomy for an exchange. Malformed frames are not here: the
// decoder recovers from them locally and they never fail an exchange.
var (
	// ErrConnectionTimeout means no byte arrived within the connection
	// budget. The placeholder content is still empty when this fires.
	ErrConnectionTimeout = errors.New("connection timeout: no response from assistant")

	// ErrResponseTimeout means the stream stalled after at least one byte.
	// Content accumulated before the stall is kept.
	ErrResponseTimeout = errors.New("response timeout: assistant stream stalled")

	// ErrCancelled marks a caller-initiated abort.
	ErrCancelled = errors.New("exchange cancelled")

	// ErrServerReported wraps an explicit error frame from the server.
	ErrServerReported = errors.New("assistant reported an error")

	// ErrStreamEnded means the transport closed before a completion frame.
	ErrStreamEnded = errors.New("stream ended before completion")

	// ErrExchangeActive rejects a send while another exchange is in
	// flight for the same session. Callers queue or retry explicitly.
	ErrExchangeActive = errors.New("an exchange is already active for this session")
)
