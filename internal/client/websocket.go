package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

// streamWebsocket carries the chat stream over a websocket. The request
// body is sent as the first message; each received text message is one
// byte chunk of the same newline-delimited frame grammar the HTTP path
// uses, so the decoder is shared unchanged.
func (c *Client) streamWebsocket(ctx context.Context, sr SendRequest) (io.ReadCloser, error) {
	u, err := url.Parse(c.baseURL + "/api/chat")
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	header := http.Header{}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch token: %w", err)
	}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("%w: websocket connect: %v", ErrOffline, err)
	}

	if err := conn.WriteJSON(sr); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send request: %w", err)
	}

	ws := &wsChunkReader{conn: conn, done: make(chan struct{})}

	// Close the connection when the context ends so a blocked ReadMessage
	// unblocks. Mirrors the cancellation goroutine of the HTTP path.
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-ws.done:
		}
	}()

	return ws, nil
}

// wsChunkReader adapts a websocket connection to the io.ReadCloser chunk
// sequence the decoder consumes. A normal close counts as end-of-stream.
type wsChunkReader struct {
	conn *websocket.Conn
	buf  []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func (w *wsChunkReader) Read(p []byte) (int, error) {
	for len(w.buf) == 0 {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			w.mu.Lock()
			closed := w.closed
			w.mu.Unlock()
			if closed {
				return 0, io.EOF
			}
			return 0, fmt.Errorf("read message: %w", err)
		}
		w.buf = data
	}
	n := copy(p, w.buf)
	w.buf = w.buf[n:]
	return n, nil
}

func (w *wsChunkReader) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)
	return w.conn.Close()
}
