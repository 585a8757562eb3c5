// Package client provides the HTTP client for the Mailmind assistant
// server: the chat endpoint (streaming and non-streaming) and the
// session/message persistence API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mailmind/mailmind-go/internal/models"
)

// ErrOffline marks a request that failed before any byte reached the
// server (dial or DNS failure). Callers fall back to the offline queue.
var ErrOffline = errors.New("network unavailable")

// StatusError is a non-success HTTP response from the server.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error: %d - %s", e.Status, e.Body)
}

// TokenProvider supplies the bearer credential attached to each request.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider returning a fixed credential. An empty
// token sends unauthenticated requests.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// SendRequest is the chat request body, client to server.
type SendRequest struct {
	Message     string         `json:"message"`
	SessionID   string         `json:"session_id,omitempty"`
	ModelName   string         `json:"model_name"`
	Stream      bool           `json:"stream"`
	Context     models.Context `json:"context"`
	MaxDaysBack int            `json:"max_days_back"`
}

// CompleteResponse is the single JSON body of the non-streaming path.
type CompleteResponse struct {
	Response        string                  `json:"response"`
	MessageID       string                  `json:"message_id,omitempty"`
	Model           string                  `json:"model,omitempty"`
	GenerationTime  float64                 `json:"generation_time,omitempty"`
	References      []models.Reference      `json:"references,omitempty"`
	TaskSuggestions []models.TaskSuggestion `json:"task_suggestions,omitempty"`
}

// Metadata converts the response extras into message metadata, the same
// shape a streaming completion frame produces.
func (r *CompleteResponse) Metadata() models.Metadata {
	return models.Metadata{
		Model:           r.Model,
		GenerationTime:  r.GenerationTime,
		References:      r.References,
		TaskSuggestions: r.TaskSuggestions,
	}
}

// ModelInfo describes one assistant model as reported by the server.
type ModelInfo struct {
	Name          string `json:"name"`
	DisplayName   string `json:"display_name,omitempty"`
	Description   string `json:"description,omitempty"`
	ContextWindow int    `json:"context_window,omitempty"`
}

// Client talks to the assistant server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenProvider
	log        *slog.Logger
}

// New creates a client. If endpoint is empty, uses MAILMIND_SERVER_URL or
// defaults to localhost. The http.Client carries no overall timeout: the
// exchange manager enforces its own connection and liveness budgets.
func New(endpoint string, tokens TokenProvider, log *slog.Logger) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("MAILMIND_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = "http://localhost:8787"
	}
	if tokens == nil {
		tokens = StaticToken("")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(endpoint, "/"),
		httpClient: &http.Client{},
		tokens:     tokens,
		log:        log,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// StreamMessage opens the chat endpoint in streaming mode and returns the
// raw chunked body. The caller owns closing it. For ws:// endpoints the
// stream is carried over a websocket instead; the chunk sequence contract
// is identical.
func (c *Client) StreamMessage(ctx context.Context, sr SendRequest) (io.ReadCloser, error) {
	sr.Stream = true

	if strings.HasPrefix(c.baseURL, "ws://") || strings.HasPrefix(c.baseURL, "wss://") {
		return c.streamWebsocket(ctx, sr)
	}

	payload, err := json.Marshal(sr)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyNetErr(err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp.Body, nil
}

// CompleteMessage issues one non-streaming request and returns the single
// JSON response.
func (c *Client) CompleteMessage(ctx context.Context, sr SendRequest) (*CompleteResponse, error) {
	sr.Stream = false

	payload, err := json.Marshal(sr)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyNetErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var cr CompleteResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &cr, nil
}

// ListSessions returns the user's sessions, newest first.
func (c *Client) ListSessions(ctx context.Context) ([]models.Session, error) {
	var out struct {
		Sessions []models.Session `json:"sessions"`
	}
	if err := c.getJSON(ctx, "/api/sessions", &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// CreateSession creates a new session.
func (c *Client) CreateSession(ctx context.Context, title, modelName string) (*models.Session, error) {
	payload, err := json.Marshal(map[string]string{
		"title":      title,
		"model_name": modelName,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/sessions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	var session models.Session
	if err := c.doJSON(req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// DeleteSession removes a session and its messages.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, nil)
}

// ListMessages returns a session's messages in conversation order. Used
// only to seed and refresh local state, never to drive an exchange.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	var out struct {
		Messages []*models.Message `json:"messages"`
	}
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/messages"
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// ListModels returns the models the server exposes.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var out struct {
		Models []ModelInfo `json:"models"`
	}
	if err := c.getJSON(ctx, "/api/models", &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

func (c *Client) getJSON(ctx context.Context, path string, result any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, result)
}

func (c *Client) doJSON(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyNetErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// classifyNetErr maps dial-level failures to ErrOffline so the caller can
// enqueue instead of failing. Context cancellation passes through.
func classifyNetErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		var opErr *net.OpError
		if errors.As(urlErr.Err, &opErr) && opErr.Op == "dial" {
			return fmt.Errorf("%w: %v", ErrOffline, err)
		}
		var dnsErr *net.DNSError
		if errors.As(urlErr.Err, &dnsErr) {
			return fmt.Errorf("%w: %v", ErrOffline, err)
		}
	}
	return fmt.Errorf("execute request: %w", err)
}

// handshakeTimeout bounds websocket dials; the exchange watchdogs own the
// rest of the budget.
const handshakeTimeout = 10 * time.Second
