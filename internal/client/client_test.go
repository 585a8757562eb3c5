package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailmind/mailmind-go/internal/models"
	"github.com/mailmind/mailmind-go/internal/stream"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStreamMessageReturnsChunkedBody(t *testing.T) {
	var gotAuth, gotAccept string
	var gotReq SendRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/chat", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintln(w, `data: {"type":"text-chunk","text":"Here is your summary."}`)
		fmt.Fprintln(w, `data: {"type":"completion","data":{"model":"m1","generation_time":1.2}}`)
	}))
	defer srv.Close()

	c := New(srv.URL, StaticToken("tok-123"), discardLogger())
	body, err := c.StreamMessage(context.Background(), SendRequest{
		Message:   "Summarize my week",
		SessionID: "s1",
		ModelName: "m1",
	})
	require.NoError(t, err)
	defer body.Close()

	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "text/event-stream", gotAccept)
	assert.True(t, gotReq.Stream)
	assert.Equal(t, "Summarize my week", gotReq.Message)

	dec := stream.NewDecoder(body, discardLogger())
	f1, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "Here is your summary.", f1.Text)
	f2, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, stream.FrameCompletion, f2.Type)
	_, err = dec.Next()
	assert.Equal(t, io.EOF, err)
}

func TestStreamMessageNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, nil, discardLogger())
	_, err := c.StreamMessage(context.Background(), SendRequest{Message: "x"})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Status)
	assert.Contains(t, statusErr.Body, "session not found")
}

func TestCompleteMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sr SendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sr))
		assert.False(t, sr.Stream)

		json.NewEncoder(w).Encode(CompleteResponse{
			Response:       "Here is your summary.",
			MessageID:      "srv-1",
			Model:          "m1",
			GenerationTime: 1.2,
			References:     []models.Reference{{Type: "email", ID: "e1"}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, nil, discardLogger())
	res, err := c.CompleteMessage(context.Background(), SendRequest{Message: "Summarize my week"})
	require.NoError(t, err)

	assert.Equal(t, "Here is your summary.", res.Response)
	assert.Equal(t, "srv-1", res.MessageID)

	meta := res.Metadata()
	assert.Equal(t, "m1", meta.Model)
	assert.InDelta(t, 1.2, meta.GenerationTime, 1e-9)
	require.Len(t, meta.References, 1)
	assert.Equal(t, "e1", meta.References[0].ID)
}

func TestSessionAPI(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"sessions": []models.Session{
				{ID: "s2", Title: "Trip planning"},
				{ID: "s1", Title: "Weekly review"},
			},
		})
	})
	mux.HandleFunc("POST /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		json.NewEncoder(w).Encode(models.Session{ID: "s3", Title: body["title"], ModelName: body["model_name"]})
	})
	mux.HandleFunc("DELETE /api/sessions/s1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/sessions/s1/messages", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []*models.Message{
				{ID: "u1", Role: models.RoleUser, Content: "hello"},
				{ID: "a1", Role: models.RoleAssistant, Content: "hi"},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, nil, discardLogger())
	ctx := context.Background()

	sessions, err := c.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "Trip planning", sessions[0].Title)

	created, err := c.CreateSession(ctx, "New chat", "m1")
	require.NoError(t, err)
	assert.Equal(t, "s3", created.ID)
	assert.Equal(t, "New chat", created.Title)

	require.NoError(t, c.DeleteSession(ctx, "s1"))

	msgs, err := c.ListMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/models", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"models": []ModelInfo{
				{Name: "m1", DisplayName: "Assistant", ContextWindow: 128000},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, nil, discardLogger())
	infos, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "m1", infos[0].Name)
	assert.Equal(t, 128000, infos[0].ContextWindow)
}

func TestDialFailureClassifiedOffline(t *testing.T) {
	// A closed port fails at dial, before any byte goes out.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	c := New(srv.URL, nil, discardLogger())

	_, err := c.CompleteMessage(context.Background(), SendRequest{Message: "x"})
	assert.ErrorIs(t, err, ErrOffline)

	_, err = c.StreamMessage(context.Background(), SendRequest{Message: "x"})
	assert.ErrorIs(t, err, ErrOffline)
}

func TestContextCancellationPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := New(srv.URL, nil, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.CompleteMessage(ctx, SendRequest{Message: "x"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrOffline)
}

func TestStreamMessageOverWebsocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, "Bearer tok-ws", r.Header.Get("Authorization"))

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var sr SendRequest
		require.NoError(t, conn.ReadJSON(&sr))
		assert.Equal(t, "over websocket", sr.Message)

		require.NoError(t, conn.WriteMessage(websocket.TextMessage,
			[]byte("data: {\"type\":\"text-chunk\",\"text\":\"ws chunk\"}\n")))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage,
			[]byte("data: {\"type\":\"completion\",\"data\":{\"model\":\"m1\"}}\n")))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	wsURL := "ws://" + strings.TrimPrefix(srv.URL, "http://")
	c := New(wsURL, StaticToken("tok-ws"), discardLogger())

	body, err := c.StreamMessage(context.Background(), SendRequest{Message: "over websocket"})
	require.NoError(t, err)
	defer body.Close()

	dec := stream.NewDecoder(body, discardLogger())
	f1, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "ws chunk", f1.Text)
	f2, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "m1", f2.Completion.Model)
	_, err = dec.Next()
	assert.Equal(t, io.EOF, err)
}
