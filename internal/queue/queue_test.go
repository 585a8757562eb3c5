package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailmind/mailmind-go/internal/models"
)

// fakeRecorder captures the queue's transcript interactions.
type fakeRecorder struct {
	mu         sync.Mutex
	appended   []*models.Message
	reconciled map[string]string
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{reconciled: make(map[string]string)}
}

func (r *fakeRecorder) Append(msg *models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appended = append(r.appended, msg)
}

func (r *fakeRecorder) Reconcile(provisionalID, serverID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconciled[provisionalID] = serverID
	return true
}

func (r *fakeRecorder) reconciledID(provisionalID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reconciled[provisionalID]
}

func openTestQueue(t *testing.T, rec Recorder, send Sender) *Queue {
	t.Helper()
	q, err := Open(t.TempDir(), rec, send, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestEnqueueAppendsPendingMessage(t *testing.T) {
	rec := newFakeRecorder()
	q := openTestQueue(t, rec, nil)

	id, err := q.Enqueue("Summarize my week", "s1", "m1", models.Context{EmailID: "e1"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Len(t, rec.appended, 1)
	pending := rec.appended[0]
	assert.Equal(t, models.RoleUser, pending.Role)
	assert.Equal(t, "Summarize my week", pending.Content)
	assert.True(t, pending.Metadata.Pending)

	entries, err := q.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Summarize my week", entries[0].Message)
	assert.Equal(t, "s1", entries[0].SessionID)
	assert.Equal(t, "m1", entries[0].ModelName)
	assert.Equal(t, "e1", entries[0].Context.EmailID)
	assert.Equal(t, pending.ID, entries[0].MessageID)
	assert.Equal(t, 0, entries[0].Attempts)
}

func TestAdoptReusesExistingMessage(t *testing.T) {
	rec := newFakeRecorder()
	q := openTestQueue(t, rec, nil)

	msg := &models.Message{ID: "u1", SessionID: "s1", Role: models.RoleUser, Content: "hello"}
	_, err := q.Adopt(msg, "m1", models.Context{})
	require.NoError(t, err)

	// Adopt never appends: the message is already in the transcript.
	assert.Empty(t, rec.appended)
	assert.True(t, msg.Metadata.Pending)

	entries, err := q.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "u1", entries[0].MessageID)
}

func TestReplayDrainsInEnqueueOrder(t *testing.T) {
	rec := newFakeRecorder()
	var mu sync.Mutex
	var sent []Entry
	send := func(ctx context.Context, e Entry) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, e)
		return "srv-" + e.Message, nil
	}
	q := openTestQueue(t, rec, send)

	for _, msg := range []string{"one", "two", "three"} {
		_, err := q.Enqueue(msg, "s1", "m1", models.Context{})
		require.NoError(t, err)
	}

	require.NoError(t, q.Replay(context.Background()))

	require.Len(t, sent, 3)
	assert.Equal(t, "one", sent[0].Message)
	assert.Equal(t, "two", sent[1].Message)
	assert.Equal(t, "three", sent[2].Message)
	for _, e := range sent {
		assert.Equal(t, 1, e.Attempts)
	}

	n, err := q.Len()
	require.NoError(t, err)
	assert.Zero(t, n)

	// Each pending message was reconciled to its server id.
	for _, e := range sent {
		assert.Equal(t, "srv-"+e.Message, rec.reconciledID(e.MessageID))
	}
}

func TestReplayFailureRetainsEntryAndStopsDrain(t *testing.T) {
	rec := newFakeRecorder()
	var mu sync.Mutex
	bad := true
	var sent []string
	send := func(ctx context.Context, e Entry) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, e.Message)
		if bad && e.Message == "two" {
			return "", backoff.Permanent(errors.New("server rejected"))
		}
		return "", nil
	}
	q := openTestQueue(t, rec, send)

	for _, msg := range []string{"one", "two", "three"} {
		_, err := q.Enqueue(msg, "s1", "m1", models.Context{})
		require.NoError(t, err)
	}

	err := q.Replay(context.Background())
	require.Error(t, err)

	// "one" drained, "two" failed and stayed, "three" never overtook it.
	entries, lerr := q.Entries()
	require.NoError(t, lerr)
	require.Len(t, entries, 2)
	assert.Equal(t, "two", entries[0].Message)
	assert.Equal(t, 1, entries[0].Attempts)
	assert.Equal(t, "three", entries[1].Message)

	mu.Lock()
	bad = false
	mu.Unlock()

	require.NoError(t, q.Replay(context.Background()))
	n, err := q.Len()
	require.NoError(t, err)
	assert.Zero(t, n)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"one", "two", "two", "three"}, sent)
}

func TestReplaySingleDrainGuard(t *testing.T) {
	rec := newFakeRecorder()
	gate := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	send := func(ctx context.Context, e Entry) (string, error) {
		once.Do(func() { close(started) })
		<-gate
		return "", nil
	}
	q := openTestQueue(t, rec, send)

	_, err := q.Enqueue("blocked", "s1", "m1", models.Context{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- q.Replay(context.Background()) }()
	<-started

	// Concurrent drain is absorbed while the first one is in flight.
	require.NoError(t, q.Replay(context.Background()))
	n, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	close(gate)
	require.NoError(t, <-done)
	n, err = q.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBindReplaysOnConnectivity(t *testing.T) {
	rec := newFakeRecorder()
	var mu sync.Mutex
	var sent []string
	send := func(ctx context.Context, e Entry) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, e.Message)
		return "", nil
	}
	q := openTestQueue(t, rec, send)

	_, err := q.Enqueue("while offline", "s1", "m1", models.Context{})
	require.NoError(t, err)

	bus := EventBus.New()
	require.NoError(t, q.Bind(bus))

	bus.Publish(TopicConnectivity, false)
	assert.False(t, q.Online())

	bus.Publish(TopicConnectivity, true)
	assert.True(t, q.Online())

	require.Eventually(t, func() bool {
		n, lerr := q.Len()
		return lerr == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"while offline"}, sent)
}

func TestQueueSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	rec := newFakeRecorder()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	q, err := Open(dir, rec, nil, log)
	require.NoError(t, err)
	_, err = q.Enqueue("persisted", "s1", "m1", models.Context{})
	require.NoError(t, err)
	require.NoError(t, q.Close())

	q2, err := Open(dir, rec, nil, log)
	require.NoError(t, err)
	defer q2.Close()

	entries, err := q2.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "persisted", entries[0].Message)
}
