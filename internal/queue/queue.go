// Package queue implements the durable offline queue: user messages sent
// while disconnected are captured locally and replayed, in order, when
// connectivity returns.
package queue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/cenkalti/backoff/v4"
	badger "github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"

	"github.com/mailmind/mailmind-go/internal/models"
)

// TopicConnectivity is the event bus topic carrying connectivity changes.
// The payload is a single bool: true when the network came back.
const TopicConnectivity = "connectivity:changed"

// entryPrefix namespaces queue keys inside the badger store. The key
// suffix is a big-endian sequence number, so lexicographic iteration is
// enqueue order.
var entryPrefix = []byte("entry/")

// Entry is one queued outbound send.
type Entry struct {
	ID         string         `json:"id"`
	Message    string         `json:"message"`
	SessionID  string         `json:"session_id,omitempty"`
	Context    models.Context `json:"context"`
	ModelName  string         `json:"model_name"`
	MessageID  string         `json:"message_id"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
	Attempts   int            `json:"attempts"`
}

// Sender performs the full exchange path for one entry, as if freshly
// submitted. It returns the server-confirmed message id when the server
// assigns one (empty keeps the provisional id).
type Sender func(ctx context.Context, e Entry) (serverID string, err error)

// Recorder is the transcript surface the queue needs: append the pending
// placeholder on enqueue, reconcile it after a successful replay.
// *models.Transcript satisfies it.
type Recorder interface {
	Append(msg *models.Message)
	Reconcile(provisionalID, serverID string) bool
}

// Queue is a badger-backed FIFO of outbound sends. At most one replay
// pass is active at a time per instance.
type Queue struct {
	db   *badger.DB
	seq  *badger.Sequence
	rec  Recorder
	send Sender
	log  *slog.Logger

	online    atomic.Bool
	replaying atomic.Bool

	// maxSendRetries bounds the per-entry backoff inside one replay pass.
	maxSendRetries uint64
}

// Open opens (or creates) the queue store in dir.
func Open(dir string, rec Recorder, send Sender, log *slog.Logger) (*Queue, error) {
	if log == nil {
		log = slog.Default()
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}
	seq, err := db.GetSequence([]byte("queue/seq"), 64)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open queue sequence: %w", err)
	}
	return &Queue{
		db:             db,
		seq:            seq,
		rec:            rec,
		send:           send,
		log:            log,
		maxSendRetries: 2,
	}, nil
}

// Close releases the sequence and closes the store.
func (q *Queue) Close() error {
	if err := q.seq.Release(); err != nil {
		q.log.Warn("release queue sequence", "error", err)
	}
	return q.db.Close()
}

// Bind subscribes the queue to connectivity changes on the bus. An online
// signal triggers a replay pass; a signal arriving mid-drain is absorbed
// by the single-drain guard.
func (q *Queue) Bind(bus EventBus.Bus) error {
	return bus.Subscribe(TopicConnectivity, func(online bool) {
		q.online.Store(online)
		if !online {
			return
		}
		go func() {
			if err := q.Replay(context.Background()); err != nil {
				q.log.Warn("replay pass stopped", "error", err)
			}
		}()
	})
}

// Online returns the last-known connectivity state.
func (q *Queue) Online() bool {
	return q.online.Load()
}

// SetOnline overrides the connectivity state, for callers without a bus.
func (q *Queue) SetOnline(online bool) {
	q.online.Store(online)
}

// Enqueue captures an outbound send while disconnected. It synchronously
// appends a pending user message with a locally generated id to the
// transcript and stores the entry; no network call is made.
func (q *Queue) Enqueue(message, sessionID, modelName string, mctx models.Context) (string, error) {
	now := time.Now()
	pending := &models.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   message,
		Timestamp: now,
		Metadata:  models.Metadata{Pending: true},
	}
	q.rec.Append(pending)

	entry := Entry{
		ID:         uuid.NewString(),
		Message:    message,
		SessionID:  sessionID,
		Context:    mctx,
		ModelName:  modelName,
		MessageID:  pending.ID,
		EnqueuedAt: now,
	}
	if err := q.store(entry); err != nil {
		return "", err
	}
	return entry.ID, nil
}

// Adopt captures a send whose user message is already in the transcript,
// typically after an exchange failed offline before any byte went out.
// The message is marked pending and queued under its existing id.
func (q *Queue) Adopt(msg *models.Message, modelName string, mctx models.Context) (string, error) {
	msg.Metadata.Pending = true
	entry := Entry{
		ID:         uuid.NewString(),
		Message:    msg.Content,
		SessionID:  msg.SessionID,
		Context:    mctx,
		ModelName:  modelName,
		MessageID:  msg.ID,
		EnqueuedAt: time.Now(),
	}
	if err := q.store(entry); err != nil {
		return "", err
	}
	return entry.ID, nil
}

func (q *Queue) store(e Entry) error {
	n, err := q.seq.Next()
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}
	val, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	err = q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(n), val)
	})
	if err != nil {
		return fmt.Errorf("store entry: %w", err)
	}
	return nil
}

// Entries returns the queued entries in enqueue order.
func (q *Queue) Entries() ([]Entry, error) {
	var out []Entry
	err := q.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(entryPrefix); it.ValidForPrefix(entryPrefix); it.Next() {
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return out, nil
}

// Len returns the number of queued entries.
func (q *Queue) Len() (int, error) {
	entries, err := q.Entries()
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Replay drains queued entries strictly in enqueue order, one full
// exchange each. On a send failure the entry stays queued and the drain
// stops, so later entries never overtake it. Only one drain runs at a
// time; a concurrent call returns immediately.
func (q *Queue) Replay(ctx context.Context) error {
	if !q.replaying.CompareAndSwap(false, true) {
		return nil
	}
	defer q.replaying.Store(false)

	for {
		key, entry, ok, err := q.head()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		entry.Attempts++
		if err := q.update(key, entry); err != nil {
			return err
		}

		serverID, err := q.sendWithRetry(ctx, entry)
		if err != nil {
			q.log.Warn("replay send failed, entry retained",
				"entry", entry.ID, "attempts", entry.Attempts, "error", err)
			return fmt.Errorf("replay entry %s: %w", entry.ID, err)
		}

		if serverID == "" {
			serverID = entry.MessageID
		}
		if !q.rec.Reconcile(entry.MessageID, serverID) {
			q.log.Debug("no pending message to reconcile", "message_id", entry.MessageID)
		}
		if err := q.delete(key); err != nil {
			return err
		}
		q.log.Info("replayed queued message", "entry", entry.ID, "session", entry.SessionID)
	}
}

func (q *Queue) sendWithRetry(ctx context.Context, e Entry) (string, error) {
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), q.maxSendRetries),
		ctx,
	)
	return backoff.RetryWithData(func() (string, error) {
		return q.send(ctx, e)
	}, bo)
}

// head returns the first entry in enqueue order.
func (q *Queue) head() (key []byte, e Entry, ok bool, err error) {
	err = q.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		it.Seek(entryPrefix)
		if !it.ValidForPrefix(entryPrefix) {
			return nil
		}
		item := it.Item()
		key = item.KeyCopy(nil)
		ok = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	if err != nil {
		return nil, Entry{}, false, fmt.Errorf("read queue head: %w", err)
	}
	return key, e, ok, nil
}

func (q *Queue) update(key []byte, e Entry) error {
	val, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	err = q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	return nil
}

func (q *Queue) delete(key []byte) error {
	err := q.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

func entryKey(n uint64) []byte {
	key := make([]byte, len(entryPrefix)+8)
	copy(key, entryPrefix)
	binary.BigEndian.PutUint64(key[len(entryPrefix):], n)
	return key
}
