package models

import (
	"sync"
)

// Transcript is the in-memory, insertion-ordered message sequence of one
// session. The exchange manager appends the user message and the assistant
// placeholder here; the offline queue appends pending entries and
// reconciles them after replay.
type Transcript struct {
	mu   sync.RWMutex
	msgs []*Message
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Seed replaces the transcript contents with messages loaded from the
// persistence service. Conversation order is the given slice order.
func (t *Transcript) Seed(msgs []*Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgs = append(t.msgs[:0], msgs...)
}

// Append adds a message at the end of the conversation.
func (t *Transcript) Append(msg *Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgs = append(t.msgs, msg)
}

// Get returns the message with the given id, or nil.
func (t *Transcript) Get(id string) *Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, m := range t.msgs {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.msgs)
}

// Messages returns a copy of the ordered message slice.
func (t *Transcript) Messages() []*Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Remove deletes the message with the given id. Used to drop an empty
// assistant placeholder when its send is adopted by the offline queue.
func (t *Transcript) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, m := range t.msgs {
		if m.ID == id {
			t.msgs = append(t.msgs[:i], t.msgs[i+1:]...)
			return
		}
	}
}

// Reconcile swaps a provisional local id for the server-assigned one and
// clears the pending flag, keeping a single record for the logical message.
// Returns false if no message carries the provisional id.
func (t *Transcript) Reconcile(provisionalID, serverID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.msgs {
		if m.ID == provisionalID {
			m.ID = serverID
			m.Metadata.Pending = false
			return true
		}
	}
	return false
}
