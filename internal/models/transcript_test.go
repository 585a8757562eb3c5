package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptAppendAndSeed(t *testing.T) {
	tr := NewTranscript()
	tr.Append(&Message{ID: "u1", Role: RoleUser, Content: "hi"})
	tr.Append(&Message{ID: "a1", Role: RoleAssistant, Content: "hello"})

	require.Equal(t, 2, tr.Len())
	assert.Equal(t, "u1", tr.Messages()[0].ID)
	assert.Equal(t, "a1", tr.Messages()[1].ID)

	tr.Seed([]*Message{{ID: "x1", Role: RoleUser}})
	require.Equal(t, 1, tr.Len())
	assert.Equal(t, "x1", tr.Messages()[0].ID)
}

func TestTranscriptGetAndRemove(t *testing.T) {
	tr := NewTranscript()
	tr.Append(&Message{ID: "u1"})
	tr.Append(&Message{ID: "a1"})

	require.NotNil(t, tr.Get("a1"))
	assert.Nil(t, tr.Get("missing"))

	tr.Remove("u1")
	assert.Equal(t, 1, tr.Len())
	assert.Nil(t, tr.Get("u1"))

	// Removing an unknown id is a no-op.
	tr.Remove("missing")
	assert.Equal(t, 1, tr.Len())
}

func TestTranscriptReconcile(t *testing.T) {
	tr := NewTranscript()
	tr.Append(&Message{ID: "local-1", Metadata: Metadata{Pending: true}})

	require.True(t, tr.Reconcile("local-1", "srv-9"))

	msg := tr.Get("srv-9")
	require.NotNil(t, msg)
	assert.False(t, msg.Metadata.Pending)
	assert.Nil(t, tr.Get("local-1"))

	assert.False(t, tr.Reconcile("local-1", "srv-9"))
}

func TestMetadataMerge(t *testing.T) {
	m := Metadata{
		Trace:      "early reasoning",
		References: []Reference{{Type: "email", ID: "e1"}},
	}

	m.Merge(Metadata{
		Model:          "m1",
		GenerationTime: 1.2,
		References:     []Reference{{Type: "email", ID: "e2"}},
	})

	assert.Equal(t, "m1", m.Model)
	assert.InDelta(t, 1.2, m.GenerationTime, 1e-9)
	// Zero fields in the overlay leave existing values alone.
	assert.Equal(t, "early reasoning", m.Trace)
	require.Len(t, m.References, 1)
	assert.Equal(t, "e2", m.References[0].ID)
}
