// Package models defines data structures for the Mailmind assistant client.
package models

import (
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Reference points at a source the assistant used for an answer
// (an email, a task, or an external document).
type Reference struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// TaskSuggestion is a follow-up action the assistant proposes alongside
// an answer.
type TaskSuggestion struct {
	Title   string `json:"title"`
	DueDate string `json:"due_date,omitempty"`
	EmailID string `json:"email_id,omitempty"`
}

// Metadata carries the non-content attributes of an assistant message.
// All fields are optional; the stream fills them in as frames arrive.
type Metadata struct {
	Model           string           `json:"model,omitempty"`
	GenerationTime  float64          `json:"generation_time,omitempty"`
	Trace           string           `json:"trace,omitempty"`
	References      []Reference      `json:"references,omitempty"`
	TaskSuggestions []TaskSuggestion `json:"task_suggestions,omitempty"`

	// Pending marks a locally queued message that has not reached the
	// server yet. Cleared on reconciliation after replay.
	Pending bool `json:"pending,omitempty"`

	// Error holds the failure description attached to a message whose
	// exchange ended in an error. Accumulated content is kept next to it.
	Error string `json:"error,omitempty"`
}

// Merge overlays non-zero fields of other onto m. Used for the completion
// frame of a stream and for the single response of the non-streaming path,
// so both produce identically shaped metadata.
func (m *Metadata) Merge(other Metadata) {
	if other.Model != "" {
		m.Model = other.Model
	}
	if other.GenerationTime != 0 {
		m.GenerationTime = other.GenerationTime
	}
	if other.Trace != "" {
		m.Trace = other.Trace
	}
	if other.References != nil {
		m.References = other.References
	}
	if other.TaskSuggestions != nil {
		m.TaskSuggestions = other.TaskSuggestions
	}
}

// Message is a single chat message within a session.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  Metadata  `json:"metadata,omitempty"`
}

// Session represents a persistent conversation with the assistant.
type Session struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
	ModelName    string    `json:"model_name"`
}

// Context scopes a message to the email or task the user is looking at.
type Context struct {
	EmailID string `json:"email_id,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
}
