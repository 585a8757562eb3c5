// Package stream decodes the assistant's chunked response stream into
// typed protocol frames.
package stream

import (
	"encoding/json"
	"fmt"

	"github.com/mailmind/mailmind-go/internal/models"
)

// FrameType discriminates the protocol frames the server emits.
type FrameType string

const (
	FrameTextChunk      FrameType = "text-chunk"
	FrameReferenceSet   FrameType = "reference-set"
	FrameReasoningTrace FrameType = "reasoning-trace"
	FrameCompletion     FrameType = "completion"
	FrameError          FrameType = "error"
)

// Frame is one decoded protocol unit. Only the field matching Type is set;
// unrecognized types keep the raw type string so the dispatcher can log them.
type Frame struct {
	Type FrameType

	// Text carries the content delta of a text-chunk frame.
	Text string

	// References is the best-known-so-far set of a reference-set frame.
	References []models.Reference

	// Trace is the reasoning text of a reasoning-trace frame.
	Trace string

	// Completion holds the final metadata of a completion frame.
	Completion models.Metadata

	// ErrMessage is the server-reported failure of an error frame.
	ErrMessage string
}

// completionData is the wire shape of the completion payload.
type completionData struct {
	Model           string                  `json:"model,omitempty"`
	GenerationTime  float64                 `json:"generation_time,omitempty"`
	References      []models.Reference      `json:"references,omitempty"`
	TaskSuggestions []models.TaskSuggestion `json:"task_suggestions,omitempty"`
}

// parseFrame decodes one data payload into a Frame. The type discriminant
// is read first; the payload is then re-parsed with the matching shape.
func parseFrame(payload []byte) (Frame, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return Frame{}, fmt.Errorf("parse frame header: %w", err)
	}
	if head.Type == "" {
		return Frame{}, fmt.Errorf("frame missing type discriminant")
	}

	frame := Frame{Type: FrameType(head.Type)}

	switch frame.Type {
	case FrameTextChunk:
		var body struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return Frame{}, fmt.Errorf("parse text-chunk: %w", err)
		}
		frame.Text = body.Text

	case FrameReferenceSet:
		var body struct {
			Data []models.Reference `json:"data"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return Frame{}, fmt.Errorf("parse reference-set: %w", err)
		}
		frame.References = body.Data

	case FrameReasoningTrace:
		var body struct {
			Data string `json:"data"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return Frame{}, fmt.Errorf("parse reasoning-trace: %w", err)
		}
		frame.Trace = body.Data

	case FrameCompletion:
		var body struct {
			Data completionData `json:"data"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return Frame{}, fmt.Errorf("parse completion: %w", err)
		}
		frame.Completion = models.Metadata{
			Model:           body.Data.Model,
			GenerationTime:  body.Data.GenerationTime,
			References:      body.Data.References,
			TaskSuggestions: body.Data.TaskSuggestions,
		}

	case FrameError:
		var body struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return Frame{}, fmt.Errorf("parse error frame: %w", err)
		}
		frame.ErrMessage = body.Message

	default:
		// Unknown type: keep it, the dispatcher decides what to do.
	}

	return frame, nil
}
