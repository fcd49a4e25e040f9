package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type is the kind of a stream event.
type Type string

// Event types.
const (
	AnalysisStarted       Type = "analysis_started"
	AnalysisCompleted     Type = "analysis_completed"
	SegmentationStarted   Type = "segmentation_started"
	SegmentationCompleted Type = "segmentation_completed"
	GenerationStarted     Type = "generation_started"
	GenerationProgress    Type = "generation_progress"
	GenerationCompleted   Type = "generation_completed"
	ParsingStarted        Type = "parsing_started"
	ParsingCompleted      Type = "parsing_completed"
	Result                Type = "result"
	Error                 Type = "error"
	Cancelled             Type = "cancelled"
)

// Terminal reports whether t ends a stream.
func (t Type) Terminal() bool {
	return t == Result || t == Error || t == Cancelled
}

// ErrorKind classifies a failed run for the caller.
type ErrorKind string

// Error kinds.
const (
	KindEmptyInput         ErrorKind = "empty_input"
	KindInvalidRequest     ErrorKind = "invalid_request"
	KindProvidersExhausted ErrorKind = "providers_exhausted"
	KindRateLimited        ErrorKind = "rate_limited"
	KindContentBlocked     ErrorKind = "content_blocked"
	KindInternal           ErrorKind = "internal"
)

// ErrorInfo is the error payload of an error event.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Hint    string    `json:"hint,omitempty"`
}

// Event is one message of a run's stream.
type Event struct {
	// ID is a ULID, unique across runs and sortable by creation time
	ID string `json:"id"`

	// RunID is zero for the error event of a request that never started
	RunID uuid.UUID `json:"run_id"`

	// Seq numbers the events of a run from 1
	Seq int `json:"seq"`

	Type     Type            `json:"type"`
	Progress int             `json:"progress"`
	Message  string          `json:"message,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    *ErrorInfo      `json:"error,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// UnmarshalData decodes the event data into v.
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *Event) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event *Event) error

// HandleEvent implements EventHandler.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *Event) error
}
