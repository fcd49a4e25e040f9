package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/phrazzld/scry-pipeline/internal/redact"
)

// Stream is the event stream of one run. It is safe for concurrent use;
// events are delivered one at a time in Seq order.
type Stream struct {
	runID   uuid.UUID
	emitter EventEmitter
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	seq      int
	progress int
	terminal Type
}

// NewStream creates the stream of run runID.
func NewStream(runID uuid.UUID, emitter EventEmitter, logger *slog.Logger) *Stream {
	return &Stream{
		runID:   runID,
		emitter: emitter,
		logger:  logger.With("component", "event_stream", "run_id", runID),
		now:     time.Now,
	}
}

// Emit sends an event. Progress below the last reported value is raised to
// it and values above 100 are clamped. Emit reports false when the event was
// dropped because the stream already ended.
func (s *Stream) Emit(ctx context.Context, typ Type, progress int, message string, data any) bool {
	return s.emit(ctx, typ, progress, message, data, nil)
}

// Result ends the stream with the result event at progress 100.
func (s *Stream) Result(ctx context.Context, message string, data any) bool {
	return s.emit(ctx, Result, 100, message, data, nil)
}

// Fail ends the stream with an error event.
func (s *Stream) Fail(ctx context.Context, info ErrorInfo) bool {
	return s.emit(ctx, Error, 0, info.Message, nil, &info)
}

// Cancel ends the stream with a cancelled event.
func (s *Stream) Cancel(ctx context.Context, message string) bool {
	return s.emit(ctx, Cancelled, 0, message, nil, nil)
}

// Closed reports whether a terminal event was sent.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal != ""
}

// Terminal returns the type of the terminal event, or "" while open.
func (s *Stream) Terminal() Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}

// Progress returns the last reported progress.
func (s *Stream) Progress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

func (s *Stream) emit(ctx context.Context, typ Type, progress int, message string, data any, info *ErrorInfo) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminal != "" {
		s.logger.DebugContext(ctx, "dropping event after terminal event",
			"event_type", typ, "terminal", s.terminal)
		return false
	}

	progress = min(progress, 100)
	if progress > s.progress {
		s.progress = progress
	}
	s.seq++

	event := &Event{
		ID:        ulid.Make().String(),
		RunID:     s.runID,
		Seq:       s.seq,
		Type:      typ,
		Progress:  s.progress,
		Message:   message,
		Error:     info,
		Timestamp: s.now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to encode event data", "event_type", typ, "error", err)
		} else {
			event.Data = raw
		}
	}
	if typ.Terminal() {
		s.terminal = typ
	}

	if err := s.emitter.EmitEvent(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "event delivery failed", "event_type", typ, "error", redact.Error(err))
	}
	return true
}

// Single builds a standalone error event for a request that never became a
// run, such as one with empty input.
func Single(info ErrorInfo) *Event {
	return &Event{
		ID:        ulid.Make().String(),
		Seq:       1,
		Type:      Error,
		Message:   info.Message,
		Error:     &info,
		Timestamp: time.Now().UTC(),
	}
}

// String renders an event for logs.
func (e *Event) String() string {
	return fmt.Sprintf("#%d %s %d%%", e.Seq, e.Type, e.Progress)
}
