package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrSinkClosed is returned when sending to a closed channel sink.
var ErrSinkClosed = errors.New("event sink closed")

// ChannelSink forwards events to a channel. Sends block until the reader
// takes the event or ctx is done.
type ChannelSink struct {
	mu     sync.RWMutex
	ch     chan *Event
	closed bool
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan *Event, buffer)}
}

// Events returns the receive side.
func (s *ChannelSink) Events() <-chan *Event {
	return s.ch
}

// HandleEvent implements EventHandler. The channel is closed after the
// terminal event.
func (s *ChannelSink) HandleEvent(ctx context.Context, event *Event) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrSinkClosed
	}
	select {
	case s.ch <- event:
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}
	s.mu.RUnlock()

	if event.Type.Terminal() {
		s.Close()
	}
	return nil
}

// Close closes the channel. It is safe to call more than once.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Recorder keeps every event it receives. It is meant for tests and the CLI
// summary output.
type Recorder struct {
	mu     sync.Mutex
	events []*Event
}

// HandleEvent implements EventHandler.
func (r *Recorder) HandleEvent(_ context.Context, event *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// Last returns the last recorded event, or nil.
func (r *Recorder) Last() *Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

// JSONLinesHandler writes each event as one line of JSON.
type JSONLinesHandler struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLinesHandler creates a handler writing to w.
func NewJSONLinesHandler(w io.Writer) *JSONLinesHandler {
	return &JSONLinesHandler{enc: json.NewEncoder(w)}
}

// HandleEvent implements EventHandler.
func (h *JSONLinesHandler) HandleEvent(_ context.Context, event *Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enc.Encode(event)
}

// WriteSSE writes event in server-sent events framing.
func WriteSSE(w io.Writer, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Seq, event.Type, data)
	return err
}
