// Package cancel provides the cooperative, run-scoped cancellation token.
// A token is set once and checked at stage boundaries and before every
// provider call; it never interrupts a call already in flight.
package cancel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrCancelled is returned by Check once the run has been cancelled.
var ErrCancelled = errors.New("cancelled by caller")

// Token is a one-shot cancellation flag with a done channel.
type Token struct {
	flag atomic.Bool
	once sync.Once
	done chan struct{}
}

// New returns an unset token.
func New() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel sets the token. It reports whether this call was the one that set
// it.
func (t *Token) Cancel() bool {
	set := false
	t.once.Do(func() {
		t.flag.Store(true)
		close(t.done)
		set = true
	})
	return set
}

// Cancelled reports whether the token is set.
func (t *Token) Cancelled() bool {
	return t.flag.Load()
}

// Done is closed when the token is set.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

type contextKey struct{}

// WithToken returns a copy of ctx carrying t.
func WithToken(ctx context.Context, t *Token) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext returns the token in ctx, or nil.
func FromContext(ctx context.Context) *Token {
	t, _ := ctx.Value(contextKey{}).(*Token)
	return t
}

// Check returns ErrCancelled when the token in ctx is set or ctx itself is
// done.
func Check(ctx context.Context) error {
	if t := FromContext(ctx); t != nil && t.Cancelled() {
		return ErrCancelled
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return nil
}
