package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/phrazzld/scry-pipeline/internal/cancel"
	"github.com/phrazzld/scry-pipeline/internal/provider"
	"github.com/phrazzld/scry-pipeline/internal/redact"
)

// maxRetries bounds the retries of one provider call. Transient failures
// get one retry before fallback and rate limits one backoff attempt before
// they surface.
const maxRetries = 1

// callWithRetry runs call against one provider. Each attempt gets its own
// deadline on a context detached from the caller's cancellation, so a
// cancelled run never interrupts a call already in flight. Transient and
// rate limit failures are retried once after an exponential backoff with
// jitter.
func callWithRetry[T any](
	ctx context.Context,
	g *Gateway,
	t target,
	op string,
	call func(context.Context) (T, error),
) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		if err := cancel.Check(ctx); err != nil {
			return zero, err
		}

		callCtx, cancelCall := context.WithTimeout(context.WithoutCancel(ctx), t.route.Timeout)
		start := time.Now()
		out, err := call(callCtx)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancelCall()

		if err == nil {
			g.logger.DebugContext(ctx, "provider call succeeded",
				"op", op, "provider", t.id, "model", t.model,
				"attempt", attempt+1, "duration_ms", time.Since(start).Milliseconds())
			return out, nil
		}

		switch {
		case timedOut && !errors.Is(err, provider.ErrTimeout):
			err = fmt.Errorf("%w: %s exceeded %s: %w", provider.ErrTimeout, t.id, t.route.Timeout, err)
		case !provider.Classified(err):
			err = provider.WrapTransport(t.id, err)
		}

		retryable := provider.IsTransient(err) || errors.Is(err, provider.ErrRateLimited)
		if !retryable || attempt >= maxRetries {
			g.logger.WarnContext(ctx, "provider call failed",
				"op", op, "provider", t.id, "model", t.model,
				"attempt", attempt+1, "error", redact.Error(err))
			return zero, err
		}

		delay := backoff(g.cfg.RetryDelay, attempt)
		g.logger.InfoContext(ctx, "retrying provider call after delay",
			"op", op, "provider", t.id, "attempt", attempt+1,
			"delay_ms", delay.Milliseconds(), "error", redact.Error(err))
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

// backoff returns base * 2^attempt * (0.5 + rand(0, 0.5)).
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := float64(base) * math.Pow(2, float64(attempt))
	return time.Duration(d * (0.5 + rand.Float64()*0.5))
}

// sleep waits for d, returning early with ErrCancelled when ctx is done or
// the run's token is set.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return cancel.Check(ctx)
	}
	var tokenDone <-chan struct{}
	if t := cancel.FromContext(ctx); t != nil {
		tokenDone = t.Done()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-tokenDone:
		return provider.ErrCancelled
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", provider.ErrCancelled, ctx.Err())
	}
}
