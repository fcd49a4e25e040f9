package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/phrazzld/scry-pipeline/internal/cancel"
)

// Provider error taxonomy.
var (
	// ErrUnavailable covers network and authentication failures and 5xx
	// responses. The gateway retries once, then falls back.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrTimeout is returned when a call exceeds its deadline. It is handled
	// like ErrUnavailable.
	ErrTimeout = errors.New("provider timeout")

	// ErrRateLimited is returned on quota exhaustion. It is retried once
	// after a backoff and then surfaced.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrMalformedResponse is returned when a response cannot be used.
	ErrMalformedResponse = errors.New("malformed provider response")

	// ErrContentBlocked is returned when the provider refuses the content.
	ErrContentBlocked = errors.New("content blocked by provider safety filters")

	// ErrUnsupported is returned when a provider lacks a capability, such
	// as embeddings.
	ErrUnsupported = errors.New("capability not supported by provider")

	// ErrInvalidRequest is returned for 4xx responses other than auth and
	// rate limiting, e.g. an unknown model name.
	ErrInvalidRequest = errors.New("invalid provider request")

	// ErrAllProvidersExhausted is returned when every provider in the
	// fallback chain failed.
	ErrAllProvidersExhausted = errors.New("all providers exhausted")

	// ErrCancelled is returned when the run was cancelled before a call.
	ErrCancelled = cancel.ErrCancelled

	// ErrUnknownProvider is returned for a model ref naming an unconfigured
	// provider.
	ErrUnknownProvider = errors.New("unknown provider")
)

// ClassifyStatus maps an HTTP status code onto the taxonomy.
func ClassifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrTimeout
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnavailable
	case status >= 500:
		return ErrUnavailable
	case status >= 400:
		return ErrInvalidRequest
	default:
		return ErrUnavailable
	}
}

// WrapStatus wraps err with the sentinel for status.
func WrapStatus(providerID string, status int, err error) error {
	return fmt.Errorf("%w: %s returned status %d: %w", ClassifyStatus(status), providerID, status, err)
}

// WrapTransport classifies an error that carries no HTTP status: context
// deadlines become ErrTimeout, anything else ErrUnavailable.
func WrapTransport(providerID string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, providerID, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, providerID, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, providerID, err)
}

// IsTransient reports whether err should be retried and then fall back.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout)
}

// Classified reports whether err already wraps a taxonomy sentinel.
func Classified(err error) bool {
	for _, sentinel := range []error{
		ErrUnavailable, ErrTimeout, ErrRateLimited, ErrMalformedResponse,
		ErrContentBlocked, ErrUnsupported, ErrInvalidRequest,
		ErrAllProvidersExhausted, ErrCancelled, ErrUnknownProvider,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
