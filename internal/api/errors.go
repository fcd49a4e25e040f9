package api

import (
	"errors"
	"net/http"

	"github.com/phrazzld/scry-pipeline/internal/auth"
	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/provider"
	"github.com/phrazzld/scry-pipeline/internal/sink"
	"github.com/phrazzld/scry-pipeline/internal/store"
	"github.com/phrazzld/scry-pipeline/internal/task"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking internal error types to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized

	case store.IsNotFoundError(err),
		errors.Is(err, provider.ErrUnknownProvider):
		return http.StatusNotFound

	case store.IsDuplicateError(err):
		return http.StatusConflict

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrEmptyContent),
		errors.Is(err, domain.ErrInvalidCardType),
		errors.Is(err, domain.ErrInvalidModelRef),
		errors.Is(err, sink.ErrInvalidCard):
		return http.StatusBadRequest

	case errors.Is(err, provider.ErrRateLimited):
		return http.StatusTooManyRequests

	case errors.Is(err, task.ErrQueueFull),
		errors.Is(err, task.ErrQueueClosed):
		return http.StatusServiceUnavailable

	case errors.Is(err, provider.ErrUnsupported):
		return http.StatusNotImplemented

	case errors.Is(err, provider.ErrTimeout):
		return http.StatusGatewayTimeout

	case errors.Is(err, provider.ErrUnavailable),
		errors.Is(err, provider.ErrInvalidRequest),
		errors.Is(err, provider.ErrMalformedResponse),
		errors.Is(err, provider.ErrAllProvidersExhausted):
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a user-facing message for err.
func GetSafeErrorMessage(err error) string {
	switch {
	case err == nil:
		return "An unexpected error occurred"
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return "Invalid token"
	case errors.Is(err, store.ErrTaskNotFound):
		return "Export task not found"
	case errors.Is(err, store.ErrNotFound):
		return "Not found"
	case errors.Is(err, provider.ErrUnknownProvider):
		return "Unknown provider"
	case errors.Is(err, sink.ErrInvalidCard):
		return "Invalid export cards"
	case errors.Is(err, domain.ErrEmptyContent):
		return "Content cannot be empty"
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidCardType),
		errors.Is(err, domain.ErrInvalidModelRef):
		return "Invalid request"
	case errors.Is(err, provider.ErrRateLimited):
		return "Provider rate limit reached, try again shortly"
	case errors.Is(err, task.ErrQueueFull), errors.Is(err, task.ErrQueueClosed):
		return "Export queue is unavailable, try again later"
	case errors.Is(err, provider.ErrUnsupported):
		return "Not supported by this provider"
	case errors.Is(err, provider.ErrTimeout):
		return "Provider timed out"
	case errors.Is(err, provider.ErrUnavailable),
		errors.Is(err, provider.ErrInvalidRequest),
		errors.Is(err, provider.ErrMalformedResponse),
		errors.Is(err, provider.ErrAllProvidersExhausted):
		return "Provider request failed"
	default:
		return "An unexpected error occurred"
	}
}
