package pipeline

import (
	"errors"

	"github.com/phrazzld/scry-pipeline/internal/cancel"
	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/events"
	"github.com/phrazzld/scry-pipeline/internal/provider"
	"github.com/phrazzld/scry-pipeline/internal/redact"
)

var (
	// ErrCancelled is returned by Run when the run was cancelled.
	ErrCancelled = cancel.ErrCancelled

	// ErrAllSegmentsBlocked is returned when the provider refused every
	// segment of the text.
	ErrAllSegmentsBlocked = errors.New("every segment was blocked by provider safety filters")
)

// TimeoutHint is attached to errors caused by slow providers.
const TimeoutHint = "select a smaller excerpt"

// ErrorKind maps a run error onto the kind reported in its error event.
func ErrorKind(err error) events.ErrorKind {
	switch {
	case errors.Is(err, domain.ErrEmptyContent):
		return events.KindEmptyInput
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidCardType),
		errors.Is(err, domain.ErrInvalidModelRef):
		return events.KindInvalidRequest
	case errors.Is(err, provider.ErrRateLimited):
		return events.KindRateLimited
	case errors.Is(err, provider.ErrAllProvidersExhausted):
		return events.KindProvidersExhausted
	case errors.Is(err, ErrAllSegmentsBlocked), errors.Is(err, provider.ErrContentBlocked):
		return events.KindContentBlocked
	default:
		return events.KindInternal
	}
}

// ErrorInfo builds the error payload for err. Messages are redacted.
func ErrorInfo(err error) events.ErrorInfo {
	info := events.ErrorInfo{Kind: ErrorKind(err), Message: redact.Error(err)}
	switch {
	case errors.Is(err, provider.ErrTimeout):
		info.Hint = TimeoutHint
	case info.Kind == events.KindRateLimited:
		info.Hint = "wait a moment and try again"
	case info.Kind == events.KindContentBlocked:
		info.Hint = "select a different excerpt"
	case info.Kind == events.KindInternal:
		info.Message = "internal error while generating cards"
	}
	return info
}
