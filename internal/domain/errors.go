package domain

import "errors"

// Common domain errors used across the pipeline.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrEmptyContent is returned when required text content is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrInvalidCardType is returned when a card type is not recognized.
	ErrInvalidCardType = errors.New("invalid card type")

	// ErrInvalidModelRef is returned when a model reference cannot be parsed.
	ErrInvalidModelRef = errors.New("invalid model reference")

	// ErrInvalidTransition is returned when a card candidate is moved to a
	// stage it cannot reach from its current stage.
	ErrInvalidTransition = errors.New("invalid candidate stage transition")

	// ErrInvalidSegment is returned when a topic segment has bad offsets or label.
	ErrInvalidSegment = errors.New("invalid topic segment")
)
