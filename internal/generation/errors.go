package generation

import "errors"

// Common errors returned by the generation package
var (
	// ErrGenerationFailed is returned when card generation fails for any general reason
	ErrGenerationFailed = errors.New("failed to generate cards from segment")

	// ErrInvalidResponse is returned when the model response holds no card array
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrEmptySegment is returned for a segment without text
	ErrEmptySegment = errors.New("segment text is empty")
)
