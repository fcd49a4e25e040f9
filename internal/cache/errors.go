package cache

import "errors"

var (
	// ErrInvalidOptions is returned when cache sizes are not positive.
	ErrInvalidOptions = errors.New("invalid cache options")

	// ErrUnknownKind is returned for an entry kind the layer does not hold.
	ErrUnknownKind = errors.New("unknown cache kind")
)
