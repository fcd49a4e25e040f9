package segment

import "errors"

// ErrNoSegments is returned by a strategy that produced nothing usable.
var ErrNoSegments = errors.New("no usable segments")
