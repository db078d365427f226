package track

import (
	"errors"
	"fmt"
)

// Domain errors. Handlers and queue consumers match on these with
// errors.Is; each wrapping site attaches the offending identifier so the
// caller can correct its input.
var (
	ErrInvalidTopology        = errors.New("invalid topology")
	ErrUnknownLocation        = errors.New("unknown location")
	ErrEmptyBatch             = errors.New("empty detection batch")
	ErrInvalidDetection       = errors.New("invalid detection")
	ErrTrackNotFound          = errors.New("track not found")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrConcurrentModification = errors.New("track modified concurrently")
)

// UnknownLocationError wraps ErrUnknownLocation with the identifier that
// was not present in the topology.
func UnknownLocationError(locationID string) error {
	return fmt.Errorf("%w: %q", ErrUnknownLocation, locationID)
}

// NotFoundError wraps ErrTrackNotFound with the requested track identifier.
func NotFoundError(trackID string) error {
	return fmt.Errorf("%w: %q", ErrTrackNotFound, trackID)
}

// ConflictError wraps ErrConcurrentModification with the version the caller
// presented and the version currently stored.
func ConflictError(trackID string, expected, actual int64) error {
	return fmt.Errorf("%w: track %q at version %d, expected %d",
		ErrConcurrentModification, trackID, actual, expected)
}
