package track

import "fmt"

// Status is the lifecycle state of a stored track. The engine assigns
// active or needs_review; confirmed and flagged are reachable only through
// human reconciliation.
type Status string

const (
	StatusActive      Status = "active"
	StatusNeedsReview Status = "needs_review"
	StatusConfirmed   Status = "confirmed"
	StatusFlagged     Status = "flagged"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusNeedsReview, StatusConfirmed, StatusFlagged:
		return true
	}
	return false
}

// Action is a human reconciliation decision.
type Action string

const (
	ActionConfirm Action = "confirm"
	ActionFlag    Action = "flag"
)

// Valid reports whether a is a known reconciliation action.
func (a Action) Valid() bool {
	return a == ActionConfirm || a == ActionFlag
}

// Transition applies a reconciliation action to s. Only needs_review
// accepts actions: confirm yields confirmed, flag yields flagged. Every
// other combination fails with ErrInvalidTransition, including a repeated
// confirm on an already confirmed track.
func (s Status) Transition(a Action) (Status, error) {
	if s != StatusNeedsReview {
		return s, fmt.Errorf("%w: cannot %s a track in status %q", ErrInvalidTransition, a, s)
	}
	switch a {
	case ActionConfirm:
		return StatusConfirmed, nil
	case ActionFlag:
		return StatusFlagged, nil
	default:
		return s, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, a)
	}
}
