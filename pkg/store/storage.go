// Package store defines persistence for reconstructed tracks. The
// TrackStorage interface has two implementations: an in-process store for
// demos and tests, and a Postgres store for deployments. Both apply the
// same re-association merge policy and the same optimistic-concurrency
// contract.
package store

import (
	"context"

	"github.com/meditrack/backend/pkg/track"
)

// ListFilter narrows ListTracks results. Zero fields match everything.
type ListFilter struct {
	// Status keeps only tracks in the given lifecycle status.
	Status track.Status
	// LocationID keeps only tracks whose visit sequence involves the
	// given location.
	LocationID string
}

// TrackStorage persists tracks and applies reconciliation decisions.
//
// StoreBatch is atomic: either every track of the batch is committed
// (merged or inserted) or none is. Reconcile and merge writes on a track
// that has moved past the version the caller read fail with
// ErrConcurrentModification; the caller retries rather than overwriting.
type TrackStorage interface {
	// StoreBatch commits the result of one association run, applying the
	// merge policy against previously stored tracks. It returns the
	// tracks as stored (merged tracks keep their original identifier).
	StoreBatch(ctx context.Context, tracks []track.Track) ([]track.Track, error)

	// GetTrack returns a track by identifier, or ErrTrackNotFound.
	GetTrack(ctx context.Context, id string) (track.Track, error)

	// ListTracks returns tracks matching the filter in stable order.
	ListTracks(ctx context.Context, filter ListFilter) ([]track.Track, error)

	// Reconcile applies a human decision to a track in needs_review.
	// expectedVersion is the version the caller read; a negative value
	// skips the optimistic check.
	Reconcile(ctx context.Context, id string, action track.Action, expectedVersion int64) (track.Track, error)

	// DeleteTrack removes a track on explicit external request. The core
	// itself never calls this.
	DeleteTrack(ctx context.Context, id string) error
}
