// Package memory holds tracks in process memory. It backs demos and tests
// and is the default store when no database is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meditrack/backend/pkg/store"
	"github.com/meditrack/backend/pkg/track"
)

type MemoryStorage struct {
	mu     sync.Mutex
	tracks map[string]track.Track
}

var _ store.TrackStorage = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{tracks: make(map[string]track.Track)}
}

// StoreBatch applies the merge policy and commits the whole batch under one
// lock acquisition, so a concurrent reader never sees a half-stored run.
// Writes are staged by track identifier and merge targets are resolved
// against the staged state, so two tracks of one batch hitting the same
// stored track fold into it in sequence instead of the later one clobbering
// the earlier merge. A cancelled context leaves the store untouched.
func (s *MemoryStorage) StoreBatch(ctx context.Context, tracks []track.Track) ([]track.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	staged := make(map[string]track.Track, len(tracks))
	ids := make([]string, 0, len(tracks))
	for _, incoming := range tracks {
		target, found := s.findMergeable(staged, incoming)
		if !found {
			incoming.Version = 1
			incoming.CreatedAt = now
			incoming.UpdatedAt = now
			staged[incoming.ID] = incoming
			ids = append(ids, incoming.ID)
			continue
		}
		merged, changed := store.Merge(target, incoming)
		if changed {
			merged.Version++
			merged.UpdatedAt = now
		}
		staged[merged.ID] = merged
		ids = append(ids, merged.ID)
	}

	out := make([]track.Track, 0, len(ids))
	for _, id := range ids {
		out = append(out, staged[id])
	}
	for id, t := range staged {
		s.tracks[id] = t
	}
	return out, nil
}

// findMergeable scans stored tracks with staged writes overlaid, plus
// tracks newly staged in this batch.
func (s *MemoryStorage) findMergeable(staged map[string]track.Track, incoming track.Track) (track.Track, bool) {
	var (
		best  track.Track
		found bool
	)
	consider := func(stored track.Track) {
		if !store.Mergeable(stored, incoming) {
			return
		}
		if !found || stored.CreatedAt.Before(best.CreatedAt) {
			best = stored
			found = true
		}
	}
	for id, stored := range s.tracks {
		if pending, ok := staged[id]; ok {
			stored = pending
		}
		consider(stored)
	}
	for id, pending := range staged {
		if _, ok := s.tracks[id]; ok {
			continue
		}
		consider(pending)
	}
	return best, found
}

func (s *MemoryStorage) GetTrack(ctx context.Context, id string) (track.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return track.Track{}, err
	}
	t, ok := s.tracks[id]
	if !ok {
		return track.Track{}, track.NotFoundError(id)
	}
	return t, nil
}

// ListTracks returns matching tracks ordered by start time, ties broken by
// identifier, so repeated calls over unchanged data paginate stably.
func (s *MemoryStorage) ListTracks(ctx context.Context, filter store.ListFilter) ([]track.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]track.Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.LocationID != "" && !visits(t, filter.LocationID) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func visits(t track.Track, locationID string) bool {
	for _, loc := range t.Locations {
		if loc == locationID {
			return true
		}
	}
	return false
}

func (s *MemoryStorage) Reconcile(ctx context.Context, id string, action track.Action, expectedVersion int64) (track.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return track.Track{}, err
	}
	t, ok := s.tracks[id]
	if !ok {
		return track.Track{}, track.NotFoundError(id)
	}
	if expectedVersion >= 0 && t.Version != expectedVersion {
		return track.Track{}, track.ConflictError(id, expectedVersion, t.Version)
	}

	next, err := t.Status.Transition(action)
	if err != nil {
		return track.Track{}, err
	}
	t.Status = next
	t.Version++
	t.UpdatedAt = time.Now().UTC()
	s.tracks[id] = t
	return t, nil
}

func (s *MemoryStorage) DeleteTrack(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := s.tracks[id]; !ok {
		return track.NotFoundError(id)
	}
	delete(s.tracks, id)
	return nil
}
