// Package pgx implements track persistence on PostgreSQL. Links and
// reasons are stored as JSONB alongside the scalar track columns, and
// the merge policy runs inside one transaction with the candidate rows
// locked, so concurrent association runs serialize per overlapping
// track.
package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/meditrack/backend/pkg/store"
	"github.com/meditrack/backend/pkg/track"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

type TrackDBStorage struct {
	conn pgxIConn
}

var _ store.TrackStorage = (*TrackDBStorage)(nil)

// NewTrackDBStorageWithConnection creates a track store on an existing
// connection or pool. The schema comes from the migrations directory.
func NewTrackDBStorageWithConnection(conn pgxIConn) *TrackDBStorage {
	return &TrackDBStorage{conn: conn}
}

const trackColumns = `id, class, links, locations, confidence, status, reasons, start_time, end_time, version, created_at, updated_at`

func scanTrack(row pgxv5.Row) (track.Track, error) {
	var (
		t        track.Track
		linksRaw []byte
	)
	err := row.Scan(
		&t.ID, &t.Class, &linksRaw, &t.Locations, &t.Confidence,
		&t.Status, &t.Reasons, &t.StartTime, &t.EndTime,
		&t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return track.Track{}, err
	}
	if err := json.Unmarshal(linksRaw, &t.Links); err != nil {
		return track.Track{}, fmt.Errorf("decode links for track %s: %w", t.ID, err)
	}
	return t, nil
}

// StoreBatch commits one association run. Candidate merge targets are
// locked with FOR UPDATE before the prefix check, so two overlapping runs
// cannot both extend the same track; everything commits or nothing does.
func (s *TrackDBStorage) StoreBatch(ctx context.Context, tracks []track.Track) ([]track.Track, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	out := make([]track.Track, 0, len(tracks))
	for _, incoming := range tracks {
		stored, err := s.storeOne(ctx, tx, incoming)
		if err != nil {
			return nil, err
		}
		out = append(out, stored)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *TrackDBStorage) storeOne(ctx context.Context, tx pgxv5.Tx, incoming track.Track) (track.Track, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+trackColumns+`
		FROM tracks
		WHERE class = $1 AND start_time <= $2 AND end_time >= $3
		ORDER BY created_at, id
		FOR UPDATE`,
		incoming.Class, incoming.EndTime, incoming.StartTime)
	if err != nil {
		return track.Track{}, err
	}
	candidates, err := pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (track.Track, error) {
		return scanTrack(row)
	})
	if err != nil {
		return track.Track{}, err
	}

	now := time.Now().UTC()
	for _, candidate := range candidates {
		if !store.Mergeable(candidate, incoming) {
			continue
		}
		merged, changed := store.Merge(candidate, incoming)
		if !changed {
			return candidate, nil
		}
		merged.Version++
		merged.UpdatedAt = now
		if err := updateTrack(ctx, tx, merged, candidate.Version); err != nil {
			return track.Track{}, err
		}
		return merged, nil
	}

	incoming.Version = 1
	incoming.CreatedAt = now
	incoming.UpdatedAt = now
	if err := insertTrack(ctx, tx, incoming); err != nil {
		return track.Track{}, err
	}
	return incoming, nil
}

func insertTrack(ctx context.Context, tx pgxv5.Tx, t track.Track) error {
	links, err := json.Marshal(t.Links)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO tracks (`+trackColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.Class, links, t.Locations, t.Confidence,
		t.Status, t.Reasons, t.StartTime, t.EndTime,
		t.Version, t.CreatedAt, t.UpdatedAt)
	return err
}

func updateTrack(ctx context.Context, tx pgxv5.Tx, t track.Track, expectedVersion int64) error {
	links, err := json.Marshal(t.Links)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE tracks
		SET links = $2, locations = $3, confidence = $4, status = $5,
		    reasons = $6, start_time = $7, end_time = $8,
		    version = $9, updated_at = $10
		WHERE id = $1 AND version = $11`,
		t.ID, links, t.Locations, t.Confidence, t.Status,
		t.Reasons, t.StartTime, t.EndTime,
		t.Version, t.UpdatedAt, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return track.ConflictError(t.ID, expectedVersion, -1)
	}
	return nil
}

func (s *TrackDBStorage) GetTrack(ctx context.Context, id string) (track.Track, error) {
	t, err := scanTrack(s.conn.QueryRow(ctx, `
		SELECT `+trackColumns+` FROM tracks WHERE id = $1`, id))
	if errors.Is(err, pgxv5.ErrNoRows) {
		return track.Track{}, track.NotFoundError(id)
	}
	return t, err
}

func (s *TrackDBStorage) ListTracks(ctx context.Context, filter store.ListFilter) ([]track.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.LocationID != "" {
		args = append(args, filter.LocationID)
		query += fmt.Sprintf(" AND $%d = ANY(locations)", len(args))
	}
	query += " ORDER BY start_time, id"

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (track.Track, error) {
		return scanTrack(row)
	})
}

// Reconcile applies a human decision inside a transaction with the row
// locked. The optimistic version check runs against the value the caller
// read; a negative expectedVersion trusts the current row.
func (s *TrackDBStorage) Reconcile(ctx context.Context, id string, action track.Action, expectedVersion int64) (track.Track, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return track.Track{}, err
	}
	defer tx.Rollback(ctx)

	t, err := scanTrack(tx.QueryRow(ctx, `
		SELECT `+trackColumns+` FROM tracks WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgxv5.ErrNoRows) {
		return track.Track{}, track.NotFoundError(id)
	}
	if err != nil {
		return track.Track{}, err
	}
	if expectedVersion >= 0 && t.Version != expectedVersion {
		return track.Track{}, track.ConflictError(id, expectedVersion, t.Version)
	}

	next, err := t.Status.Transition(action)
	if err != nil {
		return track.Track{}, err
	}
	prev := t.Version
	t.Status = next
	t.Version++
	t.UpdatedAt = time.Now().UTC()
	if err := updateTrack(ctx, tx, t, prev); err != nil {
		return track.Track{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return track.Track{}, err
	}
	return t, nil
}

func (s *TrackDBStorage) DeleteTrack(ctx context.Context, id string) error {
	tag, err := s.conn.Exec(ctx, `DELETE FROM tracks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return track.NotFoundError(id)
	}
	return nil
}
