package pgx

import (
	"context"

	pgxv5 "github.com/jackc/pgx/v5"

	"github.com/meditrack/backend/pkg/topology"
)

// SaveTopology replaces the stored facility layout with the given one.
// The swap happens in a single transaction so readers never observe a
// half-replaced layout.
func (s *TrackDBStorage) SaveTopology(ctx context.Context, nodes []topology.Node, edges []topology.Edge) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM adjacencies`); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM locations`); err != nil {
		return err
	}

	for _, n := range nodes {
		if _, err := tx.Exec(ctx, `
			INSERT INTO locations (id, name, category) VALUES ($1, $2, $3)`,
			n.ID, n.Name, n.Category); err != nil {
			return err
		}
	}
	for _, e := range edges {
		if _, err := tx.Exec(ctx, `
			INSERT INTO adjacencies (from_id, to_id, distance_m) VALUES ($1, $2, $3)`,
			e.From, e.To, e.Distance); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// LoadTopology reads the stored facility layout. An empty database yields
// empty slices, which Load rejects, so callers fall back to the file-based
// layout in that case.
func (s *TrackDBStorage) LoadTopology(ctx context.Context) ([]topology.Node, []topology.Edge, error) {
	rows, err := s.conn.Query(ctx, `SELECT id, name, category FROM locations ORDER BY id`)
	if err != nil {
		return nil, nil, err
	}
	nodes, err := pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (topology.Node, error) {
		var n topology.Node
		err := row.Scan(&n.ID, &n.Name, &n.Category)
		return n, err
	})
	if err != nil {
		return nil, nil, err
	}

	rows, err = s.conn.Query(ctx, `SELECT from_id, to_id, distance_m FROM adjacencies ORDER BY from_id, to_id`)
	if err != nil {
		return nil, nil, err
	}
	edges, err := pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (topology.Edge, error) {
		var e topology.Edge
		err := row.Scan(&e.From, &e.To, &e.Distance)
		return e, err
	})
	if err != nil {
		return nil, nil, err
	}
	return nodes, edges, nil
}
