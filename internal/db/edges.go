package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"neurodb/internal/metrics"
)

// scanEdge scans a row with src, dst, creator, date
func scanEdge(scanner interface{ Scan(dest ...any) error }) (Edge, error) {
	var e Edge
	var creator sql.NullString
	var date sql.NullTime
	err := scanner.Scan(&e.Src, &e.Dst, &creator, &date)
	if err != nil {
		return e, err
	}
	e.Creator = creator.String
	if date.Valid {
		e.Date = date.Time
	}
	return e, nil
}

// AddEdges inserts canonicalized edges one statement at a time; pairs already
// present in either orientation are ignored.
func (s *EmbeddedStore) AddEdges(ctx context.Context, edges []Edge) (err error) {
	if len(edges) == 0 {
		return nil
	}
	defer func(start time.Time) { metrics.ObserveOp(string(KindEmbedded), "add_edges", start, err) }(time.Now())

	rows := canonicalEdges(edges, Now())

	stmt, err := s.conn.PrepareContext(ctx,
		`INSERT OR IGNORE INTO edges (src, dst, creator, date) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing edge insert: %w", classify(err))
	}
	defer stmt.Close()

	written := 0
	for _, e := range rows {
		res, err := stmt.ExecContext(ctx, e.Src, e.Dst, e.Creator, e.Date)
		if err != nil {
			metrics.AddRows(string(KindEmbedded), "edges", written)
			return fmt.Errorf("inserting edge %s: %w", e.Key(), classify(err))
		}
		if n, _ := res.RowsAffected(); n > 0 {
			written++
		}
	}
	metrics.AddRows(string(KindEmbedded), "edges", written)
	return nil
}

// ReadEdges returns all edges, or only those by creator when it is non-empty
func (s *EmbeddedStore) ReadEdges(ctx context.Context, creator string) ([]Edge, error) {
	query := `SELECT src, dst, creator, date FROM edges`
	var args []any
	if creator != "" {
		query += ` WHERE creator = ?`
		args = append(args, creator)
	}
	query += ` ORDER BY src, dst`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading edges: %w", classify(err))
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// DeleteEdges removes the given pairs, in either orientation
func (s *EmbeddedStore) DeleteEdges(ctx context.Context, pairs []EdgeKey) (err error) {
	if len(pairs) == 0 {
		return nil
	}
	defer func(start time.Time) { metrics.ObserveOp(string(KindEmbedded), "delete_edges", start, err) }(time.Now())

	for _, p := range pairs {
		k := NewEdgeKey(p.Src, p.Dst)
		if _, err := s.conn.ExecContext(ctx, `DELETE FROM edges WHERE src = ? AND dst = ?`, k.Src, k.Dst); err != nil {
			return fmt.Errorf("deleting edge %s: %w", k, classify(err))
		}
	}
	return nil
}
