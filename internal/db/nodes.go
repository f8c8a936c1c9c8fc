package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"neurodb/internal/metrics"
)

// scanNode scans a row into a Node. The row must have nid, x, y, z, creator,
// type, checked, status, date in that order.
func scanNode(scanner interface{ Scan(dest ...any) error }, extra ...any) (Node, error) {
	var n Node
	var creator sql.NullString
	var typ, checked, status sql.NullInt64
	var date sql.NullTime
	dest := []any{
		&n.Nid, &n.Coord[0], &n.Coord[1], &n.Coord[2],
		&creator, &typ, &checked, &status, &date,
	}
	err := scanner.Scan(append(dest, extra...)...)
	if err != nil {
		return n, err
	}
	n.Creator = creator.String
	n.Type = int(typ.Int64)
	n.Checked = int(checked.Int64)
	n.Status = int(status.Int64)
	if date.Valid {
		n.Date = date.Time
	}
	return n, nil
}

// AddNodes inserts nodes one statement at a time. Missing dates are stamped in
// place. The first failing row stops the batch; rows before it stay written.
func (s *EmbeddedStore) AddNodes(ctx context.Context, nodes []Node) (err error) {
	if len(nodes) == 0 {
		return nil
	}
	defer func(start time.Time) { metrics.ObserveOp(string(KindEmbedded), "add_nodes", start, err) }(time.Now())

	stampNodes(nodes, Now())

	stmt, err := s.conn.PrepareContext(ctx,
		`INSERT INTO nodes (nid, x, y, z, creator, type, checked, status, date) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing node insert: %w", classify(err))
	}
	defer stmt.Close()

	for i, n := range nodes {
		if _, err := stmt.ExecContext(ctx,
			n.Nid, n.Coord[0], n.Coord[1], n.Coord[2],
			n.Creator, n.Type, n.Checked, n.Status, n.Date,
		); err != nil {
			metrics.AddRows(string(KindEmbedded), "nodes", i)
			return fmt.Errorf("inserting node %d (%d of %d written): %w", n.Nid, i, len(nodes), classify(err))
		}
	}
	metrics.AddRows(string(KindEmbedded), "nodes", len(nodes))
	return nil
}

// ReadNodes returns all nodes ordered by nid
func (s *EmbeddedStore) ReadNodes(ctx context.Context) ([]Node, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT nid, x, y, z, creator, type, checked, status, date
		FROM nodes ORDER BY nid
	`)
	if err != nil {
		return nil, fmt.Errorf("reading nodes: %w", classify(err))
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// DeleteNodes removes the nodes and every edge touching them in one transaction
func (s *EmbeddedStore) DeleteNodes(ctx context.Context, nids []int64) (err error) {
	if len(nids) == 0 {
		return nil
	}
	defer func(start time.Time) { metrics.ObserveOp(string(KindEmbedded), "delete_nodes", start, err) }(time.Now())

	return withTx(ctx, s.conn, func(tx *sql.Tx) error {
		for _, batch := range chunkIDs(nids, maxBatchIDs) {
			a := &argList{ph: questionMarks}
			if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE nid IN (`+a.in(batch)+`)`, a.args...); err != nil {
				return fmt.Errorf("deleting nodes: %w", classify(err))
			}
			a = &argList{ph: questionMarks}
			query := `DELETE FROM edges WHERE src IN (` + a.in(batch) + `) OR dst IN (` + a.in(batch) + `)`
			if _, err := tx.ExecContext(ctx, query, a.args...); err != nil {
				return fmt.Errorf("deleting incident edges: %w", classify(err))
			}
		}
		return nil
	})
}

// UpdateNodes writes the supplied fields to rows whose current value differs.
// Only changed rows get the new date.
func (s *EmbeddedStore) UpdateNodes(ctx context.Context, nids []int64, upd NodeUpdate) (err error) {
	if upd.Empty() || len(nids) == 0 {
		return nil
	}
	defer func(start time.Time) { metrics.ObserveOp(string(KindEmbedded), "update_nodes", start, err) }(time.Now())

	date := stampOr(upd.Date, Now())
	return withTx(ctx, s.conn, func(tx *sql.Tx) error {
		for _, batch := range chunkIDs(nids, maxBatchIDs) {
			query, args := buildNodeUpdate(batch, upd, date, questionMarks)
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("updating nodes: %w", classify(err))
			}
		}
		return nil
	})
}

// CheckNode marks a node verified
func (s *EmbeddedStore) CheckNode(ctx context.Context, nid int64, at time.Time) error {
	return s.UpdateNodes(ctx, []int64{nid}, NodeUpdate{Checked: Int(Verified), Date: at})
}

// UncheckNodes marks nodes rejected
func (s *EmbeddedStore) UncheckNodes(ctx context.Context, nids []int64, at time.Time) error {
	return s.UpdateNodes(ctx, nids, NodeUpdate{Checked: Int(Rejected), Date: at})
}

// MaxNid returns the highest node id, or 0 for an empty table
func (s *EmbeddedStore) MaxNid(ctx context.Context) (int64, error) {
	var maxNid int64
	err := s.conn.QueryRowContext(ctx, "SELECT COALESCE(MAX(nid), 0) FROM nodes").Scan(&maxNid)
	if err != nil {
		return 0, fmt.Errorf("reading max nid: %w", classify(err))
	}
	return maxNid, nil
}

// NidsWithinROI returns nodes inside [offset, offset+size] on every axis
func (s *EmbeddedStore) NidsWithinROI(ctx context.Context, roi ROI) ([]int64, error) {
	lo, hi := roi.Offset, roi.Offset
	for i := range hi {
		hi[i] += roi.Size[i]
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT nid FROM nodes
		WHERE x >= ? AND x <= ? AND y >= ? AND y <= ? AND z >= ? AND z <= ?
		ORDER BY nid
	`, lo[0], hi[0], lo[1], hi[1], lo[2], hi[2])
	if err != nil {
		return nil, fmt.Errorf("querying roi: %w", classify(err))
	}
	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
