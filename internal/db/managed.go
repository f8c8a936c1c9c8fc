package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"neurodb/internal/metrics"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ManagedStore is the PostgreSQL backend. Every multi-row write runs in one
// transaction; on failure it is rolled back, logged and returned.
type ManagedStore struct {
	conn   *sql.DB
	schema string
	logger *slog.Logger
}

// OpenManaged connects with search_path bound to the configured schema,
// creates the schema if needed and applies the embedded migrations.
func OpenManaged(ctx context.Context, cfg ManagedConfig, logger *slog.Logger) (*ManagedStore, error) {
	schema := cfg.SchemaName()
	logger = orDiscard(logger).With(slog.String("backend", string(KindManaged)), slog.String("schema", schema))

	connConfig, err := pgx.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	connConfig.RuntimeParams["search_path"] = schema

	logger.Debug("connecting to postgres", slog.String("host", connConfig.Host), slog.String("database", connConfig.Database))

	conn := stdlib.OpenDB(*connConfig)
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("connecting to managed store: %w", classify(err))
	}

	if _, err := conn.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("creating schema %s: %w", schema, classify(err))
	}

	s := newManagedStore(conn, schema, logger)
	if err := s.migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func newManagedStore(conn *sql.DB, schema string, logger *slog.Logger) *ManagedStore {
	return &ManagedStore{conn: conn, schema: schema, logger: orDiscard(logger)}
}

// migrate applies pending goose migrations
func (s *ManagedStore) migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.conn, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", classify(err))
	}
	return nil
}

// Kind reports KindManaged
func (s *ManagedStore) Kind() Kind { return KindManaged }

// Schema returns the schema this store is bound to
func (s *ManagedStore) Schema() string { return s.schema }

// Close closes the connection
func (s *ManagedStore) Close() error {
	return s.conn.Close()
}

// write runs fn in a transaction and logs a failure before returning it
func (s *ManagedStore) write(ctx context.Context, op string, fn func(tx *sql.Tx) error) (err error) {
	defer func(start time.Time) { metrics.ObserveOp(string(KindManaged), op, start, err) }(time.Now())

	if err = withTx(ctx, s.conn, fn); err != nil {
		s.logger.Error("transaction rolled back", slog.String("op", op), slog.Any("error", err))
	}
	return err
}

func insertNodes(ctx context.Context, tx *sql.Tx, nodes []Node) error {
	for _, n := range nodes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO nodes (nid, x, y, z, creator, type, checked, status, sid, date) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			n.Nid, n.Coord[0], n.Coord[1], n.Coord[2],
			n.Creator, n.Type, n.Checked, n.Status, n.Sid, n.Date,
		); err != nil {
			return fmt.Errorf("inserting node %d: %w", n.Nid, classify(err))
		}
	}
	return nil
}

// insertEdges writes already canonical edges, skipping existing pairs
func insertEdges(ctx context.Context, tx *sql.Tx, edges []Edge) (int, error) {
	written := 0
	for _, e := range edges {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO edges (src, dst, creator, date) VALUES ($1, $2, $3, $4) ON CONFLICT (src, dst) DO NOTHING`,
			e.Src, e.Dst, e.Creator, e.Date,
		)
		if err != nil {
			return written, fmt.Errorf("inserting edge %s: %w", e.Key(), classify(err))
		}
		if n, _ := res.RowsAffected(); n > 0 {
			written++
		}
	}
	return written, nil
}

// AddNodes inserts all nodes atomically
func (s *ManagedStore) AddNodes(ctx context.Context, nodes []Node) error {
	if len(nodes) == 0 {
		return nil
	}
	stampNodes(nodes, Now())
	err := s.write(ctx, "add_nodes", func(tx *sql.Tx) error {
		return insertNodes(ctx, tx, nodes)
	})
	if err == nil {
		metrics.AddRows(string(KindManaged), "nodes", len(nodes))
	}
	return err
}

// AddEdges inserts all edges atomically in canonical form
func (s *ManagedStore) AddEdges(ctx context.Context, edges []Edge) error {
	if len(edges) == 0 {
		return nil
	}
	rows := canonicalEdges(edges, Now())
	var written int
	err := s.write(ctx, "add_edges", func(tx *sql.Tx) error {
		var err error
		written, err = insertEdges(ctx, tx, rows)
		return err
	})
	if err == nil {
		metrics.AddRows(string(KindManaged), "edges", written)
	}
	return err
}

// ReadNodes returns all nodes ordered by nid, with their owning segment
func (s *ManagedStore) ReadNodes(ctx context.Context) ([]Node, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT nid, x, y, z, creator, type, checked, status, date, sid
		FROM nodes ORDER BY nid
	`)
	if err != nil {
		return nil, fmt.Errorf("reading nodes: %w", classify(err))
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var sid sql.NullInt64
		n, err := scanNode(rows, &sid)
		if err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		if sid.Valid {
			v := sid.Int64
			n.Sid = &v
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// ReadEdges returns all edges, or only those by creator when it is non-empty
func (s *ManagedStore) ReadEdges(ctx context.Context, creator string) ([]Edge, error) {
	query := `SELECT src, dst, creator, date FROM edges`
	var args []any
	if creator != "" {
		query += ` WHERE creator = $1`
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

// DeleteNodes removes nodes; incident edges go with them by cascade
func (s *ManagedStore) DeleteNodes(ctx context.Context, nids []int64) error {
	if len(nids) == 0 {
		return nil
	}
	return s.write(ctx, "delete_nodes", func(tx *sql.Tx) error {
		for _, batch := range chunkIDs(nids, maxBatchIDs) {
			a := &argList{ph: dollarNumbers}
			if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE nid IN (`+a.in(batch)+`)`, a.args...); err != nil {
				return fmt.Errorf("deleting nodes: %w", classify(err))
			}
		}
		return nil
	})
}

// DeleteEdges removes the given pairs, in either orientation
func (s *ManagedStore) DeleteEdges(ctx context.Context, pairs []EdgeKey) error {
	if len(pairs) == 0 {
		return nil
	}
	return s.write(ctx, "delete_edges", func(tx *sql.Tx) error {
		for _, p := range pairs {
			k := NewEdgeKey(p.Src, p.Dst)
			if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE src = $1 AND dst = $2`, k.Src, k.Dst); err != nil {
				return fmt.Errorf("deleting edge %s: %w", k, classify(err))
			}
		}
		return nil
	})
}

// UpdateNodes writes the supplied fields to rows whose current value differs.
// Only changed rows get the new date.
func (s *ManagedStore) UpdateNodes(ctx context.Context, nids []int64, upd NodeUpdate) error {
	if upd.Empty() || len(nids) == 0 {
		return nil
	}
	date := stampOr(upd.Date, Now())
	return s.write(ctx, "update_nodes", func(tx *sql.Tx) error {
		for _, batch := range chunkIDs(nids, maxBatchIDs) {
			query, args := buildNodeUpdate(batch, upd, date, dollarNumbers)
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("updating nodes: %w", classify(err))
			}
		}
		return nil
	})
}

// CheckNode marks a node verified
func (s *ManagedStore) CheckNode(ctx context.Context, nid int64, at time.Time) error {
	return s.UpdateNodes(ctx, []int64{nid}, NodeUpdate{Checked: Int(Verified), Date: at})
}

// UncheckNodes marks nodes rejected
func (s *ManagedStore) UncheckNodes(ctx context.Context, nids []int64, at time.Time) error {
	return s.UpdateNodes(ctx, nids, NodeUpdate{Checked: Int(Rejected), Date: at})
}

// MaxNid returns the highest node id, or 0 for an empty table
func (s *ManagedStore) MaxNid(ctx context.Context) (int64, error) {
	var maxNid int64
	if err := s.conn.QueryRowContext(ctx, "SELECT COALESCE(MAX(nid), 0) FROM nodes").Scan(&maxNid); err != nil {
		return 0, fmt.Errorf("reading max nid: %w", classify(err))
	}
	return maxNid, nil
}

const maxSidVersionQuery = "SELECT COALESCE(MAX(sid), 0), COALESCE(MAX(version), 0) FROM segs"

// MaxSidVersion returns the highest segment id and batch version, 0 when empty
func (s *ManagedStore) MaxSidVersion(ctx context.Context) (sid, version int64, err error) {
	if err := s.conn.QueryRowContext(ctx, maxSidVersionQuery).Scan(&sid, &version); err != nil {
		return 0, 0, fmt.Errorf("reading max sid and version: %w", classify(err))
	}
	return sid, version, nil
}

// NidsWithinROI returns nodes inside [offset, offset+size-1] on every axis
func (s *ManagedStore) NidsWithinROI(ctx context.Context, roi ROI) ([]int64, error) {
	lo, hi := roi.Offset, roi.Offset
	for i := range hi {
		hi[i] += roi.Size[i] - 1
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT nid FROM nodes
		WHERE x BETWEEN $1 AND $2 AND y BETWEEN $3 AND $4 AND z BETWEEN $5 AND $6
		ORDER BY nid
	`, lo[0], hi[0], lo[1], hi[1], lo[2], hi[2])
	if err != nil {
		return nil, fmt.Errorf("querying roi: %w", classify(err))
	}
	return scanIDs(rows)
}

// IngestSegments writes segments, their generated nodes and chain edges in one
// transaction. All segments of the batch share version max+1.
func (s *ManagedStore) IngestSegments(ctx context.Context, inputs []SegmentInput) (*IngestResult, error) {
	if len(inputs) == 0 {
		return &IngestResult{}, nil
	}
	now := Now()
	res := &IngestResult{}

	err := s.write(ctx, "ingest_segments", func(tx *sql.Tx) error {
		var maxSid, maxVersion, maxNid int64
		if err := tx.QueryRowContext(ctx, maxSidVersionQuery).Scan(&maxSid, &maxVersion); err != nil {
			return fmt.Errorf("reading max sid and version: %w", classify(err))
		}
		if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(nid), 0) FROM nodes").Scan(&maxNid); err != nil {
			return fmt.Errorf("reading max nid: %w", classify(err))
		}

		version := maxVersion + 1
		segs := newSegments(inputs, maxSid, version, now)
		for _, seg := range segs {
			points, err := encodePoints(seg.Points)
			if err != nil {
				return err
			}
			sampled, err := encodePoints(seg.SampledPoints)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO segs (sid, points, sampled_points, version, date) VALUES ($1, $2, $3, $4, $5)`,
				seg.Sid, points, sampled, seg.Version, seg.Date,
			); err != nil {
				return fmt.Errorf("inserting segment %d: %w", seg.Sid, classify(err))
			}
		}

		nodes, edges := chainFromSegments(segs, maxNid, now, true)
		if err := insertNodes(ctx, tx, nodes); err != nil {
			return err
		}
		if _, err := insertEdges(ctx, tx, edges); err != nil {
			return err
		}

		res = &IngestResult{Segments: segs, Nodes: nodes, Edges: edges, Version: version}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.AddRows(string(KindManaged), "segs", len(res.Segments))
	metrics.AddRows(string(KindManaged), "nodes", len(res.Nodes))
	metrics.AddRows(string(KindManaged), "edges", len(res.Edges))
	s.logger.Info("segments ingested",
		slog.Int64("version", res.Version),
		slog.Int("segments", len(res.Segments)),
		slog.Int("nodes", len(res.Nodes)))
	return res, nil
}

// ReadSegments returns all segments ordered by sid
func (s *ManagedStore) ReadSegments(ctx context.Context) ([]Segment, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT sid, points::text, sampled_points::text, version, date FROM segs ORDER BY sid`)
	if err != nil {
		return nil, fmt.Errorf("reading segments: %w", classify(err))
	}
	defer rows.Close()

	var segs []Segment
	for rows.Next() {
		var seg Segment
		var points, sampled sql.NullString
		if err := rows.Scan(&seg.Sid, &points, &sampled, &seg.Version, &seg.Date); err != nil {
			return nil, fmt.Errorf("scanning segment: %w", err)
		}
		if seg.Points, err = decodePoints(points); err != nil {
			return nil, fmt.Errorf("segment %d: %w", seg.Sid, err)
		}
		if seg.SampledPoints, err = decodePoints(sampled); err != nil {
			return nil, fmt.Errorf("segment %d: %w", seg.Sid, err)
		}
		segs = append(segs, seg)
	}
	return segs, rows.Err()
}
