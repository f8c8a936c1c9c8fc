package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"neurodb/internal/metrics"
)

func encodePoints(points []Coord) (string, error) {
	if points == nil {
		points = []Coord{}
	}
	b, err := json.Marshal(points)
	if err != nil {
		return "", fmt.Errorf("encoding points: %w", err)
	}
	return string(b), nil
}

func decodePoints(raw sql.NullString) ([]Coord, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var points []Coord
	if err := json.Unmarshal([]byte(raw.String), &points); err != nil {
		return nil, fmt.Errorf("decoding points: %w", err)
	}
	return points, nil
}

// newSegments numbers inputs after maxSid
func newSegments(inputs []SegmentInput, maxSid, version int64, now time.Time) []Segment {
	segs := make([]Segment, len(inputs))
	for i, in := range inputs {
		maxSid++
		segs[i] = Segment{
			Sid:           maxSid,
			Points:        in.Points,
			SampledPoints: in.SampledPoints,
			Version:       version,
			Date:          now,
		}
	}
	return segs
}

// IngestSegments stores the polylines and generates one node per sampled point
// chained by edges. The segment rows are written in one transaction; nodes and
// edges then go through the regular add paths.
func (s *EmbeddedStore) IngestSegments(ctx context.Context, inputs []SegmentInput) (res *IngestResult, err error) {
	if len(inputs) == 0 {
		return &IngestResult{}, nil
	}
	defer func(start time.Time) { metrics.ObserveOp(string(KindEmbedded), "ingest_segments", start, err) }(time.Now())

	now := Now()
	var segs []Segment
	err = withTx(ctx, s.conn, func(tx *sql.Tx) error {
		var maxSid int64
		if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(sid), 0) FROM segs").Scan(&maxSid); err != nil {
			return fmt.Errorf("reading max sid: %w", classify(err))
		}
		segs = newSegments(inputs, maxSid, 0, now)
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
				`INSERT INTO segs (sid, points, sampled_points) VALUES (?, ?, ?)`,
				seg.Sid, points, sampled,
			); err != nil {
				return fmt.Errorf("inserting segment %d: %w", seg.Sid, classify(err))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.AddRows(string(KindEmbedded), "segs", len(segs))
	s.logger.Info("segments stored",
		slog.Int64("max_sid", segs[len(segs)-1].Sid), slog.Int("added", len(segs)))

	maxNid, err := s.MaxNid(ctx)
	if err != nil {
		return nil, err
	}
	nodes, edges := chainFromSegments(segs, maxNid, now, false)

	s.logger.Debug("adding generated nodes", slog.Int("count", len(nodes)))
	if err := s.AddNodes(ctx, nodes); err != nil {
		return nil, err
	}
	s.logger.Debug("adding generated edges", slog.Int("count", len(edges)))
	if err := s.AddEdges(ctx, edges); err != nil {
		return nil, err
	}

	return &IngestResult{Segments: segs, Nodes: nodes, Edges: edges}, nil
}

// ReadSegments returns all stored segments ordered by sid
func (s *EmbeddedStore) ReadSegments(ctx context.Context) ([]Segment, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT sid, points, sampled_points FROM segs ORDER BY sid`)
	if err != nil {
		return nil, fmt.Errorf("reading segments: %w", classify(err))
	}
	defer rows.Close()

	var segs []Segment
	for rows.Next() {
		var seg Segment
		var points, sampled sql.NullString
		if err := rows.Scan(&seg.Sid, &points, &sampled); err != nil {
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
