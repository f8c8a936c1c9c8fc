package db

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neurodb/internal/testutil"
)

func setupMockStore(t *testing.T) (*ManagedStore, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return newManagedStore(conn, "public", testutil.NewTestLogger(t)), mock
}

func TestManagedAddNodesCommits(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO nodes (nid, x, y, z, creator, type, checked, status, sid, date)")).
		WithArgs(1, 10, 20, 30, "alice", TypeSoma, Verified, StatusShown, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO nodes")).
		WithArgs(2, 11, 21, 31, "alice", TypeGeneric, Unverified, StatusShown, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	nodes := []Node{
		{Nid: 1, Coord: Coord{10, 20, 30}, Creator: "alice", Type: TypeSoma, Checked: Verified, Status: StatusShown},
		{Nid: 2, Coord: Coord{11, 21, 31}, Creator: "alice", Status: StatusShown},
	}
	require.NoError(t, s.AddNodes(context.Background(), nodes))
	assert.False(t, nodes[0].Date.IsZero(), "missing dates are stamped in place")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManagedAddNodesRollsBack(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO nodes")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO nodes")).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	err := s.AddNodes(context.Background(), []Node{{Nid: 1}, {Nid: 1}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConstraintViolation), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManagedAddEdgesCanonical(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO edges (src, dst, creator, date) VALUES ($1, $2, $3, $4) ON CONFLICT (src, dst) DO NOTHING")).
		WithArgs(2, 5, "bob", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO edges")).
		WithArgs(2, 5, "bob", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := s.AddEdges(context.Background(), []Edge{
		{Src: 5, Dst: 2, Creator: "bob"},
		{Src: 2, Dst: 5, Creator: "bob"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManagedEmptyWritesAreNoops(t *testing.T) {
	s, mock := setupMockStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddNodes(ctx, nil))
	require.NoError(t, s.AddEdges(ctx, nil))
	require.NoError(t, s.DeleteNodes(ctx, nil))
	require.NoError(t, s.DeleteEdges(ctx, nil))
	require.NoError(t, s.UpdateNodes(ctx, []int64{1}, NodeUpdate{}))
	require.NoError(t, s.UpdateNodes(ctx, nil, NodeUpdate{Checked: Int(Verified)}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManagedUpdateNodes(t *testing.T) {
	s, mock := setupMockStore(t)
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE nodes SET checked = $1, date = $2 WHERE nid IN ($3, $4) AND ((checked IS NULL OR checked != $5))",
	)).
		WithArgs(Rejected, at, 7, 8, Rejected).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, s.UncheckNodes(context.Background(), []int64{7, 8}, at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManagedDeleteNodesCascades(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM nodes WHERE nid IN ($1, $2)")).
		WithArgs(3, 4).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, s.DeleteNodes(context.Background(), []int64{3, 4}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManagedLargeIDListsAreBatched(t *testing.T) {
	s, mock := setupMockStore(t)
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	ids := make([]int64, 2*maxBatchIDs+1)
	for i := range ids {
		ids[i] = int64(i + 1)
	}

	mock.ExpectBegin()
	for range 2 {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE nodes SET checked = $1, date = $2 WHERE nid IN ($3, $4,")).
			WillReturnResult(sqlmock.NewResult(0, maxBatchIDs))
	}
	mock.ExpectExec(regexp.QuoteMeta("UPDATE nodes SET checked = $1, date = $2 WHERE nid IN ($3) AND")).
		WithArgs(Rejected, at, len(ids), Rejected).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	for range 2 {
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM nodes WHERE nid IN ($1, $2,")).
			WillReturnResult(sqlmock.NewResult(0, maxBatchIDs))
	}
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM nodes WHERE nid IN ($1)")).
		WithArgs(len(ids)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	require.NoError(t, s.UncheckNodes(ctx, ids, at))
	require.NoError(t, s.DeleteNodes(ctx, ids))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManagedDeleteEdgesCanonical(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM edges WHERE src = $1 AND dst = $2")).
		WithArgs(2, 9).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.DeleteEdges(context.Background(), []EdgeKey{{Src: 9, Dst: 2}}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManagedNidsWithinROIExclusiveUpper(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT nid FROM nodes")).
		WithArgs(0, 9, 5, 14, -2, 2).
		WillReturnRows(sqlmock.NewRows([]string{"nid"}).AddRow(1).AddRow(4))

	roi := ROI{Offset: Coord{0, 5, -2}, Size: Coord{10, 10, 5}}
	nids, err := s.NidsWithinROI(context.Background(), roi)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 4}, nids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManagedReadNodesWithSid(t *testing.T) {
	s, mock := setupMockStore(t)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"nid", "x", "y", "z", "creator", "type", "checked", "status", "date", "sid"}).
		AddRow(1, 1, 2, 3, "seger", 0, 0, 1, at, 4).
		AddRow(2, 4, 5, 6, "alice", 1, 1, 1, at, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT nid, x, y, z, creator, type, checked, status, date, sid")).
		WillReturnRows(rows)

	nodes, err := s.ReadNodes(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	require.NotNil(t, nodes[0].Sid)
	assert.Equal(t, int64(4), *nodes[0].Sid)
	assert.Nil(t, nodes[1].Sid)
	assert.Equal(t, Coord{4, 5, 6}, nodes[1].Coord)
	assert.True(t, nodes[1].Date.Equal(at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManagedReadSegments(t *testing.T) {
	s, mock := setupMockStore(t)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"sid", "points", "sampled_points", "version", "date"}).
		AddRow(1, "[[0,0,0],[2,0,0]]", "[[0,0,0],[1,0,0],[2,0,0]]", 3, at).
		AddRow(2, nil, nil, 3, at)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT sid, points::text, sampled_points::text, version, date FROM segs ORDER BY sid")).
		WillReturnRows(rows)

	segs, err := s.ReadSegments(context.Background())
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, []Coord{{0, 0, 0}, {2, 0, 0}}, segs[0].Points)
	assert.Len(t, segs[0].SampledPoints, 3)
	assert.Equal(t, int64(3), segs[0].Version)
	assert.Nil(t, segs[1].Points)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManagedReadEdgesCreatorFilter(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT src, dst, creator, date FROM edges WHERE creator = $1 ORDER BY src, dst")).
		WithArgs("seger").
		WillReturnRows(sqlmock.NewRows([]string{"src", "dst", "creator", "date"}).AddRow(1, 2, "seger", time.Now()))

	edges, err := s.ReadEdges(context.Background(), "seger")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, EdgeKey{1, 2}, edges[0].Key())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManagedMaxSidVersion(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(maxSidVersionQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"sid", "version"}).AddRow(12, 3))

	sid, version, err := s.MaxSidVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), sid)
	assert.Equal(t, int64(3), version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManagedIngestSegmentsSharesVersion(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(maxSidVersionQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"sid", "version"}).AddRow(4, 2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(nid), 0) FROM nodes")).
		WillReturnRows(sqlmock.NewRows([]string{"nid"}).AddRow(10))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO segs")).
		WithArgs(5, sqlmock.AnyArg(), sqlmock.AnyArg(), 3, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO segs")).
		WithArgs(6, sqlmock.AnyArg(), sqlmock.AnyArg(), 3, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	for nid := 11; nid <= 14; nid++ {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO nodes")).
			WithArgs(nid, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
				SegmentCreator, TypeGeneric, Unverified, StatusShown, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO edges")).
		WithArgs(11, 12, SegmentCreator, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO edges")).
		WithArgs(13, 14, SegmentCreator, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := s.IngestSegments(context.Background(), []SegmentInput{
		{SampledPoints: []Coord{{0, 0, 0}, {1, 1, 1}}},
		{SampledPoints: []Coord{{5, 5, 5}, {6, 6, 6}}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Version)
	require.Len(t, res.Segments, 2)
	for _, seg := range res.Segments {
		assert.Equal(t, int64(3), seg.Version)
	}
	require.Len(t, res.Nodes, 4)
	require.NotNil(t, res.Nodes[0].Sid)
	assert.Equal(t, int64(5), *res.Nodes[0].Sid)
	assert.Equal(t, int64(6), *res.Nodes[3].Sid)
	assert.Len(t, res.Edges, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManagedIngestRollsBackOnEdgeFailure(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(maxSidVersionQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"sid", "version"}).AddRow(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(nid), 0) FROM nodes")).
		WillReturnRows(sqlmock.NewRows([]string{"nid"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO segs")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO nodes")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO nodes")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO edges")).
		WillReturnError(&pgconn.PgError{Code: "08006", Message: "connection failure"})
	mock.ExpectRollback()

	res, err := s.IngestSegments(context.Background(), []SegmentInput{
		{SampledPoints: []Coord{{0, 0, 0}, {1, 1, 1}}},
	})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, ErrConnectionFailure), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
