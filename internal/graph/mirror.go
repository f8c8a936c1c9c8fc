package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/btree"

	"neurodb/internal/db"
	"neurodb/internal/metrics"
)

// ErrStale is returned by analyses after a write-through failed. Rebuild clears it.
var ErrStale = errors.New("graph mirror is out of sync with its backend; rebuild required")

// Mirror is the in-memory copy of one backend's nodes and edges. Every
// mutation is written to the backend first and applied here only on success.
// A Mirror is not safe for concurrent mutation.
type Mirror struct {
	backend db.Backend
	logger  *slog.Logger

	nodes *btree.BTreeG[*db.Node]      // ordered by nid
	adj   map[int64]map[int64]struct{} // undirected neighbor sets
	edges map[db.EdgeKey]db.Edge       // canonical pair -> attributes

	session string
	stale   bool
}

func nodeLess(a, b *db.Node) bool { return a.Nid < b.Nid }

// NewMirror builds a mirror over backend from its current contents
func NewMirror(ctx context.Context, backend db.Backend, logger *slog.Logger) (*Mirror, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := &Mirror{backend: backend, logger: logger}
	if err := m.Rebuild(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Switch binds the mirror to another backend and rebuilds from it.
// The previous backend is not closed.
func (m *Mirror) Switch(ctx context.Context, backend db.Backend) error {
	m.backend = backend
	return m.Rebuild(ctx)
}

// Rebuild discards the mirrored graph and reloads every node, then every edge
func (m *Mirror) Rebuild(ctx context.Context) error {
	m.reset()
	m.session = uuid.NewString()
	log := m.logger.With(slog.String("session", m.session), slog.String("backend", string(m.backend.Kind())))

	start := time.Now()
	nodes, err := m.backend.ReadNodes(ctx)
	if err != nil {
		m.stale = true
		return fmt.Errorf("loading nodes: %w", err)
	}
	edges, err := m.backend.ReadEdges(ctx, "")
	if err != nil {
		m.stale = true
		return fmt.Errorf("loading edges: %w", err)
	}

	for i := range nodes {
		m.putNode(nodes[i])
	}
	for _, e := range edges {
		m.putEdge(e)
	}
	m.stale = false
	m.publish()

	log.Info("graph mirror rebuilt",
		slog.Int("nodes", m.NumNodes()),
		slog.Int("edges", m.NumEdges()),
		slog.Duration("took", time.Since(start)))
	return nil
}

func (m *Mirror) reset() {
	m.nodes = btree.NewBTreeGOptions(nodeLess, btree.Options{NoLocks: true})
	m.adj = make(map[int64]map[int64]struct{})
	m.edges = make(map[db.EdgeKey]db.Edge)
}

func (m *Mirror) publish() {
	metrics.MirrorNodes.Set(float64(m.NumNodes()))
	metrics.MirrorEdges.Set(float64(m.NumEdges()))
}

// fail marks the mirror stale after a write-through error
func (m *Mirror) fail(op string, err error) error {
	m.stale = true
	m.logger.Error("backend write failed, mirror marked stale",
		slog.String("session", m.session), slog.String("op", op), slog.Any("error", err))
	return fmt.Errorf("%s: %w", op, err)
}

func (m *Mirror) putNode(n db.Node) {
	stored := n
	m.nodes.Set(&stored)
	if _, ok := m.adj[n.Nid]; !ok {
		m.adj[n.Nid] = make(map[int64]struct{})
	}
}

// ensureNode creates a bare node when an edge names an unknown endpoint
func (m *Mirror) ensureNode(nid int64) {
	if _, ok := m.adj[nid]; ok {
		return
	}
	m.putNode(db.Node{Nid: nid})
}

// putEdge adds the edge unless the pair is already present
func (m *Mirror) putEdge(e db.Edge) {
	k := e.Key()
	if _, ok := m.edges[k]; ok {
		return
	}
	m.ensureNode(k.Src)
	m.ensureNode(k.Dst)
	m.edges[k] = db.Edge{Src: k.Src, Dst: k.Dst, Creator: e.Creator, Date: e.Date}
	m.adj[k.Src][k.Dst] = struct{}{}
	m.adj[k.Dst][k.Src] = struct{}{}
}

func (m *Mirror) removeEdge(k db.EdgeKey) {
	if _, ok := m.edges[k]; !ok {
		return
	}
	delete(m.edges, k)
	delete(m.adj[k.Src], k.Dst)
	delete(m.adj[k.Dst], k.Src)
}

func (m *Mirror) removeNode(nid int64) {
	for nb := range m.adj[nid] {
		m.removeEdge(db.NewEdgeKey(nid, nb))
	}
	delete(m.adj, nid)
	m.nodes.Delete(&db.Node{Nid: nid})
}

// AddNodes writes nodes to the backend and mirrors them
func (m *Mirror) AddNodes(ctx context.Context, nodes []db.Node) error {
	if err := m.backend.AddNodes(ctx, nodes); err != nil {
		return m.fail("adding nodes", err)
	}
	for _, n := range nodes {
		m.putNode(n)
	}
	m.publish()
	return nil
}

// AddEdges writes edges to the backend and mirrors them.
// Pairs already present keep their original attributes.
func (m *Mirror) AddEdges(ctx context.Context, edges []db.Edge) error {
	if err := m.backend.AddEdges(ctx, edges); err != nil {
		return m.fail("adding edges", err)
	}
	for _, e := range edges {
		m.putEdge(e)
	}
	m.publish()
	return nil
}

// DeleteNodes removes nodes and their incident edges
func (m *Mirror) DeleteNodes(ctx context.Context, nids []int64) error {
	if err := m.backend.DeleteNodes(ctx, nids); err != nil {
		return m.fail("deleting nodes", err)
	}
	for _, nid := range nids {
		m.removeNode(nid)
	}
	m.publish()
	return nil
}

// DeleteEdges removes the given pairs in either orientation
func (m *Mirror) DeleteEdges(ctx context.Context, pairs []db.EdgeKey) error {
	if err := m.backend.DeleteEdges(ctx, pairs); err != nil {
		return m.fail("deleting edges", err)
	}
	for _, p := range pairs {
		m.removeEdge(db.NewEdgeKey(p.Src, p.Dst))
	}
	m.publish()
	return nil
}

// UpdateNodes applies a partial update. Nodes whose supplied fields already
// match are left untouched, including their date.
func (m *Mirror) UpdateNodes(ctx context.Context, nids []int64, upd db.NodeUpdate) error {
	if upd.Empty() || len(nids) == 0 {
		return nil
	}
	if upd.Date.IsZero() {
		upd.Date = db.Now()
	}
	upd.Date = upd.Date.UTC()
	if err := m.backend.UpdateNodes(ctx, nids, upd); err != nil {
		return m.fail("updating nodes", err)
	}
	for _, nid := range nids {
		n, ok := m.nodes.Get(&db.Node{Nid: nid})
		if ok && upd.Differs(*n) {
			upd.Apply(n, upd.Date)
		}
	}
	return nil
}

// CheckNode marks a node verified
func (m *Mirror) CheckNode(ctx context.Context, nid int64) error {
	return m.UpdateNodes(ctx, []int64{nid}, db.NodeUpdate{Checked: db.Int(db.Verified)})
}

// UncheckNodes marks nodes rejected
func (m *Mirror) UncheckNodes(ctx context.Context, nids []int64) error {
	return m.UpdateNodes(ctx, nids, db.NodeUpdate{Checked: db.Int(db.Rejected)})
}

// IngestSegments stores segments through the backend and mirrors the
// generated nodes and chain edges.
func (m *Mirror) IngestSegments(ctx context.Context, segs []db.SegmentInput) (*db.IngestResult, error) {
	res, err := m.backend.IngestSegments(ctx, segs)
	if err != nil {
		return nil, m.fail("ingesting segments", err)
	}
	for _, n := range res.Nodes {
		m.putNode(n)
	}
	for _, e := range res.Edges {
		m.putEdge(e)
	}
	m.publish()
	m.logger.Info("segments mirrored",
		slog.String("session", m.session),
		slog.Int("segments", len(res.Segments)),
		slog.Int("nodes", len(res.Nodes)))
	return res, nil
}

// ReadNodes reads nodes straight from the backend
func (m *Mirror) ReadNodes(ctx context.Context) ([]db.Node, error) {
	return m.backend.ReadNodes(ctx)
}

// ReadEdges reads edges straight from the backend
func (m *Mirror) ReadEdges(ctx context.Context, creator string) ([]db.Edge, error) {
	return m.backend.ReadEdges(ctx, creator)
}

// NidsWithinROI queries the backend
func (m *Mirror) NidsWithinROI(ctx context.Context, roi db.ROI) ([]int64, error) {
	return m.backend.NidsWithinROI(ctx, roi)
}

// MaxNid queries the backend
func (m *Mirror) MaxNid(ctx context.Context) (int64, error) {
	return m.backend.MaxNid(ctx)
}

// Node returns a copy of the mirrored node
func (m *Mirror) Node(nid int64) (db.Node, bool) {
	n, ok := m.nodes.Get(&db.Node{Nid: nid})
	if !ok {
		return db.Node{}, false
	}
	return *n, true
}

// Degree counts incident edges; a self-loop counts twice
func (m *Mirror) Degree(nid int64) int {
	nbs := m.adj[nid]
	d := len(nbs)
	if _, ok := nbs[nid]; ok {
		d++
	}
	return d
}

// Neighbors returns the adjacent node ids in ascending order
func (m *Mirror) Neighbors(nid int64) []int64 {
	out := make([]int64, 0, len(m.adj[nid]))
	for nb := range m.adj[nid] {
		out = append(out, nb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NodeIDs returns all node ids in ascending order
func (m *Mirror) NodeIDs() []int64 {
	ids := make([]int64, 0, m.nodes.Len())
	m.nodes.Scan(func(n *db.Node) bool {
		ids = append(ids, n.Nid)
		return true
	})
	return ids
}

// Edges returns all edges ordered by (src, dst)
func (m *Mirror) Edges() []db.Edge {
	out := make([]db.Edge, 0, len(m.edges))
	for _, e := range m.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Src != out[j].Src {
			return out[i].Src < out[j].Src
		}
		return out[i].Dst < out[j].Dst
	})
	return out
}

// NumNodes returns the number of mirrored nodes
func (m *Mirror) NumNodes() int { return m.nodes.Len() }

// NumEdges returns the number of mirrored edges
func (m *Mirror) NumEdges() int { return len(m.edges) }

// Backend returns the backend the mirror writes through to
func (m *Mirror) Backend() db.Backend { return m.backend }

// SessionID identifies the current rebuild
func (m *Mirror) SessionID() string { return m.session }

// Stale reports whether a write-through failed since the last rebuild
func (m *Mirror) Stale() bool { return m.stale }

// check guards analyses against a stale mirror
func (m *Mirror) check() error {
	if m.stale {
		return ErrStale
	}
	return nil
}
