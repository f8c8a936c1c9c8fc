package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Kind names a backend variant
type Kind string

const (
	KindEmbedded Kind = "embedded"
	KindManaged  Kind = "managed"
)

// Backend is the read/write contract shared by the embedded and managed stores.
type Backend interface {
	Kind() Kind

	AddNodes(ctx context.Context, nodes []Node) error
	AddEdges(ctx context.Context, edges []Edge) error
	ReadNodes(ctx context.Context) ([]Node, error)
	// ReadEdges returns all edges, or only those by creator when it is non-empty.
	ReadEdges(ctx context.Context, creator string) ([]Edge, error)
	DeleteNodes(ctx context.Context, nids []int64) error
	DeleteEdges(ctx context.Context, pairs []EdgeKey) error
	UpdateNodes(ctx context.Context, nids []int64, upd NodeUpdate) error
	CheckNode(ctx context.Context, nid int64, at time.Time) error
	UncheckNodes(ctx context.Context, nids []int64, at time.Time) error
	MaxNid(ctx context.Context) (int64, error)
	NidsWithinROI(ctx context.Context, roi ROI) ([]int64, error)
	IngestSegments(ctx context.Context, segs []SegmentInput) (*IngestResult, error)
	ReadSegments(ctx context.Context) ([]Segment, error)

	Close() error
}

// Versioned is implemented by backends that version ingestion batches
type Versioned interface {
	MaxSidVersion(ctx context.Context) (sid, version int64, err error)
}

// ManagedConfig locates a managed (PostgreSQL) store
type ManagedConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Database string `koanf:"database"`
	Schema   string `koanf:"schema"`
	SSLMode  string `koanf:"sslmode"`
}

// DSN builds a key=value connection string
func (c ManagedConfig) DSN() string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s", host, port, c.Database, sslmode)
	if c.User != "" {
		dsn += fmt.Sprintf(" user=%s", c.User)
	}
	if c.Password != "" {
		dsn += fmt.Sprintf(" password=%s", c.Password)
	}
	return dsn
}

// SchemaName returns the target schema, defaulting to "public"
func (c ManagedConfig) SchemaName() string {
	if c.Schema == "" {
		return "public"
	}
	return c.Schema
}

// Descriptor selects and locates a backend. Path wins over Managed.
type Descriptor struct {
	Path    string
	Managed *ManagedConfig
}

// Kind reports which variant the descriptor selects
func (d Descriptor) Kind() (Kind, error) {
	switch {
	case d.Path != "":
		return KindEmbedded, nil
	case d.Managed != nil && d.Managed.Database != "":
		return KindManaged, nil
	default:
		return "", fmt.Errorf("descriptor names neither an embedded path nor a managed database")
	}
}

// IsEmbeddedPath reports whether name looks like an embedded store file
func IsEmbeddedPath(name string) bool {
	return strings.HasSuffix(name, ".db")
}

// Open opens the backend selected by desc
func Open(ctx context.Context, desc Descriptor, logger *slog.Logger) (Backend, error) {
	kind, err := desc.Kind()
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindEmbedded:
		return OpenEmbedded(ctx, desc.Path, logger)
	default:
		return OpenManaged(ctx, *desc.Managed, logger)
	}
}

func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}

// withTx runs fn in a transaction, committing on success and rolling back otherwise
func withTx(ctx context.Context, conn *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", classify(err))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", classify(err))
	}
	return nil
}

// canonicalEdges returns a canonicalized copy of edges with missing dates stamped.
// Stamps are also written back into the caller's slice.
func canonicalEdges(edges []Edge, now time.Time) []Edge {
	out := make([]Edge, len(edges))
	for i := range edges {
		edges[i].Date = stampOr(edges[i].Date, now)
		k := edges[i].Key()
		out[i] = Edge{Src: k.Src, Dst: k.Dst, Creator: edges[i].Creator, Date: edges[i].Date}
	}
	return out
}

func stampNodes(nodes []Node, now time.Time) {
	for i := range nodes {
		nodes[i].Date = stampOr(nodes[i].Date, now)
	}
}

// chainFromSegments generates the node chain for each segment's sampled points.
// Node ids start after maxNid; sids are linked when link is true.
func chainFromSegments(segs []Segment, maxNid int64, now time.Time, link bool) ([]Node, []Edge) {
	var nodes []Node
	var edges []Edge
	for _, s := range segs {
		for i, p := range s.SampledPoints {
			maxNid++
			n := Node{
				Nid:     maxNid,
				Coord:   p,
				Creator: SegmentCreator,
				Type:    TypeGeneric,
				Checked: Unverified,
				Status:  StatusShown,
				Date:    now,
			}
			if link {
				sid := s.Sid
				n.Sid = &sid
			}
			nodes = append(nodes, n)
			if i < len(s.SampledPoints)-1 {
				edges = append(edges, Edge{Src: maxNid, Dst: maxNid + 1, Creator: SegmentCreator, Date: now})
			}
		}
	}
	return nodes, edges
}
