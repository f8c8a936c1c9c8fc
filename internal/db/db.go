package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	_ "modernc.org/sqlite"
)

const embeddedSchema = `
CREATE TABLE IF NOT EXISTS segs(
	sid INTEGER PRIMARY KEY,
	points TEXT,
	sampled_points TEXT
);
CREATE TABLE IF NOT EXISTS nodes(
	nid INTEGER PRIMARY KEY,
	x INTEGER,
	y INTEGER,
	z INTEGER,
	creator TEXT,
	type INTEGER,
	checked INTEGER,
	status INTEGER,
	date TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS edges(
	src INTEGER,
	dst INTEGER,
	creator TEXT,
	date TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (src, dst),
	CHECK (src <= dst)
);
`

const embeddedIndexes = `
CREATE INDEX IF NOT EXISTS idx_nodes_nid ON nodes (nid);
CREATE INDEX IF NOT EXISTS idx_edges_src ON edges (src);
CREATE INDEX IF NOT EXISTS idx_edges_dst ON edges (dst);
`

// EmbeddedStore is the single-file SQLite backend
type EmbeddedStore struct {
	conn   *sql.DB
	Path   string
	logger *slog.Logger

	// Migration is the schema upgrade report when an existing file was opened
	Migration *MigrationReport
}

// OpenEmbedded opens or creates a SQLite store. Existing files are upgraded
// to the current layout before use; a failed upgrade is logged and reported
// in Migration but does not fail the open.
func OpenEmbedded(ctx context.Context, path string, logger *slog.Logger) (*EmbeddedStore, error) {
	logger = orDiscard(logger).With(slog.String("backend", string(KindEmbedded)))

	_, statErr := os.Stat(path)
	exists := statErr == nil

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", classify(err))
	}
	// One connection: every call is a self-contained unit of work
	conn.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent readers in other processes
	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", classify(err))
	}

	// Enable foreign keys
	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", classify(err))
	}

	s := &EmbeddedStore{conn: conn, Path: path, logger: logger}

	if exists {
		report := MigrateEmbedded(ctx, conn, logger)
		s.Migration = report
		if report.OK() {
			logger.Info("database schema is up-to-date", slog.String("path", path))
		} else {
			logger.Warn("database schema upgrade failed, check the database schema manually",
				slog.String("path", path))
		}
	}

	if err := s.ensureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *EmbeddedStore) ensureSchema(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, embeddedSchema); err != nil {
		return fmt.Errorf("creating tables: %w", classify(err))
	}
	if _, err := s.conn.ExecContext(ctx, embeddedIndexes); err != nil {
		return fmt.Errorf("creating indexes: %w", classify(err))
	}
	return nil
}

// Kind reports KindEmbedded
func (s *EmbeddedStore) Kind() Kind { return KindEmbedded }

// Close closes the database connection
func (s *EmbeddedStore) Close() error {
	return s.conn.Close()
}

// Conn returns the underlying sql.DB for custom queries
func (s *EmbeddedStore) Conn() *sql.DB {
	return s.conn
}
