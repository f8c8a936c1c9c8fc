package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"gopkg.in/yaml.v3"
)

// MigrationReport records the outcome of each upgrade phase.
// A phase with nothing to do counts as OK.
type MigrationReport struct {
	NodesOK   bool
	EdgesOK   bool
	IndexesOK bool

	NodesUpgraded bool
	EdgesUpgraded bool
	// NodesFilled counts rows whose NULL review fields were given defaults
	NodesFilled int64
}

// OK reports whether every phase succeeded
func (r *MigrationReport) OK() bool {
	return r.NodesOK && r.EdgesOK && r.IndexesOK
}

// MigrateEmbedded upgrades a legacy embedded file in place: coordinate text
// becomes x/y/z columns, the des column becomes dst, and the lookup indexes are
// ensured. Each phase runs in its own transaction. Failures are logged and
// reported, never returned.
func MigrateEmbedded(ctx context.Context, conn *sql.DB, logger *slog.Logger) *MigrationReport {
	logger = orDiscard(logger)
	report := &MigrationReport{}

	var err error
	report.NodesUpgraded, report.NodesFilled, err = migrateNodes(ctx, conn, logger)
	if err != nil {
		logger.Error("upgrading nodes table", slog.Any("error", err))
	} else {
		report.NodesOK = true
	}

	report.EdgesUpgraded, err = migrateEdges(ctx, conn, logger)
	if err != nil {
		logger.Error("upgrading edges table", slog.Any("error", err))
	} else {
		report.EdgesOK = true
	}

	if err := migrateIndexes(ctx, conn); err != nil {
		logger.Error("creating indexes", slog.Any("error", err))
	} else {
		report.IndexesOK = true
	}
	return report
}

// tableColumns returns the column names of table, empty when it does not exist
func tableColumns(ctx context.Context, q interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}, table string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", table, classify(err))
	}
	defer rows.Close()
	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// colOr selects col when present, otherwise the fallback literal
func colOr(cols map[string]bool, col, fallback string) string {
	if cols[col] {
		return col
	}
	return fallback + " AS " + col
}

// parseLegacyCoord decodes stored coordinate text such as "[1, 2, 3]" or
// "(1.0, 2.0, 3.0)". Components are rounded to the nearest integer.
func parseLegacyCoord(text string) (Coord, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = "[" + s[1:len(s)-1] + "]"
	}
	var vals []float64
	if err := yaml.Unmarshal([]byte(s), &vals); err != nil {
		return Coord{}, fmt.Errorf("decoding coordinate %q: %w", text, err)
	}
	if len(vals) != 3 {
		return Coord{}, fmt.Errorf("coordinate %q has %d components, want 3", text, len(vals))
	}
	var c Coord
	for i, v := range vals {
		c[i] = int64(math.Round(v))
	}
	return c, nil
}

// nodeFillDefaults gives NULL review fields the values new rows get, so the
// change-only update and the graph mirror agree on what a node holds.
const nodeFillDefaults = `
	UPDATE nodes SET
		creator = COALESCE(creator, ''),
		type = COALESCE(type, 0),
		checked = COALESCE(checked, 0),
		status = COALESCE(status, 1)
	WHERE creator IS NULL OR type IS NULL OR checked IS NULL OR status IS NULL`

func fillNodeDefaults(ctx context.Context, tx *sql.Tx, cols map[string]bool, logger *slog.Logger) (int64, error) {
	for _, col := range []string{"creator", "type", "checked", "status"} {
		if !cols[col] {
			return 0, nil
		}
	}
	res, err := tx.ExecContext(ctx, nodeFillDefaults)
	if err != nil {
		return 0, fmt.Errorf("filling node defaults: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Info("filled missing node fields", slog.Int64("rows", n))
	}
	return n, nil
}

func migrateNodes(ctx context.Context, conn *sql.DB, logger *slog.Logger) (upgraded bool, filled int64, err error) {
	err = withTx(ctx, conn, func(tx *sql.Tx) error {
		cols, err := tableColumns(ctx, tx, "nodes")
		if err != nil {
			return err
		}
		if !cols["coord"] || (cols["x"] && cols["y"] && cols["z"]) {
			filled, err = fillNodeDefaults(ctx, tx, cols, logger)
			return err
		}
		logger.Info("upgrading nodes table schema")

		if _, err := tx.ExecContext(ctx, `
			CREATE TABLE nodes_new(
				nid INTEGER PRIMARY KEY,
				x INTEGER,
				y INTEGER,
				z INTEGER,
				creator TEXT,
				type INTEGER,
				checked INTEGER,
				status INTEGER,
				date TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)`); err != nil {
			return fmt.Errorf("creating nodes_new: %w", classify(err))
		}

		query := fmt.Sprintf(`SELECT nid, coord, %s, %s, %s, %s, %s FROM nodes`,
			colOr(cols, "creator", "''"),
			colOr(cols, "type", "0"),
			colOr(cols, "checked", "0"),
			colOr(cols, "status", "1"),
			colOr(cols, "date", "CURRENT_TIMESTAMP"),
		)
		type legacyNode struct {
			nid                  int64
			coord                sql.NullString
			creator              sql.NullString
			typ, checked, status sql.NullInt64
			date                 any
		}
		rows, err := tx.QueryContext(ctx, query)
		if err != nil {
			return fmt.Errorf("reading legacy nodes: %w", classify(err))
		}
		var legacy []legacyNode
		for rows.Next() {
			var n legacyNode
			if err := rows.Scan(&n.nid, &n.coord, &n.creator, &n.typ, &n.checked, &n.status, &n.date); err != nil {
				rows.Close()
				return fmt.Errorf("scanning legacy node: %w", err)
			}
			legacy = append(legacy, n)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, n := range legacy {
			c, err := parseLegacyCoord(n.coord.String)
			if err != nil {
				return fmt.Errorf("node %d: %w", n.nid, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO nodes_new (nid, x, y, z, creator, type, checked, status, date) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				n.nid, c[0], c[1], c[2], n.creator, n.typ, n.checked, n.status, n.date,
			); err != nil {
				return fmt.Errorf("copying node %d: %w", n.nid, classify(err))
			}
		}

		if _, err := tx.ExecContext(ctx, `DROP TABLE nodes`); err != nil {
			return fmt.Errorf("dropping legacy nodes: %w", classify(err))
		}
		if _, err := tx.ExecContext(ctx, `ALTER TABLE nodes_new RENAME TO nodes`); err != nil {
			return fmt.Errorf("renaming nodes_new: %w", classify(err))
		}
		logger.Info("nodes table upgraded", slog.Int("rows", len(legacy)))
		upgraded = true

		filled, err = fillNodeDefaults(ctx, tx, map[string]bool{"creator": true, "type": true, "checked": true, "status": true}, logger)
		return err
	})
	if err != nil {
		return false, 0, err
	}
	return upgraded, filled, nil
}

func migrateEdges(ctx context.Context, conn *sql.DB, logger *slog.Logger) (upgraded bool, err error) {
	err = withTx(ctx, conn, func(tx *sql.Tx) error {
		cols, err := tableColumns(ctx, tx, "edges")
		if err != nil {
			return err
		}
		if !cols["des"] || cols["dst"] {
			return nil
		}
		logger.Info("upgrading edges table schema")

		if _, err := tx.ExecContext(ctx, `
			CREATE TABLE edges_new(
				src INTEGER,
				dst INTEGER,
				creator TEXT,
				date TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (src, dst),
				CHECK (src <= dst)
			)`); err != nil {
			return fmt.Errorf("creating edges_new: %w", classify(err))
		}

		// min/max canonicalizes; OR IGNORE drops pairs that collapse together
		query := fmt.Sprintf(`
			INSERT OR IGNORE INTO edges_new (src, dst, creator, date)
			SELECT MIN(src, des), MAX(src, des), %s, %s FROM edges`,
			colOr(cols, "creator", "''"),
			colOr(cols, "date", "CURRENT_TIMESTAMP"),
		)
		res, err := tx.ExecContext(ctx, query)
		if err != nil {
			return fmt.Errorf("copying legacy edges: %w", classify(err))
		}

		if _, err := tx.ExecContext(ctx, `DROP TABLE edges`); err != nil {
			return fmt.Errorf("dropping legacy edges: %w", classify(err))
		}
		if _, err := tx.ExecContext(ctx, `ALTER TABLE edges_new RENAME TO edges`); err != nil {
			return fmt.Errorf("renaming edges_new: %w", classify(err))
		}
		n, _ := res.RowsAffected()
		logger.Info("edges table upgraded", slog.Int64("rows", n))
		upgraded = true
		return nil
	})
	return upgraded, err
}

// migrateIndexes ensures the lookup indexes on tables that already exist.
// Fresh tables get theirs from the schema bootstrap.
func migrateIndexes(ctx context.Context, conn *sql.DB) error {
	return withTx(ctx, conn, func(tx *sql.Tx) error {
		nodeCols, err := tableColumns(ctx, tx, "nodes")
		if err != nil {
			return err
		}
		edgeCols, err := tableColumns(ctx, tx, "edges")
		if err != nil {
			return err
		}
		var stmts []string
		if nodeCols["nid"] {
			stmts = append(stmts, `CREATE INDEX IF NOT EXISTS idx_nodes_nid ON nodes (nid)`)
		}
		if edgeCols["src"] {
			stmts = append(stmts, `CREATE INDEX IF NOT EXISTS idx_edges_src ON edges (src)`)
		}
		if edgeCols["dst"] {
			stmts = append(stmts, `CREATE INDEX IF NOT EXISTS idx_edges_dst ON edges (dst)`)
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("%s: %w", stmt, classify(err))
			}
		}
		return nil
	})
}
