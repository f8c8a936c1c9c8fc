package db

import (
	"context"
	"fmt"
	"strings"
)

// ColumnInfo describes one table column as SQLite reports it
type ColumnInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	NotNull    bool   `json:"not_null"`
	PrimaryKey bool   `json:"primary_key"`
}

// TableInfo describes one table of an embedded file
type TableInfo struct {
	Name    string       `json:"name"`
	Columns []ColumnInfo `json:"columns"`
	Rows    int64        `json:"rows"`
}

// IndexInfo names an index and the table it covers
type IndexInfo struct {
	Name  string `json:"name"`
	Table string `json:"table"`
}

// Inspection is a structural summary of an embedded file
type Inspection struct {
	Path    string      `json:"path"`
	Tables  []TableInfo `json:"tables"`
	Indexes []IndexInfo `json:"indexes"`
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Inspect lists tables with their columns and row counts, and all indexes
func (s *EmbeddedStore) Inspect(ctx context.Context) (*Inspection, error) {
	out := &Inspection{Path: s.Path}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", classify(err))
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, name := range names {
		t := TableInfo{Name: name}
		cols, err := s.conn.QueryContext(ctx,
			`SELECT name, type, "notnull", pk FROM pragma_table_info(?) ORDER BY cid`, name)
		if err != nil {
			return nil, fmt.Errorf("reading columns of %s: %w", name, classify(err))
		}
		for cols.Next() {
			var c ColumnInfo
			var notNull, pk int
			if err := cols.Scan(&c.Name, &c.Type, &notNull, &pk); err != nil {
				cols.Close()
				return nil, err
			}
			c.NotNull = notNull != 0
			c.PrimaryKey = pk != 0
			t.Columns = append(t.Columns, c)
		}
		cols.Close()
		if err := cols.Err(); err != nil {
			return nil, err
		}

		if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+quoteIdent(name)).Scan(&t.Rows); err != nil {
			return nil, fmt.Errorf("counting %s: %w", name, classify(err))
		}
		out.Tables = append(out.Tables, t)
	}

	idx, err := s.conn.QueryContext(ctx,
		`SELECT name, tbl_name FROM sqlite_master WHERE type = 'index' ORDER BY tbl_name, name`)
	if err != nil {
		return nil, fmt.Errorf("listing indexes: %w", classify(err))
	}
	defer idx.Close()
	for idx.Next() {
		var i IndexInfo
		if err := idx.Scan(&i.Name, &i.Table); err != nil {
			return nil, err
		}
		out.Indexes = append(out.Indexes, i)
	}
	return out, idx.Err()
}
