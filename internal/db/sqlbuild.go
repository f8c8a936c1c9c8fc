package db

import (
	"fmt"
	"strings"
	"time"
)

// argList collects positional arguments and renders their placeholders in
// order of appearance, so one builder serves both "?" and "$n" dialects.
type argList struct {
	args []any
	ph   func(n int) string
}

// maxBatchIDs bounds the ids bound into one statement.
// SQLite refuses more than 32766 variables and an edge delete binds every id twice.
const maxBatchIDs = 500

// chunkIDs splits ids into consecutive batches of at most size
func chunkIDs(ids []int64, size int) [][]int64 {
	var batches [][]int64
	for len(ids) > size {
		batches = append(batches, ids[:size:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		batches = append(batches, ids)
	}
	return batches
}

func questionMarks(int) string   { return "?" }
func dollarNumbers(n int) string { return fmt.Sprintf("$%d", n) }

func (a *argList) add(v any) string {
	a.args = append(a.args, v)
	return a.ph(len(a.args))
}

func (a *argList) in(ids []int64) string {
	marks := make([]string, len(ids))
	for i, id := range ids {
		marks[i] = a.add(id)
	}
	return strings.Join(marks, ", ")
}

// buildNodeUpdate renders the change-only partial update of nodes:
// supplied fields and the date are written only where some supplied field differs.
func buildNodeUpdate(nids []int64, upd NodeUpdate, date time.Time, ph func(int) string) (string, []any) {
	type field struct {
		col string
		val any
	}
	var fields []field
	if upd.Creator != nil {
		fields = append(fields, field{"creator", *upd.Creator})
	}
	if upd.Type != nil {
		fields = append(fields, field{"type", *upd.Type})
	}
	if upd.Checked != nil {
		fields = append(fields, field{"checked", *upd.Checked})
	}
	if upd.Status != nil {
		fields = append(fields, field{"status", *upd.Status})
	}

	a := &argList{ph: ph}
	set := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		set = append(set, f.col+" = "+a.add(f.val))
	}
	set = append(set, "date = "+a.add(date))

	in := a.in(nids)

	where := make([]string, 0, len(fields))
	for _, f := range fields {
		where = append(where, fmt.Sprintf("(%s IS NULL OR %s != %s)", f.col, f.col, a.add(f.val)))
	}

	query := fmt.Sprintf("UPDATE nodes SET %s WHERE nid IN (%s) AND (%s)",
		strings.Join(set, ", "), in, strings.Join(where, " OR "))
	return query, a.args
}
