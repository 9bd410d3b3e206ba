package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// KeyColumns identify a region in every per-period table.
var KeyColumns = []string{"county", "district", "region"}

// PeriodTable is a table holding one snapshot per period for each region,
// keyed on KeyColumns plus the period columns.
type PeriodTable struct {
	Schema string
	Name   string
	Period []string // e.g. {"year"} or {"year", "month"}
	Values []string // measure columns
}

// Columns lists the row layout MergePeriods expects: key, period, values.
func (t PeriodTable) Columns() []string {
	cols := make([]string, 0, len(KeyColumns)+len(t.Period)+len(t.Values))
	cols = append(cols, KeyColumns...)
	cols = append(cols, t.Period...)
	return append(cols, t.Values...)
}

// MergeStats counts what a merge changed.
type MergeStats struct {
	Written int64 // inserted or updated with different values
	Removed int64 // regions dropped from a re-delivered period
}

// MergePeriods loads rows as the new contents of every period they mention.
// Other periods are left alone. Within a delivered period, regions that are
// absent from rows are deleted and rows whose values did not change are not
// rewritten. Everything runs in one transaction.
func MergePeriods(ctx context.Context, pool Pool, t PeriodTable, rows [][]any) (MergeStats, error) {
	var stats MergeStats
	if len(rows) == 0 {
		return stats, nil
	}
	if len(t.Period) == 0 {
		return stats, eris.Errorf("db: merge %s: no period columns", t.Name)
	}
	if len(t.Values) == 0 {
		return stats, eris.Errorf("db: merge %s: no value columns", t.Name)
	}
	cols := t.Columns()
	for i, r := range rows {
		if len(r) != len(cols) {
			return stats, eris.Errorf("db: merge %s: row %d has %d fields, want %d", t.Name, i, len(r), len(cols))
		}
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return stats, eris.Wrapf(err, "db: merge %s: begin tx", t.Name)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	target := pgx.Identifier{t.Schema, t.Name}.Sanitize()
	stage := pgx.Identifier{"_stage_" + t.Name}

	if _, err := tx.Exec(ctx, fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP", stage.Sanitize(), target)); err != nil {
		return stats, eris.Wrapf(err, "db: merge %s: create stage table", t.Name)
	}
	if _, err := tx.CopyFrom(ctx, stage, cols, pgx.CopyFromRows(rows)); err != nil {
		return stats, eris.Wrapf(err, "db: merge %s: copy", t.Name)
	}

	tag, err := tx.Exec(ctx, pruneSQL(target, stage.Sanitize(), t.Period))
	if err != nil {
		return stats, eris.Wrapf(err, "db: merge %s: prune", t.Name)
	}
	stats.Removed = tag.RowsAffected()

	tag, err = tx.Exec(ctx, upsertSQL(target, stage.Sanitize(), t))
	if err != nil {
		return stats, eris.Wrapf(err, "db: merge %s: upsert", t.Name)
	}
	stats.Written = tag.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return MergeStats{}, eris.Wrapf(err, "db: merge %s: commit", t.Name)
	}
	return stats, nil
}

// pruneSQL deletes rows of the delivered periods whose region is not staged.
func pruneSQL(target, stage string, period []string) string {
	p := quoteAndJoin(period)
	match := make([]string, 0, len(KeyColumns)+len(period))
	for _, c := range append(append([]string{}, KeyColumns...), period...) {
		q := pgx.Identifier{c}.Sanitize()
		match = append(match, fmt.Sprintf("s.%s = t.%s", q, q))
	}
	return fmt.Sprintf(
		"DELETE FROM %s AS t WHERE (%s) IN (SELECT DISTINCT %s FROM %s) AND NOT EXISTS (SELECT 1 FROM %s AS s WHERE %s)",
		target, prefixed("t", period), p, stage, stage, strings.Join(match, " AND "),
	)
}

// upsertSQL inserts staged rows and updates existing ones only when a value
// column differs.
func upsertSQL(target, stage string, t PeriodTable) string {
	cols := quoteAndJoin(t.Columns())
	sets := make([]string, len(t.Values))
	for i, c := range t.Values {
		q := pgx.Identifier{c}.Sanitize()
		sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", q, q)
	}
	conflict := quoteAndJoin(append(append([]string{}, KeyColumns...), t.Period...))
	return fmt.Sprintf(
		"INSERT INTO %s AS t (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s WHERE (%s) IS DISTINCT FROM (%s)",
		target, cols, cols, stage, conflict, strings.Join(sets, ", "),
		prefixed("t", t.Values), prefixed("EXCLUDED", t.Values),
	)
}

func prefixed(alias string, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = alias + "." + pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(out, ", ")
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
