package loader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ehr/chartfold/internal/domain/records"
	"github.com/ehr/chartfold/internal/domain/stagecount"
	"github.com/ehr/chartfold/internal/platform/db"
)

// LoadEntry is one row of the load audit.
type LoadEntry struct {
	ID       string         `json:"id"`
	Source   string         `json:"source"`
	LoadedAt time.Time      `json:"loaded_at"`
	Duration time.Duration  `json:"duration"`
	Counts   records.Counts `json:"counts"`
}

func loadLogCols() string {
	cols := []string{"id", "source", "loaded_at", "duration_ms"}
	for _, t := range records.AllTables() {
		cols = append(cols, string(t)+"_count")
	}
	return strings.Join(cols, ", ")
}

func scanLoadEntry(scan func(dest ...any) error) (*LoadEntry, error) {
	tables := records.AllTables()
	var (
		e        LoadEntry
		loadedAt string
		ms       int64
		counts   = make([]int, len(tables))
	)
	dest := []any{&e.ID, &e.Source, &loadedAt, &ms}
	for i := range counts {
		dest = append(dest, &counts[i])
	}
	if err := scan(dest...); err != nil {
		return nil, err
	}
	at, err := time.Parse(timeLayout, loadedAt)
	if err != nil {
		return nil, fmt.Errorf("load %s: loaded_at %q: %w", e.ID, loadedAt, err)
	}
	e.LoadedAt = at
	e.Duration = time.Duration(ms) * time.Millisecond
	e.Counts = make(records.Counts, len(tables))
	for i, t := range tables {
		e.Counts[t] = counts[i]
	}
	return &e, nil
}

// History lists loads newest first. An empty source lists every source; a
// limit of 0 or less returns everything.
func (l *Loader) History(ctx context.Context, source string, limit int) ([]*LoadEntry, error) {
	return l.listLoads(ctx, source, limit, 0)
}

// ListLoads returns one page of History together with the number of loads
// matching source.
func (l *Loader) ListLoads(ctx context.Context, source string, limit, offset int) ([]*LoadEntry, int, error) {
	query := "SELECT COUNT(*) FROM load_log"
	var args []any
	if source != "" {
		query += " WHERE source = ?"
		args = append(args, source)
	}
	var total int
	if err := l.db.QueryRowContext(ctx, l.dialect.Rebind(query), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("loader: count loads: %w", err)
	}
	entries, err := l.listLoads(ctx, source, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (l *Loader) listLoads(ctx context.Context, source string, limit, offset int) ([]*LoadEntry, error) {
	query := "SELECT " + loadLogCols() + " FROM load_log"
	var args []any
	if source != "" {
		query += " WHERE source = ?"
		args = append(args, source)
	}
	query += " ORDER BY loaded_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	rows, err := l.db.QueryContext(ctx, l.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("loader: query history: %w", err)
	}
	defer rows.Close()

	var out []*LoadEntry
	for rows.Next() {
		e, err := scanLoadEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("loader: scan history: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loader: iterate history: %w", err)
	}
	return out, nil
}

// LoadByID returns one load, or ErrNotFound.
func (l *Loader) LoadByID(ctx context.Context, id string) (*LoadEntry, error) {
	row := l.db.QueryRowContext(ctx, l.dialect.Rebind("SELECT "+loadLogCols()+" FROM load_log WHERE id = ?"), id)
	e, err := scanLoadEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loader: get load %s: %w", id, err)
	}
	return e, nil
}

// LastCounts returns the per-table counts recorded by the source's most
// recent load, or ErrNotFound when it was never loaded.
func (l *Loader) LastCounts(ctx context.Context, source string) (records.Counts, error) {
	entries, err := l.History(ctx, source, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return entries[0].Counts, nil
}

// StageCounts returns the stored stage comparison of a load.
func (l *Loader) StageCounts(ctx context.Context, loadID string) (stagecount.Report, error) {
	rows, err := l.db.QueryContext(ctx,
		l.dialect.Rebind("SELECT "+stageCols+" FROM load_stage_counts WHERE load_id = ?"), loadID)
	if err != nil {
		return stagecount.Report{}, fmt.Errorf("loader: query stage counts: %w", err)
	}
	defer rows.Close()

	byTable := make(map[records.Table]stagecount.Stage)
	for rows.Next() {
		var (
			s      stagecount.Stage
			name   string
			merges int
			flags  string
		)
		if err := rows.Scan(&name, &s.Raw, &s.Dropped, &s.Mapped, &s.Merged,
			&s.Loaded, &s.Diff.New, &s.Diff.Existing, &s.Diff.Removed, &merges, &flags); err != nil {
			return stagecount.Report{}, fmt.Errorf("loader: scan stage counts: %w", err)
		}
		s.Table = records.Table(name)
		s.Merges = merges != 0
		if flags != "" {
			for _, f := range strings.Split(flags, ",") {
				s.Flags = append(s.Flags, stagecount.Flag(f))
			}
		}
		byTable[s.Table] = s
	}
	if err := rows.Err(); err != nil {
		return stagecount.Report{}, fmt.Errorf("loader: iterate stage counts: %w", err)
	}
	if len(byTable) == 0 {
		return stagecount.Report{}, ErrNotFound
	}

	var rep stagecount.Report
	for _, t := range records.AllTables() {
		if s, ok := byTable[t]; ok {
			rep.Stages = append(rep.Stages, s)
		}
	}
	return rep, nil
}

// Summary counts the rows of every table across all sources.
func (l *Loader) Summary(ctx context.Context) (records.Counts, error) {
	return tableCounts(ctx, l.db, l.dialect, "")
}

// SourceCounts counts the rows one source holds in every table.
func (l *Loader) SourceCounts(ctx context.Context, source string) (records.Counts, error) {
	return tableCounts(ctx, l.db, l.dialect, source)
}

// Sources lists every source with at least one committed load.
func (l *Loader) Sources(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, "SELECT DISTINCT source FROM load_log ORDER BY source")
	if err != nil {
		return nil, fmt.Errorf("loader: query sources: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("loader: scan sources: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// tableCounts counts rows per table, restricted to source unless it is
// empty.
func tableCounts(ctx context.Context, q queryable, d db.Dialect, source string) (records.Counts, error) {
	out := make(records.Counts, len(specs))
	for _, ts := range specs {
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s", ts.table)
		var args []any
		if source != "" {
			query += " WHERE source = ?"
			args = append(args, source)
		}
		var n int
		if err := q.QueryRowContext(ctx, d.Rebind(query), args...).Scan(&n); err != nil {
			return nil, fmt.Errorf("loader: count %s: %w", ts.table, err)
		}
		out[ts.table] = n
	}
	return out, nil
}
