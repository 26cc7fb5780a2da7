// Package loader persists one source's record set into the store. A load
// replaces everything the source held before, inside a single transaction,
// and leaves an audit row with per-table and per-stage counts.
package loader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/chartfold/internal/domain/records"
	"github.com/ehr/chartfold/internal/domain/stagecount"
	"github.com/ehr/chartfold/internal/platform/db"
	"github.com/ehr/chartfold/internal/platform/metrics"
)

var (
	// ErrInvalidSet is returned, before the store is touched, for a set that
	// violates the store invariants.
	ErrInvalidSet = errors.New("loader: invalid record set")
	// ErrNotFound is returned when no load matches a lookup.
	ErrNotFound = errors.New("loader: not found")
)

// timeLayout is fixed width so loaded_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

type queryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Loader writes record sets and reads back the load audit.
type Loader struct {
	db      *sql.DB
	dialect db.Dialect
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Loader.
type Option func(*Loader)

// WithMetrics reports loads to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Loader) { l.now = now }
}

// New creates a Loader over an already migrated store.
func New(conn *sql.DB, dialect db.Dialect, logger zerolog.Logger, opts ...Option) *Loader {
	l := &Loader{
		db:      conn,
		dialect: dialect,
		logger:  logger.With().Str("component", "loader").Logger(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Result describes a committed load.
type Result struct {
	LoadID   string                            `json:"load_id"`
	Source   string                            `json:"source"`
	LoadedAt time.Time                         `json:"loaded_at"`
	Duration time.Duration                     `json:"duration"`
	Counts   records.Counts                    `json:"counts"`
	Diff     map[records.Table]stagecount.Diff `json:"diff"`
	Report   stagecount.Report                 `json:"report"`
}

// Load replaces every row of set.Source with the contents of set. in carries
// the counts observed before the load; the loaded counts and the diff
// against the replaced rows are added to it to build the stored stage rows.
// On any error the transaction is rolled back and the store keeps its
// previous contents.
func (l *Loader) Load(ctx context.Context, set *records.Set, in stagecount.Input) (*Result, error) {
	if set == nil {
		return nil, fmt.Errorf("%w: nil set", ErrInvalidSet)
	}
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSet, err)
	}

	start := l.now()
	source := set.Source
	log := l.logger.With().Str("source", source).Logger()
	log.Info().Int("records", set.Counts().Total()).Msg("load started")

	res, err := l.load(ctx, set, in, start)
	if err != nil {
		log.Error().Err(err).Msg("load rolled back")
		l.metrics.ObserveLoad(source, metrics.OutcomeFailed, l.now().Sub(start))
		return nil, err
	}

	log.Info().
		Str("load_id", res.LoadID).
		Dur("duration", res.Duration).
		Int("loaded", res.Counts.Total()).
		Msg("load committed")
	l.metrics.ObserveLoad(source, metrics.OutcomeCommitted, res.Duration)
	for t, n := range res.Counts {
		l.metrics.SetLoaded(source, string(t), n)
	}
	for _, s := range res.Report.Stages {
		for _, f := range s.Flags {
			l.metrics.IncFlag(string(s.Table), string(f))
		}
	}
	return res, nil
}

func (l *Loader) load(ctx context.Context, set *records.Set, in stagecount.Input, start time.Time) (*Result, error) {
	source := set.Source
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("loader: begin: %w", err)
	}
	defer tx.Rollback()

	incoming := make(map[records.Table][][]any, len(specs))
	for _, ts := range specs {
		incoming[ts.table] = ts.rows(set)
	}

	diff := make(map[records.Table]stagecount.Diff, len(specs))
	for _, ts := range specs {
		existing, err := existingRows(ctx, tx, l.dialect, ts, source)
		if err != nil {
			return nil, err
		}
		idx := ts.fingerprinted()
		fps := make([]string, len(incoming[ts.table]))
		for i, row := range incoming[ts.table] {
			fps[i] = fingerprint(row, idx)
		}
		diff[ts.table] = diffRows(existing, fps)
	}

	if err := l.deleteSource(ctx, tx, source); err != nil {
		return nil, err
	}

	var procedureIDs []int64
	for _, ts := range specs {
		rows := incoming[ts.table]
		switch ts.table {
		case records.Procedures:
			procedureIDs, err = l.insertReturning(ctx, tx, ts, source, rows)
		case records.PathologyReports:
			for i, r := range set.PathologyReports {
				if ref := r.ProcedureRef; ref != nil {
					rows[i][1] = procedureIDs[*ref]
				}
			}
			err = l.insert(ctx, tx, ts, source, rows)
		default:
			err = l.insert(ctx, tx, ts, source, rows)
		}
		if err != nil {
			return nil, err
		}
	}

	loaded, err := tableCounts(ctx, tx, l.dialect, source)
	if err != nil {
		return nil, err
	}

	if in.Mapped == nil {
		in.Mapped = set.Counts()
	}
	if in.Raw == nil {
		in.Raw = in.Mapped
	}
	in.Loaded = loaded
	in.Diff = diff
	report := stagecount.Verify(in)

	res := &Result{
		LoadID:   uuid.New().String(),
		Source:   source,
		LoadedAt: start.UTC(),
		Counts:   loaded,
		Diff:     diff,
		Report:   report,
	}
	res.Duration = l.now().Sub(start)

	if err := l.writeLog(ctx, tx, res); err != nil {
		return nil, err
	}
	if err := l.writeStages(ctx, tx, res.LoadID, report); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("loader: commit: %w", err)
	}
	return res, nil
}

// deleteSource removes the source's rows, dependents first.
func (l *Loader) deleteSource(ctx context.Context, tx *sql.Tx, source string) error {
	for i := len(specs) - 1; i >= 0; i-- {
		t := specs[i].table
		query := l.dialect.Rebind(fmt.Sprintf("DELETE FROM %s WHERE source = ?", t))
		if _, err := tx.ExecContext(ctx, query, source); err != nil {
			return fmt.Errorf("loader: delete %s: %w", t, err)
		}
	}
	return nil
}

func insertSQL(ts tableSpec) string {
	return fmt.Sprintf("INSERT INTO %s (source, %s) VALUES (%s)",
		ts.table, strings.Join(ts.columns, ", "), db.Placeholders(len(ts.columns)+1))
}

func (l *Loader) insert(ctx context.Context, tx *sql.Tx, ts tableSpec, source string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, l.dialect.Rebind(insertSQL(ts)))
	if err != nil {
		return fmt.Errorf("loader: prepare %s: %w", ts.table, err)
	}
	defer stmt.Close()

	args := make([]any, len(ts.columns)+1)
	args[0] = source
	for i, row := range rows {
		copy(args[1:], row)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("loader: insert %s[%d]: %w", ts.table, i, err)
		}
	}
	return nil
}

// insertReturning inserts rows one at a time and returns their generated
// ids in order.
func (l *Loader) insertReturning(ctx context.Context, tx *sql.Tx, ts tableSpec, source string, rows [][]any) ([]int64, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	stmt, err := tx.PrepareContext(ctx, l.dialect.Rebind(insertSQL(ts)+" RETURNING id"))
	if err != nil {
		return nil, fmt.Errorf("loader: prepare %s: %w", ts.table, err)
	}
	defer stmt.Close()

	ids := make([]int64, len(rows))
	args := make([]any, len(ts.columns)+1)
	args[0] = source
	for i, row := range rows {
		copy(args[1:], row)
		if err := stmt.QueryRowContext(ctx, args...).Scan(&ids[i]); err != nil {
			return nil, fmt.Errorf("loader: insert %s[%d]: %w", ts.table, i, err)
		}
	}
	return ids, nil
}

func (l *Loader) writeLog(ctx context.Context, tx *sql.Tx, res *Result) error {
	cols := []string{"id", "source", "loaded_at", "duration_ms"}
	args := []any{res.LoadID, res.Source, res.LoadedAt.Format(timeLayout), res.Duration.Milliseconds()}
	for _, t := range records.AllTables() {
		cols = append(cols, string(t)+"_count")
		args = append(args, res.Counts[t])
	}
	query := fmt.Sprintf("INSERT INTO load_log (%s) VALUES (%s)", strings.Join(cols, ", "), db.Placeholders(len(cols)))
	if _, err := tx.ExecContext(ctx, l.dialect.Rebind(query), args...); err != nil {
		return fmt.Errorf("loader: write load_log: %w", err)
	}
	return nil
}

const stageCols = `table_name, raw_count, dropped_count, mapped_count, merged_count,
	loaded_count, new_count, existing_count, removed_count, merges, flags`

func (l *Loader) writeStages(ctx context.Context, tx *sql.Tx, loadID string, report stagecount.Report) error {
	query := l.dialect.Rebind(`INSERT INTO load_stage_counts (load_id, ` + stageCols + `)
		VALUES (` + db.Placeholders(12) + `)`)
	for _, s := range report.Stages {
		merges := 0
		if s.Merges {
			merges = 1
		}
		flags := make([]string, len(s.Flags))
		for i, f := range s.Flags {
			flags[i] = string(f)
		}
		if _, err := tx.ExecContext(ctx, query,
			loadID, string(s.Table), s.Raw, s.Dropped, s.Mapped, s.Merged,
			s.Loaded, s.Diff.New, s.Diff.Existing, s.Diff.Removed, merges, strings.Join(flags, ","),
		); err != nil {
			return fmt.Errorf("loader: write stage counts for %s: %w", s.Table, err)
		}
	}
	return nil
}
