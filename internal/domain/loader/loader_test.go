package loader

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/chartfold/internal/domain/records"
	"github.com/ehr/chartfold/internal/domain/stagecount"
	"github.com/ehr/chartfold/internal/platform/db"
	"github.com/ehr/chartfold/internal/platform/db/dbtest"
)

func newTestLoader(t *testing.T, store *db.DB) *Loader {
	t.Helper()
	tick := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return New(store.DB, store.Dialect, zerolog.Nop(), WithClock(clock))
}

func f64(v float64) *float64 { return &v }

func labSet(source string, n int) *records.Set {
	s := records.NewSet(source)
	for i := 0; i < n; i++ {
		s.LabResults = append(s.LabResults, records.LabResult{
			Source:       source,
			TestName:     "Glucose",
			Value:        fmt.Sprint(80 + i),
			ValueNumeric: f64(float64(80 + i)),
			Unit:         "mg/dL",
			ResultDate:   "2024-01-02",
		})
	}
	return s
}

func sampleSet(source string) *records.Set {
	s := records.NewSet(source)
	s.Patient = &records.Patient{Source: source, Name: "Jane Doe", DateOfBirth: "1961-03-04"}
	s.Encounters = []records.Encounter{{Source: source, EncounterDate: "2024-03-01", EncounterType: "Surgery"}}
	s.Conditions = []records.Condition{{Source: source, Name: "Colon cancer", ICD10Code: "C18.9"}}
	s.Procedures = []records.Procedure{
		{Source: source, Name: "Right hemicolectomy", ProcedureDate: "2024-03-01"},
		{Source: source, Name: "Port placement", ProcedureDate: "2024-03-10"},
	}
	ref := 0
	s.PathologyReports = []records.PathologyReport{{Source: source, ProcedureRef: &ref, ReportDate: "2024-03-04", Diagnosis: "Adenocarcinoma"}}
	deceased := true
	s.FamilyHistory = []records.FamilyHistoryEntry{{Source: source, Relation: "Father", Condition: "MI", Deceased: &deceased}}
	score := 0
	s.MentalStatus = []records.MentalStatusEntry{{Source: source, Instrument: "PHQ-2", Question: "Little interest", Score: &score}}
	s.Vitals = []records.Vital{{Source: source, VitalType: "bp", ValueText: "120/80", RecordedDate: "2024-03-01"}}
	return s
}

func TestLoad_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := dbtest.SQLite(t)
	l := newTestLoader(t, store)

	first, err := l.Load(ctx, sampleSet("epic_anderson"), stagecount.Input{})
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	second, err := l.Load(ctx, sampleSet("epic_anderson"), stagecount.Input{})
	if err != nil {
		t.Fatalf("second load: %v", err)
	}

	for _, tbl := range records.AllTables() {
		if first.Counts[tbl] != second.Counts[tbl] {
			t.Errorf("%s: %d rows after first load, %d after second", tbl, first.Counts[tbl], second.Counts[tbl])
		}
	}
	totals := second.Report.Totals()
	if totals.New != 0 || totals.Removed != 0 {
		t.Errorf("expected an unchanged reload, got %+v", totals)
	}
	if totals.Existing != sampleSet("x").Counts().Total() {
		t.Errorf("expected every row to match, got %d existing", totals.Existing)
	}
	if second.Report.Lossy() {
		t.Errorf("unexpected loss flags: %+v", second.Report.Flagged(stagecount.FlagLoss, stagecount.FlagUnpersisted))
	}

	history, err := l.History(ctx, "epic_anderson", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 loads in history, got %d", len(history))
	}
	if history[0].ID != second.LoadID {
		t.Errorf("expected newest load first")
	}
}

func TestLoad_SourceIsolation(t *testing.T) {
	ctx := context.Background()
	store := dbtest.SQLite(t)
	l := newTestLoader(t, store)

	if _, err := l.Load(ctx, sampleSet("epic_anderson"), stagecount.Input{}); err != nil {
		t.Fatalf("load epic: %v", err)
	}
	if _, err := l.Load(ctx, labSet("athena_anderson", 5), stagecount.Input{}); err != nil {
		t.Fatalf("load athena: %v", err)
	}
	before, err := l.SourceCounts(ctx, "epic_anderson")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}

	if _, err := l.Load(ctx, labSet("athena_anderson", 2), stagecount.Input{}); err != nil {
		t.Fatalf("reload athena: %v", err)
	}

	after, err := l.SourceCounts(ctx, "epic_anderson")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	for _, tbl := range records.AllTables() {
		if before[tbl] != after[tbl] {
			t.Errorf("%s: epic rows changed from %d to %d", tbl, before[tbl], after[tbl])
		}
	}

	athena, err := l.SourceCounts(ctx, "athena_anderson")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if athena[records.LabResults] != 2 {
		t.Errorf("expected 2 athena labs, got %d", athena[records.LabResults])
	}

	summary, err := l.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary[records.LabResults] != 2 || summary[records.Procedures] != 2 {
		t.Errorf("unexpected summary: %v", summary)
	}

	sources, err := l.Sources(ctx)
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	if len(sources) != 2 || sources[0] != "athena_anderson" || sources[1] != "epic_anderson" {
		t.Errorf("unexpected sources: %v", sources)
	}
}

func TestListLoads_Pages(t *testing.T) {
	ctx := context.Background()
	store := dbtest.SQLite(t)
	l := newTestLoader(t, store)

	var ids []string
	for i := 1; i <= 3; i++ {
		res, err := l.Load(ctx, labSet("mychart", i), stagecount.Input{})
		if err != nil {
			t.Fatalf("load %d: %v", i, err)
		}
		ids = append(ids, res.LoadID)
	}
	if _, err := l.Load(ctx, labSet("athena_anderson", 1), stagecount.Input{}); err != nil {
		t.Fatalf("load athena: %v", err)
	}

	page, total, err := l.ListLoads(ctx, "mychart", 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(page) != 2 {
		t.Fatalf("expected 2 of 3 loads, got %d of %d", len(page), total)
	}
	if page[0].ID != ids[2] || page[1].ID != ids[1] {
		t.Errorf("expected newest first, got %s, %s", page[0].ID, page[1].ID)
	}

	page, _, err = l.ListLoads(ctx, "mychart", 2, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 1 || page[0].ID != ids[0] || page[0].Counts[records.LabResults] != 1 {
		t.Errorf("unexpected last page: %+v", page)
	}

	_, total, err = l.ListLoads(ctx, "", 10, 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if total != 4 {
		t.Errorf("expected 4 loads in total, got %d", total)
	}

	counts, err := l.LastCounts(ctx, "mychart")
	if err != nil {
		t.Fatalf("last counts: %v", err)
	}
	if counts[records.LabResults] != 3 {
		t.Errorf("expected last mychart load to hold 3 labs, got %d", counts[records.LabResults])
	}
}

func TestLoad_GrowingExport(t *testing.T) {
	ctx := context.Background()
	store := dbtest.SQLite(t)
	l := newTestLoader(t, store)

	if _, err := l.Load(ctx, labSet("meditech_anderson", 847), stagecount.Input{}); err != nil {
		t.Fatalf("first load: %v", err)
	}
	res, err := l.Load(ctx, labSet("meditech_anderson", 850), stagecount.Input{})
	if err != nil {
		t.Fatalf("second load: %v", err)
	}

	if got := res.Counts[records.LabResults]; got != 850 {
		t.Fatalf("expected 850 lab rows, got %d", got)
	}
	d := res.Diff[records.LabResults]
	if d.New != 3 || d.Existing != 847 || d.Removed != 0 {
		t.Errorf("expected +3 =847 -0, got %+v", d)
	}
	stage, _ := res.Report.Stage(records.LabResults)
	if stage.Loaded != 850 || stage.Has(stagecount.FlagUnpersisted) {
		t.Errorf("unexpected stage row: %+v", stage)
	}

	last, err := l.LastCounts(ctx, "meditech_anderson")
	if err != nil {
		t.Fatalf("last counts: %v", err)
	}
	if last[records.LabResults] != 850 {
		t.Errorf("expected last load to record 850 labs, got %d", last[records.LabResults])
	}
}

func TestLoad_InvalidSetRejected(t *testing.T) {
	ctx := context.Background()
	store := dbtest.SQLite(t)
	l := newTestLoader(t, store)

	if _, err := l.Load(ctx, labSet("epic_anderson", 4), stagecount.Input{}); err != nil {
		t.Fatalf("load: %v", err)
	}

	bad := labSet("epic_anderson", 1)
	bad.LabResults[0].ResultDate = "01/02/2024"
	_, err := l.Load(ctx, bad, stagecount.Input{})
	if !errors.Is(err, ErrInvalidSet) {
		t.Fatalf("expected ErrInvalidSet, got %v", err)
	}
	var verr *records.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("expected the validation problems to be wrapped, got %v", err)
	}

	counts, err := l.SourceCounts(ctx, "epic_anderson")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[records.LabResults] != 4 {
		t.Errorf("expected the previous 4 labs to survive, got %d", counts[records.LabResults])
	}

	if _, err := l.Load(ctx, nil, stagecount.Input{}); !errors.Is(err, ErrInvalidSet) {
		t.Errorf("expected ErrInvalidSet for a nil set, got %v", err)
	}
}

func TestLoad_FailureRollsBack(t *testing.T) {
	ctx := context.Background()
	store := dbtest.SQLite(t)
	l := newTestLoader(t, store)

	if _, err := l.Load(ctx, sampleSet("epic_anderson"), stagecount.Input{}); err != nil {
		t.Fatalf("load: %v", err)
	}
	before, err := l.SourceCounts(ctx, "epic_anderson")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}

	// The failure happens after the old rows were deleted and the new ones
	// inserted, when the stage rows are written.
	if _, err := store.ExecContext(ctx, "DROP TABLE load_stage_counts"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, err := l.Load(ctx, labSet("epic_anderson", 9), stagecount.Input{}); err == nil {
		t.Fatal("expected the load to fail")
	}

	after, err := l.SourceCounts(ctx, "epic_anderson")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	for _, tbl := range records.AllTables() {
		if before[tbl] != after[tbl] {
			t.Errorf("%s: %d rows before the failed load, %d after", tbl, before[tbl], after[tbl])
		}
	}
	history, err := l.History(ctx, "", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("expected the failed load to leave no audit row, got %d", len(history))
	}
}

func TestLoad_StoreRejectsNonCanonicalDate(t *testing.T) {
	ctx := context.Background()
	store := dbtest.SQLite(t)
	l := newTestLoader(t, store)

	ts, _ := specFor(records.Encounters)
	tx, err := store.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	row := []any{nil, "2024-13-45x", nil, nil, nil, nil, nil, nil}
	if err := l.insert(ctx, tx, ts, "epic_anderson", [][]any{row}); err == nil {
		t.Error("expected the store to reject a non-canonical date")
	}
}

func TestLoad_PathologyLinkedToProcedure(t *testing.T) {
	ctx := context.Background()
	store := dbtest.SQLite(t)
	l := newTestLoader(t, store)

	for i := 0; i < 2; i++ {
		if _, err := l.Load(ctx, sampleSet("epic_anderson"), stagecount.Input{}); err != nil {
			t.Fatalf("load %d: %v", i, err)
		}
	}

	var name string
	err := store.QueryRowContext(ctx, `SELECT p.name FROM pathology_reports r
		JOIN procedures p ON p.id = r.procedure_id
		WHERE r.source = ?`, "epic_anderson").Scan(&name)
	if err != nil {
		t.Fatalf("join pathology to procedure: %v", err)
	}
	if name != "Right hemicolectomy" {
		t.Errorf("expected the hemicolectomy, got %q", name)
	}
}

func TestLoad_StageCountsStored(t *testing.T) {
	ctx := context.Background()
	store := dbtest.SQLite(t)
	l := newTestLoader(t, store)

	set := labSet("meditech_anderson", 3)
	in := stagecount.Input{
		Raw:         records.Counts{records.LabResults: 5},
		Dropped:     records.Counts{records.LabResults: 1},
		Mapped:      records.Counts{records.LabResults: 4},
		Merged:      records.Counts{records.LabResults: 3},
		MergeTables: map[records.Table]bool{records.LabResults: true},
	}
	res, err := l.Load(ctx, set, in)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	rep, err := l.StageCounts(ctx, res.LoadID)
	if err != nil {
		t.Fatalf("stage counts: %v", err)
	}
	if len(rep.Stages) != len(records.AllTables()) {
		t.Fatalf("expected a row per table, got %d", len(rep.Stages))
	}
	s, ok := rep.Stage(records.LabResults)
	if !ok {
		t.Fatal("missing lab_results row")
	}
	if s.Raw != 5 || s.Dropped != 1 || s.Mapped != 4 || s.Merged != 3 || s.Loaded != 3 || !s.Merges {
		t.Errorf("unexpected stored row: %+v", s)
	}
	if !s.Has(stagecount.FlagDedup) || !s.Has(stagecount.FlagDropped) {
		t.Errorf("expected dedup and dropped flags, got %v", s.Flags)
	}
	if s.Diff.New != 3 {
		t.Errorf("expected 3 new rows, got %+v", s.Diff)
	}

	entry, err := l.LoadByID(ctx, res.LoadID)
	if err != nil {
		t.Fatalf("load by id: %v", err)
	}
	if entry.Source != "meditech_anderson" || entry.Counts[records.LabResults] != 3 {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if !entry.LoadedAt.Equal(res.LoadedAt.Truncate(time.Microsecond)) {
		t.Errorf("loaded_at %v, want %v", entry.LoadedAt, res.LoadedAt)
	}

	if _, err := l.StageCounts(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := l.LoadByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := l.LastCounts(ctx, "never_loaded"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDiffRows(t *testing.T) {
	tests := []struct {
		name     string
		existing map[string]int
		incoming []string
		want     stagecount.Diff
	}{
		{"first load", nil, []string{"a", "b"}, stagecount.Diff{New: 2}},
		{"unchanged", map[string]int{"a": 1, "b": 1}, []string{"b", "a"}, stagecount.Diff{Existing: 2}},
		{"grown", map[string]int{"a": 1}, []string{"a", "b", "c"}, stagecount.Diff{New: 2, Existing: 1}},
		{"shrunk", map[string]int{"a": 1, "b": 2}, []string{"b"}, stagecount.Diff{Existing: 1, Removed: 2}},
		{"extra duplicate", map[string]int{"a": 1}, []string{"a", "a"}, stagecount.Diff{New: 1, Existing: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := diffRows(tt.existing, tt.incoming); got != tt.want {
				t.Errorf("diffRows() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFingerprint_DriverValues(t *testing.T) {
	written := []any{"Glucose", nil, 98.0, true, int64(3)}
	read := []any{[]byte("Glucose"), nil, float64(98), int64(1), int64(3)}
	idx := []int{0, 1, 2, 3, 4}
	if fingerprint(written, idx) != fingerprint(read, idx) {
		t.Errorf("written %q and read %q fingerprints differ", fingerprint(written, idx), fingerprint(read, idx))
	}

	ts, _ := specFor(records.PathologyReports)
	for _, i := range ts.fingerprinted() {
		if ts.columns[i] == "procedure_id" {
			t.Error("procedure_id must not be fingerprinted")
		}
	}
}

func TestSpecsCoverEveryTable(t *testing.T) {
	if len(specs) != len(records.AllTables()) {
		t.Fatalf("expected %d specs, got %d", len(records.AllTables()), len(specs))
	}
	for i, tbl := range records.AllTables() {
		if specs[i].table != tbl {
			t.Errorf("specs[%d] = %s, want %s", i, specs[i].table, tbl)
		}
	}

	set := sampleSet("x")
	for _, ts := range specs {
		for _, row := range ts.rows(set) {
			if len(row) != len(ts.columns) {
				t.Errorf("%s: %d values for %d columns", ts.table, len(row), len(ts.columns))
			}
		}
	}
}
