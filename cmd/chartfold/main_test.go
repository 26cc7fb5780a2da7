package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/chartfold/internal/config"
	"github.com/ehr/chartfold/internal/domain/records"
	"github.com/ehr/chartfold/internal/domain/sources"
)

const athenaExport = `{
  "patient": {"name": "Jane Doe", "dob": "19610304"},
  "lab_results": [
    {"test_name": "Glucose", "value": "98", "unit": "mg/dL", "date": "2024-05-01"},
    {"test_name": "", "value": "1"}
  ],
  "allergies": [{"allergen": "Sulfa"}]
}`

// useStore points the config at a fresh sqlite file.
func useStore(t *testing.T) {
	t.Helper()
	t.Setenv("ENV", "test")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "chartfold.db"))
	t.Setenv("LOG_LEVEL", "error")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.Execute()
	return out.String(), err
}

func writeExport(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "anderson")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "AmbulatorySummary1_Doe.xml"), []byte("<x/>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, sources.RawFileName), []byte(athenaExport), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadCommand_AutoDetect(t *testing.T) {
	useStore(t)
	dir := writeExport(t)

	out, err := run(t, "load", "auto", dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.Contains(out, "Loaded athena export as athena_anderson") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "Stage Comparison") || !strings.Contains(out, "lab_results") {
		t.Errorf("expected the stage table in the output:\n%s", out)
	}

	out, err = run(t, "load", "athena", dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !strings.Contains(out, "No changes") {
		t.Errorf("expected an unchanged reload:\n%s", out)
	}
}

func TestLoadCommand_SourceNameAndUnknownKind(t *testing.T) {
	useStore(t)
	dir := writeExport(t)

	out, err := run(t, "load", "athena", dir, "--source-name", "athena_clinic")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.Contains(out, "as athena_clinic") {
		t.Errorf("expected the explicit source name:\n%s", out)
	}

	if _, err := run(t, "load", "cerner", dir); err == nil {
		t.Error("expected an error for an unknown source kind")
	}
	if _, err := run(t, "load", "auto"); err == nil {
		t.Error("expected an argument error")
	}
}

func TestHistoryAndSummaryCommands(t *testing.T) {
	useStore(t)
	dir := writeExport(t)
	if _, err := run(t, "load", "auto", dir); err != nil {
		t.Fatalf("load: %v", err)
	}

	out, err := run(t, "history", "--source", "athena_anderson")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "athena_anderson") {
		t.Fatalf("expected one load listed:\n%s", out)
	}
	loadID := strings.Fields(lines[1])[0]

	out, err = run(t, "history", loadID)
	if err != nil {
		t.Fatalf("history %s: %v", loadID, err)
	}
	if !strings.Contains(out, "Load "+loadID) || !strings.Contains(out, "Stage Comparison") {
		t.Errorf("unexpected load detail:\n%s", out)
	}
	if _, err := run(t, "history", "no-such-load"); err == nil {
		t.Error("expected an error for an unknown load id")
	}

	out, err = run(t, "summary")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !strings.Contains(out, "lab_results") || !strings.Contains(out, "1 source(s) loaded") {
		t.Errorf("unexpected summary:\n%s", out)
	}
}

func TestMigrateCommands(t *testing.T) {
	useStore(t)

	out, err := run(t, "migrate", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "pending") || strings.Contains(out, "applied ") {
		t.Errorf("expected only pending migrations:\n%s", out)
	}

	out, err = run(t, "migrate", "up", "--to", "1")
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	if !strings.Contains(out, "Applied 1 migration(s)") {
		t.Errorf("unexpected output:\n%s", out)
	}

	out, err = run(t, "migrate", "up")
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	if !strings.Contains(out, "Applied 1 migration(s)") {
		t.Errorf("expected the remaining migration to apply:\n%s", out)
	}

	out, err = run(t, "migrate", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if strings.Contains(out, "pending") {
		t.Errorf("expected every migration applied:\n%s", out)
	}
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&config.Config{Env: "production", LogLevel: "warn"}, &buf)
	logger.Info().Msg("hidden")
	logger.Warn().Str("component", "loader").Msg("shown")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected exactly one JSON line, got %q: %v", buf.String(), err)
	}
	if line["message"] != "shown" {
		t.Errorf("unexpected line %v", line)
	}

	if got := newLogger(&config.Config{LogLevel: "bogus"}, io.Discard).GetLevel(); got != zerolog.InfoLevel {
		t.Errorf("expected info for an unknown level, got %s", got)
	}
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	counts := records.Counts{records.LabResults: 12, records.Allergies: 1}
	if err := writeSummary(&buf, counts, []string{"epic_anderson"}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Contains(out, string(records.Medications)) {
		t.Errorf("empty tables should be omitted:\n%s", out)
	}
	if !strings.Contains(out, "13") || !strings.Contains(out, "1 source(s) loaded") {
		t.Errorf("unexpected summary:\n%s", out)
	}
}
