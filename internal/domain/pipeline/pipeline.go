// Package pipeline runs one export through mapping, merging, verification
// and loading.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehr/chartfold/internal/domain/loader"
	"github.com/ehr/chartfold/internal/domain/merge"
	"github.com/ehr/chartfold/internal/domain/records"
	"github.com/ehr/chartfold/internal/domain/sources"
	"github.com/ehr/chartfold/internal/domain/sources/athena"
	"github.com/ehr/chartfold/internal/domain/sources/epic"
	"github.com/ehr/chartfold/internal/domain/sources/meditech"
	"github.com/ehr/chartfold/internal/domain/sources/mychart"
	"github.com/ehr/chartfold/internal/domain/stagecount"
	"github.com/ehr/chartfold/internal/normalize"
	"github.com/ehr/chartfold/internal/platform/metrics"
)

// KindAuto asks Resolve to detect the source from the export layout.
const KindAuto = "auto"

// DefaultRegistry registers the built-in mappers.
func DefaultRegistry() *sources.Registry {
	return sources.NewRegistry(
		epic.New(sources.EpicConfig),
		meditech.New(sources.MeditechConfig),
		athena.New(sources.AthenaConfig),
		mychart.New(sources.MyChartConfig),
	)
}

// Loader is the part of loader.Loader the runner needs.
type Loader interface {
	Load(ctx context.Context, set *records.Set, in stagecount.Input) (*loader.Result, error)
}

// Runner drives one source at a time.
type Runner struct {
	Mappers *sources.Registry
	Loader  Loader
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	// LinkDays bounds pathology-to-procedure linking.
	LinkDays int
}

// Outcome is everything one run produced.
type Outcome struct {
	Kind   string
	Source string
	// PreLoad is the comparison before the store was written; Report adds
	// the loaded counts and the diff.
	PreLoad stagecount.Report
	Report  stagecount.Report
	Merge   merge.Report
	Linked  int
	Load    *loader.Result
}

// Resolve turns a CLI kind and path into a registered kind and the export
// directory. KindAuto runs detection.
func (r *Runner) Resolve(kind, path string) (string, string, error) {
	if kind == KindAuto || kind == "" {
		return sources.Detect(path)
	}
	if _, err := r.Mappers.Get(kind); err != nil {
		return "", "", err
	}
	return kind, path, nil
}

// SourceName returns name when given, otherwise the tag derived from the
// export path. A directory names its source. A single file is named by its
// folder, except MyChart pages: each saved page is its own source, named by
// its file, so loading one visit never replaces a sibling visit.
func SourceName(name, path, kind string) string {
	if name != "" {
		return normalize.Text(name)
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return normalize.SourceName(path, kind)
	}
	if kind == sources.KindMyChart {
		return normalize.SourceName(strings.TrimSuffix(path, filepath.Ext(path)), kind)
	}
	return normalize.SourceName(filepath.Dir(path), kind)
}

// RunFile decodes the extraction for kind found at path and runs it.
func (r *Runner) RunFile(ctx context.Context, kind, path, source string) (*Outcome, error) {
	raw, err := r.Mappers.DecodeFile(kind, path)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, kind, raw, source)
}

// Run maps raw, merges streams where the source has two, links pathology
// reports, verifies the stage counts and loads the result. Dropped records
// and flagged stages are logged, never returned; errors come only from the
// store or from raw data of the wrong source.
func (r *Runner) Run(ctx context.Context, kind string, raw sources.Raw, source string) (*Outcome, error) {
	m, err := r.Mappers.Get(kind)
	if err != nil {
		return nil, err
	}
	log := r.Logger.With().Str("kind", kind).Str("source", source).Logger()

	rawCounts, err := m.Counts(raw)
	if err != nil {
		return nil, fmt.Errorf("count %s extraction: %w", kind, err)
	}
	res, err := m.Map(raw, source)
	if err != nil {
		return nil, fmt.Errorf("map %s extraction: %w", kind, err)
	}
	set := res.Set

	linked := records.LinkPathology(set, r.LinkDays)
	if linked > 0 {
		log.Debug().Int("linked", linked).Msg("pathology reports linked to procedures")
	}

	in := stagecount.Input{
		Raw:     rawCounts,
		Dropped: res.Dropped,
		Mapped:  res.Mapped,
		Merged:  set.Counts(),
	}
	if res.Merge != nil {
		in.MergeTables = make(map[records.Table]bool, len(res.Merge))
		for t := range res.Merge {
			in.MergeTables[t] = true
		}
		for _, t := range res.Merge.Tables() {
			g := res.Merge[t]
			if g.Removed() > 0 {
				log.Info().
					Str("table", string(t)).
					Int("coded", g.CodedIn).
					Int("document", g.DocumentIn).
					Int("removed", g.Removed()).
					Msg("streams merged")
			}
		}
	}

	for _, t := range res.Dropped.Tables() {
		if n := res.Dropped[t]; n > 0 {
			log.Warn().Str("table", string(t)).Int("dropped", n).Msg("records dropped while mapping")
			r.Metrics.AddDropped(source, string(t), n)
		}
	}

	pre := stagecount.Verify(in)
	for _, s := range pre.Flagged(stagecount.FlagLoss, stagecount.FlagExpand) {
		log.Warn().
			Str("table", string(s.Table)).
			Int("raw", s.Raw).
			Int("dropped", s.Dropped).
			Int("mapped", s.Mapped).
			Interface("flags", s.Flags).
			Msg("stage counts differ")
	}

	loaded, err := r.Loader.Load(ctx, set, in)
	if err != nil {
		return nil, err
	}
	for _, s := range loaded.Report.Flagged(stagecount.FlagUnpersisted) {
		log.Error().
			Str("table", string(s.Table)).
			Int("merged", s.Merged).
			Int("loaded", s.Loaded).
			Msg("store row count differs from the merged set")
	}

	return &Outcome{
		Kind:    kind,
		Source:  source,
		PreLoad: pre,
		Report:  loaded.Report,
		Merge:   res.Merge,
		Linked:  linked,
		Load:    loaded,
	}, nil
}
