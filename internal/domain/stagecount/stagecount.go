// Package stagecount compares record counts across pipeline stages so that
// records lost between extraction and load are visible to the operator.
package stagecount

import (
	"github.com/ehr/chartfold/internal/domain/records"
)

// Counts is a per-table record count at one stage.
type Counts = records.Counts

// Flag marks a noteworthy difference between two stages of one table.
type Flag string

const (
	// FlagDedup: the merge step removed duplicates.
	FlagDedup Flag = "dedup"
	// FlagExpand: mapping produced more records than were extracted (one
	// raw entry exploded into several rows, e.g. a lab panel).
	FlagExpand Flag = "expand"
	// FlagLoss: mapping produced fewer records than were extracted minus
	// the counted drops. Always a mapper defect; merge removals come after
	// the mapped stage and never count.
	FlagLoss Flag = "loss"
	// FlagDropped: structurally unusable entries were discarded and counted.
	FlagDropped Flag = "dropped"
	// FlagUnpersisted: the store holds a different number of rows than the
	// merged set.
	FlagUnpersisted Flag = "unpersisted"
)

// Diff compares a load with the rows it replaced.
type Diff struct {
	New      int `json:"new"`
	Existing int `json:"existing"`
	Removed  int `json:"removed"`
}

// Stage is one table's row of the comparison.
type Stage struct {
	Table   records.Table `json:"table"`
	Raw     int           `json:"raw"`
	Dropped int           `json:"dropped"`
	Mapped  int           `json:"mapped"`
	Merged  int           `json:"merged"`
	Loaded  int           `json:"loaded"`
	// Merges reports whether the table went through cross-stream merging.
	Merges bool   `json:"merges"`
	Diff   Diff   `json:"diff"`
	Flags  []Flag `json:"flags,omitempty"`
}

// Has reports whether f is set on the row.
func (s Stage) Has(f Flag) bool {
	for _, x := range s.Flags {
		if x == f {
			return true
		}
	}
	return false
}

func (s Stage) empty() bool {
	return s.Raw == 0 && s.Dropped == 0 && s.Mapped == 0 && s.Merged == 0 &&
		s.Loaded == 0 && s.Diff.Removed == 0
}

// Input gathers the counts observed during one load. Loaded and Diff are nil
// before the store has been written.
type Input struct {
	Raw     Counts
	Dropped Counts
	Mapped  Counts
	Merged  Counts
	Loaded  Counts
	Diff    map[records.Table]Diff
	// MergeTables are the tables that passed through the cross-stream merger.
	MergeTables map[records.Table]bool
}

// Report is the full stage comparison for one load, one row per table in
// insert order.
type Report struct {
	Stages []Stage `json:"stages"`
}

// Verify builds the comparison. It never corrects anything.
func Verify(in Input) Report {
	var rep Report
	for _, t := range records.AllTables() {
		s := Stage{
			Table:   t,
			Raw:     in.Raw[t],
			Dropped: in.Dropped[t],
			Mapped:  in.Mapped[t],
			Merged:  in.Mapped[t],
			Merges:  in.MergeTables[t],
		}
		if v, ok := in.Merged[t]; ok {
			s.Merged = v
		}
		s.Loaded = s.Merged
		if in.Loaded != nil {
			s.Loaded = in.Loaded[t]
		}
		if d, ok := in.Diff[t]; ok {
			s.Diff = d
		}

		if s.Merges && s.Merged < s.Mapped {
			s.Flags = append(s.Flags, FlagDedup)
		}
		if s.Mapped > s.Raw {
			s.Flags = append(s.Flags, FlagExpand)
		}
		if s.Mapped < s.Raw-s.Dropped {
			s.Flags = append(s.Flags, FlagLoss)
		}
		if s.Dropped > 0 {
			s.Flags = append(s.Flags, FlagDropped)
		}
		if in.Loaded != nil && s.Loaded != s.Merged {
			s.Flags = append(s.Flags, FlagUnpersisted)
		}
		rep.Stages = append(rep.Stages, s)
	}
	return rep
}

// Stage returns the row for t.
func (r Report) Stage(t records.Table) (Stage, bool) {
	for _, s := range r.Stages {
		if s.Table == t {
			return s, true
		}
	}
	return Stage{}, false
}

// Lossy reports whether any row shows unexplained loss.
func (r Report) Lossy() bool {
	return len(r.Flagged(FlagLoss, FlagUnpersisted)) > 0
}

// Flagged returns the rows carrying any of flags.
func (r Report) Flagged(flags ...Flag) []Stage {
	var out []Stage
	for _, s := range r.Stages {
		for _, f := range flags {
			if s.Has(f) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// Totals sums the diff columns across tables.
func (r Report) Totals() Diff {
	var d Diff
	for _, s := range r.Stages {
		d.New += s.Diff.New
		d.Existing += s.Diff.Existing
		d.Removed += s.Diff.Removed
	}
	return d
}
