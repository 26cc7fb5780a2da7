// Package sources defines the contract every EHR mapper implements and the
// registry used to pick one for an export.
package sources

import (
	"errors"
	"io"

	"github.com/ehr/chartfold/internal/domain/merge"
	"github.com/ehr/chartfold/internal/domain/records"
)

var (
	// ErrUnknownSource is returned for a source kind nothing is registered for.
	ErrUnknownSource = errors.New("unknown source")
	// ErrWrongRaw is returned when a mapper receives another source's raw data.
	ErrWrongRaw = errors.New("raw data does not belong to this source")
	// ErrNotDetected is returned when an export directory matches no source.
	ErrNotDetected = errors.New("could not detect EHR source type")
)

// Raw is the extracted, still source-shaped data of one export. Each source
// package defines its own variant; Kind names the source it belongs to.
type Raw interface {
	Kind() string
}

// Result is the output of one mapping run.
type Result struct {
	Set *records.Set
	// Mapped counts records per table before any cross-stream merge.
	Mapped records.Counts
	// Dropped counts structurally unusable entries per table.
	Dropped records.Counts
	// Merge is nil for single-stream sources.
	Merge merge.Report
}

// Mapper turns one source's raw extraction into unified records.
//
// Map must count every entry it discards in Result.Dropped; it returns an
// error only when raw is not its own variant.
type Mapper interface {
	Kind() string
	Config() Config
	Decode(r io.Reader) (Raw, error)
	Counts(raw Raw) (records.Counts, error)
	Map(raw Raw, source string) (*Result, error)
}

// Drops tallies dropped entries while a mapper runs.
type Drops records.Counts

// Add records one dropped entry for t.
func (d Drops) Add(t records.Table) {
	d[t]++
}

// Counts returns the tally with every table present.
func (d Drops) Counts() records.Counts {
	out := make(records.Counts, len(records.AllTables()))
	for _, t := range records.AllTables() {
		out[t] = d[t]
	}
	return out
}

// SingleStream wraps a finished set into a Result for sources without a
// merge step.
func SingleStream(set *records.Set, drops Drops) *Result {
	return &Result{
		Set:     set,
		Mapped:  set.Counts(),
		Dropped: drops.Counts(),
	}
}
