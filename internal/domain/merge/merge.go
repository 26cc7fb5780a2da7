// Package merge reconciles the two extraction streams of a dual-stream
// source: a coded stream (FHIR resources) and a document stream (tables
// pulled from clinical documents) that report overlapping facts.
package merge

import (
	"strings"

	"github.com/ehr/chartfold/internal/normalize"
)

// Stream identifies which extraction stream a record came from.
type Stream int

const (
	// Coded is the structured-resource stream (stream A).
	Coded Stream = iota
	// Document is the table/document-derived stream (stream B).
	Document
)

func (s Stream) String() string {
	if s == Coded {
		return "coded"
	}
	return "document"
}

// Precedence decides what happens when both streams report the same key.
type Precedence int

const (
	// KeepDistinct pairs identical facts one to one: each coded record
	// absorbs at most one document record with its key, and any further
	// document records with that key survive as distinct facts.
	KeepDistinct Precedence = iota
	// CodedReplaces makes the coded record authoritative: every document
	// record with a matching key is dropped, whatever its other fields.
	CodedReplaces
)

func (p Precedence) String() string {
	if p == CodedReplaces {
		return "coded-replaces"
	}
	return "keep-distinct"
}

const keySep = "\x1f"

// Key builds a dedup key. The primary component is folded with
// normalize.Key and must be non-empty; the remaining components are trimmed
// and compared as given (dates are already canonical). It returns false when
// the record cannot be keyed.
func Key(primary string, rest ...string) (string, bool) {
	p := normalize.Key(primary)
	if p == "" {
		return "", false
	}
	if len(rest) == 0 {
		return p, true
	}
	parts := make([]string, 0, len(rest)+1)
	parts = append(parts, p)
	for _, r := range rest {
		parts = append(parts, strings.TrimSpace(r))
	}
	return strings.Join(parts, keySep), true
}

// Rule is the merge policy for one record type.
type Rule[T any] struct {
	// Key returns the record's dedup key, or false if it has none. Unkeyed
	// records pass through as singletons.
	Key        func(*T) (string, bool)
	Precedence Precedence
	// CollapseSnapshots collapses document-stream records that share a key.
	// Set it for sources whose documents are cumulative snapshots that repeat
	// earlier entries.
	CollapseSnapshots bool
	// Prefer reports whether candidate should replace current when
	// collapsing snapshots. When nil the first occurrence is kept.
	Prefer func(candidate, current *T) bool
}

// GroupStats describes one Merge call.
type GroupStats struct {
	CodedIn    int `json:"coded_in"`
	DocumentIn int `json:"document_in"`
	// Collisions is the number of keys reported by both streams.
	Collisions int `json:"collisions"`
	// Dropped is the number of document records removed by collisions.
	Dropped int `json:"dropped"`
	// Collapsed is the number of document snapshot duplicates removed.
	Collapsed int `json:"collapsed"`
	Unkeyed   int `json:"unkeyed"`
	Out       int `json:"out"`
}

// Removed is the total number of input records that did not survive.
func (g GroupStats) Removed() int {
	return g.CodedIn + g.DocumentIn - g.Out
}

// Merge reconciles coded and document records of one type. Coded records
// always survive, in input order, followed by the surviving document records
// in input order. A nil Key function passes both streams through unchanged.
//
// Document snapshots are collapsed first when the rule asks for it; the
// survivors are then matched against the coded keys under rule.Precedence.
// Merge never fails: a record without a key is kept as its own group.
func Merge[T any](coded, document []T, rule Rule[T]) ([]T, GroupStats) {
	stats := GroupStats{CodedIn: len(coded), DocumentIn: len(document)}
	out := make([]T, 0, len(coded)+len(document))

	if rule.Key == nil {
		out = append(out, coded...)
		out = append(out, document...)
		stats.Out = len(out)
		return out, stats
	}

	// remaining counts the coded records per key still able to absorb a
	// document record.
	remaining := make(map[string]int, len(coded))
	for i := range coded {
		if k, ok := rule.Key(&coded[i]); ok {
			remaining[k]++
		} else {
			stats.Unkeyed++
		}
		out = append(out, coded[i])
	}

	docs := collapse(document, rule, &stats)
	collided := make(map[string]bool)
	for _, d := range docs {
		if !d.keyed {
			stats.Unkeyed++
			out = append(out, d.rec)
			continue
		}
		if remaining[d.key] > 0 {
			if !collided[d.key] {
				collided[d.key] = true
				stats.Collisions++
			}
			stats.Dropped++
			if rule.Precedence == KeepDistinct {
				remaining[d.key]--
			}
			continue
		}
		out = append(out, d.rec)
	}

	stats.Out = len(out)
	return out, stats
}

type keyed[T any] struct {
	rec   T
	key   string
	keyed bool
}

// collapse keys the document stream and, when the rule collapses snapshots,
// keeps one record per key in first-seen position.
func collapse[T any](document []T, rule Rule[T], stats *GroupStats) []keyed[T] {
	out := make([]keyed[T], 0, len(document))
	slot := make(map[string]int)
	for i := range document {
		rec := &document[i]
		k, ok := rule.Key(rec)
		if ok && rule.CollapseSnapshots {
			if at, seen := slot[k]; seen {
				stats.Collapsed++
				if rule.Prefer != nil && rule.Prefer(rec, &out[at].rec) {
					out[at].rec = *rec
				}
				continue
			}
			slot[k] = len(out)
		}
		out = append(out, keyed[T]{rec: *rec, key: k, keyed: ok})
	}
	return out
}
