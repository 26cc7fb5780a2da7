package records

import (
	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"github.com/ehr/chartfold/internal/normalize"
)

// DefaultLinkDays is the widest gap between a procedure and its pathology
// report that LinkPathology will consider.
const DefaultLinkDays = 14

const minLinkScore = 0.2

// LinkPathology points each unlinked pathology report at the procedure it most
// likely came from: the closest-dated procedure within maxDays, weighted 0.6
// by date proximity and 0.4 by name similarity between the report's specimen
// and diagnosis and the procedure name. It returns the number of links made.
// Reports that already carry a ProcedureRef are left alone.
func LinkPathology(s *Set, maxDays int) int {
	if maxDays <= 0 {
		maxDays = DefaultLinkDays
	}
	linked := 0
	for i := range s.PathologyReports {
		report := &s.PathologyReports[i]
		if report.ProcedureRef != nil || report.ReportDate == "" {
			continue
		}

		best, bestScore := -1, 0.0
		for j, proc := range s.Procedures {
			days, ok := normalize.DaysBetween(report.ReportDate, proc.ProcedureDate)
			if !ok || days > maxDays {
				continue
			}
			dateScore := 1 - float64(days)/float64(maxDays)
			nameScore := similarity(report.Specimen+" "+report.Diagnosis, proc.Name)
			if score := 0.6*dateScore + 0.4*nameScore; score > bestScore {
				best, bestScore = j, score
			}
		}
		if best >= 0 && bestScore > minLinkScore {
			ref := best
			report.ProcedureRef = &ref
			linked++
		}
	}
	return linked
}

// nameMetric is the Sorensen-Dice coefficient over character bigrams.
// Inputs are folded before comparison.
var nameMetric = &metrics.SorensenDice{CaseSensitive: true, NgramSize: 2}

// similarity scores 1 for identical folded text and 0 when nothing is
// shared or either side is empty.
func similarity(a, b string) float64 {
	a, b = normalize.Key(a), normalize.Key(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		// single runes have no bigrams
		return 1
	}
	return strutil.Similarity(a, b, nameMetric)
}
