// Package records defines the unified clinical schema every source is mapped
// into, and the Set that carries one source's records from mapping to load.
package records

import "sort"

// Table names one clinical record type. The value is also the store table name.
type Table string

const (
	Patients         Table = "patients"
	Documents        Table = "documents"
	Encounters       Table = "encounters"
	LabResults       Table = "lab_results"
	Vitals           Table = "vitals"
	Medications      Table = "medications"
	Conditions       Table = "conditions"
	Procedures       Table = "procedures"
	PathologyReports Table = "pathology_reports"
	ImagingReports   Table = "imaging_reports"
	ClinicalNotes    Table = "clinical_notes"
	Immunizations    Table = "immunizations"
	Allergies        Table = "allergies"
	SocialHistory    Table = "social_history"
	FamilyHistory    Table = "family_history"
	MentalStatus     Table = "mental_status"
	GeneticVariants  Table = "genetic_variants"
)

var allTables = []Table{
	Patients,
	Documents,
	Encounters,
	LabResults,
	Vitals,
	Medications,
	Conditions,
	Procedures,
	PathologyReports,
	ImagingReports,
	ClinicalNotes,
	Immunizations,
	Allergies,
	SocialHistory,
	FamilyHistory,
	MentalStatus,
	GeneticVariants,
}

// AllTables returns every table in insert order. Procedures precede
// pathology_reports, which reference them.
func AllTables() []Table {
	out := make([]Table, len(allTables))
	copy(out, allTables)
	return out
}

// ParseTable resolves a store table name.
func ParseTable(name string) (Table, bool) {
	for _, t := range allTables {
		if string(t) == name {
			return t, true
		}
	}
	return "", false
}

// Counts holds a record count per table.
type Counts map[Table]int

// Total sums every table.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Add returns the per-table sum of c and other.
func (c Counts) Add(other Counts) Counts {
	out := make(Counts, len(c))
	for t, v := range c {
		out[t] = v
	}
	for t, v := range other {
		out[t] += v
	}
	return out
}

// Tables lists the tables present in c, in insert order, followed by any
// unknown names sorted alphabetically.
func (c Counts) Tables() []Table {
	seen := make(map[Table]bool, len(c))
	var out []Table
	for _, t := range allTables {
		if _, ok := c[t]; ok {
			out = append(out, t)
			seen[t] = true
		}
	}
	var extra []Table
	for t := range c {
		if !seen[t] {
			extra = append(extra, t)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}
