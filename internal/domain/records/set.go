package records

import (
	"fmt"
	"strings"

	"github.com/ehr/chartfold/internal/normalize"
)

// Set holds every record produced for one source load. It is built by a
// mapper, optionally merged, and consumed once by the loader.
type Set struct {
	Source string

	Patient          *Patient
	Documents        []Document
	Encounters       []Encounter
	LabResults       []LabResult
	Vitals           []Vital
	Medications      []Medication
	Conditions       []Condition
	Procedures       []Procedure
	PathologyReports []PathologyReport
	ImagingReports   []ImagingReport
	ClinicalNotes    []ClinicalNote
	Immunizations    []Immunization
	Allergies        []Allergy
	SocialHistory    []SocialHistoryEntry
	FamilyHistory    []FamilyHistoryEntry
	MentalStatus     []MentalStatusEntry
	GeneticVariants  []GeneticVariant
}

// NewSet returns an empty set for source.
func NewSet(source string) *Set {
	return &Set{Source: source}
}

// Counts returns the number of records per table. Every table is present.
func (s *Set) Counts() Counts {
	patients := 0
	if s.Patient != nil {
		patients = 1
	}
	return Counts{
		Patients:         patients,
		Documents:        len(s.Documents),
		Encounters:       len(s.Encounters),
		LabResults:       len(s.LabResults),
		Vitals:           len(s.Vitals),
		Medications:      len(s.Medications),
		Conditions:       len(s.Conditions),
		Procedures:       len(s.Procedures),
		PathologyReports: len(s.PathologyReports),
		ImagingReports:   len(s.ImagingReports),
		ClinicalNotes:    len(s.ClinicalNotes),
		Immunizations:    len(s.Immunizations),
		Allergies:        len(s.Allergies),
		SocialHistory:    len(s.SocialHistory),
		FamilyHistory:    len(s.FamilyHistory),
		MentalStatus:     len(s.MentalStatus),
		GeneticVariants:  len(s.GeneticVariants),
	}
}

// ValidationError lists every problem found by Set.Validate.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	const show = 5
	msg := strings.Join(e.Problems[:min(len(e.Problems), show)], "; ")
	if extra := len(e.Problems) - show; extra > 0 {
		msg += fmt.Sprintf(" (and %d more)", extra)
	}
	return "invalid record set: " + msg
}

// Validate checks the invariants the store relies on: a non-empty source
// carried by every record, canonical dates only, the identifying name of each
// record, and procedure references that point inside the set.
func (s *Set) Validate() error {
	v := &validator{source: s.Source}
	if strings.TrimSpace(s.Source) == "" {
		v.fail("set has an empty source")
	}

	if p := s.Patient; p != nil {
		v.check(Patients, 0, p.Source, p.DateOfBirth)
	}
	for i, r := range s.Documents {
		v.check(Documents, i, r.Source, r.EncounterDate)
		v.required(Documents, i, "doc_id", r.DocID)
	}
	for i, r := range s.Encounters {
		v.check(Encounters, i, r.Source, r.EncounterDate, r.EncounterEnd)
	}
	for i, r := range s.LabResults {
		v.check(LabResults, i, r.Source, r.ResultDate)
		v.required(LabResults, i, "test_name", r.TestName)
	}
	for i, r := range s.Vitals {
		v.check(Vitals, i, r.Source, r.RecordedDate)
		v.required(Vitals, i, "vital_type", r.VitalType)
	}
	for i, r := range s.Medications {
		v.check(Medications, i, r.Source, r.StartDate, r.StopDate)
		v.required(Medications, i, "name", r.Name)
	}
	for i, r := range s.Conditions {
		v.check(Conditions, i, r.Source, r.OnsetDate, r.ResolvedDate)
		v.required(Conditions, i, "condition_name", r.Name)
	}
	for i, r := range s.Procedures {
		v.check(Procedures, i, r.Source, r.ProcedureDate)
		v.required(Procedures, i, "name", r.Name)
	}
	for i, r := range s.PathologyReports {
		v.check(PathologyReports, i, r.Source, r.ReportDate)
		if ref := r.ProcedureRef; ref != nil && (*ref < 0 || *ref >= len(s.Procedures)) {
			v.fail(fmt.Sprintf("%s[%d]: procedure reference %d out of range", PathologyReports, i, *ref))
		}
	}
	for i, r := range s.ImagingReports {
		v.check(ImagingReports, i, r.Source, r.StudyDate)
		v.required(ImagingReports, i, "study_name", r.StudyName)
	}
	for i, r := range s.ClinicalNotes {
		v.check(ClinicalNotes, i, r.Source, r.NoteDate)
	}
	for i, r := range s.Immunizations {
		v.check(Immunizations, i, r.Source, r.AdminDate)
		v.required(Immunizations, i, "vaccine_name", r.VaccineName)
	}
	for i, r := range s.Allergies {
		v.check(Allergies, i, r.Source, r.OnsetDate)
		v.required(Allergies, i, "allergen", r.Allergen)
	}
	for i, r := range s.SocialHistory {
		v.check(SocialHistory, i, r.Source, r.RecordedDate)
	}
	for i, r := range s.FamilyHistory {
		v.check(FamilyHistory, i, r.Source)
	}
	for i, r := range s.MentalStatus {
		v.check(MentalStatus, i, r.Source, r.RecordedDate)
	}
	for i, r := range s.GeneticVariants {
		v.check(GeneticVariants, i, r.Source, r.CollectionDate, r.ResultDate)
		v.required(GeneticVariants, i, "gene", r.Gene)
	}

	if len(v.problems) > 0 {
		return &ValidationError{Problems: v.problems}
	}
	return nil
}

type validator struct {
	source   string
	problems []string
}

func (v *validator) fail(msg string) {
	v.problems = append(v.problems, msg)
}

func (v *validator) check(t Table, i int, source string, dates ...string) {
	if source != v.source {
		v.fail(fmt.Sprintf("%s[%d]: source %q does not match set source %q", t, i, source, v.source))
	}
	for _, d := range dates {
		if !normalize.IsCanonical(d) {
			v.fail(fmt.Sprintf("%s[%d]: non-canonical date %q", t, i, d))
		}
	}
}

func (v *validator) required(t Table, i int, field, value string) {
	if strings.TrimSpace(value) == "" {
		v.fail(fmt.Sprintf("%s[%d]: empty %s", t, i, field))
	}
}
