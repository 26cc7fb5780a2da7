package merge

import (
	"strconv"

	"github.com/ehr/chartfold/internal/domain/records"
	"github.com/ehr/chartfold/internal/normalize"
)

// Rules holds one rule per record type. A nil rule concatenates both streams
// without reconciliation.
type Rules struct {
	Encounters     *Rule[records.Encounter]
	LabResults     *Rule[records.LabResult]
	Vitals         *Rule[records.Vital]
	Medications    *Rule[records.Medication]
	Conditions     *Rule[records.Condition]
	Procedures     *Rule[records.Procedure]
	ImagingReports *Rule[records.ImagingReport]
	ClinicalNotes  *Rule[records.ClinicalNote]
	Immunizations  *Rule[records.Immunization]
	Allergies      *Rule[records.Allergy]
	SocialHistory  *Rule[records.SocialHistoryEntry]
	FamilyHistory  *Rule[records.FamilyHistoryEntry]
	MentalStatus   *Rule[records.MentalStatusEntry]
}

// Report collects per-table merge statistics.
type Report map[records.Table]GroupStats

// Removed returns the number of records merged away per table.
func (r Report) Removed() records.Counts {
	out := make(records.Counts, len(r))
	for t, g := range r {
		out[t] = g.Removed()
	}
	return out
}

// Tables lists the tables with at least one input record, in insert order.
func (r Report) Tables() []records.Table {
	var out []records.Table
	for _, t := range records.AllTables() {
		if g, ok := r[t]; ok && g.CodedIn+g.DocumentIn > 0 {
			out = append(out, t)
		}
	}
	return out
}

// MergeSets combines the coded and document sets of one source into a single
// set using rules. The patient comes from the coded stream when present.
// Pathology procedure references are cleared because procedure indexes shift
// during merging; records.LinkPathology assigns them afterwards.
func MergeSets(coded, document *records.Set, rules Rules) (*records.Set, Report) {
	out := records.NewSet(coded.Source)
	report := make(Report)

	out.Patient = coded.Patient
	if out.Patient == nil {
		out.Patient = document.Patient
	}
	patients := GroupStats{}
	if coded.Patient != nil {
		patients.CodedIn = 1
	}
	if document.Patient != nil {
		patients.DocumentIn = 1
	}
	if out.Patient != nil {
		patients.Out = 1
	}
	report[records.Patients] = patients

	out.Documents, report[records.Documents] = Merge(coded.Documents, document.Documents, Rule[records.Document]{})
	out.Encounters, report[records.Encounters] = apply(coded.Encounters, document.Encounters, rules.Encounters)
	out.LabResults, report[records.LabResults] = apply(coded.LabResults, document.LabResults, rules.LabResults)
	out.Vitals, report[records.Vitals] = apply(coded.Vitals, document.Vitals, rules.Vitals)
	out.Medications, report[records.Medications] = apply(coded.Medications, document.Medications, rules.Medications)
	out.Conditions, report[records.Conditions] = apply(coded.Conditions, document.Conditions, rules.Conditions)
	out.Procedures, report[records.Procedures] = apply(coded.Procedures, document.Procedures, rules.Procedures)
	out.ImagingReports, report[records.ImagingReports] = apply(coded.ImagingReports, document.ImagingReports, rules.ImagingReports)
	out.ClinicalNotes, report[records.ClinicalNotes] = apply(coded.ClinicalNotes, document.ClinicalNotes, rules.ClinicalNotes)
	out.Immunizations, report[records.Immunizations] = apply(coded.Immunizations, document.Immunizations, rules.Immunizations)
	out.Allergies, report[records.Allergies] = apply(coded.Allergies, document.Allergies, rules.Allergies)
	out.SocialHistory, report[records.SocialHistory] = apply(coded.SocialHistory, document.SocialHistory, rules.SocialHistory)
	out.FamilyHistory, report[records.FamilyHistory] = apply(coded.FamilyHistory, document.FamilyHistory, rules.FamilyHistory)
	out.MentalStatus, report[records.MentalStatus] = apply(coded.MentalStatus, document.MentalStatus, rules.MentalStatus)

	out.GeneticVariants, report[records.GeneticVariants] = Merge(coded.GeneticVariants, document.GeneticVariants, Rule[records.GeneticVariant]{})
	out.PathologyReports, report[records.PathologyReports] = Merge(coded.PathologyReports, document.PathologyReports, Rule[records.PathologyReport]{})
	for i := range out.PathologyReports {
		out.PathologyReports[i].ProcedureRef = nil
	}

	return out, report
}

func apply[T any](coded, document []T, rule *Rule[T]) ([]T, GroupStats) {
	if rule == nil {
		return Merge(coded, document, Rule[T]{})
	}
	return Merge(coded, document, *rule)
}

// meditechRules is shared read-only; MEDITECH CCDA documents are cumulative,
// so every document-stream rule collapses repeated snapshots.
var meditechRules = Rules{
	LabResults: &Rule[records.LabResult]{
		Key: func(l *records.LabResult) (string, bool) {
			return Key(l.TestName, l.ResultDate, l.Value)
		},
		Precedence:        KeepDistinct,
		CollapseSnapshots: true,
	},
	Conditions: &Rule[records.Condition]{
		Key: func(c *records.Condition) (string, bool) {
			return Key(c.Name)
		},
		Precedence:        CodedReplaces,
		CollapseSnapshots: true,
	},
	Medications: &Rule[records.Medication]{
		Key: func(m *records.Medication) (string, bool) {
			return Key(m.Name)
		},
		Precedence:        KeepDistinct,
		CollapseSnapshots: true,
	},
	Vitals: &Rule[records.Vital]{
		Key: func(v *records.Vital) (string, bool) {
			return Key(v.VitalType, v.RecordedDate, vitalValue(v))
		},
		Precedence:        KeepDistinct,
		CollapseSnapshots: true,
	},
	Immunizations: &Rule[records.Immunization]{
		Key: func(i *records.Immunization) (string, bool) {
			return Key(i.VaccineName, i.AdminDate)
		},
		Precedence:        KeepDistinct,
		CollapseSnapshots: true,
	},
	Allergies: &Rule[records.Allergy]{
		Key: func(a *records.Allergy) (string, bool) {
			return Key(a.Allergen)
		},
		Precedence:        KeepDistinct,
		CollapseSnapshots: true,
	},
	Procedures: &Rule[records.Procedure]{
		Key: func(p *records.Procedure) (string, bool) {
			return Key(p.Name, p.ProcedureDate)
		},
		Precedence:        KeepDistinct,
		CollapseSnapshots: true,
	},
	ClinicalNotes: &Rule[records.ClinicalNote]{
		Key: func(n *records.ClinicalNote) (string, bool) {
			return Key(n.NoteType, n.NoteDate)
		},
		Precedence:        KeepDistinct,
		CollapseSnapshots: true,
		Prefer: func(candidate, current *records.ClinicalNote) bool {
			return len(candidate.Content) > len(current.Content)
		},
	},
	SocialHistory: &Rule[records.SocialHistoryEntry]{
		Key: func(e *records.SocialHistoryEntry) (string, bool) {
			if k, ok := Key(e.Category, normalize.Key(e.Value)); ok {
				return k, true
			}
			return Key(e.Value)
		},
		Precedence:        KeepDistinct,
		CollapseSnapshots: true,
	},
	FamilyHistory: &Rule[records.FamilyHistoryEntry]{
		Key: func(e *records.FamilyHistoryEntry) (string, bool) {
			return Key(e.Relation, normalize.Key(e.Condition))
		},
		Precedence:        KeepDistinct,
		CollapseSnapshots: true,
	},
	MentalStatus: &Rule[records.MentalStatusEntry]{
		Key: func(e *records.MentalStatusEntry) (string, bool) {
			return Key(e.Question, normalize.Key(e.Answer), e.RecordedDate)
		},
		Precedence:        KeepDistinct,
		CollapseSnapshots: true,
	},
}

// MeditechRules returns the precedence table for MEDITECH exports.
func MeditechRules() Rules {
	return meditechRules
}

// vitalValue renders a reading so that "120" and "120.0" compare equal;
// non-numeric readings fall back to their text.
func vitalValue(v *records.Vital) string {
	if v.Value != nil {
		return strconv.FormatFloat(*v.Value, 'g', -1, 64)
	}
	return normalize.Key(v.ValueText)
}
