package loader

import (
	"github.com/ehr/chartfold/internal/domain/records"
)

// tableSpec describes how one clinical table is written. columns excludes id
// and source; rows returns one value list per record, in column order.
type tableSpec struct {
	table   records.Table
	columns []string
	rows    func(s *records.Set) [][]any
	// skip names columns left out of row fingerprints: generated keys that
	// change on every load.
	skip map[string]bool
}

func (ts tableSpec) fingerprinted() []int {
	var idx []int
	for i, c := range ts.columns {
		if !ts.skip[c] {
			idx = append(idx, i)
		}
	}
	return idx
}

// Nullable helpers. Empty text and unparsed numbers are stored as NULL.

func str(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func float(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func integer(i *int) any {
	if i == nil {
		return nil
	}
	return int64(*i)
}

func boolean(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

var specs = []tableSpec{
	{
		table:   records.Patients,
		columns: []string{"name", "date_of_birth", "gender", "mrn", "address", "phone"},
		rows: func(s *records.Set) [][]any {
			p := s.Patient
			if p == nil {
				return nil
			}
			return [][]any{{str(p.Name), str(p.DateOfBirth), str(p.Gender), str(p.MRN), str(p.Address), str(p.Phone)}}
		},
	},
	{
		table:   records.Documents,
		columns: []string{"doc_id", "doc_type", "title", "encounter_date", "file_path", "file_size_kb"},
		rows: func(s *records.Set) [][]any {
			out := make([][]any, 0, len(s.Documents))
			for _, r := range s.Documents {
				out = append(out, []any{str(r.DocID), str(r.DocType), str(r.Title), str(r.EncounterDate), str(r.FilePath), int64(r.FileSizeKB)})
			}
			return out
		},
	},
	{
		table: records.Encounters,
		columns: []string{"source_doc_id", "encounter_date", "encounter_end", "encounter_type",
			"facility", "provider", "reason", "discharge_disposition"},
		rows: func(s *records.Set) [][]any {
			out := make([][]any, 0, len(s.Encounters))
			for _, r := range s.Encounters {
				out = append(out, []any{str(r.SourceDocID), str(r.EncounterDate), str(r.EncounterEnd), str(r.EncounterType),
					str(r.Facility), str(r.Provider), str(r.Reason), str(r.DischargeDisposition)})
			}
			return out
		},
	},
	{
		table: records.LabResults,
		columns: []string{"source_doc_id", "test_name", "test_loinc", "panel_name", "value", "value_numeric",
			"unit", "ref_range", "interpretation", "result_date", "status"},
		rows: func(s *records.Set) [][]any {
			out := make([][]any, 0, len(s.LabResults))
			for _, r := range s.LabResults {
				out = append(out, []any{str(r.SourceDocID), str(r.TestName), str(r.TestLOINC), str(r.PanelName), str(r.Value), float(r.ValueNumeric),
					str(r.Unit), str(r.RefRange), str(r.Interpretation), str(r.ResultDate), str(r.Status)})
			}
			return out
		},
	},
	{
		table:   records.Vitals,
		columns: []string{"source_doc_id", "vital_type", "value", "value_text", "unit", "recorded_date"},
		rows: func(s *records.Set) [][]any {
			out := make([][]any, 0, len(s.Vitals))
			for _, r := range s.Vitals {
				out = append(out, []any{str(r.SourceDocID), str(r.VitalType), float(r.Value), str(r.ValueText), str(r.Unit), str(r.RecordedDate)})
			}
			return out
		},
	},
	{
		table: records.Medications,
		columns: []string{"source_doc_id", "name", "rxnorm_code", "status", "instructions", "route",
			"start_date", "stop_date", "prescriber"},
		rows: func(s *records.Set) [][]any {
			out := make([][]any, 0, len(s.Medications))
			for _, r := range s.Medications {
				out = append(out, []any{str(r.SourceDocID), str(r.Name), str(r.RxNormCode), str(r.Status), str(r.Instructions), str(r.Route),
					str(r.StartDate), str(r.StopDate), str(r.Prescriber)})
			}
			return out
		},
	},
	{
		table: records.Conditions,
		columns: []string{"source_doc_id", "condition_name", "icd10_code", "snomed_code", "clinical_status",
			"onset_date", "resolved_date", "category"},
		rows: func(s *records.Set) [][]any {
			out := make([][]any, 0, len(s.Conditions))
			for _, r := range s.Conditions {
				out = append(out, []any{str(r.SourceDocID), str(r.Name), str(r.ICD10Code), str(r.SNOMEDCode), str(r.ClinicalStatus),
					str(r.OnsetDate), str(r.ResolvedDate), str(r.Category)})
			}
			return out
		},
	},
	{
		table: records.Procedures,
		columns: []string{"source_doc_id", "name", "snomed_code", "cpt_code", "procedure_date", "provider",
			"facility", "operative_note", "status", "metadata"},
		rows: func(s *records.Set) [][]any {
			out := make([][]any, 0, len(s.Procedures))
			for _, r := range s.Procedures {
				out = append(out, []any{str(r.SourceDocID), str(r.Name), str(r.SNOMEDCode), str(r.CPTCode), str(r.ProcedureDate), str(r.Provider),
					str(r.Facility), str(r.OperativeNote), str(r.Status), str(r.Metadata)})
			}
			return out
		},
	},
	{
		// procedure_id is filled by the loader once procedures have ids.
		table: records.PathologyReports,
		columns: []string{"source_doc_id", "procedure_id", "report_date", "specimen", "diagnosis",
			"gross_description", "microscopic_description", "staging", "margins", "lymph_nodes", "full_text"},
		rows: func(s *records.Set) [][]any {
			out := make([][]any, 0, len(s.PathologyReports))
			for _, r := range s.PathologyReports {
				out = append(out, []any{str(r.SourceDocID), nil, str(r.ReportDate), str(r.Specimen), str(r.Diagnosis),
					str(r.GrossDescription), str(r.MicroscopicDescription), str(r.Staging), str(r.Margins), str(r.LymphNodes), str(r.FullText)})
			}
			return out
		},
		skip: map[string]bool{"procedure_id": true},
	},
	{
		table: records.ImagingReports,
		columns: []string{"source_doc_id", "study_name", "modality", "study_date", "ordering_provider",
			"findings", "impression", "full_text"},
		rows: func(s *records.Set) [][]any {
			out := make([][]any, 0, len(s.ImagingReports))
			for _, r := range s.ImagingReports {
				out = append(out, []any{str(r.SourceDocID), str(r.StudyName), str(r.Modality), str(r.StudyDate), str(r.OrderingProvider),
					str(r.Findings), str(r.Impression), str(r.FullText)})
			}
			return out
		},
	},
	{
		table:   records.ClinicalNotes,
		columns: []string{"source_doc_id", "note_type", "author", "note_date", "content", "content_format"},
		rows: func(s *records.Set) [][]any {
			out := make([][]any, 0, len(s.ClinicalNotes))
			for _, r := range s.ClinicalNotes {
				out = append(out, []any{str(r.SourceDocID), str(r.NoteType), str(r.Author), str(r.NoteDate), str(r.Content), str(r.ContentFormat)})
			}
			return out
		},
	},
	{
		table:   records.Immunizations,
		columns: []string{"source_doc_id", "vaccine_name", "cvx_code", "admin_date", "lot_number", "site", "status"},
		rows: func(s *records.Set) [][]any {
			out := make([][]any, 0, len(s.Immunizations))
			for _, r := range s.Immunizations {
				out = append(out, []any{str(r.SourceDocID), str(r.VaccineName), str(r.CVXCode), str(r.AdminDate), str(r.LotNumber), str(r.Site), str(r.Status)})
			}
			return out
		},
	},
	{
		table:   records.Allergies,
		columns: []string{"source_doc_id", "allergen", "reaction", "severity", "status", "onset_date"},
		rows: func(s *records.Set) [][]any {
			out := make([][]any, 0, len(s.Allergies))
			for _, r := range s.Allergies {
				out = append(out, []any{str(r.SourceDocID), str(r.Allergen), str(r.Reaction), str(r.Severity), str(r.Status), str(r.OnsetDate)})
			}
			return out
		},
	},
	{
		table:   records.SocialHistory,
		columns: []string{"source_doc_id", "category", "value", "recorded_date"},
		rows: func(s *records.Set) [][]any {
			out := make([][]any, 0, len(s.SocialHistory))
			for _, r := range s.SocialHistory {
				out = append(out, []any{str(r.SourceDocID), str(r.Category), str(r.Value), str(r.RecordedDate)})
			}
			return out
		},
	},
	{
		table:   records.FamilyHistory,
		columns: []string{"source_doc_id", "relation", "condition", "age_at_onset", "deceased"},
		rows: func(s *records.Set) [][]any {
			out := make([][]any, 0, len(s.FamilyHistory))
			for _, r := range s.FamilyHistory {
				out = append(out, []any{str(r.SourceDocID), str(r.Relation), str(r.Condition), str(r.AgeAtOnset), boolean(r.Deceased)})
			}
			return out
		},
	},
	{
		table: records.MentalStatus,
		columns: []string{"source_doc_id", "instrument", "question", "answer", "score", "total_score",
			"recorded_date"},
		rows: func(s *records.Set) [][]any {
			out := make([][]any, 0, len(s.MentalStatus))
			for _, r := range s.MentalStatus {
				out = append(out, []any{str(r.SourceDocID), str(r.Instrument), str(r.Question), str(r.Answer), integer(r.Score), integer(r.TotalScore),
					str(r.RecordedDate)})
			}
			return out
		},
	},
	{
		table: records.GeneticVariants,
		columns: []string{"source_doc_id", "gene", "variant_type", "assessment", "classification", "variant_origin",
			"vaf", "dna_change", "protein_change", "transcript", "analysis_method", "test_name", "specimen",
			"collection_date", "result_date", "lab_name", "provider"},
		rows: func(s *records.Set) [][]any {
			out := make([][]any, 0, len(s.GeneticVariants))
			for _, r := range s.GeneticVariants {
				out = append(out, []any{str(r.SourceDocID), str(r.Gene), str(r.VariantType), str(r.Assessment), str(r.Classification), str(r.VariantOrigin),
					float(r.VAF), str(r.DNAChange), str(r.ProteinChange), str(r.Transcript), str(r.AnalysisMethod), str(r.TestName), str(r.Specimen),
					str(r.CollectionDate), str(r.ResultDate), str(r.LabName), str(r.Provider)})
			}
			return out
		},
	},
}

func specFor(t records.Table) (tableSpec, bool) {
	for _, s := range specs {
		if s.table == t {
			return s, true
		}
	}
	return tableSpec{}, false
}
