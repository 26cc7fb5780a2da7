package records

// Date fields hold a canonical YYYY-MM-DD date or "" when unknown; "" is
// persisted as NULL. Pointer numerics are nil when the value could not be
// parsed. SourceDocID is "" when the entry has no originating document.

// Patient holds demographics. A set has at most one.
type Patient struct {
	Source      string `db:"source" json:"source"`
	Name        string `db:"name" json:"name"`
	DateOfBirth string `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Gender      string `db:"gender" json:"gender,omitempty"`
	MRN         string `db:"mrn" json:"mrn,omitempty"`
	Address     string `db:"address" json:"address,omitempty"`
	Phone       string `db:"phone" json:"phone,omitempty"`
}

// Document is one row of the source file inventory.
type Document struct {
	Source        string `db:"source" json:"source"`
	DocID         string `db:"doc_id" json:"doc_id"`
	DocType       string `db:"doc_type" json:"doc_type,omitempty"`
	Title         string `db:"title" json:"title,omitempty"`
	EncounterDate string `db:"encounter_date" json:"encounter_date,omitempty"`
	FilePath      string `db:"file_path" json:"file_path,omitempty"`
	FileSizeKB    int    `db:"file_size_kb" json:"file_size_kb,omitempty"`
}

type Encounter struct {
	Source               string `db:"source" json:"source"`
	SourceDocID          string `db:"source_doc_id" json:"source_doc_id,omitempty"`
	EncounterDate        string `db:"encounter_date" json:"encounter_date,omitempty"`
	EncounterEnd         string `db:"encounter_end" json:"encounter_end,omitempty"`
	EncounterType        string `db:"encounter_type" json:"encounter_type,omitempty"`
	Facility             string `db:"facility" json:"facility,omitempty"`
	Provider             string `db:"provider" json:"provider,omitempty"`
	Reason               string `db:"reason" json:"reason,omitempty"`
	DischargeDisposition string `db:"discharge_disposition" json:"discharge_disposition,omitempty"`
}

// LabResult is one reported test value. Value always keeps the text as
// reported ("<0.5", "positive"); ValueNumeric is set only for plain numbers.
type LabResult struct {
	Source         string   `db:"source" json:"source"`
	SourceDocID    string   `db:"source_doc_id" json:"source_doc_id,omitempty"`
	TestName       string   `db:"test_name" json:"test_name"`
	TestLOINC      string   `db:"test_loinc" json:"test_loinc,omitempty"`
	PanelName      string   `db:"panel_name" json:"panel_name,omitempty"`
	Value          string   `db:"value" json:"value"`
	ValueNumeric   *float64 `db:"value_numeric" json:"value_numeric,omitempty"`
	Unit           string   `db:"unit" json:"unit,omitempty"`
	RefRange       string   `db:"ref_range" json:"ref_range,omitempty"`
	Interpretation string   `db:"interpretation" json:"interpretation,omitempty"`
	ResultDate     string   `db:"result_date" json:"result_date,omitempty"`
	Status         string   `db:"status" json:"status,omitempty"`
}

type Vital struct {
	Source       string   `db:"source" json:"source"`
	SourceDocID  string   `db:"source_doc_id" json:"source_doc_id,omitempty"`
	VitalType    string   `db:"vital_type" json:"vital_type"`
	Value        *float64 `db:"value" json:"value,omitempty"`
	ValueText    string   `db:"value_text" json:"value_text,omitempty"`
	Unit         string   `db:"unit" json:"unit,omitempty"`
	RecordedDate string   `db:"recorded_date" json:"recorded_date,omitempty"`
}

type Medication struct {
	Source       string `db:"source" json:"source"`
	SourceDocID  string `db:"source_doc_id" json:"source_doc_id,omitempty"`
	Name         string `db:"name" json:"name"`
	RxNormCode   string `db:"rxnorm_code" json:"rxnorm_code,omitempty"`
	Status       string `db:"status" json:"status,omitempty"`
	Instructions string `db:"instructions" json:"instructions,omitempty"`
	Route        string `db:"route" json:"route,omitempty"`
	StartDate    string `db:"start_date" json:"start_date,omitempty"`
	StopDate     string `db:"stop_date" json:"stop_date,omitempty"`
	Prescriber   string `db:"prescriber" json:"prescriber,omitempty"`
}

type Condition struct {
	Source         string `db:"source" json:"source"`
	SourceDocID    string `db:"source_doc_id" json:"source_doc_id,omitempty"`
	Name           string `db:"condition_name" json:"condition_name"`
	ICD10Code      string `db:"icd10_code" json:"icd10_code,omitempty"`
	SNOMEDCode     string `db:"snomed_code" json:"snomed_code,omitempty"`
	ClinicalStatus string `db:"clinical_status" json:"clinical_status,omitempty"`
	OnsetDate      string `db:"onset_date" json:"onset_date,omitempty"`
	ResolvedDate   string `db:"resolved_date" json:"resolved_date,omitempty"`
	Category       string `db:"category" json:"category,omitempty"`
}

// Procedure carries any source fields that have no column in Metadata, as a
// JSON object.
type Procedure struct {
	Source        string `db:"source" json:"source"`
	SourceDocID   string `db:"source_doc_id" json:"source_doc_id,omitempty"`
	Name          string `db:"name" json:"name"`
	SNOMEDCode    string `db:"snomed_code" json:"snomed_code,omitempty"`
	CPTCode       string `db:"cpt_code" json:"cpt_code,omitempty"`
	ProcedureDate string `db:"procedure_date" json:"procedure_date,omitempty"`
	Provider      string `db:"provider" json:"provider,omitempty"`
	Facility      string `db:"facility" json:"facility,omitempty"`
	OperativeNote string `db:"operative_note" json:"operative_note,omitempty"`
	Status        string `db:"status" json:"status,omitempty"`
	Metadata      string `db:"metadata" json:"metadata,omitempty"`
}

// PathologyReport optionally references a procedure by its index in
// Set.Procedures; the loader resolves it to the stored procedure id.
type PathologyReport struct {
	Source                 string `db:"source" json:"source"`
	SourceDocID            string `db:"source_doc_id" json:"source_doc_id,omitempty"`
	ProcedureRef           *int   `db:"-" json:"procedure_ref,omitempty"`
	ReportDate             string `db:"report_date" json:"report_date,omitempty"`
	Specimen               string `db:"specimen" json:"specimen,omitempty"`
	Diagnosis              string `db:"diagnosis" json:"diagnosis,omitempty"`
	GrossDescription       string `db:"gross_description" json:"gross_description,omitempty"`
	MicroscopicDescription string `db:"microscopic_description" json:"microscopic_description,omitempty"`
	Staging                string `db:"staging" json:"staging,omitempty"`
	Margins                string `db:"margins" json:"margins,omitempty"`
	LymphNodes             string `db:"lymph_nodes" json:"lymph_nodes,omitempty"`
	FullText               string `db:"full_text" json:"full_text,omitempty"`
}

type ImagingReport struct {
	Source           string `db:"source" json:"source"`
	SourceDocID      string `db:"source_doc_id" json:"source_doc_id,omitempty"`
	StudyName        string `db:"study_name" json:"study_name"`
	Modality         string `db:"modality" json:"modality,omitempty"`
	StudyDate        string `db:"study_date" json:"study_date,omitempty"`
	OrderingProvider string `db:"ordering_provider" json:"ordering_provider,omitempty"`
	Findings         string `db:"findings" json:"findings,omitempty"`
	Impression       string `db:"impression" json:"impression,omitempty"`
	FullText         string `db:"full_text" json:"full_text,omitempty"`
}

type ClinicalNote struct {
	Source        string `db:"source" json:"source"`
	SourceDocID   string `db:"source_doc_id" json:"source_doc_id,omitempty"`
	NoteType      string `db:"note_type" json:"note_type,omitempty"`
	Author        string `db:"author" json:"author,omitempty"`
	NoteDate      string `db:"note_date" json:"note_date,omitempty"`
	Content       string `db:"content" json:"content"`
	ContentFormat string `db:"content_format" json:"content_format,omitempty"`
}

type Immunization struct {
	Source      string `db:"source" json:"source"`
	SourceDocID string `db:"source_doc_id" json:"source_doc_id,omitempty"`
	VaccineName string `db:"vaccine_name" json:"vaccine_name"`
	CVXCode     string `db:"cvx_code" json:"cvx_code,omitempty"`
	AdminDate   string `db:"admin_date" json:"admin_date,omitempty"`
	LotNumber   string `db:"lot_number" json:"lot_number,omitempty"`
	Site        string `db:"site" json:"site,omitempty"`
	Status      string `db:"status" json:"status,omitempty"`
}

type Allergy struct {
	Source      string `db:"source" json:"source"`
	SourceDocID string `db:"source_doc_id" json:"source_doc_id,omitempty"`
	Allergen    string `db:"allergen" json:"allergen"`
	Reaction    string `db:"reaction" json:"reaction,omitempty"`
	Severity    string `db:"severity" json:"severity,omitempty"`
	Status      string `db:"status" json:"status,omitempty"`
	OnsetDate   string `db:"onset_date" json:"onset_date,omitempty"`
}

type SocialHistoryEntry struct {
	Source       string `db:"source" json:"source"`
	SourceDocID  string `db:"source_doc_id" json:"source_doc_id,omitempty"`
	Category     string `db:"category" json:"category"`
	Value        string `db:"value" json:"value"`
	RecordedDate string `db:"recorded_date" json:"recorded_date,omitempty"`
}

type FamilyHistoryEntry struct {
	Source      string `db:"source" json:"source"`
	SourceDocID string `db:"source_doc_id" json:"source_doc_id,omitempty"`
	Relation    string `db:"relation" json:"relation"`
	Condition   string `db:"condition" json:"condition"`
	AgeAtOnset  string `db:"age_at_onset" json:"age_at_onset,omitempty"`
	Deceased    *bool  `db:"deceased" json:"deceased,omitempty"`
}

// GeneticVariant is one variant reported by a genomic panel. VAF is the
// variant allele frequency in percent.
type GeneticVariant struct {
	Source         string   `db:"source" json:"source"`
	SourceDocID    string   `db:"source_doc_id" json:"source_doc_id,omitempty"`
	Gene           string   `db:"gene" json:"gene"`
	VariantType    string   `db:"variant_type" json:"variant_type,omitempty"`
	Assessment     string   `db:"assessment" json:"assessment,omitempty"`
	Classification string   `db:"classification" json:"classification,omitempty"`
	VariantOrigin  string   `db:"variant_origin" json:"variant_origin,omitempty"`
	VAF            *float64 `db:"vaf" json:"vaf,omitempty"`
	DNAChange      string   `db:"dna_change" json:"dna_change,omitempty"`
	ProteinChange  string   `db:"protein_change" json:"protein_change,omitempty"`
	Transcript     string   `db:"transcript" json:"transcript,omitempty"`
	AnalysisMethod string   `db:"analysis_method" json:"analysis_method,omitempty"`
	TestName       string   `db:"test_name" json:"test_name,omitempty"`
	Specimen       string   `db:"specimen" json:"specimen,omitempty"`
	CollectionDate string   `db:"collection_date" json:"collection_date,omitempty"`
	ResultDate     string   `db:"result_date" json:"result_date,omitempty"`
	LabName        string   `db:"lab_name" json:"lab_name,omitempty"`
	Provider       string   `db:"provider" json:"provider,omitempty"`
}

// MentalStatusEntry is one answered item of a screening instrument (PHQ-2,
// GAD-7, ...).
type MentalStatusEntry struct {
	Source       string `db:"source" json:"source"`
	SourceDocID  string `db:"source_doc_id" json:"source_doc_id,omitempty"`
	Instrument   string `db:"instrument" json:"instrument,omitempty"`
	Question     string `db:"question" json:"question,omitempty"`
	Answer       string `db:"answer" json:"answer,omitempty"`
	Score        *int   `db:"score" json:"score,omitempty"`
	TotalScore   *int   `db:"total_score" json:"total_score,omitempty"`
	RecordedDate string `db:"recorded_date" json:"recorded_date,omitempty"`
}
