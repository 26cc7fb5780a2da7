// Package meditech maps MEDITECH Expanse exports. An export carries two
// overlapping extraction streams: FHIR resources (coded) and tables pulled
// from the CCDA documents (document). Both are mapped and then reconciled
// with merge.MeditechRules.
package meditech

import (
	"encoding/json"
	"io"

	"github.com/ehr/chartfold/internal/domain/sources"
)

// Raw is the extraction of one MEDITECH export.
type Raw struct {
	InputDir string    `json:"input_dir"`
	FHIR     *FHIRData `json:"fhir_data"`
	CCDA     *CCDAData `json:"ccda_data"`
}

func (*Raw) Kind() string { return sources.KindMeditech }

// FHIRData is the coded stream, one entry per FHIR resource.
type FHIRData struct {
	Patient             *FHIRPatient         `json:"patient"`
	Practitioners       map[string]string    `json:"practitioners"`
	Encounters          []FHIREncounter      `json:"encounters"`
	Observations        []Observation        `json:"observations"`
	Conditions          []FHIRCondition      `json:"conditions"`
	MedicationRequests  []MedicationRequest  `json:"medication_requests"`
	Procedures          []FHIRProcedure      `json:"procedures"`
	Immunizations       []FHIRImmunization   `json:"immunizations"`
	AllergyIntolerances []AllergyIntolerance `json:"allergy_intolerances"`
	DiagnosticReports   []DiagnosticReport   `json:"diagnostic_reports"`
}

type FHIRPatient struct {
	Name   string `json:"name"`
	DOB    string `json:"dob"`
	Gender string `json:"gender"`
	ID     string `json:"id"`
}

// FHIREncounter participants are practitioner references resolved through
// FHIRData.Practitioners.
type FHIREncounter struct {
	EncounterID  string   `json:"encounter_id"`
	StartISO     string   `json:"start_iso"`
	End          string   `json:"end"`
	Type         string   `json:"type"`
	Participants []string `json:"participants"`
}

// Observation categories routed by the mapper.
const (
	CategoryLaboratory    = "laboratory"
	CategoryVitalSigns    = "vital-signs"
	CategorySocialHistory = "social-history"
	CategorySurvey        = "survey"
)

type Observation struct {
	Category       string         `json:"category"`
	Text           string         `json:"text"`
	Display        string         `json:"display"`
	LOINC          string         `json:"loinc"`
	Value          sources.Scalar `json:"value"`
	Unit           string         `json:"unit"`
	RefRange       string         `json:"ref_range"`
	Interpretation string         `json:"interpretation"`
	DateISO        string         `json:"date_iso"`
	Status         string         `json:"status"`
}

type FHIRCondition struct {
	Text           string `json:"text"`
	ICDCode        string `json:"icd_code"`
	ClinicalStatus string `json:"clinical_status"`
	Onset          string `json:"onset"`
}

type MedicationRequest struct {
	Text        string   `json:"text"`
	RxNorm      string   `json:"rxnorm"`
	Status      string   `json:"status"`
	Dosage      []string `json:"dosage"`
	AuthoredISO string   `json:"authored_iso"`
}

type FHIRProcedure struct {
	Name    string `json:"name"`
	SNOMED  string `json:"snomed"`
	DateISO string `json:"date_iso"`
	Status  string `json:"status"`
}

type FHIRImmunization struct {
	Name    string `json:"name"`
	CVXCode string `json:"cvx_code"`
	DateISO string `json:"date_iso"`
	Lot     string `json:"lot"`
	Status  string `json:"status"`
}

type AllergyIntolerance struct {
	Allergen       string `json:"allergen"`
	Reaction       string `json:"reaction"`
	Severity       string `json:"severity"`
	ClinicalStatus string `json:"clinical_status"`
	OnsetISO       string `json:"onset_iso"`
}

type DiagnosticReport struct {
	Category string `json:"category"`
	Text     string `json:"text"`
	DateISO  string `json:"date_iso"`
	FullText string `json:"full_text"`
}

// CCDAData is the document stream, concatenated across every CCDA file of
// the export. Cumulative documents repeat entries, so duplicates are normal.
type CCDAData struct {
	Documents        []CCDADocument     `json:"documents"`
	AllLabs          []CCDALab          `json:"all_labs"`
	AllProblems      []CCDAProblem      `json:"all_problems"`
	AllMedications   []CCDAMedication   `json:"all_medications"`
	AllProcedures    []CCDAProcedure    `json:"all_procedures"`
	AllNotes         []CCDANote         `json:"all_notes"`
	AllVitals        []CCDAVital        `json:"all_vitals"`
	AllImmunizations []CCDAImmunization `json:"all_immunizations"`
	AllAllergies     []CCDAAllergy      `json:"all_allergies"`
	AllSocialHistory []CCDASocial       `json:"all_social_history"`
	AllFamilyHistory []CCDAFamily       `json:"all_family_history"`
	AllMentalStatus  []CCDAMentalStatus `json:"all_mental_status"`
}

type CCDADocument struct {
	Filename      string `json:"filename"`
	Title         string `json:"title"`
	EncounterDate string `json:"encounter_date"`
	FilePath      string `json:"file_path"`
}

type CCDALab struct {
	Test           string         `json:"test"`
	Value          sources.Scalar `json:"value"`
	Unit           string         `json:"unit"`
	RefRange       string         `json:"ref_range"`
	Interpretation string         `json:"interpretation"`
	DateISO        string         `json:"date_iso"`
	SourceFile     string         `json:"source_file"`
}

type CCDAProblem struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

type CCDAMedication struct {
	Name         string `json:"name"`
	Instructions string `json:"instructions"`
	Route        string `json:"route"`
	Status       string `json:"status"`
}

type CCDAProcedure struct {
	Name     string `json:"name"`
	DateISO  string `json:"date_iso"`
	Provider string `json:"provider"`
	Status   string `json:"status"`
}

type CCDANote struct {
	Type          string `json:"type"`
	EncounterDate string `json:"encounter_date"`
	Text          string `json:"text"`
	SourceFile    string `json:"source_file"`
}

type CCDAVital struct {
	Type    string         `json:"type"`
	Value   sources.Scalar `json:"value"`
	Unit    string         `json:"unit"`
	DateISO string         `json:"date_iso"`
}

type CCDAImmunization struct {
	Name    string `json:"name"`
	DateISO string `json:"date_iso"`
	Lot     string `json:"lot"`
}

type CCDAAllergy struct {
	Allergen string `json:"allergen"`
	Reaction string `json:"reaction"`
	Severity string `json:"severity"`
	Status   string `json:"status"`
}

type CCDASocial struct {
	Category string `json:"category"`
	Value    string `json:"value"`
	DateISO  string `json:"date_iso"`
}

type CCDAFamily struct {
	Relation  string `json:"relation"`
	Condition string `json:"condition"`
}

type CCDAMentalStatus struct {
	Observation string `json:"observation"`
	Response    string `json:"response"`
	DateISO     string `json:"date_iso"`
}

// Decode reads a MEDITECH extraction. Missing streams decode as empty.
func Decode(r io.Reader) (*Raw, error) {
	var raw Raw
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, err
	}
	if raw.FHIR == nil {
		raw.FHIR = &FHIRData{}
	}
	if raw.CCDA == nil {
		raw.CCDA = &CCDAData{}
	}
	return &raw, nil
}
