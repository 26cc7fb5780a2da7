// Package athena maps athenahealth ambulatory summary exports. The
// extraction is already flat, one list per record type.
package athena

import (
	"encoding/json"
	"io"

	"github.com/ehr/chartfold/internal/domain/sources"
)

// Raw is the extraction of one athenahealth export.
type Raw struct {
	InputDir      string          `json:"input_dir"`
	Patient       *Patient        `json:"patient"`
	Documents     []Document      `json:"documents"`
	Encounters    []Encounter     `json:"encounters"`
	LabResults    []LabResult     `json:"lab_results"`
	Vitals        []Vital         `json:"vitals"`
	Medications   []Medication    `json:"medications"`
	Conditions    []Condition     `json:"conditions"`
	Immunizations []Immunization  `json:"immunizations"`
	Allergies     []Allergy       `json:"allergies"`
	SocialHistory []SocialHistory `json:"social_history"`
	FamilyHistory []FamilyHistory `json:"family_history"`
	MentalStatus  []MentalStatus  `json:"mental_status"`
	ClinicalNotes []Note          `json:"clinical_notes"`
	Procedures    []Procedure     `json:"procedures"`
}

func (*Raw) Kind() string { return sources.KindAthena }

type Patient struct {
	Name    string `json:"name"`
	DOB     string `json:"dob"`
	Gender  string `json:"gender"`
	MRN     string `json:"mrn"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

type Document struct {
	DocID         string `json:"doc_id"`
	Title         string `json:"title"`
	EncounterDate string `json:"encounter_date"`
	FilePath      string `json:"file_path"`
}

type Encounter struct {
	Date     string `json:"date"`
	EndDate  string `json:"end_date"`
	Type     string `json:"type"`
	Facility string `json:"facility"`
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
}

type LabResult struct {
	TestName       string         `json:"test_name"`
	LOINC          string         `json:"loinc"`
	PanelName      string         `json:"panel_name"`
	Value          sources.Scalar `json:"value"`
	Unit           string         `json:"unit"`
	RefRange       string         `json:"ref_range"`
	Interpretation string         `json:"interpretation"`
	Date           string         `json:"date"`
}

// Vital carries the reading twice: Value when it parsed as a number and
// ValueText as shown ("120/80").
type Vital struct {
	Type      string         `json:"type"`
	Value     sources.Scalar `json:"value"`
	ValueText string         `json:"value_text"`
	Unit      string         `json:"unit"`
	Date      string         `json:"date"`
}

// Medication instructions arrive as dosage_instructions in newer exports and
// as sig in older ones.
type Medication struct {
	Name               string `json:"name"`
	RxNorm             string `json:"rxnorm"`
	Status             string `json:"status"`
	DosageInstructions string `json:"dosage_instructions"`
	Sig                string `json:"sig"`
	Route              string `json:"route"`
	StartDate          string `json:"start_date"`
	StopDate           string `json:"stop_date"`
}

type Condition struct {
	Name   string `json:"name"`
	ICD10  string `json:"icd10"`
	SNOMED string `json:"snomed"`
	Status string `json:"status"`
	Onset  string `json:"onset"`
}

type Immunization struct {
	Name   string `json:"name"`
	CVX    string `json:"cvx"`
	Date   string `json:"date"`
	Lot    string `json:"lot"`
	Status string `json:"status"`
}

type Allergy struct {
	Allergen string `json:"allergen"`
	Reaction string `json:"reaction"`
	Severity string `json:"severity"`
	Status   string `json:"status"`
}

type SocialHistory struct {
	Category string `json:"category"`
	Value    string `json:"value"`
	Date     string `json:"date"`
}

type FamilyHistory struct {
	Relation  string `json:"relation"`
	Condition string `json:"condition"`
}

type MentalStatus struct {
	Instrument string         `json:"instrument"`
	Question   string         `json:"question"`
	Answer     string         `json:"answer"`
	Score      sources.Scalar `json:"score"`
	TotalScore sources.Scalar `json:"total_score"`
	Date       string         `json:"date"`
}

type Note struct {
	Type    string `json:"type"`
	Author  string `json:"author"`
	Date    string `json:"date"`
	Content string `json:"content"`
}

type Procedure struct {
	Name     string `json:"name"`
	SNOMED   string `json:"snomed"`
	CPT      string `json:"cpt"`
	Date     string `json:"date"`
	Provider string `json:"provider"`
	Facility string `json:"facility"`
}

// Decode reads an athenahealth extraction.
func Decode(r io.Reader) (*Raw, error) {
	var raw Raw
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, err
	}
	return &raw, nil
}
