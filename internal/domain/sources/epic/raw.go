// Package epic maps Epic CDA exports (DOC####.XML, optionally under IHE_XDM)
// into unified records. Epic exports have a single extraction stream.
package epic

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ehr/chartfold/internal/domain/sources"
)

// Raw is the extraction of one Epic export.
type Raw struct {
	InputDir          string           `json:"input_dir"`
	Patient           *Patient         `json:"patient"`
	Inventory         []InventoryEntry `json:"inventory"`
	EncounterTimeline []Encounter      `json:"encounter_timeline"`
	LabResults        []LabPanel       `json:"lab_results"`
	CEAValues         []CEAValue       `json:"cea_values"`
	ImagingReports    []Imaging        `json:"imaging_reports"`
	PathologyReports  []Pathology      `json:"pathology_reports"`
	ClinicalNotes     []Note           `json:"clinical_notes"`
	Medications       []Medication     `json:"medications"`
	Problems          []Problem        `json:"problems"`
	Vitals            []Vital          `json:"vitals"`
	Immunizations     []Immunization   `json:"immunizations"`
	Allergies         []Allergy        `json:"allergies"`
	SocialHistory     []SocialHistory  `json:"social_history"`
	FamilyHistory     []FamilyHistory  `json:"family_history"`
	Procedures        []Procedure      `json:"procedures"`
}

func (*Raw) Kind() string { return sources.KindEpic }

type Patient struct {
	Name        string `json:"name"`
	DateOfBirth string `json:"date_of_birth"`
	Gender      string `json:"gender"`
	MRN         string `json:"mrn"`
	Address     string `json:"address"`
	Phone       string `json:"phone"`
}

type InventoryEntry struct {
	DocID    string `json:"doc_id"`
	Title    string `json:"title"`
	Date     string `json:"date"`
	FilePath string `json:"file_path"`
	SizeKB   int    `json:"size_kb"`
}

type Encounter struct {
	DocID         string   `json:"doc_id"`
	Date          string   `json:"date"`
	EndDate       string   `json:"end_date"`
	EncounterType string   `json:"encounter_type"`
	Facility      string   `json:"facility"`
	Authors       []string `json:"authors"`
	Reason        string   `json:"reason"`
}

// LabPanel is one result panel; each component becomes a lab row.
type LabPanel struct {
	Panel      string         `json:"panel"`
	Date       string         `json:"date"`
	SourceDoc  string         `json:"source_doc"`
	Components []LabComponent `json:"components"`
}

type LabComponent struct {
	Name           string         `json:"name"`
	Value          sources.Scalar `json:"value"`
	RefRange       string         `json:"ref_range"`
	Unit           string         `json:"unit"`
	Interpretation string         `json:"interpretation"`
}

// CEAValue is a pre-extracted carcinoembryonic antigen result.
type CEAValue struct {
	Date     string         `json:"date"`
	Value    sources.Scalar `json:"value"`
	RefRange string         `json:"ref_range"`
}

type Imaging struct {
	Study      string `json:"study"`
	Date       string `json:"date"`
	Findings   string `json:"findings"`
	Impression string `json:"impression"`
	FullText   string `json:"full_text"`
}

type Pathology struct {
	Panel       string `json:"panel"`
	Date        string `json:"date"`
	Diagnosis   string `json:"diagnosis"`
	Gross       string `json:"gross"`
	Microscopic string `json:"microscopic"`
	FullText    string `json:"full_text"`
}

type Note struct {
	DocID   string `json:"doc_id"`
	Section string `json:"section"`
	Date    string `json:"date"`
	Text    string `json:"text"`
}

// Medication is either a structured entry or, in older exports, a bare line
// of text (Legacy).
type Medication struct {
	Legacy    *string `json:"-"`
	Name      string  `json:"name"`
	RxNorm    string  `json:"rxnorm"`
	Status    string  `json:"status"`
	Sig       string  `json:"sig"`
	Route     string  `json:"route"`
	StartDate string  `json:"start_date"`
	StopDate  string  `json:"stop_date"`
}

func (m *Medication) UnmarshalJSON(data []byte) error {
	if s, ok := legacyText(data); ok {
		*m = Medication{Legacy: &s}
		return nil
	}
	type plain Medication
	return json.Unmarshal(data, (*plain)(m))
}

// Problem is either a structured entry or a bare line of text (Legacy).
type Problem struct {
	Legacy    *string `json:"-"`
	Name      string  `json:"name"`
	ICD10     string  `json:"icd10"`
	SNOMED    string  `json:"snomed"`
	Status    string  `json:"status"`
	OnsetDate string  `json:"onset_date"`
}

func (p *Problem) UnmarshalJSON(data []byte) error {
	if s, ok := legacyText(data); ok {
		*p = Problem{Legacy: &s}
		return nil
	}
	type plain Problem
	return json.Unmarshal(data, (*plain)(p))
}

type Vital struct {
	Type  string         `json:"type"`
	Value sources.Scalar `json:"value"`
	Unit  string         `json:"unit"`
	Date  string         `json:"date"`
}

type Immunization struct {
	Name    string `json:"name"`
	CVXCode string `json:"cvx_code"`
	Date    string `json:"date"`
	Lot     string `json:"lot"`
	Status  string `json:"status"`
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

// Procedure keeps every key it has no field for in Extra so the mapper can
// carry them into the record's metadata.
type Procedure struct {
	Name          string
	CodeValue     string
	CodeSystem    string
	Date          string
	EncounterDate string
	Status        string
	Provider      string
	SourceDoc     string
	Extra         map[string]any
}

// procedureFields are the keys consumed by the mapper; code_system and
// encounter_date are consumed but also kept in metadata.
var procedureFields = map[string]bool{
	"name":       true,
	"code_value": true,
	"date":       true,
	"status":     true,
	"provider":   true,
	"source_doc": true,
}

func (p *Procedure) UnmarshalJSON(data []byte) error {
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	str := func(k string) string {
		switch v := all[k].(type) {
		case string:
			return v
		case float64:
			return fmt.Sprint(v)
		}
		return ""
	}
	*p = Procedure{
		Name:          str("name"),
		CodeValue:     str("code_value"),
		CodeSystem:    str("code_system"),
		Date:          str("date"),
		EncounterDate: str("encounter_date"),
		Status:        str("status"),
		Provider:      str("provider"),
		SourceDoc:     str("source_doc"),
	}
	for k, v := range all {
		if procedureFields[k] || isZero(v) {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]any)
		}
		p.Extra[k] = v
	}
	return nil
}

func isZero(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	case bool:
		return !x
	case float64:
		return x == 0
	}
	return false
}

func legacyText(data []byte) (string, bool) {
	if len(data) == 0 || data[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", false
	}
	return s, true
}

// Decode reads an Epic extraction.
func Decode(r io.Reader) (*Raw, error) {
	var raw Raw
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, err
	}
	return &raw, nil
}
