package athena

import (
	"strings"
	"testing"

	"github.com/ehr/chartfold/internal/domain/records"
	"github.com/ehr/chartfold/internal/domain/sources"
)

const fixture = `{
  "input_dir": "/exports/anderson/athena",
  "patient": {"name": "Jane Doe", "dob": "19610304", "gender": "F", "mrn": "A-77"},
  "documents": [{"doc_id": "AmbulatorySummary1.xml", "title": "Ambulatory Summary", "encounter_date": "2024-05-01"}],
  "encounters": [{"date": "05/01/2024", "type": "Office Visit", "provider": "Dr. Lee", "reason": "Follow-up"}],
  "lab_results": [
    {"test_name": "Glucose", "loinc": "2345-7", "panel_name": "BMP", "value": "98", "unit": "mg/dL", "date": "2024-05-01"},
    {"test_name": "HbA1c", "value": ">14.0", "unit": "%", "date": "2024-05-01"},
    {"test_name": "", "value": "1"}
  ],
  "vitals": [
    {"type": "bp", "value_text": "128/82", "date": "2024-05-01"},
    {"type": "weight", "value": 81.2, "unit": "kg", "date": "2024-05-01"}
  ],
  "medications": [
    {"name": "Atorvastatin 20 mg", "dosage_instructions": "1 tab nightly", "sig": "ignored"},
    {"name": "Lisinopril", "sig": "10 mg daily", "start_date": "2022-01-05"}
  ],
  "conditions": [{"name": "Hyperlipidemia", "icd10": "E78.5", "status": "active", "onset": "2019"}],
  "immunizations": [{"name": "Tdap", "cvx": "115", "date": "2020-08-14"}],
  "allergies": [{"allergen": "Sulfa"}],
  "social_history": [{"category": "Alcohol", "value": "Occasional"}],
  "family_history": [{"relation": "Father", "condition": "MI"}],
  "mental_status": [
    {"instrument": "PHQ-2", "question": "Little interest", "answer": "Not at all", "score": 0, "total_score": 1, "date": "2024-05-01"},
    {"instrument": "", "question": ""}
  ],
  "clinical_notes": [{"type": "Assessment", "author": "Dr. Lee", "date": "2024-05-01", "content": "Stable."}],
  "procedures": [{"name": "Skin biopsy", "cpt": "11102", "date": "2023-11-20", "facility": "Clinic"}]
}`

func TestMapper_Map(t *testing.T) {
	m := New(sources.AthenaConfig)
	raw, err := m.Decode(strings.NewReader(fixture))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	res, err := m.Map(raw, "athena_anderson")
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	set := res.Set
	if err := set.Validate(); err != nil {
		t.Fatalf("mapped set invalid: %v", err)
	}

	if set.Patient.DateOfBirth != "1961-03-04" {
		t.Errorf("expected normalized birth date, got %q", set.Patient.DateOfBirth)
	}
	if set.Encounters[0].EncounterDate != "2024-05-01" {
		t.Errorf("unexpected encounter date: %q", set.Encounters[0].EncounterDate)
	}

	if len(set.LabResults) != 2 || res.Dropped[records.LabResults] != 1 {
		t.Fatalf("expected 2 labs and 1 dropped, got %d and %d", len(set.LabResults), res.Dropped[records.LabResults])
	}
	if g := set.LabResults[0]; g.ValueNumeric == nil || *g.ValueNumeric != 98 || g.PanelName != "BMP" {
		t.Errorf("unexpected glucose row: %+v", g)
	}
	if a1c := set.LabResults[1]; a1c.Value != ">14.0" || a1c.ValueNumeric != nil {
		t.Errorf("expected comparator value kept as text only, got %+v", a1c)
	}

	if bp := set.Vitals[0]; bp.Value != nil || bp.ValueText != "128/82" {
		t.Errorf("unexpected bp: %+v", bp)
	}
	if w := set.Vitals[1]; w.Value == nil || *w.Value != 81.2 || w.ValueText != "81.2" {
		t.Errorf("unexpected weight: %+v", w)
	}

	if set.Medications[0].Instructions != "1 tab nightly" {
		t.Errorf("expected dosage_instructions to win, got %q", set.Medications[0].Instructions)
	}
	if set.Medications[1].Instructions != "10 mg daily" || set.Medications[1].Status != "active" {
		t.Errorf("expected sig fallback and default status, got %+v", set.Medications[1])
	}

	if set.Conditions[0].OnsetDate != "" {
		t.Errorf("expected a bare year onset to be absent, got %q", set.Conditions[0].OnsetDate)
	}
	if set.Immunizations[0].CVXCode != "115" {
		t.Errorf("unexpected immunization: %+v", set.Immunizations[0])
	}
	if set.Allergies[0].Status != "active" {
		t.Errorf("expected default allergy status, got %q", set.Allergies[0].Status)
	}

	if len(set.MentalStatus) != 1 {
		t.Fatalf("expected 1 mental status entry, got %d", len(set.MentalStatus))
	}
	ms := set.MentalStatus[0]
	if ms.Score == nil || *ms.Score != 0 || ms.TotalScore == nil || *ms.TotalScore != 1 {
		t.Errorf("unexpected scores: %+v", ms)
	}

	if p := set.Procedures[0]; p.CPTCode != "11102" || p.Facility != "Clinic" {
		t.Errorf("unexpected procedure: %+v", p)
	}
	if res.Merge != nil {
		t.Error("expected no merge report")
	}
}

func TestMapper_CountConservation(t *testing.T) {
	m := New(sources.AthenaConfig)
	raw, err := Decode(strings.NewReader(fixture))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	counts, err := m.Counts(raw)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	res, err := m.Map(raw, "athena_anderson")
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	for _, tbl := range records.AllTables() {
		if got, want := res.Mapped[tbl], counts[tbl]-res.Dropped[tbl]; got != want {
			t.Errorf("%s: mapped %d, want %d", tbl, got, want)
		}
	}
}
