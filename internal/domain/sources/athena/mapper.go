package athena

import (
	"io"

	"github.com/ehr/chartfold/internal/domain/records"
	"github.com/ehr/chartfold/internal/domain/sources"
	"github.com/ehr/chartfold/internal/normalize"
)

// Mapper implements sources.Mapper for athenahealth.
type Mapper struct {
	cfg sources.Config
}

// New creates an athenahealth mapper.
func New(cfg sources.Config) *Mapper {
	return &Mapper{cfg: cfg}
}

func (m *Mapper) Kind() string           { return sources.KindAthena }
func (m *Mapper) Config() sources.Config { return m.cfg }

func (m *Mapper) Decode(r io.Reader) (sources.Raw, error) {
	raw, err := Decode(r)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (m *Mapper) raw(raw sources.Raw) (*Raw, error) {
	r, ok := raw.(*Raw)
	if !ok || r == nil {
		return nil, sources.ErrWrongRaw
	}
	return r, nil
}

func (m *Mapper) Counts(raw sources.Raw) (records.Counts, error) {
	r, err := m.raw(raw)
	if err != nil {
		return nil, err
	}
	patients := 0
	if r.Patient != nil {
		patients = 1
	}
	return records.Counts{
		records.Patients:      patients,
		records.Documents:     len(r.Documents),
		records.Encounters:    len(r.Encounters),
		records.LabResults:    len(r.LabResults),
		records.Vitals:        len(r.Vitals),
		records.Medications:   len(r.Medications),
		records.Conditions:    len(r.Conditions),
		records.Immunizations: len(r.Immunizations),
		records.Allergies:     len(r.Allergies),
		records.SocialHistory: len(r.SocialHistory),
		records.FamilyHistory: len(r.FamilyHistory),
		records.MentalStatus:  len(r.MentalStatus),
		records.ClinicalNotes: len(r.ClinicalNotes),
		records.Procedures:    len(r.Procedures),
	}, nil
}

func (m *Mapper) Map(raw sources.Raw, source string) (*sources.Result, error) {
	r, err := m.raw(raw)
	if err != nil {
		return nil, err
	}
	set := records.NewSet(source)
	drops := make(sources.Drops)
	text := normalize.Text
	date := normalize.DateOrEmpty

	if p := r.Patient; p != nil {
		set.Patient = &records.Patient{
			Source:      source,
			Name:        text(p.Name),
			DateOfBirth: date(p.DOB),
			Gender:      text(p.Gender),
			MRN:         text(p.MRN),
			Address:     text(p.Address),
			Phone:       text(p.Phone),
		}
	}

	for _, d := range r.Documents {
		if text(d.DocID) == "" {
			drops.Add(records.Documents)
			continue
		}
		set.Documents = append(set.Documents, records.Document{
			Source:        source,
			DocID:         text(d.DocID),
			DocType:       "CDA",
			Title:         text(d.Title),
			EncounterDate: date(d.EncounterDate),
			FilePath:      d.FilePath,
		})
	}

	for _, e := range r.Encounters {
		set.Encounters = append(set.Encounters, records.Encounter{
			Source:        source,
			EncounterDate: date(e.Date),
			EncounterEnd:  date(e.EndDate),
			EncounterType: text(e.Type),
			Facility:      text(e.Facility),
			Provider:      text(e.Provider),
			Reason:        text(e.Reason),
		})
	}

	for _, l := range r.LabResults {
		if text(l.TestName) == "" {
			drops.Add(records.LabResults)
			continue
		}
		set.LabResults = append(set.LabResults, records.LabResult{
			Source:         source,
			TestName:       text(l.TestName),
			TestLOINC:      text(l.LOINC),
			PanelName:      text(l.PanelName),
			Value:          l.Value.Text(),
			ValueNumeric:   l.Value.Numeric(),
			Unit:           text(l.Unit),
			RefRange:       text(l.RefRange),
			Interpretation: text(l.Interpretation),
			ResultDate:     date(l.Date),
		})
	}

	for _, v := range r.Vitals {
		if text(v.Type) == "" {
			drops.Add(records.Vitals)
			continue
		}
		valueText := text(v.ValueText)
		if valueText == "" {
			valueText = v.Value.Text()
		}
		set.Vitals = append(set.Vitals, records.Vital{
			Source:       source,
			VitalType:    text(v.Type),
			Value:        v.Value.Numeric(),
			ValueText:    valueText,
			Unit:         text(v.Unit),
			RecordedDate: date(v.Date),
		})
	}

	for _, med := range r.Medications {
		if text(med.Name) == "" {
			drops.Add(records.Medications)
			continue
		}
		instructions := text(med.DosageInstructions)
		if instructions == "" {
			instructions = text(med.Sig)
		}
		status := text(med.Status)
		if status == "" {
			status = "active"
		}
		set.Medications = append(set.Medications, records.Medication{
			Source:       source,
			Name:         text(med.Name),
			RxNormCode:   text(med.RxNorm),
			Status:       status,
			Instructions: instructions,
			Route:        text(med.Route),
			StartDate:    date(med.StartDate),
			StopDate:     date(med.StopDate),
		})
	}

	for _, c := range r.Conditions {
		if text(c.Name) == "" {
			drops.Add(records.Conditions)
			continue
		}
		set.Conditions = append(set.Conditions, records.Condition{
			Source:         source,
			Name:           text(c.Name),
			ICD10Code:      text(c.ICD10),
			SNOMEDCode:     text(c.SNOMED),
			ClinicalStatus: text(c.Status),
			OnsetDate:      date(c.Onset),
		})
	}

	for _, imm := range r.Immunizations {
		if text(imm.Name) == "" {
			drops.Add(records.Immunizations)
			continue
		}
		set.Immunizations = append(set.Immunizations, records.Immunization{
			Source:      source,
			VaccineName: text(imm.Name),
			CVXCode:     text(imm.CVX),
			AdminDate:   date(imm.Date),
			LotNumber:   text(imm.Lot),
			Status:      text(imm.Status),
		})
	}

	for _, a := range r.Allergies {
		if text(a.Allergen) == "" {
			drops.Add(records.Allergies)
			continue
		}
		status := text(a.Status)
		if status == "" {
			status = "active"
		}
		set.Allergies = append(set.Allergies, records.Allergy{
			Source:   source,
			Allergen: text(a.Allergen),
			Reaction: text(a.Reaction),
			Severity: text(a.Severity),
			Status:   status,
		})
	}

	for _, sh := range r.SocialHistory {
		if text(sh.Category) == "" && text(sh.Value) == "" {
			drops.Add(records.SocialHistory)
			continue
		}
		set.SocialHistory = append(set.SocialHistory, records.SocialHistoryEntry{
			Source:       source,
			Category:     text(sh.Category),
			Value:        text(sh.Value),
			RecordedDate: date(sh.Date),
		})
	}

	for _, fh := range r.FamilyHistory {
		if text(fh.Relation) == "" && text(fh.Condition) == "" {
			drops.Add(records.FamilyHistory)
			continue
		}
		set.FamilyHistory = append(set.FamilyHistory, records.FamilyHistoryEntry{
			Source:    source,
			Relation:  text(fh.Relation),
			Condition: text(fh.Condition),
		})
	}

	for _, ms := range r.MentalStatus {
		if text(ms.Instrument) == "" && text(ms.Question) == "" {
			drops.Add(records.MentalStatus)
			continue
		}
		set.MentalStatus = append(set.MentalStatus, records.MentalStatusEntry{
			Source:       source,
			Instrument:   text(ms.Instrument),
			Question:     text(ms.Question),
			Answer:       text(ms.Answer),
			Score:        ms.Score.Int(),
			TotalScore:   ms.TotalScore.Int(),
			RecordedDate: date(ms.Date),
		})
	}

	for _, n := range r.ClinicalNotes {
		if text(n.Type) == "" && text(n.Content) == "" {
			drops.Add(records.ClinicalNotes)
			continue
		}
		set.ClinicalNotes = append(set.ClinicalNotes, records.ClinicalNote{
			Source:        source,
			NoteType:      text(n.Type),
			Author:        text(n.Author),
			NoteDate:      date(n.Date),
			Content:       n.Content,
			ContentFormat: "text",
		})
	}

	for _, p := range r.Procedures {
		if text(p.Name) == "" {
			drops.Add(records.Procedures)
			continue
		}
		set.Procedures = append(set.Procedures, records.Procedure{
			Source:        source,
			Name:          text(p.Name),
			SNOMEDCode:    text(p.SNOMED),
			CPTCode:       text(p.CPT),
			ProcedureDate: date(p.Date),
			Provider:      text(p.Provider),
			Facility:      text(p.Facility),
		})
	}

	return sources.SingleStream(set, drops), nil
}
