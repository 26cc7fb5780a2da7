package meditech

import (
	"io"
	"strings"

	"github.com/ehr/chartfold/internal/domain/merge"
	"github.com/ehr/chartfold/internal/domain/records"
	"github.com/ehr/chartfold/internal/domain/sources"
	"github.com/ehr/chartfold/internal/normalize"
)

// loincVitals maps the LOINC codes of FHIR vital-sign observations to vital
// types. Observations with other codes are dropped.
var loincVitals = map[string]string{
	"8480-6":  "bp_systolic",
	"8462-4":  "bp_diastolic",
	"8867-4":  "heart_rate",
	"8310-5":  "temperature",
	"9279-1":  "respiratory_rate",
	"59408-5": "spo2",
	"3141-9":  "weight",
	"29463-7": "weight",
	"8302-2":  "height",
	"39156-5": "bmi",
}

// imagingTerms identify real imaging studies among "Radiology" reports,
// which MEDITECH also uses for office visits and operative notes.
var imagingTerms = []struct {
	term     string
	modality string
}{
	{"x-ray", "XR"},
	{"ct ", "CT"},
	{"computed tomography", "CT"},
	{"mri ", "MRI"},
	{"magnetic resonance", "MRI"},
	{"pet ", "PET"},
	{"positron emission", "PET"},
	{"ultrasound", "US"},
	{"echocardiogra", "US"},
	{"nuclear medicine", "NM"},
	{"mammogra", "MG"},
	{"fluoroscop", "RF"},
	{"angiogra", "XA"},
}

// imagingModality returns the modality of an imaging study name, or false
// when the name does not describe imaging.
func imagingModality(name string) (string, bool) {
	n := strings.ToLower(name) + " "
	for _, t := range imagingTerms {
		if strings.Contains(n, t.term) {
			return t.modality, true
		}
	}
	return "", false
}

// classifyReport routes a diagnostic report to the table it maps to. LAB
// reports are containers for observations mapped elsewhere and are skipped.
func classifyReport(dr DiagnosticReport) (records.Table, bool) {
	cat := strings.ToLower(strings.TrimSpace(dr.Category))
	switch {
	case strings.Contains(cat, "pathology"):
		return records.PathologyReports, true
	case strings.Contains(cat, "radiology"), strings.Contains(cat, "imaging"):
		if _, ok := imagingModality(dr.Text); ok {
			return records.ImagingReports, true
		}
		return records.ClinicalNotes, true
	case cat == "lab":
		return "", false
	default:
		return records.ClinicalNotes, true
	}
}

// Mapper implements sources.Mapper for MEDITECH.
type Mapper struct {
	cfg   sources.Config
	rules merge.Rules
}

// New creates a MEDITECH mapper that reconciles its streams with
// merge.MeditechRules.
func New(cfg sources.Config) *Mapper {
	return &Mapper{cfg: cfg, rules: merge.MeditechRules()}
}

func (m *Mapper) Kind() string           { return sources.KindMeditech }
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
	if r.FHIR == nil {
		r.FHIR = &FHIRData{}
	}
	if r.CCDA == nil {
		r.CCDA = &CCDAData{}
	}
	return r, nil
}

// Counts reports the combined entry counts of both streams before any
// reconciliation.
func (m *Mapper) Counts(raw sources.Raw) (records.Counts, error) {
	r, err := m.raw(raw)
	if err != nil {
		return nil, err
	}
	f, c := r.FHIR, r.CCDA

	obs := make(map[string]int)
	for _, o := range f.Observations {
		obs[o.Category]++
	}
	reports := make(records.Counts)
	for _, dr := range f.DiagnosticReports {
		if t, ok := classifyReport(dr); ok {
			reports[t]++
		}
	}
	patients := 0
	if f.Patient != nil {
		patients = 1
	}

	return records.Counts{
		records.Patients:         patients,
		records.Documents:        len(c.Documents),
		records.Encounters:       len(f.Encounters),
		records.LabResults:       obs[CategoryLaboratory] + len(c.AllLabs),
		records.Vitals:           obs[CategoryVitalSigns] + len(c.AllVitals),
		records.Medications:      len(f.MedicationRequests) + len(c.AllMedications),
		records.Conditions:       len(f.Conditions) + len(c.AllProblems),
		records.Procedures:       len(f.Procedures) + len(c.AllProcedures),
		records.PathologyReports: reports[records.PathologyReports],
		records.ImagingReports:   reports[records.ImagingReports],
		records.ClinicalNotes:    reports[records.ClinicalNotes] + len(c.AllNotes),
		records.Immunizations:    len(f.Immunizations) + len(c.AllImmunizations),
		records.Allergies:        len(f.AllergyIntolerances) + len(c.AllAllergies),
		records.SocialHistory:    obs[CategorySocialHistory] + len(c.AllSocialHistory),
		records.FamilyHistory:    len(c.AllFamilyHistory),
		records.MentalStatus:     obs[CategorySurvey] + len(c.AllMentalStatus),
	}, nil
}

// Map converts both streams and reconciles them. Result.Mapped counts the
// records of both streams before the merge; Result.Merge describes what the
// merge removed.
func (m *Mapper) Map(raw sources.Raw, source string) (*sources.Result, error) {
	r, err := m.raw(raw)
	if err != nil {
		return nil, err
	}
	drops := make(sources.Drops)
	coded := mapFHIR(r.FHIR, source, drops)
	document := mapCCDA(r.CCDA, source, drops)

	set, report := merge.MergeSets(coded, document, m.rules)
	return &sources.Result{
		Set:     set,
		Mapped:  coded.Counts().Add(document.Counts()),
		Dropped: drops.Counts(),
		Merge:   report,
	}, nil
}

func mapFHIR(f *FHIRData, source string, drops sources.Drops) *records.Set {
	set := records.NewSet(source)
	text := normalize.Text
	date := normalize.DateOrEmpty

	if p := f.Patient; p != nil {
		set.Patient = &records.Patient{
			Source:      source,
			Name:        text(p.Name),
			DateOfBirth: date(p.DOB),
			Gender:      text(p.Gender),
			MRN:         text(p.ID),
		}
	}

	for _, e := range f.Encounters {
		provider := ""
		for _, ref := range e.Participants {
			if name, ok := f.Practitioners[ref]; ok {
				provider = text(name)
				break
			}
		}
		set.Encounters = append(set.Encounters, records.Encounter{
			Source:        source,
			SourceDocID:   text(e.EncounterID),
			EncounterDate: date(e.StartISO),
			EncounterEnd:  date(e.End),
			EncounterType: text(e.Type),
			Provider:      provider,
		})
	}

	for _, o := range f.Observations {
		switch o.Category {
		case CategoryLaboratory:
			if text(o.Text) == "" {
				drops.Add(records.LabResults)
				continue
			}
			set.LabResults = append(set.LabResults, records.LabResult{
				Source:         source,
				TestName:       text(o.Text),
				TestLOINC:      text(o.LOINC),
				Value:          o.Value.Text(),
				ValueNumeric:   o.Value.Numeric(),
				Unit:           text(o.Unit),
				RefRange:       text(o.RefRange),
				Interpretation: text(o.Interpretation),
				ResultDate:     date(o.DateISO),
				Status:         text(o.Status),
			})
		case CategoryVitalSigns:
			vitalType, known := loincVitals[strings.TrimSpace(o.LOINC)]
			if !known || !o.Value.Present() {
				drops.Add(records.Vitals)
				continue
			}
			set.Vitals = append(set.Vitals, records.Vital{
				Source:       source,
				VitalType:    vitalType,
				Value:        o.Value.Numeric(),
				ValueText:    o.Value.Text(),
				Unit:         text(o.Unit),
				RecordedDate: date(o.DateISO),
			})
		case CategorySocialHistory:
			if text(o.Text) == "" && !o.Value.Present() {
				drops.Add(records.SocialHistory)
				continue
			}
			set.SocialHistory = append(set.SocialHistory, records.SocialHistoryEntry{
				Source:       source,
				Category:     text(o.Text),
				Value:        o.Value.Text(),
				RecordedDate: date(o.DateISO),
			})
		case CategorySurvey:
			if text(o.Text) == "" && text(o.Display) == "" {
				drops.Add(records.MentalStatus)
				continue
			}
			set.MentalStatus = append(set.MentalStatus, records.MentalStatusEntry{
				Source:       source,
				Instrument:   text(o.Text),
				Question:     text(o.Display),
				Answer:       o.Value.Text(),
				Score:        o.Value.Int(),
				RecordedDate: date(o.DateISO),
			})
		}
	}

	for _, c := range f.Conditions {
		if text(c.Text) == "" {
			drops.Add(records.Conditions)
			continue
		}
		set.Conditions = append(set.Conditions, records.Condition{
			Source:         source,
			Name:           text(c.Text),
			ICD10Code:      text(c.ICDCode),
			ClinicalStatus: text(c.ClinicalStatus),
			OnsetDate:      date(c.Onset),
		})
	}

	for _, med := range f.MedicationRequests {
		if text(med.Text) == "" {
			drops.Add(records.Medications)
			continue
		}
		set.Medications = append(set.Medications, records.Medication{
			Source:       source,
			Name:         text(med.Text),
			RxNormCode:   text(med.RxNorm),
			Status:       text(med.Status),
			Instructions: strings.Join(med.Dosage, "; "),
			StartDate:    date(med.AuthoredISO),
		})
	}

	for _, p := range f.Procedures {
		if text(p.Name) == "" {
			drops.Add(records.Procedures)
			continue
		}
		set.Procedures = append(set.Procedures, records.Procedure{
			Source:        source,
			Name:          text(p.Name),
			SNOMEDCode:    text(p.SNOMED),
			ProcedureDate: date(p.DateISO),
			Status:        text(p.Status),
		})
	}

	for _, imm := range f.Immunizations {
		if text(imm.Name) == "" {
			drops.Add(records.Immunizations)
			continue
		}
		set.Immunizations = append(set.Immunizations, records.Immunization{
			Source:      source,
			VaccineName: text(imm.Name),
			CVXCode:     text(imm.CVXCode),
			AdminDate:   date(imm.DateISO),
			LotNumber:   text(imm.Lot),
			Status:      text(imm.Status),
		})
	}

	for _, a := range f.AllergyIntolerances {
		if text(a.Allergen) == "" {
			drops.Add(records.Allergies)
			continue
		}
		set.Allergies = append(set.Allergies, records.Allergy{
			Source:    source,
			Allergen:  text(a.Allergen),
			Reaction:  text(a.Reaction),
			Severity:  text(a.Severity),
			Status:    orDefault(text(a.ClinicalStatus), "active"),
			OnsetDate: date(a.OnsetISO),
		})
	}

	for _, dr := range f.DiagnosticReports {
		table, ok := classifyReport(dr)
		if !ok {
			continue
		}
		name := text(dr.Text)
		reportDate := date(dr.DateISO)
		switch table {
		case records.PathologyReports:
			report := records.PathologyReport{
				Source:     source,
				ReportDate: reportDate,
				Specimen:   name,
				FullText:   dr.FullText,
			}
			report.FillFromText()
			set.PathologyReports = append(set.PathologyReports, report)
		case records.ImagingReports:
			modality, _ := imagingModality(name)
			set.ImagingReports = append(set.ImagingReports, records.ImagingReport{
				Source:    source,
				StudyName: name,
				Modality:  modality,
				StudyDate: reportDate,
				FullText:  dr.FullText,
			})
		default:
			if name == "" && strings.TrimSpace(dr.FullText) == "" {
				drops.Add(records.ClinicalNotes)
				continue
			}
			set.ClinicalNotes = append(set.ClinicalNotes, records.ClinicalNote{
				Source:        source,
				NoteType:      orDefault(name, "Diagnostic Report"),
				NoteDate:      reportDate,
				Content:       dr.FullText,
				ContentFormat: "text",
			})
		}
	}

	return set
}

func mapCCDA(c *CCDAData, source string, drops sources.Drops) *records.Set {
	set := records.NewSet(source)
	text := normalize.Text
	date := normalize.DateOrEmpty

	for _, d := range c.Documents {
		if text(d.Filename) == "" {
			drops.Add(records.Documents)
			continue
		}
		set.Documents = append(set.Documents, records.Document{
			Source:        source,
			DocID:         text(d.Filename),
			DocType:       "CCDA",
			Title:         text(d.Title),
			EncounterDate: date(d.EncounterDate),
			FilePath:      d.FilePath,
		})
	}

	for _, l := range c.AllLabs {
		if text(l.Test) == "" {
			drops.Add(records.LabResults)
			continue
		}
		set.LabResults = append(set.LabResults, records.LabResult{
			Source:         source,
			SourceDocID:    text(l.SourceFile),
			TestName:       text(l.Test),
			Value:          l.Value.Text(),
			ValueNumeric:   l.Value.Numeric(),
			Unit:           text(l.Unit),
			RefRange:       text(l.RefRange),
			Interpretation: text(l.Interpretation),
			ResultDate:     date(l.DateISO),
		})
	}

	for _, p := range c.AllProblems {
		if text(p.Name) == "" {
			drops.Add(records.Conditions)
			continue
		}
		set.Conditions = append(set.Conditions, records.Condition{
			Source:         source,
			Name:           text(p.Name),
			ClinicalStatus: text(p.Status),
		})
	}

	for _, med := range c.AllMedications {
		if text(med.Name) == "" {
			drops.Add(records.Medications)
			continue
		}
		set.Medications = append(set.Medications, records.Medication{
			Source:       source,
			Name:         text(med.Name),
			Status:       text(med.Status),
			Instructions: text(med.Instructions),
			Route:        text(med.Route),
		})
	}

	for _, p := range c.AllProcedures {
		if text(p.Name) == "" {
			drops.Add(records.Procedures)
			continue
		}
		set.Procedures = append(set.Procedures, records.Procedure{
			Source:        source,
			Name:          text(p.Name),
			ProcedureDate: date(p.DateISO),
			Provider:      text(p.Provider),
			Status:        text(p.Status),
		})
	}

	for _, n := range c.AllNotes {
		if text(n.Type) == "" && text(n.Text) == "" {
			drops.Add(records.ClinicalNotes)
			continue
		}
		set.ClinicalNotes = append(set.ClinicalNotes, records.ClinicalNote{
			Source:        source,
			SourceDocID:   text(n.SourceFile),
			NoteType:      text(n.Type),
			NoteDate:      date(n.EncounterDate),
			Content:       n.Text,
			ContentFormat: "text",
		})
	}

	for _, v := range c.AllVitals {
		if text(v.Type) == "" {
			drops.Add(records.Vitals)
			continue
		}
		set.Vitals = append(set.Vitals, records.Vital{
			Source:       source,
			VitalType:    text(v.Type),
			Value:        v.Value.Numeric(),
			ValueText:    v.Value.Text(),
			Unit:         text(v.Unit),
			RecordedDate: date(v.DateISO),
		})
	}

	for _, imm := range c.AllImmunizations {
		if text(imm.Name) == "" {
			drops.Add(records.Immunizations)
			continue
		}
		set.Immunizations = append(set.Immunizations, records.Immunization{
			Source:      source,
			VaccineName: text(imm.Name),
			AdminDate:   date(imm.DateISO),
			LotNumber:   text(imm.Lot),
			Status:      "completed",
		})
	}

	for _, a := range c.AllAllergies {
		if text(a.Allergen) == "" {
			drops.Add(records.Allergies)
			continue
		}
		set.Allergies = append(set.Allergies, records.Allergy{
			Source:   source,
			Allergen: text(a.Allergen),
			Reaction: text(a.Reaction),
			Severity: text(a.Severity),
			Status:   orDefault(text(a.Status), "active"),
		})
	}

	for _, sh := range c.AllSocialHistory {
		if text(sh.Category) == "" && text(sh.Value) == "" {
			drops.Add(records.SocialHistory)
			continue
		}
		set.SocialHistory = append(set.SocialHistory, records.SocialHistoryEntry{
			Source:       source,
			Category:     text(sh.Category),
			Value:        text(sh.Value),
			RecordedDate: date(sh.DateISO),
		})
	}

	for _, fh := range c.AllFamilyHistory {
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

	for _, ms := range c.AllMentalStatus {
		if text(ms.Observation) == "" && text(ms.Response) == "" {
			drops.Add(records.MentalStatus)
			continue
		}
		set.MentalStatus = append(set.MentalStatus, records.MentalStatusEntry{
			Source:       source,
			Question:     text(ms.Observation),
			Answer:       text(ms.Response),
			RecordedDate: date(ms.DateISO),
		})
	}

	return set
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
