package epic

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/ehr/chartfold/internal/domain/records"
	"github.com/ehr/chartfold/internal/domain/sources"
	"github.com/ehr/chartfold/internal/normalize"
)

// OIDSNOMED is the CDA code system OID for SNOMED CT.
const OIDSNOMED = "2.16.840.1.113883.6.96"

// Mapper implements sources.Mapper for Epic.
type Mapper struct {
	cfg sources.Config
}

// New creates an Epic mapper.
func New(cfg sources.Config) *Mapper {
	return &Mapper{cfg: cfg}
}

func (m *Mapper) Kind() string           { return sources.KindEpic }
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

// Counts reports the extraction's entry counts. Lab panels count one per
// component, matching the rows they map to.
func (m *Mapper) Counts(raw sources.Raw) (records.Counts, error) {
	r, err := m.raw(raw)
	if err != nil {
		return nil, err
	}
	labs := len(r.CEAValues)
	for _, p := range r.LabResults {
		labs += len(p.Components)
	}
	patients := 0
	if r.Patient != nil {
		patients = 1
	}
	return records.Counts{
		records.Patients:         patients,
		records.Documents:        len(r.Inventory),
		records.Encounters:       len(r.EncounterTimeline),
		records.LabResults:       labs,
		records.ImagingReports:   len(r.ImagingReports),
		records.PathologyReports: len(r.PathologyReports),
		records.ClinicalNotes:    len(r.ClinicalNotes),
		records.Medications:      len(r.Medications),
		records.Conditions:       len(r.Problems),
		records.Vitals:           len(r.Vitals),
		records.Immunizations:    len(r.Immunizations),
		records.Allergies:        len(r.Allergies),
		records.SocialHistory:    len(r.SocialHistory),
		records.FamilyHistory:    len(r.FamilyHistory),
		records.Procedures:       len(r.Procedures),
	}, nil
}

// Map converts an Epic extraction. Entries missing their identifying field
// are counted as dropped.
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
			DateOfBirth: date(p.DateOfBirth),
			Gender:      text(p.Gender),
			MRN:         text(p.MRN),
			Address:     text(p.Address),
			Phone:       text(p.Phone),
		}
	}

	for _, inv := range r.Inventory {
		if text(inv.DocID) == "" {
			drops.Add(records.Documents)
			continue
		}
		docType := "CDA"
		if m.cfg.IsCumulative(inv.DocID) {
			docType = "CDA-cumulative"
		}
		set.Documents = append(set.Documents, records.Document{
			Source:        source,
			DocID:         text(inv.DocID),
			DocType:       docType,
			Title:         text(inv.Title),
			EncounterDate: date(inv.Date),
			FilePath:      inv.FilePath,
			FileSizeKB:    inv.SizeKB,
		})
	}

	for _, e := range r.EncounterTimeline {
		set.Encounters = append(set.Encounters, records.Encounter{
			Source:        source,
			SourceDocID:   text(e.DocID),
			EncounterDate: date(e.Date),
			EncounterEnd:  date(e.EndDate),
			EncounterType: text(e.EncounterType),
			Facility:      text(e.Facility),
			Provider:      strings.Join(e.Authors, ", "),
			Reason:        text(e.Reason),
		})
	}

	for _, panel := range r.LabResults {
		panelDate := date(panel.Date)
		for _, c := range panel.Components {
			if text(c.Name) == "" {
				drops.Add(records.LabResults)
				continue
			}
			set.LabResults = append(set.LabResults, records.LabResult{
				Source:         source,
				SourceDocID:    text(panel.SourceDoc),
				TestName:       text(c.Name),
				PanelName:      text(panel.Panel),
				Value:          c.Value.Text(),
				ValueNumeric:   c.Value.Numeric(),
				Unit:           text(c.Unit),
				RefRange:       text(c.RefRange),
				Interpretation: text(c.Interpretation),
				ResultDate:     panelDate,
			})
		}
	}
	for _, cea := range r.CEAValues {
		set.LabResults = append(set.LabResults, records.LabResult{
			Source:       source,
			TestName:     "CEA",
			PanelName:    "CEA",
			Value:        cea.Value.Text(),
			ValueNumeric: cea.Value.Numeric(),
			RefRange:     text(cea.RefRange),
			ResultDate:   date(cea.Date),
		})
	}

	for _, img := range r.ImagingReports {
		if text(img.Study) == "" {
			drops.Add(records.ImagingReports)
			continue
		}
		set.ImagingReports = append(set.ImagingReports, records.ImagingReport{
			Source:     source,
			StudyName:  text(img.Study),
			Modality:   GuessModality(img.Study),
			StudyDate:  date(img.Date),
			Findings:   text(img.Findings),
			Impression: text(img.Impression),
			FullText:   img.FullText,
		})
	}

	for _, p := range r.PathologyReports {
		report := records.PathologyReport{
			Source:                 source,
			ReportDate:             date(p.Date),
			Specimen:               text(p.Panel),
			Diagnosis:              text(p.Diagnosis),
			GrossDescription:       text(p.Gross),
			MicroscopicDescription: text(p.Microscopic),
			FullText:               p.FullText,
		}
		report.FillFromText()
		set.PathologyReports = append(set.PathologyReports, report)
	}

	for _, n := range r.ClinicalNotes {
		if text(n.Text) == "" && text(n.Section) == "" {
			drops.Add(records.ClinicalNotes)
			continue
		}
		set.ClinicalNotes = append(set.ClinicalNotes, records.ClinicalNote{
			Source:        source,
			SourceDocID:   text(n.DocID),
			NoteType:      text(n.Section),
			NoteDate:      date(n.Date),
			Content:       n.Text,
			ContentFormat: "text",
		})
	}

	for _, med := range r.Medications {
		if med.Legacy != nil {
			name := text(*med.Legacy)
			if name == "" || sources.IsSectionHeader(name, m.cfg.MedicationSections) {
				drops.Add(records.Medications)
				continue
			}
			set.Medications = append(set.Medications, records.Medication{Source: source, Name: name, Status: "active"})
			continue
		}
		if text(med.Name) == "" {
			drops.Add(records.Medications)
			continue
		}
		set.Medications = append(set.Medications, records.Medication{
			Source:       source,
			Name:         text(med.Name),
			RxNormCode:   text(med.RxNorm),
			Status:       text(med.Status),
			Instructions: text(med.Sig),
			Route:        text(med.Route),
			StartDate:    date(med.StartDate),
			StopDate:     date(med.StopDate),
		})
	}

	for _, p := range r.Problems {
		if p.Legacy != nil {
			name := text(*p.Legacy)
			if name == "" || sources.IsSectionHeader(name, m.cfg.ProblemSections) {
				drops.Add(records.Conditions)
				continue
			}
			set.Conditions = append(set.Conditions, records.Condition{Source: source, Name: name, ClinicalStatus: "active"})
			continue
		}
		if text(p.Name) == "" {
			drops.Add(records.Conditions)
			continue
		}
		status := text(p.Status)
		if status == "" {
			status = "active"
		}
		set.Conditions = append(set.Conditions, records.Condition{
			Source:         source,
			Name:           text(p.Name),
			ICD10Code:      text(p.ICD10),
			SNOMEDCode:     text(p.SNOMED),
			ClinicalStatus: status,
			OnsetDate:      date(p.OnsetDate),
		})
	}

	for _, v := range r.Vitals {
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
			RecordedDate: date(v.Date),
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
			CVXCode:     text(imm.CVXCode),
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

	for _, p := range r.Procedures {
		if text(p.Name) == "" {
			drops.Add(records.Procedures)
			continue
		}
		procDate := p.Date
		if strings.TrimSpace(procDate) == "" {
			procDate = p.EncounterDate
		}
		snomed := ""
		if p.CodeSystem == OIDSNOMED {
			snomed = text(p.CodeValue)
		}
		set.Procedures = append(set.Procedures, records.Procedure{
			Source:        source,
			SourceDocID:   text(p.SourceDoc),
			Name:          text(p.Name),
			SNOMEDCode:    snomed,
			ProcedureDate: date(procDate),
			Provider:      text(p.Provider),
			Status:        text(p.Status),
			Metadata:      procedureMetadata(p.Extra),
		})
	}

	return sources.SingleStream(set, drops), nil
}

// procedureMetadata serializes unmapped procedure keys as a JSON object
// (encoding/json sorts map keys); *_date values are normalized like every
// other date.
func procedureMetadata(extra map[string]any) string {
	if len(extra) == 0 {
		return ""
	}
	out := make(map[string]any, len(extra))
	for k, v := range extra {
		if s, ok := v.(string); ok && strings.HasSuffix(k, "_date") {
			if d, ok := normalize.Date(s); ok {
				v = d
			}
		}
		out[k] = v
	}
	b, err := json.Marshal(out)
	if err != nil {
		return ""
	}
	return string(b)
}

var modalityPatterns = []struct {
	modality string
	patterns []string
}{
	{"PET", []string{"PET"}},
	{"MRI", []string{"MRI", "MR "}},
	{"CT", []string{"CT ", "CT/"}},
	{"US", []string{"US ", "ULTRASOUND"}},
	{"XR", []string{"XR ", "X-RAY", "XRAY", "CHEST"}},
	{"MG", []string{"MAMM"}},
}

// GuessModality infers the imaging modality from an Epic study name.
func GuessModality(study string) string {
	name := strings.ToUpper(strings.TrimSpace(study))
	if strings.HasPrefix(name, "CT") {
		return "CT"
	}
	for _, mp := range modalityPatterns {
		for _, p := range mp.patterns {
			if strings.Contains(name, p) {
				return mp.modality
			}
		}
	}
	return ""
}
