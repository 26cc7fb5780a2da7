// Package mychart maps a single saved MyChart page. A visit page yields at
// most one encounter, one visit note and the imaging studies it references.
// A test result page (genomic panels) yields up to three lab results, namely
// tumor mutational burden, microsatellite instability and the overall
// interpretation, plus one genetic variant row per reported variant.
package mychart

import (
	"encoding/json"
	"io"
	"sort"
	"strings"

	"github.com/ehr/chartfold/internal/domain/records"
	"github.com/ehr/chartfold/internal/domain/sources"
	"github.com/ehr/chartfold/internal/normalize"
)

// Raw is the extraction of one visit page.
type Raw struct {
	InputDir  string     `json:"input_dir"`
	VisitDate string     `json:"visit_date"`
	VisitType string     `json:"visit_type"`
	Provider  string     `json:"provider"`
	Facility  string     `json:"facility"`
	NoteText  string     `json:"note_text"`
	StudyRefs []StudyRef `json:"study_refs"`
	// TestResult is set for test result pages.
	TestResult *TestResult `json:"test_result,omitempty"`
}

func (*Raw) Kind() string { return sources.KindMyChart }

// StudyRef is an imaging study linked from the visit page.
type StudyRef struct {
	StudyName string `json:"study_name"`
	StudyDate string `json:"study_date"`
}

// TestResult is the extraction of a test result detail page.
type TestResult struct {
	TestName              string `json:"test_name"`
	Panel                 string `json:"panel"`
	CollectionDate        string `json:"collection_date"`
	ResultDate            string `json:"result_date"`
	Provider              string `json:"provider"`
	Specimen              string `json:"specimen"`
	Status                string `json:"status"`
	LabName               string `json:"lab_name"`
	OverallInterpretation string `json:"overall_interpretation"`
	TMBValue              string `json:"tmb_value"`
	TMBUnit               string `json:"tmb_unit"`
	MSIStatus             string `json:"msi_status"`

	Variants []Variant `json:"variants"`
}

// Variant is one variant accordion of a test result page. VAF keeps the page
// text ("53.2%").
type Variant struct {
	Gene           string `json:"gene"`
	VariantType    string `json:"variant_type"`
	Assessment     string `json:"assessment"`
	Classification string `json:"classification"`
	VariantOrigin  string `json:"variant_origin"`
	VAF            string `json:"vaf"`
	DNAChange      string `json:"dna_change"`
	ProteinChange  string `json:"protein_change"`
	Transcript     string `json:"transcript"`
	AnalysisMethod string `json:"analysis_method"`
}

// Lab test names emitted for a test result page.
const (
	TestTMB            = "Tumor Mutational Burden"
	TestMSI            = "Microsatellite Instability"
	TestInterpretation = "Genomic Panel Interpretation"
)

// PanelName joins the test and panel names ("TEMPUS XF - 523 gene liquid
// biopsy"); either may be missing.
func (t *TestResult) PanelName() string {
	name, panel := normalize.Text(t.TestName), normalize.Text(t.Panel)
	switch {
	case name == "":
		return panel
	case panel == "":
		return name
	}
	return name + " - " + panel
}

type component struct {
	test, value, unit string
}

func (t *TestResult) components() []component {
	var out []component
	if v := normalize.Text(t.TMBValue); v != "" {
		out = append(out, component{TestTMB, v, normalize.Text(t.TMBUnit)})
	}
	if v := normalize.Text(t.MSIStatus); v != "" {
		out = append(out, component{TestMSI, v, ""})
	}
	if v := normalize.Text(t.OverallInterpretation); v != "" {
		out = append(out, component{TestInterpretation, v, ""})
	}
	return out
}

// Decode reads a page extraction.
func Decode(r io.Reader) (*Raw, error) {
	var raw Raw
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, err
	}
	return &raw, nil
}

// NoteType is the note type of the visit note.
const NoteType = "visit_note"

var modalityPrefixes = map[string]string{
	"mri":        "MRI",
	"ct":         "CT",
	"pet":        "PET",
	"pet/fdg":    "PET",
	"pet/ct":     "PET",
	"mri/ct":     "MRI",
	"us":         "US",
	"ultrasound": "US",
	"xr":         "XR",
	"x-ray":      "XR",
	"mra":        "MRA",
	"cta":        "CTA",
	"mammogram":  "MG",
	"dexa":       "DEXA",
}

// prefixOrder lists modalityPrefixes longest first so "pet/ct" wins over
// "pet" and "cta" over "ct".
var prefixOrder = func() []string {
	out := make([]string, 0, len(modalityPrefixes))
	for p := range modalityPrefixes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}()

// Modality infers the imaging modality from the prefix of a study name.
func Modality(study string) string {
	lower := strings.ToLower(strings.TrimSpace(study))
	for _, p := range prefixOrder {
		if strings.HasPrefix(lower, p) {
			return modalityPrefixes[p]
		}
	}
	return ""
}

// Mapper implements sources.Mapper for MyChart visit pages.
type Mapper struct {
	cfg sources.Config
}

func New(cfg sources.Config) *Mapper {
	return &Mapper{cfg: cfg}
}

func (m *Mapper) Kind() string           { return sources.KindMyChart }
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
	counts := records.Counts{records.ImagingReports: len(r.StudyRefs)}
	if strings.TrimSpace(r.VisitDate) != "" {
		counts[records.Encounters] = 1
	}
	if strings.TrimSpace(r.NoteText) != "" {
		counts[records.ClinicalNotes] = 1
	}
	if r.TestResult != nil {
		counts[records.LabResults] = len(r.TestResult.components())
		counts[records.GeneticVariants] = len(r.TestResult.Variants)
	}
	return counts, nil
}

func (m *Mapper) Map(raw sources.Raw, source string) (*sources.Result, error) {
	r, err := m.raw(raw)
	if err != nil {
		return nil, err
	}
	set := records.NewSet(source)
	drops := make(sources.Drops)
	text := normalize.Text
	visitDate := normalize.DateOrEmpty(r.VisitDate)

	if strings.TrimSpace(r.VisitDate) != "" {
		visitType := text(r.VisitType)
		if visitType == "" {
			visitType = "Office Visit"
		}
		set.Encounters = append(set.Encounters, records.Encounter{
			Source:        source,
			EncounterDate: visitDate,
			EncounterType: visitType,
			Facility:      text(r.Facility),
			Provider:      text(r.Provider),
		})
	}

	if strings.TrimSpace(r.NoteText) != "" {
		set.ClinicalNotes = append(set.ClinicalNotes, records.ClinicalNote{
			Source:        source,
			NoteType:      NoteType,
			Author:        text(r.Provider),
			NoteDate:      visitDate,
			Content:       r.NoteText,
			ContentFormat: "text",
		})
	}

	for _, s := range r.StudyRefs {
		if text(s.StudyName) == "" {
			drops.Add(records.ImagingReports)
			continue
		}
		set.ImagingReports = append(set.ImagingReports, records.ImagingReport{
			Source:    source,
			StudyName: text(s.StudyName),
			Modality:  Modality(s.StudyName),
			StudyDate: normalize.DateOrEmpty(s.StudyDate),
		})
	}

	if tr := r.TestResult; tr != nil {
		panel := tr.PanelName()
		resultDate := normalize.DateOrEmpty(tr.ResultDate)
		for _, c := range tr.components() {
			lab := records.LabResult{
				Source:     source,
				TestName:   c.test,
				PanelName:  panel,
				Value:      c.value,
				Unit:       c.unit,
				ResultDate: resultDate,
				Status:     text(tr.Status),
			}
			if c.test == TestTMB {
				lab.ValueNumeric = normalize.NumericPtr(c.value)
			}
			set.LabResults = append(set.LabResults, lab)
		}

		testName := text(tr.Panel)
		if testName == "" {
			testName = text(tr.TestName)
		}
		collected := normalize.DateOrEmpty(tr.CollectionDate)
		for _, v := range tr.Variants {
			if text(v.Gene) == "" {
				drops.Add(records.GeneticVariants)
				continue
			}
			// "NM_003786 (RefSeq-T)" keeps only the accession.
			transcript := ""
			if f := strings.Fields(v.Transcript); len(f) > 0 {
				transcript = f[0]
			}
			set.GeneticVariants = append(set.GeneticVariants, records.GeneticVariant{
				Source:         source,
				Gene:           text(v.Gene),
				VariantType:    text(v.VariantType),
				Assessment:     text(v.Assessment),
				Classification: text(v.Classification),
				VariantOrigin:  text(v.VariantOrigin),
				VAF:            normalize.NumericPtr(v.VAF),
				DNAChange:      text(v.DNAChange),
				ProteinChange:  text(v.ProteinChange),
				Transcript:     transcript,
				AnalysisMethod: text(v.AnalysisMethod),
				TestName:       testName,
				Specimen:       text(tr.Specimen),
				CollectionDate: collected,
				ResultDate:     resultDate,
				LabName:        text(tr.LabName),
				Provider:       text(tr.Provider),
			})
		}
	}

	return sources.SingleStream(set, drops), nil
}
