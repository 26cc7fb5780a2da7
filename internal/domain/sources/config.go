package sources

import (
	"regexp"
	"strings"
)

// Config is the fixed, per-source vocabulary a mapper is built with. It is
// never modified after construction.
type Config struct {
	// Name is the display name ("Epic", "MEDITECH").
	Name string
	// Kind is the registry key and the prefix of derived source tags.
	Kind string

	LabSections        []string
	MedicationSections []string
	ProblemSections    []string
	NoteSections       []string

	// FilePattern matches the export's clinical document file names.
	FilePattern *regexp.Regexp
	// CumulativeDocIDs name documents that repeat the whole chart.
	CumulativeDocIDs []string
}

// IsCumulative reports whether docID is one of the cumulative documents.
func (c Config) IsCumulative(docID string) bool {
	for _, id := range c.CumulativeDocIDs {
		if strings.EqualFold(id, docID) {
			return true
		}
	}
	return false
}

// IsSectionHeader reports whether text is a section title that leaked into a
// list of entries, e.g. "Active Problems" at the top of a problem list.
func IsSectionHeader(text string, sections []string) bool {
	t := strings.TrimSpace(text)
	for _, s := range sections {
		if strings.HasPrefix(t, s) {
			return true
		}
	}
	return false
}

// Built-in source kinds.
const (
	KindEpic     = "epic"
	KindMeditech = "meditech"
	KindAthena   = "athena"
	KindMyChart  = "mychart"
)

var (
	EpicConfig = Config{
		Name:               "Epic",
		Kind:               KindEpic,
		LabSections:        []string{"Results"},
		MedicationSections: []string{"Medications"},
		ProblemSections:    []string{"Active Problems"},
		NoteSections: []string{
			"Progress Notes",
			"H&P Notes",
			"Discharge Summaries",
			"OR Notes",
			"Anesthesia Record",
			"Miscellaneous Notes",
		},
		FilePattern:      regexp.MustCompile(`(?i)^DOC\d{4}\.XML$`),
		CumulativeDocIDs: []string{"DOC0001", "DOC0002"},
	}

	MeditechConfig = Config{
		Name:        "MEDITECH",
		Kind:        KindMeditech,
		LabSections: []string{"Relevant Diagnostic Tests and/or Laboratory Data", "Labs"},
		MedicationSections: []string{
			"Medications",
			"Patient Medication List",
			"Hospital Discharge Medications",
		},
		ProblemSections: []string{"Problem List", "Problems"},
		NoteSections: []string{
			"History & Physical Note",
			"Progress Note",
			"Discharge Summary Note",
			"Consultation Note",
			"Hospital Discharge Instructions",
			"Plan of Care",
			"Plan of Treatment",
			"Chief Complaint and Reason for Visit",
			"Assessments",
			"Reason for Referral",
		},
		FilePattern: regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.xml$`),
	}

	AthenaConfig = Config{
		Name:               "athenahealth",
		Kind:               KindAthena,
		LabSections:        []string{"Results"},
		MedicationSections: []string{"Medications"},
		ProblemSections:    []string{"Problems"},
		NoteSections:       []string{"Assessment", "Plan of Treatment", "Notes", "Reason for Referral"},
		FilePattern:        regexp.MustCompile(`(?i)AmbulatorySummary.*\.xml$`),
	}

	MyChartConfig = Config{
		Name:         "MyChart",
		Kind:         KindMyChart,
		NoteSections: []string{"Visit Note"},
		FilePattern:  regexp.MustCompile(`(?i)\.mhtml$`),
	}
)
