package merge

import (
	"testing"

	"github.com/ehr/chartfold/internal/domain/records"
	"github.com/ehr/chartfold/internal/normalize"
)

type item struct {
	name   string
	stream string
	note   string
}

func nameRule(p Precedence) Rule[item] {
	return Rule[item]{
		Key:        func(i *item) (string, bool) { return Key(i.name) },
		Precedence: p,
	}
}

func TestKey(t *testing.T) {
	a, ok := Key(" Diabetes ")
	if !ok {
		t.Fatal("expected key")
	}
	b, _ := Key("diabetes")
	if a != b {
		t.Errorf("expected %q == %q", a, b)
	}
	if _, ok := Key("   "); ok {
		t.Error("expected whitespace-only primary to be unkeyed")
	}
	x, _ := Key("CEA", "2024-01-02", "<0.5")
	y, _ := Key("cea", "2024-01-02", "<0.5")
	z, _ := Key("cea", "2024-01-02", "0.5")
	if x != y {
		t.Errorf("expected folded primary to match: %q vs %q", x, y)
	}
	if x == z {
		t.Error("expected different value text to produce a different key")
	}
	k1, _ := Key("a b", "c")
	k2, _ := Key("a", "b c")
	if k1 == k2 {
		t.Error("expected component boundaries to be preserved")
	}
}

func TestMerge_NoRulePassesThrough(t *testing.T) {
	coded := []item{{name: "a"}, {name: "a"}}
	doc := []item{{name: "a"}}
	out, stats := Merge(coded, doc, Rule[item]{})
	if len(out) != 3 {
		t.Fatalf("expected 3 records, got %d", len(out))
	}
	if stats.Out != 3 || stats.Removed() != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestMerge_Precedence(t *testing.T) {
	coded := []item{{name: "Hypertension", stream: "coded", note: "active"}}
	doc := []item{{name: "hypertension", stream: "doc", note: "resolved"}}

	out, stats := Merge(coded, doc, nameRule(CodedReplaces))
	if len(out) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(out))
	}
	if out[0].stream != "coded" || out[0].name != "Hypertension" {
		t.Errorf("expected the coded record to win, got %+v", out[0])
	}
	if stats.Collisions != 1 || stats.Dropped != 1 {
		t.Errorf("expected 1 collision and 1 drop, got %+v", stats)
	}
}

func TestMerge_KeepDistinct(t *testing.T) {
	coded := []item{{name: "Metformin", stream: "coded"}}
	doc := []item{
		{name: "metformin", stream: "doc"},
		{name: "Lisinopril", stream: "doc"},
		{name: "METFORMIN ", stream: "doc"},
	}

	tests := []struct {
		name        string
		precedence  Precedence
		wantNames   []string
		wantDropped int
	}{
		{"keep distinct pairs one to one", KeepDistinct, []string{"Metformin", "Lisinopril", "METFORMIN "}, 1},
		{"coded replaces every match", CodedReplaces, []string{"Metformin", "Lisinopril"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, stats := Merge(coded, doc, nameRule(tt.precedence))
			if len(out) != len(tt.wantNames) {
				t.Fatalf("expected %d records, got %d: %+v", len(tt.wantNames), len(out), out)
			}
			for i, want := range tt.wantNames {
				if out[i].name != want {
					t.Errorf("position %d: expected %q, got %q", i, want, out[i].name)
				}
			}
			if stats.Collisions != 1 || stats.Dropped != tt.wantDropped {
				t.Errorf("expected 1 collision dropping %d, got %+v", tt.wantDropped, stats)
			}
		})
	}
}

func TestMerge_CollapseBeforeMatching(t *testing.T) {
	rule := nameRule(KeepDistinct)
	rule.CollapseSnapshots = true
	coded := []item{{name: "Metformin", stream: "coded"}}
	doc := []item{{name: "metformin"}, {name: "Metformin"}, {name: "Lisinopril"}}

	out, stats := Merge(coded, doc, rule)
	if len(out) != 2 || out[1].name != "Lisinopril" {
		t.Fatalf("expected repeated snapshots to meet the coded record once, got %+v", out)
	}
	if stats.Collapsed != 1 || stats.Dropped != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestMerge_SingleStreamDuplicatesKept(t *testing.T) {
	coded := []item{{name: "CBC"}, {name: "cbc"}}
	out, stats := Merge(coded, nil, nameRule(KeepDistinct))
	if len(out) != 2 {
		t.Errorf("expected coded duplicates to be kept, got %d", len(out))
	}
	if stats.Collisions != 0 {
		t.Errorf("expected no collisions, got %d", stats.Collisions)
	}

	doc := []item{{name: "CBC"}, {name: "cbc"}}
	out, _ = Merge(nil, doc, nameRule(KeepDistinct))
	if len(out) != 2 {
		t.Errorf("expected document duplicates to be kept without snapshot collapse, got %d", len(out))
	}
}

func TestMerge_CollapseSnapshots(t *testing.T) {
	rule := nameRule(KeepDistinct)
	rule.CollapseSnapshots = true
	rule.Prefer = func(c, cur *item) bool { return len(c.note) > len(cur.note) }

	doc := []item{
		{name: "Progress Note", note: "short"},
		{name: "Other", note: "x"},
		{name: "progress note", note: "a much longer version"},
	}
	out, stats := Merge(nil, doc, rule)
	if len(out) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out))
	}
	if out[0].note != "a much longer version" {
		t.Errorf("expected the longer snapshot in the first slot, got %q", out[0].note)
	}
	if out[1].name != "Other" {
		t.Errorf("expected order preserved, got %+v", out)
	}
	if stats.Collapsed != 1 {
		t.Errorf("expected 1 collapsed, got %d", stats.Collapsed)
	}
}

func TestMerge_UnkeyedAreSingletons(t *testing.T) {
	coded := []item{{name: ""}, {name: "  "}}
	doc := []item{{name: ""}, {name: "x"}}
	rule := nameRule(CodedReplaces)
	rule.CollapseSnapshots = true

	out, stats := Merge(coded, doc, rule)
	if len(out) != 4 {
		t.Fatalf("expected empty names never to match, got %d records", len(out))
	}
	if stats.Unkeyed != 3 {
		t.Errorf("expected 3 unkeyed, got %d", stats.Unkeyed)
	}
}

func TestMerge_Deterministic(t *testing.T) {
	coded := []item{{name: "b"}, {name: "a"}}
	doc := []item{{name: "c"}, {name: "A"}, {name: "d"}}
	first, _ := Merge(coded, doc, nameRule(KeepDistinct))
	for i := 0; i < 10; i++ {
		again, _ := Merge(coded, doc, nameRule(KeepDistinct))
		if len(again) != len(first) {
			t.Fatalf("run %d: length changed", i)
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("run %d: position %d changed", i, j)
			}
		}
	}
}

func TestMergeSets_Meditech(t *testing.T) {
	const src = "meditech_anderson"
	coded := records.NewSet(src)
	coded.Patient = &records.Patient{Source: src, Name: "Jane Doe"}
	coded.Conditions = []records.Condition{{Source: src, Name: "Hypertension", ClinicalStatus: "active"}}
	v := 120.0
	coded.Vitals = []records.Vital{{Source: src, VitalType: "bp_systolic", Value: &v, ValueText: "120", RecordedDate: "2024-01-02"}}

	doc := records.NewSet(src)
	doc.Conditions = []records.Condition{
		{Source: src, Name: "hypertension", ClinicalStatus: "resolved"},
		{Source: src, Name: "Asthma"},
	}
	dv := 120.0
	doc.Vitals = []records.Vital{{Source: src, VitalType: "bp_systolic", Value: &dv, ValueText: "120.0", RecordedDate: "2024-01-02"}}
	doc.LabResults = []records.LabResult{
		{Source: src, TestName: "CEA", Value: "2.1", ResultDate: "2024-01-02"},
		{Source: src, TestName: "cea", Value: "2.1", ResultDate: "2024-01-02"},
		{Source: src, TestName: "CEA", Value: "2.4", ResultDate: "2024-01-02"},
	}
	doc.Documents = []records.Document{{Source: src, DocID: "doc1.xml"}}
	ref := 0
	doc.PathologyReports = []records.PathologyReport{{Source: src, ProcedureRef: &ref}}

	out, report := MergeSets(coded, doc, MeditechRules())

	if out.Source != src {
		t.Errorf("expected source %q, got %q", src, out.Source)
	}
	if out.Patient == nil || out.Patient.Name != "Jane Doe" {
		t.Errorf("expected coded patient, got %+v", out.Patient)
	}
	if len(out.Conditions) != 2 {
		t.Fatalf("expected 2 conditions, got %d", len(out.Conditions))
	}
	if out.Conditions[0].ClinicalStatus != "active" {
		t.Errorf("expected coded Hypertension to win, got %+v", out.Conditions[0])
	}
	if len(out.Vitals) != 1 {
		t.Errorf("expected equal vital readings to merge, got %d", len(out.Vitals))
	}
	if len(out.LabResults) != 2 {
		t.Errorf("expected snapshot lab duplicate collapsed to 2, got %d", len(out.LabResults))
	}
	if len(out.Documents) != 1 {
		t.Errorf("expected documents to pass through, got %d", len(out.Documents))
	}
	if out.PathologyReports[0].ProcedureRef != nil {
		t.Error("expected procedure references cleared after merge")
	}

	if g := report[records.Conditions]; g.Collisions != 1 || g.Out != 2 {
		t.Errorf("unexpected condition stats: %+v", g)
	}
	if g := report[records.LabResults]; g.Collapsed != 1 {
		t.Errorf("unexpected lab stats: %+v", g)
	}
	removed := report.Removed()
	if removed[records.Conditions] != 1 || removed[records.LabResults] != 1 || removed[records.Vitals] != 1 {
		t.Errorf("unexpected removed counts: %v", removed)
	}
}

func TestMergeSets_DistinctBloodPressureReadings(t *testing.T) {
	const src = "meditech_anderson"
	doc := records.NewSet(src)
	for _, text := range []string{"120/80", "120/95", "120/80"} {
		doc.Vitals = append(doc.Vitals, records.Vital{
			Source:       src,
			VitalType:    "bp",
			Value:        normalize.NumericPtr(text),
			ValueText:    text,
			RecordedDate: "2025-01-15",
		})
	}

	out, report := MergeSets(records.NewSet(src), doc, MeditechRules())
	if len(out.Vitals) != 2 {
		t.Fatalf("expected 2 distinct readings, got %d: %+v", len(out.Vitals), out.Vitals)
	}
	if out.Vitals[0].ValueText != "120/80" || out.Vitals[1].ValueText != "120/95" {
		t.Errorf("unexpected readings: %+v", out.Vitals)
	}
	if g := report[records.Vitals]; g.Collapsed != 1 || g.Out != 2 {
		t.Errorf("expected only the repeated snapshot collapsed, got %+v", g)
	}
}

func TestReport_Tables(t *testing.T) {
	r := Report{
		records.Vitals:     {CodedIn: 1, Out: 1},
		records.LabResults: {DocumentIn: 2, Out: 2},
		records.Allergies:  {},
	}
	got := r.Tables()
	if len(got) != 2 || got[0] != records.LabResults || got[1] != records.Vitals {
		t.Errorf("unexpected tables: %v", got)
	}
}
