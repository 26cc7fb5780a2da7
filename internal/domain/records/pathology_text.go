package records

import (
	"regexp"
	"strings"
)

type section struct {
	start []*regexp.Regexp
	end   []*regexp.Regexp
}

func res(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

var (
	diagnosisSection = section{
		start: res(`(?:Final\s+)?Diagnosis[:\s]*`, `Pathologic\s+Diagnosis[:\s]*`),
		end: res(`Gross\s+Description`, `Microscopic`, `Comment[:\s]`, `Clinical\s+Information`,
			`By\s+this\s+signature`, `Report\s+Electronically`),
	}
	grossSection = section{
		start: res(`Gross\s+Description[:\s]*`),
		end:   res(`Microscopic\s+Description`, `MICROSCOPIC`, `Comment[:\s]`, `By\s+this\s+signature`, `PA\(s\):`),
	}
	microscopicSection = section{
		start: res(`Microscopic\s+Description[:\s]*`, `MICROSCOPIC[:\s]*`),
		end:   res(`Comment[:\s]`, `By\s+this\s+signature`, `Addendum`, `(?:Final\s+)?Diagnosis[:\s]`),
	}

	stagingPatterns = res(`(pT\d[a-z]?N\d[a-z]?(?:M\d)?)`, `Stage\s+(I{1,3}V?[A-C]?)\b`)
	marginPatterns  = res(
		`(?:Positive|Negative|Close)\s+(?:deep\s+)?(?:radial\s+)?margins?`,
		`margins?\s+(?:are\s+)?(?:positive|negative|close|free|involved)`,
	)
	lymphNodePatterns = res(
		`(\d+)\s*/\s*(\d+)\s+(?:lymph\s+)?(?:node|LN)s?\s+(?:positive|involved|with\s+(?:metasta|tumor))`,
		`(?:lymph\s+)?(?:node|LN)s?[:\s]*(\d+)\s*/\s*(\d+)\s+positive`,
		`(?:positive|negative)\s+(?:lymph\s+)?(?:node|LN)s?`,
	)
	specimenPattern = regexp.MustCompile(`(?i)Specimen[:\s]*"?([^".\n]*)`)
)

func (s section) extract(text string) string {
	for _, start := range s.start {
		loc := start.FindStringIndex(text)
		if loc == nil {
			continue
		}
		rest := text[loc[1]:]
		cut := len(rest)
		for _, end := range s.end {
			if m := end.FindStringIndex(rest); m != nil && m[0] < cut {
				cut = m[0]
			}
		}
		return strings.TrimSpace(rest[:cut])
	}
	return ""
}

func firstMatch(text string, patterns []*regexp.Regexp, group int) string {
	for _, p := range patterns {
		if m := p.FindStringSubmatch(text); m != nil && group < len(m) {
			return strings.TrimSpace(m[group])
		}
	}
	return ""
}

// FillFromText fills the report's empty structured fields from sections of
// its full text (diagnosis, gross and microscopic descriptions, staging,
// margins, lymph nodes, specimen). Populated fields are never overwritten.
func (p *PathologyReport) FillFromText() {
	text := p.FullText
	if strings.TrimSpace(text) == "" {
		return
	}
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&p.Diagnosis, diagnosisSection.extract(text))
	fill(&p.GrossDescription, grossSection.extract(text))
	fill(&p.MicroscopicDescription, microscopicSection.extract(text))
	fill(&p.Staging, firstMatch(text, stagingPatterns, 1))
	fill(&p.Margins, firstMatch(text, marginPatterns, 0))
	fill(&p.LymphNodes, firstMatch(text, lymphNodePatterns, 0))
	if m := specimenPattern.FindStringSubmatch(text); m != nil {
		fill(&p.Specimen, strings.TrimSpace(m[1]))
	}
}
