package sources

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var ambulatorySummary = regexp.MustCompile(`(?i)AmbulatorySummary.*\.xml$`)

// Detect inspects an export directory and reports which EHR produced it.
// A single .mhtml file is a MyChart page and is returned as is. For Epic
// exports nested under IHE_XDM the returned dir is the folder holding the
// DOC files.
func Detect(path string) (kind, dir string, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", "", err
	}
	if !info.IsDir() {
		if MyChartConfig.FilePattern.MatchString(path) {
			return KindMyChart, path, nil
		}
		return "", "", ErrNotDetected
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", "", err
	}
	names := make(map[string]os.DirEntry, len(entries))
	for _, e := range entries {
		names[e.Name()] = e
	}

	if _, ok := names["US Core FHIR Resources.json"]; ok {
		return KindMeditech, path, nil
	}
	if e, ok := names["CCDA"]; ok && e.IsDir() {
		return KindMeditech, path, nil
	}

	if e, ok := names["Document_XML"]; ok && e.IsDir() {
		if hasMatch(filepath.Join(path, "Document_XML"), ambulatorySummary) {
			return KindAthena, path, nil
		}
	}
	for _, e := range entries {
		if ambulatorySummary.MatchString(e.Name()) {
			return KindAthena, path, nil
		}
	}

	if sub, ok := epicDocDir(path, entries); ok {
		return KindEpic, sub, nil
	}
	return "", "", ErrNotDetected
}

// epicDocDir finds the directory holding DOC####.XML files, either dir
// itself or IHE_XDM/<patient>/.
func epicDocDir(dir string, entries []os.DirEntry) (string, bool) {
	for _, e := range entries {
		if EpicConfig.FilePattern.MatchString(e.Name()) {
			return dir, true
		}
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.EqualFold(e.Name(), "IHE_XDM") {
			continue
		}
		xdm := filepath.Join(dir, e.Name())
		subs, err := os.ReadDir(xdm)
		if err != nil {
			return "", false
		}
		for _, s := range subs {
			if !s.IsDir() {
				continue
			}
			p := filepath.Join(xdm, s.Name())
			if hasMatch(p, EpicConfig.FilePattern) {
				return p, true
			}
		}
	}
	return "", false
}

func hasMatch(dir string, re *regexp.Regexp) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if re.MatchString(e.Name()) {
			return true
		}
	}
	return false
}
