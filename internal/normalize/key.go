package normalize

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Key folds a free-text field into the form used for dedup-key comparison:
// NFKC-normalized, case-folded, trimmed, with inner whitespace collapsed.
// Key(" Diabetes ") == Key("diabetes").
func Key(s string) string {
	if s == "" {
		return ""
	}
	folded := cases.Fold().String(norm.NFKC.String(s))
	return strings.Join(strings.Fields(folded), " ")
}

// Text trims surrounding whitespace and invalid UTF-8 from a display field.
func Text(s string) string {
	return strings.TrimSpace(strings.ToValidUTF8(s, " "))
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// commonSubdirs are export layout directories that say nothing about the
// export itself; the parent directory names the source instead.
var commonSubdirs = map[string]bool{
	"ccda":         true,
	"document_xml": true,
	"ihe_xdm":      true,
	"alexander1":   true,
}

// SourceName derives a stable source tag from an export directory, e.g.
// ("/exports/anderson/", "epic") -> "epic_anderson".
func SourceName(inputDir, sourceType string) string {
	dir := filepath.Clean(inputDir)
	name := filepath.Base(dir)
	if commonSubdirs[strings.ToLower(name)] {
		name = filepath.Base(filepath.Dir(dir))
	}
	if name == "." || name == string(os.PathSeparator) {
		name = ""
	}

	slug := strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		slug = "unknown"
	}
	return sourceType + "_" + slug
}
