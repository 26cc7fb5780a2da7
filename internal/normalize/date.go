// Package normalize converts the heterogeneous date, number and name encodings
// found in EHR exports into the canonical forms persisted by the loader.
//
// Every function here is total: input that cannot be normalized is reported
// as absent, never as an error, so a single bad field never stops a record
// from being produced.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the canonical calendar-date layout stored for every date column.
const DateLayout = "2006-01-02"

// Each pattern ends at a boundary so trailing digits ("2025-01-150",
// "123456789") never read as a date.
var (
	isoDate     = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})(?:$|[T\sZ+-])`)
	usDate      = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})(?:$|[\s,.T])`)
	compactDate = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})(?:\d{2}|\d{4}|\d{6}(?:\.\d+)?)?(?:$|[\sZ+-])`)
	textualDate = regexp.MustCompile(`(?i)^([a-z]+)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s*(\d{4})(?:$|[\s,.T])`)
	canonical   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

var months = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

// Date converts a clinical date string to canonical YYYY-MM-DD form.
//
// Recognized inputs:
//
//	2025-01-15, 2025-01-15T13:25:00+00:00   ISO / FHIR
//	01/15/2025, 1/5/2025                     US slash form
//	Jan 15, 2025, November 23rd, 2021 2:37pm textual
//	20250115, 20220201073445-0600            CDA effectiveTime
//
// The second return value is false for empty, unrecognized or impossible
// dates (e.g. 2025-02-30).
func Date(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}

	if m := isoDate.FindStringSubmatch(s); m != nil {
		return calendar(m[1], m[2], m[3])
	}
	if m := usDate.FindStringSubmatch(s); m != nil {
		return calendar(m[3], m[1], m[2])
	}
	if m := compactDate.FindStringSubmatch(s); m != nil {
		return calendar(m[1], m[2], m[3])
	}
	if m := textualDate.FindStringSubmatch(s); m != nil {
		month, ok := months[strings.ToLower(m[1])]
		if !ok {
			return "", false
		}
		return calendar(m[3], strconv.Itoa(int(month)), m[2])
	}
	return "", false
}

// DateOrEmpty is Date with the absent case collapsed to "", which is how
// record structs carry an unknown date.
func DateOrEmpty(raw string) string {
	d, _ := Date(raw)
	return d
}

// IsCanonical reports whether s is empty or already a valid canonical date.
func IsCanonical(s string) bool {
	if s == "" {
		return true
	}
	if !canonical.MatchString(s) {
		return false
	}
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// calendar validates the numeric components and formats them canonically.
func calendar(year, month, day string) (string, bool) {
	y, err := strconv.Atoi(year)
	if err != nil || y < 1 {
		return "", false
	}
	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return "", false
	}
	d, err := strconv.Atoi(day)
	if err != nil || d < 1 || d > 31 {
		return "", false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d || int(t.Month()) != m {
		return "", false
	}
	return t.Format(DateLayout), true
}

// DaysBetween returns the absolute number of days between two canonical
// dates, or false if either is absent or malformed.
func DaysBetween(a, b string) (int, bool) {
	if a == "" || b == "" {
		return 0, false
	}
	ta, err := time.Parse(DateLayout, a)
	if err != nil {
		return 0, false
	}
	tb, err := time.Parse(DateLayout, b)
	if err != nil {
		return 0, false
	}
	days := int(ta.Sub(tb).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days, true
}
