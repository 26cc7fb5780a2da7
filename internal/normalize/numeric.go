package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// leadingNumber matches a plain decimal at the start of a value, allowing
// thousands separators ("1,250") and a bare fractional part (".5").
var leadingNumber = regexp.MustCompile(`^-?(?:\d{1,3}(?:,\d{3})+|\d+)?(?:\.\d+)?`)

// Numeric extracts a measured number from lab or vital value text.
//
// A leading '+' and a trailing unit are tolerated ("+7.2 mg/dL" -> 7.2).
// Values with a comparison qualifier ("<0.5", ">100", "<=2") are bounds rather
// than measurements and are reported absent, as are ranges ("2-3"), ratios
// and titers ("120/80", "1:160"), exponent notation ("1e999"), clinical
// shorthand ("positive", "trace") and anything that is not finite.
// Callers always keep the original text alongside the result.
func Numeric(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	switch s[0] {
	case '<', '>', '=', '~':
		return 0, false
	}
	if strings.HasPrefix(s, "≤") || strings.HasPrefix(s, "≥") {
		return 0, false
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, "+"))

	num := leadingNumber.FindString(s)
	if num == "" || num == "-" || !strings.ContainsAny(num, "0123456789") {
		return 0, false
	}
	if rest := strings.TrimSpace(s[len(num):]); rest != "" && !isUnitStart(rest) {
		return 0, false
	}

	f, err := strconv.ParseFloat(strings.ReplaceAll(num, ",", ""), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// NumericPtr is Numeric returning nil for the absent case.
func NumericPtr(raw string) *float64 {
	f, ok := Numeric(raw)
	if !ok {
		return nil
	}
	return &f
}

// isUnitStart reports whether the text following a number reads like a unit
// ("mg/dL", "%", "x10^3/uL") rather than a range or a second value.
func isUnitStart(rest string) bool {
	r, size := utf8.DecodeRuneInString(rest)
	switch r {
	case '/', ':':
		// "120/80", "1:160" but not "/hpf"
		if startsWithDigit(rest[size:]) {
			return false
		}
	case 'e', 'E':
		// "1e5", "2E-3"
		if startsWithDigit(strings.TrimLeft(rest[size:], "+-")) {
			return false
		}
	}
	if unicode.IsLetter(r) {
		return true
	}
	switch r {
	case '%', '/', '°', 'µ', '(', '^', '*':
		return true
	}
	return false
}

func startsWithDigit(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && s[0] >= '0' && s[0] <= '9'
}
