package sources

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/ehr/chartfold/internal/normalize"
)

// Scalar is a JSON value that exporters emit as either a number or a string
// (lab values, vital readings, scores). It keeps the text as reported and,
// for JSON numbers, the number itself.
type Scalar struct {
	text   string
	num    *float64
	isNull bool
	// number is set for JSON numbers, including those out of float64 range.
	number bool
}

// StringScalar builds a Scalar from text.
func StringScalar(s string) Scalar {
	return Scalar{text: s}
}

// NumberScalar builds a Scalar from a number.
func NumberScalar(f float64) Scalar {
	return Scalar{text: strconv.FormatFloat(f, 'f', -1, 64), num: &f, number: true}
}

func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = Scalar{isNull: true}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = Scalar{text: str}
		return nil
	}
	if bytes.Equal(data, []byte("true")) || bytes.Equal(data, []byte("false")) {
		*s = Scalar{text: string(data)}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	f, err := n.Float64()
	if errors.Is(err, strconv.ErrRange) {
		// Kept as text; the value is absent rather than failing the export.
		*s = Scalar{text: n.String(), number: true}
		return nil
	}
	if err != nil {
		return err
	}
	*s = Scalar{text: n.String(), num: &f, number: true}
	return nil
}

func (s Scalar) MarshalJSON() ([]byte, error) {
	switch {
	case s.isNull || (s.text == "" && s.num == nil):
		return []byte("null"), nil
	case s.number:
		return []byte(s.text), nil
	default:
		return json.Marshal(s.text)
	}
}

// Text is the value as reported; "" for null.
func (s Scalar) Text() string {
	return strings.TrimSpace(s.text)
}

// Number returns the value when the exporter emitted a JSON number.
func (s Scalar) Number() (float64, bool) {
	if s.num == nil {
		return 0, false
	}
	return *s.num, true
}

// Present reports whether the value was neither null nor empty.
func (s Scalar) Present() bool {
	return !s.isNull && (s.num != nil || strings.TrimSpace(s.text) != "")
}

// Numeric returns the JSON number, or the number parsed from the text with
// normalize.Numeric. It is nil when neither yields a plain number.
func (s Scalar) Numeric() *float64 {
	if s.number {
		return s.num
	}
	return normalize.NumericPtr(s.Text())
}

// Int truncates a JSON number to an integer (survey scores). Text values are
// not parsed.
func (s Scalar) Int() *int {
	f, ok := s.Number()
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	n := int(f)
	return &n
}
