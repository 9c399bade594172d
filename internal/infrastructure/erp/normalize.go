package erp

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

// Record is one decoded upstream entity.
// Scalar fields usually arrive wrapped as {"value": X}; custom attributes are
// nested under "custom".
type Record map[string]any

// DecimalScale is the scale quantities and amounts are rounded to.
const DecimalScale int32 = 4

// maxIntegerDigits is the integer width of a DECIMAL(18,4) column.
const maxIntegerDigits = 14

// msDate matches the legacy "/Date(1714521600000)/" form, optionally with a +hhmm offset.
var msDate = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Lookup returns the first candidate that resolves to a non-null value.
// Dotted candidates walk nested objects, unwrapping {"value": X} at each hop.
func (r Record) Lookup(candidates ...string) (any, bool) {
	for _, c := range candidates {
		if v, ok := r.resolve(c); ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (r Record) resolve(path string) (any, bool) {
	if v, ok := r[path]; ok {
		return unwrap(v), true
	}
	if !strings.Contains(path, ".") {
		return nil, false
	}
	var cur any = map[string]any(r)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(unwrap(cur))
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return unwrap(cur), true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Record:
		return m, true
	}
	return nil, false
}

// unwrap strips any number of {"value": X} envelopes.
func unwrap(v any) any {
	for i := 0; i < 8; i++ {
		m, ok := asMap(v)
		if !ok {
			return v
		}
		inner, has := m["value"]
		if !has {
			return v
		}
		v = inner
	}
	return v
}

// String resolves a trimmed string. Blank strings resolve to nil.
func (r Record) String(candidates ...string) *string {
	v, ok := r.Lookup(candidates...)
	if !ok {
		return nil
	}
	var s string
	switch t := v.(type) {
	case string:
		s = strings.TrimSpace(t)
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(t)
	default:
		return nil
	}
	if s == "" {
		return nil
	}
	return &s
}

// Text is String with "" for unresolved fields.
func (r Record) Text(candidates ...string) string {
	if s := r.String(candidates...); s != nil {
		return *s
	}
	return ""
}

// Decimal resolves a number rounded to scale.
// Numbers too wide for a DECIMAL(18,4) column are unresolved.
func (r Record) Decimal(scale int32, candidates ...string) *decimal.Decimal {
	v, ok := r.Lookup(candidates...)
	if !ok {
		return nil
	}
	var (
		d   decimal.Decimal
		err error
	)
	switch t := v.(type) {
	case json.Number:
		d, err = decimal.NewFromString(t.String())
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		d = decimal.NewFromFloat(t)
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(t), ",", "")
		if s == "" {
			return nil
		}
		d, err = decimal.NewFromString(s)
	default:
		return nil
	}
	if err != nil {
		return nil
	}
	// bound by digit count before Round so huge exponents never get rescaled
	digits := integerDigits(d)
	if digits > maxIntegerDigits {
		return nil
	}
	if digits < -int(scale) {
		d = decimal.Zero
	}
	d = d.Round(scale)
	if integerDigits(d) > maxIntegerDigits {
		return nil
	}
	return &d
}

func integerDigits(d decimal.Decimal) int {
	return d.NumDigits() + int(d.Exponent())
}

// Amount is Decimal with zero for unresolved fields.
func (r Record) Amount(candidates ...string) decimal.Decimal {
	if d := r.Decimal(DecimalScale, candidates...); d != nil {
		return *d
	}
	return decimal.Zero
}

var boolWords = map[string]bool{
	"true": true, "1": true, "yes": true, "y": true,
	"false": false, "0": false, "no": false, "n": false,
}

// Bool resolves a boolean-ish value.
func (r Record) Bool(candidates ...string) *bool {
	v, ok := r.Lookup(candidates...)
	if !ok {
		return nil
	}
	var b bool
	switch t := v.(type) {
	case bool:
		b = t
	case json.Number:
		f, err := t.Float64()
		if err != nil || (f != 0 && f != 1) {
			return nil
		}
		b = f == 1
	case float64:
		if t != 0 && t != 1 {
			return nil
		}
		b = t == 1
	case string:
		w, known := boolWords[cases.Fold().String(strings.TrimSpace(t))]
		if !known {
			return nil
		}
		b = w
	default:
		return nil
	}
	return &b
}

// Flag is Bool with false for unresolved fields.
func (r Record) Flag(candidates ...string) bool {
	if b := r.Bool(candidates...); b != nil {
		return *b
	}
	return false
}

// Int resolves an integer. Fractional numbers resolve to nil.
func (r Record) Int(candidates ...string) *int {
	d := r.Decimal(DecimalScale, candidates...)
	if d == nil || !d.Equal(d.Truncate(0)) {
		return nil
	}
	i := int(d.IntPart())
	return &i
}

// Time resolves a timestamp. Dates without a zone are read as UTC.
// The "/Date(ms)/" form is epoch milliseconds; its offset suffix is ignored.
func (r Record) Time(candidates ...string) *time.Time {
	s := r.String(candidates...)
	if s == nil {
		return nil
	}
	if m := msDate.FindStringSubmatch(*s); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil
		}
		t := time.UnixMilli(ms).UTC()
		return &t
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, *s); err == nil {
			return &t
		}
	}
	return nil
}

// Records resolves an expanded collection. Non-object items are skipped.
func (r Record) Records(candidates ...string) []Record {
	v, ok := r.Lookup(candidates...)
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Record, 0, len(items))
	for _, it := range items {
		if m, ok := asMap(it); ok {
			out = append(out, Record(m))
		}
	}
	return out
}

// Object resolves an expanded single entity.
func (r Record) Object(candidates ...string) Record {
	v, ok := r.Lookup(candidates...)
	if !ok {
		return nil
	}
	m, ok := asMap(v)
	if !ok {
		return nil
	}
	return Record(m)
}
