package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	currencyRe = regexp.MustCompile(`[^\d,.\-]`)
	brDateRe   = regexp.MustCompile(`^(\d{2})/(\d{2})/(\d{4})$`)
)

// Coerce converts one raw spreadsheet cell into the destination column's
// declared type. It never fails: a bad cell degrades to a safe default (0 for
// numbers, nil for empty input, passthrough otherwise) and row correctness is
// left to validation.
func Coerce(raw interface{}, t ColumnType) interface{} {
	if isEmpty(raw) {
		if t == TypeNumber {
			return float64(0)
		}
		return nil
	}

	switch t {
	case TypeNumber:
		return coerceNumber(raw)
	case TypeBoolean:
		return coerceBoolean(raw)
	case TypeDate:
		return coerceDate(raw)
	default:
		// string / identifier pass through untouched
		return raw
	}
}

func isEmpty(raw interface{}) bool {
	if raw == nil {
		return true
	}
	if s, ok := raw.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// coerceNumber handles pt-BR money text: "R$ 1.234,56" → 1234.56.
// Thousands separators are dropped, a decimal comma becomes a decimal point,
// and anything unparseable yields 0.
func coerceNumber(raw interface{}) float64 {
	switch v := raw.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		s := currencyRe.ReplaceAllString(strings.TrimSpace(v), "")
		if strings.Contains(s, ",") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		f, err := strconv.ParseFloat(fmt.Sprint(raw), 64)
		if err != nil {
			return 0
		}
		return f
	}
}

// coerceBoolean accepts the affirmative spellings users type into sheets
// ("sim", "s", "true", "1"); everything else falls back to truthiness of the
// raw value, matching the loose semantics of the spreadsheet source.
func coerceBoolean(raw interface{}) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "sim", "true", "1", "s":
			return true
		}
		return strings.TrimSpace(v) != ""
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	default:
		return raw != nil
	}
}

// coerceDate rewrites DD/MM/YYYY to YYYY-MM-DD. Any other shape passes
// through; malformed dates are the destination's problem to reject.
func coerceDate(raw interface{}) interface{} {
	s, ok := raw.(string)
	if !ok {
		return raw
	}
	m := brDateRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return s
	}
	return fmt.Sprintf("%s-%s-%s", m[3], m[2], m[1])
}
