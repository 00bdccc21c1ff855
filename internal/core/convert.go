package core

// convert.go turns user-provided spreadsheet cells into typed values and
// normalizes values read back from a store.
//
// These functions handle the messy reality of exported contact data:
//   - Multiple date formats (US, EU, ISO, etc.)
//   - Thousand separators and currency symbols in numbers
//   - Various boolean representations (yes/no, true/false, 1/0)
//   - Excel formula prefixes (="value")
//   - Markup pasted from web CRMs
//
// Empty cells convert to nil so that imports never overwrite a stored value
// with a blank.

import (
	"fmt"
	"html"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

const dateLayout = "2006-01-02"

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
var TwoDigitYearPivot = 20

var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"Jan 2, 2006", "2 Jan 2006", "January 2, 2006",
		"20060102",
		time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05",
	}
)

// cellPolicy strips every tag; imported values are plain text.
var cellPolicy = bluemonday.StrictPolicy()

// CleanCell removes common spreadsheet artifacts from a cell value:
//   - Trims whitespace
//   - Removes Excel formula prefix (="...")
//   - Removes surrounding quotes
//   - Strips HTML markup
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	s = strings.Trim(s, `"'`)

	if strings.ContainsAny(s, "<>") {
		s = html.UnescapeString(cellPolicy.Sanitize(s))
	}

	return strings.TrimSpace(s)
}

// ConvertCell cleans raw and converts it to the Go value stored for a
// column of type ft. Blank cells return (nil, nil).
func ConvertCell(raw string, spec FieldSpec) (any, error) {
	s := CleanCell(raw)
	if spec.Normalizer != nil && s != "" {
		s = spec.Normalizer(s)
	}
	if s == "" {
		return nil, nil
	}

	switch spec.Type {
	case FieldNumeric:
		f, ok := ParseNumber(s)
		if !ok {
			return nil, NewValidationError(spec.Name, raw, "invalid number")
		}
		return f, nil

	case FieldDate:
		t, ok := ParseDate(s)
		if !ok {
			return nil, NewValidationError(spec.Name, raw, "invalid date")
		}
		return t.Format(dateLayout), nil

	case FieldBool:
		b, ok := ParseBool(s)
		if !ok {
			return nil, NewValidationError(spec.Name, raw, "invalid boolean")
		}
		return b, nil

	case FieldEnum:
		if len(spec.EnumValues) == 0 {
			return s, nil
		}
		for _, allowed := range spec.EnumValues {
			if strings.EqualFold(allowed, s) {
				return allowed, nil
			}
		}
		return nil, NewValidationError(spec.Name, raw, "invalid enum value")

	default:
		return s, nil
	}
}

// ParseNumber parses a number, tolerating currency symbols, thousands
// separators and accounting negatives "(123.45)".
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "")
	s = strings.ReplaceAll(s, "£", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if isNegative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return 0, false
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// ParseDate parses a date in any supported layout, handling 2-digit years
// with a pivot. The time-of-day is dropped.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateDay(t), true
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return truncateDay(t), true
		}
	}

	return time.Time{}, false
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseBool accepts true/false, yes/no, t/f, y/n, 1/0.
func ParseBool(s string) (bool, bool) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "true", "t", "yes", "y", "1":
		return true, true
	case "false", "f", "no", "n", "0":
		return false, true
	default:
		return false, false
	}
}

// NormalizeValue converts a value scanned from a store into the canonical
// Go representation for its column type: string, float64, bool, a
// YYYY-MM-DD string for dates, or nil.
func NormalizeValue(ft FieldType, v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		v = string(val)
	}

	switch ft {
	case FieldNumeric:
		switch val := v.(type) {
		case float64:
			return val
		case float32:
			return float64(val)
		case int64:
			return float64(val)
		case int32:
			return float64(val)
		case int:
			return float64(val)
		case string:
			if f, ok := ParseNumber(val); ok {
				return f
			}
			return nil
		}
	case FieldBool:
		switch val := v.(type) {
		case bool:
			return val
		case int64:
			return val != 0
		case string:
			if b, ok := ParseBool(val); ok {
				return b
			}
			return nil
		}
	case FieldDate:
		switch val := v.(type) {
		case time.Time:
			if val.IsZero() {
				return nil
			}
			return val.UTC().Format(dateLayout)
		case string:
			if val == "" {
				return nil
			}
			if t, ok := ParseDate(val); ok {
				return t.Format(dateLayout)
			}
			return val
		}
	default:
		if s, ok := v.(string); ok {
			if s == "" {
				return nil
			}
			return s
		}
	}
	return v
}

// FormatValue renders a cell for text output (exports, search). Nil is the
// empty string; floats drop trailing zeros.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		if val.IsZero() {
			return ""
		}
		return val.UTC().Format(dateLayout)
	case []byte:
		return string(val)
	default:
		return fmt.Sprintf("%v", v)
	}
}
