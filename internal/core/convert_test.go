package core

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// ----------------------------------------------------------------------------
// ParseNumber Tests
// ----------------------------------------------------------------------------

func TestParseNumber(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantValid bool
		wantValue float64
	}{
		// Valid: Basic integers
		{name: "positive integer", input: "123", wantValid: true, wantValue: 123},
		{name: "zero", input: "0", wantValid: true, wantValue: 0},
		{name: "negative integer", input: "-456", wantValid: true, wantValue: -456},

		// Valid: Decimals
		{name: "decimal", input: "123.45", wantValid: true, wantValue: 123.45},
		{name: "leading dot", input: ".5", wantValid: true, wantValue: 0.5},
		{name: "scientific notation", input: "1e3", wantValid: true, wantValue: 1000},

		// Valid: Spreadsheet formatting
		{name: "thousands separator", input: "1,234,567", wantValid: true, wantValue: 1234567},
		{name: "dollar amount", input: "$1,234.56", wantValid: true, wantValue: 1234.56},
		{name: "euro amount", input: "€50", wantValid: true, wantValue: 50},
		{name: "accounting negative", input: "(123.45)", wantValid: true, wantValue: -123.45},
		{name: "accounting negative with currency", input: "($1,000)", wantValid: true, wantValue: -1000},
		{name: "surrounding whitespace", input: "  42  ", wantValid: true, wantValue: 42},

		// Invalid
		{name: "empty", input: "", wantValid: false},
		{name: "whitespace only", input: "   ", wantValid: false},
		{name: "letters", input: "abc", wantValid: false},
		{name: "two dots", input: "12.5.3", wantValid: false},
		{name: "double sign", input: "--5", wantValid: false},
		{name: "overflow", input: "1e400", wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseNumber(tt.input)
			if ok != tt.wantValid {
				t.Fatalf("ParseNumber(%q) valid = %v, want %v", tt.input, ok, tt.wantValid)
			}
			if ok && got != tt.wantValue {
				t.Errorf("ParseNumber(%q) = %v, want %v", tt.input, got, tt.wantValue)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// ParseDate Tests
// ----------------------------------------------------------------------------

func TestParseDate(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantValid bool
		wantDate  string
	}{
		// Valid: Four-digit years
		{name: "ISO", input: "2024-03-15", wantValid: true, wantDate: "2024-03-15"},
		{name: "ISO slashes", input: "2024/03/15", wantValid: true, wantDate: "2024-03-15"},
		{name: "US short", input: "3/15/2024", wantValid: true, wantDate: "2024-03-15"},
		{name: "US padded", input: "03/15/2024", wantValid: true, wantDate: "2024-03-15"},
		{name: "US dashes", input: "03-15-2024", wantValid: true, wantDate: "2024-03-15"},
		{name: "month name", input: "Mar 15, 2024", wantValid: true, wantDate: "2024-03-15"},
		{name: "long month name", input: "March 15, 2024", wantValid: true, wantDate: "2024-03-15"},
		{name: "compact", input: "20240315", wantValid: true, wantDate: "2024-03-15"},
		{name: "RFC3339 drops time", input: "2024-03-15T22:30:00Z", wantValid: true, wantDate: "2024-03-15"},
		{name: "datetime drops time", input: "2024-03-15 08:00:00", wantValid: true, wantDate: "2024-03-15"},

		// Valid: Two-digit years
		{name: "two-digit recent", input: "3/15/24", wantValid: true, wantDate: "2024-03-15"},
		{name: "two-digit last century", input: "12/31/99", wantValid: true, wantDate: "1999-12-31"},
		{name: "two-digit beyond pivot", input: "1/1/68", wantValid: true, wantDate: "1968-01-01"},

		// Invalid
		{name: "empty", input: "", wantValid: false},
		{name: "day first", input: "15/03/2024", wantValid: false},
		{name: "garbage", input: "not a date", wantValid: false},
		{name: "impossible day", input: "2024-02-30", wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDate(tt.input)
			if ok != tt.wantValid {
				t.Fatalf("ParseDate(%q) valid = %v, want %v", tt.input, ok, tt.wantValid)
			}
			if !ok {
				return
			}
			if s := got.Format(dateLayout); s != tt.wantDate {
				t.Errorf("ParseDate(%q) = %s, want %s", tt.input, s, tt.wantDate)
			}
			if got.Hour() != 0 || got.Location() != time.UTC {
				t.Errorf("ParseDate(%q) not truncated to UTC day: %v", tt.input, got)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// ParseBool Tests
// ----------------------------------------------------------------------------

func TestParseBool(t *testing.T) {
	tests := []struct {
		input     string
		wantValid bool
		wantValue bool
	}{
		{"true", true, true},
		{"TRUE", true, true},
		{"yes", true, true},
		{"Y", true, true},
		{"1", true, true},
		{"t", true, true},
		{"false", true, false},
		{"No", true, false},
		{"n", true, false},
		{"0", true, false},
		{" f ", true, false},
		{"maybe", false, false},
		{"", false, false},
		{"2", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseBool(tt.input)
			if ok != tt.wantValid || got != tt.wantValue {
				t.Errorf("ParseBool(%q) = (%v, %v), want (%v, %v)",
					tt.input, got, ok, tt.wantValue, tt.wantValid)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// CleanCell Tests
// ----------------------------------------------------------------------------

func TestCleanCell(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain", input: "Acme", expected: "Acme"},
		{name: "whitespace", input: "  Acme  ", expected: "Acme"},
		{name: "excel text formula", input: `="0123"`, expected: "0123"},
		{name: "bare formula prefix", input: "=SUM", expected: "SUM"},
		{name: "double quotes", input: `"Acme"`, expected: "Acme"},
		{name: "single quotes", input: "'Acme'", expected: "Acme"},
		{name: "bold markup", input: "<b>Acme</b>", expected: "Acme"},
		{name: "link markup", input: `<a href="https://acme.test">Acme Corp</a>`, expected: "Acme Corp"},
		{name: "script removed", input: "<script>alert(1)</script>Acme", expected: "Acme"},
		{name: "entity preserved", input: "<i>AT&amp;T</i>", expected: "AT&T"},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanCell(tt.input); got != tt.expected {
				t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// ConvertCell Tests
// ----------------------------------------------------------------------------

func TestConvertCell(t *testing.T) {
	status := FieldSpec{Name: "status", Type: FieldEnum, EnumValues: []string{"Active", "Churned"}}

	tests := []struct {
		name    string
		raw     string
		spec    FieldSpec
		want    any
		wantErr string
	}{
		{name: "text", raw: " Jane ", spec: FieldSpec{Name: "first_name", Type: FieldText}, want: "Jane"},
		{name: "blank is nil", raw: "   ", spec: FieldSpec{Name: "first_name", Type: FieldText}, want: nil},
		{name: "numeric", raw: "$2,500", spec: FieldSpec{Name: "employees", Type: FieldNumeric}, want: 2500.0},
		{name: "bad numeric", raw: "lots", spec: FieldSpec{Name: "employees", Type: FieldNumeric}, wantErr: "invalid number"},
		{name: "date", raw: "1/2/2006", spec: FieldSpec{Name: "last_contacted", Type: FieldDate}, want: "2006-01-02"},
		{name: "bad date", raw: "someday", spec: FieldSpec{Name: "last_contacted", Type: FieldDate}, wantErr: "invalid date"},
		{name: "bool", raw: "yes", spec: FieldSpec{Name: "opted_out", Type: FieldBool}, want: true},
		{name: "bad bool", raw: "perhaps", spec: FieldSpec{Name: "opted_out", Type: FieldBool}, wantErr: "invalid boolean"},
		{name: "enum canonical casing", raw: "active", spec: status, want: "Active"},
		{name: "bad enum", raw: "gone", spec: status, wantErr: "invalid enum value"},
		{name: "open enum", raw: "anything", spec: FieldSpec{Name: "stage", Type: FieldEnum}, want: "anything"},
		{
			name: "normalizer applied",
			raw:  "JANE@ACME.TEST",
			spec: FieldSpec{Name: "email", Type: FieldText, Normalizer: strings.ToLower},
			want: "jane@acme.test",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConvertCell(tt.raw, tt.spec)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("ConvertCell(%q) expected error %q, got %v", tt.raw, tt.wantErr, got)
				}
				if !errors.Is(err, ErrValidation) {
					t.Errorf("error %v is not a validation error", err)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ConvertCell(%q) = %#v, want %#v", tt.raw, got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// NormalizeValue / FormatValue Tests
// ----------------------------------------------------------------------------

func TestNormalizeValue(t *testing.T) {
	day := time.Date(2024, 3, 15, 18, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		ft   FieldType
		in   any
		want any
	}{
		{name: "nil", ft: FieldText, in: nil, want: nil},
		{name: "empty text", ft: FieldText, in: "", want: nil},
		{name: "bytes text", ft: FieldText, in: []byte("Acme"), want: "Acme"},
		{name: "int numeric", ft: FieldNumeric, in: int64(7), want: 7.0},
		{name: "string numeric", ft: FieldNumeric, in: "12.5", want: 12.5},
		{name: "bad string numeric", ft: FieldNumeric, in: "n/a", want: nil},
		{name: "int bool", ft: FieldBool, in: int64(1), want: true},
		{name: "string bool", ft: FieldBool, in: "false", want: false},
		{name: "time date", ft: FieldDate, in: day, want: "2024-03-15"},
		{name: "zero time", ft: FieldDate, in: time.Time{}, want: nil},
		{name: "string date", ft: FieldDate, in: "2024-03-15T00:00:00Z", want: "2024-03-15"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeValue(tt.ft, tt.in); got != tt.want {
				t.Errorf("NormalizeValue(%v, %#v) = %#v, want %#v", tt.ft, tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"Acme", "Acme"},
		{1234.5, "1234.5"},
		{100.0, "100"},
		{int64(3), "3"},
		{true, "true"},
		{time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC), "2024-03-15"},
		{[]byte("raw"), "raw"},
	}

	for _, tt := range tests {
		if got := FormatValue(tt.in); got != tt.want {
			t.Errorf("FormatValue(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
