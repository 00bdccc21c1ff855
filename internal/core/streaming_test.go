package core

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"golang.org/x/text/encoding/unicode"
)

func TestReadTabular(t *testing.T) {
	tests := []struct {
		name        string
		input       []byte
		opts        ParseOptions
		wantHeaders []string
		wantRows    [][]string
		wantEnc     string
	}{
		{
			name:        "plain utf-8",
			input:       []byte("Email,Name\nann@acme.test,Ann\n"),
			wantHeaders: []string{"Email", "Name"},
			wantRows:    [][]string{{"ann@acme.test", "Ann"}},
			wantEnc:     "utf-8",
		},
		{
			name:        "utf-8 with BOM",
			input:       append([]byte{0xEF, 0xBB, 0xBF}, []byte("Email,Name\nann@acme.test,Ann\n")...),
			wantHeaders: []string{"Email", "Name"},
			wantRows:    [][]string{{"ann@acme.test", "Ann"}},
			wantEnc:     "utf-8-bom",
		},
		{
			name:        "windows-1252 fallback",
			input:       []byte("Email,Company\nann@acme.test,Caf\xe9 Ltd\n"),
			wantHeaders: []string{"Email", "Company"},
			wantRows:    [][]string{{"ann@acme.test", "Café Ltd"}},
			wantEnc:     "windows-1252",
		},
		{
			name:        "explicit latin-1",
			input:       []byte("Email,City\nann@acme.test,M\xfcnchen\n"),
			opts:        ParseOptions{Encoding: "ISO-8859-1"},
			wantHeaders: []string{"Email", "City"},
			wantRows:    [][]string{{"ann@acme.test", "München"}},
			wantEnc:     "iso-8859-1",
		},
		{
			name:        "tab separated",
			input:       []byte("Email\tName\nann@acme.test\tAnn, Jr.\n"),
			opts:        ParseOptions{Delimiter: '\t'},
			wantHeaders: []string{"Email", "Name"},
			wantRows:    [][]string{{"ann@acme.test", "Ann, Jr."}},
			wantEnc:     "utf-8",
		},
		{
			name:        "ragged rows padded and truncated",
			input:       []byte("a,b,c\n1,2\n1,2,3,4\n"),
			wantHeaders: []string{"a", "b", "c"},
			wantRows:    [][]string{{"1", "2", ""}, {"1", "2", "3"}},
			wantEnc:     "utf-8",
		},
		{
			name:        "blank rows skipped",
			input:       []byte("a,b\n\n , \n1,2\n,\n"),
			wantHeaders: []string{"a", "b"},
			wantRows:    [][]string{{"1", "2"}},
			wantEnc:     "utf-8",
		},
		{
			name:        "empty header named by position",
			input:       []byte("Email,,Name\nx@acme.test,1,X\n"),
			wantHeaders: []string{"Email", "Column 2", "Name"},
			wantRows:    [][]string{{"x@acme.test", "1", "X"}},
			wantEnc:     "utf-8",
		},
		{
			name:        "header only",
			input:       []byte("Email,Name\n"),
			wantHeaders: []string{"Email", "Name"},
			wantRows:    nil,
			wantEnc:     "utf-8",
		},
		{
			name:        "quoted newline kept",
			input:       []byte("Email,Notes\nann@acme.test,\"line one\nline two\"\n"),
			wantHeaders: []string{"Email", "Notes"},
			wantRows:    [][]string{{"ann@acme.test", "line one\nline two"}},
			wantEnc:     "utf-8",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadTabular(bytes.NewReader(tt.input), tt.opts)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got.Headers, tt.wantHeaders) {
				t.Errorf("headers = %q, want %q", got.Headers, tt.wantHeaders)
			}
			if !reflect.DeepEqual(got.Rows, tt.wantRows) {
				t.Errorf("rows = %q, want %q", got.Rows, tt.wantRows)
			}
			if got.Encoding != tt.wantEnc {
				t.Errorf("encoding = %q, want %q", got.Encoding, tt.wantEnc)
			}
		})
	}
}

func TestReadTabular_UTF16(t *testing.T) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	encoded, err := enc.String("Email,Name\nzoë@acme.test,Zoë\n")
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	got, err := ReadTabular(strings.NewReader(encoded), ParseOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Encoding != "utf-16le" {
		t.Errorf("encoding = %q, want utf-16le", got.Encoding)
	}
	want := [][]string{{"zoë@acme.test", "Zoë"}}
	if !reflect.DeepEqual(got.Rows, want) {
		t.Errorf("rows = %q, want %q", got.Rows, want)
	}
}

func TestReadTabular_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		opts    ParseOptions
		wantErr error
	}{
		{name: "empty file", input: "", wantErr: ErrEmptyFile},
		{name: "duplicate headers", input: "Email,email\na,b\n", wantErr: ErrValidation},
		{name: "duplicate after normalization", input: "First Name,first_name\n", wantErr: ErrValidation},
		{name: "unsupported encoding", input: "a\n1\n", opts: ParseOptions{Encoding: "ebcdic"}, wantErr: ErrValidation},
		{
			name:    "too large",
			input:   "Email\n" + strings.Repeat("someone@acme.test\n", 20),
			opts:    ParseOptions{MaxBytes: 64},
			wantErr: ErrFileTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadTabular(strings.NewReader(tt.input), tt.opts)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewDecodingReader(t *testing.T) {
	r, name, err := NewDecodingReader(strings.NewReader("caf\xe9"), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if name != "windows-1252" || string(out) != "café" {
		t.Errorf("got (%q, %q), want (\"café\", \"windows-1252\")", out, name)
	}
}

func TestIncompleteTail(t *testing.T) {
	euro := []byte("€") // 3 bytes

	tests := []struct {
		name string
		data []byte
		want int
	}{
		{name: "ascii", data: []byte("abc"), want: 0},
		{name: "complete rune", data: append([]byte("a"), euro...), want: 0},
		{name: "one byte of three", data: append([]byte("a"), euro[:1]...), want: 1},
		{name: "two bytes of three", data: append([]byte("a"), euro[:2]...), want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := incompleteTail(tt.data); got != tt.want {
				t.Errorf("incompleteTail(%v) = %d, want %d", tt.data, got, tt.want)
			}
		})
	}
}

func TestTabularPreview(t *testing.T) {
	tab := &Tabular{Rows: [][]string{{"1"}, {"2"}, {"3"}}}

	if got := len(tab.Preview(2)); got != 2 {
		t.Errorf("Preview(2) len = %d, want 2", got)
	}
	if got := len(tab.Preview(0)); got != 3 {
		t.Errorf("Preview(0) len = %d, want 3", got)
	}

	p := tab.Preview(1)
	p[0][0] = "changed"
	if tab.Rows[0][0] != "1" {
		t.Error("Preview returned rows aliasing the source")
	}
}
