package core

// export.go serializes table rows to delimited text.
//
// Output is deterministic for a given row sequence and options: values are
// rendered with FormatValue, columns follow the requested order and the
// header row uses column labels. Non-UTF-8 encodings replace characters
// they cannot represent.

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ExportScope selects which rows are exported.
type ExportScope string

const (
	ScopePage ExportScope = "page" // the rows of the current page
	ScopeAll  ExportScope = "all"  // every row matching the current filters
)

// QuoteMode controls field quoting.
type QuoteMode string

const (
	QuoteMinimal QuoteMode = "minimal" // only fields that need it
	QuoteAll     QuoteMode = "all"
	QuoteNone    QuoteMode = "none" // newlines are flattened to spaces
)

// Supported export encodings.
const (
	EncodingUTF8    = "utf-8"
	EncodingUTF8BOM = "utf-8-bom"
	EncodingUTF16LE = "utf-16le"
	EncodingWindows = "windows-1252"
	EncodingLatin1  = "iso-8859-1"
)

// ExportOptions controls an export.
type ExportOptions struct {
	Scope         ExportScope `json:"scope"`
	Columns       []string    `json:"columns,omitempty"` // empty means the visible columns
	Delimiter     rune        `json:"delimiter"`
	Encoding      string      `json:"encoding"`
	Quote         QuoteMode   `json:"quote"`
	IncludeHeader bool        `json:"include_header"`
	CRLF          bool        `json:"crlf"`
}

// DefaultExportOptions returns comma-separated UTF-8 with a header row.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{
		Scope:         ScopeAll,
		Delimiter:     ',',
		Encoding:      EncodingUTF8,
		Quote:         QuoteMinimal,
		IncludeHeader: true,
	}
}

// Validate checks the options, filling zero values with defaults.
func (o *ExportOptions) Validate() error {
	if o.Scope == "" {
		o.Scope = ScopeAll
	}
	if o.Scope != ScopePage && o.Scope != ScopeAll {
		return NewValidationError("scope", o.Scope, "scope must be page or all")
	}
	if o.Delimiter == 0 {
		o.Delimiter = ','
	}
	if o.Delimiter == '"' || o.Delimiter == '\r' || o.Delimiter == '\n' || o.Delimiter == utf8.RuneError {
		return NewValidationError("delimiter", string(o.Delimiter), "invalid delimiter")
	}
	if o.Encoding == "" {
		o.Encoding = EncodingUTF8
	}
	if _, err := exportEncoder(o.Encoding); err != nil {
		return err
	}
	if o.Quote == "" {
		o.Quote = QuoteMinimal
	}
	switch o.Quote {
	case QuoteMinimal, QuoteAll, QuoteNone:
	default:
		return NewValidationError("quote", o.Quote, "quote must be minimal, all or none")
	}
	return nil
}

// ContentType returns the MIME type for the options.
func (o ExportOptions) ContentType() string {
	charset := o.Encoding
	if charset == EncodingUTF8BOM {
		charset = EncodingUTF8
	}
	if o.Delimiter == '\t' {
		return "text/tab-separated-values; charset=" + charset
	}
	return "text/csv; charset=" + charset
}

// exportEncoder returns the encoder for name; nil means plain UTF-8.
func exportEncoder(name string) (*encoding.Encoder, error) {
	switch strings.ToLower(name) {
	case EncodingUTF8, "utf8":
		return nil, nil
	case EncodingUTF8BOM:
		return unicode.UTF8BOM.NewEncoder(), nil
	case EncodingUTF16LE:
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder(), nil
	case EncodingWindows:
		return encoding.ReplaceUnsupported(charmap.Windows1252.NewEncoder()), nil
	case EncodingLatin1:
		return encoding.ReplaceUnsupported(charmap.ISO8859_1.NewEncoder()), nil
	default:
		return nil, NewValidationError("encoding", name, "unsupported encoding")
	}
}

// ResolveExportColumns maps requested column names to specs. An empty
// request falls back to visible, then to every column.
func ResolveExportColumns(def TableDefinition, requested, visible []string) ([]FieldSpec, error) {
	names := requested
	if len(names) == 0 {
		names = visible
	}
	if len(names) == 0 {
		return append([]FieldSpec(nil), def.FieldSpecs...), nil
	}

	specs := make([]FieldSpec, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		spec, ok := def.Field(name)
		if !ok {
			return nil, NewValidationError("columns", name, fmt.Sprintf("table %s has no column %q", def.Info.Key, name))
		}
		if seen[spec.Name] {
			continue
		}
		seen[spec.Name] = true
		specs = append(specs, spec)
	}
	return specs, nil
}

// ExportWriter writes delimited rows in a fixed column order.
type ExportWriter struct {
	opts    ExportOptions
	columns []FieldSpec
	enc     io.WriteCloser // transform writer, nil for plain UTF-8
	buf     *bufio.Writer
	rows    int
}

// NewExportWriter prepares a writer. opts must have passed Validate.
func NewExportWriter(w io.Writer, columns []FieldSpec, opts ExportOptions) (*ExportWriter, error) {
	encoder, err := exportEncoder(opts.Encoding)
	if err != nil {
		return nil, err
	}

	ew := &ExportWriter{opts: opts, columns: columns}
	if encoder != nil {
		ew.enc = transform.NewWriter(w, encoder)
		ew.buf = bufio.NewWriter(ew.enc)
	} else {
		ew.buf = bufio.NewWriter(w)
	}
	return ew, nil
}

// WriteHeader writes the label row if the options ask for one.
func (e *ExportWriter) WriteHeader() error {
	if !e.opts.IncludeHeader {
		return nil
	}
	fields := make([]string, len(e.columns))
	for i, c := range e.columns {
		fields[i] = c.DisplayLabel()
	}
	return e.writeRecord(fields)
}

// WriteRow writes one row.
func (e *ExportWriter) WriteRow(row TableRow) error {
	fields := make([]string, len(e.columns))
	for i, c := range e.columns {
		fields[i] = FormatValue(NormalizeValue(c.Type, row[c.Name]))
	}
	e.rows++
	return e.writeRecord(fields)
}

// Rows returns how many data rows were written.
func (e *ExportWriter) Rows() int {
	return e.rows
}

func (e *ExportWriter) writeRecord(fields []string) error {
	for i, f := range fields {
		if i > 0 {
			if _, err := e.buf.WriteRune(e.opts.Delimiter); err != nil {
				return err
			}
		}
		if err := e.writeField(f); err != nil {
			return err
		}
	}
	eol := "\n"
	if e.opts.CRLF {
		eol = "\r\n"
	}
	_, err := e.buf.WriteString(eol)
	return err
}

func (e *ExportWriter) writeField(f string) error {
	switch e.opts.Quote {
	case QuoteNone:
		// Nothing can be escaped, so line breaks and the delimiter become
		// spaces to keep one record per line and the field count fixed.
		f = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", string(e.opts.Delimiter), " ").Replace(f)
		_, err := e.buf.WriteString(f)
		return err
	case QuoteAll:
		return e.writeQuoted(f)
	default:
		if e.needsQuotes(f) {
			return e.writeQuoted(f)
		}
		_, err := e.buf.WriteString(f)
		return err
	}
}

func (e *ExportWriter) needsQuotes(f string) bool {
	if f == "" {
		return false
	}
	if strings.ContainsRune(f, e.opts.Delimiter) || strings.ContainsAny(f, "\"\r\n") {
		return true
	}
	r, _ := utf8.DecodeRuneInString(f)
	last, _ := utf8.DecodeLastRuneInString(f)
	return r == ' ' || r == '\t' || last == ' ' || last == '\t'
}

func (e *ExportWriter) writeQuoted(f string) error {
	if err := e.buf.WriteByte('"'); err != nil {
		return err
	}
	if _, err := e.buf.WriteString(strings.ReplaceAll(f, `"`, `""`)); err != nil {
		return err
	}
	return e.buf.WriteByte('"')
}

// Close flushes buffered output and the encoder. The underlying writer is
// not closed.
func (e *ExportWriter) Close() error {
	if err := e.buf.Flush(); err != nil {
		return fmt.Errorf("flush export: %w", err)
	}
	if e.enc != nil {
		if err := e.enc.Close(); err != nil {
			return fmt.Errorf("flush export encoder: %w", err)
		}
	}
	return nil
}

// WriteExport writes rows in one call.
func WriteExport(w io.Writer, columns []FieldSpec, rows []TableRow, opts ExportOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	ew, err := NewExportWriter(w, columns, opts)
	if err != nil {
		return err
	}
	if err := ew.WriteHeader(); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range rows {
		if err := ew.WriteRow(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	return ew.Close()
}
