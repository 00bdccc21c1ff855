package core

// streaming.go turns an uploaded CSV/TSV byte stream into {headers, rows}.
//
// The reader stack, outermost first:
//
//   - a limit reader that fails once MaxBytes is exceeded
//   - an x/text decoder: BOM-aware UTF-8 (invalid bytes become U+FFFD),
//     UTF-16 when a UTF-16 BOM is present, or Windows-1252 when the first
//     block is not valid UTF-8
//   - encoding/csv with a configurable delimiter
//
// The first record is always the header row. Ragged rows are padded or
// truncated to the header width and blank rows are skipped.

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultMaxUploadBytes caps an uploaded file when the caller sets no limit.
const DefaultMaxUploadBytes = 20 << 20

// sniffSize is how much of the stream is inspected to pick a decoder.
const sniffSize = 64 << 10

// ErrFileTooLarge is returned when an upload exceeds its byte limit.
var ErrFileTooLarge = errors.New("file exceeds maximum upload size")

// ErrEmptyFile is returned for an upload without a header row.
var ErrEmptyFile = errors.New("file is empty")

// ParseOptions controls how an upload is decoded.
type ParseOptions struct {
	Delimiter rune   // ',' when zero; '\t' for TSV
	Encoding  string // "" detects; otherwise one of the export encoding names
	MaxBytes  int64  // DefaultMaxUploadBytes when zero
}

// Tabular is a parsed upload.
type Tabular struct {
	Headers  []string
	Rows     [][]string
	Encoding string // encoding the bytes were decoded from
}

// limitedReader wraps an io.Reader and fails once more than max bytes have
// been read.
type limitedReader struct {
	reader    io.Reader
	max       int64
	BytesRead int64
}

func (r *limitedReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	if r.BytesRead > r.max {
		return n, ErrFileTooLarge
	}
	return n, err
}

// decoderFor returns the decoder for an explicit encoding name.
func decoderFor(name string) (transform.Transformer, error) {
	switch strings.ToLower(name) {
	case "utf-8", "utf8", "utf-8-bom":
		return unicode.BOMOverride(unicode.UTF8.NewDecoder()), nil
	case "utf-16le", "utf-16":
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder(), nil
	case "utf-16be":
		return unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder(), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder(), nil
	case "iso-8859-1", "latin-1", "latin1":
		return charmap.ISO8859_1.NewDecoder(), nil
	default:
		return nil, NewValidationError("encoding", name, "unsupported encoding")
	}
}

// detectDecoder picks a decoder from the leading bytes.
func detectDecoder(head []byte) (transform.Transformer, string) {
	switch {
	case bytes.HasPrefix(head, []byte{0xFF, 0xFE}):
		return unicode.BOMOverride(unicode.UTF8.NewDecoder()), "utf-16le"
	case bytes.HasPrefix(head, []byte{0xFE, 0xFF}):
		return unicode.BOMOverride(unicode.UTF8.NewDecoder()), "utf-16be"
	case bytes.HasPrefix(head, []byte{0xEF, 0xBB, 0xBF}):
		return unicode.BOMOverride(unicode.UTF8.NewDecoder()), "utf-8-bom"
	}

	// A multi-byte rune may be cut at the sniff boundary.
	check := head
	if len(check) == sniffSize {
		check = check[:len(check)-incompleteTail(check)]
	}
	if utf8.Valid(check) {
		return unicode.BOMOverride(unicode.UTF8.NewDecoder()), "utf-8"
	}
	return charmap.Windows1252.NewDecoder(), "windows-1252"
}

// incompleteTail returns how many trailing bytes form an unfinished rune.
func incompleteTail(data []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(data); i++ {
		b := data[len(data)-i]
		if b&0xC0 == 0x80 {
			continue
		}
		if b >= 0xC0 && !utf8.FullRune(data[len(data)-i:]) {
			return i
		}
		return 0
	}
	return 0
}

// NewDecodingReader wraps r so that it yields UTF-8, returning the name of
// the source encoding.
func NewDecodingReader(r io.Reader, enc string) (io.Reader, string, error) {
	br := bufio.NewReaderSize(r, sniffSize)

	if enc != "" {
		dec, err := decoderFor(enc)
		if err != nil {
			return nil, "", err
		}
		return transform.NewReader(br, dec), strings.ToLower(enc), nil
	}

	head, err := br.Peek(sniffSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, "", fmt.Errorf("sniff encoding: %w", err)
	}
	dec, name := detectDecoder(head)
	return transform.NewReader(br, dec), name, nil
}

// ReadTabular parses an upload. The first record is the header row; empty
// header cells are named "Column N" and duplicate headers are rejected.
func ReadTabular(r io.Reader, opts ParseOptions) (*Tabular, error) {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxUploadBytes
	}
	if opts.Delimiter == 0 {
		opts.Delimiter = ','
	}

	limited := &limitedReader{reader: r, max: opts.MaxBytes}
	decoded, encName, err := NewDecodingReader(limited, opts.Encoding)
	if err != nil {
		if errors.Is(err, ErrFileTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("open upload: %w", err)
	}

	cr := csv.NewReader(decoded)
	cr.Comma = opts.Delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyFile
		}
		if errors.Is(err, ErrFileTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	headers, err := cleanHeaders(header)
	if err != nil {
		return nil, err
	}

	t := &Tabular{Headers: headers, Encoding: encName}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, ErrFileTooLarge) {
				return nil, err
			}
			return nil, fmt.Errorf("read row: %w", err)
		}
		if isEmptyRow(rec) {
			continue
		}
		t.Rows = append(t.Rows, fitRow(rec, len(headers)))
	}

	return t, nil
}

func cleanHeaders(raw []string) ([]string, error) {
	headers := make([]string, len(raw))
	seen := make(map[string]int, len(raw))
	for i, h := range raw {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			h = fmt.Sprintf("Column %d", i+1)
		}
		key := NormalizeHeader(h)
		if prev, dup := seen[key]; dup {
			return nil, NewValidationError("headers", h,
				fmt.Sprintf("duplicate header %q (columns %d and %d)", h, prev+1, i+1))
		}
		seen[key] = i
		headers[i] = h
	}
	if len(headers) == 0 {
		return nil, ErrEmptyFile
	}
	return headers, nil
}

// fitRow pads or truncates rec to width.
func fitRow(rec []string, width int) []string {
	row := make([]string, width)
	copy(row, rec)
	return row
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// Preview returns up to n rows.
func (t *Tabular) Preview(n int) [][]string {
	if n <= 0 || n > len(t.Rows) {
		n = len(t.Rows)
	}
	out := make([][]string, n)
	for i := 0; i < n; i++ {
		out[i] = append([]string(nil), t.Rows[i]...)
	}
	return out
}
