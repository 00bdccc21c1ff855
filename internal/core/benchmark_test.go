package core

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"
)

// ============================================================================
// Conversion Benchmarks
// ============================================================================

// BenchmarkParseNumber covers the numeric shapes seen in CRM exports.
func BenchmarkParseNumber(b *testing.B) {
	testCases := []string{
		"123",
		"-456.78",
		"$1,234.56",
		"(123.45)",
		"1,234,567.89",
		"  999.99  ",
		"€1234.56",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			ParseNumber(tc)
		}
	}
}

func BenchmarkParseNumber_Simple(b *testing.B) {
	for i := 0; i < b.N; i++ {
		ParseNumber("12345")
	}
}

// BenchmarkParseDate is a hot path for last-activity columns.
func BenchmarkParseDate(b *testing.B) {
	testCases := []string{
		"2024-01-15",
		"01/15/2024",
		"Jan 15, 2024",
		"2024-01-15T10:30:00Z",
		"1/5/24",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			ParseDate(tc)
		}
	}
}

func BenchmarkParseDate_ISO(b *testing.B) {
	for i := 0; i < b.N; i++ {
		ParseDate("2024-01-15")
	}
}

func BenchmarkCleanCell(b *testing.B) {
	testCases := []string{
		"Acme Corp",
		"  padded  ",
		`="00123"`,
		"<b>Bold</b> &amp; plain",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			CleanCell(tc)
		}
	}
}

// BenchmarkCleanCell_Simple measures the no-markup fast path.
func BenchmarkCleanCell_Simple(b *testing.B) {
	for i := 0; i < b.N; i++ {
		CleanCell("ada@example.com")
	}
}

// ============================================================================
// Import Benchmarks
// ============================================================================

func benchCSV(rows int) string {
	var sb strings.Builder
	sb.WriteString("Email,First Name,Company,Employees,Lead Status\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&sb, "user%d@acme.test,User %d,Acme %d,%d,working\n", i, i, i%50, i*3)
	}
	return sb.String()
}

func BenchmarkReadTabular_Large(b *testing.B) {
	data := benchCSV(10000)

	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ReadTabular(strings.NewReader(data), ParseOptions{}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBuildRecords(b *testing.B) {
	t, err := ReadTabular(strings.NewReader(benchCSV(5000)), ParseOptions{})
	if err != nil {
		b.Fatal(err)
	}
	def := testContactsDef()
	mapping := SuggestMapping(def, t.Headers, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		BuildRecords(def, t.Headers, t.Rows, mapping)
	}
}

// ============================================================================
// Query and Merge Benchmarks
// ============================================================================

func BenchmarkQueryRows(b *testing.B) {
	def := testContactsDef()
	rows := contactRows(5000)
	state := NewViewState(def.Info.Key, 50).
		WithSearch("acme").
		WithFilter(ColumnFilter{"employee_count", OpGreaterEq, "100"}).
		WithSort("company", SortDesc)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := QueryRows(def, rows, state); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMerge(b *testing.B) {
	reg, err := NewSourceRegistry(testSourceDefs())
	if err != nil {
		b.Fatal(err)
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var records []RawContactRecord
	for i := 0; i < 3000; i++ {
		email := fmt.Sprintf("p%d@acme.test", i%1000)
		src := []string{"crm", "apollo", "marketing"}[i%3]
		records = append(records, RawContactRecord{
			Source:    src,
			RecordID:  fmt.Sprint(i),
			Email:     email,
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
			Fields:    map[string]any{"email": email, "first_name": fmt.Sprintf("P%d", i)},
		})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Merge(reg, records)
	}
}

// ============================================================================
// Export Benchmarks
// ============================================================================

func BenchmarkWriteExport(b *testing.B) {
	def := testContactsDef()
	cols, err := ResolveExportColumns(def, nil, nil)
	if err != nil {
		b.Fatal(err)
	}
	rows := contactRows(2000)
	var buf bytes.Buffer

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		if err := WriteExport(&buf, cols, rows, DefaultExportOptions()); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkWriteExport_UTF16(b *testing.B) {
	def := testContactsDef()
	cols, err := ResolveExportColumns(def, nil, nil)
	if err != nil {
		b.Fatal(err)
	}
	rows := contactRows(2000)
	opts := ExportOptions{Encoding: EncodingUTF16LE, IncludeHeader: true}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := WriteExport(io.Discard, cols, rows, opts); err != nil {
			b.Fatal(err)
		}
	}
}

// ============================================================================
// Parallel Benchmarks
// ============================================================================

func BenchmarkParseNumberParallel(b *testing.B) {
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			ParseNumber("$1,234.56")
		}
	})
}

func BenchmarkCleanCellParallel(b *testing.B) {
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			CleanCell("<i>Acme</i>")
		}
	})
}
