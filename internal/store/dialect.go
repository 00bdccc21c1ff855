package store

import (
	"strconv"
	"strings"

	"github.com/JonMunkholm/prospects/internal/core"
)

// Dialect captures the SQL differences between backends.
type Dialect struct {
	Name string

	// Numbered placeholders ($1, $2) instead of "?".
	Numbered bool

	// Column types.
	Text      string
	Numeric   string
	Bool      string
	Date      string
	Timestamp string
	JSON      string

	// Surrogate key column definition.
	IDColumn string

	// DateAsText binds dates as YYYY-MM-DD strings instead of time.Time.
	DateAsText bool
}

// Postgres is the dialect for the pgx backend.
var Postgres = Dialect{
	Name:      "postgres",
	Numbered:  true,
	Text:      "TEXT",
	Numeric:   "DOUBLE PRECISION",
	Bool:      "BOOLEAN",
	Date:      "DATE",
	Timestamp: "TIMESTAMPTZ",
	JSON:      "JSONB",
	IDColumn:  "id BIGSERIAL PRIMARY KEY",
}

// SQLite is the dialect for the modernc backend. Dates are stored as
// YYYY-MM-DD text and timestamps as RFC3339 text so they sort and compare
// as strings.
var SQLite = Dialect{
	Name:       "sqlite",
	Text:       "TEXT",
	Numeric:    "REAL",
	Bool:       "INTEGER",
	Date:       "TEXT",
	Timestamp:  "TEXT",
	JSON:       "TEXT",
	IDColumn:   "id INTEGER PRIMARY KEY AUTOINCREMENT",
	DateAsText: true,
}

// Placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) Placeholder(n int) string {
	if d.Numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Rebind rewrites "?" placeholders for numbered dialects. Question marks
// inside single-quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteString(d.Placeholder(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ColumnType returns the storage type for a field type.
func (d Dialect) ColumnType(ft core.FieldType) string {
	switch ft {
	case core.FieldNumeric:
		return d.Numeric
	case core.FieldBool:
		return d.Bool
	case core.FieldDate:
		return d.Date
	default:
		return d.Text
	}
}

// QuoteIdentifier quotes a SQL identifier to prevent injection.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteColumns quotes every name.
func quoteColumns(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = QuoteIdentifier(c)
	}
	return out
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
