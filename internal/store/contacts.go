package store

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/JonMunkholm/prospects/internal/core"
)

// ContactColumns returns the specs of def's columns that src maps onto
// canonical fields, in a stable order.
func ContactColumns(src core.SourceDefinition, def core.TableDefinition) []core.FieldSpec {
	var specs []core.FieldSpec
	for native := range src.CanonicalFieldMap {
		if spec, ok := def.Field(native); ok {
			specs = append(specs, spec)
		}
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// LoadContactsSQL selects id, updated_at and the mapped columns of def.
func LoadContactsSQL(def core.TableDefinition, specs []core.FieldSpec) string {
	cols := []string{QuoteIdentifier(ColumnID), QuoteIdentifier(ColumnUpdatedAt)}
	for _, spec := range specs {
		cols = append(cols, QuoteIdentifier(spec.Name))
	}
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), QuoteIdentifier(def.Info.Key))
}

// ContactFromValues builds a raw record from a LoadContactsSQL row.
func ContactFromValues(src core.SourceDefinition, specs []core.FieldSpec, id any, updated time.Time, values []any) core.RawContactRecord {
	rec := core.RawContactRecord{
		Source:    src.Name,
		RecordID:  core.FormatValue(id),
		Fields:    make(map[string]any, len(specs)),
		UpdatedAt: updated,
	}
	for i, spec := range specs {
		v := core.NormalizeValue(spec.Type, values[i])
		if s, ok := v.(string); ok {
			// Blank cells from other writers load as absent.
			v = core.NormalizeValue(spec.Type, strings.TrimSpace(s))
		}
		rec.Fields[spec.Name] = v
		if spec.Name == core.FieldEmail {
			rec.Email = core.FormatValue(v)
		}
	}
	return rec
}

// SourceVersionSQL selects the row count, highest id and latest
// updated_at of def. Together they change on any insert, delete or update
// that goes through an upsert.
func SourceVersionSQL(def core.TableDefinition) string {
	return fmt.Sprintf("SELECT COUNT(*), MAX(%s), MAX(%s) FROM %s",
		QuoteIdentifier(ColumnID), QuoteIdentifier(ColumnUpdatedAt), QuoteIdentifier(def.Info.Key))
}

// FormatSourceVersion renders a SourceVersionSQL row.
func FormatSourceVersion(count int64, maxID, maxUpdated any) string {
	if t, ok := maxUpdated.(time.Time); ok {
		maxUpdated = t.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%d/%v/%v", count, maxID, maxUpdated)
}

// EmailBatchSize bounds the IN list of one ExistingEmailsSQL statement.
const EmailBatchSize = 500

// ExistingEmailsSQL selects the normalized emails of def matching n bound
// normalized values.
func ExistingEmailsSQL(d Dialect, def core.TableDefinition, n int) string {
	phs := make([]string, n)
	for i := range phs {
		phs[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IN (%s)",
		NormalizedEmailExpr, QuoteIdentifier(def.Info.Key),
		NormalizedEmailExpr, strings.Join(phs, ", "))
}

// EmailBatches splits emails into chunks of at most EmailBatchSize.
func EmailBatches(emails []string) [][]any {
	var out [][]any
	for start := 0; start < len(emails); start += EmailBatchSize {
		end := min(start+EmailBatchSize, len(emails))
		batch := make([]any, 0, end-start)
		for _, e := range emails[start:end] {
			batch = append(batch, e)
		}
		out = append(out, batch)
	}
	return out
}
