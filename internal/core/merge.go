package core

import (
	"sort"
	"strings"
	"time"
)

// RawContactRecord is one row from a source collection, keyed by native
// column names.
type RawContactRecord struct {
	Source    string
	RecordID  string
	Email     string
	Fields    map[string]any
	UpdatedAt time.Time // zero when the source does not track it
}

// UnifiedProspect is the merged, read-time view of every raw record that
// shares a normalized email. It is never written directly.
type UnifiedProspect struct {
	Email       string            `json:"email"`
	Fields      map[string]any    `json:"fields"`
	Sources     map[string]bool   `json:"sources"`
	SourceCount int               `json:"source_count"`
	LastUpdated time.Time         `json:"last_updated"`
	Provenance  map[string]string `json:"provenance,omitempty"` // canonical field -> winning source
}

// Unified view columns that do not come from a canonical field.
const (
	ColumnSources     = "sources"
	ColumnSourceCount = "source_count"
	ColumnLastUpdated = "last_updated"
)

// Row flattens the prospect for the query engine.
func (p UnifiedProspect) Row() TableRow {
	row := make(TableRow, len(p.Fields)+3)
	for k, v := range p.Fields {
		row[k] = v
	}
	row[FieldEmail] = p.Email

	names := make([]string, 0, len(p.Sources))
	for name, ok := range p.Sources {
		if ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	row[ColumnSources] = strings.Join(names, ", ")
	row[ColumnSourceCount] = float64(p.SourceCount)
	if p.LastUpdated.IsZero() {
		row[ColumnLastUpdated] = nil
	} else {
		row[ColumnLastUpdated] = p.LastUpdated.UTC().Format(dateLayout)
	}
	return row
}

// IsPresent reports whether a field value counts during merge. Nil and
// the empty string are absent; numeric zero and false are present. Stores
// trim text when loading records, so blank cells arrive as nil.
func IsPresent(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case *string:
		return val != nil && *val != ""
	case *float64:
		return val != nil
	case *int64:
		return val != nil
	case *bool:
		return val != nil
	case time.Time:
		return !val.IsZero()
	case *time.Time:
		return val != nil && !val.IsZero()
	case []byte:
		return len(val) > 0
	default:
		return true
	}
}

// Merge groups records by normalized email and resolves each canonical field
// to the first present value in source priority order.
//
// The result is sorted by email and does not depend on the order of records.
// Records whose source is not registered, or whose email normalizes to the
// empty string, are skipped.
func Merge(sources *SourceRegistry, records []RawContactRecord) []UnifiedProspect {
	ordered := sources.ByPriority()

	groups := make(map[string]map[string][]RawContactRecord)
	for _, rec := range records {
		if _, ok := sources.Get(rec.Source); !ok {
			continue
		}
		email := NormalizeEmail(rec.Email)
		if email == "" {
			continue
		}
		bySource, ok := groups[email]
		if !ok {
			bySource = make(map[string][]RawContactRecord)
			groups[email] = bySource
		}
		bySource[rec.Source] = append(bySource[rec.Source], rec)
	}

	out := make([]UnifiedProspect, 0, len(groups))
	for email, bySource := range groups {
		out = append(out, mergeGroup(email, ordered, bySource))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Email < out[j].Email
	})
	return out
}

func mergeGroup(email string, ordered []SourceDefinition, bySource map[string][]RawContactRecord) UnifiedProspect {
	p := UnifiedProspect{
		Email:      email,
		Fields:     make(map[string]any, len(CanonicalFields)),
		Sources:    make(map[string]bool, len(bySource)),
		Provenance: make(map[string]string, len(CanonicalFields)),
	}

	for name, recs := range bySource {
		sortWithinSource(recs)
		p.Sources[name] = true
		for _, rec := range recs {
			if rec.UpdatedAt.After(p.LastUpdated) {
				p.LastUpdated = rec.UpdatedAt
			}
		}
	}
	p.SourceCount = len(p.Sources)

	for _, field := range CanonicalFields {
		if field.Name == FieldEmail {
			continue
		}
		for _, src := range ordered {
			native, ok := src.NativeFor(field.Name)
			if !ok {
				continue
			}
			if v, found := firstPresent(bySource[src.Name], native); found {
				p.Fields[field.Name] = v
				p.Provenance[field.Name] = src.Name
				break
			}
		}
	}

	p.Fields[FieldEmail] = email
	return p
}

// sortWithinSource orders several records of one source under one email:
// most recently updated first, then by record id.
func sortWithinSource(recs []RawContactRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].UpdatedAt.Equal(recs[j].UpdatedAt) {
			return recs[i].UpdatedAt.After(recs[j].UpdatedAt)
		}
		return recs[i].RecordID < recs[j].RecordID
	})
}

func firstPresent(recs []RawContactRecord, native string) (any, bool) {
	for _, rec := range recs {
		if v := rec.Fields[native]; IsPresent(v) {
			return v, true
		}
	}
	return nil, false
}
