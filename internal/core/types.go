package core

import (
	"strings"
)

// FieldType represents the expected data type of a column.
type FieldType int

const (
	FieldText FieldType = iota
	FieldEnum
	FieldDate
	FieldNumeric
	FieldBool
)

// String returns the lowercase name used in JSON payloads.
func (t FieldType) String() string {
	switch t {
	case FieldEnum:
		return "enum"
	case FieldDate:
		return "date"
	case FieldNumeric:
		return "numeric"
	case FieldBool:
		return "bool"
	default:
		return "text"
	}
}

// MarshalText lets FieldType render as its name in JSON.
func (t FieldType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// FieldSpec describes one column of a table.
type FieldSpec struct {
	Name       string              // Row key and database column, snake_case
	Label      string              // Display name
	Type       FieldType           // Expected data type
	Category   string              // Column picker grouping: "identity", "company", ...
	Searchable bool                // Included in free-text search
	Pinned     bool                // Cannot be hidden or reordered
	Hidden     bool                // Not visible in the default column config
	EnumValues []string            // Valid values for FieldEnum type
	Aliases    []string            // Extra normalized headers that map to this field on import
	Normalizer func(string) string // Optional transformation applied to imported cells
}

// DisplayLabel returns Label, falling back to Name.
func (f FieldSpec) DisplayLabel() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

// TableKind distinguishes writable source collections from derived views.
type TableKind string

const (
	KindSource  TableKind = "source"
	KindUnified TableKind = "unified"
)

// TableInfo contains display information about a table.
type TableInfo struct {
	Key    string    `json:"key"`    // Unique identifier: "crm_contacts"
	Group  string    `json:"group"`  // Column in the table list: "Sources", "Unified"
	Label  string    `json:"label"`  // Display name: "CRM Contacts"
	Kind   TableKind `json:"kind"`   // Source collection or derived view
	Source string    `json:"source"` // Source name for KindSource tables
}

// TableDefinition contains everything needed to query, import into and
// export from a table.
type TableDefinition struct {
	Info       TableInfo
	FieldSpecs []FieldSpec
}

// Field returns the spec for a column name (case-insensitive).
func (t TableDefinition) Field(name string) (FieldSpec, bool) {
	for _, spec := range t.FieldSpecs {
		if strings.EqualFold(spec.Name, name) {
			return spec, true
		}
	}
	return FieldSpec{}, false
}

// Columns returns the column names in declaration order.
func (t TableDefinition) Columns() []string {
	cols := make([]string, len(t.FieldSpecs))
	for i, spec := range t.FieldSpecs {
		cols[i] = spec.Name
	}
	return cols
}

// SearchableFields returns the columns included in free-text search.
func (t TableDefinition) SearchableFields() []FieldSpec {
	var out []FieldSpec
	for _, spec := range t.FieldSpecs {
		if spec.Searchable {
			out = append(out, spec)
		}
	}
	return out
}

// Writable reports whether imports may target this table.
func (t TableDefinition) Writable() bool {
	return t.Info.Kind == KindSource
}

// TableRow represents a single row of data as key-value pairs.
type TableRow map[string]any

// FilterOperator represents a comparison operator for column filters.
type FilterOperator string

const (
	OpContains   FilterOperator = "contains"
	OpEquals     FilterOperator = "eq"
	OpStartsWith FilterOperator = "starts"
	OpEndsWith   FilterOperator = "ends"
	OpGreaterEq  FilterOperator = "gte"
	OpLessEq     FilterOperator = "lte"
	OpGreater    FilterOperator = "gt"
	OpLess       FilterOperator = "lt"
	OpIn         FilterOperator = "in"
)

// ValidOperator reports whether op can be applied to a column of type ft.
func ValidOperator(op FilterOperator, ft FieldType) bool {
	switch ft {
	case FieldText:
		switch op {
		case OpContains, OpEquals, OpStartsWith, OpEndsWith, OpIn:
			return true
		}
	case FieldNumeric:
		switch op {
		case OpEquals, OpGreaterEq, OpLessEq, OpGreater, OpLess, OpIn:
			return true
		}
	case FieldDate:
		switch op {
		case OpEquals, OpGreaterEq, OpLessEq, OpGreater, OpLess:
			return true
		}
	case FieldBool:
		return op == OpEquals
	case FieldEnum:
		switch op {
		case OpEquals, OpIn, OpContains:
			return true
		}
	}
	return false
}

// ColumnFilter represents a single filter condition on a column.
type ColumnFilter struct {
	Column   string         `json:"column"`
	Operator FilterOperator `json:"op"`
	Value    string         `json:"value"` // comma-separated for OpIn
}

// GroupFilter is a tool-group filter: its conditions are OR'd together and
// the group as a whole is AND'd with every other filter.
type GroupFilter struct {
	Name       string         `json:"name"`
	Conditions []ColumnFilter `json:"conditions"`
}

// DateRange restricts a date column to [From, To], both inclusive.
// Either bound may be empty. Bounds use YYYY-MM-DD.
type DateRange struct {
	Column string `json:"column"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
}

// FilterSet represents all active filters (combined with AND logic).
type FilterSet struct {
	Columns []ColumnFilter `json:"columns,omitempty"`
	Groups  []GroupFilter  `json:"groups,omitempty"`
	Dates   []DateRange    `json:"dates,omitempty"`
}

// IsEmpty reports whether no filter is active.
func (f FilterSet) IsEmpty() bool {
	return len(f.Columns) == 0 && len(f.Groups) == 0 && len(f.Dates) == 0
}

// ActiveFilters flattens the set into "key -> op:value" form for display.
func (f FilterSet) ActiveFilters() map[string]string {
	out := make(map[string]string, len(f.Columns)+len(f.Groups)+len(f.Dates))
	for _, c := range f.Columns {
		out[c.Column] = string(c.Operator) + ":" + c.Value
	}
	for _, g := range f.Groups {
		parts := make([]string, len(g.Conditions))
		for i, c := range g.Conditions {
			parts[i] = c.Column + ":" + string(c.Operator) + ":" + c.Value
		}
		out["group:"+g.Name] = strings.Join(parts, "|")
	}
	for _, d := range f.Dates {
		out["date:"+d.Column] = d.From + ".." + d.To
	}
	return out
}

func (f FilterSet) clone() FilterSet {
	out := FilterSet{
		Columns: append([]ColumnFilter(nil), f.Columns...),
		Dates:   append([]DateRange(nil), f.Dates...),
	}
	if len(f.Groups) > 0 {
		out.Groups = make([]GroupFilter, len(f.Groups))
		for i, g := range f.Groups {
			out.Groups[i] = GroupFilter{
				Name:       g.Name,
				Conditions: append([]ColumnFilter(nil), g.Conditions...),
			}
		}
	}
	return out
}
