package core

import (
	"fmt"
	"sort"
)

// SourceDefinition declares one external contact system: the table holding
// its raw records, how its native columns map onto canonical fields, and its
// merge priority (lower rank wins).
type SourceDefinition struct {
	Name              string            `yaml:"name" json:"name"`
	Label             string            `yaml:"label" json:"label"`
	Table             string            `yaml:"table" json:"table"`
	PriorityRank      int               `yaml:"priority" json:"priority"`
	CanonicalFieldMap map[string]string `yaml:"fields" json:"fields"` // native column -> canonical field
}

// Canonical returns the canonical field a native column maps to.
func (d SourceDefinition) Canonical(native string) (string, bool) {
	c, ok := d.CanonicalFieldMap[native]
	return c, ok
}

// NativeFor returns the native column that supplies a canonical field.
func (d SourceDefinition) NativeFor(canonical string) (string, bool) {
	for native, c := range d.CanonicalFieldMap {
		if c == canonical {
			return native, true
		}
	}
	return "", false
}

// SourceRegistry is the validated, immutable set of sources.
type SourceRegistry struct {
	byName  map[string]SourceDefinition
	ordered []SourceDefinition // priority ascending
}

// NewSourceRegistry validates defs and builds a registry. Any problem,
// including two sources sharing a priority rank, is a ConfigurationError;
// no implicit tie-break is ever chosen.
func NewSourceRegistry(defs []SourceDefinition) (*SourceRegistry, error) {
	if len(defs) == 0 {
		return nil, NewConfigurationError("source registry", "no sources defined")
	}

	r := &SourceRegistry{byName: make(map[string]SourceDefinition, len(defs))}
	byRank := make(map[int]string, len(defs))

	for _, def := range defs {
		if def.Name == "" {
			return nil, NewConfigurationError("source registry", "source without name")
		}
		if _, dup := r.byName[def.Name]; dup {
			return nil, NewConfigurationError("source registry", fmt.Sprintf("duplicate source %q", def.Name))
		}
		if other, dup := byRank[def.PriorityRank]; dup {
			return nil, NewConfigurationError("source registry",
				fmt.Sprintf("sources %q and %q share priority rank %d", other, def.Name, def.PriorityRank))
		}
		if err := validateFieldMap(def); err != nil {
			return nil, err
		}

		byRank[def.PriorityRank] = def.Name
		r.byName[def.Name] = copySource(def)
		r.ordered = append(r.ordered, r.byName[def.Name])
	}

	sort.Slice(r.ordered, func(i, j int) bool {
		return r.ordered[i].PriorityRank < r.ordered[j].PriorityRank
	})

	return r, nil
}

func validateFieldMap(def SourceDefinition) error {
	seen := make(map[string]string, len(def.CanonicalFieldMap))
	hasEmail := false
	for native, canonical := range def.CanonicalFieldMap {
		if _, ok := LookupCanonical(canonical); !ok {
			return NewConfigurationError("source "+def.Name,
				fmt.Sprintf("column %q maps to unknown canonical field %q", native, canonical))
		}
		if prev, dup := seen[canonical]; dup {
			return NewConfigurationError("source "+def.Name,
				fmt.Sprintf("columns %q and %q both map to %q", prev, native, canonical))
		}
		seen[canonical] = native
		if canonical == FieldEmail {
			hasEmail = true
		}
	}
	if !hasEmail {
		return NewConfigurationError("source "+def.Name, "no column maps to email")
	}
	return nil
}

func copySource(def SourceDefinition) SourceDefinition {
	m := make(map[string]string, len(def.CanonicalFieldMap))
	for k, v := range def.CanonicalFieldMap {
		m[k] = v
	}
	def.CanonicalFieldMap = m
	return def
}

// CheckTables verifies every source points at a registered source table
// whose columns include every mapped native column.
func (r *SourceRegistry) CheckTables(get func(string) (TableDefinition, bool)) error {
	for _, def := range r.ordered {
		table, ok := get(def.Table)
		if !ok {
			return NewConfigurationError("source "+def.Name, fmt.Sprintf("unknown table %q", def.Table))
		}
		if table.Info.Kind != KindSource {
			return NewConfigurationError("source "+def.Name, fmt.Sprintf("table %q is not a source collection", def.Table))
		}
		// Upserts key on the table's email column, so it must be the one
		// the source maps to the canonical email.
		if native, _ := def.NativeFor(FieldEmail); native != FieldEmail {
			return NewConfigurationError("source "+def.Name,
				fmt.Sprintf("email must come from column %q, not %q", FieldEmail, native))
		}
		for native := range def.CanonicalFieldMap {
			if _, ok := table.Field(native); !ok {
				return NewConfigurationError("source "+def.Name,
					fmt.Sprintf("table %q has no column %q", def.Table, native))
			}
		}
	}
	return nil
}

// ByPriority returns the sources ordered by priority rank, most
// authoritative first.
func (r *SourceRegistry) ByPriority() []SourceDefinition {
	return append([]SourceDefinition(nil), r.ordered...)
}

// Get returns a source by name.
func (r *SourceRegistry) Get(name string) (SourceDefinition, bool) {
	def, ok := r.byName[name]
	return def, ok
}

// ForTable returns the source whose raw records live in table.
func (r *SourceRegistry) ForTable(table string) (SourceDefinition, bool) {
	for _, def := range r.ordered {
		if def.Table == table {
			return def, true
		}
	}
	return SourceDefinition{}, false
}

// Names returns source names in priority order.
func (r *SourceRegistry) Names() []string {
	names := make([]string, len(r.ordered))
	for i, def := range r.ordered {
		names[i] = def.Name
	}
	return names
}

// Len returns the number of sources.
func (r *SourceRegistry) Len() int {
	return len(r.ordered)
}
