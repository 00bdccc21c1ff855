package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Three sources, most authoritative first.
func testSourceDefs() []SourceDefinition {
	return []SourceDefinition{
		{
			Name: "crm", Label: "CRM", Table: "crm_contacts", PriorityRank: 1,
			CanonicalFieldMap: map[string]string{
				"email":          "email",
				"first_name":     "first_name",
				"company":        "company",
				"employee_count": "employee_count",
			},
		},
		{
			Name: "apollo", Label: "Apollo", Table: "apollo_contacts", PriorityRank: 2,
			CanonicalFieldMap: map[string]string{
				"email":        "email",
				"first":        "first_name",
				"organization": "company",
				"job_title":    "title",
				"employees":    "employee_count",
			},
		},
		{
			Name: "marketing", Label: "Marketing", Table: "marketing_contacts", PriorityRank: 3,
			CanonicalFieldMap: map[string]string{
				"email":       "email",
				"fname":       "first_name",
				"lead_status": "lead_status",
			},
		},
	}
}

func testSources(t *testing.T) *SourceRegistry {
	t.Helper()
	reg, err := NewSourceRegistry(testSourceDefs())
	require.NoError(t, err)
	return reg
}

// testContactsDef is a small writable source table.
func testContactsDef() TableDefinition {
	return TableDefinition{
		Info: TableInfo{Key: "crm_contacts", Group: "Sources", Label: "CRM Contacts", Kind: KindSource, Source: "crm"},
		FieldSpecs: []FieldSpec{
			{Name: "email", Label: "Email", Type: FieldText, Searchable: true, Pinned: true, Normalizer: NormalizeEmail},
			{Name: "first_name", Label: "First Name", Type: FieldText, Searchable: true},
			{Name: "company", Label: "Company", Type: FieldText, Searchable: true, Aliases: []string{"account", "organization"}},
			{Name: "employee_count", Label: "Employees", Type: FieldNumeric},
			{Name: "lead_status", Label: "Lead Status", Type: FieldEnum, EnumValues: []string{"new", "working", "qualified"}},
			{Name: "email_opt_out", Label: "Opted Out", Type: FieldBool, Hidden: true},
			{Name: "last_activity_at", Label: "Last Activity", Type: FieldDate},
		},
	}
}

func testUnifiedDef() TableDefinition {
	specs := append([]FieldSpec(nil), CanonicalFields...)
	specs = append(specs,
		FieldSpec{Name: ColumnSources, Label: "Sources", Type: FieldText},
		FieldSpec{Name: ColumnSourceCount, Label: "Source Count", Type: FieldNumeric},
		FieldSpec{Name: ColumnLastUpdated, Label: "Last Updated", Type: FieldDate},
	)
	return TableDefinition{
		Info:       TableInfo{Key: "prospects", Group: "Unified", Label: "Prospects", Kind: KindUnified},
		FieldSpecs: specs,
	}
}

func day(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}
