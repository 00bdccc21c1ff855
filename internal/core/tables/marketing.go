package tables

import "github.com/JonMunkholm/prospects/internal/core"

func init() {
	registerMarketingContacts()
}

// Marketing automation export: lifecycle and engagement.
func registerMarketingContacts() {
	core.Register(core.TableDefinition{
		Info: core.TableInfo{
			Key:    "marketing_contacts",
			Group:  GroupSources,
			Label:  "Marketing Contacts",
			Kind:   core.KindSource,
			Source: "marketing",
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "email", Label: "Email", Type: core.FieldText, Category: "identity", Searchable: true, Pinned: true},
			{Name: "first_name", Label: "First Name", Type: core.FieldText, Category: "identity", Searchable: true},
			{Name: "last_name", Label: "Last Name", Type: core.FieldText, Category: "identity", Searchable: true},
			{Name: "company", Label: "Company", Type: core.FieldText, Category: "company", Searchable: true},
			{Name: "country", Label: "Country", Type: core.FieldText, Category: "location", Normalizer: NormalizeCountry},
			{Name: "lifecycle_stage", Label: "Lifecycle Stage", Type: core.FieldEnum, Category: "pipeline",
				EnumValues: []string{"subscriber", "lead", "mql", "sql", "opportunity", "customer"}},
			{Name: "unsubscribed", Label: "Unsubscribed", Type: core.FieldBool, Category: "pipeline"},
			{Name: "last_engaged_at", Label: "Last Engaged", Type: core.FieldDate, Category: "pipeline"},
		},
	})
}
