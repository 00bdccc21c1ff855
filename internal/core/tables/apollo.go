package tables

import "github.com/JonMunkholm/prospects/internal/core"

func init() {
	registerApolloContacts()
}

// Enrichment provider export: person and organization attributes.
func registerApolloContacts() {
	core.Register(core.TableDefinition{
		Info: core.TableInfo{
			Key:    "apollo_contacts",
			Group:  GroupSources,
			Label:  "Apollo Contacts",
			Kind:   core.KindSource,
			Source: "apollo",
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "email", Label: "Email", Type: core.FieldText, Category: "identity", Searchable: true, Pinned: true},
			{Name: "first_name", Label: "First Name", Type: core.FieldText, Category: "identity", Searchable: true},
			{Name: "last_name", Label: "Last Name", Type: core.FieldText, Category: "identity", Searchable: true},
			{Name: "title", Label: "Title", Type: core.FieldText, Category: "identity", Searchable: true},
			{Name: "organization_name", Label: "Organization", Type: core.FieldText, Category: "company", Searchable: true},
			{Name: "organization_industry", Label: "Industry", Type: core.FieldText, Category: "company", Searchable: true},
			{Name: "num_employees", Label: "Employees", Type: core.FieldNumeric, Category: "company"},
			{Name: "mobile_phone", Label: "Mobile", Type: core.FieldText, Category: "contact", Normalizer: NormalizePhone},
			{Name: "linkedin_url", Label: "LinkedIn", Type: core.FieldText, Category: "contact", Normalizer: NormalizeURL},
			{Name: "city", Label: "City", Type: core.FieldText, Category: "location"},
			{Name: "state", Label: "State", Type: core.FieldText, Category: "location", Normalizer: NormalizeUsState},
			{Name: "country", Label: "Country", Type: core.FieldText, Category: "location", Normalizer: NormalizeCountry},
		},
	})
}
