package tables

import "github.com/JonMunkholm/prospects/internal/core"

func init() {
	registerCrmContacts()
}

// CRM export: account-centric naming, US mailing addresses.
func registerCrmContacts() {
	core.Register(core.TableDefinition{
		Info: core.TableInfo{
			Key:    "crm_contacts",
			Group:  GroupSources,
			Label:  "CRM Contacts",
			Kind:   core.KindSource,
			Source: "crm",
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "email", Label: "Email", Type: core.FieldText, Category: "identity", Searchable: true, Pinned: true},
			{Name: "first_name", Label: "First Name", Type: core.FieldText, Category: "identity", Searchable: true},
			{Name: "last_name", Label: "Last Name", Type: core.FieldText, Category: "identity", Searchable: true},
			{Name: "account_name", Label: "Account", Type: core.FieldText, Category: "company", Searchable: true},
			{Name: "job_title", Label: "Job Title", Type: core.FieldText, Category: "identity", Searchable: true},
			{Name: "phone", Label: "Phone", Type: core.FieldText, Category: "contact", Normalizer: NormalizePhone},
			{Name: "mailing_city", Label: "City", Type: core.FieldText, Category: "location", Hidden: true},
			{Name: "mailing_state", Label: "State", Type: core.FieldText, Category: "location", Normalizer: NormalizeUsState},
			{Name: "mailing_country", Label: "Country", Type: core.FieldText, Category: "location", Normalizer: NormalizeCountry},
			{Name: "industry", Label: "Industry", Type: core.FieldText, Category: "company"},
			{Name: "lead_status", Label: "Lead Status", Type: core.FieldEnum, Category: "pipeline",
				EnumValues: []string{"new", "working", "nurturing", "qualified", "unqualified"}},
			{Name: "email_opt_out", Label: "Opted Out", Type: core.FieldBool, Category: "pipeline", Hidden: true},
			{Name: "last_activity_date", Label: "Last Activity", Type: core.FieldDate, Category: "pipeline"},
		},
	})
}
