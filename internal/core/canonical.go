package core

// FieldEmail is the canonical identity field. Every source maps one of its
// columns onto it and every unified prospect is keyed by it.
const FieldEmail = "email"

// CanonicalFields is the field set of a unified prospect, in display order.
// Source definitions map their native columns onto these names.
var CanonicalFields = []FieldSpec{
	{Name: FieldEmail, Label: "Email", Type: FieldText, Category: "identity", Searchable: true, Pinned: true},
	{Name: "first_name", Label: "First Name", Type: FieldText, Category: "identity", Searchable: true},
	{Name: "last_name", Label: "Last Name", Type: FieldText, Category: "identity", Searchable: true},
	{Name: "company", Label: "Company", Type: FieldText, Category: "company", Searchable: true},
	{Name: "title", Label: "Title", Type: FieldText, Category: "identity", Searchable: true},
	{Name: "phone", Label: "Phone", Type: FieldText, Category: "contact"},
	{Name: "linkedin_url", Label: "LinkedIn", Type: FieldText, Category: "contact", Hidden: true},
	{Name: "city", Label: "City", Type: FieldText, Category: "location", Hidden: true},
	{Name: "state", Label: "State", Type: FieldText, Category: "location"},
	{Name: "country", Label: "Country", Type: FieldText, Category: "location"},
	{Name: "industry", Label: "Industry", Type: FieldText, Category: "company", Searchable: true},
	{Name: "employee_count", Label: "Employees", Type: FieldNumeric, Category: "company"},
	{Name: "lead_status", Label: "Lead Status", Type: FieldEnum, Category: "pipeline",
		EnumValues: []string{"new", "working", "nurturing", "qualified", "unqualified"}},
	{Name: "lifecycle_stage", Label: "Lifecycle Stage", Type: FieldEnum, Category: "pipeline",
		EnumValues: []string{"subscriber", "lead", "mql", "sql", "opportunity", "customer"}},
	{Name: "email_opt_out", Label: "Opted Out", Type: FieldBool, Category: "pipeline", Hidden: true},
	{Name: "last_activity_at", Label: "Last Activity", Type: FieldDate, Category: "pipeline"},
}

// LookupCanonical returns the canonical spec for name.
func LookupCanonical(name string) (FieldSpec, bool) {
	for _, spec := range CanonicalFields {
		if spec.Name == name {
			return spec, true
		}
	}
	return FieldSpec{}, false
}
