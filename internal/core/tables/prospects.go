package tables

import "github.com/JonMunkholm/prospects/internal/core"

// ProspectsTable is the key of the unified view.
const ProspectsTable = "prospects"

func init() {
	registerProspects()
}

// The unified view: every canonical field plus merge bookkeeping. It is
// derived from the source tables and never written.
func registerProspects() {
	specs := append([]core.FieldSpec(nil), core.CanonicalFields...)
	specs = append(specs,
		core.FieldSpec{Name: core.ColumnSources, Label: "Sources", Type: core.FieldText, Category: "merge", Searchable: true},
		core.FieldSpec{Name: core.ColumnSourceCount, Label: "# Sources", Type: core.FieldNumeric, Category: "merge"},
		core.FieldSpec{Name: core.ColumnLastUpdated, Label: "Last Updated", Type: core.FieldDate, Category: "merge"},
	)

	core.Register(core.TableDefinition{
		Info: core.TableInfo{
			Key:   ProspectsTable,
			Group: GroupUnified,
			Label: "Prospects",
			Kind:  core.KindUnified,
		},
		FieldSpecs: specs,
	})
}
