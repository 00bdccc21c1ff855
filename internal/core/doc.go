// Package core reconciles contact records from several external systems into
// one prospect view and exposes every table through a single paginated,
// sortable, filterable interface.
//
// The package holds all domain logic independent of any transport or
// database. It can be used by web handlers, the CLI, or tests without
// modification.
//
// # Architecture
//
//   - Table Definitions: registered at init time via [Register]. Source
//     collections are writable; the unified prospects view is derived.
//   - Sources: a [SourceRegistry] maps each source's native columns onto the
//     canonical fields and ranks sources for conflict resolution.
//   - Merge: [Merge] groups raw records by normalized email and takes each
//     field from the highest-priority source that has a value.
//   - Query: a [ViewState] snapshot is compiled into a [CompiledQuery] that
//     stores push down to SQL and [QueryRows] evaluates in memory.
//   - Import: an [ImportJob] walks Upload, Preview, ColumnMapping and Confirm,
//     then upserts rows by email.
//   - Service: [Service] is the entry point for all of the above.
//
// # Table Registry
//
//	core.Register(core.TableDefinition{
//	    Info: core.TableInfo{Key: "crm_contacts", Group: "Sources", Label: "CRM", Kind: core.KindSource},
//	    FieldSpecs: []core.FieldSpec{
//	        {Name: "email", Type: core.FieldText, Pinned: true, Searchable: true},
//	        {Name: "account_name", Label: "Account", Type: core.FieldText},
//	    },
//	})
//
// # Errors
//
// Domain failures fall into four classes, each with a sentinel usable with
// errors.Is: [ErrValidation], [ErrConfiguration], [ErrTransientIO] and
// [ErrNotFound]. [MapError] turns any error into a [UserMessage] with a
// stable code for display.
//
// # Concurrency
//
// Overlapping queries for one view are ordered with a [Sequencer]; only the
// newest response is applied. Confirms are bounded by an [ImportLimiter] and
// retried as a whole batch on transient store failures.
package core
