// Package tables registers all table definitions with the core registry.
// Import this package to ensure all tables are registered.
package tables

// Groups shown in the table list.
const (
	GroupSources = "Sources"
	GroupUnified = "Unified"
)
