package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/prospects/internal/core"
)

// System columns every source table carries besides its field specs.
const (
	ColumnID        = "id"
	ColumnCreatedAt = "created_at"
	ColumnUpdatedAt = "updated_at"
)

// NormalizedEmailExpr is the upsert key: the email column trimmed and
// lowercased the way core.NormalizeEmail does.
var NormalizedEmailExpr = "LOWER(TRIM(" + QuoteIdentifier(core.FieldEmail) + "))"

// CreateTableSQL returns the DDL for a source collection. Email is unique
// as written; EmailIndexSQL indexes the normalized upsert key.
func CreateTableSQL(d Dialect, def core.TableDefinition) string {
	cols := []string{d.IDColumn}
	for _, spec := range def.FieldSpecs {
		col := QuoteIdentifier(spec.Name) + " " + d.ColumnType(spec.Type)
		if spec.Name == core.FieldEmail {
			col += " NOT NULL UNIQUE"
		}
		cols = append(cols, col)
	}
	cols = append(cols,
		fmt.Sprintf("%s %s NOT NULL", ColumnCreatedAt, d.Timestamp),
		fmt.Sprintf("%s %s NOT NULL", ColumnUpdatedAt, d.Timestamp),
	)
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)",
		QuoteIdentifier(def.Info.Key), strings.Join(cols, ",\n\t"))
}

// EmailIndexSQL returns the index on the normalized email of a source
// collection. It is not unique: rows written by other ingestion paths may
// differ only in case and the merge already accepts several records per
// email.
func EmailIndexSQL(def core.TableDefinition) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		QuoteIdentifier("idx_"+def.Info.Key+"_email_norm"), QuoteIdentifier(def.Info.Key), NormalizedEmailExpr)
}

// SystemTablesSQL returns the DDL for column configs, mapping templates
// and the import audit log.
func SystemTablesSQL(d Dialect) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS table_configs (
	user_id TEXT NOT NULL,
	table_name TEXT NOT NULL,
	config %s NOT NULL,
	updated_at %s NOT NULL,
	PRIMARY KEY (user_id, table_name)
)`, d.JSON, d.Timestamp),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS mapping_templates (
	id TEXT PRIMARY KEY,
	table_name TEXT NOT NULL,
	name TEXT NOT NULL,
	headers %s NOT NULL,
	mapping %s NOT NULL,
	created_at %s NOT NULL
)`, d.JSON, d.JSON, d.Timestamp),
		`CREATE INDEX IF NOT EXISTS idx_mapping_templates_table ON mapping_templates (table_name, created_at)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS import_audit (
	id TEXT PRIMARY KEY,
	action TEXT NOT NULL,
	severity TEXT NOT NULL,
	table_name TEXT NOT NULL,
	user_id TEXT,
	ip_address TEXT,
	user_agent TEXT,
	import_id TEXT,
	file_name TEXT,
	total_rows INTEGER NOT NULL DEFAULT 0,
	success_rows INTEGER NOT NULL DEFAULT 0,
	failed_rows INTEGER NOT NULL DEFAULT 0,
	reason TEXT,
	started_at %s NOT NULL,
	finished_at %s NOT NULL
)`, d.Timestamp, d.Timestamp),
	}
}

// SourceTables returns the registered source collections.
func SourceTables() []core.TableDefinition {
	return core.ByKind(core.KindSource)
}

// Shared statements, written with "?" and passed through Dialect.Rebind.
const (
	sqlGetConfig = `SELECT config FROM table_configs WHERE user_id = ? AND table_name = ?`

	sqlUpsertConfig = `INSERT INTO table_configs (user_id, table_name, config, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (user_id, table_name) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at`

	sqlDeleteConfig = `DELETE FROM table_configs WHERE user_id = ? AND table_name = ?`

	sqlInsertTemplate = `INSERT INTO mapping_templates (id, table_name, name, headers, mapping, created_at)
VALUES (?, ?, ?, ?, ?, ?)`

	sqlListTemplates = `SELECT id, table_name, name, headers, mapping, created_at
FROM mapping_templates WHERE table_name = ? ORDER BY created_at DESC, id`

	sqlInsertAudit = `INSERT INTO import_audit (id, action, severity, table_name, user_id, ip_address, user_agent,
	import_id, file_name, total_rows, success_rows, failed_rows, reason, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// Statements returns the shared statements bound for d.
type Statements struct {
	GetConfig      string
	UpsertConfig   string
	DeleteConfig   string
	InsertTemplate string
	ListTemplates  string
	InsertAudit    string
}

// StatementsFor rebinds the shared statements for d.
func StatementsFor(d Dialect) Statements {
	return Statements{
		GetConfig:      d.Rebind(sqlGetConfig),
		UpsertConfig:   d.Rebind(sqlUpsertConfig),
		DeleteConfig:   d.Rebind(sqlDeleteConfig),
		InsertTemplate: d.Rebind(sqlInsertTemplate),
		ListTemplates:  d.Rebind(sqlListTemplates),
		InsertAudit:    d.Rebind(sqlInsertAudit),
	}
}

// AuditArgs returns the insert arguments for e in sqlInsertAudit order.
func AuditArgs(e core.AuditEntry, ts func(t time.Time) any) []any {
	return []any{
		e.ID, string(e.Action), string(e.Severity), e.TableKey,
		nullString(e.UserID), nullString(e.IPAddress), nullString(e.UserAgent),
		nullString(e.ImportID), nullString(e.FileName),
		e.TotalRows, e.SuccessRows, e.FailedRows,
		nullString(e.Reason), ts(e.StartedAt), ts(e.FinishedAt),
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
