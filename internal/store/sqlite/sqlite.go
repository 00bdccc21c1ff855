// Package sqlite is the embedded store backend, built on modernc.org/sqlite.
// It needs no external server and backs local runs and tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/prospects/internal/core"
	"github.com/JonMunkholm/prospects/internal/store"
)

func init() {
	store.Register("sqlite", New)
}

// MemoryDSN is a private in-memory database.
const MemoryDSN = ":memory:"

// Store implements store.Backend over database/sql.
//
// SQLite has no native timestamp type; timestamps are stored as RFC3339Nano
// text and dates as YYYY-MM-DD text so both compare correctly as strings.
type Store struct {
	db    *sql.DB
	stmts store.Statements
	up    store.Upserter
}

// New opens cfg.DSN. A single connection is used: SQLite serializes writers
// anyway, and an in-memory database exists only on its own connection.
func New(ctx context.Context, cfg store.Config) (store.Backend, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = MemoryDSN
	}
	if !strings.Contains(dsn, "_pragma") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, core.NewConfigurationError("sqlite", "open: "+err.Error())
	}
	db.SetMaxOpenConns(1)
	if cfg.MaxConnIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.MaxConnIdleTime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, classify("ping", err)
	}

	return &Store{
		db:    db,
		stmts: store.StatementsFor(store.SQLite),
		up: store.Upserter{
			Dialect:     store.SQLite,
			IsTransient: IsBusy,
			Timestamp:   formatTime,
		},
	}, nil
}

// IsBusy reports whether err indicates an SQLite BUSY condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

func classify(op string, err error) error {
	if IsBusy(err) {
		return core.NewTransientIOError(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func formatTime(t time.Time) any {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v any) time.Time {
	switch val := v.(type) {
	case time.Time:
		return val
	case string:
		t, _ := time.Parse(time.RFC3339Nano, val)
		return t
	case []byte:
		t, _ := time.Parse(time.RFC3339Nano, string(val))
		return t
	}
	return time.Time{}
}

// Ping implements core.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Close implements core.Store.
func (s *Store) Close() {
	_ = s.db.Close()
}

// Migrate implements store.Backend.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := store.SystemTablesSQL(store.SQLite)
	for _, def := range store.SourceTables() {
		stmts = append(stmts, store.CreateTableSQL(store.SQLite, def), store.EmailIndexSQL(def))
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return classify("migrate", err)
		}
	}
	return nil
}

// QueryTable implements core.Store.
func (s *Store) QueryTable(ctx context.Context, def core.TableDefinition, q core.CompiledQuery) ([]core.TableRow, int64, error) {
	countSQL, countArgs := store.CountSQL(store.SQLite, def, q)
	var total int64
	if err := s.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, classify("count rows", err)
	}
	if total == 0 {
		return []core.TableRow{}, 0, nil
	}

	selectSQL, args := store.SelectSQL(store.SQLite, def, q, true)
	var out []core.TableRow
	err := s.scanRows(ctx, selectSQL, args, func(values []any) error {
		out = append(out, store.RowFromValues(def, values))
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// StreamTable implements core.Store.
func (s *Store) StreamTable(ctx context.Context, def core.TableDefinition, q core.CompiledQuery, fn func(core.TableRow) error) error {
	selectSQL, args := store.SelectSQL(store.SQLite, def, q, false)
	return s.scanRows(ctx, selectSQL, args, func(values []any) error {
		return fn(store.RowFromValues(def, values))
	})
}

func (s *Store) scanRows(ctx context.Context, query string, args []any, fn func([]any) error) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return classify("query rows", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("read columns: %w", err)
	}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("read row values: %w", err)
		}
		if err := fn(values); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return classify("rows error", err)
	}
	return nil
}

// LoadContacts implements core.Store.
func (s *Store) LoadContacts(ctx context.Context, src core.SourceDefinition, def core.TableDefinition) ([]core.RawContactRecord, error) {
	specs := store.ContactColumns(src, def)
	var out []core.RawContactRecord
	err := s.scanRows(ctx, store.LoadContactsSQL(def, specs), nil, func(values []any) error {
		out = append(out, store.ContactFromValues(src, specs, values[0], parseTime(values[1]), values[2:]))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", def.Info.Key, err)
	}
	return out, nil
}

// SourceVersion implements core.Store.
func (s *Store) SourceVersion(ctx context.Context, def core.TableDefinition) (string, error) {
	var (
		count             int64
		maxID, maxUpdated any
	)
	if err := s.db.QueryRowContext(ctx, store.SourceVersionSQL(def)).Scan(&count, &maxID, &maxUpdated); err != nil {
		return "", classify("source version "+def.Info.Key, err)
	}
	return store.FormatSourceVersion(count, maxID, maxUpdated), nil
}

// ExistingEmails implements core.Store.
func (s *Store) ExistingEmails(ctx context.Context, def core.TableDefinition, emails []string) (map[string]bool, error) {
	found := make(map[string]bool)
	for _, batch := range store.EmailBatches(emails) {
		query := store.ExistingEmailsSQL(store.SQLite, def, len(batch))
		err := s.scanRows(ctx, query, batch, func(values []any) error {
			found[core.FormatValue(values[0])] = true
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("existing emails: %w", err)
		}
	}
	return found, nil
}

// UpsertBatch implements core.Store.
func (s *Store) UpsertBatch(ctx context.Context, def core.TableDefinition, rows []core.ContactUpsert) (core.BatchOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.BatchOutcome{}, classify("begin import", err)
	}
	defer tx.Rollback()

	out, err := s.up.UpsertRows(ctx, sqlTx{tx}, def, rows, time.Now().UTC())
	if err != nil {
		return core.BatchOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return core.BatchOutcome{}, classify("commit import", err)
	}
	return out, nil
}

type sqlTx struct {
	tx *sql.Tx
}

func (t sqlTx) Exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

func (t sqlTx) QueryRow(ctx context.Context, query string, args []any, dest ...any) (bool, error) {
	err := t.tx.QueryRowContext(ctx, query, args...).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// GetTableConfig implements core.ConfigStore.
func (s *Store) GetTableConfig(ctx context.Context, userID, table string) (core.TableConfig, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, s.stmts.GetConfig, userID, table).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return core.TableConfig{}, core.NewNotFoundError("table config", userID+"/"+table)
	}
	if err != nil {
		return core.TableConfig{}, classify("get table config", err)
	}
	var cfg core.TableConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return core.TableConfig{}, fmt.Errorf("decode table config: %w", err)
	}
	return cfg, nil
}

// UpsertTableConfig implements core.ConfigStore.
func (s *Store) UpsertTableConfig(ctx context.Context, cfg core.TableConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode table config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.stmts.UpsertConfig, cfg.UserID, cfg.Table, string(raw), formatTime(cfg.UpdatedAt))
	if err != nil {
		return classify("upsert table config", err)
	}
	return nil
}

// DeleteTableConfig implements core.ConfigStore.
func (s *Store) DeleteTableConfig(ctx context.Context, userID, table string) error {
	if _, err := s.db.ExecContext(ctx, s.stmts.DeleteConfig, userID, table); err != nil {
		return classify("delete table config", err)
	}
	return nil
}

// SaveTemplate implements core.TemplateStore.
func (s *Store) SaveTemplate(ctx context.Context, t core.MappingTemplate) error {
	headers, err := json.Marshal(t.Headers)
	if err != nil {
		return fmt.Errorf("encode template headers: %w", err)
	}
	mapping, err := json.Marshal(t.Mapping)
	if err != nil {
		return fmt.Errorf("encode template mapping: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.stmts.InsertTemplate,
		t.ID, t.Table, t.Name, string(headers), string(mapping), formatTime(t.CreatedAt))
	if err != nil {
		return classify("save template", err)
	}
	return nil
}

// ListTemplates implements core.TemplateStore.
func (s *Store) ListTemplates(ctx context.Context, table string) ([]core.MappingTemplate, error) {
	rows, err := s.db.QueryContext(ctx, s.stmts.ListTemplates, table)
	if err != nil {
		return nil, classify("list templates", err)
	}
	defer rows.Close()

	var out []core.MappingTemplate
	for rows.Next() {
		var (
			t                         core.MappingTemplate
			headers, mapping, created string
		)
		if err := rows.Scan(&t.ID, &t.Table, &t.Name, &headers, &mapping, &created); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		if err := json.Unmarshal([]byte(headers), &t.Headers); err != nil {
			return nil, fmt.Errorf("decode template headers: %w", err)
		}
		if err := json.Unmarshal([]byte(mapping), &t.Mapping); err != nil {
			return nil, fmt.Errorf("decode template mapping: %w", err)
		}
		t.CreatedAt = parseTime(created)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list templates", err)
	}
	return out, nil
}

// RecordAudit implements core.AuditSink.
func (s *Store) RecordAudit(ctx context.Context, e core.AuditEntry) error {
	args := store.AuditArgs(e, formatTime)
	if _, err := s.db.ExecContext(ctx, s.stmts.InsertAudit, args...); err != nil {
		return classify("record audit", err)
	}
	return nil
}

// AuditCount returns the number of audit rows for table, for tests and
// the CLI.
func (s *Store) AuditCount(ctx context.Context, table string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM import_audit WHERE table_name = ?`, table).Scan(&n)
	if err != nil {
		return 0, classify("count audit", err)
	}
	return n, nil
}
