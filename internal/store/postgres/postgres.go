// Package postgres is the PostgreSQL store backend, built on pgxpool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/prospects/internal/core"
	"github.com/JonMunkholm/prospects/internal/store"
)

func init() {
	store.Register("postgres", New)
}

// Store implements store.Backend over a pgx pool.
type Store struct {
	pool  *pgxpool.Pool
	stmts store.Statements
	up    store.Upserter
}

// New parses cfg.DSN, applies the pool settings and connects.
func New(ctx context.Context, cfg store.Config) (store.Backend, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, core.NewConfigurationError("postgres", "parse database URL: "+err.Error())
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify("ping", err)
	}
	return NewWithPool(pool), nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:  pool,
		stmts: store.StatementsFor(store.Postgres),
		up: store.Upserter{
			Dialect:     store.Postgres,
			IsTransient: IsTransient,
			Timestamp:   func(t time.Time) any { return t },
		},
	}
}

// IsTransient reports whether err is a connection loss, an admin shutdown,
// a serialization failure, a deadlock or a timeout.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "57P01", "57P02", "57P03", "40001", "40P01", "53300":
			return true
		}
		return strings.HasPrefix(pgErr.Code, "08")
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// classify wraps transient failures as core.TransientIOError.
func classify(op string, err error) error {
	if IsTransient(err) {
		return core.NewTransientIOError(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Ping implements core.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Close implements core.Store.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate implements store.Backend.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := store.SystemTablesSQL(store.Postgres)
	for _, def := range store.SourceTables() {
		stmts = append(stmts, store.CreateTableSQL(store.Postgres, def), store.EmailIndexSQL(def))
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return classify("migrate", err)
		}
	}
	return nil
}

// QueryTable implements core.Store.
func (s *Store) QueryTable(ctx context.Context, def core.TableDefinition, q core.CompiledQuery) ([]core.TableRow, int64, error) {
	countSQL, countArgs := store.CountSQL(store.Postgres, def, q)
	var total int64
	if err := s.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, classify("count rows", err)
	}
	if total == 0 {
		return []core.TableRow{}, 0, nil
	}

	selectSQL, args := store.SelectSQL(store.Postgres, def, q, true)
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
	selectSQL, args := store.SelectSQL(store.Postgres, def, q, false)
	return s.scanRows(ctx, selectSQL, args, func(values []any) error {
		return fn(store.RowFromValues(def, values))
	})
}

func (s *Store) scanRows(ctx context.Context, query string, args []any, fn func([]any) error) error {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return classify("query rows", err)
	}
	defer rows.Close()

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
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
		updated, _ := values[1].(time.Time)
		out = append(out, store.ContactFromValues(src, specs, values[0], updated, values[2:]))
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
	if err := s.pool.QueryRow(ctx, store.SourceVersionSQL(def)).Scan(&count, &maxID, &maxUpdated); err != nil {
		return "", classify("source version "+def.Info.Key, err)
	}
	return store.FormatSourceVersion(count, maxID, maxUpdated), nil
}

// ExistingEmails implements core.Store.
func (s *Store) ExistingEmails(ctx context.Context, def core.TableDefinition, emails []string) (map[string]bool, error) {
	found := make(map[string]bool)
	for _, batch := range store.EmailBatches(emails) {
		query := store.ExistingEmailsSQL(store.Postgres, def, len(batch))
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
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.BatchOutcome{}, classify("begin import", err)
	}
	defer tx.Rollback(ctx)

	out, err := s.up.UpsertRows(ctx, pgTx{tx}, def, rows, time.Now().UTC())
	if err != nil {
		return core.BatchOutcome{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return core.BatchOutcome{}, classify("commit import", err)
	}
	return out, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t pgTx) Exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.Exec(ctx, query, args...)
	return err
}

func (t pgTx) QueryRow(ctx context.Context, query string, args []any, dest ...any) (bool, error) {
	err := t.tx.QueryRow(ctx, query, args...).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// GetTableConfig implements core.ConfigStore.
func (s *Store) GetTableConfig(ctx context.Context, userID, table string) (core.TableConfig, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, s.stmts.GetConfig, userID, table).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.TableConfig{}, core.NewNotFoundError("table config", userID+"/"+table)
	}
	if err != nil {
		return core.TableConfig{}, classify("get table config", err)
	}
	var cfg core.TableConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
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
	if _, err := s.pool.Exec(ctx, s.stmts.UpsertConfig, cfg.UserID, cfg.Table, raw, cfg.UpdatedAt); err != nil {
		return classify("upsert table config", err)
	}
	return nil
}

// DeleteTableConfig implements core.ConfigStore.
func (s *Store) DeleteTableConfig(ctx context.Context, userID, table string) error {
	if _, err := s.pool.Exec(ctx, s.stmts.DeleteConfig, userID, table); err != nil {
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
	if _, err := s.pool.Exec(ctx, s.stmts.InsertTemplate, t.ID, t.Table, t.Name, headers, mapping, t.CreatedAt); err != nil {
		return classify("save template", err)
	}
	return nil
}

// ListTemplates implements core.TemplateStore.
func (s *Store) ListTemplates(ctx context.Context, table string) ([]core.MappingTemplate, error) {
	rows, err := s.pool.Query(ctx, s.stmts.ListTemplates, table)
	if err != nil {
		return nil, classify("list templates", err)
	}
	defer rows.Close()

	var out []core.MappingTemplate
	for rows.Next() {
		var (
			t                core.MappingTemplate
			headers, mapping []byte
		)
		if err := rows.Scan(&t.ID, &t.Table, &t.Name, &headers, &mapping, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		if err := json.Unmarshal(headers, &t.Headers); err != nil {
			return nil, fmt.Errorf("decode template headers: %w", err)
		}
		if err := json.Unmarshal(mapping, &t.Mapping); err != nil {
			return nil, fmt.Errorf("decode template mapping: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list templates", err)
	}
	return out, nil
}

// RecordAudit implements core.AuditSink.
func (s *Store) RecordAudit(ctx context.Context, e core.AuditEntry) error {
	args := store.AuditArgs(e, func(t time.Time) any { return t })
	if _, err := s.pool.Exec(ctx, s.stmts.InsertAudit, args...); err != nil {
		return classify("record audit", err)
	}
	return nil
}
