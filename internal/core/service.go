package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultImportTimeout bounds a single confirm run.
var DefaultImportTimeout = 10 * time.Minute

// DefaultMaxPageSize caps the page size a caller may request.
const DefaultMaxPageSize = 500

// BatchOutcome is what a store reports for one upsert batch.
type BatchOutcome struct {
	Inserted  int
	Updated   int
	Unchanged int
	Failures  []FailedRow
}

// Store is the persistence contract the service runs on. Implementations
// live in internal/store and classify retryable driver failures as
// TransientIOError.
type Store interface {
	ConfigStore
	TemplateStore
	AuditSink

	// QueryTable evaluates q against a source collection and returns the
	// page rows plus the filtered count before slicing.
	QueryTable(ctx context.Context, def TableDefinition, q CompiledQuery) ([]TableRow, int64, error)

	// StreamTable calls fn for every row matching q in order, ignoring
	// Offset and Limit.
	StreamTable(ctx context.Context, def TableDefinition, q CompiledQuery, fn func(TableRow) error) error

	// ExistingEmails reports which of emails already have a row in def.
	ExistingEmails(ctx context.Context, def TableDefinition, emails []string) (map[string]bool, error)

	// SourceVersion returns a value that changes whenever the rows of a
	// source collection change, including writes from other processes.
	SourceVersion(ctx context.Context, def TableDefinition) (string, error)

	// LoadContacts returns every raw record of a source.
	LoadContacts(ctx context.Context, src SourceDefinition, def TableDefinition) ([]RawContactRecord, error)

	// UpsertBatch writes rows by email in one transaction. Rows that fail
	// individually are reported in the outcome; a transient failure aborts
	// the batch with a TransientIOError.
	UpsertBatch(ctx context.Context, def TableDefinition, rows []ContactUpsert) (BatchOutcome, error)

	Ping(ctx context.Context) error
	Close()
}

// Authorizer decides which tables a caller may import into.
type Authorizer interface {
	CanImport(ctx context.Context, userID, table string) bool
}

// AllowList permits imports into the listed tables. An empty list permits
// every writable table.
type AllowList []string

// CanImport implements Authorizer.
func (a AllowList) CanImport(_ context.Context, _ string, table string) bool {
	if len(a) == 0 {
		return true
	}
	for _, t := range a {
		if t == table {
			return true
		}
	}
	return false
}

// ServiceOptions tunes a Service. Zero values take defaults.
type ServiceOptions struct {
	MaxPageSize          int
	PreviewRows          int
	MaxUploadBytes       int64
	ImportTimeout        time.Duration
	RetryAttempts        int
	MaxConcurrentImports int
	ImportWaitTime       time.Duration
	SessionTTL           time.Duration
	Authorizer           Authorizer
	Audit                AuditSink // defaults to the store, falling back to the log
	ExportDefaults       ExportOptions
}

func (o ServiceOptions) withDefaults() ServiceOptions {
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = DefaultMaxPageSize
	}
	if o.PreviewRows <= 0 {
		o.PreviewRows = DefaultPreviewRows
	}
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if o.ImportTimeout <= 0 {
		o.ImportTimeout = DefaultImportTimeout
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = DefaultRetryAttempts
	}
	if o.Authorizer == nil {
		o.Authorizer = AllowList(nil)
	}
	if o.ExportDefaults.Delimiter == 0 {
		o.ExportDefaults = DefaultExportOptions()
	}
	return o
}

// Service is the entry point for table queries, column config, imports and
// exports. It is safe for concurrent use.
type Service struct {
	store    Store
	sources  *SourceRegistry
	opts     ServiceOptions
	columns  *ColumnConfigStore
	sessions *ImportSessions
	limiter  *ImportLimiter
	seq      *Sequencer
	audit    AuditSink

	prospects prospectCache
}

// prospectCache holds the derived unified view together with the source
// versions it was built from. A local write invalidates it directly; a
// write from another process shows up as a version change on the next read.
type prospectCache struct {
	mu      sync.RWMutex
	gen     uint64
	valid   bool
	version string
	rows    []UnifiedProspect
	group   singleflight.Group
}

// NewService validates the source registry against the registered tables
// and builds a Service.
func NewService(store Store, sources *SourceRegistry, opts ServiceOptions) (*Service, error) {
	if store == nil {
		return nil, NewConfigurationError("service", "no store")
	}
	if sources == nil {
		return nil, NewConfigurationError("service", "no source registry")
	}
	if err := sources.CheckTables(Get); err != nil {
		return nil, err
	}
	if len(ByKind(KindUnified)) == 0 {
		return nil, NewConfigurationError("service", "no unified table registered")
	}

	opts = opts.withDefaults()
	audit := opts.Audit
	if audit == nil {
		audit = MultiAuditSink{LogAuditSink{}, store}
	}

	return &Service{
		store:    store,
		sources:  sources,
		opts:     opts,
		columns:  NewColumnConfigStore(store),
		sessions: NewImportSessions(opts.SessionTTL),
		limiter:  NewImportLimiter(opts.MaxConcurrentImports, opts.ImportWaitTime),
		seq:      NewSequencer(),
		audit:    audit,
	}, nil
}

// Sources returns the source registry.
func (s *Service) Sources() *SourceRegistry {
	return s.sources
}

// Sequencer returns the per-view request sequencer.
func (s *Service) Sequencer() *Sequencer {
	return s.seq
}

// Options returns the effective options.
func (s *Service) Options() ServiceOptions {
	return s.opts
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ListTables returns information about all registered tables.
func (s *Service) ListTables() []TableInfo {
	defs := All()
	infos := make([]TableInfo, len(defs))
	for i, def := range defs {
		infos[i] = def.Info
	}
	return infos
}

// ListTablesByGroup returns tables organized by group.
func (s *Service) ListTablesByGroup() map[string][]TableInfo {
	result := make(map[string][]TableInfo)
	for _, def := range All() {
		result[def.Info.Group] = append(result[def.Info.Group], def.Info)
	}
	return result
}

// Table returns a registered table definition.
func (s *Service) Table(key string) (TableDefinition, error) {
	return Lookup(key)
}

// Prospects returns the merged unified view, loading every source
// concurrently when the cache is empty or a source changed since it was
// built. Concurrent misses share one load.
func (s *Service) Prospects(ctx context.Context) ([]UnifiedProspect, error) {
	version, err := s.sourceVersion(ctx)
	if err != nil {
		return nil, err
	}

	c := &s.prospects
	c.mu.RLock()
	if c.valid && c.version == version {
		rows := c.rows
		c.mu.RUnlock()
		return rows, nil
	}
	gen := c.gen
	c.mu.RUnlock()

	v, err, _ := c.group.Do(fmt.Sprintf("%d|%s", gen, version), func() (any, error) {
		return s.loadProspects(ctx)
	})
	if err != nil {
		return nil, err
	}
	rows := v.([]UnifiedProspect)

	c.mu.Lock()
	if c.gen == gen {
		c.rows = rows
		c.version = version
		c.valid = true
	}
	c.mu.Unlock()
	return rows, nil
}

// sourceVersion combines the versions of every source collection. It is
// read before loading, so a write racing a load leaves the cache stale by
// version and the next read reloads.
func (s *Service) sourceVersion(ctx context.Context) (string, error) {
	ordered := s.sources.ByPriority()
	parts := make([]string, len(ordered))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range ordered {
		def, err := Lookup(src.Table)
		if err != nil {
			return "", err
		}
		g.Go(func() error {
			v, err := s.store.SourceVersion(gctx, def)
			if err != nil {
				return fmt.Errorf("version of source %s: %w", src.Name, err)
			}
			parts[i] = src.Name + "=" + v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return strings.Join(parts, ";"), nil
}

func (s *Service) loadProspects(ctx context.Context) ([]UnifiedProspect, error) {
	start := time.Now()
	ordered := s.sources.ByPriority()
	loaded := make([][]RawContactRecord, len(ordered))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range ordered {
		def, err := Lookup(src.Table)
		if err != nil {
			return nil, err
		}
		g.Go(func() error {
			recs, err := s.store.LoadContacts(gctx, src, def)
			if err != nil {
				return fmt.Errorf("load source %s: %w", src.Name, err)
			}
			loaded[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []RawContactRecord
	for _, recs := range loaded {
		all = append(all, recs...)
	}
	out := Merge(s.sources, all)

	slog.Debug("merged prospects",
		"records", len(all),
		"prospects", len(out),
		"duration", time.Since(start),
	)
	return out, nil
}

// InvalidateProspects drops the cached unified view. Loads already in
// flight do not repopulate it.
func (s *Service) InvalidateProspects() {
	c := &s.prospects
	c.mu.Lock()
	c.gen++
	c.valid = false
	c.rows = nil
	c.mu.Unlock()
}

// WaitForImports blocks until running confirms finish or ctx ends.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// ImportLimiterStatus reports confirm slot usage.
func (s *Service) ImportLimiterStatus() ImportLimiterStatus {
	return s.limiter.Status()
}

// StartSessionSweeper removes idle import jobs until ctx ends.
func (s *Service) StartSessionSweeper(ctx context.Context, interval time.Duration) {
	s.sessions.StartSweeper(ctx, interval)
}
