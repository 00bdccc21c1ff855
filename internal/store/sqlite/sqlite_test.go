package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/prospects/internal/core"
	"github.com/JonMunkholm/prospects/internal/core/sources"
	_ "github.com/JonMunkholm/prospects/internal/core/tables"
	"github.com/JonMunkholm/prospects/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	b, err := store.Open(context.Background(), store.Config{Driver: "sqlite", DSN: MemoryDSN, AutoMigrate: true})
	require.NoError(t, err)
	t.Cleanup(b.Close)
	s, ok := b.(*Store)
	require.True(t, ok)
	return s
}

func crmTable(t *testing.T) core.TableDefinition {
	t.Helper()
	def, err := core.Lookup("crm_contacts")
	require.NoError(t, err)
	return def
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestUpsertBatch_InsertUpdateUnchanged(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	def := crmTable(t)

	first := []core.ContactUpsert{
		{Line: 2, Email: "ada@example.com", Fields: map[string]any{
			"first_name":         "Ada",
			"job_title":          "Engineer",
			"email_opt_out":      true,
			"last_activity_date": "2024-03-01",
		}},
		{Line: 3, Email: "grace@example.com", Fields: map[string]any{"first_name": "Grace"}},
	}
	out, err := s.UpsertBatch(ctx, def, first)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Inserted)
	assert.Empty(t, out.Failures)

	again := []core.ContactUpsert{
		{Line: 2, Email: "ada@example.com", Fields: map[string]any{"job_title": "CTO"}},
		{Line: 3, Email: "grace@example.com", Fields: map[string]any{"first_name": "Grace"}},
	}
	out, err = s.UpsertBatch(ctx, def, again)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Inserted)
	assert.Equal(t, 1, out.Updated)
	assert.Equal(t, 1, out.Unchanged)

	q, err := core.Compile(def, core.NewViewState(def.Info.Key, 25))
	require.NoError(t, err)
	rows, total, err := s.QueryTable(ctx, def, q)
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, rows, 2)

	ada := rows[0]
	assert.Equal(t, "ada@example.com", ada["email"])
	assert.Equal(t, "Ada", ada["first_name"], "fields absent from a re-import keep their value")
	assert.Equal(t, "CTO", ada["job_title"])
	assert.Equal(t, true, ada["email_opt_out"])
	assert.Equal(t, "2024-03-01", ada["last_activity_date"])
}

func TestUpsertBatch_BadRowDoesNotAbortBatch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	def := crmTable(t)

	rows := []core.ContactUpsert{
		{Line: 2, Email: "ok@example.com", Fields: map[string]any{"first_name": "Ok"}},
		{Line: 3, Email: "bad@example.com", Fields: map[string]any{"first_name": struct{}{}}},
		{Line: 4, Email: "also-ok@example.com", Fields: map[string]any{"first_name": "Also"}},
	}
	out, err := s.UpsertBatch(ctx, def, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Inserted)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, 3, out.Failures[0].Line)
	assert.Equal(t, "bad@example.com", out.Failures[0].Email)
	assert.Contains(t, out.Failures[0].Reason, "write failed")

	q, err := core.Compile(def, core.NewViewState(def.Info.Key, 25))
	require.NoError(t, err)
	_, total, err := s.QueryTable(ctx, def, q)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
}

func TestUpsertBatch_MatchesNormalizedStoredEmail(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	def := crmTable(t)

	// A row written by another ingestion path, email not normalized.
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO "crm_contacts" ("email", "first_name", created_at, updated_at) VALUES (?, ?, ?, ?)`,
		" Ada@Example.com", "Ada", now, now)
	require.NoError(t, err)

	found, err := s.ExistingEmails(ctx, def, []string{"ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"ada@example.com": true}, found)

	out, err := s.UpsertBatch(ctx, def, []core.ContactUpsert{
		{Line: 2, Email: "ada@example.com", Fields: map[string]any{"job_title": "CTO"}},
		{Line: 3, Email: "Grace@Example.com ", Fields: map[string]any{"first_name": "Grace"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Updated)
	assert.Equal(t, 1, out.Inserted)

	q, err := core.Compile(def, core.NewViewState(def.Info.Key, 25))
	require.NoError(t, err)
	rows, total, err := s.QueryTable(ctx, def, q)
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	assert.Equal(t, "CTO", rows[0]["job_title"])
	assert.Equal(t, "grace@example.com", rows[1]["email"], "inserted emails are stored normalized")
}

func seedContacts(t *testing.T, s *Store, def core.TableDefinition, n int) {
	t.Helper()
	rows := make([]core.ContactUpsert, n)
	for i := range rows {
		status := "new"
		if i%2 == 1 {
			status = "working"
		}
		rows[i] = core.ContactUpsert{
			Line:  i + 2,
			Email: fmt.Sprintf("c%02d@example.com", i),
			Fields: map[string]any{
				"first_name":  fmt.Sprintf("Contact %02d", i),
				"lead_status": status,
			},
		}
	}
	out, err := s.UpsertBatch(context.Background(), def, rows)
	require.NoError(t, err)
	require.Equal(t, n, out.Inserted)
}

func TestQueryTable_Pagination(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	def := crmTable(t)
	seedContacts(t, s, def, 57)

	tests := []struct {
		name      string
		page      int
		wantRows  int
		wantFirst string
	}{
		{"first page", 1, 25, "c00@example.com"},
		{"last page", 3, 7, "c50@example.com"},
		{"past the end", 4, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := core.NewViewState(def.Info.Key, 25).WithPage(tt.page)
			q, err := core.Compile(def, state)
			require.NoError(t, err)
			rows, total, err := s.QueryTable(ctx, def, q)
			require.NoError(t, err)

			page := core.NewPage(rows, total, state)
			assert.EqualValues(t, 57, page.TotalCount)
			assert.Equal(t, 3, page.TotalPages)
			require.Len(t, page.Rows, tt.wantRows)
			if tt.wantRows > 0 {
				assert.Equal(t, tt.wantFirst, page.Rows[0]["email"])
			}
		})
	}
}

func TestQueryTable_FilterSearchSort(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	def := crmTable(t)
	seedContacts(t, s, def, 10)

	state := core.NewViewState(def.Info.Key, 25).
		WithFilter(core.ColumnFilter{Column: "lead_status", Operator: core.OpEquals, Value: "WORKING"}).
		WithSort("email", core.SortDesc)
	q, err := core.Compile(def, state)
	require.NoError(t, err)
	rows, total, err := s.QueryTable(ctx, def, q)
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	require.Len(t, rows, 5)
	assert.Equal(t, "c09@example.com", rows[0]["email"])

	state = core.NewViewState(def.Info.Key, 25).WithSearch("contact 0")
	q, err = core.Compile(def, state)
	require.NoError(t, err)
	_, total, err = s.QueryTable(ctx, def, q)
	require.NoError(t, err)
	assert.EqualValues(t, 10, total)

	state = core.NewViewState(def.Info.Key, 25).WithSearch("100%")
	q, err = core.Compile(def, state)
	require.NoError(t, err)
	rows, total, err = s.QueryTable(ctx, def, q)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, rows)
}

func TestStreamTable_IgnoresPaging(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	def := crmTable(t)
	seedContacts(t, s, def, 30)

	q, err := core.Compile(def, core.NewViewState(def.Info.Key, 10))
	require.NoError(t, err)
	var n int
	err = s.StreamTable(ctx, def, q, func(core.TableRow) error {
		n++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 30, n)

	stop := errors.New("stop")
	err = s.StreamTable(ctx, def, q, func(core.TableRow) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestLoadContacts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	def := crmTable(t)

	_, err := s.UpsertBatch(ctx, def, []core.ContactUpsert{
		{Line: 2, Email: "ada@example.com", Fields: map[string]any{"account_name": "Analytical Engines"}},
	})
	require.NoError(t, err)

	reg, err := sources.Default()
	require.NoError(t, err)
	src, ok := reg.Get("crm")
	require.True(t, ok)

	recs, err := s.LoadContacts(ctx, src, def)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "crm", recs[0].Source)
	assert.Equal(t, "ada@example.com", recs[0].Email)
	assert.Equal(t, "Analytical Engines", recs[0].Fields["account_name"])
	assert.NotEmpty(t, recs[0].RecordID)
	assert.False(t, recs[0].UpdatedAt.IsZero())
}

func TestTableConfigRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.GetTableConfig(ctx, "u1", "crm_contacts")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNotFound)

	cfg := core.DefaultTableConfig(crmTable(t), "u1").Hide("industry")
	cfg.UpdatedAt = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.UpsertTableConfig(ctx, cfg))

	got, err := s.GetTableConfig(ctx, "u1", "crm_contacts")
	require.NoError(t, err)
	assert.NotContains(t, got.VisibleKeys(), "industry")

	cfg = cfg.Show("industry")
	require.NoError(t, s.UpsertTableConfig(ctx, cfg))
	got, err = s.GetTableConfig(ctx, "u1", "crm_contacts")
	require.NoError(t, err)
	assert.Contains(t, got.VisibleKeys(), "industry")

	require.NoError(t, s.DeleteTableConfig(ctx, "u1", "crm_contacts"))
	_, err = s.GetTableConfig(ctx, "u1", "crm_contacts")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestTemplates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, name := range []string{"older", "newer"} {
		err := s.SaveTemplate(ctx, core.MappingTemplate{
			ID:        fmt.Sprintf("t%d", i),
			Table:     "crm_contacts",
			Name:      name,
			Headers:   []string{"Email Address", "Company"},
			Mapping:   core.ColumnMapping{"Email Address": "email", "Company": "account_name"},
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	got, err := s.ListTemplates(ctx, "crm_contacts")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "newer", got[0].Name)
	assert.Equal(t, "account_name", got[0].Mapping["Company"])
	assert.Equal(t, []string{"Email Address", "Company"}, got[1].Headers)
	assert.True(t, got[1].CreatedAt.Equal(base))

	none, err := s.ListTemplates(ctx, "apollo_contacts")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRecordAudit(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	now := time.Now().UTC()
	err := s.RecordAudit(ctx, core.AuditEntry{
		ID:         "a1",
		Action:     core.ActionImport,
		Severity:   core.SeverityHigh,
		TableKey:   "crm_contacts",
		UserID:     "u1",
		TotalRows:  3,
		StartedAt:  now,
		FinishedAt: now,
	})
	require.NoError(t, err)

	n, err := s.AuditCount(ctx, "crm_contacts")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIsBusy(t *testing.T) {
	assert.True(t, IsBusy(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.True(t, IsBusy(fmt.Errorf("exec: %w", errors.New("database table is locked"))))
	assert.False(t, IsBusy(errors.New("UNIQUE constraint failed")))
	assert.False(t, IsBusy(nil))

	err := classify("ping", errors.New("database is locked"))
	assert.ErrorIs(t, err, core.ErrTransientIO)
}

func TestExistingEmails(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	def := crmTable(t)
	seedContacts(t, s, def, 3)

	emails := []string{"c00@example.com", "c02@example.com", "nobody@example.com"}
	for i := 0; i < store.EmailBatchSize; i++ {
		emails = append(emails, fmt.Sprintf("filler%d@example.com", i))
	}

	found, err := s.ExistingEmails(ctx, def, emails)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"c00@example.com": true, "c02@example.com": true}, found)

	found, err = s.ExistingEmails(ctx, def, nil)
	require.NoError(t, err)
	assert.Empty(t, found)
}
