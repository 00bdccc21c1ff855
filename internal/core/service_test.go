package core_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/prospects/internal/core"
	"github.com/JonMunkholm/prospects/internal/core/sources"
	"github.com/JonMunkholm/prospects/internal/core/tables"
	"github.com/JonMunkholm/prospects/internal/store"
	"github.com/JonMunkholm/prospects/internal/store/sqlite"
)

const (
	crmCSV = "Email,First Name,Account,Job Title,Lead Status\n" +
		"ann@acme.test,Ann,Acme,CTO,working\n" +
		"bo@beta.test,Bo,Beta,,new\n"
	apolloCSV = "email,first_name,title,organization_name,num_employees\n" +
		"ANN@acme.test,Annie,Chief Technology Officer,Acme Corp,120\n" +
		"cy@gamma.test,Cy,VP Sales,Gamma,40\n"
)

var crmMapping = core.ColumnMapping{
	"Email":       "email",
	"First Name":  "first_name",
	"Account":     "account_name",
	"Job Title":   "job_title",
	"Lead Status": "lead_status",
}

var apolloMapping = core.ColumnMapping{
	"email":             "email",
	"first_name":        "first_name",
	"title":             "title",
	"organization_name": "organization_name",
	"num_employees":     "num_employees",
}

func openStore(t *testing.T) store.Backend {
	t.Helper()
	b, err := store.Open(context.Background(), store.Config{Driver: "sqlite", DSN: sqlite.MemoryDSN, AutoMigrate: true})
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func newService(t *testing.T, st core.Store, opts core.ServiceOptions) *core.Service {
	t.Helper()
	reg, err := sources.Default()
	require.NoError(t, err)
	svc, err := core.NewService(st, reg, opts)
	require.NoError(t, err)
	return svc
}

// runImport drives a job from upload to completion with an explicit mapping.
func runImport(t *testing.T, svc *core.Service, user, table, csv string, m core.ColumnMapping) *core.ImportResult {
	t.Helper()
	ctx := context.Background()

	job, err := svc.StartImport(ctx, user, table)
	require.NoError(t, err)
	_, err = svc.UploadFile(ctx, user, job.ID, table+".csv", strings.NewReader(csv), core.ParseOptions{})
	require.NoError(t, err)
	_, err = svc.BeginMapping(ctx, user, job.ID)
	require.NoError(t, err)
	_, err = svc.SetMapping(user, job.ID, m)
	require.NoError(t, err)
	_, err = svc.AdvanceToConfirm(user, job.ID)
	require.NoError(t, err)

	view, err := svc.ConfirmImport(ctx, user, job.ID)
	require.NoError(t, err)
	require.Equal(t, core.StateCompleted, view.State)

	result, err := svc.CompleteImport(user, job.ID)
	require.NoError(t, err)
	return result
}

func prospectsByEmail(t *testing.T, svc *core.Service) map[string]core.TableRow {
	t.Helper()
	page, err := svc.Query(context.Background(), core.NewViewState(tables.ProspectsTable, 0))
	require.NoError(t, err)
	out := make(map[string]core.TableRow, len(page.Rows))
	for _, row := range page.Rows {
		out[row[core.FieldEmail].(string)] = row
	}
	return out
}

func TestService_ImportAndMerge(t *testing.T) {
	svc := newService(t, openStore(t), core.ServiceOptions{})

	res := runImport(t, svc, "user-1", "crm_contacts", crmCSV, crmMapping)
	assert.Equal(t, 2, res.TotalRows)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 0, res.FailedRows)
	assert.Equal(t, 1, res.Attempts)

	res = runImport(t, svc, "user-1", "apollo_contacts", apolloCSV, apolloMapping)
	assert.Equal(t, 2, res.Inserted)

	got := prospectsByEmail(t, svc)
	require.Len(t, got, 3)

	ann := got["ann@acme.test"]
	require.NotNil(t, ann, "emails are matched case-insensitively")
	assert.Equal(t, "Ann", ann["first_name"], "crm outranks apollo")
	assert.Equal(t, "Acme", ann["company"])
	assert.Equal(t, "CTO", ann["title"])
	assert.EqualValues(t, 120, ann["employee_count"], "only apollo has a value")
	assert.Equal(t, "apollo, crm", ann[core.ColumnSources])
	assert.EqualValues(t, 2, ann[core.ColumnSourceCount])

	bo := got["bo@beta.test"]
	assert.Nil(t, bo["title"], "an empty cell is absent")
	assert.Equal(t, "crm", bo[core.ColumnSources])

	assert.Equal(t, "VP Sales", got["cy@gamma.test"]["title"])
}

func TestService_ReimportCountsAndInvalidates(t *testing.T) {
	svc := newService(t, openStore(t), core.ServiceOptions{})
	runImport(t, svc, "user-1", "crm_contacts", crmCSV, crmMapping)
	assert.Equal(t, "CTO", prospectsByEmail(t, svc)["ann@acme.test"]["title"])

	res := runImport(t, svc, "user-1", "crm_contacts", crmCSV, crmMapping)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 2, res.Unchanged)
	assert.Equal(t, 2, res.SuccessRows)

	changed := strings.Replace(crmCSV, "CTO", "CEO", 1)
	res = runImport(t, svc, "user-1", "crm_contacts", changed, crmMapping)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Unchanged)

	assert.Equal(t, "CEO", prospectsByEmail(t, svc)["ann@acme.test"]["title"], "the unified view is rebuilt")
}

func TestService_ProspectsSeeOtherWriters(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "prospects.db")
	open := func() store.Backend {
		b, err := store.Open(ctx, store.Config{Driver: "sqlite", DSN: dsn, AutoMigrate: true})
		require.NoError(t, err)
		t.Cleanup(b.Close)
		return b
	}
	svc := newService(t, open(), core.ServiceOptions{})
	other := open()

	before, err := svc.Prospects(ctx)
	require.NoError(t, err)
	assert.Empty(t, before)

	def, err := core.Lookup("crm_contacts")
	require.NoError(t, err)
	_, err = other.UpsertBatch(ctx, def, []core.ContactUpsert{
		{Line: 2, Email: "new@x.test", Fields: map[string]any{"job_title": "CTO"}},
	})
	require.NoError(t, err)

	got := prospectsByEmail(t, svc)
	require.Len(t, got, 1, "an insert by another process is picked up")
	assert.Equal(t, "CTO", got["new@x.test"]["title"])

	_, err = other.UpsertBatch(ctx, def, []core.ContactUpsert{
		{Line: 2, Email: "new@x.test", Fields: map[string]any{"job_title": "CEO"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "CEO", prospectsByEmail(t, svc)["new@x.test"]["title"], "an update by another process is picked up")
}

func TestService_ImportRowFailures(t *testing.T) {
	svc := newService(t, openStore(t), core.ServiceOptions{})
	csv := "Email,First Name,Lead Status\n" +
		"ok@acme.test,Ok,new\n" +
		",Nobody,new\n" +
		"bad@acme.test,Bad,dormant\n"

	res := runImport(t, svc, "user-1", "crm_contacts", csv, core.ColumnMapping{
		"Email":       "email",
		"First Name":  "first_name",
		"Lead Status": "lead_status",
	})

	assert.Equal(t, 3, res.TotalRows)
	assert.Equal(t, 1, res.SuccessRows)
	assert.Equal(t, 2, res.FailedRows)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, 3, res.Failures[0].Line)
	assert.Equal(t, 4, res.Failures[1].Line)
	assert.Equal(t, "bad@acme.test", res.Failures[1].Email)
}

func TestService_AnalyzeImport(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, openStore(t), core.ServiceOptions{})
	runImport(t, svc, "user-1", "crm_contacts", crmCSV, crmMapping)

	csv := "Email,First Name\n" +
		"ann@acme.test,Ann\n" +
		"dee@delta.test,Dee\n" +
		"Dee@delta.test,Deirdre\n" +
		"not-an-email,X\n"

	job, err := svc.StartImport(ctx, "user-1", "crm_contacts")
	require.NoError(t, err)
	_, err = svc.AnalyzeImport(ctx, "user-1", job.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition, "nothing to analyze before a mapping exists")

	_, err = svc.UploadFile(ctx, "user-1", job.ID, "leads.csv", strings.NewReader(csv), core.ParseOptions{})
	require.NoError(t, err)
	view, err := svc.BeginMapping(ctx, "user-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, "email", view.Mapping["Email"])

	preview, err := svc.AnalyzeImport(ctx, "user-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, preview.Summary.TotalRows)
	assert.Equal(t, 1, preview.Summary.UpdateRows)
	assert.Equal(t, 2, preview.Summary.NewRows)
	assert.Equal(t, 1, preview.Summary.ErrorRows)
	assert.Equal(t, 1, preview.Summary.DuplicateInFile)
	require.Len(t, preview.DuplicateSamples, 1)
	assert.Equal(t, []int{3, 4}, preview.DuplicateSamples[0].Lines)
	assert.Equal(t, "ann@acme.test", preview.UpdateSamples[0].Email)

	again, err := svc.GetImport("user-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateMapping, again.State, "analysis does not move the job")
}

func TestService_QuerySourceTable(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, openStore(t), core.ServiceOptions{MaxPageSize: 1})
	runImport(t, svc, "user-1", "crm_contacts", crmCSV, crmMapping)

	page, err := svc.Query(ctx, core.NewViewState("crm_contacts", 25).WithSort("email", core.SortDesc))
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.TotalCount)
	require.Len(t, page.Rows, 1, "page size is clamped")
	assert.Equal(t, "bo@beta.test", page.Rows[0]["email"])

	page, err = svc.Query(ctx, core.NewViewState("crm_contacts", 1).
		WithFilter(core.ColumnFilter{Column: "account_name", Operator: core.OpContains, Value: "acm"}))
	require.NoError(t, err)
	assert.EqualValues(t, 1, page.TotalCount)

	page, err = svc.Query(ctx, core.NewViewState("crm_contacts", 1).WithPage(9))
	require.NoError(t, err)
	assert.Empty(t, page.Rows, "past the last page is empty")

	_, err = svc.Query(ctx, core.NewViewState("nope", 1))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestService_QueryViewStale(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, openStore(t), core.ServiceOptions{})
	state := core.NewViewState(tables.ProspectsTable, 25)

	first, err := svc.QueryView(ctx, "user-1:prospects", 1, state)
	require.NoError(t, err)
	assert.False(t, first.Stale)

	_, err = svc.QueryView(ctx, "user-1:prospects", 2, state)
	require.NoError(t, err)

	late, err := svc.QueryView(ctx, "user-1:prospects", 1, state)
	require.NoError(t, err)
	assert.True(t, late.Stale)

	assigned, err := svc.QueryView(ctx, "other", 0, state)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), assigned.Seq)
	assert.False(t, assigned.Stale)
}

func TestService_Export(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, openStore(t), core.ServiceOptions{})
	runImport(t, svc, "user-1", "crm_contacts", crmCSV, crmMapping)
	runImport(t, svc, "user-1", "apollo_contacts", apolloCSV, apolloMapping)

	state := core.NewViewState(tables.ProspectsTable, 1).WithSort("email", core.SortAsc)
	opts := core.ExportOptions{Scope: core.ScopeAll, IncludeHeader: true, Columns: []string{"email", "company", "sources"}}

	var buf bytes.Buffer
	n, err := svc.Export(ctx, state, opts, &buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "scope all ignores paging")
	assert.Equal(t, "Email,Company,Sources\n"+
		"ann@acme.test,Acme,\"apollo, crm\"\n"+
		"bo@beta.test,Beta,crm\n"+
		"cy@gamma.test,Gamma,apollo\n", buf.String())

	buf.Reset()
	opts.Scope = core.ScopePage
	n, err = svc.Export(ctx, state.WithPage(2), opts, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "Email,Company,Sources\nbo@beta.test,Beta,crm\n", buf.String())

	buf.Reset()
	src := core.NewViewState("crm_contacts", 25).WithSort("email", core.SortAsc)
	n, err = svc.Export(ctx, src, core.ExportOptions{Scope: core.ScopeAll, Columns: []string{"email", "account_name"}}, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "ann@acme.test,Acme\nbo@beta.test,Beta\n", buf.String())
}

func TestService_ColumnConfig(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, openStore(t), core.ServiceOptions{})

	cfg, err := svc.ColumnConfig(ctx, "user-1", "crm_contacts")
	require.NoError(t, err)
	assert.Contains(t, cfg.VisibleKeys(), "account_name")
	assert.NotContains(t, cfg.VisibleKeys(), "mailing_city")

	cfg, err = svc.HideColumn(ctx, "user-1", "crm_contacts", "account_name")
	require.NoError(t, err)
	assert.NotContains(t, cfg.VisibleKeys(), "account_name")

	cfg, err = svc.ShowColumn(ctx, "user-1", "crm_contacts", "mailing_city")
	require.NoError(t, err)
	keys := cfg.VisibleKeys()
	assert.Equal(t, "mailing_city", keys[len(keys)-1])

	cfg, err = svc.MoveColumn(ctx, "user-1", "crm_contacts", "mailing_city", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "mailing_city"}, cfg.VisibleKeys()[:2])

	loaded, err := svc.ColumnConfig(ctx, "user-1", "crm_contacts")
	require.NoError(t, err)
	assert.Equal(t, cfg.VisibleKeys(), loaded.VisibleKeys(), "changes persist")

	other, err := svc.ColumnConfig(ctx, "user-2", "crm_contacts")
	require.NoError(t, err)
	assert.Contains(t, other.VisibleKeys(), "account_name", "configs are per user")

	reset, err := svc.ResetColumnConfig(ctx, "user-1", "crm_contacts")
	require.NoError(t, err)
	assert.Equal(t, other.VisibleKeys(), reset.VisibleKeys())

	_, err = svc.ColumnConfig(ctx, "user-1", "nope")
	assert.Error(t, err)
}

func TestService_Templates(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, openStore(t), core.ServiceOptions{})
	csv := "Email,Org Label\nann@acme.test,Acme\n"

	job, err := svc.StartImport(ctx, "user-1", "crm_contacts")
	require.NoError(t, err)
	_, err = svc.SaveTemplate(ctx, "user-1", job.ID, "crm export")
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	_, err = svc.UploadFile(ctx, "user-1", job.ID, "crm.csv", strings.NewReader(csv), core.ParseOptions{})
	require.NoError(t, err)
	view, err := svc.BeginMapping(ctx, "user-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.Ignore, view.Mapping["Org Label"])
	_, err = svc.SetMapping("user-1", job.ID, core.ColumnMapping{"Email": "email", "Org Label": "account_name"})
	require.NoError(t, err)

	_, err = svc.SaveTemplate(ctx, "user-1", job.ID, "")
	assert.ErrorIs(t, err, core.ErrValidation)

	saved, err := svc.SaveTemplate(ctx, "user-1", job.ID, "crm export")
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	list, err := svc.ListTemplates(ctx, "crm_contacts")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "crm export", list[0].Name)
	assert.Equal(t, "account_name", list[0].Mapping["Org Label"])

	// A file with the same headers picks the template up.
	next, err := svc.StartImport(ctx, "user-2", "crm_contacts")
	require.NoError(t, err)
	_, err = svc.UploadFile(ctx, "user-2", next.ID, "crm.csv", strings.NewReader(csv), core.ParseOptions{})
	require.NoError(t, err)
	view, err = svc.BeginMapping(ctx, "user-2", next.ID)
	require.NoError(t, err)
	assert.Equal(t, "account_name", view.Mapping["Org Label"])

	empty, err := svc.ListTemplates(ctx, "apollo_contacts")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestService_ImportNotPermitted(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, openStore(t), core.ServiceOptions{Authorizer: core.AllowList{"apollo_contacts"}})

	job, err := svc.StartImport(ctx, "user-1", "crm_contacts")
	require.NoError(t, err)
	_, err = svc.UploadFile(ctx, "user-1", job.ID, "crm.csv", strings.NewReader(crmCSV), core.ParseOptions{})
	require.NoError(t, err)
	_, err = svc.BeginMapping(ctx, "user-1", job.ID)
	require.NoError(t, err)
	_, err = svc.SetMapping("user-1", job.ID, crmMapping)
	require.NoError(t, err)
	_, err = svc.AdvanceToConfirm("user-1", job.ID)
	require.NoError(t, err)

	_, err = svc.ConfirmImport(ctx, "user-1", job.ID)
	assert.ErrorIs(t, err, core.ErrNotPermitted)

	view, err := svc.GetImport("user-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateConfirm, view.State, "a rejected run leaves the job untouched")
	assert.False(t, view.Running)

	page, err := svc.Query(ctx, core.NewViewState("crm_contacts", 25))
	require.NoError(t, err)
	assert.Zero(t, page.TotalCount)
}

func TestService_JobsArePerUser(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, openStore(t), core.ServiceOptions{})

	job, err := svc.StartImport(ctx, "user-1", "crm_contacts")
	require.NoError(t, err)

	_, err = svc.GetImport("user-2", job.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = svc.UploadFile(ctx, "user-2", job.ID, "x.csv", strings.NewReader(crmCSV), core.ParseOptions{})
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = svc.StartImport(ctx, "", "crm_contacts")
	assert.ErrorIs(t, err, core.ErrValidation)
	_, err = svc.StartImport(ctx, "user-1", "no_such_table")
	assert.ErrorIs(t, err, core.ErrConfiguration)
	_, err = svc.StartImport(ctx, "user-1", tables.ProspectsTable)
	assert.ErrorIs(t, err, core.ErrConfiguration, "the unified view is read-only")
}

// flakyStore fails the first failures upserts with a transient error.
type flakyStore struct {
	core.Store
	failures int32
	calls    atomic.Int32
}

func (f *flakyStore) UpsertBatch(ctx context.Context, def core.TableDefinition, rows []core.ContactUpsert) (core.BatchOutcome, error) {
	if f.calls.Add(1) <= f.failures {
		return core.BatchOutcome{}, core.NewTransientIOError("upsert", errors.New("database is locked"))
	}
	return f.Store.UpsertBatch(ctx, def, rows)
}

func TestService_ImportRetries(t *testing.T) {
	prev := core.RetryBackoff
	core.RetryBackoff = time.Millisecond
	t.Cleanup(func() { core.RetryBackoff = prev })

	t.Run("transient failure recovers", func(t *testing.T) {
		st := &flakyStore{Store: openStore(t), failures: 1}
		svc := newService(t, st, core.ServiceOptions{RetryAttempts: 3})

		res := runImport(t, svc, "user-1", "crm_contacts", crmCSV, crmMapping)
		assert.Equal(t, 2, res.Attempts)
		assert.Equal(t, 2, res.Inserted)
	})

	t.Run("exhausted then retried", func(t *testing.T) {
		ctx := context.Background()
		st := &flakyStore{Store: openStore(t), failures: 2}
		svc := newService(t, st, core.ServiceOptions{RetryAttempts: 2})

		job, err := svc.StartImport(ctx, "user-1", "crm_contacts")
		require.NoError(t, err)
		_, err = svc.UploadFile(ctx, "user-1", job.ID, "crm.csv", strings.NewReader(crmCSV), core.ParseOptions{})
		require.NoError(t, err)
		_, err = svc.BeginMapping(ctx, "user-1", job.ID)
		require.NoError(t, err)
		_, err = svc.SetMapping("user-1", job.ID, crmMapping)
		require.NoError(t, err)
		_, err = svc.AdvanceToConfirm("user-1", job.ID)
		require.NoError(t, err)

		view, err := svc.ConfirmImport(ctx, "user-1", job.ID)
		assert.ErrorIs(t, err, core.ErrTransientIO)
		assert.Equal(t, core.StateFailed, view.State)
		require.NotNil(t, view.Result)
		assert.Equal(t, 2, view.Result.FailedRows, "nothing was committed")

		_, err = svc.CompleteImport("user-1", job.ID)
		assert.ErrorIs(t, err, core.ErrInvalidTransition)

		view, err = svc.RetryImport(ctx, "user-1", job.ID)
		require.NoError(t, err)
		assert.Equal(t, core.StateCompleted, view.State)

		res, err := svc.CompleteImport("user-1", job.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Inserted)

		_, err = svc.GetImport("user-1", job.ID)
		assert.ErrorIs(t, err, core.ErrNotFound, "completing destroys the job")
	})
}
