package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// StartImport creates an import job against table in the Upload state.
func (s *Service) StartImport(ctx context.Context, userID, table string) (ImportJobView, error) {
	if userID == "" {
		return ImportJobView{}, NewValidationError("user_id", nil, "user is required")
	}
	def, ok := Get(table)
	if !ok {
		return ImportJobView{}, NewConfigurationError("import", fmt.Sprintf("unknown target table %q", table))
	}
	job, err := s.sessions.Create(userID, def)
	if err != nil {
		return ImportJobView{}, err
	}
	slog.InfoContext(ctx, "import started", "import_id", job.ID, "table", table, "user", userID)
	return job.View(s.opts.PreviewRows), nil
}

// GetImport returns a snapshot of the caller's job.
func (s *Service) GetImport(userID, jobID string) (ImportJobView, error) {
	job, err := s.sessions.Get(jobID, userID)
	if err != nil {
		return ImportJobView{}, err
	}
	return job.View(s.opts.PreviewRows), nil
}

// UploadFile parses r and moves the job to Preview. The first row is always
// the header row.
func (s *Service) UploadFile(ctx context.Context, userID, jobID, fileName string, r io.Reader, opts ParseOptions) (ImportJobView, error) {
	job, err := s.sessions.Get(jobID, userID)
	if err != nil {
		return ImportJobView{}, err
	}
	if state := job.State(); state != StateUpload {
		return ImportJobView{}, transitionError(state, "upload")
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = s.opts.MaxUploadBytes
	}

	tab, err := ReadTabular(r, opts)
	if err != nil {
		return ImportJobView{}, fmt.Errorf("parse %s: %w", fileName, err)
	}
	if err := job.Load(fileName, tab); err != nil {
		return ImportJobView{}, err
	}

	slog.InfoContext(ctx, "import file parsed",
		"import_id", job.ID,
		"file", fileName,
		"encoding", tab.Encoding,
		"columns", len(tab.Headers),
		"rows", len(tab.Rows),
	)
	return job.View(s.opts.PreviewRows), nil
}

// BeginMapping moves the job to ColumnMapping with a suggested mapping.
// Saved templates for the target table feed the suggestion; a template
// lookup failure only loses that input.
func (s *Service) BeginMapping(ctx context.Context, userID, jobID string) (ImportJobView, error) {
	job, err := s.sessions.Get(jobID, userID)
	if err != nil {
		return ImportJobView{}, err
	}
	templates, err := s.store.ListTemplates(ctx, job.Target.Info.Key)
	if err != nil {
		slog.WarnContext(ctx, "list mapping templates failed",
			"import_id", job.ID,
			"table", job.Target.Info.Key,
			"error", err,
		)
		templates = nil
	}
	if _, err := job.BeginMapping(templates); err != nil {
		return ImportJobView{}, err
	}
	return job.View(s.opts.PreviewRows), nil
}

// SetMapping replaces the job's mapping.
func (s *Service) SetMapping(userID, jobID string, m ColumnMapping) (ImportJobView, error) {
	job, err := s.sessions.Get(jobID, userID)
	if err != nil {
		return ImportJobView{}, err
	}
	if err := job.SetMapping(m); err != nil {
		return ImportJobView{}, err
	}
	return job.View(s.opts.PreviewRows), nil
}

// AdvanceToConfirm moves the job from ColumnMapping to Confirm.
func (s *Service) AdvanceToConfirm(userID, jobID string) (ImportJobView, error) {
	job, err := s.sessions.Get(jobID, userID)
	if err != nil {
		return ImportJobView{}, err
	}
	if err := job.AdvanceToConfirm(); err != nil {
		return ImportJobView{}, err
	}
	return job.View(s.opts.PreviewRows), nil
}

// CancelImport discards the job's parsed state and returns it to Upload.
func (s *Service) CancelImport(userID, jobID string) (ImportJobView, error) {
	job, err := s.sessions.Get(jobID, userID)
	if err != nil {
		return ImportJobView{}, err
	}
	if err := job.Cancel(); err != nil {
		return ImportJobView{}, err
	}
	return job.View(s.opts.PreviewRows), nil
}

// DiscardImport destroys the job.
func (s *Service) DiscardImport(userID, jobID string) error {
	return s.sessions.Remove(jobID, userID)
}

// CompleteImport returns the final result of a Completed job and destroys
// it.
func (s *Service) CompleteImport(userID, jobID string) (*ImportResult, error) {
	job, err := s.sessions.Get(jobID, userID)
	if err != nil {
		return nil, err
	}
	if state := job.State(); state != StateCompleted {
		return nil, transitionError(state, "complete")
	}
	result := job.Result()
	if err := s.sessions.Remove(jobID, userID); err != nil {
		return nil, err
	}
	return result, nil
}

// RetryImport re-runs the whole batch of a Failed job. Rows that succeeded
// on the previous run are written again; upsert-by-email makes that safe.
func (s *Service) RetryImport(ctx context.Context, userID, jobID string) (ImportJobView, error) {
	job, err := s.sessions.Get(jobID, userID)
	if err != nil {
		return ImportJobView{}, err
	}
	if err := job.Retry(); err != nil {
		return ImportJobView{}, err
	}
	return s.runImport(ctx, job, ActionImportRetry)
}

// ConfirmImport writes the job's rows to its target. Individual bad rows
// are counted and reported; only a store failure fails the job.
func (s *Service) ConfirmImport(ctx context.Context, userID, jobID string) (ImportJobView, error) {
	job, err := s.sessions.Get(jobID, userID)
	if err != nil {
		return ImportJobView{}, err
	}
	return s.runImport(ctx, job, ActionImport)
}

func (s *Service) runImport(ctx context.Context, job *ImportJob, action AuditAction) (ImportJobView, error) {
	batch, err := job.beginRun()
	if err != nil {
		return ImportJobView{}, err
	}
	table := batch.target.Info.Key

	if !s.opts.Authorizer.CanImport(ctx, job.UserID, table) {
		job.abortRun()
		return ImportJobView{}, fmt.Errorf("import into %s: %w", table, ErrNotPermitted)
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		job.abortRun()
		return ImportJobView{}, fmt.Errorf("confirm import: %w", err)
	}
	defer s.limiter.Release()

	runCtx, cancel := context.WithTimeout(ctx, s.opts.ImportTimeout)
	defer cancel()

	started := time.Now()
	records, failures := BuildRecords(batch.target, batch.headers, batch.rows, batch.mapping)

	var outcome BatchOutcome
	attempts, err := RetryTransient(runCtx, s.opts.RetryAttempts, func(ctx context.Context) error {
		var uerr error
		outcome, uerr = s.store.UpsertBatch(ctx, batch.target, records)
		return uerr
	})

	result := &ImportResult{
		TotalRows: len(batch.rows),
		Attempts:  attempts,
		Duration:  time.Since(started),
	}
	if err == nil {
		failures = append(failures, outcome.Failures...)
		sortFailures(failures)
		result.Inserted = outcome.Inserted
		result.Updated = outcome.Updated
		result.Unchanged = outcome.Unchanged
		result.Failures = failures
		result.FailedRows = len(failures)
		result.SuccessRows = result.TotalRows - result.FailedRows
	} else {
		// Nothing was committed.
		result.FailedRows = result.TotalRows
		err = fmt.Errorf("import into %s: %w", table, err)
	}
	job.finishRun(result, err)

	entry := AuditEntry{
		Action:      action,
		TableKey:    table,
		UserID:      job.UserID,
		ImportID:    job.ID,
		FileName:    batch.fileName,
		TotalRows:   result.TotalRows,
		SuccessRows: result.SuccessRows,
		FailedRows:  result.FailedRows,
		StartedAt:   started.UTC(),
	}
	if err != nil {
		entry.Action = ActionImportFailed
		entry.Reason = err.Error()
	}
	recordAudit(ctx, s.audit, entry)

	if err != nil {
		level := slog.LevelError
		if errors.Is(err, ErrTransientIO) {
			level = slog.LevelWarn
		}
		slog.Log(ctx, level, "import failed",
			"import_id", job.ID,
			"table", table,
			"attempts", attempts,
			"error", err,
		)
		return job.View(s.opts.PreviewRows), err
	}

	if result.Inserted+result.Updated > 0 {
		s.InvalidateProspects()
	}
	slog.InfoContext(ctx, "import completed",
		"import_id", job.ID,
		"table", table,
		"total", result.TotalRows,
		"inserted", result.Inserted,
		"updated", result.Updated,
		"unchanged", result.Unchanged,
		"failed", result.FailedRows,
		"attempts", attempts,
		"duration", result.Duration,
	)
	return job.View(s.opts.PreviewRows), nil
}
