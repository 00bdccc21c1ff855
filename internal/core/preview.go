package core

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// ImportPreviewSummary counts what a confirm would do with the current
// mapping.
type ImportPreviewSummary struct {
	TotalRows       int `json:"total_rows"`
	NewRows         int `json:"new_rows"`
	UpdateRows      int `json:"update_rows"`
	ErrorRows       int `json:"error_rows"`
	DuplicateInFile int `json:"duplicate_in_file"`
}

// PreviewRow is a sample of a row that would be written.
type PreviewRow struct {
	Line   int               `json:"line"`
	Email  string            `json:"email"`
	Values map[string]string `json:"values"`
}

// DuplicateEmail lists the lines sharing one email. The last line wins.
type DuplicateEmail struct {
	Email string `json:"email"`
	Lines []int  `json:"lines"`
}

// ImportPreview is the read-only analysis of a mapped import.
type ImportPreview struct {
	Summary          ImportPreviewSummary `json:"summary"`
	NewSamples       []PreviewRow         `json:"new_samples"`
	UpdateSamples    []PreviewRow         `json:"update_samples"`
	ErrorSamples     []FailedRow          `json:"error_samples"`
	DuplicateSamples []DuplicateEmail     `json:"duplicate_samples"`
	ProcessingTimeMs int64                `json:"processing_time_ms"`
}

// Sample limits
const (
	maxNewSamples       = 10
	maxUpdateSamples    = 10
	maxErrorSamples     = 20
	maxDuplicateSamples = 10
)

// AnalyzeImport reports, without writing, how the job's rows would be
// applied: which are new, which update an existing email, which fail
// conversion and which emails repeat within the file. If the existence
// lookup fails every valid row is reported as new.
func (s *Service) AnalyzeImport(ctx context.Context, userID, jobID string) (*ImportPreview, error) {
	start := time.Now()

	job, err := s.sessions.Get(jobID, userID)
	if err != nil {
		return nil, err
	}
	batch, err := job.snapshot()
	if err != nil {
		return nil, err
	}

	records, failures := BuildRecords(batch.target, batch.headers, batch.rows, batch.mapping)
	sortFailures(failures)

	resp := &ImportPreview{
		Summary: ImportPreviewSummary{
			TotalRows: len(batch.rows),
			ErrorRows: len(failures),
		},
		NewSamples:       []PreviewRow{},
		UpdateSamples:    []PreviewRow{},
		ErrorSamples:     failures[:min(len(failures), maxErrorSamples)],
		DuplicateSamples: []DuplicateEmail{},
	}

	seen := make(map[string][]int)
	var emails []string
	for _, rec := range records {
		if _, ok := seen[rec.Email]; !ok {
			emails = append(emails, rec.Email)
		}
		seen[rec.Email] = append(seen[rec.Email], rec.Line)
	}
	sort.Strings(emails)
	for _, email := range emails {
		lines := seen[email]
		if len(lines) < 2 {
			continue
		}
		resp.Summary.DuplicateInFile += len(lines) - 1
		if len(resp.DuplicateSamples) < maxDuplicateSamples {
			resp.DuplicateSamples = append(resp.DuplicateSamples, DuplicateEmail{Email: email, Lines: lines})
		}
	}

	existing, err := s.store.ExistingEmails(ctx, batch.target, emails)
	if err != nil {
		slog.WarnContext(ctx, "existing email lookup failed",
			"import_id", job.ID,
			"table", batch.target.Info.Key,
			"error", err,
		)
		existing = nil
	}

	for _, rec := range records {
		row := PreviewRow{Line: rec.Line, Email: rec.Email, Values: previewValues(rec)}
		if existing[rec.Email] {
			resp.Summary.UpdateRows++
			if len(resp.UpdateSamples) < maxUpdateSamples {
				resp.UpdateSamples = append(resp.UpdateSamples, row)
			}
			continue
		}
		resp.Summary.NewRows++
		if len(resp.NewSamples) < maxNewSamples {
			resp.NewSamples = append(resp.NewSamples, row)
		}
	}

	resp.ProcessingTimeMs = time.Since(start).Milliseconds()
	return resp, nil
}

func previewValues(rec ContactUpsert) map[string]string {
	out := make(map[string]string, len(rec.Fields))
	for k, v := range rec.Fields {
		out[k] = FormatValue(v)
	}
	return out
}
