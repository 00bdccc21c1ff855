package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/prospects/internal/core"
	"github.com/JonMunkholm/prospects/internal/logging"
)

// multipartSlack covers multipart framing on top of the file itself.
const multipartSlack = 1 << 20

// failureColumns are the columns of a failed-rows download.
var failureColumns = []core.FieldSpec{
	{Name: "line", Label: "Line", Type: core.FieldNumeric},
	{Name: "email", Label: "Email", Type: core.FieldText},
	{Name: "reason", Label: "Reason", Type: core.FieldText},
}

func importID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

// handleImportStatus reports import slot usage.
func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.ImportLimiterStatus())
}

// handleStartImport opens a job for {"table": "..."}.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Table string `json:"table"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.respondError(w, r, err)
		return
	}
	if body.Table == "" {
		s.respondError(w, r, core.NewValidationError("table", nil, "table is required"))
		return
	}
	// A table name the client made up is a missing resource, the same as
	// under /tables/{table}.
	if _, err := s.service.Table(body.Table); err != nil {
		s.respondError(w, r, err)
		return
	}

	view, err := s.service.StartImport(r.Context(), userID(r), body.Table)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/imports/"+view.ID)
	writeJSONStatus(w, http.StatusCreated, view)
}

func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.GetImport(userID(r), importID(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, view)
}

func (s *Server) handleDiscardImport(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DiscardImport(userID(r), importID(r)); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUploadFile accepts the job's file either as the "file" part of a
// multipart form or as the raw request body (name from ?filename=).
// ?delimiter= and ?encoding= override detection.
func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := core.ParseOptions{
		Encoding: q.Get("encoding"),
		MaxBytes: s.service.Options().MaxUploadBytes,
	}
	if v := q.Get("delimiter"); v != "" {
		d, err := parseDelimiter(v)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		opts.Delimiter = d
	}

	r.Body = http.MaxBytesReader(w, r.Body, opts.MaxBytes+multipartSlack)

	file, fileName, err := uploadedFile(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer file.Close()
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	if opts.Delimiter == 0 && strings.EqualFold(filepath.Ext(fileName), ".tsv") {
		opts.Delimiter = '\t'
	}

	view, err := s.service.UploadFile(r.Context(), userID(r), importID(r), fileName, file, opts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, view)
}

// uploadedFile returns the request's file and a display name for it.
func uploadedFile(r *http.Request) (io.ReadCloser, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		name := r.URL.Query().Get("filename")
		if name == "" {
			name = "upload.csv"
		}
		return r.Body, filepath.Base(name), nil
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return nil, "", fmt.Errorf("read upload: %w", core.ErrFileTooLarge)
		}
		return nil, "", core.NewValidationError("file", nil, "invalid multipart form")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", core.NewValidationError("file", nil, "no file provided")
	}
	return file, filepath.Base(header.Filename), nil
}

// handleBeginMapping moves the job to column mapping with a suggestion.
func (s *Server) handleBeginMapping(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.BeginMapping(r.Context(), userID(r), importID(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, view)
}

// handleSetMapping replaces the mapping. The body is either
// {"mapping": {...}} or the header -> field object itself.
func (s *Server) handleSetMapping(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := decodeJSON(w, r, &raw); err != nil {
		s.respondError(w, r, err)
		return
	}
	if inner, ok := raw["mapping"].(map[string]any); ok && len(raw) == 1 {
		raw = inner
	}

	m := make(core.ColumnMapping, len(raw))
	for header, v := range raw {
		field, ok := v.(string)
		if !ok {
			s.respondError(w, r, core.NewValidationError("mapping", header, "mapping values must be field names"))
			return
		}
		m[header] = field
	}

	view, err := s.service.SetMapping(userID(r), importID(r), m)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, view)
}

// handleAnalyzeImport previews what confirming the current mapping would do.
func (s *Server) handleAnalyzeImport(w http.ResponseWriter, r *http.Request) {
	preview, err := s.service.AnalyzeImport(r.Context(), userID(r), importID(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, preview)
}

func (s *Server) handleAdvanceToConfirm(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.AdvanceToConfirm(userID(r), importID(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, view)
}

func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.CancelImport(userID(r), importID(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, view)
}

// handleConfirmImport writes the job's rows. A store failure leaves the
// job Failed; the error response carries the mapped message.
func (s *Server) handleConfirmImport(w http.ResponseWriter, r *http.Request) {
	s.runImport(w, r, "confirm", s.service.ConfirmImport)
}

// handleRetryImport re-runs a Failed job.
func (s *Server) handleRetryImport(w http.ResponseWriter, r *http.Request) {
	s.runImport(w, r, "retry", s.service.RetryImport)
}

func (s *Server) runImport(w http.ResponseWriter, r *http.Request, action string,
	run func(ctx context.Context, user, id string) (core.ImportJobView, error)) {
	view, err := run(r.Context(), userID(r), importID(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	log := logging.WithFields(r.Context(), "import_id", view.ID, "table", view.Table)
	if view.Result != nil {
		log.Info("import "+action,
			"inserted", view.Result.Inserted,
			"updated", view.Result.Updated,
			"unchanged", view.Result.Unchanged,
			"failed", view.Result.FailedRows,
			"attempts", view.Result.Attempts,
		)
	}
	writeJSON(w, view)
}

// handleCompleteImport closes a finished job and returns its result.
func (s *Server) handleCompleteImport(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.CompleteImport(userID(r), importID(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// handleSaveTemplate stores the job's mapping as {"name": "..."}.
func (s *Server) handleSaveTemplate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.respondError(w, r, err)
		return
	}
	tpl, err := s.service.SaveTemplate(r.Context(), userID(r), importID(r), body.Name)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, tpl)
}

// handleExportFailures downloads the failed rows of a completed run. The
// export query parameters (delimiter, encoding, ...) apply.
func (s *Server) handleExportFailures(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.GetImport(userID(r), importID(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if view.Result == nil {
		s.respondError(w, r, fmt.Errorf("failures of %s: %w", view.ID,
			core.NewValidationError("state", view.State, "import has not run")))
		return
	}
	opts, err := parseExportOptions(r.URL.Query(), s.service.Options().ExportDefaults)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	rows := make([]core.TableRow, len(view.Result.Failures))
	for i, f := range view.Result.Failures {
		rows[i] = core.TableRow{"line": f.Line, "email": f.Email, "reason": f.Reason}
	}

	filename := exportFilename(view.Table+"_failures", opts, view.CreatedAt.Format("20060102_150405"))
	w.Header().Set("Content-Type", opts.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	if err := core.WriteExport(w, failureColumns, rows, opts); err != nil {
		logging.FromContext(r.Context()).Error("failure export interrupted", "import_id", view.ID, "error", err)
	}
}
