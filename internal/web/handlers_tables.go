package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/JonMunkholm/prospects/internal/core"
	"github.com/JonMunkholm/prospects/internal/logging"
)

// columnView is the JSON shape of one table column.
type columnView struct {
	Name       string         `json:"name"`
	Label      string         `json:"label"`
	Type       core.FieldType `json:"type"`
	Category   string         `json:"category,omitempty"`
	Searchable bool           `json:"searchable,omitempty"`
	Pinned     bool           `json:"pinned,omitempty"`
	Hidden     bool           `json:"hidden,omitempty"`
	EnumValues []string       `json:"enum_values,omitempty"`
}

type tableView struct {
	core.TableInfo
	Columns []columnView `json:"columns"`
}

func newTableView(def core.TableDefinition) tableView {
	cols := make([]columnView, len(def.FieldSpecs))
	for i, spec := range def.FieldSpecs {
		cols[i] = columnView{
			Name:       spec.Name,
			Label:      spec.DisplayLabel(),
			Type:       spec.Type,
			Category:   spec.Category,
			Searchable: spec.Searchable,
			Pinned:     spec.Pinned,
			Hidden:     spec.Hidden,
			EnumValues: spec.EnumValues,
		}
	}
	return tableView{TableInfo: def.Info, Columns: cols}
}

// rowsResponse is a page plus the state it answers, so clients can render
// active filters without re-deriving them.
type rowsResponse struct {
	core.QueryResult
	State         core.ViewState    `json:"state"`
	ActiveFilters map[string]string `json:"active_filters"`
}

// handleHealth reports store reachability and import slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.service.Ping(ctx); err != nil {
		s.respondErrorStatus(w, r, fmt.Errorf("health check: %w", err), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]any{
		"status":  "ok",
		"imports": s.service.ImportLimiterStatus(),
	})
}

// handleListTables returns all tables organized by group.
func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.ListTablesByGroup())
}

// handleListSources returns the source registry, most authoritative first.
func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.Sources().ByPriority())
}

// handleGetTable returns a table's columns.
func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request) {
	def, err := tableParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, newTableView(def))
}

// viewState builds the request's view: the caller's saved column config
// overlaid with the query parameters.
func (s *Server) viewState(r *http.Request, def core.TableDefinition) (core.ViewState, error) {
	cfg, err := s.service.ColumnConfig(r.Context(), userID(r), def.Info.Key)
	if err != nil {
		return core.ViewState{}, err
	}
	return parseViewState(r.URL.Query(), cfg.ViewState())
}

// handleRows returns one page of a table. The response echoes seq and is
// flagged stale when a newer request for the same view has been seen.
func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	def, err := tableParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	state, err := s.viewState(r, def)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	seq, err := parseSeq(r.URL.Query())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	view := userID(r) + ":" + def.Info.Key
	if v := r.URL.Query().Get("view"); v != "" {
		view = userID(r) + ":" + v
	}

	res, err := s.service.QueryView(r.Context(), view, seq, state)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, rowsResponse{
		QueryResult:   res,
		State:         state,
		ActiveFilters: state.Filters.ActiveFilters(),
	})
}

// handleExport streams the rows of the current view as a file download.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	def, err := tableParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	state, err := s.viewState(r, def)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	opts, err := parseExportOptions(r.URL.Query(), s.service.Options().ExportDefaults)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	filename := exportFilename(def.Info.Key, opts, time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", opts.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	ew := &deferredWriter{w: w}
	n, err := s.service.Export(r.Context(), state, opts, ew)
	if err != nil {
		if !ew.started {
			w.Header().Del("Content-Disposition")
			s.respondError(w, r, err)
			return
		}
		// Headers are gone; the truncated download is all we can signal.
		logging.FromContext(r.Context()).Error("export interrupted",
			"table", def.Info.Key,
			"rows", n,
			"error", err,
		)
		return
	}
	logging.WithFields(r.Context(), "table", def.Info.Key, "user", userID(r)).Info("export",
		"rows", n,
		"scope", opts.Scope,
		"encoding", opts.Encoding,
	)
}

// deferredWriter records whether any byte reached the client, so a failure
// before the first write can still become a JSON error.
type deferredWriter struct {
	w       http.ResponseWriter
	started bool
}

func (d *deferredWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		d.started = true
	}
	return d.w.Write(p)
}

// handleListTemplates returns the saved mapping templates of a table.
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	def, err := tableParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	templates, err := s.service.ListTemplates(r.Context(), def.Info.Key)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if templates == nil {
		templates = []core.MappingTemplate{}
	}
	writeJSON(w, templates)
}
