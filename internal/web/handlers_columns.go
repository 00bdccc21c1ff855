package web

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/prospects/internal/core"
)

// handleGetColumns returns the caller's column config for a table.
func (s *Server) handleGetColumns(w http.ResponseWriter, r *http.Request) {
	def, err := tableParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	cfg, err := s.service.ColumnConfig(r.Context(), userID(r), def.Info.Key)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, cfg)
}

// handleSaveColumns replaces the caller's column config.
func (s *Server) handleSaveColumns(w http.ResponseWriter, r *http.Request) {
	def, err := tableParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var cfg core.TableConfig
	if err := decodeJSON(w, r, &cfg); err != nil {
		s.respondError(w, r, err)
		return
	}
	if cfg.Table != "" && cfg.Table != def.Info.Key {
		s.respondError(w, r, core.NewValidationError("table", cfg.Table, "body table does not match URL"))
		return
	}
	cfg.Table = def.Info.Key

	saved, err := s.service.SaveColumnConfig(r.Context(), userID(r), cfg)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, saved)
}

// handleResetColumns drops the caller's config and returns the default.
func (s *Server) handleResetColumns(w http.ResponseWriter, r *http.Request) {
	def, err := tableParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	cfg, err := s.service.ResetColumnConfig(r.Context(), userID(r), def.Info.Key)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, cfg)
}

// handleColumnOp hides, shows or moves one column:
//
//	POST /columns/{column}/hide
//	POST /columns/{column}/show
//	POST /columns/{column}/move?to=2
func (s *Server) handleColumnOp(w http.ResponseWriter, r *http.Request) {
	def, err := tableParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	column := chi.URLParam(r, "column")
	if _, ok := def.Field(column); !ok {
		s.respondError(w, r, core.NewValidationError("column", column, "unknown column "+column))
		return
	}

	ctx, user, table := r.Context(), userID(r), def.Info.Key
	var cfg core.TableConfig
	switch op := chi.URLParam(r, "op"); op {
	case "hide":
		cfg, err = s.service.HideColumn(ctx, user, table, column)
	case "show":
		cfg, err = s.service.ShowColumn(ctx, user, table, column)
	case "move":
		to, perr := moveTarget(w, r)
		if perr != nil {
			s.respondError(w, r, perr)
			return
		}
		cfg, err = s.service.MoveColumn(ctx, user, table, column, to)
	default:
		err = core.NewValidationError("op", op, "op must be hide, show or move")
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, cfg)
}

// moveTarget reads the destination index from ?to= or a {"to": n} body.
func moveTarget(w http.ResponseWriter, r *http.Request) (int, error) {
	if v := r.URL.Query().Get("to"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, core.NewValidationError("to", v, "to must be a non-negative integer")
		}
		return n, nil
	}
	var body struct {
		To *int `json:"to"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		return 0, err
	}
	if body.To == nil || *body.To < 0 {
		return 0, core.NewValidationError("to", body.To, "to must be a non-negative integer")
	}
	return *body.To, nil
}
