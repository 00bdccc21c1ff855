package core

import (
	"context"
	"fmt"
	"io"
)

// unifiedRows flattens the cached prospects for the query engine.
func (s *Service) unifiedRows(ctx context.Context) ([]TableRow, error) {
	prospects, err := s.Prospects(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]TableRow, len(prospects))
	for i, p := range prospects {
		rows[i] = p.Row()
	}
	return rows, nil
}

// clampState bounds the page size to the configured maximum.
func (s *Service) clampState(state ViewState) ViewState {
	if state.Page < 1 {
		state.Page = 1
	}
	if state.PageSize > s.opts.MaxPageSize {
		state.PageSize = s.opts.MaxPageSize
	}
	return state
}

// Query returns one page of a table. Source collections are filtered,
// sorted and sliced by the store; the unified view is merged and evaluated
// in memory with the same semantics. Zero matches is an empty page, never
// an error.
func (s *Service) Query(ctx context.Context, state ViewState) (Page, error) {
	def, err := Lookup(state.Table)
	if err != nil {
		return Page{}, err
	}
	state = s.clampState(state)

	if def.Info.Kind == KindUnified {
		rows, err := s.unifiedRows(ctx)
		if err != nil {
			return Page{}, fmt.Errorf("query %s: %w", def.Info.Key, err)
		}
		return QueryRows(def, rows, state)
	}

	q, err := Compile(def, state)
	if err != nil {
		return Page{}, err
	}
	rows, total, err := s.store.QueryTable(ctx, def, q)
	if err != nil {
		return Page{}, fmt.Errorf("query %s: %w", def.Info.Key, err)
	}
	return NewPage(rows, total, state), nil
}

// QueryResult is a page tagged with the request sequence it answers.
type QueryResult struct {
	Page
	View  string `json:"view"`
	Seq   uint64 `json:"seq"`
	Stale bool   `json:"stale"`
}

// QueryView runs Query for a client view. seq is the client's request
// number for that view; a response whose seq has been overtaken by a newer
// request is flagged Stale and must not be applied. A zero seq is assigned
// by the service.
func (s *Service) QueryView(ctx context.Context, view string, seq uint64, state ViewState) (QueryResult, error) {
	if seq == 0 {
		seq = s.seq.Next(view)
	} else {
		s.seq.Observe(view, seq)
	}
	page, err := s.Query(ctx, state)
	if err != nil {
		return QueryResult{}, err
	}
	return QueryResult{
		Page:  page,
		View:  view,
		Seq:   seq,
		Stale: !s.seq.IsCurrent(view, seq),
	}, nil
}

// Export writes the rows of state to w. ScopePage exports exactly the page
// Query would return; ScopeAll exports every row matching the same filter
// and sort. It returns the number of data rows written.
func (s *Service) Export(ctx context.Context, state ViewState, opts ExportOptions, w io.Writer) (int, error) {
	def, err := Lookup(state.Table)
	if err != nil {
		return 0, err
	}
	if err := opts.Validate(); err != nil {
		return 0, err
	}
	columns, err := ResolveExportColumns(def, opts.Columns, state.VisibleColumns)
	if err != nil {
		return 0, err
	}

	if opts.Scope == ScopeAll {
		state.PageSize = 0
		state.Page = 1
	} else {
		state = s.clampState(state)
	}

	ew, err := NewExportWriter(w, columns, opts)
	if err != nil {
		return 0, err
	}
	if err := ew.WriteHeader(); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	switch {
	case def.Info.Kind == KindUnified:
		rows, err := s.unifiedRows(ctx)
		if err != nil {
			return 0, fmt.Errorf("export %s: %w", def.Info.Key, err)
		}
		page, err := QueryRows(def, rows, state)
		if err != nil {
			return 0, err
		}
		for _, row := range page.Rows {
			if err := ew.WriteRow(row); err != nil {
				return ew.Rows(), fmt.Errorf("write row: %w", err)
			}
		}

	case opts.Scope == ScopeAll:
		q, err := Compile(def, state)
		if err != nil {
			return 0, err
		}
		err = s.store.StreamTable(ctx, def, q, ew.WriteRow)
		if err != nil {
			return ew.Rows(), fmt.Errorf("export %s: %w", def.Info.Key, err)
		}

	default:
		page, err := s.Query(ctx, state)
		if err != nil {
			return 0, err
		}
		for _, row := range page.Rows {
			if err := ew.WriteRow(row); err != nil {
				return ew.Rows(), fmt.Errorf("write row: %w", err)
			}
		}
	}

	if err := ew.Close(); err != nil {
		return ew.Rows(), err
	}
	return ew.Rows(), nil
}
