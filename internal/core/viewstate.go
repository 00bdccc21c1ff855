package core

// SortOrder is the direction of the primary sort.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ParseSortOrder maps anything but "desc" to ascending.
func ParseSortOrder(s string) SortOrder {
	if s == string(SortDesc) {
		return SortDesc
	}
	return SortAsc
}

// ViewState is an immutable snapshot of everything that determines which
// rows a table view shows. Every interaction produces a new snapshot via the
// With* methods; the receiver is never modified.
//
// A PageSize of zero or less means load-all: rows are fetched incrementally
// and appended (see LoadAllAccumulator).
type ViewState struct {
	Table          string    `json:"table"`
	Page           int       `json:"page"`
	PageSize       int       `json:"page_size"`
	SortBy         string    `json:"sort_by,omitempty"`
	SortOrder      SortOrder `json:"sort_order,omitempty"`
	SearchTerm     string    `json:"search,omitempty"`
	Filters        FilterSet `json:"filters"`
	VisibleColumns []string  `json:"visible_columns,omitempty"`

	// rowOffset, when hasOffset is set, replaces the page-derived offset.
	// Load-all chunks use it because a short chunk leaves the next offset
	// off the page grid.
	rowOffset int
	hasOffset bool
}

// NewViewState returns the first page of table.
func NewViewState(table string, pageSize int) ViewState {
	return ViewState{
		Table:     table,
		Page:      1,
		PageSize:  pageSize,
		SortOrder: SortAsc,
	}
}

func (v ViewState) clone() ViewState {
	out := v
	out.rowOffset, out.hasOffset = 0, false
	out.Filters = v.Filters.clone()
	out.VisibleColumns = append([]string(nil), v.VisibleColumns...)
	return out
}

// LoadAll reports whether the view is in unbounded load-all mode.
func (v ViewState) LoadAll() bool {
	return v.PageSize <= 0
}

// Offset is the number of matching rows skipped before this page.
func (v ViewState) Offset() int {
	if v.hasOffset {
		return v.rowOffset
	}
	if v.LoadAll() || v.Page < 1 {
		return 0
	}
	return (v.Page - 1) * v.PageSize
}

// WithPage moves to page p (minimum 1).
func (v ViewState) WithPage(p int) ViewState {
	out := v.clone()
	if p < 1 {
		p = 1
	}
	out.Page = p
	return out
}

// WithPageSize changes the page size and returns to the first page.
func (v ViewState) WithPageSize(n int) ViewState {
	out := v.clone()
	out.PageSize = n
	out.Page = 1
	return out
}

// WithSort changes ordering. The current page is kept.
func (v ViewState) WithSort(column string, order SortOrder) ViewState {
	out := v.clone()
	out.SortBy = column
	out.SortOrder = order
	return out
}

// WithSearch replaces the search term and resets to page 1.
func (v ViewState) WithSearch(term string) ViewState {
	out := v.clone()
	out.SearchTerm = term
	out.Page = 1
	return out
}

// WithFilter sets the filter for f.Column, replacing any previous filter on
// that column, and resets to page 1.
func (v ViewState) WithFilter(f ColumnFilter) ViewState {
	out := v.clone()
	replaced := false
	for i, existing := range out.Filters.Columns {
		if existing.Column == f.Column {
			out.Filters.Columns[i] = f
			replaced = true
			break
		}
	}
	if !replaced {
		out.Filters.Columns = append(out.Filters.Columns, f)
	}
	out.Page = 1
	return out
}

// WithoutFilter drops the filter on column and resets to page 1.
func (v ViewState) WithoutFilter(column string) ViewState {
	out := v.clone()
	kept := out.Filters.Columns[:0]
	for _, f := range out.Filters.Columns {
		if f.Column != column {
			kept = append(kept, f)
		}
	}
	out.Filters.Columns = kept
	out.Page = 1
	return out
}

// WithGroupFilter sets the tool-group filter g (replacing one with the same
// name) and resets to page 1. A group with no conditions removes it.
func (v ViewState) WithGroupFilter(g GroupFilter) ViewState {
	out := v.clone()
	groups := make([]GroupFilter, 0, len(out.Filters.Groups)+1)
	for _, existing := range out.Filters.Groups {
		if existing.Name != g.Name {
			groups = append(groups, existing)
		}
	}
	if len(g.Conditions) > 0 {
		groups = append(groups, GroupFilter{
			Name:       g.Name,
			Conditions: append([]ColumnFilter(nil), g.Conditions...),
		})
	}
	out.Filters.Groups = groups
	out.Page = 1
	return out
}

// WithDateRange sets the date range on d.Column and resets to page 1.
// A range with neither bound removes it.
func (v ViewState) WithDateRange(d DateRange) ViewState {
	out := v.clone()
	dates := make([]DateRange, 0, len(out.Filters.Dates)+1)
	for _, existing := range out.Filters.Dates {
		if existing.Column != d.Column {
			dates = append(dates, existing)
		}
	}
	if d.From != "" || d.To != "" {
		dates = append(dates, d)
	}
	out.Filters.Dates = dates
	out.Page = 1
	return out
}

// WithFilters replaces the whole filter set and resets to page 1.
func (v ViewState) WithFilters(f FilterSet) ViewState {
	out := v.clone()
	out.Filters = f.clone()
	out.Page = 1
	return out
}

// ClearFilters removes every filter and the search term, and resets to page 1.
func (v ViewState) ClearFilters() ViewState {
	out := v.clone()
	out.Filters = FilterSet{}
	out.SearchTerm = ""
	out.Page = 1
	return out
}

// WithVisibleColumns replaces the visible column order.
func (v ViewState) WithVisibleColumns(cols []string) ViewState {
	out := v.clone()
	out.VisibleColumns = append([]string(nil), cols...)
	return out
}
