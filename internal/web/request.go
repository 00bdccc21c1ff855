package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/prospects/internal/core"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

// userID returns the caller set by middleware.UserIdentity.
func userID(r *http.Request) string {
	return core.GetUserFromContext(r.Context())
}

// tableParam resolves the {table} URL parameter.
func tableParam(r *http.Request) (core.TableDefinition, error) {
	return core.Lookup(chi.URLParam(r, "table"))
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return core.NewValidationError("body", nil, "request body is required")
		}
		return core.NewValidationError("body", nil, "invalid JSON: "+err.Error())
	}
	return nil
}

// parseViewState overlays the query parameters on base, the caller's saved
// view of the table:
//
//	page=2 page_size=50 (0 or "all" loads everything)
//	sort=company dir=desc search=acme columns=email,company
//	filter[company]=contains:acme   (repeatable)
//	group[geo]=state:eq:CA|state:eq:NY
//	date[last_activity_at]=2024-01-01..2024-06-30
func parseViewState(q url.Values, base core.ViewState) (core.ViewState, error) {
	state := base

	if v := q.Get("page_size"); v != "" {
		n, err := parsePageSize(v)
		if err != nil {
			return state, err
		}
		state = state.WithPageSize(n)
	}
	if v := q.Get("sort"); v != "" {
		state = state.WithSort(v, core.ParseSortOrder(q.Get("dir")))
	} else if v := q.Get("dir"); v != "" {
		state = state.WithSort(state.SortBy, core.ParseSortOrder(v))
	}
	if v := q.Get("columns"); v != "" {
		state = state.WithVisibleColumns(splitList(v))
	}

	var filters core.FilterSet
	for key, values := range q {
		name, kind, ok := bracketKey(key)
		if !ok {
			continue
		}
		for _, val := range values {
			switch kind {
			case "filter":
				f, err := parseCondition(name, val)
				if err != nil {
					return state, err
				}
				filters.Columns = append(filters.Columns, f)
			case "group":
				g, err := parseGroup(name, val)
				if err != nil {
					return state, err
				}
				filters.Groups = append(filters.Groups, g)
			case "date":
				from, to, _ := strings.Cut(val, "..")
				filters.Dates = append(filters.Dates, core.DateRange{Column: name, From: from, To: to})
			}
		}
	}
	sortFilterSet(&filters)
	state = state.WithFilters(filters).WithSearch(q.Get("search"))

	// Filter and search changes reset the page; an explicit page wins.
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return state, core.NewValidationError("page", v, "page must be a positive integer")
		}
		state = state.WithPage(n)
	}
	return state, nil
}

func parsePageSize(v string) (int, error) {
	if v == "all" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, core.NewValidationError("page_size", v, "page_size must be a non-negative integer or \"all\"")
	}
	return n, nil
}

// bracketKey splits "filter[company]" into ("company", "filter").
func bracketKey(key string) (name, kind string, ok bool) {
	open := strings.IndexByte(key, '[')
	if open <= 0 || !strings.HasSuffix(key, "]") {
		return "", "", false
	}
	name = key[open+1 : len(key)-1]
	if name == "" {
		return "", "", false
	}
	return name, key[:open], true
}

// parseCondition parses "op:value" for column.
func parseCondition(column, s string) (core.ColumnFilter, error) {
	op, value, ok := strings.Cut(s, ":")
	if !ok {
		return core.ColumnFilter{}, core.NewValidationError("filter["+column+"]", s, "filter must be op:value")
	}
	return core.ColumnFilter{Column: column, Operator: core.FilterOperator(op), Value: value}, nil
}

// parseGroup parses "col:op:value|col:op:value".
func parseGroup(name, s string) (core.GroupFilter, error) {
	g := core.GroupFilter{Name: name}
	for _, part := range strings.Split(s, "|") {
		column, rest, ok := strings.Cut(part, ":")
		if !ok || column == "" {
			return g, core.NewValidationError("group["+name+"]", s, "group conditions must be col:op:value")
		}
		f, err := parseCondition(column, rest)
		if err != nil {
			return g, err
		}
		g.Conditions = append(g.Conditions, f)
	}
	return g, nil
}

// sortFilterSet orders filters by column so identical queries compile to
// identical SQL regardless of map iteration order.
func sortFilterSet(f *core.FilterSet) {
	less := func(a, b string) int { return strings.Compare(a, b) }
	slices.SortFunc(f.Columns, func(a, b core.ColumnFilter) int {
		if c := less(a.Column, b.Column); c != 0 {
			return c
		}
		return less(string(a.Operator)+a.Value, string(b.Operator)+b.Value)
	})
	slices.SortFunc(f.Groups, func(a, b core.GroupFilter) int { return less(a.Name, b.Name) })
	slices.SortFunc(f.Dates, func(a, b core.DateRange) int { return less(a.Column, b.Column) })
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseSeq reads the client's request sequence for a view.
func parseSeq(q url.Values) (uint64, error) {
	v := q.Get("seq")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, core.NewValidationError("seq", v, "seq must be a non-negative integer")
	}
	return n, nil
}

// parseExportOptions overlays query parameters on the configured defaults.
func parseExportOptions(q url.Values, defaults core.ExportOptions) (core.ExportOptions, error) {
	opts := defaults
	if v := q.Get("scope"); v != "" {
		opts.Scope = core.ExportScope(v)
	}
	if v := q.Get("export_columns"); v != "" {
		opts.Columns = splitList(v)
	}
	if v := q.Get("delimiter"); v != "" {
		r, err := parseDelimiter(v)
		if err != nil {
			return opts, err
		}
		opts.Delimiter = r
	}
	if v := q.Get("encoding"); v != "" {
		opts.Encoding = v
	}
	if v := q.Get("quote"); v != "" {
		opts.Quote = core.QuoteMode(v)
	}
	if v := q.Get("header"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, core.NewValidationError("header", v, "header must be true or false")
		}
		opts.IncludeHeader = b
	}
	if v := q.Get("crlf"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, core.NewValidationError("crlf", v, "crlf must be true or false")
		}
		opts.CRLF = b
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// parseDelimiter accepts a single character or the names tab, comma,
// semicolon and pipe.
func parseDelimiter(v string) (rune, error) {
	switch strings.ToLower(v) {
	case "tab", `\t`:
		return '\t', nil
	case "comma":
		return ',', nil
	case "semicolon":
		return ';', nil
	case "pipe":
		return '|', nil
	}
	runes := []rune(v)
	if len(runes) != 1 {
		return 0, core.NewValidationError("delimiter", v, "delimiter must be a single character")
	}
	return runes[0], nil
}

// exportFilename names a download after the table and the date.
func exportFilename(table string, opts core.ExportOptions, stamp string) string {
	ext := "csv"
	if opts.Delimiter == '\t' {
		ext = "tsv"
	}
	return fmt.Sprintf("%s_%s.%s", table, stamp, ext)
}
