package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Page is one slice of a filtered, sorted table.
type Page struct {
	Rows       []TableRow `json:"rows"`
	TotalCount int64      `json:"total_count"` // filtered set, before slicing
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
	TotalPages int        `json:"total_pages"`
}

// NewPage assembles a page and derives TotalPages from the filtered count.
func NewPage(rows []TableRow, total int64, state ViewState) Page {
	if rows == nil {
		rows = []TableRow{}
	}
	p := Page{Rows: rows, TotalCount: total, Page: state.Page, PageSize: state.PageSize}
	if p.Page < 1 {
		p.Page = 1
	}
	switch {
	case total == 0:
		p.TotalPages = 0
	case state.LoadAll():
		p.TotalPages = 1
	default:
		p.TotalPages = int((total + int64(state.PageSize) - 1) / int64(state.PageSize))
	}
	return p
}

// Condition is one parsed column comparison.
type Condition struct {
	Field   FieldSpec
	Op      FilterOperator
	Text    []string  // lowercased operands for text and enum columns
	Numbers []float64 // operands for numeric columns
	Date    time.Time
	Bool    bool
}

// DateBound is a parsed inclusive date range. Nil bounds are open.
type DateBound struct {
	Field FieldSpec
	From  *time.Time
	To    *time.Time
}

// CompiledQuery is a ViewState validated against one table definition.
// SQL backends render it into WHERE / ORDER BY clauses; Match and Less below
// are the reference semantics for in-memory views.
type CompiledQuery struct {
	Table        TableDefinition
	SearchTerm   string // lowercased; empty means no search
	SearchFields []FieldSpec
	Conditions   []Condition   // AND'd
	Groups       [][]Condition // each OR'd internally, AND'd with the rest
	Dates        []DateBound
	SortField    FieldSpec
	SortDesc     bool
	Offset       int
	Limit        int // zero or less means unbounded
}

// Compile validates state against def. Unknown filter columns, operators
// that do not apply to the column type and unparsable operands are
// ValidationErrors. An unknown sort column falls back to email.
func Compile(def TableDefinition, state ViewState) (CompiledQuery, error) {
	q := CompiledQuery{
		Table:        def,
		SearchTerm:   strings.ToLower(strings.TrimSpace(state.SearchTerm)),
		SearchFields: def.SearchableFields(),
		Offset:       state.Offset(),
		Limit:        state.PageSize,
	}

	for _, f := range state.Filters.Columns {
		c, err := compileCondition(def, f)
		if err != nil {
			return CompiledQuery{}, err
		}
		q.Conditions = append(q.Conditions, c)
	}

	for _, g := range state.Filters.Groups {
		if len(g.Conditions) == 0 {
			continue
		}
		group := make([]Condition, 0, len(g.Conditions))
		for _, f := range g.Conditions {
			c, err := compileCondition(def, f)
			if err != nil {
				return CompiledQuery{}, err
			}
			group = append(group, c)
		}
		q.Groups = append(q.Groups, group)
	}

	for _, d := range state.Filters.Dates {
		b, err := compileDateRange(def, d)
		if err != nil {
			return CompiledQuery{}, err
		}
		if b.From != nil || b.To != nil {
			q.Dates = append(q.Dates, b)
		}
	}

	sortField, ok := def.Field(state.SortBy)
	if !ok {
		sortField, _ = def.Field(FieldEmail)
	}
	q.SortField = sortField
	q.SortDesc = state.SortOrder == SortDesc

	return q, nil
}

func compileCondition(def TableDefinition, f ColumnFilter) (Condition, error) {
	spec, ok := def.Field(f.Column)
	if !ok {
		return Condition{}, NewValidationError(f.Column, f.Value, "unknown filter column")
	}
	if !ValidOperator(f.Operator, spec.Type) {
		return Condition{}, NewValidationError(spec.Name, f.Operator,
			fmt.Sprintf("operator %q not supported for %s columns", f.Operator, spec.Type))
	}

	values := []string{strings.TrimSpace(f.Value)}
	if f.Operator == OpIn {
		values = values[:0]
		for _, part := range strings.Split(f.Value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				values = append(values, part)
			}
		}
	}
	if len(values) == 0 || values[0] == "" {
		return Condition{}, NewValidationError(spec.Name, f.Value, "filter value is empty")
	}

	c := Condition{Field: spec, Op: f.Operator}
	switch spec.Type {
	case FieldNumeric:
		for _, v := range values {
			n, ok := ParseNumber(v)
			if !ok {
				return Condition{}, NewValidationError(spec.Name, v, "invalid number")
			}
			c.Numbers = append(c.Numbers, n)
		}
	case FieldDate:
		t, ok := ParseDate(values[0])
		if !ok {
			return Condition{}, NewValidationError(spec.Name, values[0], "invalid date")
		}
		c.Date = t
	case FieldBool:
		b, ok := ParseBool(values[0])
		if !ok {
			return Condition{}, NewValidationError(spec.Name, values[0], "invalid boolean")
		}
		c.Bool = b
	default:
		for _, v := range values {
			c.Text = append(c.Text, strings.ToLower(v))
		}
	}
	return c, nil
}

func compileDateRange(def TableDefinition, d DateRange) (DateBound, error) {
	spec, ok := def.Field(d.Column)
	if !ok {
		return DateBound{}, NewValidationError(d.Column, nil, "unknown date column")
	}
	if spec.Type != FieldDate {
		return DateBound{}, NewValidationError(spec.Name, nil, "date range on non-date column")
	}
	b := DateBound{Field: spec}
	if s := strings.TrimSpace(d.From); s != "" {
		t, ok := ParseDate(s)
		if !ok {
			return DateBound{}, NewValidationError(spec.Name, s, "invalid date")
		}
		b.From = &t
	}
	if s := strings.TrimSpace(d.To); s != "" {
		t, ok := ParseDate(s)
		if !ok {
			return DateBound{}, NewValidationError(spec.Name, s, "invalid date")
		}
		b.To = &t
	}
	if b.From != nil && b.To != nil && b.To.Before(*b.From) {
		return DateBound{}, NewValidationError(spec.Name, d, "date range ends before it starts")
	}
	return b, nil
}

// Match reports whether row passes search and every filter.
func (q CompiledQuery) Match(row TableRow) bool {
	if q.SearchTerm != "" {
		found := false
		for _, spec := range q.SearchFields {
			if strings.Contains(strings.ToLower(FormatValue(row[spec.Name])), q.SearchTerm) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for _, c := range q.Conditions {
		if !c.Match(row) {
			return false
		}
	}

	for _, group := range q.Groups {
		matched := false
		for _, c := range group {
			if c.Match(row) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, b := range q.Dates {
		t, ok := dateValue(row[b.Field.Name])
		if !ok {
			return false
		}
		if b.From != nil && t.Before(*b.From) {
			return false
		}
		if b.To != nil && t.After(*b.To) {
			return false
		}
	}

	return true
}

// Match evaluates one condition. Null cells never match.
func (c Condition) Match(row TableRow) bool {
	v := NormalizeValue(c.Field.Type, row[c.Field.Name])
	if v == nil {
		return false
	}

	switch c.Field.Type {
	case FieldNumeric:
		n, ok := v.(float64)
		if !ok {
			return false
		}
		if c.Op == OpIn {
			for _, want := range c.Numbers {
				if n == want {
					return true
				}
			}
			return false
		}
		return compareOrdered(c.Op, cmpFloat(n, c.Numbers[0]))

	case FieldDate:
		t, ok := dateValue(v)
		if !ok {
			return false
		}
		return compareOrdered(c.Op, t.Compare(c.Date))

	case FieldBool:
		b, ok := v.(bool)
		return ok && b == c.Bool

	default:
		s := strings.ToLower(FormatValue(v))
		switch c.Op {
		case OpContains:
			return strings.Contains(s, c.Text[0])
		case OpStartsWith:
			return strings.HasPrefix(s, c.Text[0])
		case OpEndsWith:
			return strings.HasSuffix(s, c.Text[0])
		case OpIn:
			for _, want := range c.Text {
				if s == want {
					return true
				}
			}
			return false
		default:
			return compareOrdered(c.Op, strings.Compare(s, c.Text[0]))
		}
	}
}

func compareOrdered(op FilterOperator, cmp int) bool {
	switch op {
	case OpEquals:
		return cmp == 0
	case OpGreaterEq:
		return cmp >= 0
	case OpLessEq:
		return cmp <= 0
	case OpGreater:
		return cmp > 0
	case OpLess:
		return cmp < 0
	default:
		return false
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func dateValue(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		if val.IsZero() {
			return time.Time{}, false
		}
		return truncateDay(val), true
	case string:
		return ParseDate(val)
	default:
		return time.Time{}, false
	}
}

// Less orders rows by the sort field (nulls last in either direction), then
// by normalized email ascending.
func (q CompiledQuery) Less(a, b TableRow) bool {
	if c := compareSortCells(q.SortField.Type, a[q.SortField.Name], b[q.SortField.Name], q.SortDesc); c != 0 {
		return c < 0
	}
	return NormalizeEmail(FormatValue(a[FieldEmail])) < NormalizeEmail(FormatValue(b[FieldEmail]))
}

func compareSortCells(ft FieldType, a, b any, desc bool) int {
	av := NormalizeValue(ft, a)
	bv := NormalizeValue(ft, b)
	switch {
	case av == nil && bv == nil:
		return 0
	case av == nil:
		return 1
	case bv == nil:
		return -1
	}

	var c int
	switch ft {
	case FieldNumeric:
		af, _ := av.(float64)
		bf, _ := bv.(float64)
		c = cmpFloat(af, bf)
	case FieldBool:
		ab, _ := av.(bool)
		bb, _ := bv.(bool)
		switch {
		case ab == bb:
			c = 0
		case !ab:
			c = -1
		default:
			c = 1
		}
	default:
		c = strings.Compare(strings.ToLower(FormatValue(av)), strings.ToLower(FormatValue(bv)))
	}
	if desc {
		c = -c
	}
	return c
}

// QueryRows evaluates state against an in-memory row set. The count is
// taken over the filtered set before slicing; an out-of-range page is empty.
func QueryRows(def TableDefinition, rows []TableRow, state ViewState) (Page, error) {
	q, err := Compile(def, state)
	if err != nil {
		return Page{}, err
	}

	matched := make([]TableRow, 0, len(rows))
	for _, row := range rows {
		if q.Match(row) {
			matched = append(matched, row)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return q.Less(matched[i], matched[j])
	})

	total := int64(len(matched))
	if state.LoadAll() {
		return NewPage(matched, total, state), nil
	}

	start := q.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + q.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return NewPage(matched[start:end], total, state), nil
}
