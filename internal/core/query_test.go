package core

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStatuses = []string{"new", "working", "qualified"}
var testCompanies = []string{"Acme", "Beta", "Gamma"}

// contactRows builds n rows: c00@acme.test, c01@acme.test, ...
func contactRows(n int) []TableRow {
	rows := make([]TableRow, n)
	for i := range n {
		rows[i] = TableRow{
			"email":            fmt.Sprintf("c%02d@acme.test", i),
			"first_name":       fmt.Sprintf("Name %d", i),
			"company":          testCompanies[i%3],
			"employee_count":   float64(i * 10),
			"lead_status":      testStatuses[i%3],
			"email_opt_out":    i%2 == 0,
			"last_activity_at": day("2024-01-01").AddDate(0, 0, i),
		}
	}
	return rows
}

func emails(rows []TableRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = FormatValue(r["email"])
	}
	return out
}

func TestQueryRows_Pagination(t *testing.T) {
	def := testContactsDef()
	rows := contactRows(57)
	base := NewViewState(def.Info.Key, 25)

	tests := []struct {
		page      int
		wantLen   int
		wantFirst string
	}{
		{page: 1, wantLen: 25, wantFirst: "c00@acme.test"},
		{page: 2, wantLen: 25, wantFirst: "c25@acme.test"},
		{page: 3, wantLen: 7, wantFirst: "c50@acme.test"},
		{page: 4, wantLen: 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("page %d", tt.page), func(t *testing.T) {
			page, err := QueryRows(def, rows, base.WithPage(tt.page))
			require.NoError(t, err)

			assert.Len(t, page.Rows, tt.wantLen)
			assert.NotNil(t, page.Rows)
			assert.EqualValues(t, 57, page.TotalCount)
			assert.Equal(t, 3, page.TotalPages)
			assert.Equal(t, tt.page, page.Page)
			if tt.wantFirst != "" {
				assert.Equal(t, tt.wantFirst, page.Rows[0]["email"])
			}
		})
	}
}

func TestQueryRows_CountIsFilteredTotal(t *testing.T) {
	def := testContactsDef()
	state := NewViewState(def.Info.Key, 5).
		WithFilter(ColumnFilter{Column: "company", Operator: OpEquals, Value: "acme"})

	page, err := QueryRows(def, contactRows(57), state)
	require.NoError(t, err)

	assert.EqualValues(t, 19, page.TotalCount)
	assert.Equal(t, 4, page.TotalPages)
	assert.Len(t, page.Rows, 5)
}

func TestQueryRows_Filters(t *testing.T) {
	def := testContactsDef()
	rows := contactRows(57)

	tests := []struct {
		name  string
		apply func(ViewState) ViewState
		want  int64
	}{
		{
			name:  "numeric gte",
			apply: func(s ViewState) ViewState { return s.WithFilter(ColumnFilter{"employee_count", OpGreaterEq, "500"}) },
			want:  7,
		},
		{
			name:  "numeric in",
			apply: func(s ViewState) ViewState { return s.WithFilter(ColumnFilter{"employee_count", OpIn, "10, 20,30"}) },
			want:  3,
		},
		{
			name:  "text starts with",
			apply: func(s ViewState) ViewState { return s.WithFilter(ColumnFilter{"email", OpStartsWith, "C0"}) },
			want:  10,
		},
		{
			name:  "text ends with",
			apply: func(s ViewState) ViewState { return s.WithFilter(ColumnFilter{"first_name", OpEndsWith, "name 7"}) },
			want:  1,
		},
		{
			name:  "enum in",
			apply: func(s ViewState) ViewState { return s.WithFilter(ColumnFilter{"lead_status", OpIn, "new,qualified"}) },
			want:  38,
		},
		{
			name:  "bool equals",
			apply: func(s ViewState) ViewState { return s.WithFilter(ColumnFilter{"email_opt_out", OpEquals, "yes"}) },
			want:  29,
		},
		{
			name: "date range inclusive",
			apply: func(s ViewState) ViewState {
				return s.WithDateRange(DateRange{Column: "last_activity_at", From: "2024-01-10", To: "2024-01-19"})
			},
			want: 10,
		},
		{
			name: "date open upper bound",
			apply: func(s ViewState) ViewState {
				return s.WithDateRange(DateRange{Column: "last_activity_at", From: "2024-02-20"})
			},
			want: 7,
		},
		{
			name: "group conditions are ORed",
			apply: func(s ViewState) ViewState {
				return s.WithGroupFilter(GroupFilter{Name: "targets", Conditions: []ColumnFilter{
					{"company", OpEquals, "Beta"},
					{"employee_count", OpLess, "30"},
				}})
			},
			want: 21,
		},
		{
			name: "filters are ANDed",
			apply: func(s ViewState) ViewState {
				return s.
					WithFilter(ColumnFilter{"company", OpEquals, "Acme"}).
					WithFilter(ColumnFilter{"email_opt_out", OpEquals, "true"})
			},
			want: 10,
		},
		{
			name:  "search",
			apply: func(s ViewState) ViewState { return s.WithSearch("GAMMA") },
			want:  19,
		},
		{
			name:  "search and filter",
			apply: func(s ViewState) ViewState { return s.WithSearch("gamma").WithFilter(ColumnFilter{"employee_count", OpLess, "100"}) },
			want:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := QueryRows(def, rows, tt.apply(NewViewState(def.Info.Key, 100)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, page.TotalCount)
			assert.Len(t, page.Rows, int(tt.want))
		})
	}
}

func TestQueryRows_NullsNeverMatch(t *testing.T) {
	def := testContactsDef()
	rows := []TableRow{
		{"email": "a@acme.test", "employee_count": nil, "company": ""},
		{"email": "b@acme.test", "employee_count": 5.0, "company": "Acme"},
	}

	state := NewViewState(def.Info.Key, 10).WithFilter(ColumnFilter{"employee_count", OpLess, "10"})
	page, err := QueryRows(def, rows, state)
	require.NoError(t, err)
	assert.Equal(t, []string{"b@acme.test"}, emails(page.Rows))

	state = NewViewState(def.Info.Key, 10).WithFilter(ColumnFilter{"company", OpContains, "a"})
	page, err = QueryRows(def, rows, state)
	require.NoError(t, err)
	assert.Equal(t, []string{"b@acme.test"}, emails(page.Rows))
}

func TestQueryRows_Sorting(t *testing.T) {
	def := testContactsDef()
	rows := []TableRow{
		{"email": "d@acme.test", "company": "Beta", "employee_count": 10.0},
		{"email": "b@acme.test", "company": nil, "employee_count": nil},
		{"email": "c@acme.test", "company": "acme", "employee_count": 30.0},
		{"email": "a@acme.test", "company": "Beta", "employee_count": 20.0},
	}
	base := NewViewState(def.Info.Key, 10)

	tests := []struct {
		name  string
		state ViewState
		want  []string
	}{
		{
			name:  "default email order",
			state: base,
			want:  []string{"a@acme.test", "b@acme.test", "c@acme.test", "d@acme.test"},
		},
		{
			name:  "text ascending case-insensitive, ties by email, nulls last",
			state: base.WithSort("company", SortAsc),
			want:  []string{"c@acme.test", "a@acme.test", "d@acme.test", "b@acme.test"},
		},
		{
			name:  "text descending keeps nulls last and email tie-break ascending",
			state: base.WithSort("company", SortDesc),
			want:  []string{"a@acme.test", "d@acme.test", "c@acme.test", "b@acme.test"},
		},
		{
			name:  "numeric descending",
			state: base.WithSort("employee_count", SortDesc),
			want:  []string{"c@acme.test", "a@acme.test", "d@acme.test", "b@acme.test"},
		},
		{
			name:  "unknown column falls back to email",
			state: base.WithSort("shoe_size", SortAsc),
			want:  []string{"a@acme.test", "b@acme.test", "c@acme.test", "d@acme.test"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := QueryRows(def, rows, tt.state)
			require.NoError(t, err)
			assert.Equal(t, tt.want, emails(page.Rows))
		})
	}
}

func TestQueryRows_LoadAll(t *testing.T) {
	def := testContactsDef()

	page, err := QueryRows(def, contactRows(57), NewViewState(def.Info.Key, 0))
	require.NoError(t, err)
	assert.Len(t, page.Rows, 57)
	assert.Equal(t, 1, page.TotalPages)

	page, err = QueryRows(def, nil, NewViewState(def.Info.Key, 0))
	require.NoError(t, err)
	assert.Empty(t, page.Rows)
	assert.Equal(t, 0, page.TotalPages)
}

func TestCompile_Errors(t *testing.T) {
	def := testContactsDef()
	base := NewViewState(def.Info.Key, 25)

	tests := []struct {
		name  string
		state ViewState
		want  string
	}{
		{"unknown column", base.WithFilter(ColumnFilter{"shoe_size", OpEquals, "9"}), "unknown filter column"},
		{"operator for wrong type", base.WithFilter(ColumnFilter{"company", OpGreater, "a"}), "not supported"},
		{"bool with contains", base.WithFilter(ColumnFilter{"email_opt_out", OpContains, "t"}), "not supported"},
		{"bad number", base.WithFilter(ColumnFilter{"employee_count", OpEquals, "lots"}), "invalid number"},
		{"bad date", base.WithFilter(ColumnFilter{"last_activity_at", OpEquals, "soon"}), "invalid date"},
		{"bad bool", base.WithFilter(ColumnFilter{"email_opt_out", OpEquals, "perhaps"}), "invalid boolean"},
		{"empty value", base.WithFilter(ColumnFilter{"company", OpEquals, "  "}), "filter value is empty"},
		{"empty in list", base.WithFilter(ColumnFilter{"company", OpIn, " , "}), "filter value is empty"},
		{"range on text column", base.WithDateRange(DateRange{Column: "company", From: "2024-01-01"}), "non-date column"},
		{"reversed range", base.WithDateRange(DateRange{Column: "last_activity_at", From: "2024-02-01", To: "2024-01-01"}), "ends before it starts"},
		{
			"bad condition inside group",
			base.WithGroupFilter(GroupFilter{Name: "g", Conditions: []ColumnFilter{{"nope", OpEquals, "x"}}}),
			"unknown filter column",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(def, tt.state)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewPage(t *testing.T) {
	state := NewViewState("t", 25)

	p := NewPage(nil, 0, state)
	assert.NotNil(t, p.Rows)
	assert.Equal(t, 0, p.TotalPages)

	p = NewPage(nil, 50, state)
	assert.Equal(t, 2, p.TotalPages)

	p = NewPage(nil, 51, state)
	assert.Equal(t, 3, p.TotalPages)
}

func TestValidOperator(t *testing.T) {
	assert.True(t, ValidOperator(OpContains, FieldText))
	assert.True(t, ValidOperator(OpIn, FieldEnum))
	assert.True(t, ValidOperator(OpLessEq, FieldDate))
	assert.False(t, ValidOperator(OpIn, FieldDate))
	assert.False(t, ValidOperator(OpContains, FieldNumeric))
	assert.False(t, ValidOperator(OpGreater, FieldBool))
	assert.False(t, ValidOperator("like", FieldText))
}
