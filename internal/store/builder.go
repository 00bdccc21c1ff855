package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/prospects/internal/core"
)

// WhereBuilder renders a compiled query's predicate as a WHERE clause with
// bind arguments. It produces the same matches as core.CompiledQuery.Match:
// text comparisons are case-insensitive and NULL cells never match.
type WhereBuilder struct {
	d          Dialect
	conditions []string
	args       []any
	argIndex   int
}

// NewWhereBuilder creates an empty builder for d.
func NewWhereBuilder(d Dialect) *WhereBuilder {
	return &WhereBuilder{d: d, argIndex: 1}
}

func (wb *WhereBuilder) bind(v any) string {
	ph := wb.d.Placeholder(wb.argIndex)
	wb.argIndex++
	wb.args = append(wb.args, v)
	return ph
}

func (wb *WhereBuilder) dateArg(t time.Time) any {
	if wb.d.DateAsText {
		return t.Format("2006-01-02")
	}
	return t
}

// textExpr lowercases a column for case-insensitive comparison, casting
// non-text columns first.
func textExpr(spec core.FieldSpec) string {
	col := QuoteIdentifier(spec.Name)
	if spec.Type == core.FieldText || spec.Type == core.FieldEnum {
		return "LOWER(" + col + ")"
	}
	return "LOWER(CAST(" + col + " AS TEXT))"
}

// AddSearch adds a case-insensitive substring match OR'd across fields.
func (wb *WhereBuilder) AddSearch(term string, fields []core.FieldSpec) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" || len(fields) == 0 {
		return
	}
	pattern := "%" + escapeLike(term) + "%"
	parts := make([]string, len(fields))
	for i, spec := range fields {
		parts[i] = fmt.Sprintf(`%s LIKE %s ESCAPE '\'`, textExpr(spec), wb.bind(pattern))
	}
	wb.conditions = append(wb.conditions, "("+strings.Join(parts, " OR ")+")")
}

// AddCondition adds one AND'd column condition.
func (wb *WhereBuilder) AddCondition(c core.Condition) {
	if sql := wb.condition(c); sql != "" {
		wb.conditions = append(wb.conditions, sql)
	}
}

// AddGroup adds conditions OR'd together as one AND'd term.
func (wb *WhereBuilder) AddGroup(group []core.Condition) {
	var parts []string
	for _, c := range group {
		if sql := wb.condition(c); sql != "" {
			parts = append(parts, sql)
		}
	}
	if len(parts) == 0 {
		return
	}
	wb.conditions = append(wb.conditions, "("+strings.Join(parts, " OR ")+")")
}

// AddDateBound adds an inclusive date range.
func (wb *WhereBuilder) AddDateBound(b core.DateBound) {
	col := QuoteIdentifier(b.Field.Name)
	if b.From != nil {
		wb.conditions = append(wb.conditions, fmt.Sprintf("%s >= %s", col, wb.bind(wb.dateArg(*b.From))))
	}
	if b.To != nil {
		wb.conditions = append(wb.conditions, fmt.Sprintf("%s <= %s", col, wb.bind(wb.dateArg(*b.To))))
	}
}

var sqlOperators = map[core.FilterOperator]string{
	core.OpEquals:    "=",
	core.OpGreaterEq: ">=",
	core.OpLessEq:    "<=",
	core.OpGreater:   ">",
	core.OpLess:      "<",
}

// condition generates SQL for a single condition.
func (wb *WhereBuilder) condition(c core.Condition) string {
	col := QuoteIdentifier(c.Field.Name)

	switch c.Field.Type {
	case core.FieldNumeric:
		if c.Op == core.OpIn {
			phs := make([]string, len(c.Numbers))
			for i, n := range c.Numbers {
				phs[i] = wb.bind(n)
			}
			return fmt.Sprintf("%s IN (%s)", col, strings.Join(phs, ", "))
		}
		op, ok := sqlOperators[c.Op]
		if !ok || len(c.Numbers) == 0 {
			return ""
		}
		return fmt.Sprintf("%s %s %s", col, op, wb.bind(c.Numbers[0]))

	case core.FieldDate:
		op, ok := sqlOperators[c.Op]
		if !ok {
			return ""
		}
		return fmt.Sprintf("%s %s %s", col, op, wb.bind(wb.dateArg(c.Date)))

	case core.FieldBool:
		return fmt.Sprintf("%s = %s", col, wb.bind(c.Bool))

	default:
		if len(c.Text) == 0 {
			return ""
		}
		expr := textExpr(c.Field)
		switch c.Op {
		case core.OpContains:
			return fmt.Sprintf(`%s LIKE %s ESCAPE '\'`, expr, wb.bind("%"+escapeLike(c.Text[0])+"%"))
		case core.OpStartsWith:
			return fmt.Sprintf(`%s LIKE %s ESCAPE '\'`, expr, wb.bind(escapeLike(c.Text[0])+"%"))
		case core.OpEndsWith:
			return fmt.Sprintf(`%s LIKE %s ESCAPE '\'`, expr, wb.bind("%"+escapeLike(c.Text[0])))
		case core.OpIn:
			phs := make([]string, len(c.Text))
			for i, v := range c.Text {
				phs[i] = wb.bind(v)
			}
			return fmt.Sprintf("%s IN (%s)", expr, strings.Join(phs, ", "))
		default:
			op, ok := sqlOperators[c.Op]
			if !ok {
				return ""
			}
			return fmt.Sprintf("%s %s %s", expr, op, wb.bind(c.Text[0]))
		}
	}
}

// Build returns " WHERE ..." (or "" without conditions) and the arguments.
func (wb *WhereBuilder) Build() (string, []any) {
	if len(wb.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(wb.conditions, " AND "), wb.args
}

// NextArgIndex returns the index the next bind parameter will get.
func (wb *WhereBuilder) NextArgIndex() int {
	return wb.argIndex
}

// whereFor renders every part of q's predicate.
func whereFor(d Dialect, q core.CompiledQuery) *WhereBuilder {
	wb := NewWhereBuilder(d)
	wb.AddSearch(q.SearchTerm, q.SearchFields)
	for _, c := range q.Conditions {
		wb.AddCondition(c)
	}
	for _, g := range q.Groups {
		wb.AddGroup(g)
	}
	for _, b := range q.Dates {
		wb.AddDateBound(b)
	}
	return wb
}

// OrderBy renders q's ordering: the sort column with nulls last in either
// direction, then email ascending.
func OrderBy(q core.CompiledQuery) string {
	dir := "ASC"
	if q.SortDesc {
		dir = "DESC"
	}

	expr := QuoteIdentifier(q.SortField.Name)
	if q.SortField.Type == core.FieldText || q.SortField.Type == core.FieldEnum {
		expr = "LOWER(" + expr + ")"
	}

	parts := []string{fmt.Sprintf("%s %s NULLS LAST", expr, dir)}
	if q.SortField.Name != core.FieldEmail || q.SortDesc {
		parts = append(parts, QuoteIdentifier(core.FieldEmail)+" ASC")
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

// CountSQL counts the rows of def matching q.
func CountSQL(d Dialect, def core.TableDefinition, q core.CompiledQuery) (string, []any) {
	where, args := whereFor(d, q).Build()
	return fmt.Sprintf("SELECT COUNT(*) FROM %s%s", QuoteIdentifier(def.Info.Key), where), args
}

// SelectSQL selects def's columns for rows matching q in order. With paged
// set, q's Offset and Limit are applied.
func SelectSQL(d Dialect, def core.TableDefinition, q core.CompiledQuery, paged bool) (string, []any) {
	wb := whereFor(d, q)
	where, args := wb.Build()

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s%s%s",
		strings.Join(quoteColumns(def.Columns()), ", "),
		QuoteIdentifier(def.Info.Key),
		where,
		OrderBy(q),
	)
	if paged && q.Limit > 0 {
		n := wb.NextArgIndex()
		fmt.Fprintf(&b, " LIMIT %s OFFSET %s", d.Placeholder(n), d.Placeholder(n+1))
		args = append(args, q.Limit, q.Offset)
	}
	return b.String(), args
}

// RowFromValues builds a row from scanned values in def's column order.
func RowFromValues(def core.TableDefinition, values []any) core.TableRow {
	row := make(core.TableRow, len(def.FieldSpecs))
	for i, spec := range def.FieldSpecs {
		if i < len(values) {
			row[spec.Name] = core.NormalizeValue(spec.Type, values[i])
		} else {
			row[spec.Name] = nil
		}
	}
	return row
}
