package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/prospects/internal/core"
)

// RowTx is the part of a backend transaction the upsert needs.
type RowTx interface {
	Exec(ctx context.Context, query string, args ...any) error

	// QueryRow scans one row into dest. found is false when there is none.
	QueryRow(ctx context.Context, query string, args []any, dest ...any) (found bool, err error)
}

// Upserter writes import batches row by row inside one transaction. Each
// row runs under a savepoint so a failing row is rolled back alone and the
// batch continues; a transient error aborts the whole batch.
type Upserter struct {
	Dialect     Dialect
	IsTransient func(error) bool
	Timestamp   func(time.Time) any // bind form of created_at / updated_at
}

const savepoint = "import_row"

// UpsertRows applies rows in order. A row whose email already exists has
// only its supplied fields updated, and only when one of them changed; an
// unchanged row keeps its updated_at.
func (u Upserter) UpsertRows(ctx context.Context, tx RowTx, def core.TableDefinition, rows []core.ContactUpsert, now time.Time) (core.BatchOutcome, error) {
	var out core.BatchOutcome
	table := QuoteIdentifier(def.Info.Key)

	for _, rec := range rows {
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("upsert %s: %w", def.Info.Key, err)
		}

		if err := tx.Exec(ctx, "SAVEPOINT "+savepoint); err != nil {
			return out, u.wrap(def, err)
		}

		result, err := u.upsertRow(ctx, tx, table, def, rec, now)
		if err != nil {
			if u.IsTransient != nil && u.IsTransient(err) {
				return out, u.wrap(def, err)
			}
			if rbErr := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
				return out, u.wrap(def, rbErr)
			}
			out.Failures = append(out.Failures, core.FailedRow{
				Line:   rec.Line,
				Email:  rec.Email,
				Reason: "write failed: " + err.Error(),
			})
			continue
		}

		if err := tx.Exec(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
			return out, u.wrap(def, err)
		}
		switch result {
		case rowInserted:
			out.Inserted++
		case rowUpdated:
			out.Updated++
		default:
			out.Unchanged++
		}
	}
	return out, nil
}

func (u Upserter) wrap(def core.TableDefinition, err error) error {
	if u.IsTransient != nil && u.IsTransient(err) {
		return core.NewTransientIOError("upsert "+def.Info.Key, err)
	}
	return fmt.Errorf("upsert %s: %w", def.Info.Key, err)
}

type rowResult int

const (
	rowUnchanged rowResult = iota
	rowInserted
	rowUpdated
)

func (u Upserter) upsertRow(ctx context.Context, tx RowTx, table string, def core.TableDefinition, rec core.ContactUpsert, now time.Time) (rowResult, error) {
	var specs []core.FieldSpec
	for _, spec := range def.FieldSpecs {
		if spec.Name == core.FieldEmail {
			continue
		}
		if _, ok := rec.Fields[spec.Name]; ok {
			specs = append(specs, spec)
		}
	}

	selectCols := []string{QuoteIdentifier(ColumnID)}
	for _, spec := range specs {
		selectCols = append(selectCols, QuoteIdentifier(spec.Name))
	}
	var id any
	existing := make([]any, len(specs))
	dest := make([]any, 0, len(specs)+1)
	dest = append(dest, &id)
	for i := range existing {
		dest = append(dest, &existing[i])
	}

	// Stored rows may come from other ingestion paths with unnormalized
	// emails; the oldest matching row is the one updated.
	query := u.Dialect.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? ORDER BY %s LIMIT 1",
		strings.Join(selectCols, ", "), table, NormalizedEmailExpr, QuoteIdentifier(ColumnID)))
	found, err := tx.QueryRow(ctx, query, []any{core.NormalizeEmail(rec.Email)}, dest...)
	if err != nil {
		return rowUnchanged, err
	}

	if !found {
		cols := []string{QuoteIdentifier(core.FieldEmail)}
		args := []any{core.NormalizeEmail(rec.Email)}
		for _, spec := range specs {
			cols = append(cols, QuoteIdentifier(spec.Name))
			args = append(args, u.bindValue(spec, rec.Fields[spec.Name]))
		}
		cols = append(cols, ColumnCreatedAt, ColumnUpdatedAt)
		args = append(args, u.Timestamp(now), u.Timestamp(now))

		phs := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")
		insert := u.Dialect.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			table, strings.Join(cols, ", "), phs))
		return rowInserted, tx.Exec(ctx, insert, args...)
	}

	var sets []string
	var args []any
	for i, spec := range specs {
		next := rec.Fields[spec.Name]
		if sameValue(spec.Type, existing[i], next) {
			continue
		}
		sets = append(sets, QuoteIdentifier(spec.Name)+" = ?")
		args = append(args, u.bindValue(spec, next))
	}
	if len(sets) == 0 {
		return rowUnchanged, nil
	}
	sets = append(sets, ColumnUpdatedAt+" = ?")
	args = append(args, u.Timestamp(now), id)

	update := u.Dialect.Rebind(fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		table, strings.Join(sets, ", "), QuoteIdentifier(ColumnID)))
	return rowUpdated, tx.Exec(ctx, update, args...)
}

// bindValue converts an imported value to the form the driver expects.
func (u Upserter) bindValue(spec core.FieldSpec, v any) any {
	if spec.Type == core.FieldDate && !u.Dialect.DateAsText {
		if s, ok := v.(string); ok {
			if t, ok := core.ParseDate(s); ok {
				return t
			}
		}
	}
	return v
}

func sameValue(ft core.FieldType, stored, next any) bool {
	a := core.NormalizeValue(ft, stored)
	b := core.NormalizeValue(ft, next)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return core.FormatValue(a) == core.FormatValue(b)
}
