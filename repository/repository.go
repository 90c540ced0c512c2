package repository

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// Sort directions accepted by GetMany. Anything other than DESC
// (case-insensitive) sorts ascending.
const (
	SortAsc  = "ASC"
	SortDesc = "DESC"
)

// Criteria narrows a GetMany call. Filter keys that do not name a
// mapped column are ignored. RangeStart <= 0 means no offset and
// RangeEnd <= 0 means no limit.
type Criteria struct {
	Filter        map[string]any
	SortField     string
	SortDirection string
	RangeStart    int
	RangeEnd      int
}

// ModelHandlers provides the type-specific glue the generic repository
// cannot derive on its own.
type ModelHandlers[T any, I comparable] struct {
	NewRecord func() T
	GetID     func(T) I
	SetID     func(T, I)
}

// Repository is a generic CRUD adapter over one bun model. All
// mutating operations commit immediately and return the record as the
// store now holds it.
type Repository[T any, I comparable] struct {
	db       *bun.DB
	meta     *metadata
	handlers ModelHandlers[T, I]
}

// NewRepository builds a repository for T. It panics when T is not a
// mappable bun model; that is a programmer error caught at startup.
func NewRepository[T any, I comparable](db *bun.DB, handlers ModelHandlers[T, I]) *Repository[T, I] {
	meta, err := modelMetadata(handlers.NewRecord())
	if err != nil {
		panic(fmt.Sprintf("repository: %v", err))
	}
	return &Repository[T, I]{
		db:       db,
		meta:     meta,
		handlers: handlers,
	}
}

// DB exposes the underlying handle for callers that need to open a
// transaction spanning several repositories.
func (r *Repository[T, I]) DB() *bun.DB {
	return r.db
}

// NewRecord returns an empty record of the repository's model type
func (r *Repository[T, I]) NewRecord() T {
	return r.handlers.NewRecord()
}

// Get returns the record with the given id, or a not-found error
func (r *Repository[T, I]) Get(ctx context.Context, id I) (T, error) {
	return r.GetTx(ctx, r.db, id)
}

func (r *Repository[T, I]) GetTx(ctx context.Context, tx bun.IDB, id I) (T, error) {
	var zero T
	record := r.handlers.NewRecord()

	err := tx.NewSelect().
		Model(record).
		Where(fmt.Sprintf("?TableAlias.%s = ?", r.meta.pk.name), id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, NewRecordNotFound().WithMetadata(map[string]any{
				"id": fmt.Sprint(id),
			})
		}
		return zero, errors.Wrap(err, errors.CategoryInternal, "failed to load record")
	}
	return record, nil
}

// GetByIDs returns the records matching any of the given ids. Missing
// ids are not an error and the result order is unspecified.
func (r *Repository[T, I]) GetByIDs(ctx context.Context, ids []I) ([]T, error) {
	return r.GetByIDsTx(ctx, r.db, ids)
}

func (r *Repository[T, I]) GetByIDsTx(ctx context.Context, tx bun.IDB, ids []I) ([]T, error) {
	records := []T{}
	if len(ids) == 0 {
		return records, nil
	}

	err := tx.NewSelect().
		Model(&records).
		Where(fmt.Sprintf("?TableAlias.%s IN (?)", r.meta.pk.name), bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load records")
	}
	return records, nil
}

// GetMany returns records narrowed by the criteria. Text columns match
// case-insensitively, identifier-like columns match exactly.
func (r *Repository[T, I]) GetMany(ctx context.Context, criteria Criteria) ([]T, error) {
	return r.GetManyTx(ctx, r.db, criteria)
}

func (r *Repository[T, I]) GetManyTx(ctx context.Context, tx bun.IDB, criteria Criteria) ([]T, error) {
	records := []T{}
	q := tx.NewSelect().Model(&records)

	// walk columns in declaration order so generated SQL is stable
	for _, name := range r.meta.order {
		value, ok := criteria.Filter[name]
		if !ok {
			continue
		}
		col := r.meta.columns[name]
		if _, isString := value.(string); isString && col.isText {
			q = q.Where(fmt.Sprintf("LOWER(?TableAlias.%s) LIKE LOWER(?)", name), value)
		} else {
			q = q.Where(fmt.Sprintf("?TableAlias.%s = ?", name), value)
		}
	}

	sortField := criteria.SortField
	if sortField == "" {
		sortField = r.meta.pk.name
	}
	if r.meta.has(sortField) {
		dir := SortAsc
		if criteria.SortDirection == SortDesc || criteria.SortDirection == "desc" {
			dir = SortDesc
		}
		q = q.OrderExpr(fmt.Sprintf("?TableAlias.%s %s", sortField, dir))
	}

	if criteria.RangeStart > 0 {
		q = q.Offset(criteria.RangeStart)
	}
	if criteria.RangeEnd > 0 {
		q = q.Limit(criteria.RangeEnd)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to list records")
	}
	return records, nil
}

// TotalRows counts every row in the table, ignoring any filter. Paged
// listings report this alongside the filtered page, so the two can
// disagree when a filter is active.
func (r *Repository[T, I]) TotalRows(ctx context.Context) (int, error) {
	return r.TotalRowsTx(ctx, r.db)
}

func (r *Repository[T, I]) TotalRowsTx(ctx context.Context, tx bun.IDB) (int, error) {
	count, err := tx.NewSelect().Model(r.handlers.NewRecord()).Count(ctx)
	if err != nil {
		return 0, errors.Wrap(err, errors.CategoryInternal, "failed to count records")
	}
	return count, nil
}

// Create inserts the record and returns it as stored, with database
// generated columns populated.
func (r *Repository[T, I]) Create(ctx context.Context, record T) (T, error) {
	return r.CreateTx(ctx, r.db, record)
}

func (r *Repository[T, I]) CreateTx(ctx context.Context, tx bun.IDB, record T) (T, error) {
	var zero T
	_, err := tx.NewInsert().
		Model(record).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return zero, WrapConstraintViolation(err, "failed to create record")
	}
	return record, nil
}

// Update applies the given fields to the record and persists only the
// ones whose value actually changed. When nothing changed the store is
// not touched at all. Unknown field names are ignored.
func (r *Repository[T, I]) Update(ctx context.Context, record T, fields map[string]any) (T, error) {
	return r.UpdateTx(ctx, r.db, record, fields)
}

func (r *Repository[T, I]) UpdateTx(ctx context.Context, tx bun.IDB, record T, fields map[string]any) (T, error) {
	var zero T

	changed := make([]string, 0, len(fields))
	for name, value := range fields {
		current, ok := r.meta.fieldValue(record, name)
		if !ok {
			continue
		}
		if valuesEqual(current, value) {
			continue
		}
		if err := r.meta.setFieldValue(record, name, value); err != nil {
			return zero, err
		}
		changed = append(changed, name)
	}

	if len(changed) == 0 {
		return record, nil
	}

	if r.meta.has("updated_at") {
		if err := r.meta.setFieldValue(record, "updated_at", time.Now()); err == nil {
			changed = append(changed, "updated_at")
		}
	}
	sort.Strings(changed)

	_, err := tx.NewUpdate().
		Model(record).
		Column(changed...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return zero, WrapConstraintViolation(err, "failed to update record")
	}
	return record, nil
}

// Delete removes the record. The default is a soft delete flipping
// is_active through the update path; hard removes the row physically.
func (r *Repository[T, I]) Delete(ctx context.Context, record T, hard bool) error {
	return r.DeleteTx(ctx, r.db, record, hard)
}

func (r *Repository[T, I]) DeleteTx(ctx context.Context, tx bun.IDB, record T, hard bool) error {
	if !hard {
		_, err := r.UpdateTx(ctx, tx, record, map[string]any{"is_active": false})
		return err
	}

	_, err := tx.NewDelete().
		Model(record).
		WherePK().
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to delete record")
	}
	return nil
}

// valuesEqual compares a current field value against an incoming one,
// tolerating the pointer-vs-value mismatch callers naturally produce.
func valuesEqual(current, incoming any) bool {
	if reflect.DeepEqual(current, incoming) {
		return true
	}
	cv := reflect.ValueOf(current)
	if cv.Kind() == reflect.Ptr && !cv.IsNil() && incoming != nil {
		return reflect.DeepEqual(cv.Elem().Interface(), incoming)
	}
	return false
}
