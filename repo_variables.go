package botprompts

import (
	"context"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/lowtechclub/botprompts/repository"
	"github.com/uptrace/bun"
)

// VariablesRepository is the sys_variables store
type VariablesRepository struct {
	*repository.Repository[*Variable, int64]
	db *bun.DB
}

func NewVariablesRepository(db *bun.DB) *VariablesRepository {
	repo := repository.NewRepository(db, repository.ModelHandlers[*Variable, int64]{
		NewRecord: func() *Variable { return &Variable{} },
		GetID: func(v *Variable) int64 {
			if v == nil {
				return 0
			}
			return v.ID
		},
		SetID: func(v *Variable, id int64) {
			if v != nil {
				v.ID = id
			}
		},
	})
	return &VariablesRepository{Repository: repo, db: db}
}

// GetByName looks a variable up by exact name. Absent variables are a
// not-found, never an error the caller cannot branch on.
func (r *VariablesRepository) GetByName(ctx context.Context, name string) (*Variable, error) {
	record := &Variable{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.name = ?", strings.TrimSpace(name)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().WithMetadata(map[string]any{
				"name": name,
			})
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load variable by name")
	}
	return record, nil
}

// LoadPermissions populates variable.Permissions with the permissions
// required to read it, through active links only.
func (r *VariablesRepository) LoadPermissions(ctx context.Context, variable *Variable) error {
	if variable == nil {
		return errors.New("variable is required", errors.CategoryBadInput)
	}

	perms := []*Permission{}
	err := r.db.NewSelect().
		Model(&perms).
		Join("JOIN sys_variables_permissions AS vp ON vp.permission_id = ?TableAlias.id").
		Where("vp.variable_id = ?", variable.ID).
		Where("vp.is_active = TRUE").
		Where("?TableAlias.is_active = TRUE").
		OrderExpr("?TableAlias.id ASC").
		Scan(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to load variable permissions")
	}

	variable.Permissions = perms
	return nil
}

// ReplacePermissions swaps the variable's gating permission set in one
// transaction. An empty set makes the variable public.
func (r *VariablesRepository) ReplacePermissions(ctx context.Context, variable *Variable, permissions []*Permission) error {
	if variable == nil {
		return errors.New("variable is required", errors.CategoryBadInput)
	}

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*VariablePermission)(nil)).
			Where("variable_id = ?", variable.ID).
			Exec(ctx); err != nil {
			return err
		}

		for _, perm := range permissions {
			link := &VariablePermission{
				VariableID:   variable.ID,
				PermissionID: perm.ID,
				IsActive:     true,
			}
			if _, err := tx.NewInsert().Model(link).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to replace variable permissions")
	}

	variable.Permissions = permissions
	return nil
}
