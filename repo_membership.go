package botprompts

import (
	"context"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/lowtechclub/botprompts/repository"
	"github.com/uptrace/bun"
)

// RolesRepository is the sys_roles store
type RolesRepository struct {
	*repository.Repository[*Role, int64]
	db *bun.DB
}

func NewRolesRepository(db *bun.DB) *RolesRepository {
	repo := repository.NewRepository(db, repository.ModelHandlers[*Role, int64]{
		NewRecord: func() *Role { return &Role{} },
		GetID: func(r *Role) int64 {
			if r == nil {
				return 0
			}
			return r.ID
		},
		SetID: func(r *Role, id int64) {
			if r != nil {
				r.ID = id
			}
		},
	})
	return &RolesRepository{Repository: repo, db: db}
}

// GetByName looks a role up by exact name
func (r *RolesRepository) GetByName(ctx context.Context, name string) (*Role, error) {
	return r.GetByNameTx(ctx, r.db, name)
}

func (r *RolesRepository) GetByNameTx(ctx context.Context, tx bun.IDB, name string) (*Role, error) {
	record := &Role{}
	err := tx.NewSelect().
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
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load role by name")
	}
	return record, nil
}

// LoadPermissions populates role.Permissions with permissions
// reachable through active links.
func (r *RolesRepository) LoadPermissions(ctx context.Context, role *Role) error {
	if role == nil {
		return errors.New("role is required", errors.CategoryBadInput)
	}

	perms := []*Permission{}
	err := r.db.NewSelect().
		Model(&perms).
		Join("JOIN sys_roles_permissions AS rp ON rp.permission_id = ?TableAlias.id").
		Where("rp.role_id = ?", role.ID).
		Where("rp.is_active = TRUE").
		Where("?TableAlias.is_active = TRUE").
		OrderExpr("?TableAlias.id ASC").
		Scan(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to load role permissions")
	}

	role.Permissions = perms
	return nil
}

// PermissionsRepository is the sys_permissions store
type PermissionsRepository struct {
	*repository.Repository[*Permission, int64]
	db *bun.DB
}

func NewPermissionsRepository(db *bun.DB) *PermissionsRepository {
	repo := repository.NewRepository(db, repository.ModelHandlers[*Permission, int64]{
		NewRecord: func() *Permission { return &Permission{} },
		GetID: func(p *Permission) int64 {
			if p == nil {
				return 0
			}
			return p.ID
		},
		SetID: func(p *Permission, id int64) {
			if p != nil {
				p.ID = id
			}
		},
	})
	return &PermissionsRepository{Repository: repo, db: db}
}

// GetByName looks a permission up by exact name
func (r *PermissionsRepository) GetByName(ctx context.Context, name string) (*Permission, error) {
	record := &Permission{}
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
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load permission by name")
	}
	return record, nil
}

// MembershipRepository manages the user-role and role-permission join
// rows. Links are revoked softly so history survives; adding a link
// that was revoked earlier re-activates the existing row.
type MembershipRepository struct {
	db *bun.DB
}

func NewMembershipRepository(db *bun.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// HasUserRole reports whether an active link exists
func (m *MembershipRepository) HasUserRole(ctx context.Context, tx bun.IDB, userID uuid.UUID, roleID int64) (bool, error) {
	if tx == nil {
		tx = m.db
	}
	exists, err := tx.NewSelect().
		Model((*UserRole)(nil)).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.role_id = ?", roleID).
		Where("?TableAlias.is_active = TRUE").
		Exists(ctx)
	if err != nil {
		return false, errors.Wrap(err, errors.CategoryInternal, "failed to check user role link")
	}
	return exists, nil
}

// GrantUserRole creates or re-activates the link. Returns false when
// the link was already active (caller logs the no-op).
func (m *MembershipRepository) GrantUserRole(ctx context.Context, tx bun.IDB, userID uuid.UUID, roleID int64) (bool, error) {
	if tx == nil {
		tx = m.db
	}

	link := &UserRole{}
	err := tx.NewSelect().
		Model(link).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.role_id = ?", roleID).
		Limit(1).
		Scan(ctx)

	switch {
	case err == nil && link.IsActive:
		return false, nil
	case err == nil:
		_, uerr := tx.NewUpdate().
			Model(link).
			Set("is_active = TRUE").
			WherePK().
			Exec(ctx)
		if uerr != nil {
			return false, errors.Wrap(uerr, errors.CategoryInternal, "failed to re-activate user role link")
		}
		return true, nil
	case repository.IsRecordNotFound(err):
		_, ierr := tx.NewInsert().
			Model(&UserRole{UserID: userID, RoleID: roleID, IsActive: true}).
			Exec(ctx)
		if ierr != nil {
			return false, repository.WrapConstraintViolation(ierr, "failed to create user role link")
		}
		return true, nil
	default:
		return false, errors.Wrap(err, errors.CategoryInternal, "failed to load user role link")
	}
}

// RevokeUserRole soft-revokes the link. Returns false when no active
// link existed (caller logs the no-op).
func (m *MembershipRepository) RevokeUserRole(ctx context.Context, tx bun.IDB, userID uuid.UUID, roleID int64) (bool, error) {
	if tx == nil {
		tx = m.db
	}
	res, err := tx.NewUpdate().
		Model((*UserRole)(nil)).
		Set("is_active = FALSE").
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.role_id = ?", roleID).
		Where("?TableAlias.is_active = TRUE").
		Exec(ctx)
	if err != nil {
		return false, errors.Wrap(err, errors.CategoryInternal, "failed to revoke user role link")
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// RoleIDsForUser returns the role ids held through active links
func (m *MembershipRepository) RoleIDsForUser(ctx context.Context, tx bun.IDB, userID uuid.UUID) ([]int64, error) {
	if tx == nil {
		tx = m.db
	}
	var ids []int64
	err := tx.NewSelect().
		Model((*UserRole)(nil)).
		Column("ur.role_id").
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.is_active = TRUE").
		Scan(ctx, &ids)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to list user role links")
	}
	return ids, nil
}

// GrantRolePermission creates or re-activates a role-permission link.
// Returns false when the link was already active.
func (m *MembershipRepository) GrantRolePermission(ctx context.Context, tx bun.IDB, roleID, permissionID int64) (bool, error) {
	if tx == nil {
		tx = m.db
	}

	link := &RolePermission{}
	err := tx.NewSelect().
		Model(link).
		Where("?TableAlias.role_id = ?", roleID).
		Where("?TableAlias.permission_id = ?", permissionID).
		Limit(1).
		Scan(ctx)

	switch {
	case err == nil && link.IsActive:
		return false, nil
	case err == nil:
		_, uerr := tx.NewUpdate().
			Model(link).
			Set("is_active = TRUE").
			WherePK().
			Exec(ctx)
		if uerr != nil {
			return false, errors.Wrap(uerr, errors.CategoryInternal, "failed to re-activate role permission link")
		}
		return true, nil
	case repository.IsRecordNotFound(err):
		_, ierr := tx.NewInsert().
			Model(&RolePermission{RoleID: roleID, PermissionID: permissionID, IsActive: true}).
			Exec(ctx)
		if ierr != nil {
			return false, repository.WrapConstraintViolation(ierr, "failed to create role permission link")
		}
		return true, nil
	default:
		return false, errors.Wrap(err, errors.CategoryInternal, "failed to load role permission link")
	}
}

// RevokeRolePermission soft-revokes a role-permission link. Returns
// false when no active link existed.
func (m *MembershipRepository) RevokeRolePermission(ctx context.Context, tx bun.IDB, roleID, permissionID int64) (bool, error) {
	if tx == nil {
		tx = m.db
	}
	res, err := tx.NewUpdate().
		Model((*RolePermission)(nil)).
		Set("is_active = FALSE").
		Where("?TableAlias.role_id = ?", roleID).
		Where("?TableAlias.permission_id = ?", permissionID).
		Where("?TableAlias.is_active = TRUE").
		Exec(ctx)
	if err != nil {
		return false, errors.Wrap(err, errors.CategoryInternal, "failed to revoke role permission link")
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// PermissionIDsForRole returns the permission ids held through active
// links
func (m *MembershipRepository) PermissionIDsForRole(ctx context.Context, tx bun.IDB, roleID int64) ([]int64, error) {
	if tx == nil {
		tx = m.db
	}
	var ids []int64
	err := tx.NewSelect().
		Model((*RolePermission)(nil)).
		Column("rp.permission_id").
		Where("?TableAlias.role_id = ?", roleID).
		Where("?TableAlias.is_active = TRUE").
		Scan(ctx, &ids)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to list role permission links")
	}
	return ids, nil
}
