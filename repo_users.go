package botprompts

import (
	"context"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/lowtechclub/botprompts/repository"
	"github.com/uptrace/bun"
)

// UsersRepository is the sys_users store. It layers user specific
// lookups over the generic adapter.
type UsersRepository struct {
	*repository.Repository[*User, uuid.UUID]
	db *bun.DB
}

func NewUsersRepository(db *bun.DB) *UsersRepository {
	repo := repository.NewRepository(db, repository.ModelHandlers[*User, uuid.UUID]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
	})

	return &UsersRepository{Repository: repo, db: db}
}

// Create assigns a fresh id when the record has none, then inserts
func (r *UsersRepository) Create(ctx context.Context, record *User) (*User, error) {
	return r.CreateTx(ctx, r.db, record)
}

func (r *UsersRepository) CreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error) {
	if record != nil && record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	return r.Repository.CreateTx(ctx, tx, record)
}

// GetByEmail looks a user up by exact email match
func (r *UsersRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.GetByEmailTx(ctx, r.db, email)
}

func (r *UsersRepository) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", strings.TrimSpace(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().WithMetadata(map[string]any{
				"email": email,
			})
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load user by email")
	}
	return record, nil
}

// GetByDisplayName looks a user up by display name, case-insensitively
func (r *UsersRepository) GetByDisplayName(ctx context.Context, name string) (*User, error) {
	record := &User{}
	err := r.db.NewSelect().
		Model(record).
		Where("LOWER(?TableAlias.display_name) = LOWER(?)", strings.TrimSpace(name)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().WithMetadata(map[string]any{
				"display_name": name,
			})
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load user by display name")
	}
	return record, nil
}

// LoadRoles populates user.Roles with the roles reachable through
// active membership links. Inactive roles and revoked links do not
// count.
func (r *UsersRepository) LoadRoles(ctx context.Context, user *User) error {
	return r.LoadRolesTx(ctx, r.db, user)
}

func (r *UsersRepository) LoadRolesTx(ctx context.Context, tx bun.IDB, user *User) error {
	if user == nil {
		return errors.New("user is required", errors.CategoryBadInput)
	}

	roles := []*Role{}
	err := tx.NewSelect().
		Model(&roles).
		Join("JOIN sys_users_roles AS ur ON ur.role_id = ?TableAlias.id").
		Where("ur.user_id = ?", user.ID).
		Where("ur.is_active = TRUE").
		Where("?TableAlias.is_active = TRUE").
		OrderExpr("?TableAlias.id ASC").
		Scan(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to load user roles")
	}

	user.Roles = roles
	return nil
}

// PermissionNames returns the deduplicated names of every permission
// reachable through the user's active roles and active links.
func (r *UsersRepository) PermissionNames(ctx context.Context, userID uuid.UUID) ([]string, error) {
	var names []string
	err := r.db.NewSelect().
		Model((*Permission)(nil)).
		Column("perm.name").
		Join("JOIN sys_roles_permissions AS rp ON rp.permission_id = ?TableAlias.id").
		Join("JOIN sys_users_roles AS ur ON ur.role_id = rp.role_id").
		Where("ur.user_id = ?", userID).
		Where("ur.is_active = TRUE").
		Where("rp.is_active = TRUE").
		Where("?TableAlias.is_active = TRUE").
		GroupExpr("?TableAlias.name").
		Scan(ctx, &names)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load user permissions")
	}
	return names, nil
}
