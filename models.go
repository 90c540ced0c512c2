package botprompts

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TokenType discriminates rows in the sys_users_tokens table
type TokenType = string

const (
	// TokenTypeAccess is a signed access token (not normally persisted)
	TokenTypeAccess TokenType = "access_token"
	// TokenTypeRefresh is a persisted, single-use refresh token
	TokenTypeRefresh TokenType = "refresh_token"
	// TokenTypeInvite is an opaque invitation token
	TokenTypeInvite TokenType = "invite_token"
	// TokenTypeVerification is a single-use email verification token
	TokenTypeVerification TokenType = "verification_token"
	// TokenTypePasswordReset is a single-use password reset token
	TokenTypePasswordReset TokenType = "password_reset"
)

const (
	// AccessTokenAudience is the audience claim on access tokens
	AccessTokenAudience = "users:access"
	// RefreshTokenAudience is the audience claim on refresh tokens
	RefreshTokenAudience = "users:refresh"
)

// RoleAuthenticatedUser is granted automatically when a user verifies
// their email address.
const RoleAuthenticatedUser = "authenticated_user"

// User is the sys_users model
type User struct {
	bun.BaseModel `bun:"table:sys_users,alias:usr"`
	ID            uuid.UUID `bun:"id,pk,type:uuid" json:"id,omitempty"`
	Email         string    `bun:"email,notnull,unique" json:"email,omitempty"`
	DisplayName   string    `bun:"display_name,notnull" json:"display_name,omitempty"`
	Password      string    `bun:"password,notnull" json:"-"`
	IsSuperuser   bool      `bun:"is_superuser,notnull" json:"is_superuser"`
	IsVerified    bool      `bun:"is_verified,notnull" json:"is_verified"`
	IsActive      bool      `bun:"is_active,notnull" json:"is_active"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at,omitempty"`

	// Roles is populated by an explicit repository call, never lazily.
	Roles []*Role `bun:"-" json:"roles,omitempty"`
}

// RoleNames returns the names of the roles held by the user
func (u *User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, r.Name)
	}
	return names
}

// Role is the sys_roles model. ParentRoleID is a self reference; cycles
// are not enforced against at the store level.
type Role struct {
	bun.BaseModel `bun:"table:sys_roles,alias:rol"`
	ID            int64     `bun:"id,pk,autoincrement" json:"id,omitempty"`
	Name          string    `bun:"name,notnull,unique" json:"name,omitempty"`
	DisplayName   string    `bun:"display_name" json:"display_name,omitempty"`
	Description   string    `bun:"description" json:"description,omitempty"`
	ParentRoleID  *int64    `bun:"parent_role_id" json:"parent_role_id,omitempty"`
	IsActive      bool      `bun:"is_active,notnull" json:"is_active"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at,omitempty"`

	// Permissions holds the permissions reachable through active links,
	// populated by an explicit repository call.
	Permissions []*Permission `bun:"-" json:"permissions,omitempty"`
}

// Permission is the sys_permissions model
type Permission struct {
	bun.BaseModel `bun:"table:sys_permissions,alias:perm"`
	ID            int64     `bun:"id,pk,autoincrement" json:"id,omitempty"`
	Name          string    `bun:"name,notnull,unique" json:"name,omitempty"`
	DisplayName   string    `bun:"display_name" json:"display_name,omitempty"`
	Description   string    `bun:"description" json:"description,omitempty"`
	IsActive      bool      `bun:"is_active,notnull" json:"is_active"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at,omitempty"`
}

// UserRole is the sys_users_roles join row. The link carries its own
// is_active flag so membership can be soft revoked.
type UserRole struct {
	bun.BaseModel `bun:"table:sys_users_roles,alias:ur"`
	ID            int64     `bun:"id,pk,autoincrement" json:"id,omitempty"`
	UserID        uuid.UUID `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	RoleID        int64     `bun:"role_id,notnull" json:"role_id,omitempty"`
	IsActive      bool      `bun:"is_active,notnull" json:"is_active"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at,omitempty"`
}

// RolePermission is the sys_roles_permissions join row. Only active
// links count towards a role's effective permission set.
type RolePermission struct {
	bun.BaseModel `bun:"table:sys_roles_permissions,alias:rp"`
	ID            int64     `bun:"id,pk,autoincrement" json:"id,omitempty"`
	RoleID        int64     `bun:"role_id,notnull" json:"role_id,omitempty"`
	PermissionID  int64     `bun:"permission_id,notnull" json:"permission_id,omitempty"`
	IsActive      bool      `bun:"is_active,notnull" json:"is_active"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at,omitempty"`
}

// Token is the sys_users_tokens model. Refresh, verification and
// password reset tokens are single use: redemption deletes the row.
type Token struct {
	bun.BaseModel    `bun:"table:sys_users_tokens,alias:tok"`
	ID               int64      `bun:"id,pk,autoincrement" json:"id,omitempty"`
	Type             TokenType  `bun:"token_type,notnull" json:"token_type,omitempty"`
	Token            string     `bun:"token,notnull" json:"token,omitempty"`
	NumUsesRemaining *int       `bun:"num_uses_remaining" json:"num_uses_remaining,omitempty"`
	UserID           *uuid.UUID `bun:"user_id,type:uuid" json:"user_id,omitempty"`
	ExpiresAt        *time.Time `bun:"expires_at" json:"expires_at,omitempty"`
	IsActive         bool       `bun:"is_active,notnull" json:"is_active"`
	CreatedAt        time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt        time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at,omitempty"`
}

// Usable reports whether the token may still be redeemed: it must be
// active, not expired, and have uses remaining (nil means unlimited).
func (t *Token) Usable(now time.Time) bool {
	if t == nil || !t.IsActive {
		return false
	}
	if t.Expired(now) {
		return false
	}
	if t.NumUsesRemaining != nil && *t.NumUsesRemaining <= 0 {
		return false
	}
	return true
}

// Expired reports whether the token has passed its expiry timestamp
func (t *Token) Expired(now time.Time) bool {
	return t != nil && t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// Variable is the sys_variables model. A variable is visible to a
// caller only if the caller holds at least one of the linked
// permissions, or the permission set is empty.
type Variable struct {
	bun.BaseModel `bun:"table:sys_variables,alias:vrb"`
	ID            int64     `bun:"id,pk,autoincrement" json:"id,omitempty"`
	Name          string    `bun:"name,notnull,unique" json:"name,omitempty"`
	DisplayName   string    `bun:"display_name" json:"display_name,omitempty"`
	Value         string    `bun:"value" json:"value,omitempty"`
	IsActive      bool      `bun:"is_active,notnull" json:"is_active"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at,omitempty"`

	Permissions []*Permission `bun:"-" json:"permissions,omitempty"`
}

// VariablePermission is the sys_variables_permissions join row
type VariablePermission struct {
	bun.BaseModel `bun:"table:sys_variables_permissions,alias:vp"`
	ID            int64     `bun:"id,pk,autoincrement" json:"id,omitempty"`
	VariableID    int64     `bun:"variable_id,notnull" json:"variable_id,omitempty"`
	PermissionID  int64     `bun:"permission_id,notnull" json:"permission_id,omitempty"`
	IsActive      bool      `bun:"is_active,notnull" json:"is_active"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at,omitempty"`
}

// Prompt is the prompts model
type Prompt struct {
	bun.BaseModel `bun:"table:prompts,alias:pmt"`
	ID            int64     `bun:"id,pk,autoincrement" json:"id,omitempty"`
	Slug          string    `bun:"slug,notnull,unique" json:"slug,omitempty"`
	IsActive      bool      `bun:"is_active,notnull" json:"is_active"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at,omitempty"`

	// Revision is the current revision; History is the full revision
	// trail. Both are populated by explicit repository calls.
	Revision *PromptRevision   `bun:"-" json:"revision,omitempty"`
	History  []*PromptRevision `bun:"-" json:"history,omitempty"`
}

// PromptRevision is the prompts_revisions model. Exactly one revision
// per prompt carries is_current=true.
type PromptRevision struct {
	bun.BaseModel `bun:"table:prompts_revisions,alias:rev"`
	ID            int64     `bun:"id,pk,autoincrement" json:"id,omitempty"`
	PromptID      int64     `bun:"prompt_id,notnull" json:"prompt_id,omitempty"`
	IsCurrent     bool      `bun:"is_current,notnull" json:"is_current"`
	Description   string    `bun:"description,notnull" json:"description,omitempty"`
	PromptText    string    `bun:"prompt_text,notnull" json:"prompt_text,omitempty"`
	IsActive      bool      `bun:"is_active,notnull" json:"is_active"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at,omitempty"`
}

// PromptHistory is the prompts_history model. One row is appended per
// prompt read by the background recorder; rows are never updated or
// deleted by the normal flow.
type PromptHistory struct {
	bun.BaseModel `bun:"table:prompts_history,alias:ph"`
	ID            int64     `bun:"id,pk,autoincrement" json:"id,omitempty"`
	PromptID      int64     `bun:"prompt_id,notnull" json:"prompt_id,omitempty"`
	RevisionID    int64     `bun:"revision_id,notnull" json:"revision_id,omitempty"`
	IsActive      bool      `bun:"is_active,notnull" json:"is_active"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at,omitempty"`
}
