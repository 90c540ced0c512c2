package botprompts_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/lowtechclub/botprompts"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

var testSchema = []string{
	`CREATE TABLE sys_users (
		id TEXT NOT NULL PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		password TEXT NOT NULL,
		is_superuser BOOLEAN NOT NULL DEFAULT FALSE,
		is_verified BOOLEAN NOT NULL DEFAULT FALSE,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE sys_roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		display_name TEXT,
		description TEXT,
		parent_role_id INTEGER,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE sys_permissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		display_name TEXT,
		description TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE sys_users_roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		role_id INTEGER NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (user_id, role_id)
	);`,
	`CREATE TABLE sys_roles_permissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		role_id INTEGER NOT NULL,
		permission_id INTEGER NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (role_id, permission_id)
	);`,
	`CREATE TABLE sys_users_tokens (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		token_type TEXT NOT NULL,
		token TEXT NOT NULL,
		num_uses_remaining INTEGER,
		user_id TEXT,
		expires_at TIMESTAMP,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE sys_variables (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		display_name TEXT,
		value TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE sys_variables_permissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		variable_id INTEGER NOT NULL,
		permission_id INTEGER NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (variable_id, permission_id)
	);`,
	`CREATE TABLE prompts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		slug TEXT NOT NULL UNIQUE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE prompts_revisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		prompt_id INTEGER NOT NULL,
		is_current BOOLEAN NOT NULL DEFAULT FALSE,
		description TEXT NOT NULL,
		prompt_text TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE prompts_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		prompt_id INTEGER NOT NULL,
		revision_id INTEGER NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
}

func setupTestRepos(t *testing.T) (botprompts.RepositoryManager, *bun.DB) {
	t.Helper()

	db, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())
	for _, ddl := range testSchema {
		_, err := bunDB.Exec(ddl)
		require.NoError(t, err)
	}

	t.Cleanup(func() {
		_ = bunDB.Close()
		_ = db.Close()
	})

	repos := botprompts.NewRepositoryManager(bunDB)
	repos.MustValidate()
	return repos, bunDB
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testIssuer(repos botprompts.RepositoryManager) *botprompts.TokenIssuer {
	return botprompts.NewTokenIssuer(botprompts.TokenIssuerConfig{
		SigningKey:      []byte("test-signing-key"),
		Issuer:          "botprompts-test",
		AccessTTL:       15 * time.Minute,
		RefreshTTL:      24 * time.Hour,
		VerificationTTL: time.Hour,
		ResetTTL:        time.Hour,
		OpaqueLength:    32,
	}, repos, testLogger())
}

func seedUser(t *testing.T, repos botprompts.RepositoryManager, email, name string, superuser bool) *botprompts.User {
	t.Helper()

	user, err := repos.Users().Create(context.Background(), &botprompts.User{
		Email:       email,
		DisplayName: name,
		Password:    "$2a$04$notarealhashnotarealhashnotarealhash",
		IsSuperuser: superuser,
		IsVerified:  true,
		IsActive:    true,
	})
	require.NoError(t, err)
	return user
}

func seedPermission(t *testing.T, repos botprompts.RepositoryManager, permName string) *botprompts.Permission {
	t.Helper()
	ctx := context.Background()

	if perm, err := repos.Permissions().GetByName(ctx, permName); err == nil {
		return perm
	}
	perm, err := repos.Permissions().Create(ctx, &botprompts.Permission{
		Name:     permName,
		IsActive: true,
	})
	require.NoError(t, err)
	return perm
}

func seedRoleWithPermissions(t *testing.T, repos botprompts.RepositoryManager, roleName string, permNames ...string) *botprompts.Role {
	t.Helper()
	ctx := context.Background()

	role, err := repos.Roles().Create(ctx, &botprompts.Role{
		Name:     roleName,
		IsActive: true,
	})
	require.NoError(t, err)

	for _, permName := range permNames {
		perm := seedPermission(t, repos, permName)
		_, err = repos.Membership().GrantRolePermission(ctx, nil, role.ID, perm.ID)
		require.NoError(t, err)
	}
	return role
}
