package httpapi_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/lowtechclub/botprompts"
	"github.com/lowtechclub/botprompts/config"
	"github.com/lowtechclub/botprompts/httpapi"
)

var apiSchema = []string{
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

type sentMail struct {
	kind        string
	email       string
	displayName string
	token       string
}

type captureNotifier struct {
	sent []sentMail
}

func (n *captureNotifier) NotifyEmailVerification(_ context.Context, email, displayName, token string) error {
	n.sent = append(n.sent, sentMail{"verification", email, displayName, token})
	return nil
}

func (n *captureNotifier) NotifyAccountRecoveryToken(_ context.Context, email, displayName, token string) error {
	n.sent = append(n.sent, sentMail{"recovery", email, displayName, token})
	return nil
}

func (n *captureNotifier) NotifyAccountRecentlyUpdated(_ context.Context, email, displayName string) error {
	n.sent = append(n.sent, sentMail{"updated", email, displayName, ""})
	return nil
}

func (n *captureNotifier) last(t *testing.T) sentMail {
	t.Helper()
	require.NotEmpty(t, n.sent)
	return n.sent[len(n.sent)-1]
}

type apiHarness struct {
	server   *httpapi.Server
	repos    botprompts.RepositoryManager
	manager  *botprompts.Manager
	notifier *captureNotifier
	cfg      *config.Config
}

func testConfig() *config.Config {
	return &config.Config{
		Env:      "development",
		LogLevel: "disabled",
		Server: config.ServerConfig{
			Listen:          ":0",
			CORSOrigins:     "*",
			RateLimitMax:    10000,
			RateLimitWindow: time.Minute,
		},
		Database: config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"},
		JWT: config.JWTConfig{
			SigningKey: "0123456789abcdef0123456789abcdef",
			Issuer:     "botprompts-test",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 24 * time.Hour,
		},
		Auth: config.AuthConfig{
			GuestRoleName:   "guest",
			BcryptCost:      4,
			VerificationTTL: time.Hour,
			ResetTTL:        time.Hour,
			OpaqueLength:    32,
		},
		Cookie: config.CookieConfig{
			Name:     "botprompts_refresh",
			Path:     "/api/v1/auth",
			Secure:   false,
			SameSite: "Lax",
		},
		Email: config.EmailConfig{Mode: "disabled", SiteName: "Bot Prompts", SiteURL: "http://localhost:8080"},
	}
}

func setupHarness(t *testing.T) *apiHarness {
	t.Helper()

	sqlDB, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	db := bun.NewDB(sqlDB, sqlitedialect.New())
	for _, ddl := range apiSchema {
		_, err := db.Exec(ddl)
		require.NoError(t, err)
	}
	t.Cleanup(func() {
		_ = db.Close()
		_ = sqlDB.Close()
	})

	cfg := testConfig()
	logger := zerolog.Nop()
	repos := botprompts.NewRepositoryManager(db)
	repos.MustValidate()

	issuer := botprompts.NewTokenIssuer(botprompts.TokenIssuerConfig{
		SigningKey:      []byte(cfg.JWT.SigningKey),
		Issuer:          cfg.JWT.Issuer,
		AccessTTL:       cfg.JWT.AccessTTL,
		RefreshTTL:      cfg.JWT.RefreshTTL,
		VerificationTTL: cfg.Auth.VerificationTTL,
		ResetTTL:        cfg.Auth.ResetTTL,
		OpaqueLength:    cfg.Auth.OpaqueLength,
	}, repos, logger)

	notifier := &captureNotifier{}
	manager := botprompts.NewManager(repos, botprompts.NewPasswordHasher(cfg.Auth.BcryptCost), issuer, notifier, logger)
	gate := botprompts.NewGate(repos, issuer, cfg.Auth.GuestRoleName, logger)
	prompts := botprompts.NewPromptsService(repos, logger)
	t.Cleanup(prompts.Close)
	variables := botprompts.NewVariablesService(repos, logger)

	server := httpapi.NewServer(cfg, manager, gate, prompts, variables, notifier, logger)

	harness := &apiHarness{
		server:   server,
		repos:    repos,
		manager:  manager,
		notifier: notifier,
		cfg:      cfg,
	}
	harness.seedBaseRoles(t)
	return harness
}

// seedBaseRoles installs the roles every deployment starts with
func (h *apiHarness) seedBaseRoles(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	_, err := h.repos.Roles().Create(ctx, &botprompts.Role{Name: "guest", IsActive: true})
	require.NoError(t, err)

	authRole, err := h.repos.Roles().Create(ctx, &botprompts.Role{
		Name:     botprompts.RoleAuthenticatedUser,
		IsActive: true,
	})
	require.NoError(t, err)

	for _, permName := range []string{"profile:view", "profile:edit"} {
		perm, err := h.repos.Permissions().Create(ctx, &botprompts.Permission{Name: permName, IsActive: true})
		require.NoError(t, err)
		_, err = h.repos.Membership().GrantRolePermission(ctx, nil, authRole.ID, perm.ID)
		require.NoError(t, err)
	}
}

func (h *apiHarness) grantPermission(t *testing.T, roleName, permName string) {
	t.Helper()
	ctx := context.Background()

	role, err := h.repos.Roles().GetByName(ctx, roleName)
	require.NoError(t, err)

	perm, err := h.repos.Permissions().GetByName(ctx, permName)
	if err != nil {
		perm, err = h.repos.Permissions().Create(ctx, &botprompts.Permission{Name: permName, IsActive: true})
		require.NoError(t, err)
	}
	_, err = h.repos.Membership().GrantRolePermission(ctx, nil, role.ID, perm.ID)
	require.NoError(t, err)
}

func (h *apiHarness) do(t *testing.T, method, path string, body any, mutate ...func(*http.Request)) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, m := range mutate {
		m(req)
	}

	resp, err := h.server.App().Test(req, -1)
	require.NoError(t, err)
	return resp
}

func withBearer(token string) func(*http.Request) {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func withCookie(cookie *http.Cookie) func(*http.Request) {
	return func(req *http.Request) {
		req.AddCookie(cookie)
	}
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out), "body: %s", raw)
}

func refreshCookie(t *testing.T, h *apiHarness, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, cookie := range resp.Cookies() {
		if cookie.Name == h.cfg.Cookie.Name {
			return cookie
		}
	}
	t.Fatal("no refresh cookie in response")
	return nil
}

// registerAndVerify walks the self-service signup flow over HTTP and
// returns the account's email.
func (h *apiHarness) registerAndVerify(t *testing.T, email, displayName, password string) {
	t.Helper()

	resp := h.do(t, http.MethodPost, "/api/v1/register", map[string]string{
		"email":        email,
		"display_name": displayName,
		"password":     password,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	mail := h.notifier.last(t)
	require.Equal(t, "verification", mail.kind)
	require.Equal(t, email, mail.email)

	resp = h.do(t, http.MethodPost, "/api/v1/verify", map[string]string{"token": mail.token})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func (h *apiHarness) login(t *testing.T, email, password string) (string, *http.Cookie) {
	t.Helper()

	resp := h.do(t, http.MethodPost, "/api/v1/auth/token", map[string]any{
		"email":    email,
		"password": password,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		AccessToken string `json:"access_token"`
	}
	decodeBody(t, resp, &body)
	require.NotEmpty(t, body.AccessToken)

	return body.AccessToken, refreshCookie(t, h, resp)
}

func TestHealthz(t *testing.T) {
	h := setupHarness(t)

	resp := h.do(t, http.MethodGet, "/api/v1/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSignupLoginProfileFlow(t *testing.T) {
	h := setupHarness(t)

	h.registerAndVerify(t, "arthur@example.com", "arthur-dent", "S0me-Secret!")
	token, _ := h.login(t, "arthur@example.com", "S0me-Secret!")

	resp := h.do(t, http.MethodGet, "/api/v1/profile", nil, withBearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var profile struct {
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
		Password    string `json:"password"`
		Roles       []struct {
			Name string `json:"name"`
		} `json:"roles"`
	}
	decodeBody(t, resp, &profile)
	assert.Equal(t, "arthur@example.com", profile.Email)
	assert.Equal(t, "arthur-dent", profile.DisplayName)
	assert.Empty(t, profile.Password, "password digest must never serialize")
	require.Len(t, profile.Roles, 1)
	assert.Equal(t, botprompts.RoleAuthenticatedUser, profile.Roles[0].Name)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	h := setupHarness(t)
	h.registerAndVerify(t, "ford@example.com", "ford-prefect", "S0me-Secret!")

	resp := h.do(t, http.MethodPost, "/api/v1/auth/token", map[string]any{
		"email":    "ford@example.com",
		"password": "wrong-Passw0rd!",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body struct {
		Error  bool   `json:"error"`
		Detail string `json:"detail"`
	}
	decodeBody(t, resp, &body)
	assert.True(t, body.Error)
	assert.Equal(t, botprompts.TextCodeInvalidCredentials, body.Detail)
}

func TestLoginPayloadFieldErrors(t *testing.T) {
	h := setupHarness(t)

	resp := h.do(t, http.MethodPost, "/api/v1/auth/token", map[string]any{
		"email": "not-an-email",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var body struct {
		Error  bool              `json:"error"`
		Detail map[string]string `json:"detail"`
	}
	decodeBody(t, resp, &body)
	assert.True(t, body.Error)
	assert.Contains(t, body.Detail, "email")
	assert.Contains(t, body.Detail, "password")
}

func TestRegisterReportsEveryProblem(t *testing.T) {
	h := setupHarness(t)
	h.registerAndVerify(t, "taken@example.com", "taken-name", "S0me-Secret!")

	resp := h.do(t, http.MethodPost, "/api/v1/register/validate", map[string]string{
		"email":        "taken@example.com",
		"display_name": "abc",
		"password":     "short",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Error  bool     `json:"error"`
		Detail []string `json:"detail"`
	}
	decodeBody(t, resp, &body)
	assert.True(t, body.Error)
	assert.Contains(t, body.Detail, botprompts.TextCodeEmailExists)
	assert.Contains(t, body.Detail, botprompts.TextCodeNameTooShort)
	assert.Contains(t, body.Detail, botprompts.TextCodePwLacksMinLength)
}

func TestRefreshRotation(t *testing.T) {
	h := setupHarness(t)
	h.registerAndVerify(t, "trillian@example.com", "trillian-astra", "S0me-Secret!")

	_, cookie := h.login(t, "trillian@example.com", "S0me-Secret!")

	resp := h.do(t, http.MethodPost, "/api/v1/auth/refresh", nil, withCookie(cookie))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rotated := refreshCookie(t, h, resp)
	assert.NotEqual(t, cookie.Value, rotated.Value)

	// the spent cookie is burned, replaying it must fail
	resp = h.do(t, http.MethodPost, "/api/v1/auth/refresh", nil, withCookie(cookie))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// the rotated one still works
	resp = h.do(t, http.MethodPost, "/api/v1/auth/refresh", nil, withCookie(rotated))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLogoutClearsCookie(t *testing.T) {
	h := setupHarness(t)
	h.registerAndVerify(t, "zaphod@example.com", "zaphod-beeblebrox", "S0me-Secret!")

	_, cookie := h.login(t, "zaphod@example.com", "S0me-Secret!")

	resp := h.do(t, http.MethodPost, "/api/v1/auth/logout", nil, withCookie(cookie))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cleared := refreshCookie(t, h, resp)
	assert.Empty(t, cleared.Value)

	resp = h.do(t, http.MethodPost, "/api/v1/auth/refresh", nil, withCookie(cookie))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestScopeEnforcement(t *testing.T) {
	h := setupHarness(t)
	h.registerAndVerify(t, "marvin@example.com", "marvin-android", "S0me-Secret!")
	token, _ := h.login(t, "marvin@example.com", "S0me-Secret!")

	// plain user is shut out of the admin surface
	resp := h.do(t, http.MethodGet, "/api/v1/sys/users", nil, withBearer(token))
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "sys:users:list")

	var body struct {
		Error  bool   `json:"error"`
		Detail string `json:"detail"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, botprompts.TextCodeNotEnoughPerms, body.Detail)

	// granting the permission through the role opens it up
	h.grantPermission(t, botprompts.RoleAuthenticatedUser, "sys:users:list")
	token, _ = h.login(t, "marvin@example.com", "S0me-Secret!")

	resp = h.do(t, http.MethodGet, "/api/v1/sys/users", nil, withBearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listing struct {
		Data  []map[string]any `json:"data"`
		Total int              `json:"total"`
	}
	decodeBody(t, resp, &listing)
	assert.Equal(t, 1, listing.Total)
}

func TestAnonymousIsGuest(t *testing.T) {
	h := setupHarness(t)

	// guests hold no profile permission
	resp := h.do(t, http.MethodGet, "/api/v1/profile", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// a garbage bearer token is a 401, not a guest downgrade
	resp = h.do(t, http.MethodGet, "/api/v1/profile", nil, withBearer("not-a-jwt"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSudoNeedsFreshLogin(t *testing.T) {
	h := setupHarness(t)
	h.registerAndVerify(t, "random@example.com", "random-dent", "S0me-Secret!")
	h.grantPermission(t, botprompts.RoleAuthenticatedUser, botprompts.ScopeSudo)

	token, cookie := h.login(t, "random@example.com", "S0me-Secret!")

	resp := h.do(t, http.MethodPost, "/api/v1/profile/sudo/add", nil, withBearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var user struct {
		IsSuperuser bool `json:"is_superuser"`
	}
	decodeBody(t, resp, &user)
	assert.True(t, user.IsSuperuser)

	// a token minted by rotation is not fresh, elevation must refuse it
	resp = h.do(t, http.MethodPost, "/api/v1/auth/refresh", nil, withCookie(cookie))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rotated struct {
		AccessToken string `json:"access_token"`
	}
	decodeBody(t, resp, &rotated)

	resp = h.do(t, http.MethodPost, "/api/v1/profile/sudo/add", nil, withBearer(rotated.AccessToken))
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), botprompts.ScopeFresh)

	resp = h.do(t, http.MethodPost, "/api/v1/profile/sudo/remove", nil, withBearer(rotated.AccessToken))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &user)
	assert.False(t, user.IsSuperuser)
}

func TestSuperuserBypassesScopes(t *testing.T) {
	h := setupHarness(t)
	h.registerAndVerify(t, "root@example.com", "root-of-all", "S0me-Secret!")

	ctx := context.Background()
	admin, err := h.repos.Users().GetByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	_, err = h.repos.Users().Update(ctx, admin, map[string]any{"is_superuser": true})
	require.NoError(t, err)

	token, _ := h.login(t, "root@example.com", "S0me-Secret!")

	resp := h.do(t, http.MethodGet, "/api/v1/sys/roles", nil, withBearer(token))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestResourceCRUDOverHTTP(t *testing.T) {
	h := setupHarness(t)
	h.registerAndVerify(t, "admin@example.com", "admin-user", "S0me-Secret!")

	ctx := context.Background()
	admin, err := h.repos.Users().GetByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	_, err = h.repos.Users().Update(ctx, admin, map[string]any{"is_superuser": true})
	require.NoError(t, err)
	token, _ := h.login(t, "admin@example.com", "S0me-Secret!")

	resp := h.do(t, http.MethodPost, "/api/v1/sys/roles", map[string]any{
		"name": "moderators", "is_active": true,
	}, withBearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var role struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	decodeBody(t, resp, &role)
	assert.Equal(t, "moderators", role.Name)

	// lookup works by id and by name
	resp = h.do(t, http.MethodGet, "/api/v1/sys/roles/moderators", nil, withBearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, http.MethodPut, "/api/v1/sys/roles/moderators", map[string]any{
		"description": "forum moderators",
	}, withBearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated struct {
		Description string `json:"description"`
	}
	decodeBody(t, resp, &updated)
	assert.Equal(t, "forum moderators", updated.Description)

	resp = h.do(t, http.MethodDelete, "/api/v1/sys/roles/moderators", nil, withBearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/api/v1/sys/roles/moderators", nil, withBearer(token))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMembershipRoutes(t *testing.T) {
	h := setupHarness(t)
	h.registerAndVerify(t, "admin@example.com", "admin-user", "S0me-Secret!")

	ctx := context.Background()
	admin, err := h.repos.Users().GetByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	_, err = h.repos.Users().Update(ctx, admin, map[string]any{"is_superuser": true})
	require.NoError(t, err)
	token, _ := h.login(t, "admin@example.com", "S0me-Secret!")

	role, err := h.repos.Roles().Create(ctx, &botprompts.Role{Name: "editors", IsActive: true})
	require.NoError(t, err)
	permA, err := h.repos.Permissions().Create(ctx, &botprompts.Permission{Name: "posts:edit", IsActive: true})
	require.NoError(t, err)
	permB, err := h.repos.Permissions().Create(ctx, &botprompts.Permission{Name: "posts:delete", IsActive: true})
	require.NoError(t, err)

	resp := h.do(t, http.MethodPost, "/api/v1/sys/roles/editors/perms", map[string]any{
		"permission_ids": []int64{permA.ID, permB.ID},
	}, withBearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Permissions []struct {
			Name string `json:"name"`
		} `json:"permissions"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.Permissions, 2)

	resp = h.do(t, http.MethodPost, "/api/v1/sys/roles/editors/perms/remove", map[string]any{
		"permission_ids": []int64{permA.ID},
	}, withBearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &body)
	require.Len(t, body.Permissions, 1)
	assert.Equal(t, "posts:delete", body.Permissions[0].Name)

	// user role assignment by display name
	resp = h.do(t, http.MethodPost, "/api/v1/sys/users/admin-user/roles/add", map[string]any{
		"role_ids": []int64{role.ID},
	}, withBearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var userBody struct {
		Roles []struct {
			Name string `json:"name"`
		} `json:"roles"`
	}
	decodeBody(t, resp, &userBody)
	names := make([]string, 0, len(userBody.Roles))
	for _, r := range userBody.Roles {
		names = append(names, r.Name)
	}
	assert.Contains(t, names, "editors")

	resp = h.do(t, http.MethodPost, "/api/v1/sys/roles/missing-role/perms", map[string]any{
		"permission_ids": []int64{permA.ID},
	}, withBearer(token))
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var errBody struct {
		Detail string `json:"detail"`
	}
	decodeBody(t, resp, &errBody)
	assert.Equal(t, botprompts.TextCodeRoleDoesNotExist, errBody.Detail)
}

func TestVariableValueVisibility(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	_, err := h.repos.Variables().Create(ctx, &botprompts.Variable{
		Name: "site.motd", Value: "hello", IsActive: true,
	})
	require.NoError(t, err)

	gated, err := h.repos.Variables().Create(ctx, &botprompts.Variable{
		Name: "ops.secret", Value: "hidden", IsActive: true,
	})
	require.NoError(t, err)
	perm, err := h.repos.Permissions().Create(ctx, &botprompts.Permission{Name: "ops:read", IsActive: true})
	require.NoError(t, err)
	_, err = h.repos.Variables().DB().NewInsert().Model(&botprompts.VariablePermission{
		VariableID: gated.ID, PermissionID: perm.ID, IsActive: true,
	}).Exec(ctx)
	require.NoError(t, err)

	// anonymous callers see ungated values only
	resp := h.do(t, http.MethodGet, "/api/v1/vars/site.motd", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var variable struct {
		Value string `json:"value"`
	}
	decodeBody(t, resp, &variable)
	assert.Equal(t, "hello", variable.Value)

	// a gated variable reads as missing, not forbidden
	resp = h.do(t, http.MethodGet, "/api/v1/vars/ops.secret", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	h.registerAndVerify(t, "ops@example.com", "ops-person", "S0me-Secret!")
	h.grantPermission(t, botprompts.RoleAuthenticatedUser, "ops:read")
	token, _ := h.login(t, "ops@example.com", "S0me-Secret!")

	resp = h.do(t, http.MethodGet, "/api/v1/vars/ops.secret", nil, withBearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &variable)
	assert.Equal(t, "hidden", variable.Value)
}

func TestVariableAdminRoutes(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	h.registerAndVerify(t, "admin@example.com", "admin-user", "S0me-Secret!")
	admin, err := h.repos.Users().GetByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	_, err = h.repos.Users().Update(ctx, admin, map[string]any{"is_superuser": true})
	require.NoError(t, err)
	token, _ := h.login(t, "admin@example.com", "S0me-Secret!")

	_, err = h.repos.Permissions().Create(ctx, &botprompts.Permission{Name: "ops:read", IsActive: true})
	require.NoError(t, err)

	// creating with an unknown permission name fails whole
	resp := h.do(t, http.MethodPost, "/api/v1/sys/variables", map[string]any{
		"name":        "ops.secret",
		"value":       "hidden",
		"permissions": []string{"no:such:permission"},
	}, withBearer(token))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var errBody struct {
		Detail string `json:"detail"`
	}
	decodeBody(t, resp, &errBody)
	assert.Equal(t, botprompts.TextCodeInvalidPermission, errBody.Detail)

	resp = h.do(t, http.MethodPost, "/api/v1/sys/variables", map[string]any{
		"name":         "ops.secret",
		"display_name": "Ops secret",
		"value":        "hidden",
		"permissions":  []string{"ops:read"},
	}, withBearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var created struct {
		ID          int64  `json:"id"`
		Value       string `json:"value"`
		Permissions []struct {
			Name string `json:"name"`
		} `json:"permissions"`
	}
	decodeBody(t, resp, &created)
	assert.Equal(t, "hidden", created.Value)
	require.Len(t, created.Permissions, 1)
	assert.Equal(t, "ops:read", created.Permissions[0].Name)

	// gated until its permission list is cleared
	resp = h.do(t, http.MethodGet, "/api/v1/vars/ops.secret", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.do(t, http.MethodPut, "/api/v1/sys/variables/ops.secret", map[string]any{
		"value":       "published",
		"permissions": []string{},
	}, withBearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/api/v1/vars/ops.secret", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var variable struct {
		Value string `json:"value"`
	}
	decodeBody(t, resp, &variable)
	assert.Equal(t, "published", variable.Value)
}

func TestPromptRoutes(t *testing.T) {
	h := setupHarness(t)
	h.registerAndVerify(t, "admin@example.com", "admin-user", "S0me-Secret!")

	ctx := context.Background()
	admin, err := h.repos.Users().GetByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	_, err = h.repos.Users().Update(ctx, admin, map[string]any{"is_superuser": true})
	require.NoError(t, err)
	token, _ := h.login(t, "admin@example.com", "S0me-Secret!")

	resp := h.do(t, http.MethodPost, "/api/v1/prompts", map[string]string{
		"name":        "Greeting Prompt",
		"description": "initial",
		"prompt_text": "Say hello.",
	}, withBearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var prompt struct {
		ID       int64  `json:"id"`
		Slug     string `json:"slug"`
		Revision struct {
			PromptText string `json:"prompt_text"`
		} `json:"revision"`
	}
	decodeBody(t, resp, &prompt)
	assert.Equal(t, "greeting-prompt", prompt.Slug)
	assert.Equal(t, "Say hello.", prompt.Revision.PromptText)

	resp = h.do(t, http.MethodGet, "/api/v1/prompts/detail/greeting-prompt", nil, withBearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/api/v1/prompts/current", nil, withBearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var current struct {
		Prompts []struct {
			Slug string `json:"slug"`
		} `json:"prompts"`
		Total int `json:"total"`
	}
	decodeBody(t, resp, &current)
	require.Equal(t, 1, current.Total)
	assert.Equal(t, "greeting-prompt", current.Prompts[0].Slug)

	// updating more than one prompt at a time is refused
	resp = h.do(t, http.MethodPut, "/api/v1/prompts", map[string]any{
		"ids":  []int64{prompt.ID, prompt.ID + 1},
		"data": map[string]string{"description": "x", "prompt_text": "y"},
	}, withBearer(token))
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	var errBody struct {
		Detail string `json:"detail"`
	}
	decodeBody(t, resp, &errBody)
	assert.Equal(t, botprompts.TextCodePromptUpdateOnlyOne, errBody.Detail)

	resp = h.do(t, http.MethodPut, "/api/v1/prompts", map[string]any{
		"ids":  []int64{prompt.ID},
		"data": map[string]string{"description": "rev two", "prompt_text": "Say hello twice."},
	}, withBearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &prompt)
	assert.Equal(t, "Say hello twice.", prompt.Revision.PromptText)

	resp = h.do(t, http.MethodGet, "/api/v1/prompts/detail/greeting-prompt?history=true", nil, withBearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var detailed struct {
		History []struct {
			PromptText string `json:"prompt_text"`
		} `json:"history"`
	}
	decodeBody(t, resp, &detailed)
	assert.Len(t, detailed.History, 2)

	resp = h.do(t, http.MethodDelete, "/api/v1/prompts/greeting-prompt", nil, withBearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/api/v1/prompts/detail/greeting-prompt", nil, withBearer(token))
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	decodeBody(t, resp, &errBody)
	assert.Equal(t, botprompts.TextCodePromptDoesNotExist, errBody.Detail)
}

func TestPasswordResetOverHTTP(t *testing.T) {
	h := setupHarness(t)
	h.registerAndVerify(t, "reset@example.com", "reset-person", "S0me-Secret!")

	resp := h.do(t, http.MethodPost, "/api/v1/reset/request", map[string]string{
		"email": "reset@example.com",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	mail := h.notifier.last(t)
	require.Equal(t, "recovery", mail.kind)

	resp = h.do(t, http.MethodPost, "/api/v1/reset/validate", map[string]string{"token": mail.token})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/api/v1/reset", map[string]string{
		"token":    mail.token,
		"password": "An0ther-Secret!",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// old password is out, new one works
	resp = h.do(t, http.MethodPost, "/api/v1/auth/token", map[string]any{
		"email": "reset@example.com", "password": "S0me-Secret!",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	h.login(t, "reset@example.com", "An0ther-Secret!")

	// unknown addresses get the same quiet 200
	resp = h.do(t, http.MethodPost, "/api/v1/reset/request", map[string]string{
		"email": "nobody@example.com",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// a burned token no longer validates
	resp = h.do(t, http.MethodPost, "/api/v1/reset/validate", map[string]string{"token": mail.token})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), botprompts.TextCodeTokenInvalid))
}
