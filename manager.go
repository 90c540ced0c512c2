package botprompts

import (
	"context"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/lowtechclub/botprompts/repository"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

// MinDisplayNameLength is the minimum accepted display name length
const MinDisplayNameLength = 5

// System variables holding the display name blocklists. Both store a
// comma separated list; quotes are stripped before matching. Commas or
// quotes inside a blocked name cannot be escaped, a known limitation.
const (
	VariableNameBlocklist         = "admin.blocklists.communitynames"
	VariableNameBlocklistPrefixes = "admin.blocklists.communitynames.prefixnames"
)

// Notifier sends user facing email. Implementations must not block the
// request path longer than one outbound send.
type Notifier interface {
	NotifyEmailVerification(ctx context.Context, email, displayName, token string) error
	NotifyAccountRecoveryToken(ctx context.Context, email, displayName, token string) error
	NotifyAccountRecentlyUpdated(ctx context.Context, email, displayName string) error
}

// Manager orchestrates users, roles, permissions and tokens into the
// registration, login, verification and reset flows.
type Manager struct {
	repos    RepositoryManager
	hasher   *PasswordHasher
	issuer   *TokenIssuer
	notifier Notifier
	logger   zerolog.Logger
}

func NewManager(repos RepositoryManager, hasher *PasswordHasher, issuer *TokenIssuer, notifier Notifier, logger zerolog.Logger) *Manager {
	return &Manager{
		repos:    repos,
		hasher:   hasher,
		issuer:   issuer,
		notifier: notifier,
		logger:   logger.With().Str("component", "manager").Logger(),
	}
}

// Issuer exposes the token issuer for the transport layer
func (m *Manager) Issuer() *TokenIssuer {
	return m.issuer
}

// Repos exposes the repository manager for the transport layer
func (m *Manager) Repos() RepositoryManager {
	return m.repos
}

// Hasher exposes the password hasher for the transport layer
func (m *Manager) Hasher() *PasswordHasher {
	return m.hasher
}

// LoginByEmail authenticates a user by email and password. The
// no-match branches still burn one hash operation so response latency
// does not reveal whether the account exists (CWE-208). A matching
// password hashed with outdated parameters is upgraded in place.
func (m *Manager) LoginByEmail(ctx context.Context, email, password string) (*User, error) {
	user, err := m.repos.Users().GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			m.hasher.DummyHash(password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.IsVerified {
		m.hasher.DummyHash(password)
		return nil, ErrInvalidCredentials
	}

	matched, newDigest, err := m.hasher.VerifyAndUpdate(password, user.Password)
	if err != nil {
		return nil, err
	}
	if !matched {
		return nil, ErrInvalidCredentials
	}

	if newDigest != "" {
		if _, err := m.repos.Users().Update(ctx, user, map[string]any{
			"password": newDigest,
		}); err != nil {
			return nil, err
		}
	}

	if err := m.repos.Users().LoadRoles(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// CreateUser validates and inserts a new user. The store's uniqueness
// constraints are the authoritative race guard; a constraint violation
// at commit time still reads as "already exists".
func (m *Manager) CreateUser(ctx context.Context, email, displayName, password string) (*User, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	if _, err := m.repos.Users().GetByEmail(ctx, email); err == nil {
		return nil, NewValidationError([]string{TextCodeEmailExists})
	} else if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	if _, err := m.repos.Users().GetByDisplayName(ctx, displayName); err == nil {
		return nil, NewValidationError([]string{TextCodeNameExists})
	} else if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	digest, err := m.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	user, err := m.repos.Users().Create(ctx, &User{
		Email:       strings.TrimSpace(email),
		DisplayName: strings.TrimSpace(displayName),
		Password:    digest,
	})
	if err != nil {
		if repository.IsConstraintViolation(err) {
			return nil, NewValidationError([]string{TextCodeEmailExists})
		}
		return nil, err
	}
	return user, nil
}

// CanCreateUser runs every registration check without side effects and
// reports all problems at once: password complexity, email uniqueness,
// display name length, uniqueness and the two blocklists.
func (m *Manager) CanCreateUser(ctx context.Context, email, displayName, password string) error {
	var problems []string

	if password != "" {
		if err := ValidatePassword(password); err != nil {
			problems = append(problems, ValidationReasons(err)...)
		}
	}

	if email != "" {
		if _, err := m.repos.Users().GetByEmail(ctx, email); err == nil {
			problems = append(problems, TextCodeEmailExists)
		} else if !repository.IsRecordNotFound(err) {
			return err
		}
	}

	if displayName != "" {
		nameProblem, err := m.checkDisplayName(ctx, displayName)
		if err != nil {
			return err
		}
		if nameProblem != "" {
			problems = append(problems, nameProblem)
		}
	}

	if len(problems) > 0 {
		return NewValidationError(problems)
	}
	return nil
}

// checkDisplayName returns the first display name problem found, or
// empty. Ordering matters: the store lookup and blocklist scans only
// run when the cheaper checks pass.
func (m *Manager) checkDisplayName(ctx context.Context, displayName string) (string, error) {
	trimmed := strings.TrimSpace(displayName)
	if len(trimmed) < MinDisplayNameLength {
		return TextCodeNameTooShort, nil
	}

	if _, err := m.repos.Users().GetByDisplayName(ctx, trimmed); err == nil {
		return TextCodeNameExists, nil
	} else if !repository.IsRecordNotFound(err) {
		return "", err
	}

	blocked, err := m.nameIsBlocked(ctx, trimmed)
	if err != nil {
		return "", err
	}
	if blocked {
		// blocked names report as taken so the list stays unguessable
		return TextCodeNameExists, nil
	}
	return "", nil
}

func (m *Manager) nameIsBlocked(ctx context.Context, name string) (bool, error) {
	lowered := strings.ToLower(name)

	verbatim, err := m.blocklistValues(ctx, VariableNameBlocklist)
	if err != nil {
		return false, err
	}
	for _, blocked := range verbatim {
		if lowered == strings.ToLower(blocked) {
			return true, nil
		}
	}

	prefixes, err := m.blocklistValues(ctx, VariableNameBlocklistPrefixes)
	if err != nil {
		return false, err
	}
	for _, blocked := range prefixes {
		if blocked != "" && strings.HasPrefix(lowered, strings.ToLower(blocked)) {
			return true, nil
		}
	}
	return false, nil
}

// blocklistValues loads a CSV blocklist variable. A missing variable
// means an empty list.
func (m *Manager) blocklistValues(ctx context.Context, variableName string) ([]string, error) {
	variable, err := m.repos.Variables().GetByName(ctx, variableName)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	cleaned := strings.ReplaceAll(variable.Value, `"`, "")
	return strings.Split(cleaned, ","), nil
}

// UpdateUser applies the given fields to a user, hashing a plaintext
// "password" field first. Authorization checks happen before this is
// called; it does not gate is_superuser changes.
func (m *Manager) UpdateUser(ctx context.Context, userID uuid.UUID, fields map[string]any) (*User, error) {
	if raw, ok := fields["password"]; ok {
		plaintext, ok := raw.(string)
		if !ok {
			return nil, errors.New("password must be a string", errors.CategoryBadInput)
		}
		digest, err := m.hasher.Hash(plaintext)
		if err != nil {
			return nil, err
		}
		fields["password"] = digest
	}

	user, err := m.repos.Users().Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return m.repos.Users().Update(ctx, user, fields)
}

// SetSuperuser flips the superuser flag, reloading the row first
func (m *Manager) SetSuperuser(ctx context.Context, userID uuid.UUID, superuser bool) (*User, error) {
	user, err := m.repos.Users().Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return m.repos.Users().Update(ctx, user, map[string]any{
		"is_superuser": superuser,
	})
}

// CreateVerificationToken issues a verification token for an
// unverified user and emails it. Older verification tokens die first.
func (m *Manager) CreateVerificationToken(ctx context.Context, user *User) (*Token, error) {
	if user == nil {
		return nil, errors.New("user is required", errors.CategoryBadInput)
	}
	if user.IsVerified {
		return nil, ErrUserAlreadyVerified
	}
	return m.issuer.IssueOpaque(ctx, user, TokenTypeVerification)
}

// VerifyUser redeems a verification token: it marks the user verified
// and active, grants the authenticated-user role and deletes the
// token. An expired token triggers an automatic replacement email but
// the call still fails with the original expiry error.
func (m *Manager) VerifyUser(ctx context.Context, tokenValue string) (*User, error) {
	token, err := m.repos.Tokens().GetByValue(ctx, tokenValue, TokenTypeVerification)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}

	if err := m.issuer.CheckUsable(token); err != nil {
		if errors.Is(err, ErrTokenExpired) && token.UserID != nil {
			m.resendVerification(ctx, *token.UserID)
		}
		return nil, err
	}

	if token.UserID == nil {
		return nil, ErrTokenInvalid
	}

	user, err := m.repos.Users().Get(ctx, *token.UserID)
	if err != nil {
		return nil, err
	}

	user, err = m.repos.Users().Update(ctx, user, map[string]any{
		"is_verified": true,
		"is_active":   true,
	})
	if err != nil {
		return nil, err
	}

	if err := m.issuer.Redeem(ctx, token); err != nil {
		return nil, err
	}

	role, err := m.repos.Roles().GetByName(ctx, RoleAuthenticatedUser)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "authenticated-user role is missing")
	}
	if _, err := m.repos.Membership().GrantUserRole(ctx, nil, user.ID, role.ID); err != nil {
		return nil, err
	}

	return user, nil
}

// ValidateSingleUseToken checks a persisted opaque token without
// consuming it.
func (m *Manager) ValidateSingleUseToken(ctx context.Context, tokenValue string, tokenType TokenType) error {
	token, err := m.repos.Tokens().GetByValue(ctx, tokenValue, tokenType)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrTokenInvalid
		}
		return err
	}
	return m.issuer.CheckUsable(token)
}

// resendVerification issues a replacement token and emails it. Used on
// the expired-verification path; failures are logged, not surfaced,
// because the caller is already reporting the expiry.
func (m *Manager) resendVerification(ctx context.Context, userID uuid.UUID) {
	user, err := m.repos.Users().Get(ctx, userID)
	if err != nil {
		m.logger.Error().Err(err).Msg("could not load user for verification resend")
		return
	}

	replacement, err := m.issuer.IssueOpaque(ctx, user, TokenTypeVerification)
	if err != nil {
		m.logger.Error().Err(err).Msg("could not issue replacement verification token")
		return
	}

	if m.notifier == nil {
		return
	}
	if err := m.notifier.NotifyEmailVerification(ctx, user.Email, user.DisplayName, replacement.Token); err != nil {
		m.logger.Error().Err(err).Msg("could not send replacement verification email")
	}
}

// RequestPasswordReset issues a reset token and emails it. When the
// email is unknown the same token generation work runs against a
// transient null user so timing stays flat, and nothing is persisted
// or sent. The caller never learns which branch ran.
func (m *Manager) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := m.repos.Users().GetByEmail(ctx, email)
	if err != nil {
		if !repository.IsRecordNotFound(err) {
			return err
		}
		null := m.NullUser()
		if _, gerr := GenerateToken(m.issuer.config.OpaqueLength); gerr != nil {
			m.logger.Error().Err(gerr).Msg("null-user token generation failed")
		}
		m.hasher.DummyHash(null.Email)
		return nil
	}

	token, err := m.issuer.IssueOpaque(ctx, user, TokenTypePasswordReset)
	if err != nil {
		return err
	}

	if m.notifier != nil {
		if err := m.notifier.NotifyAccountRecoveryToken(ctx, user.Email, user.DisplayName, token.Token); err != nil {
			m.logger.Error().Err(err).Msg("could not send recovery email")
		}
	}
	return nil
}

// FinalizePasswordReset redeems a reset token and stores the new
// password.
func (m *Manager) FinalizePasswordReset(ctx context.Context, tokenValue, newPassword string) error {
	token, err := m.repos.Tokens().GetByValue(ctx, tokenValue, TokenTypePasswordReset)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrTokenInvalid
		}
		return err
	}
	if err := m.issuer.CheckUsable(token); err != nil {
		return err
	}
	if token.UserID == nil {
		return ErrTokenInvalid
	}

	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	user, err := m.repos.Users().Get(ctx, *token.UserID)
	if err != nil {
		return err
	}

	digest, err := m.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if _, err := m.repos.Users().Update(ctx, user, map[string]any{
		"password": digest,
	}); err != nil {
		return err
	}

	if err := m.issuer.Redeem(ctx, token); err != nil {
		return err
	}

	if m.notifier != nil {
		if err := m.notifier.NotifyAccountRecentlyUpdated(ctx, user.Email, user.DisplayName); err != nil {
			m.logger.Error().Err(err).Msg("could not send account-updated email")
		}
	}
	return nil
}

// NullUser synthesizes a transient, never persisted user that drives
// the same hashing code path when the real account is unknown.
func (m *Manager) NullUser() *User {
	return &User{
		ID:    uuid.New(),
		Email: "null@localhost",
	}
}

// AddPermissionsToRole grants each permission, logging and skipping
// the ones already held. Zero permissions short-circuits without
// touching the store.
func (m *Manager) AddPermissionsToRole(ctx context.Context, role *Role, permissions []*Permission) error {
	if len(permissions) == 0 {
		m.logger.Warn().Str("role", role.Name).Msg("attempting to add zero permissions, skipping")
		return nil
	}
	for _, p := range permissions {
		granted, err := m.repos.Membership().GrantRolePermission(ctx, nil, role.ID, p.ID)
		if err != nil {
			return err
		}
		if !granted {
			m.logger.Warn().
				Str("role", role.Name).
				Str("permission", p.Name).
				Msg("role already has permission, skipping")
		}
	}
	return nil
}

// RemovePermissionsFromRole revokes each permission, logging and
// skipping the ones not held.
func (m *Manager) RemovePermissionsFromRole(ctx context.Context, role *Role, permissions []*Permission) error {
	if len(permissions) == 0 {
		m.logger.Warn().Str("role", role.Name).Msg("attempting to remove zero permissions, skipping")
		return nil
	}
	for _, p := range permissions {
		revoked, err := m.repos.Membership().RevokeRolePermission(ctx, nil, role.ID, p.ID)
		if err != nil {
			return err
		}
		if !revoked {
			m.logger.Warn().
				Str("role", role.Name).
				Str("permission", p.Name).
				Msg("role does not have permission, skipping")
		}
	}
	return nil
}

// AddRolesToUser grants each role, logging and skipping the ones
// already held.
func (m *Manager) AddRolesToUser(ctx context.Context, user *User, roles []*Role) error {
	if len(roles) == 0 {
		m.logger.Warn().Str("user", user.Email).Msg("attempting to add zero roles, skipping")
		return nil
	}
	for _, r := range roles {
		granted, err := m.repos.Membership().GrantUserRole(ctx, nil, user.ID, r.ID)
		if err != nil {
			return err
		}
		if !granted {
			m.logger.Warn().
				Str("user", user.Email).
				Str("role", r.Name).
				Msg("user already has role, skipping")
		}
	}
	return nil
}

// RemoveRolesFromUser revokes each role, logging and skipping the ones
// not held.
func (m *Manager) RemoveRolesFromUser(ctx context.Context, user *User, roles []*Role) error {
	if len(roles) == 0 {
		m.logger.Warn().Str("user", user.Email).Msg("attempting to remove zero roles, skipping")
		return nil
	}
	for _, r := range roles {
		revoked, err := m.repos.Membership().RevokeUserRole(ctx, nil, user.ID, r.ID)
		if err != nil {
			return err
		}
		if !revoked {
			m.logger.Warn().
				Str("user", user.Email).
				Str("role", r.Name).
				Msg("user does not have role, skipping")
		}
	}
	return nil
}

// SetRolePermissions reconciles a role's permission set against the
// desired ids with a symmetric diff: only the additions and removals
// touch the store, so unchanged links keep their updated_at.
func (m *Manager) SetRolePermissions(ctx context.Context, role *Role, desired []int64) error {
	return m.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := m.repos.Membership().PermissionIDsForRole(ctx, tx, role.ID)
		if err != nil {
			return err
		}

		toAdd, toRemove := diffIDs(current, desired)
		for _, id := range toAdd {
			if _, err := m.repos.Membership().GrantRolePermission(ctx, tx, role.ID, id); err != nil {
				return err
			}
		}
		for _, id := range toRemove {
			if _, err := m.repos.Membership().RevokeRolePermission(ctx, tx, role.ID, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetUserRoles reconciles a user's role set against the desired ids
// with a symmetric diff.
func (m *Manager) SetUserRoles(ctx context.Context, user *User, desired []int64) error {
	return m.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := m.repos.Membership().RoleIDsForUser(ctx, tx, user.ID)
		if err != nil {
			return err
		}

		toAdd, toRemove := diffIDs(current, desired)
		for _, id := range toAdd {
			if _, err := m.repos.Membership().GrantUserRole(ctx, tx, user.ID, id); err != nil {
				return err
			}
		}
		for _, id := range toRemove {
			if _, err := m.repos.Membership().RevokeUserRole(ctx, tx, user.ID, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// diffIDs computes the symmetric difference between the current and
// desired id sets.
func diffIDs(current, desired []int64) (toAdd, toRemove []int64) {
	have := make(map[int64]bool, len(current))
	for _, id := range current {
		have[id] = true
	}
	want := make(map[int64]bool, len(desired))
	for _, id := range desired {
		want[id] = true
	}

	for _, id := range desired {
		if !have[id] {
			toAdd = append(toAdd, id)
		}
	}
	for _, id := range current {
		if !want[id] {
			toRemove = append(toRemove, id)
		}
	}
	return toAdd, toRemove
}
