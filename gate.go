package botprompts

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-errors"
	"github.com/lowtechclub/botprompts/repository"
	"github.com/rs/zerolog"
)

// Identity is the resolved caller of a request: an authenticated user
// with their token claims, or the guest identity when no token was
// presented.
type Identity struct {
	User      *User
	Claims    *Claims
	Guest     bool
	satisfied map[string]bool
	superuser bool
}

// Satisfies reports whether the identity holds the given scope
func (id *Identity) Satisfies(scope string) bool {
	if id.superuser {
		return true
	}
	return id.satisfied[scope]
}

// SatisfiedScopes returns the scope set the identity holds, sorted
// order not guaranteed. Superusers satisfy everything regardless.
func (id *Identity) SatisfiedScopes() []string {
	out := make([]string, 0, len(id.satisfied))
	for s := range id.satisfied {
		out = append(out, s)
	}
	return out
}

// Gate resolves callers and checks them against the scopes an
// operation requires. The guest role is resolved once per process and
// cached; call ResolveGuest before serving traffic so a missing role
// fails at startup instead of on the first anonymous request.
type Gate struct {
	repos         RepositoryManager
	issuer        *TokenIssuer
	guestRoleName string
	logger        zerolog.Logger

	guestOnce  sync.Once
	guestPerms map[string]bool
	guestErr   error
}

func NewGate(repos RepositoryManager, issuer *TokenIssuer, guestRoleName string, logger zerolog.Logger) *Gate {
	return &Gate{
		repos:         repos,
		issuer:        issuer,
		guestRoleName: guestRoleName,
		logger:        logger.With().Str("component", "gate").Logger(),
	}
}

// ResolveGuest loads the configured guest role and caches its
// permission set. Safe to call concurrently; only the first call does
// work. A missing guest role is a configuration error.
func (g *Gate) ResolveGuest(ctx context.Context) error {
	g.guestOnce.Do(func() {
		role, err := g.repos.Roles().GetByName(ctx, g.guestRoleName)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				g.guestErr = errors.New(
					fmt.Sprintf("guest role %q is not configured", g.guestRoleName),
					errors.CategoryInternal,
				).WithCode(errors.CodeInternal)
				return
			}
			g.guestErr = err
			return
		}

		if err := g.repos.Roles().LoadPermissions(ctx, role); err != nil {
			g.guestErr = err
			return
		}

		perms := make(map[string]bool, len(role.Permissions))
		for _, p := range role.Permissions {
			perms[p.Name] = true
		}
		g.guestPerms = perms
		g.logger.Info().
			Str("role", g.guestRoleName).
			Int("permissions", len(perms)).
			Msg("guest role resolved")
	})
	return g.guestErr
}

// Authorize resolves the caller from a bearer token (empty string
// means no token) and checks it against the required scopes. With a
// non-empty requirement, the caller passes when at least one required
// scope is satisfied. An empty requirement only asks for a valid
// identity.
func (g *Gate) Authorize(ctx context.Context, tokenString string, required []string) (*Identity, error) {
	if tokenString == "" {
		return g.authorizeGuest(ctx, required)
	}

	claims, err := g.issuer.Decode(tokenString, AccessTokenAudience)
	if err != nil {
		return nil, err
	}

	userID, err := claims.UserID()
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	user, err := g.repos.Users().Get(ctx, userID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	// a token can outlive the account it was minted for
	if !user.IsActive || !user.IsVerified {
		g.logger.Warn().Str("user", user.Email).Msg("token for a disabled account")
		return nil, ErrAccountDisabled
	}

	identity := &Identity{
		User:      user,
		Claims:    claims,
		superuser: user.IsSuperuser,
		satisfied: map[string]bool{},
	}

	for _, s := range claims.Scopes() {
		identity.satisfied[s] = true
	}
	permNames, err := g.repos.Users().PermissionNames(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	for _, name := range permNames {
		identity.satisfied[name] = true
	}

	if identity.superuser {
		g.logger.Debug().
			Str("user", user.Email).
			Strs("required", required).
			Msg("superuser bypass")
		return identity, nil
	}

	if !anySatisfied(identity, required) {
		g.logger.Warn().
			Str("user", user.Email).
			Strs("required", required).
			Msg("insufficient scope")
		return nil, ErrNotEnoughPermissions
	}
	return identity, nil
}

func (g *Gate) authorizeGuest(ctx context.Context, required []string) (*Identity, error) {
	if err := g.ResolveGuest(ctx); err != nil {
		return nil, err
	}

	identity := &Identity{
		Guest:     true,
		satisfied: g.guestPerms,
	}
	if !anySatisfied(identity, required) {
		return nil, ErrNotEnoughPermissions
	}
	return identity, nil
}

func anySatisfied(id *Identity, required []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, scope := range required {
		if id.Satisfies(scope) {
			return true
		}
	}
	return false
}

// Challenge builds the WWW-Authenticate header value naming the
// scopes an operation requires.
func Challenge(required []string) string {
	if len(required) == 0 {
		return "Bearer"
	}
	return fmt.Sprintf("Bearer scope=%q", strings.Join(required, " "))
}
