package botprompts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/lowtechclub/botprompts/repository"
	"github.com/rs/zerolog"
)

// Scopes attached to access tokens
const (
	ScopeUser          = "user"
	ScopeSuperuser     = "superuser"
	ScopeFresh         = "fresh"
	ScopeOfflineAccess = "offline-access"
	ScopeSudo          = "admin:sudo"
)

// TokenPair is the result of an access token issuance. RefreshToken is
// empty when offline access was not requested.
type TokenPair struct {
	AccessToken           string `json:"access_token"`
	TokenType             string `json:"token_type"`
	ExpiresAt             int64  `json:"expires_at"`
	RefreshToken          string `json:"refresh_token,omitempty"`
	RefreshTokenExpiresAt int64  `json:"refresh_token_expires_at,omitempty"`
}

// TokenIssuerConfig carries the signing and lifetime settings
type TokenIssuerConfig struct {
	SigningKey      []byte
	Issuer          string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	VerificationTTL time.Duration
	ResetTTL        time.Duration
	OpaqueLength    int
}

// TokenIssuer mints and validates every token type. Access tokens are
// purely cryptographic; refresh, verification and reset tokens are
// additionally persisted and single use.
type TokenIssuer struct {
	config TokenIssuerConfig
	repos  RepositoryManager
	logger zerolog.Logger
	now    func() time.Time
}

func NewTokenIssuer(config TokenIssuerConfig, repos RepositoryManager, logger zerolog.Logger) *TokenIssuer {
	if config.OpaqueLength <= 0 {
		config.OpaqueLength = 64
	}
	return &TokenIssuer{
		config: config,
		repos:  repos,
		logger: logger.With().Str("component", "token_issuer").Logger(),
		now:    time.Now,
	}
}

// IssueAccess mints an access token for the user, plus a persisted
// refresh token when offlineAccess is set. freshAuth marks tokens
// minted from a password login rather than a refresh rotation.
// user.Roles must already be loaded.
func (t *TokenIssuer) IssueAccess(ctx context.Context, user *User, freshAuth, offlineAccess bool) (*TokenPair, error) {
	if user == nil {
		return nil, errors.New("user is required", errors.CategoryBadInput)
	}

	now := t.now().UTC()
	accessExpires := now.Add(t.config.AccessTTL)

	scopes := []string{}
	if freshAuth {
		scopes = append(scopes, ScopeFresh)
	}
	if offlineAccess {
		scopes = append(scopes, ScopeOfflineAccess)
	}
	if user.IsSuperuser {
		scopes = append(scopes, ScopeUser, ScopeSuperuser)
	} else {
		scopes = append(scopes, ScopeUser)
	}
	scopes = append(scopes, user.RoleNames()...)

	accessToken, err := t.sign(&Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.config.Issuer,
			Subject:   user.ID.String(),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExpires),
			Audience:  jwt.ClaimStrings{AccessTokenAudience},
		},
		Scope: strings.Join(scopes, " "),
	})
	if err != nil {
		return nil, err
	}

	pair := &TokenPair{
		AccessToken: accessToken,
		TokenType:   "bearer",
		ExpiresAt:   accessExpires.Unix(),
	}

	if !offlineAccess {
		return pair, nil
	}

	refreshExpires := now.Add(t.config.RefreshTTL)
	refreshToken, err := t.sign(&Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.config.Issuer,
			Subject:   user.ID.String(),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExpires),
			Audience:  jwt.ClaimStrings{RefreshTokenAudience},
		},
	})
	if err != nil {
		return nil, err
	}

	uses := 1
	userID := user.ID
	_, err = t.repos.Tokens().Create(ctx, &Token{
		Type:             TokenTypeRefresh,
		Token:            refreshToken,
		NumUsesRemaining: &uses,
		UserID:           &userID,
		ExpiresAt:        &refreshExpires,
		IsActive:         true,
	})
	if err != nil {
		return nil, err
	}

	pair.RefreshToken = refreshToken
	pair.RefreshTokenExpiresAt = refreshExpires.Unix()
	return pair, nil
}

// Decode parses and validates a signed token against the expected
// audience. Failures come back as generic invalid-credential errors.
func (t *TokenIssuer) Decode(tokenString, audience string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.config.SigningKey, nil
	},
		jwt.WithIssuer(t.config.Issuer),
		jwt.WithAudience(audience),
	)
	if err != nil {
		// expired, malformed and bad-signature all collapse into the
		// same generic failure
		return nil, ErrInvalidCredentials
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidCredentials
	}
	return claims, nil
}

// Rotate redeems a refresh token: the persisted row is checked against
// the decoded claims, deleted, and a fresh pair is minted. Every
// failure collapses into a revoked-token error so callers cannot probe
// which check tripped. The old token dies before the new one exists;
// a crash in between logs the user out, which is the safe direction.
func (t *TokenIssuer) Rotate(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := t.Decode(refreshToken, RefreshTokenAudience)
	if err != nil {
		return nil, ErrTokenRevoked
	}

	userID, err := claims.UserID()
	if err != nil {
		return nil, ErrTokenRevoked
	}

	user, err := t.repos.Users().Get(ctx, userID)
	if err != nil {
		return nil, ErrTokenRevoked
	}

	if err := t.InvalidateRefreshToken(ctx, refreshToken, user); err != nil {
		return nil, err
	}

	if err := t.repos.Users().LoadRoles(ctx, user); err != nil {
		return nil, err
	}

	return t.IssueAccess(ctx, user, false, true)
}

// InvalidateRefreshToken deletes the persisted refresh row after
// double-checking it against the stored state: the row must exist,
// belong to the user, be active and be unexpired.
func (t *TokenIssuer) InvalidateRefreshToken(ctx context.Context, refreshToken string, user *User) error {
	stored, err := t.repos.Tokens().GetByValue(ctx, refreshToken, TokenTypeRefresh)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrTokenRevoked
		}
		return err
	}

	now := t.now().UTC()
	if stored.UserID == nil || user == nil || *stored.UserID != user.ID ||
		!stored.IsActive || stored.Expired(now) {
		t.logger.Warn().
			Str("user_id", userIDString(user)).
			Msg("refresh token failed stored-state checks")
		return ErrTokenRevoked
	}

	return t.repos.Tokens().DeleteRow(ctx, stored)
}

// IssueOpaque mints and persists a single-use random token of the
// given type. Older tokens of the same type for the user are removed
// first so only the latest one can redeem.
func (t *TokenIssuer) IssueOpaque(ctx context.Context, user *User, tokenType TokenType) (*Token, error) {
	if user == nil {
		return nil, errors.New("user is required", errors.CategoryBadInput)
	}

	var ttl time.Duration
	switch tokenType {
	case TokenTypeVerification:
		ttl = t.config.VerificationTTL
	case TokenTypePasswordReset:
		ttl = t.config.ResetTTL
	default:
		return nil, errors.New("unsupported opaque token type", errors.CategoryBadInput).
			WithMetadata(map[string]any{"token_type": tokenType})
	}

	value, err := GenerateToken(t.config.OpaqueLength)
	if err != nil {
		return nil, err
	}

	if err := t.repos.Tokens().DeleteForUser(ctx, user.ID, tokenType); err != nil {
		return nil, err
	}

	uses := 1
	userID := user.ID
	expires := t.now().UTC().Add(ttl)
	return t.repos.Tokens().Create(ctx, &Token{
		Type:             tokenType,
		Token:            value,
		NumUsesRemaining: &uses,
		UserID:           &userID,
		ExpiresAt:        &expires,
		IsActive:         true,
	})
}

// CheckUsable validates a persisted single-use token: active,
// unexpired, uses remaining. nil uses-remaining is treated as
// unlimited.
func (t *TokenIssuer) CheckUsable(token *Token) error {
	if token == nil || !token.IsActive {
		return ErrTokenInvalid
	}
	if token.Expired(t.now().UTC()) {
		return ErrTokenExpired
	}
	if token.NumUsesRemaining != nil && *token.NumUsesRemaining <= 0 {
		return ErrTokenInvalid
	}
	return nil
}

// Redeem consumes a single-use token by deleting its row
func (t *TokenIssuer) Redeem(ctx context.Context, token *Token) error {
	return t.repos.Tokens().DeleteRow(ctx, token)
}

func (t *TokenIssuer) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.config.SigningKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}
	return signed, nil
}

func userIDString(user *User) string {
	if user == nil {
		return ""
	}
	return user.ID.String()
}
