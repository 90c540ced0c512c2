package botprompts

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the JWT payload for access and refresh tokens. Access
// tokens carry a space-joined scope claim; refresh tokens carry none.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// Scopes returns the scope claim split on spaces
func (c *Claims) Scopes() []string {
	if c.Scope == "" {
		return nil
	}
	return strings.Fields(c.Scope)
}

// HasScope reports whether the scope claim contains the given scope
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes() {
		if s == scope {
			return true
		}
	}
	return false
}

// UserID parses the subject claim as a user id
func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.RegisteredClaims.Subject)
}

// Expires returns the expiry time, zero when absent
func (c *Claims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}
