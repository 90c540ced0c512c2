package httpapi

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"

	"github.com/lowtechclub/botprompts"
)

const identityKey = "identity"

// bearerToken extracts the token from the Authorization header, empty
// when the request is anonymous.
func bearerToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// requireScopes resolves the caller and checks the route's scope
// requirement. Denials carry a WWW-Authenticate challenge naming what
// was required.
func (s *Server) requireScopes(scopes ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, err := s.gate.Authorize(c.UserContext(), bearerToken(c), scopes)
		if err != nil {
			if errors.Is(err, botprompts.ErrNotEnoughPermissions) {
				c.Set(fiber.HeaderWWWAuthenticate, botprompts.Challenge(scopes))
			}
			return err
		}

		c.Locals(identityKey, identity)
		return c.Next()
	}
}

// callerIdentity returns the identity stored by requireScopes
func callerIdentity(c *fiber.Ctx) *botprompts.Identity {
	identity, _ := c.Locals(identityKey).(*botprompts.Identity)
	return identity
}
