package httpapi

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"

	"github.com/lowtechclub/botprompts"
)

// tokenResponse is the password-grant and refresh response body. The
// refresh token itself travels only in the HttpOnly cookie.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   int64  `json:"expires_at"`
}

type loginRequest struct {
	Email    string `json:"email" form:"username"`
	Password string `json:"password" form:"password"`
	IsPublic bool   `json:"is_public" form:"is_public"`
}

func (r loginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

func (s *Server) registerAuthRoutes(api fiber.Router) {
	auth := api.Group("/auth")

	auth.Post("/token", s.handleToken)
	auth.Post("/refresh", s.handleRefresh)
	auth.Post("/logout", s.handleLogout)
}

func (s *Server) handleToken(c *fiber.Ctx) error {
	payload := new(loginRequest)
	if err := c.BodyParser(payload); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "malformed request body")
	}
	if err := payload.Validate(); err != nil {
		return errors.Wrap(err, errors.CategoryBadInput, "invalid login request")
	}

	ctx := c.UserContext()

	user, err := s.manager.LoginByEmail(ctx, payload.Email, payload.Password)
	if err != nil {
		return err
	}

	// A lingering refresh cookie from a previous session dies here so
	// it cannot be replayed after this login.
	if stale := c.Cookies(s.cfg.Cookie.Name); stale != "" {
		if err := s.manager.Issuer().InvalidateRefreshToken(ctx, stale, user); err != nil {
			if !errors.Is(err, botprompts.ErrTokenRevoked) {
				return err
			}
		}
	}

	// Public computers get a session-only token with no refresh pair
	offlineAccess := !payload.IsPublic

	pair, err := s.manager.Issuer().IssueAccess(ctx, user, true, offlineAccess)
	if err != nil {
		return err
	}

	if pair.RefreshToken != "" {
		s.setRefreshCookie(c, pair.RefreshToken, time.Unix(pair.RefreshTokenExpiresAt, 0))
	}

	return c.JSON(tokenResponse{
		AccessToken: pair.AccessToken,
		TokenType:   pair.TokenType,
		ExpiresAt:   pair.ExpiresAt,
	})
}

func (s *Server) handleRefresh(c *fiber.Ctx) error {
	refreshToken := c.Cookies(s.cfg.Cookie.Name)
	if refreshToken == "" {
		return botprompts.ErrInvalidCredentials
	}

	pair, err := s.manager.Issuer().Rotate(c.UserContext(), refreshToken)
	if err != nil {
		s.clearRefreshCookie(c)
		return err
	}

	s.setRefreshCookie(c, pair.RefreshToken, time.Unix(pair.RefreshTokenExpiresAt, 0))

	return c.JSON(tokenResponse{
		AccessToken: pair.AccessToken,
		TokenType:   pair.TokenType,
		ExpiresAt:   pair.ExpiresAt,
	})
}

func (s *Server) handleLogout(c *fiber.Ctx) error {
	refreshToken := c.Cookies(s.cfg.Cookie.Name)
	if refreshToken != "" {
		// best effort: a bogus cookie still logs the caller out
		if err := s.discardRefreshToken(c, refreshToken); err != nil {
			s.logger.Warn().Err(err).Msg("could not invalidate refresh token on logout")
		}
	}

	s.clearRefreshCookie(c)
	return c.SendStatus(fiber.StatusOK)
}

func (s *Server) discardRefreshToken(c *fiber.Ctx, refreshToken string) error {
	ctx := c.UserContext()
	issuer := s.manager.Issuer()

	claims, err := issuer.Decode(refreshToken, botprompts.RefreshTokenAudience)
	if err != nil {
		return err
	}
	userID, err := claims.UserID()
	if err != nil {
		return err
	}
	user, err := s.manager.Repos().Users().Get(ctx, userID)
	if err != nil {
		return err
	}
	return issuer.InvalidateRefreshToken(ctx, refreshToken, user)
}

func (s *Server) setRefreshCookie(c *fiber.Ctx, value string, expires time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     s.cfg.Cookie.Name,
		Value:    value,
		Expires:  expires,
		Path:     s.cfg.Cookie.Path,
		Domain:   s.cfg.Cookie.Domain,
		Secure:   s.cfg.Cookie.Secure,
		HTTPOnly: true,
		SameSite: s.cfg.Cookie.SameSite,
	})
}

func (s *Server) clearRefreshCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     s.cfg.Cookie.Name,
		Value:    "",
		Expires:  time.Unix(0, 0),
		Path:     s.cfg.Cookie.Path,
		Domain:   s.cfg.Cookie.Domain,
		Secure:   s.cfg.Cookie.Secure,
		HTTPOnly: true,
		SameSite: s.cfg.Cookie.SameSite,
	})
}
