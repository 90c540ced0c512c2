package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lowtechclub/botprompts"
)

type profileUpdateRequest struct {
	DisplayName *string `json:"display_name"`
	Email       *string `json:"email"`
	Password    *string `json:"password"`
	IsSuperuser *bool   `json:"is_superuser"`
}

func (s *Server) registerProfileRoutes(api fiber.Router) {
	profile := api.Group("/profile")

	profile.Get("/", s.requireScopes("profile:view"), s.handleProfileGet)
	profile.Patch("/", s.requireScopes("profile:edit"), s.handleProfileEdit)
	// sudo elevation demands a fresh login, not a refresh-derived token
	profile.Post("/sudo/add", s.requireScopes(botprompts.ScopeSudo), s.handleSudoAdd)
	profile.Post("/sudo/remove", s.requireScopes(botprompts.ScopeSudo), s.handleSudoRemove)
}

func (s *Server) handleProfileGet(c *fiber.Ctx) error {
	identity := callerIdentity(c)
	if identity.User == nil {
		return botprompts.ErrUserDoesNotExist
	}

	if err := s.manager.Repos().Users().LoadRoles(c.UserContext(), identity.User); err != nil {
		return err
	}
	return c.JSON(identity.User)
}

// handleProfileEdit lets callers update their own profile. Superuser
// elevation through this route is limited to users already holding the
// flag, so nobody can self promote.
func (s *Server) handleProfileEdit(c *fiber.Ctx) error {
	identity := callerIdentity(c)
	if identity.User == nil {
		return botprompts.ErrUserDoesNotExist
	}

	payload := new(profileUpdateRequest)
	if err := c.BodyParser(payload); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "malformed request body")
	}

	fields := map[string]any{}
	if payload.DisplayName != nil {
		fields["display_name"] = *payload.DisplayName
	}
	if payload.Email != nil {
		fields["email"] = *payload.Email
	}
	if payload.Password != nil {
		fields["password"] = *payload.Password
	}
	if payload.IsSuperuser != nil && identity.User.IsSuperuser {
		fields["is_superuser"] = *payload.IsSuperuser
	}

	user, err := s.manager.UpdateUser(c.UserContext(), identity.User.ID, fields)
	if err != nil {
		return err
	}
	return c.JSON(user)
}

func (s *Server) handleSudoAdd(c *fiber.Ctx) error {
	identity := callerIdentity(c)
	if identity.User == nil {
		return botprompts.ErrUserDoesNotExist
	}

	// the fresh scope only ever comes from a password login, so this
	// cannot be satisfied by a rotated token or the superuser bypass
	if identity.Claims == nil || !identity.Claims.HasScope(botprompts.ScopeFresh) {
		c.Set(fiber.HeaderWWWAuthenticate, botprompts.Challenge([]string{botprompts.ScopeFresh}))
		return botprompts.ErrNotEnoughPermissions
	}

	user, err := s.manager.SetSuperuser(c.UserContext(), identity.User.ID, true)
	if err != nil {
		return err
	}

	s.logger.Info().Str("user", user.Email).Msg("superuser mode enabled")
	return c.JSON(user)
}

func (s *Server) handleSudoRemove(c *fiber.Ctx) error {
	identity := callerIdentity(c)
	if identity.User == nil {
		return botprompts.ErrUserDoesNotExist
	}

	user, err := s.manager.SetSuperuser(c.UserContext(), identity.User.ID, false)
	if err != nil {
		return err
	}

	s.logger.Info().Str("user", user.Email).Msg("superuser mode disabled")
	return c.JSON(user)
}
