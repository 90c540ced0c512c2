package httpapi

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"

	"github.com/lowtechclub/botprompts"
)

type registerRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

func (r registerRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.DisplayName, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

type tokenActionRequest struct {
	Token string `json:"token"`
}

func (r tokenActionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
	)
}

type resetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type resetInitiateRequest struct {
	Email string `json:"email"`
}

func (r resetInitiateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (s *Server) registerRegisterRoutes(api fiber.Router) {
	register := api.Group("/register")

	register.Post("/", s.handleRegister)
	register.Post("/validate", s.handleRegisterValidate)
}

func (s *Server) registerVerifyRoutes(api fiber.Router) {
	verify := api.Group("/verify")

	verify.Post("/", s.handleVerify)
	verify.Post("/validate", s.handleVerifyValidate)
}

func (s *Server) registerResetRoutes(api fiber.Router) {
	reset := api.Group("/reset")

	reset.Post("/", s.handleReset)
	reset.Post("/request", s.handleResetRequest)
	reset.Post("/validate", s.handleResetValidate)
}

// handleRegister creates the account and mails the verification token.
// Success is a bare 200; the caller learns nothing about the new row.
func (s *Server) handleRegister(c *fiber.Ctx) error {
	payload := new(registerRequest)
	if err := c.BodyParser(payload); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "malformed request body")
	}
	if err := payload.Validate(); err != nil {
		return errors.Wrap(err, errors.CategoryBadInput, "invalid registration request")
	}

	ctx := c.UserContext()

	if err := s.manager.CanCreateUser(ctx, payload.Email, payload.DisplayName, payload.Password); err != nil {
		return err
	}

	user, err := s.manager.CreateUser(ctx, payload.Email, payload.DisplayName, payload.Password)
	if err != nil {
		return err
	}

	token, err := s.manager.CreateVerificationToken(ctx, user)
	if err != nil {
		return err
	}

	if err := s.notifier.NotifyEmailVerification(ctx, user.Email, user.DisplayName, token.Token); err != nil {
		s.logger.Error().Err(err).Msg("could not send verification email")
	}

	return c.SendStatus(fiber.StatusOK)
}

func (s *Server) handleRegisterValidate(c *fiber.Ctx) error {
	payload := new(registerRequest)
	if err := c.BodyParser(payload); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "malformed request body")
	}

	if err := s.manager.CanCreateUser(c.UserContext(), payload.Email, payload.DisplayName, payload.Password); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusOK)
}

func (s *Server) handleVerify(c *fiber.Ctx) error {
	payload := new(tokenActionRequest)
	if err := c.BodyParser(payload); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "malformed request body")
	}
	if err := payload.Validate(); err != nil {
		return errors.Wrap(err, errors.CategoryBadInput, "invalid verification request")
	}

	if _, err := s.manager.VerifyUser(c.UserContext(), payload.Token); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusOK)
}

// handleVerifyValidate reports only usable-or-not, and every failure
// reads the same so the endpoint cannot probe token state.
func (s *Server) handleVerifyValidate(c *fiber.Ctx) error {
	payload := new(tokenActionRequest)
	if err := c.BodyParser(payload); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "malformed request body")
	}

	if err := s.manager.ValidateSingleUseToken(c.UserContext(), payload.Token, botprompts.TokenTypeVerification); err != nil {
		return fiber.NewError(fiber.StatusForbidden, botprompts.TextCodeTokenInvalid)
	}
	return c.SendStatus(fiber.StatusOK)
}

func (s *Server) handleReset(c *fiber.Ctx) error {
	payload := new(resetRequest)
	if err := c.BodyParser(payload); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "malformed request body")
	}

	if err := s.manager.FinalizePasswordReset(c.UserContext(), payload.Token, payload.Password); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusOK)
}

// handleResetRequest always answers 200 whether or not the account
// exists.
func (s *Server) handleResetRequest(c *fiber.Ctx) error {
	payload := new(resetInitiateRequest)
	if err := c.BodyParser(payload); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "malformed request body")
	}
	if err := payload.Validate(); err != nil {
		return errors.Wrap(err, errors.CategoryBadInput, "invalid reset request")
	}

	if err := s.manager.RequestPasswordReset(c.UserContext(), payload.Email); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusOK)
}

func (s *Server) handleResetValidate(c *fiber.Ctx) error {
	payload := new(tokenActionRequest)
	if err := c.BodyParser(payload); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "malformed request body")
	}

	if err := s.manager.ValidateSingleUseToken(c.UserContext(), payload.Token, botprompts.TokenTypePasswordReset); err != nil {
		return fiber.NewError(fiber.StatusForbidden, botprompts.TextCodeTokenInvalid)
	}
	return c.SendStatus(fiber.StatusOK)
}
