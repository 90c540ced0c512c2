package httpapi

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/rs/zerolog"

	"github.com/lowtechclub/botprompts"
)

// errorBody is the wire shape for every failure response
type errorBody struct {
	Error  bool `json:"error"`
	Detail any  `json:"detail"`
}

func newErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, detail := classify(err)

		if status >= fiber.StatusInternalServerError {
			logger.Error().
				Err(err).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("request failed")
			// callers get a generic message, the log gets the context
			detail = "internal server error"
		}

		return c.Status(status).JSON(errorBody{Error: true, Detail: detail})
	}
}

// classify maps a domain error to an HTTP status and response detail.
// Auth failures stay deliberately vague so responses cannot be used as
// an oracle.
func classify(err error) (int, any) {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code, fiberErr.Message
	}

	var domainErr *errors.Error
	if !errors.As(err, &domainErr) {
		return fiber.StatusInternalServerError, err.Error()
	}

	switch domainErr.Category {
	case errors.CategoryAuth:
		return fiber.StatusUnauthorized, domainErr.TextCode
	case errors.CategoryAuthz:
		return fiber.StatusForbidden, domainErr.TextCode
	case errors.CategoryValidation:
		if reasons := botprompts.ValidationReasons(domainErr); len(reasons) > 0 {
			return fiber.StatusBadRequest, reasons
		}
		return fiber.StatusBadRequest, domainErr.TextCode
	case errors.CategoryBadInput:
		// payload validators report per-field problems
		var fields validation.Errors
		if errors.As(err, &fields) {
			return fiber.StatusUnprocessableEntity, fields
		}
		return fiber.StatusUnprocessableEntity, domainErr.Message
	case errors.CategoryNotFound:
		if domainErr.TextCode != "" {
			return fiber.StatusNotFound, domainErr.TextCode
		}
		return fiber.StatusNotFound, "RECORD_DOES_NOT_EXIST"
	case errors.CategoryConflict:
		if domainErr.TextCode != "" {
			return fiber.StatusBadRequest, domainErr.TextCode
		}
		return fiber.StatusBadRequest, "RECORD_ALREADY_EXISTS"
	default:
		return fiber.StatusInternalServerError, domainErr.Message
	}
}
