package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/blindrelay/blindrelay/internal/domain"
)

// ErrorResponse is the JSON body returned for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ErrorHandler maps domain errors onto HTTP status codes and stable error
// codes. Internal failures are logged with detail but surfaced generically.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		status, code, message := classify(err)

		if status >= fiber.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
		} else {
			logger.Debug("request rejected",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Int("status", status),
				zap.Error(err),
			)
		}

		return c.Status(status).JSON(ErrorResponse{Error: message, Code: code})
	}
}

func classify(err error) (status int, code string, message string) {
	var fiberErr *fiber.Error

	switch {
	case errors.Is(err, domain.ErrAlreadySent):
		return fiber.StatusBadRequest, "already_sent", "campaign already sent"
	case errors.Is(err, domain.ErrNotReady):
		return fiber.StatusBadRequest, "not_ready", "campaign content is not set"
	case errors.Is(err, domain.ErrNoRecipients):
		return fiber.StatusBadRequest, "no_recipients", "campaign has no recipients"
	case errors.Is(err, domain.ErrValidation):
		return fiber.StatusBadRequest, "invalid_input", err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, domain.ErrConflict):
		return fiber.StatusConflict, "conflict", err.Error()
	case errors.Is(err, domain.ErrUnauthorized):
		return fiber.StatusForbidden, "forbidden", "invalid or missing api key"
	case errors.As(err, &fiberErr):
		return fiberErr.Code, "http_error", fiberErr.Message
	default:
		return fiber.StatusInternalServerError, "internal", "internal server error"
	}
}
