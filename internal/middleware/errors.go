package middleware

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/classbank/classbank/internal/apperr"
)

const (
	principalIDLocal = "principal_id"
	tenantIDLocal    = "tenant_id"
)

// ErrorHandler renders handler errors as JSON. Domain errors carry their
// code; integrity and unclassified errors are logged and shown generically.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		}

		status := apperr.HTTPStatus(err)
		body := fiber.Map{"error": apperr.Public(err)}
		switch apperr.KindOf(err) {
		case apperr.KindIntegrity, apperr.KindInternal:
			requestID, _ := c.Locals(requestIDHeader).(string)
			logger.ErrorContext(c.UserContext(), "request failed",
				slog.String("method", c.Method()),
				slog.String("path", c.Path()),
				slog.String("request_id", requestID),
				slog.Any("error", err),
			)
		default:
			body["code"] = apperr.CodeOf(err)
		}
		return c.Status(status).JSON(body)
	}
}
