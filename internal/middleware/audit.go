package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Audit logs one line per request with the resolved principal and tenant.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", c.Response().StatusCode()),
			slog.Duration("duration", time.Since(start)),
		}
		for _, local := range []string{requestIDHeader, principalIDLocal, tenantIDLocal} {
			if v, _ := c.Locals(local).(string); v != "" {
				attrs = append(attrs, slog.String(auditAttr(local), v))
			}
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
			logger.Warn("request completed", attrs...)
			return err
		}

		logger.Info("request completed", attrs...)
		return nil
	}
}

func auditAttr(local string) string {
	if local == requestIDHeader {
		return "request_id"
	}
	return local
}
