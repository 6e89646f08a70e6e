package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/classbank/classbank/internal/claims"
)

// RegisterClaimRoutes wires claim filing and decisions. limiter guards
// filing only.
func RegisterClaimRoutes(r fiber.Router, h *claims.Handler, limiter fiber.Handler) {
	r.Post("/", limiter, h.File)
	r.Get("/", h.List)
	r.Get("/:id", h.Get)
	r.Post("/:id/approve", h.Approve)
	r.Post("/:id/deny", h.Deny)
	r.Post("/:id/withdraw", h.Withdraw)
}

// RegisterPolicyRoutes wires insurance policy management.
func RegisterPolicyRoutes(r fiber.Router, h *claims.Handler) {
	r.Post("/", h.CreatePolicy)
	r.Get("/", h.Policies)
	r.Post("/:id/deactivate", h.DeactivatePolicy)
}
