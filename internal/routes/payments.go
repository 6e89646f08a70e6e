package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/classbank/classbank/internal/payments"
)

// RegisterPaymentRoutes wires payment endpoints.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler) {
	r.Post("/p2p", h.P2P)
}
