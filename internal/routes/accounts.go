package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/classbank/classbank/internal/accounts"
)

// RegisterAccountRoutes wires the caller's balance, statement and transfers.
func RegisterAccountRoutes(r fiber.Router, h *accounts.Handler) {
	r.Get("/balance", h.Balance)
	r.Get("/entries", h.Entries)
	r.Post("/transfer", h.Transfer)
}

// RegisterLedgerRoutes wires admin domain actions.
func RegisterLedgerRoutes(r fiber.Router, h *accounts.Handler) {
	r.Post("/entries", h.Post)
	r.Post("/entries/:id/void", h.Void)
}
