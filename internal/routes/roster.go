package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/classbank/classbank/internal/payroll"
	"github.com/classbank/classbank/internal/roster"
)

// RegisterRosterRoutes wires class period membership. These routes do not
// resolve a tenant: joining happens before the caller has one.
func RegisterRosterRoutes(r fiber.Router, h *roster.Handler) {
	r.Post("/tenants", h.CreateTenant)
	r.Post("/join", h.Join)
	r.Get("/memberships", h.Memberships)
	r.Delete("/memberships/:tenantId", h.Leave)
}

// RegisterPayrollRoutes wires batch payroll.
func RegisterPayrollRoutes(r fiber.Router, h *payroll.Handler) {
	r.Post("/", h.Run)
}
