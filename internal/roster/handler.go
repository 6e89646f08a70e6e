package roster

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/classbank/classbank/internal/tenancy"
)

// Handler exposes roster endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a roster HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createTenantRequest struct {
	Name string `json:"name"`
}

type tenantResponse struct {
	TenantID string `json:"tenant_id"`
	JoinCode string `json:"join_code"`
	Name     string `json:"name"`
}

type joinRequest struct {
	JoinCode    string `json:"join_code"`
	DisplayName string `json:"display_name"`
}

type membershipResponse struct {
	TenantID  string `json:"tenant_id"`
	JoinCode  string `json:"join_code"`
	ClaimedAt string `json:"claimed_at"`
	Active    bool   `json:"active"`
}

// CreateTenant opens a new class period for the calling admin.
func (h *Handler) CreateTenant(c *fiber.Ctx) error {
	p, ok := tenancy.PrincipalFrom(c.UserContext())
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "missing principal")
	}
	if !p.IsAdmin() {
		return fiber.NewError(http.StatusForbidden, "admin role required")
	}
	var req createTenantRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	t, err := h.service.CreateTenant(c.UserContext(), p.ID, req.Name)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(tenantResponse{TenantID: t.ID.String(), JoinCode: t.JoinCode, Name: t.Name})
}

// Join enrols the caller using a join code.
func (h *Handler) Join(c *fiber.Ctx) error {
	p, ok := tenancy.PrincipalFrom(c.UserContext())
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "missing principal")
	}
	var req joinRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	m, err := h.service.Join(c.UserContext(), p.ID, req.DisplayName, req.JoinCode)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toMembershipResponse(m))
}

// Memberships lists the caller's class periods.
func (h *Handler) Memberships(c *fiber.Ctx) error {
	p, ok := tenancy.PrincipalFrom(c.UserContext())
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "missing principal")
	}
	resp := make([]membershipResponse, 0, len(p.Memberships))
	for _, m := range p.Memberships {
		resp = append(resp, toMembershipResponse(m))
	}
	return c.JSON(fiber.Map{"memberships": resp})
}

// Leave deactivates the caller's membership in a class period.
func (h *Handler) Leave(c *fiber.Ctx) error {
	p, ok := tenancy.PrincipalFrom(c.UserContext())
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "missing principal")
	}
	if err := h.service.Leave(c.UserContext(), p.ID, tenancy.TenantID(c.Params("tenantId"))); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

func toMembershipResponse(m tenancy.Membership) membershipResponse {
	return membershipResponse{
		TenantID:  m.TenantID.String(),
		JoinCode:  m.JoinCode,
		ClaimedAt: m.ClaimedAt.Format("2006-01-02T15:04:05Z07:00"),
		Active:    m.Active,
	}
}
