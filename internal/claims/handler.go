package claims

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/classbank/classbank/internal/money"
	"github.com/classbank/classbank/internal/tenancy"
)

// Handler exposes claim and policy endpoints.
type Handler struct {
	engine *Engine
}

// NewHandler constructs a claims HTTP handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

type fileRequest struct {
	PolicyID      string `json:"policy_id"`
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason"`
}

type decisionRequest struct {
	Reason string `json:"reason"`
}

type policyRequest struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	FlatPayout string `json:"flat_payout"`
}

type claimResponse struct {
	ID                   string `json:"id"`
	PolicyID             string `json:"policy_id"`
	StudentID            string `json:"student_id"`
	TransactionID        string `json:"transaction_id,omitempty"`
	Status               string `json:"status"`
	Amount               string `json:"amount"`
	Reason               string `json:"reason,omitempty"`
	FiledAt              string `json:"filed_at"`
	DecidedAt            string `json:"decided_at,omitempty"`
	DecidedBy            string `json:"decided_by,omitempty"`
	ReimbursementEntryID string `json:"reimbursement_entry_id,omitempty"`
}

type policyResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	FlatPayout string `json:"flat_payout,omitempty"`
	Active     bool   `json:"active"`
}

// File submits a claim for the caller.
func (h *Handler) File(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req fileRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	claim, err := h.engine.File(c.UserContext(), p, FileInput{PolicyID: req.PolicyID, TransactionID: req.TransactionID, Reason: req.Reason})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toClaimResponse(claim))
}

// Approve reimburses a pending claim.
func (h *Handler) Approve(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	claim, err := h.engine.Approve(c.UserContext(), p, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toClaimResponse(claim))
}

// Deny rejects a pending claim.
func (h *Handler) Deny(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req decisionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	claim, err := h.engine.Deny(c.UserContext(), p, c.Params("id"), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(toClaimResponse(claim))
}

// Withdraw abandons the caller's pending claim.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req decisionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}
	}
	claim, err := h.engine.Withdraw(c.UserContext(), p, c.Params("id"), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(toClaimResponse(claim))
}

// Get returns one claim.
func (h *Handler) Get(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	claim, err := h.engine.Get(c.UserContext(), p, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toClaimResponse(claim))
}

// List returns claims filtered by status, student and limit.
func (h *Handler) List(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	filter := Filter{Status: Status(c.Query("status")), StudentID: c.Query("student_id")}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "limit must be a number")
		}
		filter.Limit = n
	}
	list, err := h.engine.List(c.UserContext(), p, filter)
	if err != nil {
		return err
	}
	resp := make([]claimResponse, 0, len(list))
	for _, claim := range list {
		resp = append(resp, toClaimResponse(claim))
	}
	return c.JSON(fiber.Map{"claims": resp})
}

// CreatePolicy adds a policy to the current class period.
func (h *Handler) CreatePolicy(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req policyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	in := PolicyInput{Name: req.Name, Kind: PolicyKind(req.Kind)}
	if req.FlatPayout != "" {
		payout, err := money.Parse(req.FlatPayout)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "flat_payout must be a decimal")
		}
		in.FlatPayout = payout
	}
	policy, err := h.engine.CreatePolicy(c.UserContext(), p, in)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toPolicyResponse(policy))
}

// DeactivatePolicy closes a policy to new claims.
func (h *Handler) DeactivatePolicy(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	policy, err := h.engine.DeactivatePolicy(c.UserContext(), p, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toPolicyResponse(policy))
}

// Policies lists policies; ?active=true hides inactive ones.
func (h *Handler) Policies(c *fiber.Ctx) error {
	list, err := h.engine.Policies(c.UserContext(), c.QueryBool("active", false))
	if err != nil {
		return err
	}
	resp := make([]policyResponse, 0, len(list))
	for _, p := range list {
		resp = append(resp, toPolicyResponse(p))
	}
	return c.JSON(fiber.Map{"policies": resp})
}

func principal(c *fiber.Ctx) (tenancy.Principal, error) {
	p, ok := tenancy.PrincipalFrom(c.UserContext())
	if !ok {
		return tenancy.Principal{}, fiber.NewError(http.StatusUnauthorized, "missing principal")
	}
	return p, nil
}

func toClaimResponse(c Claim) claimResponse {
	resp := claimResponse{
		ID:                   c.ID,
		PolicyID:             c.PolicyID,
		StudentID:            c.StudentID,
		TransactionID:        c.TransactionID,
		Status:               string(c.Status),
		Amount:               c.Amount.StringFixed(money.Places),
		Reason:               c.Reason,
		FiledAt:              c.FiledAt.Format(time.RFC3339Nano),
		DecidedBy:            c.DecidedBy,
		ReimbursementEntryID: c.ReimbursementEntryID,
	}
	if c.DecidedAt != nil {
		resp.DecidedAt = c.DecidedAt.Format(time.RFC3339Nano)
	}
	return resp
}

func toPolicyResponse(p Policy) policyResponse {
	resp := policyResponse{ID: p.ID, Name: p.Name, Kind: string(p.Kind), Active: p.Active}
	if p.Kind == PolicyFlat {
		resp.FlatPayout = p.FlatPayout.StringFixed(money.Places)
	}
	return resp
}
