package payroll

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/classbank/classbank/internal/ledger"
	"github.com/classbank/classbank/internal/money"
	"github.com/classbank/classbank/internal/tenancy"
)

// Handler exposes the payroll endpoint.
type Handler struct {
	service *Service
}

// NewHandler constructs a payroll handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type lineRequest struct {
	StudentID   string `json:"student_id"`
	Amount      string `json:"amount"`
	AccountType string `json:"account_type"`
}

type runRequest struct {
	Description string        `json:"description"`
	Lines       []lineRequest `json:"lines"`
}

type lineResponse struct {
	StudentID string `json:"student_id"`
	Amount    string `json:"amount"`
	EntryID   string `json:"entry_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}

// Run posts a payroll batch. Lines fail independently; the response lists
// both outcomes.
func (h *Handler) Run(c *fiber.Ctx) error {
	p, ok := tenancy.PrincipalFrom(c.UserContext())
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "missing principal")
	}
	var req runRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	in := RunInput{Description: req.Description}
	for _, l := range req.Lines {
		amount, err := money.Parse(l.Amount)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "amount must be a decimal")
		}
		in.Lines = append(in.Lines, Line{
			StudentID: l.StudentID,
			Amount:    amount,
			Account:   ledger.AccountType(l.AccountType),
		})
	}

	res, err := h.service.Run(c.UserContext(), p, in)
	if err != nil {
		return err
	}

	status := http.StatusCreated
	if len(res.Posted) == 0 {
		status = http.StatusUnprocessableEntity
	} else if len(res.Failed) > 0 {
		status = http.StatusMultiStatus
	}
	return c.Status(status).JSON(fiber.Map{
		"tenant_id": res.TenantID.String(),
		"total":     res.Total.StringFixed(money.Places),
		"posted":    toResponses(res.Posted),
		"failed":    toResponses(res.Failed),
	})
}

func toResponses(lines []LineResult) []lineResponse {
	out := make([]lineResponse, 0, len(lines))
	for _, l := range lines {
		out = append(out, lineResponse{
			StudentID: l.StudentID,
			Amount:    l.Amount.StringFixed(money.Places),
			EntryID:   l.EntryID,
			Error:     l.Error,
			Code:      l.Code,
		})
	}
	return out
}
