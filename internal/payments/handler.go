package payments

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/classbank/classbank/internal/money"
	"github.com/classbank/classbank/internal/tenancy"
)

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type payRequest struct {
	ToStudentID string `json:"to_student_id"`
	Amount      string `json:"amount"`
	Memo        string `json:"memo"`
}

// P2P pays a classmate from the caller's checking account.
func (h *Handler) P2P(c *fiber.Ctx) error {
	p, ok := tenancy.PrincipalFrom(c.UserContext())
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "missing principal")
	}
	var req payRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "amount must be a decimal")
	}

	res, err := h.service.Pay(c.UserContext(), p, PayInput{
		ToStudentID: req.ToStudentID,
		Amount:      amount,
		Memo:        req.Memo,
	})
	if err != nil {
		return err
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"transfer_id":   res.TransferID,
		"debit_id":      res.Debit.ID,
		"credit_id":     res.Credit.ID,
		"amount":        res.Credit.Amount.StringFixed(money.Places),
		"payer_balance": res.PayerBalance.StringFixed(money.Places),
		"completed_at":  res.CompletedAt,
	})
}
