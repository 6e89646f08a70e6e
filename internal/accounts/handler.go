package accounts

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/classbank/classbank/internal/ledger"
	"github.com/classbank/classbank/internal/money"
	"github.com/classbank/classbank/internal/tenancy"
)

// Handler exposes account and ledger endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds an accounts HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type transferRequest struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

type postRequest struct {
	StudentID   string `json:"student_id"`
	AccountType string `json:"account_type"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

type voidRequest struct {
	Reason string `json:"reason"`
}

type entryResponse struct {
	ID          string `json:"id"`
	StudentID   string `json:"student_id"`
	AccountType string `json:"account_type"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Type        string `json:"type"`
	TransferID  string `json:"transfer_id,omitempty"`
	CreatedAt   string `json:"created_at"`
	IsVoid      bool   `json:"is_void"`
	VoidReason  string `json:"void_reason,omitempty"`
}

// Balance returns the checking and savings balances.
func (h *Handler) Balance(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	summary, err := h.service.Summary(c.UserContext(), subject(c, p))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"tenant_id":  summary.TenantID.String(),
		"student_id": summary.StudentID,
		"checking":   summary.Checking.StringFixed(money.Places),
		"savings":    summary.Savings.StringFixed(money.Places),
		"timestamp":  summary.AsOf.Format(time.RFC3339Nano),
	})
}

// Entries returns one page of the statement.
func (h *Handler) Entries(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	q := StatementQuery{
		AccountType: ledger.AccountType(c.Query("account_type")),
		Type:        ledger.EntryType(c.Query("type")),
		IncludeVoid: c.QueryBool("include_void", false),
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "limit must be a number")
		}
		q.Limit = n
	}
	if raw := c.Query("before"); raw != "" {
		cur, err := decodeCursor(raw)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid cursor")
		}
		q.Before = &cur
	}
	st, err := h.service.Statement(c.UserContext(), subject(c, p), q)
	if err != nil {
		return err
	}
	resp := make([]entryResponse, 0, len(st.Entries))
	for _, e := range st.Entries {
		resp = append(resp, toEntryResponse(e))
	}
	out := fiber.Map{"entries": resp}
	if st.Next != nil {
		out["next"] = encodeCursor(*st.Next)
	}
	return c.JSON(out)
}

// Transfer moves funds between the caller's accounts.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "amount must be a decimal")
	}
	res, err := h.service.Transfer(c.UserContext(), p.ID, ledger.AccountType(req.From), ledger.AccountType(req.To), amount, req.Description)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"transfer_id": res.TransferID,
		"debit":       toEntryResponse(res.Debit),
		"credit":      toEntryResponse(res.Credit),
	})
}

// Post records an admin domain action.
func (h *Handler) Post(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req postRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "amount must be a decimal")
	}
	entry, err := h.service.Post(c.UserContext(), p, PostInput{
		StudentID:   req.StudentID,
		AccountType: ledger.AccountType(req.AccountType),
		Amount:      amount,
		Description: req.Description,
		Type:        ledger.EntryType(req.Type),
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toEntryResponse(entry))
}

// Void voids an entry.
func (h *Handler) Void(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req voidRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	entry, err := h.service.Void(c.UserContext(), p, c.Params("id"), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(toEntryResponse(entry))
}

func principal(c *fiber.Ctx) (tenancy.Principal, error) {
	p, ok := tenancy.PrincipalFrom(c.UserContext())
	if !ok {
		return tenancy.Principal{}, fiber.NewError(http.StatusUnauthorized, "missing principal")
	}
	return p, nil
}

// subject is the student whose accounts are read. Admins of the resolved
// tenant may name one.
func subject(c *fiber.Ctx, p tenancy.Principal) string {
	tenant, _ := tenancy.FromContext(c.UserContext())
	if id := c.Query("student_id"); id != "" && p.IsAdminIn(tenant) {
		return id
	}
	return p.ID
}

func encodeCursor(cur ledger.Cursor) string {
	return fmt.Sprintf("%d_%d", cur.CreatedAt.UnixNano(), cur.Seq)
}

func decodeCursor(raw string) (ledger.Cursor, error) {
	ts, seq, ok := strings.Cut(raw, "_")
	if !ok {
		return ledger.Cursor{}, fmt.Errorf("malformed cursor %q", raw)
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ledger.Cursor{}, err
	}
	n, err := strconv.ParseInt(seq, 10, 64)
	if err != nil {
		return ledger.Cursor{}, err
	}
	return ledger.Cursor{CreatedAt: time.Unix(0, nanos).UTC(), Seq: n}, nil
}

func toEntryResponse(e ledger.Entry) entryResponse {
	return entryResponse{
		ID:          e.ID,
		StudentID:   e.StudentID,
		AccountType: string(e.AccountType),
		Amount:      e.Amount.StringFixed(money.Places),
		Description: e.Description,
		Type:        string(e.Type),
		TransferID:  e.TransferID,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339Nano),
		IsVoid:      e.IsVoid,
		VoidReason:  e.VoidReason,
	}
}
