package wallet

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/congo-pay/fundscore/internal/domain"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
	// adminHeader names the header carrying the acting admin id.
	adminHeader string
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service, adminHeader string) *Handler {
	return &Handler{service: service, adminHeader: adminHeader}
}

type walletResponse struct {
	UserID        string `json:"user_id"`
	UserType      string `json:"user_type"`
	AccountNumber string `json:"account_number"`
	Currency      string `json:"currency"`
	Balance       string `json:"balance"`
	Status        string `json:"status"`
}

func toResponse(w domain.Wallet) walletResponse {
	return walletResponse{
		UserID:        w.UserID,
		UserType:      w.UserType,
		AccountNumber: w.AccountNumber,
		Currency:      w.Currency,
		Balance:       w.Balance.String(),
		Status:        w.Status,
	}
}

// Create provisions a wallet for a user.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req CreateInput
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	wallet, err := h.service.Create(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toResponse(wallet))
}

// Get returns wallet metadata and balance.
func (h *Handler) Get(c *fiber.Ctx) error {
	wallet, err := h.service.Get(c.UserContext(), c.Params("userId"))
	if err != nil {
		return err
	}
	return c.JSON(toResponse(wallet))
}

// Balance returns the wallet balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	balance, err := h.service.Balance(c.UserContext(), c.Params("userId"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"user_id":   balance.UserID,
		"currency":  balance.Currency,
		"balance":   balance.Amount.String(),
		"timestamp": balance.AsOf,
	})
}

// Transactions returns recent ledger entries.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	items, err := h.service.Transactions(c.UserContext(), c.Params("userId"), c.QueryInt("limit"), c.QueryInt("offset"))
	if err != nil {
		return err
	}
	out := make([]fiber.Map, 0, len(items))
	for _, t := range items {
		out = append(out, fiber.Map{
			"transaction_id": t.TransactionID,
			"user_id":        t.UserID,
			"type":           t.Type,
			"amount":         t.Amount.String(),
			"balance_before": t.BalanceBefore.String(),
			"balance_after":  t.BalanceAfter.String(),
			"status":         t.Status,
			"reference_id":   t.ReferenceID,
			"notes":          t.Notes,
			"metadata":       t.Metadata,
			"created_at":     t.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"items": out})
}

// Adjust posts an admin correction.
func (h *Handler) Adjust(c *fiber.Ctx) error {
	var req AdjustInput
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	// Params and headers alias the request buffer; the ledger keeps both.
	req.UserID = utils.CopyString(c.Params("userId"))
	req.AdminID = utils.CopyString(c.Get(h.adminHeader))

	res, err := h.service.Adjust(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"transaction_id": res.TransactionID,
		"type":           res.Type,
		"amount":         res.Amount.String(),
		"balance_before": res.BalanceBefore.String(),
		"balance_after":  res.BalanceAfter.String(),
		"reference_id":   res.ReferenceID,
	})
}
