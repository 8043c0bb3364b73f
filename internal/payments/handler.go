package payments

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/fundscore/internal/domain"
	"github.com/congo-pay/fundscore/internal/middleware"
)

// Handler exposes crypto deposit and webhook endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// CreateDeposit opens a pay-in order with the provider.
func (h *Handler) CreateDeposit(c *fiber.Ctx) error {
	var req DepositInput
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	res, err := h.service.CreateDepositRequest(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(res)
}

// GetDeposit returns one payment by merchant order id.
func (h *Handler) GetDeposit(c *fiber.Ctx) error {
	p, err := h.service.Get(c.UserContext(), c.Params("merchantOrderId"))
	if err != nil {
		return err
	}
	return c.JSON(paymentView(p))
}

// ListUserDeposits returns a user's payments, newest first.
func (h *Handler) ListUserDeposits(c *fiber.Ctx) error {
	items, err := h.service.ListByUser(c.UserContext(), c.Params("userId"), c.QueryInt("limit", 50), c.QueryInt("offset", 0))
	if err != nil {
		return err
	}
	out := make([]fiber.Map, 0, len(items))
	for _, p := range items {
		out = append(out, paymentView(p))
	}
	return c.JSON(fiber.Map{"items": out})
}

// Webhook applies a provider callback. The signature is checked by
// middleware.VerifyWebhook before this runs.
func (h *Handler) Webhook(c *fiber.Ctx) error {
	res, err := h.service.UpdatePaymentFromWebhook(c.UserContext(), Webhook{
		Payload:  c.Body(),
		Verified: middleware.WebhookVerified(c),
	})
	if err != nil {
		return err
	}
	body := fiber.Map{
		"merchant_order_id": res.MerchantOrderID,
		"status":            res.Status,
		"credited":          res.Credited,
	}
	if res.TransactionID != "" {
		body["transaction_id"] = res.TransactionID
	}
	return c.JSON(body)
}

func paymentView(p domain.CryptoPayment) fiber.Map {
	return fiber.Map{
		"id":                      p.ID,
		"user_id":                 p.UserID,
		"merchant_order_id":       p.MerchantOrderID,
		"order_id":                p.OrderID,
		"base_amount":             p.BaseAmount,
		"base_currency":           p.BaseCurrency,
		"settled_currency":        p.SettledCurrency,
		"network_symbol":          p.NetworkSymbol,
		"status":                  p.Status,
		"base_amount_received":    p.BaseAmountReceived,
		"settled_amount_received": p.SettledAmountReceived,
		"settled_amount_credited": p.SettledAmountCredited,
		"commission":              p.Commission,
		"credit_transaction_id":   p.CreditTransactionID,
		"payment_url":             p.PaymentURL,
		"expires_at":              p.ExpiresAt,
		"created_at":              p.CreatedAt,
		"updated_at":              p.UpdatedAt,
	}
}
