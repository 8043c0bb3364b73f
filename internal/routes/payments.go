package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/fundscore/internal/payments"
)

// RegisterPaymentRoutes wires crypto deposit endpoints.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler) {
	r.Post("/crypto/deposits", h.CreateDeposit)
	r.Get("/crypto/deposits/:merchantOrderId", h.GetDeposit)
	r.Get("/users/:userId/crypto/deposits", h.ListUserDeposits)
}

// RegisterWebhookRoutes wires the provider callback behind signature verification.
func RegisterWebhookRoutes(app *fiber.App, h *payments.Handler, verify fiber.Handler) {
	app.Post("/webhooks/crypto", verify, h.Webhook)
}
