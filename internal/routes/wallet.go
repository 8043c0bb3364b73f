package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/fundscore/internal/wallet"
)

// RegisterWalletRoutes wires wallet provisioning and balance reads.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Post("/wallets", h.Create)
	r.Get("/wallets/:userId", h.Get)
	r.Get("/wallets/:userId/balance", h.Balance)
	r.Get("/wallets/:userId/transactions", h.Transactions)
}
