package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/fundscore/internal/requests"
	"github.com/congo-pay/fundscore/internal/wallet"
)

// RegisterRequestRoutes wires user-facing money request endpoints.
func RegisterRequestRoutes(r fiber.Router, h *requests.Handler) {
	r.Post("/money-requests", h.Create)
	r.Get("/money-requests/code/:code", h.GetByCode)
	r.Get("/money-requests/:id", h.Get)
	r.Get("/users/:userId/money-requests", h.ListByUser)
}

// RegisterAdminRoutes wires admin triage and balance-moving endpoints.
func RegisterAdminRoutes(r fiber.Router, h *requests.Handler, w *wallet.Handler) {
	r.Get("/money-requests/pending", h.ListPending)
	r.Get("/money-requests/stats", h.Stats)
	r.Post("/money-requests/:id/approve", h.Approve)
	r.Post("/money-requests/:id/reject", h.Reject)
	r.Post("/money-requests/:id/hold", h.Hold)
	r.Post("/wallets/:userId/adjustments", w.Adjust)
}
