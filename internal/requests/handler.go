package requests

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/congo-pay/fundscore/internal/domain"
)

// AdminHeader carries the admin id set by the upstream auth layer.
const AdminHeader = "X-Admin-ID"

// Handler exposes money request endpoints.
type Handler struct {
	manager *Manager
}

// NewHandler constructs a money request handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// Create opens a deposit or withdraw request.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req CreateInput
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	created, err := h.manager.Create(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(view(created))
}

// Get returns a request by numeric id.
func (h *Handler) Get(c *fiber.Ctx) error {
	id, err := ParseID(c.Params("id"))
	if err != nil {
		return err
	}
	req, err := h.manager.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(view(req))
}

// GetByCode returns a request by its public code.
func (h *Handler) GetByCode(c *fiber.Ctx) error {
	req, err := h.manager.GetByCode(c.UserContext(), c.Params("code"))
	if err != nil {
		return err
	}
	return c.JSON(view(req))
}

// ListByUser returns a user's request history.
func (h *Handler) ListByUser(c *fiber.Ctx) error {
	items, err := h.manager.ListByUser(c.UserContext(), c.Params("userId"), domain.RequestStatus(c.Query("status")), c.QueryInt("limit"), c.QueryInt("offset"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"items": views(items)})
}

// ListPending returns the FIFO admin queue.
func (h *Handler) ListPending(c *fiber.Ctx) error {
	items, err := h.manager.ListPending(c.UserContext(), c.QueryInt("limit"), c.QueryInt("offset"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"items": views(items)})
}

// Stats aggregates requests; from/to accept RFC3339 or YYYY-MM-DD.
func (h *Handler) Stats(c *fiber.Ctx) error {
	var f domain.StatsFilter
	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		ts, err := parseTime(raw)
		if err != nil {
			return domain.InvalidField(name, raw)
		}
		*dst = &ts
	}

	stats, err := h.manager.Stats(c.UserContext(), f)
	if err != nil {
		return err
	}
	buckets := make([]fiber.Map, 0, len(stats.Buckets))
	for _, b := range stats.Buckets {
		buckets = append(buckets, fiber.Map{
			"status": b.Status,
			"type":   b.Type,
			"count":  b.Count,
			"amount": b.Amount,
		})
	}
	return c.JSON(fiber.Map{"total": stats.Total, "buckets": buckets})
}

type decisionRequest struct {
	Notes string `json:"notes"`
}

// Approve, Reject and Hold resolve a request on behalf of the admin in AdminHeader.
func (h *Handler) Approve(c *fiber.Ctx) error { return h.decide(c, h.manager.Approve) }

func (h *Handler) Reject(c *fiber.Ctx) error { return h.decide(c, h.manager.Reject) }

func (h *Handler) Hold(c *fiber.Ctx) error { return h.decide(c, h.manager.Hold) }

type decider func(ctx context.Context, id int64, d Decision) (domain.MoneyRequest, error)

func (h *Handler) decide(c *fiber.Ctx, fn decider) error {
	id, err := ParseID(c.Params("id"))
	if err != nil {
		return err
	}
	var body decisionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	req, err := fn(c.UserContext(), id, Decision{AdminID: utils.CopyString(c.Get(AdminHeader)), Notes: body.Notes})
	if err != nil {
		return err
	}
	return c.JSON(view(req))
}

func parseTime(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	return time.Parse(time.DateOnly, raw)
}

func views(items []domain.MoneyRequest) []fiber.Map {
	out := make([]fiber.Map, 0, len(items))
	for _, r := range items {
		out = append(out, view(r))
	}
	return out
}

func view(r domain.MoneyRequest) fiber.Map {
	m := fiber.Map{
		"id":             r.ID,
		"request_code":   r.RequestCode,
		"user_id":        r.UserID,
		"type":           r.Type,
		"amount":         r.Amount,
		"currency":       r.Currency,
		"status":         r.Status,
		"account_number": r.AccountNumber,
		"admin_id":       r.AdminID,
		"notes":          r.Notes,
		"processed_at":   r.ProcessedAt,
		"transaction_id": r.TransactionID,
		"created_at":     r.CreatedAt,
		"updated_at":     r.UpdatedAt,
	}
	if r.Type == domain.DirectionWithdraw {
		m["method_type"] = r.MethodType
		m["method_details"] = r.MethodDetails
	}
	return m
}
