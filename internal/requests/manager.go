// Package requests implements the admin-reviewed money request lifecycle:
// users open deposit or withdraw requests, admins approve, reject or hold them.
package requests

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/fundscore/internal/domain"
	"github.com/congo-pay/fundscore/internal/idgen"
	"github.com/congo-pay/fundscore/internal/ledger"
	"github.com/congo-pay/fundscore/internal/metrics"
	"github.com/congo-pay/fundscore/internal/store"
	"github.com/congo-pay/fundscore/internal/validation"
)

const (
	entityMoneyRequest = "money_request"
	defaultRejectNotes = "Rejected by admin"
	defaultListLimit   = 50
)

// Manager owns money request state. Approval posts to the ledger in the
// same atomic unit as the status change.
type Manager struct {
	store  store.Store
	ledger *ledger.Ledger
	ids    *idgen.Allocator
	logger *slog.Logger
	now    func() time.Time
}

// NewManager wires the request manager to its collaborators.
func NewManager(s store.Store, l *ledger.Ledger, ids *idgen.Allocator, logger *slog.Logger) *Manager {
	return &Manager{store: s, ledger: l, ids: ids, logger: logger, now: time.Now}
}

// CreateInput is a user's deposit or withdraw request.
type CreateInput struct {
	UserID        string           `json:"user_id" validate:"required"`
	Type          domain.Direction `json:"type" validate:"required,oneof=deposit withdraw"`
	Amount        *decimal.Decimal `json:"amount" validate:"required"`
	Currency      string           `json:"currency" validate:"omitempty,len=3"`
	MethodType    string           `json:"method_type"`
	MethodDetails json.RawMessage  `json:"method_details"`
	AccountNumber string           `json:"account_number"`
}

// Create validates and persists a pending request. For withdrawals the
// balance check is a point-in-time read, not a reservation; approval checks
// again under the wallet lock.
func (m *Manager) Create(ctx context.Context, in CreateInput) (domain.MoneyRequest, error) {
	if err := validation.Struct(in); err != nil {
		return domain.MoneyRequest{}, err
	}

	wallet, err := m.store.GetWallet(ctx, in.UserID)
	if err != nil {
		return domain.MoneyRequest{}, err
	}
	if err := domain.CheckAmount(*in.Amount); err != nil {
		return domain.MoneyRequest{}, err
	}

	method, details := "", json.RawMessage(nil)
	if in.Type == domain.DirectionWithdraw {
		method = strings.ToLower(strings.TrimSpace(in.MethodType))
		if !domain.ValidMethod(method) {
			return domain.MoneyRequest{}, domain.InvalidMethod(in.MethodType)
		}
		details = bytes.TrimSpace(in.MethodDetails)
		if len(details) == 0 || string(details) == "null" {
			return domain.MoneyRequest{}, domain.MissingField("method_details")
		}
		if !json.Valid(details) {
			return domain.MoneyRequest{}, domain.InvalidField("method_details", string(details))
		}
		if wallet.Balance.LessThan(*in.Amount) {
			return domain.MoneyRequest{}, domain.InsufficientBalance(in.UserID, wallet.Balance.String(), in.Amount.String())
		}
	}

	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = wallet.Currency
	}
	account := in.AccountNumber
	if account == "" {
		account = wallet.AccountNumber
	}

	now := m.now().UTC()
	req := domain.MoneyRequest{
		RequestCode:   m.ids.Next(idgen.PrefixMoneyRequest),
		UserID:        in.UserID,
		Type:          in.Type,
		Amount:        *in.Amount,
		Currency:      currency,
		Status:        domain.RequestPending,
		MethodType:    method,
		MethodDetails: details,
		AccountNumber: account,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var created domain.MoneyRequest
	err = m.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		created, err = tx.InsertMoneyRequest(ctx, req)
		return err
	})
	if err != nil {
		return domain.MoneyRequest{}, err
	}

	metrics.RequestTransitions.WithLabelValues(string(domain.RequestPending)).Inc()
	m.logger.Info("money request created",
		slog.String("request_code", created.RequestCode),
		slog.String("user_id", created.UserID),
		slog.String("type", string(created.Type)),
		slog.String("amount", created.Amount.String()),
	)
	return created, nil
}

// Decision is an admin's resolution of a request.
type Decision struct {
	AdminID string
	Notes   string
}

// Approve posts the request's signed amount to the ledger and marks it
// approved. Both commit together; a ledger refusal leaves the request as it was.
func (m *Manager) Approve(ctx context.Context, id int64, d Decision) (domain.MoneyRequest, error) {
	if d.AdminID == "" {
		return domain.MoneyRequest{}, domain.MissingField("admin_id")
	}

	var (
		updated domain.MoneyRequest
		posted  ledger.Result
	)
	err := m.store.WithTx(ctx, func(tx store.Tx) error {
		req, err := m.lockFor(ctx, tx, id, domain.RequestApproved)
		if err != nil {
			return err
		}

		signed := req.Amount
		if req.Type == domain.DirectionWithdraw {
			signed = signed.Neg()
		}
		posted, err = m.ledger.Post(ctx, tx, ledger.Mutation{
			UserID:      req.UserID,
			Amount:      signed,
			ReferenceID: req.RequestCode,
			Notes:       notesOr(d.Notes, "Money request "+req.RequestCode+" approved"),
			Metadata: map[string]any{
				"source":          "money_request",
				"request_id":      req.ID,
				"request_code":    req.RequestCode,
				"request_type":    string(req.Type),
				"request_amount":  req.Amount.String(),
				"currency":        req.Currency,
				"method_type":     req.MethodType,
				"account_number":  req.AccountNumber,
				"admin_id":        d.AdminID,
				"previous_status": string(req.Status),
			},
		})
		if err != nil {
			return err
		}

		updated = m.resolve(req, domain.RequestApproved, d.AdminID, notesPtr(d.Notes))
		updated.TransactionID = &posted.TransactionID
		return tx.UpdateMoneyRequest(ctx, updated)
	})
	if err != nil {
		m.logger.Warn("money request approval failed",
			slog.Int64("request_id", id),
			slog.String("admin_id", d.AdminID),
			slog.Any("error", err),
		)
		return domain.MoneyRequest{}, err
	}

	m.ledger.AfterCommit(ctx, posted)
	m.transitioned(updated, d.AdminID)
	return updated, nil
}

// Reject resolves the request without touching the ledger.
func (m *Manager) Reject(ctx context.Context, id int64, d Decision) (domain.MoneyRequest, error) {
	notes := notesOr(d.Notes, defaultRejectNotes)
	return m.move(ctx, id, domain.RequestRejected, d.AdminID, &notes)
}

// Hold parks a pending request for later review.
func (m *Manager) Hold(ctx context.Context, id int64, d Decision) (domain.MoneyRequest, error) {
	return m.move(ctx, id, domain.RequestOnHold, d.AdminID, notesPtr(d.Notes))
}

func (m *Manager) move(ctx context.Context, id int64, to domain.RequestStatus, adminID string, notes *string) (domain.MoneyRequest, error) {
	if adminID == "" {
		return domain.MoneyRequest{}, domain.MissingField("admin_id")
	}
	var updated domain.MoneyRequest
	err := m.store.WithTx(ctx, func(tx store.Tx) error {
		req, err := m.lockFor(ctx, tx, id, to)
		if err != nil {
			return err
		}
		updated = m.resolve(req, to, adminID, notes)
		return tx.UpdateMoneyRequest(ctx, updated)
	})
	if err != nil {
		return domain.MoneyRequest{}, err
	}
	m.transitioned(updated, adminID)
	return updated, nil
}

// lockFor locks the request row and checks that it may move to target.
func (m *Manager) lockFor(ctx context.Context, tx store.Tx, id int64, target domain.RequestStatus) (domain.MoneyRequest, error) {
	req, err := tx.LockMoneyRequest(ctx, id)
	if err != nil {
		return domain.MoneyRequest{}, err
	}
	if !req.Status.CanTransition(target) {
		return domain.MoneyRequest{}, domain.InvalidStateTransition(entityMoneyRequest, req.RequestCode, string(req.Status), expectedFrom(target))
	}
	return req, nil
}

func (m *Manager) resolve(req domain.MoneyRequest, to domain.RequestStatus, adminID string, notes *string) domain.MoneyRequest {
	now := m.now().UTC()
	req.Status = to
	req.AdminID = &adminID
	if notes != nil {
		req.Notes = notes
	}
	if to.Terminal() {
		req.ProcessedAt = &now
	}
	req.UpdatedAt = now
	return req
}

func (m *Manager) transitioned(req domain.MoneyRequest, adminID string) {
	metrics.RequestTransitions.WithLabelValues(string(req.Status)).Inc()
	m.logger.Info("money request resolved",
		slog.String("request_code", req.RequestCode),
		slog.String("status", string(req.Status)),
		slog.String("admin_id", adminID),
	)
}

// expectedFrom lists the statuses from which target is reachable.
func expectedFrom(target domain.RequestStatus) string {
	var from []string
	for _, s := range []domain.RequestStatus{domain.RequestPending, domain.RequestOnHold, domain.RequestApproved, domain.RequestRejected} {
		if s.CanTransition(target) {
			from = append(from, string(s))
		}
	}
	return strings.Join(from, "|")
}

func notesOr(notes, fallback string) string {
	if strings.TrimSpace(notes) == "" {
		return fallback
	}
	return notes
}

func notesPtr(notes string) *string {
	if strings.TrimSpace(notes) == "" {
		return nil
	}
	return &notes
}

// Get returns a request by internal id.
func (m *Manager) Get(ctx context.Context, id int64) (domain.MoneyRequest, error) {
	return m.store.GetMoneyRequest(ctx, id)
}

// GetByCode returns a request by its public code.
func (m *Manager) GetByCode(ctx context.Context, code string) (domain.MoneyRequest, error) {
	return m.store.GetMoneyRequestByCode(ctx, code)
}

// ListPending returns pending requests oldest first for FIFO triage.
func (m *Manager) ListPending(ctx context.Context, limit, offset int) ([]domain.MoneyRequest, error) {
	return m.store.ListMoneyRequests(ctx, domain.RequestFilter{
		Status:      domain.RequestPending,
		OldestFirst: true,
		Limit:       orDefault(limit),
		Offset:      offset,
	})
}

// ListByUser returns a user's request history newest first, optionally
// narrowed by status.
func (m *Manager) ListByUser(ctx context.Context, userID string, status domain.RequestStatus, limit, offset int) ([]domain.MoneyRequest, error) {
	if userID == "" {
		return nil, domain.MissingField("user_id")
	}
	return m.store.ListMoneyRequests(ctx, domain.RequestFilter{
		UserID: userID,
		Status: status,
		Limit:  orDefault(limit),
		Offset: offset,
	})
}

// Stats aggregates requests by status and type within an optional window.
func (m *Manager) Stats(ctx context.Context, f domain.StatsFilter) (domain.RequestStats, error) {
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return domain.RequestStats{}, domain.InvalidField("to", f.To.Format(time.RFC3339))
	}
	return m.store.MoneyRequestStats(ctx, f)
}

func orDefault(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

// ParseID converts a path parameter to a request id.
func ParseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.RequestNotFound(raw)
	}
	return id, nil
}
