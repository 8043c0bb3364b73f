package payments

import (
	"context"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/fundscore/internal/domain"
	"github.com/congo-pay/fundscore/internal/gateway"
	"github.com/congo-pay/fundscore/internal/idgen"
	"github.com/congo-pay/fundscore/internal/ledger"
	"github.com/congo-pay/fundscore/internal/metrics"
	"github.com/congo-pay/fundscore/internal/store"
	"github.com/congo-pay/fundscore/internal/validation"
)

const (
	auditCallbacks   = "callbacks"
	auditCreate      = "create_response"
	auditCreateError = "create_error"
	auditCreditError = "credit_error"
)

// Gateway is the slice of the provider client the pipeline needs.
type Gateway interface {
	NewPayInRequest(merchantOrderID string, amount decimal.Decimal, baseCurrency, settledCurrency, network string) gateway.PayInRequest
	CreatePayIn(ctx context.Context, req gateway.PayInRequest) (gateway.PayInResponse, error)
}

// Service reconciles gateway-mediated crypto deposits with the wallet ledger.
type Service struct {
	store   store.Store
	ledger  *ledger.Ledger
	gateway Gateway
	ids     *idgen.Allocator
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs the reconciliation pipeline.
func NewService(s store.Store, l *ledger.Ledger, gw Gateway, ids *idgen.Allocator, logger *slog.Logger) *Service {
	return &Service{store: s, ledger: l, gateway: gw, ids: ids, logger: logger, now: time.Now}
}

// DepositInput captures a pay-in creation request.
type DepositInput struct {
	UserID          string           `json:"user_id" validate:"required"`
	BaseAmount      *decimal.Decimal `json:"base_amount" validate:"required"`
	BaseCurrency    string           `json:"base_currency" validate:"required"`
	SettledCurrency string           `json:"settled_currency" validate:"required"`
	NetworkSymbol   string           `json:"network_symbol" validate:"required"`
	CustomerName    string           `json:"customer_name"`
	Comments        string           `json:"comments"`
}

// DepositResult is what the caller needs to send the user to the provider.
type DepositResult struct {
	MerchantOrderID string     `json:"merchant_order_id"`
	OrderID         string     `json:"order_id"`
	PaymentURL      string     `json:"payment_url"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

// CreateDepositRequest allocates a merchant order id, asks the provider for a
// pay-in order and persists the attempt. A failed provider call still leaves a
// FAILED row carrying the error so the attempt is auditable.
func (s *Service) CreateDepositRequest(ctx context.Context, in DepositInput) (DepositResult, error) {
	if err := validation.Struct(in); err != nil {
		return DepositResult{}, err
	}
	if err := domain.CheckAmount(*in.BaseAmount); err != nil {
		return DepositResult{}, err
	}
	if _, err := s.store.GetWallet(ctx, in.UserID); err != nil {
		return DepositResult{}, err
	}

	moid := s.ids.Next(idgen.PrefixDeposit)
	req := s.gateway.NewPayInRequest(moid, *in.BaseAmount, in.BaseCurrency, in.SettledCurrency, in.NetworkSymbol)
	req.CustomerName = in.CustomerName
	req.Comments = in.Comments

	now := s.now().UTC()
	payment := domain.CryptoPayment{
		ID:              uuid.NewString(),
		UserID:          in.UserID,
		MerchantOrderID: moid,
		BaseAmount:      *in.BaseAmount,
		BaseCurrency:    in.BaseCurrency,
		SettledCurrency: in.SettledCurrency,
		NetworkSymbol:   in.NetworkSymbol,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	resp, callErr := s.gateway.CreatePayIn(ctx, req)
	if callErr != nil {
		payment.Status = domain.PaymentFailed
		payment.TransactionDetails = map[string]any{
			auditCreateError: callErr.Error(),
		}
		if resp.Raw != nil {
			payment.TransactionDetails[auditCreate] = resp.Raw
		}
		// The caller's deadline may be what failed the call.
		if err := s.store.CreateCryptoPayment(context.WithoutCancel(ctx), payment); err != nil {
			s.logger.Error("failed to record failed pay-in attempt",
				slog.String("merchant_order_id", moid),
				slog.Any("error", err),
			)
		}
		s.logger.Warn("pay-in creation failed",
			slog.String("merchant_order_id", moid),
			slog.String("user_id", in.UserID),
			slog.Any("error", callErr),
		)
		return DepositResult{}, callErr
	}

	payment.Status = domain.PaymentPending
	payment.OrderID = resp.OrderID
	payment.PaymentURL = resp.PaymentURL
	payment.ExpiresAt = resp.ExpiresAt
	payment.TransactionDetails = map[string]any{auditCreate: resp.Raw}
	if err := s.store.CreateCryptoPayment(ctx, payment); err != nil {
		return DepositResult{}, err
	}

	s.logger.Info("pay-in created",
		slog.String("merchant_order_id", moid),
		slog.String("order_id", resp.OrderID),
		slog.String("user_id", in.UserID),
	)
	return DepositResult{
		MerchantOrderID: moid,
		OrderID:         resp.OrderID,
		PaymentURL:      resp.PaymentURL,
		ExpiresAt:       resp.ExpiresAt,
	}, nil
}

// Webhook is one provider callback as received at the boundary.
type Webhook struct {
	// MerchantOrderID overrides the id carried in the payload when set.
	MerchantOrderID string
	Payload         []byte
	// Verified must be set by the boundary after checking the signature.
	Verified bool
}

// WebhookResult reports how a callback was applied.
type WebhookResult struct {
	MerchantOrderID string
	Status          domain.PaymentStatus
	Credited        bool
	TransactionID   string
	// CreditError is set when a credit was due but the ledger refused it.
	CreditError string
}

// UpdatePaymentFromWebhook applies a verified callback. Status, amounts and the
// audit trail commit together; the wallet is credited at most once, when the
// payment is in a creditable status and has not been credited yet. A credit
// failure is recorded on the payment and does not fail the callback.
func (s *Service) UpdatePaymentFromWebhook(ctx context.Context, hook Webhook) (WebhookResult, error) {
	if !hook.Verified {
		metrics.WebhookCallbacks.WithLabelValues("rejected").Inc()
		return WebhookResult{}, domain.ErrSignatureInvalid
	}
	cb, err := gateway.ParseCallback(hook.Payload)
	if err != nil {
		return WebhookResult{}, &domain.Error{Kind: domain.KindInvalidInput, Code: "invalid_payload", Err: err}
	}
	moid := hook.MerchantOrderID
	if moid == "" {
		moid = cb.MerchantOrderID
	}
	if moid == "" {
		return WebhookResult{}, domain.MissingField("merchantOrderId")
	}

	mapped := gateway.MapStatus(cb.Status)
	metrics.WebhookCallbacks.WithLabelValues(string(mapped)).Inc()

	var (
		result  WebhookResult
		posted  *ledger.Result
		payment domain.CryptoPayment
	)
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		result, posted = WebhookResult{MerchantOrderID: moid}, nil
		current, err := tx.LockCryptoPayment(ctx, moid)
		if err != nil {
			return err
		}
		payment = applyCallback(current, cb, mapped, s.now().UTC())

		amount := receivedAmount(cb)
		if mapped.Creditable() && payment.Status.Creditable() && payment.CreditTransactionID == nil && amount != nil && amount.IsPositive() {
			res, creditErr := s.credit(ctx, tx, payment, *amount, cb)
			if creditErr != nil {
				result.CreditError = creditErr.Error()
				payment.TransactionDetails[auditCreditError] = creditErr.Error()
				metrics.WebhookCredits.WithLabelValues(metrics.OutcomeFailed).Inc()
				s.logger.Error("webhook credit failed",
					slog.String("merchant_order_id", moid),
					slog.String("user_id", payment.UserID),
					slog.String("amount", amount.String()),
					slog.Any("error", creditErr),
				)
			} else {
				posted = &res
				payment.CreditTransactionID = &res.TransactionID
				delete(payment.TransactionDetails, auditCreditError)
			}
		} else if mapped.Creditable() && payment.Status.Creditable() {
			metrics.WebhookCredits.WithLabelValues(metrics.OutcomeSkipped).Inc()
		}

		return tx.UpdateCryptoPayment(ctx, payment)
	})
	if err != nil {
		return WebhookResult{}, err
	}

	result.Status = payment.Status
	if posted != nil {
		metrics.WebhookCredits.WithLabelValues(metrics.OutcomeOK).Inc()
		s.ledger.AfterCommit(ctx, *posted)
		result.Credited = true
		result.TransactionID = posted.TransactionID
	}
	s.logger.Info("webhook applied",
		slog.String("merchant_order_id", moid),
		slog.String("provider_status", cb.Status),
		slog.String("status", string(payment.Status)),
		slog.Bool("credited", result.Credited),
	)
	return result, nil
}

// credit posts the received amount inside a savepoint so a ledger failure
// leaves the enclosing status update intact.
func (s *Service) credit(ctx context.Context, tx store.Tx, p domain.CryptoPayment, amount decimal.Decimal, cb gateway.Callback) (ledger.Result, error) {
	var res ledger.Result
	err := tx.Savepoint(ctx, func(sp store.Tx) error {
		var err error
		res, err = s.ledger.Post(ctx, sp, ledger.Mutation{
			UserID:      p.UserID,
			Amount:      amount,
			ReferenceID: p.MerchantOrderID,
			Notes:       "crypto deposit " + string(p.Status),
			Metadata:    creditMetadata(p, cb),
		})
		return err
	})
	return res, err
}

func creditMetadata(p domain.CryptoPayment, cb gateway.Callback) map[string]any {
	md := map[string]any{
		"source":            "crypto_gateway",
		"merchant_order_id": p.MerchantOrderID,
		"order_id":          p.OrderID,
		"payment_status":    string(p.Status),
		"base_amount":       p.BaseAmount.String(),
		"base_currency":     p.BaseCurrency,
		"settled_currency":  p.SettledCurrency,
		"network":           firstNonEmpty(cb.Network, p.NetworkSymbol),
	}
	if cb.DepositAddress != "" {
		md["deposit_address"] = cb.DepositAddress
	}
	if cb.TransactionHash != "" {
		md["transaction_hash"] = cb.TransactionHash
	}
	if p.Commission != nil {
		md["commission"] = p.Commission.String()
	}
	return md
}

// applyCallback merges cb into a copy of p. Only fields present in the
// callback are overwritten, and a terminal status never changes again.
func applyCallback(p domain.CryptoPayment, cb gateway.Callback, mapped domain.PaymentStatus, now time.Time) domain.CryptoPayment {
	next := p
	if !p.Status.Terminal() && mapped.Rank() >= p.Status.Rank() {
		next.Status = mapped
	}
	if cb.OrderID != "" {
		next.OrderID = cb.OrderID
	}
	if cb.SettledCurrency != "" {
		next.SettledCurrency = cb.SettledCurrency
	}
	if cb.BaseAmountReceived != nil {
		next.BaseAmountReceived = cb.BaseAmountReceived
	}
	if cb.SettledAmountReceived != nil {
		next.SettledAmountReceived = cb.SettledAmountReceived
	}
	if cb.SettledAmountCredited != nil {
		next.SettledAmountCredited = cb.SettledAmountCredited
	}
	if cb.Commission != nil {
		next.Commission = cb.Commission
	}

	details := maps.Clone(p.TransactionDetails)
	if details == nil {
		details = map[string]any{}
	}
	var history []any
	if prev, ok := details[auditCallbacks].([]any); ok {
		history = append(history, prev...)
	}
	history = append(history, map[string]any{
		"received_at":     now.Format(time.RFC3339Nano),
		"provider_status": cb.Status,
		"mapped_status":   string(mapped),
		"applied_status":  string(next.Status),
		"payload":         cb.Raw,
	})
	details[auditCallbacks] = history
	next.TransactionDetails = details
	next.UpdatedAt = now
	return next
}

// receivedAmount picks the amount to credit: the base-currency amount when
// supplied, otherwise the settled amount, truncated to the ledger scale.
func receivedAmount(cb gateway.Callback) *decimal.Decimal {
	amount := cb.BaseAmountReceived
	if amount == nil {
		amount = cb.SettledAmountReceived
	}
	if amount == nil {
		return nil
	}
	truncated := amount.Truncate(domain.AmountScale)
	return &truncated
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Get returns a payment by merchant order id.
func (s *Service) Get(ctx context.Context, merchantOrderID string) (domain.CryptoPayment, error) {
	return s.store.GetCryptoPayment(ctx, merchantOrderID)
}

// ListByUser returns a user's payments, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.CryptoPayment, error) {
	if userID == "" {
		return nil, domain.MissingField("user_id")
	}
	return s.store.ListCryptoPayments(ctx, userID, limit, offset)
}
