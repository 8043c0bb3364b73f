package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/fundscore/internal/domain"
)

var statusTable = map[string]domain.PaymentStatus{
	"pending":       domain.PaymentPending,
	"waiting":       domain.PaymentPending,
	"processing":    domain.PaymentProcessing,
	"confirming":    domain.PaymentProcessing,
	"completed":     domain.PaymentCompleted,
	"paid":          domain.PaymentCompleted,
	"success":       domain.PaymentCompleted,
	"underpayment":  domain.PaymentUnderpayment,
	"under payment": domain.PaymentUnderpayment,
	"overpayment":   domain.PaymentOverpayment,
	"over payment":  domain.PaymentOverpayment,
	"failed":        domain.PaymentFailed,
	"expired":       domain.PaymentFailed,
	"cancelled":     domain.PaymentCancelled,
}

// MapStatus translates a provider status into the internal vocabulary.
// Unknown values map to PENDING.
func MapStatus(provider string) domain.PaymentStatus {
	if s, ok := statusTable[strings.ToLower(strings.TrimSpace(provider))]; ok {
		return s
	}
	return domain.PaymentPending
}

// Callback is the provider's webhook body. Absent numeric fields stay nil so
// they never overwrite stored values.
type Callback struct {
	MerchantOrderID       string           `json:"merchantOrderId"`
	OrderID               string           `json:"orderId"`
	Status                string           `json:"status"`
	BaseAmount            *decimal.Decimal `json:"baseAmount"`
	BaseAmountReceived    *decimal.Decimal `json:"baseAmountReceived"`
	SettledAmountReceived *decimal.Decimal `json:"settledAmountReceived"`
	SettledAmountCredited *decimal.Decimal `json:"settledAmountCredited"`
	Commission            *decimal.Decimal `json:"commission"`
	BaseCurrency          string           `json:"baseCurrency"`
	SettledCurrency       string           `json:"settledCurrency"`
	Network               string           `json:"network"`
	DepositAddress        string           `json:"depositAddress"`
	TransactionHash       string           `json:"transactionHash"`

	// Raw is the decoded body, kept for the audit trail.
	Raw map[string]any `json:"-"`
}

// ParseCallback decodes a webhook body. Bodies wrapped in a top-level "data"
// object are unwrapped.
func ParseCallback(body []byte) (Callback, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return Callback{}, fmt.Errorf("decode callback: %w", err)
	}

	payload := body
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err == nil && len(env.Data) > 0 && env.Data[0] == '{' {
		payload = env.Data
	}

	var cb Callback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return Callback{}, fmt.Errorf("decode callback fields: %w", err)
	}
	cb.Raw = raw
	return cb, nil
}
