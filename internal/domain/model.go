package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Direction of money movement relative to the user's wallet.
type Direction string

const (
	DirectionDeposit  Direction = "deposit"
	DirectionWithdraw Direction = "withdraw"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionDeposit || d == DirectionWithdraw
}

// AmountScale is the number of fractional digits every money column keeps.
const AmountScale = 8

// CheckAmount rejects amounts that are not positive or that carry more
// fractional digits than AmountScale.
func CheckAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return InvalidAmount(amount.String())
	}
	if !FitsScale(amount) {
		return AmountTooPrecise(amount.String())
	}
	return nil
}

// FitsScale reports whether amount is representable at AmountScale without rounding.
func FitsScale(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(AmountScale))
}

// UserType segments wallets (live trading accounts vs demo accounts).
const (
	UserTypeLive = "live"
	UserTypeDemo = "demo"
)

// Wallet is the authoritative balance row for one user.
type Wallet struct {
	UserID        string
	UserType      string
	AccountNumber string
	Currency      string
	Balance       decimal.Decimal
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TransactionStatusCompleted is the only wallet-transaction status this core writes.
const TransactionStatusCompleted = "completed"

// UserTransaction is one append-only ledger entry.
type UserTransaction struct {
	TransactionID string
	UserID        string
	UserType      string
	Type          Direction
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Status        string
	ReferenceID   string
	Notes         string
	Metadata      map[string]any
	CreatedAt     time.Time
}

// Consistent reports whether the entry's snapshots agree with its amount.
func (t UserTransaction) Consistent() bool {
	return t.BalanceBefore.Add(t.Amount).Equal(t.BalanceAfter)
}

// MoneyRequest is an admin-reviewed deposit or withdrawal instruction.
type MoneyRequest struct {
	ID            int64
	RequestCode   string
	UserID        string
	Type          Direction
	Amount        decimal.Decimal
	Currency      string
	Status        RequestStatus
	MethodType    string
	MethodDetails json.RawMessage
	AccountNumber string
	AdminID       *string
	Notes         *string
	ProcessedAt   *time.Time
	TransactionID *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RequestFilter narrows money request listings.
type RequestFilter struct {
	UserID string
	Status RequestStatus
	Type   Direction
	// OldestFirst orders by created_at ascending (FIFO triage); default is newest first.
	OldestFirst bool
	Limit       int
	Offset      int
}

// StatsFilter bounds statistics by creation time; nil bounds are open.
type StatsFilter struct {
	From *time.Time
	To   *time.Time
}

// Bucket aggregates requests sharing a status and type.
type Bucket struct {
	Status RequestStatus
	Type   Direction
	Count  int64
	Amount decimal.Decimal
}

// RequestStats is the aggregate view admins use for triage.
type RequestStats struct {
	Total   int64
	Buckets []Bucket
}

// CryptoPayment tracks one gateway-mediated deposit attempt.
type CryptoPayment struct {
	ID                    string
	UserID                string
	MerchantOrderID       string
	OrderID               string
	BaseAmount            decimal.Decimal
	BaseCurrency          string
	SettledCurrency       string
	NetworkSymbol         string
	Status                PaymentStatus
	BaseAmountReceived    *decimal.Decimal
	SettledAmountReceived *decimal.Decimal
	SettledAmountCredited *decimal.Decimal
	Commission            *decimal.Decimal
	CreditTransactionID   *string
	PaymentURL            string
	ExpiresAt             *time.Time
	TransactionDetails    map[string]any
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Withdrawal method kinds accepted on withdraw requests.
const (
	MethodBank   = "bank"
	MethodUPI    = "upi"
	MethodSwift  = "swift"
	MethodIBAN   = "iban"
	MethodPaypal = "paypal"
	MethodCrypto = "crypto"
	MethodOther  = "other"
)

// ValidMethod reports whether kind is an accepted withdrawal method.
func ValidMethod(kind string) bool {
	switch kind {
	case MethodBank, MethodUPI, MethodSwift, MethodIBAN, MethodPaypal, MethodCrypto, MethodOther:
		return true
	}
	return false
}
