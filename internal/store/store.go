package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/fundscore/internal/domain"
)

// Store is the persistence boundary for the settlement core. Reads outside
// WithTx see committed state only.
type Store interface {
	// WithTx runs fn inside one atomic unit. A non-nil error from fn rolls
	// everything back; otherwise all writes made through tx commit together.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	CreateWallet(ctx context.Context, w domain.Wallet) error
	GetWallet(ctx context.Context, userID string) (domain.Wallet, error)
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]domain.UserTransaction, error)

	GetMoneyRequest(ctx context.Context, id int64) (domain.MoneyRequest, error)
	GetMoneyRequestByCode(ctx context.Context, code string) (domain.MoneyRequest, error)
	ListMoneyRequests(ctx context.Context, f domain.RequestFilter) ([]domain.MoneyRequest, error)
	MoneyRequestStats(ctx context.Context, f domain.StatsFilter) (domain.RequestStats, error)

	CreateCryptoPayment(ctx context.Context, p domain.CryptoPayment) error
	GetCryptoPayment(ctx context.Context, merchantOrderID string) (domain.CryptoPayment, error)
	ListCryptoPayments(ctx context.Context, userID string, limit, offset int) ([]domain.CryptoPayment, error)

	Ping(ctx context.Context) error
}

// Tx is the write side of an atomic unit. Lock* methods hold the row until
// the unit ends; concurrent units locking the same row wait.
type Tx interface {
	LockWallet(ctx context.Context, userID string) (domain.Wallet, error)
	SetWalletBalance(ctx context.Context, userID string, balance decimal.Decimal) error
	InsertTransaction(ctx context.Context, t domain.UserTransaction) error

	InsertMoneyRequest(ctx context.Context, r domain.MoneyRequest) (domain.MoneyRequest, error)
	LockMoneyRequest(ctx context.Context, id int64) (domain.MoneyRequest, error)
	UpdateMoneyRequest(ctx context.Context, r domain.MoneyRequest) error

	LockCryptoPayment(ctx context.Context, merchantOrderID string) (domain.CryptoPayment, error)
	UpdateCryptoPayment(ctx context.Context, p domain.CryptoPayment) error

	// Savepoint runs fn as a nested unit: if fn fails, its writes are discarded
	// and the enclosing unit continues.
	Savepoint(ctx context.Context, fn func(tx Tx) error) error
}
