package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is a point-in-time read of a user's authoritative balance.
type Balance struct {
	UserID   string
	Currency string
	Amount   decimal.Decimal
	AsOf     time.Time
}
