package store

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/fundscore/internal/domain"
)

// SeedWallet is a test helper that creates or overwrites a live wallet with
// the given balance when using the in-memory store.
func SeedWallet(s Store, userID string, balance decimal.Decimal) {
	mem, ok := s.(*Memory)
	if !ok {
		return
	}
	mem.mu.Lock()
	defer mem.mu.Unlock()
	now := time.Now().UTC()
	w, exists := mem.wallets[userID]
	if !exists {
		w = domain.Wallet{
			UserID:        userID,
			UserType:      domain.UserTypeLive,
			AccountNumber: "ACC-" + userID,
			Currency:      "USD",
			Status:        "active",
			CreatedAt:     now,
		}
	}
	w.Balance = balance
	w.UpdatedAt = now
	mem.wallets[userID] = w
}
