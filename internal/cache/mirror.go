package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// BalanceField is the hash field carrying the mirrored wallet balance.
const BalanceField = "wallet_balance"

// Mirror is a best-effort, non-authoritative copy of wallet balances.
type Mirror interface {
	SetBalance(ctx context.Context, userType, userID string, balance decimal.Decimal) error
}

// Key returns the per-user config hash that holds the mirrored balance.
func Key(userType, userID string) string {
	return fmt.Sprintf("user:%s:%s:config", userType, userID)
}

// RedisMirror writes balances into the per-user Redis config hash.
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMirror builds a mirror. A zero ttl leaves the hash without expiry.
func NewRedisMirror(client *redis.Client, ttl time.Duration) *RedisMirror {
	return &RedisMirror{client: client, ttl: ttl}
}

// SetBalance overwrites the mirrored balance for the user.
func (m *RedisMirror) SetBalance(ctx context.Context, userType, userID string, balance decimal.Decimal) error {
	key := Key(userType, userID)
	pipe := m.client.TxPipeline()
	pipe.HSet(ctx, key, BalanceField, balance.String())
	if m.ttl > 0 {
		pipe.Expire(ctx, key, m.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirror balance %s: %w", key, err)
	}
	return nil
}

// Noop discards every write. Used when no Redis is configured.
type Noop struct{}

func (Noop) SetBalance(context.Context, string, string, decimal.Decimal) error { return nil }
