package wallet

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/fundscore/internal/domain"
	"github.com/congo-pay/fundscore/internal/idgen"
	"github.com/congo-pay/fundscore/internal/ledger"
	"github.com/congo-pay/fundscore/internal/store"
	"github.com/congo-pay/fundscore/internal/validation"
)

const (
	statusActive    = "active"
	defaultCurrency = "USD"
)

// Service provisions wallets and exposes balance reads backed by the ledger.
type Service struct {
	store  store.Store
	ledger *ledger.Ledger
	ids    *idgen.Allocator
}

// NewService builds a wallet service instance.
func NewService(s store.Store, l *ledger.Ledger, ids *idgen.Allocator) *Service {
	return &Service{store: s, ledger: l, ids: ids}
}

// CreateInput captures data required to create a wallet.
type CreateInput struct {
	UserID   string `json:"user_id" validate:"required"`
	UserType string `json:"user_type" validate:"omitempty,oneof=live demo"`
	Currency string `json:"currency" validate:"omitempty,len=3"`
}

// Create provisions an empty wallet with a fresh account number.
func (s *Service) Create(ctx context.Context, input CreateInput) (domain.Wallet, error) {
	if err := validation.Struct(input); err != nil {
		return domain.Wallet{}, err
	}

	userType := input.UserType
	if userType == "" {
		userType = domain.UserTypeLive
	}
	currency := strings.ToUpper(input.Currency)
	if currency == "" {
		currency = defaultCurrency
	}

	now := time.Now().UTC()
	w := domain.Wallet{
		UserID:        input.UserID,
		UserType:      userType,
		AccountNumber: s.ids.Next(idgen.PrefixAccount),
		Currency:      currency,
		Balance:       decimal.Zero,
		Status:        statusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateWallet(ctx, w); err != nil {
		return domain.Wallet{}, err
	}
	return w, nil
}

// Get retrieves wallet metadata.
func (s *Service) Get(ctx context.Context, userID string) (domain.Wallet, error) {
	return s.store.GetWallet(ctx, userID)
}

// Balance returns the ledger balance for the user.
func (s *Service) Balance(ctx context.Context, userID string) (Balance, error) {
	w, err := s.store.GetWallet(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{UserID: w.UserID, Currency: w.Currency, Amount: w.Balance, AsOf: time.Now().UTC()}, nil
}

// Transactions lists ledger entries for the user, newest first.
func (s *Service) Transactions(ctx context.Context, userID string, limit, offset int) ([]domain.UserTransaction, error) {
	if _, err := s.store.GetWallet(ctx, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListTransactions(ctx, userID, limit, offset)
}

// AdjustInput is a manual admin correction to a balance.
type AdjustInput struct {
	UserID      string           `json:"-" validate:"required"`
	AdminID     string           `json:"-" validate:"required"`
	Amount      *decimal.Decimal `json:"amount" validate:"required"`
	ReferenceID string           `json:"reference_id"`
	Notes       string           `json:"notes" validate:"required"`
}

// Adjust posts a signed correction through the ledger in its own unit.
func (s *Service) Adjust(ctx context.Context, in AdjustInput) (ledger.Result, error) {
	if err := validation.Struct(in); err != nil {
		return ledger.Result{}, err
	}
	if in.Amount.IsZero() {
		return ledger.Result{}, domain.InvalidAmount(in.Amount.String())
	}
	if !domain.FitsScale(*in.Amount) {
		return ledger.Result{}, domain.AmountTooPrecise(in.Amount.String())
	}
	ref := in.ReferenceID
	if ref == "" {
		ref = s.ids.Next(idgen.PrefixAdjustment)
	}
	return s.ledger.Mutate(ctx, ledger.Mutation{
		UserID:      in.UserID,
		Amount:      *in.Amount,
		ReferenceID: ref,
		Notes:       in.Notes,
		Metadata: map[string]any{
			"source":   "admin_adjustment",
			"admin_id": in.AdminID,
		},
	})
}
