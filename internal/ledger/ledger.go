package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/fundscore/internal/cache"
	"github.com/congo-pay/fundscore/internal/domain"
	"github.com/congo-pay/fundscore/internal/events"
	"github.com/congo-pay/fundscore/internal/idgen"
	"github.com/congo-pay/fundscore/internal/metrics"
	"github.com/congo-pay/fundscore/internal/store"
)

const sideEffectTimeout = 2 * time.Second

// Mutation describes one signed change to a user's balance.
type Mutation struct {
	UserID string
	// Amount is signed: positive credits, negative debits.
	Amount      decimal.Decimal
	ReferenceID string
	Notes       string
	Metadata    map[string]any
}

// Result captures the outcome of a ledger posting.
type Result struct {
	TransactionID string
	UserID        string
	UserType      string
	Type          domain.Direction
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	ReferenceID   string
}

// Ledger is the only code path that changes a stored balance.
type Ledger struct {
	store  store.Store
	ids    *idgen.Allocator
	mirror cache.Mirror
	events events.Publisher
	logger *slog.Logger
	now    func() time.Time
}

// New builds a ledger. mirror and publisher may be nil.
func New(s store.Store, ids *idgen.Allocator, mirror cache.Mirror, publisher events.Publisher, logger *slog.Logger) *Ledger {
	if mirror == nil {
		mirror = cache.Noop{}
	}
	if publisher == nil {
		publisher = events.NewLogPublisher(logger)
	}
	return &Ledger{
		store:  s,
		ids:    ids,
		mirror: mirror,
		events: publisher,
		logger: logger,
		now:    time.Now,
	}
}

// Post applies m inside the caller's atomic unit: it locks the wallet row,
// writes the new balance and appends the entry with before/after snapshots.
// Nothing is visible until the unit commits; call AfterCommit afterwards.
func (l *Ledger) Post(ctx context.Context, tx store.Tx, m Mutation) (Result, error) {
	if m.Amount.IsZero() {
		return Result{}, domain.InvalidAmount(m.Amount.String())
	}
	if !domain.FitsScale(m.Amount) {
		return Result{}, domain.AmountTooPrecise(m.Amount.String())
	}

	wallet, err := tx.LockWallet(ctx, m.UserID)
	if err != nil {
		return Result{}, err
	}

	before := wallet.Balance
	after := before.Add(m.Amount)
	if after.IsNegative() {
		return Result{}, domain.InsufficientBalance(m.UserID, before.String(), m.Amount.Neg().String())
	}

	kind := domain.DirectionDeposit
	if m.Amount.IsNegative() {
		kind = domain.DirectionWithdraw
	}

	entry := domain.UserTransaction{
		TransactionID: l.ids.Next(idgen.PrefixTransaction),
		UserID:        m.UserID,
		UserType:      wallet.UserType,
		Type:          kind,
		Amount:        m.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Status:        domain.TransactionStatusCompleted,
		ReferenceID:   m.ReferenceID,
		Notes:         m.Notes,
		Metadata:      m.Metadata,
		CreatedAt:     l.now().UTC(),
	}

	if err := tx.SetWalletBalance(ctx, m.UserID, after); err != nil {
		return Result{}, err
	}
	if err := tx.InsertTransaction(ctx, entry); err != nil {
		return Result{}, err
	}

	return Result{
		TransactionID: entry.TransactionID,
		UserID:        entry.UserID,
		UserType:      entry.UserType,
		Type:          entry.Type,
		Amount:        entry.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		ReferenceID:   entry.ReferenceID,
	}, nil
}

// Mutate posts m in its own atomic unit and runs the post-commit hooks.
func (l *Ledger) Mutate(ctx context.Context, m Mutation) (Result, error) {
	var res Result
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		res, err = l.Post(ctx, tx, m)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	l.AfterCommit(ctx, res)
	return res, nil
}

// AfterCommit mirrors the new balance and publishes the posting. Failures are
// logged and counted, never returned: the committed ledger is authoritative.
func (l *Ledger) AfterCommit(ctx context.Context, res Result) {
	metrics.LedgerPostings.WithLabelValues(string(res.Type)).Inc()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	if err := l.mirror.SetBalance(ctx, res.UserType, res.UserID, res.BalanceAfter); err != nil {
		metrics.CacheMirrorFailures.Inc()
		l.logger.Warn("balance mirror update failed",
			slog.String("user_id", res.UserID),
			slog.String("transaction_id", res.TransactionID),
			slog.Any("error", err),
		)
	}

	if err := l.events.Publish(ctx, events.SubjectTransactionPosted, events.TransactionPosted{
		TransactionID: res.TransactionID,
		UserID:        res.UserID,
		UserType:      res.UserType,
		Type:          string(res.Type),
		Amount:        res.Amount.String(),
		BalanceAfter:  res.BalanceAfter.String(),
		ReferenceID:   res.ReferenceID,
	}); err != nil {
		metrics.EventPublishFailures.Inc()
		l.logger.Warn("transaction event publish failed",
			slog.String("user_id", res.UserID),
			slog.String("transaction_id", res.TransactionID),
			slog.Any("error", err),
		)
	}
}

// Balance returns the authoritative balance for the user.
func (l *Ledger) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	w, err := l.store.GetWallet(ctx, userID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return w.Balance, nil
}
