package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/fundscore/internal/domain"
)

const maxTxAttempts = 3

// Postgres persists the settlement core in PostgreSQL. Row locks are taken
// with SELECT ... FOR UPDATE inside READ COMMITTED transactions.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres constructs a Postgres-backed store.
func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *Postgres {
	return &Postgres{pool: pool, logger: logger}
}

var _ Store = (*Postgres)(nil)

// WithTx runs fn in a transaction, retrying the whole unit on serialization
// failures and deadlocks.
func (s *Postgres) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		s.logger.Warn("retrying transaction", slog.Int("attempt", attempt), slog.Any("error", err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*10) * time.Millisecond):
		}
	}
	return err
}

func (s *Postgres) runTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return domain.Persistence("begin transaction", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Persistence("commit transaction", err)
	}
	return nil
}

func (s *Postgres) CreateWallet(ctx context.Context, w domain.Wallet) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO wallets (user_id, user_type, account_number, currency, balance, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8)`,
		w.UserID, w.UserType, w.AccountNumber, w.Currency, w.Balance.String(), w.Status, w.CreatedAt, w.UpdatedAt)
	if isUniqueViolation(err, "wallets_pkey") {
		return domain.WalletExists(w.UserID)
	}
	return domain.Persistence("create wallet", err)
}

func (s *Postgres) GetWallet(ctx context.Context, userID string) (domain.Wallet, error) {
	return scanWallet(s.pool.QueryRow(ctx, walletSelect+` WHERE user_id = $1`, userID), userID)
}

func (s *Postgres) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]domain.UserTransaction, error) {
	rows, err := s.pool.Query(ctx, `SELECT transaction_id, user_id, user_type, type, amount::text,
            balance_before::text, balance_after::text, status, COALESCE(reference_id, ''), COALESCE(notes, ''), metadata, created_at
        FROM user_transactions WHERE user_id = $1
        ORDER BY created_at DESC, transaction_id DESC`+limitClause(limit, offset), userID)
	if err != nil {
		return nil, domain.Persistence("list transactions", err)
	}
	defer rows.Close()

	var out []domain.UserTransaction
	for rows.Next() {
		var (
			t                     domain.UserTransaction
			amount, before, after string
			metadata              []byte
		)
		if err := rows.Scan(&t.TransactionID, &t.UserID, &t.UserType, &t.Type, &amount, &before, &after,
			&t.Status, &t.ReferenceID, &t.Notes, &metadata, &t.CreatedAt); err != nil {
			return nil, domain.Persistence("scan transaction", err)
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, domain.Persistence("scan transaction", err)
		}
		if t.BalanceBefore, err = decimal.NewFromString(before); err != nil {
			return nil, domain.Persistence("scan transaction", err)
		}
		if t.BalanceAfter, err = decimal.NewFromString(after); err != nil {
			return nil, domain.Persistence("scan transaction", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
				return nil, domain.Persistence("scan transaction", err)
			}
		}
		out = append(out, t)
	}
	return out, domain.Persistence("list transactions", rows.Err())
}

func (s *Postgres) GetMoneyRequest(ctx context.Context, id int64) (domain.MoneyRequest, error) {
	return scanRequest(s.pool.QueryRow(ctx, requestSelect+` WHERE id = $1`, id), strconv.FormatInt(id, 10))
}

func (s *Postgres) GetMoneyRequestByCode(ctx context.Context, code string) (domain.MoneyRequest, error) {
	return scanRequest(s.pool.QueryRow(ctx, requestSelect+` WHERE request_code = $1`, code), code)
}

func (s *Postgres) ListMoneyRequests(ctx context.Context, f domain.RequestFilter) ([]domain.MoneyRequest, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	query := requestSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.OldestFirst {
		query += " ORDER BY created_at ASC, id ASC"
	} else {
		query += " ORDER BY created_at DESC, id DESC"
	}
	query += limitClause(f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.Persistence("list money requests", err)
	}
	defer rows.Close()

	var out []domain.MoneyRequest
	for rows.Next() {
		r, err := scanRequest(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, domain.Persistence("list money requests", rows.Err())
}

func (s *Postgres) MoneyRequestStats(ctx context.Context, f domain.StatsFilter) (domain.RequestStats, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, type, COUNT(*), COALESCE(SUM(amount), 0)::text
        FROM money_requests
        WHERE ($1::timestamptz IS NULL OR created_at >= $1)
          AND ($2::timestamptz IS NULL OR created_at < $2)
        GROUP BY status, type
        ORDER BY status, type`, f.From, f.To)
	if err != nil {
		return domain.RequestStats{}, domain.Persistence("money request stats", err)
	}
	defer rows.Close()

	var stats domain.RequestStats
	for rows.Next() {
		var (
			b      domain.Bucket
			amount string
		)
		if err := rows.Scan(&b.Status, &b.Type, &b.Count, &amount); err != nil {
			return domain.RequestStats{}, domain.Persistence("scan stats", err)
		}
		if b.Amount, err = decimal.NewFromString(amount); err != nil {
			return domain.RequestStats{}, domain.Persistence("scan stats", err)
		}
		stats.Total += b.Count
		stats.Buckets = append(stats.Buckets, b)
	}
	return stats, domain.Persistence("money request stats", rows.Err())
}

func (s *Postgres) CreateCryptoPayment(ctx context.Context, p domain.CryptoPayment) error {
	details, err := json.Marshal(p.TransactionDetails)
	if err != nil {
		return domain.Persistence("encode transaction details", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO crypto_payments (id, user_id, merchant_order_id, order_id, base_amount,
            base_currency, settled_currency, network_symbol, status, payment_url, expires_at, transaction_details, created_at, updated_at)
        VALUES ($1, $2, $3, NULLIF($4, ''), $5::numeric, $6, $7, $8, $9, NULLIF($10, ''), $11, $12, $13, $14)`,
		p.ID, p.UserID, p.MerchantOrderID, p.OrderID, p.BaseAmount.String(), p.BaseCurrency, p.SettledCurrency,
		p.NetworkSymbol, string(p.Status), p.PaymentURL, p.ExpiresAt, details, p.CreatedAt, p.UpdatedAt)
	return domain.Persistence("create crypto payment", err)
}

func (s *Postgres) GetCryptoPayment(ctx context.Context, merchantOrderID string) (domain.CryptoPayment, error) {
	return scanPayment(s.pool.QueryRow(ctx, paymentSelect+` WHERE merchant_order_id = $1`, merchantOrderID), merchantOrderID)
}

func (s *Postgres) ListCryptoPayments(ctx context.Context, userID string, limit, offset int) ([]domain.CryptoPayment, error) {
	rows, err := s.pool.Query(ctx, paymentSelect+` WHERE user_id = $1 ORDER BY created_at DESC`+limitClause(limit, offset), userID)
	if err != nil {
		return nil, domain.Persistence("list crypto payments", err)
	}
	defer rows.Close()

	var out []domain.CryptoPayment
	for rows.Next() {
		p, err := scanPayment(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, domain.Persistence("list crypto payments", rows.Err())
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockWallet(ctx context.Context, userID string) (domain.Wallet, error) {
	return scanWallet(t.tx.QueryRow(ctx, walletSelect+` WHERE user_id = $1 FOR UPDATE`, userID), userID)
}

func (t *pgTx) SetWalletBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE wallets SET balance = $2::numeric, updated_at = now() WHERE user_id = $1`, userID, balance.String())
	if err != nil {
		return domain.Persistence("set wallet balance", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.UserNotFound(userID)
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn domain.UserTransaction) error {
	metadata, err := json.Marshal(txn.Metadata)
	if err != nil {
		return domain.Persistence("encode transaction metadata", err)
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO user_transactions (transaction_id, user_id, user_type, type, amount,
            balance_before, balance_after, status, reference_id, notes, metadata, created_at)
        VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, NULLIF($9, ''), NULLIF($10, ''), $11, $12)`,
		txn.TransactionID, txn.UserID, txn.UserType, string(txn.Type), txn.Amount.String(),
		txn.BalanceBefore.String(), txn.BalanceAfter.String(), txn.Status, txn.ReferenceID, txn.Notes, metadata, txn.CreatedAt)
	return domain.Persistence("insert transaction", err)
}

func (t *pgTx) InsertMoneyRequest(ctx context.Context, r domain.MoneyRequest) (domain.MoneyRequest, error) {
	var details []byte
	if len(r.MethodDetails) > 0 {
		details = r.MethodDetails
	}
	err := t.tx.QueryRow(ctx, `INSERT INTO money_requests (request_code, user_id, type, amount, currency, status,
            method_type, method_details, account_number, notes, created_at, updated_at)
        VALUES ($1, $2, $3, $4::numeric, $5, $6, NULLIF($7, ''), $8, $9, $10, $11, $12)
        RETURNING id`,
		r.RequestCode, r.UserID, string(r.Type), r.Amount.String(), r.Currency, string(r.Status),
		r.MethodType, details, r.AccountNumber, r.Notes, r.CreatedAt, r.UpdatedAt).Scan(&r.ID)
	if err != nil {
		return domain.MoneyRequest{}, domain.Persistence("insert money request", err)
	}
	return r, nil
}

func (t *pgTx) LockMoneyRequest(ctx context.Context, id int64) (domain.MoneyRequest, error) {
	return scanRequest(t.tx.QueryRow(ctx, requestSelect+` WHERE id = $1 FOR UPDATE`, id), strconv.FormatInt(id, 10))
}

func (t *pgTx) UpdateMoneyRequest(ctx context.Context, r domain.MoneyRequest) error {
	_, err := t.tx.Exec(ctx, `UPDATE money_requests
        SET status = $2, admin_id = $3, notes = $4, processed_at = $5, transaction_id = $6, updated_at = $7
        WHERE id = $1`,
		r.ID, string(r.Status), r.AdminID, r.Notes, r.ProcessedAt, r.TransactionID, r.UpdatedAt)
	return domain.Persistence("update money request", err)
}

func (t *pgTx) LockCryptoPayment(ctx context.Context, merchantOrderID string) (domain.CryptoPayment, error) {
	return scanPayment(t.tx.QueryRow(ctx, paymentSelect+` WHERE merchant_order_id = $1 FOR UPDATE`, merchantOrderID), merchantOrderID)
}

func (t *pgTx) UpdateCryptoPayment(ctx context.Context, p domain.CryptoPayment) error {
	details, err := json.Marshal(p.TransactionDetails)
	if err != nil {
		return domain.Persistence("encode transaction details", err)
	}
	_, err = t.tx.Exec(ctx, `UPDATE crypto_payments
        SET order_id = NULLIF($2, ''), status = $3, base_amount_received = $4::numeric, settled_amount_received = $5::numeric,
            settled_amount_credited = $6::numeric, commission = $7::numeric, credit_transaction_id = $8,
            transaction_details = $9, updated_at = $10
        WHERE merchant_order_id = $1`,
		p.MerchantOrderID, p.OrderID, string(p.Status), decimalArg(p.BaseAmountReceived), decimalArg(p.SettledAmountReceived),
		decimalArg(p.SettledAmountCredited), decimalArg(p.Commission), p.CreditTransactionID, details, p.UpdatedAt)
	return domain.Persistence("update crypto payment", err)
}

// Savepoint opens a nested pgx transaction, which pgx issues as SAVEPOINT.
func (t *pgTx) Savepoint(ctx context.Context, fn func(tx Tx) error) error {
	nested, err := t.tx.Begin(ctx)
	if err != nil {
		return domain.Persistence("savepoint", err)
	}
	if err := fn(&pgTx{tx: nested}); err != nil {
		if rbErr := nested.Rollback(ctx); rbErr != nil {
			return errors.Join(err, domain.Persistence("rollback to savepoint", rbErr))
		}
		return err
	}
	return domain.Persistence("release savepoint", nested.Commit(ctx))
}

const walletSelect = `SELECT user_id, user_type, account_number, currency, balance::text, status, created_at, updated_at FROM wallets`

func scanWallet(row pgx.Row, userID string) (domain.Wallet, error) {
	var (
		w       domain.Wallet
		balance string
	)
	if err := row.Scan(&w.UserID, &w.UserType, &w.AccountNumber, &w.Currency, &balance, &w.Status, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Wallet{}, domain.UserNotFound(userID)
		}
		return domain.Wallet{}, domain.Persistence("scan wallet", err)
	}
	var err error
	if w.Balance, err = decimal.NewFromString(balance); err != nil {
		return domain.Wallet{}, domain.Persistence("scan wallet", err)
	}
	return w, nil
}

const requestSelect = `SELECT id, request_code, user_id, type, amount::text, currency, status, COALESCE(method_type, ''),
        method_details, account_number, admin_id, notes, processed_at, transaction_id, created_at, updated_at
    FROM money_requests`

func scanRequest(row pgx.Row, ref string) (domain.MoneyRequest, error) {
	var (
		r      domain.MoneyRequest
		amount string
	)
	if err := row.Scan(&r.ID, &r.RequestCode, &r.UserID, &r.Type, &amount, &r.Currency, &r.Status, &r.MethodType,
		&r.MethodDetails, &r.AccountNumber, &r.AdminID, &r.Notes, &r.ProcessedAt, &r.TransactionID, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MoneyRequest{}, domain.RequestNotFound(ref)
		}
		return domain.MoneyRequest{}, domain.Persistence("scan money request", err)
	}
	var err error
	if r.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.MoneyRequest{}, domain.Persistence("scan money request", err)
	}
	return r, nil
}

const paymentSelect = `SELECT id, user_id, merchant_order_id, COALESCE(order_id, ''), base_amount::text, base_currency,
        settled_currency, network_symbol, status, base_amount_received::text, settled_amount_received::text,
        settled_amount_credited::text, commission::text, credit_transaction_id, COALESCE(payment_url, ''), expires_at,
        transaction_details, created_at, updated_at
    FROM crypto_payments`

func scanPayment(row pgx.Row, ref string) (domain.CryptoPayment, error) {
	var (
		p       domain.CryptoPayment
		base    string
		details []byte
	)
	var received, settled, credited, commission *string
	if err := row.Scan(&p.ID, &p.UserID, &p.MerchantOrderID, &p.OrderID, &base, &p.BaseCurrency, &p.SettledCurrency,
		&p.NetworkSymbol, &p.Status, &received, &settled, &credited, &commission, &p.CreditTransactionID,
		&p.PaymentURL, &p.ExpiresAt, &details, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CryptoPayment{}, domain.PaymentNotFound(ref)
		}
		return domain.CryptoPayment{}, domain.Persistence("scan crypto payment", err)
	}
	var err error
	if p.BaseAmount, err = decimal.NewFromString(base); err != nil {
		return domain.CryptoPayment{}, domain.Persistence("scan crypto payment", err)
	}
	for _, f := range []struct {
		src *string
		dst **decimal.Decimal
	}{
		{received, &p.BaseAmountReceived},
		{settled, &p.SettledAmountReceived},
		{credited, &p.SettledAmountCredited},
		{commission, &p.Commission},
	} {
		if f.src == nil {
			continue
		}
		d, err := decimal.NewFromString(*f.src)
		if err != nil {
			return domain.CryptoPayment{}, domain.Persistence("scan crypto payment", err)
		}
		*f.dst = &d
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &p.TransactionDetails); err != nil {
			return domain.CryptoPayment{}, domain.Persistence("scan crypto payment", err)
		}
	}
	return p, nil
}

func decimalArg(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func limitClause(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	if offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", offset)
	}
	return b.String()
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	return false
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
