package store

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/fundscore/internal/domain"
)

// Memory is a concurrency-safe in-memory Store used in development and tests.
// Row locks are per-key mutexes held until the owning unit commits or rolls
// back, so units touching different users never block each other.
type Memory struct {
	mu       sync.RWMutex
	wallets  map[string]domain.Wallet
	txns     []domain.UserTransaction
	requests map[int64]domain.MoneyRequest
	codes    map[string]int64
	payments map[string]domain.CryptoPayment

	nextRequestID atomic.Int64
	locks         sync.Map
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		wallets:  make(map[string]domain.Wallet),
		requests: make(map[int64]domain.MoneyRequest),
		codes:    make(map[string]int64),
		payments: make(map[string]domain.CryptoPayment),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) rowLock(key string) *sync.Mutex {
	v, _ := m.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu
}

// WithTx runs fn in a staged unit and applies its writes atomically on success.
func (m *Memory) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		m:        m,
		held:     make(map[string]*sync.Mutex),
		wallets:  make(map[string]domain.Wallet),
		requests: make(map[int64]domain.MoneyRequest),
		payments: make(map[string]domain.CryptoPayment),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *Memory) CreateWallet(_ context.Context, w domain.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.wallets[w.UserID]; exists {
		return domain.WalletExists(w.UserID)
	}
	for _, existing := range m.wallets {
		if existing.AccountNumber == w.AccountNumber {
			return domain.Persistence("create wallet", fmt.Errorf("account number %s already assigned", w.AccountNumber))
		}
	}
	m.wallets[w.UserID] = w
	return nil
}

func (m *Memory) GetWallet(_ context.Context, userID string) (domain.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wallets[userID]
	if !ok {
		return domain.Wallet{}, domain.UserNotFound(userID)
	}
	return w, nil
}

func (m *Memory) ListTransactions(_ context.Context, userID string, limit, offset int) ([]domain.UserTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.UserTransaction
	for i := len(m.txns) - 1; i >= 0; i-- {
		if m.txns[i].UserID == userID {
			out = append(out, cloneTransaction(m.txns[i]))
		}
	}
	return page(out, limit, offset), nil
}

func (m *Memory) GetMoneyRequest(_ context.Context, id int64) (domain.MoneyRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return domain.MoneyRequest{}, domain.RequestNotFound(strconv.FormatInt(id, 10))
	}
	return cloneRequest(r), nil
}

func (m *Memory) GetMoneyRequestByCode(_ context.Context, code string) (domain.MoneyRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.codes[code]
	if !ok {
		return domain.MoneyRequest{}, domain.RequestNotFound(code)
	}
	return cloneRequest(m.requests[id]), nil
}

func (m *Memory) ListMoneyRequests(_ context.Context, f domain.RequestFilter) ([]domain.MoneyRequest, error) {
	m.mu.RLock()
	out := make([]domain.MoneyRequest, 0, len(m.requests))
	for _, r := range m.requests {
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.Type != "" && r.Type != f.Type {
			continue
		}
		out = append(out, cloneRequest(r))
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.MoneyRequest) int {
		c := a.CreatedAt.Compare(b.CreatedAt)
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if !f.OldestFirst {
			c = -c
		}
		return c
	})
	return page(out, f.Limit, f.Offset), nil
}

func (m *Memory) MoneyRequestStats(_ context.Context, f domain.StatsFilter) (domain.RequestStats, error) {
	type key struct {
		status domain.RequestStatus
		typ    domain.Direction
	}
	m.mu.RLock()
	buckets := make(map[key]*domain.Bucket)
	var total int64
	for _, r := range m.requests {
		if f.From != nil && r.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !r.CreatedAt.Before(*f.To) {
			continue
		}
		k := key{r.Status, r.Type}
		b, ok := buckets[k]
		if !ok {
			b = &domain.Bucket{Status: r.Status, Type: r.Type}
			buckets[k] = b
		}
		b.Count++
		b.Amount = b.Amount.Add(r.Amount)
		total++
	}
	m.mu.RUnlock()

	stats := domain.RequestStats{Total: total}
	for _, b := range buckets {
		stats.Buckets = append(stats.Buckets, *b)
	}
	slices.SortFunc(stats.Buckets, func(a, b domain.Bucket) int {
		if a.Status != b.Status {
			return cmp.Compare(string(a.Status), string(b.Status))
		}
		return cmp.Compare(string(a.Type), string(b.Type))
	})
	return stats, nil
}

func (m *Memory) CreateCryptoPayment(ctx context.Context, p domain.CryptoPayment) error {
	if err := ctx.Err(); err != nil {
		return domain.Persistence("create crypto payment", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.payments[p.MerchantOrderID]; exists {
		return domain.Persistence("create crypto payment", fmt.Errorf("merchant order id %s already exists", p.MerchantOrderID))
	}
	m.payments[p.MerchantOrderID] = clonePayment(p)
	return nil
}

func (m *Memory) GetCryptoPayment(_ context.Context, merchantOrderID string) (domain.CryptoPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[merchantOrderID]
	if !ok {
		return domain.CryptoPayment{}, domain.PaymentNotFound(merchantOrderID)
	}
	return clonePayment(p), nil
}

func (m *Memory) ListCryptoPayments(_ context.Context, userID string, limit, offset int) ([]domain.CryptoPayment, error) {
	m.mu.RLock()
	var out []domain.CryptoPayment
	for _, p := range m.payments {
		if p.UserID == userID {
			out = append(out, clonePayment(p))
		}
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.CryptoPayment) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return page(out, limit, offset), nil
}

func (m *Memory) Ping(context.Context) error { return nil }

type memTx struct {
	m     *Memory
	held  map[string]*sync.Mutex
	order []string

	wallets  map[string]domain.Wallet
	txns     []domain.UserTransaction
	requests map[int64]domain.MoneyRequest
	payments map[string]domain.CryptoPayment
}

func (t *memTx) acquire(key string) {
	if _, ok := t.held[key]; ok {
		return
	}
	t.held[key] = t.m.rowLock(key)
	t.order = append(t.order, key)
}

func (t *memTx) release() {
	for i := len(t.order) - 1; i >= 0; i-- {
		t.held[t.order[i]].Unlock()
	}
	t.held = nil
	t.order = nil
}

func (t *memTx) commit() {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for id, w := range t.wallets {
		t.m.wallets[id] = w
	}
	t.m.txns = append(t.m.txns, t.txns...)
	for id, r := range t.requests {
		t.m.requests[id] = r
		t.m.codes[r.RequestCode] = id
	}
	for id, p := range t.payments {
		t.m.payments[id] = p
	}
}

func walletKey(userID string) string  { return "wallet:" + userID }
func requestKey(id int64) string       { return "request:" + strconv.FormatInt(id, 10) }
func paymentKey(orderID string) string { return "payment:" + orderID }

func (t *memTx) LockWallet(_ context.Context, userID string) (domain.Wallet, error) {
	t.acquire(walletKey(userID))
	if w, ok := t.wallets[userID]; ok {
		return w, nil
	}
	t.m.mu.RLock()
	w, ok := t.m.wallets[userID]
	t.m.mu.RUnlock()
	if !ok {
		return domain.Wallet{}, domain.UserNotFound(userID)
	}
	return w, nil
}

func (t *memTx) SetWalletBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	if _, ok := t.held[walletKey(userID)]; !ok {
		return domain.Persistence("set wallet balance", errors.New("wallet row not locked"))
	}
	w, err := t.LockWallet(ctx, userID)
	if err != nil {
		return err
	}
	w.Balance = balance
	w.UpdatedAt = time.Now().UTC()
	t.wallets[userID] = w
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, txn domain.UserTransaction) error {
	for _, staged := range t.txns {
		if staged.TransactionID == txn.TransactionID {
			return domain.Persistence("insert transaction", fmt.Errorf("transaction id %s already exists", txn.TransactionID))
		}
	}
	t.txns = append(t.txns, cloneTransaction(txn))
	return nil
}

func (t *memTx) InsertMoneyRequest(_ context.Context, r domain.MoneyRequest) (domain.MoneyRequest, error) {
	t.m.mu.RLock()
	_, taken := t.m.codes[r.RequestCode]
	t.m.mu.RUnlock()
	for _, staged := range t.requests {
		if staged.RequestCode == r.RequestCode {
			taken = true
		}
	}
	if taken {
		return domain.MoneyRequest{}, domain.Persistence("insert money request", fmt.Errorf("request code %s already exists", r.RequestCode))
	}
	r.ID = t.m.nextRequestID.Add(1)
	t.acquire(requestKey(r.ID))
	t.requests[r.ID] = cloneRequest(r)
	return r, nil
}

func (t *memTx) LockMoneyRequest(_ context.Context, id int64) (domain.MoneyRequest, error) {
	t.acquire(requestKey(id))
	if r, ok := t.requests[id]; ok {
		return cloneRequest(r), nil
	}
	t.m.mu.RLock()
	r, ok := t.m.requests[id]
	t.m.mu.RUnlock()
	if !ok {
		return domain.MoneyRequest{}, domain.RequestNotFound(strconv.FormatInt(id, 10))
	}
	return cloneRequest(r), nil
}

func (t *memTx) UpdateMoneyRequest(_ context.Context, r domain.MoneyRequest) error {
	if _, ok := t.held[requestKey(r.ID)]; !ok {
		return domain.Persistence("update money request", errors.New("money request row not locked"))
	}
	t.requests[r.ID] = cloneRequest(r)
	return nil
}

func (t *memTx) LockCryptoPayment(_ context.Context, merchantOrderID string) (domain.CryptoPayment, error) {
	t.acquire(paymentKey(merchantOrderID))
	if p, ok := t.payments[merchantOrderID]; ok {
		return clonePayment(p), nil
	}
	t.m.mu.RLock()
	p, ok := t.m.payments[merchantOrderID]
	t.m.mu.RUnlock()
	if !ok {
		return domain.CryptoPayment{}, domain.PaymentNotFound(merchantOrderID)
	}
	return clonePayment(p), nil
}

func (t *memTx) UpdateCryptoPayment(_ context.Context, p domain.CryptoPayment) error {
	if _, ok := t.held[paymentKey(p.MerchantOrderID)]; !ok {
		return domain.Persistence("update crypto payment", errors.New("crypto payment row not locked"))
	}
	t.payments[p.MerchantOrderID] = clonePayment(p)
	return nil
}

func (t *memTx) Savepoint(_ context.Context, fn func(tx Tx) error) error {
	wallets := maps.Clone(t.wallets)
	requests := maps.Clone(t.requests)
	payments := maps.Clone(t.payments)
	n := len(t.txns)

	if err := fn(t); err != nil {
		t.wallets = wallets
		t.requests = requests
		t.payments = payments
		t.txns = t.txns[:n]
		return err
	}
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func cloneTransaction(t domain.UserTransaction) domain.UserTransaction {
	t.Metadata = maps.Clone(t.Metadata)
	return t
}

func cloneRequest(r domain.MoneyRequest) domain.MoneyRequest {
	r.MethodDetails = bytes.Clone(r.MethodDetails)
	return r
}

func clonePayment(p domain.CryptoPayment) domain.CryptoPayment {
	p.TransactionDetails = maps.Clone(p.TransactionDetails)
	return p
}
