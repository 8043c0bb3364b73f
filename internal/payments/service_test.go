package payments

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/fundscore/internal/domain"
	"github.com/congo-pay/fundscore/internal/gateway"
	"github.com/congo-pay/fundscore/internal/idgen"
	"github.com/congo-pay/fundscore/internal/ledger"
	"github.com/congo-pay/fundscore/internal/logging"
	"github.com/congo-pay/fundscore/internal/store"
)

type fixture struct {
	store  *store.Memory
	ledger *ledger.Ledger
	svc    *Service
}

func newFixture(t *testing.T, handler http.HandlerFunc) fixture {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := logging.Discard()
	mem := store.NewMemory()
	ids := idgen.New()
	led := ledger.New(mem, ids, nil, nil, logger)
	gw := gateway.New(gateway.Config{
		BaseURL:     srv.URL,
		APIKey:      "key",
		Secret:      "secret",
		CallbackURL: "https://funds.example.com/webhooks/crypto",
		Timeout:     time.Second,
	}, logger)
	return fixture{store: mem, ledger: led, svc: NewService(mem, led, gw, ids, logger)}
}

func payInOK(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"type":"success","data":{"orderId":"GW-1","paymentURL":"https://pay.example/GW-1","expiresAt":"2030-01-01T00:00:00Z"}}`))
}

func amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func (f fixture) deposit(t *testing.T, userID, base string) string {
	t.Helper()
	res, err := f.svc.CreateDepositRequest(context.Background(), DepositInput{
		UserID:          userID,
		BaseAmount:      amount(base),
		BaseCurrency:    "USD",
		SettledCurrency: "USDT",
		NetworkSymbol:   "TRX",
	})
	if err != nil {
		t.Fatalf("create deposit: %v", err)
	}
	return res.MerchantOrderID
}

func (f fixture) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

func (f fixture) webhook(t *testing.T, body string) WebhookResult {
	t.Helper()
	res, err := f.svc.UpdatePaymentFromWebhook(context.Background(), Webhook{Payload: []byte(body), Verified: true})
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	return res
}

func TestCreateDepositPersistsPending(t *testing.T) {
	f := newFixture(t, payInOK)
	store.SeedWallet(f.store, "u1", decimal.Zero)

	moid := f.deposit(t, "u1", "50")
	p, err := f.svc.Get(context.Background(), moid)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if p.Status != domain.PaymentPending {
		t.Fatalf("expected PENDING, got %s", p.Status)
	}
	if p.OrderID != "GW-1" || p.PaymentURL != "https://pay.example/GW-1" {
		t.Fatalf("provider fields not stored: %+v", p)
	}
	if _, ok := p.TransactionDetails["create_response"]; !ok {
		t.Fatalf("expected provider response in audit trail")
	}
}

func TestCreateDepositValidation(t *testing.T) {
	f := newFixture(t, payInOK)
	store.SeedWallet(f.store, "u1", decimal.Zero)
	ctx := context.Background()

	_, err := f.svc.CreateDepositRequest(ctx, DepositInput{UserID: "u1", BaseAmount: amount("10"), BaseCurrency: "USD", SettledCurrency: "USDT"})
	if !errors.Is(err, domain.ErrMissingField) {
		t.Fatalf("expected missing field, got %v", err)
	}
	_, err = f.svc.CreateDepositRequest(ctx, DepositInput{UserID: "u1", BaseCurrency: "USD", SettledCurrency: "USDT", NetworkSymbol: "TRX"})
	if !errors.Is(err, domain.ErrMissingField) {
		t.Fatalf("expected missing base amount, got %v", err)
	}
	_, err = f.svc.CreateDepositRequest(ctx, DepositInput{UserID: "u1", BaseAmount: amount("0"), BaseCurrency: "USD", SettledCurrency: "USDT", NetworkSymbol: "TRX"})
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	_, err = f.svc.CreateDepositRequest(ctx, DepositInput{UserID: "ghost", BaseAmount: amount("5"), BaseCurrency: "USD", SettledCurrency: "USDT", NetworkSymbol: "TRX"})
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}

func TestCreateDepositGatewayFailureLeavesFailedRow(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"type":"error","msg":"upstream down"}`))
	})
	store.SeedWallet(f.store, "u1", decimal.Zero)

	_, err := f.svc.CreateDepositRequest(context.Background(), DepositInput{
		UserID: "u1", BaseAmount: amount("50"), BaseCurrency: "USD", SettledCurrency: "USDT", NetworkSymbol: "TRX",
	})
	if !errors.Is(err, domain.ErrGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}

	items, err := f.svc.ListByUser(context.Background(), "u1", 10, 0)
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one audited attempt, got %d", len(items))
	}
	if items[0].Status != domain.PaymentFailed {
		t.Fatalf("failed attempt must not be PENDING, got %s", items[0].Status)
	}
	if _, ok := items[0].TransactionDetails["create_error"]; !ok {
		t.Fatalf("expected error recorded in audit trail")
	}
}

func TestDuplicateWebhookCreditsOnce(t *testing.T) {
	f := newFixture(t, payInOK)
	store.SeedWallet(f.store, "u1", decimal.NewFromInt(10))
	moid := f.deposit(t, "u1", "50")

	body := `{"merchantOrderId":"` + moid + `","status":"Completed","baseAmountReceived":"50","transactionHash":"0xfeed"}`
	first := f.webhook(t, body)
	second := f.webhook(t, body)

	if !first.Credited || first.TransactionID == "" {
		t.Fatalf("first delivery should credit: %+v", first)
	}
	if second.Credited {
		t.Fatalf("redelivery must not credit again: %+v", second)
	}
	if got := f.balance(t, "u1"); !got.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected balance 60, got %s", got)
	}

	p, _ := f.svc.Get(context.Background(), moid)
	if p.CreditTransactionID == nil || *p.CreditTransactionID != first.TransactionID {
		t.Fatalf("credit marker not stored: %+v", p.CreditTransactionID)
	}
	if calls, _ := p.TransactionDetails["callbacks"].([]any); len(calls) != 2 {
		t.Fatalf("expected both callbacks in audit trail, got %d", len(calls))
	}
}

func TestUnderpaymentCreditsReceivedAmount(t *testing.T) {
	f := newFixture(t, payInOK)
	store.SeedWallet(f.store, "u1", decimal.Zero)
	moid := f.deposit(t, "u1", "50")

	res := f.webhook(t, `{"data":{"merchantOrderId":"`+moid+`","status":"Under Payment","baseAmountReceived":40,"commission":"0.4","network":"TRX","depositAddress":"TAddr"}}`)
	if res.Status != domain.PaymentUnderpayment || !res.Credited {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := f.balance(t, "u1"); !got.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("expected balance 40, got %s", got)
	}

	entries, err := f.store.ListTransactions(context.Background(), "u1", 10, 0)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one ledger entry, got %d", len(entries))
	}
	e := entries[0]
	if e.ReferenceID != moid || e.Type != domain.DirectionDeposit {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.Metadata["deposit_address"] != "TAddr" || e.Metadata["commission"] != "0.4" {
		t.Fatalf("provider metadata missing: %+v", e.Metadata)
	}
}

func TestUnknownStatusDefaultsToPending(t *testing.T) {
	f := newFixture(t, payInOK)
	store.SeedWallet(f.store, "u1", decimal.Zero)
	moid := f.deposit(t, "u1", "50")

	res := f.webhook(t, `{"merchantOrderId":"`+moid+`","status":"weird","baseAmountReceived":"50"}`)
	if res.Status != domain.PaymentPending || res.Credited {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := f.balance(t, "u1"); !got.IsZero() {
		t.Fatalf("no credit expected, got %s", got)
	}
}

func TestTerminalStatusIsSticky(t *testing.T) {
	f := newFixture(t, payInOK)
	store.SeedWallet(f.store, "u1", decimal.Zero)
	moid := f.deposit(t, "u1", "50")

	f.webhook(t, `{"merchantOrderId":"`+moid+`","status":"paid","baseAmountReceived":"50"}`)
	res := f.webhook(t, `{"merchantOrderId":"`+moid+`","status":"expired"}`)
	if res.Status != domain.PaymentCompleted {
		t.Fatalf("terminal status regressed to %s", res.Status)
	}

	f.webhook(t, `{"merchantOrderId":"`+moid+`","status":"processing"}`)
	p, _ := f.svc.Get(context.Background(), moid)
	if p.Status != domain.PaymentCompleted {
		t.Fatalf("terminal status regressed to %s", p.Status)
	}
}

func TestProgressWithoutAmountDoesNotCredit(t *testing.T) {
	f := newFixture(t, payInOK)
	store.SeedWallet(f.store, "u1", decimal.Zero)
	moid := f.deposit(t, "u1", "50")

	if res := f.webhook(t, `{"merchantOrderId":"`+moid+`","status":"confirming"}`); res.Status != domain.PaymentProcessing {
		t.Fatalf("expected PROCESSING, got %s", res.Status)
	}
	if res := f.webhook(t, `{"merchantOrderId":"`+moid+`","status":"completed"}`); res.Credited {
		t.Fatalf("no received amount, no credit")
	}
	res := f.webhook(t, `{"merchantOrderId":"`+moid+`","status":"completed","settledAmountReceived":"49.5"}`)
	if !res.Credited {
		t.Fatalf("expected credit once an amount arrives")
	}
	if got := f.balance(t, "u1"); !got.Equal(decimal.RequireFromString("49.5")) {
		t.Fatalf("expected 49.5, got %s", got)
	}
}

func TestNonPositiveAmountDoesNotCredit(t *testing.T) {
	f := newFixture(t, payInOK)
	store.SeedWallet(f.store, "u1", decimal.Zero)
	moid := f.deposit(t, "u1", "50")

	// A non-positive received amount is never credited.
	res := f.webhook(t, `{"merchantOrderId":"`+moid+`","status":"completed","baseAmountReceived":"-5"}`)
	if res.Credited {
		t.Fatalf("negative amount must not credit")
	}

	p, _ := f.svc.Get(context.Background(), moid)
	if p.Status != domain.PaymentCompleted {
		t.Fatalf("status update should commit, got %s", p.Status)
	}
}

func (f fixture) reassign(t *testing.T, moid, userID string) {
	t.Helper()
	err := f.store.WithTx(context.Background(), func(tx store.Tx) error {
		p, err := tx.LockCryptoPayment(context.Background(), moid)
		if err != nil {
			return err
		}
		p.UserID = userID
		return tx.UpdateCryptoPayment(context.Background(), p)
	})
	if err != nil {
		t.Fatalf("reassign payment: %v", err)
	}
}

func TestCreditLedgerErrorIsRecorded(t *testing.T) {
	f := newFixture(t, payInOK)
	store.SeedWallet(f.store, "u1", decimal.Zero)
	moid := f.deposit(t, "u1", "50")

	// Point the payment at a user without a wallet so the credit fails.
	f.reassign(t, moid, "ghost")

	res := f.webhook(t, `{"merchantOrderId":"`+moid+`","status":"completed","baseAmountReceived":"50"}`)
	if res.Credited || res.CreditError == "" {
		t.Fatalf("expected swallowed credit error: %+v", res)
	}
	p, _ := f.svc.Get(context.Background(), moid)
	if p.Status != domain.PaymentCompleted || p.CreditTransactionID != nil {
		t.Fatalf("unexpected payment state: %+v", p)
	}
	if _, ok := p.TransactionDetails["credit_error"]; !ok {
		t.Fatalf("credit error not in audit trail")
	}
}

func TestCreditRetryNeedsCreditableCallback(t *testing.T) {
	f := newFixture(t, payInOK)
	store.SeedWallet(f.store, "u1", decimal.Zero)
	moid := f.deposit(t, "u1", "50")

	f.reassign(t, moid, "ghost")
	if res := f.webhook(t, `{"merchantOrderId":"`+moid+`","status":"completed","baseAmountReceived":"50"}`); res.Credited {
		t.Fatalf("credit should have failed: %+v", res)
	}
	f.reassign(t, moid, "u1")

	for _, status := range []string{"confirming", "expired"} {
		res := f.webhook(t, `{"merchantOrderId":"`+moid+`","status":"`+status+`","baseAmountReceived":"50"}`)
		if res.Credited {
			t.Fatalf("%s callback must not retry the credit", status)
		}
		if res.Status != domain.PaymentCompleted {
			t.Fatalf("terminal status should stick, got %s", res.Status)
		}
	}
	if got := f.balance(t, "u1"); !got.IsZero() {
		t.Fatalf("expected no credit yet, got %s", got)
	}

	res := f.webhook(t, `{"merchantOrderId":"`+moid+`","status":"completed","baseAmountReceived":"50"}`)
	if !res.Credited {
		t.Fatalf("completed redelivery should retry the credit: %+v", res)
	}
	if got := f.balance(t, "u1"); !got.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected 50, got %s", got)
	}
}

func TestReceivedAmountTruncatedToLedgerScale(t *testing.T) {
	f := newFixture(t, payInOK)
	store.SeedWallet(f.store, "u1", decimal.Zero)
	moid := f.deposit(t, "u1", "50")

	res := f.webhook(t, `{"merchantOrderId":"`+moid+`","status":"completed","baseAmountReceived":"49.123456789123"}`)
	if !res.Credited {
		t.Fatalf("expected credit: %+v", res)
	}
	if got := f.balance(t, "u1"); !got.Equal(decimal.RequireFromString("49.12345678")) {
		t.Fatalf("expected 49.12345678, got %s", got)
	}
}

func TestUnverifiedWebhookRejected(t *testing.T) {
	f := newFixture(t, payInOK)
	store.SeedWallet(f.store, "u1", decimal.Zero)
	moid := f.deposit(t, "u1", "50")

	_, err := f.svc.UpdatePaymentFromWebhook(context.Background(), Webhook{
		Payload: []byte(`{"merchantOrderId":"` + moid + `","status":"completed","baseAmountReceived":"50"}`),
	})
	if !errors.Is(err, domain.ErrSignatureInvalid) {
		t.Fatalf("expected signature error, got %v", err)
	}
	if got := f.balance(t, "u1"); !got.IsZero() {
		t.Fatalf("unverified payload must not credit, got %s", got)
	}
}

func TestFailedAttemptRecordedAfterCancellation(t *testing.T) {
	f := newFixture(t, payInOK)
	store.SeedWallet(f.store, "u1", decimal.Zero)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.svc.CreateDepositRequest(ctx, DepositInput{
		UserID: "u1", BaseAmount: amount("50"), BaseCurrency: "USD", SettledCurrency: "USDT", NetworkSymbol: "TRX",
	})
	if !errors.Is(err, domain.ErrGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}

	items, err := f.svc.ListByUser(context.Background(), "u1", 10, 0)
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	if len(items) != 1 || items[0].Status != domain.PaymentFailed {
		t.Fatalf("expected one FAILED attempt, got %+v", items)
	}
}

func TestCreateDepositRejectsExcessPrecision(t *testing.T) {
	f := newFixture(t, payInOK)
	store.SeedWallet(f.store, "u1", decimal.Zero)

	_, err := f.svc.CreateDepositRequest(context.Background(), DepositInput{
		UserID: "u1", BaseAmount: amount("0.000000001"), BaseCurrency: "USD", SettledCurrency: "USDT", NetworkSymbol: "TRX",
	})
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestWebhookUnknownPayment(t *testing.T) {
	f := newFixture(t, payInOK)
	_, err := f.svc.UpdatePaymentFromWebhook(context.Background(), Webhook{
		Payload:  []byte(`{"merchantOrderId":"DEP-missing","status":"completed"}`),
		Verified: true,
	})
	if !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Fatalf("expected payment not found, got %v", err)
	}
}
