package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/fundscore/internal/config"
	"github.com/congo-pay/fundscore/internal/gateway"
	"github.com/congo-pay/fundscore/internal/logging"
	"github.com/congo-pay/fundscore/internal/routes"
)

const testSecret = "webhook-secret"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"type":"success","data":{"orderId":"GW-7","paymentURL":"https://pay.example/GW-7"}}`))
	}))
	t.Cleanup(provider.Close)

	cfg := config.Config{AppName: "FundsCore", AppEnv: "test", IdempotencyTTL: time.Minute}
	cfg.Gateway = config.Gateway{BaseURL: provider.URL, APIKey: "k", Secret: testSecret, Timeout: time.Second}

	srv, err := New(routes.Deps{Cfg: cfg, Logger: logging.Discard()})
	require.NoError(t, err)
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestMoneyRequestLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	status, _ := do(t, srv, http.MethodPost, "/api/v1/wallets", `{"user_id":"u1"}`, nil)
	require.Equal(t, http.StatusCreated, status)

	admin := map[string]string{"X-Admin-ID": "admin-1"}
	status, _ = do(t, srv, http.MethodPost, "/api/v1/admin/wallets/u1/adjustments", `{"amount":"200","notes":"opening"}`, admin)
	require.Equal(t, http.StatusCreated, status)

	status, body := do(t, srv, http.MethodPost, "/api/v1/money-requests",
		`{"user_id":"u1","type":"withdraw","amount":"500","method_type":"bank","method_details":{"iban":"X"}}`, nil)
	require.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "insufficient_balance", body["code"])

	status, body = do(t, srv, http.MethodPost, "/api/v1/money-requests",
		`{"user_id":"u1","type":"withdraw","amount":"150","method_type":"bank","method_details":{"iban":"X"}}`, nil)
	require.Equal(t, http.StatusCreated, status)
	path := "/api/v1/admin/money-requests/" + strconv.FormatInt(int64(body["id"].(float64)), 10)

	status, body = do(t, srv, http.MethodPost, path+"/approve", `{"notes":"ok"}`, admin)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "approved", body["status"])
	assert.NotEmpty(t, body["transaction_id"])

	status, body = do(t, srv, http.MethodPost, path+"/reject", ``, admin)
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "approved", body["current"])

	status, body = do(t, srv, http.MethodGet, "/api/v1/wallets/u1/balance", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "50", body["balance"])
}

func TestCryptoDepositWebhookOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	status, _ := do(t, srv, http.MethodPost, "/api/v1/wallets", `{"user_id":"u2"}`, nil)
	require.Equal(t, http.StatusCreated, status)

	status, body := do(t, srv, http.MethodPost, "/api/v1/crypto/deposits",
		`{"user_id":"u2","base_amount":"50","base_currency":"USD","settled_currency":"USDT","network_symbol":"TRX"}`, nil)
	require.Equal(t, http.StatusCreated, status)
	moid := body["merchant_order_id"].(string)
	assert.Equal(t, "https://pay.example/GW-7", body["payment_url"])

	signer := gateway.New(gateway.Config{Secret: testSecret}, logging.Discard())
	payload := `{"merchantOrderId":"` + moid + `","status":"Under Payment","baseAmountReceived":"40"}`

	status, _ = do(t, srv, http.MethodPost, "/webhooks/crypto", payload, map[string]string{gateway.HeaderSignature: "deadbeef"})
	require.Equal(t, http.StatusUnauthorized, status)

	sig := map[string]string{gateway.HeaderSignature: signer.Sign([]byte(payload))}
	for i := 0; i < 2; i++ {
		status, body = do(t, srv, http.MethodPost, "/webhooks/crypto", payload, sig)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "UNDERPAYMENT", body["status"])
		assert.Equal(t, i == 0, body["credited"])
	}

	status, body = do(t, srv, http.MethodGet, "/api/v1/wallets/u2/balance", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "40", body["balance"])
}

func TestStoredValuesSurviveLaterRequests(t *testing.T) {
	srv := newTestServer(t)

	status, _ := do(t, srv, http.MethodPost, "/api/v1/wallets", `{"user_id":"user-0001"}`, nil)
	require.Equal(t, http.StatusCreated, status)

	admin := map[string]string{"X-Admin-ID": "admin-AAAAAAAA"}
	status, _ = do(t, srv, http.MethodPost, "/api/v1/admin/wallets/user-0001/adjustments", `{"amount":"200","notes":"opening"}`, admin)
	require.Equal(t, http.StatusCreated, status)

	status, body := do(t, srv, http.MethodPost, "/api/v1/money-requests", `{"user_id":"user-0001","type":"deposit","amount":"25"}`, nil)
	require.Equal(t, http.StatusCreated, status)
	id := strconv.FormatInt(int64(body["id"].(float64)), 10)

	status, _ = do(t, srv, http.MethodPost, "/api/v1/admin/money-requests/"+id+"/approve", ``, admin)
	require.Equal(t, http.StatusOK, status)

	other := map[string]string{"X-Admin-ID": "zzzzzzzzzzzzzz"}
	for i := 0; i < 5; i++ {
		status, _ = do(t, srv, http.MethodGet, "/api/v1/admin/money-requests/pending", "", other)
		require.Equal(t, http.StatusOK, status)
		status, _ = do(t, srv, http.MethodGet, "/api/v1/wallets/xxxx-9999/balance", "", nil)
		require.Equal(t, http.StatusNotFound, status)
	}

	status, body = do(t, srv, http.MethodGet, "/api/v1/money-requests/"+id, "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "admin-AAAAAAAA", body["admin_id"])
	assert.Equal(t, "user-0001", body["user_id"])

	status, body = do(t, srv, http.MethodGet, "/api/v1/wallets/user-0001/balance", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "225", body["balance"])

	status, body = do(t, srv, http.MethodGet, "/api/v1/wallets/user-0001/transactions", "", nil)
	require.Equal(t, http.StatusOK, status)
	items := body["items"].([]any)
	require.Len(t, items, 2)
	for _, item := range items {
		entry := item.(map[string]any)
		assert.Equal(t, "user-0001", entry["user_id"])
		assert.Equal(t, "admin-AAAAAAAA", entry["metadata"].(map[string]any)["admin_id"])
	}
}

func TestAmountFinerThanLedgerScaleRejected(t *testing.T) {
	srv := newTestServer(t)

	status, _ := do(t, srv, http.MethodPost, "/api/v1/wallets", `{"user_id":"u3"}`, nil)
	require.Equal(t, http.StatusCreated, status)

	status, body := do(t, srv, http.MethodPost, "/api/v1/money-requests", `{"user_id":"u3","type":"deposit","amount":"0.000000001"}`, nil)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_amount", body["code"])

	admin := map[string]string{"X-Admin-ID": "admin-1"}
	status, body = do(t, srv, http.MethodPost, "/api/v1/admin/wallets/u3/adjustments", `{"amount":"1.123456789","notes":"x"}`, admin)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_amount", body["code"])
}

func TestHealthInDevMode(t *testing.T) {
	srv := newTestServer(t)
	status, body := do(t, srv, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, status)
	checks := body["status"].(map[string]any)
	assert.Equal(t, "disabled", checks["postgres"])
}
