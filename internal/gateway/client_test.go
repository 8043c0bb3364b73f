package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/fundscore/internal/domain"
	"github.com/congo-pay/fundscore/internal/logging"
)

func newTestClient(baseURL string) *Client {
	return New(Config{
		BaseURL:            baseURL,
		APIKey:             "key-1",
		Secret:             "s3cret",
		CallbackURL:        "https://funds.example.com/webhooks/crypto",
		Timeout:            time.Second,
		SettleUnderpayment: true,
	}, logging.Discard())
}

func TestSignVerifyRoundTrip(t *testing.T) {
	c := newTestClient("")
	body := []byte(`{"merchantOrderId":"DEP1","status":"Completed","baseAmountReceived":50}`)

	sig := c.Sign(body)
	assert.True(t, c.Verify(body, sig))

	for i := range body {
		mutated := append([]byte(nil), body...)
		mutated[i] ^= 0x01
		assert.False(t, c.Verify(mutated, sig), "mutation at byte %d verified", i)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	c := newTestClient("")
	body := []byte(`{}`)

	assert.False(t, c.Verify(body, ""))
	assert.False(t, c.Verify(body, "not-hex"))
	assert.False(t, c.Verify(body, "abcd"))

	other := New(Config{Secret: "other"}, logging.Discard())
	assert.False(t, c.Verify(body, other.Sign(body)))

	noSecret := New(Config{}, logging.Discard())
	assert.False(t, noSecret.Verify(body, noSecret.Sign(body)))
}

func TestMapStatus(t *testing.T) {
	cases := map[string]domain.PaymentStatus{
		"Pending":       domain.PaymentPending,
		"WAITING":       domain.PaymentPending,
		"processing":    domain.PaymentProcessing,
		"Confirming":    domain.PaymentProcessing,
		"Completed":     domain.PaymentCompleted,
		"paid":          domain.PaymentCompleted,
		"Success":       domain.PaymentCompleted,
		"Under Payment": domain.PaymentUnderpayment,
		"underpayment":  domain.PaymentUnderpayment,
		"Over Payment":  domain.PaymentOverpayment,
		"OVERPAYMENT":   domain.PaymentOverpayment,
		"failed":        domain.PaymentFailed,
		"Expired":       domain.PaymentFailed,
		"Cancelled":     domain.PaymentCancelled,
		"weird":         domain.PaymentPending,
		"":              domain.PaymentPending,
	}
	for in, want := range cases {
		assert.Equal(t, want, MapStatus(in), "status %q", in)
	}
}

func TestCreatePayInSignsBody(t *testing.T) {
	var c *Client
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, payInPath, r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get(HeaderAPIKey))
		assert.True(t, c.Verify(body, r.Header.Get(HeaderSignature)))

		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "DEP1", req["merchantOrderId"])
		assert.Equal(t, "50.25", jsonNumber(req["baseAmount"]))
		assert.Equal(t, true, req["settleUnderpayment"])
		assert.Equal(t, "https://funds.example.com/webhooks/crypto", req["callBackUrl"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"type":"success","data":{"orderId":"P-9","paymentURL":"https://pay.example/P-9","expiresAt":"2024-05-01T10:00:00Z"}}`))
	}))
	defer srv.Close()
	c = newTestClient(srv.URL)

	req := c.NewPayInRequest("DEP1", decimal.RequireFromString("50.25"), "USD", "USDT", "TRX")
	resp, err := c.CreatePayIn(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "P-9", resp.OrderID)
	assert.Equal(t, "https://pay.example/P-9", resp.PaymentURL)
	require.NotNil(t, resp.ExpiresAt)
	assert.Equal(t, 2024, resp.ExpiresAt.Year())
	assert.Equal(t, "success", resp.Raw["type"])
}

func TestCreatePayInErrors(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"error status": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"type":"error","msg":"bad network"}`))
		},
		"unparseable": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`<html>oops</html>`))
		},
		"missing url": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"type":"error","msg":"invalid amount"}`))
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			c := newTestClient(srv.URL)

			_, err := c.CreatePayIn(context.Background(), c.NewPayInRequest("DEP1", decimal.NewFromInt(5), "USD", "USDT", "TRX"))
			require.ErrorIs(t, err, domain.ErrGateway)
			assert.Equal(t, domain.KindGatewayUnavailable, domain.KindOf(err))
		})
	}
}

func TestCreatePayInTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Secret: "s", Timeout: 50 * time.Millisecond}, logging.Discard())
	_, err := c.CreatePayIn(context.Background(), c.NewPayInRequest("DEP1", decimal.NewFromInt(5), "USD", "USDT", "TRX"))
	require.ErrorIs(t, err, domain.ErrGateway)
}

func TestParseCallback(t *testing.T) {
	cb, err := ParseCallback([]byte(`{"data":{"merchantOrderId":"DEP1","status":"Under Payment","baseAmountReceived":"40","commission":0.4,"transactionHash":"0xabc"}}`))
	require.NoError(t, err)
	assert.Equal(t, "DEP1", cb.MerchantOrderID)
	require.NotNil(t, cb.BaseAmountReceived)
	assert.True(t, cb.BaseAmountReceived.Equal(decimal.NewFromInt(40)))
	require.NotNil(t, cb.Commission)
	assert.Nil(t, cb.SettledAmountReceived)
	assert.Equal(t, "0xabc", cb.TransactionHash)
	assert.Contains(t, cb.Raw, "data")

	flat, err := ParseCallback([]byte(`{"merchantOrderId":"DEP2","status":"paid"}`))
	require.NoError(t, err)
	assert.Equal(t, "DEP2", flat.MerchantOrderID)
	assert.Nil(t, flat.BaseAmountReceived)

	_, err = ParseCallback([]byte(`not json`))
	assert.Error(t, err)
}

func jsonNumber(v any) string {
	if f, ok := v.(float64); ok {
		return decimal.NewFromFloat(f).String()
	}
	return ""
}
