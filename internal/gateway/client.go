// Package gateway speaks the crypto settlement provider's HTTP and webhook
// protocol: signed pay-in creation, callback verification and status mapping.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/fundscore/internal/domain"
	"github.com/congo-pay/fundscore/internal/metrics"
)

const (
	HeaderAPIKey    = "X-API-KEY"
	HeaderSignature = "X-SIGNATURE"

	payInPath       = "/api/v1/pay-in"
	maxResponseBody = 1 << 20
)

// Config holds provider credentials and call policy.
type Config struct {
	BaseURL            string
	APIKey             string
	Secret             string
	CallbackURL        string
	Timeout            time.Duration
	SettleUnderpayment bool
}

// PayInRequest is the outbound body for creating a pay-in order.
type PayInRequest struct {
	MerchantOrderID    string      `json:"merchantOrderId"`
	BaseAmount         json.Number `json:"baseAmount"`
	BaseCurrency       string      `json:"baseCurrency"`
	SettledCurrency    string      `json:"settledCurrency"`
	NetworkSymbol      string      `json:"networkSymbol"`
	CallbackURL        string      `json:"callBackUrl"`
	SettleUnderpayment bool        `json:"settleUnderpayment"`
	CustomerName       string      `json:"customerName,omitempty"`
	Comments           string      `json:"comments,omitempty"`
}

// PayInResponse is the parsed provider answer plus the raw body for audit.
type PayInResponse struct {
	OrderID    string
	PaymentURL string
	ExpiresAt  *time.Time
	Raw        map[string]any
}

type payInEnvelope struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
	Data *struct {
		OrderID    string `json:"orderId"`
		PaymentURL string `json:"paymentURL"`
		ExpiresAt  string `json:"expiresAt"`
	} `json:"data"`
}

// Client signs outbound calls and verifies inbound callbacks. It holds no
// mutable state and does not retry.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// New builds a client with a bounded per-call timeout.
func New(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Sign returns the hex HMAC-SHA256 of body under the shared secret.
func (c *Client) Sign(body []byte) string {
	return sign([]byte(c.cfg.Secret), body)
}

// Verify recomputes the MAC over the exact received bytes and compares it to
// signature in constant time. Any failure, including a panic, is a rejection.
func (c *Client) Verify(body []byte, signature string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	if c.cfg.Secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.cfg.Secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), got)
}

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// NewPayInRequest fills the provider-level fields from configuration.
func (c *Client) NewPayInRequest(merchantOrderID string, amount decimal.Decimal, baseCurrency, settledCurrency, network string) PayInRequest {
	return PayInRequest{
		MerchantOrderID:    merchantOrderID,
		BaseAmount:         json.Number(amount.String()),
		BaseCurrency:       baseCurrency,
		SettledCurrency:    settledCurrency,
		NetworkSymbol:      network,
		CallbackURL:        c.cfg.CallbackURL,
		SettleUnderpayment: c.cfg.SettleUnderpayment,
	}
}

// CreatePayIn signs and sends one pay-in creation call. Transport failures,
// error statuses and unparseable bodies all surface as GatewayError; the raw
// body is returned alongside when one was read.
func (c *Client) CreatePayIn(ctx context.Context, req PayInRequest) (PayInResponse, error) {
	start := time.Now()
	resp, err := c.createPayIn(ctx, req)
	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeFailed
	}
	metrics.GatewayCalls.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return resp, err
}

func (c *Client) createPayIn(ctx context.Context, req PayInRequest) (PayInResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return PayInResponse{}, domain.GatewayError(fmt.Errorf("marshal pay-in request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+payInPath, bytes.NewReader(body))
	if err != nil {
		return PayInResponse{}, domain.GatewayError(fmt.Errorf("build pay-in request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderAPIKey, c.cfg.APIKey)
	httpReq.Header.Set(HeaderSignature, c.Sign(body))

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return PayInResponse{}, domain.GatewayError(fmt.Errorf("pay-in request: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return PayInResponse{}, domain.GatewayError(fmt.Errorf("read pay-in response: %w", err))
	}

	out := PayInResponse{}
	if err := json.Unmarshal(respBody, &out.Raw); err != nil {
		return out, domain.GatewayError(fmt.Errorf("unparseable pay-in response (status %d): %w", httpResp.StatusCode, err))
	}
	if httpResp.StatusCode >= 400 {
		return out, domain.GatewayError(fmt.Errorf("pay-in rejected: status=%d body=%s", httpResp.StatusCode, string(respBody)))
	}

	var env payInEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return out, domain.GatewayError(fmt.Errorf("decode pay-in response: %w", err))
	}
	if env.Data == nil || env.Data.PaymentURL == "" {
		msg := env.Msg
		if msg == "" {
			msg = "missing payment url"
		}
		return out, domain.GatewayError(errors.New(msg))
	}

	out.OrderID = env.Data.OrderID
	out.PaymentURL = env.Data.PaymentURL
	if env.Data.ExpiresAt != "" {
		if ts, err := time.Parse(time.RFC3339, env.Data.ExpiresAt); err == nil {
			ts = ts.UTC()
			out.ExpiresAt = &ts
		} else {
			c.logger.Warn("unparseable pay-in expiry", slog.String("merchant_order_id", req.MerchantOrderID), slog.String("expires_at", env.Data.ExpiresAt))
		}
	}
	return out, nil
}
