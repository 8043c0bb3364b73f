package middleware

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/fundscore/internal/domain"
)

const webhookVerifiedKey = "webhook_verified"

// SignatureVerifier checks a provider signature over the raw body.
type SignatureVerifier interface {
	Verify(body []byte, signature string) bool
}

// VerifyWebhook rejects callbacks whose signature header does not match the
// exact received body. Verified requests are flagged for the handler.
func VerifyWebhook(v SignatureVerifier, header string, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !v.Verify(c.Body(), c.Get(header)) {
			logger.Warn("webhook signature rejected",
				slog.String("path", c.Path()),
				slog.String("ip", c.IP()),
				slog.String("request_id", GetRequestID(c)),
			)
			return domain.ErrSignatureInvalid
		}
		c.Locals(webhookVerifiedKey, true)
		return c.Next()
	}
}

// WebhookVerified reports whether VerifyWebhook accepted this request.
func WebhookVerified(c *fiber.Ctx) bool {
	ok, _ := c.Locals(webhookVerifiedKey).(bool)
	return ok
}
