package middleware

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/fundscore/internal/domain"
)

var kindStatus = map[domain.Kind]int{
	domain.KindNotFound:           fiber.StatusNotFound,
	domain.KindInvalidState:       fiber.StatusConflict,
	domain.KindInvalidInput:       fiber.StatusBadRequest,
	domain.KindInsufficientFunds:  fiber.StatusUnprocessableEntity,
	domain.KindSignatureInvalid:   fiber.StatusUnauthorized,
	domain.KindGatewayUnavailable: fiber.StatusBadGateway,
	domain.KindPersistenceFailure: fiber.StatusInternalServerError,
}

func statusFor(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	if status, ok := kindStatus[domain.KindOf(err)]; ok {
		return status
	}
	return fiber.StatusInternalServerError
}

// ErrorHandler renders domain errors with a status derived from their kind
// and a stable machine-readable code.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := statusFor(err)
		body := fiber.Map{"error": err.Error()}

		var de *domain.Error
		if errors.As(err, &de) {
			body["code"] = de.Code
			body["kind"] = de.Kind.String()
			if de.Field != "" {
				body["field"] = de.Field
			}
			if de.Current != "" {
				body["current"] = de.Current
			}
			if de.Kind == domain.KindPersistenceFailure {
				body["error"] = "internal error"
			}
		}
		if status >= fiber.StatusInternalServerError {
			logger.Error("request failed",
				slog.String("path", c.Path()),
				slog.String("request_id", GetRequestID(c)),
				slog.Any("error", err),
			)
		}
		return c.Status(status).JSON(body)
	}
}
