package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/fundscore/internal/cache"
	"github.com/congo-pay/fundscore/internal/config"
	"github.com/congo-pay/fundscore/internal/events"
	"github.com/congo-pay/fundscore/internal/gateway"
	"github.com/congo-pay/fundscore/internal/idgen"
	"github.com/congo-pay/fundscore/internal/ledger"
	"github.com/congo-pay/fundscore/internal/middleware"
	"github.com/congo-pay/fundscore/internal/payments"
	"github.com/congo-pay/fundscore/internal/requests"
	"github.com/congo-pay/fundscore/internal/store"
	"github.com/congo-pay/fundscore/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	NATS   *nats.Conn
	Logger *slog.Logger
}

// Setup builds the service graph and registers middlewares and routes.
// Without a database the in-memory store is used; without Redis or NATS the
// mirror and publisher degrade to no-op and log-only.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger, requests.AdminHeader))

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	var st store.Store
	if d.DB != nil {
		st = store.NewPostgres(d.DB, d.Logger)
	} else {
		d.Logger.Warn("DATABASE_URL not set, using in-memory store")
		st = store.NewMemory()
	}

	var mirror cache.Mirror = cache.Noop{}
	if d.Cache != nil {
		mirror = cache.NewRedisMirror(d.Cache, d.Cfg.CacheMirrorTTL)
	}

	var publisher events.Publisher
	if d.NATS != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		np, err := events.NewNATSPublisher(ctx, d.NATS, d.Logger)
		if err != nil {
			return fmt.Errorf("init event stream: %w", err)
		}
		publisher = np
	}

	ids := idgen.New()
	led := ledger.New(st, ids, mirror, publisher, d.Logger)
	gw := gateway.New(gateway.Config{
		BaseURL:            d.Cfg.Gateway.BaseURL,
		APIKey:             d.Cfg.Gateway.APIKey,
		Secret:             d.Cfg.Gateway.Secret,
		CallbackURL:        d.Cfg.Gateway.CallbackURL,
		Timeout:            d.Cfg.Gateway.Timeout,
		SettleUnderpayment: d.Cfg.Gateway.SettleUnderpayment,
	}, d.Logger)

	walletHandler := wallet.NewHandler(wallet.NewService(st, led, ids), requests.AdminHeader)
	requestHandler := requests.NewHandler(requests.NewManager(st, led, ids, d.Logger))
	paymentHandler := payments.NewHandler(payments.NewService(st, led, gw, ids, d.Logger))

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.GetRequestID(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterWalletRoutes(api, walletHandler)
	RegisterRequestRoutes(api, requestHandler)
	RegisterPaymentRoutes(api, paymentHandler)

	admin := api.Group("/admin")
	if d.Cache != nil {
		admin.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, requests.AdminHeader, d.Logger))
	}
	RegisterAdminRoutes(admin, requestHandler, walletHandler)

	RegisterWebhookRoutes(app, paymentHandler, middleware.VerifyWebhook(gw, gateway.HeaderSignature, d.Logger))
	return nil
}
