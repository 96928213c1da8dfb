package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/giftbox/internal/domain/auth"
	"github.com/xenking/giftbox/internal/domain/order"
	"github.com/xenking/giftbox/internal/domain/payment"
	"github.com/xenking/giftbox/internal/domain/product"
	"github.com/xenking/giftbox/internal/domain/promo"
	"github.com/xenking/giftbox/internal/domain/settings"
	"github.com/xenking/giftbox/internal/gateway"
	"github.com/xenking/giftbox/internal/handler"
	"github.com/xenking/giftbox/internal/notify"
	"github.com/xenking/giftbox/internal/storage/postgres"
	"github.com/xenking/giftbox/internal/storage/redis"
	"github.com/xenking/giftbox/pkg/health"
	"github.com/xenking/giftbox/pkg/httpmiddleware"
)

const serviceName = "giftbox-api"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	a, err := newAPI(ctx, cfg, pool, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return err
	}
	defer a.Close()

	a.health.Start(ctx, 10*time.Second)
	a.health.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Gateway calls are bounded by Gateway.Timeout and retried once.
		WriteTimeout:   2*cfg.Gateway.Timeout + 5*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler:        a.handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		a.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		a.health.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// api is the wired HTTP application on top of an open database pool.
type api struct {
	handler http.Handler
	health  *health.Health
	closers []func()
}

// Close releases the connections opened by newAPI.
func (a *api) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newAPI(ctx context.Context, cfg *Config, pool *pgxpool.Pool, tp trace.TracerProvider, mp metric.MeterProvider) (_ *api, rerr error) {
	lg := zctx.From(ctx)
	a := &api{health: health.New()}
	defer func() {
		if rerr != nil {
			a.Close()
		}
	}()

	a.health.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck("postgres", pool))
	a.health.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	a.health.AddLivenessCheck("gc", time.Second, health.GCMaxPauseCheck(2*time.Second), health.WithThresholds(5, 1))

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	promoRepo := postgres.NewPromoRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	settingsRepo := postgres.NewSettingsRepository(pool)

	var intents payment.IntentStore = postgres.NewIntentStore(pool)
	if cfg.Redis.Addr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, errors.Wrap(err, "ping redis")
		}
		a.health.AddReadinessCheck("redis", 2*time.Second, health.FuncCheck("ping redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
		intents = redis.NewIntentStore(rdb, cfg.Redis.IntentTTL)
		lg.Info("Using Redis intent store", zap.String("addr", cfg.Redis.Addr))
	}

	// Notifications.
	managerOpts := order.Options{
		MeterProvider:  mp,
		TracerProvider: tp,
	}
	if cfg.Rabbit.URL != "" {
		conn, ch, err := notify.Dial(cfg.Rabbit.URL)
		if err != nil {
			return nil, errors.Wrap(err, "connect rabbitmq")
		}
		a.closers = append(a.closers, func() { _ = conn.Close() })
		emails, err := notify.NewEmailQueue(ch)
		if err != nil {
			return nil, errors.Wrap(err, "email queue")
		}
		a.health.AddReadinessCheck("rabbitmq", time.Second, health.FuncCheck("rabbitmq", func(context.Context) error {
			if conn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}), health.WithThresholds(1, 1))
		managerOpts.Email = emails
	}
	if cfg.Ops.WebhookURL != "" {
		managerOpts.Ops = notify.NewWebhook(cfg.Ops.WebhookURL, nil)
	}

	// Domain services.
	taxRate, err := cfg.taxRate()
	if err != nil {
		return nil, err
	}
	settingsSvc := settings.NewService(settingsRepo, settings.Gateway{
		SecretKey:      cfg.Gateway.SecretKey,
		PublishableKey: cfg.Gateway.PublishableKey,
	})
	promoSvc := promo.NewService(promoRepo)
	pricing := order.NewEngine(productRepo, promoSvc, settingsSvc,
		order.FlatTax{Rate: taxRate},
		tp.Tracer("github.com/xenking/giftbox/internal/domain/order"),
	)
	orders, err := order.NewManager(orderRepo, pricing, promoSvc, managerOpts)
	if err != nil {
		return nil, errors.Wrap(err, "create order manager")
	}
	payments, err := payment.NewOrchestrator(settingsSvc,
		gateway.Connector(gateway.StripeConfig{URL: cfg.Gateway.URL}),
		intents,
		payment.Options{
			Timeout:        cfg.Gateway.Timeout,
			MeterProvider:  mp,
			TracerProvider: tp,
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "create payment orchestrator")
	}
	authority, err := auth.NewAuthority(auth.Config{
		Admin: auth.Credentials{
			Username:     cfg.Admin.Username,
			Password:     cfg.Admin.Password,
			PasswordHash: cfg.Admin.PasswordHash,
		},
		Secret: []byte(cfg.Admin.TokenSecret),
		TTL:    cfg.Admin.TokenTTL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create token authority")
	}
	catalog := product.NewCache(productRepo, cfg.CatalogCacheTTL, product.DefaultCatalog())

	// HTTP handlers.
	h, err := handler.NewHandler(
		handler.HandlerConfig{
			ImageBaseURL: cfg.ImageBaseURL,
			LoginLimit: httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:        cfg.LoginRateLimit.Max,
				Window:     cfg.LoginRateLimit.Window,
				TrustProxy: cfg.TrustProxy,
			}),
		},
		handler.Deps{
			Auth:     authority,
			Orders:   orders,
			Payments: payments,
			Settings: settingsSvc,
			Catalog:  catalog,
			Products: productRepo,
			Promos:   promoRepo,
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "create handler")
	}

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", a.health.LiveEndpoint)
	mux.HandleFunc("GET /readyz", a.health.ReadyEndpoint)
	h.Register(mux)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	a.handler = httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(lg),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:        cfg.RateLimit.Max,
			Window:     cfg.RateLimit.Window,
			TrustProxy: cfg.TrustProxy,
			Skip:       httpmiddleware.SkipPaths("/livez", "/readyz"),
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Instrument(serviceName, routeFinder, tp, mp),
		httpmiddleware.LogRequests(routeFinder),
		httpmiddleware.Labeler(routeFinder),
	)
	return a, nil
}
