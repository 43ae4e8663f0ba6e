package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/address"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/event"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/storage/postgres"
	"github.com/xenking/storefront/internal/storage/redis"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))
	mp := m.MeterProvider()

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	poolMetrics, err := postgres.RegisterPoolMetrics(pool, mp)
	if err != nil {
		return errors.Wrap(err, "register pool metrics")
	}
	defer func() { _ = poolMetrics.Unregister() }()

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	orderOpts := []order.Option{order.WithMeterProvider(mp)}

	// Redis: checkout idempotency.
	if cfg.Redis.URL != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()

		healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		orderOpts = append(orderOpts, order.WithIdempotency(redis.NewIdempotencyStore(rdb, cfg.Redis.IdempotencyTTL)))
	} else {
		lg.Warn("Redis is not configured, Idempotency-Key headers are ignored")
	}

	// Kafka: order events, best effort.
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := event.NewPublisher(ctx, event.NewWriter(cfg.Kafka.Brokers), event.Config{
			Brokers:         cfg.Kafka.Brokers,
			Topic:           cfg.Kafka.Topic,
			BreakerTimeout:  cfg.Kafka.BreakerTimeout,
			BreakerFailures: cfg.Kafka.BreakerFailures,
		})
		defer func() {
			if err := publisher.Close(); err != nil {
				lg.Warn("Kafka writer close error", zap.Error(err))
			}
		}()

		brokers := cfg.Kafka.Brokers
		healthSvc.AddDegradedCheck("kafka", 5*time.Second, func(ctx context.Context) error {
			return event.Ping(ctx, brokers)
		})
		orderOpts = append(orderOpts, order.WithPublisher(publisher))
	}

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	cartRepo := postgres.NewCartRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	addressRepo := postgres.NewAddressRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain services.
	policy, err := cfg.Pricing.Policy()
	if err != nil {
		return errors.Wrap(err, "pricing policy")
	}
	engine, err := pricing.NewEngine(policy)
	if err != nil {
		return errors.Wrap(err, "create pricing engine")
	}
	couponGuard, err := coupon.NewGuard(couponRepo, coupon.WithMeterProvider(mp))
	if err != nil {
		return errors.Wrap(err, "create coupon guard")
	}
	cartService, err := cart.NewService(cartRepo, productRepo, couponGuard, engine,
		cart.WithMaxRetries(cfg.Cart.MaxRetries),
		cart.WithMeterProvider(mp),
	)
	if err != nil {
		return errors.Wrap(err, "create cart service")
	}
	addressService := address.NewService(addressRepo)
	orderService, err := order.NewService(cartService, addressService, orderRepo, orderOpts...)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}
	authenticator := auth.NewAuthenticator(apikeyRepo, []byte(cfg.APIKeyPepper))

	// HTTP handlers.
	h := handler.New(
		handler.Config{ImageBaseURL: cfg.ImageBaseURL},
		productRepo,
		cartService,
		couponGuard,
		orderService,
		addressService,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	rate := httpmiddleware.RateLimitConfig{Max: cfg.RateLimit.Max, Window: cfg.RateLimit.Window}
	privateRate := rate
	privateRate.KeyFunc = handler.PrincipalKey
	h.Register(mux, authenticator, handler.RouteLimits{
		Public:  httpmiddleware.RateLimitWithCleanup(ctx, rate),
		Private: httpmiddleware.RateLimitWithCleanup(ctx, privateRate),
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(httpmiddleware.Routes(mux),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     httpmiddleware.DefaultCORSHeaders,
				ExposeHeaders:    []string{"Location", "Idempotent-Replayed", httpmiddleware.HeaderRequestID},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("storefront-api", m),
			httpmiddleware.LogRequests(),
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
