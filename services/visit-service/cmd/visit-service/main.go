package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/visitbook/libs/auth"
	"github.com/md-rashed-zaman/visitbook/libs/config"
	"github.com/md-rashed-zaman/visitbook/libs/grpcx"
	"github.com/md-rashed-zaman/visitbook/libs/httpx"
	"github.com/md-rashed-zaman/visitbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/visitbook/libs/otel"
	"github.com/md-rashed-zaman/visitbook/libs/runtime"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/availability"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/booking"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/handlers"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/policy"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/reconcile"
)

func main() {
	service := config.String("SERVICE_NAME", "visit-service")
	port, err := config.Port("PORT", "8085")
	if err != nil {
		panic(err)
	}
	grpcPort, err := config.Port("GRPC_PORT", "9095")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	store, err := openBackend(ctx, logger)
	if err != nil {
		logger.Error("store init failed", "err", err)
		panic(err)
	}
	defer store.close()
	logger.Info("store ready", "driver", store.driver)
	store.start(ctx)

	loc := time.UTC
	if tz := config.String("LISTING_TIMEZONE", ""); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			logger.Error("invalid LISTING_TIMEZONE; using UTC", "tz", tz, "err", err)
			loc = time.UTC
		}
	}

	svc := booking.NewService(store.slots, store.visits, logger, booking.Config{
		Policy:         policy.FromEnv(logger),
		Events:         store.events,
		Generator:      availability.NewGenerator(loc),
		StoreTimeout:   config.Duration("VISIT_STORE_TIMEOUT", booking.DefaultStoreTimeout),
		DefaultAgentID: config.String("VISIT_DEFAULT_AGENT_ID", booking.DefaultAgentID),
	})

	if config.Bool("VISIT_RECONCILE_ENABLED", true) {
		worker := reconcile.NewWorker(svc, store.locker, logger, reconcile.ConfigFromEnv())
		go worker.Run(ctx)
	}

	checks := append([]runtime.ReadyCheck{}, store.checks...)
	if brokers := config.String("KAFKA_BROKERS", ""); brokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}

	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	var rateLimit httpx.Middleware
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		rateLimit = httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "visit-rl")).
			Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	} else {
		rateLimit = httpx.NewRateLimiter(limitPerMinute, time.Minute).Middleware()
		logger.Info("rate limiting enabled (memory)", "per_minute", limitPerMinute)
	}

	var jwks *auth.JWKSClient
	if url := config.String("JWKS_URL", ""); url != "" {
		jwks = auth.NewJWKSClient(url, config.Duration("JWKS_CACHE_TTL", 5*time.Minute))
	}
	verifier := auth.Verifier{Secret: config.String("JWT_SECRET", ""), JWKS: jwks}
	public := auth.OptionalAuth(verifier)
	admin := func(next http.Handler) http.Handler {
		return auth.RequireAuth(verifier)(auth.RequireRole("admin", "ops")(next))
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.NewVisitHandler(svc, logger).Register(mux, public, admin)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS"),
			AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", httpx.RequestIDHeader, "Idempotency-Key"},
			ExposedHeaders: []string{httpx.RequestIDHeader},
			MaxAge:         10 * time.Minute,
		}),
		rateLimit,
		httpx.WithBodyLimit(int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20))),
		httpx.WithTimeout(time.Duration(config.Int("REQUEST_TIMEOUT_SECONDS", 10))*time.Second),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "visit")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv, _ := grpcx.NewServer(logger)
	lis, err := net.Listen("tcp", ":"+grpcPort)
	if err != nil {
		logger.Error("grpc listen failed", "err", err)
		panic(err)
	}
	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := grpcx.Serve(ctx, grpcSrv, lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
