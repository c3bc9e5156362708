package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	webAdapter "wholesale-fulfillment/internal/adapters/web"
	"wholesale-fulfillment/internal/app"
	"wholesale-fulfillment/internal/audit"
	"wholesale-fulfillment/internal/cache"
	"wholesale-fulfillment/internal/config"
	"wholesale-fulfillment/internal/core"
	"wholesale-fulfillment/internal/db"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := initTelemetry(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.WithError(err).Fatal("telemetry init failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.WithError(err).Warn("telemetry shutdown")
		}
	}()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("database")
	}
	defer pool.Close()

	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET is not set")
	}

	// A nil redis.Cmdable (not a typed nil) disables both the settings cache and rate limiting.
	var redisClient redis.Cmdable
	if client, err := cache.NewClient(ctx, cfg.RedisAddress); err != nil {
		logger.WithError(err).Warn("redis unavailable; settings cache and rate limiting disabled")
	} else if client != nil {
		defer client.Close()
		redisClient = client
	}

	dispatcher := audit.NewDispatcher(audit.NewPGWriter(pool), cfg.AuditBuffer, logger)

	settings := cache.NewSettingsCache(core.NewSettingsStore(pool), redisClient, cfg.SettingsCacheTTL, logger)
	seq := core.NewSequenceGenerator(pool)
	stock := core.NewStockLedger(pool, dispatcher)
	invoices := core.NewInvoiceService(pool, seq, dispatcher)
	orders := core.NewOrderService(pool, stock, seq, invoices, dispatcher)
	users := core.NewUserService(pool)

	svc := app.NewAppService(pool, settings, orders, invoices, stock, users)

	handler := webAdapter.NewHandler(svc, webAdapter.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		JWTSecret:      cfg.JWTSecret,
		Logger:         logger,
		RateLimiter:    webAdapter.NewRateLimiter(redisClient, cfg.RateLimit, cfg.RateLimitWindow, logger),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.ServerPort).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.WithError(err).Error("http shutdown")
	}
	if err := dispatcher.Close(sctx); err != nil {
		logger.WithError(err).Warn("audit queue not fully drained")
	}
}
