// Package main запускает HTTP-сервер сервиса расчётов по платёжным событиям.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/content-settlement/internal/config"
	"github.com/mmeshcher/content-settlement/internal/handler"
	"github.com/mmeshcher/content-settlement/internal/metrics"
	"github.com/mmeshcher/content-settlement/internal/middleware"
	"github.com/mmeshcher/content-settlement/internal/ratelimit"
	"github.com/mmeshcher/content-settlement/internal/repository"
	"github.com/mmeshcher/content-settlement/internal/service"
	"github.com/mmeshcher/content-settlement/internal/telemetry"
	"github.com/mmeshcher/content-settlement/internal/webhook"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}
	if err := cfg.Validate(); err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.OTelEndpoint)
	if err != nil {
		sugar.Fatalw("telemetry initialization error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := service.NewService(repo, logger, metrics.New(reg))
	defer svc.Close()

	redisClient, err := ratelimit.NewClient(ctx, cfg.RedisAddress)
	if err != nil {
		sugar.Fatalw("redis initialization error", "error", err.Error())
	}
	if redisClient != nil {
		defer redisClient.Close()
	} else {
		sugar.Info("rate limiting disabled: redis address is not set")
	}

	if cfg.AuthSecret == "" {
		sugar.Warn("auth secret is not set, read API cookies will not survive restarts")
	}
	if cfg.AdminToken == "" {
		sugar.Info("events endpoint disabled: admin token is not set")
	}

	h := handler.NewHandler(svc, webhook.NewVerifier(cfg.StripeWebhookSecret), logger,
		middleware.NewAuthMiddleware(cfg.AuthSecret),
		handler.Options{
			Limiter:           ratelimit.New(redisClient, cfg.RateLimit, time.Minute, logger),
			AdminToken:        cfg.AdminToken,
			SettlementTimeout: cfg.SettlementTimeout,
			Metrics:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		},
	)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting settlement server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			sugar.Warnw("tracing shutdown error", "error", err.Error())
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
