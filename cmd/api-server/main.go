package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/care-fulfillment/internal/api"
	"github.com/hackgods/care-fulfillment/internal/bootstrap"
	"github.com/hackgods/care-fulfillment/internal/config"
	"github.com/hackgods/care-fulfillment/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Start(rootCtx, cfg, "api-server")
	if err != nil {
		log.Fatalf("startup error: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		rt.Close(ctx)
	}()
	logger := rt.Logger

	services, err := rt.BuildServices(rootCtx)
	if err != nil {
		logger.Fatal("build services", zap.Error(err))
	}

	// Without a shared outbox table no separate notification-worker can
	// see these events, so drain them in-process.
	if cfg.StorageBackend == "memory" {
		deliverer, err := rt.Deliverer(rootCtx, services.Outbox)
		if err != nil {
			logger.Fatal("build deliverer", zap.Error(err))
		}
		go deliverer.Start(rootCtx)
	}

	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.Run(rootCtx)

	handler := api.NewRouter(api.RouterConfig{
		Appointments:  services.Appointments,
		Orders:        services.Orders,
		Prescriptions: services.Prescriptions,
		Tokens:        session.NewTokens(cfg.JWTSecret),
		Health:        api.NewHealthHandler(cfg.Env, cfg.Version, rt.HealthChecks()...),
		Limiter:       limiter,
		Logger:        logger.Named("http"),
		Metrics:       rt.Metrics,
		Gatherer:      rt.Registry,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api-server listening",
			zap.String("addr", srv.Addr),
			zap.String("storage", cfg.StorageBackend),
			zap.String("slots", cfg.SlotRegistry),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("http server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("api-server stopped")
}
