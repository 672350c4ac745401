package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/hackgods/care-fulfillment/internal/bootstrap"
	"github.com/hackgods/care-fulfillment/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.StorageBackend != "postgres" {
		log.Fatalf("notification-worker needs STORAGE_BACKEND=postgres; memory mode delivers inside api-server")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Start(rootCtx, cfg, "notification-worker")
	if err != nil {
		log.Fatalf("startup error: %v", err)
	}
	defer rt.Close(context.Background())

	services, err := rt.BuildServices(rootCtx)
	if err != nil {
		rt.Logger.Fatal("build services", zap.Error(err))
	}
	deliverer, err := rt.Deliverer(rootCtx, services.Outbox)
	if err != nil {
		rt.Logger.Fatal("build deliverer", zap.Error(err))
	}

	rt.Logger.Info("notification worker starting", zap.Duration("interval", cfg.NotifyInterval))
	deliverer.Start(rootCtx)
	rt.Logger.Info("notification worker stopped")
}
