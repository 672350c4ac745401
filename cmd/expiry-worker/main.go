package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/hackgods/care-fulfillment/internal/bootstrap"
	"github.com/hackgods/care-fulfillment/internal/config"
	"github.com/hackgods/care-fulfillment/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Start(rootCtx, cfg, "expiry-worker")
	if err != nil {
		log.Fatalf("startup error: %v", err)
	}
	defer rt.Close(context.Background())
	logger := rt.Logger

	if cfg.StorageBackend != "postgres" {
		logger.Warn("expiry worker running against in-memory storage; it only sees its own process state")
	}

	services, err := rt.BuildServices(rootCtx)
	if err != nil {
		logger.Fatal("build services", zap.Error(err))
	}

	logger.Info("expiry worker starting", zap.Duration("interval", cfg.WorkerInterval))
	worker.NewExpirySweeper(services.Prescriptions, services.Orders, logger.Named("expiry")).Run(rootCtx, cfg.WorkerInterval)
}
