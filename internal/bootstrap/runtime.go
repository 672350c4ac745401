// Package bootstrap wires configuration into the long-lived clients and
// services shared by the binaries under cmd/.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/hackgods/care-fulfillment/internal/api"
	"github.com/hackgods/care-fulfillment/internal/config"
	"github.com/hackgods/care-fulfillment/internal/db"
	"github.com/hackgods/care-fulfillment/internal/logger"
	"github.com/hackgods/care-fulfillment/internal/metrics"
	redisclient "github.com/hackgods/care-fulfillment/internal/redis"
	"github.com/hackgods/care-fulfillment/internal/tracing"
)

// Runtime holds process-wide dependencies. Pool and Redis are nil when the
// configuration does not call for them.
type Runtime struct {
	Config   config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Collector
	Tracer   *sdktrace.TracerProvider
	Pool     *pgxpool.Pool
	Redis    *redis.Client
}

// Start builds the runtime for the named binary.
func Start(ctx context.Context, cfg config.Config, service string) (*Runtime, error) {
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	log = log.With(zap.String("service", service), zap.String("env", cfg.Env))

	rt := &Runtime{Config: cfg, Logger: log}

	rt.Tracer, err = tracing.Init(ctx, tracing.Options{
		Enabled:     cfg.TracingEnabled,
		ServiceName: service,
		Version:     cfg.Version,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRate:  cfg.TracingSampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	rt.Registry = prometheus.NewRegistry()
	rt.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.Metrics = metrics.NewCollector(rt.Registry)

	if cfg.StorageBackend == "postgres" {
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		rt.Pool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
		cancel()
		if err != nil {
			rt.Close(ctx)
			return nil, fmt.Errorf("postgres connection error: %w", err)
		}
		log.Info("connected to postgres")
	}

	if cfg.NeedsRedis() {
		rt.Redis, err = redisclient.NewRedisClient(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			rt.Close(ctx)
			return nil, fmt.Errorf("redis connection error: %w", err)
		}
		log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	}

	return rt, nil
}

// HealthChecks lists readiness checks for the connected backends. Postgres
// is critical; Redis only degrades readiness.
func (rt *Runtime) HealthChecks() []api.Check {
	var checks []api.Check
	if rt.Pool != nil {
		checks = append(checks, api.Check{Name: "postgres", Critical: true, Ping: rt.Pool.Ping})
	}
	if rt.Redis != nil {
		checks = append(checks, api.Check{Name: "redis", Ping: func(ctx context.Context) error {
			return rt.Redis.Ping(ctx).Err()
		}})
	}
	return checks
}

// Close releases everything Start opened. It is safe on a partial runtime.
func (rt *Runtime) Close(ctx context.Context) {
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			rt.Logger.Warn("error closing redis", zap.Error(err))
		}
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
	if rt.Tracer != nil {
		if err := rt.Tracer.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			rt.Logger.Warn("error shutting down tracer", zap.Error(err))
		}
	}
	_ = rt.Logger.Sync()
}
