package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/care-fulfillment/internal/bootstrap"
	"github.com/hackgods/care-fulfillment/internal/config"
	"github.com/hackgods/care-fulfillment/internal/db"
	"github.com/hackgods/care-fulfillment/internal/logger"
	"github.com/hackgods/care-fulfillment/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	lg, err := logger.New(cfg.LogLevel, "console")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	if cfg.StorageBackend != "postgres" {
		lg.Fatal("seed needs STORAGE_BACKEND=postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		lg.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	var seed uint64
	if v := os.Getenv("SEED"); v != "" {
		if seed, err = strconv.ParseUint(v, 10, 64); err != nil {
			lg.Fatal("invalid SEED", zap.String("value", v))
		}
	}
	doctorCount := 20
	if v := os.Getenv("SEED_DOCTORS"); v != "" {
		if doctorCount, err = strconv.Atoi(v); err != nil || doctorCount <= 0 {
			lg.Fatal("invalid SEED_DOCTORS", zap.String("value", v))
		}
	}

	catalog := bootstrap.NewCatalog(seed)
	doctors := catalog.Doctors(doctorCount)
	medicines := catalog.Medicines()

	tx, err := pool.Begin(ctx)
	if err != nil {
		lg.Fatal("begin tx", zap.Error(err))
	}
	defer tx.Rollback(ctx)

	if err := bootstrap.InsertCatalog(ctx, tx, doctors, medicines); err != nil {
		lg.Fatal("seed catalog", zap.Error(err))
	}
	if err := tx.Commit(ctx); err != nil {
		lg.Fatal("commit seed", zap.Error(err))
	}
	lg.Info("catalog seeded", zap.Int("doctors", len(doctors)), zap.Int("medicines", len(medicines)))

	tokens := session.NewTokens(cfg.JWTSecret)
	samples := []struct {
		label string
		sess  session.Session
	}{
		{"patient", session.Session{UserID: uuid.New(), Role: session.RolePatient}},
		{"doctor", session.Session{UserID: doctors[0].ID, Role: session.RoleDoctor}},
		{"pharmacist", session.Session{UserID: uuid.New(), Role: session.RolePharmacist}},
		{"admin", session.Session{UserID: uuid.New(), Role: session.RoleAdmin}},
	}
	fmt.Println("sample bearer tokens (24h):")
	for _, s := range samples {
		token, err := tokens.Issue(s.sess, 24*time.Hour)
		if err != nil {
			lg.Fatal("issue token", zap.Error(err))
		}
		fmt.Printf("  %-10s %s\n    %s\n", s.label, s.sess.UserID, token)
	}
}
