// Package worker holds the periodic jobs run by cmd/expiry-worker.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/care-fulfillment/internal/order"
	"github.com/hackgods/care-fulfillment/internal/prescription"
)

type PrescriptionExpirer interface {
	ExpireDue(ctx context.Context) ([]prescription.Prescription, error)
}

type OrderParker interface {
	HandlePrescriptionReview(ctx context.Context, rx prescription.Prescription) ([]order.Order, error)
}

// ExpirySweeper expires lapsed digital prescriptions and parks the orders
// that still depend on them.
type ExpirySweeper struct {
	prescriptions PrescriptionExpirer
	orders        OrderParker
	logger        *zap.Logger
	timeout       time.Duration
}

func NewExpirySweeper(prescriptions PrescriptionExpirer, orders OrderParker, logger *zap.Logger) *ExpirySweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpirySweeper{
		prescriptions: prescriptions,
		orders:        orders,
		logger:        logger,
		timeout:       20 * time.Second,
	}
}

type SweepResult struct {
	Expired int
	Parked  int
}

// RunOnce performs a single sweep. A failure to park the orders of one
// prescription is logged and does not stop the others.
func (s *ExpirySweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var res SweepResult
	expired, err := s.prescriptions.ExpireDue(runCtx)
	if err != nil {
		return res, err
	}
	res.Expired = len(expired)

	for _, rx := range expired {
		parked, err := s.orders.HandlePrescriptionReview(runCtx, rx)
		if err != nil {
			s.logger.Error("park orders for expired prescription",
				zap.String("prescription_id", rx.ID.String()),
				zap.Error(err),
			)
			continue
		}
		res.Parked += len(parked)
	}
	return res, nil
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *ExpirySweeper) Run(ctx context.Context, interval time.Duration) {
	s.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutdown signal received, stopping expiry sweeper")
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *ExpirySweeper) runLogged(ctx context.Context) {
	start := time.Now()
	res, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("expiry run error", zap.Error(err))
		return
	}
	s.logger.Info("expiry run complete",
		zap.Int("expired", res.Expired),
		zap.Int("parked_orders", res.Parked),
		zap.Duration("took", time.Since(start)),
	)
}
