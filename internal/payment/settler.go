package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/hackgods/care-fulfillment/internal/metrics"
)

const codPrefix = "cod_"

var tracer = otel.Tracer("github.com/hackgods/care-fulfillment/internal/payment")

type SettlerConfig struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

// Settler drives a Provider to a terminal answer within a deadline.
type Settler struct {
	provider Provider
	cfg      SettlerConfig
	logger   *zap.Logger
	metrics  *metrics.Collector
}

func NewSettler(provider Provider, cfg SettlerConfig, logger *zap.Logger, m *metrics.Collector) *Settler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Settler{provider: provider, cfg: cfg, logger: logger, metrics: m}
}

// Settle returns a captured result or an error wrapping ErrSettlementFailed.
// Cash on delivery is recorded as captured without calling the provider.
func (s *Settler) Settle(ctx context.Context, req SettleRequest) (SettlementResult, error) {
	ctx, span := tracer.Start(ctx, "payment.Settle")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.method", string(req.Method)),
		attribute.String("payment.purpose", req.Purpose),
	)

	start := time.Now()
	res, err := s.settle(ctx, req)
	status := string(res.Status)
	if err != nil {
		status = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("settlement failed",
			zap.String("method", string(req.Method)),
			zap.String("amount", req.Amount.String()),
			zap.String("purpose", req.Purpose),
			zap.Error(err),
		)
	}
	s.metrics.Settlement(status, time.Since(start).Seconds())
	return res, err
}

func (s *Settler) settle(ctx context.Context, req SettleRequest) (SettlementResult, error) {
	if !req.Amount.IsPositive() {
		return SettlementResult{}, fmt.Errorf("%w: amount must be positive", ErrSettlementFailed)
	}
	if req.Method == MethodCOD {
		return SettlementResult{
			Reference:  codPrefix + uuid.NewString(),
			Authorized: req.Amount,
			Status:     StatusCaptured,
		}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	res, err := s.provider.Settle(ctx, req)
	if err != nil {
		return SettlementResult{}, fmt.Errorf("%w: %w", ErrSettlementFailed, err)
	}

	ref := res.Reference
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for res.Status == StatusPending {
		select {
		case <-ctx.Done():
			s.void(ctx, ref, req.Amount)
			return SettlementResult{}, fmt.Errorf("%w: still pending at deadline (reference %s)", ErrSettlementFailed, ref)
		case <-ticker.C:
		}
		res, err = s.provider.Lookup(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				s.void(ctx, ref, req.Amount)
			}
			return SettlementResult{}, fmt.Errorf("%w: lookup: %w", ErrSettlementFailed, err)
		}
	}

	switch res.Status {
	case StatusCaptured:
		return res, nil
	case StatusDeclined:
		return SettlementResult{}, fmt.Errorf("%w: declined (reference %s)", ErrSettlementFailed, res.Reference)
	default:
		return SettlementResult{}, fmt.Errorf("%w: unexpected status %q", ErrSettlementFailed, res.Status)
	}
}

// void asks the provider to drop a settlement abandoned while pending so a
// late capture does not take money for a booking that was never made.
func (s *Settler) void(ctx context.Context, reference string, amount decimal.Decimal) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Timeout)
	defer cancel()

	if _, err := s.provider.Reverse(ctx, reference, amount); err != nil {
		s.logger.Error("void of pending settlement failed",
			zap.String("settlement_ref", reference),
			zap.String("amount", amount.String()),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("voided pending settlement", zap.String("settlement_ref", reference))
}

// Reverse refunds a captured settlement. Cash-on-delivery references have
// nothing to refund and always succeed.
func (s *Settler) Reverse(ctx context.Context, reference string, amount decimal.Decimal) (ReversalResult, error) {
	ctx, span := tracer.Start(ctx, "payment.Reverse")
	defer span.End()

	if strings.HasPrefix(reference, codPrefix) {
		return ReversalResult{Reference: reference, Amount: decimal.Zero, Reversed: true}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	res, err := s.provider.Reverse(ctx, reference, amount)
	if err == nil && !res.Reversed {
		err = errors.New("provider did not reverse")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ReversalResult{}, fmt.Errorf("%w: %s: %w", ErrReversalFailed, reference, err)
	}
	return res, nil
}
