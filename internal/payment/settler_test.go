package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSettler(p Provider) *Settler {
	return NewSettler(p, SettlerConfig{Timeout: 200 * time.Millisecond, PollInterval: 5 * time.Millisecond}, zap.NewNop(), nil)
}

func cardRequest(amount int64) SettleRequest {
	return SettleRequest{
		IdempotencyKey: uuid.NewString(),
		PayerID:        uuid.New(),
		Amount:         decimal.NewFromInt(amount),
		Currency:       "PKR",
		Method:         MethodCard,
		Purpose:        "appointment",
	}
}

func TestSettleCaptured(t *testing.T) {
	s := newTestSettler(NewSimulatedProvider())

	res, err := s.Settle(context.Background(), cardRequest(2000))
	require.NoError(t, err)
	assert.Equal(t, StatusCaptured, res.Status)
	assert.True(t, res.Authorized.Equal(decimal.NewFromInt(2000)))
	assert.NotEmpty(t, res.Reference)
}

func TestSettleDeclined(t *testing.T) {
	p := NewSimulatedProvider()
	p.DeclineOver = decimal.NewFromInt(1000)
	s := newTestSettler(p)

	_, err := s.Settle(context.Background(), cardRequest(2000))
	assert.ErrorIs(t, err, ErrSettlementFailed)
}

func TestSettlePendingThenCaptured(t *testing.T) {
	p := NewSimulatedProvider()
	p.PendingLookups = 3
	s := newTestSettler(p)

	res, err := s.Settle(context.Background(), cardRequest(500))
	require.NoError(t, err)
	assert.Equal(t, StatusCaptured, res.Status)
}

func TestSettlePendingPastDeadline(t *testing.T) {
	p := NewSimulatedProvider()
	p.PendingLookups = 1_000_000
	s := NewSettler(p, SettlerConfig{Timeout: 30 * time.Millisecond, PollInterval: 5 * time.Millisecond}, nil, nil)

	_, err := s.Settle(context.Background(), cardRequest(500))
	assert.ErrorIs(t, err, ErrSettlementFailed)
}

type recordingProvider struct {
	*SimulatedProvider
	reversed []string
}

func (p *recordingProvider) Reverse(ctx context.Context, reference string, amount decimal.Decimal) (ReversalResult, error) {
	p.reversed = append(p.reversed, reference)
	return p.SimulatedProvider.Reverse(ctx, reference, amount)
}

func TestSettlePendingPastDeadlineVoidsSettlement(t *testing.T) {
	p := &recordingProvider{SimulatedProvider: NewSimulatedProvider()}
	p.PendingLookups = 1_000_000
	s := NewSettler(p, SettlerConfig{Timeout: 30 * time.Millisecond, PollInterval: 5 * time.Millisecond}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := s.Settle(ctx, cardRequest(500))
	require.ErrorIs(t, err, ErrSettlementFailed)

	require.Len(t, p.reversed, 1)
	ref := p.reversed[0]
	assert.Contains(t, err.Error(), ref)
	assert.Equal(t, 1, p.Reversals(ref))

	p.PendingLookups = 0
	late, err := p.Lookup(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, StatusDeclined, late.Status, "a voided settlement never captures")
}

func TestSettleVoidFailureStillFails(t *testing.T) {
	p := NewSimulatedProvider()
	p.PendingLookups = 1_000_000
	p.FailReversals = true
	s := NewSettler(p, SettlerConfig{Timeout: 30 * time.Millisecond, PollInterval: 5 * time.Millisecond}, nil, nil)

	_, err := s.Settle(context.Background(), cardRequest(500))
	assert.ErrorIs(t, err, ErrSettlementFailed)
}

type slowProvider struct{ SimulatedProvider }

func (p *slowProvider) Settle(ctx context.Context, req SettleRequest) (SettlementResult, error) {
	<-ctx.Done()
	return SettlementResult{}, ctx.Err()
}

func TestSettleTimeoutIsFailure(t *testing.T) {
	s := NewSettler(&slowProvider{}, SettlerConfig{Timeout: 20 * time.Millisecond}, nil, nil)

	_, err := s.Settle(context.Background(), cardRequest(500))
	assert.ErrorIs(t, err, ErrSettlementFailed)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSettleCashOnDeliveryBypassesProvider(t *testing.T) {
	p := NewSimulatedProvider()
	p.DeclineOver = decimal.NewFromInt(1)
	s := newTestSettler(p)

	req := cardRequest(1800)
	req.Method = MethodCOD
	res, err := s.Settle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusCaptured, res.Status)

	rev, err := s.Reverse(context.Background(), res.Reference, req.Amount)
	require.NoError(t, err)
	assert.True(t, rev.Reversed)
}

func TestSettleRejectsNonPositiveAmount(t *testing.T) {
	s := newTestSettler(NewSimulatedProvider())

	_, err := s.Settle(context.Background(), cardRequest(0))
	assert.ErrorIs(t, err, ErrSettlementFailed)
}

func TestReverse(t *testing.T) {
	p := NewSimulatedProvider()
	s := newTestSettler(p)
	ctx := context.Background()

	res, err := s.Settle(ctx, cardRequest(700))
	require.NoError(t, err)

	rev, err := s.Reverse(ctx, res.Reference, res.Authorized)
	require.NoError(t, err)
	assert.True(t, rev.Reversed)
	assert.Equal(t, 1, p.Reversals(res.Reference))

	p.FailReversals = true
	_, err = s.Reverse(ctx, res.Reference, res.Authorized)
	assert.ErrorIs(t, err, ErrReversalFailed)

	p.FailReversals = false
	_, err = s.Reverse(ctx, "sim_missing", res.Authorized)
	assert.ErrorIs(t, err, ErrReversalFailed)
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("jazzcash")
	require.NoError(t, err)
	assert.Equal(t, MethodJazzCash, m)
	assert.True(t, m.Prepaid())
	assert.False(t, MethodCOD.Prepaid())

	_, err = ParseMethod("bitcoin")
	assert.ErrorIs(t, err, ErrInvalidMethod)
}
