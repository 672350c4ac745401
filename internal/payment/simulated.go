package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SimulatedProvider is a deterministic in-process provider for local runs,
// the load simulator and tests.
type SimulatedProvider struct {
	// DeclineOver declines any settlement strictly above this amount.
	// Zero disables the rule.
	DeclineOver decimal.Decimal
	// DeclinePayers always declines these payers.
	DeclinePayers map[uuid.UUID]bool
	// PendingLookups is how many Lookup calls report pending before a
	// settlement captures.
	PendingLookups int
	// FailReversals makes every Reverse call error.
	FailReversals bool

	mu          sync.Mutex
	settlements map[string]*simulatedSettlement
	byKey       map[string]string
}

type simulatedSettlement struct {
	result   SettlementResult
	lookups  int
	reversed int
}

func NewSimulatedProvider() *SimulatedProvider {
	return &SimulatedProvider{
		settlements: make(map[string]*simulatedSettlement),
		byKey:       make(map[string]string),
	}
}

func (p *SimulatedProvider) Settle(ctx context.Context, req SettleRequest) (SettlementResult, error) {
	if err := ctx.Err(); err != nil {
		return SettlementResult{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if ref, ok := p.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return p.settlements[ref].result, nil
	}

	status := StatusCaptured
	switch {
	case p.DeclinePayers[req.PayerID]:
		status = StatusDeclined
	case !p.DeclineOver.IsZero() && req.Amount.GreaterThan(p.DeclineOver):
		status = StatusDeclined
	case p.PendingLookups > 0:
		status = StatusPending
	}

	res := SettlementResult{
		Reference:  "sim_" + uuid.NewString(),
		Authorized: req.Amount,
		Status:     status,
	}
	if status == StatusDeclined {
		res.Authorized = decimal.Zero
	}
	p.settlements[res.Reference] = &simulatedSettlement{result: res}
	if req.IdempotencyKey != "" {
		p.byKey[req.IdempotencyKey] = res.Reference
	}
	return res, nil
}

func (p *SimulatedProvider) Lookup(ctx context.Context, reference string) (SettlementResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.settlements[reference]
	if !ok {
		return SettlementResult{}, ErrUnknownReference
	}
	if s.result.Status == StatusPending {
		s.lookups++
		if s.lookups >= p.PendingLookups {
			s.result.Status = StatusCaptured
		}
	}
	return s.result, nil
}

func (p *SimulatedProvider) Reverse(ctx context.Context, reference string, amount decimal.Decimal) (ReversalResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailReversals {
		return ReversalResult{}, errors.New("simulated reversal outage")
	}
	s, ok := p.settlements[reference]
	if !ok {
		return ReversalResult{}, ErrUnknownReference
	}
	if s.result.Status == StatusDeclined {
		return ReversalResult{}, fmt.Errorf("settlement %s is %s", reference, s.result.Status)
	}
	if amount.GreaterThan(s.result.Authorized) {
		return ReversalResult{}, fmt.Errorf("reversal %s exceeds authorized %s", amount, s.result.Authorized)
	}
	// Reversing a pending settlement voids it; it never captures afterwards.
	if s.result.Status == StatusPending {
		s.result.Status = StatusDeclined
		s.result.Authorized = decimal.Zero
	}
	s.reversed++
	return ReversalResult{Reference: reference, Amount: amount, Reversed: true}, nil
}

// Reversals reports how many times a settlement has been reversed.
func (p *SimulatedProvider) Reversals(reference string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.settlements[reference]; ok {
		return s.reversed
	}
	return 0
}
