package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrSettlementFailed covers declines, timeouts, provider errors and
	// settlements still pending when the deadline passes.
	ErrSettlementFailed = errors.New("payment settlement failed")
	ErrReversalFailed   = errors.New("payment reversal failed")
	ErrUnknownReference = errors.New("unknown settlement reference")
	ErrInvalidMethod    = errors.New("unsupported payment method")
)

type Method string

const (
	MethodCard      Method = "card"
	MethodJazzCash  Method = "jazzcash"
	MethodEasyPaisa Method = "easypaisa"
	MethodCOD       Method = "cod"
)

func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodCard, MethodJazzCash, MethodEasyPaisa, MethodCOD:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMethod, s)
	}
}

// Prepaid reports whether the method moves money at settlement time.
// Cash on delivery is the only one that does not.
func (m Method) Prepaid() bool {
	return m != MethodCOD
}

type Status string

const (
	StatusCaptured Status = "captured"
	StatusDeclined Status = "declined"
	StatusPending  Status = "pending"
)

func (s Status) Terminal() bool {
	return s == StatusCaptured || s == StatusDeclined
}

type SettleRequest struct {
	// IdempotencyKey lets a provider collapse retried settle calls.
	IdempotencyKey string
	PayerID        uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	Method         Method
	Purpose        string // "appointment" or "order"
}

type SettlementResult struct {
	Reference  string
	Authorized decimal.Decimal
	Status     Status
}

type ReversalResult struct {
	Reference string
	Amount    decimal.Decimal
	Reversed  bool
}

// Provider is the external settlement service.
type Provider interface {
	Settle(ctx context.Context, req SettleRequest) (SettlementResult, error)
	Lookup(ctx context.Context, reference string) (SettlementResult, error)
	Reverse(ctx context.Context, reference string, amount decimal.Decimal) (ReversalResult, error)
}

// RefundStatus is recorded on a cancelled appointment or order.
type RefundStatus string

const (
	RefundNotRefunded RefundStatus = "not_refunded"
	RefundRefunded    RefundStatus = "refunded"
	RefundFailed      RefundStatus = "failed"
)
