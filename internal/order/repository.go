package order

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/care-fulfillment/internal/payment"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrMedicineNotFound = errors.New("medicine not found")
)

type Repository interface {
	GetMedicine(ctx context.Context, id uuid.UUID) (*Medicine, error)
	ListMedicines(ctx context.Context) ([]Medicine, error)

	Create(ctx context.Context, o Order) (*Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Order, error)
	// ListByPrescription returns orders pointing at the reference whose
	// status is one of statuses.
	ListByPrescription(ctx context.Context, prescriptionID uuid.UUID, statuses ...Status) ([]Order, error)

	// Guarded transitions. A row no longer in from reports ErrOrderNotFound.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Order, error)
	AttachPrescription(ctx context.Context, id, prescriptionID uuid.UUID) (*Order, error)
	MarkCancelled(ctx context.Context, id uuid.UUID, from Status, reason CancelReason, at time.Time) (*Order, error)

	SetRefundStatus(ctx context.Context, id uuid.UUID, status payment.RefundStatus) error
}
