package prescription

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrPrescriptionNotFound = errors.New("prescription not found")

type Repository interface {
	Insert(ctx context.Context, p Prescription) (*Prescription, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Prescription, error)

	// UpdateStatus only succeeds if the row is still in from. A lost race
	// reports ErrPrescriptionNotFound.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Prescription, error)

	// ExpireDue moves active digital prescriptions whose expiry is before
	// now to expired and returns them.
	ExpireDue(ctx context.Context, now time.Time) ([]Prescription, error)
}
