package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/care-fulfillment/internal/payment"
)

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	// ErrSlotTaken is the storage-level uniqueness backstop firing.
	ErrSlotTaken = errors.New("an active appointment already holds this slot")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListDoctors(ctx context.Context) ([]Doctor, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error)
	// ListHeld returns the appointments that occupy a slot on a doctor's
	// date, which is every one not cancelled.
	ListHeld(ctx context.Context, doctorID uuid.UUID, date string) ([]Appointment, error)
	// ListUpcoming returns upcoming appointments dated on or after from.
	ListUpcoming(ctx context.Context, from string) ([]Appointment, error)

	// Create inserts an upcoming appointment or returns ErrSlotTaken.
	Create(ctx context.Context, a Appointment) (*Appointment, error)

	// Guarded transitions out of upcoming. A row no longer upcoming reports
	// ErrAppointmentNotFound.
	MarkCancelled(ctx context.Context, id uuid.UUID, reason CancelReason, by Initiator, at time.Time) (*Appointment, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) (*Appointment, error)

	SetRefundStatus(ctx context.Context, id uuid.UUID, status payment.RefundStatus) error
	SetPrescription(ctx context.Context, id, prescriptionID uuid.UUID) error
}
