package appointment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/care-fulfillment/internal/payment"
	"github.com/hackgods/care-fulfillment/internal/slot"
)

type Status string

const (
	StatusUpcoming  Status = "upcoming"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusUpcoming:  {StatusCompleted, StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {},
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

type Mode string

const (
	ModeVideo    Mode = "video"
	ModeInPerson Mode = "in-person"
)

func (m Mode) Valid() bool {
	return m == ModeVideo || m == ModeInPerson
}

type CancelReason string

const (
	ReasonScheduleConflict   CancelReason = "schedule_conflict"
	ReasonFoundAnotherDoctor CancelReason = "found_another_doctor"
	ReasonFeelingBetter      CancelReason = "feeling_better"
	ReasonDoctorUnavailable  CancelReason = "doctor_unavailable"
	ReasonOther              CancelReason = "other"
)

func (r CancelReason) Valid() bool {
	switch r {
	case ReasonScheduleConflict, ReasonFoundAnotherDoctor, ReasonFeelingBetter, ReasonDoctorUnavailable, ReasonOther:
		return true
	}
	return false
}

type Initiator string

const (
	InitiatorPatient Initiator = "patient"
	InitiatorDoctor  Initiator = "doctor"
	InitiatorSystem  Initiator = "system"
)

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty string
	Fee       decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Date      string
	Time      slot.TimeOfDay
	Mode      Mode

	Fee              decimal.Decimal
	PaymentMethod    payment.Method
	PaymentStatus    payment.Status
	SettlementRef    string
	ReservationToken slot.Token

	Status       Status
	CancelReason *CancelReason
	CancelledBy  *Initiator
	RefundStatus *payment.RefundStatus

	MeetingLink    *string
	PrescriptionID *uuid.UUID

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CancelledAt *time.Time
	CompletedAt *time.Time
}

func (a Appointment) Key() slot.Key {
	return slot.Key{DoctorID: a.DoctorID, Date: a.Date, Time: a.Time}
}

type BookCommand struct {
	DoctorID      uuid.UUID
	PatientID     uuid.UUID // ignored for patients, who always book for themselves
	Date          string
	Time          string
	Mode          Mode
	PaymentMethod string
}

type CancelCommand struct {
	Reason CancelReason
}

type CompleteCommand struct {
	IssuePrescription bool
	PrescriptionNotes string
}
