package prescription

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindDigital Kind = "digital"
	KindUpload  Kind = "upload"
)

type Status string

const (
	// Digital prescriptions.
	StatusActive  Status = "active"
	StatusExpired Status = "expired"

	// Uploaded documents.
	StatusPendingReview Status = "pending_review"
	StatusVerified      Status = "verified"
	StatusRejected      Status = "rejected"
)

// Prescription is a reference an order can point at. Orders never own it.
type Prescription struct {
	ID            uuid.UUID
	PatientID     uuid.UUID
	Kind          Kind
	Status        Status
	AppointmentID *uuid.UUID // digital only
	DoctorID      *uuid.UUID // digital only
	Notes         string
	DocumentKey   *string // upload only
	ContentType   *string // upload only
	ExpiresAt     *time.Time
	ReviewedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Usable reports whether the reference can satisfy a claim right now.
func (p Prescription) Usable(now time.Time) bool {
	switch p.Status {
	case StatusVerified:
		return true
	case StatusActive:
		return p.ExpiresAt == nil || p.ExpiresAt.After(now)
	default:
		return false
	}
}

// Blocks reports whether the reference can no longer back an order.
// Pending uploads do not block; the order waits for review.
func (p Prescription) Blocks(now time.Time) bool {
	switch p.Status {
	case StatusRejected, StatusExpired:
		return true
	case StatusActive:
		return p.ExpiresAt != nil && !p.ExpiresAt.After(now)
	default:
		return false
	}
}

type ClaimKind string

const (
	ClaimExisting ClaimKind = "existing"
	ClaimUpload   ClaimKind = "upload"
)

// Claim is what a patient offers at checkout to satisfy a prescription
// requirement.
type Claim struct {
	Kind           ClaimKind
	PrescriptionID uuid.UUID
	Document       *Document
}

type Document struct {
	FileName    string
	ContentType string
	Data        []byte
}

type Verdict string

const (
	VerdictVerified Verdict = "verified"
	VerdictRejected Verdict = "rejected"
)

// Requirer is anything that may need a prescription, usually an order line.
type Requirer interface {
	NeedsPrescription() bool
}

// RequiresPrescription is true when any line needs a prescription.
func RequiresPrescription[T Requirer](lines []T) bool {
	for _, l := range lines {
		if l.NeedsPrescription() {
			return true
		}
	}
	return false
}
