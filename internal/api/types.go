package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/care-fulfillment/internal/appointment"
	"github.com/hackgods/care-fulfillment/internal/order"
	"github.com/hackgods/care-fulfillment/internal/prescription"
	"github.com/hackgods/care-fulfillment/internal/slot"
)

type BookAppointmentRequest struct {
	DoctorID      string `json:"doctor_id"`
	PatientID     string `json:"patient_id,omitempty"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	Mode          string `json:"mode"`
	PaymentMethod string `json:"payment_method"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

type CompleteAppointmentRequest struct {
	IssuePrescription bool   `json:"issue_prescription"`
	PrescriptionNotes string `json:"prescription_notes"`
}

type ClaimRequest struct {
	Kind           string `json:"kind"`
	PrescriptionID string `json:"prescription_id,omitempty"`
	FileName       string `json:"file_name,omitempty"`
	ContentType    string `json:"content_type,omitempty"`
	Data           []byte `json:"data,omitempty"` // base64 in JSON
}

type OrderItemRequest struct {
	MedicineID string `json:"medicine_id"`
	Quantity   int    `json:"quantity"`
}

type CheckoutRequest struct {
	PatientID     string             `json:"patient_id,omitempty"`
	Items         []OrderItemRequest `json:"items"`
	Address       order.Address      `json:"address"`
	PaymentMethod string             `json:"payment_method"`
	Prescription  *ClaimRequest      `json:"prescription,omitempty"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

type ReviewRequest struct {
	Verdict string `json:"verdict"`
}

type DoctorResponse struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Specialty string          `json:"specialty"`
	Fee       decimal.Decimal `json:"fee"`
}

type AvailabilityResponse struct {
	DoctorID uuid.UUID  `json:"doctor_id"`
	Date     string     `json:"date"`
	Slots    []SlotView `json:"slots"`
}

type SlotView struct {
	Time      string `json:"time"`
	Available bool   `json:"available"`
}

type AppointmentResponse struct {
	ID             uuid.UUID       `json:"id"`
	DoctorID       uuid.UUID       `json:"doctor_id"`
	PatientID      uuid.UUID       `json:"patient_id"`
	Date           string          `json:"date"`
	Time           string          `json:"time"`
	Mode           string          `json:"mode"`
	Fee            decimal.Decimal `json:"fee"`
	PaymentMethod  string          `json:"payment_method"`
	PaymentStatus  string          `json:"payment_status"`
	Status         string          `json:"status"`
	CancelReason   *string         `json:"cancel_reason,omitempty"`
	CancelledBy    *string         `json:"cancelled_by,omitempty"`
	RefundStatus   *string         `json:"refund_status,omitempty"`
	MeetingLink    *string         `json:"meeting_link,omitempty"`
	PrescriptionID *uuid.UUID      `json:"prescription_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

type MedicineResponse struct {
	ID                   uuid.UUID       `json:"id"`
	Name                 string          `json:"name"`
	Price                decimal.Decimal `json:"price"`
	PrescriptionRequired bool            `json:"prescription_required"`
}

type OrderResponse struct {
	ID             uuid.UUID       `json:"id"`
	PatientID      uuid.UUID       `json:"patient_id"`
	Lines          []order.Line    `json:"lines"`
	Address        order.Address   `json:"address"`
	PaymentMethod  string          `json:"payment_method"`
	PaymentStatus  string          `json:"payment_status"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DeliveryFee    decimal.Decimal `json:"delivery_fee"`
	Total          decimal.Decimal `json:"total"`
	PrescriptionID *uuid.UUID      `json:"prescription_id,omitempty"`
	Status         string          `json:"status"`
	CancelReason   *string         `json:"cancel_reason,omitempty"`
	RefundStatus   *string         `json:"refund_status,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
}

type PrescriptionResponse struct {
	ID            uuid.UUID  `json:"id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	Kind          string     `json:"kind"`
	Status        string     `json:"status"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	DoctorID      *uuid.UUID `json:"doctor_id,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	ContentType   *string    `json:"content_type,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type ReviewResponse struct {
	Prescription PrescriptionResponse `json:"prescription"`
	ParkedOrders []uuid.UUID          `json:"parked_orders"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func stringPtr[T ~string](v *T) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toDoctor(d appointment.Doctor) DoctorResponse {
	return DoctorResponse{ID: d.ID, Name: d.Name, Specialty: d.Specialty, Fee: d.Fee}
}

func toAvailability(doctorID uuid.UUID, date string, avail []slot.Availability) AvailabilityResponse {
	slots := make([]SlotView, 0, len(avail))
	for _, a := range avail {
		slots = append(slots, SlotView{Time: a.Time.String(), Available: a.Available})
	}
	return AvailabilityResponse{DoctorID: doctorID, Date: date, Slots: slots}
}

func toAppointment(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:             a.ID,
		DoctorID:       a.DoctorID,
		PatientID:      a.PatientID,
		Date:           a.Date,
		Time:           a.Time.String(),
		Mode:           string(a.Mode),
		Fee:            a.Fee,
		PaymentMethod:  string(a.PaymentMethod),
		PaymentStatus:  string(a.PaymentStatus),
		Status:         string(a.Status),
		CancelReason:   stringPtr(a.CancelReason),
		CancelledBy:    stringPtr(a.CancelledBy),
		RefundStatus:   stringPtr(a.RefundStatus),
		MeetingLink:    a.MeetingLink,
		PrescriptionID: a.PrescriptionID,
		CreatedAt:      a.CreatedAt,
		CancelledAt:    a.CancelledAt,
		CompletedAt:    a.CompletedAt,
	}
}

func toMedicine(m order.Medicine) MedicineResponse {
	return MedicineResponse{ID: m.ID, Name: m.Name, Price: m.Price, PrescriptionRequired: m.PrescriptionRequired}
}

func toOrder(o *order.Order) OrderResponse {
	return OrderResponse{
		ID:             o.ID,
		PatientID:      o.PatientID,
		Lines:          o.Lines,
		Address:        o.Address,
		PaymentMethod:  string(o.PaymentMethod),
		PaymentStatus:  string(o.PaymentStatus),
		Subtotal:       o.Subtotal,
		DeliveryFee:    o.DeliveryFee,
		Total:          o.Total,
		PrescriptionID: o.PrescriptionID,
		Status:         string(o.Status),
		CancelReason:   stringPtr(o.CancelReason),
		RefundStatus:   stringPtr(o.RefundStatus),
		CreatedAt:      o.CreatedAt,
		CancelledAt:    o.CancelledAt,
		DeliveredAt:    o.DeliveredAt,
	}
}

func toPrescription(p *prescription.Prescription) PrescriptionResponse {
	return PrescriptionResponse{
		ID:            p.ID,
		PatientID:     p.PatientID,
		Kind:          string(p.Kind),
		Status:        string(p.Status),
		AppointmentID: p.AppointmentID,
		DoctorID:      p.DoctorID,
		Notes:         p.Notes,
		ContentType:   p.ContentType,
		ExpiresAt:     p.ExpiresAt,
		ReviewedAt:    p.ReviewedAt,
		CreatedAt:     p.CreatedAt,
	}
}
