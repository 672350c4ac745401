package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/care-fulfillment/internal/payment"
	"github.com/hackgods/care-fulfillment/internal/prescription"
)

type Status string

const (
	StatusPending           Status = "pending"
	StatusNeedsPrescription Status = "needs_prescription"
	StatusProcessing        Status = "processing"
	StatusShipped           Status = "shipped"
	StatusDelivered         Status = "delivered"
	StatusCancelled         Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:           {StatusProcessing, StatusCancelled, StatusNeedsPrescription},
	StatusNeedsPrescription: {StatusPending, StatusCancelled},
	StatusProcessing:        {StatusShipped, StatusCancelled, StatusNeedsPrescription},
	StatusShipped:           {StatusDelivered},
	StatusDelivered:         {},
	StatusCancelled:         {},
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// next is the single forward fulfilment step from s.
var next = map[Status]Status{
	StatusPending:    StatusProcessing,
	StatusProcessing: StatusShipped,
	StatusShipped:    StatusDelivered,
}

type CancelReason string

const (
	ReasonChangedMind      CancelReason = "changed_mind"
	ReasonBetterPrice      CancelReason = "better_price"
	ReasonOrderedByMistake CancelReason = "ordered_by_mistake"
	ReasonDeliveryTooLong  CancelReason = "delivery_too_long"
	ReasonOther            CancelReason = "other"
)

func (r CancelReason) Valid() bool {
	switch r {
	case ReasonChangedMind, ReasonBetterPrice, ReasonOrderedByMistake, ReasonDeliveryTooLong, ReasonOther:
		return true
	}
	return false
}

type Medicine struct {
	ID                   uuid.UUID
	Name                 string
	Price                decimal.Decimal
	PrescriptionRequired bool
	CreatedAt            time.Time
}

type Line struct {
	MedicineID           uuid.UUID       `json:"medicine_id"`
	Name                 string          `json:"name"`
	Quantity             int             `json:"quantity"`
	UnitPrice            decimal.Decimal `json:"unit_price"`
	PrescriptionRequired bool            `json:"prescription_required"`
}

func (l Line) NeedsPrescription() bool { return l.PrescriptionRequired }

func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Address struct {
	Recipient string `json:"recipient"`
	Phone     string `json:"phone"`
	Street    string `json:"street"`
	City      string `json:"city"`
}

func (a Address) Complete() bool {
	return a.Recipient != "" && a.Phone != "" && a.Street != "" && a.City != ""
}

type Order struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	Lines     []Line
	Address   Address

	PaymentMethod payment.Method
	Subtotal      decimal.Decimal
	DeliveryFee   decimal.Decimal
	Total         decimal.Decimal
	PaymentStatus payment.Status
	SettlementRef string

	PrescriptionID *uuid.UUID
	Status         Status
	CancelReason   *CancelReason
	RefundStatus   *payment.RefundStatus

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CancelledAt *time.Time
	DeliveredAt *time.Time
}

func (o Order) RequiresPrescription() bool {
	return prescription.RequiresPrescription(o.Lines)
}

type Item struct {
	MedicineID uuid.UUID
	Quantity   int
}

type CheckoutCommand struct {
	PatientID     uuid.UUID // ignored for patients, who always order for themselves
	Items         []Item
	Address       Address
	PaymentMethod string
	Prescription  *prescription.Claim
}
