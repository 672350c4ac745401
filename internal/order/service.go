package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/care-fulfillment/internal/metrics"
	"github.com/hackgods/care-fulfillment/internal/notify"
	"github.com/hackgods/care-fulfillment/internal/payment"
	"github.com/hackgods/care-fulfillment/internal/prescription"
	"github.com/hackgods/care-fulfillment/internal/session"
)

var (
	ErrPaymentFailed     = errors.New("payment failed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidInput      = errors.New("invalid input")
)

var tracer = otel.Tracer("github.com/hackgods/care-fulfillment/internal/order")

type Settler interface {
	Settle(ctx context.Context, req payment.SettleRequest) (payment.SettlementResult, error)
	Reverse(ctx context.Context, reference string, amount decimal.Decimal) (payment.ReversalResult, error)
}

// PrescriptionGate checks and resolves claims and looks up the references
// orders hold.
type PrescriptionGate interface {
	Check(ctx context.Context, patientID uuid.UUID, claim prescription.Claim) (*prescription.Prescription, error)
	Resolve(ctx context.Context, patientID uuid.UUID, claim prescription.Claim) (*prescription.Prescription, error)
	Get(ctx context.Context, id uuid.UUID) (*prescription.Prescription, error)
}

type Deps struct {
	Repo     Repository
	Gate     PrescriptionGate
	Payments Settler
	Events   notify.Emitter
	Logger   *zap.Logger
	Metrics  *metrics.Collector
	Pricing  Pricing
	Currency string
}

type Service struct {
	repo     Repository
	gate     PrescriptionGate
	payments Settler
	events   notify.Emitter
	logger   *zap.Logger
	metrics  *metrics.Collector
	pricing  Pricing
	currency string
	now      func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		repo:     d.Repo,
		gate:     d.Gate,
		payments: d.Payments,
		events:   d.Events,
		logger:   d.Logger,
		metrics:  d.Metrics,
		pricing:  d.Pricing,
		currency: d.Currency,
		now:      time.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.events == nil {
		s.events = notify.NewLogEmitter(s.logger)
	}
	if s.pricing == (Pricing{}) {
		s.pricing = DefaultPricing()
	}
	if s.currency == "" {
		s.currency = "PKR"
	}
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Checkout prices the cart, settles the total and commits the order. Orders
// whose prescription claim is missing or unusable are committed parked in
// needs_prescription rather than rejected.
func (s *Service) Checkout(ctx context.Context, sess session.Session, cmd CheckoutCommand) (*Order, error) {
	ctx, span := tracer.Start(ctx, "order.Checkout")
	defer span.End()

	o, outcome, err := s.checkout(ctx, sess, cmd)
	s.metrics.Checkout(outcome)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(
		attribute.String("order.id", o.ID.String()),
		attribute.String("order.status", string(o.Status)),
	)
	return o, nil
}

func (s *Service) checkout(ctx context.Context, sess session.Session, cmd CheckoutCommand) (*Order, string, error) {
	patientID := cmd.PatientID
	switch {
	case sess.Role == session.RolePatient:
		patientID = sess.UserID
	case sess.Role.Staff():
		if patientID == uuid.Nil {
			return nil, "invalid", fmt.Errorf("%w: patient id is required", ErrInvalidInput)
		}
	default:
		return nil, "forbidden", session.ErrForbidden
	}

	if len(cmd.Items) == 0 {
		return nil, "invalid", fmt.Errorf("%w: cart is empty", ErrInvalidInput)
	}
	if !cmd.Address.Complete() {
		return nil, "invalid", fmt.Errorf("%w: delivery address is incomplete", ErrInvalidInput)
	}
	method, err := payment.ParseMethod(cmd.PaymentMethod)
	if err != nil {
		return nil, "invalid", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	lines := make([]Line, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		if item.Quantity <= 0 {
			return nil, "invalid", fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
		}
		med, err := s.repo.GetMedicine(ctx, item.MedicineID)
		if errors.Is(err, ErrMedicineNotFound) {
			return nil, "invalid", fmt.Errorf("%w: medicine %s not found", ErrInvalidInput, item.MedicineID)
		}
		if err != nil {
			return nil, "error", fmt.Errorf("load medicine: %w", err)
		}
		lines = append(lines, Line{
			MedicineID:           med.ID,
			Name:                 med.Name,
			Quantity:             item.Quantity,
			UnitPrice:            med.Price,
			PrescriptionRequired: med.PrescriptionRequired,
		})
	}
	quote := s.pricing.Quote(lines)

	// Uploads are only checked here. The document and its reference are
	// written after settlement so a declined payment leaves nothing behind.
	status := StatusPending
	var rxID *uuid.UUID
	var upload *prescription.Claim
	if prescription.RequiresPrescription(lines) {
		status = StatusNeedsPrescription
		if cmd.Prescription != nil {
			rx, err := s.gate.Check(ctx, patientID, *cmd.Prescription)
			switch {
			case errors.Is(err, prescription.ErrInvalidPrescription):
				s.logger.Info("prescription claim not accepted, parking order",
					zap.String("patient_id", patientID.String()),
					zap.Error(err),
				)
			case err != nil:
				return nil, "error", fmt.Errorf("check prescription: %w", err)
			case rx == nil:
				upload = cmd.Prescription
				status = StatusPending
			default:
				rxID = &rx.ID
				status = StatusPending
			}
		}
	}

	id := uuid.New()
	settlement, err := s.payments.Settle(ctx, payment.SettleRequest{
		IdempotencyKey: id.String(),
		PayerID:        patientID,
		Amount:         quote.Total,
		Currency:       s.currency,
		Method:         method,
		Purpose:        "order",
	})
	if err != nil {
		return nil, "payment_failed", fmt.Errorf("%w: %w", ErrPaymentFailed, err)
	}

	if upload != nil {
		rx, err := s.gate.Resolve(ctx, patientID, *upload)
		if err != nil {
			s.reverse(ctx, id, settlement.Reference, quote.Total)
			return nil, "error", fmt.Errorf("record prescription: %w", err)
		}
		rxID = &rx.ID
	}

	o, err := s.repo.Create(ctx, Order{
		ID:             id,
		PatientID:      patientID,
		Lines:          lines,
		Address:        cmd.Address,
		PaymentMethod:  method,
		Subtotal:       quote.Subtotal,
		DeliveryFee:    quote.DeliveryFee,
		Total:          quote.Total,
		PaymentStatus:  settlement.Status,
		SettlementRef:  settlement.Reference,
		PrescriptionID: rxID,
		Status:         status,
	})
	if err != nil {
		s.reverse(ctx, id, settlement.Reference, quote.Total)
		return nil, "error", fmt.Errorf("create order: %w", err)
	}

	s.metrics.Transition("order", string(o.Status))
	s.logger.Info("order placed",
		zap.String("order_id", o.ID.String()),
		zap.String("status", string(o.Status)),
		zap.String("total", o.Total.String()),
	)
	s.events.Emit(ctx, notify.NewEvent(notify.EventOrderPlaced, "order", o.ID, o.PatientID, map[string]any{
		"subtotal":       o.Subtotal.String(),
		"delivery_fee":   o.DeliveryFee.String(),
		"total":          o.Total.String(),
		"payment_method": string(o.PaymentMethod),
		"status":         string(o.Status),
	}))
	if o.Status == StatusNeedsPrescription {
		s.events.Emit(ctx, notify.NewEvent(notify.EventOrderPrescriptionRequired, "order", o.ID, o.PatientID, nil))
		return o, "parked", nil
	}
	return o, "placed", nil
}

// AttachPrescription releases a parked order back to pending once the
// patient supplies a usable prescription.
func (s *Service) AttachPrescription(ctx context.Context, sess session.Session, id uuid.UUID, claim prescription.Claim) (*Order, error) {
	ctx, span := tracer.Start(ctx, "order.AttachPrescription", trace.WithAttributes(attribute.String("order.id", id.String())))
	defer span.End()

	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fail(span, err)
	}
	if !sess.Owns(o.PatientID) {
		return nil, fail(span, session.ErrForbidden)
	}
	if o.Status != StatusNeedsPrescription {
		return nil, fail(span, fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status))
	}

	rx, err := s.gate.Resolve(ctx, o.PatientID, claim)
	if err != nil {
		return nil, fail(span, err)
	}

	updated, err := s.repo.AttachPrescription(ctx, id, rx.ID)
	if errors.Is(err, ErrOrderNotFound) {
		return nil, fail(span, fmt.Errorf("%w: order changed concurrently", ErrInvalidTransition))
	}
	if err != nil {
		return nil, fail(span, fmt.Errorf("attach prescription: %w", err))
	}
	s.metrics.Transition("order", string(StatusPending))
	s.logger.Info("prescription attached",
		zap.String("order_id", id.String()),
		zap.String("prescription_id", rx.ID.String()),
	)
	return updated, nil
}

var advanceEvents = map[Status]notify.EventType{
	StatusProcessing: notify.EventOrderProcessing,
	StatusShipped:    notify.EventOrderShipped,
	StatusDelivered:  notify.EventOrderDelivered,
}

// Advance moves an order one step along pending, processing, shipped,
// delivered.
func (s *Service) Advance(ctx context.Context, sess session.Session, id uuid.UUID) (*Order, error) {
	ctx, span := tracer.Start(ctx, "order.Advance", trace.WithAttributes(attribute.String("order.id", id.String())))
	defer span.End()

	if !(sess.Role.Staff() || sess.Role == session.RolePharmacist) {
		return nil, fail(span, session.ErrForbidden)
	}

	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fail(span, err)
	}
	to, ok := next[o.Status]
	if !ok {
		return nil, fail(span, fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status))
	}

	if o.Status == StatusPending && o.RequiresPrescription() {
		if o.PrescriptionID == nil {
			return nil, fail(span, fmt.Errorf("%w: prescription missing", ErrInvalidTransition))
		}
		rx, err := s.gate.Get(ctx, *o.PrescriptionID)
		if err != nil {
			return nil, fail(span, fmt.Errorf("load prescription: %w", err))
		}
		if rx.Blocks(s.now()) {
			return nil, fail(span, fmt.Errorf("%w: prescription is %s", prescription.ErrInvalidPrescription, rx.Status))
		}
	}

	updated, err := s.repo.UpdateStatus(ctx, id, o.Status, to, s.now())
	if errors.Is(err, ErrOrderNotFound) {
		return nil, fail(span, fmt.Errorf("%w: order changed concurrently", ErrInvalidTransition))
	}
	if err != nil {
		return nil, fail(span, fmt.Errorf("advance order: %w", err))
	}

	s.metrics.Transition("order", string(to))
	s.logger.Info("order advanced",
		zap.String("order_id", id.String()),
		zap.String("from", string(o.Status)),
		zap.String("to", string(to)),
	)
	s.events.Emit(ctx, notify.NewEvent(advanceEvents[to], "order", updated.ID, updated.PatientID, nil))
	return updated, nil
}

// Cancel stops an order that has not shipped and refunds its settlement once.
func (s *Service) Cancel(ctx context.Context, sess session.Session, id uuid.UUID, reason CancelReason) (*Order, error) {
	ctx, span := tracer.Start(ctx, "order.Cancel", trace.WithAttributes(attribute.String("order.id", id.String())))
	defer span.End()

	if !reason.Valid() {
		return nil, fail(span, fmt.Errorf("%w: unknown cancellation reason %q", ErrInvalidInput, reason))
	}

	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fail(span, err)
	}
	if !(sess.Owns(o.PatientID) || sess.Role == session.RolePharmacist) {
		return nil, fail(span, session.ErrForbidden)
	}
	if !o.Status.CanTransitionTo(StatusCancelled) {
		return nil, fail(span, fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status))
	}

	cancelled, err := s.repo.MarkCancelled(ctx, id, o.Status, reason, s.now())
	if errors.Is(err, ErrOrderNotFound) {
		return nil, fail(span, fmt.Errorf("%w: order changed concurrently", ErrInvalidTransition))
	}
	if err != nil {
		return nil, fail(span, fmt.Errorf("cancel order: %w", err))
	}
	s.metrics.Transition("order", string(StatusCancelled))

	refund := s.reverse(ctx, cancelled.ID, cancelled.SettlementRef, cancelled.Total)
	if err := s.repo.SetRefundStatus(ctx, cancelled.ID, refund); err != nil {
		s.logger.Error("failed to record refund status",
			zap.String("order_id", cancelled.ID.String()),
			zap.String("refund_status", string(refund)),
			zap.Error(err),
		)
	}
	cancelled.RefundStatus = &refund

	s.events.Emit(ctx, notify.NewEvent(notify.EventOrderCancelled, "order", cancelled.ID, cancelled.PatientID, map[string]any{
		"reason":        string(reason),
		"refund_status": string(refund),
	}))
	if refund == payment.RefundRefunded {
		s.events.Emit(ctx, notify.NewEvent(notify.EventRefundIssued, "order", cancelled.ID, cancelled.PatientID, map[string]any{
			"amount":   cancelled.Total.String(),
			"currency": s.currency,
		}))
	}
	return cancelled, nil
}

// HandlePrescriptionReview parks every open order that relies on a
// prescription which can no longer back it. It returns the parked orders.
func (s *Service) HandlePrescriptionReview(ctx context.Context, rx prescription.Prescription) ([]Order, error) {
	ctx, span := tracer.Start(ctx, "order.HandlePrescriptionReview", trace.WithAttributes(attribute.String("prescription.id", rx.ID.String())))
	defer span.End()

	if !rx.Blocks(s.now()) {
		return nil, nil
	}

	open, err := s.repo.ListByPrescription(ctx, rx.ID, StatusPending, StatusProcessing)
	if err != nil {
		return nil, fail(span, fmt.Errorf("list orders by prescription: %w", err))
	}

	var parked []Order
	for _, o := range open {
		updated, err := s.repo.UpdateStatus(ctx, o.ID, o.Status, StatusNeedsPrescription, s.now())
		if errors.Is(err, ErrOrderNotFound) {
			continue
		}
		if err != nil {
			return parked, fail(span, fmt.Errorf("park order %s: %w", o.ID, err))
		}
		s.metrics.Transition("order", string(StatusNeedsPrescription))
		s.logger.Info("order parked after prescription review",
			zap.String("order_id", o.ID.String()),
			zap.String("prescription_id", rx.ID.String()),
			zap.String("prescription_status", string(rx.Status)),
		)
		s.events.Emit(ctx, notify.NewEvent(notify.EventOrderPrescriptionRequired, "order", updated.ID, updated.PatientID, map[string]any{
			"prescription_id": rx.ID.String(),
		}))
		parked = append(parked, *updated)
	}
	return parked, nil
}

func (s *Service) Get(ctx context.Context, sess session.Session, id uuid.UUID) (*Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !(sess.Owns(o.PatientID) || sess.Role == session.RolePharmacist) {
		return nil, session.ErrForbidden
	}
	return o, nil
}

func (s *Service) List(ctx context.Context, sess session.Session, limit, offset int) ([]Order, error) {
	if sess.Role != session.RolePatient {
		return nil, session.ErrForbidden
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByPatient(ctx, sess.UserID, limit, offset)
}

func (s *Service) ListMedicines(ctx context.Context) ([]Medicine, error) {
	return s.repo.ListMedicines(ctx)
}

func (s *Service) reverse(ctx context.Context, id uuid.UUID, reference string, amount decimal.Decimal) payment.RefundStatus {
	if reference == "" {
		return payment.RefundNotRefunded
	}
	if _, err := s.payments.Reverse(context.WithoutCancel(ctx), reference, amount); err != nil {
		s.metrics.Refund("order", string(payment.RefundFailed))
		s.logger.Error("refund failed",
			zap.String("order_id", id.String()),
			zap.String("settlement_ref", reference),
			zap.String("amount", amount.String()),
			zap.Error(err),
		)
		return payment.RefundFailed
	}
	s.metrics.Refund("order", string(payment.RefundRefunded))
	return payment.RefundRefunded
}
