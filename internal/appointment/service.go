package appointment

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
	"github.com/hackgods/care-fulfillment/internal/slot"
)

var (
	ErrSlotUnavailable   = errors.New("slot is not available")
	ErrPaymentFailed     = errors.New("payment failed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrScheduledInPast   = errors.New("appointment time is in the past")
	ErrInvalidInput      = errors.New("invalid input")
)

var tracer = otel.Tracer("github.com/hackgods/care-fulfillment/internal/appointment")

// Settler is the payment side of booking and cancellation.
type Settler interface {
	Settle(ctx context.Context, req payment.SettleRequest) (payment.SettlementResult, error)
	Reverse(ctx context.Context, reference string, amount decimal.Decimal) (payment.ReversalResult, error)
}

// PrescriptionIssuer writes the digital prescription for a finished
// consultation.
type PrescriptionIssuer interface {
	IssueDigital(ctx context.Context, patientID, doctorID, appointmentID uuid.UUID, notes string) (*prescription.Prescription, error)
}

type Deps struct {
	Repo          Repository
	Slots         slot.Registry
	Payments      Settler
	Prescriptions PrescriptionIssuer
	Meetings      MeetingLinkProvider
	Events        notify.Emitter
	Logger        *zap.Logger
	Metrics       *metrics.Collector
	Location      *time.Location
	Currency      string
}

type Service struct {
	repo          Repository
	slots         slot.Registry
	payments      Settler
	prescriptions PrescriptionIssuer
	meetings      MeetingLinkProvider
	events        notify.Emitter
	logger        *zap.Logger
	metrics       *metrics.Collector
	loc           *time.Location
	currency      string
	now           func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		repo:          d.Repo,
		slots:         d.Slots,
		payments:      d.Payments,
		prescriptions: d.Prescriptions,
		meetings:      d.Meetings,
		events:        d.Events,
		logger:        d.Logger,
		metrics:       d.Metrics,
		loc:           d.Location,
		currency:      d.Currency,
		now:           time.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.events == nil {
		s.events = notify.NewLogEmitter(s.logger)
	}
	if s.loc == nil {
		s.loc = time.UTC
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

// Book reserves the slot, settles the fee and commits an upcoming
// appointment. Any failure after the reservation releases it.
func (s *Service) Book(ctx context.Context, sess session.Session, cmd BookCommand) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.Book")
	defer span.End()

	appt, outcome, err := s.book(ctx, sess, cmd)
	s.metrics.Booking(outcome)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.String("appointment.id", appt.ID.String()))
	return appt, nil
}

func (s *Service) book(ctx context.Context, sess session.Session, cmd BookCommand) (*Appointment, string, error) {
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

	date, err := slot.ParseDate(cmd.Date)
	if err != nil {
		return nil, "invalid", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	tod, err := slot.ParseTimeOfDay(cmd.Time)
	if err != nil {
		return nil, "invalid", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if !cmd.Mode.Valid() {
		return nil, "invalid", fmt.Errorf("%w: mode must be video or in-person", ErrInvalidInput)
	}
	method, err := payment.ParseMethod(cmd.PaymentMethod)
	if err != nil || !method.Prepaid() {
		return nil, "invalid", fmt.Errorf("%w: appointments are paid by card, jazzcash or easypaisa", ErrInvalidInput)
	}

	doctor, err := s.repo.GetDoctorByID(ctx, cmd.DoctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, "invalid", err
		}
		return nil, "error", fmt.Errorf("load doctor: %w", err)
	}

	key := slot.Key{DoctorID: doctor.ID, Date: date, Time: tod}
	start, err := key.StartsAt(s.loc)
	if err != nil {
		return nil, "invalid", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if !start.After(s.now()) {
		return nil, "scheduled_in_past", ErrScheduledInPast
	}

	token, err := s.slots.Reserve(ctx, key)
	switch {
	case errors.Is(err, slot.ErrSlotConflict):
		s.metrics.SlotConflict()
		return nil, "slot_unavailable", ErrSlotUnavailable
	case errors.Is(err, slot.ErrSlotInPast):
		return nil, "scheduled_in_past", ErrScheduledInPast
	case errors.Is(err, slot.ErrOffGrid):
		return nil, "invalid", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	case err != nil:
		return nil, "error", fmt.Errorf("reserve slot: %w", err)
	}

	// A registry that lost its holds would hand out a booked slot; check
	// storage before any money moves.
	booked, err := s.repo.ListHeld(ctx, key.DoctorID, key.Date)
	if err != nil {
		s.release(ctx, token)
		return nil, "error", fmt.Errorf("list held slots: %w", err)
	}
	for _, a := range booked {
		if a.Time == key.Time {
			s.release(ctx, token)
			s.metrics.SlotConflict()
			return nil, "slot_unavailable", ErrSlotUnavailable
		}
	}

	id := uuid.New()
	settlement, err := s.payments.Settle(ctx, payment.SettleRequest{
		IdempotencyKey: id.String(),
		PayerID:        patientID,
		Amount:         doctor.Fee,
		Currency:       s.currency,
		Method:         method,
		Purpose:        "appointment",
	})
	if err != nil {
		s.release(ctx, token)
		return nil, "payment_failed", fmt.Errorf("%w: %w", ErrPaymentFailed, err)
	}

	var link *string
	if cmd.Mode == ModeVideo && s.meetings != nil {
		l, err := s.meetings.MeetingLink(ctx, id)
		if err != nil {
			s.logger.Warn("meeting link unavailable", zap.String("appointment_id", id.String()), zap.Error(err))
		} else {
			link = &l
		}
	}

	appt, err := s.repo.Create(ctx, Appointment{
		ID:               id,
		DoctorID:         doctor.ID,
		PatientID:        patientID,
		Date:             date,
		Time:             tod,
		Mode:             cmd.Mode,
		Fee:              doctor.Fee,
		PaymentMethod:    method,
		PaymentStatus:    settlement.Status,
		SettlementRef:    settlement.Reference,
		ReservationToken: token,
		MeetingLink:      link,
	})
	if err != nil {
		s.reverse(ctx, id, settlement.Reference, doctor.Fee)
		s.release(ctx, token)
		if errors.Is(err, ErrSlotTaken) {
			s.metrics.SlotConflict()
			return nil, "slot_unavailable", ErrSlotUnavailable
		}
		return nil, "error", fmt.Errorf("create appointment: %w", err)
	}

	s.metrics.Transition("appointment", string(StatusUpcoming))
	s.logger.Info("appointment booked",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("doctor_id", appt.DoctorID.String()),
		zap.String("slot", key.String()),
	)
	s.events.Emit(ctx, notify.NewEvent(notify.EventAppointmentBooked, "appointment", appt.ID, appt.PatientID, map[string]any{
		"doctor_id":    appt.DoctorID.String(),
		"date":         appt.Date,
		"time":         appt.Time.String(),
		"mode":         string(appt.Mode),
		"fee":          appt.Fee.String(),
		"meeting_link": link,
	}))
	return appt, "confirmed", nil
}

// Cancel moves an upcoming appointment to cancelled, frees the slot and
// refunds the fee once.
func (s *Service) Cancel(ctx context.Context, sess session.Session, id uuid.UUID, cmd CancelCommand) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.Cancel", trace.WithAttributes(attribute.String("appointment.id", id.String())))
	defer span.End()

	if !cmd.Reason.Valid() {
		return nil, fail(span, fmt.Errorf("%w: unknown cancellation reason %q", ErrInvalidInput, cmd.Reason))
	}

	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fail(span, err)
	}

	var by Initiator
	switch {
	case sess.Role.Staff():
		by = InitiatorSystem
	case sess.Role == session.RolePatient && sess.UserID == appt.PatientID:
		by = InitiatorPatient
	case sess.Role == session.RoleDoctor && sess.UserID == appt.DoctorID:
		by = InitiatorDoctor
	default:
		return nil, fail(span, session.ErrForbidden)
	}

	if !appt.Status.CanTransitionTo(StatusCancelled) {
		return nil, fail(span, fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, appt.Status))
	}

	cancelled, err := s.repo.MarkCancelled(ctx, id, cmd.Reason, by, s.now())
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, fail(span, fmt.Errorf("%w: appointment changed concurrently", ErrInvalidTransition))
	}
	if err != nil {
		return nil, fail(span, fmt.Errorf("cancel appointment: %w", err))
	}
	s.metrics.Transition("appointment", string(StatusCancelled))

	s.release(ctx, cancelled.ReservationToken)

	refund := s.reverse(ctx, cancelled.ID, cancelled.SettlementRef, cancelled.Fee)
	if err := s.repo.SetRefundStatus(ctx, cancelled.ID, refund); err != nil {
		s.logger.Error("failed to record refund status",
			zap.String("appointment_id", cancelled.ID.String()),
			zap.String("refund_status", string(refund)),
			zap.Error(err),
		)
	}
	cancelled.RefundStatus = &refund

	s.events.Emit(ctx, notify.NewEvent(notify.EventAppointmentCancelled, "appointment", cancelled.ID, cancelled.PatientID, map[string]any{
		"reason":        string(cmd.Reason),
		"cancelled_by":  string(by),
		"refund_status": string(refund),
	}))
	if refund == payment.RefundRefunded {
		s.events.Emit(ctx, notify.NewEvent(notify.EventRefundIssued, "appointment", cancelled.ID, cancelled.PatientID, map[string]any{
			"amount":   cancelled.Fee.String(),
			"currency": s.currency,
		}))
	}
	return cancelled, nil
}

// Complete closes an upcoming appointment once its scheduled time has come,
// optionally issuing a digital prescription.
func (s *Service) Complete(ctx context.Context, sess session.Session, id uuid.UUID, cmd CompleteCommand) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.Complete", trace.WithAttributes(attribute.String("appointment.id", id.String())))
	defer span.End()

	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fail(span, err)
	}
	if !(sess.Role.Staff() || (sess.Role == session.RoleDoctor && sess.UserID == appt.DoctorID)) {
		return nil, fail(span, session.ErrForbidden)
	}
	if !appt.Status.CanTransitionTo(StatusCompleted) {
		return nil, fail(span, fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, appt.Status))
	}
	start, err := appt.Key().StartsAt(s.loc)
	if err != nil {
		return nil, fail(span, err)
	}
	now := s.now()
	if now.Before(start) {
		return nil, fail(span, fmt.Errorf("%w: consultation has not started", ErrInvalidTransition))
	}

	completed, err := s.repo.MarkCompleted(ctx, id, now)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, fail(span, fmt.Errorf("%w: appointment changed concurrently", ErrInvalidTransition))
	}
	if err != nil {
		return nil, fail(span, fmt.Errorf("complete appointment: %w", err))
	}
	s.metrics.Transition("appointment", string(StatusCompleted))

	payload := map[string]any{}
	if cmd.IssuePrescription && s.prescriptions != nil {
		rx, err := s.prescriptions.IssueDigital(ctx, completed.PatientID, completed.DoctorID, completed.ID, cmd.PrescriptionNotes)
		switch {
		case err != nil:
			s.logger.Error("failed to issue prescription", zap.String("appointment_id", completed.ID.String()), zap.Error(err))
		default:
			if err := s.repo.SetPrescription(ctx, completed.ID, rx.ID); err != nil {
				s.logger.Error("failed to link prescription", zap.String("appointment_id", completed.ID.String()), zap.Error(err))
			}
			completed.PrescriptionID = &rx.ID
			payload["prescription_id"] = rx.ID.String()
		}
	}

	s.events.Emit(ctx, notify.NewEvent(notify.EventAppointmentCompleted, "appointment", completed.ID, completed.PatientID, payload))
	return completed, nil
}

func (s *Service) Get(ctx context.Context, sess session.Session, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !(sess.Owns(appt.PatientID) || sess.UserID == appt.DoctorID) {
		return nil, session.ErrForbidden
	}
	return appt, nil
}

// List returns the caller's own appointments: a patient's bookings or a
// doctor's schedule.
func (s *Service) List(ctx context.Context, sess session.Session, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	switch sess.Role {
	case session.RolePatient:
		return s.repo.ListByPatient(ctx, sess.UserID, limit, offset)
	case session.RoleDoctor:
		return s.repo.ListByDoctor(ctx, sess.UserID, limit, offset)
	default:
		return nil, session.ErrForbidden
	}
}

func (s *Service) Availability(ctx context.Context, doctorID uuid.UUID, date string) ([]slot.Availability, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}
	date, err := slot.ParseDate(date)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	avail, err := s.slots.CheckAvailability(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}

	// The registry can lose holds (restart, flush); stored bookings still win.
	booked, err := s.repo.ListHeld(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list held slots: %w", err)
	}
	taken := make(map[slot.TimeOfDay]bool, len(booked))
	for _, a := range booked {
		taken[a.Time] = true
	}
	for i := range avail {
		if taken[avail[i].Time] {
			avail[i].Available = false
		}
	}
	return avail, nil
}

// RestoreSlots re-holds the slot of every upcoming appointment in the
// registry. Run it at startup so a fresh or flushed registry agrees with
// storage.
func (s *Service) RestoreSlots(ctx context.Context) (int, error) {
	from := s.now().In(s.loc).Format(slot.DateLayout)
	upcoming, err := s.repo.ListUpcoming(ctx, from)
	if err != nil {
		return 0, fmt.Errorf("list upcoming appointments: %w", err)
	}

	restored := 0
	for _, a := range upcoming {
		token := a.ReservationToken
		if token == "" {
			token = slot.NewToken(a.Key())
		}
		if err := s.slots.Restore(ctx, a.Key(), token); err != nil {
			s.logger.Warn("could not restore slot hold",
				zap.String("appointment_id", a.ID.String()),
				zap.String("slot", a.Key().String()),
				zap.Error(err),
			)
			continue
		}
		restored++
	}
	s.logger.Info("slot holds restored", zap.Int("appointments", len(upcoming)), zap.Int("restored", restored))
	return restored, nil
}

func (s *Service) ListDoctors(ctx context.Context) ([]Doctor, error) {
	return s.repo.ListDoctors(ctx)
}

func (s *Service) release(ctx context.Context, token slot.Token) {
	if token == "" {
		return
	}
	if err := s.slots.Release(context.WithoutCancel(ctx), token); err != nil {
		s.logger.Error("failed to release slot", zap.String("token", string(token)), zap.Error(err))
	}
}

// reverse refunds a settlement and reports the resulting refund status.
// Failures are logged and counted; they never fail the caller.
func (s *Service) reverse(ctx context.Context, id uuid.UUID, reference string, amount decimal.Decimal) payment.RefundStatus {
	if reference == "" {
		return payment.RefundNotRefunded
	}
	if _, err := s.payments.Reverse(context.WithoutCancel(ctx), reference, amount); err != nil {
		s.metrics.Refund("appointment", string(payment.RefundFailed))
		s.logger.Error("refund failed",
			zap.String("appointment_id", id.String()),
			zap.String("settlement_ref", reference),
			zap.String("amount", amount.String()),
			zap.Error(err),
		)
		return payment.RefundFailed
	}
	s.metrics.Refund("appointment", string(payment.RefundRefunded))
	return payment.RefundRefunded
}
