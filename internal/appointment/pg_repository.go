package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/care-fulfillment/internal/db"
	"github.com/hackgods/care-fulfillment/internal/payment"
	"github.com/hackgods/care-fulfillment/internal/slot"
)

const activeSlotIndex = "appointments_active_slot_idx"

const appointmentColumns = `id, doctor_id, patient_id, to_char(appointment_date, 'YYYY-MM-DD'), slot_minute, mode,
	fee, payment_method, payment_status, settlement_ref, reservation_token,
	status, cancel_reason, cancelled_by, refund_status, meeting_link, prescription_id,
	created_at, updated_at, cancelled_at, completed_at`

type PgRepository struct {
	db db.DBTX
}

func NewPgRepository(conn db.DBTX) *PgRepository {
	return &PgRepository{db: conn}
}

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Specialty,
		&d.Fee,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	return &d, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var (
		minute                                     int
		mode, method, paymentStatus, token, status string
		reason, by, refund                         *string
	)

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.Date,
		&minute,
		&mode,
		&a.Fee,
		&method,
		&paymentStatus,
		&a.SettlementRef,
		&token,
		&status,
		&reason,
		&by,
		&refund,
		&a.MeetingLink,
		&a.PrescriptionID,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.CancelledAt,
		&a.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Time = slot.TimeOfDay(minute)
	a.Mode = Mode(mode)
	a.PaymentMethod = payment.Method(method)
	a.PaymentStatus = payment.Status(paymentStatus)
	a.ReservationToken = slot.Token(token)
	a.Status = Status(status)
	if reason != nil {
		r := CancelReason(*reason)
		a.CancelReason = &r
	}
	if by != nil {
		i := Initiator(*by)
		a.CancelledBy = &i
	}
	if refund != nil {
		rs := payment.RefundStatus(*refund)
		a.RefundStatus = &rs
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Interface methods

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, specialty, fee, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, specialty, fee, created_at, updated_at
		FROM doctors
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY appointment_date DESC, slot_minute DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		ORDER BY appointment_date DESC, slot_minute DESC
		LIMIT $2 OFFSET $3
	`, doctorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListHeld(ctx context.Context, doctorID uuid.UUID, date string) ([]Appointment, error) {
	d, err := db.DateParam(date)
	if err != nil {
		return nil, fmt.Errorf("appointment date: %w", err)
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1 AND appointment_date = $2 AND status <> 'cancelled'
		ORDER BY slot_minute
	`, doctorID, d)
	if err != nil {
		return nil, fmt.Errorf("list held slots: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListUpcoming(ctx context.Context, from string) ([]Appointment, error) {
	d, err := db.DateParam(from)
	if err != nil {
		return nil, fmt.Errorf("appointment date: %w", err)
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'upcoming' AND appointment_date >= $1
		ORDER BY appointment_date, slot_minute
	`, d)
	if err != nil {
		return nil, fmt.Errorf("list upcoming appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) Create(ctx context.Context, a Appointment) (*Appointment, error) {
	date, err := db.DateParam(a.Date)
	if err != nil {
		return nil, fmt.Errorf("appointment date: %w", err)
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, appointment_date, slot_minute, mode,
		                          fee, payment_method, payment_status, settlement_ref, reservation_token,
		                          status, meeting_link, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'upcoming', $12, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.DoctorID, a.PatientID, date, int(a.Time), string(a.Mode),
		a.Fee, string(a.PaymentMethod), string(a.PaymentStatus), a.SettlementRef, string(a.ReservationToken),
		a.MeetingLink,
	)

	created, err := scanAppointment(row)
	if err != nil {
		if db.IsUniqueViolation(err, activeSlotIndex) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) MarkCancelled(ctx context.Context, id uuid.UUID, reason CancelReason, by Initiator, at time.Time) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
		    cancel_reason = $2,
		    cancelled_by = $3,
		    cancelled_at = $4,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'upcoming'
		RETURNING `+appointmentColumns,
		id, string(reason), string(by), at,
	)
	return scanAppointment(row)
}

func (r *PgRepository) MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'completed',
		    completed_at = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'upcoming'
		RETURNING `+appointmentColumns,
		id, at,
	)
	return scanAppointment(row)
}

func (r *PgRepository) SetRefundStatus(ctx context.Context, id uuid.UUID, status payment.RefundStatus) error {
	ct, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET refund_status = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, string(status))
	if err != nil {
		return fmt.Errorf("set refund status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) SetPrescription(ctx context.Context, id, prescriptionID uuid.UUID) error {
	ct, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET prescription_id = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, prescriptionID)
	if err != nil {
		return fmt.Errorf("set prescription: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}
