package prescription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/care-fulfillment/internal/db"
)

const prescriptionColumns = `id, patient_id, kind, status, appointment_id, doctor_id, notes,
	document_key, content_type, expires_at, reviewed_at, created_at, updated_at`

type PgRepository struct {
	db db.DBTX
}

func NewPgRepository(conn db.DBTX) *PgRepository {
	return &PgRepository{db: conn}
}

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	var kind, status string

	err := row.Scan(
		&p.ID,
		&p.PatientID,
		&kind,
		&status,
		&p.AppointmentID,
		&p.DoctorID,
		&p.Notes,
		&p.DocumentKey,
		&p.ContentType,
		&p.ExpiresAt,
		&p.ReviewedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPrescriptionNotFound
		}
		return nil, err
	}

	p.Kind = Kind(kind)
	p.Status = Status(status)
	return &p, nil
}

func collect(rows pgx.Rows) ([]Prescription, error) {
	defer rows.Close()

	var out []Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PgRepository) Insert(ctx context.Context, p Prescription) (*Prescription, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	row := r.db.QueryRow(ctx, `
		INSERT INTO prescriptions (id, patient_id, kind, status, appointment_id, doctor_id, notes,
		                           document_key, content_type, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+prescriptionColumns,
		p.ID, p.PatientID, string(p.Kind), string(p.Status), p.AppointmentID, p.DoctorID, p.Notes,
		p.DocumentKey, p.ContentType, p.ExpiresAt,
	)
	created, err := scanPrescription(row)
	if err != nil {
		return nil, fmt.Errorf("insert prescription: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+prescriptionColumns+`
		FROM prescriptions
		WHERE id = $1
	`, id)
	return scanPrescription(row)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Prescription, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+prescriptionColumns+`
		FROM prescriptions
		WHERE patient_id = $1
		ORDER BY created_at DESC
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	return collect(rows)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Prescription, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE prescriptions
		SET status = $2,
		    reviewed_at = CASE WHEN kind = 'upload' THEN $4 ELSE reviewed_at END,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+prescriptionColumns,
		id, string(to), string(from), at,
	)
	return scanPrescription(row)
}

func (r *PgRepository) ExpireDue(ctx context.Context, now time.Time) ([]Prescription, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE prescriptions
		SET status = 'expired',
		    updated_at = now()
		WHERE kind = 'digital'
		  AND status = 'active'
		  AND expires_at IS NOT NULL
		  AND expires_at < $1
		RETURNING `+prescriptionColumns,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("expire prescriptions: %w", err)
	}
	return collect(rows)
}
