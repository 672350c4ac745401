package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/care-fulfillment/internal/db"
	"github.com/hackgods/care-fulfillment/internal/payment"
)

const orderColumns = `id, patient_id, lines, address, payment_method,
	subtotal, delivery_fee, total, payment_status, settlement_ref,
	prescription_id, status, cancel_reason, refund_status,
	created_at, updated_at, cancelled_at, delivered_at`

type PgRepository struct {
	db db.DBTX
}

func NewPgRepository(conn db.DBTX) *PgRepository {
	return &PgRepository{db: conn}
}

func scanMedicine(row pgx.Row) (*Medicine, error) {
	var m Medicine
	err := row.Scan(&m.ID, &m.Name, &m.Price, &m.PrescriptionRequired, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMedicineNotFound
		}
		return nil, err
	}
	return &m, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var (
		lines, address                []byte
		method, paymentStatus, status string
		reason, refund                *string
	)

	err := row.Scan(
		&o.ID,
		&o.PatientID,
		&lines,
		&address,
		&method,
		&o.Subtotal,
		&o.DeliveryFee,
		&o.Total,
		&paymentStatus,
		&o.SettlementRef,
		&o.PrescriptionID,
		&status,
		&reason,
		&refund,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.CancelledAt,
		&o.DeliveredAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(lines, &o.Lines); err != nil {
		return nil, fmt.Errorf("decode order lines: %w", err)
	}
	if err := json.Unmarshal(address, &o.Address); err != nil {
		return nil, fmt.Errorf("decode order address: %w", err)
	}
	o.PaymentMethod = payment.Method(method)
	o.PaymentStatus = payment.Status(paymentStatus)
	o.Status = Status(status)
	if reason != nil {
		r := CancelReason(*reason)
		o.CancelReason = &r
	}
	if refund != nil {
		rs := payment.RefundStatus(*refund)
		o.RefundStatus = &rs
	}
	return &o, nil
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	defer rows.Close()

	var result []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) GetMedicine(ctx context.Context, id uuid.UUID) (*Medicine, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, price, prescription_required, created_at
		FROM medicines
		WHERE id = $1
	`, id)
	return scanMedicine(row)
}

func (r *PgRepository) ListMedicines(ctx context.Context) ([]Medicine, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, price, prescription_required, created_at
		FROM medicines
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list medicines: %w", err)
	}
	defer rows.Close()

	var result []Medicine
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *m)
	}
	return result, rows.Err()
}

func (r *PgRepository) Create(ctx context.Context, o Order) (*Order, error) {
	lines, err := json.Marshal(o.Lines)
	if err != nil {
		return nil, fmt.Errorf("encode order lines: %w", err)
	}
	address, err := json.Marshal(o.Address)
	if err != nil {
		return nil, fmt.Errorf("encode order address: %w", err)
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO orders (id, patient_id, lines, address, payment_method,
		                    subtotal, delivery_fee, total, payment_status, settlement_ref,
		                    prescription_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		RETURNING `+orderColumns,
		o.ID, o.PatientID, lines, address, string(o.PaymentMethod),
		o.Subtotal, o.DeliveryFee, o.Total, string(o.PaymentStatus), o.SettlementRef,
		o.PrescriptionID, string(o.Status),
	)
	created, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id)
	return scanOrder(row)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Order, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list orders by patient: %w", err)
	}
	return collectOrders(rows)
}

func (r *PgRepository) ListByPrescription(ctx context.Context, prescriptionID uuid.UUID, statuses ...Status) ([]Order, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE prescription_id = $1
		  AND status = ANY($2)
		ORDER BY created_at
	`, prescriptionID, names)
	if err != nil {
		return nil, fmt.Errorf("list orders by prescription: %w", err)
	}
	return collectOrders(rows)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Order, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE orders
		SET status = $2,
		    delivered_at = CASE WHEN $2 = 'delivered' THEN $4 ELSE delivered_at END,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+orderColumns,
		id, string(to), string(from), at,
	)
	return scanOrder(row)
}

func (r *PgRepository) AttachPrescription(ctx context.Context, id, prescriptionID uuid.UUID) (*Order, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE orders
		SET prescription_id = $2,
		    status = 'pending',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'needs_prescription'
		RETURNING `+orderColumns,
		id, prescriptionID,
	)
	return scanOrder(row)
}

func (r *PgRepository) MarkCancelled(ctx context.Context, id uuid.UUID, from Status, reason CancelReason, at time.Time) (*Order, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE orders
		SET status = 'cancelled',
		    cancel_reason = $3,
		    cancelled_at = $4,
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+orderColumns,
		id, string(from), string(reason), at,
	)
	return scanOrder(row)
}

func (r *PgRepository) SetRefundStatus(ctx context.Context, id uuid.UUID, status payment.RefundStatus) error {
	ct, err := r.db.Exec(ctx, `
		UPDATE orders
		SET refund_status = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, string(status))
	if err != nil {
		return fmt.Errorf("set refund status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}
