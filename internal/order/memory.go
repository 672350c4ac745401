package order

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/care-fulfillment/internal/payment"
)

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu        sync.Mutex
	medicines map[uuid.UUID]Medicine
	orders    map[uuid.UUID]Order
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		medicines: make(map[uuid.UUID]Medicine),
		orders:    make(map[uuid.UUID]Order),
	}
}

func (r *MemoryRepository) AddMedicine(m Medicine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	r.medicines[m.ID] = m
}

func (r *MemoryRepository) GetMedicine(ctx context.Context, id uuid.UUID) (*Medicine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.medicines[id]
	if !ok {
		return nil, ErrMedicineNotFound
	}
	return &m, nil
}

func (r *MemoryRepository) ListMedicines(ctx context.Context) ([]Medicine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Medicine, 0, len(r.medicines))
	for _, m := range r.medicines {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryRepository) Create(ctx context.Context, o Order) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	o.Lines = slices.Clone(o.Lines)
	o.CreatedAt, o.UpdatedAt = now, now
	r.orders[o.ID] = o
	return &o, nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return &o, nil
}

func (r *MemoryRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Order
	for _, o := range r.orders {
		if o.PatientID == patientID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) ListByPrescription(ctx context.Context, prescriptionID uuid.UUID, statuses ...Status) ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Order
	for _, o := range r.orders {
		if o.PrescriptionID != nil && *o.PrescriptionID == prescriptionID && slices.Contains(statuses, o.Status) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) transition(id uuid.UUID, from Status, apply func(*Order)) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok || o.Status != from {
		return nil, ErrOrderNotFound
	}
	apply(&o)
	o.UpdatedAt = time.Now().UTC()
	r.orders[id] = o
	return &o, nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Order, error) {
	return r.transition(id, from, func(o *Order) {
		o.Status = to
		if to == StatusDelivered {
			o.DeliveredAt = &at
		}
	})
}

func (r *MemoryRepository) AttachPrescription(ctx context.Context, id, prescriptionID uuid.UUID) (*Order, error) {
	return r.transition(id, StatusNeedsPrescription, func(o *Order) {
		o.PrescriptionID = &prescriptionID
		o.Status = StatusPending
	})
}

func (r *MemoryRepository) MarkCancelled(ctx context.Context, id uuid.UUID, from Status, reason CancelReason, at time.Time) (*Order, error) {
	return r.transition(id, from, func(o *Order) {
		o.Status = StatusCancelled
		o.CancelReason = &reason
		o.CancelledAt = &at
	})
}

func (r *MemoryRepository) SetRefundStatus(ctx context.Context, id uuid.UUID, status payment.RefundStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	o.RefundStatus = &status
	o.UpdatedAt = time.Now().UTC()
	r.orders[id] = o
	return nil
}
