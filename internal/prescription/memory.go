package prescription

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository for local runs and tests.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[uuid.UUID]Prescription
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[uuid.UUID]Prescription)}
}

func (r *MemoryRepository) Insert(ctx context.Context, p Prescription) (*Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	r.rows[p.ID] = p
	return &p, nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.rows[id]
	if !ok {
		return nil, ErrPrescriptionNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Prescription
	for _, p := range r.rows {
		if p.PatientID == patientID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.rows[id]
	if !ok || p.Status != from {
		return nil, ErrPrescriptionNotFound
	}
	p.Status = to
	if p.Kind == KindUpload {
		p.ReviewedAt = &at
	}
	p.UpdatedAt = time.Now().UTC()
	r.rows[id] = p
	return &p, nil
}

func (r *MemoryRepository) ExpireDue(ctx context.Context, now time.Time) ([]Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Prescription
	for id, p := range r.rows {
		if p.Kind != KindDigital || p.Status != StatusActive || p.ExpiresAt == nil || !p.ExpiresAt.Before(now) {
			continue
		}
		p.Status = StatusExpired
		p.UpdatedAt = time.Now().UTC()
		r.rows[id] = p
		out = append(out, p)
	}
	return out, nil
}
