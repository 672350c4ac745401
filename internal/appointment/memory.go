package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/care-fulfillment/internal/payment"
)

// MemoryRepository is an in-process Repository. It enforces the same
// one-active-appointment-per-slot rule as the database index.
type MemoryRepository struct {
	mu           sync.Mutex
	doctors      map[uuid.UUID]Doctor
	appointments map[uuid.UUID]Appointment
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		doctors:      make(map[uuid.UUID]Doctor),
		appointments: make(map[uuid.UUID]Appointment),
	}
}

func (r *MemoryRepository) AddDoctor(d Doctor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt, d.UpdatedAt = now, now
	}
	r.doctors[d.ID] = d
}

func (r *MemoryRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (r *MemoryRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Doctor, 0, len(r.doctors))
	for _, d := range r.doctors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) list(match func(Appointment) bool, limit, offset int) []Appointment {
	var out []Appointment
	for _, a := range r.appointments {
		if match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].Time > out[j].Time
	})
	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out
}

func (r *MemoryRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(func(a Appointment) bool { return a.PatientID == patientID }, limit, offset), nil
}

func (r *MemoryRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(func(a Appointment) bool { return a.DoctorID == doctorID }, limit, offset), nil
}

func (r *MemoryRepository) ListHeld(ctx context.Context, doctorID uuid.UUID, date string) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(func(a Appointment) bool {
		return a.DoctorID == doctorID && a.Date == date && a.Status != StatusCancelled
	}, len(r.appointments), 0), nil
}

func (r *MemoryRepository) ListUpcoming(ctx context.Context, from string) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(func(a Appointment) bool {
		return a.Status == StatusUpcoming && a.Date >= from
	}, len(r.appointments), 0), nil
}

func (r *MemoryRepository) Create(ctx context.Context, a Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.appointments {
		if existing.Status != StatusCancelled && existing.Key() == a.Key() {
			return nil, ErrSlotTaken
		}
	}
	now := time.Now().UTC()
	a.Status = StatusUpcoming
	a.CreatedAt, a.UpdatedAt = now, now
	r.appointments[a.ID] = a
	return &a, nil
}

func (r *MemoryRepository) transition(id uuid.UUID, apply func(*Appointment)) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok || a.Status != StatusUpcoming {
		return nil, ErrAppointmentNotFound
	}
	apply(&a)
	a.UpdatedAt = time.Now().UTC()
	r.appointments[id] = a
	return &a, nil
}

func (r *MemoryRepository) MarkCancelled(ctx context.Context, id uuid.UUID, reason CancelReason, by Initiator, at time.Time) (*Appointment, error) {
	return r.transition(id, func(a *Appointment) {
		a.Status = StatusCancelled
		a.CancelReason = &reason
		a.CancelledBy = &by
		a.CancelledAt = &at
	})
}

func (r *MemoryRepository) MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) (*Appointment, error) {
	return r.transition(id, func(a *Appointment) {
		a.Status = StatusCompleted
		a.CompletedAt = &at
	})
}

func (r *MemoryRepository) update(id uuid.UUID, apply func(*Appointment)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	apply(&a)
	a.UpdatedAt = time.Now().UTC()
	r.appointments[id] = a
	return nil
}

func (r *MemoryRepository) SetRefundStatus(ctx context.Context, id uuid.UUID, status payment.RefundStatus) error {
	return r.update(id, func(a *Appointment) { a.RefundStatus = &status })
}

func (r *MemoryRepository) SetPrescription(ctx context.Context, id, prescriptionID uuid.UUID) error {
	return r.update(id, func(a *Appointment) { a.PrescriptionID = &prescriptionID })
}
