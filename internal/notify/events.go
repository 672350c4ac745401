package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EventType string

const (
	EventAppointmentBooked    EventType = "appointment.booked"
	EventAppointmentCancelled EventType = "appointment.cancelled"
	EventAppointmentCompleted EventType = "appointment.completed"

	EventOrderPlaced               EventType = "order.placed"
	EventOrderPrescriptionRequired EventType = "order.prescription_required"
	EventOrderProcessing           EventType = "order.processing"
	EventOrderShipped              EventType = "order.shipped"
	EventOrderDelivered            EventType = "order.delivered"
	EventOrderCancelled            EventType = "order.cancelled"

	EventRefundIssued EventType = "refund.issued"
)

// Event is a user-facing notification about a committed state change.
type Event struct {
	ID          uuid.UUID      `json:"id"`
	Type        EventType      `json:"type"`
	Aggregate   string         `json:"aggregate"`
	AggregateID uuid.UUID      `json:"aggregate_id"`
	RecipientID uuid.UUID      `json:"recipient_id"`
	Payload     map[string]any `json:"payload,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

func NewEvent(t EventType, aggregate string, aggregateID, recipientID uuid.UUID, payload map[string]any) Event {
	return Event{
		ID:          uuid.New(),
		Type:        t,
		Aggregate:   aggregate,
		AggregateID: aggregateID,
		RecipientID: recipientID,
		Payload:     payload,
		OccurredAt:  time.Now().UTC(),
	}
}

// Emitter is fire-and-forget. Emitting never fails the operation that
// produced the event; implementations log their own failures.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// LogEmitter writes events to the log only.
type LogEmitter struct {
	logger *zap.Logger
}

func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEmitter{logger: logger}
}

func (e *LogEmitter) Emit(ctx context.Context, ev Event) {
	payload, _ := json.Marshal(ev.Payload)
	e.logger.Info("notification",
		zap.String("event_id", ev.ID.String()),
		zap.String("type", string(ev.Type)),
		zap.String("aggregate_id", ev.AggregateID.String()),
		zap.String("recipient_id", ev.RecipientID.String()),
		zap.ByteString("payload", payload),
	)
}

// Recorder keeps emitted events in memory. Tests use it to assert on
// notifications.
type Recorder struct {
	ch chan Event
}

func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Event, size)}
}

func (r *Recorder) Emit(ctx context.Context, ev Event) {
	select {
	case r.ch <- ev:
	default:
	}
}

// Drain returns everything recorded so far.
func (r *Recorder) Drain() []Event {
	var out []Event
	for {
		select {
		case ev := <-r.ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// Types returns the drained event types in order.
func (r *Recorder) Types() []EventType {
	evs := r.Drain()
	out := make([]EventType, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}
