package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/care-fulfillment/internal/db"
)

// Entry is a stored event awaiting delivery.
type Entry struct {
	ID          uuid.UUID
	Type        EventType
	Aggregate   string
	AggregateID uuid.UUID
	RecipientID uuid.UUID
	Payload     json.RawMessage
	Attempts    int
	CreatedAt   time.Time
}

// Body is the wire form handed to publishers.
func (e Entry) Body() ([]byte, error) {
	return json.Marshal(struct {
		ID          uuid.UUID       `json:"id"`
		Type        EventType       `json:"type"`
		Aggregate   string          `json:"aggregate"`
		AggregateID uuid.UUID       `json:"aggregate_id"`
		RecipientID uuid.UUID       `json:"recipient_id"`
		Payload     json.RawMessage `json:"payload,omitempty"`
		OccurredAt  time.Time       `json:"occurred_at"`
	}{e.ID, e.Type, e.Aggregate, e.AggregateID, e.RecipientID, e.Payload, e.CreatedAt})
}

type OutboxStore interface {
	Insert(ctx context.Context, ev Event) error
	FetchPending(ctx context.Context, limit int32) ([]Entry, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID) error
}

// PgOutbox stores events in event_logs.
type PgOutbox struct {
	db db.DBTX
}

func NewPgOutbox(conn db.DBTX) *PgOutbox {
	return &PgOutbox{db: conn}
}

func (s *PgOutbox) Insert(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO event_logs (id, event_type, aggregate, aggregate_id, recipient_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
	`, ev.ID, string(ev.Type), ev.Aggregate, ev.AggregateID, ev.RecipientID, data, db.NullableTime(ev.OccurredAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func (s *PgOutbox) FetchPending(ctx context.Context, limit int32) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, event_type, aggregate, aggregate_id, recipient_id, payload, attempts, created_at
		FROM event_logs
		WHERE delivered_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var eventType string
		var payload []byte
		if err := rows.Scan(&e.ID, &eventType, &e.Aggregate, &e.AggregateID, &e.RecipientID, &payload, &e.Attempts, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event log: %w", err)
		}
		e.Type = EventType(eventType)
		e.Payload = append([]byte(nil), payload...)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PgOutbox) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	ct, err := s.db.Exec(ctx, `
		UPDATE event_logs
		SET delivered_at = now()
		WHERE id = $1 AND delivered_at IS NULL
	`, id)
	if err != nil {
		return false, fmt.Errorf("mark event delivered: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (s *PgOutbox) MarkFailed(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE event_logs
		SET attempts = attempts + 1
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark event failed: %w", err)
	}
	return nil
}

// MemoryOutbox is the OutboxStore used with the in-memory storage backend.
type MemoryOutbox struct {
	mu        sync.Mutex
	entries   map[uuid.UUID]*Entry
	delivered map[uuid.UUID]bool
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{
		entries:   make(map[uuid.UUID]*Entry),
		delivered: make(map[uuid.UUID]bool),
	}
}

func (s *MemoryOutbox) Insert(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[ev.ID] = &Entry{
		ID:          ev.ID,
		Type:        ev.Type,
		Aggregate:   ev.Aggregate,
		AggregateID: ev.AggregateID,
		RecipientID: ev.RecipientID,
		Payload:     data,
		CreatedAt:   ev.OccurredAt,
	}
	return nil
}

func (s *MemoryOutbox) FetchPending(ctx context.Context, limit int32) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for id, e := range s.entries {
		if !s.delivered[id] {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if int32(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryOutbox) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok || s.delivered[id] {
		return false, nil
	}
	s.delivered[id] = true
	return true, nil
}

func (s *MemoryOutbox) MarkFailed(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.Attempts++
	}
	return nil
}

// OutboxEmitter persists events for the delivery worker.
type OutboxEmitter struct {
	store  OutboxStore
	logger *zap.Logger
}

func NewOutboxEmitter(store OutboxStore, logger *zap.Logger) *OutboxEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboxEmitter{store: store, logger: logger}
}

func (e *OutboxEmitter) Emit(ctx context.Context, ev Event) {
	// Outlives the request context.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := e.store.Insert(ctx, ev); err != nil {
		e.logger.Error("failed to record notification",
			zap.String("type", string(ev.Type)),
			zap.String("aggregate_id", ev.AggregateID.String()),
			zap.Error(err),
		)
	}
}
