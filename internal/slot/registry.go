package slot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSlotConflict = errors.New("slot is already reserved")
	ErrSlotInPast   = errors.New("slot is in the past")
)

// Token proves ownership of a reservation. It embeds the slot key so a
// registry can release it without a reverse index.
type Token string

func NewToken(k Key) Token {
	return Token(k.String() + ":" + uuid.NewString())
}

// KeyString returns the slot portion of the token, or false when the token
// is malformed.
func (t Token) KeyString() (string, bool) {
	s := string(t)
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return "", false
	}
	if _, err := uuid.Parse(s[i+1:]); err != nil {
		return "", false
	}
	return s[:i], true
}

type Availability struct {
	Time      TimeOfDay
	Available bool
}

// Registry tracks which (doctor, date, time) tuples are held.
type Registry interface {
	CheckAvailability(ctx context.Context, doctorID uuid.UUID, date string) ([]Availability, error)
	// Reserve is atomic per key: the first caller wins and every other
	// concurrent caller gets ErrSlotConflict.
	Reserve(ctx context.Context, key Key) (Token, error)
	// Release is idempotent. Unknown or already released tokens are ignored.
	Release(ctx context.Context, token Token) error
	// Restore re-holds a key under a token issued earlier, so a booking
	// persisted before a restart keeps its slot and can still release it.
	// Restoring the current holder is a no-op; any other holder is
	// ErrSlotConflict.
	Restore(ctx context.Context, key Key, token Token) error
}

// Validate checks the parts of a reservation request every registry agrees on.
func Validate(grid Grid, key Key, loc *time.Location, now time.Time) error {
	if _, err := ParseDate(key.Date); err != nil {
		return err
	}
	if !grid.Contains(key.Time) {
		return ErrOffGrid
	}
	start, err := key.StartsAt(loc)
	if err != nil {
		return err
	}
	if !start.After(now) {
		return ErrSlotInPast
	}
	return nil
}

// BuildAvailability projects the grid for a date given a held-lookup.
func BuildAvailability(grid Grid, doctorID uuid.UUID, date string, loc *time.Location, now time.Time, held func(Key) bool) ([]Availability, error) {
	date, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	times := grid.Times()
	out := make([]Availability, 0, len(times))
	for _, t := range times {
		k := Key{DoctorID: doctorID, Date: date, Time: t}
		start, err := k.StartsAt(loc)
		if err != nil {
			return nil, err
		}
		out = append(out, Availability{
			Time:      t,
			Available: start.After(now) && !held(k),
		})
	}
	return out, nil
}

// MemoryRegistry keeps reservations in process memory.
type MemoryRegistry struct {
	grid Grid
	loc  *time.Location
	now  func() time.Time

	mu     sync.Mutex
	held   map[Key]Token
	tokens map[Token]Key
}

func NewMemoryRegistry(grid Grid, loc *time.Location) *MemoryRegistry {
	if loc == nil {
		loc = time.UTC
	}
	return &MemoryRegistry{
		grid:   grid,
		loc:    loc,
		now:    time.Now,
		held:   make(map[Key]Token),
		tokens: make(map[Token]Key),
	}
}

// WithClock overrides the time source.
func (r *MemoryRegistry) WithClock(now func() time.Time) *MemoryRegistry {
	r.now = now
	return r
}

func (r *MemoryRegistry) CheckAvailability(ctx context.Context, doctorID uuid.UUID, date string) ([]Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return BuildAvailability(r.grid, doctorID, date, r.loc, r.now(), func(k Key) bool {
		_, ok := r.held[k]
		return ok
	})
}

func (r *MemoryRegistry) Reserve(ctx context.Context, key Key) (Token, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := Validate(r.grid, key, r.loc, r.now()); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.held[key]; ok {
		return "", ErrSlotConflict
	}
	token := NewToken(key)
	r.held[key] = token
	r.tokens[token] = key
	return token, nil
}

func (r *MemoryRegistry) Release(ctx context.Context, token Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.tokens[token]
	if !ok {
		return nil
	}
	delete(r.tokens, token)
	if r.held[key] == token {
		delete(r.held, key)
	}
	return nil
}

func (r *MemoryRegistry) Restore(ctx context.Context, key Key, token Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if held, ok := r.held[key]; ok {
		if held == token {
			return nil
		}
		return ErrSlotConflict
	}
	r.held[key] = token
	r.tokens[token] = key
	return nil
}
