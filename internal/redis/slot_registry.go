package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/care-fulfillment/internal/slot"
)

// slotHold keeps a reservation key around for a day after the slot starts
// so completed appointments still show as held on the grid.
const slotHold = 24 * time.Hour

// SlotRegistry is the shared slot.Registry backed by one Redis key per
// (doctor, date, time) tuple. The key value is the owning token.
type SlotRegistry struct {
	client *redis.Client
	grid   slot.Grid
	loc    *time.Location
	now    func() time.Time
}

func NewSlotRegistry(client *redis.Client, grid slot.Grid, loc *time.Location) *SlotRegistry {
	if loc == nil {
		loc = time.UTC
	}
	return &SlotRegistry{
		client: client,
		grid:   grid,
		loc:    loc,
		now:    time.Now,
	}
}

// WithClock overrides the time source.
func (r *SlotRegistry) WithClock(now func() time.Time) *SlotRegistry {
	r.now = now
	return r
}

func slotKey(s string) string {
	return "slot:" + s
}

func (r *SlotRegistry) CheckAvailability(ctx context.Context, doctorID uuid.UUID, date string) ([]slot.Availability, error) {
	date, err := slot.ParseDate(date)
	if err != nil {
		return nil, err
	}

	times := r.grid.Times()
	keys := make([]string, len(times))
	for i, t := range times {
		keys[i] = slotKey(slot.Key{DoctorID: doctorID, Date: date, Time: t}.String())
	}

	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read slot keys: %w", err)
	}
	held := make(map[string]bool, len(keys))
	for i, v := range vals {
		if v != nil {
			held[keys[i]] = true
		}
	}

	return slot.BuildAvailability(r.grid, doctorID, date, r.loc, r.now(), func(k slot.Key) bool {
		return held[slotKey(k.String())]
	})
}

func (r *SlotRegistry) Reserve(ctx context.Context, key slot.Key) (slot.Token, error) {
	now := r.now()
	if err := slot.Validate(r.grid, key, r.loc, now); err != nil {
		return "", err
	}
	start, err := key.StartsAt(r.loc)
	if err != nil {
		return "", err
	}

	token := slot.NewToken(key)
	ok, err := r.client.SetNX(ctx, slotKey(key.String()), string(token), start.Add(slotHold).Sub(now)).Result()
	if err != nil {
		return "", fmt.Errorf("reserve slot: %w", err)
	}
	if !ok {
		return "", slot.ErrSlotConflict
	}
	return token, nil
}

var releaseScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (r *SlotRegistry) Release(ctx context.Context, token slot.Token) error {
	k, ok := token.KeyString()
	if !ok {
		return nil
	}
	_, err := releaseScript.Run(ctx, r.client, []string{slotKey(k)}, string(token)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

var restoreScript = redis.NewScript(`
if redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2]) then
  return 1
end
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return 1
end
return 0
`)

func (r *SlotRegistry) Restore(ctx context.Context, key slot.Key, token slot.Token) error {
	start, err := key.StartsAt(r.loc)
	if err != nil {
		return err
	}
	ttl := start.Add(slotHold).Sub(r.now())
	if ttl <= 0 {
		return nil
	}

	held, err := restoreScript.Run(ctx, r.client, []string{slotKey(key.String())}, string(token), ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("restore slot: %w", err)
	}
	if held == 0 {
		return slot.ErrSlotConflict
	}
	return nil
}
