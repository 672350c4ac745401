package redisclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/care-fulfillment/internal/slot"
)

func newTestRegistry(t *testing.T) (*SlotRegistry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)
	reg := NewSlotRegistry(client, slot.DefaultGrid(), time.UTC).WithClock(func() time.Time { return now })
	return reg, mr
}

func TestSlotRegistryReserveAndConflict(t *testing.T) {
	reg, mr := newTestRegistry(t)
	ctx := context.Background()
	key := slot.Key{DoctorID: uuid.New(), Date: "2024-02-01", Time: slot.NewTimeOfDay(10, 0)}

	token, err := reg.Reserve(ctx, key)
	require.NoError(t, err)
	assert.True(t, mr.Exists(slotKey(key.String())))
	assert.Greater(t, mr.TTL(slotKey(key.String())), 24*time.Hour)

	_, err = reg.Reserve(ctx, key)
	assert.ErrorIs(t, err, slot.ErrSlotConflict)

	require.NoError(t, reg.Release(ctx, token))
	assert.False(t, mr.Exists(slotKey(key.String())))

	_, err = reg.Reserve(ctx, key)
	assert.NoError(t, err)
}

func TestSlotRegistryReleaseIsIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	key := slot.Key{DoctorID: uuid.New(), Date: "2024-02-01", Time: slot.NewTimeOfDay(14, 30)}

	token, err := reg.Reserve(ctx, key)
	require.NoError(t, err)

	require.NoError(t, reg.Release(ctx, token))
	require.NoError(t, reg.Release(ctx, token))
	require.NoError(t, reg.Release(ctx, slot.Token("garbage")))
}

func TestSlotRegistryStaleTokenDoesNotReleaseNewHolder(t *testing.T) {
	reg, mr := newTestRegistry(t)
	ctx := context.Background()
	key := slot.Key{DoctorID: uuid.New(), Date: "2024-02-01", Time: slot.NewTimeOfDay(9, 0)}

	first, err := reg.Reserve(ctx, key)
	require.NoError(t, err)
	require.NoError(t, reg.Release(ctx, first))

	second, err := reg.Reserve(ctx, key)
	require.NoError(t, err)

	require.NoError(t, reg.Release(ctx, first))
	val, err := mr.Get(slotKey(key.String()))
	require.NoError(t, err)
	assert.Equal(t, string(second), val)
}

func TestSlotRegistryConcurrentReserveHasOneWinner(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	key := slot.Key{DoctorID: uuid.New(), Date: "2024-02-01", Time: slot.NewTimeOfDay(10, 0)}

	const racers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Reserve(ctx, key)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, slot.ErrSlotConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, racers-1, conflicts)
}

func TestSlotRegistryAvailability(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	doctor := uuid.New()

	_, err := reg.Reserve(ctx, slot.Key{DoctorID: doctor, Date: "2024-02-01", Time: slot.NewTimeOfDay(10, 0)})
	require.NoError(t, err)

	avail, err := reg.CheckAvailability(ctx, doctor, "2024-02-01")
	require.NoError(t, err)
	require.Len(t, avail, 14)
	for _, a := range avail {
		if a.Time == slot.NewTimeOfDay(10, 0) {
			assert.False(t, a.Available)
		} else {
			assert.True(t, a.Available, a.Time.String())
		}
	}

	// Same day as the clock: morning has passed.
	today, err := reg.CheckAvailability(ctx, doctor, "2024-01-31")
	require.NoError(t, err)
	for _, a := range today {
		assert.Equal(t, a.Time > slot.NewTimeOfDay(12, 0), a.Available, a.Time.String())
	}
}

func TestSlotRegistryRejectsOffGridAndPast(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	doctor := uuid.New()

	_, err := reg.Reserve(ctx, slot.Key{DoctorID: doctor, Date: "2024-02-01", Time: slot.NewTimeOfDay(12, 30)})
	assert.ErrorIs(t, err, slot.ErrOffGrid)

	_, err = reg.Reserve(ctx, slot.Key{DoctorID: doctor, Date: "2024-01-31", Time: slot.NewTimeOfDay(9, 0)})
	assert.ErrorIs(t, err, slot.ErrSlotInPast)
}

func TestSlotRegistryRestore(t *testing.T) {
	reg, mr := newTestRegistry(t)
	ctx := context.Background()
	key := slot.Key{DoctorID: uuid.New(), Date: "2024-02-01", Time: slot.NewTimeOfDay(10, 0)}
	token := slot.NewToken(key)

	require.NoError(t, reg.Restore(ctx, key, token))
	require.NoError(t, reg.Restore(ctx, key, token))
	assert.True(t, mr.Exists(slotKey(key.String())))
	assert.Greater(t, mr.TTL(slotKey(key.String())), 24*time.Hour)
	assert.ErrorIs(t, reg.Restore(ctx, key, slot.NewToken(key)), slot.ErrSlotConflict)

	_, err := reg.Reserve(ctx, key)
	assert.ErrorIs(t, err, slot.ErrSlotConflict)

	require.NoError(t, reg.Release(ctx, token))
	_, err = reg.Reserve(ctx, key)
	assert.NoError(t, err)
}

func TestSlotRegistryRestoreSkipsExpiredHold(t *testing.T) {
	reg, mr := newTestRegistry(t)
	key := slot.Key{DoctorID: uuid.New(), Date: "2024-01-29", Time: slot.NewTimeOfDay(10, 0)}

	require.NoError(t, reg.Restore(context.Background(), key, slot.NewToken(key)))
	assert.False(t, mr.Exists(slotKey(key.String())))
}
