package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/care-fulfillment/internal/appointment"
	"github.com/hackgods/care-fulfillment/internal/config"
	"github.com/hackgods/care-fulfillment/internal/notify"
	"github.com/hackgods/care-fulfillment/internal/order"
	"github.com/hackgods/care-fulfillment/internal/session"
)

func memoryRuntime() *Runtime {
	return &Runtime{
		Config: config.Config{
			Env:                   "test",
			StorageBackend:        "memory",
			SlotRegistry:          "memory",
			ClinicLocation:        time.UTC,
			PaymentProvider:       "simulated",
			PaymentSettleTimeout:  2 * time.Second,
			PaymentPollInterval:   5 * time.Millisecond,
			NotifyTransport:       "log",
			DocumentStore:         "memory",
			PrescriptionValidity:  30 * 24 * time.Hour,
			MeetingBaseURL:        "https://meet.example.test",
			DeliveryFee:           decimal.NewFromInt(150),
			FreeDeliveryThreshold: decimal.NewFromInt(2000),
		},
		Logger: zap.NewNop(),
	}
}

func TestCatalogIsDeterministicForSeed(t *testing.T) {
	a := NewCatalog(42).Doctors(5)
	b := NewCatalog(42).Doctors(5)
	require.Len(t, a, 5)
	for i := range a {
		assert.Equal(t, a[i].Name, b[i].Name)
		assert.Equal(t, a[i].Specialty, b[i].Specialty)
		assert.True(t, a[i].Fee.Equal(b[i].Fee))
		assert.Contains(t, specialties, a[i].Specialty)
		assert.True(t, a[i].Fee.GreaterThanOrEqual(decimal.NewFromInt(1500)))
		assert.True(t, a[i].Fee.LessThanOrEqual(decimal.NewFromInt(6000)))
	}
}

func TestCatalogMedicines(t *testing.T) {
	meds := NewCatalog(7).Medicines()
	require.Len(t, meds, len(formulary))

	rx := 0
	for i, m := range meds {
		assert.True(t, m.Price.IsPositive(), m.Name)
		assert.True(t, m.Price.GreaterThanOrEqual(decimal.NewFromFloat(formulary[i].low)), m.Name)
		assert.True(t, m.Price.LessThanOrEqual(decimal.NewFromFloat(formulary[i].high)), m.Name)
		if m.PrescriptionRequired {
			rx++
		}
	}
	assert.Positive(t, rx)
	assert.Less(t, rx, len(meds))
}

func TestInsertCatalog(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	c := NewCatalog(1)
	doctors := c.Doctors(2)
	meds := c.Medicines()[:1]

	mock.ExpectExec("INSERT INTO doctors").
		WithArgs(doctors[0].ID, doctors[0].Name, doctors[0].Specialty, doctors[0].Fee, doctors[0].CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO doctors").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO medicines").WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, InsertCatalog(context.Background(), mock, doctors, meds))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertCatalogStopsOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO doctors").WillReturnError(errors.New("duplicate key"))

	err = InsertCatalog(context.Background(), mock, NewCatalog(1).Doctors(3), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert doctor")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildServicesMemory(t *testing.T) {
	ctx := context.Background()
	rt := memoryRuntime()

	s, err := rt.BuildServices(ctx)
	require.NoError(t, err)
	assert.Empty(t, rt.HealthChecks())

	doctors, err := s.Appointments.ListDoctors(ctx)
	require.NoError(t, err)
	require.Len(t, doctors, len(specialties))

	meds, err := s.Orders.ListMedicines(ctx)
	require.NoError(t, err)
	assert.Len(t, meds, len(formulary))

	pat := session.Session{UserID: uuid.New(), Role: session.RolePatient}
	tomorrow := time.Now().UTC().AddDate(0, 0, 1).Format("2006-01-02")
	appt, err := s.Appointments.Book(ctx, pat, appointment.BookCommand{
		DoctorID:      doctors[0].ID,
		Date:          tomorrow,
		Time:          "10:00 AM",
		Mode:          appointment.ModeVideo,
		PaymentMethod: "card",
	})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusUpcoming, appt.Status)

	var otc order.Medicine
	for _, m := range meds {
		if !m.PrescriptionRequired {
			otc = m
			break
		}
	}
	placed, err := s.Orders.Checkout(ctx, pat, order.CheckoutCommand{
		Items:         []order.Item{{MedicineID: otc.ID, Quantity: 1}},
		Address:       order.Address{Recipient: "Sara Ahmed", Phone: "03001234567", Street: "12 Canal Road", City: "Lahore"},
		PaymentMethod: "cod",
	})
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, placed.Status)

	pending, err := s.Outbox.FetchPending(ctx, 10)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(pending), 2, "booking and checkout both enqueue notifications")

	d, err := rt.Deliverer(ctx, s.Outbox)
	require.NoError(t, err)
	assert.Equal(t, len(pending), d.Drain(ctx))
}

func TestBuildServicesRejectsRelativeMeetingURL(t *testing.T) {
	rt := memoryRuntime()
	rt.Config.MeetingBaseURL = "/rooms"

	_, err := rt.BuildServices(context.Background())
	assert.ErrorContains(t, err, "meeting links")
}

func TestPublisherSelection(t *testing.T) {
	ctx := context.Background()
	rt := memoryRuntime()

	pub, err := rt.Publisher(ctx)
	require.NoError(t, err)
	assert.IsType(t, &notify.LogPublisher{}, pub)

	mr := miniredis.RunT(t)
	rt.Redis = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rt.Redis.Close() })
	rt.Config.NotifyTransport = "redis"
	rt.Config.NotifyChannel = "care:notifications"

	pub, err = rt.Publisher(ctx)
	require.NoError(t, err)
	assert.IsType(t, &notify.RedisPublisher{}, pub)

	checks := rt.HealthChecks()
	require.Len(t, checks, 1)
	assert.Equal(t, "redis", checks[0].Name)
	assert.False(t, checks[0].Critical)
	assert.NoError(t, checks[0].Ping(ctx))
}
