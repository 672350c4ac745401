package appointment

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/care-fulfillment/internal/notify"
	"github.com/hackgods/care-fulfillment/internal/payment"
	"github.com/hackgods/care-fulfillment/internal/prescription"
	"github.com/hackgods/care-fulfillment/internal/session"
	"github.com/hackgods/care-fulfillment/internal/slot"
)

type countingSettler struct {
	inner   *payment.Settler
	settles atomic.Int32
}

func (c *countingSettler) Settle(ctx context.Context, req payment.SettleRequest) (payment.SettlementResult, error) {
	c.settles.Add(1)
	return c.inner.Settle(ctx, req)
}

func (c *countingSettler) Reverse(ctx context.Context, ref string, amount decimal.Decimal) (payment.ReversalResult, error) {
	return c.inner.Reverse(ctx, ref, amount)
}

type fixture struct {
	svc      *Service
	repo     *MemoryRepository
	slots    *slot.MemoryRegistry
	provider *payment.SimulatedProvider
	settler  *countingSettler
	events   *notify.Recorder
	rx       *prescription.Gate
	now      *time.Time
	doctor   Doctor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	now := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	repo := NewMemoryRepository()
	doctor := Doctor{ID: uuid.New(), Name: "Dr. Ayesha Khan", Specialty: "General Physician", Fee: decimal.NewFromInt(2000)}
	repo.AddDoctor(doctor)

	slots := slot.NewMemoryRegistry(slot.DefaultGrid(), time.UTC).WithClock(clock)
	provider := payment.NewSimulatedProvider()
	settler := &countingSettler{inner: payment.NewSettler(provider, payment.SettlerConfig{Timeout: time.Second, PollInterval: time.Millisecond}, zap.NewNop(), nil)}
	events := notify.NewRecorder(64)
	rx := prescription.NewGate(prescription.NewMemoryRepository(), prescription.NewMemoryDocumentStore(), 30*24*time.Hour, zap.NewNop()).WithClock(clock)
	links, err := NewRoomLinks("https://meet.example.com")
	require.NoError(t, err)

	svc := NewService(Deps{
		Repo:          repo,
		Slots:         slots,
		Payments:      settler,
		Prescriptions: rx,
		Meetings:      links,
		Events:        events,
		Logger:        zap.NewNop(),
		Location:      time.UTC,
	}).WithClock(clock)

	return &fixture{svc: svc, repo: repo, slots: slots, provider: provider, settler: settler, events: events, rx: rx, now: &now, doctor: doctor}
}

func patient() session.Session {
	return session.Session{UserID: uuid.New(), Role: session.RolePatient}
}

func (f *fixture) bookCmd() BookCommand {
	return BookCommand{
		DoctorID:      f.doctor.ID,
		Date:          "2024-02-01",
		Time:          "10:00 AM",
		Mode:          ModeInPerson,
		PaymentMethod: "card",
	}
}

func (f *fixture) available(t *testing.T, tod slot.TimeOfDay) bool {
	t.Helper()
	avail, err := f.svc.Availability(context.Background(), f.doctor.ID, "2024-02-01")
	require.NoError(t, err)
	for _, a := range avail {
		if a.Time == tod {
			return a.Available
		}
	}
	t.Fatalf("time %s not on grid", tod)
	return false
}

func TestBookConfirmsAndHoldsSlot(t *testing.T) {
	f := newFixture(t)
	p := patient()

	appt, err := f.svc.Book(context.Background(), p, f.bookCmd())
	require.NoError(t, err)

	assert.Equal(t, StatusUpcoming, appt.Status)
	assert.Equal(t, p.UserID, appt.PatientID)
	assert.Equal(t, payment.StatusCaptured, appt.PaymentStatus)
	assert.True(t, appt.Fee.Equal(decimal.NewFromInt(2000)))
	assert.NotEmpty(t, appt.SettlementRef)
	assert.Nil(t, appt.MeetingLink)
	assert.False(t, f.available(t, slot.NewTimeOfDay(10, 0)))
	assert.Equal(t, []notify.EventType{notify.EventAppointmentBooked}, f.events.Types())
}

func TestBookTakenSlotSkipsPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, patient(), f.bookCmd())
	require.NoError(t, err)
	require.Equal(t, int32(1), f.settler.settles.Load())

	_, err = f.svc.Book(ctx, patient(), f.bookCmd())
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.Equal(t, int32(1), f.settler.settles.Load())
}

func TestBookDeclinedPaymentReleasesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.DeclineOver = decimal.NewFromInt(1000)

	before, err := f.svc.Availability(ctx, f.doctor.ID, "2024-02-01")
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, patient(), f.bookCmd())
	assert.ErrorIs(t, err, ErrPaymentFailed)

	after, err := f.svc.Availability(ctx, f.doctor.ID, "2024-02-01")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, f.events.Drain())
}

func TestBookValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	past := f.bookCmd()
	past.Date = "2024-01-31"
	past.Time = "09:00 AM"
	_, err := f.svc.Book(ctx, patient(), past)
	assert.ErrorIs(t, err, ErrScheduledInPast)

	cod := f.bookCmd()
	cod.PaymentMethod = "cod"
	_, err = f.svc.Book(ctx, patient(), cod)
	assert.ErrorIs(t, err, ErrInvalidInput)

	offGrid := f.bookCmd()
	offGrid.Time = "12:30 PM"
	_, err = f.svc.Book(ctx, patient(), offGrid)
	assert.ErrorIs(t, err, ErrInvalidInput)

	badMode := f.bookCmd()
	badMode.Mode = "phone"
	_, err = f.svc.Book(ctx, patient(), badMode)
	assert.ErrorIs(t, err, ErrInvalidInput)

	unknown := f.bookCmd()
	unknown.DoctorID = uuid.New()
	_, err = f.svc.Book(ctx, patient(), unknown)
	assert.ErrorIs(t, err, ErrDoctorNotFound)

	_, err = f.svc.Book(ctx, session.Session{UserID: uuid.New(), Role: session.RolePharmacist}, f.bookCmd())
	assert.ErrorIs(t, err, session.ErrForbidden)

	assert.Equal(t, int32(0), f.settler.settles.Load())
}

func TestBookVideoGetsMeetingLink(t *testing.T) {
	f := newFixture(t)
	cmd := f.bookCmd()
	cmd.Mode = ModeVideo

	appt, err := f.svc.Book(context.Background(), patient(), cmd)
	require.NoError(t, err)
	require.NotNil(t, appt.MeetingLink)
	assert.Equal(t, "https://meet.example.com/rooms/"+appt.ID.String(), *appt.MeetingLink)
}

func TestConcurrentBookingHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const racers = 25
	var (
		wg          sync.WaitGroup
		wins, loses atomic.Int32
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Book(ctx, patient(), f.bookCmd())
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrSlotUnavailable):
				loses.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(racers-1), loses.Load())
	assert.Equal(t, int32(1), f.settler.settles.Load())
}

type conflictingRepo struct {
	*MemoryRepository
}

func (r conflictingRepo) Create(ctx context.Context, a Appointment) (*Appointment, error) {
	return nil, ErrSlotTaken
}

func TestBookStorageConflictUndoesPaymentAndReservation(t *testing.T) {
	f := newFixture(t)
	f.svc.repo = conflictingRepo{f.repo}

	_, err := f.svc.Book(context.Background(), patient(), f.bookCmd())
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.True(t, f.available(t, slot.NewTimeOfDay(10, 0)))
	assert.Equal(t, int32(1), f.settler.settles.Load())
}

func TestStoredBookingHoldsSlotAfterRegistryLoss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, patient(), f.bookCmd())
	require.NoError(t, err)
	require.Equal(t, int32(1), f.settler.settles.Load())

	f.svc.slots = slot.NewMemoryRegistry(slot.DefaultGrid(), time.UTC).WithClock(func() time.Time { return *f.now })

	assert.False(t, f.available(t, slot.NewTimeOfDay(10, 0)))
	assert.True(t, f.available(t, slot.NewTimeOfDay(11, 0)))

	_, err = f.svc.Book(ctx, patient(), f.bookCmd())
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.Equal(t, int32(1), f.settler.settles.Load(), "no payment for a slot storage already holds")
}

func TestRestoreSlotsRehydratesRegistry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := patient()

	appt, err := f.svc.Book(ctx, p, f.bookCmd())
	require.NoError(t, err)
	other := f.bookCmd()
	other.Time = "11:00 AM"
	gone, err := f.svc.Book(ctx, patient(), other)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, session.Session{UserID: gone.PatientID, Role: session.RolePatient}, gone.ID, CancelCommand{Reason: ReasonOther})
	require.NoError(t, err)

	fresh := slot.NewMemoryRegistry(slot.DefaultGrid(), time.UTC).WithClock(func() time.Time { return *f.now })
	f.svc.slots = fresh

	restored, err := f.svc.RestoreSlots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	_, err = fresh.Reserve(ctx, appt.Key())
	assert.ErrorIs(t, err, slot.ErrSlotConflict)

	_, err = f.svc.Cancel(ctx, p, appt.ID, CancelCommand{Reason: ReasonScheduleConflict})
	require.NoError(t, err)
	_, err = fresh.Reserve(ctx, appt.Key())
	assert.NoError(t, err, "the stored token releases the restored hold")
}

func TestCancelRefundsOnceAndFreesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := patient()

	appt, err := f.svc.Book(ctx, p, f.bookCmd())
	require.NoError(t, err)
	f.events.Drain()

	cancelled, err := f.svc.Cancel(ctx, p, appt.ID, CancelCommand{Reason: ReasonScheduleConflict})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledBy)
	assert.Equal(t, InitiatorPatient, *cancelled.CancelledBy)
	require.NotNil(t, cancelled.RefundStatus)
	assert.Equal(t, payment.RefundRefunded, *cancelled.RefundStatus)
	assert.Equal(t, 1, f.provider.Reversals(appt.SettlementRef))
	assert.True(t, f.available(t, slot.NewTimeOfDay(10, 0)))
	assert.Equal(t, []notify.EventType{notify.EventAppointmentCancelled, notify.EventRefundIssued}, f.events.Types())

	stored, err := f.repo.GetByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.RefundRefunded, *stored.RefundStatus)

	_, err = f.svc.Cancel(ctx, p, appt.ID, CancelCommand{Reason: ReasonOther})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 1, f.provider.Reversals(appt.SettlementRef))

	rebooked, err := f.svc.Book(ctx, patient(), f.bookCmd())
	require.NoError(t, err)
	assert.Equal(t, StatusUpcoming, rebooked.Status)
}

func TestCancelRecordsFailedRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := patient()

	appt, err := f.svc.Book(ctx, p, f.bookCmd())
	require.NoError(t, err)
	f.events.Drain()
	f.provider.FailReversals = true

	cancelled, err := f.svc.Cancel(ctx, session.System(), appt.ID, CancelCommand{Reason: ReasonDoctorUnavailable})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, InitiatorSystem, *cancelled.CancelledBy)
	assert.Equal(t, payment.RefundFailed, *cancelled.RefundStatus)
	assert.Equal(t, []notify.EventType{notify.EventAppointmentCancelled}, f.events.Types())
}

func TestCancelAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, patient(), f.bookCmd())
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, patient(), appt.ID, CancelCommand{Reason: ReasonOther})
	assert.ErrorIs(t, err, session.ErrForbidden)

	_, err = f.svc.Cancel(ctx, session.System(), appt.ID, CancelCommand{Reason: "bored"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	doctor := session.Session{UserID: f.doctor.ID, Role: session.RoleDoctor}
	cancelled, err := f.svc.Cancel(ctx, doctor, appt.ID, CancelCommand{Reason: ReasonDoctorUnavailable})
	require.NoError(t, err)
	assert.Equal(t, InitiatorDoctor, *cancelled.CancelledBy)

	_, err = f.svc.Cancel(ctx, doctor, uuid.New(), CancelCommand{Reason: ReasonOther})
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestCompleteAfterScheduledTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := patient()
	doctor := session.Session{UserID: f.doctor.ID, Role: session.RoleDoctor}

	appt, err := f.svc.Book(ctx, p, f.bookCmd())
	require.NoError(t, err)
	f.events.Drain()

	_, err = f.svc.Complete(ctx, doctor, appt.ID, CompleteCommand{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.Complete(ctx, p, appt.ID, CompleteCommand{})
	assert.ErrorIs(t, err, session.ErrForbidden)

	*f.now = time.Date(2024, 2, 1, 10, 20, 0, 0, time.UTC)
	completed, err := f.svc.Complete(ctx, doctor, appt.ID, CompleteCommand{IssuePrescription: true, PrescriptionNotes: "Augmentin 625mg"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)
	require.NotNil(t, completed.PrescriptionID)

	rx, err := f.rx.Get(ctx, *completed.PrescriptionID)
	require.NoError(t, err)
	assert.Equal(t, prescription.StatusActive, rx.Status)
	assert.Equal(t, p.UserID, rx.PatientID)
	assert.Equal(t, []notify.EventType{notify.EventAppointmentCompleted}, f.events.Types())

	_, err = f.svc.Cancel(ctx, p, appt.ID, CancelCommand{Reason: ReasonOther})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.svc.Complete(ctx, doctor, appt.ID, CompleteCommand{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestGetAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := patient()

	appt, err := f.svc.Book(ctx, p, f.bookCmd())
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, p, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, got.ID)

	_, err = f.svc.Get(ctx, patient(), appt.ID)
	assert.ErrorIs(t, err, session.ErrForbidden)

	mine, err := f.svc.List(ctx, p, 0, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	schedule, err := f.svc.List(ctx, session.Session{UserID: f.doctor.ID, Role: session.RoleDoctor}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, schedule, 1)

	_, err = f.svc.Availability(ctx, f.doctor.ID, "Feb 1")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
