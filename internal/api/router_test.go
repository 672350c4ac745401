package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/care-fulfillment/internal/appointment"
	"github.com/hackgods/care-fulfillment/internal/metrics"
	"github.com/hackgods/care-fulfillment/internal/order"
	"github.com/hackgods/care-fulfillment/internal/payment"
	"github.com/hackgods/care-fulfillment/internal/prescription"
	"github.com/hackgods/care-fulfillment/internal/session"
	"github.com/hackgods/care-fulfillment/internal/slot"
)

type testServer struct {
	srv       *httptest.Server
	tokens    *session.Tokens
	doctor    appointment.Doctor
	augmentin order.Medicine
	panadol   order.Medicine
	rxRepo    *prescription.MemoryRepository
}

func newTestServer(t *testing.T, limiter *RateLimiter) *testServer {
	t.Helper()

	now := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	logger := zap.NewNop()
	reg := prometheus.NewRegistry()
	m := metrics.NewCollector(reg)

	apptRepo := appointment.NewMemoryRepository()
	doctor := appointment.Doctor{ID: uuid.New(), Name: "Dr. Ayesha Khan", Specialty: "General Physician", Fee: decimal.NewFromInt(2000)}
	apptRepo.AddDoctor(doctor)

	orderRepo := order.NewMemoryRepository()
	augmentin := order.Medicine{ID: uuid.New(), Name: "Augmentin 625mg", Price: decimal.NewFromInt(450), PrescriptionRequired: true}
	panadol := order.Medicine{ID: uuid.New(), Name: "Panadol", Price: decimal.NewFromInt(1800)}
	orderRepo.AddMedicine(augmentin)
	orderRepo.AddMedicine(panadol)

	rxRepo := prescription.NewMemoryRepository()
	gate := prescription.NewGate(rxRepo, prescription.NewMemoryDocumentStore(), 30*24*time.Hour, logger).WithClock(clock)
	settler := payment.NewSettler(payment.NewSimulatedProvider(), payment.SettlerConfig{Timeout: time.Second, PollInterval: time.Millisecond}, logger, m)

	appts := appointment.NewService(appointment.Deps{
		Repo:          apptRepo,
		Slots:         slot.NewMemoryRegistry(slot.DefaultGrid(), time.UTC).WithClock(clock),
		Payments:      settler,
		Prescriptions: gate,
		Logger:        logger,
		Metrics:       m,
	}).WithClock(clock)
	orders := order.NewService(order.Deps{
		Repo:     orderRepo,
		Gate:     gate,
		Payments: settler,
		Logger:   logger,
		Metrics:  m,
	}).WithClock(clock)

	tokens := session.NewTokens("test-secret")
	handler := NewRouter(RouterConfig{
		Appointments:  appts,
		Orders:        orders,
		Prescriptions: gate,
		Tokens:        tokens,
		Health: NewHealthHandler("test", "v0", Check{
			Name:     "postgres",
			Critical: true,
			Ping:     func(context.Context) error { return nil },
		}),
		Limiter:  limiter,
		Logger:   logger,
		Metrics:  m,
		Gatherer: reg,
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, tokens: tokens, doctor: doctor, augmentin: augmentin, panadol: panadol, rxRepo: rxRepo}
}

func (ts *testServer) token(t *testing.T, s session.Session) string {
	t.Helper()
	tok, err := ts.tokens.Issue(s, time.Hour)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func patientSession() session.Session {
	return session.Session{UserID: uuid.New(), Role: session.RolePatient}
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	var live LivenessResponse
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health/live", "", nil, &live))
	assert.Equal(t, "ok", live.Status)

	var ready ReadinessResponse
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health/ready", "", nil, &ready))
	assert.Equal(t, "ok", ready.Dependencies["postgres"])

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/metrics", "", nil, nil))
}

func TestReadinessReportsCriticalFailure(t *testing.T) {
	h := NewHealthHandler("test", "v0",
		Check{Name: "postgres", Critical: true, Ping: func(context.Context) error { return errors.New("down") }},
		Check{Name: "redis", Ping: func(context.Context) error { return nil }},
	)
	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp ReadinessResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "down", resp.Dependencies["postgres"])
	assert.Equal(t, "ok", resp.Dependencies["redis"])
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	ts := newTestServer(t, nil)

	var resp ErrorResponse
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/doctors", "", nil, &resp))
	assert.Equal(t, codeUnauthorized, resp.Error)

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/doctors", "garbage", nil, &resp))
}

func TestBookingFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	p := patientSession()
	tok := ts.token(t, p)

	var doctors []DoctorResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/doctors", tok, nil, &doctors))
	require.Len(t, doctors, 1)

	body := BookAppointmentRequest{
		DoctorID:      ts.doctor.ID.String(),
		Date:          "2024-02-01",
		Time:          "10:00 AM",
		Mode:          "in-person",
		PaymentMethod: "card",
	}
	var appt AppointmentResponse
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/appointments", tok, body, &appt))
	assert.Equal(t, "upcoming", appt.Status)
	assert.Equal(t, p.UserID, appt.PatientID)
	assert.Equal(t, "10:00 AM", appt.Time)

	var conflict ErrorResponse
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/appointments", ts.token(t, patientSession()), body, &conflict))
	assert.Equal(t, codeSlotUnavailable, conflict.Error)

	var avail AvailabilityResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/doctors/"+ts.doctor.ID.String()+"/availability?date=2024-02-01", tok, nil, &avail))
	for _, s := range avail.Slots {
		if s.Time == "10:00 AM" {
			assert.False(t, s.Available)
		}
	}

	var cancelled AppointmentResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", tok, CancelAppointmentRequest{Reason: "feeling_better"}, &cancelled))
	assert.Equal(t, "cancelled", cancelled.Status)
	require.NotNil(t, cancelled.RefundStatus)
	assert.Equal(t, "refunded", *cancelled.RefundStatus)

	var again ErrorResponse
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", tok, CancelAppointmentRequest{Reason: "other"}, &again))
	assert.Equal(t, codeInvalidTransition, again.Error)
}

func TestBookingErrorsMapToStableCodes(t *testing.T) {
	ts := newTestServer(t, nil)
	tok := ts.token(t, patientSession())

	cases := []struct {
		name   string
		body   BookAppointmentRequest
		status int
		code   string
	}{
		{"past", BookAppointmentRequest{DoctorID: ts.doctor.ID.String(), Date: "2024-01-30", Time: "10:00 AM", Mode: "video", PaymentMethod: "card"}, http.StatusUnprocessableEntity, codeScheduledInPast},
		{"unknown doctor", BookAppointmentRequest{DoctorID: uuid.NewString(), Date: "2024-02-01", Time: "10:00 AM", Mode: "video", PaymentMethod: "card"}, http.StatusNotFound, codeNotFound},
		{"bad doctor id", BookAppointmentRequest{DoctorID: "d1", Date: "2024-02-01", Time: "10:00 AM", Mode: "video", PaymentMethod: "card"}, http.StatusBadRequest, codeInvalidRequest},
		{"bad date", BookAppointmentRequest{DoctorID: ts.doctor.ID.String(), Date: "01/02/2024", Time: "10:00 AM", Mode: "video", PaymentMethod: "card"}, http.StatusBadRequest, codeInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var resp ErrorResponse
			assert.Equal(t, tc.status, ts.do(t, http.MethodPost, "/appointments", tok, tc.body, &resp))
			assert.Equal(t, tc.code, resp.Error)
			assert.NotEmpty(t, resp.Details)
		})
	}
}

func TestOrderFlowWithPrescription(t *testing.T) {
	ts := newTestServer(t, nil)
	p := patientSession()
	tok := ts.token(t, p)
	pharm := ts.token(t, session.Session{UserID: uuid.New(), Role: session.RolePharmacist})

	checkout := CheckoutRequest{
		Items:         []OrderItemRequest{{MedicineID: ts.augmentin.ID.String(), Quantity: 1}},
		Address:       order.Address{Recipient: "Sara Ahmed", Phone: "03001234567", Street: "12 Canal Road", City: "Lahore"},
		PaymentMethod: "easypaisa",
	}
	var o OrderResponse
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/orders", tok, checkout, &o))
	assert.Equal(t, "needs_prescription", o.Status)
	assert.True(t, o.DeliveryFee.Equal(decimal.NewFromInt(150)))

	var stuck ErrorResponse
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/orders/"+o.ID.String()+"/advance", pharm, nil, &stuck))
	assert.Equal(t, codeInvalidTransition, stuck.Error)

	rx, err := ts.rxRepo.Insert(context.Background(), prescription.Prescription{
		PatientID: p.UserID,
		Kind:      prescription.KindUpload,
		Status:    prescription.StatusVerified,
	})
	require.NoError(t, err)

	var attached OrderResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/orders/"+o.ID.String()+"/prescription", tok,
		ClaimRequest{Kind: "existing", PrescriptionID: rx.ID.String()}, &attached))
	assert.Equal(t, "pending", attached.Status)

	var advanced OrderResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/orders/"+o.ID.String()+"/advance", pharm, nil, &advanced))
	assert.Equal(t, "processing", advanced.Status)

	var forbidden ErrorResponse
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPost, "/orders/"+o.ID.String()+"/advance", tok, nil, &forbidden))
	assert.Equal(t, codeForbidden, forbidden.Error)

	var mine []OrderResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/orders", tok, nil, &mine))
	assert.Len(t, mine, 1)
}

func TestUploadReviewParksOrder(t *testing.T) {
	ts := newTestServer(t, nil)
	tok := ts.token(t, patientSession())
	pharm := ts.token(t, session.Session{UserID: uuid.New(), Role: session.RolePharmacist})

	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
	checkout := CheckoutRequest{
		Items:         []OrderItemRequest{{MedicineID: ts.augmentin.ID.String(), Quantity: 1}},
		Address:       order.Address{Recipient: "Sara Ahmed", Phone: "03001234567", Street: "12 Canal Road", City: "Lahore"},
		PaymentMethod: "card",
		Prescription:  &ClaimRequest{Kind: "upload", FileName: "rx.png", ContentType: "image/png", Data: png},
	}
	var o OrderResponse
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/orders", tok, checkout, &o))
	assert.Equal(t, "pending", o.Status)
	require.NotNil(t, o.PrescriptionID)

	var rx PrescriptionResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/prescriptions/"+o.PrescriptionID.String(), tok, nil, &rx))
	assert.Equal(t, "pending_review", rx.Status)

	var denied ErrorResponse
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPost, "/prescriptions/"+rx.ID.String()+"/review", tok, ReviewRequest{Verdict: "verified"}, &denied))

	var review ReviewResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/prescriptions/"+rx.ID.String()+"/review", pharm, ReviewRequest{Verdict: "rejected"}, &review))
	assert.Equal(t, "rejected", review.Prescription.Status)
	assert.Equal(t, []uuid.UUID{o.ID}, review.ParkedOrders)

	var twice ErrorResponse
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/prescriptions/"+rx.ID.String()+"/review", pharm, ReviewRequest{Verdict: "verified"}, &twice))
	assert.Equal(t, codeInvalidTransition, twice.Error)
}

func TestCancelShippedOrderFails(t *testing.T) {
	ts := newTestServer(t, nil)
	tok := ts.token(t, patientSession())
	pharm := ts.token(t, session.Session{UserID: uuid.New(), Role: session.RolePharmacist})

	checkout := CheckoutRequest{
		Items:         []OrderItemRequest{{MedicineID: ts.panadol.ID.String(), Quantity: 1}},
		Address:       order.Address{Recipient: "Sara Ahmed", Phone: "03001234567", Street: "12 Canal Road", City: "Lahore"},
		PaymentMethod: "cod",
	}
	var o OrderResponse
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/orders", tok, checkout, &o))
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/orders/"+o.ID.String()+"/advance", pharm, nil, nil))
	}

	var resp ErrorResponse
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/orders/"+o.ID.String()+"/cancel", tok, CancelOrderRequest{Reason: "changed_mind"}, &resp))
	assert.Equal(t, codeInvalidTransition, resp.Error)
}

func TestRateLimitedBooking(t *testing.T) {
	ts := newTestServer(t, NewRateLimiter(0.001, 1))
	tok := ts.token(t, patientSession())
	body := BookAppointmentRequest{DoctorID: ts.doctor.ID.String(), Date: "2024-02-01", Time: "09:00 AM", Mode: "video", PaymentMethod: "card"}

	assert.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/appointments", tok, body, nil))

	var resp ErrorResponse
	assert.Equal(t, http.StatusTooManyRequests, ts.do(t, http.MethodPost, "/appointments", tok, body, &resp))
	assert.Equal(t, codeRateLimited, resp.Error)

	// Other clients have their own bucket.
	other := ts.token(t, patientSession())
	body.Time = "09:30 AM"
	assert.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/appointments", other, body, nil))
}

func TestRateLimiterSweep(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.Allow("a")
	rl.Sweep(-time.Second)
	assert.Empty(t, rl.limiters)
}

func TestRequestIDIsEchoed(t *testing.T) {
	ts := newTestServer(t, nil)
	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/health/live", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "req-123", resp.Header.Get("X-Request-ID"))
}
