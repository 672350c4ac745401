package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hackgods/care-fulfillment/internal/api"
	"github.com/hackgods/care-fulfillment/internal/logger"
	"github.com/hackgods/care-fulfillment/internal/session"
	"github.com/hackgods/care-fulfillment/internal/slot"
)

type SimConfig struct {
	APIBaseURL    string
	JWTSecret     string
	Duration      time.Duration
	Workers       int
	Patients      int
	DoctorLimit   int
	Days          int
	BookingRatio  float64
	CheckoutRatio float64
	ReadRatio     float64
}

type bookedSlot struct {
	doctorID uuid.UUID
	date     string
	time     string
}

// DataPool is what workers draw requests from. Booked records every slot the
// server confirmed so the report can detect double bookings.
type DataPool struct {
	Patients  []string // bearer tokens
	Doctors   []uuid.UUID
	Dates     []string
	Times     []string
	Medicines []uuid.UUID

	mu     sync.Mutex
	booked map[bookedSlot]int
}

func (dp *DataPool) RecordBooking(s bookedSlot) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.booked[s]++
}

func (dp *DataPool) DoubleBooked() int {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	n := 0
	for _, count := range dp.booked {
		if count > 1 {
			n++
		}
	}
	return n
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[len(latencies)/2]
	p95Idx := int(float64(len(latencies)) * 0.95)
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]
	return avg, min, max, p50, p95
}

type Metrics struct {
	Booking      OperationMetrics
	Checkout     OperationMetrics
	Availability OperationMetrics
	ListOwn      OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  *zap.Logger
	metrics Metrics
}

func main() {
	lg, err := logger.New(getEnv("LOG_LEVEL", "info"), "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		lg.Fatal("invalid config", zap.Error(err))
	}

	lg.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("booking", cfg.BookingRatio),
		zap.Float64("checkout", cfg.CheckoutRatio),
		zap.Float64("read", cfg.ReadRatio),
	)

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: lg,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sim.pool, err = sim.loadDataPool(ctx)
	if err != nil {
		lg.Fatal("load data pool", zap.Error(err))
	}
	lg.Info("data pool loaded",
		zap.Int("patients", len(sim.pool.Patients)),
		zap.Int("doctors", len(sim.pool.Doctors)),
		zap.Int("slots", len(sim.pool.Doctors)*len(sim.pool.Dates)*len(sim.pool.Times)),
		zap.Int("medicines", len(sim.pool.Medicines)),
	)

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	_ = godotenv.Load()

	cfg := SimConfig{
		APIBaseURL:    strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		Patients:      getInt("SIM_PATIENTS", 200),
		DoctorLimit:   getInt("SIM_DOCTOR_LIMIT", 3),
		Days:          getInt("SIM_DAYS", 2),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.6),
		CheckoutRatio: getFloat("SIM_CHECKOUT_RATIO", 0.2),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.2),
	}

	total := cfg.BookingRatio + cfg.CheckoutRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CheckoutRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required (must match the api-server)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Patients <= 0 || cfg.DoctorLimit <= 0 || cfg.Days <= 0 {
		return fmt.Errorf("SIM_PATIENTS, SIM_DOCTOR_LIMIT and SIM_DAYS must be > 0")
	}
	return nil
}

// loadDataPool mints patient tokens and reads the catalog through the API.
// Keeping the doctor set small concentrates bookings on few slots.
func (s *Simulator) loadDataPool(ctx context.Context) (*DataPool, error) {
	tokens := session.NewTokens(s.config.JWTSecret)
	dp := &DataPool{booked: make(map[bookedSlot]int)}

	for i := 0; i < s.config.Patients; i++ {
		tok, err := tokens.Issue(session.Session{UserID: uuid.New(), Role: session.RolePatient}, s.config.Duration+time.Hour)
		if err != nil {
			return nil, err
		}
		dp.Patients = append(dp.Patients, tok)
	}

	var doctors []api.DoctorResponse
	if err := s.getJSON(ctx, dp.Patients[0], "/doctors", &doctors); err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	for i, d := range doctors {
		if i >= s.config.DoctorLimit {
			break
		}
		dp.Doctors = append(dp.Doctors, d.ID)
	}

	var meds []api.MedicineResponse
	if err := s.getJSON(ctx, dp.Patients[0], "/medicines", &meds); err != nil {
		return nil, fmt.Errorf("load medicines: %w", err)
	}
	for _, m := range meds {
		if !m.PrescriptionRequired {
			dp.Medicines = append(dp.Medicines, m.ID)
		}
	}

	today := time.Now().UTC()
	for d := 1; d <= s.config.Days; d++ {
		dp.Dates = append(dp.Dates, today.AddDate(0, 0, d).Format(slot.DateLayout))
	}
	for _, t := range slot.DefaultGrid().Times() {
		dp.Times = append(dp.Times, t.String())
	}

	if len(dp.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors returned by %s/doctors", s.config.APIBaseURL)
	}
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.CheckoutRatio:
				s.doCheckout(ctx, rng)
			default:
				if rng.Intn(2) == 0 {
					s.doAvailability(ctx, rng)
				} else {
					s.doListOwn(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	target := bookedSlot{
		doctorID: s.pool.Doctors[rng.Intn(len(s.pool.Doctors))],
		date:     s.pool.Dates[rng.Intn(len(s.pool.Dates))],
		time:     s.pool.Times[rng.Intn(len(s.pool.Times))],
	}
	body := api.BookAppointmentRequest{
		DoctorID:      target.doctorID.String(),
		Date:          target.date,
		Time:          target.time,
		Mode:          "video",
		PaymentMethod: "card",
	}

	status, latency, err := s.post(ctx, s.randomPatient(rng), "/appointments", body)
	if err == nil && status == http.StatusCreated {
		s.pool.RecordBooking(target)
	}
	s.metrics.Booking.Record(latency, err == nil && status == http.StatusCreated, status == http.StatusConflict)
}

func (s *Simulator) doCheckout(ctx context.Context, rng *rand.Rand) {
	if len(s.pool.Medicines) == 0 {
		return
	}
	body := api.CheckoutRequest{
		Items: []api.OrderItemRequest{{
			MedicineID: s.pool.Medicines[rng.Intn(len(s.pool.Medicines))].String(),
			Quantity:   1 + rng.Intn(3),
		}},
		PaymentMethod: "cod",
	}
	body.Address.Recipient = "Load Test"
	body.Address.Phone = "03000000000"
	body.Address.Street = "1 Mall Road"
	body.Address.City = "Lahore"

	status, latency, err := s.post(ctx, s.randomPatient(rng), "/orders", body)
	s.metrics.Checkout.Record(latency, err == nil && status == http.StatusCreated, false)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	date := s.pool.Dates[rng.Intn(len(s.pool.Dates))]

	status, latency, err := s.get(ctx, s.randomPatient(rng), fmt.Sprintf("/doctors/%s/availability?date=%s", doctorID, date))
	s.metrics.Availability.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doListOwn(ctx context.Context, rng *rand.Rand) {
	status, latency, err := s.get(ctx, s.randomPatient(rng), "/appointments?limit=20&offset=0")
	s.metrics.ListOwn.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) randomPatient(rng *rand.Rand) string {
	return s.pool.Patients[rng.Intn(len(s.pool.Patients))]
}

func (s *Simulator) post(ctx context.Context, token, path string, payload any) (int, time.Duration, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req, token)
}

func (s *Simulator) get(ctx context.Context, token, path string) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+path, nil)
	if err != nil {
		return 0, 0, err
	}
	return s.do(req, token)
}

func (s *Simulator) do(req *http.Request, token string) (int, time.Duration, error) {
	req.Header.Set("Authorization", "Bearer "+token)
	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, latency, nil
}

func (s *Simulator) getJSON(ctx context.Context, token, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Checkout", &s.metrics.Checkout)
	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("List own appointments", &s.metrics.ListOwn)

	if n := s.pool.DoubleBooked(); n > 0 {
		fmt.Printf("DOUBLE BOOKED SLOTS: %d\n", n)
		os.Exit(1)
	}
	fmt.Println("No slot was confirmed twice.")
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
