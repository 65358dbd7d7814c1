package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/telederm-scheduling/internal/api"
	"github.com/hackgods/telederm-scheduling/internal/config"
	"github.com/hackgods/telederm-scheduling/internal/db"
	"github.com/hackgods/telederm-scheduling/internal/payment"
	"github.com/hackgods/telederm-scheduling/pkg/logging"
)

type SimConfig struct {
	APIBaseURL    string
	Mode          string // race, mixed
	Duration      time.Duration
	Workers       int
	BookingRatio  float64
	PayRatio      float64
	CancelRatio   float64
	DaysAhead     int
	PatientLimit  int
	ProviderLimit int
	PostgresDSN   string
	JWTSecret     string
	WebhookSecret string
}

type booked struct {
	ID        uuid.UUID
	PatientID uuid.UUID
}

type DataPool struct {
	Patients  []uuid.UUID
	Providers []uuid.UUID

	mu     sync.Mutex
	booked []booked
	tokens map[uuid.UUID]string
}

func (dp *DataPool) AddBooking(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.booked = append(dp.booked, b)
}

// TakeBooking removes and returns a random booking so one appointment is
// never paid and cancelled by two workers at once.
func (dp *DataPool) TakeBooking(rng *rand.Rand) (booked, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.booked) == 0 {
		return booked{}, false
	}
	idx := rng.Intn(len(dp.booked))
	b := dp.booked[idx]
	dp.booked[idx] = dp.booked[len(dp.booked)-1]
	dp.booked = dp.booked[:len(dp.booked)-1]
	return b, true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.Latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pick := func(pct int) time.Duration {
		idx := len(latencies) * pct / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}
	return sum / time.Duration(len(latencies)), pick(50), pick(95), latencies[len(latencies)-1]
}

type Metrics struct {
	Booking      OperationMetrics
	Availability OperationMetrics
	Payment      OperationMetrics
	Cancel       OperationMetrics
	List         OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  *logging.Logger
}

func main() {
	logger := logging.New("info").With("service", "simulate")

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	logger.Info("simulator starting", "mode", cfg.Mode, "workers", cfg.Workers, "duration", cfg.Duration)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	pgPool.Close()
	if err != nil {
		logger.Error("load data pool", "error", err)
		os.Exit(1)
	}
	logger.Info("data pool loaded", "patients", len(dataPool.Patients), "providers", len(dataPool.Providers))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	switch cfg.Mode {
	case "race":
		if err := sim.RunRace(context.Background()); err != nil {
			logger.Error("race failed", "error", err)
			os.Exit(1)
		}
	default:
		sim.RunMixed()
		sim.PrintReport()
	}
}

func loadConfig() (SimConfig, error) {
	base, err := config.Load()
	if err != nil {
		return SimConfig{}, err
	}

	cfg := SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Mode:          getEnv("SIM_MODE", "mixed"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.4),
		PayRatio:      getFloat("SIM_PAY_RATIO", 0.2),
		CancelRatio:   getFloat("SIM_CANCEL_RATIO", 0.1),
		DaysAhead:     getInt("SIM_DAYS_AHEAD", 14),
		PatientLimit:  getInt("SIM_PATIENT_LIMIT", 500),
		ProviderLimit: getInt("SIM_PROVIDER_LIMIT", 20),
		PostgresDSN:   base.PostgresDSN,
		JWTSecret:     base.JWTSecret,
		WebhookSecret: base.PaymentWebhookSecret,
	}

	switch {
	case cfg.JWTSecret == "":
		return cfg, errors.New("JWT_SECRET is required to sign simulator tokens")
	case cfg.Workers <= 0:
		return cfg, errors.New("SIM_WORKERS must be > 0")
	case cfg.Duration <= 0:
		return cfg, errors.New("SIM_DURATION must be > 0")
	case cfg.DaysAhead <= 0:
		return cfg, errors.New("SIM_DAYS_AHEAD must be > 0")
	}
	return cfg, nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{tokens: make(map[uuid.UUID]string)}

	load := func(query string, limit int) ([]uuid.UUID, error) {
		rows, err := pool.Query(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var ids []uuid.UUID
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, rows.Err()
	}

	var err error
	if dataPool.Patients, err = load(`SELECT id FROM patients LIMIT $1`, cfg.PatientLimit); err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	if dataPool.Providers, err = load(`
		SELECT DISTINCT provider_id FROM provider_availability LIMIT $1
	`, cfg.ProviderLimit); err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}

	if len(dataPool.Patients) == 0 {
		return nil, errors.New("no patients loaded, run cmd/seed first")
	}
	if len(dataPool.Providers) == 0 {
		return nil, errors.New("no providers with availability loaded, run cmd/seed first")
	}

	for _, id := range dataPool.Patients {
		token, err := api.IssueToken(cfg.JWTSecret, id, "patient", 24*time.Hour)
		if err != nil {
			return nil, err
		}
		dataPool.tokens[id] = token
	}
	return dataPool, nil
}

// RunRace sends one booking per worker for the same provider, date and slot
// at the same instant. Exactly one must win.
func (s *Simulator) RunRace(ctx context.Context) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	patient := s.pool.Patients[0]

	var providerID uuid.UUID
	var date, slot string
	for _, candidate := range s.pool.Providers {
		for day := 1; day <= s.config.DaysAhead && slot == ""; day++ {
			d := time.Now().UTC().AddDate(0, 0, day).Format("2006-01-02")
			open, _, err := s.availability(ctx, patient, candidate, d)
			if err == nil && len(open) > 0 {
				providerID, date, slot = candidate, d, open[rng.Intn(len(open))]
			}
		}
		if slot != "" {
			break
		}
	}
	if slot == "" {
		return errors.New("no open slot found to race for")
	}
	s.logger.Info("racing for slot", "provider_id", providerID, "date", date, "time", slot, "contenders", s.config.Workers)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		patientID := s.pool.Patients[i%len(s.pool.Patients)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			s.book(ctx, patientID, providerID, date, slot)
		}()
	}
	close(start)
	wg.Wait()

	s.PrintReport()
	if won := atomic.LoadInt64(&s.metrics.Booking.Success); won != 1 {
		return fmt.Errorf("expected exactly one winner, got %d", won)
	}
	return nil
}

func (s *Simulator) RunMixed() {
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

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.PayRatio:
			s.doPayment(ctx, rng)
		case r < s.config.BookingRatio+s.config.PayRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			s.doList(ctx, rng)
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	providerID := s.pool.Providers[rng.Intn(len(s.pool.Providers))]
	date := time.Now().UTC().AddDate(0, 0, 1+rng.Intn(s.config.DaysAhead)).Format("2006-01-02")

	open, _, err := s.availability(ctx, patientID, providerID, date)
	if err != nil || len(open) == 0 {
		return
	}
	s.book(ctx, patientID, providerID, date, open[rng.Intn(len(open))])
}

func (s *Simulator) book(ctx context.Context, patientID, providerID uuid.UUID, date, slot string) {
	body, _ := json.Marshal(api.BookAppointmentRequest{
		ProviderID:       providerID.String(),
		Date:             date,
		Time:             slot,
		ConsultationType: "video",
		Symptoms:         "simulated rash",
	})

	var created api.AppointmentResponse
	start := time.Now()
	status, err := s.do(ctx, http.MethodPost, "/appointments", s.pool.tokens[patientID], body, &created)
	s.metrics.Booking.Record(time.Since(start), statusOrError(status, err))

	if status == http.StatusCreated && created.ID != uuid.Nil {
		s.pool.AddBooking(booked{ID: created.ID, PatientID: patientID})
	}
}

func (s *Simulator) availability(ctx context.Context, patientID, providerID uuid.UUID, date string) ([]string, int, error) {
	var resp api.AvailabilityResponse
	start := time.Now()
	status, err := s.do(ctx, http.MethodGet,
		fmt.Sprintf("/providers/%s/availability?date=%s", providerID, date), s.pool.tokens[patientID], nil, &resp)
	s.metrics.Availability.Record(time.Since(start), statusOrError(status, err))
	if err != nil {
		return nil, status, err
	}
	return resp.Slots, status, nil
}

// doPayment plays the gateway: most intents succeed, some fail.
func (s *Simulator) doPayment(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.TakeBooking(rng)
	if !ok {
		return
	}
	cb := api.PaymentCallbackRequest{
		AppointmentID: b.ID.String(),
		PaymentID:     "pay_sim_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		Verified:      rng.Float64() < 0.9,
	}
	if !cb.Verified {
		cb.Reason = "card_declined"
	}
	body, _ := json.Marshal(cb)

	start := time.Now()
	status, err := s.doSigned(ctx, "/payments/callback", body)
	s.metrics.Payment.Record(time.Since(start), statusOrError(status, err))
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.TakeBooking(rng)
	if !ok {
		return
	}
	body, _ := json.Marshal(api.CancelAppointmentRequest{Reason: "simulated change of plans"})

	start := time.Now()
	status, err := s.do(ctx, http.MethodPost, "/appointments/"+b.ID.String()+"/cancel", s.pool.tokens[b.PatientID], body, nil)
	s.metrics.Cancel.Record(time.Since(start), statusOrError(status, err))
}

func (s *Simulator) doList(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	status, err := s.do(ctx, http.MethodGet, "/appointments?limit=20&offset=0", s.pool.tokens[patientID], nil, nil)
	s.metrics.List.Record(time.Since(start), statusOrError(status, err))
}

func (s *Simulator) do(ctx context.Context, method, path, token string, body []byte, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.send(req, out)
}

func (s *Simulator) doSigned(ctx context.Context, path string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Payment-Signature", payment.Sign(s.config.WebhookSecret, body))
	return s.send(req, nil)
}

func (s *Simulator) send(req *http.Request, out any) (int, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func statusOrError(status int, err error) int {
	if err != nil {
		return 0
	}
	return status
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Mode: %s  Workers: %d\n\n", s.config.Mode, s.config.Workers)

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("Payment callback", &s.metrics.Payment)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("List appointments", &s.metrics.List)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
}

// Helper functions

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
