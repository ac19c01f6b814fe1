package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
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
	"github.com/rs/zerolog/log"

	"github.com/hackgods/donation-scheduling/internal/config"
	"github.com/hackgods/donation-scheduling/internal/db"
	"github.com/hackgods/donation-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	StatusRatio  float64
	ReadRatio    float64
	DonorLimit   int
	SlotCount    int
	PostgresDSN  string
}

// DataPool holds the ids the workers draw from. Slots are whole hours so two
// slots never share a contention window.
type DataPool struct {
	Donors  []string
	Centers []uuid.UUID
	Slots   []time.Time

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

// RemoveAppointment drops an appointment that no longer holds a place so it
// is never moved back into an occupying status.
func (dp *DataPool) RemoveAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	for i, a := range dp.appointments {
		if a == id {
			dp.appointments = append(dp.appointments[:i], dp.appointments[i+1:]...)
			return
		}
	}
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeConflict
	outcomeRejected
	outcomeError
)

func classify(err error, status, want int) outcome {
	switch {
	case err != nil:
		return outcomeError
	case status == want:
		return outcomeSuccess
	case status == http.StatusConflict:
		return outcomeConflict
	case status == http.StatusUnprocessableEntity:
		return outcomeRejected
	default:
		return outcomeError
	}
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Rejected  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, o outcome) {
	atomic.AddInt64(&om.Total, 1)
	switch o {
	case outcomeSuccess:
		atomic.AddInt64(&om.Success, 1)
	case outcomeConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case outcomeRejected:
		atomic.AddInt64(&om.Rejected, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking      OperationMetrics
	StatusChange OperationMetrics
	ReadByID     OperationMetrics
	ListByDonor  OperationMetrics
	ListByCenter OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

// statuses the simulator moves appointments to; scheduled is never chosen.
var simStatuses = []string{"confirmed", "arrived", "in-progress", "completed", "cancelled", "no-show"}

func main() {
	cfg := loadConfig()
	logging.Init("simulate", "dev", getEnv("LOG_LEVEL", "info"))

	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("status", cfg.StatusRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}

	log.Info().
		Int("donors", len(dataPool.Donors)).
		Int("centers", len(dataPool.Centers)).
		Int("slots", len(dataPool.Slots)).
		Msg("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	sim.Run()
	sim.PrintReport()

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelVerify()
	overbooked, err := findOverbookings(verifyCtx, pgPool)
	if err != nil {
		log.Fatal().Err(err).Msg("verify capacity")
	}
	if overbooked > 0 {
		log.Error().Int("appointments", overbooked).Msg("capacity exceeded for some bookings")
		os.Exit(1)
	}
	log.Info().Msg("no booking exceeded its center capacity")
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load base config")
	}

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		StatusRatio:  getFloat("SIM_STATUS_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		DonorLimit:   getInt("SIM_DONOR_LIMIT", 4000),
		SlotCount:    getInt("SIM_SLOT_COUNT", 48),
		PostgresDSN:  baseCfg.PostgresDSN,
	}

	total := cfg.BookingRatio + cfg.StatusRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.StatusRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.SlotCount <= 0 {
		return fmt.Errorf("SIM_SLOT_COUNT must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT hash FROM donors WHERE active LIMIT $1`, cfg.DonorLimit)
	if err != nil {
		return nil, fmt.Errorf("load donors: %w", err)
	}
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Donors = append(dataPool.Donors, hash)
	}
	rows.Close()

	rows, err = pool.Query(ctx, `SELECT id FROM donation_centers`)
	if err != nil {
		return nil, fmt.Errorf("load centers: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Centers = append(dataPool.Centers, id)
	}
	rows.Close()

	if len(dataPool.Donors) == 0 {
		return nil, fmt.Errorf("no donors loaded")
	}
	if len(dataPool.Centers) == 0 {
		return nil, fmt.Errorf("no centers loaded")
	}

	start := time.Now().UTC().Truncate(time.Hour).Add(24 * time.Hour)
	for i := 0; i < cfg.SlotCount; i++ {
		dataPool.Slots = append(dataPool.Slots, start.Add(time.Duration(i)*time.Hour))
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Info().Msg("simulation running")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	actor := fmt.Sprintf("sim-worker-%d", workerID)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng, actor)
			case r < s.config.BookingRatio+s.config.StatusRatio:
				s.doStatusChange(ctx, rng, actor)
			default:
				switch rng.Intn(3) {
				case 0:
					s.doReadByID(ctx, rng)
				case 1:
					s.doListByDonor(ctx, rng)
				case 2:
					s.doListByCenter(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) send(ctx context.Context, method, path string, body any, actor string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Booking-Channel", "simulator")
	if actor != "" {
		req.Header.Set("X-Actor-ID", actor)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	return resp.StatusCode, respBody, err
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand, actor string) {
	donationType := "whole_blood"
	if rng.Intn(2) == 0 {
		donationType = "plasma"
	}
	reqBody := map[string]string{
		"donor_hash":    s.pool.Donors[rng.Intn(len(s.pool.Donors))],
		"center_id":     s.pool.Centers[rng.Intn(len(s.pool.Centers))].String(),
		"scheduled_at":  s.pool.Slots[rng.Intn(len(s.pool.Slots))].Format(time.RFC3339),
		"donation_type": donationType,
	}

	start := time.Now()
	status, body, err := s.send(ctx, http.MethodPost, "/appointments", reqBody, actor)
	latency := time.Since(start)

	o := classify(err, status, http.StatusCreated)
	if o == outcomeSuccess {
		var apptResp struct {
			ID uuid.UUID `json:"id"`
		}
		if json.Unmarshal(body, &apptResp) == nil && apptResp.ID != uuid.Nil {
			s.pool.AddAppointment(apptResp.ID)
		}
	}

	s.metrics.Booking.Record(latency, o)
}

func (s *Simulator) doStatusChange(ctx context.Context, rng *rand.Rand, actor string) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	next := simStatuses[rng.Intn(len(simStatuses))]
	if next == "cancelled" || next == "no-show" {
		s.pool.RemoveAppointment(apptID)
	}

	start := time.Now()
	status, _, err := s.send(ctx, http.MethodPatch, "/appointments/"+apptID.String()+"/status",
		map[string]string{"status": next}, actor)
	s.metrics.StatusChange.Record(time.Since(start), classify(err, status, http.StatusOK))
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _, err := s.send(ctx, http.MethodGet, "/appointments/"+apptID.String(), nil, "")
	s.metrics.ReadByID.Record(time.Since(start), classify(err, status, http.StatusOK))
}

func (s *Simulator) doListByDonor(ctx context.Context, rng *rand.Rand) {
	donor := s.pool.Donors[rng.Intn(len(s.pool.Donors))]

	start := time.Now()
	status, _, err := s.send(ctx, http.MethodGet, "/appointments?donor_hash="+donor+"&limit=20&offset=0", nil, "")
	s.metrics.ListByDonor.Record(time.Since(start), classify(err, status, http.StatusOK))
}

func (s *Simulator) doListByCenter(ctx context.Context, rng *rand.Rand) {
	center := s.pool.Centers[rng.Intn(len(s.pool.Centers))]

	start := time.Now()
	status, _, err := s.send(ctx, http.MethodGet, "/appointments?center_id="+center.String(), nil, "")
	s.metrics.ListByCenter.Record(time.Since(start), classify(err, status, http.StatusOK))
}

// findOverbookings counts appointments that, at the moment they were
// created, found their center's contention window already full.
func findOverbookings(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT a.id
			FROM appointments a
			JOIN donation_centers c ON c.id = a.center_id
			JOIN appointments b
			  ON b.center_id = a.center_id
			 AND b.status NOT IN ('cancelled', 'no-show')
			 AND b.scheduled_at BETWEEN a.scheduled_at - interval '30 minutes' AND a.scheduled_at + interval '30 minutes'
			 AND b.created_at <= a.created_at
			WHERE a.status NOT IN ('cancelled', 'no-show')
			  AND a.booking_channel = 'simulator'
			GROUP BY a.id, c.capacity
			HAVING count(b.id) > COALESCE(c.capacity, 10)
		) over_capacity
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count overbookings: %w", err)
	}
	return n, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Status change", &s.metrics.StatusChange)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Donor", &s.metrics.ListByDonor)
	printOperationReport("List by Center", &s.metrics.ListByCenter)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	rejected := atomic.LoadInt64(&om.Rejected)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if rejected > 0 {
		fmt.Printf("  Ineligible: %d (%.1f%%)\n", rejected, pct(rejected))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
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

func repeat(s string, n int) string {
	return strings.Repeat(s, n)
}
