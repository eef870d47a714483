package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/api"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	HoldRatio    float64
	ConfirmRatio float64
	ReadRatio    float64
	HotSlots     int
	Horizon      time.Duration
	PatientLimit int
	DoctorLimit  int
	PostgresDSN  string
}

type heldAppointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
}

type DataPool struct {
	Doctors      []uuid.UUID
	Patients     []uuid.UUID
	mu           sync.RWMutex
	appointments []heldAppointment
}

func (dp *DataPool) AddAppointment(a heldAppointment) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, a)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (heldAppointment, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return heldAppointment{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
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
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
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

	n := len(latencies)
	avg = sum / time.Duration(n)
	lo = latencies[0]
	hi = latencies[n-1]
	p50 = latencies[min(n*50/100, n-1)]
	p95 = latencies[min(n*95/100, n-1)]
	return avg, lo, hi, p50, p95
}

type Metrics struct {
	Slots   OperationMetrics
	Hold    OperationMetrics
	Confirm OperationMetrics
	Read    OperationMetrics
	List    OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  *zap.Logger

	// doctor id -> recently fetched hot slots
	slotCache sync.Map
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(baseCfg.Env, baseCfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		logger.Fatal("invalid simulator config", zap.Error(err))
	}

	logger.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("hold", cfg.HoldRatio),
		zap.Float64("confirm", cfg.ConfirmRatio),
		zap.Float64("read", cfg.ReadRatio),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	pgPool.Close()
	if err != nil {
		logger.Fatal("load data pool", zap.Error(err))
	}
	logger.Info("data pool loaded", zap.Int("doctors", len(dataPool.Doctors)), zap.Int("patients", len(dataPool.Patients)))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		HoldRatio:    getFloat("SIM_HOLD_RATIO", 0.5),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		HotSlots:     getInt("SIM_HOT_SLOTS", 3),
		Horizon:      getDuration("SIM_HORIZON", 7*24*time.Hour),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 4000),
		DoctorLimit:  getInt("SIM_DOCTOR_LIMIT", 5),
		PostgresDSN:  base.PostgresDSN,
	}

	total := cfg.HoldRatio + cfg.ConfirmRatio + cfg.ReadRatio
	if total > 0 {
		cfg.HoldRatio /= total
		cfg.ConfirmRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return errors.New("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return errors.New("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return errors.New("SIM_DURATION must be > 0")
	}
	if cfg.HotSlots <= 0 {
		return errors.New("SIM_HOT_SLOTS must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	load := func(role string, limit int, dst *[]uuid.UUID) error {
		rows, err := pool.Query(ctx, `SELECT id FROM users WHERE role = $1 ORDER BY created_at LIMIT $2`, role, limit)
		if err != nil {
			return fmt.Errorf("load %ss: %w", role, err)
		}
		defer rows.Close()
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return err
			}
			*dst = append(*dst, id)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(*dst) == 0 {
			return fmt.Errorf("no %ss loaded, run cmd/seed first", role)
		}
		return nil
	}

	if err := load("doctor", cfg.DoctorLimit, &dataPool.Doctors); err != nil {
		return nil, err
	}
	if err := load("patient", cfg.PatientLimit, &dataPool.Patients); err != nil {
		return nil, err
	}
	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info("simulation running")

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
			case r < s.config.HoldRatio:
				s.doHold(ctx, rng)
			case r < s.config.HoldRatio+s.config.ConfirmRatio:
				s.doConfirm(ctx, rng)
			default:
				if rng.Intn(2) == 0 {
					s.doRead(ctx, rng)
				} else {
					s.doListByPatient(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) newRequest(ctx context.Context, method, path string, actor uuid.UUID, role string, body any) (*http.Request, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.HeaderActorID, actor.String())
	req.Header.Set(api.HeaderActorRole, role)
	return req, nil
}

// call sends req and records the outcome on om. want is the success status,
// conflicts are statuses counted as lost races. On success the body is
// decoded into out when out is non-nil.
func (s *Simulator) call(req *http.Request, om *OperationMetrics, out any, want int, conflicts ...int) bool {
	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		om.Record(latency, false, false)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode == want {
		if out != nil && json.NewDecoder(resp.Body).Decode(out) != nil {
			om.Record(latency, false, false)
			return false
		}
		om.Record(latency, true, false)
		return true
	}
	om.Record(latency, false, slices.Contains(conflicts, resp.StatusCode))
	return false
}

type cachedSlots struct {
	at    time.Time
	slots []api.SlotResponse
}

// hotSlots returns the first few open slots of a doctor. Results are cached
// for a second so concurrent workers aim at the same starts.
func (s *Simulator) hotSlots(ctx context.Context, doctorID, patientID uuid.UUID) []api.SlotResponse {
	if v, ok := s.slotCache.Load(doctorID); ok {
		if e := v.(cachedSlots); time.Since(e.at) < time.Second {
			return e.slots
		}
	}

	now := time.Now().UTC()
	q := url.Values{}
	q.Set("from", now.Format(time.RFC3339))
	q.Set("to", now.Add(s.config.Horizon).Format(time.RFC3339))

	req, err := s.newRequest(ctx, http.MethodGet, "/doctors/"+doctorID.String()+"/slots?"+q.Encode(), patientID, "patient", nil)
	if err != nil {
		return nil
	}
	var slots []api.SlotResponse
	if !s.call(req, &s.metrics.Slots, &slots, http.StatusOK) {
		return nil
	}

	if len(slots) > s.config.HotSlots {
		slots = slots[:s.config.HotSlots]
	}
	s.slotCache.Store(doctorID, cachedSlots{at: time.Now(), slots: slots})
	return slots
}

func (s *Simulator) doHold(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	slots := s.hotSlots(ctx, doctorID, patientID)
	if len(slots) == 0 {
		return
	}
	slot := slots[rng.Intn(len(slots))]

	req, err := s.newRequest(ctx, http.MethodPost, "/holds", patientID, "patient", api.HoldRequest{
		DoctorID: doctorID.String(),
		Slots: []api.SlotRequest{{
			Start: slot.Start.Format(time.RFC3339),
			End:   slot.End.Format(time.RFC3339),
		}},
	})
	if err != nil {
		return
	}

	var held []api.AppointmentResponse
	if !s.call(req, &s.metrics.Hold, &held, http.StatusCreated, http.StatusConflict) {
		return
	}
	for _, a := range held {
		s.pool.AddAppointment(heldAppointment{ID: a.ID, PatientID: patientID})
	}
	s.slotCache.Delete(doctorID)
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	req, err := s.newRequest(ctx, http.MethodPost, "/appointments/"+appt.ID.String()+"/confirm", appt.PatientID, "patient", nil)
	if err != nil {
		return
	}
	// 404: the hold lapsed and was swept.
	s.call(req, &s.metrics.Confirm, nil, http.StatusOK, http.StatusConflict, http.StatusNotFound)
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	req, err := s.newRequest(ctx, http.MethodGet, "/appointments/"+appt.ID.String(), appt.PatientID, "patient", nil)
	if err != nil {
		return
	}
	s.call(req, &s.metrics.Read, nil, http.StatusOK)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	req, err := s.newRequest(ctx, http.MethodGet, "/appointments?patient_id="+patientID.String(), patientID, "patient", nil)
	if err != nil {
		return
	}
	s.call(req, &s.metrics.List, nil, http.StatusOK)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Doctors: %d, hot slots per doctor: %d\n", len(s.pool.Doctors), s.config.HotSlots)
	fmt.Println()

	printOperationReport("Slots", &s.metrics.Slots)
	printOperationReport("Hold", &s.metrics.Hold)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Read by ID", &s.metrics.Read)
	printOperationReport("List by Patient", &s.metrics.List)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

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
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
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
