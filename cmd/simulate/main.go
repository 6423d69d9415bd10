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

	"github.com/brianvoe/gofakeit/v7"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-saga/internal/config"
	"github.com/hackgods/appointment-saga/internal/logging"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	BookingRatio  float64
	ListRatio     float64
	TrackRatio    float64
	InsuredPool   int
	ScheduleRange int
}

type booking struct {
	AppointmentID string
	InsuredID     string
}

// DataPool holds the generated insured ids and the bookings the run made.
type DataPool struct {
	Insured  []string
	mu       sync.RWMutex
	bookings []booking
}

func newDataPool(size int) *DataPool {
	seen := make(map[string]struct{}, size)
	dp := &DataPool{}
	for len(dp.Insured) < size {
		id := gofakeit.Numerify("#####")
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		dp.Insured = append(dp.Insured, id)
	}
	return dp
}

func (dp *DataPool) AddBooking(b booking) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, b)
}

func (dp *DataPool) GetRandomBooking(rng *rand.Rand) (booking, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.bookings) == 0 {
		return booking{}, false
	}
	return dp.bookings[rng.Intn(len(dp.bookings))], true
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
	Booking       OperationMetrics
	ListByInsured OperationMetrics
	// Track counts a booking found COMPLETED as success and one still in
	// flight as a conflict.
	Track OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	log     logrus.FieldLogger
	metrics Metrics
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load base config")
	}
	log := logging.New(baseCfg.LogLevel)

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	log.WithFields(logrus.Fields{
		"duration": cfg.Duration,
		"workers":  cfg.Workers,
		"booking":  cfg.BookingRatio,
		"list":     cfg.ListRatio,
		"track":    cfg.TrackRatio,
	}).Info("simulator starting")

	gofakeit.Seed(time.Now().UnixNano())

	sim := &Simulator{
		config: cfg,
		pool:   newDataPool(cfg.InsuredPool),
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
	log.WithField("insured", len(sim.pool.Insured)).Info("data pool generated")

	sim.Run()
	sim.PrintReport()
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:"+base.HTTPPort),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.5),
		ListRatio:     getFloat("SIM_LIST_RATIO", 0.3),
		TrackRatio:    getFloat("SIM_TRACK_RATIO", 0.2),
		InsuredPool:   getInt("SIM_INSURED_POOL", 2000),
		ScheduleRange: getInt("SIM_SCHEDULE_RANGE", 5000),
	}

	total := cfg.BookingRatio + cfg.ListRatio + cfg.TrackRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ListRatio /= total
		cfg.TrackRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return errors.New("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return errors.New("SIM_DURATION must be > 0")
	}
	if cfg.InsuredPool <= 0 || cfg.InsuredPool > 100000 {
		return errors.New("SIM_INSURED_POOL must be between 1 and 100000")
	}
	if cfg.ScheduleRange <= 0 {
		return errors.New("SIM_SCHEDULE_RANGE must be > 0")
	}
	return nil
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
	s.log.Info("simulation complete")
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
			case r < s.config.BookingRatio+s.config.ListRatio:
				s.doListByInsured(ctx, rng)
			default:
				s.doTrack(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	insuredID := s.pool.Insured[rng.Intn(len(s.pool.Insured))]
	country := "PE"
	if rng.Intn(2) == 1 {
		country = "CL"
	}

	body, _ := json.Marshal(map[string]any{
		"insuredId":  insuredID,
		"scheduleId": rng.Intn(s.config.ScheduleRange) + 1,
		"countryISO": country,
	})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var created struct {
				Data struct {
					AppointmentID string `json:"appointmentId"`
				} `json:"data"`
			}
			if json.NewDecoder(resp.Body).Decode(&created) == nil && created.Data.AppointmentID != "" {
				s.pool.AddBooking(booking{AppointmentID: created.Data.AppointmentID, InsuredID: insuredID})
			}
		case http.StatusConflict:
			conflict = true
		}
	}

	s.metrics.Booking.Record(latency, success, conflict)
}

type listResponse struct {
	Data []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
}

func (s *Simulator) list(ctx context.Context, insuredID string) (listResponse, time.Duration, error) {
	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/appointments/%s", s.config.APIBaseURL, insuredID), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return listResponse{}, latency, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return listResponse{}, latency, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var out listResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return listResponse{}, latency, err
	}
	return out, latency, nil
}

func (s *Simulator) doListByInsured(ctx context.Context, rng *rand.Rand) {
	insuredID := s.pool.Insured[rng.Intn(len(s.pool.Insured))]
	_, latency, err := s.list(ctx, insuredID)
	s.metrics.ListByInsured.Record(latency, err == nil, false)
}

func (s *Simulator) doTrack(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.GetRandomBooking(rng)
	if !ok {
		return
	}

	out, latency, err := s.list(ctx, b.InsuredID)
	if err != nil {
		s.metrics.Track.Record(latency, false, false)
		return
	}
	for _, a := range out.Data {
		if a.ID == b.AppointmentID {
			s.metrics.Track.Record(latency, a.Status == "COMPLETED", a.Status != "FAILED")
			return
		}
	}
	s.metrics.Track.Record(latency, false, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("List by Insured", &s.metrics.ListByInsured)
	printOperationReport("Track to COMPLETED", &s.metrics.Track)
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
		fmt.Printf("  Conflicts/in flight: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
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

func repeat(s string, n int) string {
	return strings.Repeat(s, n)
}
