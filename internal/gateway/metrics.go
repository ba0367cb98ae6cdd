package gateway

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	Clients    prometheus.Gauge
	Broadcasts *prometheus.CounterVec
	Commands   *prometheus.CounterVec
}

// NewMetrics creates and registers gateway metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bitbot_gateway_ws_clients",
			Help: "Connected dashboard WebSocket clients.",
		}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bitbot_gateway_broadcasts_total",
			Help: "Messages relayed to dashboard clients, by message type.",
		}, []string{"type"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bitbot_gateway_commands_total",
			Help: "Operator commands forwarded to the bot, by action and result.",
		}, []string{"action", "result"}),
	}
	reg.MustRegister(m.Clients, m.Broadcasts, m.Commands)
	return m
}

// SystemMetrics is the host resource panel shown on the dashboard.
type SystemMetrics struct {
	CPUPercent  float64 `json:"cpu_percent"`
	CPUCores    int     `json:"cpu_cores"`
	Load1       float64 `json:"load_1"`
	MemUsedMB   float64 `json:"mem_used_mb"`
	MemTotalMB  float64 `json:"mem_total_mb"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	Goroutines  int     `json:"goroutines"`
	UptimeSec   int64   `json:"uptime_sec"`
	LatencyP50  float64 `json:"latency_p50_ms"`
	LatencyP95  float64 `json:"latency_p95_ms"`
	LatencyP99  float64 `json:"latency_p99_ms"`
}

// SystemSampler reads host metrics from /proc. CPU percent is the delta
// between consecutive Collect calls.
type SystemSampler struct {
	start   time.Time
	procDir string

	mu        sync.Mutex
	prevIdle  uint64
	prevTotal uint64
}

// NewSystemSampler creates a sampler measuring uptime from start.
func NewSystemSampler(start time.Time) *SystemSampler {
	return &SystemSampler{start: start, procDir: "/proc"}
}

// Collect gathers one sample. Fields that cannot be read stay zero.
func (s *SystemSampler) Collect() SystemMetrics {
	m := SystemMetrics{
		CPUCores:   runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
		UptimeSec:  int64(time.Since(s.start).Seconds()),
	}

	if idle, total, ok := s.readCPU(); ok {
		s.mu.Lock()
		if s.prevTotal > 0 && total > s.prevTotal {
			dTotal := float64(total - s.prevTotal)
			dIdle := float64(idle - s.prevIdle)
			m.CPUPercent = (1.0 - dIdle/dTotal) * 100.0
		}
		s.prevIdle, s.prevTotal = idle, total
		s.mu.Unlock()
	}

	if fields := s.firstLineFields("loadavg"); len(fields) >= 1 {
		m.Load1, _ = strconv.ParseFloat(fields[0], 64)
	}

	if total, avail, ok := s.readMem(); ok {
		m.MemTotalMB = float64(total) / 1024
		m.MemUsedMB = float64(total-avail) / 1024
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.HeapAllocMB = float64(ms.HeapAlloc) / 1024 / 1024
	return m
}

func (s *SystemSampler) firstLineFields(name string) []string {
	f, err := os.Open(s.procDir + "/" + name)
	if err != nil {
		return nil
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return nil
	}
	return strings.Fields(sc.Text())
}

func (s *SystemSampler) readCPU() (idle, total uint64, ok bool) {
	fields := s.firstLineFields("stat")
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, false
	}
	for i := 1; i < len(fields); i++ {
		v, _ := strconv.ParseUint(fields[i], 10, 64)
		total += v
		if i == 4 {
			idle = v
		}
	}
	return idle, total, true
}

func (s *SystemSampler) readMem() (total, avail uint64, ok bool) {
	f, err := os.Open(s.procDir + "/meminfo")
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		v, _ := strconv.ParseUint(fields[1], 10, 64)
		switch fields[0] {
		case "MemTotal:":
			total = v
		case "MemAvailable:":
			avail = v
		}
	}
	return total, avail, total > 0
}
