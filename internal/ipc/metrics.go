package ipc

import (
	"math"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultSlowRequestThreshold flags IPC requests slower than this in the
// metrics snapshot returned by the Metrics request.
const DefaultSlowRequestThreshold = 100 * time.Millisecond

// Metrics tracks per-request-type counts, latencies, and slow-request
// history for the IPC server, independent of any one connection.
type Metrics struct {
	mu sync.RWMutex

	requestCounts  map[string]int64
	requestErrors  map[string]int64
	requestLatency map[string][]time.Duration
	maxSamples     int

	totalConns    int64
	rejectedConns int64

	slowThreshold time.Duration
	slowCounts    map[string]int64
	recentSlow    []SlowRequestRecord
	maxSlow       int

	startTime time.Time
}

// SlowRequestRecord captures one request whose latency exceeded the
// slow-request threshold.
type SlowRequestRecord struct {
	RequestType string    `json:"request_type"`
	LatencyMS   float64   `json:"latency_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewMetrics returns a ready-to-use Metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCounts:  make(map[string]int64),
		requestErrors:  make(map[string]int64),
		requestLatency: make(map[string][]time.Duration),
		maxSamples:     1000,
		slowCounts:     make(map[string]int64),
		recentSlow:     make([]SlowRequestRecord, 0),
		maxSlow:        100,
		slowThreshold:  DefaultSlowRequestThreshold,
		startTime:      time.Now(),
	}
}

// RecordRequest records one completed request's type, latency, and whether
// the dispatcher returned an error response.
func (m *Metrics) RecordRequest(requestType string, latency time.Duration, failed bool) {
	now := time.Now()

	m.mu.Lock()
	m.requestCounts[requestType]++
	if failed {
		m.requestErrors[requestType]++
	}

	samples := m.requestLatency[requestType]
	if len(samples) >= m.maxSamples {
		samples = samples[1:]
	}
	m.requestLatency[requestType] = append(samples, latency)

	if m.slowThreshold > 0 && latency >= m.slowThreshold {
		m.slowCounts[requestType]++
		record := SlowRequestRecord{RequestType: requestType, LatencyMS: toMillis(latency), Timestamp: now}
		if len(m.recentSlow) >= m.maxSlow {
			m.recentSlow = m.recentSlow[1:]
		}
		m.recentSlow = append(m.recentSlow, record)
	}
	m.mu.Unlock()
}

// RecordConnection records a newly accepted connection.
func (m *Metrics) RecordConnection() { atomic.AddInt64(&m.totalConns, 1) }

// RecordRejectedConnection records a connection dropped because the
// server was already at its concurrency limit.
func (m *Metrics) RecordRejectedConnection() { atomic.AddInt64(&m.rejectedConns, 1) }

// MetricsSnapshot is a point-in-time view of the collected metrics.
type MetricsSnapshot struct {
	Timestamp        time.Time                `json:"timestamp"`
	UptimeSeconds    float64                  `json:"uptime_seconds"`
	Requests         []RequestTypeMetrics     `json:"requests"`
	TotalConns       int64                    `json:"total_connections"`
	ActiveConns      int                      `json:"active_connections"`
	RejectedConns    int64                    `json:"rejected_connections"`
	TotalSlow        int64                    `json:"total_slow_requests"`
	SlowThresholdMS  float64                  `json:"slow_threshold_ms"`
	RecentSlow       []SlowRequestRecord      `json:"recent_slow_requests,omitempty"`
	MemoryAllocMB    uint64                   `json:"memory_alloc_mb"`
	MemorySysMB      uint64                   `json:"memory_sys_mb"`
	GoroutineCount   int                      `json:"goroutine_count"`
}

// RequestTypeMetrics holds aggregate stats for one request type.
type RequestTypeMetrics struct {
	RequestType  string       `json:"request_type"`
	TotalCount   int64        `json:"total_count"`
	SuccessCount int64        `json:"success_count"`
	ErrorCount   int64        `json:"error_count"`
	SlowCount    int64        `json:"slow_count,omitempty"`
	Latency      LatencyStats `json:"latency,omitempty"`
}

// LatencyStats holds latency percentiles in milliseconds.
type LatencyStats struct {
	MinMS float64 `json:"min_ms"`
	P50MS float64 `json:"p50_ms"`
	P95MS float64 `json:"p95_ms"`
	P99MS float64 `json:"p99_ms"`
	MaxMS float64 `json:"max_ms"`
	AvgMS float64 `json:"avg_ms"`
}

// Snapshot returns a copy of the current metrics, given the number of
// currently active connections (tracked by the caller, not Metrics itself).
func (m *Metrics) Snapshot(activeConns int) MetricsSnapshot {
	m.mu.RLock()

	types := make(map[string]struct{})
	for t := range m.requestCounts {
		types[t] = struct{}{}
	}

	requests := make([]RequestTypeMetrics, 0, len(types))
	var totalSlow int64
	for t := range types {
		count := m.requestCounts[t]
		errs := m.requestErrors[t]
		success := count - errs
		if success < 0 {
			success = 0
		}
		slow := m.slowCounts[t]
		totalSlow += slow

		rm := RequestTypeMetrics{RequestType: t, TotalCount: count, SuccessCount: success, ErrorCount: errs, SlowCount: slow}
		if samples := m.requestLatency[t]; len(samples) > 0 {
			rm.Latency = latencyStats(samples)
		}
		requests = append(requests, rm)
	}

	recentSlow := make([]SlowRequestRecord, len(m.recentSlow))
	copy(recentSlow, m.recentSlow)
	slowThreshold := m.slowThreshold

	m.mu.RUnlock()

	sort.Slice(requests, func(i, j int) bool { return requests[i].TotalCount > requests[j].TotalCount })

	uptime := math.Ceil(time.Since(m.startTime).Seconds())
	if uptime == 0 {
		uptime = 1
	}

	allocMB, sysMB, goroutines := gcStats()

	return MetricsSnapshot{
		Timestamp:       time.Now(),
		UptimeSeconds:   uptime,
		Requests:        requests,
		TotalConns:      atomic.LoadInt64(&m.totalConns),
		ActiveConns:     activeConns,
		RejectedConns:   atomic.LoadInt64(&m.rejectedConns),
		TotalSlow:       totalSlow,
		SlowThresholdMS: toMillis(slowThreshold),
		RecentSlow:      recentSlow,
		MemoryAllocMB:   allocMB,
		MemorySysMB:     sysMB,
		GoroutineCount:  goroutines,
	}
}

func latencyStats(samples []time.Duration) LatencyStats {
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	idx := func(pct int) int {
		i := n * pct / 100
		if i >= n {
			i = n - 1
		}
		return i
	}

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return LatencyStats{
		MinMS: toMillis(sorted[0]),
		P50MS: toMillis(sorted[idx(50)]),
		P95MS: toMillis(sorted[idx(95)]),
		P99MS: toMillis(sorted[idx(99)]),
		MaxMS: toMillis(sorted[n-1]),
		AvgMS: toMillis(sum / time.Duration(n)),
	}
}

func toMillis(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// gcStats reports the process's current heap usage and goroutine count,
// attached to the Metrics snapshot alongside the request metrics.
func gcStats() (allocMB, sysMB uint64, goroutines int) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return mem.Alloc / 1024 / 1024, mem.Sys / 1024 / 1024, runtime.NumGoroutine()
}
