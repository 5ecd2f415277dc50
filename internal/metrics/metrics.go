package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// CacheResult indicates whether a file's result came from the cache
type CacheResult string

const (
	CacheHit  CacheResult = "hit"
	CacheMiss CacheResult = "miss"
)

// TraversalEvent captures metrics for one file traversal
type TraversalEvent struct {
	// Identification
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	FilePath  string    `json:"file_path"`
	State     string    `json:"state"`

	// Walk
	Nodes       int           `json:"nodes"`
	Invocations int           `json:"invocations"`
	Candidates  int           `json:"candidates"`
	Duration    time.Duration `json:"duration"`

	// Results
	DiagnosticCount int            `json:"diagnostic_count"`
	FailureCount    int            `json:"failure_count"`
	ByRule          map[string]int `json:"by_rule,omitempty"`

	CacheResult CacheResult `json:"cache_result"`
	Error       string      `json:"error,omitempty"`
}

// AggregateStats holds computed aggregate statistics
type AggregateStats struct {
	// Counts
	TotalFiles       int64 `json:"total_files"`
	AbortedFiles     int64 `json:"aborted_files"`
	TotalDiagnostics int64 `json:"total_diagnostics"`
	TotalFailures    int64 `json:"total_failures"`
	TotalInvocations int64 `json:"total_invocations"`
	TotalCandidates  int64 `json:"total_candidates"`

	// Latency stats (in milliseconds for JSON readability)
	AvgDurationMs float64 `json:"avg_duration_ms"`
	P50DurationMs float64 `json:"p50_duration_ms"`
	P95DurationMs float64 `json:"p95_duration_ms"`
	P99DurationMs float64 `json:"p99_duration_ms"`
	MaxDurationMs float64 `json:"max_duration_ms"`

	// Cache stats
	CacheHits    int64   `json:"cache_hits"`
	CacheMisses  int64   `json:"cache_misses"`
	CacheHitRate float64 `json:"cache_hit_rate"`

	// Throughput
	FilesPerMinute     float64 `json:"files_per_minute"`
	DiagnosticsPerFile float64 `json:"diagnostics_per_file"`
	CandidateRate      float64 `json:"candidate_rate"` // candidates per invocation

	ByRule  map[string]int64 `json:"by_rule"`
	ByState map[string]int64 `json:"by_state"`

	// Time window
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

// atomicCounters holds atomic counters for real-time stats
type atomicCounters struct {
	totalFiles       atomic.Int64
	abortedFiles     atomic.Int64
	totalDiagnostics atomic.Int64
	totalFailures    atomic.Int64
	totalInvocations atomic.Int64
	totalCandidates  atomic.Int64
	cacheHits        atomic.Int64
	cacheMisses      atomic.Int64
}

// Collector collects and stores traversal metrics
type Collector struct {
	mu       sync.RWMutex
	events   []TraversalEvent
	counters atomicCounters
	byRule   map[string]int64

	// Configuration
	maxEvents  int
	windowSize time.Duration
	prom       *Prometheus

	// Start time for throughput calculation
	startTime time.Time
}

// CollectorOption configures a Collector
type CollectorOption func(*Collector)

// WithMaxEvents sets the maximum number of events to retain
func WithMaxEvents(n int) CollectorOption {
	return func(c *Collector) {
		c.maxEvents = n
	}
}

// WithWindowSize sets the time window for aggregate stats
func WithWindowSize(d time.Duration) CollectorOption {
	return func(c *Collector) {
		c.windowSize = d
	}
}

// WithPrometheus mirrors every recorded event into p
func WithPrometheus(p *Prometheus) CollectorOption {
	return func(c *Collector) {
		c.prom = p
	}
}

// NewCollector creates a new metrics collector
func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{
		events:     make([]TraversalEvent, 0, 1000),
		byRule:     make(map[string]int64),
		maxEvents:  10000,
		windowSize: 1 * time.Hour,
		startTime:  time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Record adds a traversal event to the collector
func (c *Collector) Record(event TraversalEvent) {
	c.counters.totalFiles.Add(1)
	c.counters.totalDiagnostics.Add(int64(event.DiagnosticCount))
	c.counters.totalFailures.Add(int64(event.FailureCount))
	c.counters.totalInvocations.Add(int64(event.Invocations))
	c.counters.totalCandidates.Add(int64(event.Candidates))
	if event.State == "aborted" {
		c.counters.abortedFiles.Add(1)
	}

	switch event.CacheResult {
	case CacheHit:
		c.counters.cacheHits.Add(1)
	case CacheMiss:
		c.counters.cacheMisses.Add(1)
	}

	if c.prom != nil {
		c.prom.observe(event)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for rule, n := range event.ByRule {
		c.byRule[rule] += int64(n)
	}

	if c.maxEvents <= 0 {
		return
	}
	c.events = append(c.events, event)

	// Prune old events if needed
	if len(c.events) > c.maxEvents {
		pruneCount := c.maxEvents / 10
		if pruneCount == 0 {
			pruneCount = 1
		}
		c.events = c.events[pruneCount:]
	}
}

// GetStats computes aggregate statistics from collected events
func (c *Collector) GetStats() AggregateStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	windowStart := now.Add(-c.windowSize)

	stats := AggregateStats{
		TotalFiles:       c.counters.totalFiles.Load(),
		AbortedFiles:     c.counters.abortedFiles.Load(),
		TotalDiagnostics: c.counters.totalDiagnostics.Load(),
		TotalFailures:    c.counters.totalFailures.Load(),
		TotalInvocations: c.counters.totalInvocations.Load(),
		TotalCandidates:  c.counters.totalCandidates.Load(),
		CacheHits:        c.counters.cacheHits.Load(),
		CacheMisses:      c.counters.cacheMisses.Load(),
		ByRule:           make(map[string]int64, len(c.byRule)),
		ByState:          make(map[string]int64),
		WindowStart:      windowStart,
		WindowEnd:        now,
	}
	for rule, n := range c.byRule {
		stats.ByRule[rule] = n
	}

	if total := stats.CacheHits + stats.CacheMisses; total > 0 {
		stats.CacheHitRate = float64(stats.CacheHits) / float64(total)
	}
	if stats.TotalFiles > 0 {
		stats.DiagnosticsPerFile = float64(stats.TotalDiagnostics) / float64(stats.TotalFiles)
	}
	if stats.TotalInvocations > 0 {
		stats.CandidateRate = float64(stats.TotalCandidates) / float64(stats.TotalInvocations)
	}
	if elapsed := now.Sub(c.startTime).Minutes(); elapsed > 0 {
		stats.FilesPerMinute = float64(stats.TotalFiles) / elapsed
	}

	var windowEvents []TraversalEvent
	for _, e := range c.events {
		if e.Timestamp.After(windowStart) {
			windowEvents = append(windowEvents, e)
		}
	}
	if len(windowEvents) == 0 {
		return stats
	}

	durations := make([]float64, 0, len(windowEvents))
	var sum float64
	for _, e := range windowEvents {
		ms := float64(e.Duration.Microseconds()) / 1000
		durations = append(durations, ms)
		sum += ms
		stats.ByState[e.State]++
	}

	stats.AvgDurationMs = sum / float64(len(windowEvents))
	sort.Float64s(durations)
	stats.P50DurationMs = percentile(durations, 0.50)
	stats.P95DurationMs = percentile(durations, 0.95)
	stats.P99DurationMs = percentile(durations, 0.99)
	stats.MaxDurationMs = durations[len(durations)-1]

	return stats
}

// GetRecentEvents returns the most recent n events
func (c *Collector) GetRecentEvents(n int) []TraversalEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n > len(c.events) {
		n = len(c.events)
	}
	if n <= 0 {
		return nil
	}

	result := make([]TraversalEvent, n)
	copy(result, c.events[len(c.events)-n:])
	return result
}

// Reset clears all collected metrics
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = c.events[:0]
	c.byRule = make(map[string]int64)
	c.counters = atomicCounters{}
	c.startTime = time.Now()
}

// percentile returns the value at the given percentile (0.0-1.0)
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}
