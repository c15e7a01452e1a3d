package monitoring

import (
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Metrics holds the gateway's counters. All fields are manipulated with
// atomics; increments are best-effort and do not survive restart.
type Metrics struct {
	RequestsTotal   uint64
	RequestsSuccess uint64
	RequestsFailed  uint64

	ToolCallsTotal  uint64
	ToolCallsFailed uint64

	ModelCallsTotal uint64
	ModelRetries    uint64
	ModelTokensUsed uint64

	RateLimitedTotal uint64
	TimeoutsTotal    uint64
	StreamsTotal     uint64

	TasksEnqueued     uint64
	TasksHandled      uint64
	TasksDeadLettered uint64

	CacheHits   uint64
	CacheMisses uint64

	EnrichmentFailures uint64

	RequestLatencySum   uint64
	RequestLatencyCount uint64

	StartTime time.Time
}

// Monitor collects process metrics.
type Monitor struct {
	metrics *Metrics
	logger  *zap.Logger
}

// NewMonitor creates a monitor.
func NewMonitor(logger *zap.Logger) *Monitor {
	return &Monitor{
		metrics: &Metrics{StartTime: time.Now()},
		logger:  logger,
	}
}

func (m *Monitor) IncRequestTotal()    { atomic.AddUint64(&m.metrics.RequestsTotal, 1) }
func (m *Monitor) IncRequestSuccess()  { atomic.AddUint64(&m.metrics.RequestsSuccess, 1) }
func (m *Monitor) IncRequestFailed()   { atomic.AddUint64(&m.metrics.RequestsFailed, 1) }
func (m *Monitor) IncToolCall()        { atomic.AddUint64(&m.metrics.ToolCallsTotal, 1) }
func (m *Monitor) IncToolCallFailed()  { atomic.AddUint64(&m.metrics.ToolCallsFailed, 1) }
func (m *Monitor) IncModelCall()       { atomic.AddUint64(&m.metrics.ModelCallsTotal, 1) }
func (m *Monitor) IncModelRetry()      { atomic.AddUint64(&m.metrics.ModelRetries, 1) }
func (m *Monitor) IncRateLimited()     { atomic.AddUint64(&m.metrics.RateLimitedTotal, 1) }
func (m *Monitor) IncTimeout()         { atomic.AddUint64(&m.metrics.TimeoutsTotal, 1) }
func (m *Monitor) IncStream()          { atomic.AddUint64(&m.metrics.StreamsTotal, 1) }
func (m *Monitor) IncTaskEnqueued()    { atomic.AddUint64(&m.metrics.TasksEnqueued, 1) }
func (m *Monitor) IncTaskHandled()     { atomic.AddUint64(&m.metrics.TasksHandled, 1) }
func (m *Monitor) IncTaskDeadLettered() { atomic.AddUint64(&m.metrics.TasksDeadLettered, 1) }
func (m *Monitor) IncCacheHit()        { atomic.AddUint64(&m.metrics.CacheHits, 1) }
func (m *Monitor) IncCacheMiss()       { atomic.AddUint64(&m.metrics.CacheMisses, 1) }
func (m *Monitor) IncEnrichmentFailure() {
	atomic.AddUint64(&m.metrics.EnrichmentFailures, 1)
}

func (m *Monitor) AddTokensUsed(n int) {
	if n > 0 {
		atomic.AddUint64(&m.metrics.ModelTokensUsed, uint64(n))
	}
}

func (m *Monitor) RecordRequestLatency(d time.Duration) {
	atomic.AddUint64(&m.metrics.RequestLatencySum, uint64(d.Nanoseconds()))
	atomic.AddUint64(&m.metrics.RequestLatencyCount, 1)
}

// GetStats returns a point-in-time snapshot for the /health endpoint.
func (m *Monitor) GetStats() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(m.metrics.StartTime)
	reqTotal := atomic.LoadUint64(&m.metrics.RequestsTotal)

	avgLatency := float64(0)
	if count := atomic.LoadUint64(&m.metrics.RequestLatencyCount); count > 0 {
		avgLatency = float64(atomic.LoadUint64(&m.metrics.RequestLatencySum)) / float64(count) / 1e6 // ms
	}

	return map[string]interface{}{
		"uptime_seconds":      uptime.Seconds(),
		"requests_total":      reqTotal,
		"requests_success":    atomic.LoadUint64(&m.metrics.RequestsSuccess),
		"requests_failed":     atomic.LoadUint64(&m.metrics.RequestsFailed),
		"tool_calls_total":    atomic.LoadUint64(&m.metrics.ToolCallsTotal),
		"model_calls_total":   atomic.LoadUint64(&m.metrics.ModelCallsTotal),
		"model_tokens_used":   atomic.LoadUint64(&m.metrics.ModelTokensUsed),
		"rate_limited_total":  atomic.LoadUint64(&m.metrics.RateLimitedTotal),
		"timeouts_total":      atomic.LoadUint64(&m.metrics.TimeoutsTotal),
		"streams_total":       atomic.LoadUint64(&m.metrics.StreamsTotal),
		"tasks_enqueued":      atomic.LoadUint64(&m.metrics.TasksEnqueued),
		"tasks_handled":       atomic.LoadUint64(&m.metrics.TasksHandled),
		"tasks_dead_lettered": atomic.LoadUint64(&m.metrics.TasksDeadLettered),
		"cache_hits":          atomic.LoadUint64(&m.metrics.CacheHits),
		"cache_misses":        atomic.LoadUint64(&m.metrics.CacheMisses),
		"enrichment_failures": atomic.LoadUint64(&m.metrics.EnrichmentFailures),
		"avg_latency_ms":      avgLatency,
		"memory_mb":           float64(memStats.Alloc) / 1024 / 1024,
		"goroutines":          runtime.NumGoroutine(),
	}
}
