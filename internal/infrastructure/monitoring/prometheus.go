package monitoring

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// PrometheusHandler returns an http.Handler that serves Prometheus text format metrics.
// This avoids pulling in the full prometheus/client_golang dependency.
// Mount it at "/metrics" in your HTTP server.
func (m *Monitor) PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(m.metrics.StartTime).Seconds()

		lines := []struct {
			name string
			help string
			typ  string
			val  interface{}
		}{
			{"halcyon_requests_total", "Total number of chat requests processed", "counter", atomic.LoadUint64(&m.metrics.RequestsTotal)},
			{"halcyon_requests_success_total", "Total successful chat requests", "counter", atomic.LoadUint64(&m.metrics.RequestsSuccess)},
			{"halcyon_requests_failed_total", "Total failed chat requests", "counter", atomic.LoadUint64(&m.metrics.RequestsFailed)},

			{"halcyon_tool_calls_total", "Total tool calls executed", "counter", atomic.LoadUint64(&m.metrics.ToolCallsTotal)},
			{"halcyon_tool_calls_failed_total", "Total failed tool calls", "counter", atomic.LoadUint64(&m.metrics.ToolCallsFailed)},

			{"halcyon_model_calls_total", "Total LLM model calls", "counter", atomic.LoadUint64(&m.metrics.ModelCallsTotal)},
			{"halcyon_model_retries_total", "Total LLM call retries", "counter", atomic.LoadUint64(&m.metrics.ModelRetries)},
			{"halcyon_model_tokens_used_total", "Total tokens consumed", "counter", atomic.LoadUint64(&m.metrics.ModelTokensUsed)},

			{"halcyon_rate_limited_total", "Requests rejected by the rate limiter", "counter", atomic.LoadUint64(&m.metrics.RateLimitedTotal)},
			{"halcyon_timeouts_total", "Requests aborted by the pipeline timeout", "counter", atomic.LoadUint64(&m.metrics.TimeoutsTotal)},
			{"halcyon_streams_total", "Streaming chat requests served", "counter", atomic.LoadUint64(&m.metrics.StreamsTotal)},

			{"halcyon_tasks_enqueued_total", "Tasks pushed onto the queue", "counter", atomic.LoadUint64(&m.metrics.TasksEnqueued)},
			{"halcyon_tasks_handled_total", "Tasks handled successfully", "counter", atomic.LoadUint64(&m.metrics.TasksHandled)},
			{"halcyon_tasks_dead_lettered_total", "Tasks moved to the DLQ", "counter", atomic.LoadUint64(&m.metrics.TasksDeadLettered)},

			{"halcyon_cache_hits_total", "Tool-result cache hits", "counter", atomic.LoadUint64(&m.metrics.CacheHits)},
			{"halcyon_cache_misses_total", "Tool-result cache misses", "counter", atomic.LoadUint64(&m.metrics.CacheMisses)},

			{"halcyon_enrichment_failures_total", "Pre-stage enrichment branch failures", "counter", atomic.LoadUint64(&m.metrics.EnrichmentFailures)},

			{"halcyon_uptime_seconds", "Process uptime in seconds", "gauge", uptime},
			{"halcyon_memory_alloc_bytes", "Current memory allocation in bytes", "gauge", memStats.Alloc},
			{"halcyon_goroutines", "Number of goroutines", "gauge", runtime.NumGoroutine()},
			{"halcyon_gc_cycles_total", "Total number of completed GC cycles", "counter", memStats.NumGC},
		}

		for _, l := range lines {
			fmt.Fprintf(w, "# HELP %s %s\n", l.name, l.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", l.name, l.typ)
			switch v := l.val.(type) {
			case uint64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case float64:
				fmt.Fprintf(w, "%s %f\n", l.name, v)
			case uint32:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			}
			fmt.Fprintln(w)
		}

		reqCount := atomic.LoadUint64(&m.metrics.RequestLatencyCount)
		if reqCount > 0 {
			avgMs := float64(atomic.LoadUint64(&m.metrics.RequestLatencySum)) / float64(reqCount) / 1e6
			fmt.Fprintf(w, "# HELP halcyon_request_latency_avg_ms Average request latency in milliseconds\n")
			fmt.Fprintf(w, "# TYPE halcyon_request_latency_avg_ms gauge\n")
			fmt.Fprintf(w, "halcyon_request_latency_avg_ms %f\n\n", avgMs)
		}
	})
}
