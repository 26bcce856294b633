// Package metrics provides Prometheus metrics for the core server:
// transport, pool, runner, crawler and healing components.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TransportRequestsTotal counts transport calls by tool and outcome.
	TransportRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browserqa_transport_requests_total",
			Help: "Total remote browser tool calls processed",
		},
		[]string{"tool", "status"},
	)

	// TransportRequestDuration tracks transport call duration by tool.
	TransportRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "browserqa_transport_request_duration_seconds",
			Help:    "Remote browser tool call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"tool"},
	)

	// TransportRetries counts retried transport calls by reason.
	TransportRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browserqa_transport_retries_total",
			Help: "Total transport retries by classified reason",
		},
		[]string{"reason"},
	)

	// PoolSize shows the configured context pool size.
	PoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browserqa_pool_size",
			Help: "Configured browser context pool size",
		},
	)

	// PoolAvailable shows available contexts in the pool.
	PoolAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browserqa_pool_available",
			Help: "Available browser contexts in pool",
		},
	)

	// PoolAcquired counts total context acquisitions.
	PoolAcquired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "browserqa_pool_acquired_total",
			Help: "Total browser context acquisitions from pool",
		},
	)

	// PoolRecycled counts context recycles by reason.
	PoolRecycled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browserqa_pool_recycled_total",
			Help: "Total browser contexts recycled by reason",
		},
		[]string{"reason"},
	)

	// RunnerTestsTotal counts test runs by status.
	RunnerTestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browserqa_runner_tests_total",
			Help: "Total test runs by status",
		},
		[]string{"status"},
	)

	// RunnerParallelism shows the current desired parallelism.
	RunnerParallelism = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browserqa_runner_parallelism",
			Help: "Current desired test runner parallelism",
		},
	)

	// CrawlerPagesTotal counts crawled pages by state.
	CrawlerPagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browserqa_crawler_pages_total",
			Help: "Total pages crawled by terminal state",
		},
		[]string{"state"},
	)

	// CrawlerCoverageScore shows the coverage score of the last crawl.
	CrawlerCoverageScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browserqa_crawler_coverage_score",
			Help: "Coverage score of the most recently completed crawl",
		},
	)

	// HealingAttemptsTotal counts selector healing attempts by outcome.
	HealingAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browserqa_healing_attempts_total",
			Help: "Total selector healing attempts by outcome",
		},
		[]string{"outcome", "strategy"},
	)

	// ResourcePressureLevel shows the current memory pressure level (0-4).
	ResourcePressureLevel = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browserqa_resource_pressure_level",
			Help: "Current memory pressure level: 0=none 1=low 2=medium 3=high 4=critical",
		},
	)

	// MemoryUsageBytes shows current process memory usage.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browserqa_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// MemorySysBytes shows system memory obtained.
	MemorySysBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browserqa_memory_sys_bytes",
			Help: "Total memory obtained from system",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browserqa_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "browserqa_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	prometheus.MustRegister(
		TransportRequestsTotal,
		TransportRequestDuration,
		TransportRetries,
		PoolSize,
		PoolAvailable,
		PoolAcquired,
		PoolRecycled,
		RunnerTestsTotal,
		RunnerParallelism,
		CrawlerPagesTotal,
		CrawlerCoverageScore,
		HealingAttemptsTotal,
		ResourcePressureLevel,
		MemoryUsageBytes,
		MemorySysBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// StartMemoryCollector starts a goroutine that periodically updates
// process-level memory metrics from runtime.MemStats. The Resource Monitor
// uses gopsutil for its own pressure sampling; this collector only feeds
// the Prometheus gauges.
func StartMemoryCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			updateMemoryMetrics()
		case <-stopCh:
			return
		}
	}
}

func updateMemoryMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsageBytes.Set(float64(m.Alloc))
	MemorySysBytes.Set(float64(m.Sys))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// RecordTransportRequest records metrics for a completed transport call.
func RecordTransportRequest(tool, status string, duration time.Duration) {
	TransportRequestsTotal.WithLabelValues(tool, status).Inc()
	TransportRequestDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordTransportRetry records a classified transport retry.
func RecordTransportRetry(reason string) {
	TransportRetries.WithLabelValues(reason).Inc()
}

// UpdatePoolMetrics updates browser context pool gauges.
func UpdatePoolMetrics(size, available int) {
	PoolSize.Set(float64(size))
	PoolAvailable.Set(float64(available))
}

// RecordPoolRecycled records a context recycle by reason.
func RecordPoolRecycled(reason string) {
	PoolRecycled.WithLabelValues(reason).Inc()
}

// RecordTestRun records a completed test run by status.
func RecordTestRun(status string) {
	RunnerTestsTotal.WithLabelValues(status).Inc()
}

// RecordHealingAttempt records a selector healing attempt.
func RecordHealingAttempt(outcome, strategy string) {
	HealingAttemptsTotal.WithLabelValues(outcome, strategy).Inc()
}

// RecordCrawledPage records a crawled page by terminal state.
func RecordCrawledPage(state string) {
	CrawlerPagesTotal.WithLabelValues(state).Inc()
}
