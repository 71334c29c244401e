package gateway

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Fetch results and skip reasons used as metric label values.
const (
	ResultSuccess        = "success"
	ResultTransientError = "transient_error"
	ResultPermanentError = "permanent_error"

	SkipBreakerOpen     = "breaker_open"
	SkipRateLimited     = "rate_limited"
	SkipBudgetExhausted = "budget_exhausted"

	CacheTypeQuote = "quote"
	CacheTypeCalc  = "calc"
)

// Metrics holds every Prometheus series the data plane emits, plus a
// small rolling tally that feeds the health endpoint without a registry
// scrape.
type Metrics struct {
	FetchDuration      *prometheus.HistogramVec
	FetchesTotal       *prometheus.CounterVec
	SkipsTotal         *prometheus.CounterVec
	FallbacksTotal     prometheus.Counter
	ExhaustedTotal     prometheus.Counter
	CacheHits          *prometheus.CounterVec
	CacheMisses        *prometheus.CounterVec
	CacheHitRatio      prometheus.Gauge
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
	CalcDuration       *prometheus.HistogramVec
	APIDuration        *prometheus.HistogramVec

	mu           sync.Mutex
	fetches      int64
	failures     int64
	latencySumMs float64
}

// NewMetrics builds and registers the metric families. Tests pass their
// own prometheus.NewRegistry so parallel packages never collide; nil
// falls back to the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "macrorun_fetch_duration_seconds",
				Help:    "Duration of provider fetch attempts in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"provider", "result"},
		),
		FetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "macrorun_fetches_total",
				Help: "Total provider fetch attempts by result",
			},
			[]string{"provider", "result"},
		),
		SkipsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "macrorun_provider_skips_total",
				Help: "Providers skipped before dispatch by reason",
			},
			[]string{"provider", "reason"},
		),
		FallbacksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "macrorun_store_fallbacks_total",
				Help: "Fetches served from the last-known-good store",
			},
		),
		ExhaustedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "macrorun_fetches_exhausted_total",
				Help: "Fetches that failed every provider and the store",
			},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "macrorun_cache_hits_total",
				Help: "Cache hits by cache type",
			},
			[]string{"cache_type"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "macrorun_cache_misses_total",
				Help: "Cache misses by cache type",
			},
			[]string{"cache_type"},
		),
		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "macrorun_cache_hit_ratio",
				Help: "Current cache hit ratio (0.0 to 1.0)",
			},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "macrorun_breaker_state",
				Help: "Circuit breaker state per provider (0=closed, 1=open, 2=half_open)",
			},
			[]string{"provider"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "macrorun_breaker_transitions_total",
				Help: "Circuit breaker transitions by target state",
			},
			[]string{"provider", "to_state"},
		),
		CalcDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "macrorun_calc_duration_seconds",
				Help:    "Duration of calculated indicator resolutions in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0},
			},
			[]string{"indicator", "result"},
		),
		APIDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "macrorun_api_request_duration_seconds",
				Help:    "HTTP API request duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0, 30.0},
			},
			[]string{"route", "method", "status"},
		),
	}

	reg.MustRegister(
		m.FetchDuration,
		m.FetchesTotal,
		m.SkipsTotal,
		m.FallbacksTotal,
		m.ExhaustedTotal,
		m.CacheHits,
		m.CacheMisses,
		m.CacheHitRatio,
		m.BreakerState,
		m.BreakerTransitions,
		m.CalcDuration,
		m.APIDuration,
	)

	return m
}

// ObserveFetch records one provider attempt outcome and its latency.
func (m *Metrics) ObserveFetch(provider, result string, elapsed time.Duration) {
	m.FetchDuration.WithLabelValues(provider, result).Observe(elapsed.Seconds())
	m.FetchesTotal.WithLabelValues(provider, result).Inc()

	m.mu.Lock()
	m.fetches++
	if result != ResultSuccess {
		m.failures++
	}
	m.latencySumMs += float64(elapsed.Milliseconds())
	m.mu.Unlock()
}

// RecordSkip counts a provider skipped before dispatch.
func (m *Metrics) RecordSkip(provider, reason string) {
	m.SkipsTotal.WithLabelValues(provider, reason).Inc()
}

// RecordFallback counts a last-known-good answer.
func (m *Metrics) RecordFallback() {
	m.FallbacksTotal.Inc()
}

// RecordExhausted counts a fetch no layer could answer.
func (m *Metrics) RecordExhausted() {
	m.ExhaustedTotal.Inc()
}

// RecordCacheHit records a hit and refreshes the ratio gauge.
func (m *Metrics) RecordCacheHit(cacheType string) {
	m.CacheHits.WithLabelValues(cacheType).Inc()
	m.updateCacheHitRatio()
}

// RecordCacheMiss records a miss and refreshes the ratio gauge.
func (m *Metrics) RecordCacheMiss(cacheType string) {
	m.CacheMisses.WithLabelValues(cacheType).Inc()
	m.updateCacheHitRatio()
}

// SetBreakerState mirrors a breaker state into the gauge.
func (m *Metrics) SetBreakerState(provider string, state BreakerState) {
	m.BreakerState.WithLabelValues(provider).Set(float64(state))
}

// RecordBreakerTransition counts a state change by target state.
func (m *Metrics) RecordBreakerTransition(provider string, to BreakerState) {
	m.BreakerTransitions.WithLabelValues(provider, to.String()).Inc()
}

// ObserveCalc records a calculated indicator resolution.
func (m *Metrics) ObserveCalc(indicator, result string, elapsed time.Duration) {
	m.CalcDuration.WithLabelValues(indicator, result).Observe(elapsed.Seconds())
}

// ObserveRequest records one HTTP API request.
func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	m.APIDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// ErrorRate returns the failed share of all provider attempts since
// startup.
func (m *Metrics) ErrorRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fetches == 0 {
		return 0
	}
	return float64(m.failures) / float64(m.fetches)
}

// AvgLatencyMs returns the mean provider attempt latency.
func (m *Metrics) AvgLatencyMs() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fetches == 0 {
		return 0
	}
	return m.latencySumMs / float64(m.fetches)
}

// updateCacheHitRatio reads the hit and miss counters back from the
// registry and refreshes the gauge.
func (m *Metrics) updateCacheHitRatio() {
	totalHits := 0.0
	totalMisses := 0.0

	for _, cacheType := range []string{CacheTypeQuote, CacheTypeCalc} {
		var metric dto.Metric
		if counter, err := m.CacheHits.GetMetricWithLabelValues(cacheType); err == nil {
			if err := counter.Write(&metric); err == nil {
				totalHits += metric.GetCounter().GetValue()
			}
		}
		if counter, err := m.CacheMisses.GetMetricWithLabelValues(cacheType); err == nil {
			if err := counter.Write(&metric); err == nil {
				totalMisses += metric.GetCounter().GetValue()
			}
		}
	}

	if total := totalHits + totalMisses; total > 0 {
		m.CacheHitRatio.Set(totalHits / total)
	}
}
