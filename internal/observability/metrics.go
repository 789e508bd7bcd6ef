package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/krishimitra/advisory-service/internal/traffic"
)

// ServiceName labels logs, traces and the health payload.
const ServiceName = "krishimitra-advisory"

// Version is set at build time with -ldflags "-X .../observability.Version=...".
var Version = "dev"

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency. Pipelines are dominated by LLM latency, so buckets reach 30s.
	HTTPRequestDuration *prometheus.HistogramVec

	HTTPRequestsInFlight prometheus.Gauge

	// Calls to Open-Meteo, Nominatim and the vision endpoint, by status label.
	UpstreamCallsTotal *prometheus.CounterVec

	// Upstream latency. Watch for: p95 > 2s on geocoding or forecast.
	UpstreamDuration *prometheus.HistogramVec

	// Retry attempts per upstream. Watch for: high retries = unstable upstream.
	UpstreamRetriesTotal *prometheus.CounterVec

	// LLM completions per pipeline and status.
	LLMCallsTotal *prometheus.CounterVec

	LLMDuration *prometheus.HistogramVec

	// Pipeline outcomes (success, error) per pipeline.
	AdvisoryRequestsTotal *prometheus.CounterVec

	// Fallbacks taken per pipeline and kind (geocode, weather_defaults, llm_phrase, wrapped_text).
	FallbacksTotal *prometheus.CounterVec

	CircuitBreakerState       *prometheus.GaugeVec
	CircuitBreakerTransitions *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of upstream API calls",
		},
		[]string{"upstream", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "Upstream API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"upstream", "status"},
	)
	UpstreamRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamRetriesTotal",
			Help: "Total number of retry attempts for upstream API calls",
		},
		[]string{"upstream"},
	)
	LLMCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmCallsTotal",
			Help: "Total number of chat completion calls",
		},
		[]string{"pipeline", "status"},
	)
	LLMDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmDurationSeconds",
			Help:    "Chat completion latency in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"pipeline"},
	)
	AdvisoryRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisoryRequestsTotal",
			Help: "Total number of advisory pipeline runs by outcome",
		},
		[]string{"pipeline", "outcome"},
	)
	FallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisoryFallbacksTotal",
			Help: "Total number of fallback defaults substituted, by pipeline and kind",
		},
		[]string{"pipeline", "kind"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0=closed, 1=half_open, 2=open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration, UpstreamRetriesTotal,
		LLMCallsTotal, LLMDuration,
		AdvisoryRequestsTotal, FallbacksTotal,
		CircuitBreakerState, CircuitBreakerTransitions,
		RateLimitDeniedTotal,
	)
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited path.
// Call from main after config load with the health window.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// CircuitBreakerStateValue maps a breaker state ordinal to the gauge value.
// States arrive as closed=0, half_open=1, open=2.
func CircuitBreakerStateValue(state int) float64 {
	return float64(state)
}

// SetCircuitBreakerStateGauge sets the state gauge for a component.
func SetCircuitBreakerStateGauge(component string, value float64) {
	CircuitBreakerState.WithLabelValues(component).Set(value)
}

// RecordCircuitBreakerTransition counts a state change.
func RecordCircuitBreakerTransition(component, from, to string) {
	CircuitBreakerTransitions.WithLabelValues(component, from, to).Inc()
}

// RecordUpstreamCall records one upstream attempt.
func RecordUpstreamCall(upstream, status string, d time.Duration) {
	UpstreamCallsTotal.WithLabelValues(upstream, status).Inc()
	UpstreamDuration.WithLabelValues(upstream, status).Observe(d.Seconds())
}

// RecordLLMCall records one chat completion.
func RecordLLMCall(pipeline, status string, d time.Duration) {
	LLMCallsTotal.WithLabelValues(pipeline, status).Inc()
	LLMDuration.WithLabelValues(pipeline).Observe(d.Seconds())
}

// RecordAdvisory records a pipeline outcome.
func RecordAdvisory(pipeline string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	AdvisoryRequestsTotal.WithLabelValues(pipeline, outcome).Inc()
}

// RecordFallback counts a substituted default.
func RecordFallback(pipeline, kind string) {
	FallbacksTotal.WithLabelValues(pipeline, kind).Inc()
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
