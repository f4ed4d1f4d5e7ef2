package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LLM call metrics
	LLMCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_gateway_calls_total",
			Help: "Total number of completed LLM calls",
		},
		[]string{"task_type", "provider", "fallback"},
	)

	LLMFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_gateway_failures_total",
			Help: "Total number of LLM calls that failed on both providers",
		},
		[]string{"task_type", "provider"},
	)

	LLMLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_gateway_latency_seconds",
			Help:    "End-to-end LLM call latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"task_type", "provider"},
	)

	// Token and cost metrics
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_gateway_tokens_total",
			Help: "Total tokens consumed, split by direction",
		},
		[]string{"provider", "direction"},
	)

	LLMCostUSDTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_gateway_cost_usd_total",
			Help: "Cumulative LLM spend in USD",
		},
		[]string{"provider"},
	)

	// Provider health
	ProviderHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llm_gateway_provider_healthy",
			Help: "Whether a provider is currently considered healthy (1) or not (0)",
		},
		[]string{"provider"},
	)

	ProviderErrorRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llm_gateway_provider_error_rate",
			Help: "Rolling error rate estimate per provider",
		},
		[]string{"provider"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_gateway_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_gateway_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
