// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the proxified registry service.
package observability

import "github.com/prometheus/client_golang/prometheus"

// StorageBuckets covers key-value round trips from sub-millisecond memory
// hits up to slow database transactions.
var StorageBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

var (
	// RequestsTotal counts HTTP requests by method, route, and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxified_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration records HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proxified_request_duration_seconds",
			Help:    "Request duration",
			Buckets: StorageBuckets,
		},
		[]string{"method", "route"},
	)

	// RegistryOperationsTotal counts registry operations by outcome.
	// result is "ok" or the error tag.
	RegistryOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxified_registry_operations_total",
			Help: "Registry operations",
		},
		[]string{"op", "result"},
	)

	// RegistryOperationDuration records registry operation latency.
	RegistryOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proxified_registry_operation_duration_seconds",
			Help:    "Registry operation latency",
			Buckets: StorageBuckets,
		},
		[]string{"op"},
	)

	// RegistryFallbacksTotal counts background lookups that resolved to
	// the direct proxy.
	RegistryFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxified_registry_fallbacks_total",
			Help: "Background lookups falling back to direct",
		},
		[]string{"reason"},
	)

	// RegistryReportsTotal counts errors handed to the diagnostic reporter.
	RegistryReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxified_registry_reports_total",
			Help: "Errors reported to the diagnostic sink",
		},
		[]string{"identifier"},
	)

	// AuthRejectedTotal counts requests rejected by authentication.
	AuthRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxified_auth_rejected_total",
			Help: "Authentication rejections",
		},
		[]string{"reason"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxified_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)

	// MCPToolCallsTotal counts MCP tool invocations by name and outcome.
	MCPToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxified_mcp_tool_calls_total",
			Help: "MCP tool calls",
		},
		[]string{"tool_name", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		RegistryOperationsTotal,
		RegistryOperationDuration,
		RegistryFallbacksTotal,
		RegistryReportsTotal,
		AuthRejectedTotal,
		RateLimitRejectedTotal,
		MCPToolCallsTotal,
	)
}
