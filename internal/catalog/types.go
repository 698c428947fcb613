package catalog

import "time"

// Layer buckets services by how freely their tools are offered to the model.
type Layer string

const (
	LayerCore     Layer = "core"      // always routed
	LayerDomain   Layer = "domain"    // routed on intent match
	LayerHighRisk Layer = "high_risk" // routed only when explicitly requested
)

// HealthStatus is the probe-derived liveness of a service.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

// BreakerState is the circuit breaker state guarding a service.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Tool is a single callable function exported by a service.
// Parameters holds the JSON Schema for the tool's arguments.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// CallMetrics tracks per-service call outcomes.
type CallMetrics struct {
	TotalCalls   int64   `json:"total_calls"`
	SuccessCalls int64   `json:"success_calls"`
	FailedCalls  int64   `json:"failed_calls"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Service is a registered tool-providing service and its live state.
// Services are soft-deactivated, never removed.
type Service struct {
	Name        string
	URL         string
	Description string
	Tools       []Tool
	Layer       Layer
	Domain      string

	Active  bool
	Health  HealthStatus
	Breaker BreakerState
	Metrics CallMetrics

	RegisteredAt    time.Time
	LastHealthCheck time.Time
	BreakerOpenedAt time.Time
}
