// Package metrics aggregates language model call and chat outcome statistics.
package metrics

import (
	"context"
	"time"
)

// Call kinds.
const (
	KindChat       = "chat"
	KindExtraction = "extraction"
)

// Chat outcomes.
const (
	OutcomeAccepted      = "accepted"
	OutcomeBlocked       = "blocked"
	OutcomeProviderError = "provider_error"
	OutcomeRateLimited   = "rate_limited"
	OutcomeMemoryAdded   = "memory_added"
)

// MetricsService defines the metrics service interface.
type MetricsService interface {
	// RecordRequest records one language model call.
	RecordRequest(ctx context.Context, kind string, latency time.Duration, success bool)

	// RecordOutcome increments an outcome counter by n.
	RecordOutcome(ctx context.Context, outcome string, n int)

	// GetStats retrieves statistics data.
	GetStats(ctx context.Context, timeRange TimeRange) (*CallMetrics, error)
}

// TimeRange represents a time range for querying metrics.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CallMetrics represents aggregated call metrics.
type CallMetrics struct {
	RequestCount int64                `json:"request_count"`
	SuccessCount int64                `json:"success_count"`
	LatencyP50   time.Duration        `json:"latency_p50"`
	LatencyP95   time.Duration        `json:"latency_p95"`
	KindStats    map[string]*KindStat `json:"kind_stats"`
	Outcomes     map[string]int64     `json:"outcomes"`
}

// KindStat represents statistics for a single call kind.
type KindStat struct {
	Count       int64         `json:"count"`
	SuccessRate float32       `json:"success_rate"`
	AvgLatency  time.Duration `json:"avg_latency"`
}
