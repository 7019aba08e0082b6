package v1

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/mirrord/plugin/ai/metrics"
)

// MetricsOverviewResponse represents the overview response of system metrics
type MetricsOverviewResponse struct {
	TotalRequests int64                        `json:"total_requests"`
	SuccessRate   float64                      `json:"success_rate"`
	P50LatencyMs  int64                        `json:"p50_latency_ms"`
	P95LatencyMs  int64                        `json:"p95_latency_ms"`
	ErrorCount    int64                        `json:"error_count"`
	TimeRange     string                       `json:"time_range"`
	Kinds         map[string]*metrics.KindStat `json:"kinds"`
	Outcomes      map[string]int64             `json:"outcomes"`
}

// GetMetricsOverview returns the system metrics overview
// GET /api/v1/system/metrics/overview
func (s *APIV1Service) GetMetricsOverview(c echo.Context) error {
	// Parse time range parameter
	timeRange := c.QueryParam("range")
	if timeRange == "" {
		timeRange = "24h"
	}
	start, err := parseTimeRange(timeRange, time.Now())
	if err != nil {
		slog.Warn("Invalid time range parameter in metrics request", "range", timeRange, "error", err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid time range"})
	}
	if s.MetricsService == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "metrics disabled"})
	}

	stats, err := s.MetricsService.GetStats(c.Request().Context(), metrics.TimeRange{Start: start, End: time.Now()})
	if err != nil {
		slog.Error("Failed to read metrics", "range", timeRange, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to read metrics"})
	}

	resp := MetricsOverviewResponse{
		TotalRequests: stats.RequestCount,
		P50LatencyMs:  stats.LatencyP50.Milliseconds(),
		P95LatencyMs:  stats.LatencyP95.Milliseconds(),
		ErrorCount:    stats.RequestCount - stats.SuccessCount,
		TimeRange:     timeRange,
		Kinds:         stats.KindStats,
		Outcomes:      stats.Outcomes,
	}
	if stats.RequestCount > 0 {
		resp.SuccessRate = float64(stats.SuccessCount) / float64(stats.RequestCount)
	}
	return c.JSON(http.StatusOK, resp)
}

// parseTimeRange parses time range string and returns the start time
func parseTimeRange(timeRange string, now time.Time) (time.Time, error) {
	switch timeRange {
	case "1h":
		return now.Add(-1 * time.Hour), nil
	case "24h":
		return now.Add(-24 * time.Hour), nil
	case "7d":
		return now.Add(-7 * 24 * time.Hour), nil
	case "30d":
		return now.Add(-30 * 24 * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("invalid time range: %s (valid: 1h, 24h, 7d, 30d)", timeRange)
	}
}
