package metrics

import (
	"context"
	"sync"
	"time"
)

// MockMetricsService records calls for assertions in tests.
type MockMetricsService struct {
	mu       sync.RWMutex
	requests []requestRecord
	outcomes map[string]int
}

type requestRecord struct {
	Kind    string
	Latency time.Duration
	Success bool
}

// NewMockMetricsService creates a new MockMetricsService.
func NewMockMetricsService() *MockMetricsService {
	return &MockMetricsService{outcomes: make(map[string]int)}
}

// RecordRequest records request metrics.
func (m *MockMetricsService) RecordRequest(_ context.Context, kind string, latency time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, requestRecord{Kind: kind, Latency: latency, Success: success})
}

// RecordOutcome records outcome counters.
func (m *MockMetricsService) RecordOutcome(_ context.Context, outcome string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[outcome] += n
}

// GetStats summarizes everything recorded so far; timeRange is ignored.
func (m *MockMetricsService) GetStats(_ context.Context, _ TimeRange) (*CallMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &CallMetrics{
		KindStats: make(map[string]*KindStat),
		Outcomes:  make(map[string]int64),
	}
	for _, r := range m.requests {
		stats.RequestCount++
		stat, ok := stats.KindStats[r.Kind]
		if !ok {
			stat = &KindStat{}
			stats.KindStats[r.Kind] = stat
		}
		stat.Count++
		if r.Success {
			stats.SuccessCount++
		}
	}
	for k, v := range m.outcomes {
		stats.Outcomes[k] = int64(v)
	}
	return stats, nil
}

// Requests returns how many calls of kind were recorded.
func (m *MockMetricsService) Requests(kind string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.requests {
		if r.Kind == kind {
			n++
		}
	}
	return n
}

// Outcome returns the counter for outcome.
func (m *MockMetricsService) Outcome(outcome string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.outcomes[outcome]
}

// Ensure MockMetricsService implements MetricsService
var _ MetricsService = (*MockMetricsService)(nil)
