package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Config configures the metrics service.
type Config struct {
	RetentionPeriod time.Duration // How long to keep buckets (default: 30 days)
	CleanupInterval time.Duration // How often to prune (default: 1 hour)
}

// DefaultConfig returns the default metrics configuration.
func DefaultConfig() Config {
	return Config{
		RetentionPeriod: 30 * 24 * time.Hour,
		CleanupInterval: time.Hour,
	}
}

// Service implements MetricsService on top of the in-memory Aggregator.
type Service struct {
	aggregator *Aggregator

	retentionPeriod time.Duration
	cleanupInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a metrics service and starts its cleanup loop.
func NewService(cfg Config) *Service {
	if cfg.RetentionPeriod == 0 {
		cfg.RetentionPeriod = 30 * 24 * time.Hour
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		aggregator:      NewAggregator(),
		retentionPeriod: cfg.RetentionPeriod,
		cleanupInterval: cfg.CleanupInterval,
		ctx:             ctx,
		cancel:          cancel,
	}

	s.wg.Add(1)
	go s.cleanupLoop()
	return s
}

// Close stops the cleanup loop.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// RecordRequest records a language model call.
func (s *Service) RecordRequest(_ context.Context, kind string, latency time.Duration, success bool) {
	s.aggregator.RecordCall(kind, latency, success)
}

// RecordOutcome records n occurrences of a chat outcome.
func (s *Service) RecordOutcome(_ context.Context, outcome string, n int) {
	s.aggregator.RecordOutcome(outcome, n)
}

// GetStats retrieves aggregated statistics for the given time range.
func (s *Service) GetStats(_ context.Context, timeRange TimeRange) (*CallMetrics, error) {
	return s.aggregator.Stats(timeRange), nil
}

func (s *Service) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			cutoff := truncateToHour(time.Now().Add(-s.retentionPeriod))
			if removed := s.aggregator.Prune(cutoff); removed > 0 {
				slog.Debug("pruned metrics buckets", "removed", removed, "cutoff", cutoff)
			}
		}
	}
}

var _ MetricsService = (*Service)(nil)
