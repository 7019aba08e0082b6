package metrics

import (
	"sort"
	"sync"
	"time"
)

// Aggregator keeps hourly buckets of call and outcome metrics in memory.
type Aggregator struct {
	mu  sync.RWMutex
	now func() time.Time

	// key = "hourBucket|kind"
	calls map[string]*callBucket

	// key = "hourBucket|outcome"
	outcomes map[string]*outcomeBucket
}

type callBucket struct {
	hourBucket   time.Time
	kind         string
	requestCount int64
	successCount int64
	latencies    []int64 // in milliseconds
}

type outcomeBucket struct {
	hourBucket time.Time
	outcome    string
	count      int64
}

// NewAggregator creates a new metrics aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		now:      time.Now,
		calls:    make(map[string]*callBucket),
		outcomes: make(map[string]*outcomeBucket),
	}
}

// RecordCall records a single language model call.
func (a *Aggregator) RecordCall(kind string, latency time.Duration, success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	hourBucket := truncateToHour(a.now())
	key := makeKey(hourBucket, kind)

	bucket, exists := a.calls[key]
	if !exists {
		bucket = &callBucket{
			hourBucket: hourBucket,
			kind:       kind,
			latencies:  make([]int64, 0, 100),
		}
		a.calls[key] = bucket
	}

	bucket.requestCount++
	if success {
		bucket.successCount++
	}
	bucket.latencies = append(bucket.latencies, latency.Milliseconds())
}

// RecordOutcome adds n to the outcome counter of the current hour.
func (a *Aggregator) RecordOutcome(outcome string, n int) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	hourBucket := truncateToHour(a.now())
	key := makeKey(hourBucket, outcome)

	bucket, exists := a.outcomes[key]
	if !exists {
		bucket = &outcomeBucket{hourBucket: hourBucket, outcome: outcome}
		a.outcomes[key] = bucket
	}
	bucket.count += int64(n)
}

// Stats aggregates every bucket whose hour falls inside timeRange.
// A zero Start or End leaves that side open.
func (a *Aggregator) Stats(timeRange TimeRange) *CallMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := &CallMetrics{
		KindStats: make(map[string]*KindStat),
		Outcomes:  make(map[string]int64),
	}

	type kindAgg struct {
		count, success, latencySum int64
	}
	kinds := make(map[string]*kindAgg)
	allLatencies := make([]int64, 0)

	for _, bucket := range a.calls {
		if !inRange(bucket.hourBucket, timeRange) {
			continue
		}
		stats.RequestCount += bucket.requestCount
		stats.SuccessCount += bucket.successCount
		allLatencies = append(allLatencies, bucket.latencies...)

		agg, ok := kinds[bucket.kind]
		if !ok {
			agg = &kindAgg{}
			kinds[bucket.kind] = agg
		}
		agg.count += bucket.requestCount
		agg.success += bucket.successCount
		agg.latencySum += sumLatencies(bucket.latencies)
	}

	for kind, agg := range kinds {
		stat := &KindStat{Count: agg.count}
		if agg.count > 0 {
			stat.SuccessRate = float32(agg.success) / float32(agg.count)
			stat.AvgLatency = time.Duration(agg.latencySum/agg.count) * time.Millisecond
		}
		stats.KindStats[kind] = stat
	}

	for _, bucket := range a.outcomes {
		if inRange(bucket.hourBucket, timeRange) {
			stats.Outcomes[bucket.outcome] += bucket.count
		}
	}

	stats.LatencyP50 = time.Duration(percentile(allLatencies, 50)) * time.Millisecond
	stats.LatencyP95 = time.Duration(percentile(allLatencies, 95)) * time.Millisecond

	return stats
}

// Prune drops buckets older than before and returns how many were removed.
func (a *Aggregator) Prune(before time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for key, bucket := range a.calls {
		if bucket.hourBucket.Before(before) {
			delete(a.calls, key)
			removed++
		}
	}
	for key, bucket := range a.outcomes {
		if bucket.hourBucket.Before(before) {
			delete(a.outcomes, key)
			removed++
		}
	}
	return removed
}

// Helper functions

func inRange(hourBucket time.Time, r TimeRange) bool {
	// A bucket overlaps the range when any part of its hour does.
	if !r.Start.IsZero() && hourBucket.Add(time.Hour).Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && hourBucket.After(r.End) {
		return false
	}
	return true
}

func truncateToHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

func makeKey(hourBucket time.Time, name string) string {
	return hourBucket.Format(time.RFC3339) + "|" + name
}

func sumLatencies(latencies []int64) int64 {
	var sum int64
	for _, l := range latencies {
		sum += l
	}
	return sum
}

func percentile(latencies []int64, p int) int64 {
	if len(latencies) == 0 {
		return 0
	}

	sorted := make([]int64, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := (len(sorted) - 1) * p / 100
	return sorted[idx]
}
