// Package memory distills durable facts about a user out of their recent
// conversation turns and keeps them on the user record.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/hrygo/mirrord/plugin/ai"
	"github.com/hrygo/mirrord/plugin/ai/metrics"
	"github.com/hrygo/mirrord/plugin/ai/timeout"
	"github.com/hrygo/mirrord/store"
)

const (
	// ExtractionThreshold is the number of new turns that triggers a pass.
	ExtractionThreshold = 8
	// ExtractionWindow is how many of the latest history turns a pass reads.
	ExtractionWindow = 16

	extractionMaxTokens   = 200
	extractionTemperature = 0.3
)

// RecordStore is the subset of the store an extraction pass needs.
type RecordStore interface {
	GetOrCreateUserRecord(ctx context.Context, identity string) (*store.UserRecord, error)
	MutateUserRecord(ctx context.Context, identity string, fn func(record *store.UserRecord) error) (*store.UserRecord, error)
	ClaimExtraction(ctx context.Context, identity string, ttl time.Duration) (release func(), ok bool, err error)
}

// Config tunes the extractor.
type Config struct {
	// Slots bounds how many passes run at once across all users.
	Slots int
	// Timeout bounds one pass, including the wait for a slot.
	Timeout time.Duration
}

// PassResult describes one completed extraction pass.
type PassResult struct {
	ID       string
	Identity string
	// Skipped is set when another pass held the identity's claim.
	Skipped bool
	// Parsed is false when the model output could not be used.
	Parsed bool
	Added  []string
	Total  int
}

// Extractor runs extraction passes in the background. At most one pass per
// identity is in flight: within a process a request arriving while one runs
// joins it, and across processes the store's extraction claim skips it.
type Extractor struct {
	store   RecordStore
	llm     ai.LLMService
	metrics metrics.MetricsService

	group   singleflight.Group
	sem     *semaphore.Weighted
	timeout time.Duration

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// NewExtractor creates an Extractor. metricsService may be nil.
func NewExtractor(s RecordStore, llm ai.LLMService, metricsService metrics.MetricsService, cfg Config) *Extractor {
	if cfg.Slots <= 0 {
		cfg.Slots = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = timeout.ExtractionTimeout
	}
	return &Extractor{
		store:   s,
		llm:     llm,
		metrics: metricsService,
		sem:     semaphore.NewWeighted(int64(cfg.Slots)),
		timeout: cfg.Timeout,
	}
}

// ShouldExtract reports whether a pass is due for a user of the given effective tier.
func ShouldExtract(tier string, messagesSinceLastExtraction int) bool {
	return store.SubscriptionTier(tier).HasMemory() && messagesSinceLastExtraction >= ExtractionThreshold
}

// MaybeExtract schedules a background pass when one is due and returns
// whether it did. It never blocks on the model call.
func (e *Extractor) MaybeExtract(identity, tier string, messagesSinceLastExtraction int) bool {
	if !ShouldExtract(tier, messagesSinceLastExtraction) {
		return false
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		ch := e.group.DoChan(identity, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
			defer cancel()
			return e.Extract(ctx, identity)
		})
		res := <-ch
		if res.Err != nil {
			slog.Warn("memory extraction failed", "identity", identity, "error", res.Err)
		}
	}()
	return true
}

// Extract runs one pass synchronously. The user's counter is reset whenever
// the model answered, usable or not. A failed model call leaves it untouched
// so the next request retries. While another pass holds the identity's claim
// Extract returns a skipped result without calling the model.
func (e *Extractor) Extract(ctx context.Context, identity string) (*PassResult, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for extraction slot: %w", err)
	}
	defer e.sem.Release(1)

	// The claim outlives the pass, which is bounded by e.timeout.
	release, ok, err := e.store.ClaimExtraction(ctx, identity, e.timeout)
	if err != nil {
		return nil, err
	}
	if !ok {
		slog.Debug("memory extraction already running", "identity", identity)
		return &PassResult{Identity: identity, Skipped: true}, nil
	}
	defer release()

	record, err := e.store.GetOrCreateUserRecord(ctx, identity)
	if err != nil {
		return nil, err
	}
	pending := record.MessagesSinceLastExtraction
	if pending < ExtractionThreshold {
		// An earlier pass already consumed this batch.
		return &PassResult{Identity: identity, Total: len(record.Memories)}, nil
	}
	window := record.ConversationHistory
	if len(window) > ExtractionWindow {
		window = window[len(window)-ExtractionWindow:]
	}
	if len(window) == 0 {
		return &PassResult{Identity: identity, Total: len(record.Memories)}, nil
	}

	result := &PassResult{ID: shortuuid.New(), Identity: identity}
	slog.Info("extracting memories",
		"pass_id", result.ID,
		"identity", identity,
		"turns", len(window),
		"pending", pending,
	)

	start := time.Now()
	text, err := e.llm.Chat(ctx, []ai.Message{
		ai.SystemPrompt(extractionPrompt),
		ai.UserMessage(extractionRequestPrefix + formatTranscript(window)),
	}, ai.WithMaxTokens(extractionMaxTokens), ai.WithTemperature(extractionTemperature))
	if e.metrics != nil {
		e.metrics.RecordRequest(ctx, metrics.KindExtraction, time.Since(start), err == nil)
	}
	if err != nil {
		return nil, fmt.Errorf("extraction call for pass %s: %w", result.ID, err)
	}

	candidates, err := ParseMemories(text)
	if err != nil {
		slog.Warn("discarding unparseable extraction",
			"pass_id", result.ID,
			"identity", identity,
			"output", truncateRunes(text, timeout.MaxTruncateLength),
			"error", err,
		)
	} else {
		result.Parsed = true
	}

	updated, err := e.store.MutateUserRecord(ctx, identity, func(r *store.UserRecord) error {
		r.Memories, result.Added = Merge(r.Memories, candidates, MaxMemories)
		// Turns that arrived during the pass stay pending.
		r.MessagesSinceLastExtraction -= pending
		if r.MessagesSinceLastExtraction < 0 {
			r.MessagesSinceLastExtraction = 0
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("saving memories for pass %s: %w", result.ID, err)
	}
	result.Total = len(updated.Memories)

	if e.metrics != nil {
		e.metrics.RecordOutcome(ctx, metrics.OutcomeMemoryAdded, len(result.Added))
	}
	slog.Info("memory extraction completed",
		"pass_id", result.ID,
		"identity", identity,
		"candidates", len(candidates),
		"added", len(result.Added),
		"total", result.Total,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// Wait blocks until every scheduled pass has finished or ctx is done.
func (e *Extractor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("timed out waiting for memory extraction passes")
	}
}

// Close stops accepting new passes and waits for running ones.
func (e *Extractor) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return e.Wait(ctx)
}

func formatTranscript(turns []store.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		speaker := "Assistant"
		if t.Role == store.RoleUser {
			speaker = "User"
		}
		lines = append(lines, speaker+": "+t.Content)
	}
	return strings.Join(lines, "\n")
}
