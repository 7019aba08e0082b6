package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/mirrord/plugin/ai"
	"github.com/hrygo/mirrord/plugin/ai/metrics"
	"github.com/hrygo/mirrord/store"
	"github.com/hrygo/mirrord/store/lock"
	teststore "github.com/hrygo/mirrord/store/test"
)

type fakeLLM struct {
	reply string
	err   error
	delay time.Duration

	calls    atomic.Int32
	mu       sync.Mutex
	messages []ai.Message
}

func (f *fakeLLM) Chat(ctx context.Context, messages []ai.Message, _ ...ai.ChatOption) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.messages = messages
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.reply, f.err
}

type memStore struct {
	mu      sync.Mutex
	records map[string]*store.UserRecord
	claims  *lock.KeyedMutex
}

func newMemStore(records ...*store.UserRecord) *memStore {
	s := &memStore{records: map[string]*store.UserRecord{}, claims: lock.NewKeyedMutex()}
	for _, r := range records {
		s.records[r.Identity] = r
	}
	return s
}

func (s *memStore) GetOrCreateUserRecord(_ context.Context, identity string) (*store.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[identity]
	if !ok {
		r = store.NewUserRecord(identity, time.Now())
		s.records[identity] = r
	}
	return r.Clone(), nil
}

func (s *memStore) MutateUserRecord(_ context.Context, identity string, fn func(*store.UserRecord) error) (*store.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[identity]
	if !ok {
		r = store.NewUserRecord(identity, time.Now())
	}
	c := r.Clone()
	if err := fn(c); err != nil {
		return r.Clone(), err
	}
	s.records[identity] = c
	return c.Clone(), nil
}

func (s *memStore) ClaimExtraction(ctx context.Context, identity string, ttl time.Duration) (func(), bool, error) {
	return s.claims.TryLock(ctx, "extract:"+identity, ttl)
}

func (s *memStore) get(identity string) *store.UserRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[identity].Clone()
}

func recordWithHistory(identity string, turns, pending int) *store.UserRecord {
	r := store.NewUserRecord(identity, time.Now())
	r.SubscriptionTier = store.TierPro
	for i := 0; i < turns; i++ {
		role := store.RoleUser
		if i%2 == 1 {
			role = store.RoleAssistant
		}
		r.ConversationHistory = append(r.ConversationHistory, store.Turn{Role: role, Content: "turn " + string(rune('a'+i%26))})
	}
	r.MessagesSinceLastExtraction = pending
	return r
}

func TestShouldExtract(t *testing.T) {
	tests := []struct {
		tier    string
		pending int
		want    bool
	}{
		{"pro", 8, true},
		{"premium", 12, true},
		{"pro", 7, false},
		{"free", 20, false},
		{"basic", 20, false},
		{"trial", 20, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShouldExtract(tt.tier, tt.pending), "%s/%d", tt.tier, tt.pending)
	}
}

func TestExtract_AppendsMemoriesAndResetsCounter(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(recordWithHistory("u@example.com", 20, 8))
	llm := &fakeLLM{reply: `["Has a sister named Maya", "Training for a half marathon", "short"]`}
	m := metrics.NewMockMetricsService()
	e := NewExtractor(s, llm, m, Config{})

	res, err := e.Extract(ctx, "u@example.com")
	require.NoError(t, err)
	assert.True(t, res.Parsed)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, []string{"Has a sister named Maya", "Training for a half marathon"}, res.Added)

	got := s.get("u@example.com")
	assert.Equal(t, []string{"Has a sister named Maya", "Training for a half marathon"}, got.Memories)
	assert.Equal(t, 0, got.MessagesSinceLastExtraction)

	assert.Equal(t, 1, m.Requests(metrics.KindExtraction))
	assert.Equal(t, 2, m.Outcome(metrics.OutcomeMemoryAdded))

	// Only the latest 16 turns are sent, with the extraction instruction.
	require.Len(t, llm.messages, 2)
	assert.Equal(t, "system", llm.messages[0].Role)
	assert.Contains(t, llm.messages[0].Content, "JSON array of strings")
	assert.Contains(t, llm.messages[1].Content, "Extract key memories from this conversation:\n\nUser: turn e\nAssistant: turn f")
	assert.NotContains(t, llm.messages[1].Content, "turn d")
}

func TestExtract_UnparseableOutputStillResets(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(recordWithHistory("u@example.com", 16, 9))
	e := NewExtractor(s, &fakeLLM{reply: "I could not find anything notable."}, nil, Config{})

	res, err := e.Extract(ctx, "u@example.com")
	require.NoError(t, err)
	assert.False(t, res.Parsed)
	assert.Empty(t, res.Added)

	got := s.get("u@example.com")
	assert.Empty(t, got.Memories)
	assert.Equal(t, 0, got.MessagesSinceLastExtraction)
}

func TestExtract_ProviderFailureKeepsCounter(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(recordWithHistory("u@example.com", 16, 8))
	e := NewExtractor(s, &fakeLLM{err: errors.New("upstream 503")}, nil, Config{})

	_, err := e.Extract(ctx, "u@example.com")
	assert.Error(t, err)

	got := s.get("u@example.com")
	assert.Equal(t, 8, got.MessagesSinceLastExtraction)
	assert.Empty(t, got.Memories)
}

func TestExtract_BelowThresholdIsNoop(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(recordWithHistory("u@example.com", 10, 3))
	llm := &fakeLLM{reply: `["Something worth remembering"]`}
	e := NewExtractor(s, llm, nil, Config{})

	res, err := e.Extract(ctx, "u@example.com")
	require.NoError(t, err)
	assert.Empty(t, res.ID)
	assert.Equal(t, int32(0), llm.calls.Load())
}

func TestExtract_CapsMemories(t *testing.T) {
	ctx := context.Background()
	r := recordWithHistory("u@example.com", 16, 8)
	for i := 0; i < MaxMemories; i++ {
		r.Memories = append(r.Memories, "existing memory number "+string(rune('A'+i)))
	}
	s := newMemStore(r)
	e := NewExtractor(s, &fakeLLM{reply: `["Recently adopted a rescue dog"]`}, nil, Config{})

	_, err := e.Extract(ctx, "u@example.com")
	require.NoError(t, err)

	got := s.get("u@example.com")
	require.Len(t, got.Memories, MaxMemories)
	assert.Equal(t, "existing memory number B", got.Memories[0])
	assert.Equal(t, "Recently adopted a rescue dog", got.Memories[MaxMemories-1])
}

func TestMaybeExtract_SingleFlightPerIdentity(t *testing.T) {
	s := newMemStore(recordWithHistory("u@example.com", 16, 8))
	llm := &fakeLLM{reply: `["Works night shifts as a nurse"]`, delay: 50 * time.Millisecond}
	e := NewExtractor(s, llm, nil, Config{Slots: 2})

	assert.True(t, e.MaybeExtract("u@example.com", "pro", 8))
	assert.True(t, e.MaybeExtract("u@example.com", "pro", 9))
	assert.False(t, e.MaybeExtract("u@example.com", "basic", 9))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.Close(ctx))

	assert.Equal(t, int32(1), llm.calls.Load())
	assert.Equal(t, []string{"Works night shifts as a nurse"}, s.get("u@example.com").Memories)
	assert.False(t, e.MaybeExtract("u@example.com", "pro", 8), "closed extractor accepts no passes")
}

func TestExtract_SkipsWhileClaimed(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(recordWithHistory("u@example.com", 16, 8))
	llm := &fakeLLM{reply: `["Works night shifts as a nurse"]`}
	e := NewExtractor(s, llm, nil, Config{})

	release, ok, err := s.ClaimExtraction(ctx, "u@example.com", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := e.Extract(ctx, "u@example.com")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, int32(0), llm.calls.Load())
	assert.Equal(t, 8, s.get("u@example.com").MessagesSinceLastExtraction)

	release()
	res, err = e.Extract(ctx, "u@example.com")
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, int32(1), llm.calls.Load())
}

func TestMaybeExtract_OnePassAcrossExtractors(t *testing.T) {
	ctx := context.Background()
	ts := teststore.NewTestingStore(ctx, t)
	seeded := recordWithHistory("u@example.com", 16, 9)
	_, err := ts.MutateUserRecord(ctx, "u@example.com", func(r *store.UserRecord) error {
		r.SubscriptionTier = store.TierPro
		r.ConversationHistory = seeded.ConversationHistory
		r.MessagesSinceLastExtraction = 9
		return nil
	})
	require.NoError(t, err)

	// Two instances sharing one store, as with a shared Redis locker.
	llm := &fakeLLM{reply: `["Works night shifts as a nurse"]`, delay: 50 * time.Millisecond}
	first := NewExtractor(ts, llm, nil, Config{})
	second := NewExtractor(ts, llm, nil, Config{})
	assert.True(t, first.MaybeExtract("u@example.com", "pro", 9))
	assert.True(t, second.MaybeExtract("u@example.com", "pro", 9))

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, first.Close(waitCtx))
	require.NoError(t, second.Close(waitCtx))

	assert.Equal(t, int32(1), llm.calls.Load())
	record, err := ts.GetOrCreateUserRecord(ctx, "u@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"Works night shifts as a nurse"}, record.Memories)
	assert.Zero(t, record.MessagesSinceLastExtraction)
}

func TestParseMemories(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    []string
		wantErr bool
	}{
		{"plain", `["a", "b"]`, []string{"a", "b"}, false},
		{"fenced", "```json\n[\"likes tea\"]\n```", []string{"likes tea"}, false},
		{"prose around", `Here you go: ["x"] hope this helps`, []string{"x"}, false},
		{"brackets in prose", "Here are [2] facts:\n```json\n[\"Works night shifts as a nurse\"]\n```", []string{"Works night shifts as a nurse"}, false},
		{"bracket after array", `["likes tea"] (see [1])`, []string{"likes tea"}, false},
		{"empty array", `[]`, []string{}, false},
		{"object", `{"memories": "x"}`, nil, true},
		{"numbers", `[1, 2]`, nil, true},
		{"broken", `["a",`, nil, true},
		{"no json", `nothing`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMemories(tt.text)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidExtraction)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMerge(t *testing.T) {
	existing := []string{"Has a younger brother who lives in Denver"}
	merged, added := Merge(existing, []string{
		"has a younger brother who is a chef", // prefix "has a younger brothe" already present
		"tiny",                                // too short
		"exactly10c",                          // not longer than 10
		"Started a new job at a bakery",
		"Started a new job at a bakery last week", // duplicates the one just accepted
	}, MaxMemories)

	assert.Equal(t, []string{"Started a new job at a bakery"}, added)
	assert.Equal(t, []string{
		"Has a younger brother who lives in Denver",
		"Started a new job at a bakery",
	}, merged)
}
