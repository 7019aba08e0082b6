// Package chat gates, assembles and answers one chat request.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hrygo/mirrord/plugin/ai"
	"github.com/hrygo/mirrord/plugin/ai/metrics"
	"github.com/hrygo/mirrord/plugin/ai/timeout"
	aierrors "github.com/hrygo/mirrord/server/internal/errors"
	"github.com/hrygo/mirrord/server/internal/observability"
	"github.com/hrygo/mirrord/server/service/quota"
	"github.com/hrygo/mirrord/server/timezone"
	"github.com/hrygo/mirrord/store"
)

// AnonymousIdentity is used when a request names nobody.
const AnonymousIdentity = "anonymous"

var errQuotaExceeded = errors.New("daily quota exceeded")

// RecordStore is the subset of the store the orchestrator needs.
type RecordStore interface {
	MutateUserRecord(ctx context.Context, identity string, fn func(record *store.UserRecord) error) (*store.UserRecord, error)
}

// Extractor schedules background memory extraction.
type Extractor interface {
	MaybeExtract(identity, tier string, messagesSinceLastExtraction int) bool
}

// Request is the chat request body.
type Request struct {
	History  []store.Turn `json:"history"`
	Username string       `json:"username"`
	UserID   string       `json:"userId"`
	Email    string       `json:"email"`
	// Mood (1-10) and Goal are accepted for logging only.
	Mood *float64 `json:"mood,omitempty"`
	Goal string   `json:"goal,omitempty"`
	// Timezone is an optional IANA zone for the user-local day.
	Timezone string `json:"timezone,omitempty"`
}

// Identity returns the key the request is counted against.
func (r *Request) Identity() string {
	for _, id := range []string{r.Email, r.UserID, r.Username} {
		if id != "" {
			return id
		}
	}
	return AnonymousIdentity
}

// Validate checks the turn list.
func (r *Request) Validate() error {
	if r.History == nil {
		return errors.New("history is required")
	}
	conversational := 0
	for i, t := range r.History {
		switch t.Role {
		case store.RoleUser, store.RoleAssistant:
			conversational++
		case store.RoleSystem:
		default:
			return fmt.Errorf("history[%d]: unknown role %q", i, t.Role)
		}
		if strings.TrimSpace(t.Content) == "" {
			return fmt.Errorf("history[%d]: content is empty", i)
		}
	}
	if conversational == 0 {
		return errors.New("history has no user or assistant turns")
	}
	return nil
}

// Response is the chat response body. A blocked request fills the paywall
// fields; an answered one fills Success and Subscription.
type Response struct {
	Reply string `json:"reply"`

	Success       bool                 `json:"success,omitempty"`
	Subscription  *SubscriptionSummary `json:"subscription,omitempty"`
	WeeklySummary *WeeklySummary       `json:"weeklySummary,omitempty"`

	LimitReached     bool   `json:"limitReached,omitempty"`
	ShowPaywall      bool   `json:"showPaywall,omitempty"`
	TrialEnded       bool   `json:"trialEnded,omitempty"`
	MessageCount     int    `json:"messageCount,omitempty"`
	SubscriptionTier string `json:"subscriptionTier,omitempty"`
}

// Blocked reports whether the request hit the paywall.
func (r *Response) Blocked() bool {
	return r.LimitReached
}

// SubscriptionSummary describes the user's plan after the request.
type SubscriptionSummary struct {
	Tier              string   `json:"tier"`
	InTrial           bool     `json:"inTrial"`
	DaysLeftInTrial   int      `json:"daysLeftInTrial"`
	MessagesUsedToday int      `json:"messagesUsedToday"`
	DailyLimit        *int     `json:"dailyLimit"`
	Features          Features `json:"features"`
}

// Features lists what the effective tier unlocks.
type Features struct {
	HasMemory          bool `json:"hasMemory"`
	HasSummaries       bool `json:"hasSummaries"`
	MemoryCount        int  `json:"memoryCount"`
	TotalConversations int  `json:"totalConversations"`
}

// WeeklySummary is attached to premium replies on the user's Sunday.
type WeeklySummary struct {
	TotalMessages int      `json:"totalMessages"`
	TopMemories   []string `json:"topMemories"`
	KeyInsight    string   `json:"keyInsight"`
}

// Service is the chat orchestrator.
type Service struct {
	store     RecordStore
	llm       ai.LLMService
	extractor Extractor
	metrics   metrics.MetricsService

	location    *time.Location
	chatTimeout time.Duration
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithExtractor enables background memory extraction.
func WithExtractor(e Extractor) Option {
	return func(s *Service) { s.extractor = e }
}

// WithMetrics records call latencies and outcomes.
func WithMetrics(m metrics.MetricsService) Option {
	return func(s *Service) { s.metrics = m }
}

// WithDefaultLocation sets the zone used when a request names none.
func WithDefaultLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithChatTimeout bounds the model call.
func WithChatTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.chatTimeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a chat Service.
func NewService(s RecordStore, llm ai.LLMService, opts ...Option) *Service {
	svc := &Service{
		store:       s,
		llm:         llm,
		location:    timezone.UTC,
		chatTimeout: timeout.ChatTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Chat handles one request. A blocked request is a normal response; the
// returned error is always an *errors.AIError.
func (s *Service) Chat(ctx context.Context, req *Request) (*Response, error) {
	identity := req.Identity()
	reqCtx := observability.FromContextOrNew(ctx, identity)

	if err := req.Validate(); err != nil {
		reqCtx.Warn("rejecting malformed chat request", slog.String("reason", err.Error()))
		return nil, aierrors.InvalidArgument(err.Error())
	}

	loc, err := timezone.Resolve(req.Timezone, s.location)
	if err != nil {
		reqCtx.Warn("ignoring invalid timezone", slog.String("timezone", req.Timezone))
		loc = s.location
	}
	now := s.now()

	var status quota.Status
	record, err := s.store.MutateUserRecord(ctx, identity, func(r *store.UserRecord) error {
		status = quota.Evaluate(r, now, loc)
		if !status.Allowed {
			return errQuotaExceeded
		}
		status.MessagesUsedToday = quota.RecordMessage(r, status.DateKey)
		return nil
	})
	reqCtx.Tier = string(status.Tier)
	if errors.Is(err, errQuotaExceeded) {
		s.recordOutcome(ctx, metrics.OutcomeBlocked)
		reqCtx.Info("daily limit reached", slog.Int("messages_used_today", status.MessagesUsedToday))
		return &Response{
			Reply:            UpsellReply,
			LimitReached:     true,
			ShowPaywall:      true,
			TrialEnded:       true,
			MessageCount:     status.MessagesUsedToday,
			SubscriptionTier: string(status.Tier),
		}, nil
	}
	if err != nil {
		reqCtx.Error("failed to update user record", err)
		return nil, aierrors.Internal("failed to load user record", err)
	}

	turns := conversationTurns(req.History)
	prompt := BuildSystemPrompt(status.Tier, record.Memories, record.ConversationHistory)
	reqCtx.Debug("chat accepted",
		slog.Int(observability.LogFieldHistoryLen, len(turns)),
		slog.String("goal", req.Goal),
		slog.Any("mood", req.Mood),
	)

	reply, err := s.complete(ctx, prompt, turns)
	if err != nil {
		s.recordOutcome(ctx, metrics.OutcomeProviderError)
		reqCtx.Error("model call failed", err, slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, aierrors.Timeout("model call timed out", err)
		}
		return nil, aierrors.LLMUnavailable("model provider unavailable", err)
	}

	if status.Tier.HasMemory() {
		record = s.remember(ctx, reqCtx, identity, status.Tier, record, turns, reply)
	}

	resp := &Response{
		Reply:   reply,
		Success: true,
		Subscription: &SubscriptionSummary{
			Tier:              string(status.Tier),
			InTrial:           status.InTrial,
			DaysLeftInTrial:   status.DaysLeftInTrial,
			MessagesUsedToday: status.MessagesUsedToday,
			DailyLimit:        status.DailyLimit,
			Features: Features{
				HasMemory:          status.Tier.HasMemory(),
				HasSummaries:       status.Tier.HasSummaries(),
				MemoryCount:        len(record.Memories),
				TotalConversations: len(record.ConversationHistory) / 2,
			},
		},
	}
	if status.Tier.HasSummaries() && timezone.Weekday(now, loc) == time.Sunday {
		resp.WeeklySummary = BuildWeeklySummary(record)
	}

	s.recordOutcome(ctx, metrics.OutcomeAccepted)
	reqCtx.Info("chat completed",
		slog.Int("messages_used_today", status.MessagesUsedToday),
		slog.Int(observability.LogFieldMessageLen, len(reply)),
		slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()),
	)
	return resp, nil
}

func (s *Service) complete(ctx context.Context, prompt string, turns []store.Turn) (string, error) {
	if s.llm == nil {
		return "", ai.ErrNotConfigured
	}
	messages := make([]ai.Message, 0, len(turns)+1)
	messages = append(messages, ai.SystemPrompt(prompt))
	for _, t := range turns {
		if t.Role == store.RoleAssistant {
			messages = append(messages, ai.AssistantMessage(t.Content))
		} else {
			messages = append(messages, ai.UserMessage(t.Content))
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.chatTimeout)
	defer cancel()

	start := time.Now()
	reply, err := s.llm.Chat(callCtx, messages,
		ai.WithMaxTokens(replyMaxTokens),
		ai.WithTemperature(replyTemperature),
	)
	if s.metrics != nil {
		s.metrics.RecordRequest(ctx, metrics.KindChat, time.Since(start), err == nil)
	}
	return reply, err
}

// remember stores the new turns and the reply, then schedules extraction.
// Storage failures are logged; the reply has already been produced.
func (s *Service) remember(ctx context.Context, reqCtx *observability.RequestContext, identity string, tier quota.Tier, record *store.UserRecord, turns []store.Turn, reply string) *store.UserRecord {
	updated, err := s.store.MutateUserRecord(ctx, identity, func(r *store.UserRecord) error {
		fresh := NewTurns(r.ConversationHistory, turns)
		r.AppendTurns(HistoryCap, append(fresh, store.Turn{Role: store.RoleAssistant, Content: reply})...)
		r.MessagesSinceLastExtraction += len(fresh)
		return nil
	})
	if err != nil {
		reqCtx.Error("failed to store conversation history", err)
		return record
	}
	if s.extractor != nil && s.extractor.MaybeExtract(identity, string(tier), updated.MessagesSinceLastExtraction) {
		reqCtx.Debug("memory extraction scheduled", slog.Int("pending", updated.MessagesSinceLastExtraction))
	}
	return updated
}

func (s *Service) recordOutcome(ctx context.Context, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordOutcome(ctx, outcome, 1)
	}
}

// conversationTurns drops caller-supplied system turns; the assembled
// system prompt is the only one sent.
func conversationTurns(history []store.Turn) []store.Turn {
	turns := make([]store.Turn, 0, len(history))
	for _, t := range history {
		if t.Role == store.RoleSystem {
			continue
		}
		turns = append(turns, t)
	}
	return turns
}

// NewTurns returns the incoming turns not yet in stored history. With no
// stored history everything is new. Otherwise the last incoming assistant
// turn marks the previous reply: when it matches the last stored reply only
// the turns after it are new. A mismatch means the client started a new
// session, so every incoming turn is kept.
func NewTurns(stored, incoming []store.Turn) []store.Turn {
	if len(stored) == 0 {
		return append([]store.Turn{}, incoming...)
	}
	for i := len(incoming) - 1; i >= 0; i-- {
		if incoming[i].Role != store.RoleAssistant {
			continue
		}
		if incoming[i].Content == lastReply(stored) {
			return append([]store.Turn{}, incoming[i+1:]...)
		}
		break
	}
	return append([]store.Turn{}, incoming...)
}

func lastReply(history []store.Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == store.RoleAssistant {
			return history[i].Content
		}
	}
	return ""
}

// BuildWeeklySummary summarizes a premium user's stored conversation.
func BuildWeeklySummary(record *store.UserRecord) *WeeklySummary {
	top := record.Memories
	if len(top) > WeeklyTopMemories {
		top = top[len(top)-WeeklyTopMemories:]
	}
	summary := &WeeklySummary{
		TotalMessages: len(record.ConversationHistory),
		TopMemories:   append([]string{}, top...),
		KeyInsight:    noMemoryInsight,
	}
	if n := len(record.Memories); n > 0 {
		summary.KeyInsight = insightPrefix + record.Memories[n-1]
	}
	return summary
}
