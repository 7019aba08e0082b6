package store

import (
	"encoding/json"
	"time"
)

// SubscriptionTier is the paid plan recorded for a user. Only billing events change it.
type SubscriptionTier string

const (
	TierFree    SubscriptionTier = "free"
	TierBasic   SubscriptionTier = "basic"
	TierPro     SubscriptionTier = "pro"
	TierPremium SubscriptionTier = "premium"
)

// Valid reports whether t is one of the known subscription tiers.
func (t SubscriptionTier) Valid() bool {
	switch t {
	case TierFree, TierBasic, TierPro, TierPremium:
		return true
	}
	return false
}

// HasMemory reports whether users on t keep conversation history and
// extracted memories. Effective tiers that are not subscription tiers,
// such as the trial, have no memory.
func (t SubscriptionTier) HasMemory() bool {
	return t == TierPro || t == TierPremium
}

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn is one role-tagged message of a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserRecord is the per-identity state: usage counters, plan, memories and
// retained conversation history.
type UserRecord struct {
	Identity string
	// FirstSeenAt is set once at creation and anchors the trial window.
	FirstSeenAt time.Time
	// DailyMessageCounts maps a user-local date key (YYYY-MM-DD) to accepted messages.
	DailyMessageCounts          map[string]int
	SubscriptionTier            SubscriptionTier
	Memories                    []string
	ConversationHistory         []Turn
	MessagesSinceLastExtraction int

	CreatedTs int64
	UpdatedTs int64
}

// UpdateUserRecord describes a partial update. Nil fields are left untouched.
type UpdateUserRecord struct {
	Identity string

	SubscriptionTier            *SubscriptionTier
	DailyMessageCounts          map[string]int
	Memories                    *[]string
	ConversationHistory         *[]Turn
	MessagesSinceLastExtraction *int
}

// NewUserRecord returns the record a never-before-seen identity starts with.
func NewUserRecord(identity string, now time.Time) *UserRecord {
	now = now.Truncate(time.Second)
	return &UserRecord{
		Identity:            identity,
		FirstSeenAt:         now,
		DailyMessageCounts:  map[string]int{},
		SubscriptionTier:    TierFree,
		Memories:            []string{},
		ConversationHistory: []Turn{},
		CreatedTs:           now.Unix(),
		UpdatedTs:           now.Unix(),
	}
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (r *UserRecord) Clone() *UserRecord {
	c := *r
	c.DailyMessageCounts = make(map[string]int, len(r.DailyMessageCounts))
	for k, v := range r.DailyMessageCounts {
		c.DailyMessageCounts[k] = v
	}
	c.Memories = append([]string{}, r.Memories...)
	c.ConversationHistory = append([]Turn{}, r.ConversationHistory...)
	return &c
}

// AppendTurns appends turns and keeps only the most recent limit entries.
func (r *UserRecord) AppendTurns(limit int, turns ...Turn) {
	r.ConversationHistory = append(r.ConversationHistory, turns...)
	if limit > 0 && len(r.ConversationHistory) > limit {
		r.ConversationHistory = append([]Turn{}, r.ConversationHistory[len(r.ConversationHistory)-limit:]...)
	}
}

// AppendMemories appends memories and evicts the oldest beyond limit.
func (r *UserRecord) AppendMemories(limit int, memories ...string) {
	r.Memories = append(r.Memories, memories...)
	if limit > 0 && len(r.Memories) > limit {
		r.Memories = append([]string{}, r.Memories[len(r.Memories)-limit:]...)
	}
}

// FullUpdate returns an update that overwrites every mutable field with r's values.
func (r *UserRecord) FullUpdate() *UpdateUserRecord {
	tier := r.SubscriptionTier
	memories := r.Memories
	history := r.ConversationHistory
	since := r.MessagesSinceLastExtraction
	counts := r.DailyMessageCounts
	if counts == nil {
		counts = map[string]int{}
	}
	return &UpdateUserRecord{
		Identity:                    r.Identity,
		SubscriptionTier:            &tier,
		DailyMessageCounts:          counts,
		Memories:                    &memories,
		ConversationHistory:         &history,
		MessagesSinceLastExtraction: &since,
	}
}

// RecordColumns holds the JSON encoded collection fields as persisted by the SQL drivers.
type RecordColumns struct {
	DailyMessageCounts  string
	Memories            string
	ConversationHistory string
}

// EncodeRecordColumns serializes the collection fields of a record.
func EncodeRecordColumns(counts map[string]int, memories []string, history []Turn) (RecordColumns, error) {
	var cols RecordColumns
	if counts == nil {
		counts = map[string]int{}
	}
	if memories == nil {
		memories = []string{}
	}
	if history == nil {
		history = []Turn{}
	}
	b, err := json.Marshal(counts)
	if err != nil {
		return cols, err
	}
	cols.DailyMessageCounts = string(b)
	if b, err = json.Marshal(memories); err != nil {
		return cols, err
	}
	cols.Memories = string(b)
	if b, err = json.Marshal(history); err != nil {
		return cols, err
	}
	cols.ConversationHistory = string(b)
	return cols, nil
}

// DecodeRecordColumns fills the collection fields of r from their persisted form.
func DecodeRecordColumns(r *UserRecord, cols RecordColumns) error {
	r.DailyMessageCounts = map[string]int{}
	r.Memories = []string{}
	r.ConversationHistory = []Turn{}
	if cols.DailyMessageCounts != "" {
		if err := json.Unmarshal([]byte(cols.DailyMessageCounts), &r.DailyMessageCounts); err != nil {
			return err
		}
	}
	if cols.Memories != "" {
		if err := json.Unmarshal([]byte(cols.Memories), &r.Memories); err != nil {
			return err
		}
	}
	if cols.ConversationHistory != "" {
		if err := json.Unmarshal([]byte(cols.ConversationHistory), &r.ConversationHistory); err != nil {
			return err
		}
	}
	return nil
}
