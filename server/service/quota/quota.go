// Package quota decides which effective tier a user is on and whether a chat
// request fits within that tier's daily allowance.
package quota

import (
	"sort"
	"time"

	"github.com/hrygo/mirrord/server/timezone"
	"github.com/hrygo/mirrord/store"
)

const (
	// FreeDailyLimit is the number of accepted messages a free user gets per local day.
	FreeDailyLimit = 5
	// TrialDays is the length of the trial that starts at first contact.
	TrialDays = 7
	// TrialPeriod is TrialDays as a duration.
	TrialPeriod = TrialDays * 24 * time.Hour
	// CountRetentionDays is how many date keys dailyMessageCounts keeps.
	CountRetentionDays = 7
)

// Tier is the tier used for gating. It is the subscription tier, except
// while the trial window is open.
type Tier string

const (
	TierTrial   Tier = "trial"
	TierFree    Tier = Tier(store.TierFree)
	TierBasic   Tier = Tier(store.TierBasic)
	TierPro     Tier = Tier(store.TierPro)
	TierPremium Tier = Tier(store.TierPremium)
)

// HasMemory reports whether memories and history are kept for the tier.
func (t Tier) HasMemory() bool {
	return store.SubscriptionTier(t).HasMemory()
}

// HasSummaries reports whether the tier receives weekly summaries.
func (t Tier) HasSummaries() bool {
	return t == TierPremium
}

// DailyLimit returns the tier's daily cap, or nil when uncapped.
func (t Tier) DailyLimit() *int {
	if t != TierFree {
		return nil
	}
	limit := FreeDailyLimit
	return &limit
}

// Status is the outcome of evaluating a record at a point in time.
type Status struct {
	Tier            Tier
	InTrial         bool
	DaysLeftInTrial int
	// DateKey is the user-local date the request is counted against.
	DateKey           string
	MessagesUsedToday int
	DailyLimit        *int
	Allowed           bool
}

// InTrial reports whether now falls within the trial window.
func InTrial(firstSeenAt, now time.Time) bool {
	return now.Sub(firstSeenAt) < TrialPeriod
}

// DaysLeftInTrial counts whole days remaining, with elapsed days floored.
// It is at least 1 while in trial and 0 afterwards.
func DaysLeftInTrial(firstSeenAt, now time.Time) int {
	if !InTrial(firstSeenAt, now) {
		return 0
	}
	elapsed := now.Sub(firstSeenAt)
	if elapsed < 0 {
		elapsed = 0
	}
	left := TrialDays - int(elapsed/(24*time.Hour))
	if left < 0 {
		return 0
	}
	return left
}

// EffectiveTier returns trial while the trial window is open, regardless of
// the paid tier, and the recorded subscription tier otherwise.
func EffectiveTier(record *store.UserRecord, now time.Time) Tier {
	if InTrial(record.FirstSeenAt, now) {
		return TierTrial
	}
	if record.SubscriptionTier == "" {
		return TierFree
	}
	return Tier(record.SubscriptionTier)
}

// Evaluate computes the quota status of record at now, counting days in loc.
func Evaluate(record *store.UserRecord, now time.Time, loc *time.Location) Status {
	tier := EffectiveTier(record, now)
	dateKey := timezone.DateKey(now, loc)
	used := record.DailyMessageCounts[dateKey]

	return Status{
		Tier:              tier,
		InTrial:           tier == TierTrial,
		DaysLeftInTrial:   DaysLeftInTrial(record.FirstSeenAt, now),
		DateKey:           dateKey,
		MessagesUsedToday: used,
		DailyLimit:        tier.DailyLimit(),
		Allowed:           !(tier == TierFree && used >= FreeDailyLimit),
	}
}

// RecordMessage counts one accepted message against dateKey and prunes the
// counters to the most recent CountRetentionDays keys.
func RecordMessage(record *store.UserRecord, dateKey string) int {
	if record.DailyMessageCounts == nil {
		record.DailyMessageCounts = map[string]int{}
	}
	record.DailyMessageCounts[dateKey]++
	PruneDailyCounts(record.DailyMessageCounts, CountRetentionDays)
	return record.DailyMessageCounts[dateKey]
}

// PruneDailyCounts deletes all but the keep most recent date keys.
// Keys are YYYY-MM-DD so lexical order is chronological.
func PruneDailyCounts(counts map[string]int, keep int) {
	if len(counts) <= keep {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys[:len(keys)-keep] {
		delete(counts, k)
	}
}
