package chat

import (
	"strings"
	"unicode/utf8"

	"github.com/hrygo/mirrord/server/service/quota"
	"github.com/hrygo/mirrord/store"
)

// BuildSystemPrompt assembles the system prompt for one reply. Only
// memory-enabled tiers get stored memories and recent history appended;
// every other tier receives the persona text alone.
func BuildSystemPrompt(tier quota.Tier, memories []string, history []store.Turn) string {
	var b strings.Builder
	b.WriteString(personaPrompt)
	if !tier.HasMemory() {
		return b.String()
	}

	if len(memories) > 0 {
		b.WriteString(memoryBlockHeader)
		for _, m := range memories {
			b.WriteString("\n- ")
			b.WriteString(m)
		}
		b.WriteString(memoryBlockFooter)
	}

	if len(history) > 0 {
		recent := history
		if len(recent) > RecentContextTurns {
			recent = recent[len(recent)-RecentContextTurns:]
		}
		b.WriteString(historyBlockHeader)
		for _, t := range recent {
			if t.Role != store.RoleUser {
				continue
			}
			b.WriteString(historyLinePrefix)
			b.WriteString(excerpt(t.Content, RecentContextChars))
		}
	}
	return b.String()
}

// excerpt cuts s to n characters and marks the cut with "...".
func excerpt(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
