package memory

import (
	"strings"
	"unicode/utf8"
)

const (
	// MinMemoryLength is exclusive: a memory must be longer than this many characters.
	MinMemoryLength = 10
	// DedupePrefixLength is how much of a candidate must already appear in an existing memory to count as known.
	DedupePrefixLength = 20
	// MaxMemories caps the stored memories; the oldest are dropped first.
	MaxMemories = 25
)

// IsDuplicate reports whether candidate is already covered by one of existing.
func IsDuplicate(existing []string, candidate string) bool {
	prefix := strings.ToLower(truncateRunes(candidate, DedupePrefixLength))
	for _, m := range existing {
		if strings.Contains(strings.ToLower(m), prefix) {
			return true
		}
	}
	return false
}

// Merge appends the acceptable candidates to existing and returns the capped
// list with the candidates that were accepted. Each accepted candidate is
// visible to the duplicate check of the candidates after it.
func Merge(existing, candidates []string, limit int) (merged []string, added []string) {
	merged = append([]string{}, existing...)
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if utf8.RuneCountInString(c) <= MinMemoryLength {
			continue
		}
		if IsDuplicate(merged, c) {
			continue
		}
		merged = append(merged, c)
		added = append(added, c)
	}
	if limit > 0 && len(merged) > limit {
		merged = append([]string{}, merged[len(merged)-limit:]...)
	}
	return merged, added
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
