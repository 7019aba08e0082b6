package ai

import (
	"time"

	"github.com/hrygo/mirrord/internal/profile"
)

// LLMConfig represents LLM configuration.
type LLMConfig struct {
	Model      string // gpt-4o-mini
	APIKey     string
	BaseURL    string        // any OpenAI-compatible endpoint
	Timeout    time.Duration // per attempt
	MaxRetries int           // additional attempts after the first
	// RetryBackoff is the wait before the first retry; it doubles on each retry.
	RetryBackoff time.Duration
}

// NewConfigFromProfile creates LLM config from profile.
func NewConfigFromProfile(p *profile.Profile) *LLMConfig {
	return &LLMConfig{
		Model:        p.LLMModel,
		APIKey:       p.LLMAPIKey,
		BaseURL:      p.LLMBaseURL,
		Timeout:      p.LLMTimeout,
		MaxRetries:   p.LLMMaxRetries,
		RetryBackoff: time.Second,
	}
}
