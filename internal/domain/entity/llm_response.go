package entity

import "time"

// LLMProvider identifies which of the two configured providers
// produced an LLMResponse (spec §3).
type LLMProvider string

const (
	ProviderA LLMProvider = "A"
	ProviderB LLMProvider = "B"
)

// LLMResponse is spec §3's {content, provider, model, tokens_in?,
// tokens_out?, latency?}.
type LLMResponse struct {
	Content    string
	Provider   LLMProvider
	Model      string
	TokensIn   int
	TokensOut  int
	Latency    time.Duration
}
