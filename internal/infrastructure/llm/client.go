package llm

import "context"

// Client is the capability every provider implementation exposes
// (spec §4.E): a plain-text completion call and a JSON-mode call, both
// synchronous, plus lifecycle teardown. This replaces the teacher's
// service.LLMClient, which spoke in terms of multi-turn chat messages
// and tool calls the spec's Router has no use for.
type Client interface {
	Generate(ctx context.Context, prompt string, temperature float64, jsonMode bool, maxTokens int) (string, error)
	GenerateJSON(ctx context.Context, prompt string, temperature float64) (map[string]interface{}, error)
	Name() string
	Close() error
}

// UsageCallback is invoked once per completed call with the accumulated
// token counts and latency, letting the Worker Manager's context budget
// tracker (spec §3 ContextBudget) observe spend without the provider
// depending on it directly.
type UsageCallback func(provider, model string, tokensIn, tokensOut int, latency float64)

// ProviderConfig is the shared construction config for both provider
// implementations, mirroring the teacher's llm.ProviderConfig shape.
type ProviderConfig struct {
	Name        string
	BaseURL     string
	APIKey      string
	Models      []string // fixed allow-list; empty means "accept any" (Provider B)
	MaxRetries  int
	RetryWait   float64 // seconds, base wait for exponential backoff
	OnUsage     UsageCallback
}
