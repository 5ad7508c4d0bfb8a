package service

import (
	"errors"
	"strings"

	"github.com/benderhq/engine/internal/domain/entity"
)

// ClassifyProviderError pattern-matches a raw transport/HTTP error from
// an LLM provider client into the spec §7 taxonomy. Adapted from the
// teacher's LLMError.ClassifyError (llm_errors.go): same substring
// matching over the lowercased error string, narrowed to the three
// provider kinds the Router distinguishes (rate-limited, empty, and
// connection-failed; anything that matches neither of the first two
// falls back to connection-failed).
func ClassifyProviderError(err error, provider string) *entity.EngineError {
	if err == nil {
		return nil
	}

	var existing *entity.EngineError
	if errors.As(err, &existing) {
		return existing
	}

	errStr := strings.ToLower(err.Error())

	rateLimitPatterns := []string{"429", "rate limit", "rate_limit", "too many requests"}
	for _, p := range rateLimitPatterns {
		if strings.Contains(errStr, p) {
			return entity.NewEngineError(entity.KindProviderRateLimited, "provider "+provider+" rate limited", err)
		}
	}

	emptyPatterns := []string{"empty response", "no content", "no completion"}
	for _, p := range emptyPatterns {
		if strings.Contains(errStr, p) {
			return entity.NewEngineError(entity.KindProviderEmpty, "provider "+provider+" returned empty response", err)
		}
	}

	// Everything else - timeouts, connection resets, 5xx, DNS failures,
	// auth failures - is treated as a connection failure: the Router's
	// job is to fail over, not to diagnose why a provider is down.
	return entity.NewEngineError(entity.KindProviderConnectionFailed, "provider "+provider+" request failed", err)
}
