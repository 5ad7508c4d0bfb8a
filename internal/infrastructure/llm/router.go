package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benderhq/engine/internal/domain/entity"
	"go.uber.org/zap"
)

// entry bundles one configured provider with its own rate limiter and
// circuit breaker, matching spec §4.F's per-provider resilience state.
type entry struct {
	name    string
	client  Client
	limiter *RateLimiter
	breaker *CircuitBreaker

	maxRetries int
	retryWait  time.Duration
}

// Router orders providers by configured primary + fallback and
// enforces, per provider, a rate limiter, a circuit breaker, and
// within-provider retries before failing over (spec §4.F).
type Router struct {
	mu        sync.RWMutex
	providers []*entry
	counters  map[string]int64
	lastProv  string
	logger    *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		counters: make(map[string]int64),
		logger:   logger.With(zap.String("component", "llm-router")),
	}
}

// ProviderSpec is what the caller supplies per provider when wiring
// the router: the Client plus the resilience knobs from config.
type ProviderSpec struct {
	Name               string
	Client             Client
	RequestsPerMinute  int
	FailureThreshold   int
	RecoveryTimeout    time.Duration
	HalfOpenMaxCalls   int
	MaxRetries         int
	RetryBaseWait      time.Duration
}

// AddProvider appends a provider to the fallback order. Call it once
// for the primary, then again for the configured fallback, in order.
func (r *Router) AddProvider(spec ProviderSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, &entry{
		name:       spec.Name,
		client:     spec.Client,
		limiter:    NewRateLimiter(spec.RequestsPerMinute),
		breaker:    NewCircuitBreakerWithHalfOpenLimit(spec.FailureThreshold, spec.RecoveryTimeout, spec.HalfOpenMaxCalls),
		maxRetries: spec.MaxRetries,
		retryWait:  spec.RetryBaseWait,
	})
	r.logger.Info("llm provider registered", zap.String("name", spec.Name))
}

// Generate routes a plain-text completion through the provider chain.
func (r *Router) Generate(ctx context.Context, prompt string, temperature float64, jsonMode bool, maxTokens int) (entity.LLMResponse, error) {
	return r.route(ctx, func(e *entry) (string, error) {
		return e.client.Generate(ctx, prompt, temperature, jsonMode, maxTokens)
	})
}

// GenerateJSON routes a JSON-mode completion through the provider chain.
func (r *Router) GenerateJSON(ctx context.Context, prompt string, temperature float64) (map[string]interface{}, entity.LLMResponse, error) {
	var result map[string]interface{}
	resp, err := r.route(ctx, func(e *entry) (string, error) {
		m, err := e.client.GenerateJSON(ctx, prompt, temperature)
		if err != nil {
			return "", err
		}
		result = m
		return "", nil
	})
	return result, resp, err
}

// route walks providers in order, applying rate limit, circuit breaker,
// and within-provider retries, failing over to the next provider on
// exhaustion, and returning AllProvidersUnavailable if every provider
// is exhausted.
func (r *Router) route(ctx context.Context, call func(*entry) (string, error)) (entity.LLMResponse, error) {
	r.mu.RLock()
	providers := make([]*entry, len(r.providers))
	copy(providers, r.providers)
	r.mu.RUnlock()

	var lastErr error
	for i, e := range providers {
		if !e.breaker.Allow() {
			r.incr("circuit_breaks")
			r.logger.Debug("provider circuit open, skipping", zap.String("provider", e.name))
			continue
		}

		content, latency, err := r.callWithRetry(ctx, e, call)

		if err != nil {
			e.breaker.RecordFailure()
			lastErr = err
			r.logger.Warn("provider exhausted its retries, trying next",
				zap.String("provider", e.name), zap.Error(err))
			continue
		}

		e.breaker.RecordSuccess()
		r.setLast(e.name)
		if i > 0 {
			r.incr("fallbacks")
		}
		return entity.LLMResponse{Content: content, Provider: providerLabel(i), Latency: latency}, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no providers configured")
	}
	return entity.LLMResponse{}, entity.NewEngineError(entity.KindAllProvidersUnavailable,
		"every provider in the fallback chain failed or had an open circuit", lastErr)
}

// providerLabel maps position in the chain to the spec's A/B labels:
// index 0 is always the configured primary.
func providerLabel(i int) entity.LLMProvider {
	if i == 0 {
		return entity.ProviderA
	}
	return entity.ProviderB
}

// callWithRetry retries within one provider up to e.maxRetries times
// with exponential backoff (spec §4.F), gated by the rate limiter on
// every attempt. {provider}_errors is counted once per failed attempt
// and {provider}_calls once on the successful attempt, matching
// llm_router.py's _call_with_fallback loop
// (original_source/bender/llm_router.py:315,325): a call that fails
// three times and never succeeds still records three errors, which is
// what Scenario S1 (provider fallback under 429) checks for.
func (r *Router) callWithRetry(ctx context.Context, e *entry, call func(*entry) (string, error)) (string, time.Duration, error) {
	retries := e.maxRetries
	if retries <= 0 {
		retries = 1
	}
	wait := e.retryWait
	if wait <= 0 {
		wait = 2 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if err := e.limiter.Acquire(ctx); err != nil {
			return "", 0, err
		}

		start := time.Now()
		content, err := call(e)
		latency := time.Since(start)
		if err == nil {
			r.incr(e.name + "_calls")
			return content, latency, nil
		}

		lastErr = err
		r.incr(e.name + "_errors")
		if attempt == retries {
			break
		}
		backoff := wait * time.Duration(1<<uint(attempt-1))
		select {
		case <-ctx.Done():
			return "", 0, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return "", 0, lastErr
}

func (r *Router) incr(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[key]++
}

func (r *Router) setLast(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastProv = name
}

// Counters returns a snapshot of every named counter plus last_provider.
func (r *Router) Counters() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]interface{}, len(r.counters)+1)
	for k, v := range r.counters {
		out[k] = v
	}
	out["last_provider"] = r.lastProv
	return out
}

// ProviderHealth is one provider's health_check result.
type ProviderHealth struct {
	Name  string
	OK    bool
	Error string
}

// HealthCheck fans out a trivial "say ok" call to every provider with
// the given deadline (spec §4.F).
func (r *Router) HealthCheck(ctx context.Context, timeout time.Duration) []ProviderHealth {
	r.mu.RLock()
	providers := make([]*entry, len(r.providers))
	copy(providers, r.providers)
	r.mu.RUnlock()

	results := make([]ProviderHealth, len(providers))
	var wg sync.WaitGroup
	for i, e := range providers {
		wg.Add(1)
		go func(i int, e *entry) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			_, err := e.client.Generate(checkCtx, "say ok", 0, false, 16)
			if err != nil {
				results[i] = ProviderHealth{Name: e.name, OK: false, Error: err.Error()}
				return
			}
			results[i] = ProviderHealth{Name: e.name, OK: true}
		}(i, e)
	}
	wg.Wait()
	return results
}
