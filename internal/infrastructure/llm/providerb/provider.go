// Package providerb implements Provider B (spec §4.E): an
// OpenAI-compatible chat-completions client with an additional
// "thinking" mode, adapted from the teacher's
// internal/infrastructure/llm/openai/provider.go with tool calling and
// SSE streaming trimmed out.
package providerb

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/benderhq/engine/internal/domain/entity"
	"github.com/benderhq/engine/internal/infrastructure/llm"
	"go.uber.org/zap"
)

func init() {
	llm.RegisterFactory("providerb", func(cfg llm.ProviderConfig, logger *zap.Logger) (llm.Client, error) {
		return New(cfg, logger), nil
	})
}

// Provider is a Go-native OpenAI-compatible HTTP client. Unlike
// Provider A it has no fixed model allow-list: cfg.Models is the
// preferred model name, but the wire contract accepts any.
type Provider struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *zap.Logger

	maxRetries int
	retryWait  time.Duration
	onUsage    llm.UsageCallback
}

func New(cfg llm.ProviderConfig, logger *zap.Logger) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := ""
	if len(cfg.Models) > 0 {
		model = cfg.Models[0]
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 120 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryWait := cfg.RetryWait
	if retryWait <= 0 {
		retryWait = 2
	}

	return &Provider{
		name:    cfg.Name,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   model,
		client: &http.Client{
			Timeout:   120 * time.Second,
			Transport: transport,
		},
		logger:     logger.With(zap.String("provider", cfg.Name)),
		maxRetries: maxRetries,
		retryWait:  time.Duration(retryWait * float64(time.Second)),
		onUsage:    cfg.OnUsage,
	}
}

var _ llm.Client = (*Provider)(nil)

func (p *Provider) Name() string { return p.name }
func (p *Provider) Close() error { return nil }

func (p *Provider) Generate(ctx context.Context, prompt string, temperature float64, jsonMode bool, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	if jsonMode {
		prompt = prompt + "\nRespond with valid JSON only."
		if maxTokens > 1024 {
			maxTokens = 1024
		}
	}

	req := &Request{
		Model:       p.model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Messages:    []Message{{Role: "user", Content: prompt}},
	}

	resp, err := p.callWithRetry(ctx, req)
	if err != nil {
		return "", err
	}

	msg := resp.Choices[0].Message
	content := msg.Content
	if content == "" {
		// Thinking mode: empty content falls back to reasoning (spec §4.E).
		content = msg.Reasoning
	}
	return content, nil
}

func (p *Provider) GenerateJSON(ctx context.Context, prompt string, temperature float64) (map[string]interface{}, error) {
	raw, err := p.Generate(ctx, prompt, temperature, true, 1024)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &out); err != nil {
		return nil, entity.NewJSONParseError("providerb: response was not valid JSON", raw, err)
	}
	return out, nil
}

func (p *Provider) callWithRetry(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		start := time.Now()
		resp, status, err := p.doCall(ctx, req)
		latency := time.Since(start)

		if err == nil {
			p.logger.Info("llm call",
				zap.Int("tokens_in", resp.Usage.PromptTokens),
				zap.Int("tokens_out", resp.Usage.CompletionTokens),
				zap.Duration("latency", latency),
			)
			if p.onUsage != nil {
				p.onUsage(p.name, req.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, latency.Seconds())
			}
			return resp, nil
		}

		lastErr = err
		p.logger.Warn("llm call failed",
			zap.Int("attempt", attempt), zap.Int("status", status), zap.Error(err))

		if attempt == p.maxRetries {
			break
		}
		wait := p.retryWait * time.Duration(math.Pow(2, float64(attempt-1)))
		if status == http.StatusTooManyRequests {
			wait *= 3
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

func (p *Provider) doCall(ctx context.Context, req *Request) (*Response, int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp Response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("parse response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, resp.StatusCode, fmt.Errorf("empty response: no choices")
	}
	return &apiResp, resp.StatusCode, nil
}

func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
