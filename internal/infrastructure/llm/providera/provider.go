// Package providera implements Provider A (spec §4.E): a fixed-model
// allow-list client speaking the Anthropic Messages API shape, adapted
// from the teacher's internal/infrastructure/llm/anthropic/provider.go
// with tool calling and SSE streaming trimmed out (out of scope for
// the spec's plain generate/generate_json contract).
package providera

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
	llm.RegisterFactory("providera", func(cfg llm.ProviderConfig, logger *zap.Logger) (llm.Client, error) {
		return New(cfg, logger)
	})
}

// Provider is a Go-native client for the Anthropic Messages API.
type Provider struct {
	name    string
	baseURL string
	apiKey  string
	models  map[string]bool // fixed allow-list, validated at construction
	first   string          // cfg.Models[0], the model Generate uses
	client  *http.Client
	logger  *zap.Logger

	maxRetries int
	retryWait  time.Duration
	onUsage    llm.UsageCallback

	sessionTokensIn  int
	sessionTokensOut int
}

// New builds Provider A. It returns an error if cfg.Models is empty:
// spec §4.E requires Provider A to reject unknown models at
// construction, which is only meaningful with a non-empty allow-list.
func New(cfg llm.ProviderConfig, logger *zap.Logger) (*Provider, error) {
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("providera: model allow-list must not be empty")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
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

	allow := make(map[string]bool, len(cfg.Models))
	for _, m := range cfg.Models {
		allow[m] = true
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
		models:  allow,
		first:   cfg.Models[0],
		client: &http.Client{
			Timeout:   120 * time.Second,
			Transport: transport,
		},
		logger:     logger.With(zap.String("provider", cfg.Name)),
		maxRetries: maxRetries,
		retryWait:  time.Duration(retryWait * float64(time.Second)),
		onUsage:    cfg.OnUsage,
	}, nil
}

var _ llm.Client = (*Provider)(nil)

func (p *Provider) Name() string { return p.name }
func (p *Provider) Close() error { return nil }

// Generate issues a single-turn completion. model is selected as the
// first entry of the allow-list; a future multi-model Provider A could
// take model as a parameter, but the spec's contract is one model per
// provider instance.
func (p *Provider) Generate(ctx context.Context, prompt string, temperature float64, jsonMode bool, maxTokens int) (string, error) {
	model := p.firstModel()
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
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Messages:    []Message{{Role: "user", Content: []ContentBlock{{Type: "text", Text: prompt}}}},
	}

	resp, err := p.callWithRetry(ctx, req)
	if err != nil {
		return "", err
	}
	return textOf(resp), nil
}

// GenerateJSON wraps Generate with the spec's JSON-mode contract and
// parses the result as a mapping.
func (p *Provider) GenerateJSON(ctx context.Context, prompt string, temperature float64) (map[string]interface{}, error) {
	raw, err := p.Generate(ctx, prompt, temperature, true, 1024)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &out); err != nil {
		return nil, entity.NewJSONParseError("providera: response was not valid JSON", raw, err)
	}
	return out, nil
}

func (p *Provider) firstModel() string {
	return p.first
}

// callWithRetry retries up to maxRetries times with exponential
// backoff (delay x 2^(n-1)), waiting longer on 429 (spec §4.E).
func (p *Provider) callWithRetry(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		start := time.Now()
		resp, status, err := p.doCall(ctx, req)
		latency := time.Since(start)

		if err == nil {
			p.sessionTokensIn += resp.Usage.InputTokens
			p.sessionTokensOut += resp.Usage.OutputTokens
			p.logger.Info("llm call",
				zap.Int("tokens_in", resp.Usage.InputTokens),
				zap.Int("tokens_out", resp.Usage.OutputTokens),
				zap.Duration("latency", latency),
			)
			if p.onUsage != nil {
				p.onUsage(p.name, req.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens, latency.Seconds())
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

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

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
	if len(apiResp.Content) == 0 {
		return nil, resp.StatusCode, fmt.Errorf("empty response: no content blocks")
	}
	return &apiResp, resp.StatusCode, nil
}

func textOf(resp *Response) string {
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// extractJSON trims leading/trailing prose a model sometimes wraps
// around a JSON object, per spec §6's JSON-extraction rule: take the
// substring between the first '{' and the last '}'.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
