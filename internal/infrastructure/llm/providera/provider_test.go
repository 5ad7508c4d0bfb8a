package providera

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/benderhq/engine/internal/infrastructure/llm"
	"go.uber.org/zap"
)

func TestNew_RejectsEmptyModelAllowList(t *testing.T) {
	if _, err := New(llm.ProviderConfig{Name: "a"}, zap.NewNop()); err == nil {
		t.Fatalf("expected construction to fail with no allow-listed models")
	}
}

func TestGenerate_ParsesTextContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := Response{
			Content: []ContentBlock{{Type: "text", Text: "hello from provider a"}},
			Usage:   Usage{InputTokens: 10, OutputTokens: 5},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p, err := New(llm.ProviderConfig{Name: "a", BaseURL: srv.URL, Models: []string{"model-a"}, MaxRetries: 1}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected construction error: %v", err)
	}

	out, err := p.Generate(context.Background(), "say hi", 0.1, false, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hello from provider a" {
		t.Fatalf("unexpected content: %q", out)
	}
}

func TestGenerateJSON_ExtractsObjectFromProse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := Response{
			Content: []ContentBlock{{Type: "text", Text: "Sure thing: {\"verdict\":\"completed\"} thanks!"}},
			Usage:   Usage{InputTokens: 1, OutputTokens: 1},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p, err := New(llm.ProviderConfig{Name: "a", BaseURL: srv.URL, Models: []string{"model-a"}, MaxRetries: 1}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected construction error: %v", err)
	}

	out, err := p.GenerateJSON(context.Background(), "assess", 0.1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["verdict"] != "completed" {
		t.Fatalf("unexpected parsed JSON: %+v", out)
	}
}
