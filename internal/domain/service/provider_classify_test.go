package service

import (
	"errors"
	"testing"

	"github.com/benderhq/engine/internal/domain/entity"
)

func TestClassifyProviderError_RateLimited(t *testing.T) {
	ee := ClassifyProviderError(errors.New("HTTP 429: too many requests"), "provider_a")
	if ee.Kind != entity.KindProviderRateLimited {
		t.Fatalf("expected rate limited, got %s", ee.Kind)
	}
}

func TestClassifyProviderError_Empty(t *testing.T) {
	ee := ClassifyProviderError(errors.New("provider returned empty response"), "provider_b")
	if ee.Kind != entity.KindProviderEmpty {
		t.Fatalf("expected empty, got %s", ee.Kind)
	}
}

func TestClassifyProviderError_DefaultsToConnectionFailed(t *testing.T) {
	ee := ClassifyProviderError(errors.New("connection reset by peer"), "provider_a")
	if ee.Kind != entity.KindProviderConnectionFailed {
		t.Fatalf("expected connection failed, got %s", ee.Kind)
	}
}

func TestClassifyProviderError_PassesThroughExisting(t *testing.T) {
	orig := entity.NewEngineError(entity.KindProviderEmpty, "already classified", nil)
	ee := ClassifyProviderError(orig, "provider_a")
	if ee != orig {
		t.Fatalf("expected classifier to pass through an already-classified EngineError")
	}
}

func TestClassifyProviderError_NilIsNil(t *testing.T) {
	if ClassifyProviderError(nil, "provider_a") != nil {
		t.Fatalf("expected nil in, nil out")
	}
}
