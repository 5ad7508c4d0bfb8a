package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPoller_RunsImmediatelyThenTicks(t *testing.T) {
	var count int32
	p := NewPoller("test", 20*time.Millisecond, 1, func(ctx context.Context) error {
		atomic.AddInt32(&count, 1)
		return nil
	}, zap.NewNop())

	p.Start(context.Background())
	defer p.Stop()

	time.Sleep(5 * time.Millisecond)
	if atomic.LoadInt32(&count) < 1 {
		t.Fatalf("expected at least one immediate tick")
	}

	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&count) < 3 {
		t.Fatalf("expected at least 3 ticks after 60ms at 20ms interval, got %d", count)
	}
}

func TestPoller_StopHaltsLoop(t *testing.T) {
	var count int32
	p := NewPoller("test", 10*time.Millisecond, 1, func(ctx context.Context) error {
		atomic.AddInt32(&count, 1)
		return nil
	}, zap.NewNop())

	p.Start(context.Background())
	time.Sleep(5 * time.Millisecond)
	p.Stop()
	after := atomic.LoadInt32(&count)

	time.Sleep(40 * time.Millisecond)
	if atomic.LoadInt32(&count) != after {
		t.Fatalf("expected no further ticks after Stop, went from %d to %d", after, count)
	}
}

func TestPoller_BackoffCapsAtMaxMultiplier(t *testing.T) {
	p := NewPoller("test", 10*time.Millisecond, 4, func(ctx context.Context) error { return nil }, zap.NewNop())
	p.consecutiveErrors = 10
	if got := p.currentInterval(); got != 40*time.Millisecond {
		t.Fatalf("expected interval capped at 4x base (40ms), got %v", got)
	}
}

func TestPoller_NoBackoffWhenMultiplierIsOne(t *testing.T) {
	p := NewPoller("test", 10*time.Millisecond, 1, func(ctx context.Context) error { return nil }, zap.NewNop())
	p.consecutiveErrors = 5
	if got := p.currentInterval(); got != 10*time.Millisecond {
		t.Fatalf("expected fixed interval with no backoff, got %v", got)
	}
}
