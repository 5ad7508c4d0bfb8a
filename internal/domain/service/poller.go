package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PollFunc is one tick of work. A non-nil error counts as a
// self-error for backoff purposes (spec §5's watchdog task); it never
// stops the loop.
type PollFunc func(ctx context.Context) error

// Poller is the generic "run once immediately, then on an interval"
// loop spec §5 describes twice: once per active Session (the Session
// monitor, polling scrollback at effective_interval =
// base * tier_multiplier, no backoff) and once per Supervisor run (the
// watchdog task, polling at check_interval with exponential backoff on
// consecutive self-errors up to 10x base). Adapted from the teacher's
// HeartbeatService loop (heartbeat.go): same ctx/cancel plus
// mutex-guarded running bool, generalized so the interval can grow
// between ticks instead of staying fixed.
type Poller struct {
	name                  string
	baseInterval          time.Duration
	maxBackoffMultiplier  int
	fn                    PollFunc
	logger                *zap.Logger

	mu                 sync.Mutex
	ctx                context.Context
	cancel             context.CancelFunc
	running            bool
	consecutiveErrors  int
}

// NewPoller builds a Poller. maxBackoffMultiplier of 1 (or less)
// disables backoff, leaving the interval fixed at baseInterval - this
// is what the Session monitor uses. A value greater than 1 doubles the
// interval per consecutive self-error up to that multiplier, capped,
// which is what the watchdog task uses (up to 10x base per spec §5).
func NewPoller(name string, baseInterval time.Duration, maxBackoffMultiplier int, fn PollFunc, logger *zap.Logger) *Poller {
	if maxBackoffMultiplier < 1 {
		maxBackoffMultiplier = 1
	}
	return &Poller{
		name:                 name,
		baseInterval:         baseInterval,
		maxBackoffMultiplier: maxBackoffMultiplier,
		fn:                   fn,
		logger:               logger,
	}
}

// Start launches the poll loop in a goroutine. Calling Start twice on
// an already-running Poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	go p.loop()
}

// Stop cancels the loop. Safe to call multiple times.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.cancel()
	p.running = false
}

func (p *Poller) loop() {
	p.runOnce()

	timer := time.NewTimer(p.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-timer.C:
			p.runOnce()
			timer.Reset(p.currentInterval())
		}
	}
}

func (p *Poller) runOnce() {
	err := p.fn(p.ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.consecutiveErrors++
		p.logger.Warn("poller tick failed",
			zap.String("poller", p.name),
			zap.Int("consecutive_errors", p.consecutiveErrors),
			zap.Error(err),
		)
		return
	}
	if p.consecutiveErrors > 0 {
		p.logger.Info("poller recovered", zap.String("poller", p.name))
	}
	p.consecutiveErrors = 0
}

// currentInterval applies exponential backoff (2^consecutiveErrors,
// capped at maxBackoffMultiplier) on top of baseInterval.
func (p *Poller) currentInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	multiplier := 1
	for i := 0; i < p.consecutiveErrors && multiplier < p.maxBackoffMultiplier; i++ {
		multiplier *= 2
	}
	if multiplier > p.maxBackoffMultiplier {
		multiplier = p.maxBackoffMultiplier
	}
	return p.baseInterval * time.Duration(multiplier)
}

// Running reports whether the loop is currently active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
