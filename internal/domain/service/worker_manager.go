package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benderhq/engine/internal/domain/entity"
	"github.com/benderhq/engine/internal/domain/repository"
	"github.com/benderhq/engine/pkg/safego"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TierPolicy is the injected mapping from a WorkerTier to everything
// needed to drive it: the fixed command line lives inside the adapter
// the factory builds, this just carries the supervision knobs spec §4.I
// names (poll-interval multiplier, stuck timeout).
type TierPolicy struct {
	PollIntervalMultiplier float64
	StuckTimeout           time.Duration
}

// AdapterFactory builds a fresh repository.SessionAdapter for tier.
// Kept as an injected function rather than a concrete dependency so
// domain/service never imports the infrastructure/session package
// (spec §3: "mapping to adapters is an injected policy, not part of
// the core").
type AdapterFactory func(tier entity.WorkerTier) repository.SessionAdapter

// WorkerManager owns exactly one Session at a time and supervises it
// with a background watch loop (spec §4.I). Grounded on
// worker_manager.py's WorkerManager.
type WorkerManager struct {
	projectDir   string
	policies     map[entity.WorkerTier]TierPolicy
	basePoll     time.Duration
	buildAdapter AdapterFactory
	audit        repository.AuditStore
	logger       *zap.Logger

	mu       sync.Mutex
	current  repository.SessionAdapter
	session  entity.Session
	active   bool
	watchCtx    context.Context
	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

// NewWorkerManager builds a WorkerManager. audit may be nil, in which
// case checkpoint recording is skipped entirely (the mandatory
// EngineState file, not this supplemented log, is what recovery
// depends on).
func NewWorkerManager(projectDir string, basePoll time.Duration, policies map[entity.WorkerTier]TierPolicy, buildAdapter AdapterFactory, audit repository.AuditStore, logger *zap.Logger) *WorkerManager {
	return &WorkerManager{
		projectDir:   projectDir,
		basePoll:     basePoll,
		policies:     policies,
		buildAdapter: buildAdapter,
		audit:        audit,
		logger:       logger,
	}
}

// StartTask stops any running session (enforcing the single-session
// invariant), builds a fresh adapter for tier, and starts it with task
// and optional restart context (worker_manager.py's start_task).
func (m *WorkerManager) StartTask(ctx context.Context, task entity.Task, tier entity.WorkerTier, restartContext string) error {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		if err := m.Stop(ctx); err != nil {
			return fmt.Errorf("stop existing session before starting new task: %w", err)
		}
		m.mu.Lock()
	}

	adapter := m.buildAdapter(tier)
	m.current = adapter
	m.session = entity.Session{
		ID:         uuid.NewString(),
		Tier:       tier,
		ProjectDir: m.projectDir,
		StartedAt:  time.Now(),
		Liveness:   entity.LivenessAlive,
		Status:     entity.StatusRunning,
	}
	m.active = true
	m.mu.Unlock()

	if err := adapter.Start(ctx, task.Clarified, restartContext); err != nil {
		m.mu.Lock()
		m.active = false
		m.mu.Unlock()
		return err
	}

	m.startWatchLoop()
	return nil
}

// startWatchLoop launches the background liveness poller
// (worker_manager.py's _watch_loop), panic-isolated via safego.Go.
func (m *WorkerManager) startWatchLoop() {
	m.mu.Lock()
	watchCtx, cancel := context.WithCancel(context.Background())
	m.watchCtx = watchCtx
	m.watchCancel = cancel
	m.watchDone = make(chan struct{})
	adapter := m.current
	interval := m.effectiveInterval()
	done := m.watchDone
	m.mu.Unlock()

	safego.Go(m.logger, "worker-manager-watch-loop", func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
				if !adapter.IsAlive(watchCtx) {
					m.mu.Lock()
					m.session.Liveness = entity.LivenessDead
					m.session.Status = entity.StatusError
					m.mu.Unlock()
					m.logger.Warn("worker session died unexpectedly")
					return
				}
			}
		}
	})
}

func (m *WorkerManager) effectiveInterval() time.Duration {
	policy, ok := m.policies[m.session.Tier]
	if !ok || policy.PollIntervalMultiplier <= 0 {
		return m.basePoll
	}
	return time.Duration(float64(m.basePoll) * policy.PollIntervalMultiplier)
}

// SendMessage delivers text to the active session.
func (m *WorkerManager) SendMessage(ctx context.Context, text string) error {
	m.mu.Lock()
	adapter, active := m.current, m.active
	m.mu.Unlock()
	if !active {
		return entity.ErrNoActiveSession
	}
	return adapter.SendInput(ctx, text)
}

// GetOutput returns the active session's current scrollback.
func (m *WorkerManager) GetOutput(ctx context.Context) (string, error) {
	m.mu.Lock()
	adapter, active := m.current, m.active
	m.mu.Unlock()
	if !active {
		return "", entity.ErrNoActiveSession
	}
	return adapter.CaptureOutput(ctx), nil
}

// WaitForCompletion blocks until the active session's completion
// oracle resolves or timeout elapses.
func (m *WorkerManager) WaitForCompletion(ctx context.Context, timeout time.Duration) (bool, string, error) {
	m.mu.Lock()
	adapter, active, policy, runID := m.current, m.active, m.policies[m.session.Tier], m.session.ID
	m.mu.Unlock()
	if !active {
		return false, "", entity.ErrNoActiveSession
	}
	poll := m.basePoll
	if policy.PollIntervalMultiplier > 0 {
		poll = time.Duration(float64(m.basePoll) * policy.PollIntervalMultiplier)
	}
	success, scrollback := adapter.WaitForCompletion(ctx, timeout, poll)
	m.recordCheckpoint(runID, success, scrollback)
	return success, scrollback, nil
}

// recordCheckpoint appends a Checkpoint summarizing this
// WaitForCompletion result to the supplemented audit log, if one is
// configured (spec-supplemented: the mandatory EngineState file alone
// has no per-tick history).
func (m *WorkerManager) recordCheckpoint(runID string, success bool, scrollback string) {
	if m.audit == nil {
		return
	}
	status := "COMPLETED"
	if !success {
		status = "INCOMPLETE"
	}
	summary := scrollback
	if len(summary) > 200 {
		summary = summary[len(summary)-200:]
	}
	cp := entity.Checkpoint{Timestamp: time.Now(), Status: status, Summary: summary}
	if err := m.audit.RecordCheckpoint(runID, cp); err != nil {
		m.logger.Warn("recording checkpoint audit failed", zap.Error(err))
	}
}

// Stop tears the active session down idempotently: cancels the watch
// loop, waits for it to exit, then stops the adapter
// (worker_manager.py's stop()).
func (m *WorkerManager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return nil
	}
	adapter := m.current
	cancel := m.watchCancel
	done := m.watchDone
	m.active = false
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return adapter.Stop(ctx)
}

// GetStatus reports the active session's supervision state
// (worker_manager.py's get_status).
func (m *WorkerManager) GetStatus() (entity.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, m.active
}
