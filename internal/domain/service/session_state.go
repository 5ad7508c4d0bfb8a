package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/benderhq/engine/internal/domain/entity"
	"go.uber.org/zap"
)

// validSessionTransitions defines the allowed Session.Status DAG from
// spec §3: idle -> running, and running fans out into every terminal
// and near-terminal outcome the completion oracle (§4.A) can reach.
// stuck and loop both recover back to running once a restart/nudge
// lands; need_human, error, completed, and timeout are terminal.
var validSessionTransitions = map[entity.SessionStatus]map[entity.SessionStatus]bool{
	entity.StatusIdle: {
		entity.StatusRunning: true,
	},
	entity.StatusRunning: {
		entity.StatusCompleted: true,
		entity.StatusStuck:     true,
		entity.StatusLoop:      true,
		entity.StatusError:     true,
		entity.StatusNeedHuman: true,
		entity.StatusTimeout:   true,
	},
	entity.StatusStuck: {
		entity.StatusRunning:   true,
		entity.StatusError:     true,
		entity.StatusNeedHuman: true,
	},
	entity.StatusLoop: {
		entity.StatusRunning:   true,
		entity.StatusError:     true,
		entity.StatusNeedHuman: true,
	},
	entity.StatusCompleted: {},
	entity.StatusError:     {},
	entity.StatusNeedHuman: {},
	entity.StatusTimeout:   {},
}

// SessionStateMachine guards a single Session's status transitions.
// Adapted from the teacher's AgentState machine
// (internal/domain/service/state_machine.go): same mutex-guarded
// transition table plus listener notification outside the lock, now
// keyed on entity.SessionStatus instead of AgentState.
type SessionStateMachine struct {
	mu        sync.RWMutex
	status    entity.SessionStatus
	startTime time.Time
	logger    *zap.Logger
	listeners []func(from, to entity.SessionStatus)
}

// NewSessionStateMachine creates a machine starting in StatusIdle.
func NewSessionStateMachine(logger *zap.Logger) *SessionStateMachine {
	return &SessionStateMachine{
		status:    entity.StatusIdle,
		startTime: time.Now(),
		logger:    logger,
	}
}

func (sm *SessionStateMachine) Status() entity.SessionStatus {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.status
}

// Transition moves to a new status, rejecting any edge not present in
// validSessionTransitions. Listener callbacks run after the lock is
// released, mirroring the teacher's concurrency discipline (never
// invoke a callback while holding the state mutex).
func (sm *SessionStateMachine) Transition(to entity.SessionStatus) error {
	sm.mu.Lock()
	from := sm.status

	allowed, ok := validSessionTransitions[from]
	if !ok || !allowed[to] {
		sm.mu.Unlock()
		err := fmt.Errorf("invalid session transition: %s -> %s", from, to)
		sm.logger.Error("session state machine violation", zap.Error(err))
		return err
	}

	sm.status = to
	listeners := make([]func(from, to entity.SessionStatus), len(sm.listeners))
	copy(listeners, sm.listeners)
	sm.mu.Unlock()

	sm.logger.Debug("session transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	for _, fn := range listeners {
		fn(from, to)
	}
	return nil
}

func (sm *SessionStateMachine) OnTransition(fn func(from, to entity.SessionStatus)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, fn)
}

// IsTerminal reports whether the current status has no outgoing
// transitions.
func (sm *SessionStateMachine) IsTerminal() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	allowed, ok := validSessionTransitions[sm.status]
	return !ok || len(allowed) == 0
}

func (sm *SessionStateMachine) Elapsed() time.Duration {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return time.Since(sm.startTime)
}
