package service

import (
	"context"
	"testing"
	"time"

	"github.com/benderhq/engine/internal/domain/entity"
	"github.com/benderhq/engine/internal/domain/repository"
	"go.uber.org/zap"
)

type fakeAuditStore struct {
	checkpoints []entity.Checkpoint
	iterations  []entity.LoopIteration
}

func (f *fakeAuditStore) RecordCheckpoint(runID string, cp entity.Checkpoint) error {
	f.checkpoints = append(f.checkpoints, cp)
	return nil
}
func (f *fakeAuditStore) RecordIteration(runID string, it entity.LoopIteration) error {
	f.iterations = append(f.iterations, it)
	return nil
}
func (f *fakeAuditStore) Close() error { return nil }

func newTestWorkerManager(adapter repository.SessionAdapter, audit repository.AuditStore) *WorkerManager {
	policies := map[entity.WorkerTier]TierPolicy{
		entity.TierSimple: {PollIntervalMultiplier: 1, StuckTimeout: time.Second},
	}
	return NewWorkerManager("/proj", 5*time.Millisecond, policies, func(tier entity.WorkerTier) repository.SessionAdapter {
		return adapter
	}, audit, zap.NewNop())
}

func TestWorkerManager_StartTaskAssignsSessionID(t *testing.T) {
	adapter := &fakeSessionAdapter{alive: true}
	wm := newTestWorkerManager(adapter, nil)

	task := entity.NewTask("do the thing", entity.ComplexityMedium, nil, false)
	if err := wm.StartTask(context.Background(), task, entity.TierSimple, ""); err != nil {
		t.Fatalf("StartTask failed: %v", err)
	}
	defer wm.Stop(context.Background())

	session, active := wm.GetStatus()
	if !active {
		t.Fatalf("expected the worker manager to report active after StartTask")
	}
	if session.ID == "" {
		t.Fatalf("expected StartTask to assign a non-empty session ID")
	}
	if session.Tier != entity.TierSimple {
		t.Fatalf("expected tier %s, got %s", entity.TierSimple, session.Tier)
	}
}

func TestWorkerManager_SendMessageFailsWithoutActiveSession(t *testing.T) {
	wm := newTestWorkerManager(&fakeSessionAdapter{alive: true}, nil)
	if err := wm.SendMessage(context.Background(), "hello"); err == nil {
		t.Fatalf("expected an error sending to an inactive worker manager")
	}
}

func TestWorkerManager_GetOutputReturnsScrollback(t *testing.T) {
	adapter := &fakeSessionAdapter{alive: true, output: "scrollback text"}
	wm := newTestWorkerManager(adapter, nil)

	task := entity.NewTask("task", entity.ComplexityMedium, nil, false)
	if err := wm.StartTask(context.Background(), task, entity.TierSimple, ""); err != nil {
		t.Fatalf("StartTask failed: %v", err)
	}
	defer wm.Stop(context.Background())

	out, err := wm.GetOutput(context.Background())
	if err != nil {
		t.Fatalf("GetOutput failed: %v", err)
	}
	if out != "scrollback text" {
		t.Fatalf("expected the adapter's scrollback, got %q", out)
	}
}

func TestWorkerManager_WaitForCompletionRecordsCheckpoint(t *testing.T) {
	adapter := &fakeSessionAdapter{alive: true, output: "all done"}
	audit := &fakeAuditStore{}
	wm := newTestWorkerManager(adapter, audit)

	task := entity.NewTask("task", entity.ComplexityMedium, nil, false)
	if err := wm.StartTask(context.Background(), task, entity.TierSimple, ""); err != nil {
		t.Fatalf("StartTask failed: %v", err)
	}
	defer wm.Stop(context.Background())

	success, scrollback, err := wm.WaitForCompletion(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("WaitForCompletion failed: %v", err)
	}
	if !success || scrollback != "all done" {
		t.Fatalf("unexpected result: success=%v scrollback=%q", success, scrollback)
	}
	if len(audit.checkpoints) != 1 {
		t.Fatalf("expected exactly one checkpoint recorded, got %d", len(audit.checkpoints))
	}
	if audit.checkpoints[0].Status != "COMPLETED" {
		t.Fatalf("expected COMPLETED status, got %s", audit.checkpoints[0].Status)
	}
}

func TestWorkerManager_WaitForCompletionSkipsAuditWhenNil(t *testing.T) {
	adapter := &fakeSessionAdapter{alive: true, output: "done"}
	wm := newTestWorkerManager(adapter, nil)

	task := entity.NewTask("task", entity.ComplexityMedium, nil, false)
	if err := wm.StartTask(context.Background(), task, entity.TierSimple, ""); err != nil {
		t.Fatalf("StartTask failed: %v", err)
	}
	defer wm.Stop(context.Background())

	if _, _, err := wm.WaitForCompletion(context.Background(), time.Second); err != nil {
		t.Fatalf("expected no error with a nil audit store, got %v", err)
	}
}

func TestWorkerManager_StopIsIdempotent(t *testing.T) {
	wm := newTestWorkerManager(&fakeSessionAdapter{alive: true}, nil)
	if err := wm.Stop(context.Background()); err != nil {
		t.Fatalf("expected Stop on an inactive manager to be a no-op, got %v", err)
	}
}

func TestWorkerManager_StartTaskStopsPriorSession(t *testing.T) {
	first := &fakeSessionAdapter{alive: true}
	second := &fakeSessionAdapter{alive: true}
	calls := 0
	policies := map[entity.WorkerTier]TierPolicy{entity.TierSimple: {PollIntervalMultiplier: 1}}
	wm := NewWorkerManager("/proj", 5*time.Millisecond, policies, func(tier entity.WorkerTier) repository.SessionAdapter {
		calls++
		if calls == 1 {
			return first
		}
		return second
	}, nil, zap.NewNop())

	task := entity.NewTask("task", entity.ComplexityMedium, nil, false)
	if err := wm.StartTask(context.Background(), task, entity.TierSimple, ""); err != nil {
		t.Fatalf("first StartTask failed: %v", err)
	}
	if err := wm.StartTask(context.Background(), task, entity.TierSimple, "restart context"); err != nil {
		t.Fatalf("second StartTask failed: %v", err)
	}
	defer wm.Stop(context.Background())

	session, active := wm.GetStatus()
	if !active {
		t.Fatalf("expected the manager to be active after the second StartTask")
	}
	_ = session
}
