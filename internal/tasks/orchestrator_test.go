package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jddlt/sora2api/internal/api"
	"github.com/jddlt/sora2api/internal/models"
)

type fakeLister struct {
	mu      sync.Mutex
	updates map[string][]api.TaskUpdate
	calls   atomic.Int64
	err     error
}

func newFakeLister() *fakeLister {
	return &fakeLister{updates: make(map[string][]api.TaskUpdate)}
}

func (f *fakeLister) set(account string, updates ...api.TaskUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[account] = updates
}

func (f *fakeLister) ListPendingTasks(ctx context.Context, account string) ([]api.TaskUpdate, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.updates[account], nil
}

func newTestOrchestrator(t *testing.T, lister Lister) *Orchestrator {
	t.Helper()
	o := NewOrchestrator(Options{
		Lister:          lister,
		PollInterval:    5 * time.Millisecond,
		PollMaxInterval: 20 * time.Millisecond,
	})
	t.Cleanup(o.Close)
	return o
}

func TestAwaitCompletionResolvesOnTerminalStatus(t *testing.T) {
	lister := newFakeLister()
	lister.set("acct", api.TaskUpdate{ID: "t1", Status: "completed", Progress: 100, ResultURL: "https://cdn.example/t1.mp4"})

	o := newTestOrchestrator(t, lister)
	if err := o.Track(context.Background(), "acct", "t1", models.TaskKindVideo); err != nil {
		t.Fatalf("Track returned error: %v", err)
	}

	task, err := o.AwaitCompletion(context.Background(), "t1", time.Second)
	if err != nil {
		t.Fatalf("AwaitCompletion returned error: %v", err)
	}
	if task.Status != models.TaskStatusSucceeded {
		t.Errorf("expected succeeded, got %q", task.Status)
	}
	if task.ResultURL == "" {
		t.Error("result url not captured")
	}
}

func TestAwaitCompletionTimesOut(t *testing.T) {
	lister := newFakeLister()
	lister.set("acct", api.TaskUpdate{ID: "t1", Status: "running", Progress: 10})

	o := newTestOrchestrator(t, lister)
	if err := o.Track(context.Background(), "acct", "t1", models.TaskKindVideo); err != nil {
		t.Fatalf("Track returned error: %v", err)
	}

	task, err := o.AwaitCompletion(context.Background(), "t1", 30*time.Millisecond)
	if !errors.Is(err, ErrAwaitTimeout) {
		t.Fatalf("expected ErrAwaitTimeout, got %v", err)
	}
	if task.ID != "t1" {
		t.Errorf("timeout should still return the latest snapshot, got %+v", task)
	}
}

func TestZeroTimeoutReportsImmediately(t *testing.T) {
	lister := newFakeLister()
	o := newTestOrchestrator(t, lister)
	if err := o.Track(context.Background(), "acct", "t1", models.TaskKindImage); err != nil {
		t.Fatalf("Track returned error: %v", err)
	}

	task, err := o.AwaitCompletion(context.Background(), "t1", 0)
	if !errors.Is(err, ErrAwaitTimeout) {
		t.Fatalf("expected ErrAwaitTimeout for a live task, got %v", err)
	}
	if task.Status != models.TaskStatusQueued {
		t.Errorf("expected queued snapshot, got %q", task.Status)
	}

	lister.set("acct", api.TaskUpdate{ID: "t1", Status: "failed", ErrorCode: "moderation_blocked"})
	if _, err := o.AwaitCompletion(context.Background(), "t1", time.Second); err != nil {
		t.Fatalf("AwaitCompletion returned error: %v", err)
	}

	task, err = o.AwaitCompletion(context.Background(), "t1", 0)
	if err != nil {
		t.Fatalf("zero timeout on a terminal task should succeed, got %v", err)
	}
	if task.Status != models.TaskStatusFailed || task.ErrorCode != "moderation_blocked" {
		t.Errorf("unexpected terminal snapshot: %+v", task)
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	lister := newFakeLister()
	lister.set("acct", api.TaskUpdate{ID: "t1", Status: "running", Progress: 60})

	o := newTestOrchestrator(t, lister)
	if err := o.Track(context.Background(), "acct", "t1", models.TaskKindVideo); err != nil {
		t.Fatalf("Track returned error: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		task, err := o.Task("t1")
		if err != nil {
			t.Fatalf("Task returned error: %v", err)
		}
		if task.Status == models.TaskStatusRunning {
			break
		}
		select {
		case <-deadline:
			t.Fatal("task never reached running")
		case <-time.After(time.Millisecond):
		}
	}

	// a reordered poll response must not move the task backwards
	lister.set("acct", api.TaskUpdate{ID: "t1", Status: "queued", Progress: 5})
	time.Sleep(50 * time.Millisecond)

	task, err := o.Task("t1")
	if err != nil {
		t.Fatalf("Task returned error: %v", err)
	}
	if task.Status != models.TaskStatusRunning {
		t.Errorf("status regressed to %q", task.Status)
	}
	if task.Progress != 60 {
		t.Errorf("progress regressed to %d", task.Progress)
	}
}

func TestPollerBatchesAccountTasks(t *testing.T) {
	lister := newFakeLister()
	lister.set("acct",
		api.TaskUpdate{ID: "t1", Status: "completed", Progress: 100},
		api.TaskUpdate{ID: "t2", Status: "completed", Progress: 100},
		api.TaskUpdate{ID: "t3", Status: "completed", Progress: 100},
	)

	o := newTestOrchestrator(t, lister)
	for _, id := range []string{"t1", "t2", "t3"} {
		if err := o.Track(context.Background(), "acct", id, models.TaskKindImage); err != nil {
			t.Fatalf("Track returned error: %v", err)
		}
	}

	for _, id := range []string{"t1", "t2", "t3"} {
		if _, err := o.AwaitCompletion(context.Background(), id, time.Second); err != nil {
			t.Fatalf("AwaitCompletion(%s) returned error: %v", id, err)
		}
	}

	// all three tasks resolved from a shared per-account cycle
	if got := lister.calls.Load(); got > 5 {
		t.Errorf("expected a handful of batched poll calls, got %d", got)
	}
}

func TestUnknownAndDroppedTasks(t *testing.T) {
	lister := newFakeLister()
	lister.set("acct", api.TaskUpdate{ID: "t1", Status: "completed", Progress: 100})

	o := newTestOrchestrator(t, lister)
	if _, err := o.AwaitCompletion(context.Background(), "missing", time.Second); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}

	if err := o.Track(context.Background(), "acct", "t1", models.TaskKindImage); err != nil {
		t.Fatalf("Track returned error: %v", err)
	}
	if _, err := o.AwaitCompletion(context.Background(), "t1", time.Second); err != nil {
		t.Fatalf("AwaitCompletion returned error: %v", err)
	}

	o.Drop("t1")
	if _, err := o.Task("t1"); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask after Drop, got %v", err)
	}
}

func TestTrackAfterCloseFails(t *testing.T) {
	o := NewOrchestrator(Options{Lister: newFakeLister()})
	o.Close()
	if err := o.Track(context.Background(), "acct", "t1", models.TaskKindImage); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
