package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jddlt/sora2api/internal/api"
	"github.com/jddlt/sora2api/internal/models"
)

func TestRetryPolicyRetriesOverloadOnly(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond}

	attempts := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return api.ErrOverloaded
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}

	attempts = 0
	terminal := errors.New("bad request")
	err = policy.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return terminal
	})
	if !errors.Is(err, terminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("terminal error must not be retried, got %d attempts", attempts)
	}
}

func TestRetryPolicyExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, BaseBackoff: time.Millisecond}

	attempts := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return api.ErrOverloaded
	})
	if !errors.Is(err, api.ErrOverloaded) {
		t.Fatalf("expected ErrOverloaded after exhaustion, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryPolicyHonorsContext(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 10, BaseBackoff: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := policy.Do(ctx, func(ctx context.Context) error {
		return api.ErrOverloaded
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

type stubSubmitter struct {
	attempts int
	failFor  int
	id       string
}

func (s *stubSubmitter) SubmitGeneration(ctx context.Context, account string, req api.GenerationRequest) (string, error) {
	s.attempts++
	if s.attempts <= s.failFor {
		return "", api.ErrOverloaded
	}
	return s.id, nil
}

func TestSubmitRetriesAndTracks(t *testing.T) {
	lister := newFakeLister()
	lister.set("acct", api.TaskUpdate{ID: "t1", Status: "completed", Progress: 100})

	o := newTestOrchestrator(t, lister)
	submitter := &stubSubmitter{failFor: 2, id: "t1"}
	policy := RetryPolicy{MaxAttempts: 4, BaseBackoff: time.Millisecond}

	id, err := Submit(context.Background(), submitter, o, policy, "acct", api.GenerationRequest{
		Kind:   models.TaskKindVideo,
		Prompt: "a heron",
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if id != "t1" {
		t.Fatalf("unexpected task id %q", id)
	}
	if submitter.attempts != 3 {
		t.Errorf("expected 3 submit attempts, got %d", submitter.attempts)
	}

	task, err := o.AwaitCompletion(context.Background(), id, time.Second)
	if err != nil {
		t.Fatalf("AwaitCompletion returned error: %v", err)
	}
	if task.Kind != models.TaskKindVideo {
		t.Errorf("task kind not recorded: %q", task.Kind)
	}
}
