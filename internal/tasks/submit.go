package tasks

import (
	"context"

	"github.com/jddlt/sora2api/internal/api"
)

// Submitter submits a generation job to the remote service. *api.Client
// satisfies it.
type Submitter interface {
	SubmitGeneration(ctx context.Context, account string, req api.GenerationRequest) (string, error)
}

// Submit pushes a generation job through the retry policy, registers the
// accepted task with the orchestrator, and returns the task id.
func Submit(ctx context.Context, submitter Submitter, o *Orchestrator, policy RetryPolicy, account string, req api.GenerationRequest) (string, error) {
	var taskID string
	err := policy.Do(ctx, func(ctx context.Context) error {
		id, err := submitter.SubmitGeneration(ctx, account, req)
		if err != nil {
			return err
		}
		taskID = id
		return nil
	})
	if err != nil {
		return "", err
	}

	if err := o.Track(ctx, account, taskID, req.Kind); err != nil {
		return "", err
	}
	return taskID, nil
}
