package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/jddlt/sora2api/internal/models"
)

// StoryboardScene is one scripted scene of a storyboard generation.
type StoryboardScene struct {
	Prompt          string `json:"prompt"`
	DurationSeconds int    `json:"duration_s,omitempty"`
}

// GenerationRequest describes a generation job submission. Kind selects the
// endpoint; the remaining fields apply per kind.
type GenerationRequest struct {
	Kind   models.TaskKind `json:"-"`
	Prompt string          `json:"prompt,omitempty"`
	Width  int             `json:"width,omitempty"`
	Height int             `json:"height,omitempty"`

	// DurationSeconds applies to video and remix jobs.
	DurationSeconds int `json:"duration_s,omitempty"`
	// CameoIDs casts finalized characters in a video job.
	CameoIDs []string `json:"cameo_ids,omitempty"`
	// RemixOfGenerationID seeds a remix from an existing generation.
	RemixOfGenerationID string `json:"remix_of,omitempty"`
	// Scenes drives a storyboard job.
	Scenes []StoryboardScene `json:"scenes,omitempty"`
}

func (r GenerationRequest) validate() error {
	switch r.Kind {
	case models.TaskKindImage, models.TaskKindVideo:
		if r.Prompt == "" {
			return errors.New("prompt must be provided")
		}
	case models.TaskKindStoryboard:
		if len(r.Scenes) == 0 {
			return errors.New("storyboard requires at least one scene")
		}
	case models.TaskKindRemix:
		if r.RemixOfGenerationID == "" {
			return errors.New("remix requires a source generation id")
		}
	default:
		return fmt.Errorf("unknown task kind %q", r.Kind)
	}
	return nil
}

// generation submission endpoints; the sentinel header is required on the
// image, video and storyboard endpoints.
func (r GenerationRequest) endpoint() (path string, sentinel bool) {
	switch r.Kind {
	case models.TaskKindImage:
		return "/generations/image", true
	case models.TaskKindVideo:
		return "/generations/video", true
	case models.TaskKindStoryboard:
		return "/generations/storyboard", true
	default:
		return "/generations/remix", false
	}
}

// SubmitGeneration submits a generation job and returns the opaque task
// identifier the service assigned. Completion is observed only via polling.
func (c *Client) SubmitGeneration(ctx context.Context, account string, req GenerationRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", fmt.Errorf("submit %s generation: %w", req.Kind, err)
	}

	path, sentinel := req.endpoint()

	var payload struct {
		ID string `json:"id"`
	}
	if err := c.postJSON(ctx, account, path, req, &payload, callOptions{sentinel: sentinel}); err != nil {
		return "", err
	}
	if payload.ID == "" {
		return "", errors.New("submission response missing task id")
	}
	return payload.ID, nil
}

// TaskUpdate is one task's state in a batched pending-tasks response.
type TaskUpdate struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Progress  int    `json:"progress_pct"`
	ResultURL string `json:"result_url"`
	ErrorCode string `json:"error_code"`
}

// NormalizedStatus maps the remote status strings onto the local lifecycle.
func (u TaskUpdate) NormalizedStatus() models.TaskStatus {
	switch u.Status {
	case "queued", "pending":
		return models.TaskStatusQueued
	case "running", "processing", "in_progress":
		return models.TaskStatusRunning
	case "succeeded", "completed":
		return models.TaskStatusSucceeded
	case "failed", "error", "rejected":
		return models.TaskStatusFailed
	default:
		return models.TaskStatusQueued
	}
}

// ListPendingTasks fetches the status of every recent generation task for
// the account in one batched call.
func (c *Client) ListPendingTasks(ctx context.Context, account string) ([]TaskUpdate, error) {
	var payload struct {
		Tasks []TaskUpdate `json:"task_responses"`
	}
	if err := c.getJSON(ctx, account, "/generations/pending", &payload); err != nil {
		return nil, err
	}
	return payload.Tasks, nil
}
