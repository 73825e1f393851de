package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/jddlt/sora2api/internal/models"
)

// PublishPost publishes a finished generation to the public feed and returns
// the created post with its share URL. Publication requires a sentinel.
func (c *Client) PublishPost(ctx context.Context, account, generationID, caption string) (models.PublishPost, error) {
	if generationID == "" {
		return models.PublishPost{}, fmt.Errorf("publish post: %w", errEmptyIdentifier)
	}

	in := map[string]string{
		"generation_id": generationID,
		"caption":       caption,
	}

	var payload struct {
		ID       string `json:"id"`
		ShareURL string `json:"share_url"`
	}
	if err := c.postJSON(ctx, account, "/project_y/post", in, &payload, callOptions{sentinel: true}); err != nil {
		return models.PublishPost{}, err
	}
	if payload.ID == "" {
		return models.PublishPost{}, errors.New("publish response missing post id")
	}

	return models.PublishPost{
		ID:           payload.ID,
		GenerationID: generationID,
		ShareURL:     payload.ShareURL,
	}, nil
}

// DeletePost removes a published post from the public feed.
func (c *Client) DeletePost(ctx context.Context, account, postID string) error {
	if postID == "" {
		return fmt.Errorf("delete post: %w", errEmptyIdentifier)
	}
	return c.delete(ctx, account, "/project_y/post/"+postID)
}
