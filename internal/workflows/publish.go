package workflows

import (
	"context"
	"io"
	"log/slog"

	"github.com/jddlt/sora2api/internal/logging"
	"github.com/jddlt/sora2api/internal/models"
)

// PublishBackend is the slice of the remote client the publish workflow
// needs. *api.Client satisfies it.
type PublishBackend interface {
	PublishPost(ctx context.Context, account, generationID, caption string) (models.PublishPost, error)
	DeletePost(ctx context.Context, account, postID string) error
	FetchPointer(ctx context.Context, pointer string) (io.ReadCloser, error)
}

// PublishResult is the created post plus, when archiving is enabled, the
// location the published media was copied to.
type PublishResult struct {
	Post          models.PublishPost
	MediaLocation string
}

// PublishWorkflow publishes finished generations to the public feed and
// optionally archives the published media to the blob store.
type PublishWorkflow struct {
	backend PublishBackend
	blobs   BlobStore
}

// NewPublishWorkflow constructs the workflow. blobs may be nil to skip
// archiving.
func NewPublishWorkflow(backend PublishBackend, blobs BlobStore) *PublishWorkflow {
	if backend == nil {
		panic("workflows: backend must not be nil")
	}
	return &PublishWorkflow{backend: backend, blobs: blobs}
}

// Publish publishes a succeeded generation and archives its media when a
// blob store is configured and a result pointer is known.
func (w *PublishWorkflow) Publish(ctx context.Context, task models.GenerationTask, caption string) (PublishResult, error) {
	ctx, span := logging.StartSpan(logging.WithAccount(ctx, task.Account), "publish_workflow")
	res, err := w.publish(ctx, task, caption)
	span.End(err)
	return res, err
}

func (w *PublishWorkflow) publish(ctx context.Context, task models.GenerationTask, caption string) (PublishResult, error) {

	post, err := w.backend.PublishPost(ctx, task.Account, task.ID, caption)
	if err != nil {
		return PublishResult{}, &StepError{Step: "publish", Err: err}
	}
	res := PublishResult{Post: post}

	logging.FromContext(ctx).Info("generation published",
		slog.String("post_id", post.ID),
		slog.String("share_url", post.ShareURL),
	)

	if w.blobs == nil || task.ResultURL == "" {
		return res, nil
	}

	media, err := w.backend.FetchPointer(ctx, task.ResultURL)
	if err != nil {
		return res, &StepError{Step: "fetch_media", Err: err}
	}
	location, err := w.blobs.Save(ctx, "posts/"+post.ID, media)
	media.Close()
	if err != nil {
		return res, &StepError{Step: "archive_media", Err: err}
	}
	res.MediaLocation = location

	return res, nil
}

// Unpublish removes a post from the public feed.
func (w *PublishWorkflow) Unpublish(ctx context.Context, account, postID string) error {
	return w.backend.DeletePost(logging.WithAccount(ctx, account), account, postID)
}
