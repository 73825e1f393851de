package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/jddlt/sora2api/internal/api"
	"github.com/jddlt/sora2api/internal/auth"
	"github.com/jddlt/sora2api/internal/config"
	"github.com/jddlt/sora2api/internal/storage"
	"github.com/jddlt/sora2api/internal/tasks"
	"github.com/jddlt/sora2api/internal/workflows"
)

// Engine bundles the wired client components: credential manager, request
// dispatcher, task orchestrator, and the workflows built on top of them.
type Engine struct {
	Credentials  *auth.Manager
	Client       *api.Client
	Profiles     *api.CachingProfileSource
	Orchestrator *tasks.Orchestrator
	Policy       tasks.RetryPolicy
	Characters   *workflows.CharacterWorkflow
	Publisher    *workflows.PublishWorkflow
	Archiver     *storage.Archiver
}

// buildEngine wires together the concrete implementations. The blob store
// and archive recorder are optional; without a bucket the engine runs with
// archiving disabled.
func buildEngine(ctx context.Context, cfg config.Config, store auth.CredentialStore, recorder storage.ArchiveRecorder, logger *slog.Logger) (*Engine, error) {
	grantor := api.NewGrantor(api.GrantorOptions{
		SessionURL:  cfg.AuthSessionURL,
		TokenURL:    cfg.AuthTokenURL,
		ClientID:    cfg.OAuthClientID,
		RedirectURI: cfg.OAuthRedirectURI,
		HTTPClient:  &http.Client{Timeout: cfg.HTTPTimeout},
	})

	manager := auth.NewManager(store, grantor, cfg.RenewSkew)

	client := api.NewClient(api.Options{
		BaseURL:           cfg.BaseURL,
		Tokens:            manager,
		HTTPClient:        &http.Client{Timeout: cfg.HTTPTimeout},
		RequestsPerMinute: cfg.RequestsPerMinute,
	})

	orchestrator := tasks.NewOrchestrator(tasks.Options{
		Lister:          client,
		PollInterval:    cfg.PollInterval,
		PollMaxInterval: cfg.PollMaxInterval,
	})

	policy := tasks.RetryPolicy{
		MaxAttempts: cfg.SubmitMaxAttempts,
		BaseBackoff: cfg.SubmitBaseBackoff,
		MaxBackoff:  cfg.SubmitMaxBackoff,
	}

	var blobs *storage.S3Storage
	var archiver *storage.Archiver
	if cfg.ObjectStore.Bucket != "" {
		var err error
		blobs, err = storage.NewS3Storage(ctx, cfg.ObjectStore)
		if err != nil {
			return nil, err
		}
		archiver = storage.NewArchiver(client, blobs, recorder, storage.ArchiverConfig{}, logger)
	}

	engine := &Engine{
		Credentials:  manager,
		Client:       client,
		Profiles:     api.NewCachingProfileSource(client, cfg.ProfileCacheTTL),
		Orchestrator: orchestrator,
		Policy:       policy,
		Publisher:    workflows.NewPublishWorkflow(client, blobStore(blobs)),
		Archiver:     archiver,
	}
	engine.Characters = workflows.NewCharacterWorkflow(client, blobStore(blobs))

	return engine, nil
}

// blobStore converts a possibly nil concrete store into a possibly nil
// interface value.
func blobStore(s *storage.S3Storage) workflows.BlobStore {
	if s == nil {
		return nil
	}
	return s
}

// Close shuts the engine's background machinery down.
func (e *Engine) Close(ctx context.Context) error {
	e.Orchestrator.Close()
	if e.Archiver != nil {
		return e.Archiver.Shutdown(ctx)
	}
	return nil
}
