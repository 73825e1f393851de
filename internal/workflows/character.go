package workflows

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jddlt/sora2api/internal/api"
	"github.com/jddlt/sora2api/internal/logging"
	"github.com/jddlt/sora2api/internal/models"
)

// ErrCameoTimeout is returned when cameo derivation does not finish within
// the workflow's polling window.
var ErrCameoTimeout = errors.New("workflows: cameo derivation timed out")

// StepError reports which workflow step failed. The partial result returned
// alongside it carries every identifier created so far, so the caller can
// resume or clean up.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("workflows: step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// CharacterBackend is the slice of the remote client the character workflow
// needs. *api.Client satisfies it.
type CharacterBackend interface {
	UploadMedia(ctx context.Context, account string, kind models.MediaKind, filename string, media io.Reader) (models.UploadAsset, error)
	CreateCameo(ctx context.Context, account, sourceAssetID string, hints api.CameoHints) (models.Cameo, error)
	CameoStatus(ctx context.Context, account, cameoID string) (models.Cameo, error)
	FetchPointer(ctx context.Context, pointer string) (io.ReadCloser, error)
	FinalizeCameo(ctx context.Context, account, cameoID string) (string, error)
	SetCameoVisibility(ctx context.Context, account, cameoID, visibility string) error
}

// BlobStore archives fetched media. storage.S3Storage satisfies it.
type BlobStore interface {
	Save(ctx context.Context, name string, media io.Reader) (string, error)
}

// CharacterInput describes a character creation run.
type CharacterInput struct {
	Account    string
	SourceKind models.MediaKind
	SourceName string
	Source     io.Reader
	Hints      api.CameoHints
	// Visibility is applied after finalization when non-empty.
	Visibility string
}

// CharacterResult accumulates workflow state. After a StepError it holds the
// identifiers of everything already created, and can be passed to Resume to
// continue without repeating completed steps.
type CharacterResult struct {
	SourceAsset    models.UploadAsset
	Cameo          models.Cameo
	AvatarAsset    models.UploadAsset
	AvatarLocation string
	CharacterID    string
	VisibilitySet  bool
}

// maxAvatarBytes bounds the in-memory copy of a fetched avatar.
const maxAvatarBytes = 8 << 20

// CharacterWorkflow drives the multi-step character pipeline: upload the
// source media, derive a cameo, archive its avatar, finalize it into a
// castable character, and apply visibility.
type CharacterWorkflow struct {
	backend CharacterBackend
	blobs   BlobStore

	pollInterval time.Duration
	pollTimeout  time.Duration
}

// NewCharacterWorkflow constructs the workflow. blobs may be nil, in which
// case the avatar archiving steps are skipped.
func NewCharacterWorkflow(backend CharacterBackend, blobs BlobStore) *CharacterWorkflow {
	if backend == nil {
		panic("workflows: backend must not be nil")
	}
	return &CharacterWorkflow{
		backend:      backend,
		blobs:        blobs,
		pollInterval: 2 * time.Second,
		pollTimeout:  2 * time.Minute,
	}
}

// Run executes the workflow from the start.
func (w *CharacterWorkflow) Run(ctx context.Context, in CharacterInput) (*CharacterResult, error) {
	return w.Resume(ctx, in, &CharacterResult{})
}

// Resume continues a partially completed run, skipping every step the result
// already records. It always returns the (possibly partial) result.
func (w *CharacterWorkflow) Resume(ctx context.Context, in CharacterInput, res *CharacterResult) (*CharacterResult, error) {
	ctx, span := logging.StartSpan(logging.WithAccount(ctx, in.Account), "character_workflow")
	res, err := w.resume(ctx, in, res)
	span.End(err)
	return res, err
}

func (w *CharacterWorkflow) resume(ctx context.Context, in CharacterInput, res *CharacterResult) (*CharacterResult, error) {
	if res == nil {
		res = &CharacterResult{}
	}
	log := logging.FromContext(ctx)

	if res.SourceAsset.ID == "" {
		asset, err := w.backend.UploadMedia(ctx, in.Account, in.SourceKind, in.SourceName, in.Source)
		if err != nil {
			return res, &StepError{Step: "upload_source", Err: err}
		}
		res.SourceAsset = asset
		log.Info("source media uploaded", slog.String("asset_id", asset.ID))
	}

	if res.Cameo.ID == "" {
		cameo, err := w.backend.CreateCameo(ctx, in.Account, res.SourceAsset.ID, in.Hints)
		if err != nil {
			return res, &StepError{Step: "create_cameo", Err: err}
		}
		res.Cameo = cameo
	}

	if res.Cameo.Status != models.CameoStatusReady {
		cameo, err := w.awaitCameo(ctx, in.Account, res.Cameo.ID)
		if err != nil {
			return res, &StepError{Step: "await_cameo", Err: err}
		}
		res.Cameo = cameo
		log.Info("cameo ready", slog.String("cameo_id", cameo.ID))
	}

	if res.Cameo.AvatarPointer != "" && res.AvatarAsset.ID == "" {
		stream, err := w.backend.FetchPointer(ctx, res.Cameo.AvatarPointer)
		if err != nil {
			return res, &StepError{Step: "fetch_avatar", Err: err}
		}
		avatar, err := io.ReadAll(io.LimitReader(stream, maxAvatarBytes))
		stream.Close()
		if err != nil {
			return res, &StepError{Step: "fetch_avatar", Err: err}
		}

		asset, err := w.backend.UploadMedia(ctx, in.Account, models.MediaKindImage, res.Cameo.ID+"-avatar.png", bytes.NewReader(avatar))
		if err != nil {
			return res, &StepError{Step: "upload_avatar", Err: err}
		}
		res.AvatarAsset = asset

		if w.blobs != nil && res.AvatarLocation == "" {
			location, err := w.blobs.Save(ctx, "avatars/"+res.Cameo.ID, bytes.NewReader(avatar))
			if err != nil {
				return res, &StepError{Step: "archive_avatar", Err: err}
			}
			res.AvatarLocation = location
		}
	}

	if res.CharacterID == "" {
		characterID, err := w.backend.FinalizeCameo(ctx, in.Account, res.Cameo.ID)
		if err != nil {
			return res, &StepError{Step: "finalize", Err: err}
		}
		res.CharacterID = characterID
		log.Info("character finalized", slog.String("character_id", characterID))
	}

	if in.Visibility != "" && !res.VisibilitySet {
		if err := w.backend.SetCameoVisibility(ctx, in.Account, res.Cameo.ID, in.Visibility); err != nil {
			return res, &StepError{Step: "set_visibility", Err: err}
		}
		res.VisibilitySet = true
	}

	return res, nil
}

func (w *CharacterWorkflow) awaitCameo(ctx context.Context, account, cameoID string) (models.Cameo, error) {
	deadline := time.NewTimer(w.pollTimeout)
	defer deadline.Stop()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		cameo, err := w.backend.CameoStatus(ctx, account, cameoID)
		if err != nil {
			return models.Cameo{}, err
		}
		if cameo.Status == models.CameoStatusReady {
			return cameo, nil
		}

		select {
		case <-ctx.Done():
			return models.Cameo{}, ctx.Err()
		case <-deadline.C:
			return models.Cameo{}, ErrCameoTimeout
		case <-ticker.C:
		}
	}
}
