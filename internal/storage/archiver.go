package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/jddlt/sora2api/internal/models"
)

// PointerFetcher downloads media from an opaque storage pointer.
// *api.Client satisfies it.
type PointerFetcher interface {
	FetchPointer(ctx context.Context, pointer string) (io.ReadCloser, error)
}

// ArchiveRecorder observes archiving outcomes. It is optional; a nil
// recorder means outcomes are only logged.
type ArchiveRecorder interface {
	MarkArchived(ctx context.Context, taskID, location string) error
	MarkArchiveFailed(ctx context.Context, taskID string) error
}

// ArchiverConfig controls the concurrency characteristics of the archiver.
type ArchiverConfig struct {
	QueueSize int
	Workers   int
}

var errArchiverClosed = errors.New("archiver closed")

// Archiver copies finished generation results off the service's expiring CDN
// pointers into durable object storage. Jobs run on a small worker pool.
type Archiver struct {
	fetcher  PointerFetcher
	storage  AssetStorage
	recorder ArchiveRecorder
	logger   *slog.Logger

	jobs   chan models.GenerationTask
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewArchiver constructs a background worker pool that archives results.
func NewArchiver(fetcher PointerFetcher, storage AssetStorage, recorder ArchiveRecorder, cfg ArchiverConfig, logger *slog.Logger) *Archiver {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	a := &Archiver{
		fetcher:  fetcher,
		storage:  storage,
		recorder: recorder,
		logger:   logger,
		jobs:     make(chan models.GenerationTask, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}

	a.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go a.worker()
	}

	return a
}

// Enqueue schedules archiving of a succeeded task's result. Tasks without a
// result pointer are rejected.
func (a *Archiver) Enqueue(ctx context.Context, task models.GenerationTask) error {
	if task.ResultURL == "" {
		return errors.New("archiver: task has no result pointer")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.ctx.Done():
		return errArchiverClosed
	case a.jobs <- task:
		return nil
	}
}

// Shutdown waits for the worker pool to drain outstanding jobs.
func (a *Archiver) Shutdown(ctx context.Context) error {
	a.once.Do(func() {
		a.cancel()
		close(a.jobs)
	})

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (a *Archiver) worker() {
	defer a.wg.Done()

	for task := range a.jobs {
		a.handle(task)
	}
}

func (a *Archiver) handle(task models.GenerationTask) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	media, err := a.fetcher.FetchPointer(ctx, task.ResultURL)
	if err != nil {
		a.logger.Error("fetch generation result", "taskId", task.ID, "error", err)
		a.recordFailure(task.ID)
		return
	}

	key := path.Join("generations", task.Account, task.ID+extensionFor(task.Kind))
	location, err := a.storage.Save(ctx, key, media)
	media.Close()
	if err != nil {
		a.logger.Error("archive generation result", "taskId", task.ID, "error", err)
		a.recordFailure(task.ID)
		return
	}

	a.logger.Info("generation result archived", "taskId", task.ID, "location", location)
	a.recordSuccess(task.ID, location)
}

func (a *Archiver) recordFailure(taskID string) {
	if a.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.recorder.MarkArchiveFailed(ctx, taskID); err != nil {
		a.logger.Error("record archive failure", "taskId", taskID, "error", err)
	}
}

func (a *Archiver) recordSuccess(taskID, location string) {
	if a.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.recorder.MarkArchived(ctx, taskID, location); err != nil {
		a.logger.Error("record archive success", "taskId", taskID, "error", err)
	}
}

func extensionFor(kind models.TaskKind) string {
	if kind == models.TaskKindImage {
		return ".png"
	}
	return ".mp4"
}
