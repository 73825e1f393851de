package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jddlt/sora2api/internal/db"
)

// PostgresArchiveRecorder records archiving outcomes for generation results.
// It satisfies storage.ArchiveRecorder.
type PostgresArchiveRecorder struct {
	pool db.Pool
}

// NewPostgresArchiveRecorder constructs an archive recorder over the pool.
func NewPostgresArchiveRecorder(pool db.Pool) *PostgresArchiveRecorder {
	return &PostgresArchiveRecorder{pool: pool}
}

// MarkArchived records the durable location of an archived result.
func (r *PostgresArchiveRecorder) MarkArchived(ctx context.Context, taskID, location string) error {
	return r.record(ctx, taskID, location, "archived")
}

// MarkArchiveFailed records that archiving the result failed.
func (r *PostgresArchiveRecorder) MarkArchiveFailed(ctx context.Context, taskID string) error {
	return r.record(ctx, taskID, "", "failed")
}

func (r *PostgresArchiveRecorder) record(ctx context.Context, taskID, location, status string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO archived_results (task_id, location, status, archived_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (task_id) DO UPDATE
        SET location = $2, status = $3, archived_at = $4
    `, taskID, location, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert archive record: %w", err)
	}
	return nil
}

// ArchivedLocation returns the recorded location for a task, or empty when
// no successful archive is known.
func (r *PostgresArchiveRecorder) ArchivedLocation(ctx context.Context, taskID string) (string, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var location string
	err = conn.QueryRow(ctx, `
        SELECT location FROM archived_results WHERE task_id = $1 AND status = 'archived'
    `, taskID).Scan(&location)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("select archive record: %w", err)
	}
	return location, nil
}
