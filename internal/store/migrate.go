package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jddlt/sora2api/internal/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
    account       TEXT PRIMARY KEY,
    session_token TEXT NOT NULL DEFAULT '',
    refresh_token TEXT NOT NULL DEFAULT '',
    access_token  TEXT NOT NULL DEFAULT '',
    access_expiry TIMESTAMPTZ NOT NULL DEFAULT '0001-01-01T00:00:00Z',
    client_id     TEXT NOT NULL DEFAULT '',
    email         TEXT NOT NULL DEFAULT '',
    proxy_url     TEXT NOT NULL DEFAULT '',
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS archived_results (
    task_id     TEXT PRIMARY KEY,
    location    TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'archived',
    archived_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const (
	schemaMaxRetries  = 5
	schemaBaseBackoff = 100 * time.Millisecond
	schemaMaxBackoff  = 2 * time.Second
)

// EnsureSchema creates the store's tables, retrying on transient errors.
func EnsureSchema(ctx context.Context, pool db.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	backoff := schemaBaseBackoff
	for attempt := 1; ; attempt++ {
		_, err = conn.Exec(ctx, schema)
		if err == nil {
			return nil
		}
		if !isTransient(err) || attempt == schemaMaxRetries {
			return fmt.Errorf("apply schema: %w", err)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if backoff *= 2; backoff > schemaMaxBackoff {
			backoff = schemaMaxBackoff
		}
	}
}
