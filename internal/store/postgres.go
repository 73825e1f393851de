package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jddlt/sora2api/internal/auth"
	"github.com/jddlt/sora2api/internal/db"
)

// PostgresCredentialStore provides PostgreSQL-backed persistence for
// credential bundles. Long-lived tokens are sealed before storage.
type PostgresCredentialStore struct {
	pool   db.Pool
	sealer *Sealer
}

// NewPostgresCredentialStore constructs a credential store over the pool.
func NewPostgresCredentialStore(pool db.Pool, sealer *Sealer) *PostgresCredentialStore {
	if sealer == nil {
		panic("store: sealer must not be nil")
	}
	return &PostgresCredentialStore{pool: pool, sealer: sealer}
}

// Load retrieves and unseals the bundle for an account.
func (s *PostgresCredentialStore) Load(ctx context.Context, account string) (auth.Bundle, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return auth.Bundle{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT session_token, refresh_token, access_token, access_expiry, client_id, email, proxy_url
        FROM credentials
        WHERE account = $1
    `, account)

	var (
		bundle        auth.Bundle
		sealedSession string
		sealedRefresh string
	)
	if err := row.Scan(&sealedSession, &sealedRefresh, &bundle.AccessToken, &bundle.AccessExpiry, &bundle.ClientID, &bundle.Email, &bundle.ProxyURL); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.Bundle{}, auth.ErrAccountNotFound
		}
		return auth.Bundle{}, fmt.Errorf("select credentials: %w", err)
	}

	if bundle.SessionToken, err = s.sealer.Open(sealedSession); err != nil {
		return auth.Bundle{}, fmt.Errorf("unseal session token: %w", err)
	}
	if bundle.RefreshToken, err = s.sealer.Open(sealedRefresh); err != nil {
		return auth.Bundle{}, fmt.Errorf("unseal refresh token: %w", err)
	}

	return bundle, nil
}

// Save seals and upserts the bundle for an account.
func (s *PostgresCredentialStore) Save(ctx context.Context, account string, bundle auth.Bundle) error {
	sealedSession, err := s.sealer.Seal(bundle.SessionToken)
	if err != nil {
		return fmt.Errorf("seal session token: %w", err)
	}
	sealedRefresh, err := s.sealer.Seal(bundle.RefreshToken)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO credentials (account, session_token, refresh_token, access_token, access_expiry, client_id, email, proxy_url, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (account) DO UPDATE
        SET session_token = $2, refresh_token = $3, access_token = $4, access_expiry = $5, client_id = $6, email = $7, proxy_url = $8, updated_at = $9
    `, account, sealedSession, sealedRefresh, bundle.AccessToken, bundle.AccessExpiry, bundle.ClientID, bundle.Email, bundle.ProxyURL, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert credentials: %w", err)
	}

	return nil
}

// Delete removes the account's bundle.
func (s *PostgresCredentialStore) Delete(ctx context.Context, account string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `DELETE FROM credentials WHERE account = $1`, account)
	if err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrAccountNotFound
	}
	return nil
}

// Accounts lists every registered account identity.
func (s *PostgresCredentialStore) Accounts(ctx context.Context) ([]string, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `SELECT account FROM credentials ORDER BY account`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []string
	for rows.Next() {
		var account string
		if err := rows.Scan(&account); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

var _ auth.CredentialStore = (*PostgresCredentialStore)(nil)

// isTransient reports whether the database error is worth retrying:
// serialization failures, deadlocks, and lock timeouts.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return true
	}
	return false
}
