package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ---------------------------------------------------------------------------
// pgRow / pgConn abstractions (allow unit testing without a real DB)
// ---------------------------------------------------------------------------

// pgRow represents a single row returned by QueryRow.
type pgRow interface {
	Scan(dest ...any) error
}

// pgConn is the minimal database interface required by PGSocketTokenStore.
// Both *pgxpool.Pool (via a thin adapter) and test mocks implement this.
type pgConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgRow
	Exec(ctx context.Context, sql string, args ...any) error
}

// ---------------------------------------------------------------------------
// PGSocketTokenStore
// ---------------------------------------------------------------------------

// PGSocketTokenStore is a PostgreSQL-backed SocketTokenStore. Tokens live in
// the socket_tokens table with an explicit expires_at column the database
// uses for filtering.
type PGSocketTokenStore struct {
	db  pgConn
	ttl time.Duration
}

// NewPGSocketTokenStore creates a PG-backed store. The db parameter must
// satisfy the pgConn interface -- use NewPGSocketTokenStoreFromPool to wrap a
// *pgxpool.Pool, or pass a mock in tests.
func NewPGSocketTokenStore(db pgConn, ttl time.Duration) *PGSocketTokenStore {
	return &PGSocketTokenStore{db: db, ttl: ttl}
}

// NewPGSocketTokenStoreFromPool wraps a *pgxpool.Pool in the pgConn adapter.
func NewPGSocketTokenStoreFromPool(pool *pgxpool.Pool, ttl time.Duration) *PGSocketTokenStore {
	return NewPGSocketTokenStore(&pgxPoolWrapper{pool: pool}, ttl)
}

// Issue implements SocketTokenStore. Expired tokens for the user are deleted
// first so abandoned handshakes do not accumulate rows.
func (s *PGSocketTokenStore) Issue(ctx context.Context, userID uuid.UUID) (string, time.Time, error) {
	if err := s.db.Exec(ctx,
		`DELETE FROM socket_tokens WHERE user_id = $1 AND expires_at <= now()`, userID,
	); err != nil {
		return "", time.Time{}, fmt.Errorf("purge expired socket tokens: %w", err)
	}

	token, err := newSocketToken()
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := time.Now().UTC().Add(s.ttl)

	if err := s.db.Exec(ctx,
		`INSERT INTO socket_tokens (token, user_id, expires_at) VALUES ($1, $2, $3)`,
		token, userID, expiresAt,
	); err != nil {
		return "", time.Time{}, fmt.Errorf("save socket token: %w", err)
	}
	return token, expiresAt, nil
}

// Resolve implements SocketTokenStore. It atomically deletes and returns the
// row using DELETE ... RETURNING, so a token authenticates at most one
// connection.
func (s *PGSocketTokenStore) Resolve(ctx context.Context, token string) (uuid.UUID, error) {
	const query = `DELETE FROM socket_tokens
WHERE token = $1 AND expires_at > now()
RETURNING user_id`

	var userID uuid.UUID
	if err := s.db.QueryRow(ctx, query, token).Scan(&userID); err != nil {
		if isNoRows(err) {
			return uuid.Nil, ErrSocketTokenInvalid
		}
		return uuid.Nil, fmt.Errorf("resolve socket token: %w", err)
	}
	return userID, nil
}

// Cleanup deletes all expired rows from the table.
func (s *PGSocketTokenStore) Cleanup(ctx context.Context) error {
	if err := s.db.Exec(ctx, `DELETE FROM socket_tokens WHERE expires_at <= now()`); err != nil {
		return fmt.Errorf("cleanup socket tokens: %w", err)
	}
	return nil
}

// isNoRows returns true when the error represents a "no rows" condition.
// It works with both pgx (pgx.ErrNoRows) and the mock used in tests.
func isNoRows(err error) bool {
	if err == pgx.ErrNoRows {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "no rows")
}

// ---------------------------------------------------------------------------
// pgxPoolWrapper adapts *pgxpool.Pool to the pgConn interface
// ---------------------------------------------------------------------------

// pgxPoolWrapper wraps a *pgxpool.Pool so it satisfies the pgConn interface.
// The adapter is necessary because pgxpool.Pool.Exec returns
// (pgconn.CommandTag, error) whereas pgConn.Exec returns only error.
type pgxPoolWrapper struct {
	pool *pgxpool.Pool
}

func (w *pgxPoolWrapper) QueryRow(ctx context.Context, sql string, args ...any) pgRow {
	return w.pool.QueryRow(ctx, sql, args...)
}

func (w *pgxPoolWrapper) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := w.pool.Exec(ctx, sql, args...)
	return err
}
