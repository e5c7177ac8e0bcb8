// Package store persists users, sessions, messages, feedback, refresh
// tokens, and auth events in PostgreSQL.
//
// All queries run against an injected pgxpool.Pool. The only
// correctness-critical atomicity — refresh token rotation — is a conditional
// row update inside a transaction, so it holds across multiple server
// instances without in-process locks.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Sentinel errors.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrEmailTaken indicates a registration attempt with an existing email.
	ErrEmailTaken = errors.New("email already registered")

	// ErrNotRotatable indicates a refresh token could not be rotated:
	// unknown hash, already revoked, or expired. Callers treat this as a
	// possible replay, not a retry.
	ErrNotRotatable = errors.New("refresh token not rotatable")

	// ErrQuotaExhausted indicates the guest question counter is at its limit.
	ErrQuotaExhausted = errors.New("guest question quota exhausted")
)

// Store provides persistence for all relational data.
// Safe for concurrent use.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store.
func New(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Pool exposes the underlying connection pool for components that share it
// (retrieval client, readiness probe).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Healthy reports whether the database is reachable.
func (s *Store) Healthy(ctx context.Context) bool {
	return s.pool.Ping(ctx) == nil
}

// Connect opens a pgx connection pool for connURL.
func Connect(ctx context.Context, connURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}
