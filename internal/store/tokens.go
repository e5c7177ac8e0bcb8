package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RefreshToken is one stored refresh credential. Only the SHA-256 hash of
// the opaque token ever reaches the database.
type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	IPAddress string
	UserAgent string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
	RevokedAt *time.Time
}

// InsertRefreshToken stores a new refresh token hash for a user.
func (s *Store) InsertRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash, ip, userAgent string, expiresAt time.Time) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO refresh_tokens (user_id, token_hash, ip_address, user_agent, expires_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5)
		RETURNING id`,
		userID, tokenHash, ip, userAgent, expiresAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting refresh token: %w", err)
	}
	return id, nil
}

// RefreshTokenByHash loads a token row by hash regardless of its state, so
// callers can distinguish "never existed" from "already revoked".
func (s *Store) RefreshTokenByHash(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	var t RefreshToken
	var ip, ua *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, ip_address, user_agent,
		       expires_at, created_at, revoked, revoked_at
		FROM refresh_tokens
		WHERE token_hash = $1`,
		tokenHash,
	).Scan(&t.ID, &t.UserID, &t.TokenHash, &ip, &ua,
		&t.ExpiresAt, &t.CreatedAt, &t.Revoked, &t.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading refresh token: %w", err)
	}
	if ip != nil {
		t.IPAddress = *ip
	}
	if ua != nil {
		t.UserAgent = *ua
	}
	return &t, nil
}

// RotateRefreshToken atomically revokes the token identified by oldHash and
// inserts newHash for the same user. The revocation is a conditional update
// on revoked = FALSE, so concurrent rotations of the same token succeed at
// most once; the losers get ErrNotRotatable. Expired tokens are likewise not
// rotatable.
func (s *Store) RotateRefreshToken(ctx context.Context, oldHash, newHash, ip, userAgent string, expiresAt time.Time) (uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("beginning rotation: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID uuid.UUID
	err = tx.QueryRow(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = now()
		WHERE token_hash = $1 AND revoked = FALSE AND expires_at > now()
		RETURNING user_id`,
		oldHash,
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNotRotatable
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("revoking refresh token: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO refresh_tokens (user_id, token_hash, ip_address, user_agent, expires_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5)`,
		userID, newHash, ip, userAgent, expiresAt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting rotated token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("committing rotation: %w", err)
	}
	return userID, nil
}

// RevokeRefreshToken revokes a single token by hash. Revoking an already
// revoked or unknown token is a no-op.
func (s *Store) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = now()
		WHERE token_hash = $1 AND revoked = FALSE`,
		tokenHash)
	if err != nil {
		return fmt.Errorf("revoking refresh token: %w", err)
	}
	return nil
}

// RevokeAllUserTokens revokes every live refresh token of a user. Used when
// a revoked token is presented again, which signals theft.
func (s *Store) RevokeAllUserTokens(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = now()
		WHERE user_id = $1 AND revoked = FALSE`,
		userID)
	if err != nil {
		return 0, fmt.Errorf("revoking user tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpiredRefreshTokens removes tokens past their expiry. Safe to run
// repeatedly.
func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("deleting expired tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
