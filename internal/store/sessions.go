package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Session is a conversational context owned by exactly one identity:
// a guest (hashed token set, UserID nil) or an authenticated user
// (UserID set, token hash nil).
type Session struct {
	ID            uuid.UUID
	UserID        *uuid.UUID
	TokenHash     *string
	Language      string
	QuestionCount int
	CreatedAt     time.Time
	LastActivity  time.Time
}

// IsGuest reports whether the session belongs to an unauthenticated visitor.
func (sess *Session) IsGuest() bool {
	return sess.UserID == nil
}

const sessionColumns = `id, user_id, session_token, language, question_count, created_at, last_activity`

func scanSession(row pgx.Row) (*Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.Language,
		&sess.QuestionCount, &sess.CreatedAt, &sess.LastActivity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	return &sess, nil
}

// CreateGuestSession creates a session owned by a hashed guest token.
func (s *Store) CreateGuestSession(ctx context.Context, tokenHash, language string) (*Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, `
		INSERT INTO chat_sessions (session_token, language)
		VALUES ($1, $2)
		RETURNING `+sessionColumns,
		tokenHash, language))
	if err != nil {
		return nil, fmt.Errorf("creating guest session: %w", err)
	}
	s.logger.Debug("guest session created", "id", sess.ID)
	return sess, nil
}

// CreateUserSession creates a session owned by an authenticated user.
func (s *Store) CreateUserSession(ctx context.Context, userID uuid.UUID, language string) (*Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, `
		INSERT INTO chat_sessions (user_id, language)
		VALUES ($1, $2)
		RETURNING `+sessionColumns,
		userID, language))
	if err != nil {
		return nil, fmt.Errorf("creating user session: %w", err)
	}
	s.logger.Debug("user session created", "id", sess.ID, "user", userID)
	return sess, nil
}

// SessionByTokenHash returns the guest session owning tokenHash, or
// ErrNotFound.
func (s *Store) SessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	return scanSession(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM chat_sessions WHERE session_token = $1`,
		tokenHash))
}

// LatestUserSession returns the most recently active session of a user, or
// ErrNotFound if the user has none yet.
func (s *Store) LatestUserSession(ctx context.Context, userID uuid.UUID) (*Session, error) {
	return scanSession(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM chat_sessions
		WHERE user_id = $1
		ORDER BY last_activity DESC
		LIMIT 1`,
		userID))
}

// TouchSession bumps last_activity.
func (s *Store) TouchSession(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE chat_sessions SET last_activity = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

// ConsumeGuestQuestion atomically increments the guest question counter,
// refusing once limit is reached. The conditional update is the quota
// enforcement point: concurrent requests cannot push the counter past the
// limit. Returns the new count, or ErrQuotaExhausted.
//
// The WHERE clause only matches guest rows, so calling this on an
// authenticated session matches nothing and surfaces as ErrQuotaExhausted.
// Callers must check IsGuest first, as the session manager does.
func (s *Store) ConsumeGuestQuestion(ctx context.Context, id uuid.UUID, limit int) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		UPDATE chat_sessions
		SET question_count = question_count + 1, last_activity = now()
		WHERE id = $1 AND user_id IS NULL AND question_count < $2
		RETURNING question_count`,
		id, limit,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrQuotaExhausted
	}
	if err != nil {
		return 0, fmt.Errorf("consuming guest question: %w", err)
	}
	return count, nil
}

// MigrateSession atomically flips a guest session to authenticated
// ownership: user_id is set and the token hash cleared in one update.
// Messages stay attached; nothing is copied. Returns the migrated session
// or ErrNotFound if the token hash matches no guest session.
func (s *Store) MigrateSession(ctx context.Context, tokenHash string, userID uuid.UUID) (*Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, `
		UPDATE chat_sessions
		SET user_id = $1, session_token = NULL, last_activity = now()
		WHERE session_token = $2
		RETURNING `+sessionColumns,
		userID, tokenHash))
	if err != nil {
		return nil, err
	}
	s.logger.Info("session migrated", "id", sess.ID, "user", userID)
	return sess, nil
}
