package store

import (
	"context"
	"fmt"
	"time"
)

// DeleteStaleGuestSessions removes guest sessions whose last activity is
// older than the retention window, cascading to their messages. Registered
// users' sessions are untouched. Idempotent.
func (s *Store) DeleteStaleGuestSessions(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM chat_sessions
		WHERE user_id IS NULL AND last_activity < now() - $1::interval`,
		retention)
	if err != nil {
		return 0, fmt.Errorf("deleting stale guest sessions: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Info("guest session retention sweep", "deleted", n)
		return n, nil
	}
	return 0, nil
}
