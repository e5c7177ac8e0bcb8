package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Auth event types.
const (
	EventRegister   = "register"
	EventLogin      = "login"
	EventLoginFail  = "login_failed"
	EventRefresh    = "token_refresh"
	EventTokenReuse = "token_reuse"
	EventLogout     = "logout"
)

// LogAuthEvent records an authentication event. Failures are logged but not
// returned; the audit trail never blocks the auth flow itself.
func (s *Store) LogAuthEvent(ctx context.Context, userID *uuid.UUID, eventType, ip, userAgent string, meta map[string]any) {
	metaJSON := []byte("{}")
	if len(meta) > 0 {
		b, err := json.Marshal(meta)
		if err != nil {
			s.logger.Warn("marshaling auth event metadata", "error", err)
		} else {
			metaJSON = b
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO auth_events (user_id, event_type, ip_address, user_agent, metadata)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5)`,
		userID, eventType, ip, userAgent, metaJSON)
	if err != nil {
		s.logger.Warn("recording auth event", "type", eventType, "error", err)
	}
}

// AuthEventCount returns how many events of a given type a user has.
func (s *Store) AuthEventCount(ctx context.Context, userID uuid.UUID, eventType string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM auth_events WHERE user_id = $1 AND event_type = $2`,
		userID, eventType,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting auth events: %w", err)
	}
	return n, nil
}
