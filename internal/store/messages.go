package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Message roles.
const (
	RoleTurnUser      = "user"
	RoleTurnAssistant = "assistant"
)

// Citation points back to the source passage grounding an answer. Stored in
// assistant-message metadata; every stored citation met the similarity
// threshold at generation time.
type Citation struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	URL   string  `json:"url"`
	Score float64 `json:"score"`
}

// MessageMeta is the metadata attached to an assistant turn.
type MessageMeta struct {
	Citations []Citation `json:"citations,omitempty"`
	Truncated bool       `json:"truncated,omitempty"`
	Fallback  bool       `json:"fallback,omitempty"`
}

// Message is one conversation turn.
type Message struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Role      string
	Content   string
	Meta      MessageMeta
	CreatedAt time.Time
}

// AddMessage appends a turn to a session and returns its id.
func (s *Store) AddMessage(ctx context.Context, sessionID uuid.UUID, role, content string, meta MessageMeta) (uuid.UUID, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshaling message metadata: %w", err)
	}

	var id uuid.UUID
	err = s.pool.QueryRow(ctx, `
		INSERT INTO chat_messages (session_id, role, content, metadata)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		sessionID, role, content, metaJSON,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("adding message: %w", err)
	}
	return id, nil
}

// History returns a page of a session's messages in descending creation
// order, plus the total turn count for pagination.
func (s *Store) History(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]Message, int, error) {
	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM chat_messages WHERE session_id = $1`, sessionID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting messages: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, role, content, metadata, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		sessionID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var metaJSON []byte
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &metaJSON, &m.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning message: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &m.Meta); err != nil {
				return nil, 0, fmt.Errorf("unmarshaling message metadata: %w", err)
			}
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("reading history: %w", err)
	}
	return messages, total, nil
}

// MessageCount returns the number of turns in a session.
func (s *Store) MessageCount(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM chat_messages WHERE session_id = $1`, sessionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

// AddFeedback records a ±1 rating for an assistant message. Returns
// ErrNotFound when the message does not exist or is not an assistant turn.
func (s *Store) AddFeedback(ctx context.Context, messageID uuid.UUID, rating int, text string) (uuid.UUID, error) {
	var exists uuid.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM chat_messages WHERE id = $1 AND role = $2`,
		messageID, RoleTurnAssistant,
	).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("checking message: %w", err)
	}

	var id uuid.UUID
	err = s.pool.QueryRow(ctx, `
		INSERT INTO feedback_ratings (message_id, rating, feedback_text)
		VALUES ($1, $2, NULLIF($3, ''))
		RETURNING id`,
		messageID, rating, text,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("adding feedback: %w", err)
	}

	s.logger.Debug("feedback recorded", "message", messageID, "rating", rating)
	return id, nil
}
