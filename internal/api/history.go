package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/bookwise/bookwise/internal/auth"
	"github.com/bookwise/bookwise/internal/log"
	"github.com/bookwise/bookwise/internal/session"
	"github.com/bookwise/bookwise/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type historyHandler struct {
	sessions *session.Manager
	store    Store
	logger   log.Logger
}

type historyMessage struct {
	ID        string           `json:"id"`
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Citations []store.Citation `json:"citations,omitempty"`
	Truncated bool             `json:"truncated,omitempty"`
	Fallback  bool             `json:"fallback,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

type historyResponse struct {
	Messages []historyMessage `json:"messages"`
	Total    int              `json:"total"`
	HasMore  bool             `json:"has_more"`
}

// history returns a session's transcript, newest first. Users are identified
// by their access token, guests by the session token header; a request with
// neither has no session to read.
func (h *historyHandler) history(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With("request_id", requestIDFromContext(r.Context()))

	limit := queryInt(r, "limit", defaultHistoryLimit)
	if limit <= 0 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	sess, err := h.resolveSession(r)
	if err != nil {
		writeDomainError(w, err, "", logger)
		return
	}

	messages, total, err := h.store.History(r.Context(), sess.ID, limit, offset)
	if err != nil {
		logger.Error("loading history", "session", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", logger)
		return
	}

	out := make([]historyMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, historyMessage{
			ID:        m.ID.String(),
			Role:      m.Role,
			Content:   m.Content,
			Citations: m.Meta.Citations,
			Truncated: m.Meta.Truncated,
			Fallback:  m.Meta.Fallback,
			CreatedAt: m.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, historyResponse{
		Messages: out,
		Total:    total,
		HasMore:  offset+len(out) < total,
	}, logger)
}

func (h *historyHandler) resolveSession(r *http.Request) (*store.Session, error) {
	if claims := claimsFromContext(r.Context()); claims != nil {
		userID, err := claims.UserID()
		if err != nil {
			return nil, auth.ErrUnauthorized
		}
		sess, err := h.store.LatestUserSession(r.Context(), userID)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}

	guestToken := r.Header.Get(guestTokenHeader)
	if guestToken == "" {
		guestToken = r.URL.Query().Get("session_token")
	}
	if guestToken == "" {
		return nil, auth.ErrUnauthorized
	}
	return h.store.SessionByTokenHash(r.Context(), auth.HashToken(guestToken))
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

type feedbackRequest struct {
	MessageID string `json:"message_id"`
	Rating    int    `json:"rating"`
	Text      string `json:"feedback_text"`
}

type feedbackHandler struct {
	store  Store
	logger log.Logger
}

// feedback records a thumbs-up/down on an assistant message.
func (h *feedbackHandler) feedback(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With("request_id", requestIDFromContext(r.Context()))

	var req feedbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body", logger)
		return
	}

	messageID, err := uuid.Parse(req.MessageID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid message id", logger)
		return
	}
	if req.Rating != 1 && req.Rating != -1 {
		writeError(w, http.StatusBadRequest, "invalid_input", "rating must be 1 or -1", logger)
		return
	}

	id, err := h.store.AddFeedback(r.Context(), messageID, req.Rating, req.Text)
	if err != nil {
		writeDomainError(w, err, "", logger)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()}, logger)
}
