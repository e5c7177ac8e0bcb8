package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/bookwise/bookwise/internal/answer"
	"github.com/bookwise/bookwise/internal/i18n"
	"github.com/bookwise/bookwise/internal/log"
	"github.com/bookwise/bookwise/internal/session"
)

// maxQueryBody bounds the /query request body. Questions cap at 2000
// characters; anything near 64KiB is not a question.
const maxQueryBody = 64 << 10

type queryRequest struct {
	Query        string `json:"query"`
	Question     string `json:"question"` // accepted as an alias for query
	Language     string `json:"language"`
	SessionToken string `json:"session_token"`
	SelectedText string `json:"selected_text"`
}

// question returns the question text, preferring the query field.
func (r queryRequest) question() string {
	if r.Query != "" {
		return r.Query
	}
	return r.Question
}

type queryHandler struct {
	answers  *answer.Service
	sessions *session.Manager
	logger   log.Logger
}

// query answers one question over an SSE stream: chunk frames as the model
// produces text, then a terminal done frame with the message id, citations,
// and (for a new guest) the session token. Failures before the first frame
// are plain JSON errors; failures mid-stream become an error frame.
func (h *queryHandler) query(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With("request_id", requestIDFromContext(r.Context()))

	var req queryRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxQueryBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body", logger)
		return
	}
	question := req.question()
	lang := i18n.Normalize(req.Language)

	// Validate before session resolution so an empty, over-long, or
	// screened-out question never spends guest quota.
	if err := h.answers.ValidateQuestion(question); err != nil {
		writeDomainError(w, err, lang, logger)
		return
	}

	guestToken := req.SessionToken
	if guestToken == "" {
		guestToken = r.Header.Get(guestTokenHeader)
	}

	var userID *uuid.UUID
	if claims := claimsFromContext(r.Context()); claims != nil {
		id, err := claims.UserID()
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token subject", logger)
			return
		}
		userID = &id
	}

	resolved, err := h.sessions.Resolve(r.Context(), guestToken, userID, lang)
	if err != nil {
		logger.Error("resolving session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", logger)
		return
	}

	remaining, err := h.sessions.ConsumeQuestion(r.Context(), resolved.Session)
	if err != nil {
		if errors.Is(err, session.ErrGuestLimit) {
			writeDomainError(w, err, lang, logger)
			return
		}
		logger.Error("consuming guest question", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", logger)
		return
	}

	stream, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported", logger)
		return
	}

	res, err := h.answers.Answer(r.Context(), answer.Request{
		Query:        question,
		Language:     lang,
		Session:      resolved.Session,
		SelectedText: req.SelectedText,
	}, func(chunk string) error {
		return stream.Chunk(chunk)
	})

	if err != nil {
		if r.Context().Err() != nil {
			// Client is gone; the transcript was already persisted.
			return
		}
		if stream.Started() {
			_, code, message := classifyError(err, lang)
			if werr := stream.Error(code, message); werr != nil {
				logger.Debug("writing error frame", "error", werr)
			}
			return
		}
		writeDomainError(w, err, lang, logger)
		return
	}

	frame := doneFrame{
		MessageID:    res.MessageID.String(),
		Citations:    res.Citations,
		SessionToken: resolved.NewToken,
		Fallback:     res.Fallback,
	}
	if resolved.Session.IsGuest() && remaining >= 0 {
		frame.QuestionsLeft = &remaining
	}
	if err := stream.Done(frame); err != nil {
		logger.Debug("writing done frame", "error", err)
	}
}
