package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/bookwise/bookwise/internal/answer"
	"github.com/bookwise/bookwise/internal/auth"
	"github.com/bookwise/bookwise/internal/i18n"
	"github.com/bookwise/bookwise/internal/log"
	"github.com/bookwise/bookwise/internal/session"
	"github.com/bookwise/bookwise/internal/store"
)

// maxJSONBody bounds non-streaming request bodies.
const maxJSONBody = 64 << 10

// decodeJSON decodes a bounded JSON request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected trailing data")
	}
	return nil
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response with the given status code.
// Buffer-first so headers go out only after successful encoding.
func writeJSON(w http.ResponseWriter, status int, data any, logger log.Logger) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		logger.Error("encoding JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are common and expected.
		logger.Debug("writing response body", "error", err)
	}
}

// writeError writes a JSON error envelope.
func writeError(w http.ResponseWriter, status int, code, message string, logger log.Logger) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}}, logger)
}

// writeDomainError maps a domain error onto an HTTP status, a stable error
// code, and a message localized for lang.
func writeDomainError(w http.ResponseWriter, err error, lang string, logger log.Logger) {
	status, code, message := classifyError(err, lang)
	writeError(w, status, code, message, logger)
}

// classifyError is the single place a domain error becomes wire taxonomy.
func classifyError(err error, lang string) (status int, code, message string) {
	switch {
	case errors.Is(err, answer.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input", err.Error()
	case errors.Is(err, answer.ErrRetrievalUnavailable):
		return http.StatusServiceUnavailable, "retrieval_unavailable", i18n.T(lang, "error.retrieval")
	case errors.Is(err, answer.ErrGenerationFailed):
		return http.StatusBadGateway, "generation_failed", i18n.T(lang, "error.generation")
	case errors.Is(err, session.ErrGuestLimit):
		return http.StatusForbidden, "guest_limit_reached", i18n.T(lang, "error.guest_limit")
	case errors.Is(err, auth.ErrTokenReused):
		return http.StatusUnauthorized, "token_reused", "refresh token reuse detected, please sign in again"
	case errors.Is(err, auth.ErrTokenExpired):
		return http.StatusUnauthorized, "token_expired", "token expired"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "invalid email or password"
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized", "authentication required"
	case errors.Is(err, store.ErrEmailTaken):
		return http.StatusConflict, "email_taken", "an account with this email already exists"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found", "resource not found"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}
