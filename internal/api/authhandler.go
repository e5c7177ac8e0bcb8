package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/bookwise/bookwise/internal/auth"
	"github.com/bookwise/bookwise/internal/log"
	"github.com/bookwise/bookwise/internal/session"
	"github.com/bookwise/bookwise/internal/store"
)

type authHandler struct {
	auth       *auth.Service
	sessions   *session.Manager
	trustProxy bool
	isDev      bool
	logger     log.Logger
}

type registerRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	FullName     string `json:"full_name"`
	SessionToken string `json:"session_token"` // guest session to adopt
}

type loginRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	RememberMe   bool   `json:"remember_me"`
	SessionToken string `json:"session_token"` // guest session to adopt
}

type userPayload struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	Role     string `json:"role"`
}

type tokenResponse struct {
	User        userPayload `json:"user"`
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int64       `json:"expires_in"`
}

func (h *authHandler) client(r *http.Request) auth.ClientInfo {
	return auth.ClientInfo{
		IP:        clientIP(r, h.trustProxy),
		UserAgent: r.UserAgent(),
	}
}

// register creates an account and signs the user straight in. A guest
// session token, from the body or the X-Session-Token header, is migrated so
// the conversation follows the new account.
func (h *authHandler) register(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With("request_id", requestIDFromContext(r.Context()))

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body", logger)
		return
	}

	user, pair, err := h.auth.Register(r.Context(), req.Email, req.Password, req.FullName, h.client(r))
	if err != nil {
		writeDomainError(w, err, "", logger)
		return
	}

	h.adoptGuestSession(r, req.SessionToken, user, logger)
	h.setRefreshCookie(w, pair)
	writeJSON(w, http.StatusCreated, h.tokenResponse(user, pair), logger)
}

// login checks credentials and issues tokens. A guest session token in the
// body is migrated to the account.
func (h *authHandler) login(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With("request_id", requestIDFromContext(r.Context()))

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body", logger)
		return
	}

	user, pair, err := h.auth.Login(r.Context(), req.Email, req.Password, req.RememberMe, h.client(r))
	if err != nil {
		writeDomainError(w, err, "", logger)
		return
	}

	if req.SessionToken != "" {
		if _, err := h.sessions.Migrate(r.Context(), req.SessionToken, user.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			logger.Warn("migrating guest session at login", "user", user.ID, "error", err)
		}
	}

	h.setRefreshCookie(w, pair)
	writeJSON(w, http.StatusOK, h.tokenResponse(user, pair), logger)
}

// refresh rotates the refresh token from the bw_refresh cookie and returns a
// new access token. Reuse detection surfaces as 401 token_reused, and the
// cookie is cleared so the client stops retrying.
func (h *authHandler) refresh(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With("request_id", requestIDFromContext(r.Context()))

	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing refresh token", logger)
		return
	}

	pair, err := h.auth.Refresh(r.Context(), cookie.Value, h.client(r))
	if err != nil {
		if errors.Is(err, auth.ErrTokenReused) || errors.Is(err, auth.ErrTokenExpired) {
			h.clearRefreshCookie(w)
		}
		writeDomainError(w, err, "", logger)
		return
	}

	h.setRefreshCookie(w, pair)
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": pair.AccessToken,
		"token_type":   "Bearer",
		"expires_in":   pair.ExpiresIn,
	}, logger)
}

// logout revokes the refresh token and clears its cookie. Idempotent: a
// missing or dead token still gets a 204.
func (h *authHandler) logout(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With("request_id", requestIDFromContext(r.Context()))

	if cookie, err := r.Cookie(refreshCookieName); err == nil && cookie.Value != "" {
		if err := h.auth.Logout(r.Context(), cookie.Value, h.client(r)); err != nil {
			logger.Warn("revoking refresh token at logout", "error", err)
		}
	}

	h.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *authHandler) adoptGuestSession(r *http.Request, guestToken string, user *store.User, logger log.Logger) {
	if guestToken == "" {
		guestToken = r.Header.Get(guestTokenHeader)
	}
	if guestToken == "" {
		return
	}
	if _, err := h.sessions.Migrate(r.Context(), guestToken, user.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.Warn("migrating guest session at registration", "user", user.ID, "error", err)
	}
}

func (h *authHandler) tokenResponse(user *store.User, pair *auth.TokenPair) tokenResponse {
	return tokenResponse{
		User: userPayload{
			ID:       user.ID.String(),
			Email:    user.Email,
			FullName: user.FullName,
			Role:     user.Role,
		},
		AccessToken: pair.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   pair.ExpiresIn,
	}
}

// setRefreshCookie stores the refresh token HttpOnly, scoped to /auth so it
// only travels with refresh and logout calls.
func (h *authHandler) setRefreshCookie(w http.ResponseWriter, pair *auth.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    pair.RefreshToken,
		Path:     "/auth",
		Expires:  pair.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   !h.isDev,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *authHandler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/auth",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   !h.isDev,
		SameSite: http.SameSiteStrictMode,
	})
}
