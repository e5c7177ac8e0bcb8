// Package api is the HTTP gateway: the streaming query endpoint, history
// and feedback, the auth endpoints, and health probes, behind a shared
// middleware stack.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/bookwise/bookwise/internal/answer"
	"github.com/bookwise/bookwise/internal/auth"
	"github.com/bookwise/bookwise/internal/log"
	"github.com/bookwise/bookwise/internal/session"
	"github.com/bookwise/bookwise/internal/store"
)

// guestTokenHeader carries the opaque guest session token. The query body
// may carry it too; the header wins for GET endpoints.
const guestTokenHeader = "X-Session-Token"

// refreshCookieName holds the refresh token, HttpOnly and scoped to the
// auth endpoints so it never rides along on query traffic.
const refreshCookieName = "bw_refresh"

// Store is the persistence surface the read-side handlers need.
// *store.Store satisfies it.
type Store interface {
	History(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]store.Message, int, error)
	LatestUserSession(ctx context.Context, userID uuid.UUID) (*store.Session, error)
	SessionByTokenHash(ctx context.Context, tokenHash string) (*store.Session, error)
	AddFeedback(ctx context.Context, messageID uuid.UUID, rating int, text string) (uuid.UUID, error)
}

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger      log.Logger
	Answers     *answer.Service  // Required
	Sessions    *session.Manager // Required
	Auth        *auth.Service    // Required
	Tokens      *auth.TokenService
	Store       Store // Required
	Health      []HealthCheck
	CORSOrigins []string
	IsDev       bool // Secure cookie flag off, HSTS off
	TrustProxy  bool // Trust X-Real-IP/X-Forwarded-For
	RateBurst   int  // Per-IP burst for general traffic (0 = default 60)
	AuthBurst   int  // Per-IP burst for login/register (0 = default 5)
}

// HealthCheck is a named readiness probe.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) bool
}

// Server is the JSON/SSE HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Answers == nil || cfg.Sessions == nil || cfg.Auth == nil || cfg.Tokens == nil || cfg.Store == nil {
		return nil, errors.New("answers, sessions, auth, tokens, and store are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	qh := &queryHandler{
		answers:  cfg.Answers,
		sessions: cfg.Sessions,
		logger:   logger,
	}
	hh := &historyHandler{
		sessions: cfg.Sessions,
		store:    cfg.Store,
		logger:   logger,
	}
	fh := &feedbackHandler{
		store:  cfg.Store,
		logger: logger,
	}
	ah := &authHandler{
		auth:       cfg.Auth,
		sessions:   cfg.Sessions,
		trustProxy: cfg.TrustProxy,
		isDev:      cfg.IsDev,
		logger:     logger,
	}

	// Stricter bucket for credential endpoints: slow refill, small burst.
	authBurst := cfg.AuthBurst
	if authBurst <= 0 {
		authBurst = 5
	}
	authRL := newRateLimiter(0.1, authBurst)
	authLimited := rateLimitMiddleware(authRL, cfg.TrustProxy, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /query", qh.query)
	mux.HandleFunc("GET /history", hh.history)
	mux.HandleFunc("POST /feedback", fh.feedback)

	mux.Handle("POST /auth/register", authLimited(http.HandlerFunc(ah.register)))
	mux.Handle("POST /auth/login", authLimited(http.HandlerFunc(ah.login)))
	mux.HandleFunc("POST /auth/refresh", ah.refresh)
	mux.HandleFunc("POST /auth/logout", ah.logout)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Auth → Routes
	// RequestID before Logging so request_id shows in log attributes.
	// CORS before RateLimit so preflight OPTIONS gets proper headers.
	var handler http.Handler = mux
	handler = authMiddleware(cfg.Tokens, logger)(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	// Health probes bypass the middleware stack. /ready is an alias for
	// orchestrators that probe readiness separately.
	probe := health(cfg.Health, logger)
	topMux := http.NewServeMux()
	topMux.Handle("GET /health", probe)
	topMux.Handle("GET /ready", probe)
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
