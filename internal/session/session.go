// Package session manages conversation sessions: anonymous guest sessions
// identified by an opaque token, authenticated sessions bound to a user, and
// the one-way migration between the two.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/bookwise/bookwise/internal/auth"
	"github.com/bookwise/bookwise/internal/log"
	"github.com/bookwise/bookwise/internal/metrics"
	"github.com/bookwise/bookwise/internal/store"
)

// ErrGuestLimit indicates a guest session has used up its question quota.
var ErrGuestLimit = errors.New("guest question limit reached")

// Store is the persistence surface the session manager needs. *store.Store
// satisfies it.
type Store interface {
	CreateGuestSession(ctx context.Context, tokenHash, language string) (*store.Session, error)
	CreateUserSession(ctx context.Context, userID uuid.UUID, language string) (*store.Session, error)
	SessionByTokenHash(ctx context.Context, tokenHash string) (*store.Session, error)
	LatestUserSession(ctx context.Context, userID uuid.UUID) (*store.Session, error)
	TouchSession(ctx context.Context, id uuid.UUID) error
	ConsumeGuestQuestion(ctx context.Context, id uuid.UUID, limit int) (int, error)
	MigrateSession(ctx context.Context, tokenHash string, userID uuid.UUID) (*store.Session, error)
}

// Manager resolves requests to sessions and enforces the guest quota.
type Manager struct {
	store   Store
	limit   int
	metrics metrics.Collector
	logger  log.Logger
}

// NewManager creates a Manager. limit is the guest question quota.
func NewManager(st Store, limit int, collector metrics.Collector, logger log.Logger) (*Manager, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("guest limit must be positive, got %d", limit)
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Manager{store: st, limit: limit, metrics: collector, logger: logger}, nil
}

// Resolved is the outcome of Resolve: the session plus, for a freshly
// created guest, the plaintext token the client must hold on to.
type Resolved struct {
	Session  *store.Session
	NewToken string // non-empty only when a guest session was just created
}

// Resolve maps a request to its session. An authenticated user gets their
// most recent session, created on demand. A known guest token gets its
// session with last_activity touched. Anything else gets a brand-new guest
// session and token.
func (m *Manager) Resolve(ctx context.Context, guestToken string, userID *uuid.UUID, language string) (*Resolved, error) {
	if userID != nil {
		sess, err := m.store.LatestUserSession(ctx, *userID)
		if errors.Is(err, store.ErrNotFound) {
			sess, err = m.store.CreateUserSession(ctx, *userID, language)
		}
		if err != nil {
			return nil, fmt.Errorf("resolving user session: %w", err)
		}
		if err := m.store.TouchSession(ctx, sess.ID); err != nil {
			m.logger.Warn("touching session", "session", sess.ID, "error", err)
		}
		return &Resolved{Session: sess}, nil
	}

	if guestToken != "" {
		sess, err := m.store.SessionByTokenHash(ctx, auth.HashToken(guestToken))
		if err == nil {
			if err := m.store.TouchSession(ctx, sess.ID); err != nil {
				m.logger.Warn("touching session", "session", sess.ID, "error", err)
			}
			return &Resolved{Session: sess}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("resolving guest session: %w", err)
		}
		// Unknown token: fall through and issue a fresh one.
	}

	token, err := newGuestToken()
	if err != nil {
		return nil, err
	}
	sess, err := m.store.CreateGuestSession(ctx, auth.HashToken(token), language)
	if err != nil {
		return nil, fmt.Errorf("creating guest session: %w", err)
	}
	m.logger.Debug("guest session created", "session", sess.ID, "language", language)
	return &Resolved{Session: sess, NewToken: token}, nil
}

// ConsumeQuestion spends one question of a guest's quota. Authenticated
// sessions pass through uncounted. Returns ErrGuestLimit when the quota is
// exhausted; the check and increment are a single conditional update, so
// concurrent questions cannot overdraw it.
func (m *Manager) ConsumeQuestion(ctx context.Context, sess *store.Session) (remaining int, err error) {
	if !sess.IsGuest() {
		return -1, nil
	}

	count, err := m.store.ConsumeGuestQuestion(ctx, sess.ID, m.limit)
	if errors.Is(err, store.ErrQuotaExhausted) {
		m.metrics.IncGuestRejected()
		m.logger.Info("guest question limit reached", "session", sess.ID)
		return 0, ErrGuestLimit
	}
	if err != nil {
		return 0, fmt.Errorf("consuming guest question: %w", err)
	}
	return m.limit - count, nil
}

// Migrate flips a guest session to the given user in one atomic update and
// invalidates the guest token. The session's messages stay attached. Returns
// store.ErrNotFound when the token does not name a live guest session.
func (m *Manager) Migrate(ctx context.Context, guestToken string, userID uuid.UUID) (*store.Session, error) {
	sess, err := m.store.MigrateSession(ctx, auth.HashToken(guestToken), userID)
	if err != nil {
		return nil, err
	}
	m.logger.Info("guest session migrated", "session", sess.ID, "user", userID)
	return sess, nil
}

// Limit returns the guest question quota.
func (m *Manager) Limit() int {
	return m.limit
}

// newGuestToken returns a 32-byte random token, URL-safe base64.
func newGuestToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating guest token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
