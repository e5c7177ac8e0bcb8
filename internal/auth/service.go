package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bookwise/bookwise/internal/log"
	"github.com/bookwise/bookwise/internal/metrics"
	"github.com/bookwise/bookwise/internal/store"
)

// Store is the persistence surface the auth service needs. *store.Store
// satisfies it.
type Store interface {
	CreateUser(ctx context.Context, email, passwordHash, fullName string) (*store.User, error)
	UserByEmail(ctx context.Context, email string) (*store.User, error)
	UserByID(ctx context.Context, id uuid.UUID) (*store.User, error)

	InsertRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash, ip, userAgent string, expiresAt time.Time) (uuid.UUID, error)
	RotateRefreshToken(ctx context.Context, oldHash, newHash, ip, userAgent string, expiresAt time.Time) (uuid.UUID, error)
	RefreshTokenByHash(ctx context.Context, tokenHash string) (*store.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
	RevokeAllUserTokens(ctx context.Context, userID uuid.UUID) (int64, error)

	LogAuthEvent(ctx context.Context, userID *uuid.UUID, eventType, ip, userAgent string, meta map[string]any)
}

// ClientInfo carries per-request attribution for the audit trail.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// Service implements registration, login, refresh rotation, and logout.
type Service struct {
	store   Store
	tokens  *TokenService
	metrics metrics.Collector
	logger  log.Logger
}

// NewService creates the auth service.
func NewService(st Store, tokens *TokenService, collector metrics.Collector, logger log.Logger) (*Service, error) {
	if st == nil || tokens == nil {
		return nil, fmt.Errorf("store and token service are required")
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Service{store: st, tokens: tokens, metrics: collector, logger: logger}, nil
}

// Register creates a user and issues their first token pair.
func (s *Service) Register(ctx context.Context, email, password, fullName string, client ClientInfo) (*store.User, *TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, nil, fmt.Errorf("%w: invalid email", ErrInvalidCredentials)
	}
	if len(password) < 8 {
		return nil, nil, fmt.Errorf("%w: password too short", ErrInvalidCredentials)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, nil, fmt.Errorf("hashing password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, email, hash, fullName)
	if err != nil {
		return nil, nil, err
	}

	pair, err := s.issuePair(ctx, user, false, client)
	if err != nil {
		return nil, nil, err
	}

	s.store.LogAuthEvent(ctx, &user.ID, store.EventRegister, client.IP, client.UserAgent, nil)
	s.logger.Info("user registered", "user", user.ID)
	return user, pair, nil
}

// Login checks credentials and issues a token pair. remember extends the
// refresh token lifetime.
func (s *Service) Login(ctx context.Context, email, password string, remember bool, client ClientInfo) (*store.User, *TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.store.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Same cost and same answer as a wrong password.
			_ = CheckPassword("$2a$10$000000000000000000000uGyUvPimXieqk1jmUYJGx52We/lyO6q", password)
			s.store.LogAuthEvent(ctx, nil, store.EventLoginFail, client.IP, client.UserAgent, map[string]any{"email": email})
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}

	if !CheckPassword(user.PasswordHash, password) {
		s.store.LogAuthEvent(ctx, &user.ID, store.EventLoginFail, client.IP, client.UserAgent, nil)
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.issuePair(ctx, user, remember, client)
	if err != nil {
		return nil, nil, err
	}

	s.store.LogAuthEvent(ctx, &user.ID, store.EventLogin, client.IP, client.UserAgent, nil)
	return user, pair, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued, exactly once. A token that was already rotated or revoked
// trips reuse detection, which revokes every outstanding token of that user.
func (s *Service) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (*TokenPair, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	user, err := s.store.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}

	// Keep the original expiry horizon: rotation must not extend the window
	// the user consented to at login.
	pair, err := s.tokens.MintPair(user.ID, user.Email, user.Role, false)
	if err != nil {
		return nil, err
	}
	pair.RefreshExpiresAt = claims.ExpiresAt.Time

	oldHash := HashToken(refreshToken)
	newHash := HashToken(pair.RefreshToken)
	_, err = s.store.RotateRefreshToken(ctx, oldHash, newHash, client.IP, client.UserAgent, pair.RefreshExpiresAt)
	if errors.Is(err, store.ErrNotRotatable) {
		return nil, s.handleReuse(ctx, user.ID, oldHash, client)
	}
	if err != nil {
		return nil, err
	}

	s.store.LogAuthEvent(ctx, &user.ID, store.EventRefresh, client.IP, client.UserAgent, nil)
	return pair, nil
}

// handleReuse decides why a rotation found no live row. A revoked row means
// the token was presented twice; everything else is a plain failure.
func (s *Service) handleReuse(ctx context.Context, userID uuid.UUID, tokenHash string, client ClientInfo) error {
	stored, err := s.store.RefreshTokenByHash(ctx, tokenHash)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUnauthorized
	}
	if err != nil {
		return err
	}
	if !stored.Revoked {
		// Live but not rotatable: expired between verification and update.
		return ErrTokenExpired
	}

	n, err := s.store.RevokeAllUserTokens(ctx, userID)
	if err != nil {
		s.logger.Error("revoking token family after reuse", "user", userID, "error", err)
	}
	s.metrics.IncTokenReuse()
	s.store.LogAuthEvent(ctx, &userID, store.EventTokenReuse, client.IP, client.UserAgent,
		map[string]any{"revoked": n})
	s.logger.Warn("refresh token reuse detected", "user", userID, "revoked", n)
	return ErrTokenReused
}

// Logout revokes the presented refresh token. Unknown or already revoked
// tokens are accepted silently.
func (s *Service) Logout(ctx context.Context, refreshToken string, client ClientInfo) error {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		// Nothing to revoke; logout still succeeds.
		return nil
	}

	if err := s.store.RevokeRefreshToken(ctx, HashToken(refreshToken)); err != nil {
		return err
	}
	if userID, err := claims.UserID(); err == nil {
		s.store.LogAuthEvent(ctx, &userID, store.EventLogout, client.IP, client.UserAgent, nil)
	}
	return nil
}

// issuePair mints a token pair and records the refresh hash.
func (s *Service) issuePair(ctx context.Context, user *store.User, remember bool, client ClientInfo) (*TokenPair, error) {
	pair, err := s.tokens.MintPair(user.ID, user.Email, user.Role, remember)
	if err != nil {
		return nil, err
	}
	_, err = s.store.InsertRefreshToken(ctx, user.ID, HashToken(pair.RefreshToken),
		client.IP, client.UserAgent, pair.RefreshExpiresAt)
	if err != nil {
		return nil, err
	}
	return pair, nil
}
