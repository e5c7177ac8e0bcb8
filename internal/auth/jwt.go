package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType distinguishes access tokens from refresh tokens so one can never
// be presented where the other is expected.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the JWT payload for both token types. Subject carries the user
// id.
type Claims struct {
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parsing subject claim: %w", err)
	}
	return id, nil
}

// TokenPair is what a successful login or refresh hands back.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	ExpiresIn        int64 // access token lifetime, seconds
	RefreshExpiresAt time.Time
}

// TokenService mints and verifies HS256 JWTs.
type TokenService struct {
	secret      []byte
	accessTTL   time.Duration
	refreshTTL  time.Duration
	rememberTTL time.Duration
}

// NewTokenService creates a TokenService. rememberTTL is the refresh
// lifetime used when the client asks to stay signed in.
func NewTokenService(secret string, accessTTL, refreshTTL, rememberTTL time.Duration) *TokenService {
	return &TokenService{
		secret:      []byte(secret),
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
		rememberTTL: rememberTTL,
	}
}

// MintPair issues a fresh access/refresh pair for a user.
func (s *TokenService) MintPair(userID uuid.UUID, email, role string, remember bool) (*TokenPair, error) {
	now := time.Now().UTC()

	access, err := s.sign(userID, email, role, TokenTypeAccess, now, now.Add(s.accessTTL))
	if err != nil {
		return nil, fmt.Errorf("signing access token: %w", err)
	}

	refreshTTL := s.refreshTTL
	if remember {
		refreshTTL = s.rememberTTL
	}
	refreshExp := now.Add(refreshTTL)
	refresh, err := s.sign(userID, email, role, TokenTypeRefresh, now, refreshExp)
	if err != nil {
		return nil, fmt.Errorf("signing refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresIn:        int64(s.accessTTL.Seconds()),
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *TokenService) sign(userID uuid.UUID, email, role string, typ TokenType, now, exp time.Time) (string, error) {
	claims := &Claims{
		Email:     email,
		Role:      role,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// VerifyAccess parses and validates an access token.
func (s *TokenService) VerifyAccess(tokenString string) (*Claims, error) {
	return s.verify(tokenString, TokenTypeAccess)
}

// VerifyRefresh parses and validates a refresh token.
func (s *TokenService) VerifyRefresh(tokenString string) (*Claims, error) {
	return s.verify(tokenString, TokenTypeRefresh)
}

func (s *TokenService) verify(tokenString string, want TokenType) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}
	if claims.TokenType != want {
		return nil, fmt.Errorf("%w: wrong token type", ErrUnauthorized)
	}
	return claims, nil
}
