// Package auth implements the token service: JWT minting and verification,
// password hashing, and refresh token rotation with reuse detection.
//
// Access tokens are verified statelessly from their signature. Refresh
// tokens additionally live in the database as SHA-256 hashes so rotation can
// be made exactly-once across instances with a conditional update.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUnauthorized indicates a missing, malformed, or unverifiable token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTokenExpired indicates a token past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenReused indicates a refresh token that was already rotated or
	// revoked was presented again. Treated as theft: the whole token family
	// is revoked.
	ErrTokenReused = errors.New("refresh token reuse detected")

	// ErrInvalidCredentials indicates a failed email/password check.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// HashToken returns the SHA-256 hex digest of a token. Only digests are
// stored; the plaintext never reaches the database.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// HashEqual compares two token hashes in constant time.
func HashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// HashPassword hashes a password with bcrypt at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
