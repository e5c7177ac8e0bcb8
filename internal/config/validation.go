package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingDatabaseURL indicates the PostgreSQL URL is not set.
	ErrMissingDatabaseURL = errors.New("missing database URL")

	// ErrInvalidDatabaseURL indicates the PostgreSQL URL is malformed.
	ErrInvalidDatabaseURL = errors.New("invalid database URL")

	// ErrMissingAPIKey indicates the Gemini API key is not set.
	ErrMissingAPIKey = errors.New("missing Gemini API key")

	// ErrMissingJWTSecret indicates the JWT signing secret is not set.
	ErrMissingJWTSecret = errors.New("missing JWT secret")

	// ErrWeakJWTSecret indicates the JWT secret is too short.
	ErrWeakJWTSecret = errors.New("JWT secret must be at least 32 bytes")

	// ErrInvalidThreshold indicates the similarity threshold is out of range.
	ErrInvalidThreshold = errors.New("similarity threshold must be in [-1, 1]")

	// ErrInvalidTopK indicates the retrieval limit is out of range.
	ErrInvalidTopK = errors.New("top_k must be between 1 and 20")
)

// ValidateServe checks everything the HTTP server needs.
func (c *Config) ValidateServe() error {
	if c == nil {
		return ErrConfigNil
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if c.GeminiAPIKey == "" {
		return ErrMissingAPIKey
	}
	if c.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	if len(c.JWTSecret) < 32 {
		return ErrWeakJWTSecret
	}
	if c.SimilarityThreshold < -1 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidThreshold, c.SimilarityThreshold)
	}
	if c.TopK < 1 || c.TopK > 20 {
		return fmt.Errorf("%w: got %d", ErrInvalidTopK, c.TopK)
	}
	return nil
}

// ValidateIngest checks everything the ingestion command needs.
func (c *Config) ValidateIngest() error {
	if c == nil {
		return ErrConfigNil
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if c.GeminiAPIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// ValidateMigrate checks everything the migration command needs.
func (c *Config) ValidateMigrate() error {
	if c == nil {
		return ErrConfigNil
	}
	return c.validateDatabase()
}

func (c *Config) validateDatabase() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDatabaseURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return nil
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidDatabaseURL, u.Scheme)
	}
}
