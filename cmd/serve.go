package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/bookwise/bookwise/db"
	"github.com/bookwise/bookwise/internal/answer"
	"github.com/bookwise/bookwise/internal/api"
	"github.com/bookwise/bookwise/internal/auth"
	"github.com/bookwise/bookwise/internal/config"
	"github.com/bookwise/bookwise/internal/gemini"
	"github.com/bookwise/bookwise/internal/log"
	"github.com/bookwise/bookwise/internal/metrics"
	"github.com/bookwise/bookwise/internal/observability"
	"github.com/bookwise/bookwise/internal/retrieval"
	"github.com/bookwise/bookwise/internal/session"
	"github.com/bookwise/bookwise/internal/store"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute // SSE streaming needs longer timeout
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second

	// retentionInterval is how often stale guest sessions and expired
	// refresh tokens are swept.
	retentionInterval = 24 * time.Hour
)

// runServe initializes and starts the HTTP API server.
func runServe(logger log.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting bookwise server", "version", Version, "config", cfg)

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	shutdownTracing, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Environment: environment(cfg),
	}, logger)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flushing traces", "error", err)
		}
	}()

	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	st, err := store.New(pool, logger.With("component", "store"))
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}

	ai, err := gemini.New(ctx, gemini.Config{
		APIKey:        cfg.GeminiAPIKey,
		EmbedModel:    cfg.EmbedModel,
		GenerateModel: cfg.GenerateModel,
		Dimension:     cfg.EmbedDimension,
	}, logger.With("component", "gemini"))
	if err != nil {
		return fmt.Errorf("creating gemini client: %w", err)
	}

	index, err := retrieval.New(pool, logger.With("component", "retrieval"))
	if err != nil {
		return fmt.Errorf("creating retrieval client: %w", err)
	}

	collector := metrics.NewRingCollector(0)

	answers, err := answer.NewService(ai, index, ai, st, answer.Config{
		Threshold: cfg.SimilarityThreshold,
		TopK:      cfg.TopK,
	}, collector, logger.With("component", "answer"))
	if err != nil {
		return fmt.Errorf("creating answer service: %w", err)
	}

	sessions, err := session.NewManager(st, cfg.GuestQuestionLimit, collector, logger.With("component", "session"))
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}

	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, cfg.RememberMeTTL)
	authSvc, err := auth.NewService(st, tokens, collector, logger.With("component", "auth"))
	if err != nil {
		return fmt.Errorf("creating auth service: %w", err)
	}

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:   logger.With("component", "api"),
		Answers:  answers,
		Sessions: sessions,
		Auth:     authSvc,
		Tokens:   tokens,
		Store:    st,
		Health: []api.HealthCheck{
			{Name: "store", Check: st.Healthy},
			{Name: "index", Check: index.Healthy},
			{Name: "generator", Check: ai.Healthy},
		},
		CORSOrigins: cfg.CORSOrigins,
		IsDev:       cfg.IsDev,
		TrustProxy:  cfg.TrustProxy,
		RateBurst:   cfg.RateBurst,
		AuthBurst:   cfg.AuthBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	go runRetention(ctx, st, cfg.GuestRetention, logger.With("component", "retention"))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", cfg.Addr,
		"health", "/health, /ready",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}

func environment(cfg *config.Config) string {
	if cfg.IsDev {
		return "development"
	}
	return "production"
}

// runRetention sweeps stale guest sessions and expired refresh tokens once
// at startup and then every retentionInterval until ctx ends.
func runRetention(ctx context.Context, st *store.Store, retention time.Duration, logger log.Logger) {
	sweep := func() {
		sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if _, err := st.DeleteStaleGuestSessions(sweepCtx, retention); err != nil {
			logger.Warn("sweeping guest sessions", "error", err)
		}
		if _, err := st.DeleteExpiredRefreshTokens(sweepCtx); err != nil {
			logger.Warn("sweeping refresh tokens", "error", err)
		}
	}

	sweep()
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
