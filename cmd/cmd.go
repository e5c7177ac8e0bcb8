// Package cmd provides the bookwise commands.
//
// Commands:
//   - serve: HTTP API server with SSE streaming
//   - migrate: apply database schema migrations
//   - ingest: build the retrieval corpus from a chapter directory
//
// Signal handling and graceful shutdown are implemented for all commands
// via context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/bookwise/bookwise/internal/log"
)

// Version information (injected at build time via ldflags).
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Execute is the main entry point for the bookwise binary.
func Execute() error {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level, JSON: os.Getenv("BOOKWISE_LOG_JSON") != ""})
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe(logger)
	case "migrate":
		return runMigrate(logger)
	case "ingest":
		return runIngest(logger, os.Args[2:])
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("bookwise - textbook Q&A backend")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  bookwise serve              Start the HTTP API server")
	fmt.Println("  bookwise migrate            Apply database migrations")
	fmt.Println("  bookwise ingest <dir> [ur]  Ingest a chapter tree (language defaults to en)")
	fmt.Println("  bookwise --version          Show version information")
	fmt.Println("  bookwise --help             Show this help")
	fmt.Println()
	fmt.Println("Configuration comes from bookwise.yaml and BOOKWISE_* environment")
	fmt.Println("variables. BOOKWISE_DATABASE_URL, BOOKWISE_GEMINI_API_KEY, and")
	fmt.Println("BOOKWISE_JWT_SECRET are required for serve.")
}

// runVersion displays version information.
func runVersion() {
	fmt.Printf("bookwise v%s\n", Version)
	fmt.Printf("Build: %s\n", BuildTime)
	fmt.Printf("Commit: %s\n", GitCommit)
}
