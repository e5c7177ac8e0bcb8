package cmd

import (
	"fmt"

	"github.com/bookwise/bookwise/db"
	"github.com/bookwise/bookwise/internal/config"
	"github.com/bookwise/bookwise/internal/log"
)

// runMigrate applies all pending schema migrations and exits.
func runMigrate(logger log.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateMigrate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		return err
	}
	logger.Info("database schema up to date")
	return nil
}
