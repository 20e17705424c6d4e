package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kenneth/s3-console/internal/config"
	"github.com/kenneth/s3-console/internal/users"
)

func newMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), *configPath)
		},
	}
}

func runMigrate(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("migrate requires database.driver postgres, got %s", cfg.Database.Driver)
	}

	logger := newLogger(cfg)
	db, err := users.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := users.RunMigrations(ctx, db); err != nil {
		return err
	}
	logger.Info("Database migrations applied")
	return nil
}
