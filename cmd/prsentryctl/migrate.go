package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/prsentry/prsentry/internal/config"
	"github.com/prsentry/prsentry/internal/store"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			db, err := store.Open(cfg.DatabaseURL, store.PoolConfig{MaxOpenConns: cfg.DBMaxOpenConns, MaxIdleConns: cfg.DBMaxIdleConns})
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}

			if err := store.Migrate(db, cfg.MigrationsPath); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}

			fmt.Println("migrations applied")
			return nil
		},
	}
}
