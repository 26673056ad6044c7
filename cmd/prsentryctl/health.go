package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/prsentry/prsentry/internal/config"
	"github.com/prsentry/prsentry/internal/credbroker"
	"github.com/prsentry/prsentry/internal/queue"
	"github.com/prsentry/prsentry/internal/store"
)

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check connectivity to the store, credential broker, and job queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			zapLogger, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer zapLogger.Sync()
			logger := zapLogger.Sugar()

			db, err := store.Open(cfg.DatabaseURL, store.PoolConfig{MaxOpenConns: cfg.DBMaxOpenConns, MaxIdleConns: cfg.DBMaxIdleConns})
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}

			ctx := context.Background()
			failed := false

			if err := store.Ping(db); err != nil {
				fmt.Printf("store: error (%v)\n", err)
				failed = true
			} else {
				fmt.Println("store: ok")
			}

			broker, err := credbroker.New(cfg.PlatformAppID, cfg.PlatformPrivateKey, cfg.PlatformAPIBaseURL, logger)
			if err != nil {
				fmt.Printf("credentialBroker: error (%v)\n", err)
				failed = true
			} else {
				stats := broker.Stats()
				fmt.Printf("credentialBroker: ok (cachedInstallations=%d)\n", stats.CachedInstallations)
			}

			q := queue.New(db, logger)
			for _, name := range []string{queue.QueuePRSummary, queue.QueuePRNotifyChat} {
				depth, err := q.Depth(ctx, name)
				if err != nil {
					fmt.Printf("queue[%s]: error (%v)\n", name, err)
					failed = true
					continue
				}
				fmt.Printf("queue[%s]: ok (depth=%d)\n", name, depth)
			}

			if failed {
				return fmt.Errorf("one or more health components failed")
			}
			return nil
		},
	}
}
