package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/prsentry/prsentry/internal/config"
	"github.com/prsentry/prsentry/internal/queue"
	"github.com/prsentry/prsentry/internal/store"
)

func regenerateCmd() *cobra.Command {
	var prID string

	cmd := &cobra.Command{
		Use:   "regenerate",
		Short: "Re-enqueue summary generation for a pull request",
		Long:  "regenerate forces the Summary Worker to re-analyze and re-summarize a pull request, overwriting its existing summary. Use this after a model or prompt change, or to retry a PR stuck in an error state.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if prID == "" {
				return fmt.Errorf("--pr-id is required")
			}

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

			prs := store.NewPullRequestRepository(db, logger)
			ctx := context.Background()

			pr, err := prs.GetPRByID(ctx, prID)
			if err != nil {
				return fmt.Errorf("look up pull request %s: %w", prID, err)
			}

			q := queue.New(db, logger)
			job, err := q.Enqueue(ctx, queue.QueuePRSummary, queue.JobNameRegenerate, queue.PRSummaryPayload{
				PullRequestID:  pr.ID,
				InstallationID: pr.InstallationID,
				RepoFullName:   pr.RepoFullName,
				Number:         pr.Number,
			})
			if err != nil {
				return fmt.Errorf("enqueue regenerate job: %w", err)
			}

			fmt.Printf("enqueued job %s for pull request %s (#%d %s)\n", job.ID, pr.ID, pr.Number, pr.RepoFullName)
			return nil
		},
	}

	cmd.Flags().StringVar(&prID, "pr-id", "", "ID of the pull request to regenerate (required)")
	return cmd
}
