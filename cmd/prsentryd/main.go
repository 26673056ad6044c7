package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/prsentry/prsentry/internal/config"
	"github.com/prsentry/prsentry/internal/credbroker"
	"github.com/prsentry/prsentry/internal/genmodel"
	"github.com/prsentry/prsentry/internal/ghclient"
	"github.com/prsentry/prsentry/internal/installsync"
	"github.com/prsentry/prsentry/internal/notifyworker"
	"github.com/prsentry/prsentry/internal/queue"
	"github.com/prsentry/prsentry/internal/store"
	"github.com/prsentry/prsentry/internal/summaryworker"
	"github.com/prsentry/prsentry/internal/version"
	"github.com/prsentry/prsentry/internal/webhook"
)

const reaperInterval = 30 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		log.Printf("prsentryd %s", version.Version)
		return
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zapLogger.Sync()
	logger := zapLogger.Sugar()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalw("load configuration", "error", err)
	}

	db, err := store.Open(cfg.DatabaseURL, store.PoolConfig{MaxOpenConns: cfg.DBMaxOpenConns, MaxIdleConns: cfg.DBMaxIdleConns})
	if err != nil {
		logger.Fatalw("open database", "error", err)
	}

	if err := store.Migrate(db, cfg.MigrationsPath); err != nil {
		logger.Fatalw("run migrations", "error", err)
	}

	installations := store.NewInstallationRepository(db, logger)
	users := store.NewUserRepository(db, logger)
	prs := store.NewPullRequestRepository(db, logger)

	broker, err := credbroker.New(cfg.PlatformAppID, cfg.PlatformPrivateKey, cfg.PlatformAPIBaseURL, logger)
	if err != nil {
		logger.Fatalw("init credential broker", "error", err)
	}
	gh := ghclient.New(broker)

	q := queue.New(db, logger)
	model := genmodel.New(cfg.GenModelBaseURL, cfg.GenModelAPIKey, cfg.GenModelModel, time.Duration(cfg.GenModelTimeoutSeconds)*time.Second)
	syncer := installsync.New(gh, users, logger)

	summaryPool := summaryworker.New(q, prs, gh, model, summaryworker.Config{
		NumWorkers:        cfg.WorkerConcurrency,
		ChatEnabled:       cfg.ChatEnabled,
		ChatRiskThreshold: cfg.ChatRiskThreshold,
		DashboardBaseURL:  cfg.DashboardBaseURL,
	}, logger)

	notifyPool := notifyworker.New(q, prs, notifyworker.Config{
		NumWorkers:  cfg.WorkerConcurrency,
		ChatEnabled: cfg.ChatEnabled,
		WebhookURL:  cfg.ChatWebhookURL,
	}, logger)

	dispatcher := webhook.NewDispatcher(installations, users, prs, q, gh, syncer, logger)
	webhookHandler := webhook.NewHandler(dispatcher, cfg.PlatformWebhookSecret, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	webhook.RegisterRoutes(router, webhookHandler, healthCheck(db, broker, q, logger))

	httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: router}

	reaperCtx, cancelReaper := context.WithCancel(context.Background())
	go q.RunReaper(reaperCtx, reaperInterval)

	summaryPool.Start()
	notifyPool.Start()

	go func() {
		logger.Infow("starting HTTP server", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Infow("received shutdown signal", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("HTTP server shutdown error", "error", err)
	}

	cancelReaper()
	summaryPool.Stop()
	notifyPool.Stop()
	logger.Infow("shutdown complete")
}

// healthCheck reports store connectivity, credential broker cache
// occupancy, and job queue depth as independent components so an
// operator can see which part of the pipeline is unhealthy rather
// than a single pass/fail bit.
func healthCheck(db *gorm.DB, broker *credbroker.Broker, q *queue.Queue, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		overall := "ok"
		components := make([]gin.H, 0, 3)

		if err := store.Ping(db); err != nil {
			logger.Errorw("health check: database ping failed", "error", err)
			overall = "error"
			components = append(components, gin.H{"name": "store", "status": "error", "error": err.Error()})
		} else {
			components = append(components, gin.H{"name": "store", "status": "ok"})
		}

		stats := broker.Stats()
		components = append(components, gin.H{
			"name":                "credentialBroker",
			"status":              "ok",
			"cachedInstallations": stats.CachedInstallations,
		})

		depth := gin.H{}
		queueStatus := "ok"
		for _, name := range []string{queue.QueuePRSummary, queue.QueuePRNotifyChat} {
			n, err := q.Depth(c.Request.Context(), name)
			if err != nil {
				logger.Errorw("health check: queue depth failed", "queue", name, "error", err)
				queueStatus = "error"
				overall = "error"
				continue
			}
			depth[name] = n
		}
		components = append(components, gin.H{"name": "queue", "status": queueStatus, "depth": depth})

		status := http.StatusOK
		if overall != "ok" {
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{"status": overall, "version": version.Full(), "components": components})
	}
}
