// Package testutil provides shared test infrastructure: a real
// Postgres instance via testcontainers-go for repository and queue
// tests, and small HTTP-response assertion helpers for handler tests.
package testutil

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/prsentry/prsentry/internal/store"
)

// OpenTestDB starts a disposable Postgres container, applies every
// migration under internal/store/migrations, and returns a connected
// *gorm.DB. The container is terminated and the connection closed
// when the test completes.
//
// Tests using this helper need Docker available; CI and local runs
// without it should skip with testing.Short().
func OpenTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("prsentry_test"),
		tcpostgres.WithUsername("prsentry"),
		tcpostgres.WithPassword("prsentry"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	db, err := store.Open(dsn, store.PoolConfig{MaxOpenConns: 5, MaxIdleConns: 5})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	if err := store.Migrate(db, migrationsDir()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	return db
}

// migrationsDir resolves internal/store/migrations relative to this
// source file, so OpenTestDB works regardless of the calling
// package's working directory.
func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "store", "migrations")
}

// TestLogger returns a *zap.SugaredLogger that writes to t.Log.
func TestLogger(t *testing.T) *zap.SugaredLogger {
	return zaptest.NewLogger(t).Sugar()
}

// AssertStatusCode checks that the response has the expected HTTP status code.
// On failure, it reports the response body for debugging.
func AssertStatusCode(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("expected status %d, got %d: %s", expected, w.Code, w.Body.String())
	}
}
