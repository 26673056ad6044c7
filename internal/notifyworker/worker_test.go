package notifyworker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prsentry/prsentry/internal/queue"
	"github.com/prsentry/prsentry/internal/store"
	"github.com/prsentry/prsentry/internal/testutil"
)

func seedPR(t *testing.T, prs store.PullRequestRepository, repoID string, number int) *store.PullRequest {
	t.Helper()
	row, _, err := prs.UpsertPR(context.Background(), repoID, number,
		store.PullRequestPatch{Title: "t", Status: "open"},
		store.PullRequestSetOnInsert{InstallationID: 1, RepoFullName: "acme/widgets"})
	if err != nil {
		t.Fatalf("seed pr: %v", err)
	}
	return row
}

func TestProcessDeliversAndSetsChatMessageTs(t *testing.T) {
	if testing.Short() {
		t.Skip("requires Docker for a disposable Postgres container")
	}
	db := testutil.OpenTestDB(t)
	logger := testutil.TestLogger(t)
	prs := store.NewPullRequestRepository(db, logger)
	q := queue.New(db, logger)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	row := seedPR(t, prs, "800", 1)
	pool := New(q, prs, Config{ChatEnabled: true, WebhookURL: srv.URL}, logger)

	_, err := q.Enqueue(context.Background(), queue.QueuePRNotifyChat, queue.JobNamePRNotification, queue.PRNotifyChatPayload{
		PullRequestID: row.ID,
		Number:        1,
		Title:         "Add rate limiting",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claimed, err := q.Claim(context.Background(), queue.QueuePRNotifyChat, "worker-1")
	if err != nil || claimed == nil {
		t.Fatalf("claim: job=%v err=%v", claimed, err)
	}

	pool.process("worker-1", claimed)

	got, err := prs.GetPRByID(context.Background(), row.ID)
	if err != nil {
		t.Fatalf("get pr: %v", err)
	}
	if got.ChatMessageTs == nil {
		t.Error("expected chatMessageTs to be set after successful delivery")
	}

	dead, err := q.DeadLetters(context.Background(), queue.QueuePRNotifyChat)
	if err != nil {
		t.Fatalf("dead letters: %v", err)
	}
	if len(dead) != 0 {
		t.Errorf("expected no dead letters for a successful delivery, got %d", len(dead))
	}
}

func TestProcessAcksWithoutDeliveryWhenChatDisabled(t *testing.T) {
	if testing.Short() {
		t.Skip("requires Docker for a disposable Postgres container")
	}
	db := testutil.OpenTestDB(t)
	logger := testutil.TestLogger(t)
	prs := store.NewPullRequestRepository(db, logger)
	q := queue.New(db, logger)

	row := seedPR(t, prs, "801", 1)
	pool := New(q, prs, Config{ChatEnabled: false}, logger)

	job, err := q.Enqueue(context.Background(), queue.QueuePRNotifyChat, queue.JobNamePRNotification, queue.PRNotifyChatPayload{PullRequestID: row.ID, Number: 1})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claimed, err := q.Claim(context.Background(), queue.QueuePRNotifyChat, "worker-1")
	if err != nil || claimed == nil {
		t.Fatalf("claim: job=%v err=%v", claimed, err)
	}

	pool.process("worker-1", claimed)

	got, err := prs.GetPRByID(context.Background(), row.ID)
	if err != nil {
		t.Fatalf("get pr: %v", err)
	}
	if got.ChatMessageTs != nil {
		t.Error("expected chatMessageTs to remain unset when chat is disabled")
	}
	_ = job
}

func TestProcessAcksDespiteDeliveryFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("requires Docker for a disposable Postgres container")
	}
	db := testutil.OpenTestDB(t)
	logger := testutil.TestLogger(t)
	prs := store.NewPullRequestRepository(db, logger)
	q := queue.New(db, logger)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	row := seedPR(t, prs, "802", 1)
	pool := New(q, prs, Config{ChatEnabled: true, WebhookURL: srv.URL}, logger)

	if _, err := q.Enqueue(context.Background(), queue.QueuePRNotifyChat, queue.JobNamePRNotification, queue.PRNotifyChatPayload{PullRequestID: row.ID, Number: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claimed, err := q.Claim(context.Background(), queue.QueuePRNotifyChat, "worker-1")
	if err != nil || claimed == nil {
		t.Fatalf("claim: job=%v err=%v", claimed, err)
	}

	pool.process("worker-1", claimed)

	remaining, err := q.Claim(context.Background(), queue.QueuePRNotifyChat, "worker-2")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if remaining != nil {
		t.Error("expected the job to be acknowledged (not retried) despite delivery failure")
	}
}
