package summaryworker

import (
	"context"
	"testing"

	"github.com/prsentry/prsentry/internal/genmodel"
	"github.com/prsentry/prsentry/internal/ghclient"
	"github.com/prsentry/prsentry/internal/queue"
	"github.com/prsentry/prsentry/internal/store"
	"github.com/prsentry/prsentry/internal/testutil"
)

type fakeGHClient struct {
	pr    *ghclient.PR
	files []ghclient.PRFile
	err   error
}

func (f *fakeGHClient) GetPR(ctx context.Context, installationID int64, ownerRepo string, number int) (*ghclient.PR, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pr, nil
}

func (f *fakeGHClient) ListPRFiles(ctx context.Context, installationID int64, ownerRepo string, number int) ([]ghclient.PRFile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.files, nil
}

type fakeGenModel struct {
	out *genmodel.Output
	err error
}

func (f *fakeGenModel) Summarize(ctx context.Context, in genmodel.Input) (*genmodel.Output, error) {
	return f.out, f.err
}

func TestProcessPRSummarizesAndEnqueuesNotification(t *testing.T) {
	if testing.Short() {
		t.Skip("requires Docker for a disposable Postgres container")
	}
	db := testutil.OpenTestDB(t)
	logger := testutil.TestLogger(t)
	prs := store.NewPullRequestRepository(db, logger)
	q := queue.New(db, logger)

	row, _, err := prs.UpsertPR(context.Background(), "700", 1,
		store.PullRequestPatch{Title: "Add rate limiting", Author: "octocat", Status: "open"},
		store.PullRequestSetOnInsert{InstallationID: 1, RepoFullName: "acme/widgets"})
	if err != nil {
		t.Fatalf("seed pr: %v", err)
	}

	gh := &fakeGHClient{
		pr:    &ghclient.PR{Title: "Add rate limiting"},
		files: []ghclient.PRFile{{Filename: "main.go", Additions: 3}},
	}
	model := &fakeGenModel{out: &genmodel.Output{TLDR: "Adds a token bucket limiter", Risks: []string{"none"}, Labels: []string{"feature"}}}

	pool := New(q, prs, gh, model, Config{ChatEnabled: true, ChatRiskThreshold: 1000}, logger)

	err = pool.processPR(context.Background(), "test-worker", queue.JobNameGenerate, queue.PRSummaryPayload{
		PullRequestID:  row.ID,
		InstallationID: 1,
		RepoFullName:   "acme/widgets",
		Number:         1,
	})
	if err != nil {
		t.Fatalf("processPR: %v", err)
	}

	got, err := prs.GetPRByID(context.Background(), row.ID)
	if err != nil {
		t.Fatalf("get pr: %v", err)
	}
	if got.SummaryStatus != string(store.SummaryStatusReady) || got.Summary.Val == nil {
		t.Fatalf("expected a ready summary, got %+v", got)
	}
	if got.Summary.Val.TLDR != "Adds a token bucket limiter" {
		t.Errorf("unexpected tldr: %s", got.Summary.Val.TLDR)
	}

	job, err := q.Claim(context.Background(), queue.QueuePRNotifyChat, "notify-test")
	if err != nil {
		t.Fatalf("claim notify job: %v", err)
	}
	if job == nil {
		t.Fatal("expected a pr-notify-chat job to have been enqueued on becoming ready")
	}
}

func TestProcessPRRecordsModelFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("requires Docker for a disposable Postgres container")
	}
	db := testutil.OpenTestDB(t)
	logger := testutil.TestLogger(t)
	prs := store.NewPullRequestRepository(db, logger)
	q := queue.New(db, logger)

	row, _, err := prs.UpsertPR(context.Background(), "701", 1,
		store.PullRequestPatch{Title: "t", Status: "open"},
		store.PullRequestSetOnInsert{InstallationID: 1, RepoFullName: "acme/widgets"})
	if err != nil {
		t.Fatalf("seed pr: %v", err)
	}

	gh := &fakeGHClient{pr: &ghclient.PR{}}
	model := &fakeGenModel{err: context.DeadlineExceeded}
	pool := New(q, prs, gh, model, Config{}, logger)

	err = pool.processPR(context.Background(), "test-worker", queue.JobNameGenerate, queue.PRSummaryPayload{
		PullRequestID:  row.ID,
		InstallationID: 1,
		RepoFullName:   "acme/widgets",
		Number:         1,
	})
	if err != nil {
		t.Fatalf("processPR: %v", err)
	}

	got, err := prs.GetPRByID(context.Background(), row.ID)
	if err != nil {
		t.Fatalf("get pr: %v", err)
	}
	if got.SummaryStatus != string(store.SummaryStatusError) || got.SummaryError == nil {
		t.Errorf("expected a recorded summary error, got %+v", got)
	}
}

func TestProcessPRDedupsAlreadyReady(t *testing.T) {
	if testing.Short() {
		t.Skip("requires Docker for a disposable Postgres container")
	}
	db := testutil.OpenTestDB(t)
	logger := testutil.TestLogger(t)
	prs := store.NewPullRequestRepository(db, logger)
	q := queue.New(db, logger)

	row, _, err := prs.UpsertPR(context.Background(), "702", 1,
		store.PullRequestPatch{Title: "t", Status: "open"},
		store.PullRequestSetOnInsert{InstallationID: 1, RepoFullName: "acme/widgets"})
	if err != nil {
		t.Fatalf("seed pr: %v", err)
	}
	if err := prs.UpdateSummarySuccess(context.Background(), row.ID, store.Summary{TLDR: "already done"}); err != nil {
		t.Fatalf("seed summary: %v", err)
	}

	callCount := 0
	gh := &fakeGHClientCounter{fakeGHClient: fakeGHClient{pr: &ghclient.PR{}}, calls: &callCount}
	model := &fakeGenModel{}
	pool := New(q, prs, gh, model, Config{}, logger)

	if err := pool.processPR(context.Background(), "test-worker", queue.JobNameGenerate, queue.PRSummaryPayload{
		PullRequestID:  row.ID,
		InstallationID: 1,
		RepoFullName:   "acme/widgets",
		Number:         1,
	}); err != nil {
		t.Fatalf("processPR: %v", err)
	}

	if callCount != 0 {
		t.Errorf("expected the already-ready PR to be deduped without fetching files, got %d calls", callCount)
	}
}

type fakeGHClientCounter struct {
	fakeGHClient
	calls *int
}

func (f *fakeGHClientCounter) ListPRFiles(ctx context.Context, installationID int64, ownerRepo string, number int) ([]ghclient.PRFile, error) {
	*f.calls++
	return f.fakeGHClient.files, f.fakeGHClient.err
}
