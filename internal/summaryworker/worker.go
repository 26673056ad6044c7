// Package summaryworker consumes the pr-summary queue: it fetches a
// pull request's metadata and files through the Credential Broker's
// client, runs the deterministic Analyzer, calls the generative model,
// and conditionally enqueues a chat notification.
package summaryworker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prsentry/prsentry/internal/analyzer"
	"github.com/prsentry/prsentry/internal/apperrors"
	"github.com/prsentry/prsentry/internal/genmodel"
	"github.com/prsentry/prsentry/internal/ghclient"
	"github.com/prsentry/prsentry/internal/queue"
	"github.com/prsentry/prsentry/internal/store"
)

// GHClient is the subset of ghclient.Client this worker depends on.
type GHClient interface {
	GetPR(ctx context.Context, installationID int64, ownerRepo string, number int) (*ghclient.PR, error)
	ListPRFiles(ctx context.Context, installationID int64, ownerRepo string, number int) ([]ghclient.PRFile, error)
}

// GenModel is the subset of genmodel.Client this worker depends on.
type GenModel interface {
	Summarize(ctx context.Context, in genmodel.Input) (*genmodel.Output, error)
}

const defaultPollInterval = 2 * time.Second
const defaultClaimErrorBackoff = 5 * time.Second

// Pool runs the configured number of summary-worker goroutines against
// the pr-summary queue.
type Pool struct {
	queue  *queue.Queue
	prs    store.PullRequestRepository
	gh     GHClient
	model  GenModel
	logger *zap.SugaredLogger

	chatEnabled       bool
	chatRiskThreshold int
	dashboardBaseURL  string

	numWorkers int
	stopCh     chan struct{}
	readyCh    chan struct{}
	startOnce  sync.Once
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

type Config struct {
	NumWorkers        int
	ChatEnabled       bool
	ChatRiskThreshold int
	DashboardBaseURL  string
}

func New(q *queue.Queue, prs store.PullRequestRepository, gh GHClient, model GenModel, cfg Config, logger *zap.SugaredLogger) *Pool {
	numWorkers := cfg.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 5
	}
	return &Pool{
		queue:             q,
		prs:               prs,
		gh:                gh,
		model:             model,
		logger:            logger,
		chatEnabled:       cfg.ChatEnabled,
		chatRiskThreshold: cfg.ChatRiskThreshold,
		dashboardBaseURL:  cfg.DashboardBaseURL,
		numWorkers:        numWorkers,
		stopCh:            make(chan struct{}),
		readyCh:           make(chan struct{}),
	}
}

// Start launches the worker goroutines. Safe to call more than once;
// only the first call has any effect.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Infow("starting summary worker pool", "workers", p.numWorkers)
		p.wg.Add(p.numWorkers)
		close(p.readyCh)
		for i := 0; i < p.numWorkers; i++ {
			go p.run(fmt.Sprintf("summary-worker-%d", i))
		}
	})
}

// Stop signals the workers to exit and waits for them to drain.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		select {
		case <-p.readyCh:
			p.wg.Wait()
		default:
		}
	})
}

func (p *Pool) run(workerID string) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		job, err := p.queue.Claim(context.Background(), queue.QueuePRSummary, workerID)
		if err != nil {
			p.logger.Errorw("claim failed", "worker", workerID, "error", err)
			time.Sleep(defaultClaimErrorBackoff)
			continue
		}
		if job == nil {
			time.Sleep(defaultPollInterval)
			continue
		}

		p.process(workerID, job)
	}
}

func (p *Pool) process(workerID string, job *queue.Job) {
	ctx := context.Background()

	var payload queue.PRSummaryPayload
	if err := json.Unmarshal(job.Data, &payload); err != nil {
		p.logger.Errorw("pr-summary payload malformed", "worker", workerID, "job_id", job.ID, "error", err)
		_ = p.queue.Fail(ctx, job, false, err)
		return
	}

	err := p.processPR(ctx, workerID, job.Name, payload)
	if err == nil {
		if cerr := p.queue.Complete(ctx, job.ID); cerr != nil {
			p.logger.Errorw("complete failed", "worker", workerID, "job_id", job.ID, "error", cerr)
		}
		return
	}

	retryable := apperrors.IsRetryable(err)
	p.logger.Warnw("pr-summary job failed", "worker", workerID, "job_id", job.ID, "pull_request_id", payload.PullRequestID, "retryable", retryable, "error", err)
	if ferr := p.queue.Fail(ctx, job, retryable, err); ferr != nil {
		p.logger.Errorw("fail failed", "worker", workerID, "job_id", job.ID, "error", ferr)
	}
}

// processPR is the 8-step contract: load, dedup check, fetch, analyze,
// summarize, and conditionally notify.
func (p *Pool) processPR(ctx context.Context, workerID, jobName string, payload queue.PRSummaryPayload) error {
	pr, err := p.prs.GetPRByID(ctx, payload.PullRequestID)
	if err != nil {
		p.logger.Warnw("pr-summary: pull request not found", "worker", workerID, "pull_request_id", payload.PullRequestID)
		return apperrors.New(apperrors.NotFound, "pull request not found")
	}

	wasReady := pr.SummaryStatus == string(store.SummaryStatusReady)
	if wasReady && pr.Summary.Val != nil && jobName != queue.JobNameRegenerate {
		p.logger.Debugw("pr-summary: dedup skip", "worker", workerID, "pull_request_id", pr.ID)
		return nil
	}

	files, prMeta, fetchErr := p.fetchPRData(ctx, payload.InstallationID, payload.RepoFullName, payload.Number)
	if fetchErr != nil {
		return fetchErr
	}

	analyzerFiles := make([]analyzer.FileChange, 0, len(files))
	for _, f := range files {
		analyzerFiles = append(analyzerFiles, analyzer.FileChange{
			Filename:  f.Filename,
			Additions: f.Additions,
			Deletions: f.Deletions,
			Patch:     f.Patch,
		})
	}
	analysis := analyzer.Analyze(analyzerFiles)

	if err := p.prs.UpdateAnalysis(ctx, pr.ID, analysis.SystemLabels, analysis.RiskFlags, analysis.RiskScore, store.DiffStats(analysis.DiffStats)); err != nil {
		p.logger.Errorw("UpdateAnalysis failed", "worker", workerID, "pull_request_id", pr.ID, "error", err)
		return err
	}
	p.logger.Infow("analysis complete", "worker", workerID, "pull_request_id", pr.ID,
		"labels", analysis.SystemLabels, "risk_flags", analysis.RiskFlags, "risk_score", analysis.RiskScore)

	title, author, branchFrom, branchTo := pr.Title, pr.Author, pr.BranchFrom, pr.BranchTo
	if prMeta != nil {
		title, author, branchFrom, branchTo = prMeta.Title, prMeta.User.Login, prMeta.Head.Ref, prMeta.Base.Ref
	}

	input := genmodel.BuildInput(title, author, branchFrom, branchTo, analyzerFiles, analysis)
	out, modelErr := p.model.Summarize(ctx, input)
	if modelErr != nil {
		p.logger.Warnw("generative model call failed", "worker", workerID, "pull_request_id", pr.ID, "error", modelErr)
		if uerr := p.prs.UpdateSummaryError(ctx, pr.ID, modelErr.Error()); uerr != nil {
			p.logger.Errorw("UpdateSummaryError failed", "worker", workerID, "pull_request_id", pr.ID, "error", uerr)
			return uerr
		}
	} else {
		summary := store.Summary{TLDR: out.TLDR, Risks: out.Risks, Labels: out.Labels, CreatedAt: time.Now()}
		if uerr := p.prs.UpdateSummarySuccess(ctx, pr.ID, summary); uerr != nil {
			p.logger.Errorw("UpdateSummarySuccess failed", "worker", workerID, "pull_request_id", pr.ID, "error", uerr)
			return uerr
		}
	}

	return p.maybeNotify(ctx, workerID, pr.ID, wasReady, payload)
}

// fetchPRData fetches PR metadata and its changed files concurrently
// through the installation-scoped client.
func (p *Pool) fetchPRData(ctx context.Context, installationID int64, repoFullName string, number int) ([]ghclient.PRFile, *ghclient.PR, error) {
	var (
		wg       sync.WaitGroup
		prMeta   *ghclient.PR
		prErr    error
		files    []ghclient.PRFile
		filesErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		prMeta, prErr = p.gh.GetPR(ctx, installationID, repoFullName, number)
	}()
	go func() {
		defer wg.Done()
		files, filesErr = p.gh.ListPRFiles(ctx, installationID, repoFullName, number)
	}()
	wg.Wait()

	if prErr != nil {
		return nil, nil, prErr
	}
	if filesErr != nil {
		return nil, nil, filesErr
	}
	return files, prMeta, nil
}

func (p *Pool) maybeNotify(ctx context.Context, workerID, prID string, wasReady bool, payload queue.PRSummaryPayload) error {
	pr, err := p.prs.GetPRByID(ctx, prID)
	if err != nil {
		p.logger.Errorw("reload PR after summary failed", "worker", workerID, "pull_request_id", prID, "error", err)
		return nil
	}

	becameReadyNow := !wasReady && pr.SummaryStatus == string(store.SummaryStatusReady)
	highRisk := pr.RiskScore >= p.chatRiskThreshold
	secrets := false
	for _, flag := range pr.RiskFlags.Val {
		if flag == "secrets-suspected" {
			secrets = true
			break
		}
	}
	shouldNotify := p.chatEnabled && (becameReadyNow || highRisk || secrets)
	if !shouldNotify {
		return nil
	}

	tldr := ""
	if pr.Summary.Val != nil {
		tldr = pr.Summary.Val.TLDR
	}

	dashboardURL := ""
	if p.dashboardBaseURL != "" {
		dashboardURL = strings.TrimSuffix(p.dashboardBaseURL, "/") + "/prs/" + pr.ID
	}

	notifyPayload := queue.PRNotifyChatPayload{
		PullRequestID: pr.ID,
		RepoFullName:  pr.RepoFullName,
		Number:        pr.Number,
		Title:         pr.Title,
		Author:        pr.Author,
		TLDR:          tldr,
		RiskScore:     pr.RiskScore,
		MainRiskFlags: pr.RiskFlags.Val,
		SystemLabels:  pr.SystemLabels.Val,
		HTMLURL:       fmt.Sprintf("https://github.com/%s/pull/%d", pr.RepoFullName, pr.Number),
		DashboardURL:  dashboardURL,
	}

	if _, err := p.queue.Enqueue(ctx, queue.QueuePRNotifyChat, queue.JobNamePRNotification, notifyPayload); err != nil {
		p.logger.Errorw("enqueue pr-notify-chat failed", "worker", workerID, "pull_request_id", pr.ID, "error", err)
	}
	return nil
}
