// Package notifyworker consumes the pr-notify-chat queue: it renders a
// chat-provider "blocks" message and delivers it to the configured
// webhook, best-effort. Delivery never retries — a stale notification
// is worse than a missing one, and the queue's retry machinery is
// reserved for the summary path.
package notifyworker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prsentry/prsentry/internal/chatnotify"
	"github.com/prsentry/prsentry/internal/queue"
	"github.com/prsentry/prsentry/internal/store"
)

const defaultPollInterval = 2 * time.Second
const defaultClaimErrorBackoff = 5 * time.Second

type Config struct {
	NumWorkers  int
	ChatEnabled bool
	WebhookURL  string
}

// Pool runs the configured number of notification-worker goroutines
// against the pr-notify-chat queue.
type Pool struct {
	queue  *queue.Queue
	prs    store.PullRequestRepository
	poster *chatnotify.Poster
	logger *zap.SugaredLogger

	chatEnabled bool
	webhookURL  string

	numWorkers int
	stopCh     chan struct{}
	readyCh    chan struct{}
	startOnce  sync.Once
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func New(q *queue.Queue, prs store.PullRequestRepository, cfg Config, logger *zap.SugaredLogger) *Pool {
	numWorkers := cfg.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 5
	}
	return &Pool{
		queue:       q,
		prs:         prs,
		poster:      chatnotify.NewPoster(cfg.WebhookURL, logger),
		logger:      logger,
		chatEnabled: cfg.ChatEnabled,
		webhookURL:  cfg.WebhookURL,
		numWorkers:  numWorkers,
		stopCh:      make(chan struct{}),
		readyCh:     make(chan struct{}),
	}
}

func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Infow("starting notification worker pool", "workers", p.numWorkers)
		p.wg.Add(p.numWorkers)
		close(p.readyCh)
		for i := 0; i < p.numWorkers; i++ {
			go p.run(fmt.Sprintf("notify-worker-%d", i))
		}
	})
}

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

		job, err := p.queue.Claim(context.Background(), queue.QueuePRNotifyChat, workerID)
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

// process implements the 5-step notification contract. Delivery
// failures are logged and swallowed, never propagated to the queue's
// retry path — the job is always acknowledged as complete.
func (p *Pool) process(workerID string, job *queue.Job) {
	ctx := context.Background()

	if !p.chatEnabled || p.webhookURL == "" {
		p.logger.Infow("chat disabled, acknowledging without delivery", "worker", workerID, "job_id", job.ID)
		p.ack(ctx, workerID, job)
		return
	}

	var payload queue.PRNotifyChatPayload
	if err := json.Unmarshal(job.Data, &payload); err != nil {
		p.logger.Errorw("pr-notify-chat payload malformed", "worker", workerID, "job_id", job.ID, "error", err)
		p.ack(ctx, workerID, job)
		return
	}

	msg := chatnotify.BuildMessage(payload)
	if err := p.poster.Post(ctx, msg); err != nil {
		p.logger.Warnw("chat delivery failed", "worker", workerID, "job_id", job.ID, "pull_request_id", payload.PullRequestID, "error", err)
		p.ack(ctx, workerID, job)
		return
	}

	ts := time.Now().UTC().Format(time.RFC3339Nano)
	if err := p.prs.SetChatMessageTs(ctx, payload.PullRequestID, ts); err != nil {
		p.logger.Errorw("SetChatMessageTs failed", "worker", workerID, "pull_request_id", payload.PullRequestID, "error", err)
	}

	p.ack(ctx, workerID, job)
}

func (p *Pool) ack(ctx context.Context, workerID string, job *queue.Job) {
	if err := p.queue.Complete(ctx, job.ID); err != nil {
		p.logger.Errorw("complete failed", "worker", workerID, "job_id", job.ID, "error", err)
	}
}
