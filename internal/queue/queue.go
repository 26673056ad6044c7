package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultMaxAttempts  = 3
	initialBackoff      = 2 * time.Second
	completionRetention = 24 * time.Hour
	deadLetterRetention = 7 * 24 * time.Hour
	defaultStallBound   = 10 * time.Minute
)

// Queue is the at-least-once job queue backing the Summary and
// Notification Workers.
type Queue struct {
	db     *gorm.DB
	logger *zap.SugaredLogger
}

func New(db *gorm.DB, logger *zap.SugaredLogger) *Queue {
	return &Queue{db: db, logger: logger}
}

// Enqueue inserts a new job, runnable immediately.
func (q *Queue) Enqueue(ctx context.Context, queueName, name string, data any) (*Job, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	job := &Job{
		ID:          uuid.NewString(),
		QueueName:   queueName,
		Name:        name,
		Data:        raw,
		Status:      StatusQueued,
		MaxAttempts: defaultMaxAttempts,
		RunAt:       time.Now(),
	}
	if err := q.db.WithContext(ctx).Create(job).Error; err != nil {
		q.logger.Errorw("Enqueue failed", "queue", queueName, "name", name, "error", err)
		return nil, err
	}
	return job, nil
}

// Claim atomically claims the oldest runnable job on queueName for
// workerID, using SELECT ... FOR UPDATE SKIP LOCKED so concurrent
// workers never claim the same row. Returns nil, nil when nothing is
// available.
func (q *Queue) Claim(ctx context.Context, queueName, workerID string) (*Job, error) {
	var claimed *Job

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job Job
		err := tx.Raw(`
			SELECT * FROM jobs
			WHERE queue_name = ? AND status = ? AND run_at <= now()
			ORDER BY run_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		`, queueName, StatusQueued).Scan(&job).Error
		if err != nil {
			return err
		}
		if job.ID == "" {
			return nil // nothing available
		}

		now := time.Now()
		res := tx.Model(&Job{}).Where("id = ?", job.ID).Updates(map[string]any{
			"status":     StatusRunning,
			"claimed_at": now,
			"claimed_by": workerID,
			"attempts":   job.Attempts + 1,
		})
		if res.Error != nil {
			return res.Error
		}
		job.Status = StatusRunning
		job.ClaimedAt = &now
		job.ClaimedBy = workerID
		job.Attempts++
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Complete marks a job done. Only updates rows still running, so a job
// requeued out from under a slow worker (stalled-job reaper) isn't
// double-acknowledged.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	now := time.Now()
	return q.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", jobID, StatusRunning).
		Updates(map[string]any{"status": StatusDone, "completed_at": now}).Error
}

// Fail records a job failure. If the error is non-retryable or
// attempts have exhausted maxAttempts, the job is moved to the
// dead-letter state; otherwise it's requeued with exponential backoff
// starting at initialBackoff.
func (q *Queue) Fail(ctx context.Context, job *Job, retryable bool, cause error) error {
	now := time.Now()
	message := ""
	if cause != nil {
		message = cause.Error()
	}

	if !retryable || job.Attempts >= job.MaxAttempts {
		return q.db.WithContext(ctx).Model(&Job{}).
			Where("id = ? AND status = ?", job.ID, StatusRunning).
			Updates(map[string]any{
				"status":     StatusFailed,
				"failed_at":  now,
				"last_error": message,
			}).Error
	}

	backoff := initialBackoff * time.Duration(1<<uint(job.Attempts-1))
	return q.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", job.ID, StatusRunning).
		Updates(map[string]any{
			"status":     StatusQueued,
			"run_at":     now.Add(backoff),
			"claimed_at": nil,
			"claimed_by": "",
			"last_error": message,
		}).Error
}

// Depth counts the runnable (queued) jobs on queueName, for the /health
// handler's queue component.
func (q *Queue) Depth(ctx context.Context, queueName string) (int64, error) {
	var count int64
	err := q.db.WithContext(ctx).Model(&Job{}).
		Where("queue_name = ? AND status = ?", queueName, StatusQueued).
		Count(&count).Error
	return count, err
}

// DeadLetters lists exhausted jobs on a queue for operator triage.
func (q *Queue) DeadLetters(ctx context.Context, queueName string) ([]Job, error) {
	var jobs []Job
	err := q.db.WithContext(ctx).
		Where("queue_name = ? AND status = ?", queueName, StatusFailed).
		Order("failed_at DESC").
		Find(&jobs).Error
	return jobs, err
}

// Reap requeues jobs that have been claimed longer than the stall
// bound without completing — a worker that crashed or hung mid-job.
func (q *Queue) Reap(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-defaultStallBound)
	res := q.db.WithContext(ctx).Model(&Job{}).
		Where("status = ? AND claimed_at < ?", StatusRunning, cutoff).
		Updates(map[string]any{
			"status":     StatusQueued,
			"claimed_at": nil,
			"claimed_by": "",
			"run_at":     time.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		q.logger.Warnw("reaped stalled jobs", "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

// PurgeRetention deletes jobs past their retention window: completed
// jobs older than 24h, failed (dead-letter) jobs older than 7d.
func (q *Queue) PurgeRetention(ctx context.Context) error {
	if err := q.db.WithContext(ctx).
		Where("status = ? AND completed_at < ?", StatusDone, time.Now().Add(-completionRetention)).
		Delete(&Job{}).Error; err != nil {
		return err
	}
	return q.db.WithContext(ctx).
		Where("status = ? AND failed_at < ?", StatusFailed, time.Now().Add(-deadLetterRetention)).
		Delete(&Job{}).Error
}

// RunReaper runs Reap and PurgeRetention on a ticker until ctx is done.
func (q *Queue) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.Reap(ctx); err != nil && !errors.Is(err, context.Canceled) {
				q.logger.Errorw("reap failed", "error", err)
			}
			if err := q.PurgeRetention(ctx); err != nil && !errors.Is(err, context.Canceled) {
				q.logger.Errorw("purge retention failed", "error", err)
			}
		}
	}
}
