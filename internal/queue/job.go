// Package queue implements the at-least-once job queue the Summary and
// Notification Workers consume from. It is realized as a `jobs` table in
// the same Postgres database as the Durable Store, claimed with `SELECT
// ... FOR UPDATE SKIP LOCKED` — the idiomatic Postgres substitute for a
// dedicated broker, generalizing the single-writer claim-by-subselect
// pattern a SQLite-backed job table would use to one that is safe for
// multiple concurrent worker processes.
package queue

import (
	"encoding/json"
	"time"
)

// Queue names.
const (
	QueuePRSummary    = "pr-summary"
	QueuePRNotifyChat = "pr-notify-chat"
)

// Logical job names workers branch on.
const (
	JobNameGenerate       = "generate"
	JobNameRegenerate     = "regenerate"
	JobNamePRNotification = "pr-notification"
)

// Status values a Job can hold.
const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Job is one row of the jobs table: queue name, logical name, opaque
// JSON payload, and at-least-once delivery bookkeeping.
type Job struct {
	ID          string          `gorm:"primaryKey;column:id;type:uuid"`
	QueueName   string          `gorm:"column:queue_name;not null"`
	Name        string          `gorm:"column:name;not null"`
	Data        json.RawMessage `gorm:"column:data;type:jsonb;not null"`
	Status      string          `gorm:"column:status;not null;default:queued"`
	Attempts    int             `gorm:"column:attempts;not null;default:0"`
	MaxAttempts int             `gorm:"column:max_attempts;not null;default:3"`
	RunAt       time.Time       `gorm:"column:run_at;not null"`
	ClaimedAt   *time.Time      `gorm:"column:claimed_at"`
	ClaimedBy   string          `gorm:"column:claimed_by"`
	CompletedAt *time.Time      `gorm:"column:completed_at"`
	FailedAt    *time.Time      `gorm:"column:failed_at"`
	LastError   string          `gorm:"column:last_error"`
	CreatedAt   time.Time       `gorm:"column:created_at;not null;default:now()"`
}

func (Job) TableName() string { return "jobs" }

// PRSummaryPayload is the pr-summary queue's job data.
type PRSummaryPayload struct {
	PullRequestID  string `json:"pullRequestId"`
	InstallationID int64  `json:"installationId"`
	RepoFullName   string `json:"repoFullName"`
	Number         int    `json:"number"`
}

// PRNotifyChatPayload is the pr-notify-chat queue's job data — a fully
// materialized notification record, so the worker never touches the
// Durable Store except to write back chatMessageTs.
type PRNotifyChatPayload struct {
	PullRequestID string   `json:"pullRequestId"`
	RepoFullName  string   `json:"repoFullName"`
	Number        int      `json:"number"`
	Title         string   `json:"title"`
	Author        string   `json:"author"`
	TLDR          string   `json:"tldr"`
	RiskScore     int      `json:"riskScore"`
	MainRiskFlags []string `json:"mainRiskFlags"`
	SystemLabels  []string `json:"systemLabels"`
	HTMLURL       string   `json:"htmlUrl"`
	DashboardURL  string   `json:"dashboardUrl,omitempty"`
}
