package store

import "time"

// RepoRef is one entry in an Installation's repository list.
type RepoRef struct {
	RepoID       string    `json:"repoId"`
	RepoFullName string    `json:"repoFullName"`
	Private      bool      `json:"private"`
	InstalledAt  time.Time `json:"installedAt"`
}

// AccountType enumerates who an Installation belongs to.
type AccountType string

const (
	AccountTypeUser         AccountType = "user"
	AccountTypeOrganization AccountType = "organization"
)

// Installation is the tenancy unit granted by the platform.
type Installation struct {
	ID               string `gorm:"primaryKey;column:id;type:uuid"`
	InstallationID   int64  `gorm:"column:installation_id;uniqueIndex;not null"`
	AccountType      string `gorm:"column:account_type;not null"`
	AccountLogin     string `gorm:"column:account_login;not null"`
	AccountAvatarURL string `gorm:"column:account_avatar_url"`

	Repositories JSONColumn[[]RepoRef] `gorm:"column:repositories;type:jsonb;not null;default:'[]'"`

	SuspendedAt *time.Time `gorm:"column:suspended_at"`

	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()"`
}

func (Installation) TableName() string { return "installations" }

// Role enumerates a User's access level.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

// User is an authenticated human, linked to zero or more Installations.
type User struct {
	ID         string `gorm:"primaryKey;column:id;type:uuid"`
	PlatformID int64  `gorm:"column:platform_id;uniqueIndex;not null"`
	Username   string `gorm:"column:username;not null"`
	Email      string `gorm:"column:email"`
	AvatarURL  string `gorm:"column:avatar_url"`

	InstallationIDs JSONColumn[[]int64] `gorm:"column:installation_ids;type:jsonb;not null;default:'[]'"`

	Role        string     `gorm:"column:role;not null;default:viewer"`
	LastLoginAt *time.Time `gorm:"column:last_login_at"`

	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()"`
}

func (User) TableName() string { return "users" }

// PRStatus enumerates a PullRequest's lifecycle state.
type PRStatus string

const (
	PRStatusOpen   PRStatus = "open"
	PRStatusClosed PRStatus = "closed"
	PRStatusMerged PRStatus = "merged"
)

// SummaryStatus enumerates the state of a PullRequest's generative summary.
type SummaryStatus string

const (
	SummaryStatusPending SummaryStatus = "pending"
	SummaryStatusReady   SummaryStatus = "ready"
	SummaryStatusError   SummaryStatus = "error"
)

// FileChangeRecord is the persisted shape of a changed file — no patch
// body, since that is only needed transiently during analysis.
type FileChangeRecord struct {
	Filename  string `json:"filename"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// Summary is the generative model's structured output, persisted once
// a PullRequest transitions to summaryStatus=ready.
type Summary struct {
	TLDR      string    `json:"tldr"`
	Risks     []string  `json:"risks"`
	Labels    []string  `json:"labels"`
	CreatedAt time.Time `json:"createdAt"`
}

// DiffStats is the Analyzer's aggregate view of a PullRequest's diff.
type DiffStats struct {
	TotalAdditions    int `json:"totalAdditions"`
	TotalDeletions    int `json:"totalDeletions"`
	ChangedFilesCount int `json:"changedFilesCount"`
}

// PullRequest is the primary domain entity.
type PullRequest struct {
	ID             string `gorm:"primaryKey;column:id;type:uuid"`
	InstallationID int64  `gorm:"column:installation_id;not null;index;index:idx_pr_installation_status,priority:1"`
	RepoID         string `gorm:"column:repo_id;not null;uniqueIndex:idx_pr_repo_number"`
	Number         int    `gorm:"column:number;not null;uniqueIndex:idx_pr_repo_number"`

	UserID *string `gorm:"column:user_id"`

	RepoFullName string `gorm:"column:repo_full_name;not null"`
	Title        string `gorm:"column:title;not null"`
	Author       string `gorm:"column:author;not null"`
	BranchFrom   string `gorm:"column:branch_from"`
	BranchTo     string `gorm:"column:branch_to"`
	Status       string `gorm:"column:status;not null;index:idx_pr_installation_status,priority:2"`

	FilesChanged JSONColumn[[]FileChangeRecord] `gorm:"column:files_changed;type:jsonb;not null;default:'[]'"`

	Summary          JSONColumn[*Summary] `gorm:"column:summary;type:jsonb"`
	SummaryStatus    string               `gorm:"column:summary_status;not null;default:pending"`
	SummaryError     *string              `gorm:"column:summary_error"`
	LastSummarizedAt *time.Time           `gorm:"column:last_summarized_at"`

	SystemLabels JSONColumn[[]string] `gorm:"column:system_labels;type:jsonb;not null;default:'[]'"`
	RiskFlags    JSONColumn[[]string] `gorm:"column:risk_flags;type:jsonb;not null;default:'[]'"`
	RiskScore    int                  `gorm:"column:risk_score;not null;default:0"`
	DiffStats    JSONColumn[DiffStats] `gorm:"column:diff_stats;type:jsonb;not null;default:'{}'"`

	ChatMessageTs *string `gorm:"column:chat_message_ts"`

	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()"`
}

func (PullRequest) TableName() string { return "pull_requests" }
