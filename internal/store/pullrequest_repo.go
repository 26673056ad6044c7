package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/prsentry/prsentry/internal/apperrors"
)

// PullRequestFilter restricts FindPRsByUser.
type PullRequestFilter struct {
	Status string // empty = any
}

// Page is a simple offset/limit page request.
type Page struct {
	Offset int
	Limit  int
}

// PullRequestRepository is the data access layer for PullRequest.
type PullRequestRepository interface {
	GetPR(ctx context.Context, installationID int64, repoID string, number int) (*PullRequest, error)
	GetPRByID(ctx context.Context, id string) (*PullRequest, error)

	// UpsertPR is atomic by the (repoId, number) unique key: it inserts a
	// new row with setOnInsert's fields merged with patch, or updates the
	// existing row's patch fields. Returns the resulting row and whether
	// it was newly created.
	UpsertPR(ctx context.Context, repoID string, number int, patch PullRequestPatch, setOnInsert PullRequestSetOnInsert) (*PullRequest, bool, error)

	FindPRsByUser(ctx context.Context, user *User, filter PullRequestFilter, page Page) ([]PullRequest, error)
	CountPRsByInstallationAndRepo(ctx context.Context, installationID int64, repoID string) (int64, error)

	// UpdateAnalysis persists the Analyzer's output fields independently
	// of the summary call outcome.
	UpdateAnalysis(ctx context.Context, id string, labels, flags []string, score int, stats DiffStats) error

	// UpdateSummarySuccess and UpdateSummaryError are the single-save
	// outcomes of the generative-model call.
	UpdateSummarySuccess(ctx context.Context, id string, summary Summary) error
	UpdateSummaryError(ctx context.Context, id string, message string) error

	UpdateStatus(ctx context.Context, installationID int64, repoID string, number int, status string, merged bool) error
	Reopen(ctx context.Context, installationID int64, repoID string, number int) error
	SetChatMessageTs(ctx context.Context, id string, ts string) error
}

// PullRequestPatch carries the mutable fields a webhook upsert sets
// unconditionally.
type PullRequestPatch struct {
	Title        string
	Author       string
	BranchFrom   string
	BranchTo     string
	Status       string
	FilesChanged []FileChangeRecord
}

// PullRequestSetOnInsert carries the identity fields only set when the
// upsert creates a new row.
type PullRequestSetOnInsert struct {
	InstallationID int64
	UserID         *string
	RepoFullName   string
}

type pullRequestRepository struct {
	db     *gorm.DB
	logger *zap.SugaredLogger
}

func NewPullRequestRepository(db *gorm.DB, logger *zap.SugaredLogger) PullRequestRepository {
	return &pullRequestRepository{db: db, logger: logger}
}

func (r *pullRequestRepository) GetPR(ctx context.Context, installationID int64, repoID string, number int) (*PullRequest, error) {
	var pr PullRequest
	err := r.db.WithContext(ctx).
		Where("installation_id = ? AND repo_id = ? AND number = ?", installationID, repoID, number).
		First(&pr).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.NotFound, "pull request not found")
		}
		r.logger.Errorw("GetPR database error", "repo_id", repoID, "number", number, "error", err)
		return nil, err
	}
	return &pr, nil
}

func (r *pullRequestRepository) GetPRByID(ctx context.Context, id string) (*PullRequest, error) {
	var pr PullRequest
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&pr).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.NotFound, "pull request not found")
		}
		r.logger.Errorw("GetPRByID database error", "id", id, "error", err)
		return nil, err
	}
	return &pr, nil
}

// UpsertPR uses GORM's clause.OnConflict against the (repo_id, number)
// unique index: the insert attempt and the conflict-triggered update
// happen as one atomic statement, so two concurrent webhook deliveries
// for the same PR never race through a read-then-write window.
func (r *pullRequestRepository) UpsertPR(ctx context.Context, repoID string, number int, patch PullRequestPatch, setOnInsert PullRequestSetOnInsert) (*PullRequest, bool, error) {
	row := PullRequest{
		ID:             uuid.NewString(),
		InstallationID: setOnInsert.InstallationID,
		RepoID:         repoID,
		Number:         number,
		UserID:         setOnInsert.UserID,
		RepoFullName:   setOnInsert.RepoFullName,
		Title:          patch.Title,
		Author:         patch.Author,
		BranchFrom:     patch.BranchFrom,
		BranchTo:       patch.BranchTo,
		Status:         patch.Status,
		FilesChanged:   NewJSONColumn(patch.FilesChanged),
		SummaryStatus:  string(SummaryStatusPending),
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "repo_id"}, {Name: "number"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "author", "branch_from", "branch_to", "status", "files_changed", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		r.logger.Errorw("UpsertPR database error", "repo_id", repoID, "number", number, "error", err)
		return nil, false, err
	}

	final, err := r.GetPR(ctx, setOnInsert.InstallationID, repoID, number)
	if err != nil {
		return nil, false, err
	}
	created := final.ID == row.ID
	return final, created, nil
}

func (r *pullRequestRepository) FindPRsByUser(ctx context.Context, user *User, filter PullRequestFilter, page Page) ([]PullRequest, error) {
	if len(user.InstallationIDs.Val) == 0 {
		return []PullRequest{}, nil
	}
	q := r.db.WithContext(ctx).Where("installation_id IN ?", user.InstallationIDs.Val)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if page.Limit > 0 {
		q = q.Limit(page.Limit).Offset(page.Offset)
	}

	var prs []PullRequest
	if err := q.Order("created_at DESC").Find(&prs).Error; err != nil {
		r.logger.Errorw("FindPRsByUser database error", "user_id", user.ID, "error", err)
		return nil, err
	}
	return prs, nil
}

func (r *pullRequestRepository) CountPRsByInstallationAndRepo(ctx context.Context, installationID int64, repoID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&PullRequest{}).
		Where("installation_id = ? AND repo_id = ?", installationID, repoID).
		Count(&count).Error
	return count, err
}

func (r *pullRequestRepository) UpdateAnalysis(ctx context.Context, id string, labels, flags []string, score int, stats DiffStats) error {
	return r.db.WithContext(ctx).Model(&PullRequest{}).Where("id = ?", id).Updates(map[string]any{
		"system_labels": NewJSONColumn(labels),
		"risk_flags":    NewJSONColumn(flags),
		"risk_score":    score,
		"diff_stats":    NewJSONColumn(stats),
	}).Error
}

func (r *pullRequestRepository) UpdateSummarySuccess(ctx context.Context, id string, summary Summary) error {
	return r.db.WithContext(ctx).Model(&PullRequest{}).Where("id = ?", id).Updates(map[string]any{
		"summary":            NewJSONColumn(&summary),
		"summary_status":     string(SummaryStatusReady),
		"summary_error":      nil,
		"last_summarized_at": summary.CreatedAt,
	}).Error
}

func (r *pullRequestRepository) UpdateSummaryError(ctx context.Context, id string, message string) error {
	if len(message) > 500 {
		message = message[:500]
	}
	return r.db.WithContext(ctx).Model(&PullRequest{}).Where("id = ?", id).Updates(map[string]any{
		"summary_status": string(SummaryStatusError),
		"summary_error":  message,
	}).Error
}

func (r *pullRequestRepository) UpdateStatus(ctx context.Context, installationID int64, repoID string, number int, status string, merged bool) error {
	final := status
	if merged {
		final = string(PRStatusMerged)
	}
	res := r.db.WithContext(ctx).Model(&PullRequest{}).
		Where("installation_id = ? AND repo_id = ? AND number = ?", installationID, repoID, number).
		Update("status", final)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.New(apperrors.NotFound, "pull request not found")
	}
	return nil
}

func (r *pullRequestRepository) Reopen(ctx context.Context, installationID int64, repoID string, number int) error {
	res := r.db.WithContext(ctx).Model(&PullRequest{}).
		Where("installation_id = ? AND repo_id = ? AND number = ?", installationID, repoID, number).
		Updates(map[string]any{
			"status":         string(PRStatusOpen),
			"summary_status": string(SummaryStatusPending),
			"summary_error":  nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.New(apperrors.NotFound, "pull request not found")
	}
	return nil
}

func (r *pullRequestRepository) SetChatMessageTs(ctx context.Context, id string, ts string) error {
	return r.db.WithContext(ctx).Model(&PullRequest{}).Where("id = ?", id).Update("chat_message_ts", ts).Error
}
