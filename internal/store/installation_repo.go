package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/prsentry/prsentry/internal/apperrors"
)

// InstallationRepository is the data access layer for Installation.
type InstallationRepository interface {
	// GetByInstallationID finds an Installation by its natural key.
	GetByInstallationID(ctx context.Context, installationID int64) (*Installation, error)

	// Create inserts a new Installation. Returns apperrors.NotFound-free;
	// callers should check GetByInstallationID first per the webhook
	// receiver's "skip if exists" rule.
	Create(ctx context.Context, inst *Installation) error

	// AppendRepositories appends repos to an existing Installation's list.
	AppendRepositories(ctx context.Context, installationID int64, repos []RepoRef) error

	// RemoveRepositories filters out repos whose RepoID is in repoIDs.
	RemoveRepositories(ctx context.Context, installationID int64, repoIDs []string) error

	// MarkSuspended sets suspendedAt on the Installation and removes its
	// id from every User's installationIds, atomically.
	MarkSuspended(ctx context.Context, installationID int64) error
}

type installationRepository struct {
	db     *gorm.DB
	logger *zap.SugaredLogger
}

func NewInstallationRepository(db *gorm.DB, logger *zap.SugaredLogger) InstallationRepository {
	return &installationRepository{db: db, logger: logger}
}

func (r *installationRepository) GetByInstallationID(ctx context.Context, installationID int64) (*Installation, error) {
	var inst Installation
	err := r.db.WithContext(ctx).Where("installation_id = ?", installationID).First(&inst).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.NotFound, "installation not found")
		}
		r.logger.Errorw("GetByInstallationID database error", "installation_id", installationID, "error", err)
		return nil, err
	}
	return &inst, nil
}

func (r *installationRepository) Create(ctx context.Context, inst *Installation) error {
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(inst).Error; err != nil {
		r.logger.Errorw("Create installation failed", "installation_id", inst.InstallationID, "error", err)
		return err
	}
	return nil
}

func (r *installationRepository) AppendRepositories(ctx context.Context, installationID int64, repos []RepoRef) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inst Installation
		if err := tx.Where("installation_id = ?", installationID).First(&inst).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.New(apperrors.NotFound, "installation not found")
			}
			return err
		}
		inst.Repositories.Val = append(inst.Repositories.Val, repos...)
		return tx.Model(&Installation{}).Where("id = ?", inst.ID).Update("repositories", inst.Repositories).Error
	})
}

func (r *installationRepository) RemoveRepositories(ctx context.Context, installationID int64, repoIDs []string) error {
	remove := make(map[string]bool, len(repoIDs))
	for _, id := range repoIDs {
		remove[id] = true
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inst Installation
		if err := tx.Where("installation_id = ?", installationID).First(&inst).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.New(apperrors.NotFound, "installation not found")
			}
			return err
		}
		kept := make([]RepoRef, 0, len(inst.Repositories.Val))
		for _, repo := range inst.Repositories.Val {
			if !remove[repo.RepoID] {
				kept = append(kept, repo)
			}
		}
		inst.Repositories.Val = kept
		return tx.Model(&Installation{}).Where("id = ?", inst.ID).Update("repositories", inst.Repositories).Error
	})
}

// MarkSuspended sets suspendedAt and strips the installation id from
// every user's installationIds inside one transaction, so the two
// writes are atomically consistent with each other.
func (r *installationRepository) MarkSuspended(ctx context.Context, installationID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		res := tx.Model(&Installation{}).Where("installation_id = ?", installationID).Update("suspended_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.New(apperrors.NotFound, "installation not found")
		}

		var users []User
		if err := tx.Where("installation_ids @> ?::jsonb", fmt.Sprintf("[%d]", installationID)).Find(&users).Error; err != nil {
			return err
		}
		for _, u := range users {
			filtered := make([]int64, 0, len(u.InstallationIDs.Val))
			changed := false
			for _, id := range u.InstallationIDs.Val {
				if id == installationID {
					changed = true
					continue
				}
				filtered = append(filtered, id)
			}
			if !changed {
				continue
			}
			u.InstallationIDs.Val = filtered
			if err := tx.Model(&User{}).Where("id = ?", u.ID).Update("installation_ids", u.InstallationIDs).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
