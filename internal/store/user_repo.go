package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/prsentry/prsentry/internal/apperrors"
)

// UserRepository is the data access layer for User.
type UserRepository interface {
	GetByPlatformID(ctx context.Context, platformID int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	Create(ctx context.Context, u *User) error

	// AddInstallation adds installationID to a User's installationIds set.
	// A no-op if it is already present.
	AddInstallation(ctx context.Context, userID string, installationID int64) error

	// FindByInstallationIDs returns every User who has any of the given
	// installation ids.
	FindByInstallationIDs(ctx context.Context, installationIDs []int64) ([]User, error)
}

type userRepository struct {
	db     *gorm.DB
	logger *zap.SugaredLogger
}

func NewUserRepository(db *gorm.DB, logger *zap.SugaredLogger) UserRepository {
	return &userRepository{db: db, logger: logger}
}

func (r *userRepository) GetByPlatformID(ctx context.Context, platformID int64) (*User, error) {
	var u User
	err := r.db.WithContext(ctx).Where("platform_id = ?", platformID).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.NotFound, "user not found")
		}
		r.logger.Errorw("GetByPlatformID database error", "platform_id", platformID, "error", err)
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.NotFound, "user not found")
		}
		r.logger.Errorw("GetByUsername database error", "username", username, "error", err)
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *userRepository) AddInstallation(ctx context.Context, userID string, installationID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u User
		if err := tx.Where("id = ?", userID).First(&u).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.New(apperrors.NotFound, "user not found")
			}
			return err
		}
		for _, id := range u.InstallationIDs.Val {
			if id == installationID {
				return nil
			}
		}
		u.InstallationIDs.Val = append(u.InstallationIDs.Val, installationID)
		return tx.Model(&User{}).Where("id = ?", userID).Update("installation_ids", u.InstallationIDs).Error
	})
}

func (r *userRepository) FindByInstallationIDs(ctx context.Context, installationIDs []int64) ([]User, error) {
	if len(installationIDs) == 0 {
		return []User{}, nil
	}
	want := make(map[int64]bool, len(installationIDs))
	for _, id := range installationIDs {
		want[id] = true
	}

	var candidates []User
	if err := r.db.WithContext(ctx).Find(&candidates).Error; err != nil {
		r.logger.Errorw("FindByInstallationIDs database error", "error", err)
		return nil, err
	}

	matched := make([]User, 0, len(candidates))
	for _, u := range candidates {
		for _, id := range u.InstallationIDs.Val {
			if want[id] {
				matched = append(matched, u)
				break
			}
		}
	}
	return matched, nil
}
