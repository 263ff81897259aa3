package repository

import (
	"context"

	"github.com/damoang/angple-social/internal/domain"
	"gorm.io/gorm"
)

// UserRepository read-only access to user display data
type UserRepository interface {
	FindByID(ctx context.Context, id string) (*domain.UserProfile, error)
	FindByIDs(ctx context.Context, ids []string) ([]*domain.UserProfile, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// FindByID finds a user profile by ID
func (r *userRepository) FindByID(ctx context.Context, id string) (*domain.UserProfile, error) {
	var user domain.UserProfile
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByIDs returns the profiles found among ids
func (r *userRepository) FindByIDs(ctx context.Context, ids []string) ([]*domain.UserProfile, error) {
	var users []*domain.UserProfile
	if len(ids) == 0 {
		return users, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error
	return users, err
}
