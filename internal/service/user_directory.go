package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/damoang/angple-social/internal/common"
	"github.com/damoang/angple-social/internal/domain"
	"github.com/damoang/angple-social/internal/repository"
	"github.com/damoang/angple-social/pkg/cache"
	"github.com/damoang/angple-social/pkg/logger"
	"gorm.io/gorm"
)

// UserDirectory resolves user display data for chat enrichment
type UserDirectory interface {
	Profile(ctx context.Context, id string) (*domain.UserProfile, error)
	Profiles(ctx context.Context, ids ...string) (map[string]*domain.UserProfile, error)
}

type userDirectory struct {
	repo  repository.UserRepository
	cache cache.Service
}

// NewUserDirectory creates a UserDirectory. cacheSvc may be nil.
func NewUserDirectory(repo repository.UserRepository, cacheSvc cache.Service) UserDirectory {
	return &userDirectory{repo: repo, cache: cacheSvc}
}

// Profile returns a single profile or ErrUserNotFound
func (d *userDirectory) Profile(ctx context.Context, id string) (*domain.UserProfile, error) {
	var cached domain.UserProfile
	if d.cache != nil && d.cache.GetUser(ctx, id, &cached) == nil {
		return &cached, nil
	}

	user, err := d.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", common.ErrUserNotFound, id)
		}
		return nil, fmt.Errorf("%w: %v", common.ErrStore, err)
	}
	d.remember(ctx, user)
	return user, nil
}

// Profiles returns a profile for every id; unknown users get a placeholder
func (d *userDirectory) Profiles(ctx context.Context, ids ...string) (map[string]*domain.UserProfile, error) {
	result := make(map[string]*domain.UserProfile, len(ids))
	var missing []string
	for _, id := range ids {
		if _, seen := result[id]; seen || id == "" {
			continue
		}
		var cached domain.UserProfile
		if d.cache != nil && d.cache.GetUser(ctx, id, &cached) == nil {
			result[id] = &cached
			continue
		}
		result[id] = nil
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		users, err := d.repo.FindByIDs(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrStore, err)
		}
		for _, u := range users {
			result[u.ID] = u
			d.remember(ctx, u)
		}
	}

	for id, p := range result {
		if p == nil {
			result[id] = domain.UnknownProfile(id)
		}
	}
	return result, nil
}

func (d *userDirectory) remember(ctx context.Context, user *domain.UserProfile) {
	if d.cache == nil {
		return
	}
	if err := d.cache.SetUser(ctx, user.ID, user); err != nil {
		logger.Warn("user cache set failed for %s: %v", user.ID, err)
	}
}
