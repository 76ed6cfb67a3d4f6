package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"skylift/internal/models"
)

var ErrPostNotFound = errors.New("post not found")

// PostStore is the persistence surface the scheduler, publisher and HTTP
// handlers share. Everything else goes through it so tests can swap in fakes.
type PostStore interface {
	CreatePost(ctx context.Context, post *models.ScheduledPost) error
	GetPost(ctx context.Context, id uint) (*models.ScheduledPost, error)
	ListPosts(ctx context.Context) ([]models.ScheduledPost, error)
	UpdatePost(ctx context.Context, id uint, title *string, scheduledTime *time.Time) (*models.ScheduledPost, error)
	DeletePost(ctx context.Context, id uint) ([]models.PostImage, error)
	DuePosts(ctx context.Context, now time.Time) ([]models.ScheduledPost, error)
	ClaimPost(ctx context.Context, id uint, now time.Time) (bool, error)
	ReleasePost(ctx context.Context, id uint) error
	MarkPosted(ctx context.Context, id uint) error
	AppendAttempt(ctx context.Context, attempt *models.AttemptLog) error
}

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreatePost(ctx context.Context, post *models.ScheduledPost) error {
	if len(post.Images) == 0 {
		return fmt.Errorf("post must have at least one image")
	}
	if err := s.db.WithContext(ctx).Create(post).Error; err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

func (s *Store) GetPost(ctx context.Context, id uint) (*models.ScheduledPost, error) {
	var post models.ScheduledPost
	err := s.db.WithContext(ctx).
		Preload("Images", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&post, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load post %d: %w", id, err)
	}
	return &post, nil
}

func (s *Store) ListPosts(ctx context.Context) ([]models.ScheduledPost, error) {
	var posts []models.ScheduledPost
	err := s.db.WithContext(ctx).
		Preload("Images", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Order("scheduled_time ASC").
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return posts, nil
}

func (s *Store) UpdatePost(ctx context.Context, id uint, title *string, scheduledTime *time.Time) (*models.ScheduledPost, error) {
	updates := map[string]any{}
	if title != nil {
		updates["title"] = *title
	}
	if scheduledTime != nil {
		updates["scheduled_time"] = *scheduledTime
	}
	if len(updates) > 0 {
		res := s.db.WithContext(ctx).Model(&models.ScheduledPost{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to update post %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, ErrPostNotFound
		}
	}
	return s.GetPost(ctx, id)
}

// DeletePost removes the post and its image rows, returning the removed
// images so the caller can clean up the stored objects.
func (s *Store) DeletePost(ctx context.Context, id uint) ([]models.PostImage, error) {
	post, err := s.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", id).Delete(&models.PostImage{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.ScheduledPost{}, id).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete post %d: %w", id, err)
	}
	return post.Images, nil
}

func (s *Store) DuePosts(ctx context.Context, now time.Time) ([]models.ScheduledPost, error) {
	var posts []models.ScheduledPost
	err := s.db.WithContext(ctx).
		Preload("Images", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("posted = ? AND scheduled_time <= ?", false, now).
		Order("scheduled_time ASC").
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due posts: %w", err)
	}
	return posts, nil
}

// claimTTL is how long a claim blocks other passes before it counts as
// abandoned (a pass that crashed mid-publish must not park the post forever).
const claimTTL = 5 * time.Minute

// ClaimPost marks a due post as owned by one scheduler pass. The conditional
// update is the mutual exclusion: of two overlapping passes only one sees a
// row affected, the other skips the post.
func (s *Store) ClaimPost(ctx context.Context, id uint, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.ScheduledPost{}).
		Where("id = ? AND posted = ? AND (claimed_at IS NULL OR claimed_at < ?)",
			id, false, now.Add(-claimTTL)).
		Update("claimed_at", now)
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim post %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) ReleasePost(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.ScheduledPost{}).
		Where("id = ?", id).Update("claimed_at", nil)
	if res.Error != nil {
		return fmt.Errorf("failed to release post %d: %w", id, res.Error)
	}
	return nil
}

func (s *Store) MarkPosted(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.ScheduledPost{}).Where("id = ?", id).Update("posted", true)
	if res.Error != nil {
		return fmt.Errorf("failed to mark post %d as posted: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrPostNotFound
	}
	return nil
}

func (s *Store) AppendAttempt(ctx context.Context, attempt *models.AttemptLog) error {
	if err := s.db.WithContext(ctx).Create(attempt).Error; err != nil {
		return fmt.Errorf("failed to record attempt for post %d: %w", attempt.PostID, err)
	}
	return nil
}
