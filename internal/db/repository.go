package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/garagehq/garage/internal/models"
)

// Repository provides database access methods
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// PostRepository provides post-related database operations
type PostRepository struct {
	*Repository
}

// NewPostRepository creates a new post repository
func NewPostRepository(repo *Repository) *PostRepository {
	return &PostRepository{Repository: repo}
}

// verifiedAuthors is the subquery gating the public feed
func (r *PostRepository) verifiedAuthors() *gorm.DB {
	return r.db.Model(&models.User{}).Select("id").Where("verified = ?", true)
}

// FindFeedPage returns up to limit posts by verified users, newest first.
// A cursor of 0 starts from the newest post; otherwise only posts with an id
// below the cursor are returned. User and Images are preloaded.
func (r *PostRepository) FindFeedPage(ctx context.Context, cursor int64, limit int) ([]*models.Post, error) {
	query := r.db.WithContext(ctx).
		Where("user_id IN (?)", r.verifiedAuthors()).
		Preload("User").
		Preload("Images")
	if cursor > 0 {
		query = query.Where("id < ?", cursor)
	}

	var posts []*models.Post
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("failed to load feed page: %w", err)
	}
	return posts, nil
}

// CountSurfaced counts feed posts at or above the cursor, i.e. how many posts a
// caller holding this cursor has already been shown.
func (r *PostRepository) CountSurfaced(ctx context.Context, cursor int64) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("user_id IN (?)", r.verifiedAuthors()).
		Where("id >= ?", cursor).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count surfaced posts: %w", err)
	}
	return count, nil
}

// GetByID retrieves a post by ID
func (r *PostRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).First(&post, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &post, nil
}

// PaymentRepository provides payment-related database operations
type PaymentRepository struct {
	*Repository
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(repo *Repository) *PaymentRepository {
	return &PaymentRepository{Repository: repo}
}

// FindActive returns the most recent paid payment whose window has not ended at now
func (r *PaymentRepository) FindActive(ctx context.Context, userID int64, now time.Time) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND end_date >= ?", userID, models.PaymentPaid, now).
		Order("end_date DESC").
		First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active payment: %w", err)
	}
	return &payment, nil
}
