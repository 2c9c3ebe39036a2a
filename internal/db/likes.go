package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/garagehq/garage/internal/models"
)

// LikeTx is the set of like operations available while a post lock is held
type LikeTx interface {
	PostExists(ctx context.Context, postID int64) (bool, error)
	LikeExists(ctx context.Context, userID, postID int64) (bool, error)
	CreateLike(ctx context.Context, userID, postID int64) error
	DeleteLike(ctx context.Context, userID, postID int64) error
	// IncrementLikeCount and DecrementLikeCount return the counter after the update.
	// Decrement never goes below zero.
	IncrementLikeCount(ctx context.Context, postID int64) (int64, error)
	DecrementLikeCount(ctx context.Context, postID int64) (int64, error)
	CountLikes(ctx context.Context, postID int64) (int64, error)
	SetLikeCount(ctx context.Context, postID, count int64) error
}

// Drift is a post whose denormalized like counter disagrees with its like rows
type Drift struct {
	PostID    int64
	LikeCount int64
	Actual    int64
}

// LikeRepository provides like-related database operations
type LikeRepository struct {
	*Repository
}

// NewLikeRepository creates a new like repository
func NewLikeRepository(repo *Repository) *LikeRepository {
	return &LikeRepository{Repository: repo}
}

// WithPostLock runs fn inside a transaction holding an exclusive lock scoped to postID.
// Concurrent callers for the same post are serialized; other posts are unaffected.
// The lock is released on commit or rollback.
func (r *LikeRepository) WithPostLock(ctx context.Context, postID int64, fn func(LikeTx) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockPost(tx, postID); err != nil {
			return err
		}
		return fn(&likeTx{db: tx})
	})
}

// lockPost takes the per-post lock for the current transaction
func lockPost(tx *gorm.DB, postID int64) error {
	switch tx.Dialector.Name() {
	case "postgres":
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", postID).Error; err != nil {
			return fmt.Errorf("failed to acquire advisory lock: %w", err)
		}
	case "sqlite":
		// sqlite serializes writers on the database file
	default:
		var id int64
		if err := tx.Model(&models.Post{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id = ?", postID).
			Scan(&id).Error; err != nil {
			return fmt.Errorf("failed to lock post row: %w", err)
		}
	}
	return nil
}

// FindDrift returns up to limit posts with id greater than afterID whose
// like_count does not match the number of like rows, ordered by id
func (r *LikeRepository) FindDrift(ctx context.Context, afterID int64, limit int) ([]Drift, error) {
	var drift []Drift
	err := r.db.WithContext(ctx).Raw(`
		SELECT p.id AS post_id, p.like_count AS like_count, COUNT(l.post_id) AS actual
		  FROM garage_posts p
		  LEFT JOIN garage_likes l ON l.post_id = p.id
		 WHERE p.id > ?
		 GROUP BY p.id, p.like_count
		HAVING p.like_count <> COUNT(l.post_id)
		 ORDER BY p.id
		 LIMIT ?`, afterID, limit).Scan(&drift).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find like counter drift: %w", err)
	}
	return drift, nil
}

type likeTx struct {
	db *gorm.DB
}

func (t *likeTx) PostExists(ctx context.Context, postID int64) (bool, error) {
	var count int64
	if err := t.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", postID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (t *likeTx) LikeExists(ctx context.Context, userID, postID int64) (bool, error) {
	var like models.Like
	err := t.db.WithContext(ctx).
		Where("user_id = ? AND post_id = ?", userID, postID).
		Take(&like).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *likeTx) CreateLike(ctx context.Context, userID, postID int64) error {
	return t.db.WithContext(ctx).Create(&models.Like{
		UserID:    userID,
		PostID:    postID,
		CreatedAt: time.Now().UTC(),
	}).Error
}

func (t *likeTx) DeleteLike(ctx context.Context, userID, postID int64) error {
	return t.db.WithContext(ctx).
		Where("user_id = ? AND post_id = ?", userID, postID).
		Delete(&models.Like{}).Error
}

func (t *likeTx) IncrementLikeCount(ctx context.Context, postID int64) (int64, error) {
	return t.updateCount(ctx, postID, gorm.Expr("like_count + 1"))
}

func (t *likeTx) DecrementLikeCount(ctx context.Context, postID int64) (int64, error) {
	return t.updateCount(ctx, postID, gorm.Expr("CASE WHEN like_count > 0 THEN like_count - 1 ELSE 0 END"))
}

func (t *likeTx) updateCount(ctx context.Context, postID int64, expr clause.Expr) (int64, error) {
	db := t.db.WithContext(ctx)
	if err := db.Model(&models.Post{}).Where("id = ?", postID).UpdateColumn("like_count", expr).Error; err != nil {
		return 0, err
	}
	var count int64
	if err := db.Model(&models.Post{}).Select("like_count").Where("id = ?", postID).Scan(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (t *likeTx) CountLikes(ctx context.Context, postID int64) (int64, error) {
	var count int64
	if err := t.db.WithContext(ctx).Model(&models.Like{}).Where("post_id = ?", postID).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (t *likeTx) SetLikeCount(ctx context.Context, postID, count int64) error {
	return t.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("id = ?", postID).
		UpdateColumn("like_count", count).Error
}
