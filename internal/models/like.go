package models

import (
	"time"
)

// Like represents a user's like on a post. At most one per (user, post).
type Like struct {
	UserID    int64     `gorm:"primaryKey;autoIncrement:false;column:user_id"`
	PostID    int64     `gorm:"primaryKey;autoIncrement:false;index:garage_likes_ix1;column:post_id"`
	CreatedAt time.Time `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for Like
func (Like) TableName() string {
	return "garage_likes"
}
