package models

import (
	"database/sql"
	"time"
)

// Post represents a garage post. ID doubles as the feed pagination cursor.
type Post struct {
	ID      int64  `gorm:"primaryKey;autoIncrement;column:id"`
	UserID  int64  `gorm:"not null;index:garage_posts_ix1;column:user_id"`
	Title   string `gorm:"type:varchar(255);not null;default:'';column:title"`
	Caption string `gorm:"type:text;not null;default:'';column:caption"`
	// MakingOf is the optional playback id of the making-of video
	MakingOf  sql.NullString `gorm:"type:varchar(255);column:making_of_playback_id"`
	LikeCount int64          `gorm:"not null;default:0;column:like_count"`
	CreatedAt time.Time      `gorm:"not null;index:garage_posts_ix2;column:created_at"`

	// Relationships
	User   *User   `gorm:"foreignKey:UserID;references:ID"`
	Images []Image `gorm:"foreignKey:PostID;references:ID"`
}

// TableName specifies the table name for Post
func (Post) TableName() string {
	return "garage_posts"
}

// Image is an ordered image attached to a post
type Image struct {
	ID     int64 `gorm:"primaryKey;autoIncrement;column:id"`
	PostID int64 `gorm:"not null;index:garage_images_ix1;column:post_id"`
	// PlaybackID is the object storage key
	PlaybackID   string        `gorm:"type:varchar(255);not null;column:playback_id"`
	DisplayOrder sql.NullInt64 `gorm:"column:display_order"`
}

// TableName specifies the table name for Image
func (Image) TableName() string {
	return "garage_images"
}
