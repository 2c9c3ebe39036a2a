package models

import (
	"time"
)

// User represents the feed-relevant part of an account
type User struct {
	ID     int64  `gorm:"primaryKey;autoIncrement;column:id"`
	Handle string `gorm:"type:varchar(32);not null;uniqueIndex:garage_users_ux1;column:handle"`
	// Avatar is either an object storage key or an absolute URL
	Avatar    string    `gorm:"type:varchar(1024);not null;default:'';column:avatar"`
	Verified  bool      `gorm:"not null;default:false;index:garage_users_ix1;column:verified"`
	Role      string    `gorm:"type:varchar(16);not null;default:'user';column:role"`
	CreatedAt time.Time `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "garage_users"
}
