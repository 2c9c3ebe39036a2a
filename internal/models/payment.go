package models

import (
	"time"
)

// PaymentStatus is the lifecycle state of a subscription payment
type PaymentStatus string

// Payment status constants
const (
	PaymentCreated PaymentStatus = "created"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// Payment represents a subscription payment covering [StartDate, EndDate)
type Payment struct {
	ID        int64         `gorm:"primaryKey;autoIncrement;column:id"`
	UserID    int64         `gorm:"not null;index:garage_payments_ix1;column:user_id"`
	Status    PaymentStatus `gorm:"type:varchar(16);not null;default:'created';column:status"`
	StartDate time.Time     `gorm:"not null;column:start_date"`
	EndDate   time.Time     `gorm:"not null;index:garage_payments_ix2;column:end_date"`
	CreatedAt time.Time     `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for Payment
func (Payment) TableName() string {
	return "garage_payments"
}

// All returns every model owned by the schema, in migration order
func All() []interface{} {
	return []interface{}{&User{}, &Post{}, &Image{}, &Like{}, &Payment{}}
}
