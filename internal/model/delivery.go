package model

import "time"

// DeliveryAttempt is one per-subscription fan-out outcome. Rows are
// append-only and never mutated.
type DeliveryAttempt struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	SubscriptionID int64     `gorm:"index" json:"subscription_id"`
	UserID         string    `gorm:"index" json:"user_id"`
	Type           string    `json:"type"`
	Success        bool      `json:"success"`
	StatusCode     int       `json:"status_code"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

// NotificationRecord is the aggregate history row for one logical
// notification, written once per dispatch. Delivered means at least one
// device accepted it. Unread counts are derived from these rows.
type NotificationRecord struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	UserID       string    `gorm:"index;not null" json:"user_id"`
	Type         string    `json:"type"`
	Title        string    `json:"title"`
	Delivered    bool      `json:"delivered"`
	SentCount    int       `json:"sent_count"`
	FailedCount  int       `json:"failed_count"`
	TotalDevices int       `json:"total_devices"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}
