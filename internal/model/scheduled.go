package model

import "time"

// ScheduledNotification is a notification deferred to a target time. The
// Sent flag is monotonic (false to true only); the sweep claims an entry by
// compare-and-set on it, so concurrent sweeps never double-deliver.
type ScheduledNotification struct {
	ID           string     `gorm:"primaryKey" json:"id"`
	UserID       string     `gorm:"index;not null" json:"user_id"`
	Payload      string     `gorm:"not null" json:"payload"` // JSON-encoded Notification
	ScheduledFor time.Time  `gorm:"index" json:"scheduled_for"`
	Sent         bool       `gorm:"index;default:false" json:"sent"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
