package model

import "time"

// Subscription holds a registered web push endpoint plus encryption keys for
// one user device. Uniqueness is keyed on the endpoint value: re-registering
// an existing endpoint updates the row in place.
type Subscription struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Endpoint  string    `gorm:"uniqueIndex;not null" json:"endpoint"`
	P256DH    string    `gorm:"column:p256dh;not null" json:"p256dh"`
	Auth      string    `gorm:"not null" json:"auth"`
	UserID    string    `gorm:"index;not null" json:"user_id"`
	UserAgent string    `json:"user_agent"`
	Platform  string    `json:"platform"`
	LastUsed  time.Time `gorm:"index" json:"last_used"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
