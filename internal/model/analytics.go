package model

import "time"

// AnalyticsEvent is one structured client-side event. UserID is empty for
// unauthenticated submissions; the event is accepted but unattributed.
type AnalyticsEvent struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	UserID     string    `gorm:"index" json:"user_id"`
	Name       string    `gorm:"index;not null" json:"name"`
	Data       string    `json:"data,omitempty"` // JSON-encoded payload
	SessionID  string    `json:"session_id,omitempty"`
	OccurredAt time.Time `gorm:"index" json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`
}
