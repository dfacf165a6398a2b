package model

import "time"

// Preference holds the per-user notification settings. A missing row means
// the user has never saved anything; readers merge over the defaults in the
// prefs package instead of persisting a row eagerly.
type Preference struct {
	UserID  string `gorm:"primaryKey" json:"user_id"`
	Enabled bool   `json:"enabled"`
	Sound   bool   `json:"sound"`
	Vibrate bool   `json:"vibrate"`

	// Per-category toggles.
	Messages  bool `json:"messages"`
	Reminders bool `json:"reminders"`
	Updates   bool `json:"updates"`

	// Quiet-hours window in minutes of day, [start, end), midnight-wrapping
	// when start > end.
	QuietHoursEnabled bool `json:"quiet_hours_enabled"`
	QuietStart        int  `json:"quiet_start"`
	QuietEnd          int  `json:"quiet_end"`

	UpdatedAt time.Time `json:"updated_at"`
}
