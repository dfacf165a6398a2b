package prefs

import (
	"time"

	"push-relay-backend/internal/model"
)

// Notification categories with per-user toggles.
const (
	CategoryMessage  = "message"
	CategoryReminder = "reminder"
	CategoryUpdate   = "update"
)

// Default quiet-hours window, 22:00 to 08:00. Stored even while quiet hours
// are disabled so enabling them later starts from something sensible.
const (
	defaultQuietStart = 22 * 60
	defaultQuietEnd   = 8 * 60
)

// Defaults returns the preference object a user has before saving anything:
// everything enabled, quiet hours off.
func Defaults(userID string) *model.Preference {
	return &model.Preference{
		UserID:            userID,
		Enabled:           true,
		Sound:             true,
		Vibrate:           true,
		Messages:          true,
		Reminders:         true,
		Updates:           true,
		QuietHoursEnabled: false,
		QuietStart:        defaultQuietStart,
		QuietEnd:          defaultQuietEnd,
	}
}

// Patch is a partial preference update. Nil fields keep the current value;
// callers never resend the full object.
type Patch struct {
	Enabled           *bool `json:"enabled,omitempty"`
	Sound             *bool `json:"sound,omitempty"`
	Vibrate           *bool `json:"vibrate,omitempty"`
	Messages          *bool `json:"messages,omitempty"`
	Reminders         *bool `json:"reminders,omitempty"`
	Updates           *bool `json:"updates,omitempty"`
	QuietHoursEnabled *bool `json:"quiet_hours_enabled,omitempty"`
	QuietStart        *int  `json:"quiet_start,omitempty"`
	QuietEnd          *int  `json:"quiet_end,omitempty"`
}

// Valid reports whether the patch's window values are in minute-of-day range.
func (p Patch) Valid() bool {
	if p.QuietStart != nil && (*p.QuietStart < 0 || *p.QuietStart >= 24*60) {
		return false
	}
	if p.QuietEnd != nil && (*p.QuietEnd < 0 || *p.QuietEnd >= 24*60) {
		return false
	}
	return true
}

// Apply overlays the patch onto pref in place.
func Apply(pref *model.Preference, patch Patch) {
	if patch.Enabled != nil {
		pref.Enabled = *patch.Enabled
	}
	if patch.Sound != nil {
		pref.Sound = *patch.Sound
	}
	if patch.Vibrate != nil {
		pref.Vibrate = *patch.Vibrate
	}
	if patch.Messages != nil {
		pref.Messages = *patch.Messages
	}
	if patch.Reminders != nil {
		pref.Reminders = *patch.Reminders
	}
	if patch.Updates != nil {
		pref.Updates = *patch.Updates
	}
	if patch.QuietHoursEnabled != nil {
		pref.QuietHoursEnabled = *patch.QuietHoursEnabled
	}
	if patch.QuietStart != nil {
		pref.QuietStart = *patch.QuietStart
	}
	if patch.QuietEnd != nil {
		pref.QuietEnd = *patch.QuietEnd
	}
}

// QuietHours reports whether now falls inside the user's quiet-hours window.
// The window [start, end) is in minutes of day and wraps midnight when
// start > end (22:00-08:00 covers both sides). Always false while quiet
// hours are disabled, whatever the window values.
func QuietHours(pref *model.Preference, now time.Time) bool {
	if !pref.QuietHoursEnabled {
		return false
	}
	start, end := pref.QuietStart, pref.QuietEnd
	if start == end {
		return false
	}
	minute := now.Hour()*60 + now.Minute()
	if start < end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

// CategoryEnabled reports whether the notification category is switched on.
// Unknown categories are not gated.
func CategoryEnabled(pref *model.Preference, category string) bool {
	switch category {
	case CategoryMessage:
		return pref.Messages
	case CategoryReminder:
		return pref.Reminders
	case CategoryUpdate:
		return pref.Updates
	default:
		return true
	}
}
