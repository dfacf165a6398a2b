package store

import (
	"context"
	"time"

	"push-relay-backend/internal/model"
)

// CreateScheduled persists a new deferred notification.
func (s *gormStore) CreateScheduled(ctx context.Context, entry *model.ScheduledNotification) error {
	return wrap("create scheduled", s.db.WithContext(ctx).Create(entry).Error)
}

// CancelScheduled removes the entry if it has not been sent. Cancelling a
// sent or unknown entry is a successful no-op, keeping client retries
// idempotent.
func (s *gormStore) CancelScheduled(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).
		Where("id = ? AND sent = ?", id, false).
		Delete(&model.ScheduledNotification{}).Error
	return wrap("cancel scheduled", err)
}

// DueScheduled returns unsent entries whose target time has passed, oldest
// first.
func (s *gormStore) DueScheduled(ctx context.Context, now time.Time, limit int) ([]model.ScheduledNotification, error) {
	var entries []model.ScheduledNotification
	err := s.db.WithContext(ctx).
		Where("sent = ? AND scheduled_for <= ?", false, now).
		Order("scheduled_for").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, wrap("list due scheduled", err)
	}
	return entries, nil
}

// ClaimScheduled flips the sent flag with a compare-and-set. It returns true
// only for the single caller that performed the false-to-true transition, so
// concurrent sweeps from multiple instances never double-deliver an entry.
func (s *gormStore) ClaimScheduled(ctx context.Context, id string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.ScheduledNotification{}).
		Where("id = ? AND sent = ?", id, false).
		Updates(map[string]any{"sent": true, "sent_at": at})
	if res.Error != nil {
		return false, wrap("claim scheduled", res.Error)
	}
	return res.RowsAffected == 1, nil
}
