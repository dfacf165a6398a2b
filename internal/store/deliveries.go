package store

import (
	"context"
	"time"

	"push-relay-backend/internal/model"
)

// RecordDeliveryAttempts appends the per-subscription fan-out outcomes for
// one dispatch. Rows are never updated afterwards.
func (s *gormStore) RecordDeliveryAttempts(ctx context.Context, attempts []model.DeliveryAttempt) error {
	if len(attempts) == 0 {
		return nil
	}
	return wrap("record delivery attempts", s.db.WithContext(ctx).Create(&attempts).Error)
}

// RecordNotification appends the aggregate history row for one logical
// notification.
func (s *gormStore) RecordNotification(ctx context.Context, rec *model.NotificationRecord) error {
	return wrap("record notification", s.db.WithContext(ctx).Create(rec).Error)
}

// UnreadCount counts delivered notifications for the user since the given
// time.
func (s *gormStore) UnreadCount(ctx context.Context, userID string, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.NotificationRecord{}).
		Where("user_id = ? AND delivered = ? AND created_at > ?", userID, true, since).
		Count(&count).Error
	if err != nil {
		return 0, wrap("unread count", err)
	}
	return count, nil
}
