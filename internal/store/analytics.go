package store

import (
	"context"
	"time"

	"push-relay-backend/internal/model"
)

// InsertAnalyticsEvent persists one event.
func (s *gormStore) InsertAnalyticsEvent(ctx context.Context, ev *model.AnalyticsEvent) error {
	return wrap("insert analytics event", s.db.WithContext(ctx).Create(ev).Error)
}

// AnalyticsCounts returns per-event-name counts for the user since the given
// time.
func (s *gormStore) AnalyticsCounts(ctx context.Context, userID string, since time.Time) (map[string]int64, error) {
	var rows []struct {
		Name  string
		Count int64
	}
	err := s.db.WithContext(ctx).
		Model(&model.AnalyticsEvent{}).
		Select("name, COUNT(*) as count").
		Where("user_id = ? AND occurred_at >= ?", userID, since).
		Group("name").
		Scan(&rows).Error
	if err != nil {
		return nil, wrap("analytics counts", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Name] = r.Count
	}
	return counts, nil
}
