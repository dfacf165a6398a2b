package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"push-relay-backend/internal/model"
)

// UpsertSubscription creates the subscription, or updates the existing row
// when the endpoint is already registered. Idempotent on endpoint: a repeat
// registration never creates a second row, it re-owns the endpoint to the
// caller and refreshes keys and metadata.
func (s *gormStore) UpsertSubscription(ctx context.Context, sub *model.Subscription) (bool, error) {
	updated, err := s.upsertSubscription(ctx, sub)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Two concurrent first registrations of one endpoint can both pass
		// the read; the loser's insert hits the unique index, and a re-run
		// takes the update path.
		updated, err = s.upsertSubscription(ctx, sub)
	}
	if err != nil {
		return false, wrap("upsert subscription", err)
	}
	return updated, nil
}

func (s *gormStore) upsertSubscription(ctx context.Context, sub *model.Subscription) (bool, error) {
	var updated bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Subscription
		err := tx.Where("endpoint = ?", sub.Endpoint).First(&existing).Error
		switch {
		case err == nil:
			updated = true
			sub.ID = existing.ID
			sub.CreatedAt = existing.CreatedAt
			return tx.Model(&model.Subscription{}).Where("id = ?", existing.ID).Updates(map[string]any{
				"user_id":    sub.UserID,
				"p256dh":     sub.P256DH,
				"auth":       sub.Auth,
				"user_agent": sub.UserAgent,
				"platform":   sub.Platform,
				"last_used":  sub.LastUsed,
			}).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(sub).Error
		default:
			return err
		}
	})
	return updated, err
}

// DeleteSubscription removes one endpoint belonging to the user. A missing
// row is a successful no-op.
func (s *gormStore) DeleteSubscription(ctx context.Context, userID, endpoint string) error {
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND endpoint = ?", userID, endpoint).
		Delete(&model.Subscription{}).Error
	return wrap("delete subscription", err)
}

// DeleteUserSubscriptions removes every subscription the user holds.
func (s *gormStore) DeleteUserSubscriptions(ctx context.Context, userID string) error {
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&model.Subscription{}).Error
	return wrap("delete user subscriptions", err)
}

// DeleteSubscriptionByID removes a subscription after a permanent delivery
// failure confirmed the endpoint is gone.
func (s *gormStore) DeleteSubscriptionByID(ctx context.Context, id int64) error {
	err := s.db.WithContext(ctx).Delete(&model.Subscription{}, id).Error
	return wrap("delete subscription by id", err)
}

// SubscriptionsByUser returns every subscription registered for the user.
func (s *gormStore) SubscriptionsByUser(ctx context.Context, userID string) ([]model.Subscription, error) {
	var subs []model.Subscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&subs).Error; err != nil {
		return nil, wrap("list subscriptions", err)
	}
	return subs, nil
}

// SubscribedUserIDs returns the distinct set of users holding at least one
// subscription.
func (s *gormStore) SubscribedUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&model.Subscription{}).
		Distinct("user_id").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, wrap("list subscribed users", err)
	}
	return ids, nil
}

// TouchSubscription bumps last_used after a successful delivery.
func (s *gormStore) TouchSubscription(ctx context.Context, id int64, at time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("id = ?", id).
		Update("last_used", at).Error
	return wrap("touch subscription", err)
}

// DeleteStaleSubscriptions removes subscriptions not used since olderThan and
// returns the number removed.
func (s *gormStore) DeleteStaleSubscriptions(ctx context.Context, olderThan time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("last_used < ?", olderThan).
		Delete(&model.Subscription{})
	if res.Error != nil {
		return 0, wrap("delete stale subscriptions", res.Error)
	}
	return res.RowsAffected, nil
}
